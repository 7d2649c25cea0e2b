package database

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xelth-com/sensestamp/internal/config"
	"github.com/xelth-com/sensestamp/internal/models"
)

const (
	embeddedDataPath = "./db_data"
	embeddedPort     = 5433
	embeddedPassword = "postgres"
)

// DB wraps gorm.DB and stops the embedded server, if one was started, on Close
type DB struct {
	*gorm.DB
	stopEmbedded func() error
}

// cleanupStaleEmbeddedPostgres cleans up leftover processes from a previous crash
func cleanupStaleEmbeddedPostgres() {
	pidFile := filepath.Join(embeddedDataPath, "postmaster.pid")

	data, err := os.ReadFile(pidFile)
	if err != nil {
		return
	}

	// First line of postmaster.pid is the PID
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	if !scanner.Scan() {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		log.Warn().Err(err).Msg("could not parse PID from postmaster.pid")
		return
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		log.Info().Int("pid", pid).Msg("removing stale postmaster.pid")
		os.Remove(pidFile)
		return
	}

	// On Unix, FindProcess always succeeds, so probe with signal 0
	if err := process.Signal(syscall.Signal(0)); err != nil {
		log.Info().Int("pid", pid).Msg("removing stale postmaster.pid")
		os.Remove(pidFile)
		return
	}

	log.Warn().Int("pid", pid).Msg("found orphaned PostgreSQL process, stopping it")
	if err := process.Signal(syscall.SIGTERM); err != nil {
		log.Warn().Err(err).Int("pid", pid).Msg("could not send SIGTERM")
	}

	for i := 0; i < 10; i++ {
		time.Sleep(500 * time.Millisecond)
		if err := process.Signal(syscall.Signal(0)); err != nil {
			log.Info().Int("pid", pid).Msg("orphaned PostgreSQL process stopped")
			os.Remove(pidFile)
			return
		}
	}

	log.Warn().Int("pid", pid).Msg("process did not stop gracefully, killing")
	process.Kill()
	time.Sleep(500 * time.Millisecond)
	os.Remove(pidFile)
}

// isPortInUse checks if a port is already in use
func isPortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Connect opens the configured database. With the postgres driver, localhost
// and an empty password select an embedded PostgreSQL instance.
func Connect(cfg config.DatabaseConfig) (*DB, error) {
	gormCfg := &gorm.Config{
		Logger:         gormLogger(cfg.Debug),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	if cfg.Driver == "sqlite" {
		log.Info().Str("path", cfg.SQLitePath).Msg("database mode: sqlite")
		db, err := OpenSQLite(cfg.SQLitePath, gormCfg)
		if err != nil {
			return nil, err
		}
		return &DB{DB: db}, nil
	}

	var embedded *embeddedpostgres.EmbeddedPostgres
	password := cfg.Password

	if cfg.Host == "localhost" && cfg.Password == "" {
		log.Info().Int("port", embeddedPort).Msg("database mode: embedded postgres")

		cleanupStaleEmbeddedPostgres()

		if isPortInUse(embeddedPort) {
			log.Warn().Int("port", embeddedPort).Msg("port still in use, waiting for release")
			for i := 0; i < 6; i++ {
				time.Sleep(500 * time.Millisecond)
				if !isPortInUse(embeddedPort) {
					break
				}
			}
			if isPortInUse(embeddedPort) {
				return nil, fmt.Errorf("port %d is still in use by another process", embeddedPort)
			}
		}

		embeddedCfg := embeddedpostgres.DefaultConfig().
			DataPath(embeddedDataPath).
			Port(uint32(embeddedPort)).
			Database(cfg.Database).
			Username(cfg.Username).
			Password(embeddedPassword)

		embedded = embeddedpostgres.NewDatabase(embeddedCfg)
		if err := embedded.Start(); err != nil {
			return nil, fmt.Errorf("failed to start embedded database: %w", err)
		}

		cfg.Port = strconv.Itoa(embeddedPort)
		password = embeddedPassword
	} else {
		log.Info().Str("host", cfg.Host).Str("port", cfg.Port).Msg("database mode: external postgres")
	}

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		password,
		cfg.Database,
	)

	db, err := gorm.Open(postgres.Open(dsn), gormCfg)
	if err != nil {
		if embedded != nil {
			_ = embedded.Stop()
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	log.Info().Msg("database connection established")

	out := &DB{DB: db}
	if embedded != nil {
		out.stopEmbedded = embedded.Stop
	}
	return out, nil
}

// OpenSQLite opens a SQLite database at path. A nil cfg uses quiet defaults.
func OpenSQLite(path string, cfg *gorm.Config) (*gorm.DB, error) {
	if cfg == nil {
		cfg = &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		}
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite serializes writers; one connection avoids "database is locked"
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates or updates the SenseStamp tables
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Device{}, &models.Event{}, &models.APIKey{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close ensures the database connection and embedded process are shut down
func (db *DB) Close() error {
	var closeErr error
	if sqlDB, err := db.DB.DB(); err != nil {
		closeErr = err
	} else {
		closeErr = sqlDB.Close()
	}

	// The server goes last so pooled connections end cleanly
	if db.stopEmbedded != nil {
		log.Info().Msg("stopping embedded PostgreSQL")
		if err := db.stopEmbedded(); err != nil {
			log.Error().Err(err).Msg("stopping embedded PostgreSQL")
		}
	}
	return closeErr
}

func gormLogger(debug bool) logger.Interface {
	if debug {
		return logger.Default.LogMode(logger.Info)
	}
	return logger.Default.LogMode(logger.Warn)
}
