// Command seed_demo fills the database with a demo tenant, devices and
// signed taps pushed through the real ingestion pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xelth-com/sensestamp/internal/apperr"
	"github.com/xelth-com/sensestamp/internal/config"
	"github.com/xelth-com/sensestamp/internal/database"
	"github.com/xelth-com/sensestamp/internal/repository"
	"github.com/xelth-com/sensestamp/internal/services/ingest"
	"github.com/xelth-com/sensestamp/internal/services/registry"
	"github.com/xelth-com/sensestamp/internal/services/tenant"
	"github.com/xelth-com/sensestamp/internal/signing"
)

type demoDevice struct {
	id       string
	name     string
	location string
	tags     []string
}

var demoDevices = []demoDevice{
	{"ss-demo-01", "Front desk", "Building A / Lobby", []string{"04:A2:3B:7C", "04:19:FE:02"}},
	{"ss-demo-02", "Server room", "Building A / B1", []string{"04:77:10:AA"}},
	{"ss-demo-03", "Loading dock", "Building C / Dock 2", []string{"04:5C:D1:3E", "04:A2:3B:7C", "04:0B:66:91"}},
}

func main() {
	owner := flag.String("owner", "demo", "owner id for the demo tenant")
	taps := flag.Int("taps", 20, "signed taps to ingest per device")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to database")
	}
	defer db.Close()

	if err := database.Migrate(db.DB); err != nil {
		log.Fatal().Err(err).Msg("migrating schema")
	}

	store := repository.New(db.DB)
	ctx := log.Logger.WithContext(context.Background())

	apiKey, _, err := tenant.NewService(store, cfg.JWTSecret).CreateKey(ctx, *owner, "demo")
	if err != nil {
		log.Fatal().Err(err).Msg("creating demo API key")
	}

	reg := registry.NewService(store)
	secrets := make(map[string]string)
	for _, d := range demoDevices {
		location := d.location
		r, err := reg.Register(ctx, *owner, registry.RegisterRequest{DeviceID: d.id, Name: d.name, Location: &location})
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Kind == apperr.KindConflict {
			log.Warn().Str("device_id", d.id).Msg("device exists, skipping")
			continue
		}
		if err != nil {
			log.Fatal().Err(err).Str("device_id", d.id).Msg("registering device")
		}
		secrets[d.id] = r.Secret
	}

	// Spread taps over the last few minutes; each runs with a clock close to
	// its own timestamp so it stays fresh.
	start := time.Now().Add(-time.Duration(*taps) * 15 * time.Second).Unix()
	accepted := 0
	for _, d := range demoDevices {
		secret, ok := secrets[d.id]
		if !ok {
			continue
		}
		for i := 0; i < *taps; i++ {
			ts := start + int64(i)*15
			tag := d.tags[i%len(d.tags)]
			battery := 3000 - i*5
			fw := "1.4.0"

			svc := ingest.NewService(store, ingest.WithClock(func() time.Time { return time.Unix(ts, 0) }))
			_, err := svc.Ingest(ctx, ingest.Request{
				DeviceID:  d.id,
				TagUID:    tag,
				Timestamp: ts,
				Signature: signing.Sign(d.id, tag, ts, secret),
				BatteryMV: &battery,
				FWVersion: &fw,
			})
			if err != nil {
				log.Warn().Err(err).Str("device_id", d.id).Int64("timestamp", ts).Msg("tap rejected")
				continue
			}
			accepted++
		}
	}

	log.Info().Int("devices", len(secrets)).Int("events", accepted).Msg("demo data seeded")
	fmt.Println("API key:", apiKey)
	for id, secret := range secrets {
		fmt.Printf("%s secret: %s\n", id, secret)
	}
}
