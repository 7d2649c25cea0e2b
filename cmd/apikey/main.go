// Command apikey mints a tenant API key. The plaintext key is printed once.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xelth-com/sensestamp/internal/config"
	"github.com/xelth-com/sensestamp/internal/database"
	"github.com/xelth-com/sensestamp/internal/repository"
	"github.com/xelth-com/sensestamp/internal/services/tenant"
)

func main() {
	owner := flag.String("owner", "", "owner (tenant) id the key authenticates as")
	label := flag.String("label", "", "free-form label to recognise the key later")
	revoke := flag.String("revoke", "", "revoke the key with this id instead of creating one")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if *owner == "" && *revoke == "" {
		flag.Usage()
		os.Exit(2)
	}

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
	ctx := context.Background()

	if *revoke != "" {
		if err := store.RevokeAPIKey(ctx, *revoke); err != nil {
			log.Fatal().Err(err).Str("key_id", *revoke).Msg("revoking key")
		}
		log.Info().Str("key_id", *revoke).Msg("key revoked")
		return
	}

	plaintext, key, err := tenant.NewService(store, cfg.JWTSecret).CreateKey(ctx, *owner, *label)
	if err != nil {
		log.Fatal().Err(err).Msg("creating key")
	}

	log.Info().Str("key_id", key.ID).Str("owner_id", key.OwnerID).Msg("key created, it will not be shown again")
	fmt.Println(plaintext)
}
