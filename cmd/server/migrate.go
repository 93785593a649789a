package main

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sujalbistaa/qreview/internal/config"
	"github.com/sujalbistaa/qreview/internal/db"
)

func migrate(cfg *config.Config) error {
	database, backend, err := db.Init(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	store := db.NewReviewStore(database)
	defer store.Close()

	log.Info().Str("db", string(backend)).Msg("Running database migrations...")
	return db.Migrate(database)
}
