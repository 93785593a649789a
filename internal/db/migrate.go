package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/sujalbistaa/qreview/internal/logging"
	"github.com/sujalbistaa/qreview/internal/models"
)

// Columns added after the first release. Databases created by older builds
// gain them on start-up; each step is independent of the others.
var additiveColumns = []string{
	"AdminReply",
	"Flagged",
	"LinkedInID",
	"LinkedInVerified",
	"LinkedInProfileURL",
	"AuthorName",
}

var indexes = []string{
	"idx_reviews_validated",
	"idx_reviews_company",
	"idx_reviews_flagged",
	"idx_reviews_created",
	"idx_reviews_email_company",
}

// Migrate ensures the reviews schema exists. It is safe to run repeatedly:
// the table is created only when missing, and column or index steps that
// fail are logged and skipped.
func Migrate(gdb *gorm.DB) error {
	log := logging.NewLogger("migrate")
	m := gdb.Migrator()
	review := &models.Review{}

	if !m.HasTable(review) {
		if err := m.CreateTable(review); err != nil {
			return fmt.Errorf("create reviews table: %w", err)
		}
		log.Info().Msg("Created reviews table")
	}

	for _, field := range additiveColumns {
		if m.HasColumn(review, field) {
			continue
		}
		if err := m.AddColumn(review, field); err != nil {
			log.Warn().Err(err).Str("column", field).Msg("Skipping column migration")
			continue
		}
		log.Info().Str("column", field).Msg("Added column")
	}

	for _, name := range indexes {
		if m.HasIndex(review, name) {
			continue
		}
		if err := m.CreateIndex(review, name); err != nil {
			log.Warn().Err(err).Str("index", name).Msg("Skipping index migration")
		}
	}

	log.Info().Msg("Migrations complete.")
	return nil
}
