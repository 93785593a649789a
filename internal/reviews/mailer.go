package reviews

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sujalbistaa/qreview/internal/logging"
	"github.com/sujalbistaa/qreview/internal/models"
)

// TokenMailer delivers the validation link for a freshly submitted review.
type TokenMailer interface {
	SendValidationLink(ctx context.Context, review *models.Review, link string) error
}

// LogMailer writes the link to the log instead of sending mail. It is the
// default until an SMTP transport is configured.
type LogMailer struct {
	log zerolog.Logger
}

func NewLogMailer() *LogMailer {
	return &LogMailer{log: logging.NewLogger("mailer")}
}

func (m *LogMailer) SendValidationLink(_ context.Context, review *models.Review, link string) error {
	m.log.Info().
		Uint("review_id", review.ID).
		Str("company", review.CompanyName).
		Str("link", link).
		Msg("Validation link issued")
	return nil
}
