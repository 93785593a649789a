package reviews

import (
	"context"
	"time"

	"github.com/sujalbistaa/qreview/internal/models"
)

// Store is the backend-agnostic persistence contract for reviews. Every
// lifecycle transition is a single conditional row update, so callers never
// need in-process locking.
type Store interface {
	// Create inserts a pending review. Input must already be validated.
	Create(ctx context.Context, review *models.Review) (uint, error)

	// RedeemToken validates the pending review holding token and clears the
	// token. ok is false when no row matched.
	RedeemToken(ctx context.Context, token string) (id uint, ok bool, err error)

	// ValidateByAdmin reports false when the review is absent or already
	// validated.
	ValidateByAdmin(ctx context.Context, id uint) (bool, error)

	ListValidated(ctx context.Context, q PublicQuery) (*models.Page[models.PublicReview], error)
	ListAll(ctx context.Context, q AdminQuery) (*models.Page[models.Review], error)

	Statistics(ctx context.Context) (*models.Statistics, error)
	AdminStatistics(ctx context.Context) (*models.AdminStatistics, error)

	Delete(ctx context.Context, id uint) (bool, error)
	BulkDelete(ctx context.Context, ids []uint) (int64, error)
	BulkValidate(ctx context.Context, ids []uint) (int64, error)

	Reply(ctx context.Context, id uint, reply string) (bool, error)
	Flag(ctx context.Context, id uint, flagged bool) (bool, error)

	// HasRecentDuplicate reports whether the (email, company) pair has a row
	// created after since, validated or not.
	HasRecentDuplicate(ctx context.Context, email, company string, since time.Time) (bool, error)

	// GetValidated returns nil for pending or absent reviews.
	GetValidated(ctx context.Context, id uint) (*models.Review, error)

	// Each walks every review, newest first.
	Each(ctx context.Context, fn func(*models.Review) error) error

	Close() error
}
