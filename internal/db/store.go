package db

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/sujalbistaa/qreview/internal/models"
	"github.com/sujalbistaa/qreview/internal/reviews"
)

// ReviewStore implements reviews.Store on top of gorm. The same queries run
// on SQLite and Postgres: gorm handles placeholders and booleans, substring
// matching goes through LOWER(...) LIKE LOWER(?), and time windows are bound
// as parameters instead of engine-specific date functions.
type ReviewStore struct {
	db        *gorm.DB
	closeOnce sync.Once
	closeErr  error
}

var _ reviews.Store = (*ReviewStore)(nil)

func NewReviewStore(gdb *gorm.DB) *ReviewStore {
	return &ReviewStore{db: gdb}
}

func (s *ReviewStore) table(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Review{})
}

func validatedFields() map[string]any {
	return map[string]any{
		"is_validated":     true,
		"validation_token": nil,
	}
}

func (s *ReviewStore) Create(ctx context.Context, review *models.Review) (uint, error) {
	if err := s.db.WithContext(ctx).Create(review).Error; err != nil {
		return 0, err
	}
	return review.ID, nil
}

func (s *ReviewStore) RedeemToken(ctx context.Context, token string) (uint, bool, error) {
	if token == "" {
		return 0, false, nil
	}

	var id uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Review
		err := tx.Select("id").
			Where("validation_token = ? AND is_validated = ?", token, false).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		// The token predicate is repeated so a concurrent redemption that won
		// the race leaves this update with nothing to change.
		res := tx.Model(&models.Review{}).
			Where("id = ? AND validation_token = ? AND is_validated = ?", row.ID, token, false).
			Updates(validatedFields())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			id = row.ID
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return id, id != 0, nil
}

func (s *ReviewStore) ValidateByAdmin(ctx context.Context, id uint) (bool, error) {
	res := s.table(ctx).
		Where("id = ? AND is_validated = ?", id, false).
		Updates(validatedFields())
	return res.RowsAffected > 0, res.Error
}

func (s *ReviewStore) ListValidated(ctx context.Context, q reviews.PublicQuery) (*models.Page[models.PublicReview], error) {
	scope := func(tx *gorm.DB) *gorm.DB {
		tx = tx.Where("is_validated = ?", true)
		if q.Company != "" {
			tx = tx.Where(containsFold("company_name"), likePattern(q.Company))
		}
		return tx
	}

	var total int64
	if err := s.table(ctx).Scopes(scope).Count(&total).Error; err != nil {
		return nil, err
	}

	var rows []models.Review
	err := s.table(ctx).Scopes(scope).
		Order(publicOrder(q.Sort)).
		Limit(q.Limit).
		Offset(q.Offset()).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]models.PublicReview, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].Public())
	}
	return &models.Page[models.PublicReview]{
		Reviews:    out,
		Total:      total,
		Page:       q.Page,
		Limit:      q.Limit,
		TotalPages: reviews.TotalPages(total, q.Limit),
	}, nil
}

func (s *ReviewStore) ListAll(ctx context.Context, q reviews.AdminQuery) (*models.Page[models.Review], error) {
	scope := func(tx *gorm.DB) *gorm.DB {
		switch q.Filter {
		case reviews.FilterValidated:
			tx = tx.Where("is_validated = ?", true)
		case reviews.FilterPending:
			tx = tx.Where("is_validated = ?", false)
		case reviews.FilterFlagged:
			tx = tx.Where("flagged = ?", true)
		}
		if q.Search != "" {
			term := likePattern(q.Search)
			tx = tx.Where(
				"("+containsFold("company_name")+" OR "+containsFold("email")+" OR "+containsFold("position")+")",
				term, term, term,
			)
		}
		return tx
	}

	var total int64
	if err := s.table(ctx).Scopes(scope).Count(&total).Error; err != nil {
		return nil, err
	}

	rows := make([]models.Review, 0)
	err := s.table(ctx).Scopes(scope).
		Order("created_at DESC, id DESC").
		Limit(q.Limit).
		Offset(q.Offset()).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	return &models.Page[models.Review]{
		Reviews:    rows,
		Total:      total,
		Page:       q.Page,
		Limit:      q.Limit,
		TotalPages: reviews.TotalPages(total, q.Limit),
	}, nil
}

type ratingBucket struct {
	Rating int
	Count  int64
}

func (s *ReviewStore) validatedBuckets(ctx context.Context) ([]ratingBucket, error) {
	var buckets []ratingBucket
	err := s.table(ctx).
		Select("rating, COUNT(*) AS count").
		Where("is_validated = ?", true).
		Group("rating").
		Scan(&buckets).Error
	return buckets, err
}

// averageRating is rounded to one decimal; nil when there is nothing to
// average.
func averageRating(buckets []ratingBucket) (int64, *float64) {
	var total, sum int64
	for _, b := range buckets {
		total += b.Count
		sum += int64(b.Rating) * b.Count
	}
	if total == 0 {
		return 0, nil
	}
	avg := math.Round(float64(sum)/float64(total)*10) / 10
	return total, &avg
}

func (s *ReviewStore) Statistics(ctx context.Context) (*models.Statistics, error) {
	buckets, err := s.validatedBuckets(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.Statistics{}
	stats.TotalReviews, stats.AverageRating = averageRating(buckets)
	for _, b := range buckets {
		switch b.Rating {
		case 5:
			stats.Stars5 = b.Count
		case 4:
			stats.Stars4 = b.Count
		case 3:
			stats.Stars3 = b.Count
		case 2:
			stats.Stars2 = b.Count
		case 1:
			stats.Stars1 = b.Count
		}
	}

	err = s.table(ctx).
		Where("is_validated = ? AND company_verified = ?", true, true).
		Count(&stats.VerifiedCount).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *ReviewStore) AdminStatistics(ctx context.Context) (*models.AdminStatistics, error) {
	stats := &models.AdminStatistics{}

	if err := s.table(ctx).Count(&stats.TotalReviews).Error; err != nil {
		return nil, err
	}
	if err := s.table(ctx).Where("flagged = ?", true).Count(&stats.Flagged).Error; err != nil {
		return nil, err
	}

	buckets, err := s.validatedBuckets(ctx)
	if err != nil {
		return nil, err
	}
	stats.Validated, stats.AverageRating = averageRating(buckets)
	stats.Pending = stats.TotalReviews - stats.Validated
	return stats, nil
}

func (s *ReviewStore) Delete(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Review{})
	return res.RowsAffected > 0, res.Error
}

func (s *ReviewStore) BulkDelete(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Review{})
	return res.RowsAffected, res.Error
}

func (s *ReviewStore) BulkValidate(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.table(ctx).
		Where("id IN ? AND is_validated = ?", ids, false).
		Updates(validatedFields())
	return res.RowsAffected, res.Error
}

func (s *ReviewStore) Reply(ctx context.Context, id uint, reply string) (bool, error) {
	res := s.table(ctx).Where("id = ?", id).Update("admin_reply", reply)
	return res.RowsAffected > 0, res.Error
}

func (s *ReviewStore) Flag(ctx context.Context, id uint, flagged bool) (bool, error) {
	res := s.table(ctx).Where("id = ?", id).Update("flagged", flagged)
	return res.RowsAffected > 0, res.Error
}

func (s *ReviewStore) HasRecentDuplicate(ctx context.Context, email, company string, since time.Time) (bool, error) {
	var count int64
	err := s.table(ctx).
		Where("email = ? AND company_name = ? AND created_at > ?", email, company, since).
		Count(&count).Error
	return count > 0, err
}

func (s *ReviewStore) GetValidated(ctx context.Context, id uint) (*models.Review, error) {
	var review models.Review
	err := s.db.WithContext(ctx).
		Where("id = ? AND is_validated = ?", id, true).
		Take(&review).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &review, nil
}

// eachBatchSize bounds how many rows Each holds in memory at once.
var eachBatchSize = 500

// Each loads reviews newest first in batches and calls fn for each. A batch
// is read in full before fn runs, so fn never holds the connection SQLite's
// single-connection pool needs for other requests.
func (s *ReviewStore) Each(ctx context.Context, fn func(*models.Review) error) error {
	for offset := 0; ; offset += eachBatchSize {
		var batch []models.Review
		err := s.db.WithContext(ctx).
			Order("created_at DESC, id DESC").
			Limit(eachBatchSize).
			Offset(offset).
			Find(&batch).Error
		if err != nil {
			return err
		}

		for i := range batch {
			if err := fn(&batch[i]); err != nil {
				return err
			}
		}
		if len(batch) < eachBatchSize {
			return nil
		}
	}
}

// Close releases the connection pool. Calling it again is a no-op.
func (s *ReviewStore) Close() error {
	s.closeOnce.Do(func() {
		sqlDB, err := s.db.DB()
		if err != nil {
			s.closeErr = err
			return
		}
		s.closeErr = sqlDB.Close()
	})
	return s.closeErr
}

func publicOrder(sort reviews.Sort) string {
	switch sort {
	case reviews.SortDateAsc:
		return "created_at ASC, id ASC"
	case reviews.SortRatingDesc:
		return "rating DESC, created_at DESC, id DESC"
	case reviews.SortRatingAsc:
		return "rating ASC, created_at DESC, id DESC"
	default:
		return "created_at DESC, id DESC"
	}
}

func containsFold(column string) string {
	return "LOWER(" + column + ") LIKE LOWER(?) ESCAPE '\\'"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}
