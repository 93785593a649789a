package reviews

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sujalbistaa/qreview/internal/apperrors"
	"github.com/sujalbistaa/qreview/internal/logging"
	"github.com/sujalbistaa/qreview/internal/models"
	"github.com/sujalbistaa/qreview/internal/monitoring"
	"github.com/sujalbistaa/qreview/internal/verify"
)

// DuplicateWindow is how long an (email, company) pair is locked after a
// submission.
const DuplicateWindow = 24 * time.Hour

const submittedMessage = "Votre avis a bien été soumis. Il sera visible après validation par un administrateur."

// Event types published on every successful transition.
const (
	EventSubmitted     = "review.submitted"
	EventValidated     = "review.validated"
	EventFlagged       = "review.flagged"
	EventUnflagged     = "review.unflagged"
	EventReplied       = "review.replied"
	EventDeleted       = "review.deleted"
	EventBulkValidated = "review.bulk_validated"
	EventBulkDeleted   = "review.bulk_deleted"
)

// Registry is the business-registry capability. Any error means "could not
// verify" and never fails a submission.
type Registry interface {
	Lookup(ctx context.Context, siret string) (verify.Company, error)
}

// Publisher receives lifecycle events, typically the admin websocket hub.
type Publisher interface {
	Publish(eventType string, data any)
}

// Deps wires a Service. Store is required; everything else is optional.
type Deps struct {
	Store    Store
	Registry Registry
	Mailer   TokenMailer
	Events   Publisher
	Metrics  *monitoring.Metrics
	BaseURL  string
	Now      func() time.Time
}

// Service is the review lifecycle and moderation engine.
type Service struct {
	store    Store
	registry Registry
	mailer   TokenMailer
	events   Publisher
	metrics  *monitoring.Metrics
	baseURL  string
	now      func() time.Time
	log      zerolog.Logger
}

func NewService(d Deps) *Service {
	s := &Service{
		store:    d.Store,
		registry: d.Registry,
		mailer:   d.Mailer,
		events:   d.Events,
		metrics:  d.Metrics,
		baseURL:  strings.TrimRight(d.BaseURL, "/"),
		now:      d.Now,
		log:      logging.NewLogger("reviews"),
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.mailer == nil {
		s.mailer = NewLogMailer()
	}
	return s
}

// SubmitResult is returned to the visitor after a successful submission.
type SubmitResult struct {
	Message          string `json:"message"`
	ID               uint   `json:"id"`
	CompanyVerified  bool   `json:"company_verified"`
	LinkedInVerified bool   `json:"linkedin_verified"`
}

// Submit validates in, applies the anti-spam window, runs the best-effort
// registry check and stores a pending review. identity, when non-nil, has
// already been verified server-side.
func (s *Service) Submit(ctx context.Context, in ReviewInput, identity *verify.Identity) (*SubmitResult, error) {
	if errs := ValidateReview(in); len(errs) > 0 {
		return nil, apperrors.NewValidationError(errs)
	}

	company := strings.TrimSpace(in.CompanyName)
	email := strings.TrimSpace(in.Email)

	if err := s.checkDuplicate(ctx, email, company); err != nil {
		return nil, err
	}

	review := &models.Review{
		CompanyName: company,
		Position:    strings.TrimSpace(in.Position),
		Duration:    strings.TrimSpace(in.Duration),
		Rating:      int(in.Rating),
		Comment:     optional(in.Comment),
		Email:       email,
		Siret:       optional(in.Siret),
		CreatedAt:   s.now(),
	}

	if in.Siret != "" {
		verified := s.verifySiret(ctx, in.Siret)
		if verified.Valid {
			review.CompanyVerified = true
			if verified.CompanyName != "" {
				review.CompanyName = verified.CompanyName
			}
		}
	}
	// Verified rows are stored under the registry name; check that one too.
	if review.CompanyName != company {
		if err := s.checkDuplicate(ctx, email, review.CompanyName); err != nil {
			return nil, err
		}
	}

	if identity != nil && identity.ID != "" {
		review.LinkedInID = optional(identity.ID)
		review.LinkedInVerified = true
		review.LinkedInProfileURL = optional(identity.ProfileURL)
		review.AuthorName = optional(identity.Name)
	}

	token := uuid.NewString()
	review.ValidationToken = &token

	id, err := s.store.Create(ctx, review)
	if err != nil {
		return nil, fmt.Errorf("create review: %w", err)
	}

	if err := s.mailer.SendValidationLink(ctx, review, s.validationLink(token)); err != nil {
		s.log.Warn().Err(err).Uint("review_id", id).Msg("Could not deliver validation link")
	}

	s.log.Info().
		Uint("review_id", id).
		Str("company", review.CompanyName).
		Bool("company_verified", review.CompanyVerified).
		Bool("linkedin_verified", review.LinkedInVerified).
		Msg("New review submitted, pending admin validation")

	s.metrics.ReviewSubmitted(review.CompanyVerified, review.LinkedInVerified)
	s.publish(EventSubmitted, map[string]any{
		"id":           id,
		"company_name": review.CompanyName,
		"rating":       review.Rating,
	})

	return &SubmitResult{
		Message:          submittedMessage,
		ID:               id,
		CompanyVerified:  review.CompanyVerified,
		LinkedInVerified: review.LinkedInVerified,
	}, nil
}

// checkDuplicate enforces the per (email, company) cooldown.
func (s *Service) checkDuplicate(ctx context.Context, email, company string) error {
	duplicate, err := s.store.HasRecentDuplicate(ctx, email, company, s.now().Add(-DuplicateWindow))
	if err != nil {
		return fmt.Errorf("duplicate check: %w", err)
	}
	if duplicate {
		s.metrics.Duplicate()
		return apperrors.ErrDuplicateReview
	}
	return nil
}

// VerifySiret is the public lookup endpoint. Upstream failures degrade to
// "not valid".
func (s *Service) VerifySiret(ctx context.Context, siret string) (verify.Company, error) {
	if !IsSiret(siret) {
		return verify.Company{}, apperrors.NewInvalidRequest("Invalid SIRET format")
	}
	return s.verifySiret(ctx, siret), nil
}

func (s *Service) verifySiret(ctx context.Context, siret string) verify.Company {
	if s.registry == nil {
		return verify.Company{Valid: false}
	}

	company, err := s.registry.Lookup(ctx, siret)
	switch {
	case err != nil:
		s.log.Warn().Err(err).Str("siret", siret).Msg("Registry unavailable, continuing unverified")
		s.metrics.RegistryLookup("unavailable")
		return verify.Company{Valid: false}
	case company.Valid:
		s.metrics.RegistryLookup("verified")
	default:
		s.metrics.RegistryLookup("not_found")
	}
	return company
}

// RedeemToken validates the review holding token. A second redemption of the
// same token reports not found.
func (s *Service) RedeemToken(ctx context.Context, token string) (uint, error) {
	id, ok, err := s.store.RedeemToken(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("redeem token: %w", err)
	}
	if !ok {
		return 0, apperrors.NewNotFound("Invalid or expired validation token")
	}

	s.log.Info().Uint("review_id", id).Msg("Review validated by token")
	s.metrics.Moderation("validate_token", 1)
	s.publish(EventValidated, map[string]any{"id": id, "via": "token"})
	return id, nil
}

// Validate is the admin path to VALIDATED.
func (s *Service) Validate(ctx context.Context, id uint) error {
	ok, err := s.store.ValidateByAdmin(ctx, id)
	if err != nil {
		return fmt.Errorf("validate review %d: %w", id, err)
	}
	if !ok {
		return apperrors.NewNotFound("Review not found or already validated")
	}

	s.log.Info().Uint("review_id", id).Msg("Review manually validated by admin")
	s.metrics.Moderation("validate", 1)
	s.publish(EventValidated, map[string]any{"id": id, "via": "admin"})
	return nil
}

func (s *Service) Delete(ctx context.Context, id uint) error {
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete review %d: %w", id, err)
	}
	if !ok {
		return apperrors.NewNotFound("Review not found")
	}

	s.log.Info().Uint("review_id", id).Msg("Review deleted by admin")
	s.metrics.Moderation("delete", 1)
	s.publish(EventDeleted, map[string]any{"id": id})
	return nil
}

// Reply sets or replaces the moderator reply.
func (s *Service) Reply(ctx context.Context, id uint, reply string) error {
	if errs := ValidateAdminReply(reply); len(errs) > 0 {
		return apperrors.NewValidationError(errs)
	}

	ok, err := s.store.Reply(ctx, id, reply)
	if err != nil {
		return fmt.Errorf("reply to review %d: %w", id, err)
	}
	if !ok {
		return apperrors.NewNotFound("Review not found")
	}

	s.log.Info().Uint("review_id", id).Msg("Admin replied to review")
	s.metrics.Moderation("reply", 1)
	s.publish(EventReplied, map[string]any{"id": id})
	return nil
}

// SetFlag is the admin toggle; unlike Report it can clear the flag.
func (s *Service) SetFlag(ctx context.Context, id uint, flagged bool) error {
	ok, err := s.store.Flag(ctx, id, flagged)
	if err != nil {
		return fmt.Errorf("flag review %d: %w", id, err)
	}
	if !ok {
		return apperrors.NewNotFound("Review not found")
	}

	action, event := "unflag", EventUnflagged
	if flagged {
		action, event = "flag", EventFlagged
	}
	s.metrics.Moderation(action, 1)
	s.publish(event, map[string]any{"id": id, "by": "admin"})
	return nil
}

// Report is the public, one-way flag. Unknown ids are accepted silently.
func (s *Service) Report(ctx context.Context, id uint) error {
	ok, err := s.store.Flag(ctx, id, true)
	if err != nil {
		return fmt.Errorf("report review %d: %w", id, err)
	}
	if !ok {
		s.log.Debug().Uint("review_id", id).Msg("Report for unknown review ignored")
		return nil
	}

	s.metrics.Moderation("report", 1)
	s.publish(EventFlagged, map[string]any{"id": id, "by": "visitor"})
	return nil
}

// BulkResult reports how many rows a bulk action actually changed.
type BulkResult struct {
	Message string `json:"message"`
	Count   int64  `json:"count"`
}

// BulkValidate validates the still-pending subset of ids.
func (s *Service) BulkValidate(ctx context.Context, ids []int64) (*BulkResult, error) {
	valid, err := normalizeIDs(ids)
	if err != nil {
		return nil, err
	}

	count, err := s.store.BulkValidate(ctx, valid)
	if err != nil {
		return nil, fmt.Errorf("bulk validate: %w", err)
	}

	s.log.Info().Int64("count", count).Interface("ids", valid).Msg("Bulk validation by admin")
	s.metrics.Moderation("bulk_validate", count)
	s.publish(EventBulkValidated, map[string]any{"ids": valid, "count": count})
	return &BulkResult{Message: fmt.Sprintf("%d avis validés", count), Count: count}, nil
}

// BulkDelete removes every existing review among ids.
func (s *Service) BulkDelete(ctx context.Context, ids []int64) (*BulkResult, error) {
	valid, err := normalizeIDs(ids)
	if err != nil {
		return nil, err
	}

	count, err := s.store.BulkDelete(ctx, valid)
	if err != nil {
		return nil, fmt.Errorf("bulk delete: %w", err)
	}

	s.log.Info().Int64("count", count).Interface("ids", valid).Msg("Bulk deletion by admin")
	s.metrics.Moderation("bulk_delete", count)
	s.publish(EventBulkDeleted, map[string]any{"ids": valid, "count": count})
	return &BulkResult{Message: fmt.Sprintf("%d avis supprimés", count), Count: count}, nil
}

func (s *Service) List(ctx context.Context, q PublicQuery) (*models.Page[models.PublicReview], error) {
	return s.store.ListValidated(ctx, q)
}

func (s *Service) AdminList(ctx context.Context, q AdminQuery) (*models.Page[models.Review], error) {
	return s.store.ListAll(ctx, q)
}

// Get returns a validated review; pending and absent reviews look the same.
func (s *Service) Get(ctx context.Context, id uint) (*models.PublicReview, error) {
	review, err := s.store.GetValidated(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get review %d: %w", id, err)
	}
	if review == nil {
		return nil, apperrors.NewNotFound("Review not found")
	}
	public := review.Public()
	return &public, nil
}

func (s *Service) Statistics(ctx context.Context) (*models.Statistics, error) {
	return s.store.Statistics(ctx)
}

func (s *Service) AdminStatistics(ctx context.Context) (*models.AdminStatistics, error) {
	return s.store.AdminStatistics(ctx)
}

// Export walks every review for the CSV dump.
func (s *Service) Export(ctx context.Context, fn func(*models.Review) error) error {
	return s.store.Each(ctx, fn)
}

func (s *Service) validationLink(token string) string {
	return s.baseURL + "/api/reviews/validate/" + url.PathEscape(token)
}

func (s *Service) publish(eventType string, data any) {
	if s.events != nil {
		s.events.Publish(eventType, data)
	}
}

func normalizeIDs(ids []int64) ([]uint, error) {
	if len(ids) == 0 {
		return nil, apperrors.NewInvalidRequest("No review ids provided")
	}
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id > 0 {
			out = append(out, uint(id))
		}
	}
	return out, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
