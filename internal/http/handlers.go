package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/sujalbistaa/qreview/internal/apperrors"
	"github.com/sujalbistaa/qreview/internal/auth"
	"github.com/sujalbistaa/qreview/internal/config"
	"github.com/sujalbistaa/qreview/internal/db"
	"github.com/sujalbistaa/qreview/internal/logging"
	"github.com/sujalbistaa/qreview/internal/monitoring"
	"github.com/sujalbistaa/qreview/internal/reviews"
	"github.com/sujalbistaa/qreview/internal/verify"
	"github.com/sujalbistaa/qreview/internal/ws"
)

// Pinger reports database liveness; *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps is everything the HTTP surface needs from main.
type Deps struct {
	Config   *config.Config
	Reviews  *reviews.Service
	Sessions *auth.Sessions
	// Identity is nil when LinkedIn sign-in is not configured.
	Identity verify.IdentityProvider
	Hub      *ws.Hub
	Metrics  *monitoring.Metrics
	Backend  db.Backend
	DB       Pinger
}

// Env carries the handler dependencies.
type Env struct {
	Deps
	Tickets *auth.TokenStore[verify.Identity]
	started time.Time
	log     zerolog.Logger
}

// --- Public handlers ---

func (e *Env) Health(c *gin.Context) {
	status, code := "ok", http.StatusOK
	if e.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := e.DB.PingContext(ctx); err != nil {
			e.log.Error().Err(err).Msg("Health check ping failed")
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	c.JSON(code, gin.H{
		"status": status,
		"db":     e.Backend,
		"uptime": int64(time.Since(e.started).Round(time.Second).Seconds()),
	})
}

func (e *Env) ListReviews(c *gin.Context) {
	q := reviews.NewPublicQuery(queryInt(c, "page"), queryInt(c, "limit"), c.Query("sort"), c.Query("company"))
	page, err := e.Reviews.List(c.Request.Context(), q)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (e *Env) GetStats(c *gin.Context) {
	stats, err := e.Reviews.Statistics(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (e *Env) VerifySiret(c *gin.Context) {
	company, err := e.Reviews.VerifySiret(c.Request.Context(), c.Param("siret"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, company)
}

func (e *Env) CreateReview(c *gin.Context) {
	var input reviews.ReviewInput
	if err := bindJSON(c, &input, false); err != nil {
		abortWithError(c, err)
		return
	}

	var identity *verify.Identity
	if input.LinkedInTicket != "" {
		if id, ok := e.Tickets.Take(input.LinkedInTicket); ok {
			identity = &id
		} else {
			e.log.Warn().Str("client_ip", c.ClientIP()).Msg("Unknown or expired LinkedIn ticket, submitting unverified")
		}
	}

	res, err := e.Reviews.Submit(c.Request.Context(), input, identity)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (e *Env) RedeemToken(c *gin.Context) {
	id, err := e.Reviews.RedeemToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Review validated", "id": id})
}

func (e *Env) GetReview(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	review, err := e.Reviews.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, review)
}

func (e *Env) ReportReview(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if err := e.Reviews.Report(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Review flagged for moderation"})
}

func (e *Env) NotFound(c *gin.Context) {
	abortWithError(c, apperrors.NewNotFound("Not found"))
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}

func newEnv(deps Deps) *Env {
	return &Env{
		Deps:    deps,
		Tickets: auth.NewTokenStore[verify.Identity](linkedInTicketTTL),
		started: time.Now(),
		log:     logging.NewLogger("http"),
	}
}
