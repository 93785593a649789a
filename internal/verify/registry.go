package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sujalbistaa/qreview/internal/config"
	"github.com/sujalbistaa/qreview/internal/logging"
)

// ErrUnavailable wraps every registry or identity-provider failure. Callers
// treat it as "not verified" and carry on.
var ErrUnavailable = errors.New("verification service unavailable")

const fallbackCompanyName = "Entreprise vérifiée"

var siretPattern = regexp.MustCompile(`^\d{14}$`)

// Company is the outcome of a registry lookup.
type Company struct {
	Valid       bool   `json:"valid"`
	CompanyName string `json:"company_name,omitempty"`
}

type searchResponse struct {
	Results []struct {
		NomComplet       string `json:"nom_complet"`
		NomRaisonSociale string `json:"nom_raison_sociale"`
		Siege            struct {
			Siret string `json:"siret"`
		} `json:"siege"`
	} `json:"results"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.code, e.body)
}

// permanentError marks failures a retry cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Registry looks SIRET numbers up in the public French business registry
// (recherche-entreprises.api.gouv.fr).
type Registry struct {
	client  *http.Client
	cfg     config.RegistryConfig
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewRegistry builds a client with a fixed timeout, a small retry budget,
// an outbound request throttle and a circuit breaker that opens after five
// consecutive transport failures. A non-positive RateLimit disables the
// throttle.
func NewRegistry(cfg config.RegistryConfig) *Registry {
	limit, burst := rate.Inf, cfg.Burst
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if burst < 1 {
		burst = 1
	}

	r := &Registry{
		client:  &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		log:     logging.NewLogger("registry"),
	}

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "siret-registry",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})
	return r
}

// Lookup reports whether siret exists in the registry and, if so, the
// company's canonical name. A malformed siret is simply not valid.
func (r *Registry) Lookup(ctx context.Context, siret string) (Company, error) {
	if !siretPattern.MatchString(siret) {
		return Company{Valid: false}, nil
	}

	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Company{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(r.cfg.RetryDelay):
			}
		}

		company, err := r.execute(ctx, siret)
		if err == nil {
			return company, nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
		r.log.Warn().Err(err).Str("siret", siret).Int("attempt", attempt+1).Msg("SIRET verification failed, retrying")
	}

	r.log.Warn().Err(lastErr).Str("siret", siret).Msg("SIRET verification failed")
	return Company{}, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (r *Registry) execute(ctx context.Context, siret string) (Company, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Company{}, &permanentError{fmt.Errorf("rate limiter error: %w", err)}
	}
	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.search(ctx, siret)
	})
	if err != nil {
		return Company{}, err
	}
	return result.(Company), nil
}

func (r *Registry) search(ctx context.Context, siret string) (Company, error) {
	endpoint := strings.TrimRight(r.cfg.BaseURL, "/") + "/search?q=" + url.QueryEscape(siret)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Company{}, &permanentError{fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if r.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", r.cfg.UserAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Company{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Company{}, &statusError{code: resp.StatusCode, body: string(body)}
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Company{}, &permanentError{fmt.Errorf("failed to decode response: %w", err)}
	}

	if len(payload.Results) == 0 || payload.Results[0].Siege.Siret != siret {
		return Company{Valid: false}, nil
	}

	first := payload.Results[0]
	name := first.NomComplet
	if name == "" {
		name = first.NomRaisonSociale
	}
	if name == "" {
		name = fallbackCompanyName
	}
	return Company{Valid: true, CompanyName: name}, nil
}

// isRetryable is true for transport failures and 5xx responses.
func isRetryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	var pe *permanentError
	return !errors.As(err, &pe)
}
