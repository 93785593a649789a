package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sujalbistaa/qreview/internal/auth"
	"github.com/sujalbistaa/qreview/internal/config"
	"github.com/sujalbistaa/qreview/internal/db"
	"github.com/sujalbistaa/qreview/internal/reviews"
	"github.com/sujalbistaa/qreview/internal/verify"
	"github.com/sujalbistaa/qreview/internal/ws"
)

const adminPassword = "s3cret"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

type stubRegistry struct {
	company verify.Company
	err     error
}

func (s *stubRegistry) Lookup(context.Context, string) (verify.Company, error) {
	return s.company, s.err
}

type stubIdentity struct {
	identity verify.Identity
	err      error
}

func (s *stubIdentity) AuthCodeURL(state string) string {
	return "https://linkedin.test/authorize?state=" + url.QueryEscape(state)
}

func (s *stubIdentity) Exchange(_ context.Context, code string) (verify.Identity, error) {
	if code != "good-code" {
		return verify.Identity{}, errors.New("bad code")
	}
	return s.identity, s.err
}

type testServer struct {
	router   *gin.Engine
	env      *Env
	registry *stubRegistry
}

type option func(*Deps)

func withIdentity(p verify.IdentityProvider) option {
	return func(d *Deps) { d.Identity = p }
}

func withPublicDir(dir string) option {
	return func(d *Deps) { d.Config.Server.PublicDir = dir }
}

func newTestServer(t *testing.T, opts ...option) *testServer {
	t.Helper()

	gdb, backend, err := db.Init("sqlite://" + filepath.Join(t.TempDir(), "http.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	store := db.NewReviewStore(gdb)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub()
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		_ = store.Close()
	})

	registry := &stubRegistry{}
	cfg := &config.Config{
		Server: config.ServerConfig{Env: "test", BaseURL: "http://qreview.test", CORSOrigin: "*"},
		Admin:  config.AdminConfig{Password: adminPassword, SessionSecret: "test-secret"},
	}
	deps := Deps{
		Config:   cfg,
		Sessions: auth.NewSessions(auth.SessionTTL),
		Hub:      hub,
		Backend:  backend,
		DB:       sqlDB,
		Reviews: reviews.NewService(reviews.Deps{
			Store:    store,
			Registry: registry,
			Events:   hub,
			BaseURL:  cfg.Server.BaseURL,
		}),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	router := gin.New()
	env := SetupRoutes(ctx, router, deps)
	return &testServer{router: router, env: env, registry: registry}
}

func (s *testServer) do(t *testing.T, method, target string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/admin/login", gin.H{"password": adminPassword}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)
	return body.Token
}

func (s *testServer) submit(t *testing.T, company string) uint {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/reviews", reviewBody(company), "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res reviews.SubmitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res.ID
}

func reviewBody(company string) gin.H {
	return gin.H{
		"company_name": company,
		"position":     "Dev",
		"duration":     "2 ans",
		"rating":       "4",
		"comment":      `Très "bien"`,
		"email":        "dev@" + strings.ToLower(company) + ".fr",
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "sqlite", body["db"])
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestSubmitAndPublish(t *testing.T) {
	s := newTestServer(t)
	id := s.submit(t, "Acme")

	w := s.do(t, http.MethodGet, "/api/reviews", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["total"])

	w = s.do(t, http.MethodGet, "/api/reviews/1", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	token := s.login(t)
	w = s.do(t, http.MethodPost, "/admin/reviews/1/validate", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/admin/reviews/1/validate", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Review not found or already validated", decode(t, w)["error"])

	w = s.do(t, http.MethodGet, "/api/reviews?company=acm&sort=rating_desc", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	page := decode(t, w)
	assert.EqualValues(t, 1, page["total"])
	assert.EqualValues(t, 1, page["totalPages"])
	first := page["reviews"].([]any)[0].(map[string]any)
	assert.EqualValues(t, id, first["id"])
	assert.NotContains(t, first, "email")
	assert.NotContains(t, first, "validation_token")

	w = s.do(t, http.MethodGet, "/api/reviews/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["stars_4"])
}

func TestSubmitValidationAndDuplicate(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/reviews", gin.H{"company_name": "Acme", "rating": 7}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Contains(t, body["error"], "position is required")
	assert.Contains(t, body["details"], "rating must be an integer between 1 and 5")

	w = s.do(t, http.MethodPost, "/api/reviews", "{not json", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.submit(t, "Acme")
	w = s.do(t, http.MethodPost, "/api/reviews", reviewBody("Acme"), "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "You have already submitted a review for this company recently.", decode(t, w)["error"])
}

func TestSubmitWithVerifiedSiret(t *testing.T) {
	s := newTestServer(t)
	s.registry.company = verify.Company{Valid: true, CompanyName: "ACME SAS"}

	body := reviewBody("Acme")
	body["siret"] = "73282932000074"
	body["linkedin_verified"] = true
	w := s.do(t, http.MethodPost, "/api/reviews", body, "")
	require.Equal(t, http.StatusCreated, w.Code)
	res := decode(t, w)
	assert.Equal(t, true, res["company_verified"])
	assert.Equal(t, false, res["linkedin_verified"], "client claims are ignored")
}

func TestVerifySiretEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/reviews/verify-siret/123", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid SIRET format", decode(t, w)["error"])

	s.registry.err = verify.ErrUnavailable
	w = s.do(t, http.MethodGet, "/api/reviews/verify-siret/12345678901234", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"valid": false}, decode(t, w))
}

func TestTokenRedemption(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/reviews/validate/not-a-token", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublicIDHandling(t *testing.T) {
	s := newTestServer(t)

	for _, target := range []string{"/api/reviews/abc", "/api/reviews/0", "/api/reviews/-4"} {
		w := s.do(t, http.MethodGet, target, nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.Equal(t, "Invalid review id", decode(t, w)["error"])
	}

	w := s.do(t, http.MethodPost, "/api/reviews/x/flag", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/reviews/9999/flag", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Review flagged for moderation", decode(t, w)["message"])
}

func TestIDsBeyondKeyRange(t *testing.T) {
	s := newTestServer(t)
	huge := []string{"4294967296", "9223372036854775808", "99999999999999999999999"}

	for _, id := range huge {
		w := s.do(t, http.MethodPost, "/api/reviews/"+id+"/flag", nil, "")
		assert.Equal(t, http.StatusOK, w.Code, id)

		w = s.do(t, http.MethodGet, "/api/reviews/"+id, nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code, id)
	}

	token := s.login(t)
	w := s.do(t, http.MethodPost, "/admin/reviews/"+huge[2]+"/validate", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Review not found or already validated", decode(t, w)["error"])
}

func TestAdminRequiresSession(t *testing.T) {
	s := newTestServer(t)

	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/admin/stats"},
		{http.MethodGet, "/admin/reviews"},
		{http.MethodDelete, "/admin/reviews/1"},
		{http.MethodPost, "/admin/reviews/bulk/delete"},
		{http.MethodGet, "/admin/export/csv"},
	} {
		w := s.do(t, tc.method, tc.target, nil, "bogus")
		assert.Equal(t, http.StatusUnauthorized, w.Code, tc.target)
		assert.Equal(t, "Authentication required", decode(t, w)["error"])
	}

	badPassword := s.do(t, http.MethodPost, "/admin/login", gin.H{"password": "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, badPassword.Code)

	token := s.login(t)
	w := s.do(t, http.MethodPost, "/admin/logout", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	staleToken := s.do(t, http.MethodGet, "/admin/stats", nil, token)
	assert.Equal(t, http.StatusUnauthorized, staleToken.Code)

	assert.JSONEq(t, staleToken.Body.String(), badPassword.Body.String(),
		"a wrong password and a revoked session are indistinguishable")
}

func TestAdminModeration(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)
	a := s.submit(t, "Acme")
	b := s.submit(t, "Globex")
	s.submit(t, "Initech")

	w := s.do(t, http.MethodPost, "/admin/reviews/bulk/validate", gin.H{"ids": []any{a, "2", "junk", -1}}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode(t, w)
	assert.Equal(t, "2 avis validés", res["message"])
	assert.EqualValues(t, 2, res["count"])

	w = s.do(t, http.MethodPost, "/admin/reviews/bulk/validate", gin.H{"ids": []any{}}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No review ids provided", decode(t, w)["error"])

	w = s.do(t, http.MethodPost, "/admin/reviews/bulk/delete", gin.H{"ids": "nope"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/admin/reviews/1/reply", gin.H{"reply": ""}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "reply is required", decode(t, w)["error"])

	w = s.do(t, http.MethodPost, "/admin/reviews/1/reply", gin.H{"reply": "Merci"}, token)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/admin/reviews/1/flag", gin.H{"flagged": true}, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Review flagged", decode(t, w)["message"])

	w = s.do(t, http.MethodGet, "/admin/reviews?filter=flagged", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total"])

	w = s.do(t, http.MethodPost, "/admin/reviews/1/flag", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Review unflagged", decode(t, w)["message"])

	w = s.do(t, http.MethodPost, "/admin/reviews/9999/flag", gin.H{"flagged": true}, token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/admin/stats", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.EqualValues(t, 3, stats["total_reviews"])
	assert.EqualValues(t, 1, stats["pending"])

	w = s.do(t, http.MethodPost, "/admin/reviews/bulk/delete", gin.H{"ids": []any{a, b, 4242}}, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2 avis supprimés", decode(t, w)["message"])

	w = s.do(t, http.MethodDelete, "/admin/reviews/3", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodDelete, "/admin/reviews/3", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportCSV(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)
	s.submit(t, "Acme")

	w := s.do(t, http.MethodGet, "/admin/export/csv", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "qreview-export-")

	out := w.Body.String()
	require.True(t, strings.HasPrefix(out, "\uFEFF"), "missing BOM")
	lines := strings.Split(strings.TrimPrefix(out, "\uFEFF"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(exportColumns, ","), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], `"1","Acme","Dev","2 ans","4","Très ""bien""","dev@acme.fr","","false"`), lines[1])
}

func TestLoginRateLimit(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < LoginBudget.Max; i++ {
		w := s.do(t, http.MethodPost, "/admin/login", gin.H{"password": "wrong"}, "")
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := s.do(t, http.MethodPost, "/admin/login", gin.H{"password": adminPassword}, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, LoginBudget.Message, decode(t, w)["error"])
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedLimiter(b Budget) (*IPRateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	rl := NewIPRateLimiter(b, nil)
	rl.now = clock.Now
	return rl, clock
}

func TestIPRateLimiter_SlidingWindow(t *testing.T) {
	rl, clock := newClockedLimiter(SubmitBudget)
	const ip = "10.0.0.1"

	for i := 0; i < SubmitBudget.Max; i++ {
		ok, _ := rl.Allow(ip)
		require.True(t, ok, "request %d", i+1)
	}

	accepted := 0
	for minute := 1; minute < 60; minute++ {
		clock.Advance(time.Minute)
		if ok, _ := rl.Allow(ip); ok {
			accepted++
		}
	}
	assert.Zero(t, accepted, "no request fits until the first hit leaves the window")

	ok, wait := rl.Allow(ip)
	require.False(t, ok)
	assert.Equal(t, time.Minute, wait)
	assert.Equal(t, 60, retryAfterSeconds(wait))

	clock.Advance(time.Minute)
	ok, _ = rl.Allow(ip)
	assert.True(t, ok, "the whole first burst expired after one window")

	other, _ := rl.Allow("10.0.0.2")
	assert.True(t, other, "budgets are per IP")
}

func TestIPRateLimiter_SpreadRequests(t *testing.T) {
	rl, clock := newClockedLimiter(Budget{Name: "t", Max: 3, Window: time.Hour, Message: "slow down"})
	const ip = "10.0.0.1"

	for i := 0; i < 3; i++ {
		ok, _ := rl.Allow(ip)
		require.True(t, ok)
		clock.Advance(20 * time.Minute)
	}
	// t0+60m: the t0 hit has just left the window.
	ok, _ := rl.Allow(ip)
	assert.True(t, ok)
	ok, wait := rl.Allow(ip)
	assert.False(t, ok)
	assert.Equal(t, 20*time.Minute, wait)
}

func TestIPRateLimiter_Sweep(t *testing.T) {
	rl, clock := newClockedLimiter(Budget{Name: "t", Max: 2, Window: time.Hour, Message: "slow down"})

	rl.Allow("10.0.0.1")
	clock.Advance(30 * time.Minute)
	rl.Allow("10.0.0.2")
	clock.Advance(31 * time.Minute)

	assert.Equal(t, 1, rl.Sweep(), "only the visitor with no recent hit is dropped")
	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "10.0.0.2")
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 2, retryAfterSeconds(1500*time.Millisecond))
}

func TestLinkedInDisabled(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/auth/linkedin", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "LinkedIn authentication not configured", decode(t, w)["error"])
}

func TestLinkedInFlow(t *testing.T) {
	provider := &stubIdentity{identity: verify.Identity{ID: "li-1", Name: "Jane Doe", FirstName: "Jane", LastName: "Doe"}}
	s := newTestServer(t, withIdentity(provider))

	w := s.do(t, http.MethodGet, "/auth/linkedin", nil, "")
	require.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)

	callback := func(state, code string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/auth/linkedin/callback?state="+url.QueryEscape(state)+"&code="+code, nil)
		req.AddCookie(cookies[0])
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}

	w = callback("forged", "good-code")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, authFailedURL, w.Header().Get("Location"))

	w = callback(state, "bad-code")
	assert.Equal(t, authFailedURL, w.Header().Get("Location"))

	w = callback(state, "good-code")
	require.Equal(t, http.StatusFound, w.Code)
	redirect, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	ticket := redirect.Query().Get("linkedin_ticket")
	require.NotEmpty(t, ticket)

	w = s.do(t, http.MethodGet, "/auth/linkedin/identity/"+ticket, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Jane Doe", decode(t, w)["name"])

	body := reviewBody("Acme")
	body["linkedin_ticket"] = ticket
	w = s.do(t, http.MethodPost, "/api/reviews", body, "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, true, decode(t, w)["linkedin_verified"])

	w = s.do(t, http.MethodGet, "/auth/linkedin/identity/"+ticket, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code, "tickets are single use")
}

func TestStaticPages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>index</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "company.html"), []byte("<h1>company</h1>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "js"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "js", "app.js"), []byte("console.log(1)"), 0o644))

	s := newTestServer(t, withPublicDir(dir))

	w := s.do(t, http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "index")

	w = s.do(t, http.MethodGet, "/company/Acme", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "company")

	w = s.do(t, http.MethodGet, "/js/app.js", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "console.log")

	w = s.do(t, http.MethodGet, "/missing.css", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not found", decode(t, w)["error"])
}

func TestCSVQuoting(t *testing.T) {
	assert.Equal(t, `""`, quoteField(""))
	assert.Equal(t, `"a,b"`, quoteField("a,b"))
	assert.Equal(t, `"say ""hi"""`, quoteField(`say "hi"`))
}
