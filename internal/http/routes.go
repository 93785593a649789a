package http

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/sujalbistaa/qreview/internal/auth"
	"github.com/sujalbistaa/qreview/internal/logging"
)

// SetupRoutes configures all application routes and middleware. Background
// sweeps for rate limiters and LinkedIn tickets stop when ctx is done.
func SetupRoutes(ctx context.Context, router *gin.Engine, deps Deps) *Env {
	env := newEnv(deps)

	// --- Middleware ---

	router.Use(Recovery())
	router.Use(logging.RequestLogger())
	router.Use(SecurityHeadersMiddleware())
	router.Use(CORSMiddleware(deps.Config.Server.CORSOrigin))
	router.Use(BodyLimit(maxBodyBytes))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}

	// --- Rate Limiter Setup ---

	apiLimiter := NewIPRateLimiter(APIBudget, deps.Metrics)
	submitLimiter := NewIPRateLimiter(SubmitBudget, deps.Metrics)
	registryLimiter := NewIPRateLimiter(RegistryBudget, deps.Metrics)
	loginLimiter := NewIPRateLimiter(LoginBudget, deps.Metrics)
	for _, l := range []*IPRateLimiter{apiLimiter, submitLimiter, registryLimiter, loginLimiter} {
		go l.Run(ctx, visitorSweepInterval)
	}
	go env.Tickets.Run(ctx, visitorSweepInterval, nil)

	router.GET("/health", env.Health)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// --- API Routes ---

	api := router.Group("/api", apiLimiter.Middleware())
	{
		api.GET("/reviews", env.ListReviews)
		api.GET("/reviews/stats", env.GetStats)
		api.GET("/reviews/verify-siret/:siret", registryLimiter.Middleware(), env.VerifySiret)
		api.POST("/reviews", submitLimiter.Middleware(), env.CreateReview)
		api.GET("/reviews/validate/:token", env.RedeemToken)
		api.GET("/reviews/:id", env.GetReview)
		api.POST("/reviews/:id/flag", env.ReportReview)
	}

	// --- LinkedIn sign-in ---

	linkedin := router.Group("/auth/linkedin")
	{
		linkedin.GET("", env.LinkedInLogin)
		linkedin.GET("/callback", env.LinkedInCallback)
		linkedin.GET("/identity/:ticket", env.LinkedInIdentity)
	}

	// --- Admin Routes ---

	router.POST("/admin/login", loginLimiter.Middleware(), env.Login)

	admin := router.Group("/admin", auth.RequireAdmin(deps.Sessions))
	{
		admin.POST("/logout", env.Logout)
		admin.GET("/stats", env.AdminStats)
		admin.GET("/reviews", env.AdminListReviews)
		admin.POST("/reviews/:id/validate", env.ValidateReview)
		admin.DELETE("/reviews/:id", env.DeleteReview)
		admin.POST("/reviews/:id/reply", env.ReplyReview)
		admin.POST("/reviews/:id/flag", env.FlagReview)
		admin.POST("/reviews/bulk/validate", env.BulkValidate)
		admin.POST("/reviews/bulk/delete", env.BulkDelete)
		admin.GET("/export/csv", env.ExportCSV)
	}
	router.GET("/admin/ws", auth.RequireAdminSocket(deps.Sessions), env.ModerationFeed)

	// --- Serve Frontend ---
	// Registered after the API so page routes never shadow it.
	servePages(router, env, deps.Config.Server.PublicDir)

	return env
}

// servePages maps the HTML entry points and falls back to static assets.
// Nothing is served when dir does not exist.
func servePages(router *gin.Engine, env *Env, dir string) {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		router.NoRoute(env.NotFound)
		return
	}

	page := func(name string) gin.HandlerFunc {
		file := filepath.Join(dir, name)
		return func(c *gin.Context) { c.File(file) }
	}
	router.GET("/", page("index.html"))
	router.GET("/admin", page("admin.html"))
	router.GET("/company/:name", page("company.html"))
	router.GET("/review/:id", page("review.html"))

	assets := http.Dir(dir)
	router.NoRoute(func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			name := path.Clean("/" + c.Request.URL.Path)
			if f, err := assets.Open(name); err == nil {
				info, statErr := f.Stat()
				_ = f.Close()
				if statErr == nil && !info.IsDir() {
					c.FileFromFS(name, assets)
					return
				}
			}
		}
		env.NotFound(c)
	})
}
