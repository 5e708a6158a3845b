// Package server wires the recipebox HTTP API together and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	_ "github.com/mikepea/recipebox/api/swagger"
	"github.com/mikepea/recipebox/pkg/recipebox/admin"
	"github.com/mikepea/recipebox/pkg/recipebox/apitokens"
	"github.com/mikepea/recipebox/pkg/recipebox/apperr"
	"github.com/mikepea/recipebox/pkg/recipebox/attributes"
	"github.com/mikepea/recipebox/pkg/recipebox/auth"
	"github.com/mikepea/recipebox/pkg/recipebox/config"
	"github.com/mikepea/recipebox/pkg/recipebox/database"
	"github.com/mikepea/recipebox/pkg/recipebox/images"
	"github.com/mikepea/recipebox/pkg/recipebox/importexport"
	"github.com/mikepea/recipebox/pkg/recipebox/logging"
	"github.com/mikepea/recipebox/pkg/recipebox/maintenance"
	"github.com/mikepea/recipebox/pkg/recipebox/metrics"
	"github.com/mikepea/recipebox/pkg/recipebox/ratelimit"
	"github.com/mikepea/recipebox/pkg/recipebox/recipes"
	"github.com/mikepea/recipebox/pkg/recipebox/validation"
)

// Server holds the assembled API and its background jobs.
type Server struct {
	cfg       *config.Config
	db        *gorm.DB
	log       zerolog.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	store     *images.Storage
	limiter   *ratelimit.KeyedRateLimiter
	scheduler *maintenance.Scheduler
	engine    *gin.Engine
	handler   http.Handler
	ready     atomic.Bool
}

// New builds the router and schedules maintenance jobs. Nothing is
// started until Run.
func New(cfg *config.Config, db *gorm.DB, log zerolog.Logger) (*Server, error) {
	store, err := images.NewStorage(cfg.Media.Root)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		db:        db,
		log:       log,
		registry:  metrics.NewRegistry(),
		store:     store,
		limiter:   ratelimit.New(cfg.Auth.TokenRateLimit, time.Minute, cfg.Auth.TokenBurst),
		scheduler: maintenance.NewScheduler(log),
	}
	s.metrics = metrics.New(s.registry)

	sweeper := maintenance.NewMediaSweeper(db, store, cfg.Media.SweepGrace, s.metrics, log)
	if err := s.scheduler.AddSweeper(cfg.Media.SweepSchedule, sweeper); err != nil {
		return nil, err
	}
	if err := s.scheduler.AddPruner("ratelimit-prune", "@every 10m", s.limiter); err != nil {
		return nil, err
	}

	validation.RegisterWithGin()
	if s.engine, err = s.routes(); err != nil {
		return nil, err
	}
	s.handler = cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	})(s.engine)

	return s, nil
}

// Handler returns the complete HTTP handler, CORS included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry returns the metrics registry.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Server) routes() (*gin.Engine, error) {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	if err := r.SetTrustedProxies(s.cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		apperr.Respond(c, apperr.Internal("internal error", fmt.Errorf("panic: %v", recovered)))
	}))
	r.Use(logging.Middleware(s.log))
	r.Use(s.metrics.Middleware())

	r.NoRoute(func(c *gin.Context) {
		apperr.Respond(c, apperr.NotFound("Not found"))
	})
	r.NoMethod(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{
			"error": fmt.Sprintf("Method %q not allowed.", c.Request.Method),
			"code":  "METHOD_NOT_ALLOWED",
		})
	})

	r.GET("/health", s.handleHealth)
	r.GET("/ready", s.handleReady)
	r.GET("/metrics", metrics.Handler(s.registry))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.Static(s.cfg.Media.URLPrefix, s.store.Root())

	issuer := auth.NewTokenIssuer(s.cfg.Auth.JWTSecret, s.cfg.Auth.TokenTTL)
	// Accepts JWTs and API tokens
	requireAuth := apitokens.CombinedAuthMiddleware(s.db, issuer)

	api := r.Group("/api")
	{
		api.GET("/health", s.handleHealth)

		// Accounts; only token issuance is rate limited
		authHandler := auth.NewHandler(s.db, issuer)
		authHandler.RegisterRoutes(api.Group("/user"), requireAuth, ratelimit.Middleware(s.limiter, s.metrics))

		// API token management needs a login session
		tokensHandler := apitokens.NewHandler(s.db)
		tokensHandler.RegisterRoutes(api.Group("/user", auth.AuthMiddleware(issuer)))

		service := recipes.NewService(s.db,
			recipes.WithImageStore(s.store),
			recipes.WithMetrics(s.metrics),
			recipes.WithLogger(s.log),
		)

		recipeGroup := api.Group("/recipe", requireAuth)
		recipes.NewHandler(service, s.cfg.Media.URLPrefix, s.cfg.Media.MaxUploadBytes).RegisterRoutes(recipeGroup)
		attributes.NewHandler(s.db, attributes.Tags).RegisterRoutes(recipeGroup)
		attributes.NewHandler(s.db, attributes.Ingredients).RegisterRoutes(recipeGroup)
		importexport.NewHandler(service).RegisterRoutes(recipeGroup)

		adminGroup := api.Group("/admin", requireAuth, auth.RequireStaff())
		admin.NewHandler(s.db).RegisterRoutes(adminGroup)
	}

	return r, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "recipebox",
	})
}

// handleReady reports whether the server is serving and the store answers.
func (s *Server) handleReady(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := database.Ping(ctx, s.db); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Run serves until ctx is cancelled or the listener fails, then shuts the
// HTTP server and scheduler down within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.handler,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	s.scheduler.Start()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info().Str("addr", srv.Addr).Msg("Starting recipebox server")
		s.ready.Store(true)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.ready.Store(false)
		s.log.Info().Msg("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(
			srv.Shutdown(shutdownCtx),
			s.scheduler.Stop(shutdownCtx),
		)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	s.log.Info().Msg("Server stopped gracefully")
	return nil
}
