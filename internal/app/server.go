package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/robfig/cron/v3"

	"github.com/clawroute/clawroute/internal/classify"
	"github.com/clawroute/clawroute/internal/events"
	"github.com/clawroute/clawroute/internal/executor"
	"github.com/clawroute/clawroute/internal/httpapi"
	"github.com/clawroute/clawroute/internal/logging"
	"github.com/clawroute/clawroute/internal/metrics"
	"github.com/clawroute/clawroute/internal/route"
	"github.com/clawroute/clawroute/internal/stats"
	"github.com/clawroute/clawroute/internal/store"
	"github.com/clawroute/clawroute/internal/tracing"
)

// Version is stamped by the build; the default marks local builds.
var Version = "dev"

type Server struct {
	cfg Config

	r *chi.Mux

	router *route.Router
	store  store.Store
	cron   *cron.Cron
	logger *slog.Logger
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.Debug, cfg.LogContent)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Session-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	rt := route.New(cfg.TierModels(), cfg.ProviderKeys(), cfg.Enabled, cfg.DryRun)
	if cfg.GlobalForceModel != "" {
		rt.SetGlobalOverride(cfg.GlobalForceModel)
	}

	exec := executor.New(
		&http.Client{Transport: tracing.HTTPTransport(nil)},
		rt,
		executor.Options{
			MaxRetries:               cfg.MaxRetries,
			RetryDelay:               cfg.RetryDelay(),
			AlwaysFallbackToOriginal: cfg.AlwaysFallbackToOriginal,
		},
		logger,
	)

	db, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open route store: %w", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate route store: %w", err)
	}
	logger.Info("route store initialized", slog.String("dsn", cfg.DBDSN))

	s := &Server{
		cfg:    cfg,
		r:      r,
		router: rt,
		store:  db,
		cron:   cron.New(),
		logger: logger,
	}
	s.scheduleRetention()

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Router:   rt,
		Executor: exec,
		Classify: classify.Options{
			ToolAwareEscalation: cfg.ToolAwareEscalation,
			Conservative:        cfg.Conservative,
			MinConfidence:       cfg.MinConfidence,
		},
		Store:      db,
		Stats:      stats.NewCollector(),
		Metrics:    metrics.New(),
		Events:     events.NewBus(),
		Logger:     logger,
		Version:    Version,
		AuthToken:  cfg.Token,
		ConfigView: cfg.Redacted,
	})

	return s, nil
}

// scheduleRetention prunes route records older than the retention window
// once a day, plus once at startup so a long-idle instance catches up.
func (s *Server) scheduleRetention() {
	prune := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
		n, err := s.store.PruneBefore(ctx, cutoff)
		if err != nil {
			s.logger.Error("retention prune failed", "error", err)
			return
		}
		if n > 0 {
			s.logger.Info("pruned old route records", slog.Int64("removed", n), slog.Time("cutoff", cutoff))
		}
	}
	_, _ = s.cron.AddFunc("@daily", prune)
	s.cron.Start()
	go prune()
}

func (s *Server) Router() http.Handler { return s.r }

func (s *Server) ListenAddr() string { return s.cfg.ListenAddr() }

func (s *Server) Close() error {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
