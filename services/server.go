package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/krshsl/mockprep/cache"
	"github.com/krshsl/mockprep/queue"
	"github.com/krshsl/mockprep/repository"
	"github.com/krshsl/mockprep/storage"
	ws "github.com/krshsl/mockprep/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type llmHealth interface {
	Healthy() bool
}

// Server holds all server dependencies
type Server struct {
	config *Config

	db      *repository.Database
	repo    *repository.GORMRepository
	gemini  *GeminiService
	cache   *cache.SummaryCache // nil without redis
	broker  *queue.Broker       // nil without amqp
	objects storage.Store

	hub          *ws.Hub
	tracker      *SessionTracker
	resumes      *ResumeService
	resumeWorker *ResumeWorker

	authService       *AuthService
	authEndpoints     *AuthEndpoints
	functionEndpoints *FunctionEndpoints
	sessionEndpoints  *SessionEndpoints
	skillEndpoints    *SkillEndpoints
	resumeEndpoints   *ResumeEndpoints
	websocketHandler  *WebSocketHandler

	// health checks; nil means not configured
	dbCheck    pinger
	cacheCheck pinger
	llmCheck   llmHealth

	shutdownTracing func(context.Context) error
}

func NewServer(config *Config) *Server {
	return &Server{config: config}
}

// OpenDatabase connects to Postgres and returns the repository on top of it.
func OpenDatabase(ctx context.Context, cfg DatabaseConfig) (*repository.Database, *repository.GORMRepository, error) {
	if cfg.URL == "" {
		return nil, nil, errors.New("DATABASE_URL is not configured")
	}
	db, err := repository.Open(ctx, repository.Options{
		URL:          cfg.URL,
		LogLevel:     cfg.LogLevel,
		MaxIdleConns: cfg.MaxIdleConns,
		MaxOpenConns: cfg.MaxOpenConns,
	})
	if err != nil {
		return nil, nil, err
	}
	return db, repository.NewGORMRepository(db.Gorm), nil
}

// InitializeServices connects every backing service and builds the
// handlers. Postgres, Gemini and object storage are required; redis and
// rabbitmq are used when configured.
func (s *Server) InitializeServices(ctx context.Context) error {
	cfg := s.config

	shutdown, err := SetupTracing(ctx, cfg.Telemetry, cfg.Server.Environment)
	if err != nil {
		return err
	}
	s.shutdownTracing = shutdown

	s.db, s.repo, err = OpenDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	s.dbCheck = s.db

	if err := s.repo.AutoMigrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if cfg.Database.Seed {
		if err := NewDatabaseSeeder(s.repo).SeedDatabase(ctx); err != nil {
			slog.Error("Failed to seed database", "error", err)
		}
	}

	s.gemini, err = NewGeminiService(ctx, cfg.AI)
	if err != nil {
		return fmt.Errorf("failed to initialize gemini: %w", err)
	}
	s.llmCheck = s.gemini
	slog.Info("Gemini service initialized", "model", cfg.AI.Model)

	s.objects, err = storage.New(ctx, storage.Config{
		Driver:    cfg.Storage.Driver,
		LocalDir:  cfg.Storage.LocalDir,
		Bucket:    cfg.Storage.S3Bucket,
		Endpoint:  cfg.Storage.S3Endpoint,
		Region:    cfg.Storage.S3Region,
		AccessKey: cfg.Storage.S3AccessKey,
		SecretKey: cfg.Storage.S3SecretKey,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize object storage: %w", err)
	}

	if cfg.Redis.Addr != "" {
		s.cache, err = cache.NewSummaryCache(ctx, cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.SummaryTTL,
		})
		if err != nil {
			slog.Warn("Redis unavailable, resume summaries are not cached", "error", err)
		} else {
			s.cacheCheck = s.cache
		}
	}

	if cfg.Queue.AMQPURL != "" {
		s.broker, err = queue.Dial(queue.Config{
			URL:         cfg.Queue.AMQPURL,
			ResumeQueue: cfg.Queue.ResumeQueue,
			Exchange:    cfg.Queue.EventsExchange,
		})
		if err != nil {
			slog.Warn("Message broker unavailable, resume summaries run inline", "error", err)
		}
	}

	s.buildHandlers()
	return nil
}

func (s *Server) buildHandlers() {
	cfg := s.config

	s.resumes = NewResumeService(s.repo, s.gemini, s.objects, cfg.Upload)
	if s.cache != nil {
		s.resumes.WithCache(s.cache)
	}

	reports := NewReportBuilder(s.repo, s.gemini)
	s.tracker = NewSessionTracker(s.repo, reports, cfg.Interview.IdleTimeout)
	questions := NewQuestionGenerator(s.gemini, s.resumes, cfg.Interview)
	evaluator := NewAnswerEvaluator(s.gemini)
	interviews := NewInterviewService(s.repo, questions, evaluator, s.tracker, reports).WithTranscriber(s.gemini)

	if s.broker != nil {
		s.resumes.WithJobs(s.broker)
		s.tracker.WithEvents(s.broker)
		interviews.WithEvents(s.broker)
		s.resumeWorker = NewResumeWorker(s.broker, s.resumes, 2)
	}

	s.hub = ws.NewHub()
	s.websocketHandler = NewWebSocketHandler(interviews, s.hub, cfg.WebSocket.AllowedOrigins, cfg.Interview.AnswerTimeLimit)

	s.authService = NewAuthService(s.repo, cfg.JWT.Secret, cfg.Server.IsProduction())
	s.authEndpoints = NewAuthEndpoints(s.authService)
	s.functionEndpoints = NewFunctionEndpoints(questions, evaluator)
	s.sessionEndpoints = NewSessionEndpoints(interviews).WithLive(s.websocketHandler.ServeLive)
	s.skillEndpoints = NewSkillEndpoints(s.repo)
	s.resumeEndpoints = NewResumeEndpoints(s.resumes, s.repo)
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)
	if s.config.Server.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rateLimit(s.config.RateLimit.Requests, s.config.RateLimit.Window))
		r.Get("/", s.apiV1Handler)

		if s.authEndpoints != nil {
			s.authEndpoints.RegisterRoutes(r)
		}
		if s.authService == nil {
			return
		}

		// every route that calls the model shares one budget
		modelLimit := rateLimit(s.config.RateLimit.AIRequests, s.config.RateLimit.Window)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)

			r.Group(func(r chi.Router) {
				r.Use(modelLimit)
				if s.functionEndpoints != nil {
					s.functionEndpoints.RegisterRoutes(r)
				}
			})
			if s.sessionEndpoints != nil {
				s.sessionEndpoints.WithModelLimit(modelLimit).RegisterRoutes(r)
			}
			if s.skillEndpoints != nil {
				s.skillEndpoints.RegisterRoutes(r)
			}
			if s.resumeEndpoints != nil {
				s.resumeEndpoints.RegisterRoutes(r)
			}
		})
	})

	return traceHandler(r, s.config.Telemetry.ServiceName)
}

// Start serves HTTP and runs the background loops until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return s.tracker.Run(gctx)
	})

	if s.resumeWorker != nil {
		g.Go(func() error {
			return s.resumeWorker.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server...")

		timeout := s.config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
		return nil
	})

	err := g.Wait()
	slog.Info("Server exited")
	return err
}

// RunWorker consumes resume summary jobs until ctx is cancelled.
func (s *Server) RunWorker(ctx context.Context) error {
	if s.resumeWorker == nil {
		return errors.New("resume worker needs AMQP_URL and a reachable broker")
	}
	return s.resumeWorker.Run(ctx)
}

// Close releases the connections opened by InitializeServices.
func (s *Server) Close() {
	if s.broker != nil {
		if err := s.broker.Close(); err != nil {
			slog.Warn("Failed to close message broker", "error", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			slog.Warn("Failed to close redis client", "error", err)
		}
	}
	if s.db != nil {
		s.db.Close()
	}
	if s.shutdownTracing != nil {
		if err := s.shutdownTracing(context.Background()); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}
}

// CheckOrigin validates the origin of WebSocket connections to prevent CSRF attacks
func CheckOrigin(r *http.Request, allowedOriginsStr string) bool {
	origin := r.Header.Get("Origin")

	if allowedOriginsStr == "" {
		slog.Warn("WebSocket connection rejected: no allowed origins configured", "origin", origin)
		return false
	}

	for _, allowed := range strings.Split(allowedOriginsStr, ",") {
		if strings.TrimSpace(allowed) == origin {
			slog.Debug("WebSocket origin accepted", "origin", origin)
			return true
		}
	}

	slog.Warn("WebSocket connection rejected: origin not allowed", "origin", origin, "allowed_origins", allowedOriginsStr)
	return false
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	LLM      string `json:"llm"`
	Cache    string `json:"cache"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:   "ok",
		Database: pingStatus(ctx, s.dbCheck),
		Cache:    pingStatus(ctx, s.cacheCheck),
		LLM:      "not configured",
	}
	if s.llmCheck != nil {
		resp.LLM = "up"
		if !s.llmCheck.Healthy() {
			resp.LLM = "down"
		}
	}
	if resp.Database == "down" || resp.Cache == "down" || resp.LLM == "down" {
		resp.Status = "degraded"
	}

	slog.Debug("Health check", "status", resp.Status, "database", resp.Database, "llm", resp.LLM, "cache", resp.Cache)
	writeJSON(w, http.StatusOK, resp)
}

func pingStatus(ctx context.Context, p pinger) string {
	if p == nil {
		return "not configured"
	}
	if err := p.Ping(ctx); err != nil {
		return "down"
	}
	return "up"
}

func (s *Server) apiV1Handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "API v1", "version": "1.0.0"})
}
