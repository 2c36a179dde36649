// Package server contains the HTTP and WebSocket handlers of the marketplace API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "marketplace/docs" // swagger docs
	"marketplace/internal/bootstrap"
	"marketplace/internal/cache"
	"marketplace/internal/config"
	"marketplace/internal/database"
	"marketplace/internal/featureflags"
	"marketplace/internal/imagestore"
	"marketplace/internal/middleware"
	"marketplace/internal/models"
	"marketplace/internal/notifications"
	"marketplace/internal/repository"
	"marketplace/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const serviceName = "marketplace-api"

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	logger         *slog.Logger
	auth           *middleware.AuthGateway
	images         *imagestore.Store
	postRepo       repository.PostRepository
	commentRepo    repository.CommentRepository
	eventLogRepo   repository.EventLogRepository
	notifier       *notifications.Notifier
	hub            *notifications.Hub
	featureFlags   *featureflags.Manager
	postStore      *service.PostStore
	commentStore   *service.CommentStore
	reconciler     *service.Reconciler
}

// NewServer connects to the database and redis, then builds the server.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// A nil client means redis is unreachable; caching and pub/sub degrade.
	cache.InitRedis(cfg.RedisURL)

	return NewServerWithDeps(cfg, db, cache.GetClient())
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	logger := middleware.Logger
	if logger == nil {
		logger = slog.Default()
	}

	images, err := imagestore.New(cfg.ImageStorageRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("image store: %w", err)
	}

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	server := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics(serviceName),
		logger:         logger,
		auth:           middleware.NewAuthGateway(cfg, redisClient),
		images:         images,
		postRepo:       repository.NewPostRepository(db, cacheTTL),
		commentRepo:    repository.NewCommentRepository(db),
		eventLogRepo:   repository.NewEventLogRepository(db),
		hub:            notifications.NewHub(),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
	}
	if redisClient != nil {
		server.notifier = notifications.NewNotifier(redisClient)
	}

	auditor := service.NewAuditor(server.eventLogRepo, logger)
	server.postStore = service.NewPostStore(server.postRepo, images, bootstrap.ImageLimits(cfg), logger).
		WithAudit(auditor).
		WithEvents(server)
	server.commentStore = service.NewCommentStore(server.commentRepo, server.postRepo, logger).
		WithAudit(auditor).
		WithEvents(server)
	server.reconciler = service.NewReconciler(server.postRepo, images, logger)

	return server, nil
}

// Reconciler exposes the sweep used by the background ticker.
func (s *Server) Reconciler() *service.Reconciler {
	return s.reconciler
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())

	// Propagates request and user ids into the request context for logging.
	app.Use(middleware.ContextMiddleware())
	app.Use(middleware.TracingMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Error: "Too many requests, please try again later.",
				Code:  "RATE_LIMITED",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "Marketplace Metrics Dashboard",
	}))
	api.Get("/swagger/*", swagger.HandlerDefault)
	api.Get("/feature-flags", s.GetFeatureFlags)

	requireCaller := s.auth.RequireCaller()

	posts := api.Group("/Post")
	posts.Get("/GetLatestPostsWithLimit", s.GetLatestPosts)
	posts.Get("/GetSinglePostInfo", s.GetSinglePost)
	posts.Post("/CreateNewPost", requireCaller, middleware.RateLimit(
		s.redis, 5, 5*time.Minute, "create_post"), s.CreatePost)
	posts.Put("/UpdatePost", requireCaller, middleware.RateLimit(
		s.redis, 20, time.Minute, "update_post"), s.UpdatePost)
	posts.Delete("/DeletePost", requireCaller, s.DeletePost)

	images := api.Group("/Image")
	images.Get("/GetSingleThumbNail", s.GetThumbnail)
	images.Get("/GetPhotoForPost", s.GetPhoto)

	comments := api.Group("/Comment")
	comments.Get("/GetPostsComments", s.GetComments)
	comments.Post("/CreateNewComment", requireCaller, middleware.RateLimit(
		s.redis, 10, time.Minute, "create_comment"), s.CreateComment)
	comments.Put("/UpdateComment", requireCaller, s.UpdateComment)
	comments.Delete("/DeleteComment", requireCaller, s.DeleteComment)

	ws := api.Group("/ws")
	ws.Post("/ticket", requireCaller, middleware.RateLimit(
		s.redis, 10, time.Minute, "ws_ticket"), s.IssueWSTicket)
	ws.Get("/feed", s.FeedUpgrade, s.auth.TicketRequired(), s.FeedHandler())
}

// Route is one documented method and path of the API.
type Route struct {
	Method string
	Path   string
}

// RouteTable lists the documented API routes, with paths relative to /api.
func RouteTable() []Route {
	cfg := &config.Config{}
	s := &Server{config: cfg, auth: middleware.NewAuthGateway(cfg, nil)}
	app := fiber.New()
	s.SetupRoutes(app)

	seen := make(map[Route]bool)
	var routes []Route
	for _, r := range app.GetRoutes(true) {
		switch r.Method {
		case fiber.MethodGet, fiber.MethodPost, fiber.MethodPut, fiber.MethodDelete:
		default:
			continue
		}
		if !strings.HasPrefix(r.Path, "/api/") || undocumented(r.Path) {
			continue
		}
		route := Route{Method: r.Method, Path: strings.TrimPrefix(r.Path, "/api")}
		if !seen[route] {
			seen[route] = true
			routes = append(routes, route)
		}
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})
	return routes
}

func undocumented(path string) bool {
	return strings.HasPrefix(path, "/api/swagger") || path == "/api/metrics/dashboard"
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional; an
// unreachable redis reports degraded but stays ready.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if s.db == nil {
		dbStatus = "unavailable"
	} else if err := database.Ping(ctx, s.db); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis == nil {
		redisStatus = "unavailable"
	} else if err := s.redis.Ping(ctx).Err(); err != nil {
		redisStatus = "unhealthy"
	}

	imagesStatus := "healthy"
	if s.images == nil {
		imagesStatus = "unavailable"
	} else if _, err := s.images.ListPostDirs(); err != nil {
		imagesStatus = "unhealthy"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	switch {
	case dbStatus != "healthy" || imagesStatus != "healthy":
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	case redisStatus != "healthy":
		overallStatus = "degraded"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
			"images":   imagesStatus,
		},
		"time": time.Now(),
	})
}

func (s *Server) newApp() *fiber.App {
	bodyLimit := s.config.MaxUploadSizeMB * 1024 * 1024
	if bodyLimit <= 0 {
		bodyLimit = fiber.DefaultBodyLimit
	}

	app := fiber.New(fiber.Config{
		AppName:   "Marketplace API",
		BodyLimit: bodyLimit,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			s.logger.ErrorContext(c.UserContext(), "unhandled request error",
				slog.String("path", c.Path()),
				slog.String("error", err.Error()),
			)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// Start wires the realtime feed and the background sweep, then listens.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	s.app = s.newApp()

	if s.notifier != nil {
		go func() {
			if err := s.hub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
				s.logger.Error("failed to start feed wiring",
					slog.String("hub", s.hub.Name()),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	if s.config.ReconcileIntervalMinutes > 0 {
		interval := time.Duration(s.config.ReconcileIntervalMinutes) * time.Minute
		opts := service.SweepOptions{RemoveOrphans: true, StaleAfter: service.DefaultStaleAfter}
		go s.reconciler.RunPeriodic(s.shutdownCtx, interval, opts, func() bool {
			return s.featureFlags.EnabledGlobally(featureflags.BackgroundReconcile)
		})
	}

	s.logger.Info("server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			s.logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if s.hub != nil {
		if err := s.hub.Shutdown(ctx); err != nil {
			s.logger.Error("error shutting down feed hub", slog.String("error", err.Error()))
		}
	}

	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			if cerr := sqlDB.Close(); cerr != nil {
				s.logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
			}
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			s.logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}
