package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/roadwatch/backend/internal/config"
	httpdelivery "github.com/roadwatch/backend/internal/delivery/http"
	"github.com/roadwatch/backend/internal/delivery/ws"
	"github.com/roadwatch/backend/internal/dispatch"
	"github.com/roadwatch/backend/internal/domain"
	"github.com/roadwatch/backend/internal/ingest"
	"github.com/roadwatch/backend/internal/provider"
	"github.com/roadwatch/backend/internal/registry"
	"github.com/roadwatch/backend/internal/repository/postgres"
	"github.com/roadwatch/backend/internal/resilience"
	"github.com/roadwatch/backend/internal/schedule"
)

const fetchTimeout = 10 * time.Second

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using system environment")
	}

	// Configuration: unrecoverable misconfiguration is the only fatal path
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	slog.SetDefault(log)

	// Database connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo domain.IncidentRepository
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Warn("could not connect to database, archiving in memory only", "error", err)
			repo = postgres.NewMockRepository()
		} else {
			defer pool.Close()
			log.Info("connected to PostgreSQL")
			repo = postgres.NewPostgresRepository(pool)
		}
	} else {
		log.Info("no DATABASE_URL, archiving in memory only")
		repo = postgres.NewMockRepository()
	}

	// Resilience layer: shared singletons with explicit lifecycle,
	// injected into the components that need them
	limiter := resilience.NewRateLimiter(map[resilience.RuleClass]resilience.RateRule{
		resilience.RuleGeneral: {Window: cfg.RateGeneral.Window, Max: cfg.RateGeneral.Max},
		resilience.RuleWrite:   {Window: cfg.RateWrite.Window, Max: cfg.RateWrite.Max},
		resilience.RuleBulk:    {Window: cfg.RateBulk.Window, Max: cfg.RateBulk.Max},
		resilience.RuleAuth:    {Window: cfg.RateAuth.Window, Max: cfg.RateAuth.Max},
	}, cfg.RateLogSample, log)
	notifyDedup := resilience.NewDedupCache(cfg.IngestInterval)
	contentDedup := resilience.NewDedupCache(cfg.DedupTTL)

	// Upstream sources: real providers when credentials exist,
	// synthetic feed otherwise (development only)
	sources, mock := buildSources(cfg, log)

	aggregator := ingest.New(ingest.Options{
		Sources:      sources,
		Regions:      domain.DefaultRegions,
		Repo:         repo,
		ContentDedup: contentDedup,
		Breaker: func(name string) *resilience.Guard {
			return resilience.NewGuard(name, cfg.BreakerThreshold, cfg.BreakerCooldown, log)
		},
		Logger: log,
		Mock:   mock,
	})

	reg := registry.New(cfg.UserConnCap, log)
	dispatcher := dispatch.New(cfg.GeofenceRadiusKM, notifyDedup, log)
	wsHandler := ws.NewHandler(reg, dispatcher, aggregator, limiter, log)
	aggregator.Subscribe(wsHandler.OnSnapshot)

	// Scheduler: one ticker loop drives every periodic job
	scheduler := schedule.New(log)
	mustAdd := func(name string, interval time.Duration, fn func(context.Context)) {
		if err := scheduler.Add(name, interval, fn); err != nil {
			log.Error("failed to register job", "job", name, "error", err)
			os.Exit(1)
		}
	}
	mustAdd("ingest", cfg.IngestInterval, aggregator.RunCycle)
	mustAdd("registry-sweep", cfg.SweepInterval, func(context.Context) {
		reg.SweepStale(cfg.StaleWindow)
	})
	mustAdd("ratelimit-prune", 5*time.Minute, func(context.Context) {
		limiter.Prune()
	})
	mustAdd("cache-warmup", cfg.DedupTTL, func(ctx context.Context) {
		aggregator.WarmDedup(ctx, cfg.DedupTTL)
	})

	// Seed dedup from the archive, then publish a first snapshot so
	// clients don't wait a full interval after startup
	aggregator.WarmDedup(ctx, cfg.DedupTTL)
	go aggregator.RunCycle(context.Background())
	scheduler.Start()

	// Fiber App
	app := fiber.New(fiber.Config{
		AppName:      "RoadWatch API v1.0",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorHandler: customErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Routes
	handler := httpdelivery.NewHandler(aggregator, reg, repo, scheduler)
	httpdelivery.SetupRoutes(app, handler, limiter)
	wsHandler.Register(app)

	// Graceful shutdown
	go func() {
		log.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Warn("server forced to shutdown", "error", err)
	}

	// Let in-flight jobs and background archive writes finish
	<-scheduler.Stop().Done()
	aggregator.WaitBackground()
	log.Info("server exited gracefully")
}

// buildSources picks real providers when credentials exist. Production
// without credentials never gets here; config.Load rejects it.
func buildSources(cfg *config.Config, log *slog.Logger) ([]provider.Source, bool) {
	var sources []provider.Source
	if cfg.TomTomAPIKey != "" {
		sources = append(sources, provider.NewTomTomClient(cfg.TomTomAPIKey, fetchTimeout))
	}
	if cfg.OpenWeatherAPIKey != "" {
		sources = append(sources, provider.NewOpenWeatherClient(cfg.OpenWeatherAPIKey, fetchTimeout))
	}
	if len(sources) == 0 {
		log.Warn("no provider credentials, running with synthetic traffic feed")
		return []provider.Source{provider.NewMockSource(time.Now().UnixNano())}, true
	}
	return sources, false
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelDebug
	if cfg.Production() {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
