package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"esachat/internal/config"
	"esachat/internal/handlers"
	"esachat/internal/jobs"
	"esachat/internal/kvstore"
	"esachat/internal/logging"
	"esachat/internal/middleware"
	"esachat/internal/preflight"
	"esachat/internal/services"
	"esachat/internal/wizard"
	"esachat/pkg/auth"
)

const agentTimeout = 60 * time.Second

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting ESA chat server...")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	log.Printf("📋 Configuration loaded (Port: %s, Environment: %s)", cfg.Port, cfg.Environment)

	// Session storage
	var store kvstore.Store
	if cfg.RedisURL != "" {
		redisStore, err := kvstore.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		store = redisStore
		log.Println("✅ Redis session store connected")
	} else {
		store = kvstore.NewMemoryStore()
		log.Println("⚠️  REDIS_URL not set, using in-process session store (development only)")
	}
	defer store.Close()

	if results := preflight.NewChecker(cfg, store).RunAll(context.Background()); preflight.HasFailures(results) {
		log.Fatal("❌ Pre-flight checks failed")
	}

	clock := clockwork.NewRealClock()
	metrics := services.InitMetrics()

	stateService := services.NewStateService(store, cfg.SessionTTL)
	sessionService := services.NewSessionService(store, clock, cfg.SessionTTL)

	agentClient := services.NewAgentClient(cfg.AgentBaseURL, cfg.AgentAPIKey, cfg.AgentID, agentTimeout)
	if cfg.AgentAPIKey == "" || cfg.AgentID == "" {
		log.Println("⚠️  API_KEY or AGENT_ID not set, free-text questions will get a fallback reply")
	}
	chatService := services.NewChatService(stateService, agentClient)

	syncModel := services.NewModelAPIClient(cfg.ModelAPIBaseURL, cfg.ModelSyncTimeout, cfg.ModelAPIInsecureTLS, metrics)
	asyncModel := services.NewModelAPIClient(cfg.ModelAPIBaseURL, cfg.ModelAsyncTimeout, cfg.ModelAPIInsecureTLS, metrics)
	if cfg.ModelAPIInsecureTLS {
		log.Println("⚠️  [MODEL-API] TLS certificate verification disabled")
	}

	engine, err := wizard.NewEngine(
		wizard.WithAreaFunc(services.PolygonArea),
		wizard.WithLogger(slog.With("component", "wizard")),
	)
	if err != nil {
		log.Fatalf("❌ Failed to load wizard catalog: %v", err)
	}

	// Notification channel
	var notifier services.Notifier
	emailService, err := services.NewEmailService(cfg.Brevo, metrics)
	switch {
	case err == nil:
		notifier = emailService
		log.Printf("✅ [EMAIL] Brevo notifications enabled (sender: %s)", cfg.Brevo.SenderEmail)
	case cfg.IsProduction():
		log.Fatalf("❌ Email notifications are required in production: %v", err)
	default:
		notifier = services.LogNotifier{}
		log.Printf("⚠️  [EMAIL] %v, notifications will only be logged", err)
	}

	// Deferred validation runs
	runner := jobs.NewRunner(asyncModel, sessionService, notifier, cfg.FrontendBaseURL,
		jobs.WithClock(clock),
		jobs.WithMetrics(metrics),
	)
	dispatcher, err := jobs.NewDispatcher(runner, cfg.MaxConcurrentJobs, cfg.JobStopTimeout)
	if err != nil {
		log.Fatalf("❌ Failed to start job dispatcher: %v", err)
	}
	metrics.RegisterInFlight(dispatcher.InFlight)

	// Recurring maintenance
	jobScheduler := jobs.NewJobScheduler(clock)
	cleanupJob, err := jobs.NewIndexCleanupJob(store, cfg.IndexCleanupCron, clock)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	jobScheduler.Register("session_index_cleanup", cleanupJob)
	jobScheduler.Start()

	// Identity provider
	authCtx, stopAuth := context.WithCancel(context.Background())
	defer stopAuth()
	var verifier middleware.Identifier
	if cfg.KeycloakJWKSURL != "" {
		v, err := auth.NewRemoteVerifier(authCtx, cfg.KeycloakJWKSURL, cfg.KeycloakIssuer, cfg.KeycloakAudience)
		if err != nil {
			log.Fatalf("❌ Failed to initialize token verification: %v", err)
		}
		verifier = v
		log.Printf("✅ [AUTH] Verifying tokens from %s", cfg.KeycloakJWKSURL)
	} else {
		log.Println("⚠️  [AUTH] KEYCLOAK_JWKS_URL not set, authentication bypassed (development mode)")
	}
	authn := middleware.NewAuthenticator(verifier, !cfg.IsProduction())

	app := fiber.New(fiber.Config{
		AppName:      "esachat",
		ReadTimeout:  cfg.ModelSyncTimeout + time.Minute,
		WriteTimeout: cfg.ModelSyncTimeout + time.Minute,
		IdleTimeout:  2 * time.Minute,
		BodyLimit:    16 * 1024 * 1024, // polygons and session uploads
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("esachat")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: cfg.AllowedOrigins != "*",
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", cfg.AllowedOrigins)

	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Chat=%d/min, Sessions=%d/min",
		rateLimitConfig.GlobalAPIMax, rateLimitConfig.ChatMax, rateLimitConfig.SessionsMax)

	healthHandler := handlers.NewHealthHandler(store, dispatcher.InFlight, jobScheduler)
	chatHandler := handlers.NewChatHandler(stateService, engine, chatService, syncModel, dispatcher, sessionService, metrics, cfg.FrontendBaseURL)
	sessionsHandler := handlers.NewSessionsHandler(sessionService)

	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))
	api.Post("/chat", authn.OptionalAuth(), middleware.ChatRateLimiter(rateLimitConfig), chatHandler.Chat)
	api.Post("/clear-session", chatHandler.ClearSession)

	sessions := api.Group("/sessions", authn.RequireAuth(), middleware.SessionsRateLimiter(rateLimitConfig))
	sessions.Get("/", sessionsHandler.List)
	sessions.Post("/", sessionsHandler.Upsert)
	sessions.Get("/:id", sessionsHandler.Get)
	sessions.Delete("/:id", sessionsHandler.Delete)
	sessions.Patch("/:id/title", sessionsHandler.Rename)
	sessions.Post("/:id/seed", sessionsHandler.Seed)

	api.Get("/secure/ping", authn.RequireAuth(), handlers.SecurePing)
	api.Get("/secure/whoami", authn.RequireAuth(), handlers.WhoAmI)
	api.Get("/admin/only", authn.RequireAuth(), middleware.RequireRole(cfg.AdminRole), handlers.AdminOnly)

	log.Printf("✅ Server ready on port %s", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("🕐 Background jobs: session index cleanup (%s)", cfg.IndexCleanupCron)

	// Handle graceful shutdown
	drained := make(chan struct{})
	go func() {
		defer close(drained)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		// Stop accepting requests first so no new runs are queued
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}

		jobScheduler.Stop()

		// In-flight runs record an interruption message before returning
		if err := dispatcher.Stop(); err != nil {
			log.Printf("⚠️ Error stopping job dispatcher: %v", err)
		}
		stopAuth()
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
	<-drained
	log.Println("✅ Shutdown complete")
}
