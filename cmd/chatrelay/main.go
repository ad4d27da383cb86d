package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/chatrelay/chatrelay/internal/archive"
	"github.com/chatrelay/chatrelay/internal/audit"
	"github.com/chatrelay/chatrelay/internal/autoresponder"
	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/directory"
	"github.com/chatrelay/chatrelay/internal/dispatch"
	"github.com/chatrelay/chatrelay/internal/handlers"
	"github.com/chatrelay/chatrelay/internal/ledger"
	"github.com/chatrelay/chatrelay/internal/logging"
	"github.com/chatrelay/chatrelay/internal/media"
	"github.com/chatrelay/chatrelay/internal/normalizer"
	"github.com/chatrelay/chatrelay/internal/notification"
	"github.com/chatrelay/chatrelay/internal/partition"
	"github.com/chatrelay/chatrelay/internal/platform"
	"github.com/chatrelay/chatrelay/internal/ratelimit"
	"github.com/chatrelay/chatrelay/internal/repository"
	"github.com/chatrelay/chatrelay/internal/server"
	"github.com/chatrelay/chatrelay/internal/service"
	"github.com/chatrelay/chatrelay/internal/serviceauth"
	"github.com/chatrelay/chatrelay/internal/store"
	"github.com/chatrelay/chatrelay/pkg/webhook"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("chatrelay"))
	logging.SetDefault(logger)

	slog.Info("Starting chatrelay service",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("log_format", cfg.Logging.Format),
	)
	if cfg.Webhook.SkipVerification {
		slog.Warn("SIGNATURE VERIFICATION IS DISABLED - development mode only")
	}

	// Run database migrations
	log.Println("Running database migrations...")
	m, err := migrate.New("file://"+cfg.Database.MigrationsDir, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	// Initialize repository
	repo, err := repository.NewPostgresRepository(context.Background(), cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer repo.Close()

	partitions := partition.NewManager(repo.Pool())
	eventLedger := ledger.New(repo, partitions)

	// Redis-backed components: dispatch guard and rate limiter
	var (
		guard       dispatch.Guard        = dispatch.NewMemoryGuard(cfg.Redis.GuardTTL)
		rateLimiter ratelimit.RateLimiter = &ratelimit.NoOpRateLimiter{}
	)
	if cfg.Redis.Enabled {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid redis URL: %v", err)
		}
		redisClient := redis.NewClient(opt)
		defer redisClient.Close()

		guard = dispatch.NewRedisGuard(redisClient, cfg.Redis.GuardTTL)
		if cfg.RateLimit.Enabled {
			rateLimiter = ratelimit.NewRedisRateLimiter(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window)
		}
	} else {
		log.Println("Redis disabled - using in-process dispatch guard, rate limiting unavailable")
	}
	defer rateLimiter.Close()

	// Platform client, media cache, normalizer
	platformClient := platform.New(cfg.Platform.AccessToken, cfg.Platform.Timeout,
		platform.WithBaseURLs(cfg.Platform.APIBase, cfg.Platform.ContentBase))

	objectStore, err := media.NewObjectStore(cfg.Media.CacheDir, cfg.Media.PublicBaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize media store: %v", err)
	}
	mediaCache := media.NewCache(platformClient, objectStore)
	contentNormalizer := normalizer.New(mediaCache)

	// Optional OpenSearch forensic archive
	var recordArchive store.Archiver
	if cfg.Archive.Enabled {
		arch, err := archive.NewArchiver(archive.Config{
			URL:         cfg.Archive.URL,
			Username:    cfg.Archive.Username,
			Password:    cfg.Archive.Password,
			Insecure:    cfg.Archive.TLSSkipVerify,
			IndexPrefix: cfg.Archive.IndexPrefix,
		}, logger)
		if err != nil {
			log.Printf("WARNING: archive unavailable, continuing without it: %v", err)
		} else {
			recordArchive = arch
			log.Printf("Forensic archive enabled: %s", cfg.Archive.URL)
		}
	}

	messageStore := store.New(eventLedger, partitions, repo, contentNormalizer, recordArchive, cfg.Webhook.MaxTextLength, logger)

	// Collaborator clients
	var minter *serviceauth.Minter
	if cfg.ServiceAuth.Secret != "" {
		minter = serviceauth.NewMinter(cfg.ServiceAuth.Secret, "chatrelay", cfg.ServiceAuth.TTL)
	}
	dirClient := directory.NewClient(cfg.Directory.URL, cfg.Directory.Timeout, minter)

	var responder autoresponder.Responder
	if cfg.AutoResponder.Enabled {
		responder = autoresponder.NewClient(cfg.AutoResponder.URL, cfg.AutoResponder.Timeout, minter)
	}

	// Notification channels
	var channels []notification.Channel
	if cfg.Notification.WebhookURL != "" {
		channels = append(channels, notification.NewWebhookChannel(cfg.Notification.WebhookURL, cfg.Notification.Timeout))
	}
	if cfg.Notification.NATSURL != "" {
		conn, err := nats.Connect(cfg.Notification.NATSURL,
			nats.Name("chatrelay"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			log.Printf("WARNING: NATS unavailable, notification channel disabled: %v", err)
		} else {
			defer conn.Close()
			channels = append(channels, notification.NewNATSChannel(conn, cfg.Notification.NATSSubject))
		}
	}
	dispatcher := notification.NewDispatcher(channels, cfg.Notification.Timeout, logger)

	// Event router and HTTP surface
	webhookService := service.New(
		messageStore,
		dirClient,
		responder,
		guard,
		asyncNotifier{dispatcher},
		platformClient,
		platformClient,
		logger,
		service.WithConsoleBaseURL(cfg.Notification.ConsoleBaseURL),
	)

	recorder := audit.NewRecorder(repo, logger)
	verifier := webhook.NewVerifier(cfg.Webhook.ChannelSecret, cfg.Webhook.SkipVerification, recorder)

	handler := handlers.NewWebhookHandler(verifier, webhookService, rateLimiter, cfg.RateLimit.Enforce, repo, logger)
	router := server.NewRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("chatrelay listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// asyncNotifier makes dispatcher fan-out fire-and-forget from the router's
// point of view.
type asyncNotifier struct {
	dispatcher *notification.Dispatcher
}

func (a asyncNotifier) Notify(n *notification.Notice) {
	go a.dispatcher.Notify(n)
}
