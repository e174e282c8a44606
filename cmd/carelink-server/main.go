package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/carelink/carelink/internal/config"
	"github.com/carelink/carelink/internal/domain/chat"
	"github.com/carelink/carelink/internal/domain/identity"
	"github.com/carelink/carelink/internal/domain/notify"
	"github.com/carelink/carelink/internal/domain/scheduling"
	"github.com/carelink/carelink/internal/domain/symptom"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/blobstore"
	"github.com/carelink/carelink/internal/platform/db"
	"github.com/carelink/carelink/internal/platform/metrics"
	"github.com/carelink/carelink/internal/platform/middleware"
	"github.com/carelink/carelink/internal/platform/notification"
	"github.com/carelink/carelink/internal/platform/realtime"
	"github.com/carelink/carelink/internal/platform/websocket"
)

const (
	defaultBodyLimit = 1 << 20
	shutdownTimeout  = 10 * time.Second
	redisPrefix      = "carelink"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "carelink-server",
		Short: "CareLink messaging and appointments API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(unreadCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir := migrationsDir(cmd, cfg)

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) from %s.\n", count, dir)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsDir(cmd, cfg)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationsDir(cmd *cobra.Command, cfg *config.Config) string {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir
	}
	return cfg.MigrationsDir
}

func unreadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unread",
		Short: "Maintain unread counters",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reconcile",
		Short: "Recompute every unread counter from message read flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := chat.NewService(db.NewTransactor(pool),
				chat.NewThreadRepoPG(pool), chat.NewMessageRepoPG(pool), chat.NewUnreadRepoPG(pool), nil)
			svc.SetLogger(newLogger(cfg.Env))

			fixed, err := svc.Reconcile(ctx)
			if err != nil {
				return fmt.Errorf("reconcile failed: %w", err)
			}
			fmt.Printf("Repaired %d unread counter(s).\n", fixed)
			return nil
		},
	})
	return cmd
}

// newBroker connects to Redis when REDIS_URL is set so events reach every
// instance; otherwise events stay in process.
func newBroker(ctx context.Context, cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics) (realtime.Broker, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info().Str("instance", cfg.InstanceID).Msg("using in-process event broker")
		return realtime.NewLocalBroker(cfg.InstanceID, m), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}

	b, err := realtime.NewRedisBroker(ctx, client, redisPrefix, cfg.InstanceID, logger, m)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info().Str("instance", cfg.InstanceID).Msg("using redis event broker")
	return b, func() {
		_ = b.Close()
		_ = client.Close()
	}, nil
}

// newMediaStore returns the configured media backend. The in-memory store is
// served back through GET /api/v1/media/*.
func newMediaStore(ctx context.Context, cfg *config.Config) (blobstore.Store, bool, error) {
	if cfg.MediaStore == "s3" {
		client, err := blobstore.NewS3Client(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, false, err
		}
		return blobstore.NewS3Store(client, cfg.MediaBucket, cfg.AWSRegion, "", cfg.MediaMaxBytes), false, nil
	}
	return blobstore.NewInMemoryStore("/api/v1/media", cfg.MediaMaxBytes), true, nil
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	switch cfg.AuthMode() {
	case "external":
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		})
	case "hmac":
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		})
	default:
		return auth.DevAuthMiddleware(auth.AuthSkipper)
	}
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	apptLoc, err := cfg.AppointmentLocation()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Event broker
	broker, closeBroker, err := newBroker(ctx, cfg, logger, m)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start event broker")
		return err
	}
	defer closeBroker()

	// Media
	media, serveMedia, err := newMediaStore(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to configure media store")
		return err
	}
	logger.Info().Str("store", cfg.MediaStore).Msg("media store ready")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(defaultBodyLimit, cfg.MediaMaxBytes+defaultBodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-User-ID"},
	}))

	// Auth middleware
	logger.Info().Str("mode", cfg.AuthMode()).Msg("authentication configured")
	e.Use(authMiddleware(cfg))

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":   "ok",
			"instance": cfg.InstanceID,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	// API group
	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	tx := db.NewTransactor(pool)

	// Accounts
	identitySvc := identity.NewService(identity.NewProfileRepoPG(pool))
	identity.NewHandler(identitySvc).RegisterRoutes(apiV1)

	// Chat
	chatSvc := chat.NewService(tx,
		chat.NewThreadRepoPG(pool), chat.NewMessageRepoPG(pool), chat.NewUnreadRepoPG(pool), broker)
	chatSvc.SetMediaStore(media)
	chatSvc.SetLogger(logger.With().Str("component", "chat").Logger())
	chatSvc.SetMetrics(m)
	chat.NewHandler(chatSvc).RegisterRoutes(apiV1)
	if serveMedia {
		blobstore.NewHandler(media).RegisterRoutes(apiV1)
	}

	// Appointments
	schedSvc := scheduling.NewService(tx, scheduling.NewAppointmentRepoPG(pool), identitySvc, chatSvc, broker)
	schedSvc.SetLocation(apptLoc)
	schedSvc.SetLogger(logger.With().Str("component", "scheduling").Logger())
	schedSvc.SetMetrics(m)
	scheduling.NewHandler(schedSvc).RegisterRoutes(apiV1)

	// Symptom checker
	catalog, err := symptom.DefaultCatalog()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load symptom catalog")
		return err
	}
	symptomSvc := symptom.NewService(catalog, symptom.NewQueryRepoPG(pool), logger.With().Str("component", "symptom").Logger())
	symptom.NewHandler(symptomSvc).RegisterRoutes(apiV1)

	// Notifications
	notifyLogger := logger.With().Str("component", "notifications").Logger()
	notifyMgr := notification.NewManager(
		notification.NewPGStore(pool),
		notification.MultiDeliverer{
			notification.NewBrokerDeliverer(broker),
			notification.NewLogDeliverer(notifyLogger),
		},
		notification.NewTemplateEngine(),
	)
	notification.NewHandler(notifyMgr).RegisterRoutes(apiV1)
	dispatcher := notify.NewDispatcher(broker, notifyMgr, notify.DefaultQueueSize, notifyLogger, m)

	// Realtime push
	hub := websocket.NewHub(websocket.NewParticipantAuthorizer(chatSvc), logger, m)
	cancelRelay := hub.Attach(broker)
	defer cancelRelay()
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return dispatcher.Start(gctx)
	})

	g.Go(func() error {
		return chatSvc.RunReconciler(gctx, cfg.UnreadReconcileInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
