package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicq/clinicq/internal/config"
	"github.com/clinicq/clinicq/internal/domain/queue"
	"github.com/clinicq/clinicq/internal/domain/ticket"
	"github.com/clinicq/clinicq/internal/platform/db"
	"github.com/clinicq/clinicq/internal/platform/middleware"
	"github.com/clinicq/clinicq/internal/platform/notification"
	"github.com/clinicq/clinicq/internal/platform/webhook"
	"github.com/clinicq/clinicq/internal/platform/websocket"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinicq-server",
		Short: "Clinic patient-queue coordination server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the queue API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}
	cmd.PersistentFlags().String("dir", "./migrations", "path to the migrations directory")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				ran, err := db.NewMigrator(pool, dir).Up(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("applied %d migration(s)\n", ran)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show which migrations have been applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, dir).Status(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tSTATE\tAPPLIED AT")
				for _, s := range statuses {
					state, appliedAt := "pending", ""
					if s.Applied {
						state = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format(time.DateTime)
						}
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, s.Name, state, appliedAt)
				}
				return w.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("down migrations are not supported; ship a forward migration that reverses the change")
		},
	})

	return cmd
}

// withPool loads the configuration, opens a connection pool, and hands it
// to fn, closing the pool afterwards.
func withPool(fn func(context.Context, *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pool)
}

// resolveRateLimit builds the token-bucket configuration from the loaded
// config, falling back to the package defaults when the configured rate is
// zero or negative.
func resolveRateLimit(rps float64, burst int) middleware.RateLimitConfig {
	cfg := middleware.RateLimitConfig{
		RequestsPerSecond: rps,
		BurstSize:         burst,
	}
	if cfg.RequestsPerSecond <= 0 {
		return middleware.DefaultRateLimitConfig()
	}
	return cfg
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Ledger pool
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", "X-Request-ID", "X-Client-ID", "If-None-Match"},
	}))
	e.Use(echomw.SecureWithConfig(echomw.SecureConfig{
		XSSProtection:         "0",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
	}))
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout()))

	// API group
	apiV1 := e.Group("/api/v1")

	// Rate limiting
	apiV1.Use(middleware.RateLimit(resolveRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)))

	// Conditional requests: waiting-room displays poll the queue list, a
	// matching If-None-Match turns those polls into 304s.
	apiV1.Use(middleware.ETag(middleware.DefaultETagConfig()))

	// Liveness endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// WebSocket hub: queue and ticket events fan out to subscribed clients.
	hub := websocket.NewHub()
	wsHandler := websocket.NewWebSocketHandler(hub)
	e.GET("/ws", wsHandler.HandleConnect)

	// Webhook dispatcher: registered hospital systems receive the same
	// events as signed HTTP POSTs.
	webhookStore := webhook.NewMemoryStore()
	webhookManager := webhook.NewManager(webhookStore, webhook.WithLogger(logger))
	webhookPub := webhook.NewPublisher(webhookManager)

	pub := websocket.MultiPublisher{hub, webhookPub}

	// Notifications. Senders only log until real SMS/email providers are
	// configured; SMS_ENABLED gates whether ticket issuance notifies at all.
	templates := notification.NewTemplateEngine()
	notifyMgr := notification.NewNotificationManager(
		notification.NewLogEmailSender(logger),
		notification.NewLogSMSSender(logger),
		templates,
	)

	// Queue domain
	entryRepo := queue.NewEntryRepoPG(pool)
	futureRepo := queue.NewFutureAppointmentRepoPG(pool)
	queueSvc := queue.NewService(entryRepo, futureRepo)
	queueSvc.SetPublisher(pub)
	queueHandler := queue.NewHandler(queueSvc)
	queueHandler.RegisterRoutes(apiV1)

	// Ticket domain
	ticketRepo := ticket.NewTicketRepoPG(pool)
	ticketSvc := ticket.NewService(ticketRepo)
	ticketSvc.SetPublisher(pub)
	if cfg.SMSEnabled {
		ticketSvc.SetNotifier(notifyMgr)
	}
	ticketHandler := ticket.NewHandler(ticketSvc)
	ticketHandler.RegisterRoutes(apiV1)

	// Webhook management API. Callers are hospital systems identified by
	// X-Client-ID, so per-client plan quotas apply here.
	clientLimiter := middleware.NewClientRateLimiter()
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go clientLimiter.StartSweeper(sweepCtx, 15*time.Minute)
	webhookGroup := apiV1.Group("/webhooks")
	webhookGroup.Use(middleware.ClientRateLimitMiddleware(clientLimiter))
	webhookHandler := webhook.NewHandler(webhookManager)
	webhookHandler.RegisterRoutes(webhookGroup)

	// Notification API
	notifyHandler := notification.NewNotificationHandler(notifyMgr)
	notifyHandler.RegisterRoutes(apiV1)

	// Admin API for rate plans and per-client usage
	adminGroup := apiV1.Group("/admin")
	rateLimitHandler := middleware.NewRateLimitHandler(clientLimiter)
	rateLimitHandler.RegisterRoutes(adminGroup)

	logger.Info().Bool("sms_enabled", cfg.SMSEnabled).Msg("event publishers wired")

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
