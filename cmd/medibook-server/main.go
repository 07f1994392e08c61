package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medibook/medibook/internal/config"
	"github.com/medibook/medibook/internal/domain/billing"
	"github.com/medibook/medibook/internal/domain/catalog"
	"github.com/medibook/medibook/internal/domain/documents"
	"github.com/medibook/medibook/internal/domain/identity"
	"github.com/medibook/medibook/internal/domain/scheduling"
	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/blobstore"
	"github.com/medibook/medibook/internal/platform/db"
	"github.com/medibook/medibook/internal/platform/middleware"
	"github.com/medibook/medibook/internal/platform/notification"
	"github.com/medibook/medibook/internal/platform/paygateway"
	"github.com/medibook/medibook/internal/platform/redisstore"
	"github.com/medibook/medibook/internal/platform/reporting"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medibook-server",
		Short: "Clinic appointment booking and payments API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(remindCmd())
	rootCmd.AddCommand(workerCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
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

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

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

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

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

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
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
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func remindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Send reminders for confirmed appointments on a date (default: tomorrow)",
		RunE: func(cmd *cobra.Command, args []string) error {
			flag, _ := cmd.Flags().GetString("date")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)
			date, err := reminderDate(time.Now(), cfg.Location(), flag)
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			dispatcher, closeTransport, err := newDispatcher(cfg, logger)
			if err != nil {
				return err
			}
			defer closeTransport()

			svc := scheduling.NewService(scheduling.Deps{
				Appointments: scheduling.NewAppointmentRepoPG(pool),
				Availability: scheduling.NewAvailabilityRepoPG(pool),
				Notifier:     dispatcher,
				Logger:       logger,
				Location:     cfg.Location(),
			})
			n, err := svc.SendReminders(ctx, date)
			dispatcher.Wait()
			if err != nil {
				return err
			}
			logger.Info().Str("date", date).Int("sent", n).Msg("reminders dispatched")
			return nil
		},
	}
	cmd.Flags().String("date", "", "Appointment date (YYYY-MM-DD)")
	return cmd
}

// reminderDate returns flag when set, else tomorrow in loc.
func reminderDate(now time.Time, loc *time.Location, flag string) (string, error) {
	if flag != "" {
		if _, err := time.Parse(scheduling.DateLayout, flag); err != nil {
			return "", fmt.Errorf("--date must be YYYY-MM-DD, got %q", flag)
		}
		return flag, nil
	}
	return now.In(loc).AddDate(0, 0, 1).Format(scheduling.DateLayout), nil
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Deliver queued notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)
			if cfg.AMQPURL == "" {
				return fmt.Errorf("AMQP_URL is required for the worker")
			}

			conn, err := amqp.Dial(cfg.AMQPURL)
			if err != nil {
				return fmt.Errorf("connect to broker: %w", err)
			}
			defer conn.Close()
			ch, err := conn.Channel()
			if err != nil {
				return fmt.Errorf("open channel: %w", err)
			}
			defer ch.Close()
			if err := notification.DeclareQueue(ch, cfg.NotifyQueue); err != nil {
				return err
			}
			if err := ch.Qos(1, 0, false); err != nil {
				return fmt.Errorf("set qos: %w", err)
			}
			deliveries, err := ch.Consume(cfg.NotifyQueue, "medibook-worker", false, false, false, false, nil)
			if err != nil {
				return fmt.Errorf("consume %s: %w", cfg.NotifyQueue, err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			consumer := notification.NewConsumer(newSender(cfg, logger), 3, 10*time.Second, logger)
			logger.Info().Str("queue", cfg.NotifyQueue).Msg("notification worker started")
			if err := consumer.Run(ctx, deliveries); err != nil && ctx.Err() == nil {
				return err
			}
			logger.Info().Msg("notification worker stopped")
			return nil
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newSender returns the Twilio sender when credentials are configured and
// a logging stand-in otherwise.
func newSender(cfg *config.Config, logger zerolog.Logger) notification.Sender {
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" {
		logger.Warn().Msg("twilio credentials missing, notifications will only be logged")
		return notification.LogSender{Logger: logger}
	}
	return notification.NewTwilioSender(notification.TwilioConfig{
		AccountSID:   cfg.TwilioAccountSID,
		AuthToken:    cfg.TwilioAuthToken,
		FromNumber:   cfg.TwilioFromNumber,
		WhatsAppFrom: cfg.TwilioWhatsAppFrom,
	})
}

// newDispatcher publishes to the broker when AMQP_URL is set and sends
// directly otherwise. The returned func closes the broker connection.
func newDispatcher(cfg *config.Config, logger zerolog.Logger) (*notification.Dispatcher, func(), error) {
	if cfg.AMQPURL == "" {
		transport := notification.NewDirectTransport(newSender(cfg, logger), 3, 10*time.Second)
		d := notification.NewDispatcher(transport, notification.ChannelWhatsApp, logger)
		d.Async = true
		return d, func() {}, nil
	}

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := notification.DeclareQueue(ch, cfg.NotifyQueue); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}
	d := notification.NewDispatcher(notification.NewQueueTransport(ch, cfg.NotifyQueue), notification.ChannelWhatsApp, logger)
	d.Async = true
	return d, func() {
		ch.Close()
		conn.Close()
	}, nil
}

func newObjectStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (blobstore.ObjectStore, error) {
	if cfg.MinioEndpoint == "" {
		logger.Warn().Msg("MINIO_ENDPOINT not set, prescriptions are kept in memory")
		return blobstore.NewMemoryStore(), nil
	}
	return blobstore.NewMinioStore(ctx, blobstore.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
}

// dashboardHandler answers for dashboard pages that passed the gate. The
// pages themselves are rendered by the frontend.
func dashboardHandler(c echo.Context) error {
	caller, ok := auth.CallerFromContext(c.Request().Context())
	if !ok {
		return c.Redirect(http.StatusFound, "/login")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"path": c.Request().URL.Path,
		"role": caller.Role,
		"home": caller.Role.Home(),
	})
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Redis is optional: without it order creation relies on the database
	// index and rate limiting is per instance.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = redisstore.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		logger.Info().Msg("connected to redis")
	}

	dispatcher, closeTransport, err := newDispatcher(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up notifications")
	}
	defer closeTransport()

	objects, err := newObjectStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up object storage")
	}

	e, err := newServer(ctx, cfg, logger, pool, rdb, dispatcher, objects)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
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
	dispatcher.Wait()
	logger.Info().Msg("server stopped")
	return nil
}

// redisWindow sizes the shared fixed-window counter so that it admits the
// same sustained rate as the in-process token bucket. The window spans at
// least one burst and is a whole number of seconds.
func redisWindow(rps float64, burst int) (int, time.Duration) {
	if rps <= 0 {
		return max(burst, 1), time.Second
	}
	secs := math.Max(1, math.Ceil(float64(burst)/rps))
	limit := int(math.Floor(rps * secs))
	return max(limit, 1), time.Duration(secs) * time.Second
}

func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, rdb *redis.Client,
	notifier notification.Notifier, objects blobstore.ObjectStore) (*echo.Echo, error) {
	// Repositories and services
	locations, err := catalog.NewCatalog(ctx, catalog.NewLocationRepoPG(pool))
	if err != nil {
		return nil, fmt.Errorf("load locations: %w", err)
	}
	logger.Info().Int("locations", locations.Len()).Msg("location catalog loaded")
	services := catalog.NewServiceCatalog(catalog.NewServiceRepoPG(pool))

	identitySvc := identity.NewService(identity.NewUserRepoPG(pool), identity.NewDoctorRepoPG(pool))

	appts := scheduling.NewAppointmentRepoPG(pool)
	schedulingSvc := scheduling.NewService(scheduling.Deps{
		Appointments: appts,
		Availability: scheduling.NewAvailabilityRepoPG(pool),
		Locations:    locations,
		Services:     services,
		Notifier:     notifier,
		Logger:       logger,
		Location:     cfg.Location(),
	})

	var locker billing.Locker
	var limitStore middleware.LimitStore
	if rdb != nil {
		locker = redisstore.NewLocker(rdb, "medibook:lock:")
		limit, window := redisWindow(cfg.RateLimitRPS, cfg.RateLimitBurst)
		limitStore = redisstore.NewRateLimitStore(rdb, limit, window)
	}
	billingSvc := billing.NewService(billing.Deps{
		Payments:     billing.NewPaymentRepoPG(pool),
		Appointments: appts,
		Tx:           db.NewTxRunner(pool),
		Gateway: paygateway.NewRazorpay(paygateway.Config{
			KeyID:      cfg.RazorpayKeyID,
			KeySecret:  cfg.RazorpayKeySecret,
			Timeout:    cfg.GatewayTimeout(),
			MaxRetries: cfg.GatewayMaxRetries,
		}, logger),
		Locker:   locker,
		Notifier: schedulingSvc,
		Secret:   cfg.RazorpayKeySecret,
		Logger:   logger,
	})

	documentsSvc := documents.NewService(documents.NewPrescriptionRepoPG(pool), schedulingSvc, objects, schedulingSvc, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))
	e.Use(echomw.BodyLimit("12M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout()))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		Store:             limitStore,
		Logger:            logger,
	}))

	// Auth middleware: anonymous requests pass, handlers and guards decide.
	e.Use(auth.JWTMiddleware(auth.JWTConfig{
		Secret:   []byte(cfg.AuthJWTSecret),
		Cookie:   cfg.AuthCookie,
		Optional: true,
		Skipper:  auth.AuthSkipper,
	}))
	e.Use(auth.RoleResolver(identitySvc, logger))

	// Health
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Sign-in callback
	if cfg.AuthURL != "" && cfg.AuthAnonKey != "" {
		exchanger, err := auth.NewSupabaseExchanger(cfg.AuthURL, cfg.AuthAnonKey)
		if err != nil {
			return nil, err
		}
		auth.NewCallbackHandler(exchanger, auth.CallbackConfig{
			AppURL:         cfg.AppURL,
			Cookie:         cfg.AuthCookie,
			VerifierCookie: "sb-code-verifier",
			Secure:         !cfg.IsDev(),
		}, logger).RegisterRoutes(e)
	} else {
		logger.Warn().Msg("AUTH_URL or AUTH_ANON_KEY not set, /auth/callback disabled")
	}

	// Dashboard pages
	dash := e.Group("/dashboard", auth.DashboardGate("/login"))
	dash.GET("", dashboardHandler)
	dash.GET("/*", dashboardHandler)

	// API
	apiV1 := e.Group("/api/v1")
	catalog.NewHandler(locations, services).RegisterRoutes(apiV1)
	identity.NewHandler(identitySvc).RegisterRoutes(apiV1)
	scheduling.NewHandler(schedulingSvc).RegisterRoutes(apiV1)
	billing.NewHandler(billingSvc).RegisterRoutes(apiV1)
	documents.NewHandler(documentsSvc).RegisterRoutes(apiV1)
	reporting.NewHandler(reporting.NewPoolRunner(pool), logger).RegisterRoutes(apiV1)

	return e, nil
}
