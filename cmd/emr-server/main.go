package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/neuronova/emr/internal/config"
	"github.com/neuronova/emr/internal/domain/careteam"
	"github.com/neuronova/emr/internal/domain/diagnosis"
	"github.com/neuronova/emr/internal/domain/encounter"
	"github.com/neuronova/emr/internal/domain/identity"
	"github.com/neuronova/emr/internal/domain/medication"
	"github.com/neuronova/emr/internal/domain/scheduling"
	"github.com/neuronova/emr/internal/platform/auth"
	"github.com/neuronova/emr/internal/platform/db"
	"github.com/neuronova/emr/internal/platform/hipaa"
	"github.com/neuronova/emr/internal/platform/inference"
	"github.com/neuronova/emr/internal/platform/middleware"
	"github.com/neuronova/emr/internal/platform/notification"
	"github.com/neuronova/emr/internal/platform/telemetry"
	"github.com/neuronova/emr/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "emr-server",
		Short: "NeuroNova EMR API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(authCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the EMR API server",
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
			dir, _ := cmd.Flags().GetString("dir")
			target, _ := cmd.Flags().GetInt("to")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationsDir(cfg, dir))
			var count int
			if target > 0 {
				count, err = migrator.UpTo(ctx, target)
			} else {
				count, err = migrator.Up(ctx)
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	upCmd.Flags().Int("to", 0, "Apply migrations up to and including this version")
	cmd.AddCommand(upCmd)

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
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsDir(cfg, dir)).Status(ctx)
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
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication state",
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke-user",
		Short: "Invalidate every token issued to an account so far",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("user")
			userID, err := parseUserID(raw)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.RedisURL == "" {
				return fmt.Errorf("REDIS_URL is required: in-memory revocations are not shared with running servers")
			}
			ctx := context.Background()
			client, err := newRedisClient(ctx, cfg.RedisURL)
			if err != nil {
				return err
			}
			defer client.Close()

			store := auth.NewRedisRevocationStore(client, "")
			if err := store.RevokeAllForUser(ctx, userID.String(), time.Now(), cfg.TokenLifetime); err != nil {
				return err
			}
			fmt.Printf("Revoked all tokens for user %s.\n", userID)
			return nil
		},
	}
	revokeCmd.Flags().String("user", "", "Account id (uuid) whose tokens are revoked")
	cmd.AddCommand(revokeCmd)

	return cmd
}

func parseUserID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, fmt.Errorf("--user is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("--user must be a non-nil uuid, got %q", raw)
	}
	return id, nil
}

func migrationsDir(cfg *config.Config, flag string) string {
	if flag != "" {
		return flag
	}
	return cfg.MigrationsDir
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Hour,
	})
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newRedisClient connects to Redis and verifies the connection.
func newRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// app holds the wired server dependencies.
type app struct {
	cfg         *config.Config
	logger      zerolog.Logger
	pool        *pgxpool.Pool
	redis       *redis.Client // nil when REDIS_URL is unset
	revocations auth.RevocationStore
	accessLog   hipaa.AccessStore
	predictor   inference.Predictor
	push        *websocket.Hub
}

// limiter shares budgets through Redis when available. A local limiter is
// closed when e shuts down.
func (a app) limiter(e *echo.Echo, perMinute int) middleware.Limiter {
	cfg := middleware.RateLimitConfig{PerMinute: perMinute}
	if a.redis != nil {
		return middleware.NewRedisLimiter(a.redis, cfg, "")
	}
	l := middleware.NewMemoryLimiter(cfg)
	e.Server.RegisterOnShutdown(l.Close)
	return l
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var (
		redisClient *redis.Client
		revocations auth.RevocationStore
	)
	if cfg.RedisURL != "" {
		redisClient, err = newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to redis")
			return err
		}
		defer redisClient.Close()
		revocations = auth.NewRedisRevocationStore(redisClient, "")
		logger.Info().Msg("using redis for token revocation and rate limits")
	} else {
		mem := auth.NewMemoryRevocationStore()
		defer mem.Close()
		revocations = mem
		logger.Warn().Msg("REDIS_URL not set: token revocations and rate limits are local to this instance")
	}

	inferenceClient := inference.NewClient(inference.Config{
		BaseURL: cfg.MLInferenceURL,
		APIKey:  cfg.MLInferenceAPIKey,
		Timeout: cfg.MLInferenceTimeout,
		Retries: cfg.MLInferenceRetries,
	}, logger.With().Str("component", "inference").Logger())

	e := newServer(app{
		cfg:         cfg,
		logger:      logger,
		pool:        pool,
		redis:       redisClient,
		revocations: revocations,
		accessLog:   hipaa.NewAccessStorePG(pool),
		predictor:   inferenceClient,
		push:        websocket.NewHub(),
	})
	e.GET("/health/inference", func(c echo.Context) error {
		if err := inferenceClient.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newServer builds the echo instance with the middleware chain and every
// domain handler mounted under /api/v1.
func newServer(a app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := telemetry.NewMetrics().WithPool(a.pool)

	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.Logger(a.logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(a.cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(a.pool))
	e.GET("/metrics", metrics.Handler())

	templates := notification.NewTemplateEngine()
	notifier := notification.Multi(
		notification.NewLogNotifier(templates, a.logger),
		websocket.NewNotifier(a.push, templates),
	)

	// Repositories and services
	identitySvc := identity.NewService(
		identity.NewProfileRepoPG(a.pool),
		identity.NewPatientRepoPG(a.pool),
		identity.NewDoctorRepoPG(a.pool),
	)
	careteamSvc := careteam.NewService(careteam.NewRepoPG(a.pool), identitySvc, identitySvc, db.NewTxRunner(a.pool))
	encounterSvc := encounter.NewService(encounter.NewRepoPG(a.pool))
	schedulingSvc := scheduling.NewService(scheduling.NewAppointmentRepoPG(a.pool), notifier,
		a.logger.With().Str("component", "scheduling").Logger())
	diagnosisSvc := diagnosis.NewService(diagnosis.NewRepoPG(a.pool), telemetry.InstrumentPredictor(a.predictor, metrics),
		a.cfg.PredictionConfidenceThreshold, a.logger.With().Str("component", "diagnosis").Logger())
	medicationSvc := medication.NewService(medication.NewPrescriptionRepoPG(a.pool))

	// Authorization
	authz := auth.NewEnforcer(auth.NewEvaluator(careteamSvc), a.logger).WithObserver(metrics)

	api := e.Group("/api/v1")
	if a.cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		api.Use(auth.DevAuthMiddleware())
	} else {
		api.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:      a.cfg.AuthIssuer,
			Audience:    a.cfg.AuthAudience,
			SigningKey:  []byte(a.cfg.AuthSigningKey),
			Resolver:    auth.NewIdentityResolver(identitySvc, a.logger),
			Revocations: a.revocations,
			Logger:      a.logger,
		}))
	}
	api.Use(middleware.Audit(a.logger, hipaa.NewRecorder(a.accessLog)))
	if n := a.cfg.RateLimitPerMinute; n > 0 {
		api.Use(middleware.RateLimit("api", n, a.limiter(e, n), a.logger))
	}

	diagnosisHandler := diagnosis.NewHandler(diagnosisSvc, encounterSvc, identitySvc, authz)
	if n := a.cfg.PredictionRatePerMinute; n > 0 {
		diagnosisHandler.WithRequestLimit(middleware.RateLimit("predictions", n, a.limiter(e, n), a.logger))
	}

	auth.NewRevocationHandler(a.revocations, a.cfg.TokenLifetime).RegisterRoutes(api)
	hipaa.NewHandler(a.accessLog).RegisterRoutes(api)
	identity.NewHandler(identitySvc, authz).RegisterRoutes(api)
	careteam.NewHandler(careteamSvc, authz).RegisterRoutes(api)
	encounter.NewHandler(encounterSvc, identitySvc, authz).RegisterRoutes(api)
	scheduling.NewHandler(schedulingSvc, identitySvc, authz).RegisterRoutes(api)
	diagnosisHandler.RegisterRoutes(api)
	medication.NewHandler(medicationSvc, encounterSvc, identitySvc, authz).RegisterRoutes(api)
	websocket.NewHandler(a.push, a.cfg.CORSOrigins, a.logger).RegisterRoutes(api)

	return e
}
