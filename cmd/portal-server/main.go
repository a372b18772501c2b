package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clinicportal/portal/internal/config"
	"github.com/clinicportal/portal/internal/domain/account"
	"github.com/clinicportal/portal/internal/domain/alerts"
	"github.com/clinicportal/portal/internal/domain/catalog"
	"github.com/clinicportal/portal/internal/domain/chat"
	"github.com/clinicportal/portal/internal/domain/patient"
	"github.com/clinicportal/portal/internal/domain/payment"
	"github.com/clinicportal/portal/internal/domain/scheduling"
	"github.com/clinicportal/portal/internal/domain/visitor"
	"github.com/clinicportal/portal/internal/platform/auth"
	"github.com/clinicportal/portal/internal/platform/db"
	"github.com/clinicportal/portal/internal/platform/livequery"
	"github.com/clinicportal/portal/internal/platform/middleware"
	"github.com/clinicportal/portal/internal/platform/notification"
	"github.com/clinicportal/portal/internal/platform/websocket"
	"github.com/clinicportal/portal/migrations"
)

const (
	defaultSchema   = "public"
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Minute
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal-server",
		Short: "Patient portal API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationsFS returns the embedded migrations, or dir when set.
func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
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
			schema, _ := cmd.Flags().GetString("schema")
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

			if dir == "" {
				dir = cfg.MigrationsDir
			}
			migrator := db.NewMigrator(pool, migrationsFS(dir))
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", defaultSchema, "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Migrations directory (default: embedded)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
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

			if dir == "" {
				dir = cfg.MigrationsDir
			}
			migrator := db.NewMigrator(pool, migrationsFS(dir))
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
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
	statusCmd.Flags().String("schema", defaultSchema, "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Migrations directory (default: embedded)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage portal user accounts",
	}
	cmd.AddCommand(userStatusCmd("deactivate", "Deactivate a user account", false))
	cmd.AddCommand(userStatusCmd("reactivate", "Reactivate a user account", true))
	return cmd
}

// refFromFlags builds the user reference from --uid or --custom-id.
func refFromFlags(cmd *cobra.Command) (account.Ref, error) {
	uid, _ := cmd.Flags().GetString("uid")
	customID, _ := cmd.Flags().GetString("custom-id")
	if uid == "" && customID == "" {
		return account.Ref{}, fmt.Errorf("either --uid or --custom-id must be provided")
	}
	return account.Ref{UID: uid, CustomID: customID}, nil
}

func userStatusCmd(use, short string, active bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := refFromFlags(cmd)
			if err != nil {
				return err
			}

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

			// The running server blocks tokens when it sees the record change.
			svc := account.NewService(account.NewUserRepoPG(pool), nil, newLogger(cfg.IsDev()))

			var u *account.User
			if active {
				u, err = svc.Reactivate(ctx, ref)
			} else {
				u, err = svc.Deactivate(ctx, ref)
			}
			if errors.Is(err, account.ErrNotFound) {
				return fmt.Errorf("user not found (%s)", ref)
			}
			if err != nil {
				return err
			}

			fmt.Printf("User %s (%s) is now %s.\n", u.UID, u.Email, u.Status)
			return nil
		},
	}
	cmd.Flags().String("uid", "", "User uid")
	cmd.Flags().String("custom-id", "", "Custom user id, e.g. PT-000123")
	return cmd
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(path)
}

func newRedis(url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.IsDev())
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	signingKey, _ := cfg.SigningKey()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	rdb, err := newRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	cat, err := loadCatalog(cfg.CatalogFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load catalog")
	}

	// Realtime plumbing
	feed := livequery.NewFeed(livequery.NewPGSource(pool), cfg.ListenChannel, logger)
	hub := websocket.NewHub(logger)
	revocations := auth.NewRevocationStore(5 * time.Minute)
	defer revocations.Close()

	notifications := notification.NewNotificationManager(
		newHubPublisher(hub), notification.NewTemplateEngine(), cfg.NotificationTTL, logger)

	// Domain services
	users := account.NewUserRepoPG(pool)
	accountSvc := account.NewService(users, account.NewRevocationDirectory(revocations), logger)
	patientSvc := patient.NewService(patient.NewProfileRepoPG(pool))
	schedulingSvc := scheduling.NewService(
		scheduling.NewAppointmentRepoPG(pool), scheduling.NewScheduleRepoPG(pool), cat)
	chatSvc := chat.NewService(chat.NewMessageRepoPG(pool))

	var dedup visitor.Deduper
	probes := []db.Probe{feed}
	if rdb != nil {
		dedup = visitor.NewRedisDeduper(rdb)
		probes = append(probes, visitor.NewRedisProbe(rdb))
	}
	visitorSvc := visitor.NewService(visitor.NewVisitRepoPG(pool), dedup, logger)

	gateway := payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	paymentSvc := payment.NewService(gateway, schedulingSvc, cfg.PaymentCurrency, logger)

	alertSessions := alerts.NewSessions(alerts.Deps{
		Feed:         feed,
		Messages:     chatSvc,
		Appointments: schedulingSvc,
		Notifier:     notifications,
	}, logger)
	defer alertSessions.Close()
	hub.SetHooks(websocket.Hooks{
		OnConnect:    alertSessions.Acquire,
		OnDisconnect: alertSessions.Release,
	})

	guard := account.NewDeactivationGuard(feed, users, revocations, hub, alertSessions, notifications, logger)
	if n, err := guard.Seed(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to seed inactive users")
	} else {
		logger.Info().Int("blocked", n).Msg("inactive users blocked")
	}

	// Echo server
	e := newServer(cfg, signingKey, revocations, logger)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, probes...))

	apiV1 := e.Group("/api/v1")
	adminV1 := apiV1.Group("/admin", auth.RequireRole(auth.RoleAdmin))

	catalog.NewHandler(cat).RegisterRoutes(apiV1)
	account.NewHandler(accountSvc).RegisterRoutes(apiV1, adminV1)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1, adminV1)
	scheduling.NewHandler(schedulingSvc).RegisterRoutes(apiV1, adminV1)
	chat.NewHandler(chatSvc).RegisterRoutes(apiV1, adminV1)
	visitor.NewHandler(visitorSvc).RegisterRoutes(apiV1, adminV1)
	payment.NewHandler(paymentSvc, cfg.PublicBaseURL).RegisterRoutes(apiV1, apiV1, adminV1)
	notification.NewNotificationHandler(notifications).RegisterRoutes(apiV1, adminV1)
	auth.RegisterRevocationRoutes(apiV1, revocations)
	websocket.NewWebSocketHandler(hub, cfg.CORSOrigins).RegisterRoutes(e.Group(""))

	// Background workers and the HTTP server share one lifecycle.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feed.Run(gctx) })
	g.Go(func() error { return guard.Run(gctx) })
	g.Go(func() error { return notifications.Run(gctx, sweepInterval) })
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
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

// newServer builds the echo instance with the global middleware chain.
func newServer(cfg *config.Config, signingKey []byte, revocations *auth.RevocationStore, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID", "Stripe-Signature"},
		AllowCredentials: true,
	}))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(middleware.BodyLimit("2M"))

	verify := auth.JWTMiddleware(auth.JWTConfig{
		Issuer:      cfg.AuthIssuer,
		Audience:    cfg.AuthAudience,
		JWKSURL:     cfg.AuthJWKSURL,
		SigningKey:  signingKey,
		Skipper:     auth.AuthSkipper,
		Revocations: revocations,
	})
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(verify))
	} else {
		e.Use(verify)
	}

	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	e.Use(middleware.RateLimit(rl))

	return e
}

var errNoLiveSession = errors.New("recipient has no live connection")

// hubPublisher pushes inbox notifications to the recipient's websocket topic.
type hubPublisher struct {
	hub *websocket.Hub
}

func newHubPublisher(hub *websocket.Hub) *hubPublisher {
	return &hubPublisher{hub: hub}
}

func (p *hubPublisher) PublishNotification(ctx context.Context, n *notification.Notification) error {
	topic := websocket.UserTopic(n.Recipient)
	if p.hub.TopicCount(topic) == 0 {
		return errNoLiveSession
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return p.hub.Publish(ctx, websocket.Event{
		Type:  websocket.EventNotification,
		Topic: topic,
		Data:  data,
	})
}
