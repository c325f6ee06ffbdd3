package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/odonto/payments/internal/config"
	"github.com/odonto/payments/internal/domain/billing"
	"github.com/odonto/payments/internal/domain/patient"
	"github.com/odonto/payments/internal/domain/payment"
	"github.com/odonto/payments/internal/domain/treatment"
	"github.com/odonto/payments/internal/platform/auth"
	"github.com/odonto/payments/internal/platform/db"
	"github.com/odonto/payments/internal/platform/middleware"
	"github.com/odonto/payments/internal/platform/notification"
	"github.com/odonto/payments/internal/platform/sandbox"
	"github.com/odonto/payments/internal/platform/webhook"
	"github.com/odonto/payments/internal/platform/websocket"
	"github.com/odonto/payments/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "payments-server",
		Short: "Dental clinic billing and payments API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

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
		Short: "Start the payments API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationSource returns the directory given with --dir, or the migrations
// compiled into the binary.
func migrationSource(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: 2})
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
			ctx := cmd.Context()

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationSource(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default: embedded)")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := cmd.Context()

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationSource(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default: embedded)")

	cmd.AddCommand(upCmd, statusCmd)
	return cmd
}

func printMigrationStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-8s %-40s %-8s %s\n", "VERSION", "NAME", "APPLIED", "APPLIED AT")
	for _, s := range statuses {
		applied, at := "no", "-"
		if s.Applied {
			applied = "yes"
			at = s.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "%-8d %-40s %-8s %s\n", s.Version, s.Name, applied, at)
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo patients, treatments and invoices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := sandbox.DefaultSeedConfig()
			cfg.PatientCount, _ = cmd.Flags().GetInt("patients")
			cfg.InvoicesPerPatient, _ = cmd.Flags().GetInt("invoices")
			cfg.Seed, _ = cmd.Flags().GetInt64("seed")

			logger := newLogger("development")
			ctx := logger.WithContext(cmd.Context())
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			patientRepo := patient.NewRepoPG(pool)
			treatmentRepo := treatment.NewRepoPG(pool)
			billingSvc := billing.NewService(billing.NewInvoiceRepoPG(pool), patientRepo, treatmentRepo)
			seeder := sandbox.NewSeeder(cfg, patient.NewService(patientRepo), treatment.NewService(treatmentRepo), billingSvc)

			res, err := seeder.Seed(ctx)
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d patient(s), %d treatment(s), %d invoice(s).\n", res.Patients, res.Treatments, res.Invoices)
			return nil
		},
	}
	defaults := sandbox.DefaultSeedConfig()
	cmd.Flags().Int("patients", defaults.PatientCount, "Number of patients to create")
	cmd.Flags().Int("invoices", defaults.InvoicesPerPatient, "Pending invoices per patient")
	cmd.Flags().Int64("seed", defaults.Seed, "Random seed")
	return cmd
}

// invoiceHolders resolves notification recipients through billing.
type invoiceHolders struct {
	billing *billing.Service
}

func (r invoiceHolders) InvoiceHolder(ctx context.Context, invoiceID int64) (*notification.Recipient, error) {
	p, err := r.billing.InvoiceHolder(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return &notification.Recipient{PatientID: p.ID, Name: p.Name, Email: p.Email, Phone: p.Phone}, nil
}

// patientExists adapts the patient service to the per-patient feeds, which
// answer 404 for unknown patients.
func patientExists(patients *patient.Service) func(ctx context.Context, id int64) error {
	return func(ctx context.Context, id int64) error {
		_, err := patients.GetPatient(ctx, id)
		return err
	}
}

func paymentNotice(p *payment.Payment) notification.PaymentNotice {
	return notification.PaymentNotice{
		ID:          p.ID,
		InvoiceID:   p.InvoiceID,
		Amount:      p.Amount,
		Status:      string(p.Status),
		BankTxnRef:  p.BankTxnRef,
		StartedAt:   p.StartedAt,
		CompletedAt: p.CompletedAt,
	}
}

func buildProcessor(cfg *config.Config) payment.Processor {
	if cfg.ProcessorURL == "" {
		return payment.SandboxProcessor{}
	}
	return payment.NewHTTPProcessor(cfg.ProcessorURL, webhook.NewDispatcher(cfg.ProcessorSecret,
		webhook.WithTimeout(cfg.ProcessorTimeout),
		webhook.WithMaxRetries(cfg.ProcessorMaxRetries),
	))
}

// buildNotifier posts to NOTIFIER_URL when set, otherwise hands the payment
// to the in-process notification service.
func buildNotifier(cfg *config.Config, svc *notification.Service) payment.Notifier {
	if cfg.NotifierURL != "" {
		return payment.NewHTTPNotifier(cfg.NotifierURL, webhook.NewDispatcher(cfg.NotifierSecret,
			webhook.WithMaxRetries(cfg.NotifierMaxRetries),
		))
	}
	return payment.NotifierFunc(func(ctx context.Context, p *payment.Payment) error {
		_, err := svc.NotifyPayment(ctx, paymentNotice(p))
		return err
	})
}

type server struct {
	echo     *echo.Echo
	workflow *payment.Workflow
}

func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) *server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Correlation(logger))
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderXRequestID, middleware.CorrelationIDHeader},
		ExposeHeaders: []string{echo.HeaderXRequestID, middleware.CorrelationIDHeader},
	}))
	e.Use(echomw.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	limit := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	})
	bankAuth := auth.BankWebhookAuth(auth.JWTConfig{
		Secret: []byte(cfg.WebhookJWTSecret),
		Issuer: cfg.WebhookJWTIssuer,
	})

	patientRepo := patient.NewRepoPG(pool)
	treatmentRepo := treatment.NewRepoPG(pool)
	patientSvc := patient.NewService(patientRepo)
	treatmentSvc := treatment.NewService(treatmentRepo)
	billingSvc := billing.NewService(billing.NewInvoiceRepoPG(pool), patientRepo, treatmentRepo)

	hub := websocket.NewHub(logger)
	mailer := notification.LogSender{Logger: logger}
	notifySvc := notification.NewService(invoiceHolders{billing: billingSvc}, mailer, mailer,
		notification.NewTemplateEngine(), hub, cfg.NotifierMaxRetries)

	workflow := payment.NewWorkflow(payment.NewRepoPG(pool), billingSvc, db.NewTxRunner(pool),
		buildProcessor(cfg), buildNotifier(cfg, notifySvc))

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"message": "Welcome to the dental clinic payments API"})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool, db.NewMigrator(pool, migrationSource(""))))

	patient.NewHandler(patientSvc).RegisterRoutes(e)
	treatment.NewHandler(treatmentSvc).RegisterRoutes(e)
	billing.NewHandler(billingSvc).RegisterRoutes(e)
	payment.NewHandler(workflow).RegisterRoutes(e, limit, bankAuth)
	notification.NewHandler(notifySvc, cfg.NotifierSecret, patientExists(patientSvc)).RegisterRoutes(e)
	websocket.NewHandler(hub, cfg.CORSOrigins, patientExists(patientSvc)).RegisterRoutes(e)

	return &server{echo: e, workflow: workflow}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger("")
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	srv := newServer(cfg, logger, pool)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := srv.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	srv.workflow.Wait()
	logger.Info().Msg("server stopped")
	return nil
}
