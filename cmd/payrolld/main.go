/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll engine server. Handles configuration,
  dependency injection, and graceful shutdown.

COMMANDS:
  payrolld serve    Run the HTTP API (default)
  payrolld migrate  Create or update the database schema and exit

STARTUP SEQUENCE (serve):
  1. Load configuration (defaults, .env, PAYROLL_* environment, flags)
  2. Build the zap logger
  3. Open the SQL store (sqlite3 or postgres)
  4. Wire notifier, metrics and the batch coordinator
  5. Configure HTTP router and start server with graceful shutdown

COMMON FLAGS:
  --env-file   .env file to load (default: .env, ignored if missing)
  --db-driver  sqlite3 | postgres
  --db         Database path or connection string
               Use ":memory:" for an in-memory SQLite database
  --port       HTTP server port (serve only)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  payrolld serve --db="./data/payroll.db"
  PAYROLL_DB_DRIVER=postgres PAYROLL_DB_DSN="postgres://localhost/payroll?sslmode=disable" payrolld serve
  payrolld migrate --db-driver=postgres --db="postgres://localhost/payroll"

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - store/sqlstore/sqlstore.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/batch"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/notify"
	"github.com/warp/payroll-engine/store/sqlstore"
)

func main() {
	v := config.New()
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "payrolld",
		Short:         "Payroll batch engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load if present")
	rootCmd.PersistentFlags().String("db-driver", "sqlite3", "database driver (sqlite3|postgres)")
	rootCmd.PersistentFlags().String("db", "./data/payroll.db", "database path or connection string")
	rootCmd.PersistentFlags().String("log-level", "info", "log level")
	v.BindPFlag("db.driver", rootCmd.PersistentFlags().Lookup("db-driver"))
	v.BindPFlag("db.dsn", rootCmd.PersistentFlags().Lookup("db"))
	v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(v, envFile)
		},
	}
	serveCmd.Flags().Int("port", 8080, "HTTP server port")
	v.BindPFlag("http.port", serveCmd.Flags().Lookup("port"))

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrate(v, envFile)
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd)
	rootCmd.RunE = serveCmd.RunE
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "payrolld:", err)
		os.Exit(1)
	}
}

func setup(v *viper.Viper, envFile string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(v, envFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func migrate(v *viper.Viper, envFile string) error {
	cfg, logger, err := setup(v, envFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Open migrates.
	store, err := sqlstore.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	logger.Info("schema up to date", zap.String("driver", cfg.DBDriver))
	return nil
}

func serve(v *viper.Viper, envFile string) error {
	cfg, logger, err := setup(v, envFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlstore.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	var notifier notify.Notifier = notify.Log{Logger: logger.Named("notify")}
	if cfg.NotifyDriver == "sendgrid" {
		notifier = notify.NewSendGrid(cfg.SendGridKey, cfg.AppName, cfg.FromEmail, logger.Named("sendgrid"))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := batch.NewMetrics(registry)

	coordinator := batch.NewCoordinator(store, cfg.Attendance, notifier, logger.Named("batch"), metrics)
	handler := api.NewHandler(store, coordinator, logger.Named("api"))
	router := api.NewRouter(handler, registry)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("driver", cfg.DBDriver),
			zap.String("notify", cfg.NotifyDriver),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
