package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"biblio/internal/api"
	"biblio/internal/catalog"
	"biblio/internal/config"
	"biblio/internal/journal"
	"biblio/internal/lending"
	"biblio/internal/notify"
	"biblio/internal/reporting"
	"biblio/internal/storage"
	"biblio/internal/storage/ch"
	"biblio/internal/storage/sqldb"
	"biblio/internal/storage/stubs"
	"biblio/internal/worker"
)

// App represents the application
type App struct {
	config *config.Config
	logger *zap.Logger

	db       storage.Storage
	journal  *ch.ClickHouseJournal
	kafka    *journal.KafkaPublisher
	notifier notify.Notifier

	engine  *lending.Engine
	catalog *catalog.Service
	reports *reporting.Service

	server      *http.Server
	stopWorkers context.CancelFunc
	workersDone sync.WaitGroup
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	envErr := godotenv.Load()

	// Load configuration from environment variables
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if envErr != nil {
		logger.Debug("No .env file found, using system environment variables")
	}

	app := &App{config: cfg, logger: logger}
	logger.Info("Starting library service", zap.String("env", cfg.AppEnv))

	ctx := context.Background()

	// Initialize database
	if err := app.initDatabase(ctx); err != nil {
		return nil, err
	}

	// Initialize journal sinks and notifications
	if err := app.initJournal(ctx); err != nil {
		app.closeBackends()
		return nil, err
	}
	app.initNotifier()

	app.initServices()

	if cfg.SeedData {
		if err := app.catalog.Seed(ctx); err != nil {
			app.closeBackends()
			return nil, fmt.Errorf("failed to seed sample data: %w", err)
		}
	}

	// Initialize HTTP server
	app.initHTTPServer()

	return app, nil
}

// newLogger builds a console logger for development and terminals and a JSON
// logger otherwise
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.IsDevelopment() || term.IsTerminal(int(os.Stdout.Fd())) {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// initDatabase opens the configured storage backend and applies migrations
func (a *App) initDatabase(ctx context.Context) error {
	var db storage.Storage
	if a.config.UseMockDB {
		a.logger.Info("Using mock database")
		db = stubs.NewMockDB()
	} else {
		dsn := a.config.DatabaseURL
		if a.config.DBDriver == sqldb.DriverSQLite {
			dsn = sqldb.SQLiteDSN(a.config.DBPath)
			a.logger.Info("Opening SQLite database", zap.String("path", a.config.DBPath))
		} else {
			a.logger.Info("Connecting to PostgreSQL", zap.String("driver", a.config.DBDriver))
		}

		sqlDB, err := sqldb.NewSQLDB(ctx, a.config.DBDriver, dsn,
			sqldb.WithLogger(a.logger.Named("sqldb")),
			sqldb.WithAutoMigrate(a.config.AutoMigrate),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		db = sqlDB
	}

	// Initialize database schema
	if err := db.Initialize(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Info("Database initialized successfully")

	a.db = db
	return nil
}

// initJournal connects the optional ClickHouse and Kafka sinks
func (a *App) initJournal(ctx context.Context) error {
	if a.config.JournalEnabled() {
		a.logger.Info("Connecting to ClickHouse",
			zap.String("host", a.config.ClickHouseHost),
			zap.Int("port", a.config.ClickHousePort),
			zap.String("database", a.config.ClickHouseDatabase),
			zap.Bool("tls", a.config.ClickHouseUseTLS),
		)
		j, err := ch.NewClickHouseJournal(
			a.config.ClickHouseHost,
			a.config.ClickHousePort,
			a.config.ClickHouseDatabase,
			a.config.ClickHouseUser,
			a.config.ClickHousePassword,
			a.config.ClickHouseUseTLS,
		)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		a.journal = j

		if a.config.AutoMigrate {
			if err := j.Migrate(ctx, a.logger); err != nil {
				return err
			}
		}
	}

	if a.config.KafkaBroker != "" {
		a.logger.Info("Publishing loan events to Kafka",
			zap.String("broker", a.config.KafkaBroker),
			zap.String("topic", a.config.KafkaTopic),
		)
		a.kafka = journal.NewKafkaPublisher(a.config.KafkaBroker, a.config.KafkaTopic)
	}
	return nil
}

// initNotifier sets up Telegram notifications when configured
func (a *App) initNotifier() {
	a.notifier = notify.Nop{}
	if !a.config.NotificationsEnabled() {
		return
	}

	telegram, err := notify.NewTelegram(a.config.TelegramToken, a.config.TelegramChatID, a.logger)
	if err != nil {
		a.logger.Warn("Telegram notifications disabled", zap.Error(err))
		return
	}
	a.notifier = telegram
}

// initServices wires the domain services to the backends
func (a *App) initServices() {
	sinks := journal.NewFanout()
	if a.journal != nil {
		sinks.Add("clickhouse", a.journal)
	}
	if a.kafka != nil {
		sinks.Add("kafka", a.kafka)
	}
	if _, ok := a.notifier.(notify.Nop); !ok {
		sinks.Add("telegram", notify.NewEventNotifier(a.notifier))
	}

	a.engine = lending.NewEngine(a.db, a.logger.Named("lending"),
		lending.WithLoanPeriod(a.config.LoanPeriod),
		lending.WithJournal(sinks),
	)
	a.catalog = catalog.NewService(a.db, a.logger.Named("catalog"))

	var reportOpts []reporting.Option
	if a.journal != nil {
		reportOpts = append(reportOpts, reporting.WithJournal(a.journal))
	}
	a.reports = reporting.NewService(a.db, a.logger.Named("reporting"), reportOpts...)
}

// initHTTPServer initializes the HTTP server and starts listening
func (a *App) initHTTPServer() {
	srv := api.NewServer(a.engine, a.catalog, a.reports, a.db, a.logger.Named("http"),
		api.WithLimits(a.config.APIDefaultLimit, a.config.APIMaxLimit),
		api.WithCORSOrigin(a.config.CORSOrigin),
		api.WithEnvironment(a.config.AppEnv),
	)

	a.server = &http.Server{
		Addr:         ":" + strconv.Itoa(a.config.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Start HTTP server in background
	go func() {
		a.logger.Info("Starting HTTP server", zap.Int("port", a.config.Port))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// startWorkers launches the background jobs whose interval is positive
func (a *App) startWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopWorkers = cancel

	if a.config.ReconcileInterval > 0 {
		reconciler := worker.NewReconciler(a.engine, a.config.ReconcileInterval, a.logger.Named("reconciler"))
		a.workersDone.Add(1)
		go func() {
			defer a.workersDone.Done()
			reconciler.Start(ctx)
		}()
	}

	if a.config.OverdueReminderInterval > 0 && a.config.NotificationsEnabled() {
		reminder := worker.NewOverdueReminder(a.reports, a.notifier, a.config.OverdueReminderInterval, a.logger.Named("reminder"))
		a.workersDone.Add(1)
		go func() {
			defer a.workersDone.Done()
			reminder.Start(ctx)
		}()
	}
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	a.startWorkers()

	// Wait for interrupt signal
	sig := <-sigChan
	a.logger.Info("Shutting down...", zap.String("signal", sig.String()))
	return a.Shutdown()
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	if a.stopWorkers != nil {
		a.stopWorkers()
		a.workersDone.Wait()
	}

	// Shutdown HTTP server gracefully
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	err := a.closeBackends()
	if err != nil {
		a.logger.Error("Error closing backends", zap.Error(err))
	} else {
		a.logger.Info("Shutdown complete")
	}
	a.logger.Sync()
	return err
}

// closeBackends closes every opened connection
func (a *App) closeBackends() error {
	var errs []error
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka: %w", err))
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}
