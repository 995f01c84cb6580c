package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/client"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/config"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/database"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/decision"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/handler"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/pattern"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/repository"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/service"
	"github.com/shopspring/decimal"
)

var (
	cfgFile  string
	inMemory bool
)

var rootCmd = &cobra.Command{
	Use:   "invoice-automation",
	Short: "Vendor invoice deduplication, automatic approval and payment reconciliation",
	Long: `invoice-automation ingests electronic vendor invoices, deduplicates them by CUFE,
approves recurring invoices automatically when they match the prior period, and
reconciles payments against approved invoices.

Examples:
  invoice-automation serve --config config.yaml
  invoice-automation migrate
  invoice-automation run-batch --limit 100`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVar(&inMemory, "in-memory", false, "use the in-memory store instead of Postgres")

	rootCmd.AddCommand(serveCmd, migrateCmd, runBatchCmd)
}

// app holds everything a command needs once configuration is loaded.
type app struct {
	cfg        *config.Config
	log        *logger.Logger
	db         *database.DB
	store      repository.Store
	dispatcher *client.Dispatcher
	natsConn   *nats.Conn
	services   handler.Services
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})
	return cfg, log, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	if inMemory {
		log.Warn().Msg("Using in-memory store; data is lost on exit")
		a.store = repository.NewMemoryStore()
	} else {
		if cfg.Database.AutoMigrate {
			version, err := database.Migrate(cfg.Database.MigrationURL())
			if err != nil {
				return nil, err
			}
			log.Info().Uint("version", version).Msg("Database schema up to date")
		}

		a.db, err = database.New(ctx, database.Config{
			DSN:         cfg.Database.DSN(),
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("host", cfg.Database.Host).Str("database", cfg.Database.Database).Msg("Database connection established")
		a.store = repository.NewPostgresStore(a.db)
	}

	notifier := a.buildNotifier()
	a.dispatcher = client.NewDispatcher(notifier, client.DispatcherConfig{
		QueueSize:    cfg.Notifications.QueueSize,
		MaxAttempts:  cfg.Notifications.MaxAttempts,
		RetryBackoff: cfg.Notifications.RetryBackoff,
	}, log.WithComponent("notifications").Logger)

	a.services = a.buildServices()
	return a, nil
}

// buildNotifier selects the primary transport and wraps it with the fallback.
// An unreachable NATS server degrades to the log notifier.
func (a *app) buildNotifier() client.Notifier {
	nc := a.cfg.Notifications
	log := a.log.WithComponent("notifications").Logger

	var primary client.Notifier = client.NewLogNotifier(log)
	if nc.Primary == "nats" {
		conn, err := client.ConnectNATS(nc.NATSURL, a.cfg.Service.Name, log)
		if err != nil {
			a.log.Warn().Err(err).Msg("NATS unavailable, notifications will only be logged")
		} else {
			a.natsConn = conn
			primary = client.NewNotificationPublisher(conn, nc.SubjectPrefix, log)
			a.log.Info().Str("url", nc.NATSURL).Msg("Publishing notifications to NATS")
		}
	}

	var fallback client.Notifier
	if nc.Fallback == "log" {
		fallback = client.NewLogNotifier(log)
	}
	return client.NewFallbackNotifier(primary, fallback, log)
}

func (a *app) buildServices() handler.Services {
	ac := a.cfg.Automation

	detector := pattern.NewDetector(pattern.Options{
		Tolerance:         decimal.NewFromFloat(ac.AmountTolerance),
		VariableTolerance: decimal.NewFromFloat(ac.VariableServiceTolerance),
	})
	engine := decision.NewEngine(decision.Config{
		MinConfidence:                 ac.MinConfidence,
		InsufficientHistoryConfidence: ac.InsufficientHistoryConfidence,
	}, a.log)

	automation := service.NewAutomationService(a.store, detector, engine, a.dispatcher,
		service.AutomationConfig{BatchSize: ac.BatchSize, Workers: ac.Workers}, a.log)

	invoices := service.NewInvoiceService(a.store, a.log)
	invoices.SetProcessor(automation, ac.ProcessOnIngest)

	return handler.Services{
		Invoices:    invoices,
		Workflows:   service.NewWorkflowService(a.store, a.dispatcher, a.log),
		Payments:    service.NewPaymentService(a.store, a.dispatcher, a.log),
		Assignments: service.NewAssignmentService(a.store, a.log),
		Automation:  automation,
	}
}

// pinger returns the database as a health check, or nil on the memory store.
func (a *app) pinger() handler.Pinger {
	if a.db == nil {
		return nil
	}
	return a.db
}

// close flushes pending notifications and releases connections.
func (a *app) close(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.dispatcher.Close(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Pending notifications dropped on shutdown")
	}
	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			a.log.Warn().Err(err).Msg("NATS drain failed")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
