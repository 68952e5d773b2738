package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"dashboard/internal/app/ledger"
	"dashboard/internal/app/lifecycle"
	"dashboard/internal/config"
	dashboard_http "dashboard/internal/handler/http/dashboard"
	"dashboard/internal/infrastructure/database"
	"dashboard/internal/infrastructure/fib"
	kafka_infra "dashboard/internal/infrastructure/kafka"
	"dashboard/internal/logger"
	"dashboard/internal/outbox"
	"dashboard/internal/repository/ledger_repo"
	"dashboard/internal/repository/ledger_repo/file"
	"dashboard/internal/repository/ledger_repo/pebblelog"
	"dashboard/internal/repository/ledger_repo/postgres"
	outbox_postgres "dashboard/internal/repository/outbox_repo/postgres"
	"dashboard/internal/tokencache"
)

// ledgerStore is the opened ledger backend. db is set only for the postgres driver.
type ledgerStore struct {
	repo ledger_repo.TransactionRepository
	db   *sql.DB
}

func openLedgerStore(cfg *config.Config, appLogger *zap.Logger) (*ledgerStore, error) {
	switch cfg.LedgerDriver {
	case config.LedgerDriverPebble:
		repo, err := pebblelog.Open(cfg.LedgerPebbleDir, appLogger.With(zap.String("component", "PebbleLedger")))
		if err != nil {
			return nil, err
		}
		return &ledgerStore{repo: repo}, nil
	case config.LedgerDriverPostgres:
		dbConfig := database.DBConfig{
			Host:     cfg.DBConfig.Host,
			Port:     cfg.DBConfig.Port,
			User:     cfg.DBConfig.User,
			Password: cfg.DBConfig.Password,
			DBName:   cfg.DBConfig.Name,
			SSLMode:  cfg.DBConfig.SSLMode,
		}
		appLogger.Info("Waiting for database to be available...")
		db, err := database.ConnectWithRetry(dbConfig, 10, 5*time.Second, appLogger)
		if err != nil {
			return nil, err
		}
		appLogger.Info("Running database migrations...")
		if err := database.RunMigrations(dbConfig.MigrationURL(), appLogger); err != nil {
			db.Close()
			return nil, err
		}
		var opts []postgres.Option
		if cfg.KafkaEnabled() {
			opts = append(opts, postgres.WithOutbox(outbox_postgres.NewOutboxRepository(), cfg.KafkaTransactionsTopic))
		}
		return &ledgerStore{repo: postgres.NewTransactionRepository(db, opts...), db: db}, nil
	default:
		repo, err := file.NewTransactionRepository(cfg.LedgerFile)
		if err != nil {
			return nil, err
		}
		return &ledgerStore{repo: repo}, nil
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	appLogger, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()
	appLogger.Info("Dashboard service starting...")

	store, err := openLedgerStore(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to open ledger store", zap.String("driver", cfg.LedgerDriver), zap.Error(err))
	}
	defer func() {
		if err := store.repo.Close(); err != nil {
			appLogger.Error("Error closing ledger store", zap.Error(err))
		} else {
			appLogger.Info("Ledger store closed.")
		}
	}()
	appLogger.Info("Ledger store opened.", zap.String("driver", cfg.LedgerDriver))

	ctxMain, cancelMain := context.WithCancel(context.Background())
	defer cancelMain()

	var publisher ledger.Publisher
	var outboxProcessor *outbox.Processor
	var outboxRelay *outbox.Relay
	if cfg.KafkaEnabled() {
		kafkaBrokers := cfg.GetKafkaBrokers()

		ctx, cancel := context.WithTimeout(ctxMain, 10*time.Second)
		err = kafka_infra.EnsureTopics(ctx, kafkaBrokers, []string{cfg.KafkaTransactionsTopic}, appLogger)
		cancel()
		if err != nil {
			appLogger.Fatal("Failed to ensure Kafka topics", zap.Error(err))
		}

		kafkaProducer := kafka_infra.NewProducer(kafkaBrokers, appLogger.With(zap.String("component", "KafkaProducer")))
		defer func() {
			if err := kafkaProducer.Close(); err != nil {
				appLogger.Error("Error closing Kafka producer", zap.Error(err))
			} else {
				appLogger.Info("Kafka producer closed.")
			}
		}()

		if store.db != nil {
			// Events are written by the ledger transaction itself; the relay ships them.
			outboxRelay = outbox.NewRelay(
				store.db,
				outbox_postgres.NewOutboxRepository(),
				kafkaProducer,
				cfg.OutboxPollInterval,
				cfg.OutboxPollTimeout,
				appLogger.With(zap.String("component", "OutboxRelay")),
			)
		} else {
			outboxProcessor = outbox.NewProcessor(
				kafkaProducer,
				cfg.KafkaTransactionsTopic,
				cfg.KafkaPublishQueueSize,
				cfg.KafkaPublishFlushTimeout,
				appLogger.With(zap.String("component", "OutboxProcessor")),
			)
			publisher = outboxProcessor
		}
		appLogger.Info("Ledger events will be published to Kafka.", zap.String("topic", cfg.KafkaTransactionsTopic))
	} else {
		appLogger.Info("KAFKA_BROKER_URL not set, ledger events are not published.")
	}

	ledgerService := ledger.NewLedgerService(
		store.repo,
		publisher,
		nil,
		appLogger.With(zap.String("component", "LedgerService")),
	)

	httpClient := fib.NewHTTPClient(cfg.FIB.HTTPTimeout)
	paymentTokens := tokencache.New(string(fib.ScopePayments), &fib.ClientCredentials{
		AuthURL:      cfg.FIB.AuthURL,
		ClientID:     cfg.FIB.ClientID,
		ClientSecret: cfg.FIB.ClientSecret,
		HTTPClient:   httpClient,
	}, tokencache.WithLogger(appLogger.With(zap.String("component", "PaymentsTokenCache"))))
	subscriptionTokens := tokencache.New(string(fib.ScopeSubscriptions), &fib.ClientCredentials{
		AuthURL:      cfg.FIB.SubAuthURL,
		ClientID:     cfg.FIB.SubClientID,
		ClientSecret: cfg.FIB.SubClientSecret,
		HTTPClient:   httpClient,
	}, tokencache.WithLogger(appLogger.With(zap.String("component", "SubscriptionsTokenCache"))))

	gatewayClient := fib.NewClient(
		cfg.FIB.BaseURL,
		httpClient,
		map[fib.Scope]fib.TokenSource{
			fib.ScopePayments:      paymentTokens,
			fib.ScopeSubscriptions: subscriptionTokens,
		},
		fib.SSOCredentials{
			URL:          cfg.FIB.SSOURL,
			ClientID:     cfg.FIB.SSOClientIdentifier,
			ClientSecret: cfg.FIB.SSOClientSecret,
		},
		appLogger.With(zap.String("component", "FIBClient")),
	)

	engine := lifecycle.NewEngine(
		gatewayClient,
		ledgerService,
		appLogger.With(zap.String("component", "LifecycleEngine")),
		lifecycle.WithPaymentValidity(cfg.PaymentValidity),
		lifecycle.WithAutoPoll(cfg.AutoPoll),
		lifecycle.WithCallbackURL(cfg.PaymentCallbackURL),
		lifecycle.WithMaxSessions(cfg.MaxSessions),
	)
	appLogger.Info("Lifecycle engine initialized.", zap.Bool("auto_poll", cfg.AutoPoll))

	router := dashboard_http.NewRouter(
		dashboard_http.RouterConfig{
			AllowedOrigins: cfg.GetAllowedOrigins(),
			RequestTimeout: cfg.RequestTimeout,
		},
		engine,
		gatewayClient,
		ledgerService,
		appLogger,
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	if outboxProcessor != nil {
		outboxProcessor.Start(ctxMain)
	}
	if outboxRelay != nil {
		outboxRelay.Start(ctxMain)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	appLogger.Info("Shutting down application...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		appLogger.Info("HTTP server gracefully shut down.")
	}

	engine.Close()
	appLogger.Info("Status pollers stopped.")

	if outboxProcessor != nil {
		outboxProcessor.Stop()
		select {
		case <-outboxProcessor.Done():
			appLogger.Info("Outbox Processor drained.")
		case <-shutdownCtx.Done():
			appLogger.Warn("Outbox Processor did not drain before the shutdown deadline.")
		}
	}
	if outboxRelay != nil {
		outboxRelay.Stop()
		select {
		case <-outboxRelay.Done():
			appLogger.Info("Outbox relay stopped.")
		case <-shutdownCtx.Done():
			appLogger.Warn("Outbox relay did not stop before the shutdown deadline.")
		}
	}
	cancelMain()

	appLogger.Info("Application gracefully shut down.")
}
