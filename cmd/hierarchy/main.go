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

	"github.com/sirupsen/logrus"

	"orghierarchy/api"
	"orghierarchy/api/middleware"
	"orghierarchy/api/services"
	"orghierarchy/db"
	"orghierarchy/pkg/config"
	"orghierarchy/pkg/hierarchy"
	embeddednats "orghierarchy/pkg/services/embedded-nats"
	"orghierarchy/pkg/services/workers"
)

func initDB(cfg config.Config) (*db.Service, error) {
	dbConfig := db.DefaultConfig()
	dbConfig.DBPath = cfg.DBPath
	dbConfig.AutoInitialize = true

	dbService, err := db.New(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database service: %w", err)
	}

	// Verify schema is properly initialized
	if err := dbService.VerifySchema(); err != nil {
		logrus.WithError(err).Warn("Schema verification failed, initializing schema")
		if err := dbService.InitializeSchema(); err != nil {
			dbService.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	if cfg.SeedDemoData {
		if _, err := dbService.SeedDemoData(); err != nil {
			dbService.Close()
			return nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	if count, err := dbService.CountOrganizations(); err == nil {
		logrus.WithField("organizations", count).Info("Database service initialized successfully")
	}

	return dbService, nil
}

func initNATS(cfg config.NATSConfig) (*embeddednats.EmbeddedNATS, error) {
	natsConfig := embeddednats.DefaultConfig()
	natsConfig.DataDir = cfg.DataDir
	natsConfig.Port = cfg.Port

	nats, err := embeddednats.New(natsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS: %w", err)
	}

	if err := nats.Start(); err != nil {
		return nil, fmt.Errorf("failed to start embedded NATS: %w", err)
	}

	if err := nats.CreateHierarchyStreams(); err != nil {
		return nil, fmt.Errorf("failed to create hierarchy streams: %w", err)
	}

	logrus.Info("NATS JetStream initialized successfully")
	return nats, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	config.SetupLogger(cfg.Log)

	dbService, err := initDB(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	defer dbService.Close()

	orgService := services.NewOrganizationService(dbService.GetDB())
	auditService := services.NewAuditService(dbService.GetDB())

	var (
		nats          *embeddednats.EmbeddedNATS
		workerManager *workers.Manager
		publisher     services.EventPublisher
		natsHealth    api.HealthChecker
	)
	if cfg.NATS.Enabled {
		nats, err = initNATS(cfg.NATS)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to initialize NATS")
		}
		publisher, natsHealth = nats, nats

		workerManager, err = workers.NewManager(nats, auditService)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to create worker manager")
		}
		if err := workerManager.Start(); err != nil {
			logrus.WithError(err).Fatal("Failed to start workers")
		}
	} else {
		logrus.Warn("NATS disabled, reparent events will not be audited")
	}

	expansion := hierarchy.NewExpansionState()
	if err := hierarchy.LoadExpansionFile(expansion, cfg.ExpansionStatePath); err != nil {
		logrus.WithError(err).Warn("Ignoring saved expansion state")
	}

	hierarchyService := services.NewHierarchyService(orgService, publisher, expansion)
	if err := hierarchyService.Load(context.Background()); err != nil {
		logrus.WithError(err).Error("Initial hierarchy load failed, serving error state until reload")
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	mux := http.NewServeMux()
	handlers := api.NewHandlers(orgService, hierarchyService, auditService, natsHealth)
	handlers.RegisterRoutes(mux, cfg.APIToken)

	handler := middleware.CORS(middleware.RequestLogger(mux))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logrus.WithFields(logrus.Fields{"port": cfg.Port, "env": cfg.Env}).Info("Starting hierarchy API server")
		logrus.WithField("token", cfg.MaskedToken()).Debug("Using bearer token")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Server failed to start")
		}
	}()

	<-sigChan
	logrus.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Failed to shutdown server gracefully")
	}

	if err := hierarchy.SaveExpansionFile(hierarchyService.Expansion(), cfg.ExpansionStatePath); err != nil {
		logrus.WithError(err).Warn("Failed to save expansion state")
	}

	if workerManager != nil {
		if err := workerManager.Stop(); err != nil {
			logrus.WithError(err).Error("Failed to stop workers")
		}
	}

	if nats != nil {
		if err := nats.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Error("Failed to shutdown NATS")
		}
	}

	logrus.Info("Server shutdown complete")
}
