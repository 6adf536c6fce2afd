package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/finflow-ai/be-ar-dunning/internal/client"
	"github.com/finflow-ai/be-ar-dunning/internal/config"
	"github.com/finflow-ai/be-ar-dunning/internal/database"
	"github.com/finflow-ai/be-ar-dunning/internal/handler"
	"github.com/finflow-ai/be-ar-dunning/internal/logger"
	"github.com/finflow-ai/be-ar-dunning/internal/repository"
	"github.com/finflow-ai/be-ar-dunning/internal/service"
)

func main() {
	// Local development convenience; a missing .env is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Dunning Service (AR-3)")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// NATS
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name(cfg.Service.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
	}
	defer nc.Drain()
	log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")

	// Repositories
	sequenceRepo := repository.NewSequenceRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	executionRepo := repository.NewExecutionRepository(db)
	stepLogRepo := repository.NewStepLogRepository(db)
	auditRepo := repository.NewTriggerAuditRepository(db)
	signalRepo := repository.NewSignalRepository(db)

	// External clients
	calendarClient := client.NewCalendarClient(cfg.Calendar.BaseURL, cfg.Calendar.Timeout)
	dispatcher := client.NewDispatchPublisher(nc, cfg.NATS.DispatchSubject, service.NewUUID, log)

	// Services
	executionService := service.NewExecutionService(
		executionRepo, stepLogRepo, sequenceRepo, invoiceRepo, signalRepo,
		calendarClient, dispatcher, service.NewUUID,
		service.ExecutionConfig{MaxDispatchRetries: cfg.Monitor.MaxDispatchRetries},
		log,
	)
	monitorService := service.NewMonitorService(
		sequenceRepo, invoiceRepo, executionService, stepLogRepo, auditRepo,
		signalRepo, calendarClient, service.NewUUID,
		service.MonitorConfig{
			CandidateLimit:        cfg.Monitor.CandidateLimit,
			WorkerCount:           cfg.Monitor.WorkerCount,
			LookaheadDays:         cfg.Monitor.LookaheadDays,
			RecentExecutionWindow: time.Duration(cfg.Monitor.RecentExecutionDays) * 24 * time.Hour,
			DeferHorizon:          cfg.Monitor.DeferHorizon,
			MinOutstandingCents:   cfg.Monitor.MinOutstandingCents,
			RecentPaymentWindow:   cfg.Monitor.RecentPaymentWindow,
		},
		log,
	)

	// Inbound AR events
	subscriber := client.NewEventSubscriber(nc, cfg.NATS.EventsSubject, monitorService, log)
	if err := subscriber.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to AR events")
	}
	defer subscriber.Stop()

	// HTTP routes
	httpHandler := handler.NewHTTPHandler(monitorService, executionService, executionRepo, auditRepo, log)
	mux := http.NewServeMux()
	httpHandler.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Scheduler: every interval, evaluate triggers and advance due steps.
	go func() {
		ticker := time.NewTicker(cfg.Monitor.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cycle := monitorService.RunCycle(ctx)
				cont := executionService.ContinueDue(ctx, cfg.Monitor.ContinueBatchLimit)
				if len(cycle.Errors) > 0 || len(cont.Errors) > 0 {
					log.Warn().
						Strs("cycle_errors", cycle.Errors).
						Strs("continue_errors", cont.Errors).
						Msg("Scheduler pass finished with errors")
				}
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
