package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/healthguard-ai/platform/pkg/audit"
	"github.com/healthguard-ai/platform/pkg/common/config"
	"github.com/healthguard-ai/platform/pkg/common/database"
	"github.com/healthguard-ai/platform/pkg/common/kafka"
	"github.com/healthguard-ai/platform/pkg/common/logger"
	"github.com/healthguard-ai/platform/pkg/common/models"
	"github.com/healthguard-ai/platform/pkg/delivery"
	"github.com/healthguard-ai/platform/pkg/dispatch"
	"github.com/healthguard-ai/platform/pkg/inference"
	"github.com/healthguard-ai/platform/pkg/patient"
	"github.com/healthguard-ai/platform/pkg/pipeline"
	"github.com/healthguard-ai/platform/pkg/privacy"
	"github.com/healthguard-ai/platform/pkg/retention"
	"github.com/healthguard-ai/platform/pkg/rules"
	"github.com/healthguard-ai/platform/pkg/scheduler"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.ClosePostgres()

	redisClient := database.GetRedis()
	defer database.CloseRedis()

	patientRepo := patient.NewRepository(db)
	if err := patientRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate patient tables")
	}
	alertRepo := dispatch.NewRepository(db)
	if err := alertRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate alert tables")
	}
	auditStore := audit.NewGormStore(db)
	if err := auditStore.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate audit tables")
	}

	thresholds, err := rules.LoadThresholds(cfg.RulesConfigPath)
	if err != nil {
		logger.Log.WithError(err).Warn("Falling back to built-in thresholds")
		thresholds = rules.DefaultThresholds()
	}

	privacyRules, err := privacy.LoadRules(cfg.PrivacyRulesPath)
	if err != nil {
		logger.Log.WithError(err).Warn("Falling back to built-in privacy rules")
		privacyRules = privacy.DefaultRules()
	}
	scrubber, err := privacy.NewScrubber(privacyRules)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to compile privacy rules")
	}

	auditLog := audit.NewLog(auditStore)
	store := patient.NewStore(patientRepo, redisClient, cfg.HistoryLimit, cfg.HistoryWindow)
	enforcer := retention.NewEnforcer(cfg.MediaTTL, time.Now, auditLog)
	inferenceClient := inference.NewClient(cfg)
	telegram := delivery.NewTelegramClient(cfg)

	producer := kafka.NewProducer(cfg.AlertsKafkaTopic)
	defer producer.Close()

	dispatcher := dispatch.NewDispatcher(
		alertRepo,
		dispatch.NewDedupGuard(redisClient, cfg.DedupCooldown),
		telegram,
		inferenceClient,
		auditLog,
		producer,
	)

	service := pipeline.NewService(
		store,
		rules.NewEngine(thresholds),
		scrubber,
		inferenceClient,
		dispatcher,
		auditLog,
		enforcer,
		alertRepo,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Names onboarded in earlier runs must be masked before the first
	// external call of this run.
	roster, err := service.LoadRoster(ctx)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load patient roster")
	}
	logger.Log.WithField("patients", roster).Info("Patient roster loaded into privacy scrubber")

	// Vitals arriving over the event bus feed the same evaluation flow
	// as direct API submissions.
	consumer := kafka.NewConsumer(cfg.VitalsKafkaTopic, cfg.KafkaGroupID)
	defer consumer.Close()
	go func() {
		if err := consumer.Consume(ctx, func(ctx context.Context, event models.Event) error {
			return handleVitalEvent(ctx, service, event)
		}); err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Error("Vitals consumer stopped")
		}
	}()

	sched := scheduler.New(service, cfg.SchedulerInterval)
	sched.Start(ctx)

	router := mux.NewRouter()
	router.Use(loggingMiddleware)
	router.HandleFunc("/health", healthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	pipeline.NewHTTPHandler(service).Register(api)
	audit.NewHTTPHandler(auditLog).Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Monitor Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Monitor Service...")
	sched.Stop()
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Monitor Service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func handleVitalEvent(ctx context.Context, service *pipeline.Service, event models.Event) error {
	req := &models.SubmitSignalRequest{
		Kind: models.SignalVital,
	}
	if v, ok := event.Data["patient_id"].(string); ok {
		req.PatientID = v
	}
	if v, ok := event.Data["metric"].(string); ok {
		req.Metric = v
	}
	if v, ok := event.Data["value"].(float64); ok {
		req.Value = v
	}
	if v, ok := event.Data["unit"].(string); ok {
		req.Unit = v
	}

	_, err := service.Submit(ctx, req)
	if err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"event_id": event.ID,
			"patient":  req.PatientID,
		}).Warn("Failed to process vitals event")
	}
	// Malformed bus events are logged and committed, not retried.
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Log.WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Info("Request processed")
	})
}
