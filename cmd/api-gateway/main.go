package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/thethien2906/KnMdiscova-api-sub000/api/swagger"
	"github.com/thethien2906/KnMdiscova-api-sub000/internal/handler"
	"github.com/thethien2906/KnMdiscova-api-sub000/internal/middleware"
	"github.com/thethien2906/KnMdiscova-api-sub000/internal/repository"
	"github.com/thethien2906/KnMdiscova-api-sub000/internal/service"
	"github.com/thethien2906/KnMdiscova-api-sub000/pkg/cache"
	"github.com/thethien2906/KnMdiscova-api-sub000/pkg/config"
	"github.com/thethien2906/KnMdiscova-api-sub000/pkg/database"
	"github.com/thethien2906/KnMdiscova-api-sub000/pkg/jobs"
	"github.com/thethien2906/KnMdiscova-api-sub000/pkg/logger"
	corsmiddleware "github.com/thethien2906/KnMdiscova-api-sub000/pkg/middleware/cors"
	reqidmiddleware "github.com/thethien2906/KnMdiscova-api-sub000/pkg/middleware/requestid"
)

// @title Discova Booking API
// @version 1.0.0
// @description Slot reservation and booking engine for the parent/psychologist marketplace
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories.
	txRunner := repository.NewTxRunner(db, cfg.Booking.LockTimeout)
	slotRepo := repository.NewSlotRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	availabilityRepo := repository.NewAvailabilityRepository(db)
	userRepo := repository.NewUserRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)

	// Services.
	metrics := service.NewMetrics()
	authSvc := service.NewAuthService(userRepo, cfg.JWT, logr)
	reservationSvc := service.NewReservationService(slotRepo, txRunner, service.ReservationConfig{
		HoldTTL:     cfg.Booking.HoldTTL,
		LockRetries: cfg.Booking.LockRetries,
		ExtendBy:    cfg.Booking.ExtendBy,
	}, metrics, logr)
	generatorSvc := service.NewSlotGeneratorService(slotRepo, availabilityRepo, txRunner, service.GeneratorConfig{
		DaysAhead:     cfg.Generator.DaysAhead,
		BulkDaysAhead: cfg.Generator.BulkDaysAhead,
	}, metrics, logr)
	slotSvc := service.NewSlotService(slotRepo, cacheRepo, service.SlotCacheConfig{
		Enabled: cfg.SlotCache.Enabled,
		TTL:     cfg.SlotCache.TTL,
	}, logr)
	bookingSvc := service.NewBookingService(bookingRepo, reservationSvc, profileRepo, slotRepo, txRunner, metrics, logr)
	sweeper := service.NewExpirySweeper(slotRepo, txRunner, service.SweeperConfig{
		Interval:  cfg.Sweeper.Interval,
		BatchSize: cfg.Sweeper.BatchSize,
	}, metrics, logr)

	// Background slot generation.
	queue := jobs.NewQueue("slot-generation", func(ctx context.Context, job jobs.Job) error {
		return handleGenerationJob(ctx, job, generatorSvc, slotSvc, logr)
	}, jobs.QueueConfig{
		Workers:    cfg.Generator.Workers,
		MaxRetries: cfg.Generator.Retries,
		Logger:     logr,
	})
	queue.Start(ctx)
	defer queue.Stop()

	availabilitySvc := service.NewAvailabilityService(availabilityRepo, queue, generatorSvc, logr)

	if cfg.Sweeper.Enabled {
		go sweeper.Run(ctx)
	}
	if cfg.Generator.BulkInterval > 0 {
		go runBulkGeneration(ctx, queue, cfg.Generator.BulkInterval, logr)
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	handler.RegisterRoutes(r, cfg.APIPrefix, authSvc, handler.Handlers{
		Auth:         handler.NewAuthHandler(authSvc),
		Availability: handler.NewAvailabilityHandler(availabilitySvc),
		Slots:        handler.NewSlotHandler(slotSvc, reservationSvc),
		Bookings:     handler.NewBookingHandler(bookingSvc, reservationSvc),
		Payments:     handler.NewPaymentHandler(bookingSvc, cfg.Payment.WebhookSecret),
		Metrics:      handler.NewMetricsHandler(metrics),
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

// handleGenerationJob dispatches queued slot generation work and invalidates
// cached listings for the affected psychologist afterwards.
func handleGenerationJob(ctx context.Context, job jobs.Job, generator *service.SlotGeneratorService, slots *service.SlotService, logr *zap.Logger) error {
	payload, err := generationPayload(job)
	if err != nil {
		return err
	}

	switch job.Type {
	case jobs.TypeSlotGeneration:
		if _, err := generator.GenerateForBlock(ctx, payload.BlockID); err != nil {
			return err
		}
	case jobs.TypeSlotRegeneration:
		if _, err := generator.RegenerateForBlock(ctx, payload.BlockID); err != nil {
			return err
		}
	case jobs.TypeBulkGeneration:
		if _, err := generator.BulkGenerate(ctx); err != nil {
			return err
		}
		if _, err := generator.CleanupPastSlots(ctx); err != nil {
			return err
		}
		return nil
	default:
		logr.Warn("unknown job type", zap.String("type", job.Type))
		return nil
	}

	slots.InvalidateListings(ctx, payload.PsychologistID)
	return nil
}

// runBulkGeneration periodically enqueues the full-horizon regeneration and
// past-slot cleanup job.
func runBulkGeneration(ctx context.Context, queue *jobs.Queue, interval time.Duration, logr *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job := jobs.Job{ID: uuid.NewString(), Type: jobs.TypeBulkGeneration, Key: jobs.TypeBulkGeneration, Payload: service.GenerationPayload{}}
			if err := queue.Enqueue(job); err != nil {
				logr.Error("failed to enqueue bulk generation", zap.Error(err))
			}
		}
	}
}

func generationPayload(job jobs.Job) (service.GenerationPayload, error) {
	if payload, ok := job.Payload.(service.GenerationPayload); ok {
		return payload, nil
	}
	// Payloads that crossed a serialization boundary arrive as raw JSON.
	raw, err := json.Marshal(job.Payload)
	if err != nil {
		return service.GenerationPayload{}, fmt.Errorf("decode job payload: %w", err)
	}
	var payload service.GenerationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return service.GenerationPayload{}, fmt.Errorf("decode job payload: %w", err)
	}
	return payload, nil
}
