package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/horario-api/api/swagger"
	"github.com/noah-isme/horario-api/internal/handler"
	internalmiddleware "github.com/noah-isme/horario-api/internal/middleware"
	"github.com/noah-isme/horario-api/internal/models"
	"github.com/noah-isme/horario-api/internal/repository"
	"github.com/noah-isme/horario-api/internal/scheduler"
	"github.com/noah-isme/horario-api/internal/service"
	"github.com/noah-isme/horario-api/pkg/cache"
	"github.com/noah-isme/horario-api/pkg/config"
	"github.com/noah-isme/horario-api/pkg/database"
	"github.com/noah-isme/horario-api/pkg/jobs"
	"github.com/noah-isme/horario-api/pkg/logger"
	reqidmiddleware "github.com/noah-isme/horario-api/pkg/middleware/requestid"
)

// @title Horario API
// @version 1.0.0
// @description Automatic timetable generation for academic periods
// @BasePath /api/v1
// @schemes http

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(db.DB, logr); err != nil {
			logr.Fatal("failed to migrate database", zap.Error(err))
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, using in-process locks only", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	periodRepo := repository.NewPeriodRepository(db)
	groupRepo := repository.NewTeachingGroupRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	classroomRepo := repository.NewClassroomRepository(db)
	blockRepo := repository.NewTimeBlockRepository(db)
	assignmentRepo := repository.NewScheduleAssignmentRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	var remoteLock interface {
		Acquire(ctx context.Context, periodID string, ttl time.Duration) (string, bool, error)
		Release(ctx context.Context, periodID, token string) error
	}
	if redisClient != nil {
		remoteLock = repository.NewPeriodLockRepository(redisClient)
	}

	loader := service.NewSnapshotLoader(periodRepo, groupRepo, teacherRepo, classroomRepo, blockRepo, assignmentRepo, logr)
	materializer := service.NewAssignmentMaterializer(db, assignmentRepo, logr)
	locker := service.NewPeriodLocker(remoteLock, cfg.Generator.LockTTL, logr)
	generator := service.NewScheduleGeneratorService(loader, materializer, assignmentRepo, locker, metricsSvc, validate, logr, service.ScheduleGeneratorConfig{
		Options: scheduler.Options{
			MaxBacktracks: cfg.Generator.MaxBacktracks,
			TimeBudget:    cfg.Generator.TimeBudget,
		},
		Weights: scheduler.Weights{
			Spread: cfg.Generator.SpreadWeight,
			Gap:    cfg.Generator.GapWeight,
			Fit:    cfg.Generator.FitWeight,
		},
		MaxConflictsPerUnit: cfg.Generator.MaxConflictsPerUnit,
		LockTTL:             cfg.Generator.LockTTL,
	})

	runs := service.NewGenerationRunService(generator, cacheRepo, metricsSvc, validate, logr, service.GenerationRunConfig{RunTTL: cfg.Generator.RunTTL})
	queue := jobs.NewQueue("schedule-generation", runs.Handle, jobs.QueueConfig{
		Workers:   cfg.Generator.Workers,
		Logger:    logr,
		OnDiscard: runs.Discard,
	})
	runs.AttachQueue(queue)
	metricsSvc.RegisterQueueDepth(queue.Pending)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	queue.Start(rootCtx)

	tokens := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})
	scheduleHandler := handler.NewScheduleGeneratorHandler(generator, runs)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	generatorRoles := cfg.Generator.AllowedRoles
	if len(generatorRoles) == 0 {
		generatorRoles = []string{string(models.RoleAdmin), string(models.RoleCoordinator)}
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(tokens))
	horarios := api.Group("/horarios")
	horarios.GET("", scheduleHandler.List)
	horarios.GET("/runs/:id", scheduleHandler.GetRun)

	writers := horarios.Group("")
	writers.Use(internalmiddleware.RBAC(generatorRoles...))
	writers.POST("/generar", scheduleHandler.Generate)
	writers.POST("/generar/async", scheduleHandler.GenerateAsync)
	writers.DELETE("/runs/:id", scheduleHandler.CancelRun)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Generator.TimeBudget+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}
	queue.Stop()
}
