package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/batch-scheduler-api/api/swagger"
	"github.com/noah-isme/batch-scheduler-api/internal/handler"
	"github.com/noah-isme/batch-scheduler-api/internal/middleware"
	"github.com/noah-isme/batch-scheduler-api/internal/models"
	"github.com/noah-isme/batch-scheduler-api/internal/repository"
	"github.com/noah-isme/batch-scheduler-api/internal/service"
	"github.com/noah-isme/batch-scheduler-api/pkg/cache"
	"github.com/noah-isme/batch-scheduler-api/pkg/config"
	"github.com/noah-isme/batch-scheduler-api/pkg/database"
	"github.com/noah-isme/batch-scheduler-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/batch-scheduler-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/batch-scheduler-api/pkg/middleware/requestid"
)

// @title Batch Scheduler API
// @version 1.0.0
// @description Conflict-aware academic scheduling with coordinated bulk operations
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	entryRepo := repository.NewScheduleEntryRepository(db)
	slotRepo := repository.NewTimeSlotRepository(db)
	calendarRepo := repository.NewCalendarRepository(db)
	operationRepo := repository.NewBulkOperationRepository(db)
	logRepo := repository.NewOperationLogRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close()

	metricsSvc := service.NewMetricsService()
	detector := service.NewConflictDetector(logr)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     "batch-scheduler-api",
	})
	scheduleSvc := service.NewScheduleService(entryRepo, slotRepo, calendarRepo, detector, validate, logr)
	operationSvc := service.NewOperationService(db, operationRepo, logRepo, entryRepo, slotRepo, calendarRepo, cacheRepo, detector, metricsSvc, validate, logr, cfg.Operations)
	logSvc := service.NewOperationLogService(logRepo, operationRepo, logr)
	exportSvc := service.NewExportService(operationRepo, logRepo, logr)

	if err := operationSvc.Start(ctx); err != nil {
		logr.Sugar().Warnw("operation recovery failed", "error", err)
	}
	defer operationSvc.Stop()

	authHandler := handler.NewAuthHandler(authSvc)
	scheduleHandler := handler.NewScheduleHandler(scheduleSvc)
	operationHandler := handler.NewOperationHandler(operationSvc, logSvc, exportSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	v1 := r.Group("/api/v1")
	v1.POST("/auth/login", authHandler.Login)

	authed := v1.Group("")
	authed.Use(middleware.JWT(authSvc))

	authed.GET("/auth/me", authHandler.Me)
	authed.GET("/time-slots", scheduleHandler.Slots)
	authed.GET("/schedules", scheduleHandler.List)
	authed.GET("/schedules/:id", scheduleHandler.Get)
	authed.POST("/schedules/check", scheduleHandler.Check)
	authed.GET("/batches/:id/day", scheduleHandler.DayView)

	scheduling := authed.Group("")
	scheduling.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleScheduler))
	scheduling.POST("/schedules", scheduleHandler.Create)
	scheduling.PUT("/schedules/:id", scheduleHandler.Update)
	scheduling.DELETE("/schedules/:id", scheduleHandler.Delete)
	scheduling.POST("/operations", operationHandler.Create)

	authed.GET("/operations", operationHandler.List)
	authed.GET("/operations/:id", operationHandler.Get)
	authed.PATCH("/operations/:id", operationHandler.Control)
	authed.DELETE("/operations/:id", operationHandler.Cancel)
	authed.GET("/operations/:id/logs", operationHandler.Logs)
	authed.POST("/operations/:id/logs", operationHandler.Annotate)
	authed.GET("/operations/:id/export", operationHandler.Export)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("server shutdown failed", "error", err)
	}
}
