package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/edusync/attendance-api/api/swagger"
	"github.com/edusync/attendance-api/internal/handler"
	"github.com/edusync/attendance-api/internal/middleware"
	"github.com/edusync/attendance-api/internal/repository"
	"github.com/edusync/attendance-api/internal/service"
	"github.com/edusync/attendance-api/pkg/cache"
	"github.com/edusync/attendance-api/pkg/config"
	"github.com/edusync/attendance-api/pkg/database"
	"github.com/edusync/attendance-api/pkg/jobs"
	"github.com/edusync/attendance-api/pkg/logger"
	corsmiddleware "github.com/edusync/attendance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/edusync/attendance-api/pkg/middleware/requestid"
	"github.com/edusync/attendance-api/pkg/sms"
)

// @title Attendance Reconciliation API
// @version 1.0.0
// @description Camera vs teacher attendance reconciliation service
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, projections are uncached", "error", err)
		redisClient = nil
	}

	eventRepo := repository.NewEventRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	smsLogRepo := repository.NewSMSLogRepository(db)
	schoolRepo := repository.NewSchoolRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, cfg.JWT, logr)
	ingestSvc := service.NewIngestService(eventRepo, ledgerRepo, historyRepo, studentRepo, cacheRepo, metricsSvc, service.IngestServiceConfig{
		AcceptTest:    cfg.Ingest.AcceptTest,
		MaxClockSkew:  cfg.Ingest.MaxClockSkew,
		StatsCacheTTL: cfg.Ingest.StatsCacheTTL,
	}, nil, logr)
	markSvc := service.NewMarkService(ledgerRepo, historyRepo, studentRepo, cacheRepo, nil, logr)
	finalizerSvc := service.NewFinalizerService(ledgerRepo, historyRepo, studentRepo, schoolRepo, cacheRepo, metricsSvc, cfg.Finalizer.DefaultCutoff, cfg.Finalizer.GraceWindow, logr)
	reconcileSvc := service.NewReconcileService(ledgerRepo, cacheRepo, cfg.Reconcile.CacheTTL, logr)
	notifierSvc := service.NewNotifierService(ledgerRepo, smsLogRepo, schoolRepo, sms.NewClient(cfg.Notifier), metricsSvc, cfg.Notifier.SenderName, cfg.Notifier.MessageTemplate, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	eventHandler := handler.NewEventHandler(ingestSvc, schoolRepo)
	attendanceHandler := handler.NewAttendanceHandler(markSvc, reconcileSvc, finalizerSvc, schoolRepo)
	smsHandler := handler.NewSMSHandler(notifierSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

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
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Business routes live under the configured prefix; probes, metrics and
	// docs stay at the root.
	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)

	device := api.Group("/ingest")
	device.Use(middleware.DeviceAuth(schoolRepo, cfg.Ingest.APIKeyHeader))
	device.POST("/events", eventHandler.Ingest)

	authed := api.Group("/")
	authed.Use(middleware.JWT(authSvc))
	{
		authed.GET("/auth/me", authHandler.Me)

		authed.GET("/events", eventHandler.List)
		authed.GET("/events/stats", eventHandler.Stats)

		authed.GET("/attendance/day", attendanceHandler.Day)
		authed.GET("/attendance/history", attendanceHandler.History)
		authed.POST("/attendance/mark", attendanceHandler.Mark)
		authed.GET("/attendance/suggestions", attendanceHandler.Suggestions)
		authed.GET("/attendance/reconciliation", attendanceHandler.Reconciliation)
		authed.GET("/attendance/reconciliation/export", attendanceHandler.ReconciliationExport)

		authed.GET("/sms/logs", smsHandler.Logs)
		authed.GET("/sms/overview", smsHandler.Overview)

		admin := authed.Group("/")
		admin.Use(middleware.RequireAdmin())
		{
			admin.POST("/attendance/finalize", attendanceHandler.Finalize)
			admin.POST("/sms/dispatch", smsHandler.Dispatch)
			admin.POST("/sms/test", smsHandler.Test)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dispatchQueue *jobs.Queue
	var scheduler *service.Scheduler
	if cfg.Finalizer.Enabled {
		if cfg.Notifier.Enabled {
			dispatchQueue = jobs.NewQueue("absence-dispatch", service.DispatchJobHandler(notifierSvc, logr), jobs.QueueConfig{
				Workers: cfg.Notifier.WorkerConcurrency,
				Logger:  logr,
			})
			dispatchQueue.Start(ctx)
		}
		scheduler = service.NewScheduler(finalizerSvc, dispatchQueue, cfg.Finalizer.TickInterval, logr)
		scheduler.Start(ctx)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	if scheduler != nil {
		scheduler.Stop()
	}
	if dispatchQueue != nil {
		dispatchQueue.Stop()
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		logr.Sugar().Errorw("shutdown failed", "error", err)
	}
}
