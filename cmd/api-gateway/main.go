package main

import (
	"context"
	"fmt"
	"log"
	"net/http/pprof"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/shiftschedule/solverapi/api/swagger"
	internalhandler "github.com/shiftschedule/solverapi/internal/handler"
	internalmiddleware "github.com/shiftschedule/solverapi/internal/middleware"
	"github.com/shiftschedule/solverapi/internal/models"
	"github.com/shiftschedule/solverapi/internal/repository"
	"github.com/shiftschedule/solverapi/internal/service"
	"github.com/shiftschedule/solverapi/internal/solverhost"
	"github.com/shiftschedule/solverapi/pkg/cache"
	"github.com/shiftschedule/solverapi/pkg/config"
	"github.com/shiftschedule/solverapi/pkg/database"
	"github.com/shiftschedule/solverapi/pkg/jobs"
	"github.com/shiftschedule/solverapi/pkg/logger"
	corsmiddleware "github.com/shiftschedule/solverapi/pkg/middleware/cors"
	reqidmiddleware "github.com/shiftschedule/solverapi/pkg/middleware/requestid"
	"github.com/shiftschedule/solverapi/pkg/storage"
)

// @title Shift Schedule Solver API
// @version 1.0.0
// @description Multi-tenant shift planning service for clinical teams
// @BasePath /
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

	metricsSvc := service.NewMetricsService()
	metricsHandler := internalhandler.NewMetricsHandler(metricsSvc)

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to initialise database", "error", err)
	}
	defer db.Close()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
		registerPprof(r)
	}

	api := r.Group(cfg.APIPrefix)

	authRepo := repository.NewUserRepository(db)
	authSvc := service.NewAuthService(authRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "shiftschedule-solverapi",
		Audience:           []string{"shiftschedule-clients"},
	})
	authHandler := internalhandler.NewAuthHandler(authSvc)

	authRoutes := api.Group("/auth")
	authRoutes.POST("/login", authHandler.Login)
	authRoutes.POST("/refresh", authHandler.Refresh)
	authRoutes.POST("/forgot-password", authHandler.ForgotPassword)
	authRoutes.POST("/reset-password", authHandler.ResetPassword)
	protectedAuth := authRoutes.Group("")
	protectedAuth.Use(internalmiddleware.JWT(authSvc))
	protectedAuth.POST("/logout", authHandler.Logout)
	protectedAuth.POST("/change-password", authHandler.ChangePassword)
	protectedAuth.GET("/me", authHandler.Me)

	userSvc := service.NewUserService(authRepo, nil, logr)
	userHandler := internalhandler.NewUserHandler(userSvc)

	scheduleRepo := repository.NewScheduleRepository(db)
	scheduleSvc := service.NewScheduleService(scheduleRepo, logr)
	scheduleHandler := internalhandler.NewScheduleHandler(scheduleSvc)

	publicationRepo := repository.NewPublicationRepository(db)
	publicationSvc := service.NewPublicationService(publicationRepo, logr)
	publicationHandler := internalhandler.NewPublicationHandler(publicationSvc)

	var cacheRepo service.CacheRepository
	if cfg.Feed.CacheEnabled {
		if client, err := cache.NewRedis(cfg.Redis); err != nil {
			logr.Sugar().Warnw("feed cache disabled", "error", err)
		} else {
			defer client.Close()
			cacheRepo = repository.NewCacheRepository(client, logr)
		}
	}
	feedCache := service.NewCacheService(cacheRepo, metricsSvc, cfg.Feed.CacheTTL, logr, cacheRepo != nil)
	feedSvc := service.NewFeedService(scheduleSvc, publicationSvc, feedCache, service.FeedConfig{
		CalendarName: cfg.Feed.CalendarName,
		CacheTTL:     cfg.Feed.CacheTTL,
	}, logr)
	feedHandler := internalhandler.NewFeedHandler(feedSvc)

	host := solverhost.New(solverhost.Config{
		ProgressQueueCapacity:   cfg.Solver.ProgressQueueCapacity,
		SubscriberQueueCapacity: cfg.Solver.SSEQueueCapacity,
		MonitorInterval:         cfg.Solver.MonitorInterval,
		WatchdogTimeout:         cfg.Solver.WatchdogTimeout,
		GracefulStopTimeout:     cfg.Solver.GracefulStopTimeout,
		ForcedStopTimeout:       cfg.Solver.ForcedStopTimeout,
		DebugDumpDir:            cfg.Solver.DebugDumpDir,
	}, logr, solverhost.WithGauges(metricsSvc.SetActiveSolves, metricsSvc.SetSSESubscribers))
	solveSvc := service.NewSolveService(scheduleSvc, host, nil, logr)
	solverHandler := internalhandler.NewSolverHandler(solveSvc)

	// Public calendar feed: the token is the credential, no JWT.
	r.GET("/feed/:token/calendar.ics", feedHandler.Calendar)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(authSvc))

	usersGroup := secured.Group("/users")
	usersGroup.GET("", internalmiddleware.RBAC(string(models.RoleAdmin), string(models.RoleSuperAdmin)), userHandler.List)
	usersGroup.POST("", internalmiddleware.RBAC(string(models.RoleAdmin), string(models.RoleSuperAdmin)), userHandler.Create)
	usersGroup.GET("/:id", internalmiddleware.RBAC("SELF", string(models.RoleAdmin), string(models.RoleSuperAdmin)), userHandler.Get)
	usersGroup.PUT("/:id", internalmiddleware.RBAC(string(models.RoleAdmin), string(models.RoleSuperAdmin)), userHandler.Update)
	usersGroup.DELETE("/:id", internalmiddleware.RBAC(string(models.RoleSuperAdmin)), userHandler.Delete)

	scheduleGroup := secured.Group("/schedule")
	scheduleGroup.Use(internalmiddleware.WithResponseMeta())
	scheduleGroup.GET("", scheduleHandler.Get)
	scheduleGroup.PUT("", internalmiddleware.RBAC(string(models.RoleScheduler), string(models.RoleAdmin), string(models.RoleSuperAdmin)), scheduleHandler.Save)
	scheduleGroup.POST("/assignments/apply", internalmiddleware.RBAC(string(models.RoleScheduler), string(models.RoleAdmin), string(models.RoleSuperAdmin)), scheduleHandler.ApplyAssignments)
	scheduleGroup.POST("/publish", internalmiddleware.RBAC(string(models.RoleScheduler), string(models.RoleAdmin), string(models.RoleSuperAdmin)), scheduleHandler.PublishWeek)
	scheduleGroup.POST("/solve", internalmiddleware.RBAC(string(models.RoleScheduler), string(models.RoleAdmin), string(models.RoleSuperAdmin)), solverHandler.Solve)
	scheduleGroup.POST("/solve/abort", internalmiddleware.RBAC(string(models.RoleScheduler), string(models.RoleAdmin), string(models.RoleSuperAdmin)), solverHandler.Abort)
	scheduleGroup.GET("/solve/progress", solverHandler.Progress)

	publicationGroup := secured.Group("/publication")
	publicationGroup.GET("", publicationHandler.Get)
	publicationGroup.POST("/rotate", internalmiddleware.RBAC(string(models.RoleScheduler), string(models.RoleAdmin), string(models.RoleSuperAdmin)), publicationHandler.Rotate)
	publicationGroup.POST("/clinicians/:id/rotate", internalmiddleware.RBAC(string(models.RoleScheduler), string(models.RoleAdmin), string(models.RoleSuperAdmin)), publicationHandler.RotateClinician)

	if cfg.Reports.Enabled {
		reportRepo := repository.NewReportRepository(db)
		fileStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init report storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
		exportCfg := service.ExportConfig{APIPrefix: cfg.APIPrefix, ResultTTL: cfg.Reports.SignedURLTTL}
		exportSvc := service.NewExportService(scheduleSvc, fileStore, signer, exportCfg, logr, nil, nil)
		reportWorker := service.NewReportWorker(reportRepo, exportSvc, cfg.Reports.WorkerRetries, logr)
		workers := cfg.Reports.WorkerConcurrency
		if workers <= 0 {
			workers = 1
		}
		queueCfg := jobs.QueueConfig{
			Workers:    workers,
			BufferSize: workers * 4,
			MaxRetries: cfg.Reports.WorkerRetries,
			RetryDelay: 5 * time.Second,
			Logger:     logr,
		}
		queueCtx, cancel := context.WithCancel(context.Background())
		reportQueue := jobs.NewQueue("reports", reportWorker.Handle, queueCfg)
		reportQueue.Start(queueCtx)
		defer func() {
			cancel()
			reportQueue.Stop()
		}()
		reportSvc := service.NewReportService(reportRepo, reportQueue, exportSvc, logr, service.ReportServiceConfig{
			ResultTTL:       cfg.Reports.SignedURLTTL,
			CleanupInterval: cfg.Reports.CleanupInterval,
			MaxRetries:      cfg.Reports.WorkerRetries,
		})
		reportSvc.RecoverPendingJobs(queueCtx)
		reportSvc.StartCleanup(queueCtx)
		reportHandler := internalhandler.NewReportHandler(reportSvc)

		reportsGroup := secured.Group("/reports")
		reportsGroup.POST("/generate", internalmiddleware.RBAC(string(models.RoleScheduler), string(models.RoleAdmin), string(models.RoleSuperAdmin)), reportHandler.GenerateReport)
		reportsGroup.GET("/status/:id", internalmiddleware.RBAC(string(models.RoleScheduler), string(models.RoleAdmin), string(models.RoleSuperAdmin)), reportHandler.ReportStatus)
		secured.GET("/export/:token", reportHandler.DownloadReport)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

func registerPprof(r *gin.Engine) {
	group := r.Group("/debug/pprof")
	group.GET("/", gin.WrapF(pprof.Index))
	group.GET("/cmdline", gin.WrapF(pprof.Cmdline))
	group.GET("/profile", gin.WrapF(pprof.Profile))
	group.POST("/symbol", gin.WrapF(pprof.Symbol))
	group.GET("/symbol", gin.WrapF(pprof.Symbol))
	group.GET("/trace", gin.WrapF(pprof.Trace))
	group.GET("/allocs", gin.WrapH(pprof.Handler("allocs")))
	group.GET("/block", gin.WrapH(pprof.Handler("block")))
	group.GET("/goroutine", gin.WrapH(pprof.Handler("goroutine")))
	group.GET("/heap", gin.WrapH(pprof.Handler("heap")))
	group.GET("/mutex", gin.WrapH(pprof.Handler("mutex")))
	group.GET("/threadcreate", gin.WrapH(pprof.Handler("threadcreate")))
}
