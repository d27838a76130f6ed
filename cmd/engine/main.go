package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"clawback/internal/client/classifier"
	"clawback/internal/config"
	cronrunner "clawback/internal/cron"
	"clawback/internal/db"
	"clawback/internal/detector"
	"clawback/internal/finding"
	"clawback/internal/handler"
	"clawback/internal/jobs"
	"clawback/internal/ledger"
	"clawback/internal/logger"
	"clawback/internal/notify"
	"clawback/internal/queue"
	"clawback/internal/reconcile"
	gormrepository "clawback/internal/repository/gorm"
	"clawback/internal/service"

	_ "clawback/docs"
)

// @title Clawback Engine API
// @version 1.0
// @description Marketplace event reconciliation and claim-detection engine.
func main() {
	cfgPath := os.Getenv("CB_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("CB_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	dedupEngine := &ledger.Engine{Repo: store, Logger: logger}
	ingestSvc := &service.ReportIngestService{
		Repo:         store,
		Engine:       dedupEngine,
		Logger:       logger,
		MaxBatchRows: cfg.Ingest.MaxBatchRows,
	}
	reporter := &reconcile.Reporter{Repo: store, Logger: logger}
	findingMgr := &finding.Manager{Repo: store, Logger: logger}

	classifierHTTP := &http.Client{Timeout: cfg.Classifier.Timeout}
	classifierClient := classifier.NewClient(classifierHTTP, cfg.Classifier.BaseURL)

	suite := &detector.Suite{
		Logger: logger,
		Detectors: []detector.Detector{
			&detector.FeeMisclassificationDetector{Logger: logger},
			&detector.RefundShortfallDetector{Logger: logger},
			&detector.ReimbursementAuditDetector{Logger: logger},
			&detector.ClassifierBridgeDetector{Client: classifierClient, Logger: logger},
		},
	}
	runner := &jobs.Runner{
		Repo:           store,
		Suite:          suite,
		Findings:       findingMgr,
		Logger:         logger,
		ScanWindowDays: cfg.Detection.ScanWindowDays,
	}

	var queueClient *queue.Client
	var queuedExec jobs.Executor
	if cfg.Queue.Enabled {
		queueClient, err = queue.NewClient(cfg.Queue.Host, cfg.Queue.Port, cfg.Queue.Namespace, cfg.Queue.Token)
		if err != nil {
			logger.Warn("queue init failed, jobs will run directly", zap.Error(err))
		} else {
			queuedExec = &jobs.QueuedExecutor{
				Queue:     queueClient,
				QueueName: cfg.Queue.QueueName,
				TTL:       cfg.Queue.JobTTL,
				Tries:     uint16(cfg.Queue.Tries),
			}
		}
	}
	jobSvc := &jobs.Service{
		Repo:    store,
		Queued:  queuedExec,
		Direct:  &jobs.DirectExecutor{Runner: runner},
		Logger:  logger,
		RunWait: cfg.Detection.JobTimeout,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	notifyClient := initNotifyClient(logger)
	engine.Use(notify.RequireBearerMiddleware())
	engine.Use(notify.InjectClientMiddleware(notifyClient))
	engine.Use(notify.WriteAuditMiddleware(notifyClient, logger))

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	notify.RegisterDocs(engine)

	reportHandler := &handler.ReportHandler{Service: ingestSvc, Logger: logger}
	reportHandler.Register(engine)
	ledgerHandler := &handler.LedgerHandler{Repo: store, Reporter: reporter}
	ledgerHandler.Register(engine)
	findingHandler := &handler.FindingHandler{Repo: store, Manager: findingMgr}
	findingHandler.Register(engine)
	jobHandler := &handler.JobHandler{Service: jobSvc}
	jobHandler.Register(engine)
	settingsHandler := &handler.SettingsHandler{Repo: store, Settings: settingsSvc}
	settingsHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseCtx := ctx
	if notifyClient != nil {
		baseCtx = notify.WithClient(ctx, notifyClient)
	}

	var worker *jobs.Worker
	if queueClient != nil && settingsSvc.IsEnabled(baseCtx, service.FeatureQueue, true) {
		worker = &jobs.Worker{
			Queue:       queueClient,
			QueueName:   cfg.Queue.QueueName,
			Runner:      runner,
			Logger:      logger,
			Concurrency: cfg.Queue.Concurrency,
			PollTimeout: cfg.Queue.PollTimeout,
			TTR:         cfg.Queue.TTR,
			JobTimeout:  cfg.Detection.JobTimeout,
			BaseCtx:     baseCtx,
		}
		worker.Start()
	}

	cronRunner := cronrunner.New(logger, baseCtx)
	if cfg.Cron.Enabled {
		_, err = cronRunner.Add(cfg.Cron.FindingSweep, func(ctx context.Context) {
			if !settingsSvc.IsEnabled(ctx, service.FeatureFindingSweep, true) {
				return
			}
			if err := findingMgr.Sweep(ctx, time.Now().UTC()); err != nil {
				logger.Warn("finding sweep failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register finding sweep failed", zap.Error(err))
		}
		_, err = cronRunner.Add(cfg.Cron.StuckJobs, func(ctx context.Context) {
			if !settingsSvc.IsEnabled(ctx, service.FeatureStuckRecovery, true) {
				return
			}
			if err := jobSvc.RecoverStuck(ctx, time.Now().UTC()); err != nil {
				logger.Warn("stuck job recovery failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register stuck job recovery failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	if worker != nil {
		worker.Shutdown()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func initNotifyClient(logger *zap.Logger) *notify.Client {
	base := strings.TrimSpace(os.Getenv("CB_NOTIFY_BASE"))
	apiKey := strings.TrimSpace(os.Getenv("CB_NOTIFY_API_KEY"))
	if base == "" || apiKey == "" {
		return nil
	}

	client := &notify.Client{BaseURL: base, APIKey: apiKey}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Login(ctx); err != nil {
		if logger != nil {
			logger.Warn("notify login failed (events disabled)", zap.Error(err))
		}
		return nil
	}
	if logger != nil {
		logger.Info("notify login ok")
	}
	return client
}
