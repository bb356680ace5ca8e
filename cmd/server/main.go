package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"contactform/backend/internal/archive"
	jwtpkg "contactform/backend/internal/auth/jwt"
	"contactform/backend/internal/config"
	"contactform/backend/internal/health"
	"contactform/backend/internal/janitor"
	"contactform/backend/internal/logger"
	"contactform/backend/internal/mailer"
	"contactform/backend/internal/monitoring"
	"contactform/backend/internal/notification"
	"contactform/backend/internal/service"
	"contactform/backend/internal/storage"
	"contactform/backend/internal/storage/filesystem"
	httptransport "contactform/backend/internal/transport/http"
	"contactform/backend/internal/upload"
	"contactform/backend/internal/websocket"
)

// main 启动联系表单提交服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting contact form server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.String("submission_log", cfg.SubmissionLog.Type),
	)

	// 上传文件临时目录
	uploadStore, err := filesystem.NewStore(cfg.Upload.Dir)
	if err != nil {
		log.Fatal("failed to initialize upload storage", zap.Error(err))
	}
	if stats, err := uploadStore.GetStorageStats(); err == nil {
		log.Info("upload storage initialized",
			zap.String("path", stats.BasePath),
			zap.Int("leftover_files", stats.FileCount),
			zap.Float64("leftover_mb", stats.TotalMB),
		)
	}

	submissionLog, err := storage.NewSubmissionLog(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize submission log", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 归档（可选）
	var archiver archive.Archiver
	var gcsArchiver *archive.GCSArchiver
	if cfg.Archive.Bucket != "" {
		gcsArchiver, err = archive.NewGCSArchiver(ctx, cfg.Archive.Bucket, cfg.Archive.Prefix, uploadStore, log.Named("archive"))
		if err != nil {
			log.Fatal("failed to initialize archive", zap.Error(err))
		}
		archiver = gcsArchiver
		log.Info("upload archiving enabled",
			zap.String("bucket", cfg.Archive.Bucket),
			zap.String("prefix", cfg.Archive.Prefix))
	}

	dispatcher := newDispatcher(cfg, uploadStore, log)

	// 管理令牌（未配置密钥时管理端点不做认证）
	var jwtManager *jwtpkg.Manager
	var tokenValidator websocket.TokenValidator
	if cfg.Admin.JWTSecret != "" {
		jwtManager = jwtpkg.NewManager(cfg.Admin.JWTSecret, cfg.Admin.Issuer, cfg.Admin.TokenExpiry)
		tokenValidator = jwtManager
		log.Info("admin authentication enabled",
			zap.String("issuer", cfg.Admin.Issuer),
			zap.Duration("token_expiry", cfg.Admin.TokenExpiry))
	} else {
		log.Warn("CONTACTFORM_ADMIN_JWT_SECRET not set, admin endpoints are unauthenticated")
	}

	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, tokenValidator, log.Named("websocket"))
	metrics := monitoring.NewMetrics(wsHub.ClientCount)

	receiver := upload.NewReceiver(upload.Config{
		MaxBytes:         cfg.Upload.MaxBytes,
		FieldNames:       cfg.Upload.FieldNames,
		AllowedMimeTypes: cfg.Upload.AllowedMimeTypes,
	}, uploadStore, log.Named("upload"))

	cleanup := service.NewCleanupCoordinator(uploadStore, archiver, metrics, log.Named("cleanup"))

	submissionService := service.NewSubmissionService(service.SubmissionDeps{
		Receiver:        receiver,
		Composer:        notification.NewComposer(cfg.Mail.SubjectPrefix),
		Dispatcher:      dispatcher,
		Log:             submissionLog,
		Cleanup:         cleanup,
		Notifier:        wsHub,
		Metrics:         metrics,
		DispatchTimeout: cfg.Mail.Timeout,
		Logger:          log.Named("submission"),
	})

	healthChecker := health.NewHealthChecker(map[string]health.Checkable{
		"upload_dir":     health.CheckFunc(uploadStore.Check),
		"submission_log": submissionLog,
	}, log)

	sweeper := janitor.New(uploadStore, archiver, cfg.Janitor.MaxAge, metrics, log.Named("janitor"))

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:       cfg,
		Submissions:  submissionService,
		JWTManager:   jwtManager,
		WebSocketHub: wsHub,
		Health:       healthChecker,
		Metrics:      metrics,
		Logger:       log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.RequestTimeout,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 孤立上传文件清理
	group.Go(func() error {
		if err := sweeper.Start(groupCtx, cfg.Janitor.Schedule); err != nil {
			log.Error("failed to start upload janitor", zap.Error(err))
			return err
		}
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// 等待进行中的提交完成（包括发送与清理）
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		sweeper.Stop()

		if err := submissionLog.Close(); err != nil {
			log.Warn("submission log close warning", zap.Error(err))
		}
		if gcsArchiver != nil {
			if err := gcsArchiver.Close(); err != nil {
				log.Warn("archive client close warning", zap.Error(err))
			}
		}

		log.Info("server stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// newDispatcher 根据配置选择通知投递方式
//
// 未配置 SMTP 主机时退化为只记录日志，便于本地开发。
func newDispatcher(cfg *config.Config, opener mailer.AttachmentOpener, log *zap.Logger) mailer.Dispatcher {
	if cfg.Mail.Host == "" {
		log.Warn("CONTACTFORM_MAIL_HOST not set, notifications will only be logged")
		return mailer.NewLogDispatcher(log.Named("mailer"))
	}

	log.Info("SMTP relay configured",
		zap.String("host", cfg.Mail.Host),
		zap.Int("port", cfg.Mail.Port),
		zap.String("tls_mode", cfg.Mail.TLSMode),
		zap.String("recipient", cfg.Mail.Recipient),
	)

	return mailer.NewSMTPDispatcher(mailer.SMTPConfig{
		Host:        cfg.Mail.Host,
		Port:        cfg.Mail.Port,
		Username:    cfg.Mail.Username,
		Password:    cfg.Mail.Password,
		TLSMode:     cfg.Mail.TLSMode,
		HelloDomain: cfg.Mail.HelloDomain,
		Timeout:     cfg.Mail.Timeout,
		Envelope: mailer.Envelope{
			From:     cfg.Mail.From,
			FromName: cfg.Mail.FromName,
			To:       cfg.Mail.Recipient,
		},
	}, opener, log.Named("mailer"))
}
