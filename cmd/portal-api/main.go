package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/campushq/portal-api/api/swagger"
	"github.com/campushq/portal-api/internal/gateway"
	"github.com/campushq/portal-api/internal/handler"
	"github.com/campushq/portal-api/internal/middleware"
	"github.com/campushq/portal-api/internal/models"
	"github.com/campushq/portal-api/internal/repository"
	"github.com/campushq/portal-api/internal/service"
	"github.com/campushq/portal-api/pkg/cache"
	"github.com/campushq/portal-api/pkg/config"
	"github.com/campushq/portal-api/pkg/database"
	"github.com/campushq/portal-api/pkg/logger"
	corsmiddleware "github.com/campushq/portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campushq/portal-api/pkg/middleware/requestid"
	"github.com/campushq/portal-api/pkg/storage"
)

// @title Campus Portal API
// @version 0.1.0
// @description Core service for the academic program portal
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
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	store, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init upload storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Uploads.SignedURLSecret, cfg.Uploads.SignedURLTTL)

	users := repository.NewUserRepository(db)
	roles := repository.NewRoleDirectoryRepository(db)
	assignments := repository.NewAssignmentRepository(db)
	submissions := repository.NewSubmissionRepository(db)
	notifications := repository.NewNotificationRepository(db)
	roster := repository.NewRosterRepository(db)

	identity := gateway.NewJWTIdentity(users, redisClient, logr, gateway.Config{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})

	sessionSvc := service.NewSessionService(identity, roles, nil, logr, cfg.JWT.Expiration)
	submissionSvc := service.NewSubmissionService(submissions, assignments, roster, store, signer, nil, logr, cfg.Uploads.AllowedMIMEs)
	notificationSvc := service.NewNotificationService(notifications, roster, redisClient, cfg.Uploads.UnreadCacheTTL, nil, logr)
	metricsSvc := service.NewMetricsService()

	authHandler := handler.NewAuthHandler(sessionSvc)
	submissionHandler := handler.NewSubmissionHandler(submissionSvc, metricsSvc, cfg.Uploads.MaxFileSizeBytes)
	notificationHandler := handler.NewNotificationHandler(notificationSvc, metricsSvc)

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
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/logout", middleware.Auth(sessionSvc), authHandler.Logout)
	auth.GET("/session", middleware.Auth(sessionSvc), authHandler.Session)

	// Signed tokens carry their own authorization.
	api.GET("/files/:token", submissionHandler.Download)

	authed := api.Group("", middleware.Auth(sessionSvc))

	subs := authed.Group("/submissions")
	subs.POST("", middleware.RequireRoles(models.RoleStudent), submissionHandler.Submit)
	subs.GET("/student/:id", submissionHandler.ListForStudent)
	subs.GET("/mine", middleware.RequireRoles(models.RoleTeacher), submissionHandler.ListMine)
	subs.GET("/course/:course", middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin), submissionHandler.ListForCourse)
	subs.GET("/course/:course/report", middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin), submissionHandler.ExportReport)
	subs.POST("/:id/grade", middleware.RequireRoles(models.RoleTeacher), submissionHandler.Grade)
	subs.GET("/:id/file", submissionHandler.DownloadURL)

	notifs := authed.Group("/notifications")
	notifs.GET("", notificationHandler.List)
	notifs.POST("/broadcast", middleware.RequireRoles(models.RoleTeacher), notificationHandler.Broadcast)
	notifs.POST("/:id/read", notificationHandler.MarkRead)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
