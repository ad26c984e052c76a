package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"attendgate/internal/auth"
	"attendgate/internal/config"
	"attendgate/internal/handler"
	"attendgate/internal/httpmiddleware"
	"attendgate/internal/imagestore"
	"attendgate/internal/logging"
	"attendgate/internal/metrics"
	"attendgate/internal/oracle"
	"attendgate/internal/queue"
	"attendgate/internal/roster"
	"attendgate/internal/store"
	"attendgate/internal/submission"
	"attendgate/internal/verification"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	db, err := store.NewDB(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		logger.Warn("db not reachable, keeping the queue in memory", zap.Error(err))
		if db != nil {
			_ = db.Close()
		}
		db = nil
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)

	var intents queue.Queue
	if cfg.QueueBackend == "memory" {
		intents = queue.NewInMemory(64)
	} else {
		intents = queue.NewRedisQueue(redisClient.Client, "attendgate:intents")
	}

	var vq verification.Queue
	if db != nil {
		vq = verification.NewRepository(db.Client)
	} else {
		vq = verification.NewMemory()
	}

	mets := metrics.New(nil)

	orc := oracle.New(cfg.OracleURL, cfg.OracleTimeout, cfg.OracleSkip)
	ros := roster.New(cfg.RosterURL)

	var images imagestore.Store = imagestore.Inline{}
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		images = imagestore.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		logger.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		logger.Info("cloudinary not configured, storing reference photos inline")
	}

	flow := submission.NewFlow(ros, ros, orc, vq, logger, mets)
	approvals := verification.NewService(vq, intents, logger, mets)
	h := handler.New(flow, approvals, ros, orc, images, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.GinMiddleware(logger, "/healthz", "/metrics"))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/tokens", h.Tokens)

	authed := r.Group("/v1", auth.Authenticated(cfg.JWTSigningKey, cfg.JWTIssuer))

	student := authed.Group("", auth.RequireRole(auth.RoleStudent))
	student.POST("/verifications", h.SubmitVerification)
	student.POST("/enrollments", h.Enroll)

	teacher := authed.Group("", auth.RequireRole(auth.RoleTeacher))
	teacher.GET("/verifications", h.ListVerifications)
	teacher.GET("/verifications/:id", h.GetVerification)
	teacher.POST("/verifications/:id/approve", h.Approve)
	teacher.POST("/verifications/:id/reject", h.Reject)

	admin := authed.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/classes", h.CreateClass)
	admin.POST("/users", h.CreateUser)

	authed.GET("/classes", h.ListClasses)
	authed.GET("/users", h.ListUsers)
	authed.GET("/reports/attendance.csv", h.AttendanceCSV)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}

	logger.Info("server exited")
	return nil
}

// CORS middleware for browser requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production.
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
