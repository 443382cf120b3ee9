package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/mmdatafocus/fieldreport_backend/reporting"
	"github.com/mmdatafocus/fieldreport_backend/utils"
	"github.com/mmdatafocus/fieldreport_backend/workflow"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

const (
	headerTechnicianId   = "x-technician-id"
	headerTechnicianName = "x-technician-name"
	headerCorrelationId  = "x-correlation-id"
	headerIdempotencyKey = "idempotency-key"
)

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// identityMiddleware copies the already authenticated technician and the correlation id onto the request context.
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		cid := c.GetHeader(headerCorrelationId)
		if cid == "" {
			cid = uuid.NewString()
		}
		ctx = utils.SetCorrelationIdInContext(ctx, cid)
		if id := strings.TrimSpace(c.GetHeader(headerTechnicianId)); id != "" {
			ctx = utils.SetTechnicianIdInContext(ctx, id)
		}
		if name := strings.TrimSpace(c.GetHeader(headerTechnicianName)); name != "" {
			ctx = utils.SetTechnicianNameInContext(ctx, name)
		}
		if key := strings.TrimSpace(c.GetHeader(headerIdempotencyKey)); key != "" {
			ctx = utils.SetIdempotencyKeyInContext(ctx, key)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Header(headerCorrelationId, cid)
		c.Next()
	}
}

// readinessMiddleware answers 503 until the database and Redis are connected.
func readinessMiddleware(ready func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if !ready() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	}
}

func corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	// In production only the CORS_ALLOWED_ORIGINS allowlist is accepted; elsewhere any origin.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", headerTechnicianId, headerTechnicianName, headerCorrelationId, headerIdempotencyKey)
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", headerCorrelationId)
	corsConfig.AllowCredentials = true
	return corsConfig
}

// newRouter wires the middleware chain and the report routes.
func newRouter(api *reportAPI, ready func() bool, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(identityMiddleware())
	r.Use(readinessMiddleware(ready))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.Use(cors.New(corsConfig()))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		r.Use(rateLimiterFromEnv().RateLimitMiddleware)
	}
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api.register(r)
	r.POST("/pubsub", api.reportEventsPushHandler())
	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()
	settings := config.LoadSettings()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// The api is filled in once the database is reachable; until then the readiness gate answers 503.
	api := &reportAPI{}
	ready := func() bool {
		return config.GetDB() != nil && config.GetRedisDB() != nil && api.ready()
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: newRouter(api, ready, logger),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal("AutoMigrate failed: " + err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	equipment := models.NewEquipmentDirectory(db, settings.EquipmentCacheTTL)
	store := models.NewReportStore(db, utils.GCSObjectStorage{}, reporting.NewPDFRenderer(equipment))
	api.setup(workflow.Deps{
		Store:     store,
		Equipment: equipment,
		Notifier:  workflow.NotifierFromSettings(settings),
		Locker:    workflow.NewRedisSessionLocker(config.GetRedisLock(), settings.SessionLockTTL),
		Settings:  &settings,
		Logger:    logger,
	}, func(ctx context.Context, reportId string) ([]*models.History, error) {
		return models.ListHistory(ctx, db, reportId)
	})

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on port ", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	config.ClosePubSub()
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
