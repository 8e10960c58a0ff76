package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ledgerlinkhq/invoicebridge_backend/adminapi"
	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"github.com/ledgerlinkhq/invoicebridge_backend/ingest"
	"github.com/ledgerlinkhq/invoicebridge_backend/middlewares"
	"github.com/ledgerlinkhq/invoicebridge_backend/models"
	"github.com/ledgerlinkhq/invoicebridge_backend/quickbooks"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
	"github.com/ledgerlinkhq/invoicebridge_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/readyz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "X-API-Key", "X-Event-Id", "X-Event-Type")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	// Webhook intake and Pub/Sub push consumers.
	r.POST("/webhooks/:sourceId", ingest.WebhookHandler())
	r.POST("/pubsub/transform", ingest.TransformPushHandler())
	r.POST("/pubsub/deliver", quickbooks.DeliveryPushHandler())

	// QuickBooks OAuth and connection management.
	r.GET("/quickbooks/connect", quickbooks.AuthorizeHandler())
	r.GET("/quickbooks/callback", quickbooks.CallbackHandler())
	r.POST("/quickbooks/disconnect", quickbooks.DisconnectHandler())
	r.GET("/quickbooks/connections", quickbooks.ListConnectionsHandler())

	// Sessions and accounts.
	r.POST("/api/login", adminapi.LoginHandler())
	r.POST("/api/token", adminapi.TokenHandler())
	r.POST("/api/logout", adminapi.LogoutHandler())
	r.POST("/api/change-password", adminapi.ChangePasswordHandler())
	r.GET("/api/users", adminapi.ListUsersHandler())
	r.POST("/api/users", adminapi.CreateUserHandler())
	r.GET("/api/users/:id", adminapi.GetUserHandler())
	r.PUT("/api/users/:id", adminapi.UpdateUserHandler())
	r.DELETE("/api/users/:id", adminapi.DeleteUserHandler())

	// Webhook sources.
	r.GET("/api/sources", adminapi.ListSourcesHandler())
	r.POST("/api/sources", adminapi.CreateSourceHandler())
	r.GET("/api/sources/:id", adminapi.GetSourceHandler())
	r.PUT("/api/sources/:id", adminapi.UpdateSourceHandler())
	r.DELETE("/api/sources/:id", adminapi.DeleteSourceHandler())
	r.POST("/api/sources/:id/rotate-key", adminapi.RotateSourceKeyHandler())
	r.POST("/api/sources/:id/activate", adminapi.ToggleSourceHandler(true))
	r.POST("/api/sources/:id/deactivate", adminapi.ToggleSourceHandler(false))

	// Mapping configuration layers.
	r.GET("/api/mapping-templates", adminapi.ListMappingTemplatesHandler())
	r.POST("/api/mapping-templates", adminapi.CreateMappingTemplateHandler())
	r.GET("/api/mapping-templates/:id", adminapi.GetMappingTemplateHandler())
	r.PUT("/api/mapping-templates/:id", adminapi.UpdateMappingTemplateHandler())
	r.DELETE("/api/mapping-templates/:id", adminapi.DeleteMappingTemplateHandler())
	r.POST("/api/mapping-templates/:id/activate", adminapi.ToggleMappingTemplateHandler(true))
	r.POST("/api/mapping-templates/:id/deactivate", adminapi.ToggleMappingTemplateHandler(false))

	r.GET("/api/mapping-overrides", adminapi.ListMappingOverridesHandler())
	r.POST("/api/mapping-overrides", adminapi.CreateMappingOverrideHandler())
	r.GET("/api/mapping-overrides/:id", adminapi.GetMappingOverrideHandler())
	r.PUT("/api/mapping-overrides/:id", adminapi.UpdateMappingOverrideHandler())
	r.DELETE("/api/mapping-overrides/:id", adminapi.DeleteMappingOverrideHandler())
	r.POST("/api/mapping-overrides/:id/activate", adminapi.ToggleMappingOverrideHandler(true))
	r.POST("/api/mapping-overrides/:id/deactivate", adminapi.ToggleMappingOverrideHandler(false))

	r.PUT("/api/source-mappings", adminapi.SetSourceMappingHandler())
	r.GET("/api/source-mappings/:sourceId", adminapi.GetSourceMappingHandler())
	r.DELETE("/api/source-mappings/:sourceId", adminapi.DeleteSourceMappingHandler())
	r.POST("/api/source-mappings/:sourceId/activate", adminapi.ToggleSourceMappingHandler(true))
	r.POST("/api/source-mappings/:sourceId/deactivate", adminapi.ToggleSourceMappingHandler(false))

	// Entity reference directory.
	r.GET("/api/entity-refs", adminapi.ListEntityRefsHandler())
	r.POST("/api/entity-refs", adminapi.CreateEntityRefHandler())
	r.PUT("/api/entity-refs/:id", adminapi.UpdateEntityRefHandler())
	r.DELETE("/api/entity-refs/:id", adminapi.DeleteEntityRefHandler())
	r.POST("/api/entity-refs/import", adminapi.ImportEntityRefsHandler())

	// Pipeline visibility and dry runs.
	r.GET("/api/effective-mapping", adminapi.GetEffectiveMappingHandler())
	r.POST("/api/effective-mapping/preview", adminapi.PreviewMappingHandler())
	r.POST("/api/transform-test", adminapi.TransformTestHandler())

	r.GET("/api/webhook-events", adminapi.ListWebhookEventsHandler())
	r.GET("/api/webhook-events/:id", adminapi.GetWebhookEventHandler())
	r.POST("/api/webhook-events/:id/replay", adminapi.ReplayWebhookEventHandler())
	r.GET("/api/webhook-events/:id/archive-url", adminapi.GetEventArchiveURLHandler())

	r.GET("/api/invoice-syncs", adminapi.ListInvoiceSyncsHandler())
	r.GET("/api/invoice-syncs/export", adminapi.ExportInvoiceSyncsHandler())
	r.GET("/api/invoice-syncs/:id", adminapi.GetInvoiceSyncHandler())

	// Ops tooling (admin only): inspect and replay outbox rows marked DEAD/FAILED.
	r.GET("/internal/ops/outbox", adminapi.ListOutboxHandler())
	r.POST("/internal/ops/outbox/replay", adminapi.ReplayOutboxHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Built-in templates are the bottom mapping layer; keep them present.
	if err := models.SeedDefaultMappingTemplates(context.Background()); err != nil {
		logger.WithFields(logrus.Fields{"field": "seed"}).Warn("failed to seed default mapping templates: " + err.Error())
	}

	// Start the outbox consumer: the Pub/Sub dispatcher, or in-process direct
	// processing when Pub/Sub is not configured. Never both.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	if shouldRunDirectOutboxProcessor() {
		logger.WithFields(logrus.Fields{"field": "outbox"}).
			Warn("OUTBOX_DIRECT_PROCESSING=true; processing outbox in-process instead of publishing to Pub/Sub")
		go NewOutboxDirectProcessor(db, logger).Run(workerCtx)
	} else {
		go workflow.NewOutboxDispatcher(db, logger).Run(workerCtx)
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelWorkers()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP()

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
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
