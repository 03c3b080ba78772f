package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/library-catalog/cmd/api/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type ServerConfig struct {
	Port           int
	RequestTimeout time.Duration
}

// HealthChecker reports whether the storage behind the service is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

func NewServer(config ServerConfig, h *BookHandler, health HealthChecker, logger zerolog.Logger) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery(), accessLog(logger))
	if config.RequestTimeout > 0 {
		router.Use(requestTimeout(config.RequestTimeout))
	}

	router.GET("/", welcome)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.GET("/health", healthCheck(health))

	books := v1.Group("/books")
	books.POST("", h.createBook)
	books.GET("", h.listBooks)
	books.GET("/isbn/:isbn", h.getBookByISBN)
	books.GET("/:id", h.getBookById)
	books.PATCH("/:id", h.updateBook)
	books.DELETE("/:id", h.deleteBook)

	server := http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &server
}

func welcome(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "library-catalog",
		"health":  "/api/v1/health",
		"books":   "/api/v1/books",
	})
}

/* Pings the storage and answers 200 when it is reachable, 503 otherwise. */
func healthCheck(health HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := health.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, ErrResponseStorageUnavailable)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func requestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func accessLog(logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	}
}
