package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/Brownie44l1/lungscan-api/internal/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// HTTPLogger logs every request and records its count and latency.
func HTTPLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		statusCode := c.Writer.Status()

		tags := metrics.BuildTags(
			metrics.TagPath, path,
			metrics.TagMethod, method,
			metrics.TagHttpStatusCode, strconv.Itoa(statusCode),
		)
		metrics.Incr(metrics.ApiRequestCount, tags)
		metrics.Timing(metrics.ApiRequestLatency, latency, tags)
		log.Info().Msgf("[access] [%s] %s %s %d %v", c.ClientIP(), method, c.Request.URL.Path, statusCode, latency)
	}
}

// HTTPRecovery turns a panic into a 500 with an error body.
func HTTPRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("path", c.Request.URL.Path).
					Bytes("stack", debug.Stack()).
					Msgf("panic recovered: %v", r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprint(r)})
			}
		}()
		c.Next()
	}
}

// CORS allows browser uploads from any origin.
func CORS() gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}
	return cors.New(corsConfig)
}

// NewRouter returns a gin engine with the standard middleware chain.
func NewRouter(env string) *gin.Engine {
	if env == "prod" || env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(HTTPLogger(), HTTPRecovery(), CORS())
	return router
}
