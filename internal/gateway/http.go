package gateway

import (
	"net/http"
	"time"

	"brokergateway/internal/httpapi"
	"brokergateway/internal/monitor"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the gateway's HTTP surface: the websocket upgrade
// endpoint plus health and metrics for operators. It shares the same
// middleware stack gin-based services in this codebase use.
func NewRouter(g *Gateway, metrics *monitor.SystemMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpapi.RequestIDMiddleware())
	r.Use(httpapi.CORSMiddleware())
	r.Use(httpapi.RateLimitMiddleware())
	r.Use(httpapi.RequestLogger(metrics))

	// /health and /metrics are bounded request/response calls and get the
	// shared timeout guard; /ws is a long-lived upgrade and must not.
	operator := r.Group("/")
	operator.Use(httpapi.TimeoutMiddleware(10 * time.Second))

	operator.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"clients":   g.ConnectionCount(),
			"timestamp": time.Now().Unix(),
		})
	})

	operator.GET("/metrics", func(c *gin.Context) {
		if metrics == nil {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		stats := g.pool.Stats()
		metrics.SetPoolStats(monitor.PoolStats{
			TotalSessions:  stats.TotalSessions,
			ByUser:         stats.ByUser,
			UnhealthyCount: stats.UnhealthyCount,
		})
		c.JSON(http.StatusOK, metrics.GetSnapshot())
	})

	r.GET("/ws", func(c *gin.Context) {
		g.ServeWS(c.Writer, c.Request)
	})

	return r
}
