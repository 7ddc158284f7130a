package dashboard

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultRecentOrders = 20
	maxRecentOrders     = 200
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", handleHealth())

	api := router.Group("/api")
	api.GET("/stats", handleStats(opts))
	api.GET("/orders", handleRecentOrders(opts))
	api.GET("/orders/:id", handleOrder(opts))
	api.GET("/promotion", handlePromotion(opts))
	api.GET("/events", handleSSE(opts, defaultStreamInterval))

	if opts.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	}
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleStats(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, buildStats(opts.Core, opts.Now()))
	}
}

func handleRecentOrders(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultRecentOrders
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxRecentOrders)
		}
		c.JSON(http.StatusOK, gin.H{"orders": recentOrders(opts.Core, limit)})
	}
}

func handleOrder(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, ok := findOrder(opts.Core, c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func handlePromotion(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, buildPromotion(opts.Core))
	}
}
