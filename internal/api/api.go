// internal/api/api.go
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/andresuchdata/cashflow-sdp/internal/api/handlers"
	"github.com/andresuchdata/cashflow-sdp/internal/api/middleware"
	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Services are the backends the router dispatches to.
type Services struct {
	Solve handlers.SolveService
	// Defaults seeds every solve request; request fields override it.
	Defaults domain.Parameters
	// SolveTimeout bounds POST /solve and /kconvexity. Zero means no bound.
	SolveTimeout time.Duration
}

var localOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

func NewRouter(services *Services, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Logger(), middleware.Recovery())
	router.Use(cors.New(corsConfig(allowedOrigins)))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.NoRoute(func(c *gin.Context) {
		errorResponse(c, http.StatusNotFound, "route not found: "+c.Request.URL.Path)
	})

	if services == nil || services.Solve == nil {
		return router
	}

	h := handlers.NewSolveHandler(services.Solve, services.Defaults)
	v1 := router.Group("/api/v1")

	compute := v1.Group("", middleware.Deadline(services.SolveTimeout))
	compute.POST("/solve", h.Solve)
	compute.POST("/kconvexity", h.KConvexity)

	runs := v1.Group("/runs")
	runs.GET("", h.ListRuns)
	runs.GET("/:id", h.GetRun)
	runs.GET("/:id/policy", h.GetPolicy)
	runs.GET("/:id/table", h.GetTable)
	runs.GET("/:id/thresholds", h.GetThresholds)
	runs.GET("/:id/export", h.GetExport)

	return router
}

// corsConfig allows the local dashboard unless origins are configured; a "*"
// entry allows any origin.
func corsConfig(allowedOrigins []string) cors.Config {
	cfg := cors.Config{
		AllowOrigins:     localOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	origins, allowAll := normalizeAllowedOrigins(allowedOrigins)
	switch {
	case allowAll:
		cfg.AllowOrigins = nil
		cfg.AllowOriginFunc = func(string) bool { return true }
	case len(origins) > 0:
		cfg.AllowOrigins = origins
	}
	return cfg
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	zerolog.Ctx(c.Request.Context()).Warn().Int("status", statusCode).Msg(message)
	c.JSON(statusCode, gin.H{"error": message})
}

// normalizeAllowedOrigins flattens comma separated entries and reports whether
// any of them is the "*" wildcard.
func normalizeAllowedOrigins(origins []string) (parsed []string, allowAll bool) {
	for _, origin := range origins {
		for _, part := range strings.Split(origin, ",") {
			switch part = strings.TrimSpace(part); part {
			case "":
			case "*":
				allowAll = true
			default:
				parsed = append(parsed, part)
			}
		}
	}
	return parsed, allowAll
}
