package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/doc-kpis/internal/daterange"
	"github.com/example/doc-kpis/internal/logging"
	"github.com/example/doc-kpis/internal/metrics"
	"github.com/example/doc-kpis/internal/usecase"
)

// Messages returned to API callers.
const (
	MessageSuccess  = "KPIs fetched successfully"
	MessageNotFound = "No records found for the selected date range."
	MessageInternal = "Something went wrong. Contact support."
)

// KPIService is the use case behind GET /kpis.
type KPIService interface {
	GetKPIs(ctx context.Context, interval daterange.Interval) (*usecase.KPIResult, error)
}

// DateRangeResolver turns query parameters into an interval.
type DateRangeResolver interface {
	Resolve(filter, from, to string) (daterange.Interval, error)
}

// Pinger reports store reachability for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies groups what RegisterRoutes needs. Metrics and Store are optional.
type Dependencies struct {
	Service  KPIService
	Resolver DateRangeResolver
	Store    Pinger
	Metrics  *metrics.HTTPMetrics
	Logger   *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Extra middleware
// only guards the KPI endpoint.
func RegisterRoutes(router *gin.Engine, deps Dependencies, kpiMiddleware ...gin.HandlerFunc) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ready", func(c *gin.Context) {
		if deps.Store == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := deps.Store.Ping(ctx); err != nil {
			logging.FromContext(c.Request.Context(), logger).Warn("store not ready", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	kpiHandlers := append(append([]gin.HandlerFunc{}, kpiMiddleware...), getKPIs(deps))
	router.GET("/kpis", kpiHandlers...)
}

func getKPIs(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		interval, err := deps.Resolver.Resolve(c.Query("filter"), c.Query("from"), c.Query("to"))
		if err != nil {
			deps.Metrics.ObserveKPI(metrics.OutcomeInvalid)
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}

		result, err := deps.Service.GetKPIs(c.Request.Context(), interval)
		switch {
		case errors.Is(err, usecase.ErrNoRecords):
			deps.Metrics.ObserveKPI(metrics.OutcomeNotFound)
			c.JSON(http.StatusNotFound, gin.H{
				"status":  "error",
				"message": MessageNotFound,
				"data":    gin.H{},
			})
			return
		case err != nil:
			deps.Metrics.ObserveKPI(metrics.OutcomeError)
			respondError(c, http.StatusInternalServerError, MessageInternal)
			return
		}

		deps.Metrics.ObserveKPI(metrics.OutcomeSuccess)
		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": MessageSuccess,
			"data":    result,
		})
	}
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"status": "error", "message": message})
}
