package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// Probe is a background component that reports its own health, such as the
// change-feed listener.
type Probe interface {
	Name() string
	Healthy() bool
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// probeReport evaluates probes; ok is false when any probe is unhealthy.
func probeReport(probes []Probe) (map[string]bool, bool) {
	report := make(map[string]bool, len(probes))
	ok := true
	for _, p := range probes {
		healthy := p.Healthy()
		report[p.Name()] = healthy
		if !healthy {
			ok = false
		}
	}
	return report, ok
}

// HealthHandler returns a handler for the database health check endpoint.
func HealthHandler(pool *pgxpool.Pool, probes ...Probe) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		err := pool.Ping(ctx)
		stats := GetPoolStats(pool)
		components, componentsOK := probeReport(probes)

		if err != nil {
			stats.Healthy = false
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status":     "unhealthy",
				"error":      err.Error(),
				"pool":       stats,
				"components": components,
			})
		}

		status := "healthy"
		if !componentsOK {
			status = "degraded"
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":     status,
			"pool":       stats,
			"components": components,
		})
	}
}
