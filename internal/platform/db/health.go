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

// Check is an additional dependency probed by the health endpoint, e.g. Redis.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

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

// HealthHandler pings the database and every extra check. Any failure turns
// the response into a 503.
func HealthHandler(pool *pgxpool.Pool, checks ...Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		stats := GetPoolStats(pool)
		body := map[string]interface{}{"pool": stats}
		status := http.StatusOK

		if err := pool.Ping(ctx); err != nil {
			stats.Healthy = false
			body["error"] = err.Error()
			status = http.StatusServiceUnavailable
		}

		if deps := runChecks(ctx, checks); len(deps) > 0 {
			body["dependencies"] = deps
			for _, v := range deps {
				if v != "ok" {
					status = http.StatusServiceUnavailable
				}
			}
		}

		body["status"] = "healthy"
		if status != http.StatusOK {
			body["status"] = "unhealthy"
		}
		return c.JSON(status, body)
	}
}

func runChecks(ctx context.Context, checks []Check) map[string]string {
	if len(checks) == 0 {
		return nil
	}
	out := make(map[string]string, len(checks))
	for _, ch := range checks {
		if err := ch.Probe(ctx); err != nil {
			out[ch.Name] = err.Error()
			continue
		}
		out[ch.Name] = "ok"
	}
	return out
}
