package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the pool snapshot exposed by the database health endpoint.
type PoolStats struct {
	Total         int32 `json:"total"`
	Idle          int32 `json:"idle"`
	InUse         int32 `json:"in_use"`
	Max           int32 `json:"max"`
	EmptyAcquires int64 `json:"empty_acquires"`
	NewConns      int64 `json:"new_conns"`
}

func snapshotStats(pool *pgxpool.Pool) *PoolStats {
	st := pool.Stat()
	return &PoolStats{
		Total:         st.TotalConns(),
		Idle:          st.IdleConns(),
		InUse:         st.AcquiredConns(),
		Max:           st.MaxConns(),
		EmptyAcquires: st.EmptyAcquireCount(),
		NewConns:      st.NewConnsCount(),
	}
}

// healthPayload maps a ping result onto the HTTP status and body for the
// health endpoint. Split out so the mapping is testable without a pool.
func healthPayload(stats *PoolStats, pingErr error, latency time.Duration) (int, echo.Map) {
	if pingErr != nil {
		return http.StatusServiceUnavailable, echo.Map{
			"status": "unavailable",
			"error":  pingErr.Error(),
			"pool":   stats,
		}
	}
	return http.StatusOK, echo.Map{
		"status": "ok",
		"ping":   latency.String(),
		"pool":   stats,
	}
}

// HealthHandler reports ledger database reachability and pool utilisation.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), connectPingWait)
		defer cancel()

		start := time.Now()
		err := pool.Ping(ctx)
		latency := time.Since(start)

		code, body := healthPayload(snapshotStats(pool), err, latency)
		return c.JSON(code, body)
	}
}
