package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Health reports the result of a database health check.
type Health struct {
	OK        bool          `json:"ok"`
	Latency   time.Duration `json:"latency_ns"`
	TotalConn int32         `json:"total_conns"`
	IdleConn  int32         `json:"idle_conns"`
	Error     string        `json:"error,omitempty"`
}

// Check pings the database and reports pool statistics.
func Check(ctx context.Context, pool *pgxpool.Pool) Health {
	start := time.Now()
	err := pool.Ping(ctx)
	h := Health{
		OK:      err == nil,
		Latency: time.Since(start),
	}
	if err != nil {
		h.Error = err.Error()
	}

	stats := pool.Stat()
	h.TotalConn = stats.TotalConns()
	h.IdleConn = stats.IdleConns()

	return h
}
