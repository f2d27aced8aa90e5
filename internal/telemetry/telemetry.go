// Package telemetry is an optional outbound websocket client that streams
// pool/export stats snapshots to a collector: this service is the
// client, not the server. It never touches the render path; a slow or
// absent collector only drops snapshots.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onyxcharts/export-service/internal/pool"
	"github.com/onyxcharts/export-service/internal/svcmetrics"
)

// Config controls whether the client runs at all and where it connects.
type Config struct {
	Enable   bool
	URL      string
	Interval time.Duration
}

// Client periodically dials URL and pushes a stats snapshot as JSON. A
// single goroutine owns the connection; Run blocks until ctx is
// cancelled, reconnecting after any write/dial failure.
type Client struct {
	cfg    Config
	stats  *svcmetrics.PoolStats
	pool   *pool.Pool
	logger *slog.Logger

	dialer *websocket.Dialer
}

// New builds a Client. stats and p may be nil in tests that only need
// the reconnect/backoff behaviour exercised against a fake server.
func New(cfg Config, stats *svcmetrics.PoolStats, p *pool.Pool, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		stats:  stats,
		pool:   p,
		logger: logger,
		dialer: websocket.DefaultDialer,
	}
}

// snapshot is the JSON payload sent on every tick.
type snapshot struct {
	Pool   pool.Stats         `json:"pool"`
	Export svcmetrics.Snapshot `json:"export"`
}

// Run dials and streams snapshots until ctx is cancelled. Disabled
// configs return immediately. Connection failures are logged and
// retried on the next tick rather than treated as fatal: telemetry is
// strictly best-effort.
func (c *Client) Run(ctx context.Context) {
	if !c.cfg.Enable {
		return
	}

	interval := c.cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var conn *websocket.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if conn == nil {
				var err error
				conn, _, err = c.dialer.DialContext(ctx, c.cfg.URL, nil)
				if err != nil {
					c.logger.Warn("telemetry: dial failed", "url", c.cfg.URL, "error", err)
					conn = nil
					continue
				}
			}

			snap := c.buildSnapshot()
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(snap); err != nil {
				c.logger.Warn("telemetry: write failed, will redial", "error", err)
				conn.Close()
				conn = nil
			}
		}
	}
}

func (c *Client) buildSnapshot() snapshot {
	var snap snapshot
	if c.pool != nil {
		snap.Pool = c.pool.Stats()
	}
	if c.stats != nil {
		snap.Export = c.stats.Snapshot()
	}
	return snap
}
