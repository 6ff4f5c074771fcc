package probe

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DatabaseProbe verifies the relational store accepts connections and
// answers a trivial query. A connection that succeeds but cannot answer the
// query counts as degraded; slow round trips past the configured threshold
// also count as degraded.
type DatabaseProbe struct {
	service       string
	dsn           string
	degradedAfter time.Duration
}

// NewDatabaseProbe creates a probe for a MySQL-compatible server.
func NewDatabaseProbe(service, user, password, addr, dbName string, degradedAfter time.Duration) *DatabaseProbe {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = addr
	cfg.DBName = dbName

	return &DatabaseProbe{
		service:       service,
		dsn:           cfg.FormatDSN(),
		degradedAfter: degradedAfter,
	}
}

// Service returns the service name this probe checks.
func (p *DatabaseProbe) Service() string {
	return p.service
}

// Check opens a fresh connection, pings, and runs SELECT 1.
func (p *DatabaseProbe) Check(ctx context.Context) Result {
	start := time.Now()

	db, err := sql.Open("mysql", p.dsn)
	if err != nil {
		return Result{
			Service:   p.service,
			Status:    StatusUnreachable,
			Latency:   time.Since(start),
			Message:   fmt.Sprintf("invalid connection config: %v", err),
			CheckedAt: start,
		}
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return unreachable(p.service, start, err)
	}

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return Result{
			Service:   p.service,
			Status:    StatusDegraded,
			Latency:   time.Since(start),
			Message:   fmt.Sprintf("connected but query failed: %v", err),
			CheckedAt: start,
		}
	}

	latency := time.Since(start)
	status := StatusHealthy
	message := "connection and query ok"
	if p.degradedAfter > 0 && latency > p.degradedAfter {
		status = StatusDegraded
		message = fmt.Sprintf("responding slowly: %s round trip", latency.Round(time.Millisecond))
	}

	return Result{
		Service:   p.service,
		Status:    status,
		Latency:   latency,
		Message:   message,
		CheckedAt: start,
	}
}
