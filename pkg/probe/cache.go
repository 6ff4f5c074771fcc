package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheProbe verifies the cache answers PING within the latency threshold.
type CacheProbe struct {
	service       string
	client        *redis.Client
	degradedAfter time.Duration
}

// NewCacheProbe creates a probe for a Redis-compatible server. Internal
// client retries are disabled; retry policy belongs to the caller.
func NewCacheProbe(service, addr, password string, db int, degradedAfter time.Duration) *CacheProbe {
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   password,
		DB:         db,
		MaxRetries: -1,
	})

	return &CacheProbe{
		service:       service,
		client:        client,
		degradedAfter: degradedAfter,
	}
}

// Service returns the service name this probe checks.
func (p *CacheProbe) Service() string {
	return p.service
}

// Check sends PING and classifies by round-trip time.
func (p *CacheProbe) Check(ctx context.Context) Result {
	start := time.Now()

	if err := p.client.Ping(ctx).Err(); err != nil {
		return unreachable(p.service, start, err)
	}

	latency := time.Since(start)
	status := StatusHealthy
	message := "ping ok"
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

// Close releases the underlying client connections.
func (p *CacheProbe) Close() error {
	return p.client.Close()
}
