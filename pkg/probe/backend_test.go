package probe

import (
	"context"
	"net"
	"testing"
	"time"
)

// deadAddr reserves a local port and releases it, giving an address with
// no listener behind it.
func deadAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestDatabaseProbe_UnreachableServer(t *testing.T) {
	p := NewDatabaseProbe("database", "probe", "secret", deadAddr(t), "app", 500*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result := p.Check(ctx)
	if result.Status != StatusUnreachable {
		t.Errorf("status = %s, want unreachable", result.Status)
	}
	if result.Message == "" {
		t.Error("expected a failure message")
	}
	if result.Service != "database" {
		t.Errorf("service = %s, want database", result.Service)
	}
}

func TestCacheProbe_UnreachableServer(t *testing.T) {
	p := NewCacheProbe("cache", deadAddr(t), "", 0, 500*time.Millisecond)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result := p.Check(ctx)
	if result.Status != StatusUnreachable {
		t.Errorf("status = %s, want unreachable", result.Status)
	}
	if result.Message == "" {
		t.Error("expected a failure message")
	}
}
