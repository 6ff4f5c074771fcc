package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestProxyProbe_Classify(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       Status
		wantMsg    string
	}{
		{"ok", http.StatusOK, StatusHealthy, ""},
		{"redirect", http.StatusFound, StatusHealthy, ""},
		{"bad gateway", http.StatusBadGateway, StatusDegraded, "upstream"},
		{"not found", http.StatusNotFound, StatusDegraded, "HTTP 404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.statusCode == http.StatusFound {
					w.Header().Set("Location", "/login")
				}
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			result := NewProxyProbe("proxy", server.URL).Check(context.Background())
			if result.Status != tt.want {
				t.Errorf("status = %s, want %s", result.Status, tt.want)
			}
			if tt.wantMsg != "" && !strings.Contains(result.Message, tt.wantMsg) {
				t.Errorf("message = %q, want %q mention", result.Message, tt.wantMsg)
			}
		})
	}
}

func TestAppProbe_Classify(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		want       Status
	}{
		{"healthy", http.StatusOK, `{"status":"ok"}`, StatusHealthy},
		{"reports degraded", http.StatusOK, `{"status":"degraded"}`, StatusDegraded},
		{"malformed body", http.StatusOK, `{"status":`, StatusDegraded},
		{"server error", http.StatusInternalServerError, `{}`, StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			result := NewAppProbe("app", server.URL).Check(context.Background())
			if result.Status != tt.want {
				t.Errorf("status = %s, want %s", result.Status, tt.want)
			}
		})
	}
}

func TestHTTPProbe_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	result := NewProxyProbe("proxy", url).Check(context.Background())
	if result.Status != StatusUnreachable {
		t.Errorf("status = %s, want unreachable", result.Status)
	}
	if result.Message == "" {
		t.Error("expected a failure message")
	}
}

func TestHTTPProbe_HangingServerBoundedByTimeout(t *testing.T) {
	// The handler never responds; it only returns when the client gives up,
	// so the probe must come back in the engine timeout, not the hang time.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	engine := NewEngine(testLogger(t), 200*time.Millisecond, time.Minute)
	if err := engine.Register(NewProxyProbe("proxy", server.URL)); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	start := time.Now()
	result, err := engine.Check(context.Background(), "proxy")
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if result.Status != StatusUnreachable {
		t.Errorf("status = %s, want unreachable", result.Status)
	}
	if !strings.Contains(result.Message, "timed out") {
		t.Errorf("message = %q, want timeout mention", result.Message)
	}
	if elapsed > time.Second {
		t.Errorf("probe took %s, want completion near the 200ms timeout", elapsed)
	}
}
