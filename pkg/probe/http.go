package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProbe checks an HTTP endpoint. Transport failures are always
// unreachable; the classify function maps a received response to a status.
type HTTPProbe struct {
	service  string
	url      string
	client   *http.Client
	classify func(*http.Response) (Status, string)
}

// NewProxyProbe creates a probe for the reverse proxy front door. Success
// and redirect answers are healthy, 5xx means the proxy is up but its
// upstream is failing, anything else is degraded.
func NewProxyProbe(service, url string) *HTTPProbe {
	return &HTTPProbe{
		service:  service,
		url:      url,
		client:   newProbeClient(),
		classify: classifyProxy,
	}
}

// NewAppProbe creates a probe for the application health endpoint. Healthy
// requires HTTP 200 with a JSON body whose status field is "ok".
func NewAppProbe(service, url string) *HTTPProbe {
	return &HTTPProbe{
		service:  service,
		url:      url,
		client:   newProbeClient(),
		classify: classifyApp,
	}
}

// newProbeClient builds a client that returns redirects to the classifier
// instead of following them. Deadlines come from the probe context.
func newProbeClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Service returns the service name this probe checks.
func (p *HTTPProbe) Service() string {
	return p.service
}

// Check performs a GET against the probe URL.
func (p *HTTPProbe) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Result{
			Service:   p.service,
			Status:    StatusUnreachable,
			Latency:   time.Since(start),
			Message:   fmt.Sprintf("invalid probe url: %v", err),
			CheckedAt: start,
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return unreachable(p.service, start, err)
	}
	defer resp.Body.Close()

	status, message := p.classify(resp)
	return Result{
		Service:   p.service,
		Status:    status,
		Latency:   time.Since(start),
		Message:   message,
		CheckedAt: start,
	}
}

func classifyProxy(resp *http.Response) (Status, string) {
	switch {
	case resp.StatusCode >= 500:
		return StatusDegraded, fmt.Sprintf("proxy up but upstream failing: HTTP %d", resp.StatusCode)
	case resp.StatusCode == http.StatusOK,
		resp.StatusCode == http.StatusMovedPermanently,
		resp.StatusCode == http.StatusFound:
		return StatusHealthy, fmt.Sprintf("HTTP %d", resp.StatusCode)
	default:
		return StatusDegraded, fmt.Sprintf("unexpected HTTP %d", resp.StatusCode)
	}
}

func classifyApp(resp *http.Response) (Status, string) {
	if resp.StatusCode != http.StatusOK {
		return StatusDegraded, fmt.Sprintf("health endpoint returned HTTP %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return StatusDegraded, fmt.Sprintf("health endpoint returned malformed body: %v", err)
	}
	if body.Status != "ok" {
		return StatusDegraded, fmt.Sprintf("health endpoint reports status %q", body.Status)
	}
	return StatusHealthy, "health endpoint ok"
}
