package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Endpoint is one health URL of the fleet.
type Endpoint struct {
	Name string `yaml:"name" json:"name" validate:"required"`
	URL  string `yaml:"url" json:"url" validate:"required,url"`
}

// ProbeResult is what a Prober reports for a single endpoint.
type ProbeResult struct {
	OK         bool
	Latency    time.Duration
	StatusCode int
	Err        error
}

// Prober checks one endpoint. Implementations must honour ctx cancellation.
type Prober interface {
	Probe(ctx context.Context, ep Endpoint) ProbeResult
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, ep Endpoint) ProbeResult

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context, ep Endpoint) ProbeResult {
	return f(ctx, ep)
}

// HTTPProber issues a GET and treats 2xx and 3xx responses as healthy.
type HTTPProber struct {
	httpClient *http.Client
}

// NewHTTPProber returns a prober that does not follow redirects.
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		httpClient: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, ep Endpoint) ProbeResult {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL, nil)
	if err != nil {
		return ProbeResult{Err: fmt.Errorf("build probe request: %w", err)}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ProbeResult{Latency: time.Since(start), Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	res := ProbeResult{
		Latency:    time.Since(start),
		StatusCode: resp.StatusCode,
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 400,
	}
	if !res.OK {
		res.Err = fmt.Errorf("unexpected status %s", resp.Status)
	}
	return res
}
