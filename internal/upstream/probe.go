package upstream

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

const defaultProbeTimeout = 3 * time.Second

// HTTPProbe reports connectivity by issuing a HEAD request. Any HTTP response, whatever its
// status, counts as online.
type HTTPProbe struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// IsOnline performs a point-in-time connectivity check.
func (p *HTTPProbe) IsOnline(ctx context.Context) bool {
	if p == nil || p.URL == "" {
		return true
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

// StaticProbe reports a fixed connectivity state that can be flipped at runtime.
type StaticProbe struct {
	offline atomic.Bool
}

// NewStaticProbe returns a probe reporting the given state.
func NewStaticProbe(online bool) *StaticProbe {
	p := &StaticProbe{}
	p.SetOnline(online)
	return p
}

// SetOnline changes the reported state.
func (p *StaticProbe) SetOnline(online bool) {
	p.offline.Store(!online)
}

// IsOnline returns the configured state.
func (p *StaticProbe) IsOnline(context.Context) bool {
	return !p.offline.Load()
}
