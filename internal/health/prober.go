// Package health probes worker processes over their HTTP health
// endpoint: a bounded-retry readiness loop after spawn and a
// single-shot check for status refreshes.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// Prober checks worker health endpoints. Every request carries a
// bounded timeout; retries are paced by a fixed interval regardless of
// the failure cause.
type Prober struct {
	client   *http.Client
	interval time.Duration
}

// NewProber creates a prober with a per-request timeout and retry
// interval.
func NewProber(timeout, interval time.Duration) *Prober {
	return &Prober{
		client:   &http.Client{Timeout: timeout},
		interval: interval,
	}
}

// Probe issues one health check against the worker at baseURL. Any
// transport failure or non-2xx status is a health failure carrying the
// underlying cause.
func (p *Prober) Probe(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}
	return nil
}

// WaitUntilReady polls the health endpoint until it answers 2xx,
// returning on the first success. Individual attempt failures are only
// logged; exhausting maxAttempts is the readiness failure.
func (p *Prober) WaitUntilReady(ctx context.Context, baseURL string, maxAttempts int) error {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := p.Probe(ctx, baseURL); err == nil {
			return nil
		} else {
			log.WithFields(log.Fields{
				"url":     baseURL,
				"attempt": attempt,
				"max":     maxAttempts,
			}).Debugf("readiness probe failed: %v", err)
		}

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}

	return fmt.Errorf("agent failed to respond to health checks after %d attempts", maxAttempts)
}
