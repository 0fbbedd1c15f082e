package health

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

func errNotHealthy(timeout time.Duration) error {
	return fmt.Errorf("startup aborted: dependencies not healthy within %s", timeout)
}

// Probe is a Checker that periodically calls a Pinger.
type Probe struct {
	name         string
	target       Pinger
	healthy      atomic.Int32
	log          zerolog.Logger
	probeTimeout time.Duration
}

// NewProbe creates a checker named name around target.
func NewProbe(name string, target Pinger, log zerolog.Logger, probeTimeout time.Duration) *Probe {
	p := &Probe{name: name, target: target, log: log, probeTimeout: probeTimeout}
	p.healthy.Store(0) // start unhealthy until first successful probe
	return p
}

func (p *Probe) Name() string { return p.name }

// IsHealthy returns the cached health status (non-blocking).
func (p *Probe) IsHealthy() bool { return p.healthy.Load() == 1 }

// Start begins periodic health checking.
func (p *Probe) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	check := func() {
		to := p.probeTimeout
		if to <= 0 {
			to = 2 * time.Second
		}
		checkCtx, cancel := context.WithTimeout(ctx, to)
		defer cancel()

		if err := p.target.HealthPing(checkCtx); err != nil {
			if p.healthy.Swap(0) == 1 || p.log.GetLevel() <= zerolog.DebugLevel {
				p.log.Error().Stack().Str("checker", p.name).Err(err).Msg("health check failed")
			}
			return
		}
		p.healthy.Store(1)
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
