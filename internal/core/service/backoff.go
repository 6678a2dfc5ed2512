package service

import (
	"context"
	"time"
)

// BackoffConfig configures the delay between feed reconnects.
type BackoffConfig struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
	}
}

type backoff struct {
	cfg     BackoffConfig
	current time.Duration
}

func newBackoff(cfg BackoffConfig) *backoff {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBackoffConfig().BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &backoff{cfg: cfg, current: cfg.BaseDelay}
}

// next returns the delay to wait now and grows the following one.
func (b *backoff) next() time.Duration {
	d := b.current
	grown := time.Duration(float64(b.current) * b.cfg.Multiplier)
	if grown > b.cfg.MaxDelay {
		grown = b.cfg.MaxDelay
	}
	b.current = grown
	return d
}

func (b *backoff) reset() {
	b.current = b.cfg.BaseDelay
}

// sleep waits for d; it returns false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
