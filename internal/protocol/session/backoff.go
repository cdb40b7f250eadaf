package session

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return jitter(cfg, float64(cfg.InitialDelay), rng)
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return jitter(cfg, delay, rng)
}

func jitter(cfg BackoffConfig, delay float64, rng *rand.Rand) time.Duration {
	if !cfg.Jitter || delay <= 0 {
		return time.Duration(delay)
	}
	f := 0.5
	if rng != nil {
		f = 0.5 + rng.Float64()
	}
	return time.Duration(delay * f)
}

// waitBackoff sleeps for the attempt's delay or until ctx is done.
func waitBackoff(ctx context.Context, cfg BackoffConfig, attempt int, rng *rand.Rand) error {
	timer := time.NewTimer(NextBackoffDelay(cfg, attempt, rng))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
