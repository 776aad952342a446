// Package ratelimit provides fixed-window request counters keyed by client.
//
// A window opens on the first request for a key and lasts Window. Every
// allowed request increments the counter; once it reaches Max further
// requests are rejected until the window elapses and the counter resets.
package ratelimit

import (
	"context"
	"time"
)

// Defaults for the checkout endpoint: ten requests per minute per client.
const (
	DefaultMax    = 10
	DefaultWindow = time.Minute
)

// Config configures a Store.
type Config struct {
	// Max is the number of requests allowed per window.
	Max int
	// Window is the fixed window length.
	Window time.Duration
}

func (c Config) withDefaults() Config {
	if c.Max <= 0 {
		c.Max = DefaultMax
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}

// Decision is the outcome of a single check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Store counts requests per key.
type Store interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
