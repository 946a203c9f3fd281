// Package apiclient is a rate-limited client over the
// upstream platform's HTTP API. Three API classes (workers, d1, general)
// carry independent sliding per-minute/per-hour quotas, exponential backoff
// with jitter on 429s, and a cross-class priority queue.
package apiclient

import "time"

// Class is one of the three independent rate-limit classes.
type Class string

const (
	ClassWorkers Class = "workers"
	ClassD1      Class = "d1"
	ClassGeneral Class = "general"
)

// Priority orders queued requests within and across classes:
// high > normal > low.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// ClassConfig holds one API class's quota and backoff parameters.
type ClassConfig struct {
	PerMinute     int
	PerHour       int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxAttempts   int
	MinSpacing    time.Duration
}

// DefaultClassConfigs returns the fixed per-class quota defaults.
func DefaultClassConfigs() map[Class]ClassConfig {
	return map[Class]ClassConfig{
		ClassWorkers: {
			PerMinute: 100, PerHour: 1000,
			BaseDelay: 1 * time.Second, MaxDelay: 5 * time.Minute,
			MaxAttempts: 5, MinSpacing: 100 * time.Millisecond,
		},
		ClassD1: {
			PerMinute: 50, PerHour: 1000,
			BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Minute,
			MaxAttempts: 5, MinSpacing: 100 * time.Millisecond,
		},
		ClassGeneral: {
			PerMinute: 30, PerHour: 500,
			BaseDelay: 3 * time.Second, MaxDelay: 15 * time.Minute,
			MaxAttempts: 5, MinSpacing: 100 * time.Millisecond,
		},
	}
}
