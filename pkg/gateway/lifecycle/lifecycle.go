// Package lifecycle tracks whether the relay is shutting down.
package lifecycle

import "sync/atomic"

// Lifecycle holds the drain flag the HTTP handlers consult during graceful
// shutdown: while draining, /ws refuses new voice sessions and the health
// report switches to Draining. A nil *Lifecycle reads as not draining.
type Lifecycle struct {
	draining atomic.Bool
}

// SetDraining flips the drain flag. Safe for concurrent use.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

// IsDraining reports whether shutdown has begun.
func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
