package core

import "time"

// Config carries the timing knobs spec §6 pins to exact values. They
// are still parameters, not constants, so tests can run them on a
// mock clock without waiting in real time.
type Config struct {
	// TransientDisconnectTimeout is how long a contributor may sit in
	// ATTACHING, entered while no operation is in progress, before the
	// room itself is moved to ATTACHING.
	TransientDisconnectTimeout time.Duration

	// DetachRetryInterval spaces consecutive detach attempts during
	// the detachment, release and rundown cycles.
	DetachRetryInterval time.Duration
}

// DefaultConfig matches spec §6 exactly: a 5s transient-disconnect
// timeout and a 250ms detach retry interval.
func DefaultConfig() Config {
	return Config{
		TransientDisconnectTimeout: 5000 * time.Millisecond,
		DetachRetryInterval:        250 * time.Millisecond,
	}
}
