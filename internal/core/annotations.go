package core

import "github.com/benbjohnson/clock"

// timeoutHandle is the live transient-disconnect timer for one
// contributor. id guards against a stale firing racing a cancel that
// replaced it with nothing or with a fresh timer.
type timeoutHandle struct {
	id    string
	timer *clock.Timer
}

// contributorAnnotation is the per-contributor bookkeeping the
// manager carries alongside each Contributor (spec §3, "annotations
// carried per contributor"). Every field is only ever touched while
// the manager's mutex is held.
type contributorAnnotation struct {
	pendingDiscontinuity *DiscontinuityEvent
	transientTimeout     *timeoutHandle
	hasBeenAttached      bool
}
