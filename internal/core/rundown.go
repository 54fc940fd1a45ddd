package core

import "context"

// scheduleRundown moves the room straight through
// failedAwaitingStartOfRundown into failedAndPerformingRundown before
// returning, so that anything unblocked by the triggering operation's
// completion always observes rundown as already underway (spec §4.3.5
// calls this split out explicitly). Callers must not hold mu.
func (m *Manager) scheduleRundown(cause error) {
	m.mu.Lock()
	op := m.scheduleRundownLocked(cause)
	m.mu.Unlock()
	go m.runRundownTeardown(op)
}

// scheduleRundownLocked is the same as scheduleRundown but for callers
// that already hold mu.
func (m *Manager) scheduleRundownLocked(cause error) *Operation {
	op := newOperation(OpRundown)
	op.Cause = cause
	// operationID is reserved on the AwaitingStartOf status itself, not
	// only on the status that follows it, so the id is observable to
	// every guard the instant mu is released rather than only once
	// runRundownTeardown gets scheduled.
	m.status = managerStatus{kind: msFailedAwaitingStartOfRundown, operationID: op.ID, cause: cause, task: op}
	m.publishStatusLocked()
	m.status = managerStatus{kind: msFailedAndPerformingRundown, operationID: op.ID, cause: cause}
	m.publishStatusLocked()
	return op
}

// runRundownTeardown detaches every non-failed contributor, ignoring
// individual detach errors beyond retrying them, and then settles the
// room in FAILED with the original cause.
func (m *Manager) runRundownTeardown(op *Operation) {
	for _, c := range m.contributors {
		if c.Adapter.State() == ChannelFailed {
			continue
		}
		for {
			err := c.Adapter.Detach(context.Background())
			if err == nil {
				break
			}
			if c.Adapter.State() == ChannelFailed {
				break
			}
			select {
			case <-m.closeCtx.Done():
				m.mu.Lock()
				m.continuations.complete(op.ID, OpResult{Err: op.Cause})
				m.mu.Unlock()
				return
			case <-m.clock.After(m.cfg.DetachRetryInterval):
			}
		}
	}

	m.mu.Lock()
	m.status = managerStatus{kind: msFailed, cause: op.Cause}
	m.publishStatusLocked()
	m.continuations.complete(op.ID, OpResult{Err: op.Cause})
	m.mu.Unlock()
}
