package core

import (
	"context"

	"github.com/ably-labs/ably-chat-go/internal/domain"
	"github.com/ably-labs/ably-chat-go/internal/roomerr"
)

// scheduleRetry records that a Retry operation is about to run for
// the contributor that moved to SUSPENDED, then starts it. Callers
// must not hold mu.
func (m *Manager) scheduleRetry(contributorID domain.ContributorID, cause error) {
	m.mu.Lock()
	op := m.scheduleRetryLocked(contributorID, cause)
	m.mu.Unlock()
	go m.runRetryOperation(op)
}

// scheduleRetryLocked is the same as scheduleRetry but for callers
// that already hold mu (the contributor state-change handler).
func (m *Manager) scheduleRetryLocked(contributorID domain.ContributorID, cause error) *Operation {
	op := newOperation(OpRetry)
	op.TriggeringContributor = contributorID
	op.Cause = cause
	// operationID is set here, synchronously, so that the moment mu is
	// released the pending Retry is already observable to a concurrent
	// Attach/Detach/Release or contributor state change: runRetryOperation
	// only reconfirms it under its own lock, it must never be the first
	// writer.
	m.status = managerStatus{kind: msSuspendedAwaitingStartOfRetry, operationID: op.ID, cause: cause, task: op}
	m.publishStatusLocked()
	return op
}

// runRetryOperation implements spec §4.3.4: detach everything except
// the contributor that triggered the retry, wait for that contributor
// to reach ATTACHED on its own, then run a full attachment cycle.
func (m *Manager) runRetryOperation(op *Operation) {
	m.mu.Lock()
	m.status = managerStatus{kind: msSuspended, operationID: op.ID, cause: op.Cause}
	m.publishStatusLocked()
	m.mu.Unlock()

	if err := m.runDetachmentCycle(context.Background(), op, op.TriggeringContributor); err != nil {
		m.mu.Lock()
		m.continuations.complete(op.ID, OpResult{Err: err})
		m.mu.Unlock()
		return
	}

	triggering := m.contributorByID(op.TriggeringContributor)
	if err := m.waitForContributorAttached(triggering); err != nil {
		m.mu.Lock()
		m.status = managerStatus{kind: msFailed, cause: err}
		m.publishStatusLocked()
		m.continuations.complete(op.ID, OpResult{Err: err})
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.status = managerStatus{kind: msAttachingDueToRetryOp, operationID: op.ID}
	m.publishStatusLocked()
	m.mu.Unlock()

	attachErr := m.runAttachmentCycle(context.Background(), op)

	m.mu.Lock()
	m.continuations.complete(op.ID, OpResult{Err: attachErr})
	m.mu.Unlock()
}

// waitForContributorAttached blocks until c's channel reaches ATTACHED
// or FAILED. It subscribes to c's state changes before reading the
// current state and error reason, so a move between the snapshot read
// and the subscription is not missed; after the snapshot it decides on
// each event's own Current state and Reason.
func (m *Manager) waitForContributorAttached(c *Contributor) error {
	sub := c.Adapter.SubscribeToState(Unbounded())
	defer sub.Unsubscribe()

	switch c.Adapter.State() {
	case ChannelAttached:
		return nil
	case ChannelFailed:
		if reason := c.Adapter.ErrorReason(); reason != nil {
			return reason
		}
		m.log.Warn().Str("contributor", string(c.ID)).Msg("failed contributor has no error reason; using unknown error cause")
		return roomerr.ErrUnknown()
	}

	for sc := range sub.C() {
		switch sc.Current {
		case ChannelAttached:
			return nil
		case ChannelFailed:
			if sc.Reason != nil {
				return sc.Reason
			}
			m.log.Warn().Str("contributor", string(c.ID)).Msg("failed state change with no reason; using unknown error cause")
			return roomerr.ErrUnknown()
		}
	}
	return roomerr.ErrUnknown()
}
