package core

import (
	"context"

	"github.com/ably-labs/ably-chat-go/internal/domain"
	"github.com/ably-labs/ably-chat-go/internal/roomerr"
)

// Detach implements the detachment cycle's public entry point (spec
// §4.3.2). It is idempotent once detached and rejects releasing,
// released or failed outright — a failed room must be re-attached,
// not detached, to recover.
func (m *Manager) Detach(ctx context.Context) error {
	for {
		m.mu.Lock()
		switch m.status.public().Kind {
		case RoomDetached:
			m.mu.Unlock()
			return nil
		case RoomReleasing:
			m.mu.Unlock()
			return roomerr.ErrRoomIsReleasing()
		case RoomReleased:
			m.mu.Unlock()
			return roomerr.ErrRoomIsReleased()
		case RoomFailed:
			m.mu.Unlock()
			return roomerr.ErrRoomInFailedState()
		}

		if m.status.operationID != "" {
			waitCh := m.continuations.wait(m.status.operationID)
			m.mu.Unlock()
			<-waitCh
			continue
		}

		op := newOperation(OpDetach)
		m.clearAllTransientDisconnectTimeoutsLocked()
		m.status = managerStatus{kind: msDetaching, operationID: op.ID}
		m.publishStatusLocked()
		m.mu.Unlock()

		err := m.runDetachmentCycle(ctx, op, "")

		m.mu.Lock()
		m.continuations.complete(op.ID, OpResult{Err: err})
		m.mu.Unlock()
		return err
	}
}

// runDetachmentCycle detaches every contributor except exclude (used
// by Retry to leave the triggering contributor alone). A contributor
// whose channel moves to FAILED while detaching moves the room to
// FAILED as soon as it happens, but the cycle keeps draining the
// remaining contributors rather than abandoning them attached; any
// other detach error is retried forever at cfg.DetachRetryInterval,
// since detach has no terminal failure short of FAILED (spec §4.3.2).
// The operation itself fails with the first such cause once every
// contributor has been visited.
func (m *Manager) runDetachmentCycle(ctx context.Context, op *Operation, exclude domain.ContributorID) error {
	var failCause error

	for _, c := range m.contributors {
		if exclude != "" && c.ID == exclude {
			continue
		}
		for {
			err := c.Adapter.Detach(ctx)
			if err == nil {
				break
			}
			if c.Adapter.State() == ChannelFailed {
				cause := roomerr.ErrDetachmentFailed(string(c.Feature), err)
				if failCause == nil {
					failCause = cause
					m.mu.Lock()
					m.status = managerStatus{kind: msFailed, cause: failCause}
					m.publishStatusLocked()
					m.mu.Unlock()
				}
				break
			}
			select {
			case <-m.closeCtx.Done():
				return failCause
			case <-m.clock.After(m.cfg.DetachRetryInterval):
			}
		}
	}

	if failCause != nil {
		return failCause
	}

	m.mu.Lock()
	if op.Kind == OpRetry {
		m.status = managerStatus{kind: msDetachedDueToRetryOp, operationID: op.ID}
	} else {
		m.status = managerStatus{kind: msDetached}
	}
	m.publishStatusLocked()
	m.mu.Unlock()
	return nil
}
