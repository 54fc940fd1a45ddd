package core

import (
	"context"

	"github.com/ably-labs/ably-chat-go/internal/roomerr"
)

// Attach implements the attachment cycle's public entry point (spec
// §4.3.1). It is idempotent once attached, rejects releasing/released
// outright, and otherwise waits for any in-progress operation before
// running its own attachment cycle — including from FAILED or
// SUSPENDED, which is how a caller recovers a room by hand.
func (m *Manager) Attach(ctx context.Context) error {
	for {
		m.mu.Lock()
		switch m.status.public().Kind {
		case RoomAttached:
			m.mu.Unlock()
			return nil
		case RoomReleasing:
			m.mu.Unlock()
			return roomerr.ErrRoomIsReleasing()
		case RoomReleased:
			m.mu.Unlock()
			return roomerr.ErrRoomIsReleased()
		}

		if m.status.operationID != "" {
			waitCh := m.continuations.wait(m.status.operationID)
			m.mu.Unlock()
			<-waitCh
			continue
		}

		op := newOperation(OpAttach)
		m.status = managerStatus{kind: msAttachingDueToAttachOp, operationID: op.ID}
		m.publishStatusLocked()
		m.mu.Unlock()

		err := m.runAttachmentCycle(ctx, op)

		m.mu.Lock()
		m.continuations.complete(op.ID, OpResult{Err: err})
		m.mu.Unlock()
		return err
	}
}

// runAttachmentCycle attaches every contributor in order. The first
// one that fails decides the room's fate: a SUSPENDED channel
// schedules a Retry, a FAILED channel schedules a Rundown, and either
// way the cycle stops there rather than attaching the rest.
func (m *Manager) runAttachmentCycle(ctx context.Context, op *Operation) error {
	for _, c := range m.contributors {
		if err := c.Adapter.Attach(ctx); err != nil {
			switch c.Adapter.State() {
			case ChannelSuspended:
				cause := roomerr.ErrAttachmentFailed(string(c.Feature), err)
				m.scheduleRetry(c.ID, cause)
				return cause
			case ChannelFailed:
				cause := roomerr.ErrAttachmentFailed(string(c.Feature), err)
				m.scheduleRundown(cause)
				return cause
			default:
				m.log.Error().Str("contributor", string(c.ID)).Str("state", c.Adapter.State().String()).
					Err(err).Msg("contributor attach failed into an unexpected state")
				return roomerr.ErrAttachmentFailed(string(c.Feature), err)
			}
		}
	}

	m.mu.Lock()
	m.clearAllTransientDisconnectTimeoutsLocked()
	m.status = managerStatus{kind: msAttached}
	m.publishStatusLocked()
	m.emitPendingDiscontinuitiesLocked()
	m.mu.Unlock()
	return nil
}
