package core

import (
	"github.com/ably-labs/ably-chat-go/internal/roomerr"
	"github.com/google/uuid"
)

// contributorListenerLoop is the dedicated goroutine that drains one
// contributor's state-change stream and feeds it to
// handleContributorStateChange, one record at a time, for the life of
// the manager.
func (m *Manager) contributorListenerLoop(c *Contributor) {
	sub := c.Adapter.SubscribeToState(Unbounded())
	defer sub.Unsubscribe()

	for {
		select {
		case <-m.closeCtx.Done():
			return
		case sc, ok := <-sub.C():
			if !ok {
				return
			}
			m.handleContributorStateChange(c, sc)
		}
	}
}

// handleContributorStateChange is spec §4.4's dispatcher. Everything
// here runs under mu: it is the manager's actor loop reacting to a
// contributor-driven event the way Attach/Detach/Release react to a
// caller-driven one.
func (m *Manager) handleContributorStateChange(c *Contributor, sc StateChange) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ann := m.annotations[c.ID]
	hadAlreadyAttached := ann.hasBeenAttached
	if sc.Event == EventAttached {
		ann.hasBeenAttached = true
	}
	opInProgress := m.status.operationID != ""

	switch sc.Event {
	case EventUpdate:
		m.handleUpdateLocked(c, ann, sc, hadAlreadyAttached, opInProgress)
	case EventAttached:
		m.handleAttachedLocked(c, ann, sc, hadAlreadyAttached, opInProgress)
	case EventFailed:
		m.handleFailedLocked(c, sc, opInProgress)
	case EventSuspended:
		m.handleSuspendedLocked(c, sc, opInProgress)
	case EventAttaching:
		m.handleAttachingLocked(c, ann, sc, opInProgress)
	default:
		// Detaching and Detached carry no manager-level reaction;
		// they only ever happen as a direct result of a cycle this
		// manager is already driving.
	}
}

// handleUpdateLocked covers an UPDATE event on an otherwise-ATTACHED
// channel: a resumed update is silent, a non-resumed one before the
// contributor ever attached is silent (nothing to be discontinuous
// from yet), and anything else is a discontinuity — deferred if an
// operation is mid-flight, emitted immediately otherwise.
func (m *Manager) handleUpdateLocked(c *Contributor, ann *contributorAnnotation, sc StateChange, hadAlreadyAttached, opInProgress bool) {
	if sc.Resumed || !hadAlreadyAttached {
		return
	}
	reason := sc.Reason
	if reason == nil {
		m.log.Warn().Str("contributor", string(c.ID)).Msg("update event with no reason; recording as unknown discontinuity")
		reason = roomerr.ErrUnknown()
	}
	if opInProgress {
		m.recordPendingDiscontinuityLocked(c, ann, reason)
		return
	}
	c.emitDiscontinuity(reason)
}

// handleAttachedLocked mirrors handleUpdateLocked's discontinuity
// logic for a re-ATTACH after a disconnect, and otherwise clears the
// contributor's transient-disconnect timer and, once every contributor
// is attached, settles the room in ATTACHED.
func (m *Manager) handleAttachedLocked(c *Contributor, ann *contributorAnnotation, sc StateChange, hadAlreadyAttached, opInProgress bool) {
	if opInProgress && !sc.Resumed && hadAlreadyAttached {
		reason := sc.Reason
		if reason == nil {
			reason = roomerr.ErrUnknown()
		}
		m.recordPendingDiscontinuityLocked(c, ann, reason)
		return
	}

	m.clearTransientDisconnectTimeoutLocked(c.ID)

	if m.status.public().Kind != RoomAttached && m.allContributorsAttachedLocked() {
		m.status = managerStatus{kind: msAttached}
		m.publishStatusLocked()
		m.emitPendingDiscontinuitiesLocked()
	}
}

func (m *Manager) recordPendingDiscontinuityLocked(c *Contributor, ann *contributorAnnotation, reason error) {
	if ann.pendingDiscontinuity != nil {
		m.log.Info().Str("contributor", string(c.ID)).Msg("dropping discontinuity cause: one is already pending")
		return
	}
	ann.pendingDiscontinuity = &DiscontinuityEvent{Error: reason}
}

// handleFailedLocked moves the room straight to FAILED and best-effort
// detaches everything else, unless an operation is already driving the
// room (in which case that operation's own terminal handling owns the
// outcome).
func (m *Manager) handleFailedLocked(c *Contributor, sc StateChange, opInProgress bool) {
	if opInProgress {
		return
	}
	m.clearAllTransientDisconnectTimeoutsLocked()
	reason := sc.Reason
	if reason == nil {
		m.log.Warn().Str("contributor", string(c.ID)).Msg("failed state change with no reason; using unknown error cause")
		reason = roomerr.ErrUnknown()
	}
	m.status = managerStatus{kind: msFailed, cause: reason}
	m.publishStatusLocked()
	go m.bestEffortDetachAll()
}

// handleSuspendedLocked schedules a Retry keyed to this contributor,
// unless an operation is already driving the room.
func (m *Manager) handleSuspendedLocked(c *Contributor, sc StateChange, opInProgress bool) {
	if opInProgress {
		return
	}
	m.clearAllTransientDisconnectTimeoutsLocked()
	reason := sc.Reason
	if reason == nil {
		m.log.Warn().Str("contributor", string(c.ID)).Msg("suspended state change with no reason; using unknown error cause")
		reason = roomerr.ErrUnknown()
	}
	op := m.scheduleRetryLocked(c.ID, reason)
	go m.runRetryOperation(op)
}

// handleAttachingLocked starts the transient-disconnect timer the
// first time a contributor moves to ATTACHING outside of an
// in-progress operation; a second ATTACHING while the timer is
// already running is a no-op (spec §4.4, §5).
func (m *Manager) handleAttachingLocked(c *Contributor, ann *contributorAnnotation, sc StateChange, opInProgress bool) {
	if opInProgress || ann.transientTimeout != nil {
		return
	}
	m.startTransientDisconnectTimeoutLocked(c, sc.Reason)
}

func (m *Manager) startTransientDisconnectTimeoutLocked(c *Contributor, reason error) {
	id := uuid.NewString()
	timer := m.clock.AfterFunc(m.cfg.TransientDisconnectTimeout, func() {
		m.onTransientDisconnectTimeoutFired(c, id, reason)
	})
	m.annotations[c.ID].transientTimeout = &timeoutHandle{id: id, timer: timer}
}

// onTransientDisconnectTimeoutFired runs on the clock's own goroutine;
// it must re-acquire mu and re-validate that the timer it was
// scheduled under is still the live one before touching anything,
// since Stop() cannot guarantee a concurrently-firing timer's callback
// never runs (spec §5).
func (m *Manager) onTransientDisconnectTimeoutFired(c *Contributor, timerID string, reason error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ann := m.annotations[c.ID]
	if ann.transientTimeout == nil || ann.transientTimeout.id != timerID {
		return
	}
	ann.transientTimeout = nil

	if m.status.operationID != "" {
		return
	}
	m.status = managerStatus{kind: msAttachingDueToContributorStateChange, cause: reason}
	m.publishStatusLocked()
}

func (m *Manager) bestEffortDetachAll() {
	for _, c := range m.contributors {
		if err := c.Adapter.Detach(m.closeCtx); err != nil {
			m.log.Warn().Err(err).Str("contributor", string(c.ID)).Msg("best-effort detach after a sibling contributor failed did not succeed")
		}
	}
}
