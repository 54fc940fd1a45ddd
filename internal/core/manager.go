// Package core implements the room lifecycle manager: the single
// actor that owns a fixed set of per-feature contributors and drives
// them through attach, detach, release, retry and rundown so that
// every caller observes one coherent RoomStatus regardless of how
// many channels are actually involved.
package core

import (
	"context"
	"sync"

	"github.com/ably-labs/ably-chat-go/internal/domain"
	"github.com/ably-labs/ably-chat-go/internal/roomerr"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Manager is the lifecycle manager described by spec §4.3. All of its
// mutable state is guarded by mu; mu is held across every synchronous
// decision and released before any blocking I/O, sleep or channel
// receive, per the single-executor discipline spec §9 calls for.
type Manager struct {
	mu sync.Mutex

	room         *domain.Room
	contributors []*Contributor
	annotations  map[domain.ContributorID]*contributorAnnotation

	status     managerStatus
	lastPublic RoomStatus

	statusBroadcaster *Broadcaster[RoomStatusChange]
	continuations     *continuationRegistry

	cfg   Config
	clock clock.Clock
	log   zerolog.Logger

	closeCtx    context.Context
	closeCancel context.CancelFunc
}

// NewManager wires a manager around a fixed contributor set. The
// contributor slice's order is the order attach and detach cycles
// visit it in, and it never changes for the manager's lifetime.
func NewManager(room *domain.Room, contributors []*Contributor, cfg Config, clk clock.Clock, log zerolog.Logger) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		room:              room,
		contributors:      contributors,
		annotations:       make(map[domain.ContributorID]*contributorAnnotation, len(contributors)),
		status:            managerStatus{kind: msInitialized},
		lastPublic:        RoomStatus{Kind: RoomInitialized},
		statusBroadcaster: NewBroadcaster[RoomStatusChange](),
		continuations:     newContinuationRegistry(),
		cfg:               cfg,
		clock:             clk,
		log:               log.With().Str("room", string(room.ID)).Logger(),
		closeCtx:          ctx,
		closeCancel:       cancel,
	}
	for _, c := range contributors {
		m.annotations[c.ID] = &contributorAnnotation{}
	}
	for _, c := range contributors {
		go m.contributorListenerLoop(c)
	}
	return m
}

// Close stops every contributor state-change listener. It does not
// touch any channel; callers that want a clean teardown should
// Release first.
func (m *Manager) Close() {
	m.closeCancel()
}

// RoomStatus returns the current public status.
func (m *Manager) RoomStatus() RoomStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.public()
}

// OnRoomStatusChange subscribes to the room status change stream.
func (m *Manager) OnRoomStatusChange(policy BufferPolicy) *Subscription[RoomStatusChange] {
	return m.statusBroadcaster.Subscribe(policy)
}

// OnDiscontinuity subscribes to one contributor's discontinuity
// stream, identified by feature. Returns nil if no contributor backs
// that feature.
func (m *Manager) OnDiscontinuity(feature domain.Feature, policy BufferPolicy) *Subscription[DiscontinuityEvent] {
	c := m.contributorByFeature(feature)
	if c == nil {
		return nil
	}
	return c.OnDiscontinuity(policy)
}

// WaitToBeAbleToPerformPresenceOperations implements the
// presence-readiness gate (spec §4.5): it proceeds immediately when
// attached, fails immediately outside attaching/attached, and
// otherwise waits for the room to settle one way or the other.
func (m *Manager) WaitToBeAbleToPerformPresenceOperations(ctx context.Context, feature string) error {
	m.mu.Lock()
	pub := m.status.public()
	if pub.Kind == RoomAttached {
		m.mu.Unlock()
		return nil
	}
	if pub.Kind != RoomAttaching {
		m.mu.Unlock()
		return roomerr.ErrPresenceOperationRequiresRoomAttach(feature)
	}
	sub := m.statusBroadcaster.Subscribe(Unbounded())
	m.mu.Unlock()
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-sub.C():
			if !ok {
				return roomerr.ErrRoomTransitionedToInvalidStateForPresenceOperation(nil)
			}
			if change.Current.Kind == RoomAttached {
				return nil
			}
			if change.Current.Kind == RoomAttaching {
				continue
			}
			return roomerr.ErrRoomTransitionedToInvalidStateForPresenceOperation(change.Current.Cause)
		}
	}
}

func (m *Manager) contributorByID(id domain.ContributorID) *Contributor {
	for _, c := range m.contributors {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (m *Manager) contributorByFeature(f domain.Feature) *Contributor {
	for _, c := range m.contributors {
		if c.Feature == f {
			return c
		}
	}
	return nil
}

// publishStatusLocked records the public projection of the status the
// caller just set and, only when its kind actually changes, emits a
// room status change event. Must be called with mu held.
func (m *Manager) publishStatusLocked() {
	newPub := m.status.public()
	if newPub.Kind == m.lastPublic.Kind {
		m.lastPublic = newPub
		return
	}
	prev := m.lastPublic
	m.lastPublic = newPub
	m.statusBroadcaster.Emit(RoomStatusChange{Current: newPub, Previous: prev})
}

func (m *Manager) allContributorsAttachedLocked() bool {
	for _, c := range m.contributors {
		if c.Adapter.State() != ChannelAttached {
			return false
		}
	}
	return true
}

func (m *Manager) clearTransientDisconnectTimeoutLocked(id domain.ContributorID) {
	ann := m.annotations[id]
	if ann.transientTimeout == nil {
		return
	}
	ann.transientTimeout.timer.Stop()
	ann.transientTimeout = nil
}

func (m *Manager) clearAllTransientDisconnectTimeoutsLocked() {
	for _, c := range m.contributors {
		m.clearTransientDisconnectTimeoutLocked(c.ID)
	}
}

// emitPendingDiscontinuitiesLocked flushes every contributor's
// recorded discontinuity once an attachment cycle has completed (spec
// §4.4, pending-discontinuity bookkeeping: first write wins, deferred
// emission until the next successful attachment).
func (m *Manager) emitPendingDiscontinuitiesLocked() {
	for _, c := range m.contributors {
		ann := m.annotations[c.ID]
		if ann.pendingDiscontinuity == nil {
			continue
		}
		pending := ann.pendingDiscontinuity
		ann.pendingDiscontinuity = nil
		c.emitDiscontinuity(pending.Error)
	}
}
