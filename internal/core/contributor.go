package core

import "github.com/ably-labs/ably-chat-go/internal/domain"

// DiscontinuityEvent is delivered on a contributor's discontinuity
// stream whenever its channel lost continuity after having attached at
// least once: a non-resumed UPDATE (held back until the room next
// reaches attached if an operation is in progress), or a non-resumed
// ATTACHED seen during an operation (likewise held back).
type DiscontinuityEvent struct {
	Error error
}

// Contributor is one feature's channel, wired into the manager at
// construction and never replaced for the manager's lifetime (spec
// §3, "Contributor").
type Contributor struct {
	ID            domain.ContributorID
	Feature       domain.Feature
	Adapter       *ContributorAdapter
	discontinuity *Broadcaster[DiscontinuityEvent]
}

func NewContributor(id domain.ContributorID, feature domain.Feature, adapter *ContributorAdapter) *Contributor {
	return &Contributor{
		ID:            id,
		Feature:       feature,
		Adapter:       adapter,
		discontinuity: NewBroadcaster[DiscontinuityEvent](),
	}
}

// OnDiscontinuity subscribes to this contributor's discontinuity
// stream. Facades expose this to callers under feature-specific names.
func (c *Contributor) OnDiscontinuity(policy BufferPolicy) *Subscription[DiscontinuityEvent] {
	return c.discontinuity.Subscribe(policy)
}

func (c *Contributor) emitDiscontinuity(reason error) {
	c.discontinuity.Emit(DiscontinuityEvent{Error: reason})
}
