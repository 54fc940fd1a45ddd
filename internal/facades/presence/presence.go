// Package presence is the presence feature facade: Enter/Update/Leave
// publish over the presence contributor's content channel, each
// gated by the lifecycle manager's presence-readiness gate (spec
// §4.5); Get reads a locally maintained snapshot kept current by the
// same content stream.
package presence

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ably-labs/ably-chat-go/internal/core"
	"github.com/ably-labs/ably-chat-go/internal/domain"
	"github.com/ably-labs/ably-chat-go/internal/facades/channel"
	"github.com/rs/zerolog"
)

const featureName = "presence"

type wireEvent struct {
	Type     string         `json:"type"` // enter | update | leave
	ClientID domain.UserID  `json:"clientId"`
	Data     map[string]any `json:"data,omitempty"`
}

type Facade struct {
	manager     *core.Manager
	contributor *core.Contributor
	ch          channel.ContentChannel

	mu      sync.RWMutex
	members map[domain.UserID]domain.PresenceMember

	events *core.Broadcaster[wireEvent]
	log    zerolog.Logger
}

func New(manager *core.Manager, contributor *core.Contributor, ch channel.ContentChannel, log zerolog.Logger) *Facade {
	f := &Facade{
		manager:     manager,
		contributor: contributor,
		ch:          ch,
		members:     make(map[domain.UserID]domain.PresenceMember),
		events:      core.NewBroadcaster[wireEvent](),
		log:         log.With().Str("facade", "presence").Logger(),
	}
	go f.decodeLoop(ch.SubscribeMessages(core.Unbounded()))
	return f
}

func (f *Facade) decodeLoop(sub *core.Subscription[[]byte]) {
	for raw := range sub.C() {
		var ev wireEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			f.log.Warn().Err(err).Msg("dropping malformed presence frame")
			continue
		}
		f.applyLocked(ev)
		f.events.Emit(ev)
	}
}

func (f *Facade) applyLocked(ev wireEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch ev.Type {
	case "leave":
		delete(f.members, ev.ClientID)
	default:
		f.members[ev.ClientID] = domain.PresenceMember{
			User: &domain.User{ID: ev.ClientID},
			Data: ev.Data,
		}
	}
}

func (f *Facade) publish(ctx context.Context, typ string, clientID domain.UserID, data map[string]any) error {
	if err := f.manager.WaitToBeAbleToPerformPresenceOperations(ctx, featureName); err != nil {
		return err
	}
	return f.ch.PublishJSON(ctx, wireEvent{Type: typ, ClientID: clientID, Data: data})
}

func (f *Facade) Enter(ctx context.Context, clientID domain.UserID, data map[string]any) error {
	return f.publish(ctx, "enter", clientID, data)
}

func (f *Facade) Update(ctx context.Context, clientID domain.UserID, data map[string]any) error {
	return f.publish(ctx, "update", clientID, data)
}

func (f *Facade) Leave(ctx context.Context, clientID domain.UserID) error {
	return f.publish(ctx, "leave", clientID, nil)
}

// Get returns the current presence snapshot, after confirming the
// room is (or is about to be) attached.
func (f *Facade) Get(ctx context.Context) ([]domain.PresenceMember, error) {
	if err := f.manager.WaitToBeAbleToPerformPresenceOperations(ctx, featureName); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]domain.PresenceMember, 0, len(f.members))
	for _, m := range f.members {
		out = append(out, m)
	}
	return out, nil
}

func (f *Facade) OnDiscontinuity(policy core.BufferPolicy) *core.Subscription[core.DiscontinuityEvent] {
	return f.contributor.OnDiscontinuity(policy)
}
