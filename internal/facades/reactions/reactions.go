// Package reactions is the thinnest facade in the repo (spec §B): no
// REST leg, just publish and subscribe over the reactions
// contributor's content channel.
package reactions

import (
	"context"
	"encoding/json"

	"github.com/ably-labs/ably-chat-go/internal/core"
	"github.com/ably-labs/ably-chat-go/internal/domain"
	"github.com/ably-labs/ably-chat-go/internal/facades/channel"
	"github.com/rs/zerolog"
)

type Facade struct {
	contributor *core.Contributor
	ch          channel.ContentChannel

	incoming *core.Broadcaster[domain.Reaction]
	log      zerolog.Logger
}

func New(contributor *core.Contributor, ch channel.ContentChannel, log zerolog.Logger) *Facade {
	f := &Facade{
		contributor: contributor,
		ch:          ch,
		incoming:    core.NewBroadcaster[domain.Reaction](),
		log:         log.With().Str("facade", "reactions").Logger(),
	}
	go f.decodeLoop(ch.SubscribeMessages(core.Unbounded()))
	return f
}

func (f *Facade) decodeLoop(sub *core.Subscription[[]byte]) {
	for raw := range sub.C() {
		var r domain.Reaction
		if err := json.Unmarshal(raw, &r); err != nil {
			f.log.Warn().Err(err).Msg("dropping malformed reaction frame")
			continue
		}
		f.incoming.Emit(r)
	}
}

// Send publishes a reaction of kind on behalf of clientID.
func (f *Facade) Send(ctx context.Context, clientID domain.UserID, kind string) error {
	return f.ch.PublishJSON(ctx, domain.Reaction{ClientID: clientID, Type: kind})
}

func (f *Facade) Subscribe(policy core.BufferPolicy) *core.Subscription[domain.Reaction] {
	return f.incoming.Subscribe(policy)
}

func (f *Facade) OnDiscontinuity(policy core.BufferPolicy) *core.Subscription[core.DiscontinuityEvent] {
	return f.contributor.OnDiscontinuity(policy)
}
