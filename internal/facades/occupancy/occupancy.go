// Package occupancy is the occupancy feature facade: Get serves a
// one-shot snapshot through internal/historyclient's REST leg, and
// Subscribe decodes the realtime metric channel.
package occupancy

import (
	"context"
	"encoding/json"

	"github.com/ably-labs/ably-chat-go/internal/core"
	"github.com/ably-labs/ably-chat-go/internal/domain"
	"github.com/ably-labs/ably-chat-go/internal/facades/channel"
	"github.com/ably-labs/ably-chat-go/internal/historyclient"
	"github.com/rs/zerolog"
)

type Facade struct {
	contributor *core.Contributor
	ch          channel.ContentChannel
	history     *historyclient.Client
	roomID      domain.RoomID

	incoming *core.Broadcaster[domain.OccupancyMetrics]
	log      zerolog.Logger
}

func New(contributor *core.Contributor, ch channel.ContentChannel, history *historyclient.Client, roomID domain.RoomID, log zerolog.Logger) *Facade {
	f := &Facade{
		contributor: contributor,
		ch:          ch,
		history:     history,
		roomID:      roomID,
		incoming:    core.NewBroadcaster[domain.OccupancyMetrics](),
		log:         log.With().Str("facade", "occupancy").Logger(),
	}
	go f.decodeLoop(ch.SubscribeMessages(core.Unbounded()))
	return f
}

func (f *Facade) decodeLoop(sub *core.Subscription[[]byte]) {
	for raw := range sub.C() {
		var m domain.OccupancyMetrics
		if err := json.Unmarshal(raw, &m); err != nil {
			f.log.Warn().Err(err).Msg("dropping malformed occupancy frame")
			continue
		}
		f.incoming.Emit(m)
	}
}

// Get fetches a one-shot occupancy snapshot over REST.
func (f *Facade) Get(ctx context.Context) (domain.OccupancyMetrics, error) {
	return f.history.GetOccupancy(ctx, f.roomID)
}

// Subscribe streams live occupancy metric updates.
func (f *Facade) Subscribe(policy core.BufferPolicy) *core.Subscription[domain.OccupancyMetrics] {
	return f.incoming.Subscribe(policy)
}

func (f *Facade) OnDiscontinuity(policy core.BufferPolicy) *core.Subscription[core.DiscontinuityEvent] {
	return f.contributor.OnDiscontinuity(policy)
}
