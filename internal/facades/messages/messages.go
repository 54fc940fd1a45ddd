// Package messages is the messages feature facade (spec §1: facades
// are "not the hard part"): it sends and subscribes to chat
// messages over the messages contributor's content channel, and
// serves history through internal/historyclient, caching pages there.
package messages

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ably-labs/ably-chat-go/internal/core"
	"github.com/ably-labs/ably-chat-go/internal/domain"
	"github.com/ably-labs/ably-chat-go/internal/facades/channel"
	"github.com/ably-labs/ably-chat-go/internal/historyclient"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// sendPayload is the wire shape of an outgoing message publish.
type sendPayload struct {
	ID        domain.MessageID `json:"id"`
	ClientID  domain.UserID    `json:"clientId"`
	Text      string           `json:"text"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Facade is the messages feature surface handed to application code.
type Facade struct {
	manager     *core.Manager
	contributor *core.Contributor
	ch          channel.ContentChannel
	history     *historyclient.Client
	roomID      domain.RoomID

	incoming *core.Broadcaster[domain.Message]
	log      zerolog.Logger
}

// New wires a messages facade around an already-constructed manager,
// its messages contributor, and the content channel backing it.
func New(manager *core.Manager, contributor *core.Contributor, ch channel.ContentChannel, history *historyclient.Client, roomID domain.RoomID, log zerolog.Logger) *Facade {
	f := &Facade{
		manager:     manager,
		contributor: contributor,
		ch:          ch,
		history:     history,
		roomID:      roomID,
		incoming:    core.NewBroadcaster[domain.Message](),
		log:         log.With().Str("facade", "messages").Logger(),
	}
	go f.decodeLoop(ch.SubscribeMessages(core.Unbounded()))
	return f
}

// decodeLoop re-emits every content frame on the underlying channel as
// a decoded domain.Message for the lifetime of the facade.
func (f *Facade) decodeLoop(sub *core.Subscription[[]byte]) {
	for raw := range sub.C() {
		var payload sendPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			f.log.Warn().Err(err).Msg("dropping malformed message frame")
			continue
		}
		f.incoming.Emit(domain.Message{
			ID:        payload.ID,
			RoomID:    f.roomID,
			ClientID:  payload.ClientID,
			Text:      payload.Text,
			CreatedAt: payload.CreatedAt,
		})
	}
}

// Send publishes text as a new message attributed to clientID.
func (f *Facade) Send(ctx context.Context, clientID domain.UserID, text string) (domain.Message, error) {
	msg := sendPayload{
		ID:        domain.MessageID(uuid.NewString()),
		ClientID:  clientID,
		Text:      text,
		CreatedAt: time.Now(),
	}
	if err := f.ch.PublishJSON(ctx, msg); err != nil {
		return domain.Message{}, err
	}
	return domain.Message{ID: msg.ID, RoomID: f.roomID, ClientID: clientID, Text: text, CreatedAt: msg.CreatedAt}, nil
}

// Get fetches one page of message history, pageToken "" for the
// first page (spec's Supplemented Features §C).
func (f *Facade) Get(ctx context.Context, pageToken string) (historyclient.HistoryPage, error) {
	return f.history.GetHistory(ctx, f.roomID, pageToken)
}

// Subscribe hands back every message published to this room from now
// on.
func (f *Facade) Subscribe(policy core.BufferPolicy) *core.Subscription[domain.Message] {
	return f.incoming.Subscribe(policy)
}

// OnDiscontinuity forwards the messages contributor's discontinuity
// stream (spec §4.4, §6).
func (f *Facade) OnDiscontinuity(policy core.BufferPolicy) *core.Subscription[core.DiscontinuityEvent] {
	return f.contributor.OnDiscontinuity(policy)
}
