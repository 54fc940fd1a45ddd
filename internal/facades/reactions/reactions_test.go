package reactions

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ably-labs/ably-chat-go/internal/core"
	"github.com/ably-labs/ably-chat-go/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeChannel is a minimal channel.ContentChannel for facade tests: a
// publish call re-delivers its payload to SubscribeMessages
// subscribers, the way a loopback realtime channel would.
type fakeChannel struct {
	content *core.Broadcaster[[]byte]
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{content: core.NewBroadcaster[[]byte]()}
}

func (f *fakeChannel) SubscribeMessages(policy core.BufferPolicy) *core.Subscription[[]byte] {
	return f.content.Subscribe(policy)
}

func (f *fakeChannel) PublishJSON(ctx context.Context, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.content.Emit(raw)
	return nil
}

func TestReactionsSendIsObservableOnSubscribe(t *testing.T) {
	ch := newFakeChannel()
	contributor := core.NewContributor("room-1:reactions", domain.FeatureReactions,
		core.NewContributorAdapter(nil, zerolog.Nop()))
	f := New(contributor, ch, zerolog.Nop())

	sub := f.Subscribe(core.Unbounded())
	defer sub.Unsubscribe()

	require.NoError(t, f.Send(context.Background(), "alice", "heart"))

	select {
	case r := <-sub.C():
		require.Equal(t, domain.UserID("alice"), r.ClientID)
		require.Equal(t, "heart", r.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reaction")
	}
}
