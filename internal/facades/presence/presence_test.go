package presence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ably-labs/ably-chat-go/internal/core"
	"github.com/ably-labs/ably-chat-go/internal/domain"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

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

// fakeStateChannel backs core.NewContributorAdapter so the manager has
// something to Attach against without dialing a real transport.
type fakeStateChannel struct {
	broadcaster *core.Broadcaster[core.StateChange]
	state       core.ChannelState
}

func newFakeStateChannel() *fakeStateChannel {
	return &fakeStateChannel{broadcaster: core.NewBroadcaster[core.StateChange](), state: core.ChannelInitialized}
}

func (f *fakeStateChannel) Attach(ctx context.Context) error {
	f.state = core.ChannelAttached
	f.broadcaster.Emit(core.StateChange{Current: core.ChannelAttached, Event: core.EventAttached})
	return nil
}
func (f *fakeStateChannel) Detach(ctx context.Context) error {
	f.state = core.ChannelDetached
	return nil
}
func (f *fakeStateChannel) State() core.ChannelState { return f.state }
func (f *fakeStateChannel) ErrorReason() error       { return nil }
func (f *fakeStateChannel) Subscribe(policy core.BufferPolicy) *core.Subscription[core.StateChange] {
	return f.broadcaster.Subscribe(policy)
}

func newAttachedManager(t *testing.T) (*core.Manager, *core.Contributor, *fakeChannel) {
	t.Helper()
	content := newFakeChannel()
	stateChan := newFakeStateChannel()
	adapter := core.NewContributorAdapter(stateChan, zerolog.Nop())
	contributor := core.NewContributor("room-1:presence", domain.FeaturePresence, adapter)

	room := domain.NewRoom("room-1", "room-1")
	manager := core.NewManager(room, []*core.Contributor{contributor}, core.DefaultConfig(), clock.NewMock(), zerolog.Nop())
	require.NoError(t, manager.Attach(context.Background()))
	return manager, contributor, content
}

func TestPresenceEnterUpdatesLocalSnapshot(t *testing.T) {
	manager, contributor, ch := newAttachedManager(t)
	f := New(manager, contributor, ch, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, f.Enter(ctx, "alice", map[string]any{"status": "online"}))

	require.Eventually(t, func() bool {
		members, err := f.Get(ctx)
		return err == nil && len(members) == 1 && members[0].User.ID == "alice"
	}, time.Second, 5*time.Millisecond)
}

func TestPresenceLeaveRemovesMember(t *testing.T) {
	manager, contributor, ch := newAttachedManager(t)
	f := New(manager, contributor, ch, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, f.Enter(ctx, "alice", nil))
	require.Eventually(t, func() bool {
		members, _ := f.Get(ctx)
		return len(members) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.Leave(ctx, "alice"))
	require.Eventually(t, func() bool {
		members, _ := f.Get(ctx)
		return len(members) == 0
	}, time.Second, 5*time.Millisecond)
}
