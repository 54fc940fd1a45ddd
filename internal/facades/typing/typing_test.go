package typing

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ably-labs/ably-chat-go/internal/core"
	"github.com/ably-labs/ably-chat-go/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeChannel loops publishes back to subscribers, and answers a
// "query" frame with a "snapshot" naming respondWith, simulating the
// realtime server's typing-query responder.
type fakeChannel struct {
	mu          sync.Mutex
	content     *core.Broadcaster[[]byte]
	publishes   int32
	respondWith []domain.UserID
	dropQueries bool
}

func newFakeChannel(respondWith []domain.UserID) *fakeChannel {
	return &fakeChannel{content: core.NewBroadcaster[[]byte](), respondWith: respondWith}
}

func (f *fakeChannel) SubscribeMessages(policy core.BufferPolicy) *core.Subscription[[]byte] {
	return f.content.Subscribe(policy)
}

func (f *fakeChannel) PublishJSON(ctx context.Context, v any) error {
	atomic.AddInt32(&f.publishes, 1)
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}

	var ev wireEvent
	if err := json.Unmarshal(raw, &ev); err == nil && ev.Type == "query" {
		f.mu.Lock()
		drop := f.dropQueries
		f.mu.Unlock()
		if drop {
			return nil
		}
		snapshot, _ := json.Marshal(wireEvent{Type: "snapshot", Typers: f.respondWith})
		f.content.Emit(snapshot)
		return nil
	}

	f.content.Emit(raw)
	return nil
}

func newFacade(ch *fakeChannel) *Facade {
	contributor := core.NewContributor("room-1:typing", domain.FeatureTyping,
		core.NewContributorAdapter(nil, zerolog.Nop()))
	retry := RetryConfig{Budget: 100 * time.Millisecond, BaseDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond}
	return New(contributor, ch, 50*time.Millisecond, retry, zerolog.Nop())
}

func TestStartDebouncesRepeatedCalls(t *testing.T) {
	ch := newFakeChannel(nil)
	f := newFacade(ch)

	ctx := context.Background()
	require.NoError(t, f.Start(ctx, "alice"))
	require.NoError(t, f.Start(ctx, "alice"))
	require.NoError(t, f.Start(ctx, "alice"))

	require.Equal(t, int32(1), atomic.LoadInt32(&ch.publishes), "a repeated Start within the debounce window must not re-publish")
}

func TestStopPublishesOnlyWhenStarted(t *testing.T) {
	ch := newFakeChannel(nil)
	f := newFacade(ch)
	ctx := context.Background()

	require.NoError(t, f.Stop(ctx, "alice"))
	require.Equal(t, int32(0), atomic.LoadInt32(&ch.publishes), "stop without a prior start should be a no-op")

	require.NoError(t, f.Start(ctx, "alice"))
	require.NoError(t, f.Stop(ctx, "alice"))
	require.Equal(t, int32(2), atomic.LoadInt32(&ch.publishes))
}

func TestGetReturnsSnapshotFromQuery(t *testing.T) {
	ch := newFakeChannel([]domain.UserID{"alice", "bob"})
	f := newFacade(ch)

	typers, err := f.Get(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []domain.UserID{"alice", "bob"}, typers)
}

func TestGetFailsAfterRetryBudgetWhenNoSnapshotArrives(t *testing.T) {
	ch := newFakeChannel(nil)
	ch.dropQueries = true
	f := newFacade(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := f.Get(ctx)
	require.Error(t, err)
}
