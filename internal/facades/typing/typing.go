// Package typing is the typing-indicator facade: Start/Stop debounce
// publishes over the typing contributor's content channel, and Get
// queries the current typers with the bounded retry envelope spec §6
// pins (max 30s total, exponential backoff from 1s capped at 5s, full
// jitter of half the current delay), grounded on the
// cenkalti/backoff-driven restart timer in
// other_examples/element-hq-lk-jwt-service__delayedEventManager.go.
package typing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ably-labs/ably-chat-go/internal/core"
	"github.com/ably-labs/ably-chat-go/internal/domain"
	"github.com/ably-labs/ably-chat-go/internal/facades/channel"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const queryTimeout = 2 * time.Second

// RetryConfig is the bounded retry envelope Get runs the query/snapshot
// round trip under, overridable the way config.Config's
// typing_presence_retry_* keys advertise (spec §6).
type RetryConfig struct {
	Budget    time.Duration
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryConfig matches spec §6 exactly: max 30s total, exponential
// backoff from 1s capped at 5s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Budget: 30 * time.Second, BaseDelay: 1 * time.Second, MaxDelay: 5 * time.Second}
}

type wireEvent struct {
	Type     string          `json:"type"` // start | stop | query | snapshot
	ClientID domain.UserID   `json:"clientId"`
	Typers   []domain.UserID `json:"typers,omitempty"`
}

// Facade debounces Start calls: a second Start within the debounce
// window resets the auto-stop timer instead of publishing again.
type Facade struct {
	contributor *core.Contributor
	ch          channel.ContentChannel
	debounce    time.Duration
	retry       RetryConfig

	mu        sync.Mutex
	stopTimer *time.Timer
	started   bool

	events *core.Broadcaster[wireEvent]
	log    zerolog.Logger
}

func New(contributor *core.Contributor, ch channel.ContentChannel, debounce time.Duration, retry RetryConfig, log zerolog.Logger) *Facade {
	f := &Facade{
		contributor: contributor,
		ch:          ch,
		debounce:    debounce,
		retry:       retry,
		events:      core.NewBroadcaster[wireEvent](),
		log:         log.With().Str("facade", "typing").Logger(),
	}
	go f.decodeLoop(ch.SubscribeMessages(core.Unbounded()))
	return f
}

func (f *Facade) decodeLoop(sub *core.Subscription[[]byte]) {
	for raw := range sub.C() {
		var ev wireEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			f.log.Warn().Err(err).Msg("dropping malformed typing frame")
			continue
		}
		f.events.Emit(ev)
	}
}

// Start publishes a typing-start signal for clientID unless one is
// already outstanding, and arms an auto-Stop after the debounce
// window.
func (f *Facade) Start(ctx context.Context, clientID domain.UserID) error {
	f.mu.Lock()
	already := f.started
	f.started = true
	if f.stopTimer != nil {
		f.stopTimer.Stop()
	}
	f.stopTimer = time.AfterFunc(f.debounce, func() { _ = f.Stop(context.Background(), clientID) })
	f.mu.Unlock()

	if already {
		return nil
	}
	return f.ch.PublishJSON(ctx, wireEvent{Type: "start", ClientID: clientID})
}

// Stop publishes a typing-stop signal for clientID, if one is
// outstanding.
func (f *Facade) Stop(ctx context.Context, clientID domain.UserID) error {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return nil
	}
	f.started = false
	if f.stopTimer != nil {
		f.stopTimer.Stop()
		f.stopTimer = nil
	}
	f.mu.Unlock()

	return f.ch.PublishJSON(ctx, wireEvent{Type: "stop", ClientID: clientID})
}

// Get queries the current typers, retrying the query/snapshot
// round trip under f.retry: each attempt waits up to queryTimeout for a
// snapshot response, and the whole call gives up after f.retry.Budget
// total elapsed time.
func (f *Facade) Get(ctx context.Context) ([]domain.UserID, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.retry.BaseDelay
	bo.MaxInterval = f.retry.MaxDelay
	bo.RandomizationFactor = 0.5
	bo.Multiplier = 2
	bo.MaxElapsedTime = f.retry.Budget

	var result []domain.UserID
	op := func() error {
		typers, err := f.queryOnce(ctx)
		if err != nil {
			return err
		}
		result = typers
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

func (f *Facade) queryOnce(ctx context.Context) ([]domain.UserID, error) {
	sub := f.events.Subscribe(core.Unbounded())
	defer sub.Unsubscribe()

	if err := f.ch.PublishJSON(ctx, wireEvent{Type: "query"}); err != nil {
		return nil, err
	}

	timeout := time.NewTimer(queryTimeout)
	defer timeout.Stop()

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return nil, errors.New("typing: event stream closed")
			}
			if ev.Type == "snapshot" {
				return ev.Typers, nil
			}
		case <-timeout.C:
			return nil, errors.New("typing: no snapshot response within timeout")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (f *Facade) OnDiscontinuity(policy core.BufferPolicy) *core.Subscription[core.DiscontinuityEvent] {
	return f.contributor.OnDiscontinuity(policy)
}
