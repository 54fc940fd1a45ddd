// Package natschannel implements the core.Channel contract over
// nats-io/nats.go subject pub/sub, as an alternative transport to
// wschannel. It is grounded on
// julianshen-nats-chat-keycloak/presence-service and room-service: the
// same connect-with-retry dance, the same
// nats.DisconnectErrHandler/ReconnectHandler pair, reworked from
// cluster-wide presence fanout into the per-contributor state-change
// stream the lifecycle manager consumes.
package natschannel

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ably-labs/ably-chat-go/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Channel is one realtime channel's NATS-backed transport: one
// subject per channel name, matching the teacher's room.changed.*/
// presence.event.* subject-per-room convention.
type Channel struct {
	mu      sync.Mutex
	subject string
	url     string
	opts    []nats.Option

	conn *nats.Conn
	sub  *nats.Subscription

	state  core.ChannelState
	reason error

	broadcaster *core.Broadcaster[core.StateChange]
	content     *core.Broadcaster[[]byte]
	log         zerolog.Logger
}

// New wires a Channel for subject against a NATS server at url. extra
// lets a caller add auth (nats.UserInfo, nats.Token, ...) on top of
// the reconnect defaults New sets internally.
func New(subject, url string, log zerolog.Logger, extra ...nats.Option) *Channel {
	return &Channel{
		subject:     subject,
		url:         url,
		opts:        extra,
		state:       core.ChannelInitialized,
		broadcaster: core.NewBroadcaster[core.StateChange](),
		content:     core.NewBroadcaster[[]byte](),
		log:         log.With().Str("channel", subject).Logger(),
	}
}

func (c *Channel) State() core.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) ErrorReason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Channel) Subscribe(policy core.BufferPolicy) *core.Subscription[core.StateChange] {
	return c.broadcaster.Subscribe(policy)
}

// SubscribeMessages hands back every application payload published to
// c.subject, independent of the connection state-change stream.
func (c *Channel) SubscribeMessages(policy core.BufferPolicy) *core.Subscription[[]byte] {
	return c.content.Subscribe(policy)
}

// Publish sends an application payload to c.subject.
func (c *Channel) Publish(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nats.ErrConnectionClosed
	}
	return conn.Publish(c.subject, payload)
}

// PublishJSON marshals v and publishes it to c.subject.
func (c *Channel) PublishJSON(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Publish(ctx, payload)
}

// Attach connects to NATS (wiring DisconnectErrHandler/ReconnectHandler
// before the subscribe, per the teacher's subscribe-first pattern) and
// subscribes to c.subject. A connect failure leaves the channel
// SUSPENDED rather than FAILED: a NATS server being briefly unreachable
// is the textbook transient case the manager's Retry operation exists
// for.
func (c *Channel) Attach(ctx context.Context) error {
	c.transition(core.ChannelAttaching, core.EventAttaching, false, nil)

	opts := append([]nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.log.Warn().Err(err).Msg("nats disconnected")
			c.transition(core.ChannelSuspended, core.EventSuspended, false, err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.log.Info().Msg("nats reconnected")
			c.transition(core.ChannelAttached, core.EventAttached, true, nil)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.log.Warn().Msg("nats connection closed")
			c.transition(core.ChannelFailed, core.EventFailed, false, nats.ErrConnectionClosed)
		}),
	}, c.opts...)

	conn, err := nats.Connect(c.url, opts...)
	if err != nil {
		c.transition(core.ChannelSuspended, core.EventSuspended, false, err)
		return err
	}

	sub, err := conn.Subscribe(c.subject, c.handleMsg)
	if err != nil {
		conn.Close()
		c.transition(core.ChannelSuspended, core.EventSuspended, false, err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.sub = sub
	c.mu.Unlock()

	c.transition(core.ChannelAttached, core.EventAttached, false, nil)
	return nil
}

// Detach unsubscribes and drains the connection. Drain is used instead
// of a bare Close so in-flight deliveries on c.subject are not dropped
// mid-detach.
func (c *Channel) Detach(ctx context.Context) error {
	c.transition(core.ChannelDetaching, core.EventDetaching, false, nil)

	c.mu.Lock()
	sub, conn := c.sub, c.conn
	c.sub, c.conn = nil, nil
	c.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	if conn != nil {
		_ = conn.Drain()
	}

	c.transition(core.ChannelDetached, core.EventDetached, false, nil)
	return nil
}

// handleMsg forwards an application payload to the content stream.
// Connection continuity is entirely the reconnect/disconnect
// handlers' concern; a subject delivery says nothing about it.
func (c *Channel) handleMsg(msg *nats.Msg) {
	c.content.Emit(msg.Data)
}

func (c *Channel) transition(next core.ChannelState, event core.ChannelEventKind, resumed bool, reason error) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.reason = reason
	c.mu.Unlock()

	c.broadcaster.Emit(core.StateChange{
		Current:  next,
		Previous: prev,
		Event:    event,
		Resumed:  resumed,
		Reason:   reason,
	})
}
