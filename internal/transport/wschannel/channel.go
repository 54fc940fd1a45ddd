// Package wschannel implements the core.Channel contract over a
// gorilla/websocket connection to the realtime transport. It is
// grounded on the teacher's internal/adapters/signal package: the same
// dialer/upgrader split, the same JSON envelope dispatch, the same
// write-pump/read-pump pair, reworked from a server-side signaling
// socket into a client-side channel that reports the state-change
// vocabulary the lifecycle manager consumes.
package wschannel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ably-labs/ably-chat-go/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// envelope is the wire frame exchanged on the channel socket, mirroring
// the teacher's {"type": "..."} dispatch in adapters/signal/io.go.
type envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Dialer opens the websocket connection a Channel attaches over. It is
// a narrow seam over *websocket.Dialer so tests can substitute a fake
// without dialing a real socket.
type Dialer interface {
	Dial(ctx context.Context, url string) (*websocket.Conn, error)
}

type defaultDialer struct {
	underlying *websocket.Dialer
}

// NewDialer wraps gorilla/websocket's Dialer with sane defaults for a
// realtime channel socket: a 10s handshake timeout.
func NewDialer() Dialer {
	return &defaultDialer{underlying: &websocket.Dialer{HandshakeTimeout: 10 * time.Second}}
}

func (d *defaultDialer) Dial(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := d.underlying.DialContext(ctx, url, nil)
	return conn, err
}

// Channel is one realtime channel's websocket-backed transport. One
// Channel backs exactly one contributor adapter (spec §4.2).
type Channel struct {
	mu   sync.Mutex
	name string
	url  string

	dialer Dialer
	conn   *websocket.Conn
	send   chan envelope

	state  core.ChannelState
	reason error

	broadcaster *core.Broadcaster[core.StateChange]
	content     *core.Broadcaster[[]byte]
	closeCtx    context.Context
	closeCancel context.CancelFunc
	log         zerolog.Logger
}

// New wires a Channel for the given channel name against url, using
// dialer to establish the socket. Pass nil for dialer to use
// NewDialer().
func New(name, url string, dialer Dialer, log zerolog.Logger) *Channel {
	if dialer == nil {
		dialer = NewDialer()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		name:        name,
		url:         url,
		dialer:      dialer,
		state:       core.ChannelInitialized,
		broadcaster: core.NewBroadcaster[core.StateChange](),
		content:     core.NewBroadcaster[[]byte](),
		closeCtx:    ctx,
		closeCancel: cancel,
		log:         log.With().Str("channel", name).Logger(),
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

// SubscribeMessages hands back every application payload ("message",
// "presence", "reaction", ... envelope types the facades send) that
// arrives on this channel, independent of the state-change stream.
func (c *Channel) SubscribeMessages(policy core.BufferPolicy) *core.Subscription[[]byte] {
	return c.content.Subscribe(policy)
}

// Publish sends an application payload of the given envelope type over
// the channel socket. Facades use this for Send/Enter/Update/Leave.
func (c *Channel) Publish(ctx context.Context, envType string, payload json.RawMessage) error {
	c.mu.Lock()
	send := c.send
	c.mu.Unlock()
	if send == nil {
		return errors.New("wschannel: not attached")
	}
	select {
	case send <- envelope{Type: envType, Channel: c.name, Payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishJSON marshals v and publishes it as a "message" envelope.
func (c *Channel) PublishJSON(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Publish(ctx, "message", payload)
}

// Attach dials the socket and subscribes to c.name on the wire,
// moving through ATTACHING to ATTACHED on success or to SUSPENDED on a
// dial failure (a websocket channel treats any connect error as
// transient and recoverable by the manager's Retry operation).
func (c *Channel) Attach(ctx context.Context) error {
	c.transition(core.ChannelAttaching, core.EventAttaching, false, nil)

	conn, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		c.transition(core.ChannelSuspended, core.EventSuspended, false, err)
		return err
	}

	if err := conn.WriteJSON(envelope{Type: "subscribe", Channel: c.name}); err != nil {
		_ = conn.Close()
		c.transition(core.ChannelSuspended, core.EventSuspended, false, err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.send = make(chan envelope, 32)
	c.mu.Unlock()

	go c.writePump()
	go c.readPump()

	c.transition(core.ChannelAttached, core.EventAttached, false, nil)
	return nil
}

// Detach unsubscribes and closes the socket, moving to DETACHED
// unconditionally: a close error on an already-dead socket is not a
// detach failure (spec §4.3.2 only treats a FAILED channel as a
// detach failure, and a websocket channel has no distinct FAILED
// detach outcome).
func (c *Channel) Detach(ctx context.Context) error {
	c.transition(core.ChannelDetaching, core.EventDetaching, false, nil)

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteJSON(envelope{Type: "unsubscribe", Channel: c.name})
		_ = conn.Close()
	}

	c.transition(core.ChannelDetached, core.EventDetached, false, nil)
	return nil
}

// Close tears down the background pumps without changing state; used
// when the owning manager itself is being destroyed.
func (c *Channel) Close() {
	c.closeCancel()
}

func (c *Channel) writePump() {
	c.mu.Lock()
	conn, send := c.conn, c.send
	c.mu.Unlock()
	if conn == nil {
		return
	}
	for {
		select {
		case <-c.closeCtx.Done():
			return
		case env, ok := <-send:
			if !ok {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				c.log.Error().Err(err).Msg("write deadline")
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				c.log.Error().Err(err).Msg("write error")
				c.transition(core.ChannelSuspended, core.EventSuspended, false, err)
				return
			}
		}
	}
}

func (c *Channel) readPump() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	for {
		select {
		case <-c.closeCtx.Done():
			return
		default:
		}
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if errors.Is(err, websocket.ErrCloseSent) {
				return
			}
			c.log.Warn().Err(err).Msg("read error, treating as suspended")
			c.transition(core.ChannelSuspended, core.EventSuspended, false, err)
			return
		}
		c.handleEnvelope(env)
	}
}

// handleEnvelope dispatches the frames a realtime server may push
// unprompted on an attached channel: an "update" carries a resume or
// discontinuity marker, "subscribe"/"unsubscribe" acknowledgements are
// ignored, and any other frame's payload is forwarded uninterpreted to
// the SubscribeMessages stream.
func (c *Channel) handleEnvelope(env envelope) {
	switch env.Type {
	case "update":
		var body struct {
			Resumed bool   `json:"resumed"`
			Reason  string `json:"reason,omitempty"`
		}
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			c.log.Warn().Err(err).Msg("bad update payload")
			return
		}
		var reason error
		if body.Reason != "" {
			reason = errors.New(body.Reason)
		}
		c.transition(c.State(), core.EventUpdate, body.Resumed, reason)
	case "subscribe", "unsubscribe":
		// server acknowledgements of our own subscribe/unsubscribe frames.
	default:
		c.content.Emit(env.Payload)
	}
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
