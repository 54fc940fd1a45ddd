package core

import "context"

// ChannelState is the transport-level state of one contributor's
// underlying realtime channel.
type ChannelState int

const (
	ChannelInitialized ChannelState = iota
	ChannelAttaching
	ChannelAttached
	ChannelDetaching
	ChannelDetached
	ChannelSuspended
	ChannelFailed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelInitialized:
		return "initialized"
	case ChannelAttaching:
		return "attaching"
	case ChannelAttached:
		return "attached"
	case ChannelDetaching:
		return "detaching"
	case ChannelDetached:
		return "detached"
	case ChannelSuspended:
		return "suspended"
	case ChannelFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ChannelEventKind names the event a StateChange record was raised
// for. It mirrors ChannelState plus Update, which carries a resume or
// a discontinuity without the channel having left ATTACHED.
type ChannelEventKind int

const (
	EventAttaching ChannelEventKind = iota
	EventAttached
	EventDetaching
	EventDetached
	EventSuspended
	EventFailed
	EventUpdate
)

// StateChange is one record on a channel's state-change stream (spec
// §4.2): the state it moved from and to, why, and whether the
// underlying connection resumed without loss.
type StateChange struct {
	Current  ChannelState
	Previous ChannelState
	Event    ChannelEventKind
	Resumed  bool
	Reason   error
}

// Channel is the transport surface a contributor adapter wraps. It is
// implemented by the realtime transport packages (wschannel,
// natschannel); core only ever consumes it.
type Channel interface {
	Attach(ctx context.Context) error
	Detach(ctx context.Context) error
	State() ChannelState
	ErrorReason() error
	Subscribe(policy BufferPolicy) *Subscription[StateChange]
}
