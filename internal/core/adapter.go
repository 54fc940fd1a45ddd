package core

import (
	"context"

	"github.com/rs/zerolog"
)

// ContributorAdapter wraps exactly one Channel and forwards attach,
// detach and state access without interpreting them. It exists so the
// lifecycle manager never imports a transport package directly (spec
// §4.2).
type ContributorAdapter struct {
	channel Channel
	log     zerolog.Logger
}

func NewContributorAdapter(channel Channel, log zerolog.Logger) *ContributorAdapter {
	return &ContributorAdapter{channel: channel, log: log}
}

func (a *ContributorAdapter) Attach(ctx context.Context) error {
	return a.channel.Attach(ctx)
}

func (a *ContributorAdapter) Detach(ctx context.Context) error {
	return a.channel.Detach(ctx)
}

func (a *ContributorAdapter) State() ChannelState {
	return a.channel.State()
}

func (a *ContributorAdapter) ErrorReason() error {
	return a.channel.ErrorReason()
}

func (a *ContributorAdapter) SubscribeToState(policy BufferPolicy) *Subscription[StateChange] {
	return a.channel.Subscribe(policy)
}
