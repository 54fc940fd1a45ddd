// Package roomwiring builds one room's contributors, lifecycle
// manager and feature facades, and is the only place that knows both
// the domain layer and the transport layer. It stands in for the
// teacher's internal/app wiring (NewRoomManager, Registry) generalized
// from one voice room's WebRTC peers to one chat room's five
// websocket-backed contributors.
package roomwiring

import (
	"time"

	"github.com/ably-labs/ably-chat-go/internal/core"
	"github.com/ably-labs/ably-chat-go/internal/domain"
	"github.com/ably-labs/ably-chat-go/internal/facades/channel"
	"github.com/ably-labs/ably-chat-go/internal/facades/messages"
	"github.com/ably-labs/ably-chat-go/internal/facades/occupancy"
	"github.com/ably-labs/ably-chat-go/internal/facades/presence"
	"github.com/ably-labs/ably-chat-go/internal/facades/reactions"
	"github.com/ably-labs/ably-chat-go/internal/facades/typing"
	"github.com/ably-labs/ably-chat-go/internal/historyclient"
	"github.com/ably-labs/ably-chat-go/internal/registry"
	"github.com/ably-labs/ably-chat-go/internal/transport/natschannel"
	"github.com/ably-labs/ably-chat-go/internal/transport/wschannel"
	"github.com/benbjohnson/clock"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// TransportChannel is what a transport package hands back: it backs
// both the manager's Channel contract (lifecycle state) and the
// facades' ContentChannel contract (application payloads), the two
// contracts a single wschannel.Channel or natschannel.Channel
// satisfies at once.
type TransportChannel interface {
	core.Channel
	channel.ContentChannel
}

// ChannelFactory opens the transport channel a contributor for the
// given feature should attach over. cmd/chatdemo supplies one backed
// by wschannel.New; tests supply fakes.
type ChannelFactory func(room *domain.Room, feature domain.Feature) TransportChannel

// WSChannelFactory builds a ChannelFactory that dials url for every
// contributor, naming each websocket channel after
// domain.Room.ChannelName.
func WSChannelFactory(url string, dialer wschannel.Dialer, log zerolog.Logger) ChannelFactory {
	return func(room *domain.Room, feature domain.Feature) TransportChannel {
		return wschannel.New(room.ChannelName(feature), url, dialer, log)
	}
}

// NATSChannelFactory builds a ChannelFactory backed by natschannel
// instead of wschannel, one subject per feature under the given NATS
// cluster url.
func NATSChannelFactory(url string, log zerolog.Logger, opts ...nats.Option) ChannelFactory {
	return func(room *domain.Room, feature domain.Feature) TransportChannel {
		return natschannel.New(room.ChannelName(feature), url, log, opts...)
	}
}

// features lists the five contributors every room carries, in the
// fixed order the manager's attach and detach cycles visit them.
var features = []domain.Feature{
	domain.FeatureMessages,
	domain.FeaturePresence,
	domain.FeatureTyping,
	domain.FeatureReactions,
	domain.FeatureOccupancy,
}

// Build wires a fresh registry.Entry for room: one contributor and
// one content channel per feature, a manager over all five, and the
// five feature facades layered on top.
func Build(
	room *domain.Room,
	newChannel ChannelFactory,
	history *historyclient.Client,
	cfg core.Config,
	typingDebounce time.Duration,
	typingRetry typing.RetryConfig,
	clk clock.Clock,
	log zerolog.Logger,
) *registry.Entry {
	roomLog := log.With().Str("room", string(room.ID)).Logger()

	chByFeature := make(map[domain.Feature]TransportChannel, len(features))
	contributors := make([]*core.Contributor, 0, len(features))
	for _, f := range features {
		ch := newChannel(room, f)
		chByFeature[f] = ch

		adapter := core.NewContributorAdapter(ch, roomLog.With().Str("feature", string(f)).Logger())
		contributors = append(contributors, core.NewContributor(domain.ContributorID(string(room.ID)+":"+string(f)), f, adapter))
	}

	manager := core.NewManager(room, contributors, cfg, clk, roomLog)

	contributorByFeature := func(f domain.Feature) *core.Contributor {
		for _, c := range contributors {
			if c.Feature == f {
				return c
			}
		}
		return nil
	}

	return &registry.Entry{
		Manager:   manager,
		Messages:  messages.New(manager, contributorByFeature(domain.FeatureMessages), chByFeature[domain.FeatureMessages], history, room.ID, roomLog),
		Presence:  presence.New(manager, contributorByFeature(domain.FeaturePresence), chByFeature[domain.FeaturePresence], roomLog),
		Typing:    typing.New(contributorByFeature(domain.FeatureTyping), chByFeature[domain.FeatureTyping], typingDebounce, typingRetry, roomLog),
		Occupancy: occupancy.New(contributorByFeature(domain.FeatureOccupancy), chByFeature[domain.FeatureOccupancy], history, room.ID, roomLog),
		Reactions: reactions.New(contributorByFeature(domain.FeatureReactions), chByFeature[domain.FeatureReactions], roomLog),
	}
}
