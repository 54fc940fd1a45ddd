// Package channel declares the narrow content-channel seam every
// feature facade talks to, independent of core.Channel's
// lifecycle-only state-change surface. Both transport/wschannel and
// transport/natschannel satisfy it.
package channel

import (
	"context"

	"github.com/ably-labs/ably-chat-go/internal/core"
)

// ContentChannel is the application-payload side of a realtime
// channel: publishing and receiving the JSON frames facades exchange
// (messages, presence updates, typing signals, reactions), as opposed
// to core.Channel's attach/detach/state-change lifecycle surface.
type ContentChannel interface {
	SubscribeMessages(policy core.BufferPolicy) *core.Subscription[[]byte]
	PublishJSON(ctx context.Context, v any) error
}
