// Package fanout delivers persisted messages to the personal rooms of the
// other members of their conversation. Delivery is best effort.
package fanout

//go:generate mockgen -source=fanout.go -destination=mocks/mock_fanout.go -package=mocks

import (
	"context"
	"log/slog"

	"github.com/mahaj/chatwithme/pkg/model"
	"github.com/mahaj/chatwithme/pkg/realtime"
)

// Pusher is the delivery primitive of the push channel.
type Pusher interface {
	PushToRoom(ctx context.Context, room, event string, data any) error
}

// Publisher hands a message event to whichever processes run dispatchers.
type Publisher interface {
	Publish(ctx context.Context, evt model.MessageEvent) error
}

type Dispatcher struct {
	pusher Pusher
	log    *slog.Logger
}

func NewDispatcher(pusher Pusher, log *slog.Logger) *Dispatcher {
	return &Dispatcher{pusher: pusher, log: log}
}

// Dispatch pushes evt to every member of its chat except the sender. An event
// without members is logged and skipped; failed pushes are not retried.
func (d *Dispatcher) Dispatch(ctx context.Context, evt model.MessageEvent) {
	members := evt.Message.Chat.MemberIDs()
	if len(members) == 0 {
		d.log.Warn("Message has no chat members, skipping fan-out", "message_id", evt.Message.ID, "chat_id", evt.ChatID())
		return
	}

	sender := evt.SenderID()
	for _, userID := range members {
		if userID == sender {
			continue
		}
		if err := d.pusher.PushToRoom(ctx, realtime.PersonalRoom(userID), realtime.EventMessageReceived, evt.Message); err != nil {
			d.log.Warn("Failed to push message", "message_id", evt.Message.ID, "user_id", userID, "error", err)
		}
	}
}

// LocalBus dispatches in the publishing goroutine, so pushes for one
// conversation leave in send order.
type LocalBus struct {
	dispatcher *Dispatcher
}

func NewLocalBus(d *Dispatcher) *LocalBus {
	return &LocalBus{dispatcher: d}
}

func (b *LocalBus) Publish(ctx context.Context, evt model.MessageEvent) error {
	b.dispatcher.Dispatch(ctx, evt)
	return nil
}
