package fanout

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/mahaj/chatwithme/pkg/fanout/mocks"
	"github.com/mahaj/chatwithme/pkg/model"
	"github.com/mahaj/chatwithme/pkg/realtime"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func groupEvent(sender string, members ...string) model.MessageEvent {
	users := make([]model.Profile, 0, len(members))
	for _, id := range members {
		users = append(users, model.Profile{ID: id, Name: id})
	}
	return model.MessageEvent{Message: model.MessageDetail{
		ID:      42,
		Sender:  model.Profile{ID: sender, Name: sender},
		Content: "hi",
		Chat:    model.ChatDetail{ID: "chat-1", Name: "team", IsGroup: true, Users: users},
	}}
}

func TestDispatch_PushesToEveryMemberButSender(t *testing.T) {
	ctrl := gomock.NewController(t)
	pusher := mocks.NewMockPusher(ctrl)
	d := NewDispatcher(pusher, logs.GetLoggerFromLevel(slog.LevelDebug))
	evt := groupEvent("u1", "u1", "u2", "u3")

	pusher.EXPECT().PushToRoom(gomock.Any(), realtime.PersonalRoom("u2"), realtime.EventMessageReceived, evt.Message).Return(nil)
	pusher.EXPECT().PushToRoom(gomock.Any(), realtime.PersonalRoom("u3"), realtime.EventMessageReceived, evt.Message).Return(nil)

	d.Dispatch(context.Background(), evt)
}

func TestDispatch_SkipsEventWithoutMembers(t *testing.T) {
	ctrl := gomock.NewController(t)
	pusher := mocks.NewMockPusher(ctrl)
	d := NewDispatcher(pusher, logs.GetLoggerFromLevel(slog.LevelDebug))

	pusher.EXPECT().PushToRoom(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	d.Dispatch(context.Background(), groupEvent("u1"))
}

func TestDispatch_FailedPushDoesNotStopOthers(t *testing.T) {
	ctrl := gomock.NewController(t)
	pusher := mocks.NewMockPusher(ctrl)
	d := NewDispatcher(pusher, logs.GetLoggerFromLevel(slog.LevelDebug))

	gomock.InOrder(
		pusher.EXPECT().PushToRoom(gomock.Any(), realtime.PersonalRoom("u2"), gomock.Any(), gomock.Any()).Return(errors.New("hub stopped")),
		pusher.EXPECT().PushToRoom(gomock.Any(), realtime.PersonalRoom("u3"), gomock.Any(), gomock.Any()).Return(nil),
	)

	d.Dispatch(context.Background(), groupEvent("u1", "u1", "u2", "u3"))
}

func TestLocalBus_DispatchesSynchronously(t *testing.T) {
	ctrl := gomock.NewController(t)
	pusher := mocks.NewMockPusher(ctrl)
	bus := NewLocalBus(NewDispatcher(pusher, logs.GetLoggerFromLevel(slog.LevelDebug)))

	pusher.EXPECT().PushToRoom(gomock.Any(), realtime.PersonalRoom("u2"), realtime.EventMessageReceived, gomock.Any()).Return(nil)

	require.NoError(t, bus.Publish(context.Background(), groupEvent("u1", "u1", "u2")))
}

func TestConsumer_HandleDecodesAndDispatches(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	pusher := mocks.NewMockPusher(ctrl)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	c := &Consumer{dispatcher: NewDispatcher(pusher, log), log: log}

	evt := groupEvent("u1", "u1", "u2")
	msg, err := encodeEvent(evt)
	req.NoError(err)
	req.Equal("chat-1", string(msg.Key))

	pusher.EXPECT().PushToRoom(gomock.Any(), realtime.PersonalRoom("u2"), realtime.EventMessageReceived, evt.Message).Return(nil)
	c.handle(context.Background(), msg.Value)

	// garbage is logged and dropped
	c.handle(context.Background(), []byte("{"))
}

func TestReplicaGroupID_IsUniquePerCall(t *testing.T) {
	a, b := ReplicaGroupID("gateway"), ReplicaGroupID("gateway")
	require.NotEqual(t, a, b)
	require.Contains(t, a, "gateway-")
}
