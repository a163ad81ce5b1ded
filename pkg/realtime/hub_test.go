package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mahaj/chatwithme/pkg/auth"
	"github.com/mahaj/chatwithme/pkg/model"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

var (
	u1 = model.Identity{ID: "u1", Name: "one", Email: "one@wechat.com"}
	u2 = model.Identity{ID: "u2", Name: "two", Email: "two@wechat.com"}
	u3 = model.Identity{ID: "u3", Name: "three", Email: "three@wechat.com"}
)

type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
	calls  []string
}

func newFakePresence() *fakePresence { return &fakePresence{online: map[string]bool{}} }

func (p *fakePresence) Online(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[id] = true
	p.calls = append(p.calls, "online:"+id)
	return nil
}

func (p *fakePresence) Offline(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, id)
	p.calls = append(p.calls, "offline:"+id)
	return nil
}

func (p *fakePresence) Filter(_ context.Context, ids []string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, id := range ids {
		if p.online[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (p *fakePresence) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type hubFixture struct {
	t      *testing.T
	hub    *Hub
	tokens *auth.TokenService
}

func newHubFixture(t *testing.T, opts ...Option) *hubFixture {
	t.Helper()
	tokens, err := auth.NewTokenService(auth.TokenConfig{SecretKey: []byte("hub-secret"), TTL: time.Hour})
	require.NoError(t, err)

	h := NewHub(tokens, logs.GetLoggerFromLevel(slog.LevelDebug), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return &hubFixture{t: t, hub: h, tokens: tokens}
}

func (f *hubFixture) connect() *Client {
	c := newClient(f.hub, nil, "test")
	f.hub.register <- c
	return c
}

func (f *hubFixture) credential(identity model.Identity) string {
	cred, err := f.tokens.Issue(identity)
	require.NoError(f.t, err)
	return cred.String()
}

func (f *hubFixture) emit(c *Client, event string, data any) {
	raw, err := json.Marshal(data)
	require.NoError(f.t, err)
	f.hub.inbound <- inbound{client: c, frame: Frame{Event: event, Data: raw}}
}

// setUp connects a client and completes setup for identity.
func (f *hubFixture) setUp(identity model.Identity) *Client {
	c := f.connect()
	f.emit(c, EventSetup, setupData{Token: f.credential(identity)})
	require.Equal(f.t, EventConnected, f.next(c).Event)
	return c
}

// flush returns once every inbound frame emitted and every push made so far
// has been handled.
func (f *hubFixture) flush() {
	barrier := f.setUp(model.Identity{ID: "barrier"})
	require.NoError(f.t, f.hub.PushToRoom(context.Background(), PersonalRoom("barrier"), "sentinel", nil))
	require.Equal(f.t, "sentinel", f.next(barrier).Event)
}

func (f *hubFixture) next(c *Client) Frame {
	f.t.Helper()
	select {
	case raw, ok := <-c.send:
		require.True(f.t, ok, "send channel closed")
		var frame Frame
		require.NoError(f.t, json.Unmarshal(raw, &frame))
		return frame
	case <-time.After(waitFor):
		f.t.Fatal("no frame received")
		return Frame{}
	}
}

// expectNothingBefore pushes a sentinel to the client's personal room and checks it is
// the next frame the client sees.
func (f *hubFixture) expectNothingBefore(c *Client, personalRoom string) {
	f.t.Helper()
	require.NoError(f.t, f.hub.PushToRoom(context.Background(), personalRoom, "sentinel", nil))
	require.Equal(f.t, "sentinel", f.next(c).Event)
}

// joinAdmitted emits "join chat" and waits until c receives pushes to the
// chat room. Sentinels that reach other members are drained by the caller.
func (f *hubFixture) joinAdmitted(c *Client, chatID string) {
	f.t.Helper()
	f.emit(c, EventJoinChat, chatID)
	require.Eventually(f.t, func() bool {
		_ = f.hub.PushToRoom(context.Background(), ChatRoom(chatID), "sentinel", nil)
		select {
		case <-c.send:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, waitFor, 50*time.Millisecond)
}

func drain(clients ...*Client) {
	for _, c := range clients {
		for len(c.send) > 0 {
			<-c.send
		}
	}
}

type memberSet struct {
	mu      sync.Mutex
	members map[string]bool
}

func (m *memberSet) IsMember(_ context.Context, chatID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return chatID == "chat-1" && m.members[userID], nil
}

func (m *memberSet) remove(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, userID)
}

func TestHub_SetupJoinsPersonalRoom(t *testing.T) {
	f := newHubFixture(t)
	c := f.setUp(u1)

	require.NoError(t, f.hub.PushToRoom(context.Background(), PersonalRoom(u1.ID), EventMessageReceived, map[string]string{"content": "hi"}))
	frame := f.next(c)
	require.Equal(t, EventMessageReceived, frame.Event)
	require.JSONEq(t, `{"content":"hi"}`, string(frame.Data))
}

func TestHub_SetupWithInvalidCredentialIsDropped(t *testing.T) {
	req := require.New(t)
	f := newHubFixture(t)
	c := f.connect()

	other, err := auth.NewTokenService(auth.TokenConfig{SecretKey: []byte("other-secret"), TTL: time.Hour})
	req.NoError(err)
	forged, err := other.Issue(u1)
	req.NoError(err)

	f.emit(c, EventSetup, setupData{Token: forged.String()})
	f.emit(c, EventSetup, map[string]string{"_id": u1.ID})
	f.emit(c, EventJoinChat, "chat-1")
	f.flush()

	req.NoError(f.hub.PushToRoom(context.Background(), PersonalRoom(u1.ID), EventMessageReceived, nil))
	req.NoError(f.hub.PushToRoom(context.Background(), ChatRoom("chat-1"), EventMessageReceived, nil))
	f.flush()

	// still Connected, so a valid setup works afterwards
	f.emit(c, EventSetup, setupData{Token: f.credential(u1)})
	req.Equal(EventConnected, f.next(c).Event)
}

func TestHub_RepeatedSetupIsIgnored(t *testing.T) {
	f := newHubFixture(t)
	c := f.setUp(u1)

	f.emit(c, EventSetup, setupData{Token: f.credential(u2)})
	f.flush()

	require.NoError(t, f.hub.PushToRoom(context.Background(), PersonalRoom(u2.ID), EventMessageReceived, nil))
	f.expectNothingBefore(c, PersonalRoom(u1.ID))
}

func TestHub_JoinRequiresSetup(t *testing.T) {
	f := newHubFixture(t)
	c := f.connect()

	f.emit(c, EventJoinChat, "chat-1")
	f.flush()
	require.NoError(t, f.hub.PushToRoom(context.Background(), ChatRoom("chat-1"), EventMessageReceived, nil))

	f.emit(c, EventSetup, setupData{Token: f.credential(u1)})
	require.Equal(t, EventConnected, f.next(c).Event)
	f.expectNothingBefore(c, PersonalRoom(u1.ID))
}

func TestHub_TypingIsRelayedToOthersInRoom(t *testing.T) {
	req := require.New(t)
	f := newHubFixture(t)
	alice, bob, carol := f.setUp(u1), f.setUp(u2), f.setUp(u3)

	f.emit(alice, EventJoinChat, "chat-1")
	f.emit(bob, EventJoinChat, map[string]string{"room": "chat-1"})
	f.emit(alice, EventTyping, "chat-1")
	f.emit(carol, EventTyping, "chat-1") // carol never joined chat-1

	frame := f.next(bob)
	req.Equal(EventTyping, frame.Event)
	var data TypingData
	req.NoError(json.Unmarshal(frame.Data, &data))
	req.Equal(TypingData{Room: "chat-1", UserID: u1.ID}, data)

	f.emit(alice, EventStopTyping, "chat-1")
	req.Equal(EventStopTyping, f.next(bob).Event)

	f.flush()
	f.expectNothingBefore(alice, PersonalRoom(u1.ID))
	f.expectNothingBefore(bob, PersonalRoom(u2.ID))
}

func TestHub_AuthorizerGatesJoin(t *testing.T) {
	members := map[string]bool{"u1": true}
	f := newHubFixture(t, WithRoomAuthorizer(RoomAuthorizerFunc(func(_ context.Context, room, userID string) (bool, error) {
		return room == "chat-1" && members[userID], nil
	})))
	member, outsider := f.setUp(u1), f.setUp(u2)

	f.emit(outsider, EventJoinChat, "chat-1")
	f.joinAdmitted(member, "chat-1")
	f.flush()
	drain(member)

	require.NoError(t, f.hub.PushToRoom(context.Background(), ChatRoom("chat-1"), EventMessageReceived, nil))
	f.expectNothingBefore(outsider, PersonalRoom(u2.ID))
	require.Equal(t, EventMessageReceived, f.next(member).Event)
}

func TestHub_DisconnectLeavesRoomsAndUpdatesPresence(t *testing.T) {
	req := require.New(t)
	tracker := newFakePresence()
	f := newHubFixture(t, WithPresence(tracker))

	first, second := f.setUp(u1), f.setUp(u1)
	f.emit(first, EventJoinChat, "chat-1")
	f.flush()

	f.hub.unregister <- first
	_, open := <-first.send
	req.False(open)

	online, err := tracker.Filter(context.Background(), []string{u1.ID})
	req.NoError(err)
	req.Equal([]string{u1.ID}, online, "second connection keeps the user online")

	f.hub.unregister <- second
	f.flush()
	req.Equal([]string{"online:" + u1.ID, "online:barrier", "offline:" + u1.ID}, tracker.Calls())
}

func TestHub_IgnoresEventsAfterDisconnect(t *testing.T) {
	f := newHubFixture(t)
	c := f.setUp(u1)
	f.hub.unregister <- c
	f.emit(c, EventJoinChat, "chat-1")
	f.flush()

	require.NoError(t, f.hub.PushToRoom(context.Background(), ChatRoom("chat-1"), EventMessageReceived, nil))
	_, open := <-c.send
	require.False(t, open)
}

func TestHub_PushToRoomAfterStop(t *testing.T) {
	tokens, err := auth.NewTokenService(auth.TokenConfig{SecretKey: []byte("k"), TTL: time.Hour})
	require.NoError(t, err)
	h := NewHub(tokens, logs.GetLoggerFromLevel(slog.LevelDebug))
	h.deliver = make(chan delivery)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.Run(ctx)

	require.ErrorIs(t, h.PushToRoom(context.Background(), "room", EventMessageReceived, nil), errHubStopped)
}

func TestHub_JoinChatCannotReachPersonalRoom(t *testing.T) {
	req := require.New(t)
	f := newHubFixture(t)
	victim, mallory := f.setUp(u1), f.setUp(u2)

	f.emit(mallory, EventJoinChat, u1.ID)
	f.emit(mallory, EventJoinChat, PersonalRoom(u1.ID))
	f.flush()

	req.NoError(f.hub.PushToRoom(context.Background(), PersonalRoom(u1.ID), EventMessageReceived, map[string]string{"content": "secret"}))
	req.Equal(EventMessageReceived, f.next(victim).Event)
	f.expectNothingBefore(mallory, PersonalRoom(u2.ID))
}

func TestHub_TypingChecksCurrentMembership(t *testing.T) {
	req := require.New(t)
	members := &memberSet{members: map[string]bool{u1.ID: true, u2.ID: true, u3.ID: true}}
	f := newHubFixture(t, WithRoomAuthorizer(members))
	alice, bob, carol := f.setUp(u1), f.setUp(u2), f.setUp(u3)

	f.joinAdmitted(alice, "chat-1")
	f.joinAdmitted(bob, "chat-1")
	f.joinAdmitted(carol, "chat-1")
	f.flush()
	drain(alice, bob, carol)

	members.remove(u3.ID)
	f.emit(alice, EventTyping, "chat-1")
	req.Equal(EventTyping, f.next(bob).Event)

	// carol was evicted from the chat room before the relay
	f.expectNothingBefore(carol, PersonalRoom(u3.ID))
	req.NoError(f.hub.PushToRoom(context.Background(), ChatRoom("chat-1"), EventMessageReceived, nil))
	req.Equal(EventMessageReceived, f.next(alice).Event)
	req.Equal(EventMessageReceived, f.next(bob).Event)
	f.expectNothingBefore(carol, PersonalRoom(u3.ID))

	// a removed sender is not relayed either
	f.emit(carol, EventTyping, "chat-1")
	f.flush()
	f.expectNothingBefore(bob, PersonalRoom(u2.ID))
	f.expectNothingBefore(alice, PersonalRoom(u1.ID))
}
