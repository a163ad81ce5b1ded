// Package realtime is the websocket push channel. A single Hub goroutine owns
// every room; connections only talk to it through channels.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/chatwithme/pkg/auth"
	"github.com/mahaj/chatwithme/pkg/presence"
)

const (
	presenceTimeout  = time.Second
	authorizeTimeout = 5 * time.Second
)

type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// RoomAuthorizer decides whether a user is a member of a conversation. It is
// consulted on "join chat" and before every typing relay.
type RoomAuthorizer interface {
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
}

type RoomAuthorizerFunc func(ctx context.Context, roomID, userID string) (bool, error)

func (f RoomAuthorizerFunc) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	return f(ctx, roomID, userID)
}

type Option func(*Hub)

// WithRoomAuthorizer makes "join chat" check membership before admitting.
func WithRoomAuthorizer(a RoomAuthorizer) Option {
	return func(h *Hub) { h.authorizer = a }
}

func WithPresence(t presence.Tracker) Option {
	return func(h *Hub) { h.presence = t }
}

// WithAllowedOrigin restricts websocket upgrades to one browser origin.
// Requests without an Origin header (non-browser clients) are accepted.
func WithAllowedOrigin(origin string) Option {
	return func(h *Hub) {
		if origin == "" || origin == "*" {
			return
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			o := r.Header.Get("Origin")
			return o == "" || o == origin
		}
	}
}

type inbound struct {
	client *Client
	frame  Frame
}

type admission struct {
	client *Client
	room   string
}

type delivery struct {
	room    string
	payload []byte
}

// typingCheck asks the authorizer about the sender and every user currently
// in the conversation room before a typing frame is relayed.
type typingCheck struct {
	client  *Client
	chatID  string
	users   []string
	payload []byte
}

type typingVerdict struct {
	typingCheck
	// nil when the lookup failed
	members map[string]bool
}

type Hub struct {
	log        *slog.Logger
	tokens     TokenVerifier
	authorizer RoomAuthorizer
	presence   presence.Tracker
	upgrader   websocket.Upgrader

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	admit      chan admission
	deliver    chan delivery
	checks     chan typingCheck
	verdicts   chan typingVerdict
	done       chan struct{}

	// owned by Run
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
}

func NewHub(tokens TokenVerifier, log *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		log:      log,
		tokens:   tokens,
		presence: presence.Nop{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 64),
		admit:      make(chan admission),
		deliver:    make(chan delivery, 256),
		checks:     make(chan typingCheck, 64),
		verdicts:   make(chan typingVerdict),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run processes hub events until ctx is cancelled. Call it exactly once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if h.authorizer != nil {
		go h.checkTyping(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.log.Debug("Client connected", "remote", c.remote)

		case c := <-h.unregister:
			h.disconnect(ctx, c)

		case in := <-h.inbound:
			h.handle(ctx, in.client, in.frame)

		case a := <-h.admit:
			if a.client.state != stateJoined {
				continue
			}
			h.join(a.client, a.room)
			h.log.Debug("Joined chat room", "user_id", a.client.identity.ID, "room", a.room)

		case d := <-h.deliver:
			h.fanout(d.room, d.payload, nil)

		case v := <-h.verdicts:
			h.relayTyping(v)
		}
	}
}

// PushToRoom delivers one frame to every connection in room. Connections
// whose send buffer is full miss this frame.
func (h *Hub) PushToRoom(ctx context.Context, room, event string, data any) error {
	payload, err := NewFrame(event, data)
	if err != nil {
		return err
	}
	select {
	case h.deliver <- delivery{room: room, payload: payload}:
		return nil
	case <-h.done:
		return errHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) handle(ctx context.Context, c *Client, f Frame) {
	if c.state == stateDisconnected {
		return
	}
	switch f.Event {
	case EventSetup:
		h.setup(ctx, c, f.Data)
	case EventJoinChat:
		h.joinChat(c, f.Data)
	case EventTyping, EventStopTyping:
		h.typing(c, f.Event, f.Data)
	default:
		h.log.Debug("Dropping unknown event", "event", f.Event, "remote", c.remote)
	}
}

func (h *Hub) setup(ctx context.Context, c *Client, raw json.RawMessage) {
	if c.state != stateConnected {
		h.log.Debug("Ignoring repeated setup", "user_id", c.identity.ID)
		return
	}
	var data setupData
	if err := json.Unmarshal(raw, &data); err != nil || data.Token == "" {
		h.log.Debug("Dropping setup without credential", "remote", c.remote)
		return
	}
	claims, err := h.tokens.Verify(data.Token)
	if err != nil {
		h.log.Debug("Dropping setup with invalid credential", "remote", c.remote, "error", err)
		return
	}

	identity := claims.Identity()
	c.identity = &identity
	c.state = stateJoined
	if h.join(c, PersonalRoom(identity.ID)) {
		pctx, cancel := context.WithTimeout(ctx, presenceTimeout)
		if err := h.presence.Online(pctx, identity.ID); err != nil {
			h.log.Warn("Failed to set presence", "user_id", identity.ID, "error", err)
		}
		cancel()
	}
	if frame, err := NewFrame(EventConnected, nil); err == nil {
		h.send(c, frame)
	}
	h.log.Info("Client set up", "user_id", identity.ID, "remote", c.remote)
}

func (h *Hub) joinChat(c *Client, raw json.RawMessage) {
	if c.state != stateJoined {
		h.log.Debug("Dropping join before setup", "remote", c.remote)
		return
	}
	chatID, err := parseRoom(raw)
	if err != nil {
		h.log.Debug("Dropping malformed join", "user_id", c.identity.ID, "error", err)
		return
	}
	room := ChatRoom(chatID)
	if h.authorizer == nil {
		h.join(c, room)
		h.log.Debug("Joined chat room", "user_id", c.identity.ID, "room", room)
		return
	}

	userID := c.identity.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), authorizeTimeout)
		defer cancel()
		ok, err := h.authorizer.IsMember(ctx, chatID, userID)
		if err != nil || !ok {
			h.log.Debug("Dropping join for non-member", "user_id", userID, "chat_id", chatID, "error", err)
			return
		}
		select {
		case h.admit <- admission{client: c, room: room}:
		case <-h.done:
		}
	}()
}

func (h *Hub) typing(c *Client, event string, raw json.RawMessage) {
	if c.state != stateJoined {
		return
	}
	chatID, err := parseRoom(raw)
	if err != nil {
		h.log.Debug("Dropping malformed typing event", "user_id", c.identity.ID, "error", err)
		return
	}
	room := ChatRoom(chatID)
	if _, ok := c.rooms[room]; !ok {
		h.log.Debug("Dropping typing event outside joined room", "user_id", c.identity.ID, "chat_id", chatID)
		return
	}
	payload, err := NewFrame(event, TypingData{Room: chatID, UserID: c.identity.ID})
	if err != nil {
		return
	}
	if h.authorizer == nil {
		h.fanout(room, payload, c)
		return
	}

	users := []string{c.identity.ID}
	for other := range h.rooms[room] {
		if other != c && other.identity != nil {
			users = append(users, other.identity.ID)
		}
	}
	select {
	case h.checks <- typingCheck{client: c, chatID: chatID, users: users, payload: payload}:
	default:
		h.log.Warn("Typing check queue full, dropping frame", "user_id", c.identity.ID, "chat_id", chatID)
	}
}

// checkTyping runs membership lookups off the hub goroutine. A single worker
// keeps typing and stop typing in the order they arrived.
func (h *Hub) checkTyping(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case chk := <-h.checks:
			v := typingVerdict{typingCheck: chk, members: h.members(ctx, chk.chatID, chk.users)}
			select {
			case h.verdicts <- v:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Hub) members(ctx context.Context, chatID string, users []string) map[string]bool {
	ctx, cancel := context.WithTimeout(ctx, authorizeTimeout)
	defer cancel()
	out := make(map[string]bool, len(users))
	for _, id := range users {
		if _, seen := out[id]; seen {
			continue
		}
		ok, err := h.authorizer.IsMember(ctx, chatID, id)
		if err != nil {
			h.log.Warn("Membership lookup failed, dropping typing frame", "chat_id", chatID, "error", err)
			return nil
		}
		out[id] = ok
	}
	return out
}

// relayTyping evicts connections whose user left the conversation, then
// relays the frame if the sender is still a member.
func (h *Hub) relayTyping(v typingVerdict) {
	if v.members == nil {
		return
	}
	room := ChatRoom(v.chatID)
	for c := range h.rooms[room] {
		if member, known := v.members[c.identity.ID]; known && !member {
			h.leave(c, room)
			h.log.Info("Removed non-member from chat room", "user_id", c.identity.ID, "chat_id", v.chatID)
		}
	}
	if v.client.state != stateJoined {
		return
	}
	if _, ok := v.client.rooms[room]; !ok {
		return
	}
	h.fanout(room, v.payload, v.client)
}

// join reports whether c is the first connection in room.
func (h *Hub) join(c *Client, room string) bool {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
	return len(members) == 1
}

func (h *Hub) leave(c *Client, room string) {
	members := h.rooms[room]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	delete(c.rooms, room)
}

func (h *Hub) disconnect(ctx context.Context, c *Client) {
	if c.state == stateDisconnected {
		return
	}
	for room := range c.rooms {
		h.leave(c, room)
	}
	delete(h.clients, c)
	close(c.send)

	if c.state == stateJoined {
		if _, stillOnline := h.rooms[PersonalRoom(c.identity.ID)]; !stillOnline {
			pctx, cancel := context.WithTimeout(ctx, presenceTimeout)
			if err := h.presence.Offline(pctx, c.identity.ID); err != nil {
				h.log.Warn("Failed to delete presence", "user_id", c.identity.ID, "error", err)
			}
			cancel()
		}
		h.log.Info("Client disconnected", "user_id", c.identity.ID)
	}
	c.state = stateDisconnected
}

func (h *Hub) fanout(room string, payload []byte, except *Client) {
	for c := range h.rooms[room] {
		if c == except {
			continue
		}
		h.send(c, payload)
	}
}

func (h *Hub) send(c *Client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.log.Warn("Send buffer full, dropping frame", "remote", c.remote)
	}
}

func (h *Hub) shutdown() {
	for c := range h.clients {
		close(c.send)
		c.state = stateDisconnected
	}
	h.clients = make(map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
}

// PersonalRoom names the room every connection of userID joins after setup.
// Personal and conversation rooms carry different prefixes, so "join chat"
// can never reach a personal room.
func PersonalRoom(userID string) string { return "user:" + userID }

// ChatRoom names the room a "join chat" for chatID lands in.
func ChatRoom(chatID string) string { return "chat:" + chatID }
