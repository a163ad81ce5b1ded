package realtime

import (
	"encoding/json"
	"strings"

	"github.com/mahaj/chatwithme/pkg/common"
)

// Event names on the push channel.
const (
	EventSetup           = "setup"
	EventJoinChat        = "join chat"
	EventTyping          = "typing"
	EventStopTyping      = "stop typing"
	EventConnected       = "connected"
	EventMessageReceived = "message received"
)

// Frame is one JSON websocket message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewFrame(event string, data any) ([]byte, error) {
	f := Frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

type setupData struct {
	Token string `json:"token"`
}

// TypingData is relayed to the other connections of a conversation room.
type TypingData struct {
	Room   string `json:"room"`
	UserID string `json:"userId"`
}

// parseRoom accepts either a bare JSON string or {"room": "..."}.
func parseRoom(raw json.RawMessage) (string, error) {
	var room string
	if err := json.Unmarshal(raw, &room); err != nil {
		var obj struct {
			Room string `json:"room"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", err
		}
		room = obj.Room
	}
	room = strings.TrimSpace(room)
	if room == "" {
		return "", common.ErrorInvalidRoom
	}
	return room, nil
}
