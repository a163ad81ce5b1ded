package model

import (
	"time"

	"github.com/samber/lo"
)

const IndividualChatName = "individualChat"

// Chat is a two-party (individual) or multi-party (group) conversation.
// Users of an individual chat are fixed at creation.
type Chat struct {
	ID              string    `json:"id"`
	Name            string    `json:"chatName"`
	IsGroup         bool      `json:"isGroupChat"`
	Users           []string  `json:"users"`
	AdminID         string    `json:"groupAdmin,omitempty"`
	LatestMessageID int64     `json:"latestMessage,string,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (c Chat) HasMember(userID string) bool {
	return lo.Contains(c.Users, userID)
}

// ChatDetail is a chat with its members, admin and latest message populated.
type ChatDetail struct {
	ID            string         `json:"id"`
	Name          string         `json:"chatName"`
	IsGroup       bool           `json:"isGroupChat"`
	Users         []Profile      `json:"users"`
	GroupAdmin    *Profile       `json:"groupAdmin,omitempty"`
	LatestMessage *LatestMessage `json:"latestMessage,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// LatestMessage is the short message preview shown in chat lists.
type LatestMessage struct {
	ID        int64     `json:"id,string"`
	Sender    Profile   `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// MemberIDs returns the ids of the populated members.
func (c ChatDetail) MemberIDs() []string {
	return lo.Map(c.Users, func(p Profile, _ int) string { return p.ID })
}
