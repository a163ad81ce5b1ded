package model

import "time"

// Message is append-only except LikedBy, which only grows. Ids are encoded
// as JSON strings since they exceed the exact integer range of JavaScript.
type Message struct {
	ID        int64     `json:"id,string"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	LikedBy   []string  `json:"likedBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageDetail is a message with sender, chat and likers populated.
type MessageDetail struct {
	ID        int64      `json:"id,string"`
	Sender    Profile    `json:"sender"`
	Content   string     `json:"content"`
	Chat      ChatDetail `json:"chat"`
	LikedBy   []Profile  `json:"likedBy"`
	CreatedAt time.Time  `json:"createdAt"`
}

// MessageEvent is published once a message is persisted. It carries the chat
// members as they were when the message was stored.
type MessageEvent struct {
	Message MessageDetail `json:"message"`
}

// ChatID returns the conversation the event belongs to.
func (e MessageEvent) ChatID() string { return e.Message.Chat.ID }

// SenderID returns the id of the member who sent the message.
func (e MessageEvent) SenderID() string { return e.Message.Sender.ID }
