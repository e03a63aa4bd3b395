package model

import "time"

type Message struct {
	ID        string      `json:"id"`
	ChatID    string      `json:"chat_id"`
	SenderID  string      `json:"sender_id"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
	Sender    *UserPublic `json:"sender,omitempty"`
}

// MessagePage is one page of chat history, newest first.
type MessagePage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// MessageCursor addresses a position in a chat's history. The id breaks
// ties between messages sharing a timestamp, so paging with the oldest
// returned message as the next cursor never skips one. A zero ID falls
// back to a timestamp-only boundary.
type MessageCursor struct {
	CreatedAt time.Time
	ID        string
}
