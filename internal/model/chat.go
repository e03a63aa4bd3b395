package model

import (
	"sort"
	"time"
)

type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
)

type Chat struct {
	ID        string    `json:"id"`
	ChatType  ChatType  `json:"chat_type"`
	Name      string    `json:"name,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ChatMember struct {
	ChatID   string    `json:"chat_id"`
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// ChatWithParticipants is a chat with its membership populated as public users.
type ChatWithParticipants struct {
	Chat
	Participants []UserPublic `json:"participants"`
	Admins       []string     `json:"admins,omitempty"`
}

// PairKey returns the canonical key for the unordered (a, b) user pair.
// Both private chats and friend requests key their uniqueness constraint on it.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + ":" + ids[1]
}
