package ws

type EventType string

const (
	// client -> server
	EventJoinChat   EventType = "joinChat"
	EventLeaveChat  EventType = "leaveChat"
	EventTyping     EventType = "typing"
	EventStopTyping EventType = "stopTyping"

	// server -> client
	EventNewMessage          EventType = "newMessage"
	EventUserTyping          EventType = "userTyping"
	EventUserStoppedTyping   EventType = "userStoppedTyping"
	EventFriendRequest       EventType = "friendRequest"
	EventFriendRequestUpdate EventType = "friendRequestUpdated"
)

// IncomingEvent is what the client sends to the server.
type IncomingEvent struct {
	Type   EventType `json:"type"`
	ChatID string    `json:"chatId,omitempty"`
}

// OutgoingEvent is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// TypingPayload is broadcast while a user is typing in a chat.
type TypingPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}
