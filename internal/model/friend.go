package model

import "time"

type FriendRequestStatus string

const (
	FriendStatusPending  FriendRequestStatus = "pending"
	FriendStatusAccepted FriendRequestStatus = "accepted"
	FriendStatusRejected FriendRequestStatus = "rejected"
)

// FriendRequest is the single relationship document between two users.
// At most one exists per unordered user pair; a rejected request is reused
// (reset to pending, direction overwritten) when either side re-sends.
type FriendRequest struct {
	ID          string              `json:"id"`
	RequesterID string              `json:"requester_id"`
	RecipientID string              `json:"recipient_id"`
	Status      FriendRequestStatus `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`

	// Populated on read for responses and relayed events.
	Requester *UserPublic `json:"requester,omitempty"`
	Recipient *UserPublic `json:"recipient,omitempty"`
}
