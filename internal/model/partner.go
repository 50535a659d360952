package model

import (
	"time"
)

// RequestStatus is the lifecycle state of a partner request.
// Transitions are monotonic: pending -> delivered -> accepted.
// "delivered" is a best-effort marker and does not gate acceptance.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestDelivered RequestStatus = "delivered"
	RequestAccepted  RequestStatus = "accepted"
)

// PartnerRequest is a cross-user request to forward a message to the
// linked partner. Exactly one accept can succeed; AcceptedAt and the
// recipient conversation are attached atomically with that transition.
type PartnerRequest struct {
	ID                   string        `json:"id"`
	RelationshipID       string        `json:"relationship_id"`
	SenderUserID         string        `json:"sender_user_id"`
	RecipientUserID      string        `json:"recipient_user_id"`
	SenderConversationID string        `json:"sender_conversation_id"`
	Content              string        `json:"content"`
	Status               RequestStatus `json:"status"`

	RecipientConversationID string     `json:"recipient_conversation_id,omitempty"`
	CreatedMessageID        string     `json:"created_message_id,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	AcceptedAt              *time.Time `json:"accepted_at,omitempty"`
}

// Relationship links two users as partners.
type Relationship struct {
	ID        string    `json:"id"`
	UserAID   string    `json:"user_a_id"`
	UserBID   string    `json:"user_b_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PartnerFor returns the other user of the relationship.
func (r *Relationship) PartnerFor(userID string) string {
	if r.UserAID == userID {
		return r.UserBID
	}
	return r.UserAID
}

// ConversationLink maps one side's conversation to the partner's
// corresponding conversation within a relationship. The row serves
// both directions: looking up either side's conversation yields the
// opposite side as the destination. At most one link exists per
// (relationship, source conversation) pair.
type ConversationLink struct {
	RelationshipID      string    `json:"relationship_id"`
	UserAID             string    `json:"user_a_id"`
	UserBID             string    `json:"user_b_id"`
	UserAConversationID string    `json:"user_a_conversation_id,omitempty"`
	UserBConversationID string    `json:"user_b_conversation_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// DestinationFor returns the conversation mapped opposite the given
// source conversation, if one has been recorded.
func (l *ConversationLink) DestinationFor(sourceConversationID string) (string, bool) {
	switch sourceConversationID {
	case l.UserAConversationID:
		if l.UserBConversationID != "" {
			return l.UserBConversationID, true
		}
	case l.UserBConversationID:
		if l.UserAConversationID != "" {
			return l.UserAConversationID, true
		}
	}
	return "", false
}

// PartnerRequestBody is the request body for creating or streaming a
// partner request.
type PartnerRequestBody struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// PartnerRequestResponse acknowledges a created partner request.
type PartnerRequestResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id"`
}

// AcceptResponse is returned from the accept endpoint. The recipient
// conversation id is available immediately; finalization continues in
// the background.
type AcceptResponse struct {
	Success                 bool   `json:"success"`
	RecipientConversationID string `json:"recipient_conversation_id"`
}

// PendingRequestsResponse lists requests awaiting acceptance.
type PendingRequestsResponse struct {
	Requests []PartnerRequest `json:"requests"`
}
