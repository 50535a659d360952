// Package store defines the persistence interfaces consumed by the
// service layer, with a sqlite-backed implementation for durable
// deployments and an in-memory implementation for tests and local
// development.
//
// The partner-request status and the conversation-link mapping are
// the only cross-request shared mutable state in the system; both are
// mutated only through conditional writes expressed here
// (ClaimAccepted, SetLinkDestination plus re-read), never through
// in-process locks held by callers.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/pairlink/chat-backend/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist or the
	// caller is not allowed to see that it exists.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when a record exists but belongs to
	// another user.
	ErrForbidden = errors.New("forbidden")
)

// Conversations is the conversation repository.
type Conversations interface {
	CreateConversation(ctx context.Context, userID, title string) (*model.Conversation, error)
	GetConversation(ctx context.Context, userID, id string) (*model.Conversation, error)
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, int, error)
	UpdateConversationTitle(ctx context.Context, userID, id string, title string) error
	DeleteConversation(ctx context.Context, userID, id string) error

	// TouchConversation refreshes summary metadata: timestamps, the
	// last-message preview and the message count.
	TouchConversation(ctx context.Context, id, preview string) error
}

// Messages is the message repository.
type Messages interface {
	SaveMessage(ctx context.Context, msg *model.Message) (*model.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error)
	CountUserMessages(ctx context.Context, conversationID string) (int, error)
	RecentUserMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
}

// Relationships resolves partner links between users.
type Relationships interface {
	CreateRelationship(ctx context.Context, userAID, userBID string) (*model.Relationship, error)

	// RelationshipFor returns the relationship the user belongs to,
	// or ErrNotFound when the user is unlinked.
	RelationshipFor(ctx context.Context, userID string) (*model.Relationship, error)
}

// ConversationLinks is the durable (relationship, source
// conversation) -> destination conversation mapping.
type ConversationLinks interface {
	// GetLink returns the link whose either side matches the source
	// conversation, or ErrNotFound.
	GetLink(ctx context.Context, relationshipID, sourceConversationID string) (*model.ConversationLink, error)

	CreateLink(ctx context.Context, link *model.ConversationLink) error

	// SetLinkDestination records destConversationID opposite the
	// source conversation. Last writer wins; callers must re-read the
	// link afterward to learn the surviving destination and delete
	// any speculative conversation that lost the race.
	SetLinkDestination(ctx context.Context, relationshipID, sourceConversationID, destConversationID string) error
}

// PartnerRequests is the cross-user request repository.
type PartnerRequests interface {
	CreatePartnerRequest(ctx context.Context, req *model.PartnerRequest) (*model.PartnerRequest, error)
	GetPartnerRequest(ctx context.Context, id string) (*model.PartnerRequest, error)
	ListPendingRequests(ctx context.Context, recipientUserID string, limit int) ([]model.PartnerRequest, error)

	// LatestPendingForContext finds the newest still-pending request
	// for a (relationship, sender, recipient, source conversation)
	// tuple so repeated sends update one request instead of piling up.
	LatestPendingForContext(ctx context.Context, relationshipID, senderUserID, recipientUserID, senderConversationID string) (*model.PartnerRequest, error)

	MarkDelivered(ctx context.Context, id string) error
	UpdateRequestContent(ctx context.Context, id, content string) error

	// ClaimAccepted transitions the request to accepted only if its
	// status is still pending or delivered, attaching the recipient
	// conversation and accepted_at atomically with the transition.
	// It returns false when another accepter already claimed it.
	ClaimAccepted(ctx context.Context, id, recipientConversationID string, acceptedAt time.Time) (bool, error)

	// AttachCreatedMessage records the delivered conversation and
	// message on a request.
	AttachCreatedMessage(ctx context.Context, id, recipientConversationID, messageID string) error
}

// DeviceTokens is the push-notification token registry.
type DeviceTokens interface {
	UpsertDeviceToken(ctx context.Context, token *model.DeviceToken) error
	ListDeviceTokens(ctx context.Context, userID string) ([]model.DeviceToken, error)
	DisableDeviceToken(ctx context.Context, tokenValue string) error

	// ListUsersWithTokens returns the user ids that have at least one
	// enabled device token.
	ListUsersWithTokens(ctx context.Context) ([]string, error)
}

// Preferences is the per-user settings repository.
type Preferences interface {
	GetCheckinPreference(ctx context.Context, userID string) (*model.CheckinPreference, error)
	SetCheckinPreference(ctx context.Context, pref *model.CheckinPreference) error

	// MarkCheckinSent records the local date a check-in went out, for
	// once-per-day idempotency.
	MarkCheckinSent(ctx context.Context, userID, date string) error
}

// Profiles resolves display names for notification copy.
type Profiles interface {
	DisplayName(ctx context.Context, userID string) (string, error)
	SetDisplayName(ctx context.Context, userID, name string) error
}

// Store aggregates all repositories.
type Store interface {
	Conversations
	Messages
	Relationships
	ConversationLinks
	PartnerRequests
	DeviceTokens
	Preferences
	Profiles
}
