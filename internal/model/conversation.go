// Package model defines data structures for the chat backend.
package model

import (
	"time"
)

// Conversation is one user's chat thread. When the user is linked to a
// partner, a conversation may be mapped to the partner's corresponding
// conversation through a ConversationLink.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Summary metadata shown in conversation lists.
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	LastMessagePreview string     `json:"last_message_preview,omitempty"`
	MessageCount       int        `json:"message_count,omitempty"`

	Deleted bool `json:"deleted,omitempty"`
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// UpdateConversationRequest is the request to rename a conversation.
// A null title clears it.
type UpdateConversationRequest struct {
	Title *string `json:"title"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"has_more"`
}
