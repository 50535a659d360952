package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message represents a conversation message. Assistant messages carry
// their segment decomposition as an annotation inside Content.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChatStreamRequest is the request body for the streaming chat
// endpoint. ConversationID is optional; a new conversation is created
// when it is empty and announced through the session frame.
type ChatStreamRequest struct {
	ConversationID     string `json:"conversation_id,omitempty"`
	Content            string `json:"content"`
	PreviousResponseID string `json:"previous_response_id,omitempty"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}
