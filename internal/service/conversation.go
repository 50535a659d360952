// Package service provides business logic for the chat backend.
package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/pairlink/chat-backend/internal/model"
	"github.com/pairlink/chat-backend/internal/store"
	"github.com/pairlink/chat-backend/pkg/logger"
)

// ConversationService handles conversation operations.
type ConversationService struct {
	store  store.Store
	logger *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(st store.Store, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:  st,
		logger: log.Named("conversation"),
	}
}

// Create creates a new conversation.
func (s *ConversationService) Create(ctx context.Context, userID string, req *model.CreateConversationRequest) (*model.Conversation, error) {
	conv, err := s.store.CreateConversation(ctx, userID, req.Title)
	if err != nil {
		return nil, err
	}

	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", userID),
	)
	return conv, nil
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	return s.store.GetConversation(ctx, userID, conversationID)
}

// List returns the user's conversations, most recently active first.
func (s *ConversationService) List(ctx context.Context, userID string, limit, offset int) (*model.ListConversationsResponse, error) {
	convs, total, err := s.store.ListConversations(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         total,
		HasMore:       offset+len(convs) < total,
	}, nil
}

// UpdateTitle renames a conversation.
func (s *ConversationService) UpdateTitle(ctx context.Context, userID, conversationID, title string) (*model.Conversation, error) {
	if err := s.store.UpdateConversationTitle(ctx, userID, conversationID, title); err != nil {
		return nil, err
	}
	return s.store.GetConversation(ctx, userID, conversationID)
}

// Delete soft-deletes a conversation.
func (s *ConversationService) Delete(ctx context.Context, userID, conversationID string) error {
	if err := s.store.DeleteConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	s.logger.Info("conversation deleted",
		zap.String("conversation_id", conversationID),
		zap.String("user_id", userID),
	)
	return nil
}
