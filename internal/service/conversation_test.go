package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlink/chat-backend/internal/model"
	"github.com/pairlink/chat-backend/internal/store"
	"github.com/pairlink/chat-backend/pkg/logger"
)

func newConversationService(t *testing.T) (*ConversationService, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	log, err := logger.New("error")
	require.NoError(t, err)
	return NewConversationService(mem, log), mem
}

func TestConversationListPagination(t *testing.T) {
	ctx := context.Background()
	svc, _ := newConversationService(t)

	for i := 0; i < 5; i++ {
		_, err := svc.Create(ctx, "alice", &model.CreateConversationRequest{})
		require.NoError(t, err)
	}

	resp, err := svc.List(ctx, "alice", 2, 0)
	require.NoError(t, err)
	assert.Len(t, resp.Conversations, 2)
	assert.Equal(t, 5, resp.Total)
	assert.True(t, resp.HasMore)

	resp, err = svc.List(ctx, "alice", 10, 4)
	require.NoError(t, err)
	assert.Len(t, resp.Conversations, 1)
	assert.False(t, resp.HasMore)

	resp, err = svc.List(ctx, "nobody", 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, resp.Conversations, "empty list marshals as [], not null")
	assert.Empty(t, resp.Conversations)
}

func TestConversationRenameAndDelete(t *testing.T) {
	ctx := context.Background()
	svc, _ := newConversationService(t)

	conv, err := svc.Create(ctx, "alice", &model.CreateConversationRequest{Title: "first"})
	require.NoError(t, err)

	renamed, err := svc.UpdateTitle(ctx, "alice", conv.ID, "renamed")
	require.NoError(t, err)
	assert.Equal(t, "renamed", renamed.Title)

	_, err = svc.UpdateTitle(ctx, "bob", conv.ID, "hijack")
	assert.ErrorIs(t, err, store.ErrForbidden)

	require.NoError(t, svc.Delete(ctx, "alice", conv.ID))
	_, err = svc.Get(ctx, "alice", conv.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
