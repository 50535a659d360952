package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlink/chat-backend/internal/model"
)

func TestMemoryConversationOwnership(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	conv, err := m.CreateConversation(ctx, "alice", "hello")
	require.NoError(t, err)

	_, err = m.GetConversation(ctx, "alice", conv.ID)
	assert.NoError(t, err)

	_, err = m.GetConversation(ctx, "bob", conv.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = m.GetConversation(ctx, "alice", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.DeleteConversation(ctx, "alice", conv.ID))
	_, err = m.GetConversation(ctx, "alice", conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTouchConversation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	conv, err := m.CreateConversation(ctx, "alice", "")
	require.NoError(t, err)

	require.NoError(t, m.TouchConversation(ctx, conv.ID, "a preview"))
	require.NoError(t, m.TouchConversation(ctx, conv.ID, "newer preview"))

	got, err := m.GetConversation(ctx, "alice", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)
	assert.Equal(t, "newer preview", got.LastMessagePreview)
	assert.NotNil(t, got.LastMessageAt)
}

func TestMemoryClaimAcceptedSingleWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	req, err := m.CreatePartnerRequest(ctx, &model.PartnerRequest{
		RelationshipID:       "rel",
		SenderUserID:         "alice",
		RecipientUserID:      "bob",
		SenderConversationID: "conv-a",
		Content:              "hi",
	})
	require.NoError(t, err)

	const accepters = 16
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < accepters; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			won, err := m.ClaimAccepted(ctx, req.ID, "dest", time.Now())
			assert.NoError(t, err)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)

	got, err := m.GetPartnerRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestAccepted, got.Status)
	assert.Equal(t, "dest", got.RecipientConversationID)
	assert.NotNil(t, got.AcceptedAt)
}

func TestMemoryClaimAcceptedFromDelivered(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	req, err := m.CreatePartnerRequest(ctx, &model.PartnerRequest{
		RecipientUserID: "bob",
		Content:         "hi",
	})
	require.NoError(t, err)
	require.NoError(t, m.MarkDelivered(ctx, req.ID))

	won, err := m.ClaimAccepted(ctx, req.ID, "dest", time.Now())
	require.NoError(t, err)
	assert.True(t, won, "delivered requests are still claimable")
}

func TestMemoryLinkDestination(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	link := &model.ConversationLink{
		RelationshipID:      "rel",
		UserAID:             "alice",
		UserBID:             "bob",
		UserAConversationID: "conv-a",
	}
	require.NoError(t, m.CreateLink(ctx, link))

	got, err := m.GetLink(ctx, "rel", "conv-a")
	require.NoError(t, err)
	_, ok := got.DestinationFor("conv-a")
	assert.False(t, ok, "no destination recorded yet")

	require.NoError(t, m.SetLinkDestination(ctx, "rel", "conv-a", "conv-b"))

	got, err = m.GetLink(ctx, "rel", "conv-a")
	require.NoError(t, err)
	dest, ok := got.DestinationFor("conv-a")
	require.True(t, ok)
	assert.Equal(t, "conv-b", dest)

	// The same row answers the reverse lookup.
	got, err = m.GetLink(ctx, "rel", "conv-b")
	require.NoError(t, err)
	dest, ok = got.DestinationFor("conv-b")
	require.True(t, ok)
	assert.Equal(t, "conv-a", dest)
}

func TestMemoryLinkDestinationLastWriterWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.CreateLink(ctx, &model.ConversationLink{
		RelationshipID:      "rel",
		UserAID:             "alice",
		UserBID:             "bob",
		UserAConversationID: "conv-a",
	}))

	require.NoError(t, m.SetLinkDestination(ctx, "rel", "conv-a", "spec-1"))
	require.NoError(t, m.SetLinkDestination(ctx, "rel", "conv-a", "spec-2"))

	got, err := m.GetLink(ctx, "rel", "conv-a")
	require.NoError(t, err)
	dest, ok := got.DestinationFor("conv-a")
	require.True(t, ok)
	assert.Equal(t, "spec-2", dest)
}

func TestMemoryLatestPendingForContext(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.LatestPendingForContext(ctx, "rel", "alice", "bob", "conv-a")
	assert.ErrorIs(t, err, ErrNotFound)

	first, err := m.CreatePartnerRequest(ctx, &model.PartnerRequest{
		RelationshipID:       "rel",
		SenderUserID:         "alice",
		RecipientUserID:      "bob",
		SenderConversationID: "conv-a",
		Content:              "first",
		CreatedAt:            time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	got, err := m.LatestPendingForContext(ctx, "rel", "alice", "bob", "conv-a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	// Accepted requests drop out of the pending lookup.
	_, err = m.ClaimAccepted(ctx, first.ID, "dest", time.Now())
	require.NoError(t, err)
	_, err = m.LatestPendingForContext(ctx, "rel", "alice", "bob", "conv-a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDeviceTokens(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.UpsertDeviceToken(ctx, &model.DeviceToken{UserID: "alice", Token: "tok1"}))
	require.NoError(t, m.UpsertDeviceToken(ctx, &model.DeviceToken{UserID: "alice", Token: "tok1"}))
	require.NoError(t, m.UpsertDeviceToken(ctx, &model.DeviceToken{UserID: "bob", Token: "tok2"}))

	tokens, err := m.ListDeviceTokens(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, tokens, 1, "upsert deduplicates by token value")

	require.NoError(t, m.DisableDeviceToken(ctx, "tok2"))
	tokens, err = m.ListDeviceTokens(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, tokens)

	users, err := m.ListUsersWithTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)
}

func TestMemoryRecentUserMessages(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for _, msg := range []model.Message{
		{ConversationID: "c", Role: model.RoleUser, Content: "one"},
		{ConversationID: "c", Role: model.RoleAssistant, Content: "reply"},
		{ConversationID: "c", Role: model.RoleUser, Content: "two"},
		{ConversationID: "c", Role: model.RoleUser, Content: "three"},
	} {
		msg := msg
		_, err := m.SaveMessage(ctx, &msg)
		require.NoError(t, err)
	}

	recent, err := m.RecentUserMessages(ctx, "c", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Content)
	assert.Equal(t, "three", recent[1].Content)

	n, err := m.CountUserMessages(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
