package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlink/chat-backend/internal/model"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteConversationRoundtrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	conv, err := db.CreateConversation(ctx, "alice", "first")
	require.NoError(t, err)

	got, err := db.GetConversation(ctx, "alice", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Title)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = db.GetConversation(ctx, "bob", conv.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, db.UpdateConversationTitle(ctx, "alice", conv.ID, "renamed"))
	got, err = db.GetConversation(ctx, "alice", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)

	require.NoError(t, db.DeleteConversation(ctx, "alice", conv.ID))
	_, err = db.GetConversation(ctx, "alice", conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteListConversationsPaging(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	for i := 0; i < 5; i++ {
		_, err := db.CreateConversation(ctx, "alice", "")
		require.NoError(t, err)
	}
	_, err := db.CreateConversation(ctx, "bob", "")
	require.NoError(t, err)

	convs, total, err := db.ListConversations(ctx, "alice", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, convs, 2)

	convs, _, err = db.ListConversations(ctx, "alice", 10, 4)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestSQLiteMessages(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	conv, err := db.CreateConversation(ctx, "alice", "")
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, content := range []string{"one", "two", "three"} {
		_, err := db.SaveMessage(ctx, &model.Message{
			ConversationID: conv.ID,
			UserID:         "alice",
			Role:           model.RoleUser,
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	msgs, err := db.ListMessages(ctx, conv.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "three", msgs[2].Content)
	assert.Equal(t, model.RoleUser, msgs[0].Role)

	recent, err := db.RecentUserMessages(ctx, conv.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Content)
	assert.Equal(t, "three", recent[1].Content)
}

func TestSQLiteClaimAcceptedCAS(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	req, err := db.CreatePartnerRequest(ctx, &model.PartnerRequest{
		RelationshipID:       "rel",
		SenderUserID:         "alice",
		RecipientUserID:      "bob",
		SenderConversationID: "conv-a",
		Content:              "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, req.Status)

	won, err := db.ClaimAccepted(ctx, req.ID, "dest-1", time.Now())
	require.NoError(t, err)
	assert.True(t, won)

	// Second claim must lose and must not overwrite the winner's
	// destination.
	won, err = db.ClaimAccepted(ctx, req.ID, "dest-2", time.Now())
	require.NoError(t, err)
	assert.False(t, won)

	got, err := db.GetPartnerRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestAccepted, got.Status)
	assert.Equal(t, "dest-1", got.RecipientConversationID)
	require.NotNil(t, got.AcceptedAt)
}

func TestSQLitePendingLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	req, err := db.CreatePartnerRequest(ctx, &model.PartnerRequest{
		RelationshipID:       "rel",
		SenderUserID:         "alice",
		RecipientUserID:      "bob",
		SenderConversationID: "conv-a",
		Content:              "hi",
	})
	require.NoError(t, err)

	pending, err := db.ListPendingRequests(ctx, "bob", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, db.MarkDelivered(ctx, req.ID))
	pending, err = db.ListPendingRequests(ctx, "bob", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "delivered requests remain acceptable")
	assert.Equal(t, model.RequestDelivered, pending[0].Status)

	won, err := db.ClaimAccepted(ctx, req.ID, "dest", time.Now())
	require.NoError(t, err)
	require.True(t, won)

	pending, err = db.ListPendingRequests(ctx, "bob", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSQLiteLinkDestination(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.CreateLink(ctx, &model.ConversationLink{
		RelationshipID:      "rel",
		UserAID:             "alice",
		UserBID:             "bob",
		UserAConversationID: "conv-a",
	}))

	require.NoError(t, db.SetLinkDestination(ctx, "rel", "conv-a", "conv-b"))

	link, err := db.GetLink(ctx, "rel", "conv-a")
	require.NoError(t, err)
	dest, ok := link.DestinationFor("conv-a")
	require.True(t, ok)
	assert.Equal(t, "conv-b", dest)

	link, err = db.GetLink(ctx, "rel", "conv-b")
	require.NoError(t, err)
	dest, ok = link.DestinationFor("conv-b")
	require.True(t, ok)
	assert.Equal(t, "conv-a", dest)

	err = db.SetLinkDestination(ctx, "rel", "unknown", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteCheckinPreferences(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.GetCheckinPreference(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	hour, minute := 8, 30
	require.NoError(t, db.SetCheckinPreference(ctx, &model.CheckinPreference{
		UserID:   "alice",
		Enabled:  true,
		Hour:     &hour,
		Minute:   &minute,
		Timezone: "America/New_York",
	}))

	pref, err := db.GetCheckinPreference(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, pref.Enabled)
	require.NotNil(t, pref.Hour)
	assert.Equal(t, 8, *pref.Hour)
	assert.Equal(t, "America/New_York", pref.Timezone)

	require.NoError(t, db.MarkCheckinSent(ctx, "alice", "2026-08-24"))
	pref, err = db.GetCheckinPreference(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-24", pref.LastSentDate)
}
