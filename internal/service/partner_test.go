package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlink/chat-backend/internal/model"
	"github.com/pairlink/chat-backend/internal/store"
	"github.com/pairlink/chat-backend/pkg/logger"
)

type partnerFixture struct {
	svc   *PartnerService
	store *store.Memory
	rel   *model.Relationship
	convA *model.Conversation
}

func newPartnerFixture(t *testing.T) *partnerFixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	log, err := logger.New("error")
	require.NoError(t, err)

	rel, err := mem.CreateRelationship(ctx, "alice", "bob")
	require.NoError(t, err)
	convA, err := mem.CreateConversation(ctx, "alice", "")
	require.NoError(t, err)

	return &partnerFixture{
		svc:   NewPartnerService(mem, nil, nil, log),
		store: mem,
		rel:   rel,
		convA: convA,
	}
}

func TestCreateRequestRequiresPartner(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	log, err := logger.New("error")
	require.NoError(t, err)
	svc := NewPartnerService(mem, nil, nil, log)

	conv, err := mem.CreateConversation(ctx, "loner", "")
	require.NoError(t, err)

	_, err = svc.CreateRequest(ctx, "loner", conv.ID, "hello?")
	assert.ErrorIs(t, err, ErrNoPartner)
}

func TestCreateRequestDeduplicatesPending(t *testing.T) {
	ctx := context.Background()
	f := newPartnerFixture(t)

	first, err := f.svc.CreateRequest(ctx, "alice", f.convA.ID, "draft one")
	require.NoError(t, err)

	second, err := f.svc.CreateRequest(ctx, "alice", f.convA.ID, "draft two")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "a still-pending request is updated, not duplicated")
	assert.Equal(t, "draft two", second.Content)

	pending, err := f.svc.Pending(ctx, "bob", 10)
	require.NoError(t, err)
	require.Len(t, pending.Requests, 1)
	assert.Equal(t, "draft two", pending.Requests[0].Content)
}

func TestAcceptCreatesDestinationAndForwardsMessage(t *testing.T) {
	ctx := context.Background()
	f := newPartnerFixture(t)

	req, err := f.svc.CreateRequest(ctx, "alice", f.convA.ID, "call mom")
	require.NoError(t, err)

	resp, err := f.svc.Accept(ctx, "bob", req.ID)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.NotEmpty(t, resp.RecipientConversationID)

	// The destination belongs to the recipient.
	_, err = f.store.GetConversation(ctx, "bob", resp.RecipientConversationID)
	require.NoError(t, err)

	// Finalization writes the forwarded message in the background.
	require.Eventually(t, func() bool {
		msgs, err := f.store.ListMessages(ctx, resp.RecipientConversationID, 0, 0)
		return err == nil && len(msgs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	msgs, err := f.store.ListMessages(ctx, resp.RecipientConversationID, 0, 0)
	require.NoError(t, err)
	ann, ok := model.DecodeAnnotation(msgs[0].Content)
	require.True(t, ok)
	assert.Equal(t, model.AnnotationPartnerReceived, ann.Type)
	assert.Equal(t, "call mom", ann.Text)

	got, err := f.store.GetPartnerRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestAccepted, got.Status)
	assert.NotNil(t, got.AcceptedAt)
}

func TestAcceptIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newPartnerFixture(t)

	req, err := f.svc.CreateRequest(ctx, "alice", f.convA.ID, "hi")
	require.NoError(t, err)

	first, err := f.svc.Accept(ctx, "bob", req.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs, err := f.store.ListMessages(ctx, first.RecipientConversationID, 0, 0)
		return err == nil && len(msgs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	second, err := f.svc.Accept(ctx, "bob", req.ID)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, first.RecipientConversationID, second.RecipientConversationID)

	// No duplicate forwarded message and no extra conversation.
	time.Sleep(50 * time.Millisecond)
	msgs, err := f.store.ListMessages(ctx, first.RecipientConversationID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	list, _, err := f.store.ListConversations(ctx, "bob", 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAcceptHidesForeignRequests(t *testing.T) {
	ctx := context.Background()
	f := newPartnerFixture(t)

	req, err := f.svc.CreateRequest(ctx, "alice", f.convA.ID, "hi")
	require.NoError(t, err)

	// Anyone but the recipient sees not-found, never a hint that the
	// request exists.
	_, err = f.svc.Accept(ctx, "alice", req.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.svc.Accept(ctx, "mallory", req.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, f.svc.MarkDelivered(ctx, "alice", req.ID), store.ErrNotFound)
	assert.ErrorIs(t, f.svc.MarkDelivered(ctx, "mallory", req.ID), store.ErrNotFound)
}

func TestAcceptMirrorsSourceTitle(t *testing.T) {
	ctx := context.Background()
	f := newPartnerFixture(t)

	titled, err := f.store.CreateConversation(ctx, "alice", "weekend plans")
	require.NoError(t, err)

	req, err := f.svc.CreateRequest(ctx, "alice", titled.ID, "picnic?")
	require.NoError(t, err)
	resp, err := f.svc.Accept(ctx, "bob", req.ID)
	require.NoError(t, err)

	dest, err := f.store.GetConversation(ctx, "bob", resp.RecipientConversationID)
	require.NoError(t, err)
	assert.Equal(t, "weekend plans", dest.Title)
}

func TestAcceptAfterDeliveredMarker(t *testing.T) {
	ctx := context.Background()
	f := newPartnerFixture(t)

	req, err := f.svc.CreateRequest(ctx, "alice", f.convA.ID, "hi")
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkDelivered(ctx, "bob", req.ID))

	resp, err := f.svc.Accept(ctx, "bob", req.ID)
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestConcurrentAcceptsAgreeOnDestination(t *testing.T) {
	ctx := context.Background()
	f := newPartnerFixture(t)

	req, err := f.svc.CreateRequest(ctx, "alice", f.convA.ID, "race me")
	require.NoError(t, err)

	const accepters = 8
	results := make([]*model.AcceptResponse, accepters)
	var wg sync.WaitGroup
	for i := 0; i < accepters; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			resp, err := f.svc.Accept(ctx, "bob", req.ID)
			assert.NoError(t, err)
			results[n] = resp
		}(i)
	}
	wg.Wait()

	claimed, err := f.store.GetPartnerRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, model.RequestAccepted, claimed.Status)

	for _, resp := range results {
		require.NotNil(t, resp)
		assert.True(t, resp.Success)
		assert.Equal(t, claimed.RecipientConversationID, resp.RecipientConversationID,
			"every accepter reports the winning destination")
	}

	// Exactly one forwarded message lands, in the winning destination.
	require.Eventually(t, func() bool {
		msgs, err := f.store.ListMessages(ctx, claimed.RecipientConversationID, 0, 0)
		return err == nil && len(msgs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSecondRequestReusesMappedDestination(t *testing.T) {
	ctx := context.Background()
	f := newPartnerFixture(t)

	first, err := f.svc.CreateRequest(ctx, "alice", f.convA.ID, "one")
	require.NoError(t, err)
	resp1, err := f.svc.Accept(ctx, "bob", first.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs, err := f.store.ListMessages(ctx, resp1.RecipientConversationID, 0, 0)
		return err == nil && len(msgs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	second, err := f.svc.CreateRequest(ctx, "alice", f.convA.ID, "two")
	require.NoError(t, err)
	resp2, err := f.svc.Accept(ctx, "bob", second.ID)
	require.NoError(t, err)

	assert.Equal(t, resp1.RecipientConversationID, resp2.RecipientConversationID,
		"an established mapping is reused, no speculative conversation")

	list, _, err := f.store.ListConversations(ctx, "bob", 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSendToPartnerPendingThenDirect(t *testing.T) {
	ctx := context.Background()
	f := newPartnerFixture(t)

	// No mapping yet: falls back to a pending request.
	delivered, requestID, err := f.svc.SendToPartner(ctx, "alice", f.convA.ID, "first")
	require.NoError(t, err)
	assert.False(t, delivered)
	require.NotEmpty(t, requestID)

	resp, err := f.svc.Accept(ctx, "bob", requestID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs, err := f.store.ListMessages(ctx, resp.RecipientConversationID, 0, 0)
		return err == nil && len(msgs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Mapping established: subsequent sends deliver immediately.
	delivered, requestID, err = f.svc.SendToPartner(ctx, "alice", f.convA.ID, "second")
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Empty(t, requestID)

	msgs, err := f.store.ListMessages(ctx, resp.RecipientConversationID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	ann, ok := model.DecodeAnnotation(msgs[1].Content)
	require.True(t, ok)
	assert.Equal(t, "second", ann.Text)
}

func TestSendToPartnerSupersedesOpenRequest(t *testing.T) {
	ctx := context.Background()
	f := newPartnerFixture(t)

	// Establish the mapping through a first accepted request.
	first, err := f.svc.CreateRequest(ctx, "alice", f.convA.ID, "one")
	require.NoError(t, err)
	resp, err := f.svc.Accept(ctx, "bob", first.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs, err := f.store.ListMessages(ctx, resp.RecipientConversationID, 0, 0)
		return err == nil && len(msgs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A new pending request, then a direct send from the same
	// conversation.
	stale, err := f.svc.CreateRequest(ctx, "alice", f.convA.ID, "two")
	require.NoError(t, err)
	delivered, _, err := f.svc.SendToPartner(ctx, "alice", f.convA.ID, "two")
	require.NoError(t, err)
	require.True(t, delivered)

	// The open request is closed by the delivery; accepting it later
	// is an idempotent no-op that cannot deliver the content again.
	got, err := f.store.GetPartnerRequest(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestAccepted, got.Status)

	again, err := f.svc.Accept(ctx, "bob", stale.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.RecipientConversationID, again.RecipientConversationID)

	time.Sleep(50 * time.Millisecond)
	msgs, err := f.store.ListMessages(ctx, resp.RecipientConversationID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "the superseded request delivers nothing further")
}
