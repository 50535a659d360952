package service

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlink/chat-backend/internal/llm"
	"github.com/pairlink/chat-backend/internal/model"
	"github.com/pairlink/chat-backend/internal/store"
	"github.com/pairlink/chat-backend/pkg/logger"
)

// fakeLLM replays a fixed stream and records the prompts it was given.
type fakeLLM struct {
	mu sync.Mutex

	streamText      string
	streamErr       error
	completeContent string

	lastSystem string
}

func (f *fakeLLM) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{ID: "cmpl_1", Content: f.completeContent}, nil
}

func (f *fakeLLM) CompleteStream(_ context.Context, req *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.lastSystem = req.System
	f.mu.Unlock()

	if req.OnResponseID != nil {
		req.OnResponseID("resp_1")
	}
	for i, token := range strings.SplitAfter(f.streamText, " ") {
		if token == "" {
			continue
		}
		if err := cb(token, i); err != nil {
			return nil, err
		}
	}
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &llm.CompletionResponse{ID: "resp_1", Content: f.streamText}, nil
}

func (f *fakeLLM) Name() string     { return "fake" }
func (f *fakeLLM) Models() []string { return nil }

func (f *fakeLLM) system() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSystem
}

func newMessageFixture(t *testing.T, provider *fakeLLM) (*MessageService, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	log, err := logger.New("error")
	require.NoError(t, err)
	return NewMessageService(mem, provider, nil, "test-model", log), mem
}

func TestStreamReplyCreatesConversationAndPersistsSegments(t *testing.T) {
	ctx := context.Background()
	provider := &fakeLLM{
		streamText:      "Sure. <partner_message>hug incoming</partner_message> Done.",
		completeContent: "Quick chat",
	}
	svc, mem := newMessageFixture(t, provider)

	rec := httptest.NewRecorder()
	err := svc.StreamReply(ctx, "alice", "Alice", &model.ChatStreamRequest{Content: "help me say it"}, rec)
	require.NoError(t, err)
	body := rec.Body.String()

	// The padding prelude precedes the first frame.
	sessionAt := strings.Index(body, "event: session")
	require.GreaterOrEqual(t, sessionAt, paddingSize)
	assert.Contains(t, body, `"session_id"`)
	assert.Contains(t, body, "event: response_id")
	assert.Contains(t, body, "event: tool_start")
	assert.Contains(t, body, `event: partner_message`)
	assert.Contains(t, body, "event: done")

	convs, _, err := mem.ListConversations(ctx, "alice", 0, 0)
	require.NoError(t, err)
	require.Len(t, convs, 1)

	msgs, err := mem.ListMessages(ctx, convs[0].ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "help me say it", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)

	ann, ok := model.DecodeAnnotation(msgs[1].Content)
	require.True(t, ok)
	require.Equal(t, model.AnnotationSegments, ann.Type)
	var draft string
	for _, seg := range ann.Segments {
		if seg.Type == model.SegmentPartnerDraft {
			draft = seg.Text
		}
	}
	assert.Equal(t, "hug incoming", draft)

	// Title generation is best effort in the background.
	require.Eventually(t, func() bool {
		conv, err := mem.GetConversation(ctx, "alice", convs[0].ID)
		return err == nil && conv.Title == "Quick chat"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamReplyThreadCarriesOnlyDeliveredMessages(t *testing.T) {
	ctx := context.Background()
	provider := &fakeLLM{
		streamText:      "Okay. <partner_message>see you at 6</partner_message>",
		completeContent: "t",
	}
	svc, mem := newMessageFixture(t, provider)

	rec := httptest.NewRecorder()
	require.NoError(t, svc.StreamReply(ctx, "alice", "Alice", &model.ChatStreamRequest{Content: "tell them 6pm"}, rec))

	convs, _, err := mem.ListConversations(ctx, "alice", 0, 0)
	require.NoError(t, err)
	require.Len(t, convs, 1)

	// The draft has not been accepted by anyone, so the prompt must
	// not claim it was exchanged.
	provider.streamText = "Anything else?"
	rec = httptest.NewRecorder()
	require.NoError(t, svc.StreamReply(ctx, "alice", "Alice", &model.ChatStreamRequest{
		ConversationID: convs[0].ID,
		Content:        "thanks",
	}, rec))
	assert.NotContains(t, provider.system(), "Messages exchanged with the partner")

	// Deliver it: the forwarded copy lands in the linked partner
	// conversation.
	rel, err := mem.CreateRelationship(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NoError(t, mem.SetDisplayName(ctx, "bob", "Bob"))
	bobConv, err := mem.CreateConversation(ctx, "bob", "")
	require.NoError(t, err)
	require.NoError(t, mem.CreateLink(ctx, &model.ConversationLink{
		RelationshipID:      rel.ID,
		UserAID:             "alice",
		UserBID:             "bob",
		UserAConversationID: convs[0].ID,
		UserBConversationID: bobConv.ID,
	}))
	forwarded, err := model.EncodePartnerReceived("see you at 6")
	require.NoError(t, err)
	_, err = mem.SaveMessage(ctx, &model.Message{
		ConversationID: bobConv.ID,
		UserID:         "bob",
		Role:           model.RoleUser,
		Content:        forwarded,
	})
	require.NoError(t, err)

	provider.streamText = "Noted."
	rec = httptest.NewRecorder()
	require.NoError(t, svc.StreamReply(ctx, "alice", "Alice", &model.ChatStreamRequest{
		ConversationID: convs[0].ID,
		Content:        "did it send?",
	}, rec))

	system := provider.system()
	assert.Contains(t, system, "The user's partner is named Bob.")
	assert.Contains(t, system, "Messages exchanged with the partner so far, oldest first:")
	assert.Contains(t, system, "Alice: see you at 6")
}

func TestStreamReplyFallbackOnStreamFailure(t *testing.T) {
	ctx := context.Background()
	provider := &fakeLLM{
		streamText:      "partial ",
		streamErr:       assert.AnError,
		completeContent: "partial recovered answer",
	}
	svc, mem := newMessageFixture(t, provider)

	rec := httptest.NewRecorder()
	require.NoError(t, svc.StreamReply(ctx, "alice", "Alice", &model.ChatStreamRequest{Content: "hi"}, rec))
	body := rec.Body.String()

	assert.Contains(t, body, "event: done")
	assert.NotContains(t, body, "event: error")

	convs, _, err := mem.ListConversations(ctx, "alice", 0, 0)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	msgs, err := mem.ListMessages(ctx, convs[0].ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	ann, ok := model.DecodeAnnotation(msgs[1].Content)
	require.True(t, ok)
	require.NotEmpty(t, ann.Segments)
	assert.Contains(t, ann.Segments[0].Content, "recovered answer")
}

func TestStreamReplyUnknownConversation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMessageFixture(t, &fakeLLM{streamText: "x", completeContent: "t"})

	rec := httptest.NewRecorder()
	err := svc.StreamReply(ctx, "alice", "Alice", &model.ChatStreamRequest{
		ConversationID: "missing",
		Content:        "hi",
	}, rec)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, rec.Body.String(), "no frames before the conversation resolves")
}
