package service

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pairlink/chat-backend/internal/events"
	"github.com/pairlink/chat-backend/internal/llm"
	"github.com/pairlink/chat-backend/internal/model"
	"github.com/pairlink/chat-backend/internal/store"
	"github.com/pairlink/chat-backend/internal/stream"
	"github.com/pairlink/chat-backend/pkg/logger"
	"github.com/pairlink/chat-backend/pkg/metrics"
)

// paddingSize is the whitespace prelude written before the first
// frame so intermediary proxies start forwarding immediately.
const paddingSize = 2048

// historyLimit bounds how much conversation history is replayed into
// the model context per turn.
const historyLimit = 40

// MessageService orchestrates chat turns: persistence, prompt
// assembly and the streamed generation.
type MessageService struct {
	store     store.Store
	llm       llm.Client
	publisher *events.Publisher
	logger    *logger.Logger
	model     string
}

// NewMessageService creates a new message service.
func NewMessageService(st store.Store, client llm.Client, pub *events.Publisher, modelName string, log *logger.Logger) *MessageService {
	return &MessageService{
		store:     st,
		llm:       client,
		publisher: pub,
		logger:    log.Named("message"),
		model:     modelName,
	}
}

// List returns a conversation's messages after checking ownership.
func (s *MessageService) List(ctx context.Context, userID, conversationID string, limit, offset int) (*model.ListMessagesResponse, error) {
	if _, err := s.store.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return &model.ListMessagesResponse{Messages: msgs}, nil
}

// StreamReply handles one chat turn over SSE: it resolves the
// conversation, persists the user message, streams the assistant
// reply through the tag scanner and persists the resulting segments.
// Frames have been written (including the terminal one) when it
// returns nil; a non-nil error before the stream opens means no
// frames were written and the caller may still respond with JSON.
func (s *MessageService) StreamReply(ctx context.Context, userID, userName string, req *model.ChatStreamRequest, w http.ResponseWriter) error {
	conv, err := s.resolveConversation(ctx, userID, req.ConversationID)
	if err != nil {
		return err
	}

	// Keep the profile name current; partner notifications and
	// check-ins read it.
	if userName != "" {
		if err := s.store.SetDisplayName(ctx, userID, userName); err != nil {
			s.logger.Warn("failed to update display name", zap.Error(err))
		}
	}

	sw, err := stream.NewWriter(w)
	if err != nil {
		return err
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	// Padding first so buffering proxies flush the response head,
	// then the session frame announcing the conversation id.
	if err := sw.WritePadding(paddingSize); err != nil {
		return nil
	}
	if err := sw.WriteEvent("session", map[string]string{"session_id": conv.ID}); err != nil {
		return nil
	}

	userMsg, err := s.persist(ctx, &model.Message{
		ConversationID: conv.ID,
		UserID:         userID,
		Role:           model.RoleUser,
		Content:        req.Content,
	}, req.Content)
	if err != nil {
		s.logger.Error("failed to persist user message", zap.Error(err))
		_ = sw.WriteEvent("error", "failed to save message")
		return nil
	}
	go s.maybeGenerateTitle(conv, userMsg.Content)

	prompt, history, err := s.buildContext(ctx, userID, userName, conv.ID)
	if err != nil {
		s.logger.Error("failed to build prompt context", zap.Error(err))
		_ = sw.WriteEvent("error", "failed to load conversation history")
		return nil
	}

	gen := &llmGenerator{
		client: s.llm,
		base: llm.CompletionRequest{
			Model:    s.model,
			System:   prompt,
			Messages: llm.BuildMessages(history, req.Content),
		},
	}

	start := time.Now()
	mux := stream.NewMux(gen, sw, s.logger)
	segments, runErr := mux.Run(ctx)

	status := "ok"
	if runErr != nil {
		status = "disconnected"
	}
	metrics.RecordLLMStream(s.model, status, time.Since(start).Seconds())

	if len(segments) > 0 {
		content, err := model.EncodeSegments(segments)
		if err != nil {
			s.logger.Error("failed to encode segments", zap.Error(err))
			return nil
		}
		if _, err := s.persist(ctx, &model.Message{
			ConversationID: conv.ID,
			UserID:         userID,
			Role:           model.RoleAssistant,
			Content:        content,
		}, previewOf(segments)); err != nil {
			s.logger.Error("failed to persist assistant message", zap.Error(err))
		}
	}

	if runErr != nil {
		s.logger.Info("client disconnected mid-stream",
			zap.String("conversation_id", conv.ID),
			zap.Error(runErr))
	}
	return nil
}

func (s *MessageService) resolveConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	if conversationID == "" {
		return s.store.CreateConversation(ctx, userID, "")
	}
	return s.store.GetConversation(ctx, userID, conversationID)
}

// persist saves a message, refreshes conversation metadata and emits
// the lifecycle event.
func (s *MessageService) persist(ctx context.Context, msg *model.Message, preview string) (*model.Message, error) {
	saved, err := s.store.SaveMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	if err := s.store.TouchConversation(ctx, saved.ConversationID, preview); err != nil {
		s.logger.Warn("failed to touch conversation", zap.Error(err))
	}
	metrics.MessagesTotal.WithLabelValues(string(saved.Role)).Inc()
	s.publisher.PublishMessageStored(ctx, saved)
	return saved, nil
}

// buildContext assembles the system prompt and the provider-facing
// history for a turn. Messages delivered between the partners form a
// shared thread rendered into the system prompt; everything else
// replays as ordinary chat history.
func (s *MessageService) buildContext(ctx context.Context, userID, userName, conversationID string) (string, []llm.ChatMessage, error) {
	msgs, err := s.store.ListMessages(ctx, conversationID, historyLimit, 0)
	if err != nil {
		return "", nil, err
	}

	// The shared thread only carries messages that actually reached a
	// partner: forwarded rows here are from them, forwarded rows in
	// the linked destination conversation are from the user. Drafts
	// whose request was never accepted stay out of it.
	type threadItem struct {
		at    time.Time
		entry llm.ThreadEntry
	}
	var (
		history []llm.ChatMessage
		items   []threadItem
	)
	for _, msg := range msgs {
		ann, ok := model.DecodeAnnotation(msg.Content)
		if !ok {
			history = append(history, llm.ChatMessage{Role: string(msg.Role), Content: msg.Content})
			continue
		}
		switch ann.Type {
		case model.AnnotationSegments:
			history = append(history, llm.ChatMessage{Role: string(msg.Role), Content: renderSegments(ann.Segments)})
		case model.AnnotationPartnerReceived:
			items = append(items, threadItem{msg.CreatedAt, llm.ThreadEntry{FromUser: false, Text: ann.Text}})
		}
	}

	pc := llm.PromptContext{UserName: userName}
	if rel, err := s.store.RelationshipFor(ctx, userID); err == nil {
		if name, err := s.store.DisplayName(ctx, rel.PartnerFor(userID)); err == nil {
			pc.PartnerName = name
		}
		if link, err := s.store.GetLink(ctx, rel.ID, conversationID); err == nil {
			if dest, ok := link.DestinationFor(conversationID); ok {
				destMsgs, err := s.store.ListMessages(ctx, dest, historyLimit, 0)
				if err != nil {
					return "", nil, err
				}
				for _, msg := range destMsgs {
					if ann, ok := model.DecodeAnnotation(msg.Content); ok && ann.Type == model.AnnotationPartnerReceived {
						items = append(items, threadItem{msg.CreatedAt, llm.ThreadEntry{FromUser: true, Text: ann.Text}})
					}
				}
			}
		}
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].at.Before(items[j].at) })
	for _, it := range items {
		pc.Thread = append(pc.Thread, it.entry)
	}
	return llm.BuildSystemPrompt(pc), history, nil
}

// renderSegments reconstructs the raw assistant output, tags
// included, so the model sees its own prior turns verbatim.
func renderSegments(segments []model.Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		switch seg.Type {
		case model.SegmentText:
			b.WriteString(seg.Content)
		case model.SegmentPartnerDraft:
			fmt.Fprintf(&b, "<partner_message>%s</partner_message>", seg.Text)
		}
	}
	return b.String()
}

func previewOf(segments []model.Segment) string {
	for _, seg := range segments {
		if seg.Type == model.SegmentText && strings.TrimSpace(seg.Content) != "" {
			return strings.TrimSpace(seg.Content)
		}
	}
	return ""
}

// maybeGenerateTitle asks the model for a short title once a
// conversation has a first exchange and no title yet. Best effort.
func (s *MessageService) maybeGenerateTitle(conv *model.Conversation, firstContent string) {
	if conv.Title != "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	n, err := s.store.CountUserMessages(ctx, conv.ID)
	if err != nil || n > 2 {
		return
	}

	resp, err := s.llm.Complete(ctx, &llm.CompletionRequest{
		Model:     s.model,
		System:    "Generate a concise title (at most five words) for a conversation that opens with the user's message. Reply with the title only.",
		Messages:  []llm.ChatMessage{{Role: "user", Content: firstContent}},
		MaxTokens: 32,
	})
	if err != nil {
		s.logger.Warn("title generation failed", zap.Error(err))
		return
	}
	title := strings.Trim(strings.TrimSpace(resp.Content), `"`)
	if title == "" {
		return
	}
	if err := s.store.UpdateConversationTitle(ctx, conv.UserID, conv.ID, title); err != nil {
		s.logger.Warn("failed to set generated title", zap.Error(err))
	}
}

// llmGenerator adapts the provider client to the multiplexer's
// producer interface.
type llmGenerator struct {
	client llm.Client
	base   llm.CompletionRequest
}

func (g *llmGenerator) Run(ctx context.Context, push func(stream.Message)) error {
	req := g.base
	req.OnResponseID = func(id string) {
		push(stream.Message{Kind: stream.MessageStarted, ResponseID: id})
	}
	_, err := g.client.CompleteStream(ctx, &req, func(token string, _ int) error {
		push(stream.Message{Kind: stream.MessageDelta, Text: token})
		return nil
	})
	return err
}

func (g *llmGenerator) Fallback(ctx context.Context) (string, string, error) {
	req := g.base
	resp, err := g.client.Complete(ctx, &req)
	if err != nil {
		return "", "", err
	}
	return resp.ID, resp.Content, nil
}
