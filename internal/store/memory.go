package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pairlink/chat-backend/internal/model"
)

// Memory is an in-process Store used by tests and local development.
// All methods are safe for concurrent use.
type Memory struct {
	mu sync.Mutex

	conversations map[string]*model.Conversation
	messages      map[string][]model.Message
	relationships []*model.Relationship
	links         []*model.ConversationLink
	requests      map[string]*model.PartnerRequest
	tokens        map[string]*model.DeviceToken
	prefs         map[string]*model.CheckinPreference
	names         map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]model.Message),
		requests:      make(map[string]*model.PartnerRequest),
		tokens:        make(map[string]*model.DeviceToken),
		prefs:         make(map[string]*model.CheckinPreference),
		names:         make(map[string]string),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) CreateConversation(_ context.Context, userID, title string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:        newID(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.conversations[conv.ID] = conv
	out := *conv
	return &out, nil
}

func (m *Memory) GetConversation(_ context.Context, userID, id string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getConversationLocked(userID, id)
}

func (m *Memory) getConversationLocked(userID, id string) (*model.Conversation, error) {
	conv, ok := m.conversations[id]
	if !ok || conv.Deleted {
		return nil, ErrNotFound
	}
	if conv.UserID != userID {
		return nil, ErrForbidden
	}
	out := *conv
	return &out, nil
}

func (m *Memory) ListConversations(_ context.Context, userID string, limit, offset int) ([]model.Conversation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []model.Conversation
	for _, conv := range m.conversations {
		if conv.UserID == userID && !conv.Deleted {
			all = append(all, *conv)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *Memory) UpdateConversationTitle(_ context.Context, userID, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.getConversationLocked(userID, id); err != nil {
		return err
	}
	conv := m.conversations[id]
	conv.Title = title
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) DeleteConversation(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.getConversationLocked(userID, id); err != nil {
		return err
	}
	m.conversations[id].Deleted = true
	return nil
}

func (m *Memory) TouchConversation(_ context.Context, id, preview string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	conv.UpdatedAt = now
	conv.LastMessageAt = &now
	conv.LastMessagePreview = truncatePreview(preview)
	conv.MessageCount++
	return nil
}

func (m *Memory) SaveMessage(_ context.Context, msg *model.Message) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := *msg
	if saved.ID == "" {
		saved.ID = newID()
	}
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now().UTC()
	}
	m.messages[saved.ConversationID] = append(m.messages[saved.ConversationID], saved)
	out := saved
	return &out, nil
}

func (m *Memory) ListMessages(_ context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.messages[conversationID]
	if offset >= len(msgs) {
		return nil, nil
	}
	msgs = msgs[offset:]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *Memory) CountUserMessages(_ context.Context, conversationID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, msg := range m.messages[conversationID] {
		if msg.Role == model.RoleUser {
			n++
		}
	}
	return n, nil
}

func (m *Memory) RecentUserMessages(_ context.Context, conversationID string, limit int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Message
	msgs := m.messages[conversationID]
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		if msgs[i].Role == model.RoleUser {
			out = append(out, msgs[i])
		}
	}
	// Restore chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (m *Memory) CreateRelationship(_ context.Context, userAID, userBID string) (*model.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rel := &model.Relationship{ID: newID(), UserAID: userAID, UserBID: userBID}
	m.relationships = append(m.relationships, rel)
	out := *rel
	return &out, nil
}

func (m *Memory) RelationshipFor(_ context.Context, userID string) (*model.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rel := range m.relationships {
		if rel.UserAID == userID || rel.UserBID == userID {
			out := *rel
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetLink(_ context.Context, relationshipID, sourceConversationID string) (*model.ConversationLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link := m.findLinkLocked(relationshipID, sourceConversationID)
	if link == nil {
		return nil, ErrNotFound
	}
	out := *link
	return &out, nil
}

func (m *Memory) findLinkLocked(relationshipID, sourceConversationID string) *model.ConversationLink {
	for _, link := range m.links {
		if link.RelationshipID != relationshipID {
			continue
		}
		if link.UserAConversationID == sourceConversationID || link.UserBConversationID == sourceConversationID {
			return link
		}
	}
	return nil
}

func (m *Memory) CreateLink(_ context.Context, link *model.ConversationLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *link
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	m.links = append(m.links, &stored)
	return nil
}

func (m *Memory) SetLinkDestination(_ context.Context, relationshipID, sourceConversationID, destConversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	link := m.findLinkLocked(relationshipID, sourceConversationID)
	if link == nil {
		return ErrNotFound
	}
	if link.UserAConversationID == sourceConversationID {
		link.UserBConversationID = destConversationID
	} else {
		link.UserAConversationID = destConversationID
	}
	return nil
}

func (m *Memory) CreatePartnerRequest(_ context.Context, req *model.PartnerRequest) (*model.PartnerRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *req
	if stored.ID == "" {
		stored.ID = newID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	if stored.Status == "" {
		stored.Status = model.RequestPending
	}
	m.requests[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (m *Memory) GetPartnerRequest(_ context.Context, id string) (*model.PartnerRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *req
	return &out, nil
}

func (m *Memory) ListPendingRequests(_ context.Context, recipientUserID string, limit int) ([]model.PartnerRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.PartnerRequest
	for _, req := range m.requests {
		if req.RecipientUserID == recipientUserID && req.Status != model.RequestAccepted {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) LatestPendingForContext(_ context.Context, relationshipID, senderUserID, recipientUserID, senderConversationID string) (*model.PartnerRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *model.PartnerRequest
	for _, req := range m.requests {
		if req.RelationshipID != relationshipID ||
			req.SenderUserID != senderUserID ||
			req.RecipientUserID != recipientUserID ||
			req.SenderConversationID != senderConversationID ||
			req.Status != model.RequestPending {
			continue
		}
		if latest == nil || req.CreatedAt.After(latest.CreatedAt) {
			latest = req
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	out := *latest
	return &out, nil
}

func (m *Memory) MarkDelivered(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	if req.Status == model.RequestPending {
		req.Status = model.RequestDelivered
	}
	return nil
}

func (m *Memory) UpdateRequestContent(_ context.Context, id, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.Content = content
	req.CreatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) ClaimAccepted(_ context.Context, id, recipientConversationID string, acceptedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if req.Status != model.RequestPending && req.Status != model.RequestDelivered {
		return false, nil
	}
	req.Status = model.RequestAccepted
	req.RecipientConversationID = recipientConversationID
	req.AcceptedAt = &acceptedAt
	return true, nil
}

func (m *Memory) AttachCreatedMessage(_ context.Context, id, recipientConversationID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.RecipientConversationID = recipientConversationID
	req.CreatedMessageID = messageID
	return nil
}

func (m *Memory) UpsertDeviceToken(_ context.Context, token *model.DeviceToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *token
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	stored.Enabled = true
	m.tokens[stored.Token] = &stored
	return nil
}

func (m *Memory) ListDeviceTokens(_ context.Context, userID string) ([]model.DeviceToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.DeviceToken
	for _, tok := range m.tokens {
		if tok.UserID == userID && tok.Enabled {
			out = append(out, *tok)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func (m *Memory) DisableDeviceToken(_ context.Context, tokenValue string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tok, ok := m.tokens[tokenValue]; ok {
		tok.Enabled = false
	}
	return nil
}

func (m *Memory) ListUsersWithTokens(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, tok := range m.tokens {
		if tok.Enabled && !seen[tok.UserID] {
			seen[tok.UserID] = true
			out = append(out, tok.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) GetCheckinPreference(_ context.Context, userID string) (*model.CheckinPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pref, ok := m.prefs[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *pref
	return &out, nil
}

func (m *Memory) SetCheckinPreference(_ context.Context, pref *model.CheckinPreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *pref
	m.prefs[stored.UserID] = &stored
	return nil
}

func (m *Memory) MarkCheckinSent(_ context.Context, userID, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pref, ok := m.prefs[userID]
	if !ok {
		return ErrNotFound
	}
	pref.LastSentDate = date
	return nil
}

func (m *Memory) DisplayName(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name, ok := m.names[userID]; ok {
		return name, nil
	}
	return "", ErrNotFound
}

func (m *Memory) SetDisplayName(_ context.Context, userID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.names[userID] = name
	return nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

const previewLimit = 120

func truncatePreview(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	return s[:previewLimit]
}
