package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/pairlink/chat-backend/internal/model"
	"github.com/pairlink/chat-backend/pkg/logger"
)

const (
	// StreamName is the name of the lifecycle events stream.
	StreamName = "CHAT_EVENTS"

	// SubjectPrefix is the prefix for all event subjects.
	SubjectPrefix = "chat"
)

// Publisher emits lifecycle events. A nil Publisher is valid and
// drops everything, so deployments without NATS need no branching at
// call sites.
type Publisher struct {
	client *Client
	log    *logger.Logger
}

// NewPublisher creates a publisher over an established client.
func NewPublisher(client *Client, log *logger.Logger) *Publisher {
	if client == nil {
		return nil
	}
	return &Publisher{client: client, log: log.Named("events")}
}

// EnsureStream ensures the events stream exists.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	if p == nil {
		return nil
	}
	js := p.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Message and partner-request lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// MessageSubject returns the subject for a stored message event.
func MessageSubject(conversationID string, role model.Role) string {
	return fmt.Sprintf("%s.msg.%s.%s", SubjectPrefix, conversationID, role)
}

// RequestSubject returns the subject for a partner-request event.
func RequestSubject(event string) string {
	return fmt.Sprintf("%s.request.%s", SubjectPrefix, event)
}

type messageStored struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

type requestEvent struct {
	RequestID       string    `json:"request_id"`
	RelationshipID  string    `json:"relationship_id"`
	SenderUserID    string    `json:"sender_user_id"`
	RecipientUserID string    `json:"recipient_user_id"`
	Status          string    `json:"status"`
	At              time.Time `json:"at"`
}

// PublishMessageStored emits a stored-message event. Content is
// deliberately excluded from the event body.
func (p *Publisher) PublishMessageStored(ctx context.Context, msg *model.Message) {
	if p == nil {
		return
	}
	p.publish(ctx, MessageSubject(msg.ConversationID, msg.Role), messageStored{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		UserID:         msg.UserID,
		Role:           string(msg.Role),
		CreatedAt:      msg.CreatedAt,
	})
}

// PublishRequestEvent emits a partner-request lifecycle event
// (created, delivered, accepted).
func (p *Publisher) PublishRequestEvent(ctx context.Context, event string, req *model.PartnerRequest) {
	if p == nil {
		return
	}
	p.publish(ctx, RequestSubject(event), requestEvent{
		RequestID:       req.ID,
		RelationshipID:  req.RelationshipID,
		SenderUserID:    req.SenderUserID,
		RecipientUserID: req.RecipientUserID,
		Status:          string(req.Status),
		At:              time.Now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, subject string, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		p.log.Warn("failed to marshal event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if _, err := p.client.JetStream().Publish(ctx, subject, data); err != nil {
		p.log.Warn("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
