package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pairlink/chat-backend/internal/events"
	"github.com/pairlink/chat-backend/internal/model"
	"github.com/pairlink/chat-backend/internal/store"
	"github.com/pairlink/chat-backend/pkg/logger"
	"github.com/pairlink/chat-backend/pkg/metrics"
)

// ErrNoPartner is returned when the user has no linked partner.
var ErrNoPartner = errors.New("no linked partner")

// Notifier delivers best-effort push notifications for partner
// activity.
type Notifier interface {
	NotifyPartnerRequest(ctx context.Context, recipientUserID, senderName, requestID string)
	NotifyPartnerMessage(ctx context.Context, recipientUserID, senderName, conversationID, preview string)
}

// PartnerService implements the cross-user request lifecycle:
// creation, delivery marking and the race-safe accept.
type PartnerService struct {
	store     store.Store
	publisher *events.Publisher
	notifier  Notifier
	logger    *logger.Logger
}

// NewPartnerService creates a new partner service. notifier may be
// nil when push is not configured.
func NewPartnerService(st store.Store, pub *events.Publisher, notifier Notifier, log *logger.Logger) *PartnerService {
	return &PartnerService{
		store:     st,
		publisher: pub,
		notifier:  notifier,
		logger:    log.Named("partner"),
	}
}

// CreateRequest records a pending request to forward content to the
// sender's partner. Repeated sends from the same conversation update
// the existing pending request instead of stacking new ones.
func (s *PartnerService) CreateRequest(ctx context.Context, senderUserID, conversationID, content string) (*model.PartnerRequest, error) {
	rel, err := s.store.RelationshipFor(ctx, senderUserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoPartner
		}
		return nil, err
	}
	recipientUserID := rel.PartnerFor(senderUserID)

	if _, err := s.store.GetConversation(ctx, senderUserID, conversationID); err != nil {
		return nil, err
	}
	if err := s.ensureLink(ctx, rel, senderUserID, conversationID); err != nil {
		return nil, err
	}

	if existing, err := s.store.LatestPendingForContext(ctx, rel.ID, senderUserID, recipientUserID, conversationID); err == nil {
		if err := s.store.UpdateRequestContent(ctx, existing.ID, content); err != nil {
			return nil, err
		}
		existing.Content = content
		metrics.PartnerRequestsTotal.WithLabelValues("updated").Inc()
		s.notifyRequest(ctx, senderUserID, recipientUserID, existing.ID)
		return existing, nil
	}

	req, err := s.store.CreatePartnerRequest(ctx, &model.PartnerRequest{
		RelationshipID:       rel.ID,
		SenderUserID:         senderUserID,
		RecipientUserID:      recipientUserID,
		SenderConversationID: conversationID,
		Content:              content,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("partner request created",
		zap.String("request_id", req.ID),
		zap.String("sender_user_id", senderUserID),
	)
	metrics.PartnerRequestsTotal.WithLabelValues("created").Inc()
	s.publisher.PublishRequestEvent(ctx, "created", req)
	s.notifyRequest(ctx, senderUserID, recipientUserID, req.ID)
	return req, nil
}

// Pending lists requests awaiting the user's acceptance.
func (s *PartnerService) Pending(ctx context.Context, userID string, limit int) (*model.PendingRequestsResponse, error) {
	reqs, err := s.store.ListPendingRequests(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if reqs == nil {
		reqs = []model.PartnerRequest{}
	}
	return &model.PendingRequestsResponse{Requests: reqs}, nil
}

// MarkDelivered records that the recipient's client has shown the
// request. The marker is advisory: acceptance does not require it.
func (s *PartnerService) MarkDelivered(ctx context.Context, userID, requestID string) error {
	req, err := s.store.GetPartnerRequest(ctx, requestID)
	if err != nil {
		return err
	}
	// Not-found for foreign requests so their existence is not leaked.
	if req.RecipientUserID != userID {
		return store.ErrNotFound
	}
	if err := s.store.MarkDelivered(ctx, requestID); err != nil {
		return err
	}
	s.publisher.PublishRequestEvent(ctx, "delivered", req)
	return nil
}

// Accept claims the request for the calling recipient. Exactly one
// accept wins; repeated accepts of an already-accepted request are
// idempotent successes. The destination conversation is resolved
// through the conversation link, creating it speculatively when no
// mapping exists yet and deleting the speculative conversation when
// a concurrent accepter's mapping write survives instead.
func (s *PartnerService) Accept(ctx context.Context, userID, requestID string) (*model.AcceptResponse, error) {
	req, err := s.store.GetPartnerRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	// Not-found for foreign requests so their existence is not leaked.
	if req.RecipientUserID != userID {
		return nil, store.ErrNotFound
	}
	if req.Status == model.RequestAccepted {
		return &model.AcceptResponse{Success: true, RecipientConversationID: req.RecipientConversationID}, nil
	}

	rel, err := s.store.RelationshipFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	destID, err := s.resolveDestination(ctx, rel, req, userID)
	if err != nil {
		return nil, err
	}

	won, err := s.store.ClaimAccepted(ctx, requestID, destID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !won {
		// Another accepter claimed it first; report their outcome.
		claimed, err := s.store.GetPartnerRequest(ctx, requestID)
		if err != nil {
			return nil, err
		}
		metrics.PartnerRequestsTotal.WithLabelValues("accept_lost").Inc()
		return &model.AcceptResponse{Success: true, RecipientConversationID: claimed.RecipientConversationID}, nil
	}

	s.logger.Info("partner request accepted",
		zap.String("request_id", requestID),
		zap.String("recipient_conversation_id", destID),
	)
	metrics.PartnerRequestsTotal.WithLabelValues("accepted").Inc()
	req.Status = model.RequestAccepted
	req.RecipientConversationID = destID
	s.publisher.PublishRequestEvent(ctx, "accepted", req)

	// Finalization (writing the forwarded message) continues in the
	// background; the response only needs the conversation id.
	go s.finalizeAccept(req)

	return &model.AcceptResponse{Success: true, RecipientConversationID: destID}, nil
}

// resolveDestination returns the recipient-side conversation for the
// request's source conversation, racing safely against concurrent
// accepters: create speculatively, write the mapping, re-read, and
// discard the speculative conversation when another write survived.
func (s *PartnerService) resolveDestination(ctx context.Context, rel *model.Relationship, req *model.PartnerRequest, userID string) (string, error) {
	link, err := s.store.GetLink(ctx, rel.ID, req.SenderConversationID)
	if errors.Is(err, store.ErrNotFound) {
		if err := s.ensureLink(ctx, rel, req.SenderUserID, req.SenderConversationID); err != nil {
			return "", err
		}
		link, err = s.store.GetLink(ctx, rel.ID, req.SenderConversationID)
	}
	if err != nil {
		return "", err
	}

	if dest, ok := link.DestinationFor(req.SenderConversationID); ok {
		return dest, nil
	}

	// The speculative conversation mirrors the source's title so both
	// sides of the link read the same.
	title := ""
	if src, err := s.store.GetConversation(ctx, req.SenderUserID, req.SenderConversationID); err == nil {
		title = src.Title
	}
	speculative, err := s.store.CreateConversation(ctx, userID, title)
	if err != nil {
		return "", err
	}
	if err := s.store.SetLinkDestination(ctx, rel.ID, req.SenderConversationID, speculative.ID); err != nil {
		return "", err
	}

	link, err = s.store.GetLink(ctx, rel.ID, req.SenderConversationID)
	if err != nil {
		return "", err
	}
	surviving, ok := link.DestinationFor(req.SenderConversationID)
	if !ok {
		surviving = speculative.ID
	}
	if surviving != speculative.ID {
		if err := s.store.DeleteConversation(ctx, userID, speculative.ID); err != nil {
			s.logger.Warn("failed to delete speculative conversation",
				zap.String("conversation_id", speculative.ID), zap.Error(err))
		}
	}
	return surviving, nil
}

// finalizeAccept writes the forwarded message into the destination
// conversation and records it on the request.
func (s *PartnerService) finalizeAccept(req *model.PartnerRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	content, err := model.EncodePartnerReceived(req.Content)
	if err != nil {
		s.logger.Error("failed to encode forwarded message", zap.Error(err))
		return
	}
	msg, err := s.store.SaveMessage(ctx, &model.Message{
		ConversationID: req.RecipientConversationID,
		UserID:         req.RecipientUserID,
		Role:           model.RoleUser,
		Content:        content,
	})
	if err != nil {
		s.logger.Error("failed to save forwarded message",
			zap.String("request_id", req.ID), zap.Error(err))
		return
	}
	if err := s.store.TouchConversation(ctx, req.RecipientConversationID, req.Content); err != nil {
		s.logger.Warn("failed to touch destination conversation", zap.Error(err))
	}
	if err := s.store.AttachCreatedMessage(ctx, req.ID, req.RecipientConversationID, msg.ID); err != nil {
		s.logger.Warn("failed to attach created message", zap.Error(err))
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()
	s.publisher.PublishMessageStored(ctx, msg)
}

// SendToPartner forwards content to the partner. When a destination
// conversation is already mapped the message lands there directly;
// otherwise a pending request is created for the partner to accept.
func (s *PartnerService) SendToPartner(ctx context.Context, senderUserID, conversationID, content string) (delivered bool, requestID string, err error) {
	rel, err := s.store.RelationshipFor(ctx, senderUserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, "", ErrNoPartner
		}
		return false, "", err
	}
	recipientUserID := rel.PartnerFor(senderUserID)

	if _, err := s.store.GetConversation(ctx, senderUserID, conversationID); err != nil {
		return false, "", err
	}
	if err := s.ensureLink(ctx, rel, senderUserID, conversationID); err != nil {
		return false, "", err
	}

	link, err := s.store.GetLink(ctx, rel.ID, conversationID)
	if err != nil {
		return false, "", err
	}
	dest, ok := link.DestinationFor(conversationID)
	if !ok {
		req, err := s.CreateRequest(ctx, senderUserID, conversationID, content)
		if err != nil {
			return false, "", err
		}
		return false, req.ID, nil
	}

	encoded, err := model.EncodePartnerReceived(content)
	if err != nil {
		return false, "", err
	}
	msg, err := s.store.SaveMessage(ctx, &model.Message{
		ConversationID: dest,
		UserID:         recipientUserID,
		Role:           model.RoleUser,
		Content:        encoded,
	})
	if err != nil {
		return false, "", err
	}
	if err := s.store.TouchConversation(ctx, dest, content); err != nil {
		s.logger.Warn("failed to touch destination conversation", zap.Error(err))
	}

	// A still-open request from this conversation is superseded by the
	// direct delivery; close it so a later accept cannot deliver the
	// content a second time.
	if stale, err := s.store.LatestPendingForContext(ctx, rel.ID, senderUserID, recipientUserID, conversationID); err == nil {
		won, err := s.store.ClaimAccepted(ctx, stale.ID, dest, time.Now().UTC())
		if err != nil {
			s.logger.Warn("failed to close superseded request", zap.String("request_id", stale.ID), zap.Error(err))
		} else if won {
			if err := s.store.AttachCreatedMessage(ctx, stale.ID, dest, msg.ID); err != nil {
				s.logger.Warn("failed to attach superseding message", zap.String("request_id", stale.ID), zap.Error(err))
			}
		}
	}

	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()
	metrics.PartnerRequestsTotal.WithLabelValues("sent_direct").Inc()
	s.publisher.PublishMessageStored(ctx, msg)

	if s.notifier != nil {
		senderName := s.displayName(ctx, senderUserID)
		s.notifier.NotifyPartnerMessage(ctx, recipientUserID, senderName, dest, truncatePreview(content))
	}
	return true, "", nil
}

// ensureLink guarantees a conversation link row exists for the
// sender's conversation. Creating it at send time (instead of at
// accept time) keeps concurrent accepters from racing over link
// creation; they only race over the destination write.
func (s *PartnerService) ensureLink(ctx context.Context, rel *model.Relationship, senderUserID, conversationID string) error {
	if _, err := s.store.GetLink(ctx, rel.ID, conversationID); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	link := &model.ConversationLink{
		RelationshipID: rel.ID,
		UserAID:        rel.UserAID,
		UserBID:        rel.UserBID,
	}
	if senderUserID == rel.UserAID {
		link.UserAConversationID = conversationID
	} else {
		link.UserBConversationID = conversationID
	}
	return s.store.CreateLink(ctx, link)
}

func (s *PartnerService) notifyRequest(ctx context.Context, senderUserID, recipientUserID, requestID string) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyPartnerRequest(ctx, recipientUserID, s.displayName(ctx, senderUserID), requestID)
}

func (s *PartnerService) displayName(ctx context.Context, userID string) string {
	name, err := s.store.DisplayName(ctx, userID)
	if err != nil {
		return ""
	}
	return name
}

func truncatePreview(s string) string {
	const limit = 120
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
