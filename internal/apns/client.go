package apns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pairlink/chat-backend/internal/model"
	"github.com/pairlink/chat-backend/internal/store"
	"github.com/pairlink/chat-backend/pkg/logger"
	"github.com/pairlink/chat-backend/pkg/metrics"
)

const (
	hostProduction = "https://api.push.apple.com"
	hostSandbox    = "https://api.sandbox.push.apple.com"
)

// Client delivers alert pushes to a user's registered devices.
type Client struct {
	signer *Signer
	topic  string
	http   *http.Client
	tokens store.DeviceTokens
	log    *logger.Logger

	// sandbox selects which environment to try first; the other is
	// the fallback for tokens issued by the opposite environment.
	sandbox bool
}

// NewClient creates an APNs client. topic is the app bundle id.
func NewClient(signer *Signer, topic string, sandbox bool, tokens store.DeviceTokens, log *logger.Logger) *Client {
	return &Client{
		signer:  signer,
		topic:   topic,
		sandbox: sandbox,
		http:    &http.Client{Timeout: 10 * time.Second},
		tokens:  tokens,
		log:     log.Named("apns"),
	}
}

type alert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type aps struct {
	Alert alert  `json:"alert"`
	Sound string `json:"sound"`
}

type payload struct {
	APS  aps            `json:"aps"`
	Data map[string]any `json:"data,omitempty"`
}

// NotifyPartnerRequest tells the recipient a partner message awaits
// acceptance.
func (c *Client) NotifyPartnerRequest(ctx context.Context, recipientUserID, senderName, requestID string) {
	title := "New message from your partner"
	if senderName != "" {
		title = fmt.Sprintf("New message from %s", senderName)
	}
	c.notifyUser(ctx, "partner_request", recipientUserID, payload{
		APS:  aps{Alert: alert{Title: title, Body: "Tap to view and accept."}, Sound: "default"},
		Data: map[string]any{"kind": "partner_request", "request_id": requestID},
	})
}

// NotifyPartnerMessage tells the recipient a forwarded message landed
// in their conversation.
func (c *Client) NotifyPartnerMessage(ctx context.Context, recipientUserID, senderName, conversationID, preview string) {
	title := "Message from your partner"
	if senderName != "" {
		title = fmt.Sprintf("Message from %s", senderName)
	}
	c.notifyUser(ctx, "partner_message", recipientUserID, payload{
		APS:  aps{Alert: alert{Title: title, Body: preview}, Sound: "default"},
		Data: map[string]any{"kind": "partner_message", "conversation_id": conversationID},
	})
}

// NotifyCheckin sends the daily check-in nudge.
func (c *Client) NotifyCheckin(ctx context.Context, userID, body string) {
	c.notifyUser(ctx, "checkin", userID, payload{
		APS:  aps{Alert: alert{Title: "Daily check-in", Body: body}, Sound: "default"},
		Data: map[string]any{"kind": "checkin"},
	})
}

// notifyUser fans the payload out to every enabled device token. A
// user with no tokens is a no-op, not an error.
func (c *Client) notifyUser(ctx context.Context, kind, userID string, pl payload) {
	if c == nil || c.signer == nil {
		return
	}
	tokens, err := c.tokens.ListDeviceTokens(ctx, userID)
	if err != nil {
		c.log.Warn("failed to list device tokens", zap.String("user_id", userID), zap.Error(err))
		return
	}
	for _, tok := range tokens {
		if err := c.push(ctx, tok, pl); err != nil {
			metrics.NotificationsTotal.WithLabelValues(kind, "error").Inc()
			c.log.Warn("push failed",
				zap.String("kind", kind),
				zap.String("user_id", userID),
				zap.Error(err))
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(kind, "ok").Inc()
	}
}

func (c *Client) push(ctx context.Context, tok model.DeviceToken, pl payload) error {
	primary, fallback := hostProduction, hostSandbox
	if c.sandbox {
		primary, fallback = hostSandbox, hostProduction
	}

	status, reason, err := c.send(ctx, primary, tok.Token, pl)
	if err != nil {
		return err
	}
	// Tokens minted against the other environment come back as
	// BadDeviceToken; retry once on the opposite host before giving
	// up on the token.
	if reason == "BadDeviceToken" {
		status, reason, err = c.send(ctx, fallback, tok.Token, pl)
		if err != nil {
			return err
		}
	}

	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusGone || status == http.StatusBadRequest:
		// 410 Unregistered, or a token Apple will never accept.
		if derr := c.tokens.DisableDeviceToken(ctx, tok.Token); derr != nil {
			c.log.Warn("failed to disable device token", zap.Error(derr))
		}
		return fmt.Errorf("token rejected: %d %s", status, reason)
	default:
		return fmt.Errorf("apns returned %d %s", status, reason)
	}
}

func (c *Client) send(ctx context.Context, host, deviceToken string, pl payload) (int, string, error) {
	bearer, err := c.signer.Token()
	if err != nil {
		return 0, "", err
	}

	body, err := json.Marshal(pl)
	if err != nil {
		return 0, "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/3/device/%s", host, deviceToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apns-topic", c.topic)
	req.Header.Set("apns-push-type", "alert")
	req.Header.Set("apns-priority", "10")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return resp.StatusCode, "", nil
	}

	var apiErr struct {
		Reason string `json:"reason"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &apiErr)
	return resp.StatusCode, apiErr.Reason, nil
}
