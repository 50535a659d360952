package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pairlink/chat-backend/internal/model"
)

// SQLite is the durable Store backed by a single sqlite database.
// Conditional UPDATEs carry the race-sensitive transitions; no
// in-process locking is involved, so multiple replicas sharing the
// file behave the same as one.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	last_message_at TEXT,
	last_message_preview TEXT NOT NULL DEFAULT '',
	message_count INTEGER NOT NULL DEFAULT 0,
	deleted INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, deleted, updated_at);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS relationships (
	id TEXT PRIMARY KEY,
	user_a_id TEXT NOT NULL,
	user_b_id TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_relationships_a ON relationships(user_a_id);
CREATE INDEX IF NOT EXISTS idx_relationships_b ON relationships(user_b_id);

CREATE TABLE IF NOT EXISTS conversation_links (
	relationship_id TEXT NOT NULL,
	user_a_id TEXT NOT NULL,
	user_b_id TEXT NOT NULL,
	user_a_conversation_id TEXT NOT NULL DEFAULT '',
	user_b_conversation_id TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_links_rel ON conversation_links(relationship_id);

CREATE TABLE IF NOT EXISTS partner_requests (
	id TEXT PRIMARY KEY,
	relationship_id TEXT NOT NULL,
	sender_user_id TEXT NOT NULL,
	recipient_user_id TEXT NOT NULL,
	sender_conversation_id TEXT NOT NULL,
	content TEXT NOT NULL,
	status TEXT NOT NULL,
	recipient_conversation_id TEXT NOT NULL DEFAULT '',
	created_message_id TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	accepted_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_requests_recipient ON partner_requests(recipient_user_id, status);

CREATE TABLE IF NOT EXISTS device_tokens (
	token TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	platform TEXT NOT NULL DEFAULT '',
	bundle_id TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tokens_user ON device_tokens(user_id, enabled);

CREATE TABLE IF NOT EXISTS checkin_preferences (
	user_id TEXT PRIMARY KEY,
	enabled INTEGER NOT NULL DEFAULT 0,
	hour INTEGER,
	minute INTEGER,
	timezone TEXT NOT NULL DEFAULT '',
	last_sent_date TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS profiles (
	user_id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL
);
`

// OpenSQLite opens (and migrates) the database at path. Use
// ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// sqlite serializes writers; a single connection avoids busy
	// errors under concurrent request handlers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

// Ping checks database liveness.
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func encodeTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func decodeTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *SQLite) CreateConversation(ctx context.Context, userID, title string) (*model.Conversation, error) {
	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:        newID(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.Title, encodeTime(now), encodeTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLite) GetConversation(ctx context.Context, userID, id string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at, last_message_at, last_message_preview, message_count
		 FROM conversations WHERE id = ? AND deleted = 0`, id)

	conv, err := scanConversation(row)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, ErrForbidden
	}
	return conv, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*model.Conversation, error) {
	var (
		conv                 model.Conversation
		createdAt, updatedAt string
		lastMessageAt        sql.NullString
	)
	err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &createdAt, &updatedAt,
		&lastMessageAt, &conv.LastMessagePreview, &conv.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	conv.CreatedAt = decodeTime(createdAt)
	conv.UpdatedAt = decodeTime(updatedAt)
	if lastMessageAt.Valid {
		t := decodeTime(lastMessageAt.String)
		conv.LastMessageAt = &t
	}
	return &conv, nil
}

func (s *SQLite) ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE user_id = ? AND deleted = 0`, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at, last_message_at, last_message_preview, message_count
		 FROM conversations WHERE user_id = ? AND deleted = 0
		 ORDER BY updated_at DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *conv)
	}
	return out, total, rows.Err()
}

func (s *SQLite) UpdateConversationTitle(ctx context.Context, userID, id, title string) error {
	if _, err := s.GetConversation(ctx, userID, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, encodeTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteConversation(ctx context.Context, userID, id string) error {
	if _, err := s.GetConversation(ctx, userID, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET deleted = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

func (s *SQLite) TouchConversation(ctx context.Context, id, preview string) error {
	now := encodeTime(time.Now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET updated_at = ?, last_message_at = ?, last_message_preview = ?, message_count = message_count + 1
		 WHERE id = ?`,
		now, now, truncatePreview(preview), id)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) SaveMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	saved := *msg
	if saved.ID == "" {
		saved.ID = newID()
	}
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		saved.ID, saved.ConversationID, saved.UserID, string(saved.Role), saved.Content, encodeTime(saved.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	return &saved, nil
}

func (s *SQLite) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, user_id, role, content, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at ASC LIMIT ? OFFSET ?`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]model.Message, error) {
	var out []model.Message
	for rows.Next() {
		var (
			msg       model.Message
			role      string
			createdAt string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.UserID, &role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = model.Role(role)
		msg.CreatedAt = decodeTime(createdAt)
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLite) CountUserMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND role = 'user'`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

func (s *SQLite) RecentUserMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, user_id, role, content, created_at FROM (
			SELECT id, conversation_id, user_id, role, content, created_at
			FROM messages WHERE conversation_id = ? AND role = 'user'
			ORDER BY created_at DESC LIMIT ?
		 ) ORDER BY created_at ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLite) CreateRelationship(ctx context.Context, userAID, userBID string) (*model.Relationship, error) {
	rel := &model.Relationship{ID: newID(), UserAID: userAID, UserBID: userBID, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO relationships (id, user_a_id, user_b_id, created_at) VALUES (?, ?, ?, ?)`,
		rel.ID, rel.UserAID, rel.UserBID, encodeTime(rel.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create relationship: %w", err)
	}
	return rel, nil
}

func (s *SQLite) RelationshipFor(ctx context.Context, userID string) (*model.Relationship, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_a_id, user_b_id, created_at FROM relationships
		 WHERE user_a_id = ? OR user_b_id = ? LIMIT 1`, userID, userID)

	var (
		rel       model.Relationship
		createdAt string
	)
	err := row.Scan(&rel.ID, &rel.UserAID, &rel.UserBID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load relationship: %w", err)
	}
	rel.CreatedAt = decodeTime(createdAt)
	return &rel, nil
}

func (s *SQLite) GetLink(ctx context.Context, relationshipID, sourceConversationID string) (*model.ConversationLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT relationship_id, user_a_id, user_b_id, user_a_conversation_id, user_b_conversation_id, created_at
		 FROM conversation_links
		 WHERE relationship_id = ? AND (user_a_conversation_id = ? OR user_b_conversation_id = ?)
		 LIMIT 1`, relationshipID, sourceConversationID, sourceConversationID)

	var (
		link      model.ConversationLink
		createdAt string
	)
	err := row.Scan(&link.RelationshipID, &link.UserAID, &link.UserBID,
		&link.UserAConversationID, &link.UserBConversationID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation link: %w", err)
	}
	link.CreatedAt = decodeTime(createdAt)
	return &link, nil
}

func (s *SQLite) CreateLink(ctx context.Context, link *model.ConversationLink) error {
	createdAt := link.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_links
		 (relationship_id, user_a_id, user_b_id, user_a_conversation_id, user_b_conversation_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		link.RelationshipID, link.UserAID, link.UserBID,
		link.UserAConversationID, link.UserBConversationID, encodeTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to create conversation link: %w", err)
	}
	return nil
}

func (s *SQLite) SetLinkDestination(ctx context.Context, relationshipID, sourceConversationID, destConversationID string) error {
	// Two statements, one per side; at most one matches. Last writer
	// wins when concurrent accepters race, and callers re-read the
	// link afterward to learn the survivor.
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversation_links SET user_b_conversation_id = ?
		 WHERE relationship_id = ? AND user_a_conversation_id = ?`,
		destConversationID, relationshipID, sourceConversationID)
	if err != nil {
		return fmt.Errorf("failed to set link destination: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	res, err = s.db.ExecContext(ctx,
		`UPDATE conversation_links SET user_a_conversation_id = ?
		 WHERE relationship_id = ? AND user_b_conversation_id = ?`,
		destConversationID, relationshipID, sourceConversationID)
	if err != nil {
		return fmt.Errorf("failed to set link destination: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) CreatePartnerRequest(ctx context.Context, req *model.PartnerRequest) (*model.PartnerRequest, error) {
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO partner_requests
		 (id, relationship_id, sender_user_id, recipient_user_id, sender_conversation_id, content, status,
		  recipient_conversation_id, created_message_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.RelationshipID, stored.SenderUserID, stored.RecipientUserID,
		stored.SenderConversationID, stored.Content, string(stored.Status),
		stored.RecipientConversationID, stored.CreatedMessageID, encodeTime(stored.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create partner request: %w", err)
	}
	return &stored, nil
}

const requestColumns = `id, relationship_id, sender_user_id, recipient_user_id, sender_conversation_id,
	content, status, recipient_conversation_id, created_message_id, created_at, accepted_at`

func scanRequest(row rowScanner) (*model.PartnerRequest, error) {
	var (
		req        model.PartnerRequest
		status     string
		createdAt  string
		acceptedAt sql.NullString
	)
	err := row.Scan(&req.ID, &req.RelationshipID, &req.SenderUserID, &req.RecipientUserID,
		&req.SenderConversationID, &req.Content, &status,
		&req.RecipientConversationID, &req.CreatedMessageID, &createdAt, &acceptedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan partner request: %w", err)
	}
	req.Status = model.RequestStatus(status)
	req.CreatedAt = decodeTime(createdAt)
	if acceptedAt.Valid {
		t := decodeTime(acceptedAt.String)
		req.AcceptedAt = &t
	}
	return &req, nil
}

func (s *SQLite) GetPartnerRequest(ctx context.Context, id string) (*model.PartnerRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM partner_requests WHERE id = ?`, id)
	return scanRequest(row)
}

func (s *SQLite) ListPendingRequests(ctx context.Context, recipientUserID string, limit int) ([]model.PartnerRequest, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM partner_requests
		 WHERE recipient_user_id = ? AND status IN ('pending', 'delivered')
		 ORDER BY created_at ASC LIMIT ?`, recipientUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}
	defer rows.Close()

	var out []model.PartnerRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func (s *SQLite) LatestPendingForContext(ctx context.Context, relationshipID, senderUserID, recipientUserID, senderConversationID string) (*model.PartnerRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM partner_requests
		 WHERE relationship_id = ? AND sender_user_id = ? AND recipient_user_id = ?
		   AND sender_conversation_id = ? AND status = 'pending'
		 ORDER BY created_at DESC LIMIT 1`,
		relationshipID, senderUserID, recipientUserID, senderConversationID)
	return scanRequest(row)
}

func (s *SQLite) MarkDelivered(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE partner_requests SET status = 'delivered' WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("failed to mark delivered: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateRequestContent(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE partner_requests SET content = ?, created_at = ? WHERE id = ?`,
		content, encodeTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update request content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) ClaimAccepted(ctx context.Context, id, recipientConversationID string, acceptedAt time.Time) (bool, error) {
	// The status guard makes this a compare-and-set: of N concurrent
	// accepters exactly one sees RowsAffected == 1.
	res, err := s.db.ExecContext(ctx,
		`UPDATE partner_requests
		 SET status = 'accepted', recipient_conversation_id = ?, accepted_at = ?
		 WHERE id = ? AND status IN ('pending', 'delivered')`,
		recipientConversationID, encodeTime(acceptedAt), id)
	if err != nil {
		return false, fmt.Errorf("failed to claim request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SQLite) AttachCreatedMessage(ctx context.Context, id, recipientConversationID, messageID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE partner_requests SET recipient_conversation_id = ?, created_message_id = ? WHERE id = ?`,
		recipientConversationID, messageID, id)
	if err != nil {
		return fmt.Errorf("failed to attach created message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) UpsertDeviceToken(ctx context.Context, token *model.DeviceToken) error {
	createdAt := token.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_tokens (token, user_id, platform, bundle_id, enabled, created_at)
		 VALUES (?, ?, ?, ?, 1, ?)
		 ON CONFLICT(token) DO UPDATE SET user_id = excluded.user_id, platform = excluded.platform,
		   bundle_id = excluded.bundle_id, enabled = 1`,
		token.Token, token.UserID, token.Platform, token.BundleID, encodeTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to upsert device token: %w", err)
	}
	return nil
}

func (s *SQLite) ListDeviceTokens(ctx context.Context, userID string) ([]model.DeviceToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token, user_id, platform, bundle_id, enabled, created_at
		 FROM device_tokens WHERE user_id = ? AND enabled = 1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	defer rows.Close()

	var out []model.DeviceToken
	for rows.Next() {
		var (
			tok       model.DeviceToken
			enabled   int
			createdAt string
		)
		if err := rows.Scan(&tok.Token, &tok.UserID, &tok.Platform, &tok.BundleID, &enabled, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tok.Enabled = enabled != 0
		tok.CreatedAt = decodeTime(createdAt)
		out = append(out, tok)
	}
	return out, rows.Err()
}

func (s *SQLite) DisableDeviceToken(ctx context.Context, tokenValue string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE device_tokens SET enabled = 0 WHERE token = ?`, tokenValue)
	if err != nil {
		return fmt.Errorf("failed to disable device token: %w", err)
	}
	return nil
}

func (s *SQLite) ListUsersWithTokens(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM device_tokens WHERE enabled = 1 ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with tokens: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		out = append(out, userID)
	}
	return out, rows.Err()
}

func (s *SQLite) GetCheckinPreference(ctx context.Context, userID string) (*model.CheckinPreference, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, enabled, hour, minute, timezone, last_sent_date
		 FROM checkin_preferences WHERE user_id = ?`, userID)

	var (
		pref         model.CheckinPreference
		enabled      int
		hour, minute sql.NullInt64
	)
	err := row.Scan(&pref.UserID, &enabled, &hour, &minute, &pref.Timezone, &pref.LastSentDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load check-in preference: %w", err)
	}
	pref.Enabled = enabled != 0
	if hour.Valid {
		h := int(hour.Int64)
		pref.Hour = &h
	}
	if minute.Valid {
		m := int(minute.Int64)
		pref.Minute = &m
	}
	return &pref, nil
}

func (s *SQLite) SetCheckinPreference(ctx context.Context, pref *model.CheckinPreference) error {
	enabled := 0
	if pref.Enabled {
		enabled = 1
	}
	var hour, minute any
	if pref.Hour != nil {
		hour = *pref.Hour
	}
	if pref.Minute != nil {
		minute = *pref.Minute
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkin_preferences (user_id, enabled, hour, minute, timezone)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET enabled = excluded.enabled, hour = excluded.hour,
		   minute = excluded.minute, timezone = excluded.timezone`,
		pref.UserID, enabled, hour, minute, pref.Timezone)
	if err != nil {
		return fmt.Errorf("failed to set check-in preference: %w", err)
	}
	return nil
}

func (s *SQLite) MarkCheckinSent(ctx context.Context, userID, date string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE checkin_preferences SET last_sent_date = ? WHERE user_id = ?`, date, userID)
	if err != nil {
		return fmt.Errorf("failed to mark check-in sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) DisplayName(ctx context.Context, userID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT display_name FROM profiles WHERE user_id = ?`, userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load display name: %w", err)
	}
	return name, nil
}

func (s *SQLite) SetDisplayName(ctx context.Context, userID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, display_name) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET display_name = excluded.display_name`,
		userID, name)
	if err != nil {
		return fmt.Errorf("failed to set display name: %w", err)
	}
	return nil
}
