package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/saravenpi/unimatch/internal/models"
)

const defaultPollInterval = 500 * time.Millisecond

var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_a TEXT NOT NULL,
		user_b TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		online INTEGER NOT NULL DEFAULT 0,
		typing INTEGER NOT NULL DEFAULT 0,
		last_seen INTEGER,
		blocked TEXT NOT NULL DEFAULT '[]',
		rev INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		voice_url TEXT NOT NULL DEFAULT '',
		created_at INTEGER,
		read INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		deleted_at INTEGER,
		reply_id TEXT,
		reply_text TEXT,
		reply_sender TEXT,
		reactions TEXT NOT NULL DEFAULT '{}',
		rev INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS messages_conversation ON messages(conversation_id, created_at)`,
}

// SQLite is a single-file document store. Subscriptions poll a per-row revision counter and
// are woken immediately by writes made through the same SQLite value.
type SQLite struct {
	db           *sql.DB
	pollInterval time.Duration
	now          func() time.Time

	mu      sync.Mutex
	waiters map[chan struct{}]struct{}
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return &SQLite{
		db:           db,
		pollInterval: defaultPollInterval,
		now:          time.Now,
		waiters:      make(map[chan struct{}]struct{}),
	}, nil
}

// DB exposes the handle so the local blob table can share the file.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

func (s *SQLite) subscribe() (chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.waiters[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.waiters, ch)
		s.mu.Unlock()
	}
}

func (s *SQLite) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func nanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}

func (s *SQLite) CreateConversation(ctx context.Context, a, b string) (models.Conversation, error) {
	if a == "" || b == "" || a == b {
		return models.Conversation{}, fmt.Errorf("conversation needs two distinct participants")
	}
	id := models.ConversationID(a, b)
	first, second := a, b
	if first > second {
		first, second = second, first
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_a, user_b, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, first, second, nanos(s.now()))
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	return s.GetConversation(ctx, id)
}

func (s *SQLite) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	var c models.Conversation
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_a, user_b, created_at FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Participants[0], &c.Participants[1], &created)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to query conversation: %w", err)
	}
	c.CreatedAt = time.Unix(0, created)
	return c, nil
}

func (s *SQLite) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_a, user_b, created_at
		FROM conversations
		WHERE user_a = ? OR user_b = ?
		ORDER BY created_at DESC`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		var c models.Conversation
		var created int64
		if err := rows.Scan(&c.ID, &c.Participants[0], &c.Participants[1], &created); err != nil {
			continue
		}
		c.CreatedAt = time.Unix(0, created)
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// DeleteConversation removes the conversation and its messages.
func (s *SQLite) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.notify()
	return nil
}

// UpsertProfile creates the user row or renames it.
func (s *SQLite) UpsertProfile(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, rev = users.rev + 1`, id, name)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	s.notify()
	return nil
}

func (s *SQLite) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	p, _, err := s.profile(ctx, userID)
	return p, err
}

func (s *SQLite) profile(ctx context.Context, userID string) (models.Profile, int64, error) {
	var p models.Profile
	var lastSeen sql.NullInt64
	var blocked string
	var rev int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, online, typing, last_seen, blocked, rev FROM users WHERE id = ?`, userID).
		Scan(&p.ID, &p.Name, &p.Online, &p.Typing, &lastSeen, &blocked, &rev)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, 0, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return models.Profile{}, 0, fmt.Errorf("failed to query user: %w", err)
	}
	p.LastSeen = fromNanos(lastSeen)
	if err := json.Unmarshal([]byte(blocked), &p.Blocked); err != nil {
		return models.Profile{}, 0, fmt.Errorf("failed to decode block list: %w", err)
	}
	return p, rev, nil
}

// WatchProfile calls fn with the user's profile now and after every change until ctx ends.
func (s *SQLite) WatchProfile(ctx context.Context, userID string, fn func(models.Profile)) error {
	wake, unsubscribe := s.subscribe()
	defer unsubscribe()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	lastRev := int64(-1)
	for {
		p, rev, err := s.profile(ctx, userID)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		case rev != lastRev:
			lastRev = rev
			fn(p)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-wake:
		}
	}
}

func (s *SQLite) UpdatePresence(ctx context.Context, userID string, u models.PresenceUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO users (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, userID); err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	if u.Online != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET online = ? WHERE id = ?`, *u.Online, userID); err != nil {
			return fmt.Errorf("failed to update online: %w", err)
		}
	}
	if u.Typing != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET typing = ? WHERE id = ?`, *u.Typing, userID); err != nil {
			return fmt.Errorf("failed to update typing: %w", err)
		}
	}
	if u.TouchLastSeen {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET last_seen = ? WHERE id = ?`, nanos(s.now()), userID); err != nil {
			return fmt.Errorf("failed to update last seen: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET rev = rev + 1 WHERE id = ?`, userID); err != nil {
		return fmt.Errorf("failed to bump revision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.notify()
	return nil
}

func (s *SQLite) AppendBlocked(ctx context.Context, userID, blockedID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO users (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, userID); err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	var raw string
	if err := tx.QueryRowContext(ctx, `SELECT blocked FROM users WHERE id = ?`, userID).Scan(&raw); err != nil {
		return fmt.Errorf("failed to read block list: %w", err)
	}
	var blocked []string
	if err := json.Unmarshal([]byte(raw), &blocked); err != nil {
		return fmt.Errorf("failed to decode block list: %w", err)
	}
	for _, id := range blocked {
		if id == blockedID {
			return tx.Commit()
		}
	}
	encoded, err := json.Marshal(append(blocked, blockedID))
	if err != nil {
		return fmt.Errorf("failed to encode block list: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET blocked = ?, rev = rev + 1 WHERE id = ?`, string(encoded), userID); err != nil {
		return fmt.Errorf("failed to update block list: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.notify()
	return nil
}

func (s *SQLite) AddMessage(ctx context.Context, conversationID string, m models.NewMessage) (string, error) {
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	text, imageURL, voiceURL := models.EncodePayload(m.Payload)

	var replyID, replyText, replySender sql.NullString
	if m.ReplyTo != nil {
		replyID = sql.NullString{String: m.ReplyTo.ID, Valid: true}
		replyText = sql.NullString{String: m.ReplyTo.Text, Valid: true}
		replySender = sql.NullString{String: m.ReplyTo.SenderID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, text, image_url, voice_url, created_at,
			reply_id, reply_text, reply_sender, rev)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(rev), 0) + 1 FROM messages))`,
		id, conversationID, m.SenderID, text, imageURL, voiceURL, nanos(s.now()),
		replyID, replyText, replySender)
	if err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}
	s.notify()
	return id, nil
}

func (s *SQLite) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, text, image_url, voice_url, created_at, read, deleted, deleted_at,
			reply_id, reply_text, reply_sender, reactions
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at IS NULL, created_at, seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var text, imageURL, voiceURL, reactions string
		var created, deletedAt sql.NullInt64
		var replyID, replyText, replySender sql.NullString
		err := rows.Scan(&msg.ID, &msg.SenderID, &text, &imageURL, &voiceURL, &created, &msg.Read,
			&msg.Deleted, &deletedAt, &replyID, &replyText, &replySender, &reactions)
		if err != nil {
			continue
		}

		msg.Payload = models.DecodePayload(text, imageURL, voiceURL)
		msg.CreatedAt = fromNanos(created)
		msg.DeletedAt = fromNanos(deletedAt)
		if replyID.Valid {
			msg.ReplyTo = &models.ReplyRef{ID: replyID.String, Text: replyText.String, SenderID: replySender.String}
		}
		if err := json.Unmarshal([]byte(reactions), &msg.Reactions); err != nil {
			msg.Reactions = nil
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

type messagesFingerprint struct {
	count int64
	rev   int64
}

// WatchMessages delivers the full ordered message set on start and after every change.
func (s *SQLite) WatchMessages(ctx context.Context, conversationID string, fn func([]models.Message)) error {
	wake, unsubscribe := s.subscribe()
	defer unsubscribe()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	last := messagesFingerprint{count: -1}
	for {
		var fp messagesFingerprint
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*), COALESCE(MAX(rev), 0) FROM messages WHERE conversation_id = ?`, conversationID).
			Scan(&fp.count, &fp.rev)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to poll messages: %w", err)
		}

		if fp != last {
			messages, err := s.ListMessages(ctx, conversationID)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return err
			}
			last = fp
			fn(messages)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-wake:
		}
	}
}

func (s *SQLite) touchMessage(ctx context.Context, tx *sql.Tx, conversationID, messageID, set string, args ...any) error {
	query := `UPDATE messages SET ` + set + `, rev = (SELECT COALESCE(MAX(rev), 0) + 1 FROM messages)
		WHERE conversation_id = ? AND id = ?`
	args = append(args, conversationID, messageID)

	var res sql.Result
	var err error
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, args...)
	} else {
		res, err = s.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return nil
}

// MarkRead sets read=1. Already-read messages are left untouched so watchers see no change.
func (s *SQLite) MarkRead(ctx context.Context, conversationID, messageID string) error {
	var read bool
	err := s.db.QueryRowContext(ctx,
		`SELECT read FROM messages WHERE conversation_id = ? AND id = ?`, conversationID, messageID).Scan(&read)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to query message: %w", err)
	}
	if read {
		return nil
	}
	if err := s.touchMessage(ctx, nil, conversationID, messageID, `read = 1`); err != nil {
		return err
	}
	s.notify()
	return nil
}

// SoftDelete marks the message deleted. Only its sender may do so.
func (s *SQLite) SoftDelete(ctx context.Context, conversationID, messageID, actorID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var sender string
	var deleted bool
	err = tx.QueryRowContext(ctx,
		`SELECT sender_id, deleted FROM messages WHERE conversation_id = ? AND id = ?`,
		conversationID, messageID).Scan(&sender, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to query message: %w", err)
	}
	if sender != actorID {
		return fmt.Errorf("delete message %s: %w", messageID, ErrPermissionDenied)
	}
	// Already deleted: keep the original deleted_at.
	if deleted {
		return nil
	}

	if err := s.touchMessage(ctx, tx, conversationID, messageID, `deleted = 1, deleted_at = ?`, nanos(s.now())); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.notify()
	return nil
}

// UpdateReactions applies fn to the message's reaction map inside one transaction.
func (s *SQLite) UpdateReactions(ctx context.Context, conversationID, messageID string, fn func(map[string]string) map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT reactions FROM messages WHERE conversation_id = ? AND id = ?`, conversationID, messageID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to query reactions: %w", err)
	}

	current := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &current); err != nil {
		return fmt.Errorf("failed to decode reactions: %w", err)
	}
	encoded, err := json.Marshal(fn(current))
	if err != nil {
		return fmt.Errorf("failed to encode reactions: %w", err)
	}

	if err := s.touchMessage(ctx, tx, conversationID, messageID, `reactions = ?`, string(encoded)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.notify()
	return nil
}
