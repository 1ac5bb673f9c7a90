package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wirechat-sync/internal/core"
)

// Schema is applied by New. Tests pass it to NewWithSetup.
const Schema = `
CREATE TABLE IF NOT EXISTS channels (
	id              INTEGER PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	kind            TEXT NOT NULL DEFAULT '',
	last_message_id INTEGER NOT NULL DEFAULT 0,
	last_read_id    INTEGER NOT NULL DEFAULT 0,
	moderated       BOOLEAN NOT NULL DEFAULT 0,
	members         TEXT NOT NULL DEFAULT '',
	updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id             INTEGER PRIMARY KEY,
	channel_id     INTEGER NOT NULL,
	sender_id      INTEGER NOT NULL,
	content        TEXT NOT NULL,
	is_action      BOOLEAN NOT NULL DEFAULT 0,
	correlation_id TEXT NOT NULL DEFAULT '',
	sent_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages (channel_id, id);

CREATE TABLE IF NOT EXISTS users (
	id         INTEGER PRIMARY KEY,
	username   TEXT NOT NULL,
	avatar_url TEXT NOT NULL DEFAULT '',
	supporter  BOOLEAN NOT NULL DEFAULT 0,
	bot        BOOLEAN NOT NULL DEFAULT 0
);
`

// SQLiteArchive implements store.Archive for SQLite.
type SQLiteArchive struct {
	db *sql.DB
}

// New opens the archive at dbPath and applies the schema.
func New(dbPath string) (*SQLiteArchive, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup opens the archive and runs setup before the first use.
// Useful for tests to apply schema against ":memory:".
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; ":memory:" also needs it
	// so every query sees the same database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteArchive{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteArchive) Close() error {
	return s.db.Close()
}

// ==== Channels ====

// SaveChannel upserts a channel summary.
func (s *SQLiteArchive) SaveChannel(ctx context.Context, ch core.Channel) error {
	query := `
		INSERT INTO channels (id, name, description, kind, last_message_id, last_read_id, moderated, members, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			kind = excluded.kind,
			last_message_id = MAX(channels.last_message_id, excluded.last_message_id),
			last_read_id = MAX(channels.last_read_id, excluded.last_read_id),
			moderated = excluded.moderated,
			members = excluded.members,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := s.db.ExecContext(ctx, query,
		ch.ID, ch.Name, ch.Description, string(ch.Kind),
		ch.LastMessageID, ch.LastReadID, ch.Moderated, joinIDs(ch.Members),
	)
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	return nil
}

// LoadChannels lists archived channels by id.
func (s *SQLiteArchive) LoadChannels(ctx context.Context) ([]core.Channel, error) {
	query := `
		SELECT id, name, description, kind, last_message_id, last_read_id, moderated, members
		FROM channels
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var channels []core.Channel
	for rows.Next() {
		var ch core.Channel
		var kind, members string
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Description, &kind, &ch.LastMessageID, &ch.LastReadID, &ch.Moderated, &members); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		ch.Kind = core.ChannelKind(kind)
		ch.Members, err = splitIDs(members)
		if err != nil {
			return nil, fmt.Errorf("decode members of channel %d: %w", ch.ID, err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return channels, nil
}

// ==== Messages ====

// SaveMessages upserts confirmed messages in one transaction. Pending
// messages have no stable id and are skipped.
func (s *SQLiteArchive) SaveMessages(ctx context.Context, msgs []core.Message) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, channel_id, sender_id, content, is_action, correlation_id, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare insert message: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if m.Pending() {
			continue
		}
		if _, err = stmt.ExecContext(ctx, m.ID, m.ChannelID, m.SenderID, m.Content, m.IsAction, m.CorrelationID, m.Timestamp.UTC()); err != nil {
			return fmt.Errorf("insert message %d: %w", m.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit messages: %w", err)
	}
	return nil
}

// LoadMessages returns up to limit of the newest messages of a channel,
// ascending by id. A non-positive limit returns all of them.
func (s *SQLiteArchive) LoadMessages(ctx context.Context, channelID int64, limit int) ([]core.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, channel_id, sender_id, content, is_action, correlation_id, sent_at
		FROM (
			SELECT * FROM messages
			WHERE channel_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []core.Message
	for rows.Next() {
		var m core.Message
		var sentAt time.Time
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.SenderID, &m.Content, &m.IsAction, &m.CorrelationID, &sentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = sentAt.UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// ==== Users ====

// SaveUsers upserts cached users. Presence is not archived.
func (s *SQLiteArchive) SaveUsers(ctx context.Context, users []core.User) error {
	query := `
		INSERT INTO users (id, username, avatar_url, supporter, bot)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			avatar_url = excluded.avatar_url,
			supporter = excluded.supporter,
			bot = excluded.bot
	`
	for _, u := range users {
		if _, err := s.db.ExecContext(ctx, query, u.ID, u.Username, u.AvatarURL, u.Supporter, u.Bot); err != nil {
			return fmt.Errorf("upsert user %d: %w", u.ID, err)
		}
	}
	return nil
}

// LoadUsers lists archived users by id.
func (s *SQLiteArchive) LoadUsers(ctx context.Context) ([]core.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, avatar_url, supporter, bot FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		var u core.User
		if err := rows.Scan(&u.ID, &u.Username, &u.AvatarURL, &u.Supporter, &u.Bot); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}

func splitIDs(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
