// Package cache keeps a client side replica of the chats and messages a
// client has seen, so history can be browsed offline and SUBSCRIBE can ask
// only for what is missing. It uses the cgo free modernc driver so client
// builds stay portable.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlite "modernc.org/sqlite"

	"github.com/vovakirdan/mchat/internal/core"
	"github.com/vovakirdan/mchat/internal/store"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
)

// Store is a store.Cache backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ store.Cache = (*Store)(nil)

// NewStore opens the cache at path and creates its schema. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "mchat-cache.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache: %w", err)
	}

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS servers (
			name    TEXT PRIMARY KEY,
			seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS chats (
			server      TEXT NOT NULL,
			name        TEXT NOT NULL,
			id          INTEGER NOT NULL,
			creator     TEXT NOT NULL,
			description TEXT NOT NULL,
			PRIMARY KEY (server, name),
			FOREIGN KEY (server) REFERENCES servers(name) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			server  TEXT NOT NULL,
			chat    TEXT NOT NULL,
			id      INTEGER NOT NULL,
			type    INTEGER NOT NULL,
			ts      INTEGER NOT NULL,
			body    TEXT NOT NULL,
			sender  TEXT NOT NULL,
			payload BLOB,
			PRIMARY KEY (server, chat, id),
			FOREIGN KEY (server) REFERENCES servers(name) ON DELETE CASCADE
		);`,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate cache: %w", err)
		}
	}
	return tx.Commit()
}

func touchServer(ctx context.Context, tx *sql.Tx, server string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO servers (name) VALUES (?)
		ON CONFLICT(name) DO UPDATE SET seen_at = CURRENT_TIMESTAMP`, server)
	if err != nil {
		return fmt.Errorf("touch server: %w", err)
	}
	return nil
}

// PutChats replaces the cached directory entries for the given chats.
func (s *Store) PutChats(ctx context.Context, server string, chats []core.Chat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := touchServer(ctx, tx, server); err != nil {
		return err
	}
	for _, c := range chats {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chats (server, name, id, creator, description) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(server, name) DO UPDATE SET id = excluded.id, creator = excluded.creator, description = excluded.description`,
			server, c.Name, c.ID, c.Creator, c.Description)
		if err != nil {
			return fmt.Errorf("upsert chat %q: %w", c.Name, err)
		}
	}
	return tx.Commit()
}

// Chats returns the cached directory of a server.
func (s *Store) Chats(ctx context.Context, server string) ([]core.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, creator, description FROM chats WHERE server = ? ORDER BY id ASC`, server)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var chats []core.Chat
	for rows.Next() {
		var c core.Chat
		if err := rows.Scan(&c.ID, &c.Name, &c.Creator, &c.Description); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// PutMessages stores messages; ones already cached are left untouched.
func (s *Store) PutMessages(ctx context.Context, server, room string, msgs ...core.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := touchServer(ctx, tx, server); err != nil {
		return err
	}
	for _, m := range msgs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (server, chat, id, type, ts, body, sender, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(server, chat, id) DO NOTHING`,
			server, room, m.ID, uint8(m.Type), m.Timestamp, m.Body, m.Sender, m.Payload)
		if err != nil && !isConstraintError(err) {
			return fmt.Errorf("insert message %d: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// Messages returns cached messages of a room newer than after.
func (s *Store) Messages(ctx context.Context, server, room string, after uint64) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, ts, body, sender, CASE WHEN type = ? THEN payload END
		FROM messages
		WHERE server = ? AND chat = ? AND id > ?
		ORDER BY id ASC`, uint8(core.MessageImage), server, room, after)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []core.Message
	for rows.Next() {
		var (
			m   core.Message
			typ uint8
		)
		if err := rows.Scan(&m.ID, &typ, &m.Timestamp, &m.Body, &m.Sender, &m.Payload); err != nil {
			return nil, err
		}
		m.Type = core.MessageType(typ)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LatestID returns the highest cached message id of a room, or 0.
func (s *Store) LatestID(ctx context.Context, server, room string) (uint64, error) {
	var id uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM messages WHERE server = ? AND chat = ?`, server, room).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("query latest id: %w", err)
	}
	return id, nil
}

// PutFile attaches a fetched payload to a cached message.
func (s *Store) PutFile(ctx context.Context, server, room string, id uint64, p core.Payload) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET payload = ? WHERE server = ? AND chat = ? AND id = ?`, p, server, room, id)
	if err != nil {
		return fmt.Errorf("update payload: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %d: %w", id, store.ErrNotFound)
	}
	return nil
}

// File returns a cached payload.
func (s *Store) File(ctx context.Context, server, room string, id uint64) (core.Payload, error) {
	var p core.Payload
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM messages WHERE server = ? AND chat = ? AND id = ? AND payload IS NOT NULL`,
		server, room, id).Scan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Payload{}, fmt.Errorf("file %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return core.Payload{}, fmt.Errorf("query file: %w", err)
	}
	return p, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}
