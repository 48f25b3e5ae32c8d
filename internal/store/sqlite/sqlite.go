package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/mchat/internal/core"
	"github.com/vovakirdan/mchat/internal/store"
)

const (
	serverIdentityKey    = "server_identity"
	serverIdentityPrefix = "mchat-"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store.
// dbPath is the path to the SQLite database file, or ":memory:".
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, nil)
}

// NewWithSetup creates a new SQLite store, applies the schema and then runs setup.
// Useful for tests to seed data.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", buildDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; this also keeps ":memory:"
	// databases alive across queries.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}
	return s, nil
}

func buildDSN(path string) string {
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return path + separator + "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1"
}

// Migrate creates the schema if it does not exist yet.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chats (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			name            TEXT NOT NULL UNIQUE,
			creator         TEXT NOT NULL,
			description     TEXT NOT NULL,
			last_message_id INTEGER NOT NULL DEFAULT 0,
			created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			chat_id INTEGER NOT NULL,
			id      INTEGER NOT NULL,
			type    INTEGER NOT NULL,
			ts      INTEGER NOT NULL,
			body    TEXT NOT NULL,
			sender  TEXT NOT NULL,
			payload BLOB,
			PRIMARY KEY (chat_id, id),
			FOREIGN KEY (chat_id) REFERENCES chats(id)
		);`,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ServerIdentity returns the persisted server name, generating it on first use.
func (s *SQLiteStore) ServerIdentity(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, serverIdentityKey).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("query server identity: %w", err)
	}

	id = serverIdentityPrefix + uuid.NewString()[:8]
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`,
		serverIdentityKey, id,
	); err != nil {
		return "", fmt.Errorf("insert server identity: %w", err)
	}

	// Another caller may have won the insert.
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, serverIdentityKey).Scan(&id); err != nil {
		return "", fmt.Errorf("query server identity: %w", err)
	}
	return id, nil
}

// ==== ChatStore implementation ====

// GetChats lists every chat ordered by id.
func (s *SQLiteStore) GetChats(ctx context.Context) ([]core.Chat, error) {
	query := `
		SELECT id, name, creator, description
		FROM chats
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var chats []core.Chat
	for rows.Next() {
		var c core.Chat
		if err := rows.Scan(&c.ID, &c.Name, &c.Creator, &c.Description); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return chats, nil
}

// NewChat inserts a chat. A duplicate name yields store.ErrChatExists.
func (s *SQLiteStore) NewChat(ctx context.Context, c core.Chat) (core.Chat, error) {
	query := `
		INSERT INTO chats (name, creator, description)
		VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, c.Name, c.Creator, c.Description)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Chat{}, fmt.Errorf("insert chat %q: %w", c.Name, store.ErrChatExists)
		}
		return core.Chat{}, fmt.Errorf("insert chat: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return core.Chat{}, fmt.Errorf("get last insert id: %w", err)
	}
	c.ID = uint64(id)
	return c, nil
}

// ==== MessageStore implementation ====

// NewMessage assigns the next id of the room and stores the message.
func (s *SQLiteStore) NewMessage(ctx context.Context, roomID uint64, msg core.Message) (core.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE chats SET last_message_id = last_message_id + 1 WHERE id = ?`, roomID)
	if err != nil {
		return core.Message{}, fmt.Errorf("advance message id: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return core.Message{}, fmt.Errorf("advance message id: %w", err)
	} else if n == 0 {
		return core.Message{}, fmt.Errorf("chat %d: %w", roomID, store.ErrNotFound)
	}

	var id uint64
	if err := tx.QueryRowContext(ctx, `SELECT last_message_id FROM chats WHERE id = ?`, roomID).Scan(&id); err != nil {
		return core.Message{}, fmt.Errorf("read message id: %w", err)
	}

	msg.ID = id
	msg.RoomID = roomID
	msg.Timestamp = int32(s.now().Unix())

	insert := `
		INSERT INTO messages (chat_id, id, type, ts, body, sender, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, insert,
		roomID, msg.ID, uint8(msg.Type), msg.Timestamp, msg.Body, msg.Sender, msg.Payload,
	); err != nil {
		return core.Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Message{}, fmt.Errorf("commit message: %w", err)
	}
	return msg, nil
}

// MessagesSince returns the catch-up batch for a room.
func (s *SQLiteStore) MessagesSince(ctx context.Context, roomID, minID uint64) ([]core.Message, error) {
	query := `
		SELECT id, type, ts, body, sender, CASE WHEN type = ? THEN payload END
		FROM messages
		WHERE chat_id = ? AND id > ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, uint8(core.MessageImage), roomID, minID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []core.Message
	for rows.Next() {
		m := core.Message{RoomID: roomID}
		var typ uint8
		if err := rows.Scan(&m.ID, &typ, &m.Timestamp, &m.Body, &m.Sender, &m.Payload); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Type = core.MessageType(typ)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// GetFile returns the payload of an image or file message scoped to roomID.
func (s *SQLiteStore) GetFile(ctx context.Context, messageID, roomID uint64) (core.Payload, error) {
	query := `
		SELECT payload
		FROM messages
		WHERE chat_id = ? AND id = ? AND type IN (?, ?) AND payload IS NOT NULL
	`
	var p core.Payload
	err := s.db.QueryRowContext(ctx, query, roomID, messageID, uint8(core.MessageImage), uint8(core.MessageFile)).Scan(&p)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Payload{}, fmt.Errorf("file %d in chat %d: %w", messageID, roomID, store.ErrNotFound)
		}
		return core.Payload{}, fmt.Errorf("query file: %w", err)
	}
	return p, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
