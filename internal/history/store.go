package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/markis/turing-chat/internal/client"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("history: conversation not found")

const (
	// DefaultTitle names a conversation until its first user message arrives.
	DefaultTitle = "New conversation"

	titleRunes = 20
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL CHECK(role IN ('user', 'assistant')),
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
`

// Message is one stored turn of a conversation.
type Message struct {
	ID             string
	ConversationID string
	Role           client.Role
	Content        string
	Timestamp      time.Time
}

// Conversation is a titled, ordered list of messages.
type Conversation struct {
	ID        string
	Title     string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClientMessages returns the conversation in the form sent to a backend.
func (c *Conversation) ClientMessages() []client.Message {
	out := make([]client.Message, len(c.Messages))
	for i, m := range c.Messages {
		out[i] = client.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// Store persists conversations in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
	loc *time.Location
}

// Open creates the database file and its directory when missing and applies
// the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.Wrap(err, "failed to create history directory")
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open history database")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to connect to history database")
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		log.Warn().Err(err).Msg("failed to enable WAL mode, continuing without it")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to create history tables")
	}

	return New(db), nil
}

// New wraps an already initialised database.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now, loc: time.Local}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create starts an empty conversation.
func (s *Store) Create(ctx context.Context) (*Conversation, error) {
	now := s.now()
	conv := &Conversation{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)",
		conv.ID, conv.Title, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert conversation")
	}
	return conv, nil
}

// Get loads a conversation with its messages in insertion order.
func (s *Store) Get(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?", id)
	conv, err := s.scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to load conversation")
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY seq", id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load messages")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msg  Message
			role string
			ts   int64
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &ts); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		msg.ConversationID = id
		msg.Role = client.Role(role)
		msg.Timestamp = time.Unix(0, ts)
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read messages")
	}
	return conv, nil
}

// Latest returns the most recently updated conversation, or ErrNotFound when
// the store is empty.
func (s *Store) Latest(ctx context.Context) (*Conversation, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM conversations ORDER BY updated_at DESC, rowid DESC LIMIT 1").Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to find latest conversation")
	}
	return s.Get(ctx, id)
}

// List returns all conversations without their messages, newest first.
func (s *Store) List(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC, rowid DESC")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	convs := []*Conversation{}
	for rows.Next() {
		conv, err := s.scanConversation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation")
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read conversations")
	}
	return convs, nil
}

// AddMessage appends a message and bumps the conversation's update time. The
// first user message of a conversation also becomes its title.
func (s *Store) AddMessage(ctx context.Context, conversationID string, role client.Role, content string) (*Message, error) {
	var msg *Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		msg, err = s.addMessage(ctx, tx, conversationID, role, content)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Start creates a conversation holding prompt as its first user message.
// Either both are stored or neither is.
func (s *Store) Start(ctx context.Context, prompt string) (*Conversation, error) {
	now := s.now()
	conv := &Conversation{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)",
			conv.ID, conv.Title, now.UnixNano(), now.UnixNano())
		if err != nil {
			return errors.Wrap(err, "could not insert conversation")
		}
		msg, err := s.addMessage(ctx, tx, conv.ID, client.RoleUser, prompt)
		if err != nil {
			return err
		}
		conv.Messages = []Message{*msg}
		conv.Title = TitleFrom(prompt)
		conv.UpdatedAt = msg.Timestamp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "could not begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit transaction")
	}
	return nil
}

func (s *Store) addMessage(ctx context.Context, tx *sql.Tx, conversationID string, role client.Role, content string) (*Message, error) {
	var title string
	var userMessages int
	err := tx.QueryRowContext(ctx,
		"SELECT title, (SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND role = 'user') FROM conversations WHERE id = ?",
		conversationID, conversationID).Scan(&title, &userMessages)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "could not load conversation")
	}

	now := s.now()
	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      now,
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
		msg.ID, conversationID, string(role), content, now.UnixNano())
	if err != nil {
		return nil, errors.Wrap(err, "could not insert message")
	}

	if role == client.RoleUser && userMessages == 0 {
		title = TitleFrom(content)
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?",
		title, now.UnixNano(), conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "could not update conversation")
	}
	return msg, nil
}

// Rename sets a conversation's title.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title must not be empty")
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?",
		title, s.now().UnixNano(), id)
	if err != nil {
		return errors.Wrap(err, "failed to rename conversation")
	}
	return requireAffected(res)
}

// Delete removes a conversation and its messages.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(err, "failed to delete conversation")
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanConversation(row scanner) (*Conversation, error) {
	var (
		conv             Conversation
		created, updated int64
	)
	if err := row.Scan(&conv.ID, &conv.Title, &created, &updated); err != nil {
		return nil, err
	}
	conv.CreatedAt = time.Unix(0, created)
	conv.UpdatedAt = time.Unix(0, updated)
	conv.Messages = []Message{}
	return &conv, nil
}

// TitleFrom derives a conversation title from its first user message: the
// first 20 characters, with "..." appended when the text is longer.
func TitleFrom(content string) string {
	text := strings.Join(strings.Fields(content), " ")
	if text == "" {
		return DefaultTitle
	}
	runes := []rune(text)
	if len(runes) > titleRunes {
		return string(runes[:titleRunes]) + "..."
	}
	return text
}
