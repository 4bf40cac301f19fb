// Package store is the persistence collaborator: users, contact lists,
// and chat messages in SQLite. The relay core only sees it through the
// domain.MessageStore and domain.ContactDirectory interfaces.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"chat-relay-server/domain"
)

var (
	ErrNotFound  = errors.New("message not found")
	ErrForbidden = errors.New("sender does not own message")
)

// Fixed-width RFC3339 so the TEXT column sorts chronologically;
// RFC3339Nano trims trailing zeros and would break ORDER BY.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	conn *sql.DB
}

func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	s := &Store{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			email TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			image TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT NOT NULL,
			email TEXT NOT NULL,
			name TEXT NOT NULL,
			image TEXT NOT NULL DEFAULT '',
			found INTEGER NOT NULL DEFAULT 0,
			UNIQUE(owner, email)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			room_key TEXT NOT NULL,
			sender TEXT NOT NULL,
			text TEXT NOT NULL,
			file TEXT,
			created_at TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'sent'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_key, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_owner ON contacts(owner)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// User methods

func (s *Store) UpsertUser(email, name, image string) error {
	_, err := s.conn.Exec(
		`INSERT INTO users (email, name, image) VALUES (?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET name = excluded.name, image = excluded.image`,
		email, name, image,
	)
	return err
}

// Profile returns the displayable user record for email, reporting
// whether such a user exists.
func (s *Store) Profile(email string) (domain.Profile, bool) {
	var p domain.Profile
	err := s.conn.QueryRow(
		"SELECT email, name, image FROM users WHERE email = ?", email,
	).Scan(&p.Email, &p.Name, &p.Image)
	if err == sql.ErrNoRows {
		return domain.Profile{}, false
	}
	if err != nil {
		slog.Error("profile lookup failed", "email", email, "error", err)
		return domain.Profile{}, false
	}
	return p, true
}

// Contact methods

// IsContact reports whether counterpart appears in owner's contact
// list. Unknown owners, empty lists, and lookup failures all read as
// false, routing the message to the unknown-sender notice path.
func (s *Store) IsContact(owner, counterpart string) bool {
	var count int
	err := s.conn.QueryRow(
		"SELECT COUNT(*) FROM contacts WHERE owner = ? AND email = ?",
		owner, counterpart,
	).Scan(&count)
	if err != nil {
		slog.Error("contact lookup failed", "owner", owner, "error", err)
		return false
	}
	return count > 0
}

// AddContact appends counterpart to owner's contact list unless it is
// already there. The entry's display name and image come from
// counterpart's profile; without one the name falls back to the local
// part of the email and the entry is marked found=false. Returns whether
// a new entry was actually appended.
func (s *Store) AddContact(owner, counterpart string) bool {
	var exists int
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM users WHERE email = ?", owner).Scan(&exists); err != nil {
		slog.Error("contact owner lookup failed", "owner", owner, "error", err)
		return false
	}
	if exists == 0 {
		return false
	}

	entry := domain.Contact{Email: counterpart, Name: domain.LocalPart(counterpart)}
	if profile, ok := s.Profile(counterpart); ok {
		entry.Name = profile.Name
		entry.Image = profile.Image
		entry.Found = true
		if entry.Name == "" {
			entry.Name = domain.LocalPart(counterpart)
		}
	}

	res, err := s.conn.Exec(
		"INSERT OR IGNORE INTO contacts (owner, email, name, image, found) VALUES (?, ?, ?, ?, ?)",
		owner, entry.Email, entry.Name, entry.Image, entry.Found,
	)
	if err != nil {
		slog.Error("contact insert failed", "owner", owner, "contact", counterpart, "error", err)
		return false
	}
	added, err := res.RowsAffected()
	if err != nil {
		return false
	}
	if added > 0 {
		slog.Info("contact added", "owner", owner, "contact", counterpart, "found", entry.Found)
	}
	return added > 0
}

func (s *Store) Contacts(owner string) ([]domain.Contact, error) {
	rows, err := s.conn.Query(
		"SELECT email, name, image, found FROM contacts WHERE owner = ? ORDER BY id", owner,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []domain.Contact
	for rows.Next() {
		var c domain.Contact
		if err := rows.Scan(&c.Email, &c.Name, &c.Image, &c.Found); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// Message methods

// SaveMessage persists one chat message and returns the stored record
// with its generated id and server-side creation timestamp.
func (s *Store) SaveMessage(roomKey, from, text string, file *domain.FileAttachment) (domain.Message, error) {
	msg := domain.Message{
		ID:        uuid.New().String(),
		RoomKey:   roomKey,
		From:      from,
		Text:      text,
		File:      file,
		CreatedAt: time.Now().UTC(),
		Status:    domain.StatusSent,
	}

	var fileCol sql.NullString
	if file != nil {
		encoded, err := json.Marshal(file)
		if err != nil {
			return domain.Message{}, err
		}
		fileCol = sql.NullString{String: string(encoded), Valid: true}
	}

	_, err := s.conn.Exec(
		"INSERT INTO messages (id, room_key, sender, text, file, created_at, status) VALUES (?, ?, ?, ?, ?, ?, ?)",
		msg.ID, msg.RoomKey, msg.From, msg.Text, fileCol,
		msg.CreatedAt.Format(timeFormat), msg.Status,
	)
	if err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// RoomHistory returns all messages of a room, ascending by creation time.
func (s *Store) RoomHistory(roomKey string) ([]domain.Message, error) {
	rows, err := s.conn.Query(
		`SELECT id, room_key, sender, text, file, created_at, status
		 FROM messages WHERE room_key = ? ORDER BY created_at ASC`,
		roomKey,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// EditMessage replaces the text of a message. Only the original sender
// may edit; anyone else gets ErrForbidden, a missing id ErrNotFound.
func (s *Store) EditMessage(id, sender, text string) (domain.Message, error) {
	msg, err := s.getMessage(id)
	if err != nil {
		return domain.Message{}, err
	}
	if msg.From != sender {
		return domain.Message{}, ErrForbidden
	}

	if _, err := s.conn.Exec("UPDATE messages SET text = ? WHERE id = ?", text, id); err != nil {
		return domain.Message{}, err
	}
	msg.Text = text
	return msg, nil
}

// DeleteMessage removes a message under the same authorization rule as
// EditMessage.
func (s *Store) DeleteMessage(id, sender string) error {
	msg, err := s.getMessage(id)
	if err != nil {
		return err
	}
	if msg.From != sender {
		return ErrForbidden
	}

	_, err = s.conn.Exec("DELETE FROM messages WHERE id = ?", id)
	return err
}

func (s *Store) getMessage(id string) (domain.Message, error) {
	row := s.conn.QueryRow(
		"SELECT id, room_key, sender, text, file, created_at, status FROM messages WHERE id = ?", id,
	)
	msg, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Message{}, ErrNotFound
	}
	if err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

func scanMessage(scan func(dest ...any) error) (domain.Message, error) {
	var (
		msg        domain.Message
		fileCol    sql.NullString
		createdCol string
	)
	if err := scan(&msg.ID, &msg.RoomKey, &msg.From, &msg.Text, &fileCol, &createdCol, &msg.Status); err != nil {
		return domain.Message{}, err
	}

	createdAt, err := time.Parse(time.RFC3339Nano, createdCol)
	if err != nil {
		return domain.Message{}, err
	}
	msg.CreatedAt = createdAt

	if fileCol.Valid {
		var file domain.FileAttachment
		if err := json.Unmarshal([]byte(fileCol.String), &file); err == nil && file.URL != "" {
			msg.File = &file
		}
	}
	return msg, nil
}

// PurgeLegacyFileRows deletes messages whose file column holds a legacy
// unparsed string blob instead of a JSON object. Returns the number of
// rows removed.
func (s *Store) PurgeLegacyFileRows() (int64, error) {
	res, err := s.conn.Exec("DELETE FROM messages WHERE file IS NOT NULL AND file NOT LIKE '{%'")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
