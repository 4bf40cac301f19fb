package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay-server/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveMessageAndRoomHistory(t *testing.T) {
	s := openTestStore(t)
	key := domain.RoomKey("alice@x", "bob@x")

	first, err := s.SaveMessage(key, "alice@x", "hi", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, domain.StatusSent, first.Status)
	assert.Nil(t, first.File)

	second, err := s.SaveMessage(key, "bob@x", "hey", nil)
	require.NoError(t, err)

	_, err = s.SaveMessage(domain.RoomKey("carol@x", "dave@x"), "carol@x", "other room", nil)
	require.NoError(t, err)

	history, err := s.RoomHistory(key)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)
	assert.Equal(t, second.ID, history[1].ID)
	assert.True(t, !history[1].CreatedAt.Before(history[0].CreatedAt))
}

func TestSaveMessageFileRoundTrip(t *testing.T) {
	s := openTestStore(t)
	key := domain.RoomKey("alice@x", "bob@x")
	file := &domain.FileAttachment{URL: "https://cdn/doc.pdf", Name: "doc.pdf", Type: "application/pdf", Size: 1024}

	saved, err := s.SaveMessage(key, "alice@x", "see attached", file)
	require.NoError(t, err)
	require.NotNil(t, saved.File)

	history, err := s.RoomHistory(key)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].File)
	assert.Equal(t, *file, *history[0].File)
}

func TestRoomHistoryEmptyRoom(t *testing.T) {
	s := openTestStore(t)

	history, err := s.RoomHistory("nobody@x+nothing@x")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestEditMessage(t *testing.T) {
	s := openTestStore(t)
	key := domain.RoomKey("alice@x", "bob@x")

	saved, err := s.SaveMessage(key, "alice@x", "tpyo", nil)
	require.NoError(t, err)

	_, err = s.EditMessage("missing-id", "alice@x", "fixed")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.EditMessage(saved.ID, "bob@x", "hijacked")
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := s.EditMessage(saved.ID, "alice@x", "typo")
	require.NoError(t, err)
	assert.Equal(t, "typo", updated.Text)
	assert.Equal(t, saved.ID, updated.ID)

	history, err := s.RoomHistory(key)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "typo", history[0].Text)
}

func TestDeleteMessage(t *testing.T) {
	s := openTestStore(t)
	key := domain.RoomKey("alice@x", "bob@x")

	saved, err := s.SaveMessage(key, "alice@x", "regret", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteMessage("missing-id", "alice@x"), ErrNotFound)
	assert.ErrorIs(t, s.DeleteMessage(saved.ID, "bob@x"), ErrForbidden)

	require.NoError(t, s.DeleteMessage(saved.ID, "alice@x"))
	history, err := s.RoomHistory(key)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestIsContactFailsOpen(t *testing.T) {
	s := openTestStore(t)

	assert.False(t, s.IsContact("nobody@x", "anyone@x"))

	require.NoError(t, s.UpsertUser("alice@x", "Alice", ""))
	assert.False(t, s.IsContact("alice@x", "bob@x"))
}

func TestAddContactIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertUser("alice@x", "Alice", ""))
	require.NoError(t, s.UpsertUser("bob@x", "Bob", "https://cdn/bob.png"))

	assert.True(t, s.AddContact("alice@x", "bob@x"))
	assert.False(t, s.AddContact("alice@x", "bob@x"))

	contacts, err := s.Contacts("alice@x")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, domain.Contact{Email: "bob@x", Name: "Bob", Image: "https://cdn/bob.png", Found: true}, contacts[0])

	assert.True(t, s.IsContact("alice@x", "bob@x"))
}

func TestAddContactUnknownOwner(t *testing.T) {
	s := openTestStore(t)

	assert.False(t, s.AddContact("ghost@x", "bob@x"))
	contacts, err := s.Contacts("ghost@x")
	require.NoError(t, err)
	assert.Empty(t, contacts)
}

func TestAddContactProfileFallback(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertUser("alice@x", "Alice", ""))

	// Counterpart has no user record: local-part name, found=false.
	assert.True(t, s.AddContact("alice@x", "stranger@example.com"))

	contacts, err := s.Contacts("alice@x")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "stranger", contacts[0].Name)
	assert.False(t, contacts[0].Found)
}

func TestProfile(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertUser("alice@x", "Alice", "https://cdn/alice.png"))

	profile, ok := s.Profile("alice@x")
	require.True(t, ok)
	assert.Equal(t, domain.Profile{Email: "alice@x", Name: "Alice", Image: "https://cdn/alice.png"}, profile)

	_, ok = s.Profile("ghost@x")
	assert.False(t, ok)
}

func TestPurgeLegacyFileRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	key := domain.RoomKey("alice@x", "bob@x")
	_, err = s.SaveMessage(key, "alice@x", "keep me", nil)
	require.NoError(t, err)
	_, err = s.SaveMessage(key, "alice@x", "keep my file", &domain.FileAttachment{URL: "https://cdn/x.png"})
	require.NoError(t, err)

	// A legacy row stores the raw client string instead of a JSON object.
	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.Exec(
		"INSERT INTO messages (id, room_key, sender, text, file, created_at, status) VALUES (?, ?, ?, ?, ?, ?, ?)",
		"legacy-1", key, "bob@x", "old upload", "cdn/x.png (12kb)", "2023-01-01T00:00:00Z", "sent",
	)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	removed, err := s.PurgeLegacyFileRows()
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	history, err := s.RoomHistory(key)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
