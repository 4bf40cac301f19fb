package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// RoomKeySeparator joins the two participant identities of a room key.
// Identities containing it would alias other rooms, so joins carrying
// it are rejected before keying.
const RoomKeySeparator = "+"

// RoomKey derives the canonical identifier for the two-party room of a
// and b. It is symmetric: RoomKey(a, b) == RoomKey(b, a).
func RoomKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + RoomKeySeparator + b
}

// SplitRoomKey recovers the two participant identities from a room key.
func SplitRoomKey(key string) (string, string, bool) {
	a, b, ok := strings.Cut(key, RoomKeySeparator)
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

// OtherParticipant returns the identity in the room key that is not self.
func OtherParticipant(key, self string) (string, bool) {
	a, b, ok := SplitRoomKey(key)
	if !ok {
		return "", false
	}
	switch self {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

// ValidIdentity reports whether an identity is usable as a room key
// component.
func ValidIdentity(id string) bool {
	return id != "" && !strings.Contains(id, RoomKeySeparator)
}

// LocalPart returns the part of an email address before the "@", used as
// a display-name fallback when no profile exists.
func LocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// FileAttachment describes a file carried by a chat message.
type FileAttachment struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// NormalizeFile parses the optional file field of a chat frame. Clients
// send either a structured object or a string-encoded object; anything
// unparseable, or an object without a URL, normalizes to absent.
func NormalizeFile(raw json.RawMessage) *FileAttachment {
	if len(raw) == 0 {
		return nil
	}
	data := []byte(raw)
	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		data = []byte(encoded)
	}
	var file FileAttachment
	if err := json.Unmarshal(data, &file); err != nil {
		return nil
	}
	if file.URL == "" {
		return nil
	}
	return &file
}

// Frame types accepted from clients. Anything else is rejected.
const (
	FrameJoin = "join"
	FrameChat = "chat"
)

// ClientFrame is an incoming frame before validation. Which fields are
// meaningful depends on Type.
type ClientFrame struct {
	Type   string          `json:"type"`
	Self   string          `json:"self,omitempty"`
	Target string          `json:"target,omitempty"`
	Text   string          `json:"text,omitempty"`
	File   json.RawMessage `json:"file,omitempty"`
}

// Message delivery states.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusSeen      = "seen"
)

// Message is a persisted chat message.
type Message struct {
	ID        string          `json:"id"`
	RoomKey   string          `json:"roomKey"`
	From      string          `json:"from"`
	Text      string          `json:"text"`
	File      *FileAttachment `json:"file,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	Status    string          `json:"status"`
}

// Contact is one entry in a user's contact list.
type Contact struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
	Found bool   `json:"found"`
}

// Profile is the displayable part of a user record.
type Profile struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// HistoryPayload replays the full room history to a joining connection.
type HistoryPayload struct {
	Type     string    `json:"type"`
	Messages []Message `json:"messages"`
}

// ChatPayload is the room broadcast for one chat message.
type ChatPayload struct {
	Type      string          `json:"type"`
	From      string          `json:"from"`
	Text      string          `json:"text"`
	CreatedAt time.Time       `json:"createdAt"`
	File      *FileAttachment `json:"file,omitempty"`
}

// ContactAddedPayload acknowledges an automatic contact link.
type ContactAddedPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// UnknownMessagePayload notifies a recipient that the sender is not in
// their contact list. It goes to every open connection of the recipient,
// not just room members.
type UnknownMessagePayload struct {
	Type      string    `json:"type"`
	From      string    `json:"from"`
	FromName  string    `json:"fromName"`
	FromImage string    `json:"fromImage,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Connection is one live bidirectional transport session.
type Connection interface {
	ID() string
	Open() bool
	Send(data []byte) error
	Close() error
}

// Registry tracks which connection is bound to which identity and room,
// and fans payloads out to rooms and identities.
type Registry interface {
	Join(conn Connection, self, target string) string
	Release(conn Connection)
	Binding(conn Connection) (identity, roomKey string, ok bool)
	DispatchToRoom(roomKey string, payload []byte)
	DispatchToIdentity(identity string, payload []byte)
}

// MessageStore persists chat messages and serves room history.
type MessageStore interface {
	SaveMessage(roomKey, from, text string, file *FileAttachment) (Message, error)
	RoomHistory(roomKey string) ([]Message, error)
}

// ContactDirectory answers contact-list membership and performs the
// automatic contact link. Both operations fail open: any lookup or
// write failure reads as "not a contact" / "nothing added".
type ContactDirectory interface {
	IsContact(owner, counterpart string) bool
	AddContact(owner, counterpart string) bool
	Profile(email string) (Profile, bool)
}

// MessageHandler processes one raw frame from a connection.
type MessageHandler interface {
	Handle(conn Connection, data []byte)
}
