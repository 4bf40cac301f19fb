package protocol

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"chat-relay-server/domain"
	"chat-relay-server/metrics"
)

// Handler runs the per-frame state machine: join binds the connection
// and replays history, chat persists, fires the notification side
// effects, and fans out to the room in two ordered phases. Malformed
// frames are logged and dropped; the connection stays alive and no
// error frame goes back.
type Handler struct {
	registry domain.Registry
	store    domain.MessageStore
	contacts domain.ContactDirectory
}

func NewHandler(registry domain.Registry, store domain.MessageStore, contacts domain.ContactDirectory) *Handler {
	return &Handler{registry: registry, store: store, contacts: contacts}
}

func (h *Handler) Handle(conn domain.Connection, data []byte) {
	var frame domain.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		slog.Warn("invalid frame", "clientId", conn.ID(), "error", err)
		metrics.DroppedFrames.Inc()
		return
	}

	switch frame.Type {
	case domain.FrameJoin:
		h.handleJoin(conn, frame)
	case domain.FrameChat:
		h.handleChat(conn, frame)
	default:
		slog.Warn("unknown frame type", "clientId", conn.ID(), "type", frame.Type)
		metrics.DroppedFrames.Inc()
	}
}

func (h *Handler) handleJoin(conn domain.Connection, frame domain.ClientFrame) {
	if !domain.ValidIdentity(frame.Self) || !domain.ValidIdentity(frame.Target) {
		slog.Warn("join rejected", "clientId", conn.ID(), "self", frame.Self, "target", frame.Target)
		metrics.DroppedFrames.Inc()
		return
	}

	roomKey := h.registry.Join(conn, frame.Self, frame.Target)

	messages, err := h.store.RoomHistory(roomKey)
	if err != nil {
		slog.Error("history load failed", "room", roomKey, "error", err)
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	payload, err := json.Marshal(domain.HistoryPayload{Type: "history", Messages: messages})
	if err != nil {
		slog.Error("history encode failed", "room", roomKey, "error", err)
		return
	}
	// History goes only to the joining connection, not the room.
	if err := conn.Send(payload); err != nil {
		slog.Debug("history send skipped", "clientId", conn.ID(), "error", err)
	}
}

func (h *Handler) handleChat(conn domain.Connection, frame domain.ClientFrame) {
	sender, roomKey, ok := h.registry.Binding(conn)
	if !ok {
		slog.Warn("chat before join", "clientId", conn.ID())
		metrics.DroppedFrames.Inc()
		return
	}

	file := domain.NormalizeFile(frame.File)

	saved, err := h.store.SaveMessage(roomKey, sender, frame.Text, file)
	if err != nil {
		slog.Error("message persist failed", "room", roomKey, "from", sender, "error", err)
		return
	}

	payload, err := json.Marshal(domain.ChatPayload{
		Type:      "chat",
		From:      saved.From,
		Text:      saved.Text,
		CreatedAt: saved.CreatedAt,
		File:      saved.File,
	})
	if err != nil {
		slog.Error("chat encode failed", "room", roomKey, "error", err)
		return
	}

	added := h.linkContacts(conn, roomKey, sender, saved.Text)

	// Phase one: the chat payload to every room member. Phase two: the
	// contact acknowledgement, sequenced strictly after it on the same
	// delivery path.
	h.registry.DispatchToRoom(roomKey, payload)
	if added {
		h.dispatchContactAdded(roomKey, sender)
	}
}

// linkContacts runs the side effects of one chat message: the
// unknown-sender notice when the recipient does not know the sender, and
// the bidirectional automatic contact link. The contact check runs
// before the link, so the very first message between two strangers
// always produces the notice. Returns whether either link added a row.
func (h *Handler) linkContacts(conn domain.Connection, roomKey, sender, text string) bool {
	other, ok := domain.OtherParticipant(roomKey, sender)
	if !ok {
		slog.Warn("malformed room key", "clientId", conn.ID(), "room", roomKey)
		return false
	}

	if !h.contacts.IsContact(other, sender) {
		h.notifyUnknown(other, sender, text)
	}

	addedForSender := h.contacts.AddContact(sender, other)
	addedForOther := h.contacts.AddContact(other, sender)
	return addedForSender || addedForOther
}

// notifyUnknown pushes the unknown-sender notice to every open
// connection of the recipient, independent of room membership.
func (h *Handler) notifyUnknown(recipient, sender, text string) {
	name := domain.LocalPart(sender)
	var image string
	if profile, ok := h.contacts.Profile(sender); ok {
		if profile.Name != "" {
			name = profile.Name
		}
		image = profile.Image
	}

	payload, err := json.Marshal(domain.UnknownMessagePayload{
		Type:      "unknown_message",
		From:      sender,
		FromName:  name,
		FromImage: image,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		slog.Error("notice encode failed", "recipient", recipient, "error", err)
		return
	}

	slog.Info("unknown sender notice", "recipient", recipient, "from", sender)
	h.registry.DispatchToIdentity(recipient, payload)
	metrics.UnknownNotices.Inc()
}

func (h *Handler) dispatchContactAdded(roomKey, sender string) {
	other, ok := domain.OtherParticipant(roomKey, sender)
	if !ok {
		return
	}

	payload, err := json.Marshal(domain.ContactAddedPayload{
		Type:    "contact_added",
		Message: fmt.Sprintf("Added %s to contacts", other),
	})
	if err != nil {
		slog.Error("contact ack encode failed", "room", roomKey, "error", err)
		return
	}
	h.registry.DispatchToRoom(roomKey, payload)
}
