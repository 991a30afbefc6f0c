package model

import "github.com/famguard/chatsync/internal/remote"

// Typed partial-update builders. Each operation builds one of these instead
// of an untyped field map; Fields compiles the set fields to the store's
// field-map form at the port boundary.

// MessageUpdate is a partial update to a message document.
type MessageUpdate struct {
	Status      *DeliveryStatus
	Read        *bool
	AddReadBy   []string
	BumpVersion bool
}

// Fields compiles the update to a field map.
func (u MessageUpdate) Fields() map[string]any {
	f := make(map[string]any)
	if u.Status != nil {
		f["status"] = string(*u.Status)
	}
	if u.Read != nil {
		f["read"] = *u.Read
	}
	if len(u.AddReadBy) > 0 {
		vals := make([]any, len(u.AddReadBy))
		for i, uid := range u.AddReadBy {
			vals[i] = uid
		}
		f["readBy"] = remote.ArrayUnion(vals...)
	}
	if u.BumpVersion {
		f["version"] = remote.Increment(1)
	}
	return f
}

// ConversationUpdate is a partial update to a conversation document.
type ConversationUpdate struct {
	LastMessage        *LastMessage
	ClearLastMessage   bool
	LastMessageRead    *bool
	RemoveParticipants []string
	GroupAdmin         *string
	Touch              bool
}

// Fields compiles the update to a field map. Touch stamps updatedAt with the
// server's clock so list ordering follows the store, not device clocks.
func (u ConversationUpdate) Fields() map[string]any {
	f := make(map[string]any)
	if u.LastMessage != nil {
		// A zero timestamp means "stamp with the server clock".
		var ts any = u.LastMessage.Timestamp
		if u.LastMessage.Timestamp.IsZero() {
			ts = remote.ServerTimestamp
		}
		f["lastMessage"] = map[string]any{
			"text":      u.LastMessage.Text,
			"senderId":  u.LastMessage.SenderID,
			"timestamp": ts,
			"read":      u.LastMessage.Read,
		}
	} else if u.ClearLastMessage {
		f["lastMessage"] = nil
	}
	if u.LastMessageRead != nil {
		f["lastMessage.read"] = *u.LastMessageRead
	}
	if len(u.RemoveParticipants) > 0 {
		vals := make([]any, len(u.RemoveParticipants))
		for i, uid := range u.RemoveParticipants {
			vals[i] = uid
		}
		f["participants"] = remote.ArrayRemove(vals...)
	}
	if u.GroupAdmin != nil {
		f["groupAdmin"] = *u.GroupAdmin
	}
	if u.Touch {
		f["updatedAt"] = remote.ServerTimestamp
	}
	return f
}

// UserChatsUpdate is a partial update to a user's per-conversation index row.
type UserChatsUpdate struct {
	IncrementUnread int
	ResetUnread     bool
	TouchAccessed   bool
}

// Fields compiles the update to a field map.
func (u UserChatsUpdate) Fields() map[string]any {
	f := make(map[string]any)
	if u.IncrementUnread != 0 {
		f["unreadCount"] = remote.Increment(int64(u.IncrementUnread))
	}
	if u.ResetUnread {
		f["unreadCount"] = 0
	}
	if u.TouchAccessed {
		f["lastAccessed"] = remote.ServerTimestamp
	}
	return f
}
