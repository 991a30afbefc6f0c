package model

import "time"

// MessageType discriminates the message body payload.
type MessageType string

const (
	TypeText     MessageType = "TEXT"
	TypeImage    MessageType = "IMAGE"
	TypeAudio    MessageType = "AUDIO"
	TypeLocation MessageType = "LOCATION"
)

// DeliveryStatus is the per-message delivery state.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "SENDING"
	StatusSent      DeliveryStatus = "SENT"
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusRead      DeliveryStatus = "READ"
	StatusFailed    DeliveryStatus = "FAILED"
)

// LastMessage is the denormalized summary stored on a conversation.
type LastMessage struct {
	Text      string
	SenderID  string
	Timestamp time.Time
	Read      bool
}

// Conversation is a direct or group thread between participants.
type Conversation struct {
	ID           string
	Participants []string
	IsGroup      bool
	GroupName    string
	GroupAdmin   string
	LastMessage  *LastMessage
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasParticipant reports whether uid is a member of the conversation.
func (c *Conversation) HasParticipant(uid string) bool {
	for _, p := range c.Participants {
		if p == uid {
			return true
		}
	}
	return false
}

// Location is the payload of a LOCATION message.
type Location struct {
	Lat   float64
	Lng   float64
	Label string
}

// Message is a single chat message.
type Message struct {
	ID              string
	ConversationID  string
	SenderID        string
	Text            string
	MediaURL        string
	Location        *Location
	Type            MessageType
	Status          DeliveryStatus
	Read            bool
	ReadBy          []string
	Version         int64
	Timestamp       time.Time // server-assigned
	ClientTimestamp time.Time
}

// ReadByUser reports whether uid already appears in the readBy set.
func (m *Message) ReadByUser(uid string) bool {
	for _, u := range m.ReadBy {
		if u == uid {
			return true
		}
	}
	return false
}

// UserChatEntry is one row of a user's per-conversation index.
type UserChatEntry struct {
	UserID         string
	ConversationID string
	UnreadCount    int
	LastAccessed   time.Time
}

// Presence is a user's tracked online status.
type Presence struct {
	UserID     string
	IsOnline   bool
	LastActive time.Time
	DeviceInfo string
}

// OnlineAt reports whether the record counts as online at the given instant.
// A record flagged online but stale beyond the window is treated as offline.
func (p Presence) OnlineAt(now time.Time, window time.Duration) bool {
	return p.IsOnline && now.Sub(p.LastActive) <= window
}

// Typing is a per-(conversation,user) typing indicator with a TTL.
type Typing struct {
	ConversationID string
	UserID         string
	Timestamp      time.Time
	ExpiresAt      time.Time
}

// ExpiredAt reports whether the indicator has outlived its TTL.
func (t Typing) ExpiredAt(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
