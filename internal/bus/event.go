package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the engine, grouped by namespace. Subscribers
// filter by prefix, e.g. "message." receives every message event.
const (
	KindConnectivityOnline  = "connectivity.online"
	KindConnectivityOffline = "connectivity.offline"

	KindMessageSent       = "message.sent"
	KindMessageQueued     = "message.queued"
	KindMessageStatus     = "message.status_changed"
	KindMessageDeleted    = "message.deleted"
	KindMessageSendFailed = "message.send_failed"

	KindConversationUpdated = "conversation.updated"
	KindConversationDeleted = "conversation.deleted"

	KindOutboxSent   = "outbox.sent"
	KindOutboxFailed = "outbox.failed"

	KindPresenceOnline  = "presence.online"
	KindPresenceOffline = "presence.offline"

	KindTypingStarted = "typing.started"
	KindTypingStopped = "typing.stopped"
)
