package store

// Offline queue statuses.
const (
	QueuePending = "pending"
	QueueSending = "sending"
	QueueFailed  = "failed"
)

// OfflineMessage is a locally persisted outgoing message awaiting commit to
// the remote store. LocalID is a synthetic id; callers reconcile it against
// the server-assigned id once the replay succeeds.
type OfflineMessage struct {
	LocalID        string
	ConversationID string
	SenderID       string
	Body           string
	MediaURL       string
	Lat            float64
	Lng            float64
	LocationLabel  string
	MessageType    string
	Status         string
	RetryCount     int
	LastRetryAt    int64 // unix millis, 0 = never attempted
	CreatedAt      int64 // unix millis, replay order key
}
