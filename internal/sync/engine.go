// Package sync maintains live views of conversations and messages against
// the remote store and owns the send path, including delegation to the
// offline queue.
package sync

import (
	"context"

	"github.com/famguard/chatsync/internal/bus"
	"github.com/famguard/chatsync/internal/delivery"
	"github.com/famguard/chatsync/internal/model"
	"github.com/famguard/chatsync/internal/remote"
	"github.com/famguard/chatsync/internal/store"
	"go.uber.org/zap"
)

// Online is the subset of the connectivity monitor the engine needs.
type Online interface {
	IsOnline() bool
}

// MessageEvent is the payload for message.sent and message.deleted.
type MessageEvent struct {
	MessageID      string
	ConversationID string
}

// QueuedEvent is the payload for message.queued.
type QueuedEvent struct {
	LocalID        string
	ConversationID string
}

// ConversationEvent is the payload for conversation.updated and
// conversation.deleted.
type ConversationEvent struct {
	ConversationID string
}

// Engine is the synchronization engine for one authenticated user.
type Engine struct {
	store   remote.Store
	queue   *store.DB
	tracker *delivery.Tracker
	conn    Online
	bus     *bus.Bus
	logger  *zap.Logger
	uid     string
}

// NewEngine creates an engine acting as uid.
func NewEngine(st remote.Store, queue *store.DB, tracker *delivery.Tracker, conn Online, b *bus.Bus, logger *zap.Logger, uid string) *Engine {
	return &Engine{
		store:   st,
		queue:   queue,
		tracker: tracker,
		conn:    conn,
		bus:     b,
		logger:  logger,
		uid:     uid,
	}
}

// UserID returns the engine's acting user.
func (e *Engine) UserID() string {
	return e.uid
}

func (e *Engine) getConversation(ctx context.Context, id string) (*model.Conversation, error) {
	doc, err := e.store.Get(ctx, conversationPath(id))
	if err != nil {
		return nil, err
	}
	if !doc.Exists() {
		return nil, remote.NotFoundErr(conversationPath(id))
	}
	return decodeConversation(doc), nil
}

func (e *Engine) requireParticipant(conv *model.Conversation, uid string) error {
	if !conv.HasParticipant(uid) {
		return remote.PermissionDeniedErr(
			"user %s is not a participant of conversation %s", uid, conv.ID)
	}
	return nil
}
