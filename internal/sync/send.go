package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/famguard/chatsync/internal/bus"
	"github.com/famguard/chatsync/internal/model"
	"github.com/famguard/chatsync/internal/remote"
	"github.com/famguard/chatsync/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outgoing is a message draft handed to Send.
type Outgoing struct {
	ConversationID string
	Type           model.MessageType
	Text           string
	MediaURL       string
	Location       *model.Location
}

// Send commits a message to the conversation. Content is validated before
// any network call. While offline the draft goes to the local queue and the
// returned id is a synthetic "local-" id; otherwise it is the server id of
// the committed message.
func (e *Engine) Send(ctx context.Context, out Outgoing) (string, error) {
	if err := model.ValidateContent(out.Type, out.Text, out.MediaURL, out.Location); err != nil {
		return "", err
	}

	conv, err := e.getConversation(ctx, out.ConversationID)
	if err != nil {
		// The conversation read itself needs the network; a transient
		// failure while the monitor agrees we are offline means queue it.
		if remote.IsTransient(err) && !e.conn.IsOnline() {
			return e.enqueue(out)
		}
		return "", err
	}
	if err := e.requireParticipant(conv, e.uid); err != nil {
		return "", err
	}

	if !e.conn.IsOnline() {
		return e.enqueue(out)
	}

	return e.sendNow(ctx, conv, e.newMessage(out, time.Now()))
}

// SendQueued replays one offline-queue row. Content was validated at enqueue
// time; the participant check is repeated because membership may have changed
// while the message waited.
func (e *Engine) SendQueued(ctx context.Context, om *store.OfflineMessage) (string, error) {
	conv, err := e.getConversation(ctx, om.ConversationID)
	if err != nil {
		return "", err
	}
	if err := e.requireParticipant(conv, om.SenderID); err != nil {
		return "", err
	}

	out := Outgoing{
		ConversationID: om.ConversationID,
		Type:           model.MessageType(om.MessageType),
		Text:           om.Body,
		MediaURL:       om.MediaURL,
	}
	if out.Type == model.TypeLocation {
		out.Location = &model.Location{Lat: om.Lat, Lng: om.Lng, Label: om.LocationLabel}
	}
	return e.sendNow(ctx, conv, e.newMessage(out, time.UnixMilli(om.CreatedAt)))
}

func (e *Engine) newMessage(out Outgoing, clientTS time.Time) *model.Message {
	return &model.Message{
		ConversationID:  out.ConversationID,
		SenderID:        e.uid,
		Text:            out.Text,
		MediaURL:        out.MediaURL,
		Location:        out.Location,
		Type:            out.Type,
		Status:          model.StatusSending,
		ReadBy:          []string{e.uid},
		Version:         1,
		ClientTimestamp: clientTS,
	}
}

// sendNow commits the send as one atomic batch: message insert, conversation
// lastMessage/updatedAt, the sender's typing clear and presence upsert, and
// an unread increment per other participant. Nothing from this set may be
// visible without the rest.
func (e *Engine) sendNow(ctx context.Context, conv *model.Conversation, msg *model.Message) (string, error) {
	b := e.store.Batch()
	id := b.Create(colMessages, messageData(msg))

	b.Update(conversationPath(conv.ID), model.ConversationUpdate{
		LastMessage: &model.LastMessage{Text: preview(msg), SenderID: e.uid},
		Touch:       true,
	}.Fields())

	b.Delete(typingPath(conv.ID, e.uid))

	b.Merge(presencePath(e.uid), map[string]any{
		"userId":     e.uid,
		"isOnline":   true,
		"lastActive": remote.ServerTimestamp,
	})

	// Merge + increment so two senders racing on a missing index row both
	// count: the unread counter moves exactly once per message.
	for _, p := range conv.Participants {
		if p == e.uid {
			continue
		}
		fields := model.UserChatsUpdate{IncrementUnread: 1}.Fields()
		fields["userId"] = p
		fields["conversationId"] = conv.ID
		b.Merge(userChatPath(p, conv.ID), fields)
	}

	if err := b.Commit(ctx); err != nil {
		e.bus.Publish(bus.Event{
			Kind:      bus.KindMessageSendFailed,
			Timestamp: time.Now(),
			Payload:   MessageEvent{ConversationID: conv.ID},
		})
		if remote.IsPermissionDenied(err) {
			return "", remote.PermissionDeniedErr(
				"store rejected send to conversation %s by %s: %v", conv.ID, e.uid, err)
		}
		return "", fmt.Errorf("commit send to conversation %s: %w", conv.ID, err)
	}

	msg.ID = id
	e.bus.Publish(bus.Event{
		Kind:      bus.KindMessageSent,
		Timestamp: time.Now(),
		Payload:   MessageEvent{MessageID: id, ConversationID: conv.ID},
	})

	// Best-effort: listeners will reconcile the status if this write loses.
	if err := e.tracker.Advance(ctx, msg, model.StatusSent); err != nil {
		e.logger.Warn("advance to SENT failed",
			zap.Error(err),
			zap.String("message_id", id),
		)
	}
	return id, nil
}

// enqueue persists the draft locally and returns its synthetic id.
func (e *Engine) enqueue(out Outgoing) (string, error) {
	om := &store.OfflineMessage{
		LocalID:        "local-" + uuid.NewString(),
		ConversationID: out.ConversationID,
		SenderID:       e.uid,
		Body:           out.Text,
		MediaURL:       out.MediaURL,
		MessageType:    string(out.Type),
		CreatedAt:      time.Now().UnixMilli(),
	}
	if out.Location != nil {
		om.Lat = out.Location.Lat
		om.Lng = out.Location.Lng
		om.LocationLabel = out.Location.Label
	}
	if err := e.queue.Enqueue(om); err != nil {
		return "", fmt.Errorf("queue offline message: %w", err)
	}

	e.logger.Info("message queued offline",
		zap.String("local_id", om.LocalID),
		zap.String("conversation_id", om.ConversationID),
	)
	e.bus.Publish(bus.Event{
		Kind:      bus.KindMessageQueued,
		Timestamp: time.Now(),
		Payload:   QueuedEvent{LocalID: om.LocalID, ConversationID: om.ConversationID},
	})
	return om.LocalID, nil
}

// preview is the denormalized lastMessage text for non-text payloads.
func preview(msg *model.Message) string {
	switch msg.Type {
	case model.TypeImage:
		return "[photo]"
	case model.TypeAudio:
		return "[audio]"
	case model.TypeLocation:
		if msg.Location != nil && msg.Location.Label != "" {
			return msg.Location.Label
		}
		return "[location]"
	}
	return msg.Text
}
