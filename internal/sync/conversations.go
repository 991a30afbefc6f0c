package sync

import (
	"context"
	"strings"
	"time"

	"github.com/famguard/chatsync/internal/bus"
	"github.com/famguard/chatsync/internal/model"
	"github.com/famguard/chatsync/internal/remote"
)

// CreateDirectConversation returns a 1:1 conversation between the current
// user and otherUID, reusing an existing one when the pair already has a
// thread. Creating twice never produces a duplicate.
func (e *Engine) CreateDirectConversation(ctx context.Context, otherUID string) (string, error) {
	if otherUID == "" || otherUID == e.uid {
		return "", &model.ValidationError{Field: "participants", Reason: "direct conversation needs one other user"}
	}

	existing, err := e.store.Query(ctx, remote.NewQuery(colConversations).
		Where("participants", remote.OpArrayContains, e.uid).
		Where("isGroup", remote.OpEqual, false))
	if err != nil {
		return "", err
	}
	for _, d := range existing {
		conv := decodeConversation(d)
		if len(conv.Participants) == 2 && conv.HasParticipant(otherUID) {
			return conv.ID, nil
		}
	}

	conv := &model.Conversation{Participants: []string{e.uid, otherUID}}
	if err := conv.Validate(); err != nil {
		return "", err
	}
	return e.createConversation(ctx, conv)
}

// CreateGroupConversation creates a named group. The current user always
// joins and becomes the admin.
func (e *Engine) CreateGroupConversation(ctx context.Context, name string, participants []string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", &model.ValidationError{Field: "groupName", Reason: "empty group name"}
	}

	members := participants
	hasSelf := false
	for _, p := range participants {
		if p == e.uid {
			hasSelf = true
			break
		}
	}
	if !hasSelf {
		members = append([]string{e.uid}, participants...)
	}

	conv := &model.Conversation{
		Participants: members,
		IsGroup:      true,
		GroupName:    name,
		GroupAdmin:   e.uid,
	}
	if err := conv.Validate(); err != nil {
		return "", err
	}
	return e.createConversation(ctx, conv)
}

// createConversation inserts the document and each participant's userChats
// row in one batch.
func (e *Engine) createConversation(ctx context.Context, conv *model.Conversation) (string, error) {
	b := e.store.Batch()
	id := b.Create(colConversations, conversationData(conv))
	for _, p := range conv.Participants {
		b.Set(userChatPath(p, id), userChatData(p, id, 0))
	}
	if err := b.Commit(ctx); err != nil {
		return "", err
	}

	e.bus.Publish(bus.Event{
		Kind:      bus.KindConversationUpdated,
		Timestamp: time.Now(),
		Payload:   ConversationEvent{ConversationID: id},
	})
	return id, nil
}

// DeleteMessage removes one of the user's own messages. When the deleted
// message was the conversation's most recent, lastMessage is recomputed from
// the surviving newest message inside the same transaction, so lastMessage
// never points at a deleted message.
func (e *Engine) DeleteMessage(ctx context.Context, messageID string) error {
	var conversationID string

	err := e.store.RunTransaction(ctx, func(tx remote.Tx) error {
		doc, err := tx.Get(messagePath(messageID))
		if err != nil {
			return err
		}
		msg := decodeMessage(doc)
		if msg.SenderID != e.uid {
			return remote.PermissionDeniedErr(
				"user %s cannot delete message %s sent by %s", e.uid, messageID, msg.SenderID)
		}
		conversationID = msg.ConversationID

		docs, err := tx.Query(remote.NewQuery(colMessages).
			Where("conversationId", remote.OpEqual, msg.ConversationID).
			OrderBy("timestamp", true))
		if err != nil {
			return err
		}
		var newest *model.Message
		for _, d := range docs {
			if d.ID == messageID {
				continue
			}
			newest = decodeMessage(d)
			break
		}

		tx.Delete(messagePath(messageID))

		update := model.ConversationUpdate{Touch: true}
		if newest == nil {
			update.ClearLastMessage = true
		} else {
			update.LastMessage = &model.LastMessage{
				Text:      preview(newest),
				SenderID:  newest.SenderID,
				Timestamp: newest.Timestamp,
				Read:      newest.Read,
			}
		}
		tx.Update(conversationPath(msg.ConversationID), update.Fields())
		return nil
	})
	if err != nil {
		return err
	}

	e.bus.Publish(bus.Event{
		Kind:      bus.KindMessageDeleted,
		Timestamp: time.Now(),
		Payload:   MessageEvent{MessageID: messageID, ConversationID: conversationID},
	})
	return nil
}

// DeleteConversation removes the conversation from the user's view. Leaving
// a group with other members just drops the user from participants, handing
// the admin role to the first remaining member if needed. A direct
// conversation, or a group this departure would empty, is destroyed outright:
// every message, the document itself, and all index rows go in one batch.
func (e *Engine) DeleteConversation(ctx context.Context, conversationID string) error {
	conv, err := e.getConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := e.requireParticipant(conv, e.uid); err != nil {
		return err
	}

	if conv.IsGroup && len(conv.Participants) > 2 {
		return e.leaveGroup(ctx, conv)
	}
	return e.destroyConversation(ctx, conv)
}

func (e *Engine) leaveGroup(ctx context.Context, conv *model.Conversation) error {
	update := model.ConversationUpdate{RemoveParticipants: []string{e.uid}, Touch: true}
	if conv.GroupAdmin == e.uid {
		for _, p := range conv.Participants {
			if p != e.uid {
				admin := p
				update.GroupAdmin = &admin
				break
			}
		}
	}

	b := e.store.Batch()
	b.Update(conversationPath(conv.ID), update.Fields())
	b.Delete(userChatPath(e.uid, conv.ID))
	b.Delete(typingPath(conv.ID, e.uid))
	if err := b.Commit(ctx); err != nil {
		return err
	}

	e.bus.Publish(bus.Event{
		Kind:      bus.KindConversationUpdated,
		Timestamp: time.Now(),
		Payload:   ConversationEvent{ConversationID: conv.ID},
	})
	return nil
}

func (e *Engine) destroyConversation(ctx context.Context, conv *model.Conversation) error {
	msgs, err := e.store.Query(ctx, remote.NewQuery(colMessages).
		Where("conversationId", remote.OpEqual, conv.ID))
	if err != nil {
		return err
	}

	b := e.store.Batch()
	for _, d := range msgs {
		b.Delete(messagePath(d.ID))
	}
	b.Delete(conversationPath(conv.ID))
	for _, p := range conv.Participants {
		b.Delete(userChatPath(p, conv.ID))
		b.Delete(typingPath(conv.ID, p))
	}
	if err := b.Commit(ctx); err != nil {
		return err
	}

	e.bus.Publish(bus.Event{
		Kind:      bus.KindConversationDeleted,
		Timestamp: time.Now(),
		Payload:   ConversationEvent{ConversationID: conv.ID},
	})
	return nil
}
