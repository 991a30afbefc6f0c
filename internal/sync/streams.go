package sync

import (
	"context"

	"github.com/famguard/chatsync/internal/delivery"
	"github.com/famguard/chatsync/internal/model"
	"github.com/famguard/chatsync/internal/remote"
	"go.uber.org/zap"
)

// Conversations returns a live view of the user's conversation list, newest
// activity first. Each delivery replaces the previous one; a slow consumer
// only ever sees the latest state. Authorization loss ends the stream; any
// other error is logged and the last good view stands.
func (e *Engine) Conversations(ctx context.Context) (<-chan []*model.Conversation, func()) {
	q := remote.NewQuery(colConversations).
		Where("participants", remote.OpArrayContains, e.uid).
		OrderBy("updatedAt", true)
	sub := e.store.Subscribe(ctx, q)

	out := make(chan []*model.Conversation, 1)
	go func() {
		defer close(out)
		for snap := range sub.Snapshots() {
			if snap.Err != nil {
				if remote.IsPermissionDenied(snap.Err) {
					e.logger.Error("conversation stream lost authorization", zap.Error(snap.Err))
					sub.Unsubscribe()
					return
				}
				e.logger.Warn("conversation stream error", zap.Error(snap.Err))
				continue
			}
			convs := make([]*model.Conversation, 0, len(snap.Docs))
			for _, d := range snap.Docs {
				convs = append(convs, decodeConversation(d))
			}
			push(out, convs)
		}
	}()
	return out, sub.Unsubscribe
}

// Messages returns a live view of one conversation's messages in timestamp
// order. Opening the view counts as reading the conversation: every snapshot
// marks incoming unread messages read in one atomic batch, and the user's
// lastAccessed is touched.
func (e *Engine) Messages(ctx context.Context, conversationID string) (<-chan []*model.Message, func()) {
	if err := e.store.Update(ctx, userChatPath(e.uid, conversationID),
		model.UserChatsUpdate{TouchAccessed: true}.Fields()); err != nil && !remote.IsNotFound(err) {
		e.logger.Warn("touch lastAccessed failed",
			zap.Error(err),
			zap.String("conversation_id", conversationID),
		)
	}

	q := remote.NewQuery(colMessages).
		Where("conversationId", remote.OpEqual, conversationID).
		OrderBy("timestamp", false)
	sub := e.store.Subscribe(ctx, q)

	out := make(chan []*model.Message, 1)
	go func() {
		defer close(out)
		for snap := range sub.Snapshots() {
			if snap.Err != nil {
				if remote.IsPermissionDenied(snap.Err) {
					e.logger.Error("message stream lost authorization",
						zap.Error(snap.Err),
						zap.String("conversation_id", conversationID),
					)
					sub.Unsubscribe()
					return
				}
				e.logger.Warn("message stream error",
					zap.Error(snap.Err),
					zap.String("conversation_id", conversationID),
				)
				continue
			}
			msgs := make([]*model.Message, 0, len(snap.Docs))
			for _, d := range snap.Docs {
				msgs = append(msgs, decodeMessage(d))
			}
			e.markIncomingRead(ctx, conversationID, msgs)
			push(out, msgs)
		}
	}()
	return out, sub.Unsubscribe
}

// markIncomingRead marks every unread message from other senders as read by
// this user, fixes the conversation's denormalized lastMessage.read, and
// resets the unread counter, as one batch. Partial application would leave
// counters out of step with the messages, so it is all or nothing.
func (e *Engine) markIncomingRead(ctx context.Context, conversationID string, msgs []*model.Message) {
	var unread []*model.Message
	for _, m := range msgs {
		if m.SenderID == e.uid || m.ReadByUser(e.uid) {
			continue
		}
		unread = append(unread, m)
	}
	if len(unread) == 0 {
		return
	}

	read := true
	b := e.store.Batch()
	for _, m := range unread {
		u := model.MessageUpdate{Read: &read, AddReadBy: []string{e.uid}, BumpVersion: true}
		if delivery.CanTransition(m.Status, model.StatusRead) {
			readStatus := model.StatusRead
			u.Status = &readStatus
		}
		b.Update(messagePath(m.ID), u.Fields())
	}

	// The newest message was among the unread: the denormalized flag on the
	// conversation is now wrong.
	if last := msgs[len(msgs)-1]; last.SenderID != e.uid && !last.ReadByUser(e.uid) {
		b.Update(conversationPath(conversationID), model.ConversationUpdate{LastMessageRead: &read}.Fields())
	}

	b.Set(userChatPath(e.uid, conversationID), userChatData(e.uid, conversationID, 0))

	if err := b.Commit(ctx); err != nil {
		e.logger.Warn("read receipt batch failed",
			zap.Error(err),
			zap.String("conversation_id", conversationID),
			zap.Int("messages", len(unread)),
		)
	}
}

// push delivers latest-wins on a 1-buffered channel.
func push[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
