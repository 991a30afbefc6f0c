package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/famguard/chatsync/internal/bus"
	"github.com/famguard/chatsync/internal/model"
	"github.com/famguard/chatsync/internal/remote"
	"github.com/famguard/chatsync/internal/version"
	"go.uber.org/zap"
)

// Receipts mirrors delivery state changes to the backend RPC endpoints, which
// fan receipts out to the other participants' devices.
type Receipts interface {
	MarkMessageDelivered(ctx context.Context, messageID, userID string) error
	MarkMessageRead(ctx context.Context, messageID, userID string) error
	MarkConversationMessagesRead(ctx context.Context, conversationID, userID string) (int, error)
}

// StatusChange is the payload published on message.status_changed.
type StatusChange struct {
	MessageID      string
	ConversationID string
	From           model.DeliveryStatus
	To             model.DeliveryStatus
}

// Tracker records delivery state changes. Writes go through the version
// guard; the RPC mirror is best-effort and never fails a local state change.
type Tracker struct {
	store    remote.Store
	guard    *version.Guard
	receipts Receipts
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewTracker creates a tracker. receipts may be nil when no backend RPC is
// configured.
func NewTracker(store remote.Store, guard *version.Guard, receipts Receipts, b *bus.Bus, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:    store,
		guard:    guard,
		receipts: receipts,
		bus:      b,
		logger:   logger,
	}
}

func messagePath(id string) string {
	return "messages/" + id
}

func userChatPath(uid, conversationID string) string {
	return "userChats/" + uid + "_" + conversationID
}

// receiptResolver merges racing receipt writes. readBy is unioned, and the
// status keeps whichever side is further along the delivery lifecycle, so a
// late DELIVERED receipt can never undo READ.
func receiptResolver(local map[string]any, winner map[string]any) map[string]any {
	merged := version.MapMerge("readBy")(local, winner)
	ls, ok := merged["status"].(string)
	if !ok {
		return merged
	}
	ws, _ := winner["status"].(string)
	if statusRank[model.DeliveryStatus(ws)] > statusRank[model.DeliveryStatus(ls)] {
		merged["status"] = ws
		if model.DeliveryStatus(ws) == model.StatusRead {
			merged["read"] = true
		}
	}
	return merged
}

// Advance moves a message to a new delivery state, rejecting moves the
// lifecycle does not allow. Used for SENDING to SENT after a commit and for
// FAILED to SENDING on an explicit resend.
func (t *Tracker) Advance(ctx context.Context, msg *model.Message, to model.DeliveryStatus) error {
	if err := checkTransition(msg.Status, to); err != nil {
		return err
	}
	updates := model.MessageUpdate{Status: &to}.Fields()
	applied, err := t.guard.Update(ctx, messagePath(msg.ID), updates, msg.Version, receiptResolver)
	if err != nil {
		return err
	}
	t.publish(msg, applied)
	return nil
}

// MarkDelivered records a delivery receipt from uid. A receipt from the
// sender is rejected; a receipt arriving after the message is already READ is
// dropped silently, late receipts are routine.
func (t *Tracker) MarkDelivered(ctx context.Context, msg *model.Message, uid string) error {
	if uid == msg.SenderID {
		return fmt.Errorf("message %s: sender cannot record own delivery receipt", msg.ID)
	}
	if !CanTransition(msg.Status, model.StatusDelivered) {
		return nil
	}

	delivered := model.StatusDelivered
	updates := model.MessageUpdate{Status: &delivered}.Fields()
	applied, err := t.guard.Update(ctx, messagePath(msg.ID), updates, msg.Version, receiptResolver)
	if err != nil {
		return err
	}

	if t.receipts != nil {
		if err := t.receipts.MarkMessageDelivered(ctx, msg.ID, uid); err != nil {
			t.logger.Warn("delivery receipt mirror failed",
				zap.Error(err),
				zap.String("message_id", msg.ID),
			)
		}
	}

	t.publish(msg, applied)
	return nil
}

// MarkRead records a read receipt from uid: the reader joins the readBy set
// and the message advances to READ. Idempotent for repeat reads by the same
// user.
func (t *Tracker) MarkRead(ctx context.Context, msg *model.Message, uid string) error {
	if uid == msg.SenderID {
		return fmt.Errorf("message %s: sender cannot record own read receipt", msg.ID)
	}
	if msg.Status == model.StatusRead && msg.ReadByUser(uid) {
		return nil
	}

	read := true
	update := model.MessageUpdate{Read: &read, AddReadBy: []string{uid}}
	if CanTransition(msg.Status, model.StatusRead) {
		readStatus := model.StatusRead
		update.Status = &readStatus
	}
	applied, err := t.guard.Update(ctx, messagePath(msg.ID), update.Fields(), msg.Version, receiptResolver)
	if err != nil {
		return err
	}

	if t.receipts != nil {
		if err := t.receipts.MarkMessageRead(ctx, msg.ID, uid); err != nil {
			t.logger.Warn("read receipt mirror failed",
				zap.Error(err),
				zap.String("message_id", msg.ID),
			)
		}
	}

	t.publish(msg, applied)
	return nil
}

// MarkConversationRead asks the backend to mark every unread message in the
// conversation as read by uid, then clears the local unread counter. The
// counter is only touched when the backend actually updated something, so a
// failed or empty bulk call cannot hide unread messages.
func (t *Tracker) MarkConversationRead(ctx context.Context, conversationID, uid string) (int, error) {
	if t.receipts == nil {
		return 0, errors.New("no receipt backend configured")
	}
	count, err := t.receipts.MarkConversationMessagesRead(ctx, conversationID, uid)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	err = t.store.Update(ctx, userChatPath(uid, conversationID), model.UserChatsUpdate{ResetUnread: true}.Fields())
	if err != nil && !remote.IsNotFound(err) {
		return count, fmt.Errorf("reset unread count: %w", err)
	}
	return count, nil
}

func (t *Tracker) publish(msg *model.Message, applied map[string]any) {
	to := msg.Status
	if s, ok := applied["status"].(string); ok {
		to = model.DeliveryStatus(s)
	}
	if to == msg.Status {
		return
	}
	t.bus.Publish(bus.Event{
		Kind:      bus.KindMessageStatus,
		Timestamp: time.Now(),
		Payload: StatusChange{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			From:           msg.Status,
			To:             to,
		},
	})
}
