package presence

import (
	"context"
	"time"

	"github.com/famguard/chatsync/internal/bus"
	"github.com/famguard/chatsync/internal/model"
	"github.com/famguard/chatsync/internal/remote"
	"go.uber.org/zap"
)

// TypingEvent is the payload for typing.started and typing.stopped.
type TypingEvent struct {
	ConversationID string
	UserID         string
}

// SetTyping records that the user is typing in a conversation. The record
// carries its own expiry so a crashed client cannot leave a permanent
// indicator.
func (s *Service) SetTyping(ctx context.Context, conversationID string) error {
	now := s.now()
	return s.store.Set(ctx, typingPath(conversationID, s.uid), map[string]any{
		"conversationId": conversationID,
		"userId":         s.uid,
		"timestamp":      now,
		"expiresAt":      now.Add(s.cfg.TypingTTL),
	})
}

// ClearTyping removes the user's typing indicator.
func (s *Service) ClearTyping(ctx context.Context, conversationID string) error {
	return s.store.Delete(ctx, typingPath(conversationID, s.uid))
}

// Typing returns a live list of user ids currently typing in a conversation,
// the caller excluded. Expired records never appear in the list even when
// their deletion has not landed yet; observed expired records are deleted
// opportunistically.
func (s *Service) Typing(ctx context.Context, conversationID string) (<-chan []string, func()) {
	q := remote.NewQuery("typing").
		Where("conversationId", remote.OpEqual, conversationID)
	sub := s.store.Subscribe(ctx, q)

	out := make(chan []string, 1)
	go func() {
		defer close(out)
		var prev map[string]bool
		for snap := range sub.Snapshots() {
			if snap.Err != nil {
				s.logger.Warn("typing stream error",
					zap.Error(snap.Err),
					zap.String("conversation_id", conversationID),
				)
				continue
			}

			now := s.now()
			current := make(map[string]bool)
			var typing []string
			for _, d := range snap.Docs {
				rec := model.Typing{
					ConversationID: d.String("conversationId"),
					UserID:         d.String("userId"),
					Timestamp:      d.Time("timestamp"),
					ExpiresAt:      d.Time("expiresAt"),
				}
				if rec.ExpiredAt(now) {
					// Lazy cleanup for the record's owner having vanished.
					if err := s.store.Delete(ctx, d.Path); err != nil {
						s.logger.Warn("expired typing cleanup failed", zap.Error(err), zap.String("path", d.Path))
					}
					continue
				}
				if rec.UserID == s.uid {
					continue
				}
				current[rec.UserID] = true
				typing = append(typing, rec.UserID)
			}

			s.diffTyping(conversationID, prev, current)
			prev = current
			push(out, typing)
		}
	}()
	return out, sub.Unsubscribe
}

func (s *Service) diffTyping(conversationID string, prev, current map[string]bool) {
	for uid := range current {
		if !prev[uid] {
			s.publishTyping(bus.KindTypingStarted, conversationID, uid)
		}
	}
	for uid := range prev {
		if !current[uid] {
			s.publishTyping(bus.KindTypingStopped, conversationID, uid)
		}
	}
}

func (s *Service) publishTyping(kind, conversationID, uid string) {
	s.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   TypingEvent{ConversationID: conversationID, UserID: uid},
	})
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
