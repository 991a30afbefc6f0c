package presence

import (
	"context"
	"time"

	"github.com/famguard/chatsync/internal/bus"
	"github.com/famguard/chatsync/internal/model"
	"github.com/famguard/chatsync/internal/remote"
	"go.uber.org/zap"
)

// Transition is the payload for presence.online and presence.offline.
type Transition struct {
	UserID string
	Online bool
}

// Watch returns a live view of every tracked user's presence. A record
// flagged online but with lastActive beyond the staleness window counts as
// offline. Effective state changes between snapshots are published as
// discrete presence.online / presence.offline events.
func (s *Service) Watch(ctx context.Context) (<-chan []model.Presence, func()) {
	sub := s.store.Subscribe(ctx, remote.NewQuery("userStatus"))

	out := make(chan []model.Presence, 1)
	go func() {
		defer close(out)
		var prev map[string]bool
		for snap := range sub.Snapshots() {
			if snap.Err != nil {
				s.logger.Warn("presence stream error", zap.Error(snap.Err))
				continue
			}

			now := s.now()
			current := make(map[string]bool, len(snap.Docs))
			records := make([]model.Presence, 0, len(snap.Docs))
			for _, d := range snap.Docs {
				rec := model.Presence{
					UserID:     d.String("userId"),
					IsOnline:   d.Bool("isOnline"),
					LastActive: d.Time("lastActive"),
					DeviceInfo: d.String("deviceInfo"),
				}
				if rec.UserID == "" {
					rec.UserID = d.ID
				}
				online := rec.OnlineAt(now, s.cfg.Window)
				rec.IsOnline = online
				current[rec.UserID] = online
				records = append(records, rec)
			}

			s.diffPresence(prev, current)
			prev = current
			push(out, records)
		}
	}()
	return out, sub.Unsubscribe
}

func (s *Service) diffPresence(prev, current map[string]bool) {
	for uid, online := range current {
		was, known := prev[uid]
		if known && was == online {
			continue
		}
		if !known && !online {
			// A user first observed offline is not a transition.
			continue
		}
		kind := bus.KindPresenceOffline
		if online {
			kind = bus.KindPresenceOnline
		}
		s.bus.Publish(bus.Event{
			Kind:      kind,
			Timestamp: time.Now(),
			Payload:   Transition{UserID: uid, Online: online},
		})
	}
}
