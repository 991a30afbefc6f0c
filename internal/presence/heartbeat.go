package presence

import (
	"context"
	"time"

	"github.com/famguard/chatsync/internal/remote"
	"go.uber.org/zap"
)

// StartHeartbeat begins the periodic own-presence upsert: an immediate beat,
// then one per interval until StopHeartbeat.
func (s *Service) StartHeartbeat(ctx context.Context) {
	ctx, s.heartbeatCancel = context.WithCancel(ctx)
	s.heartbeatDone = make(chan struct{})

	go func() {
		defer close(s.heartbeatDone)
		s.beat(ctx)

		ticker := time.NewTicker(s.cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.beat(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopHeartbeat cancels the beat loop and waits for it to exit. The owning
// scope must stop the heartbeat together with its streams; an orphaned
// heartbeat keeps a gone session looking alive.
func (s *Service) StopHeartbeat() {
	if s.heartbeatCancel != nil {
		s.heartbeatCancel()
		<-s.heartbeatDone
	}
}

func (s *Service) beat(ctx context.Context) {
	err := s.store.Set(ctx, presencePath(s.uid), map[string]any{
		"userId":     s.uid,
		"isOnline":   true,
		"lastActive": remote.ServerTimestamp,
		"deviceInfo": s.cfg.DeviceInfo,
	})
	if err != nil {
		s.logger.Warn("presence heartbeat failed", zap.Error(err))
	}
}

// MarkOffline writes the goodbye record. Best-effort: it runs during
// teardown, after the watcher streams have been unsubscribed, so a failure
// only delays the staleness window from declaring us offline.
func (s *Service) MarkOffline(ctx context.Context) {
	err := s.store.Set(ctx, presencePath(s.uid), map[string]any{
		"userId":     s.uid,
		"isOnline":   false,
		"lastActive": remote.ServerTimestamp,
		"lastSeen":   remote.ServerTimestamp,
		"deviceInfo": s.cfg.DeviceInfo,
	})
	if err != nil {
		s.logger.Warn("mark offline failed", zap.Error(err))
	}
}
