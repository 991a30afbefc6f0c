// Package outbox replays messages queued while offline. Rows are committed
// to the remote store strictly oldest-first; a failed head blocks the rest of
// the sweep so later messages never overtake earlier ones.
package outbox

import (
	"context"
	"time"

	"github.com/famguard/chatsync/internal/bus"
	"github.com/famguard/chatsync/internal/store"
	"go.uber.org/zap"
)

// RemoteSender commits a queued message to the remote store and returns the
// server-assigned message id.
type RemoteSender interface {
	SendQueued(ctx context.Context, msg *store.OfflineMessage) (serverID string, err error)
}

// Connectivity is the subset of the connectivity monitor the sweeper needs.
type Connectivity interface {
	IsOnline() bool
	OnRestore(func())
}

// Config tunes the sweep cadence and per-message retry policy.
type Config struct {
	Interval   time.Duration
	RetryBase  time.Duration
	RetryCap   time.Duration
	MaxRetries int
}

// Sweeper drains the offline queue whenever connectivity allows.
type Sweeper struct {
	db     *store.DB
	sender RemoteSender
	conn   Connectivity
	bus    *bus.Bus
	logger *zap.Logger
	cfg    Config

	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// SentPayload is published on outbox.sent so listeners can reconcile the
// synthetic local id with the server-assigned one.
type SentPayload struct {
	LocalID        string
	ServerID       string
	ConversationID string
}

// FailedPayload is published on outbox.failed.
type FailedPayload struct {
	LocalID        string
	ConversationID string
	RetryCount     int
	Parked         bool
	Err            string
}

// NewSweeper creates a sweeper. It registers itself with the connectivity
// monitor so a restored connection triggers an immediate sweep.
func NewSweeper(db *store.DB, sender RemoteSender, conn Connectivity, b *bus.Bus, logger *zap.Logger, cfg Config) *Sweeper {
	s := &Sweeper{
		db:     db,
		sender: sender,
		conn:   conn,
		bus:    b,
		logger: logger,
		cfg:    cfg,
		kick:   make(chan struct{}, 1),
	}
	conn.OnRestore(s.Kick)
	return s
}

// Start launches the periodic sweep loop. Rows a previous run left claimed
// as sending (crash between claim and outcome) are returned to pending
// first; otherwise they would be invisible to every sweep and listing.
func (s *Sweeper) Start(ctx context.Context) {
	if n, err := s.db.RecoverSending(); err != nil {
		s.logger.Error("failed to recover interrupted sends", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("recovered interrupted sends", zap.Int64("rows", n))
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// Kick schedules an immediate sweep.
func (s *Sweeper) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Retry returns one parked message to the pending queue with a fresh retry
// budget and schedules a sweep.
func (s *Sweeper) Retry(localID string) error {
	if err := s.db.ResetForRetry(localID); err != nil {
		return err
	}
	s.Kick()
	return nil
}

// RetryAll returns every parked message to the pending queue.
func (s *Sweeper) RetryAll() error {
	if err := s.db.ResetAllFailed(); err != nil {
		return err
	}
	s.Kick()
	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.kick:
			s.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep replays pending messages oldest-first. The sweep stops at the first
// message that fails or is still inside its backoff window, preserving the
// original send order.
func (s *Sweeper) Sweep(ctx context.Context) {
	if !s.conn.IsOnline() {
		return
	}

	pending, err := s.db.Pending()
	if err != nil {
		s.logger.Error("failed to read offline queue", zap.Error(err))
		return
	}

	now := time.Now()
	for i := range pending {
		msg := &pending[i]
		if !s.eligible(msg, now) {
			return
		}
		if !s.sendOne(ctx, msg) {
			return
		}
	}
}

// eligible reports whether a message's backoff window has elapsed. Delay
// doubles per attempt from RetryBase up to RetryCap.
func (s *Sweeper) eligible(msg *store.OfflineMessage, now time.Time) bool {
	if msg.RetryCount == 0 {
		return true
	}
	delay := s.cfg.RetryBase << (msg.RetryCount - 1)
	if delay > s.cfg.RetryCap || delay <= 0 {
		delay = s.cfg.RetryCap
	}
	next := time.UnixMilli(msg.LastRetryAt).Add(delay)
	return !now.Before(next)
}

func (s *Sweeper) sendOne(ctx context.Context, msg *store.OfflineMessage) bool {
	if err := s.db.MarkSending(msg.LocalID); err != nil {
		s.logger.Error("failed to claim queued message", zap.Error(err), zap.String("local_id", msg.LocalID))
		return false
	}

	serverID, err := s.sender.SendQueued(ctx, msg)
	if err != nil {
		s.logger.Warn("queued message send failed",
			zap.Error(err),
			zap.String("local_id", msg.LocalID),
			zap.Int("retry_count", msg.RetryCount+1),
		)
		if dberr := s.db.RecordFailure(msg.LocalID, s.cfg.MaxRetries, time.Now()); dberr != nil {
			s.logger.Error("failed to record retry", zap.Error(dberr), zap.String("local_id", msg.LocalID))
		}
		parked := msg.RetryCount+1 >= s.cfg.MaxRetries
		s.bus.Publish(bus.Event{
			Kind:      bus.KindOutboxFailed,
			Timestamp: time.Now(),
			Payload: FailedPayload{
				LocalID:        msg.LocalID,
				ConversationID: msg.ConversationID,
				RetryCount:     msg.RetryCount + 1,
				Parked:         parked,
				Err:            err.Error(),
			},
		})
		return false
	}

	if err := s.db.Remove(msg.LocalID); err != nil {
		s.logger.Error("failed to remove sent message", zap.Error(err), zap.String("local_id", msg.LocalID))
	}

	s.logger.Info("queued message sent",
		zap.String("local_id", msg.LocalID),
		zap.String("server_id", serverID),
	)
	s.bus.Publish(bus.Event{
		Kind:      bus.KindOutboxSent,
		Timestamp: time.Now(),
		Payload: SentPayload{
			LocalID:        msg.LocalID,
			ServerID:       serverID,
			ConversationID: msg.ConversationID,
		},
	})
	return true
}
