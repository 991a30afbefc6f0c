// Package presence maintains the user's own presence heartbeat and typing
// indicators, and observes other users' records with staleness guards: a
// crashed client that never cleared its flag must still read as offline.
package presence

import (
	"time"

	"github.com/famguard/chatsync/internal/bus"
	"github.com/famguard/chatsync/internal/remote"
	"go.uber.org/zap"
)

// Config tunes the subsystem's clocks and windows.
type Config struct {
	Heartbeat  time.Duration
	TypingTTL  time.Duration
	Window     time.Duration
	DeviceInfo string
}

// Service owns presence and typing for one authenticated user.
type Service struct {
	store  remote.Store
	bus    *bus.Bus
	logger *zap.Logger
	uid    string
	cfg    Config
	now    func() time.Time

	heartbeatCancel func()
	heartbeatDone   chan struct{}
}

// New creates a presence service acting as uid.
func New(st remote.Store, b *bus.Bus, logger *zap.Logger, uid string, cfg Config) *Service {
	return &Service{
		store:  st,
		bus:    b,
		logger: logger,
		uid:    uid,
		cfg:    cfg,
		now:    time.Now,
	}
}

func typingPath(conversationID, uid string) string {
	return "typing/" + conversationID + "_" + uid
}

func presencePath(uid string) string {
	return "userStatus/" + uid
}
