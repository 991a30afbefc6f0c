// Package delivery enforces the per-message delivery lifecycle and records
// delivery and read receipts against the remote store.
package delivery

import (
	"fmt"
	"slices"

	"github.com/famguard/chatsync/internal/model"
)

// validTransitions defines allowed delivery state transitions. READ is
// terminal; FAILED only leaves via an explicit resend.
var validTransitions = map[model.DeliveryStatus][]model.DeliveryStatus{
	model.StatusSending:   {model.StatusSent, model.StatusDelivered, model.StatusRead, model.StatusFailed},
	model.StatusSent:      {model.StatusDelivered, model.StatusRead, model.StatusFailed},
	model.StatusDelivered: {model.StatusRead, model.StatusFailed},
	model.StatusRead:      {},
	model.StatusFailed:    {model.StatusSending},
}

// statusRank orders states by delivery progress. Receipts can arrive out of
// order; a receipt never moves a message backwards along this ranking.
var statusRank = map[model.DeliveryStatus]int{
	model.StatusSending:   0,
	model.StatusFailed:    0,
	model.StatusSent:      1,
	model.StatusDelivered: 2,
	model.StatusRead:      3,
}

// CanTransition reports whether a message may move from one delivery state to
// another.
func CanTransition(from, to model.DeliveryStatus) bool {
	return slices.Contains(validTransitions[from], to)
}

// checkTransition returns a descriptive error for a disallowed move.
func checkTransition(from, to model.DeliveryStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid delivery transition from %s to %s", from, to)
	}
	return nil
}
