// Package version implements the optimistic-concurrency primitive guarding
// message mutations. A writer presents the version it last read; a higher
// stored version means a concurrent writer won, and the update is re-derived
// through a merge resolver and retried against the new version. Retries are
// bounded so two racing writers cannot live-lock.
package version

import (
	"context"
	"errors"
	"fmt"

	"github.com/famguard/chatsync/internal/remote"
)

// ErrConflictUnresolvable is returned when the bounded retry budget is
// exhausted without a successful write.
var ErrConflictUnresolvable = errors.New("version conflict unresolvable")

// DefaultAttempts bounds the conflict-resolution retry loop.
const DefaultAttempts = 3

// Resolver merges a losing writer's updates with the document the winning
// writer produced, returning the field set to retry with.
type Resolver func(local map[string]any, remoteDoc map[string]any) map[string]any

// errConflict signals a version mismatch out of the transaction closure.
var errConflict = errors.New("version mismatch")

// Guard applies version-checked updates against a store.
type Guard struct {
	store    remote.Store
	attempts int
}

// NewGuard creates a guard. attempts <= 0 selects DefaultAttempts.
func NewGuard(store remote.Store, attempts int) *Guard {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	return &Guard{store: store, attempts: attempts}
}

// Update applies updates to the document at path if its stored version equals
// expectedVersion, atomically bumping version by exactly one. On a conflict
// the resolver recomputes the field set against the winning document and the
// write retries with the new version. Returns the applied fields.
func (g *Guard) Update(ctx context.Context, path string, updates map[string]any, expectedVersion int64, resolve Resolver) (map[string]any, error) {
	expected := expectedVersion
	fields := updates

	for attempt := 0; attempt < g.attempts; attempt++ {
		var applied map[string]any
		var winner remote.Doc

		err := g.store.RunTransaction(ctx, func(tx remote.Tx) error {
			doc, err := tx.Get(path)
			if err != nil {
				return err
			}
			current := doc.Int64("version")
			if current == expected {
				applied = make(map[string]any, len(fields)+1)
				for k, v := range fields {
					applied[k] = v
				}
				applied["version"] = expected + 1
				tx.Update(path, applied)
				return nil
			}
			if current < expected {
				// Versions only increase; a lower stored version means the
				// caller read from somewhere this document never was.
				return fmt.Errorf("document %s at version %d, expected %d: %w", path, current, expected, ErrConflictUnresolvable)
			}
			winner = doc
			return errConflict
		})

		if err == nil {
			return applied, nil
		}
		if !errors.Is(err, errConflict) {
			return nil, err
		}
		if resolve == nil {
			return nil, fmt.Errorf("document %s: concurrent write at version %d: %w", path, winner.Int64("version"), ErrConflictUnresolvable)
		}
		fields = resolve(fields, winner.Data)
		expected = winner.Int64("version")
	}

	return nil, fmt.Errorf("document %s: retries exhausted after %d attempts: %w", path, g.attempts, ErrConflictUnresolvable)
}
