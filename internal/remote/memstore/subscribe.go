package memstore

import (
	"context"

	"github.com/famguard/chatsync/internal/remote"
)

// Subscribe implements remote.Store. The initial snapshot is delivered
// before Subscribe returns; subsequent snapshots follow every commit that
// touches the queried collection.
func (s *Store) Subscribe(_ context.Context, q remote.Query) remote.Subscription {
	sub := &subscription{
		store: s,
		query: q,
		ch:    make(chan remote.Snapshot, 64),
	}

	s.mu.Lock()
	sub.id = s.nextSub
	s.nextSub++
	s.subs[sub.id] = sub
	initial := remote.Snapshot{Docs: s.evaluate(q)}
	if s.readErr != nil {
		initial = remote.Snapshot{Err: s.readErr}
	}
	s.mu.Unlock()

	sub.deliver(initial)
	return sub
}

func (sub *subscription) Snapshots() <-chan remote.Snapshot {
	return sub.ch
}

func (sub *subscription) Unsubscribe() {
	sub.store.mu.Lock()
	delete(sub.store.subs, sub.id)
	sub.store.mu.Unlock()
}

// deliver is non-blocking: a consumer that stopped draining loses snapshots
// rather than wedging writers. The next commit delivers full state again, so
// a dropped snapshot is not lost information.
func (sub *subscription) deliver(snap remote.Snapshot) {
	select {
	case sub.ch <- snap:
	default:
	}
}
