package fstore

import (
	"context"

	"github.com/famguard/chatsync/internal/remote"
	"google.golang.org/api/iterator"
)

type subscription struct {
	ch     chan remote.Snapshot
	cancel context.CancelFunc
}

// Subscribe implements remote.Store. The SDK retries transient stream
// failures internally; an error surfacing from the snapshot iterator is
// terminal, so it is forwarded once and the channel is closed.
func (s *Store) Subscribe(ctx context.Context, q remote.Query) remote.Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		ch:     make(chan remote.Snapshot, 64),
		cancel: cancel,
	}

	it := s.translateQuery(q).Snapshots(ctx)
	go func() {
		defer close(sub.ch)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if ctx.Err() == nil {
					sub.ch <- remote.Snapshot{Err: err}
				}
				return
			}

			var docs []remote.Doc
			docIt := qs.Documents
			for {
				d, err := docIt.Next()
				if err == iterator.Done {
					break
				}
				if err != nil {
					break
				}
				docs = append(docs, docFromSnapshot(d))
			}

			select {
			case sub.ch <- remote.Snapshot{Docs: docs}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub
}

func (sub *subscription) Snapshots() <-chan remote.Snapshot {
	return sub.ch
}

func (sub *subscription) Unsubscribe() {
	sub.cancel()
}
