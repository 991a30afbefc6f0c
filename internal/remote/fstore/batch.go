package fstore

import (
	"context"

	firestore "cloud.google.com/go/firestore"
	"github.com/famguard/chatsync/internal/remote"
	"google.golang.org/api/iterator"
)

// batch implements remote.Batch over a Firestore WriteBatch.
type batch struct {
	store *Store
	wb    *firestore.WriteBatch
	err   error
}

// Batch implements remote.Store.
func (s *Store) Batch() remote.Batch {
	return &batch{store: s, wb: s.client.Batch()}
}

func (b *batch) Create(collection string, data map[string]any) string {
	ref := b.store.client.Collection(collection).NewDoc()
	b.wb.Set(ref, translateData(data))
	return ref.ID
}

func (b *batch) Set(path string, data map[string]any) {
	ref, err := b.store.ref(path)
	if err != nil {
		b.err = err
		return
	}
	b.wb.Set(ref, translateData(data))
}

func (b *batch) Merge(path string, data map[string]any) {
	ref, err := b.store.ref(path)
	if err != nil {
		b.err = err
		return
	}
	b.wb.Set(ref, translateData(data), firestore.MergeAll)
}

func (b *batch) Update(path string, fields map[string]any) {
	ref, err := b.store.ref(path)
	if err != nil {
		b.err = err
		return
	}
	b.wb.Update(ref, translateUpdates(fields))
}

func (b *batch) Delete(path string) {
	ref, err := b.store.ref(path)
	if err != nil {
		b.err = err
		return
	}
	b.wb.Delete(ref)
}

func (b *batch) Commit(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	_, err := b.wb.Commit(ctx)
	return err
}

// tx implements remote.Tx over a Firestore transaction.
type tx struct {
	store *Store
	t     *firestore.Transaction
}

// RunTransaction implements remote.Store.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx remote.Tx) error) error {
	return s.client.RunTransaction(ctx, func(_ context.Context, t *firestore.Transaction) error {
		return fn(&tx{store: s, t: t})
	})
}

func (t *tx) Get(path string) (remote.Doc, error) {
	ref, err := t.store.ref(path)
	if err != nil {
		return remote.Doc{}, err
	}
	snap, err := t.t.Get(ref)
	if err != nil {
		return remote.Doc{}, err
	}
	return docFromSnapshot(snap), nil
}

func (t *tx) Query(q remote.Query) ([]remote.Doc, error) {
	it := t.t.Documents(t.store.translateQuery(q))
	defer it.Stop()

	var docs []remote.Doc
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, docFromSnapshot(snap))
	}
	return docs, nil
}

func (t *tx) Create(collection string, data map[string]any) string {
	ref := t.store.client.Collection(collection).NewDoc()
	_ = t.t.Set(ref, translateData(data))
	return ref.ID
}

func (t *tx) Set(path string, data map[string]any) {
	if ref, err := t.store.ref(path); err == nil {
		_ = t.t.Set(ref, translateData(data))
	}
}

func (t *tx) Update(path string, fields map[string]any) {
	if ref, err := t.store.ref(path); err == nil {
		_ = t.t.Update(ref, translateUpdates(fields))
	}
}

func (t *tx) Delete(path string) {
	if ref, err := t.store.ref(path); err == nil {
		_ = t.t.Delete(ref)
	}
}
