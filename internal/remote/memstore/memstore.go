// Package memstore is the in-memory binding of the remote store port. It
// implements the full contract the engine depends on: atomic batches,
// transactions, array-union/remove and increment transforms, strictly
// increasing server timestamps, and live query subscriptions. Tests and
// local development run against it; production binds fstore instead.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/famguard/chatsync/internal/remote"
	"github.com/google/uuid"
)

// Store is an in-memory document store.
type Store struct {
	mu      sync.Mutex
	colls   map[string]map[string]map[string]any
	subs    map[int]*subscription
	nextSub int
	lastTS  time.Time

	writeErr error
	readErr  error
}

type subscription struct {
	store *Store
	id    int
	query remote.Query
	ch    chan remote.Snapshot
}

// New creates an empty store.
func New() *Store {
	return &Store{
		colls: make(map[string]map[string]map[string]any),
		subs:  make(map[int]*subscription),
	}
}

// FailWrites makes every subsequent mutation (single write, batch commit,
// transaction) fail with err until cleared with nil. Used by tests to
// simulate store-side rejection and crash-mid-batch scenarios.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

// FailReads makes every subsequent Get/Query fail with err until cleared.
func (s *Store) FailReads(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

// EmitSnapshotError delivers an error snapshot to every live subscription on
// the given collection, simulating a listener-side failure.
func (s *Store) EmitSnapshotError(collection string, err error) {
	s.mu.Lock()
	var targets []*subscription
	for _, sub := range s.subs {
		if sub.query.Collection == collection {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()
	for _, sub := range targets {
		sub.deliver(remote.Snapshot{Err: err})
	}
}

func splitPath(path string) (coll, id string, err error) {
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed document path %q", path)
	}
	return parts[0], parts[1], nil
}

// now returns a strictly increasing server timestamp. Callers hold s.mu.
func (s *Store) now() time.Time {
	t := time.Now()
	if !t.After(s.lastTS) {
		t = s.lastTS.Add(time.Microsecond)
	}
	s.lastTS = t
	return t
}

// Get implements remote.Store.
func (s *Store) Get(_ context.Context, path string) (remote.Doc, error) {
	coll, id, err := splitPath(path)
	if err != nil {
		return remote.Doc{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return remote.Doc{}, s.readErr
	}
	data, ok := s.colls[coll][id]
	if !ok {
		return remote.Doc{}, remote.NotFoundErr(path)
	}
	return remote.Doc{Path: path, ID: id, Data: copyMap(data)}, nil
}

// Create implements remote.Store.
func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.NewString()
	err := s.commit([]op{{kind: opSet, coll: collection, id: id, data: data}})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Set implements remote.Store.
func (s *Store) Set(_ context.Context, path string, data map[string]any) error {
	coll, id, err := splitPath(path)
	if err != nil {
		return err
	}
	return s.commit([]op{{kind: opSet, coll: coll, id: id, data: data}})
}

// Update implements remote.Store. Fails with NotFound when the document does
// not exist, matching Firestore update semantics.
func (s *Store) Update(_ context.Context, path string, fields map[string]any) error {
	coll, id, err := splitPath(path)
	if err != nil {
		return err
	}
	return s.commit([]op{{kind: opUpdate, coll: coll, id: id, data: fields}})
}

// Delete implements remote.Store. Deleting a missing document is a no-op.
func (s *Store) Delete(_ context.Context, path string) error {
	coll, id, err := splitPath(path)
	if err != nil {
		return err
	}
	return s.commit([]op{{kind: opDelete, coll: coll, id: id}})
}

// Query implements remote.Store.
func (s *Store) Query(_ context.Context, q remote.Query) ([]remote.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.evaluate(q), nil
}

// evaluate runs a query against current state. Callers hold s.mu.
func (s *Store) evaluate(q remote.Query) []remote.Doc {
	var docs []remote.Doc
	for id, data := range s.colls[q.Collection] {
		if matches(data, q.Filters) {
			docs = append(docs, remote.Doc{
				Path: q.Collection + "/" + id,
				ID:   id,
				Data: copyMap(data),
			})
		}
	}
	if q.OrderField != "" {
		sort.SliceStable(docs, func(i, j int) bool {
			less := compare(docs[i].Data[q.OrderField], docs[j].Data[q.OrderField]) < 0
			if q.Desc {
				return !less && compare(docs[i].Data[q.OrderField], docs[j].Data[q.OrderField]) != 0
			}
			return less
		})
	} else {
		sort.SliceStable(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	}
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs
}

func matches(data map[string]any, filters []remote.Filter) bool {
	for _, f := range filters {
		v := lookupField(data, f.Field)
		switch f.Op {
		case remote.OpEqual:
			if !equalValues(v, f.Value) {
				return false
			}
		case remote.OpArrayContains:
			if !arrayContains(v, f.Value) {
				return false
			}
		case remote.OpLess:
			if compare(v, f.Value) >= 0 {
				return false
			}
		case remote.OpLessEqual:
			if compare(v, f.Value) > 0 {
				return false
			}
		case remote.OpGreater:
			if compare(v, f.Value) <= 0 {
				return false
			}
		case remote.OpGreaterEqual:
			if compare(v, f.Value) < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func arrayContains(v, want any) bool {
	switch arr := v.(type) {
	case []string:
		for _, e := range arr {
			if equalValues(e, want) {
				return true
			}
		}
	case []any:
		for _, e := range arr {
			if equalValues(e, want) {
				return true
			}
		}
	}
	return false
}

// equalValues is strict about types: a missing field never equals a filter
// value, and mismatched types never match.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

// compare orders the scalar types documents carry. Mixed or unknown types
// compare as equal so they sort stably rather than panicking.
func compare(a, b any) int {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	default:
		af, aok := toFloat(a)
		bf, bok := toFloat(b)
		if aok && bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
