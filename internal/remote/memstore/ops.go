package memstore

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/famguard/chatsync/internal/remote"
	"github.com/google/uuid"
)

type opKind int

const (
	opSet opKind = iota
	opMerge
	opUpdate
	opDelete
)

type op struct {
	kind opKind
	coll string
	id   string
	data map[string]any
}

// commit validates and applies a set of ops atomically, then notifies
// subscriptions on the touched collections. All or none: validation happens
// before the first mutation.
func (s *Store) commit(ops []op) error {
	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return err
	}
	if err := s.validateOps(ops); err != nil {
		s.mu.Unlock()
		return err
	}
	deliveries := s.applyLocked(ops)
	s.mu.Unlock()

	for _, d := range deliveries {
		d.sub.deliver(d.snap)
	}
	return nil
}

// validateOps checks every op against current state so a failing op leaves
// nothing partially applied. Callers hold s.mu.
func (s *Store) validateOps(ops []op) error {
	for _, o := range ops {
		if o.kind == opUpdate {
			if _, ok := s.colls[o.coll][o.id]; !ok {
				return remote.NotFoundErr(o.coll + "/" + o.id)
			}
		}
	}
	return nil
}

type delivery struct {
	sub  *subscription
	snap remote.Snapshot
}

// applyLocked mutates state and snapshots the affected subscriptions.
// Callers hold s.mu and deliver the returned snapshots after release.
func (s *Store) applyLocked(ops []op) []delivery {
	now := s.now()
	touched := make(map[string]bool)
	for _, o := range ops {
		touched[o.coll] = true
		switch o.kind {
		case opSet:
			doc := make(map[string]any, len(o.data))
			for k, v := range o.data {
				setField(doc, k, resolveTransform(v, nil, now))
			}
			if s.colls[o.coll] == nil {
				s.colls[o.coll] = make(map[string]map[string]any)
			}
			s.colls[o.coll][o.id] = doc
		case opMerge:
			doc, ok := s.colls[o.coll][o.id]
			if !ok {
				doc = make(map[string]any, len(o.data))
				if s.colls[o.coll] == nil {
					s.colls[o.coll] = make(map[string]map[string]any)
				}
				s.colls[o.coll][o.id] = doc
			}
			for k, v := range o.data {
				setField(doc, k, resolveTransform(v, lookupField(doc, k), now))
			}
		case opUpdate:
			doc := s.colls[o.coll][o.id]
			for k, v := range o.data {
				setField(doc, k, resolveTransform(v, lookupField(doc, k), now))
			}
		case opDelete:
			delete(s.colls[o.coll], o.id)
		}
	}

	var deliveries []delivery
	for _, sub := range s.subs {
		if touched[sub.query.Collection] {
			deliveries = append(deliveries, delivery{sub, remote.Snapshot{Docs: s.evaluate(sub.query)}})
		}
	}
	return deliveries
}

// resolveTransform turns a field transform sentinel into a concrete value.
func resolveTransform(v, existing any, now time.Time) any {
	switch t := v.(type) {
	case remote.ServerTimestampValue:
		return now
	case remote.ArrayUnionValue:
		arr := toAnySlice(existing)
		for _, e := range t.Values {
			if !arrayContains(arr, e) {
				arr = append(arr, e)
			}
		}
		return arr
	case remote.ArrayRemoveValue:
		arr := toAnySlice(existing)
		out := make([]any, 0, len(arr))
		for _, e := range arr {
			if !arrayContains(t.Values, e) {
				out = append(out, e)
			}
		}
		return out
	case remote.IncrementValue:
		base, _ := toFloat(existing)
		return int64(base) + t.N
	case map[string]any:
		nested := make(map[string]any, len(t))
		for k, e := range t {
			nested[k] = resolveTransform(e, nil, now)
		}
		return nested
	}
	return copyValue(v)
}

func toAnySlice(v any) []any {
	switch arr := v.(type) {
	case []any:
		return append([]any(nil), arr...)
	case []string:
		out := make([]any, len(arr))
		for i, e := range arr {
			out[i] = e
		}
		return out
	}
	return nil
}

// setField writes a possibly dotted field path, creating intermediate maps.
func setField(doc map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	for len(parts) > 1 {
		next, ok := doc[parts[0]].(map[string]any)
		if !ok {
			next = make(map[string]any)
			doc[parts[0]] = next
		}
		doc = next
		parts = parts[1:]
	}
	doc[parts[0]] = v
}

// lookupField reads a possibly dotted field path.
func lookupField(doc map[string]any, path string) any {
	parts := strings.Split(path, ".")
	for len(parts) > 1 {
		next, ok := doc[parts[0]].(map[string]any)
		if !ok {
			return nil
		}
		doc = next
		parts = parts[1:]
	}
	return doc[parts[0]]
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}

// batch implements remote.Batch.
type batch struct {
	store *Store
	ops   []op
}

// Batch implements remote.Store.
func (s *Store) Batch() remote.Batch {
	return &batch{store: s}
}

func (b *batch) Create(collection string, data map[string]any) string {
	id := uuid.NewString()
	b.ops = append(b.ops, op{kind: opSet, coll: collection, id: id, data: data})
	return id
}

func (b *batch) Set(path string, data map[string]any) {
	coll, id, err := splitPath(path)
	if err != nil {
		return
	}
	b.ops = append(b.ops, op{kind: opSet, coll: coll, id: id, data: data})
}

func (b *batch) Merge(path string, data map[string]any) {
	coll, id, err := splitPath(path)
	if err != nil {
		return
	}
	b.ops = append(b.ops, op{kind: opMerge, coll: coll, id: id, data: data})
}

func (b *batch) Update(path string, fields map[string]any) {
	coll, id, err := splitPath(path)
	if err != nil {
		return
	}
	b.ops = append(b.ops, op{kind: opUpdate, coll: coll, id: id, data: fields})
}

func (b *batch) Delete(path string) {
	coll, id, err := splitPath(path)
	if err != nil {
		return
	}
	b.ops = append(b.ops, op{kind: opDelete, coll: coll, id: id})
}

func (b *batch) Commit(_ context.Context) error {
	ops := b.ops
	b.ops = nil
	return b.store.commit(ops)
}

// tx implements remote.Tx with optimistic concurrency. Reads observe
// committed state and are recorded; at commit every read is re-validated
// under the store lock, and any document that changed since the transaction
// read it aborts the attempt.
type tx struct {
	store      *Store
	ops        []op
	docReads   []docRead
	queryReads []queryRead
}

type docRead struct {
	coll, id string
	existed  bool
	data     map[string]any
}

type queryRead struct {
	query remote.Query
	docs  []remote.Doc
}

// errTxConflict aborts a commit whose read set went stale.
var errTxConflict = errors.New("transaction read set stale")

// txAttempts bounds the re-run loop under contention.
const txAttempts = 5

// RunTransaction implements remote.Store. The function is re-run when a
// concurrent commit invalidates something it read, so a stale read can never
// be silently overwritten.
func (s *Store) RunTransaction(_ context.Context, fn func(tx remote.Tx) error) error {
	for attempt := 0; attempt < txAttempts; attempt++ {
		t := &tx{store: s}
		if err := fn(t); err != nil {
			return err
		}
		err := s.commitTx(t)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errTxConflict) {
			return err
		}
	}
	return remote.AbortedErr("transaction retries exhausted after %d attempts", txAttempts)
}

// commitTx applies a transaction's staged ops if its read set still matches
// committed state.
func (s *Store) commitTx(t *tx) error {
	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return err
	}
	if !s.readsCurrentLocked(t) {
		s.mu.Unlock()
		return errTxConflict
	}
	if err := s.validateOps(t.ops); err != nil {
		s.mu.Unlock()
		return err
	}
	deliveries := s.applyLocked(t.ops)
	s.mu.Unlock()

	for _, d := range deliveries {
		d.sub.deliver(d.snap)
	}
	return nil
}

// readsCurrentLocked reports whether every document and query result the
// transaction observed is unchanged. Callers hold s.mu.
func (s *Store) readsCurrentLocked(t *tx) bool {
	for _, r := range t.docReads {
		current, ok := s.colls[r.coll][r.id]
		if ok != r.existed {
			return false
		}
		if ok && !reflect.DeepEqual(current, r.data) {
			return false
		}
	}
	for _, r := range t.queryReads {
		current := s.evaluate(r.query)
		if len(current) != len(r.docs) {
			return false
		}
		for i := range current {
			if current[i].ID != r.docs[i].ID || !reflect.DeepEqual(current[i].Data, r.docs[i].Data) {
				return false
			}
		}
	}
	return true
}

func (t *tx) Get(path string) (remote.Doc, error) {
	coll, id, err := splitPath(path)
	if err != nil {
		return remote.Doc{}, err
	}
	t.store.mu.Lock()
	if t.store.readErr != nil {
		err := t.store.readErr
		t.store.mu.Unlock()
		return remote.Doc{}, err
	}
	data, ok := t.store.colls[coll][id]
	rec := docRead{coll: coll, id: id, existed: ok}
	if ok {
		rec.data = copyMap(data)
	}
	t.store.mu.Unlock()
	t.docReads = append(t.docReads, rec)

	if !ok {
		return remote.Doc{}, remote.NotFoundErr(path)
	}
	return remote.Doc{Path: path, ID: id, Data: copyMap(rec.data)}, nil
}

func (t *tx) Query(q remote.Query) ([]remote.Doc, error) {
	docs, err := t.store.Query(context.Background(), q)
	if err != nil {
		return nil, err
	}
	t.queryReads = append(t.queryReads, queryRead{query: q, docs: docs})
	return docs, nil
}

func (t *tx) Create(collection string, data map[string]any) string {
	id := uuid.NewString()
	t.ops = append(t.ops, op{kind: opSet, coll: collection, id: id, data: data})
	return id
}

func (t *tx) Set(path string, data map[string]any) {
	coll, id, err := splitPath(path)
	if err != nil {
		return
	}
	t.ops = append(t.ops, op{kind: opSet, coll: coll, id: id, data: data})
}

func (t *tx) Update(path string, fields map[string]any) {
	coll, id, err := splitPath(path)
	if err != nil {
		return
	}
	t.ops = append(t.ops, op{kind: opUpdate, coll: coll, id: id, data: fields})
}

func (t *tx) Delete(path string) {
	coll, id, err := splitPath(path)
	if err != nil {
		return
	}
	t.ops = append(t.ops, op{kind: opDelete, coll: coll, id: id})
}
