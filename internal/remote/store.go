package remote

import "context"

// Field transform sentinels, usable as values in Set/Update/batch data maps.

// ServerTimestampValue marks a field to be filled with the store's time at
// commit.
type ServerTimestampValue struct{}

// ServerTimestamp is the sentinel instance.
var ServerTimestamp = ServerTimestampValue{}

// ArrayUnionValue appends the given elements to an array field, skipping
// elements already present.
type ArrayUnionValue struct{ Values []any }

// ArrayUnion builds an array-union transform.
func ArrayUnion(values ...any) ArrayUnionValue {
	return ArrayUnionValue{Values: values}
}

// ArrayRemoveValue removes the given elements from an array field.
type ArrayRemoveValue struct{ Values []any }

// ArrayRemove builds an array-remove transform.
func ArrayRemove(values ...any) ArrayRemoveValue {
	return ArrayRemoveValue{Values: values}
}

// IncrementValue adds N to a numeric field.
type IncrementValue struct{ N int64 }

// Increment builds a numeric increment transform.
func Increment(n int64) IncrementValue {
	return IncrementValue{N: n}
}

// Op is a query comparison operator.
type Op string

const (
	OpEqual         Op = "=="
	OpLess          Op = "<"
	OpLessEqual     Op = "<="
	OpGreater       Op = ">"
	OpGreaterEqual  Op = ">="
	OpArrayContains Op = "array-contains"
)

// Filter is a single query predicate.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query selects documents from one collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderField string
	Desc       bool
	Limit      int
}

// NewQuery starts a query on a collection.
func NewQuery(collection string) Query {
	return Query{Collection: collection}
}

// Where appends a predicate.
func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(q.Filters[:len(q.Filters):len(q.Filters)], Filter{Field: field, Op: op, Value: value})
	return q
}

// OrderBy sets the ordering field and direction.
func (q Query) OrderBy(field string, desc bool) Query {
	q.OrderField = field
	q.Desc = desc
	return q
}

// LimitTo caps the result count.
func (q Query) LimitTo(n int) Query {
	q.Limit = n
	return q
}

// Snapshot is one delivery of a live query: the full current result set, or
// an error. Errors do not close the subscription; consumers decide whether a
// given error class is terminal (see IsPermissionDenied).
type Snapshot struct {
	Docs []Doc
	Err  error
}

// Subscription is a live query registration. Snapshots delivers the initial
// state and every subsequent change until Unsubscribe.
type Subscription interface {
	Snapshots() <-chan Snapshot
	Unsubscribe()
}

// Batch accumulates mutations applied atomically at Commit: all or none.
type Batch interface {
	// Create inserts a new document with a generated id, returned immediately.
	Create(collection string, data map[string]any) (id string)
	Set(path string, data map[string]any)
	// Merge writes only the named fields, creating the document when missing
	// and leaving other fields intact. Unlike an exists-check-then-write,
	// transforms like Increment apply correctly under concurrent creation.
	Merge(path string, data map[string]any)
	Update(path string, fields map[string]any)
	Delete(path string)
	Commit(ctx context.Context) error
}

// Tx is the handle passed to a transaction function. Reads observe a
// consistent view; writes are buffered and applied atomically on success.
type Tx interface {
	Get(path string) (Doc, error)
	Query(q Query) ([]Doc, error)
	Create(collection string, data map[string]any) (id string)
	Set(path string, data map[string]any)
	Update(path string, fields map[string]any)
	Delete(path string)
}

// Store is the document store port.
type Store interface {
	Get(ctx context.Context, path string) (Doc, error)
	Create(ctx context.Context, collection string, data map[string]any) (string, error)
	Set(ctx context.Context, path string, data map[string]any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	Query(ctx context.Context, q Query) ([]Doc, error)
	Batch() Batch
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
	Subscribe(ctx context.Context, q Query) Subscription
}
