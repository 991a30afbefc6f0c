// Package remote defines the port to the Firestore-shaped document store:
// documents addressed by "collection/id" paths, equality/array-contains
// queries with ordering, atomic multi-document batches, transactions, and
// live snapshot subscriptions. Two bindings exist: memstore (in-memory, used
// by tests and local development) and fstore (Cloud Firestore).
package remote

import "time"

// Doc is a point-in-time view of a document.
type Doc struct {
	Path string // "collection/id"
	ID   string
	Data map[string]any
}

// Exists reports whether the document was present when read.
func (d Doc) Exists() bool {
	return d.Data != nil
}

// String returns a string field, or "" when absent or mistyped.
func (d Doc) String(field string) string {
	s, _ := d.Data[field].(string)
	return s
}

// Bool returns a bool field, or false when absent.
func (d Doc) Bool(field string) bool {
	b, _ := d.Data[field].(bool)
	return b
}

// Int64 returns an integer field, tolerating the int/int64/float64 variants
// different decoders produce.
func (d Doc) Int64(field string) int64 {
	switch v := d.Data[field].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Float64 returns a float field, or 0 when absent.
func (d Doc) Float64(field string) float64 {
	switch v := d.Data[field].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

// Time returns a timestamp field, or the zero time when absent.
func (d Doc) Time(field string) time.Time {
	t, _ := d.Data[field].(time.Time)
	return t
}

// Strings returns a string-array field regardless of whether the binding
// decoded it as []string or []any.
func (d Doc) Strings(field string) []string {
	switch v := d.Data[field].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Map returns a nested map field, or nil when absent.
func (d Doc) Map(field string) map[string]any {
	m, _ := d.Data[field].(map[string]any)
	return m
}
