// Package fstore binds the remote store port to Cloud Firestore. It is a
// thin translation layer: paths to document refs, the port's field
// transforms to the SDK's sentinels, and query snapshots to the port's
// subscription channel. Firestore already reports failures as gRPC status
// codes, so errors pass through untouched.
package fstore

import (
	"context"
	"fmt"
	"strings"

	firestore "cloud.google.com/go/firestore"
	"github.com/famguard/chatsync/internal/remote"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Store is a Firestore-backed remote store.
type Store struct {
	client *firestore.Client
}

// New connects to the given Firestore project. credentialsFile may be empty
// to use application default credentials.
func New(ctx context.Context, projectID, credentialsFile string) (*Store, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &Store{client: client}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) ref(path string) (*firestore.DocumentRef, error) {
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("malformed document path %q", path)
	}
	return s.client.Collection(parts[0]).Doc(parts[1]), nil
}

// Get implements remote.Store.
func (s *Store) Get(ctx context.Context, path string) (remote.Doc, error) {
	ref, err := s.ref(path)
	if err != nil {
		return remote.Doc{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return remote.Doc{}, err
	}
	return docFromSnapshot(snap), nil
}

// Create implements remote.Store.
func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	ref := s.client.Collection(collection).NewDoc()
	if _, err := ref.Set(ctx, translateData(data)); err != nil {
		return "", err
	}
	return ref.ID, nil
}

// Set implements remote.Store.
func (s *Store) Set(ctx context.Context, path string, data map[string]any) error {
	ref, err := s.ref(path)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, translateData(data))
	return err
}

// Update implements remote.Store.
func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	ref, err := s.ref(path)
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, translateUpdates(fields))
	return err
}

// Delete implements remote.Store.
func (s *Store) Delete(ctx context.Context, path string) error {
	ref, err := s.ref(path)
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx)
	return err
}

// Query implements remote.Store.
func (s *Store) Query(ctx context.Context, q remote.Query) ([]remote.Doc, error) {
	it := s.translateQuery(q).Documents(ctx)
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

func (s *Store) translateQuery(q remote.Query) firestore.Query {
	fq := s.client.Collection(q.Collection).Query
	for _, f := range q.Filters {
		fq = fq.Where(f.Field, string(f.Op), f.Value)
	}
	if q.OrderField != "" {
		dir := firestore.Asc
		if q.Desc {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(q.OrderField, dir)
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq
}

func docFromSnapshot(snap *firestore.DocumentSnapshot) remote.Doc {
	return remote.Doc{
		Path: snap.Ref.Parent.ID + "/" + snap.Ref.ID,
		ID:   snap.Ref.ID,
		Data: snap.Data(),
	}
}

// translateData maps the port's field transforms to the SDK sentinels.
func translateData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = translateValue(v)
	}
	return out
}

func translateValue(v any) any {
	switch t := v.(type) {
	case remote.ServerTimestampValue:
		return firestore.ServerTimestamp
	case remote.ArrayUnionValue:
		return firestore.ArrayUnion(t.Values...)
	case remote.ArrayRemoveValue:
		return firestore.ArrayRemove(t.Values...)
	case remote.IncrementValue:
		return firestore.Increment(t.N)
	case map[string]any:
		return translateData(t)
	}
	return v
}

func translateUpdates(fields map[string]any) []firestore.Update {
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		updates = append(updates, firestore.Update{Path: k, Value: translateValue(v)})
	}
	return updates
}
