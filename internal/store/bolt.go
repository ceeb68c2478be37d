package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var collections = []string{Schedules, DeliveryLog, OutreachRecords}

// BoltStore implements Store on a single BoltDB file, one bucket per
// collection, documents stored as JSON.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database at path and ensures all
// collection buckets exist.
func NewBoltStore(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, c := range collections {
			if _, err := tx.CreateBucketIfNotExists([]byte(c)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", c, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Get decodes the document with the given id into out.
func (s *BoltStore) Get(ctx context.Context, collection, id string, out any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return fmt.Errorf("unknown collection %q", collection)
		}
		raw := bucket.Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode document %s/%s: %w", collection, id, err)
		}
		return nil
	})
}

// Put stores doc under id, replacing any existing document.
func (s *BoltStore) Put(ctx context.Context, collection, id string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s/%s: %w", collection, id, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return fmt.Errorf("unknown collection %q", collection)
		}
		return bucket.Put([]byte(id), data)
	})
}

// Update applies fn to the stored document inside one write transaction.
// The re-read inside the transaction is what gives single-writer components
// their optimistic guard against overlapping invocations.
func (s *BoltStore) Update(ctx context.Context, collection, id string, fn func(raw []byte) (any, error)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return fmt.Errorf("unknown collection %q", collection)
		}
		raw := bucket.Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		doc, err := fn(raw)
		if err != nil {
			return err
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode document %s/%s: %w", collection, id, err)
		}
		return bucket.Put([]byte(id), data)
	})
}

// Scan walks the collection in key order.
func (s *BoltStore) Scan(ctx context.Context, collection string, fn func(id string, raw []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return fmt.Errorf("unknown collection %q", collection)
		}
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := fn(string(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyBatch commits all mutations in a single write transaction.
func (s *BoltStore) ApplyBatch(ctx context.Context, muts []Mutation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, m := range muts {
			bucket := tx.Bucket([]byte(m.Collection))
			if bucket == nil {
				return fmt.Errorf("unknown collection %q", m.Collection)
			}
			data, err := json.Marshal(m.Doc)
			if err != nil {
				return fmt.Errorf("failed to encode document %s/%s: %w", m.Collection, m.ID, err)
			}
			if err := bucket.Put([]byte(m.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
