package concurrency

import (
	"context"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketCalls = []byte("active_calls")

// BoltStore keeps reservations in a bbolt bucket per company.
// It is suitable for a single node.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates the store on an open bbolt database
func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCalls)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create active calls bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func encodeTime(t time.Time) []byte {
	return []byte(t.UTC().Format(time.RFC3339Nano))
}

func decodeTime(b []byte) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, string(b))
	return t
}

func activeCount(b *bolt.Bucket, since time.Time) int {
	n := 0
	b.ForEach(func(_, v []byte) error {
		if decodeTime(v).After(since) {
			n++
		}
		return nil
	})
	return n
}

func (s *BoltStore) Reserve(ctx context.Context, companyID, callID string, at, since time.Time, limit int) (bool, error) {
	reserved := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketCalls).CreateBucketIfNotExists([]byte(companyID))
		if err != nil {
			return err
		}
		if b.Get([]byte(callID)) != nil {
			reserved = true
			return nil
		}
		if limit > 0 && activeCount(b, since) >= limit {
			return nil
		}
		reserved = true
		return b.Put([]byte(callID), encodeTime(at))
	})
	if err != nil {
		return false, fmt.Errorf("failed to reserve call slot: %w", err)
	}
	return reserved, nil
}

func (s *BoltStore) Release(ctx context.Context, companyID, callID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCalls).Bucket([]byte(companyID))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(callID))
	})
	if err != nil {
		return fmt.Errorf("failed to release call slot: %w", err)
	}
	return nil
}

func (s *BoltStore) List(ctx context.Context, companyID string, since time.Time) ([]Reservation, error) {
	var out []Reservation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCalls).Bucket([]byte(companyID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if started := decodeTime(v); started.After(since) {
				out = append(out, Reservation{CallID: string(k), StartedAt: started})
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list call slots: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *BoltStore) ReleaseBefore(ctx context.Context, cutoff time.Time) (int, error) {
	released := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketCalls)
		return root.ForEachBucket(func(company []byte) error {
			b := root.Bucket(company)
			var stale [][]byte
			b.ForEach(func(k, v []byte) error {
				if decodeTime(v).Before(cutoff) {
					stale = append(stale, append([]byte(nil), k...))
				}
				return nil
			})
			for _, k := range stale {
				if err := b.Delete(k); err != nil {
					return err
				}
				released++
			}
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to release stale call slots: %w", err)
	}
	return released, nil
}

func (s *BoltStore) CountAll(ctx context.Context, since time.Time) (int, error) {
	total := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketCalls)
		return root.ForEachBucket(func(company []byte) error {
			total += activeCount(root.Bucket(company), since)
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count call slots: %w", err)
	}
	return total, nil
}

// Close is a no-op; the bbolt database is owned by the caller
func (s *BoltStore) Close() error {
	return nil
}
