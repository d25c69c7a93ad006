// Package offset persists the long-polling position: the id of the next
// update to request.
package offset

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

var (
	bucketName = []byte("polling")
	offsetKey  = []byte("next_update_id")
)

// BoltStore keeps the offset in a single bolt key.
type BoltStore struct {
	db *bolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create offset directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open offset db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create offset bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Load returns the saved offset, or false when none was ever saved.
func (s *BoltStore) Load() (int64, bool, error) {
	var (
		offset int64
		found  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(offsetKey)
		if v == nil {
			return nil
		}
		if len(v) != 8 {
			return fmt.Errorf("corrupt offset value of length %d", len(v))
		}
		offset, found = int64(binary.BigEndian.Uint64(v)), true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("load offset: %w", err)
	}
	return offset, found, nil
}

// Save overwrites the offset. The write is synced before Save returns.
func (s *BoltStore) Save(offset int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(offset))
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(offsetKey, buf[:])
	}); err != nil {
		return fmt.Errorf("save offset: %w", err)
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
