package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/thyrook/boardsight/internal/board"
	"go.etcd.io/bbolt"
)

const (
	// LabelBucket stores classified patches keyed by fingerprint
	LabelBucket = "labels"

	// MetaBucket for storing metadata
	MetaBucket = "meta"

	// CountKey for tracking stored labels
	CountKey = "count"
)

// entry is the stored form of a cached label.
type entry struct {
	Piece      board.Piece `json:"piece"`
	Confidence float64     `json:"confidence"`
	Timestamp  int64       `json:"timestamp"`
}

// PatchCache persists classifier answers across runs so an unchanged
// board does not hit the model again.
type PatchCache struct {
	db       *bbolt.DB
	dbPath   string
	maxSize  int
	mu       sync.RWMutex
	isClosed bool
}

// NewPatchCache opens (or creates) a cache at dbPath holding at most
// maxSize labels. When full, the cache is cleared and refilled.
func NewPatchCache(dbPath string, maxSize int) (*PatchCache, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("invalid cache size: %d", maxSize)
	}

	// Open database with timeout
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(LabelBucket)); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(MetaBucket)); err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &PatchCache{
		db:      db,
		dbPath:  dbPath,
		maxSize: maxSize,
	}, nil
}

func keyBytes(key uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, key)
	return b
}

// Get looks up a label by patch fingerprint.
func (c *PatchCache) Get(key uint64) (board.Label, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.isClosed {
		return board.Label{}, false, fmt.Errorf("cache is closed")
	}

	var data []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(LabelBucket))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		if v := b.Get(keyBytes(key)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || data == nil {
		return board.Label{}, false, err
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return board.Label{}, false, fmt.Errorf("failed to unmarshal label: %w", err)
	}
	return board.Label{Piece: e.Piece, Confidence: e.Confidence}, true, nil
}

// Put stores a label. Only confident, valid labels are worth keeping.
func (c *PatchCache) Put(key uint64, label board.Label) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.isClosed {
		return fmt.Errorf("cache is closed")
	}
	if !label.Piece.Valid() {
		return fmt.Errorf("invalid piece: %d", label.Piece)
	}

	data, err := json.Marshal(entry{
		Piece:      label.Piece,
		Confidence: label.Confidence,
		Timestamp:  time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal label: %w", err)
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(MetaBucket))
		if meta == nil {
			return fmt.Errorf("meta bucket not found")
		}
		count := readCount(meta)

		b := tx.Bucket([]byte(LabelBucket))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		k := keyBytes(key)
		if b.Get(k) == nil {
			if count >= uint64(c.maxSize) {
				if err := tx.DeleteBucket([]byte(LabelBucket)); err != nil {
					return err
				}
				nb, err := tx.CreateBucket([]byte(LabelBucket))
				if err != nil {
					return err
				}
				b = nb
				count = 0
			}
			count++
		}

		if err := b.Put(k, data); err != nil {
			return err
		}
		return meta.Put([]byte(CountKey), keyBytes(count))
	})
}

// Count returns the number of stored labels.
func (c *PatchCache) Count() (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.isClosed {
		return 0, fmt.Errorf("cache is closed")
	}

	var count uint64
	err := c.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(MetaBucket))
		if meta == nil {
			return fmt.Errorf("meta bucket not found")
		}
		count = readCount(meta)
		return nil
	})
	return count, err
}

func readCount(meta *bbolt.Bucket) uint64 {
	v := meta.Get([]byte(CountKey))
	if v == nil {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

// Close closes the database
func (c *PatchCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed {
		return nil
	}
	c.isClosed = true
	return c.db.Close()
}
