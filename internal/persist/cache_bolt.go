package persist

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/gkirna/scribeflow/internal/transcript"
)

// BoltCache stores cached chunks in a bbolt file, one bucket per session and
// one JSON value per chunk keyed by a big-endian sequence number.
type BoltCache struct {
	db *bolt.DB
}

func OpenBoltCache(path string) (*BoltCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open fallback cache: %w", err)
	}
	return &BoltCache{db: db}, nil
}

func (c *BoltCache) Append(ctx context.Context, sessionID string, chunks []transcript.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(sessionID))
		if err != nil {
			return err
		}
		for _, ch := range chunks {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			val, err := json.Marshal(ch)
			if err != nil {
				return err
			}
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, seq)
			if err := b.Put(key, val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *BoltCache) Drain(ctx context.Context, sessionID string) ([]transcript.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []transcript.Chunk
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}
		err := b.ForEach(func(_, v []byte) error {
			var ch transcript.Chunk
			if err := json.Unmarshal(v, &ch); err != nil {
				return fmt.Errorf("decode cached chunk: %w", err)
			}
			out = append(out, ch)
			return nil
		})
		if err != nil {
			return err
		}
		return tx.DeleteBucket([]byte(sessionID))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Peek returns cached chunks for a session without removing them.
func (c *BoltCache) Peek(sessionID string) ([]transcript.Chunk, error) {
	var out []transcript.Chunk
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var ch transcript.Chunk
			if err := json.Unmarshal(v, &ch); err != nil {
				return err
			}
			out = append(out, ch)
			return nil
		})
	})
	return out, err
}

func (c *BoltCache) Sessions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []string
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			out = append(out, string(name))
			return nil
		})
	})
	return out, err
}

func (c *BoltCache) Close() error {
	return c.db.Close()
}
