package storage

import (
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// docCacheEntry wraps a cached payload with its expiry.
type docCacheEntry struct {
	Payload   json.RawMessage `json:"payload"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// DocCache is a TTL'd key-value cache over the doc_cache bucket. Expired
// entries are treated as misses on read and physically removed by Cleanup.
type DocCache struct {
	db     *DB
	logger *zap.Logger
}

func NewDocCache(db *DB, logger *zap.Logger) *DocCache {
	return &DocCache{db: db, logger: logger}
}

// Get returns the cached payload for key, or nil on a miss or expiry.
func (c *DocCache) Get(key string) (json.RawMessage, error) {
	var payload json.RawMessage
	err := c.db.bolt.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketDocCache).Get([]byte(key))
		if raw == nil {
			return nil
		}
		var entry docCacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil // treat corrupt entries as misses
		}
		if time.Now().After(entry.ExpiresAt) {
			return nil
		}
		payload = entry.Payload
		return nil
	})
	return payload, err
}

// Put stores payload under key with the given TTL.
func (c *DocCache) Put(key string, payload json.RawMessage, ttl time.Duration) error {
	entry, err := json.Marshal(docCacheEntry{
		Payload:   payload,
		ExpiresAt: time.Now().Add(ttl),
	})
	if err != nil {
		return err
	}
	return c.db.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocCache).Put([]byte(key), entry)
	})
}

// Cleanup removes every expired entry and returns how many were dropped.
func (c *DocCache) Cleanup() (int, error) {
	var expired [][]byte
	err := c.db.bolt.View(func(tx *bbolt.Tx) error {
		now := time.Now()
		return tx.Bucket(bucketDocCache).ForEach(func(k, raw []byte) error {
			var entry docCacheEntry
			if err := json.Unmarshal(raw, &entry); err != nil || now.After(entry.ExpiresAt) {
				key := make([]byte, len(k))
				copy(key, k)
				expired = append(expired, key)
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}
	err = c.db.bolt.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDocCache)
		for _, key := range expired {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.logger.Debug("doc cache cleanup", zap.Int("expired", len(expired)))
	return len(expired), nil
}
