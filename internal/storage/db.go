// Package storage owns the workspace database: snapshot metadata, the doc
// cache, and schema bookkeeping live in one bbolt file under the workspace
// data directory. Snapshot file contents live beside it in a content-addressed
// blob directory.
package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const (
	dbFileName    = "snapback.db"
	blobDirName   = "blobs"
	schemaVersion = 1
)

var (
	bucketSnapshots = []byte("snapshots")
	bucketDocCache  = []byte("doc_cache")
	bucketMeta      = []byte("meta")

	keySchemaVersion = []byte("schema_version")
)

// DB wraps the workspace bbolt database and its blob directory.
type DB struct {
	bolt    *bbolt.DB
	blobDir string
	logger  *zap.Logger
}

// Open creates or opens the workspace database under dataDir, ensures the
// bucket layout, and records the schema version.
func Open(dataDir string, logger *zap.Logger) (*DB, error) {
	blobDir := filepath.Join(dataDir, blobDirName)
	if err := os.MkdirAll(blobDir, 0o700); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}

	bolt, err := bbolt.Open(filepath.Join(dataDir, dbFileName), 0o600, &bbolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open workspace database: %w", err)
	}

	err = bolt.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSnapshots, bucketDocCache, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		meta := tx.Bucket(bucketMeta)
		if existing := meta.Get(keySchemaVersion); existing != nil {
			if v := binary.BigEndian.Uint64(existing); v > schemaVersion {
				return fmt.Errorf("workspace database schema v%d is newer than supported v%d", v, schemaVersion)
			}
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], schemaVersion)
		return meta.Put(keySchemaVersion, buf[:])
	})
	if err != nil {
		bolt.Close()
		return nil, err
	}

	return &DB{bolt: bolt, blobDir: blobDir, logger: logger}, nil
}

// Close closes the underlying bbolt handle.
func (db *DB) Close() error {
	return db.bolt.Close()
}

// Ping verifies the database is readable, for health probes.
func (db *DB) Ping() error {
	return db.bolt.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketMeta) == nil {
			return fmt.Errorf("meta bucket missing")
		}
		return nil
	})
}
