package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/snapback-dev/snapback-go/internal/hash"
	"github.com/snapback-dev/snapback-go/internal/security"
)

// ListLimit caps how many snapshot records a list call returns.
const ListLimit = 500

// SnapshotFile is one captured file inside a snapshot record.
type SnapshotFile struct {
	Path   string `json:"path"`
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}

// SnapshotRecord is the persisted metadata for one snapshot. Contents live in
// the blob directory keyed by digest.
type SnapshotRecord struct {
	ID          string         `json:"id"`
	CreatedAt   time.Time      `json:"createdAt"`
	Description string         `json:"description,omitempty"`
	Protected   bool           `json:"protected,omitempty"`
	Files       []SnapshotFile `json:"files"`
	HashVersion string         `json:"hashVersion"`
}

// FileInput is one file submitted to Create.
type FileInput struct {
	Path    string
	Content []byte
}

// CreateOptions tune snapshot creation.
type CreateOptions struct {
	Description string
	Protected   bool
}

// RestoreReport is the outcome of a restore. Errors are per-file; files
// written before a failure stay written.
type RestoreReport struct {
	Success       bool     `json:"success"`
	RestoredFiles []string `json:"restoredFiles"`
	Errors        []string `json:"errors"`
}

// SnapshotStore persists snapshots: metadata in bbolt, contents in the
// content-addressed blob directory.
type SnapshotStore struct {
	db        *DB
	validator *security.Validator
	logger    *zap.Logger
}

func NewSnapshotStore(db *DB, validator *security.Validator, logger *zap.Logger) *SnapshotStore {
	return &SnapshotStore{db: db, validator: validator, logger: logger}
}

// Create captures the given files. The snapshot id is the stable content
// hash, so creating the same file set twice returns the existing record; two
// concurrent identical creates both land on the same id without corrupting
// storage, because blob writes are atomic and keyed by content digest.
func (s *SnapshotStore) Create(ctx context.Context, files []FileInput, opts CreateOptions) (*SnapshotRecord, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("snapshot requires at least one file")
	}

	entries := make([]hash.FileEntry, len(files))
	record := &SnapshotRecord{
		CreatedAt:   time.Now().UTC(),
		Description: opts.Description,
		Protected:   opts.Protected,
		HashVersion: hash.Version,
		Files:       make([]SnapshotFile, len(files)),
	}
	for i, f := range files {
		digest := hash.ContentDigest(f.Content)
		entries[i] = hash.FileEntry{Path: f.Path, Digest: digest}
		record.Files[i] = SnapshotFile{Path: f.Path, Digest: digest, Size: int64(len(f.Content))}
	}
	record.ID = hash.SnapshotID(entries)

	if existing, err := s.Get(record.ID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.writeBlob(hash.ContentDigest(f.Content), f.Content); err != nil {
			return nil, fmt.Errorf("store %s: %w", f.Path, err)
		}
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot record: %w", err)
	}
	err = s.db.bolt.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSnapshots)
		// A concurrent identical create may have won the race; keep theirs.
		if bucket.Get([]byte(record.ID)) != nil {
			return nil
		}
		return bucket.Put([]byte(record.ID), encoded)
	})
	if err != nil {
		return nil, fmt.Errorf("persist snapshot record: %w", err)
	}

	s.logger.Info("snapshot created",
		zap.String("id", record.ID),
		zap.Int("files", len(record.Files)))
	return record, nil
}

// Get returns a snapshot record by id, nil when absent.
func (s *SnapshotStore) Get(id string) (*SnapshotRecord, error) {
	var record *SnapshotRecord
	err := s.db.bolt.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketSnapshots).Get([]byte(id))
		if raw == nil {
			return nil
		}
		record = &SnapshotRecord{}
		return json.Unmarshal(raw, record)
	})
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", id, err)
	}
	return record, nil
}

// List returns snapshot records newest first, capped at ListLimit.
func (s *SnapshotStore) List() ([]*SnapshotRecord, error) {
	var records []*SnapshotRecord
	err := s.db.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(_, raw []byte) error {
			var record SnapshotRecord
			if err := json.Unmarshal(raw, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if len(records) > ListLimit {
		records = records[:ListLimit]
	}
	return records, nil
}

// Restore brings a snapshot's files back under targetPath. With an empty
// targetPath the call is metadata-only and mutates nothing. Each destination
// is confined to targetPath by the path validator and written atomically.
// Files already written before a failure are not rolled back.
func (s *SnapshotStore) Restore(ctx context.Context, id, targetPath string) (*RestoreReport, *SnapshotRecord, error) {
	record, err := s.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if record == nil {
		return nil, nil, fmt.Errorf("snapshot %s not found", id)
	}

	report := &RestoreReport{RestoredFiles: []string{}, Errors: []string{}}
	if targetPath == "" {
		report.Success = true
		return report, record, nil
	}
	if err := os.MkdirAll(targetPath, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create restore target: %w", err)
	}

	for _, file := range record.Files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		// Prepare missing parents first so a confined nested path passes
		// validation; the validator still has the final word.
		mkErr := ensureParentDirs(targetPath, file.Path)
		dest, err := s.validator.Validate(file.Path, targetPath)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", file.Path, err))
			continue
		}
		if mkErr != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", file.Path, mkErr))
			continue
		}
		content, err := s.readBlob(file.Digest)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: content unavailable", file.Path))
			continue
		}
		if err := atomicWrite(dest, content); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: write failed", file.Path))
			continue
		}
		report.RestoredFiles = append(report.RestoredFiles, file.Path)
	}

	report.Success = len(report.Errors) == 0
	s.logger.Info("snapshot restored",
		zap.String("id", id),
		zap.Int("restored", len(report.RestoredFiles)),
		zap.Int("errors", len(report.Errors)))
	return report, record, nil
}

// Delete removes a snapshot record. Protected records refuse deletion.
// Blobs are left in place; another snapshot may share them.
func (s *SnapshotStore) Delete(id string) error {
	record, err := s.Get(id)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("snapshot %s not found", id)
	}
	if record.Protected {
		return fmt.Errorf("snapshot %s is protected", id)
	}
	return s.db.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete([]byte(id))
	})
}

func (s *SnapshotStore) blobPath(digest string) string {
	return filepath.Join(s.db.blobDir, digest)
}

func (s *SnapshotStore) writeBlob(digest string, content []byte) error {
	path := s.blobPath(digest)
	if _, err := os.Stat(path); err == nil {
		return nil // content-addressed: identical bytes already stored
	}
	return atomicWrite(path, content)
}

func (s *SnapshotStore) readBlob(digest string) ([]byte, error) {
	return os.ReadFile(s.blobPath(digest))
}

// ensureParentDirs creates the missing ancestors of rel under root, one
// segment at a time, refusing to descend through a symlink. Path safety is
// still decided by the validator; this only makes room for new files.
func ensureParentDirs(root, rel string) error {
	dir := filepath.Dir(filepath.Clean(rel))
	if dir == "." || dir == string(filepath.Separator) || filepath.IsAbs(rel) {
		return nil
	}
	cur := root
	for _, segment := range strings.Split(dir, string(filepath.Separator)) {
		if segment == "" || segment == "." || segment == ".." {
			return security.ErrInvalidPath
		}
		cur = filepath.Join(cur, segment)
		info, err := os.Lstat(cur)
		if err == nil {
			if info.Mode()&os.ModeSymlink != 0 {
				return security.ErrInvalidPath
			}
			continue
		}
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.Mkdir(cur, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// atomicWrite writes content to a unique temp file in the destination
// directory, then renames it into place.
func atomicWrite(dest string, content []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp := filepath.Join(dir, "."+filepath.Base(dest)+".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, content, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
