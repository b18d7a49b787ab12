package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Version identifies the digest function used for snapshot ids. It is
// persisted alongside every snapshot record so a future algorithm change
// cannot silently collide with existing ids.
const Version = "sha256/v1"

// ContentDigest computes the SHA-256 digest of raw file content.
func ContentDigest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// StringDigest computes the SHA-256 digest of a string.
func StringDigest(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// FileEntry is one (path, content digest) pair contributing to a snapshot id.
type FileEntry struct {
	Path   string
	Digest string
}

// SnapshotID computes the stable content-addressed id for a set of files.
// Entries are sorted by path (byte-lexicographic), joined as "path:digest"
// with "|" separators, and the joined string is hashed. The id is a pure
// function of the file set: permuting the input yields the same id.
func SnapshotID(entries []FileEntry) string {
	sorted := make([]FileEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Path < sorted[j].Path
	})

	parts := make([]string, len(sorted))
	for i, e := range sorted {
		parts[i] = e.Path + ":" + e.Digest
	}
	return StringDigest(strings.Join(parts, "|"))
}
