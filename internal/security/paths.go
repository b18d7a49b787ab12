package security

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/snapback-dev/snapback-go/internal/telemetry"
)

// ErrInvalidPath is returned for every rejected path. The message is
// deliberately generic: callers never see which predicate fired or the
// offending path. The coarse reason goes to the telemetry sink instead.
var ErrInvalidPath = errors.New("invalid path")

// Rejection reasons reported to telemetry.
const (
	ReasonEmptyPath        = "empty_path"
	ReasonNulByte          = "nul_byte"
	ReasonEncodedTraversal = "encoded_traversal"
	ReasonPathTraversal    = "path_traversal"
	ReasonWindowsPath      = "windows_path"
	ReasonOutsideWorkspace = "outside_workspace"
	ReasonParentMissing    = "parent_missing"
)

const pathSampleLimit = 100

// encodedTraversalTokens are URL-encoded traversal fragments that must never
// appear in a candidate path, including the double-encoded forms.
var encodedTraversalTokens = []string{
	"%2e%2e%2f",
	"%2e%2e/",
	"..%2f",
	"%252e",
	"%252f",
	"%2e%2e%5c",
	"..%5c",
}

var driveLetterPrefix = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// Validator confines candidate paths to a workspace root. It follows
// symlinks before deciding, so a link pointing outside the root is rejected
// even when its own path looks confined.
type Validator struct {
	sink *telemetry.Sink
}

// NewValidator creates a path validator reporting rejections to sink.
// A nil sink disables reporting.
func NewValidator(sink *telemetry.Sink) *Validator {
	return &Validator{sink: sink}
}

// Validate resolves candidate against root and returns the real absolute
// path if and only if it lands inside root after symlink resolution.
// The candidate's parent directory must exist; the leaf itself may not.
func (v *Validator) Validate(candidate, root string) (string, error) {
	if strings.TrimSpace(candidate) == "" {
		return "", v.reject(candidate, ReasonEmptyPath)
	}
	if strings.ContainsRune(candidate, 0) {
		return "", v.reject(candidate, ReasonNulByte)
	}

	lowered := strings.ToLower(candidate)
	for _, token := range encodedTraversalTokens {
		if strings.Contains(lowered, token) {
			return "", v.reject(candidate, ReasonEncodedTraversal)
		}
	}

	// Segment-equality check, not substring: "config..json" is a legal name.
	for _, segment := range strings.FieldsFunc(candidate, func(r rune) bool {
		return r == '/' || r == '\\'
	}) {
		if segment == ".." {
			return "", v.reject(candidate, ReasonPathTraversal)
		}
	}

	if strings.HasPrefix(candidate, `\\`) || driveLetterPrefix.MatchString(candidate) {
		return "", v.reject(candidate, ReasonWindowsPath)
	}

	rootReal, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", v.reject(candidate, ReasonOutsideWorkspace)
	}
	rootReal, err = filepath.Abs(rootReal)
	if err != nil {
		return "", v.reject(candidate, ReasonOutsideWorkspace)
	}

	joined := candidate
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(rootReal, candidate)
	}
	joined = filepath.Clean(joined)

	// Resolve through the parent so the leaf may be a file that does not
	// exist yet (snapshot restore writes new files).
	parentReal, err := filepath.EvalSymlinks(filepath.Dir(joined))
	if err != nil {
		if os.IsNotExist(err) {
			return "", v.reject(candidate, ReasonParentMissing)
		}
		return "", v.reject(candidate, ReasonOutsideWorkspace)
	}
	resolved := filepath.Join(parentReal, filepath.Base(joined))

	// If the leaf exists it may itself be a symlink; follow it too.
	if leafReal, err := filepath.EvalSymlinks(resolved); err == nil {
		resolved = leafReal
	}

	if resolved != rootReal && !strings.HasPrefix(resolved, rootReal+string(filepath.Separator)) {
		return "", v.reject(candidate, ReasonOutsideWorkspace)
	}
	return resolved, nil
}

func (v *Validator) reject(candidate, reason string) error {
	if v.sink != nil {
		sample := candidate
		if len(sample) > pathSampleLimit {
			sample = sample[:pathSampleLimit]
		}
		v.sink.Record(telemetry.Event{
			Kind:   telemetry.EventPathValidationFailed,
			Reason: reason,
			Detail: sample,
		})
	}
	return ErrInvalidPath
}
