package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Size caps applied at the protocol boundary.
const (
	MaxCodeBytes       = 1 << 20   // code and file contents
	MaxPathBytes       = 4 << 10   // file and target paths
	MaxContextBytes    = 100 << 10 // surrounding-code context
	MaxReasonBytes     = 1 << 10
	MaxDisplayedIssues = 100
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode strictly parses raw tool arguments into a typed struct: unknown
// properties are rejected, then struct-level validation runs. The returned
// error names the first failing field.
func Decode[T any](raw any, out *T) error {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid argument %s: failed %s validation", jsonFieldName(first), first.Tag())
		}
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func asValidationErrors(err error, out *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*out = verrs
	}
	return ok
}

func jsonFieldName(fe validator.FieldError) string {
	// StructNamespace is Type.Field; report the leaf field, lower-cased to
	// match the wire casing.
	parts := strings.Split(fe.StructNamespace(), ".")
	leaf := parts[len(parts)-1]
	if leaf == "" {
		return fe.Field()
	}
	return strings.ToLower(leaf[:1]) + leaf[1:]
}

// Change is one diff hunk line submitted to analyze_risk.
type Change struct {
	Added   bool   `json:"added,omitempty"`
	Removed bool   `json:"removed,omitempty"`
	Value   string `json:"value"`
	Count   int    `json:"count,omitempty" validate:"gte=0"`
}

// AnalyzeRiskArgs is the schema for snapback.analyze_risk.
type AnalyzeRiskArgs struct {
	Changes []Change          `json:"changes" validate:"required,min=1"`
	Context map[string]string `json:"context,omitempty"`
}

// Code returns the added-line content to analyze, skipping removed hunks.
func (a *AnalyzeRiskArgs) Code() string {
	var b strings.Builder
	for _, c := range a.Changes {
		if c.Removed {
			continue
		}
		b.WriteString(c.Value)
		if !strings.HasSuffix(c.Value, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// ChangedLines returns the 1-based line numbers, within Code()'s output, that
// added hunks contributed. Nil when no hunk is marked added, which scans
// everything.
func (a *AnalyzeRiskArgs) ChangedLines() []int {
	var out []int
	line := 1
	anyAdded := false
	for _, c := range a.Changes {
		if c.Removed {
			continue
		}
		n := strings.Count(c.Value, "\n")
		if !strings.HasSuffix(c.Value, "\n") {
			n++ // Code() terminates the hunk with a newline
		}
		if c.Added {
			anyAdded = true
			for i := 0; i < n; i++ {
				out = append(out, line+i)
			}
		}
		line += n
	}
	if !anyAdded {
		return nil
	}
	return out
}

// FilePath returns the context-provided file path, when the caller sent one.
func (a *AnalyzeRiskArgs) FilePath() string {
	return a.Context["filePath"]
}

// Validate applies the size caps the tag grammar cannot express.
func (a *AnalyzeRiskArgs) Validate() error {
	total := 0
	for _, c := range a.Changes {
		total += len(c.Value)
	}
	if total > MaxCodeBytes {
		return fmt.Errorf("invalid argument changes: code exceeds %d bytes", MaxCodeBytes)
	}
	for k, v := range a.Context {
		if len(k)+len(v) > MaxContextBytes {
			return fmt.Errorf("invalid argument context: entry exceeds %d bytes", MaxContextBytes)
		}
	}
	return nil
}

// CheckDependenciesArgs is the schema for snapback.check_dependencies.
type CheckDependenciesArgs struct {
	Before map[string]any `json:"before" validate:"required"`
	After  map[string]any `json:"after" validate:"required"`
}

// versionsOf flattens a dependency map's values to strings; non-string
// versions are stringified.
func versionsOf(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for name, v := range m {
		if s, ok := v.(string); ok {
			out[name] = s
			continue
		}
		out[name] = fmt.Sprintf("%v", v)
	}
	return out
}

// BeforeVersions returns the before map as name -> version strings.
func (a *CheckDependenciesArgs) BeforeVersions() map[string]string { return versionsOf(a.Before) }

// AfterVersions returns the after map as name -> version strings.
func (a *CheckDependenciesArgs) AfterVersions() map[string]string { return versionsOf(a.After) }

// SnapshotFileArg is one file in a create_snapshot call.
type SnapshotFileArg struct {
	Path    string `json:"path" validate:"required"`
	Content string `json:"content"`
}

// CreateSnapshotArgs is the schema for snapback.create_snapshot. Either the
// files list or the single filePath+content pair must be present.
type CreateSnapshotArgs struct {
	FilePath string            `json:"filePath,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Content  string            `json:"content,omitempty"`
	Files    []SnapshotFileArg `json:"files,omitempty"`
}

func (a *CreateSnapshotArgs) Validate() error {
	if len(a.Files) == 0 && a.FilePath == "" {
		return fmt.Errorf("invalid argument files: either files or filePath is required")
	}
	if len(a.Reason) > MaxReasonBytes {
		return fmt.Errorf("invalid argument reason: exceeds %d bytes", MaxReasonBytes)
	}
	if len(a.FilePath) > MaxPathBytes {
		return fmt.Errorf("invalid argument filePath: exceeds %d bytes", MaxPathBytes)
	}
	if len(a.Content) > MaxCodeBytes {
		return fmt.Errorf("invalid argument content: exceeds %d bytes", MaxCodeBytes)
	}
	for _, f := range a.Files {
		if len(f.Path) > MaxPathBytes {
			return fmt.Errorf("invalid argument files: path exceeds %d bytes", MaxPathBytes)
		}
		if len(f.Content) > MaxCodeBytes {
			return fmt.Errorf("invalid argument files: content exceeds %d bytes", MaxCodeBytes)
		}
	}
	return nil
}

// ListSnapshotsArgs is the schema for snapback.list_snapshots.
type ListSnapshotsArgs struct{}

// RestoreSnapshotArgs is the schema for snapback.restore_snapshot.
type RestoreSnapshotArgs struct {
	SnapshotID string `json:"snapshotId" validate:"required"`
	TargetPath string `json:"targetPath,omitempty"`
}

func (a *RestoreSnapshotArgs) Validate() error {
	if len(a.TargetPath) > MaxPathBytes {
		return fmt.Errorf("invalid argument targetPath: exceeds %d bytes", MaxPathBytes)
	}
	return nil
}

// CatalogListArgs is the schema for catalog.list_tools.
type CatalogListArgs struct{}

// ResolveLibraryIDArgs is the schema for ctx7.resolve-library-id.
type ResolveLibraryIDArgs struct {
	LibraryName string `json:"libraryName" validate:"required"`
}

// GetLibraryDocsArgs is the schema for ctx7.get-library-docs.
type GetLibraryDocsArgs struct {
	LibraryID string `json:"context7CompatibleLibraryID" validate:"required"`
	Topic     string `json:"topic,omitempty"`
	Tokens    int    `json:"tokens,omitempty" validate:"gte=0"`
}
