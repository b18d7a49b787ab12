// Package tools holds the static tool catalog, its permission table, and the
// typed argument schemas parsed at the protocol boundary.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/snapback-dev/snapback-go/internal/auth"
)

// Tool names served by this process.
const (
	ToolAnalyzeRisk       = "snapback.analyze_risk"
	ToolCheckDependencies = "snapback.check_dependencies"
	ToolCreateSnapshot    = "snapback.create_snapshot"
	ToolListSnapshots     = "snapback.list_snapshots"
	ToolRestoreSnapshot   = "snapback.restore_snapshot"
	ToolCatalogList       = "catalog.list_tools"
	ToolResolveLibraryID  = "ctx7.resolve-library-id"
	ToolGetLibraryDocs    = "ctx7.get-library-docs"
)

// externalPrefixes route to external MCP servers via the resolver manager.
var externalPrefixes = []string{"ctx7.", "gh.", "registry."}

// Descriptor is one entry in the static catalog.
type Descriptor struct {
	Name            string
	Description     string
	MinTier         auth.Tier
	RequiresBackend bool
	Permission      string
}

// catalog is the fixed tool set. Validated once at startup.
var catalog = []Descriptor{
	{
		Name:        ToolAnalyzeRisk,
		Description: "Analyze code changes for security and safety risks before applying them.",
		MinTier:     auth.TierFree,
	},
	{
		Name:        ToolCheckDependencies,
		Description: "Compare two dependency maps and report risky additions or version changes.",
		MinTier:     auth.TierFree,
	},
	{
		Name:            ToolCreateSnapshot,
		Description:     "Capture a content-addressed snapshot of files before a risky edit.",
		MinTier:         auth.TierPro,
		RequiresBackend: true,
	},
	{
		Name:            ToolListSnapshots,
		Description:     "List stored snapshots, newest first.",
		MinTier:         auth.TierPro,
		RequiresBackend: true,
	},
	{
		Name:            ToolRestoreSnapshot,
		Description:     "Restore a snapshot's files under a target directory.",
		MinTier:         auth.TierPro,
		RequiresBackend: true,
	},
	{
		Name:        ToolCatalogList,
		Description: "List every tool available on this server, including external ones.",
		MinTier:     auth.TierFree,
	},
	{
		Name:        ToolResolveLibraryID,
		Description: "Resolve a library name to its canonical documentation id.",
		MinTier:     auth.TierFree,
	},
	{
		Name:        ToolGetLibraryDocs,
		Description: "Fetch documentation for a resolved library id.",
		MinTier:     auth.TierFree,
	},
}

// ExternalResolver serves tools contributed by external MCP servers behind
// the namespaced prefixes.
type ExternalResolver interface {
	Resolve(name string) (*Descriptor, bool)
	List(ctx context.Context) []Descriptor
}

// Registry answers list and resolve in constant time over the static
// catalog, delegating namespaced names to the external resolver when one is
// configured.
type Registry struct {
	byName   map[string]*Descriptor
	ordered  []Descriptor
	external ExternalResolver
}

// NewRegistry validates the catalog and builds the lookup index.
func NewRegistry(external ExternalResolver) (*Registry, error) {
	r := &Registry{
		byName:   make(map[string]*Descriptor, len(catalog)),
		ordered:  catalog,
		external: external,
	}
	for i := range catalog {
		d := &catalog[i]
		if err := validateDescriptor(d); err != nil {
			return nil, fmt.Errorf("tool catalog: %w", err)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("tool catalog: duplicate tool %s", d.Name)
		}
		r.byName[d.Name] = d
	}
	return r, nil
}

func validateDescriptor(d *Descriptor) error {
	if d.Name == "" || !strings.Contains(d.Name, ".") {
		return fmt.Errorf("tool name %q must be dotted", d.Name)
	}
	if d.Description == "" {
		return fmt.Errorf("tool %s has no description", d.Name)
	}
	switch d.MinTier {
	case auth.TierFree, auth.TierPro, auth.TierAdmin:
	default:
		return fmt.Errorf("tool %s has unknown tier %q", d.Name, d.MinTier)
	}
	return nil
}

// Resolve returns the descriptor for name. Names under an external prefix
// that are not in the local catalog are delegated to the external resolver.
func (r *Registry) Resolve(name string) (*Descriptor, bool) {
	if d, ok := r.byName[name]; ok {
		return d, true
	}
	if r.external != nil && hasExternalPrefix(name) {
		return r.external.Resolve(name)
	}
	return nil, false
}

// List returns the full catalog; external tools are appended when a resolver
// is configured.
func (r *Registry) List(ctx context.Context) []Descriptor {
	out := make([]Descriptor, len(r.ordered))
	copy(out, r.ordered)
	if r.external != nil {
		for _, d := range r.external.List(ctx) {
			if _, local := r.byName[d.Name]; !local {
				out = append(out, d)
			}
		}
	}
	return out
}

func hasExternalPrefix(name string) bool {
	for _, prefix := range externalPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Authorize decides whether a principal may invoke the tool. The returned
// refusal distinguishes an access denial from a tier upgrade requirement.
type Refusal int

const (
	RefusalNone Refusal = iota
	RefusalAccessDenied
	RefusalUpgradeRequired
)

// Authorize applies the permission table and tier policy to one call.
func Authorize(d *Descriptor, principal auth.Result) Refusal {
	if d.RequiresBackend && !principal.Tier.CanUseBackend() {
		return RefusalUpgradeRequired
	}
	if !principal.Tier.AtLeast(d.MinTier) {
		return RefusalUpgradeRequired
	}
	if d.Permission != "" && !auth.HasPermission(principal, d.Permission) {
		return RefusalAccessDenied
	}
	return RefusalNone
}
