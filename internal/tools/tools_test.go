package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapback-dev/snapback-go/internal/auth"
)

type fakeExternal struct {
	tools map[string]Descriptor
}

func (f *fakeExternal) Resolve(name string) (*Descriptor, bool) {
	d, ok := f.tools[name]
	if !ok {
		return nil, false
	}
	return &d, true
}

func (f *fakeExternal) List(_ context.Context) []Descriptor {
	out := make([]Descriptor, 0, len(f.tools))
	for _, d := range f.tools {
		out = append(out, d)
	}
	return out
}

func TestRegistry_ResolveLocalTools(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)

	for _, name := range []string{
		ToolAnalyzeRisk, ToolCheckDependencies, ToolCreateSnapshot,
		ToolListSnapshots, ToolRestoreSnapshot, ToolCatalogList,
		ToolResolveLibraryID, ToolGetLibraryDocs,
	} {
		d, ok := r.Resolve(name)
		require.True(t, ok, name)
		assert.Equal(t, name, d.Name)
	}

	_, ok := r.Resolve("snapback.does_not_exist")
	assert.False(t, ok)
}

func TestRegistry_ExternalDelegation(t *testing.T) {
	external := &fakeExternal{tools: map[string]Descriptor{
		"gh.search_issues": {Name: "gh.search_issues", Description: "Search issues.", MinTier: auth.TierFree},
	}}
	r, err := NewRegistry(external)
	require.NoError(t, err)

	d, ok := r.Resolve("gh.search_issues")
	require.True(t, ok)
	assert.Equal(t, "gh.search_issues", d.Name)

	// Non-namespaced unknown names never reach the external resolver.
	_, ok = r.Resolve("unknown.tool")
	assert.False(t, ok)

	// Local catalog wins over an external tool with the same name.
	external.tools[ToolResolveLibraryID] = Descriptor{Name: ToolResolveLibraryID, Description: "x", MinTier: auth.TierFree}
	d, ok = r.Resolve(ToolResolveLibraryID)
	require.True(t, ok)
	assert.NotEqual(t, "x", d.Description)

	list := r.List(context.Background())
	names := map[string]int{}
	for _, d := range list {
		names[d.Name]++
	}
	assert.Equal(t, 1, names[ToolResolveLibraryID], "no duplicates in the aggregated list")
	assert.Equal(t, 1, names["gh.search_issues"])
}

func TestAuthorize_TierGating(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)
	snapshotTool, _ := r.Resolve(ToolCreateSnapshot)
	analyzeTool, _ := r.Resolve(ToolAnalyzeRisk)

	free := auth.Result{Valid: true, Tier: auth.TierFree}
	pro := auth.Result{Valid: true, Tier: auth.TierPro}
	admin := auth.Result{Valid: true, Tier: auth.TierAdmin}

	assert.Equal(t, RefusalUpgradeRequired, Authorize(snapshotTool, free))
	assert.Equal(t, RefusalNone, Authorize(snapshotTool, pro))
	assert.Equal(t, RefusalNone, Authorize(snapshotTool, admin))
	assert.Equal(t, RefusalNone, Authorize(analyzeTool, free))
}

func TestAuthorize_PermissionTable(t *testing.T) {
	d := &Descriptor{
		Name: "ops.purge", Description: "x",
		MinTier: auth.TierPro, Permission: "ops:purge",
	}
	withPerm := auth.Result{Valid: true, Tier: auth.TierPro, Permissions: []string{"ops:purge"}}
	without := auth.Result{Valid: true, Tier: auth.TierPro}
	admin := auth.Result{Valid: true, Tier: auth.TierAdmin}

	assert.Equal(t, RefusalNone, Authorize(d, withPerm))
	assert.Equal(t, RefusalAccessDenied, Authorize(d, without))
	assert.Equal(t, RefusalNone, Authorize(d, admin))
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	var args ResolveLibraryIDArgs
	err := Decode(map[string]any{"libraryName": "react", "bogus": 1}, &args)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestDecode_ReportsFirstFailingField(t *testing.T) {
	var args RestoreSnapshotArgs
	err := Decode(map[string]any{}, &args)
	require.Error(t, err)
	assert.Contains(t, strings.ToLower(err.Error()), "snapshotid")
}

func TestDecode_ValidArguments(t *testing.T) {
	var args AnalyzeRiskArgs
	err := Decode(map[string]any{
		"changes": []any{map[string]any{"added": true, "value": "x = 1"}},
	}, &args)
	require.NoError(t, err)
	require.NoError(t, args.Validate())
	assert.Equal(t, "x = 1\n", args.Code())
}

func TestAnalyzeRiskArgs_CodeSkipsRemovedHunks(t *testing.T) {
	args := AnalyzeRiskArgs{Changes: []Change{
		{Added: true, Value: "keep"},
		{Removed: true, Value: "drop"},
		{Value: "context"},
	}}
	code := args.Code()
	assert.Contains(t, code, "keep")
	assert.Contains(t, code, "context")
	assert.NotContains(t, code, "drop")
}

func TestAnalyzeRiskArgs_ChangedLines(t *testing.T) {
	args := AnalyzeRiskArgs{Changes: []Change{
		{Value: "a\nb\n"},
		{Added: true, Value: "c\n"},
		{Removed: true, Value: "x\n"},
		{Added: true, Value: "d\ne"},
	}}
	assert.Equal(t, "a\nb\nc\nd\ne\n", args.Code())
	assert.Equal(t, []int{3, 4, 5}, args.ChangedLines())

	noAdds := AnalyzeRiskArgs{Changes: []Change{{Value: "a\nb\n"}}}
	assert.Nil(t, noAdds.ChangedLines(), "without added hunks the whole input is scanned")
}

func TestCreateSnapshotArgs_Validate(t *testing.T) {
	empty := CreateSnapshotArgs{}
	assert.Error(t, empty.Validate())

	longReason := CreateSnapshotArgs{
		FilePath: "a.txt",
		Reason:   strings.Repeat("r", MaxReasonBytes+1),
	}
	assert.Error(t, longReason.Validate())

	longPath := CreateSnapshotArgs{
		Files: []SnapshotFileArg{{Path: strings.Repeat("p", MaxPathBytes+1)}},
	}
	assert.Error(t, longPath.Validate())

	ok := CreateSnapshotArgs{Files: []SnapshotFileArg{{Path: "a.txt", Content: "hi"}}}
	assert.NoError(t, ok.Validate())
}

func TestAnalyzeRiskArgs_CodeSizeCap(t *testing.T) {
	args := AnalyzeRiskArgs{Changes: []Change{
		{Added: true, Value: strings.Repeat("a", MaxCodeBytes+1)},
	}}
	assert.Error(t, args.Validate())
}
