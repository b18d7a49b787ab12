package server

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/snapback-dev/snapback-go/internal/analyzer"
	"github.com/snapback-dev/snapback-go/internal/docs"
	"github.com/snapback-dev/snapback-go/internal/perf"
	"github.com/snapback-dev/snapback-go/internal/router"
	"github.com/snapback-dev/snapback-go/internal/storage"
	"github.com/snapback-dev/snapback-go/internal/tools"
)

func (s *Server) handleAnalyzeRisk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	principal := s.principal(ctx)
	if refusal := s.gate(s.descriptor(tools.ToolAnalyzeRisk), principal); refusal != nil {
		return refusal, nil
	}

	var args tools.AnalyzeRiskArgs
	if err := tools.Decode(req.GetArguments(), &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := args.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	meta := &analyzer.Metadata{
		FilePath:     args.FilePath(),
		ChangedLines: args.ChangedLines(),
	}

	var result analyzer.Result
	err := s.deps.Perf.Track(ctx, perf.OpAnalyzeRisk, func(ctx context.Context) error {
		result = s.deps.Router.Analyze(ctx, router.Request{
			Code:        args.Code(),
			Metadata:    meta,
			UserContext: args.Context,
			Tier:        principal.Tier,
		})
		return nil
	})
	if err != nil {
		return s.internalError(err, perf.OpAnalyzeRisk), nil
	}

	if len(result.Issues) > tools.MaxDisplayedIssues {
		result.Issues = result.Issues[:tools.MaxDisplayedIssues]
	}
	out, err := jsonResult(result)
	if err != nil {
		return s.internalError(err, perf.OpAnalyzeRisk), nil
	}
	return out, nil
}

func (s *Server) handleCheckDependencies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	principal := s.principal(ctx)
	if refusal := s.gate(s.descriptor(tools.ToolCheckDependencies), principal); refusal != nil {
		return refusal, nil
	}

	var args tools.CheckDependenciesArgs
	if err := tools.Decode(req.GetArguments(), &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var payload map[string]any
	err := s.deps.Perf.Track(ctx, perf.OpCheckDependencies, func(_ context.Context) error {
		changes, result := analyzer.CompareDependencies(s.deps.VulnDB, args.BeforeVersions(), args.AfterVersions())
		payload = map[string]any{
			"changes":  changes,
			"analysis": result,
		}
		return nil
	})
	if err != nil {
		return s.internalError(err, perf.OpCheckDependencies), nil
	}

	out, err := jsonResult(payload)
	if err != nil {
		return s.internalError(err, perf.OpCheckDependencies), nil
	}
	return out, nil
}

func (s *Server) handleCreateSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	principal := s.principal(ctx)
	if refusal := s.gate(s.descriptor(tools.ToolCreateSnapshot), principal); refusal != nil {
		return refusal, nil
	}

	var args tools.CreateSnapshotArgs
	if err := tools.Decode(req.GetArguments(), &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := args.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	inputs := make([]storage.FileInput, 0, len(args.Files)+1)
	if len(args.Files) > 0 {
		for _, f := range args.Files {
			inputs = append(inputs, storage.FileInput{Path: f.Path, Content: []byte(f.Content)})
		}
	} else {
		inputs = append(inputs, storage.FileInput{Path: args.FilePath, Content: []byte(args.Content)})
	}

	// Snapshot paths must be restorable inside the workspace later; refuse
	// anything the path validator would reject at restore time.
	for _, in := range inputs {
		if _, err := s.deps.Validator.Validate(in.Path, s.deps.Config.WorkspaceRoot); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	var record *storage.SnapshotRecord
	err := s.deps.Perf.Track(ctx, perf.OpCreateSnapshot, func(ctx context.Context) error {
		var cerr error
		record, cerr = s.deps.Snapshots.Create(ctx, inputs, storage.CreateOptions{Description: args.Reason})
		return cerr
	})
	if err != nil {
		return s.internalError(err, perf.OpCreateSnapshot), nil
	}

	out, err := jsonResult(map[string]any{
		"snapshotId":  record.ID,
		"createdAt":   record.CreatedAt.Format(time.RFC3339),
		"fileCount":   len(record.Files),
		"description": record.Description,
		"hashVersion": record.HashVersion,
	})
	if err != nil {
		return s.internalError(err, perf.OpCreateSnapshot), nil
	}
	return out, nil
}

func (s *Server) handleListSnapshots(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	principal := s.principal(ctx)
	if refusal := s.gate(s.descriptor(tools.ToolListSnapshots), principal); refusal != nil {
		return refusal, nil
	}

	var records []*storage.SnapshotRecord
	err := s.deps.Perf.Track(ctx, perf.OpListSnapshots, func(_ context.Context) error {
		var lerr error
		records, lerr = s.deps.Snapshots.List()
		return lerr
	})
	if err != nil {
		return s.internalError(err, perf.OpListSnapshots), nil
	}

	out, err := jsonResult(map[string]any{
		"snapshots": records,
		"count":     len(records),
	})
	if err != nil {
		return s.internalError(err, perf.OpListSnapshots), nil
	}
	return out, nil
}

func (s *Server) handleRestoreSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	principal := s.principal(ctx)
	if refusal := s.gate(s.descriptor(tools.ToolRestoreSnapshot), principal); refusal != nil {
		return refusal, nil
	}

	var args tools.RestoreSnapshotArgs
	if err := tools.Decode(req.GetArguments(), &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := args.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	target := ""
	if args.TargetPath != "" {
		resolved, err := s.validateRestoreTarget(args.TargetPath)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		target = resolved
	}

	var report *storage.RestoreReport
	var record *storage.SnapshotRecord
	err := s.deps.Perf.Track(ctx, perf.OpRestoreSnapshot, func(ctx context.Context) error {
		var rerr error
		report, record, rerr = s.deps.Snapshots.Restore(ctx, args.SnapshotID, target)
		return rerr
	})
	if err != nil {
		return s.internalError(err, perf.OpRestoreSnapshot), nil
	}

	out, err := jsonResult(map[string]any{
		"success":       report.Success,
		"snapshotId":    record.ID,
		"restoredFiles": report.RestoredFiles,
		"errors":        report.Errors,
	})
	if err != nil {
		return s.internalError(err, perf.OpRestoreSnapshot), nil
	}
	return out, nil
}

// validateRestoreTarget confines the restore target to the workspace root.
// The target directory itself may not exist yet.
func (s *Server) validateRestoreTarget(targetPath string) (string, error) {
	return s.deps.Validator.Validate(targetPath, s.deps.Config.WorkspaceRoot)
}

func (s *Server) handleCatalogList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	principal := s.principal(ctx)
	if refusal := s.gate(s.descriptor(tools.ToolCatalogList), principal); refusal != nil {
		return refusal, nil
	}

	type entry struct {
		Name            string `json:"name"`
		Description     string `json:"description"`
		MinTier         string `json:"minTier"`
		RequiresBackend bool   `json:"requiresBackend,omitempty"`
	}
	descriptors := s.deps.Registry.List(ctx)
	entries := make([]entry, len(descriptors))
	for i, d := range descriptors {
		entries[i] = entry{
			Name:            d.Name,
			Description:     d.Description,
			MinTier:         string(d.MinTier),
			RequiresBackend: d.RequiresBackend,
		}
	}

	out, err := jsonResult(map[string]any{"tools": entries, "count": len(entries)})
	if err != nil {
		return s.internalError(err, "catalog_list"), nil
	}
	return out, nil
}

func (s *Server) handleResolveLibraryID(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	principal := s.principal(ctx)
	if refusal := s.gate(s.descriptor(tools.ToolResolveLibraryID), principal); refusal != nil {
		return refusal, nil
	}

	var args tools.ResolveLibraryIDArgs
	if err := tools.Decode(req.GetArguments(), &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var payload []byte
	err := s.deps.Perf.Track(ctx, perf.OpResolveLibrary, func(ctx context.Context) error {
		raw, derr := s.deps.Docs.ResolveLibraryID(ctx, args.LibraryName)
		payload = raw
		return derr
	})
	if err != nil {
		return s.internalError(err, perf.OpResolveLibrary), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (s *Server) handleGetLibraryDocs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	principal := s.principal(ctx)
	if refusal := s.gate(s.descriptor(tools.ToolGetLibraryDocs), principal); refusal != nil {
		return refusal, nil
	}

	var args tools.GetLibraryDocsArgs
	if err := tools.Decode(req.GetArguments(), &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var payload []byte
	err := s.deps.Perf.Track(ctx, perf.OpGetLibraryDocs, func(ctx context.Context) error {
		raw, derr := s.deps.Docs.GetLibraryDocs(ctx, args.LibraryID, docs.DocsOptions{
			Topic:  args.Topic,
			Tokens: args.Tokens,
		})
		payload = raw
		return derr
	})
	if err != nil {
		return s.internalError(err, perf.OpGetLibraryDocs), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}
