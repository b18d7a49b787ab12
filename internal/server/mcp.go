// Package server assembles the MCP server: tool registration, per-call
// authentication and tier gating, and the handlers that bridge the protocol
// to the domain packages.
package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/snapback-dev/snapback-go/internal/analyzer"
	"github.com/snapback-dev/snapback-go/internal/auth"
	"github.com/snapback-dev/snapback-go/internal/config"
	"github.com/snapback-dev/snapback-go/internal/docs"
	"github.com/snapback-dev/snapback-go/internal/perf"
	"github.com/snapback-dev/snapback-go/internal/router"
	"github.com/snapback-dev/snapback-go/internal/sanitize"
	"github.com/snapback-dev/snapback-go/internal/security"
	"github.com/snapback-dev/snapback-go/internal/storage"
	"github.com/snapback-dev/snapback-go/internal/telemetry"
	"github.com/snapback-dev/snapback-go/internal/tools"
)

const (
	serverName    = "snapback"
	serverVersion = "1.0.0"
)

// DocsService is the documentation proxy surface the handlers need.
type DocsService interface {
	ResolveLibraryID(ctx context.Context, libraryName string) (json.RawMessage, error)
	GetLibraryDocs(ctx context.Context, libraryID string, opts docs.DocsOptions) (json.RawMessage, error)
}

// Deps carries everything the server wires together.
type Deps struct {
	Config    *config.Config
	Registry  *tools.Registry
	Resolver  *auth.Resolver
	Router    *router.Router
	Snapshots *storage.SnapshotStore
	Docs      DocsService
	VulnDB    *analyzer.VulnDB
	Validator *security.Validator
	Sanitizer *sanitize.Sanitizer
	Perf      *perf.Tracker
	Sink      *telemetry.Sink
	Logger    *zap.Logger
}

// Server is the MCP-facing surface of the process.
type Server struct {
	mcp      *mcpserver.MCPServer
	sessions *SessionStore
	deps     Deps
	logger   *zap.Logger
}

// New builds the MCP server, registers the tool catalog, and wires session
// tracking hooks.
func New(deps Deps) *Server {
	sessions := NewSessionStore(deps.Logger)

	hooks := &mcpserver.Hooks{}
	hooks.AddOnRegisterSession(func(_ context.Context, sess mcpserver.ClientSession) {
		sessionID := sess.SessionID()
		var clientName, clientVersion string
		if withInfo, ok := sess.(mcpserver.SessionWithClientInfo); ok {
			info := withInfo.GetClientInfo()
			clientName = info.Name
			clientVersion = info.Version
		}
		sessions.SetSession(sessionID, clientName, clientVersion)
		deps.Logger.Info("MCP session registered",
			zap.String("session_id", sessionID),
			zap.String("client_name", clientName),
			zap.String("client_version", clientVersion))
	})

	mcpServer := mcpserver.NewMCPServer(
		serverName,
		serverVersion,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
		mcpserver.WithHooks(hooks),
	)

	s := &Server{
		mcp:      mcpServer,
		sessions: sessions,
		deps:     deps,
		logger:   deps.Logger,
	}
	s.registerTools()
	return s
}

// MCPServer exposes the underlying protocol server for the transports.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// Sessions exposes the session store for health reporting.
func (s *Server) Sessions() *SessionStore {
	return s.sessions
}

func (s *Server) registerTools() {
	analyzeRisk := mcp.NewTool(tools.ToolAnalyzeRisk,
		mcp.WithDescription("Analyze a code diff for security and safety risks before applying it. Pass the diff hunks as changes; added lines are scanned for secrets, dangerous APIs, and risky settings."),
		mcp.WithArray("changes",
			mcp.Required(),
			mcp.Description("Diff hunks: [{added?, removed?, value, count?}, ...]. Only non-removed hunks are analyzed."),
		),
		mcp.WithObject("context",
			mcp.Description("Optional string map with surrounding context, e.g. {\"filePath\": \"src/app.js\"}."),
		),
	)
	s.mcp.AddTool(analyzeRisk, s.handleAnalyzeRisk)

	checkDependencies := mcp.NewTool(tools.ToolCheckDependencies,
		mcp.WithDescription("Compare two dependency maps (before/after) and report added, removed, and version-changed packages with advisory-backed severity."),
		mcp.WithObject("before",
			mcp.Required(),
			mcp.Description("Dependency map before the change: {name: version}."),
		),
		mcp.WithObject("after",
			mcp.Required(),
			mcp.Description("Dependency map after the change: {name: version}."),
		),
	)
	s.mcp.AddTool(checkDependencies, s.handleCheckDependencies)

	createSnapshot := mcp.NewTool(tools.ToolCreateSnapshot,
		mcp.WithDescription("Capture a content-addressed snapshot of files before a risky edit. Identical file sets dedup to the same snapshot id."),
		mcp.WithString("filePath", mcp.Description("Single-file form: the file path to snapshot.")),
		mcp.WithString("content", mcp.Description("Single-file form: the file content.")),
		mcp.WithString("reason", mcp.Description("Why the snapshot was taken (max 1 KiB).")),
		mcp.WithArray("files", mcp.Description("Multi-file form: [{path, content}, ...].")),
	)
	s.mcp.AddTool(createSnapshot, s.handleCreateSnapshot)

	listSnapshots := mcp.NewTool(tools.ToolListSnapshots,
		mcp.WithDescription("List stored snapshots, newest first."),
	)
	s.mcp.AddTool(listSnapshots, s.handleListSnapshots)

	restoreSnapshot := mcp.NewTool(tools.ToolRestoreSnapshot,
		mcp.WithDescription("Restore a snapshot. Without targetPath the call returns metadata only; with targetPath every file is written atomically under it."),
		mcp.WithString("snapshotId", mcp.Required(), mcp.Description("Snapshot id from create_snapshot or list_snapshots.")),
		mcp.WithString("targetPath", mcp.Description("Directory to restore into, confined to the workspace root.")),
	)
	s.mcp.AddTool(restoreSnapshot, s.handleRestoreSnapshot)

	catalogList := mcp.NewTool(tools.ToolCatalogList,
		mcp.WithDescription("List every tool available on this server, including tools contributed by external MCP servers."),
	)
	s.mcp.AddTool(catalogList, s.handleCatalogList)

	resolveLibrary := mcp.NewTool(tools.ToolResolveLibraryID,
		mcp.WithDescription("Resolve a library name to its canonical documentation id."),
		mcp.WithString("libraryName", mcp.Required(), mcp.Description("Human library name, e.g. 'react'.")),
	)
	s.mcp.AddTool(resolveLibrary, s.handleResolveLibraryID)

	libraryDocs := mcp.NewTool(tools.ToolGetLibraryDocs,
		mcp.WithDescription("Fetch documentation for a resolved library id."),
		mcp.WithString("context7CompatibleLibraryID", mcp.Required(), mcp.Description("Library id from ctx7.resolve-library-id.")),
		mcp.WithString("topic", mcp.Description("Narrow the docs to one topic.")),
		mcp.WithNumber("tokens", mcp.Description("Approximate response size budget.")),
	)
	s.mcp.AddTool(libraryDocs, s.handleGetLibraryDocs)
}

// principal authenticates the caller for one request. In development an
// absent credential gets full local access; in production it degrades to an
// unauthenticated free principal.
func (s *Server) principal(ctx context.Context) auth.Result {
	rawKey := auth.KeyFromContext(ctx)
	if rawKey == "" {
		if s.deps.Config.IsDevelopment() {
			return auth.Result{Valid: true, Tier: auth.TierAdmin, UserID: "dev"}
		}
		return auth.Result{Valid: false, Tier: auth.TierFree, Error: "missing credential"}
	}
	return s.deps.Resolver.Authenticate(ctx, rawKey)
}

// gate applies tool authorization. A non-nil result short-circuits the
// handler; it is a refusal, never a protocol error.
func (s *Server) gate(d *tools.Descriptor, principal auth.Result) *mcp.CallToolResult {
	s.deps.Sink.Record(telemetry.Event{Kind: telemetry.EventToolCall, Reason: "invoked", Tool: d.Name})

	switch tools.Authorize(d, principal) {
	case tools.RefusalUpgradeRequired:
		s.deps.Sink.Record(telemetry.Event{Kind: telemetry.EventTierRefusal, Reason: string(principal.Tier), Tool: d.Name})
		return upgradeResult(d.Name)
	case tools.RefusalAccessDenied:
		s.deps.Sink.Record(telemetry.Event{Kind: telemetry.EventAuthFailure, Reason: "permission_denied", Tool: d.Name})
		return accessDeniedResult(d.Name)
	default:
		return nil
	}
}

// internalError routes an unexpected failure through the sanitizer; the
// caller only ever sees the sanitized projection.
func (s *Server) internalError(err error, operation string) *mcp.CallToolResult {
	sanitized := s.deps.Sanitizer.Sanitize(err, operation)
	encoded, merr := json.Marshal(sanitized)
	if merr != nil {
		return mcp.NewToolResultError(sanitized.PublicMessage)
	}
	return mcp.NewToolResultError(string(encoded))
}

func (s *Server) descriptor(name string) *tools.Descriptor {
	d, ok := s.deps.Registry.Resolve(name)
	if !ok {
		// The catalog is validated at startup; a miss here is a bug.
		panic(fmt.Sprintf("tool %s missing from catalog", name))
	}
	return d
}
