package server

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

const upgradeURL = "https://snapback.dev/upgrade"

// upgradeResult is a tier refusal: a successful response whose first content
// element carries the upgrade message, followed by a machine-readable marker.
func upgradeResult(toolName string) *mcp.CallToolResult {
	marker, _ := json.Marshal(map[string]any{
		"upgradeRequired": true,
		"tool":            toolName,
		"upgradeUrl":      upgradeURL,
	})
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(fmt.Sprintf(
				"%s requires a Pro subscription. Upgrade at %s to unlock snapshots and ML-backed analysis.",
				toolName, upgradeURL)),
			mcp.NewTextContent(string(marker)),
		},
	}
}

// accessDeniedResult is an authorization refusal that is not a tier issue.
// Like the upgrade case it is not a protocol error.
func accessDeniedResult(toolName string) *mcp.CallToolResult {
	return mcp.NewToolResultText(fmt.Sprintf("access denied: %s", toolName))
}

// jsonResult serializes v into a single text content element.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize result: %w", err)
	}
	return mcp.NewToolResultText(string(encoded)), nil
}
