package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/logsift/internal/logging"
	"github.com/dshills/logsift/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeNotParsed     = -32003 // File has no parse result yet
	ErrorCodeEmptyQuery    = -32004 // Query parameter is empty
)

// handleScheduleFiles handles the schedule_files tool invocation
func (s *Server) handleScheduleFiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	project, err := requireString(args, "project")
	if err != nil {
		return nil, err
	}

	rawFiles, ok := args["files"].([]interface{})
	if !ok || len(rawFiles) == 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "files parameter is required", map[string]interface{}{
			"param":  "files",
			"reason": "missing or empty",
		})
	}

	files := make([]types.UploadedFile, 0, len(rawFiles))
	for i, raw := range rawFiles {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid file entry", map[string]interface{}{"index": i})
		}
		path := getStringDefault(entry, "path", "")
		if path == "" || !filepath.IsAbs(path) {
			return nil, newMCPError(ErrorCodeInvalidParams, "file path must be absolute", map[string]interface{}{
				"index": i,
				"path":  path,
			})
		}
		files = append(files, types.UploadedFile{
			InternalName: getStringDefault(entry, "internal_name", filepath.Base(path)),
			Path:         path,
			OriginalName: getStringDefault(entry, "original_name", filepath.Base(path)),
			UploadedAt:   time.Now(),
		})
	}

	outcomes, err := s.svc.ScheduleFiles(ctx, project, files)
	if err != nil {
		return nil, s.toMCPError("scheduling failed", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"project":  project,
		"outcomes": outcomes,
	})), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	project, err := requireString(args, "project")
	if err != nil {
		return nil, err
	}

	status, err := s.svc.Status(project)
	if err != nil {
		return nil, s.toMCPError("failed to get status", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"project":   status.Project,
		"files":     status.Files,
		"counts":    status.Counts,
		"templates": status.Templates,
	})), nil
}

// handleIndexFile handles the index_file tool invocation
func (s *Server) handleIndexFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	project, err := requireString(args, "project")
	if err != nil {
		return nil, err
	}
	name, err := requireString(args, "original_name")
	if err != nil {
		return nil, err
	}

	start := time.Now()
	added, err := s.svc.IndexFile(ctx, project, name)
	if err != nil {
		return nil, s.toMCPError("indexing failed", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"project":     project,
		"file":        name,
		"added":       added,
		"duration_ms": time.Since(start).Milliseconds(),
	})), nil
}

// handleSearchTemplates handles the search_templates tool invocation
func (s *Server) handleSearchTemplates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	project, err := requireString(args, "project")
	if err != nil {
		return nil, err
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", 0)
	if topK < 0 || topK > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "top_k must be between 0 and 100", map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	results, err := s.svc.Search(ctx, project, query, topK)
	if err != nil {
		return nil, s.toMCPError("search failed", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"project": project,
		"query":   query,
		"results": results,
	})), nil
}

// handleListTemplates handles the list_templates tool invocation
func (s *Server) handleListTemplates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	project, err := requireString(args, "project")
	if err != nil {
		return nil, err
	}

	limit := getIntDefault(args, "limit", 50)
	if limit < 1 || limit > 1000 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 1000", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	templates, err := s.svc.Templates(ctx, project)
	if err != nil {
		return nil, s.toMCPError("failed to list templates", err)
	}

	total := len(templates)
	if len(templates) > limit {
		templates = templates[:limit]
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"project":   project,
		"total":     total,
		"templates": templates,
	})), nil
}

// Helper functions

// toMCPError maps domain errors to MCP error codes
func (s *Server) toMCPError(message string, err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, types.ErrProjectRequired), errors.Is(err, types.ErrInvalidProject),
		errors.Is(err, types.ErrUnknownFile):
		return newMCPError(ErrorCodeInvalidParams, message, data)
	case errors.Is(err, types.ErrEmptyQuery):
		return newMCPError(ErrorCodeEmptyQuery, message, data)
	case errors.Is(err, types.ErrInvalidTransition):
		return newMCPError(ErrorCodeNotParsed, message, data)
	default:
		s.log.Errorw("Tool call failed", "message", message, logging.FieldError, err)
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// requireString extracts a non-empty string parameter
func requireString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || val == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return val, nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok && val != "" {
		return val
	}
	return defaultValue
}
