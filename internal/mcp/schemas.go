package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func projectProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Project name (a directory under the data directory)",
	}
}

// scheduleFilesTool returns the tool definition for schedule_files
func scheduleFilesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "schedule_files",
		Description: "Schedule uploaded log files of a project for timestamp normalization and template mining",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project": projectProperty(),
				"files": map[string]interface{}{
					"type":        "array",
					"description": "Files to schedule",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"path": map[string]interface{}{
								"type":        "string",
								"description": "Absolute path of the stored upload",
							},
							"original_name": map[string]interface{}{
								"type":        "string",
								"description": "Filename as uploaded; keys the status entry (defaults to the path's base name)",
							},
							"internal_name": map[string]interface{}{
								"type":        "string",
								"description": "Storage name of the upload",
							},
						},
						"required": []string{"path"},
					},
				},
			},
			Required: []string{"project", "files"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Per-file processing state (queued, parsed, indexed, error) and index size of a project",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project": projectProperty(),
			},
			Required: []string{"project"},
		},
	}
}

// indexFileTool returns the tool definition for index_file
func indexFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_file",
		Description: "Embed the unique templates of a parsed file and add them to the project's semantic index",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project": projectProperty(),
				"original_name": map[string]interface{}{
					"type":        "string",
					"description": "Filename the file was scheduled under; its recorded upload is indexed",
				},
			},
			Required: []string{"project", "original_name"},
		},
	}
}

// searchTemplatesTool returns the tool definition for search_templates
func searchTemplatesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_templates",
		Description: "Find log templates semantically similar to a natural language query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project": projectProperty(),
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or log text)",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (0 uses the configured default)",
					"default":     0,
					"minimum":     0,
					"maximum":     100,
				},
			},
			Required: []string{"project", "query"},
		},
	}
}

// listTemplatesTool returns the tool definition for list_templates
func listTemplatesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_templates",
		Description: "List the indexed templates of a project, most frequent first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project": projectProperty(),
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of templates to return (1-1000)",
					"default":     50,
					"minimum":     1,
					"maximum":     1000,
				},
			},
			Required: []string{"project"},
		},
	}
}
