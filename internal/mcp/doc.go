// Package mcp implements the Model Context Protocol (MCP) server for logsift.
//
// The server exposes five tools to AI assistants:
//   - schedule_files: Submit uploaded log files of a project for parsing
//   - get_status: Read the per-file processing state of a project
//   - index_file: Add the templates of a parsed file to the project index
//   - search_templates: Semantic search over indexed templates
//   - list_templates: Indexed templates, most frequent first
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// # Basic Usage
//
//	logsift mcp
//
// # Tool: search_templates
//
//	Request:
//	{
//	  "name": "search_templates",
//	  "arguments": {
//	    "project": "router-fleet",
//	    "query": "link down",
//	    "top_k": 5
//	  }
//	}
//
//	Response:
//	{
//	  "project": "router-fleet",
//	  "results": [
//	    {
//	      "filename": "messages.log",
//	      "template": "Link down on <*>",
//	      "frequency": 42,
//	      "similarity": 0.87
//	    }
//	  ]
//	}
//
// # Error Handling
//
// Errors are returned as MCPError values carrying a JSON-RPC code:
//   - -32602: Invalid parameters
//   - -32603: Internal error
//   - -32003: File not parsed yet
//   - -32004: Empty query
package mcp
