package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/logsift/internal/logging"
	"github.com/dshills/logsift/internal/pipeline"
	"github.com/dshills/logsift/internal/scheduler"
	"github.com/dshills/logsift/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "logsift"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Service is the part of the pipeline the tools call
type Service interface {
	ScheduleFiles(ctx context.Context, project string, files []types.UploadedFile) (map[string]scheduler.Outcome, error)
	Status(project string) (*pipeline.ProjectStatus, error)
	Search(ctx context.Context, project, query string, topK int) ([]types.SearchResult, error)
	IndexFile(ctx context.Context, project, originalName string) (int, error)
	Templates(ctx context.Context, project string) ([]types.TemplateRecord, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp *server.MCPServer
	svc Service
	log *zap.SugaredLogger
}

// NewServer creates a new MCP server instance backed by svc
func NewServer(svc Service, logger *zap.SugaredLogger) *Server {
	s := &Server{
		mcp: server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		svc: svc,
		log: logging.Component(logger, "mcp"),
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.log.Infow("MCP server listening on stdio")
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(scheduleFilesTool(), s.handleScheduleFiles)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(indexFileTool(), s.handleIndexFile)
	s.mcp.AddTool(searchTemplatesTool(), s.handleSearchTemplates)
	s.mcp.AddTool(listTemplatesTool(), s.handleListTemplates)
}
