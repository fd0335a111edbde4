package mcp

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/Fuabioo/toolhost/internal/orchestrator"
	"github.com/Fuabioo/toolhost/internal/rpc"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const serverName = "toolhost"

// Host is the part of the orchestrator the MCP tools drive.
type Host interface {
	Snapshot() []orchestrator.Status
	ServerDetails(name string) (*orchestrator.Details, error)
	IsServerRunning(name string) bool
	Start(name string) error
	Stop(name string, logIfNotActive bool) orchestrator.StopResult
	SendCommand(ctx context.Context, name, method string, params any) *rpc.Response
}

// Server exposes a Host as an MCP server.
type Server struct {
	mcp  *server.MCPServer
	host Host
}

// NewServer creates the MCP server with all toolhost tools registered.
func NewServer(host Host, version string) *Server {
	s := &Server{host: host}
	s.mcp = server.NewMCPServer(serverName, version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	// toolhost_servers
	s.mcp.AddTool(mcp.NewTool("toolhost_servers",
		mcp.WithDescription("Lists every configured tool server and whether it is running"),
	), s.handleServers)

	// toolhost_details
	s.mcp.AddTool(mcp.NewTool("toolhost_details",
		mcp.WithDescription("Shows the configuration, process state and load notes of one server"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Server name")),
	), s.handleDetails)

	// toolhost_start
	s.mcp.AddTool(mcp.NewTool("toolhost_start",
		mcp.WithDescription("Starts a server; starting a running server does nothing"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Server name")),
	), s.handleStart)

	// toolhost_stop
	s.mcp.AddTool(mcp.NewTool("toolhost_stop",
		mcp.WithDescription("Stops a server, forcing termination if it ignores the graceful signal"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Server name")),
	), s.handleStop)

	// toolhost_call
	s.mcp.AddTool(mcp.NewTool("toolhost_call",
		mcp.WithDescription("Sends a JSON-RPC request to a server, starting it first if needed"),
		mcp.WithString("server",
			mcp.Required(),
			mcp.Description("Server name")),
		mcp.WithString("method",
			mcp.Required(),
			mcp.Description("JSON-RPC method, e.g. \"tools/list\"")),
		mcp.WithObject("params",
			mcp.Description("Request params as an object or a JSON string (default: {})")),
	), s.handleCall)
}

// Serve runs the MCP protocol over in and out until ctx is cancelled or in
// is closed. Transport errors are written to errLog.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer, errLog io.Writer) error {
	stdioServer := server.NewStdioServer(s.mcp)
	if errLog != nil {
		stdioServer.SetErrorLogger(log.New(errLog, "mcp: ", 0))
	}
	if err := stdioServer.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to serve MCP: %w", err)
	}
	return nil
}
