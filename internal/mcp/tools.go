package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Fuabioo/toolhost/internal/errors"
	"github.com/mark3labs/mcp-go/mcp"
)

// handleServers implements toolhost_servers.
func (s *Server) handleServers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	response := map[string]interface{}{
		"servers": s.host.Snapshot(),
	}
	return jsonResult(response), nil
}

// handleDetails implements toolhost_details.
func (s *Server) handleDetails(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return errorResult("INVALID_PARAMS", "name is required"), nil
	}

	details, err := s.host.ServerDetails(name)
	if err != nil {
		return mcpErrorResult(err), nil
	}
	return jsonResult(details), nil
}

// handleStart implements toolhost_start.
func (s *Server) handleStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return errorResult("INVALID_PARAMS", "name is required"), nil
	}

	if err := s.host.Start(name); err != nil {
		return mcpErrorResult(err), nil
	}

	details, err := s.host.ServerDetails(name)
	if err != nil {
		return mcpErrorResult(err), nil
	}

	response := map[string]interface{}{
		"name":    name,
		"running": details.Running,
		"pid":     details.PID,
	}
	return jsonResult(response), nil
}

// handleStop implements toolhost_stop.
func (s *Server) handleStop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return errorResult("INVALID_PARAMS", "name is required"), nil
	}

	result := s.host.Stop(name, true)

	response := map[string]interface{}{
		"name":   name,
		"result": result.String(),
	}
	return jsonResult(response), nil
}

// handleCall implements toolhost_call. The server's response is returned
// as-is; error responses are flagged so clients can tell them apart.
func (s *Server) handleCall(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	server, err := request.RequireString("server")
	if err != nil {
		return errorResult("INVALID_PARAMS", "server is required"), nil
	}
	method, err := request.RequireString("method")
	if err != nil {
		return errorResult("INVALID_PARAMS", "method is required"), nil
	}

	params, err := callParams(request.GetArguments()["params"])
	if err != nil {
		return errorResult("INVALID_PARAMS", err.Error()), nil
	}

	resp := s.host.SendCommand(ctx, server, method, params)

	result := jsonResult(resp)
	result.IsError = resp.Failed()
	return result, nil
}

// callParams accepts params as a JSON object or as a string holding one.
func callParams(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return nil, fmt.Errorf("params is not valid JSON: %v", err)
		}
		return decoded, nil
	default:
		return v, nil
	}
}

// Helper functions

// mcpErrorResult converts a toolhost error to an MCP error result.
func mcpErrorResult(err error) *mcp.CallToolResult {
	code := errors.Code(err)
	if code == "" {
		code = "INTERNAL_ERROR"
	}

	return errorResult(code, err.Error())
}

// errorResult creates an MCP error result.
func errorResult(code, message string) *mcp.CallToolResult {
	errorData := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	}

	jsonBytes, err := json.Marshal(errorData)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error: %s - %s", code, message))
	}

	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// jsonResult creates an MCP success result from a JSON-serializable object.
func jsonResult(data interface{}) *mcp.CallToolResult {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return errorResult("INTERNAL_ERROR", fmt.Sprintf("failed to marshal response: %s", err))
	}

	return mcp.NewToolResultText(string(jsonBytes))
}
