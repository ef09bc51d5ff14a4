// Package mcp implements the JSON-RPC 2.0 tool-calling protocol: the
// envelope types, error codes, and a per-session dispatcher for the
// initialize / tools/list / tools/call / ping method set.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Version is the JSON-RPC protocol version accepted and emitted.
const Version = "2.0"

// ProtocolVersion is the MCP revision this server implements.
const ProtocolVersion = "2025-06-18"

// Standard JSON-RPC 2.0 error codes plus the application codes used by
// the gateway.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeAuthFailed covers missing/invalid credentials and
	// insufficient scope. Distinct from protocol errors so callers
	// know to re-authenticate rather than fix the request.
	CodeAuthFailed = -32001

	// CodeNotInitialized rejects tools/list and tools/call on a
	// session that has not completed initialize.
	CodeNotInitialized = -32002
)

// Request is a JSON-RPC 2.0 request. ID is kept raw so the response
// can echo it verbatim, null included.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error
// is set. The id field is always present; a nil RawMessage marshals as
// null, matching requests that carried a null or absent id.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the JSON-RPC error member.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewResult builds a success response echoing the request id.
func NewResult(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// NewError builds an error response echoing the request id.
func NewError(id json.RawMessage, code int, message string, data any) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message, Data: data},
	}
}

// ContentBlock is one typed block of tool output. Only text blocks are
// produced today but the shape leaves room for richer types.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextContent builds a single-text content list.
func TextContent(text string) []ContentBlock {
	return []ContentBlock{{Type: "text", Text: text}}
}

// CallToolResult is the result member of a tools/call response.
// IsError marks a tool that ran but reports a business failure; the
// RPC envelope itself is still a success.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

// ToolInfo is the catalog entry returned by tools/list. Handlers are
// never exposed on the wire.
type ToolInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
}

// ToolRunner is the tool registry surface the dispatcher needs.
type ToolRunner interface {
	// List returns the static catalog.
	List() []ToolInfo

	// Scope returns the scope required to call the named tool, and
	// whether the tool exists.
	Scope(name string) (string, bool)

	// Call invokes the named tool. Business failures come back inside
	// the result with IsError set, not as an error.
	Call(ctx context.Context, name string, args json.RawMessage) (*CallToolResult, error)
}

// InvalidParamsError marks a handler's rejection of the supplied
// arguments. The dispatcher maps it to CodeInvalidParams instead of
// the generic internal error.
type InvalidParamsError struct {
	Msg string
}

func (e *InvalidParamsError) Error() string { return e.Msg }

// InvalidParams builds an InvalidParamsError.
func InvalidParams(format string, args ...any) error {
	return &InvalidParamsError{Msg: fmt.Sprintf(format, args...)}
}

// InitializeResult is the result of the initialize method.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
	Instructions    string       `json:"instructions,omitempty"`
}

// ServerInfo identifies this server to clients.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities advertises what the server supports.
type Capabilities struct {
	Tools ToolCapabilities `json:"tools"`
}

// ToolCapabilities describes the tools capability. The catalog is
// fixed at startup, so listChanged is always false.
type ToolCapabilities struct {
	ListChanged bool `json:"listChanged"`
}
