package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/chatterhq/slack-chatter/internal/metrics"
)

// Instructions is the human guidance returned from initialize.
const Instructions = "This server provides semantic search over indexed Slack messages. " +
	"Use 'search_slack_messages' to find relevant conversations, 'get_slack_channels' " +
	"to list available channels, and 'get_search_stats' to view indexing statistics."

// method is the typed command table. Routing goes through parseMethod
// and an exhaustive switch so an unknown string can only ever reach
// the method-not-found arm.
type method int

const (
	methodInitialize method = iota
	methodToolsList
	methodToolsCall
	methodPing
)

func parseMethod(s string) (method, bool) {
	switch s {
	case "initialize":
		return methodInitialize, true
	case "tools/list":
		return methodToolsList, true
	case "tools/call":
		return methodToolsCall, true
	case "ping":
		return methodPing, true
	default:
		return 0, false
	}
}

// Dispatcher routes JSON-RPC requests for one session. It owns the
// session's initialize state; two sessions never share a dispatcher.
// All dispatch for a session is serialized through mu so concurrent
// requests cannot observe the initialized flag inconsistently.
type Dispatcher struct {
	tools   ToolRunner
	scopes  []string
	info    ServerInfo
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	initialized bool
}

// NewDispatcher creates a dispatcher for a session holding the given
// scopes. metrics may be nil.
func NewDispatcher(tools ToolRunner, scopes []string, info ServerInfo, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		tools:   tools,
		scopes:  scopes,
		info:    info,
		logger:  logger,
		metrics: m,
	}
}

// Initialized reports whether the session completed initialize.
func (d *Dispatcher) Initialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.initialized
}

// Parse decodes a raw JSON-RPC request. On malformed JSON it returns a
// parse-error response instead of a request.
func Parse(raw []byte) (*Request, *Response) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, NewError(nil, CodeParseError, "Parse error", map[string]string{"details": err.Error()})
	}

	return &req, nil
}

// Handle routes one request and always produces a response; the
// gateway has no notification methods.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) *Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	resp := d.route(ctx, req)

	if d.metrics != nil {
		code := 0
		if resp.Error != nil {
			code = resp.Error.Code
		}

		d.metrics.RPCRequests.WithLabelValues(req.Method, strconv.Itoa(code)).Inc()
	}

	return resp
}

func (d *Dispatcher) route(ctx context.Context, req *Request) *Response {
	if req.JSONRPC != Version {
		return NewError(req.ID, CodeInvalidRequest, "Invalid Request",
			map[string]string{"details": "jsonrpc must be \"2.0\""})
	}

	if req.Method == "" {
		return NewError(req.ID, CodeInvalidRequest, "Invalid Request",
			map[string]string{"details": "missing method"})
	}

	m, ok := parseMethod(req.Method)
	if !ok {
		return NewError(req.ID, CodeMethodNotFound, "Method not found",
			map[string]string{"method": req.Method})
	}

	switch m {
	case methodInitialize:
		return d.handleInitialize(req)
	case methodToolsList:
		return d.handleToolsList(req)
	case methodToolsCall:
		return d.handleToolsCall(ctx, req)
	case methodPing:
		return NewResult(req.ID, struct{}{})
	}

	// Unreachable: parseMethod only yields the cases above.
	return NewError(req.ID, CodeInternalError, "Internal error", nil)
}

// initializeParams is what clients send to initialize. The fields are
// logged but none affect the result; repeated initialize is an
// idempotent no-op returning identical capabilities.
type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
	Capabilities json.RawMessage `json:"capabilities"`
}

func (d *Dispatcher) handleInitialize(req *Request) *Response {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewError(req.ID, CodeInvalidParams, "Invalid params",
				map[string]string{"details": err.Error()})
		}
	}

	d.logger.Info("client initializing",
		slog.String("client", params.ClientInfo.Name),
		slog.String("client_version", params.ClientInfo.Version),
		slog.String("protocol_version", params.ProtocolVersion),
		slog.Bool("reinitialize", d.initialized),
	)

	d.initialized = true

	return NewResult(req.ID, InitializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo:      d.info,
		Capabilities:    Capabilities{Tools: ToolCapabilities{ListChanged: false}},
		Instructions:    Instructions,
	})
}

func (d *Dispatcher) handleToolsList(req *Request) *Response {
	if !d.initialized {
		return NewError(req.ID, CodeNotInitialized, "Server not initialized", nil)
	}

	return NewResult(req.ID, map[string]any{"tools": d.tools.List()})
}

// callParams is the tools/call params member.
type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, req *Request) *Response {
	if !d.initialized {
		return NewError(req.ID, CodeNotInitialized, "Server not initialized", nil)
	}

	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return NewError(req.ID, CodeInvalidParams, "Invalid params",
			map[string]string{"details": err.Error()})
	}

	if params.Name == "" {
		return NewError(req.ID, CodeInvalidParams, "Invalid params",
			map[string]string{"details": "missing tool name"})
	}

	required, ok := d.tools.Scope(params.Name)
	if !ok {
		return NewError(req.ID, CodeMethodNotFound, "Method not found",
			map[string]string{"tool": params.Name})
	}

	// Scope enforcement happens before the handler so an
	// under-privileged session never reaches the backend.
	if !hasScope(d.scopes, required) {
		return NewError(req.ID, CodeAuthFailed, "Authentication failed",
			map[string]string{"details": fmt.Sprintf("insufficient scope: %s required", required)})
	}

	result, err := d.tools.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		var badParams *InvalidParamsError
		if errors.As(err, &badParams) {
			return NewError(req.ID, CodeInvalidParams, "Invalid params",
				map[string]string{"details": badParams.Msg})
		}

		return NewError(req.ID, CodeInternalError, "Internal error",
			map[string]string{"details": err.Error()})
	}

	if d.metrics != nil {
		outcome := "ok"
		if result.IsError {
			outcome = "error"
		}

		d.metrics.ToolCalls.WithLabelValues(params.Name, outcome).Inc()
	}

	return NewResult(req.ID, result)
}

func hasScope(granted []string, required string) bool {
	if required == "" {
		return true
	}

	for _, s := range granted {
		if s == required {
			return true
		}
	}

	return false
}
