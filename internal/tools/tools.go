// Package tools defines the static tool catalog exposed over the MCP
// protocol. Each tool validates its own arguments, calls the backend
// service, and renders the result into uniform text content blocks.
// Registry membership is fixed at process start.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/chatterhq/slack-chatter/internal/backend"
	"github.com/chatterhq/slack-chatter/internal/mcp"
	"github.com/chatterhq/slack-chatter/internal/models"
)

// Scopes required per tool.
const (
	ScopeSearch   = "search:read"
	ScopeChannels = "channels:read"
	ScopeStats    = "stats:read"
)

// AllScopes lists every scope the gateway knows about.
var AllScopes = []string{ScopeSearch, ScopeChannels, ScopeStats}

// Search argument bounds. top_k is clamped rather than rejected.
const (
	maxQueryLength = 1000
	defaultTopK    = 10
	minTopK        = 1
	maxTopK        = 50
)

// datePattern is the strict filter format: YYYY-MM-DD.
var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Handler executes a tool. Business failures are reported inside the
// result with IsError set; a returned error means the arguments were
// unusable or something in the protocol machinery broke.
type Handler func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error)

// Descriptor is one catalog entry binding a schema and scope to a
// handler.
type Descriptor struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	Scope       string
	Handler     Handler
}

// Registry is the immutable tool catalog. It satisfies mcp.ToolRunner.
type Registry struct {
	order  []string
	byName map[string]*Descriptor
	logger *slog.Logger
}

// NewRegistry builds the catalog over the backend service.
func NewRegistry(svc backend.Service, logger *slog.Logger) *Registry {
	r := &Registry{
		byName: make(map[string]*Descriptor),
		logger: logger,
	}

	r.register(searchTool(svc, logger))
	r.register(channelsTool(svc, logger))
	r.register(statsTool(svc, logger))

	return r
}

func (r *Registry) register(d *Descriptor) {
	r.order = append(r.order, d.Name)
	r.byName[d.Name] = d
}

// List returns the catalog in registration order, handlers excluded.
func (r *Registry) List() []mcp.ToolInfo {
	infos := make([]mcp.ToolInfo, 0, len(r.order))

	for _, name := range r.order {
		d := r.byName[name]
		infos = append(infos, mcp.ToolInfo{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}

	return infos
}

// Scope returns the scope required for the named tool.
func (r *Registry) Scope(name string) (string, bool) {
	d, ok := r.byName[name]
	if !ok {
		return "", false
	}

	return d.Scope, true
}

// Call invokes the named tool's handler.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	d, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}

	return d.Handler(ctx, args)
}

// --- search_slack_messages ---

type searchArgs struct {
	Query         string `json:"query"`
	TopK          int    `json:"top_k"`
	ChannelFilter string `json:"channel_filter"`
	UserFilter    string `json:"user_filter"`
	DateFrom      string `json:"date_from"`
	DateTo        string `json:"date_to"`
}

// validate normalizes the arguments in place.
func (a *searchArgs) validate() error {
	a.Query = strings.TrimSpace(a.Query)
	if a.Query == "" {
		return mcp.InvalidParams("query must not be empty")
	}

	if len(a.Query) > maxQueryLength {
		return mcp.InvalidParams("query exceeds %d characters", maxQueryLength)
	}

	// Out-of-range counts are clamped, not rejected.
	if a.TopK == 0 {
		a.TopK = defaultTopK
	} else if a.TopK < minTopK {
		a.TopK = minTopK
	} else if a.TopK > maxTopK {
		a.TopK = maxTopK
	}

	for _, date := range []string{a.DateFrom, a.DateTo} {
		if date != "" && !datePattern.MatchString(date) {
			return mcp.InvalidParams("date filter %q must match YYYY-MM-DD", date)
		}
	}

	return nil
}

func searchTool(svc backend.Service, logger *slog.Logger) *Descriptor {
	return &Descriptor{
		Name:        "search_slack_messages",
		Description: "Search for Slack messages using semantic similarity",
		Scope:       ScopeSearch,
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": {
					Type:        "string",
					Description: "Natural language search query",
					MinLength:   ptr(1),
					MaxLength:   ptr(maxQueryLength),
				},
				"top_k": {
					Type:        "integer",
					Description: "Number of results to return (1-50)",
					Minimum:     fptr(minTopK),
					Maximum:     fptr(maxTopK),
					Default:     json.RawMessage(`10`),
				},
				"channel_filter": {
					Type:        "string",
					Description: "Filter results by channel name",
				},
				"user_filter": {
					Type:        "string",
					Description: "Filter results by user name",
				},
				"date_from": {
					Type:        "string",
					Description: "Filter messages from this date (YYYY-MM-DD)",
					Pattern:     datePattern.String(),
				},
				"date_to": {
					Type:        "string",
					Description: "Filter messages to this date (YYYY-MM-DD)",
					Pattern:     datePattern.String(),
				},
			},
			Required: []string{"query"},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (*mcp.CallToolResult, error) {
			var args searchArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}

			if err := args.validate(); err != nil {
				return nil, err
			}

			results, err := svc.Search(ctx, models.SearchQuery{
				Query:         args.Query,
				TopK:          args.TopK,
				ChannelFilter: args.ChannelFilter,
				UserFilter:    args.UserFilter,
				DateFrom:      args.DateFrom,
				DateTo:        args.DateTo,
			})
			if err != nil {
				logger.Error("search failed", slog.String("error", err.Error()))
				return errorResult("Error searching Slack messages: " + err.Error()), nil
			}

			payload := map[string]any{
				"status":        "success",
				"timestamp":     time.Now().UTC().Format(time.RFC3339),
				"query":         args.Query,
				"total_results": len(results),
				"results":       results,
			}

			return jsonResult(payload)
		},
	}
}

// --- get_slack_channels ---

func channelsTool(svc backend.Service, logger *slog.Logger) *Descriptor {
	return &Descriptor{
		Name:        "get_slack_channels",
		Description: "Get list of available Slack channels",
		Scope:       ScopeChannels,
		InputSchema: emptyObjectSchema(),
		Handler: func(ctx context.Context, raw json.RawMessage) (*mcp.CallToolResult, error) {
			channels, err := svc.Channels(ctx)
			if err != nil {
				logger.Error("channel listing failed", slog.String("error", err.Error()))
				return errorResult("Error getting Slack channels: " + err.Error()), nil
			}

			return jsonResult(map[string]any{
				"status":    "success",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
				"channels":  channels,
			})
		},
	}
}

// --- get_search_stats ---

func statsTool(svc backend.Service, logger *slog.Logger) *Descriptor {
	return &Descriptor{
		Name:        "get_search_stats",
		Description: "Get statistics about the indexed Slack messages",
		Scope:       ScopeStats,
		InputSchema: emptyObjectSchema(),
		Handler: func(ctx context.Context, raw json.RawMessage) (*mcp.CallToolResult, error) {
			stats, err := svc.Stats(ctx)
			if err != nil {
				logger.Error("stats lookup failed", slog.String("error", err.Error()))
				return errorResult("Error getting search statistics: " + err.Error()), nil
			}

			return jsonResult(map[string]any{
				"status":    "success",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
				"stats":     stats,
			})
		},
	}
}

// --- helpers ---

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return mcp.InvalidParams("invalid arguments: %v", err)
	}

	return nil
}

// jsonResult renders v as an indented JSON text block.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding tool result: %w", err)
	}

	return &mcp.CallToolResult{Content: mcp.TextContent(string(data))}, nil
}

// errorResult marks a business failure without failing the envelope.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: mcp.TextContent(msg), IsError: true}
}

func emptyObjectSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: map[string]*jsonschema.Schema{},
	}
}

func ptr(n int) *int { return &n }

func fptr(n float64) *float64 { return &n }
