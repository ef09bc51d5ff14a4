package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/chatterhq/slack-chatter/internal/mcp"
	"github.com/chatterhq/slack-chatter/internal/models"
)

// fakeBackend records calls and returns canned data.
type fakeBackend struct {
	lastQuery models.SearchQuery
	searches  int
	fail      error
}

func (f *fakeBackend) Search(_ context.Context, q models.SearchQuery) ([]models.SearchResult, error) {
	f.searches++
	f.lastQuery = q

	if f.fail != nil {
		return nil, f.fail
	}

	return []models.SearchResult{{
		MessageID:       "m1",
		Text:            "the deploy failed",
		UserName:        "ana",
		ChannelName:     "ops",
		Timestamp:       "2025-02-01T10:00:00Z",
		SimilarityScore: 0.9,
	}}, nil
}

func (f *fakeBackend) Channels(context.Context) ([]string, error) {
	if f.fail != nil {
		return nil, f.fail
	}

	return []string{"general", "ops"}, nil
}

func (f *fakeBackend) Stats(context.Context) (models.SearchStats, error) {
	if f.fail != nil {
		return models.SearchStats{}, f.fail
	}

	return models.SearchStats{TotalMessages: 42, ChannelsIndexed: 2, Status: "ready"}, nil
}

func (f *fakeBackend) Health(context.Context) (models.Health, error) {
	return models.Health{Status: "healthy"}, nil
}

func testRegistry(t *testing.T) (*Registry, *fakeBackend) {
	t.Helper()

	fb := &fakeBackend{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewRegistry(fb, logger), fb
}

func TestRegistry_ListsThreeToolsInOrder(t *testing.T) {
	r, _ := testRegistry(t)

	infos := r.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "search_slack_messages", infos[0].Name)
	assert.Equal(t, "get_slack_channels", infos[1].Name)
	assert.Equal(t, "get_search_stats", infos[2].Name)

	for _, info := range infos {
		assert.NotEmpty(t, info.Description)
		require.NotNil(t, info.InputSchema)
		assert.Equal(t, "object", info.InputSchema.Type)
	}

	assert.Contains(t, infos[0].InputSchema.Required, "query")
}

func TestRegistry_Scopes(t *testing.T) {
	r, _ := testRegistry(t)

	scope, ok := r.Scope("search_slack_messages")
	require.True(t, ok)
	assert.Equal(t, ScopeSearch, scope)

	scope, ok = r.Scope("get_slack_channels")
	require.True(t, ok)
	assert.Equal(t, ScopeChannels, scope)

	_, ok = r.Scope("unknown")
	assert.False(t, ok)
}

func TestSearch_EmptyQueryRejected(t *testing.T) {
	r, fb := testRegistry(t)

	for _, args := range []string{`{}`, `{"query":""}`, `{"query":"   "}`} {
		_, err := r.Call(t.Context(), "search_slack_messages", json.RawMessage(args))
		require.Error(t, err, "args %s", args)

		var bad *mcp.InvalidParamsError
		assert.ErrorAs(t, err, &bad)
	}

	assert.Zero(t, fb.searches, "invalid arguments must not reach the backend")
}

func TestSearch_QueryTooLong(t *testing.T) {
	r, _ := testRegistry(t)

	long := make([]byte, maxQueryLength+1)
	for i := range long {
		long[i] = 'a'
	}

	args, err := json.Marshal(map[string]string{"query": string(long)})
	require.NoError(t, err)

	_, err = r.Call(t.Context(), "search_slack_messages", args)
	var bad *mcp.InvalidParamsError
	require.ErrorAs(t, err, &bad)
}

func TestSearch_TopKClampedNotRejected(t *testing.T) {
	r, fb := testRegistry(t)

	tests := []struct {
		in   string
		want int
	}{
		{`{"query":"q"}`, defaultTopK},
		{`{"query":"q","top_k":-3}`, minTopK},
		{`{"query":"q","top_k":500}`, maxTopK},
		{`{"query":"q","top_k":25}`, 25},
	}

	for _, tt := range tests {
		result, err := r.Call(t.Context(), "search_slack_messages", json.RawMessage(tt.in))
		require.NoError(t, err, "args %s", tt.in)
		assert.False(t, result.IsError)
		assert.Equal(t, tt.want, fb.lastQuery.TopK, "args %s", tt.in)
	}
}

func TestSearch_DateFilterValidation(t *testing.T) {
	r, _ := testRegistry(t)

	_, err := r.Call(t.Context(), "search_slack_messages",
		json.RawMessage(`{"query":"q","date_from":"2025-02-01","date_to":"2025-03-01"}`))
	require.NoError(t, err)

	for _, bad := range []string{"02-01-2025", "2025/02/01", "yesterday", "2025-2-1"} {
		args, merr := json.Marshal(map[string]string{"query": "q", "date_from": bad})
		require.NoError(t, merr)

		_, err = r.Call(t.Context(), "search_slack_messages", args)

		var ipe *mcp.InvalidParamsError
		require.ErrorAs(t, err, &ipe, "date %q", bad)
	}
}

func TestSearch_SuccessRendersContent(t *testing.T) {
	r, fb := testRegistry(t)

	result, err := r.Call(t.Context(), "search_slack_messages",
		json.RawMessage(`{"query":"deploy failure","channel_filter":"ops"}`))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)

	body := result.Content[0].Text
	assert.Equal(t, "success", gjson.Get(body, "status").String())
	assert.Equal(t, int64(1), gjson.Get(body, "total_results").Int())
	assert.Equal(t, "m1", gjson.Get(body, "results.0.message_id").String())
	assert.Equal(t, "ops", fb.lastQuery.ChannelFilter)
}

func TestSearch_BackendFailureIsErrorResult(t *testing.T) {
	r, fb := testRegistry(t)
	fb.fail = errors.New("index unavailable")

	result, err := r.Call(t.Context(), "search_slack_messages", json.RawMessage(`{"query":"q"}`))
	require.NoError(t, err, "backend failure is a business failure, not an RPC failure")
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "index unavailable")
}

func TestChannels_Success(t *testing.T) {
	r, _ := testRegistry(t)

	result, err := r.Call(t.Context(), "get_slack_channels", nil)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	body := result.Content[0].Text
	assert.Equal(t, "general", gjson.Get(body, "channels.0").String())
	assert.Equal(t, "ops", gjson.Get(body, "channels.1").String())
}

func TestStats_Success(t *testing.T) {
	r, _ := testRegistry(t)

	result, err := r.Call(t.Context(), "get_search_stats", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	body := result.Content[0].Text
	assert.Equal(t, int64(42), gjson.Get(body, "stats.total_messages").Int())
	assert.Equal(t, "ready", gjson.Get(body, "stats.status").String())
}

func TestCall_UnknownTool(t *testing.T) {
	r, _ := testRegistry(t)

	_, err := r.Call(t.Context(), "no_such_tool", nil)
	require.Error(t, err)
}
