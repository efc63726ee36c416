package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
	"github.com/zaidmukaddam/openlord.ai/pkg/model"
)

func TestDecodeArgs(t *testing.T) {
	cases := []struct {
		name    string
		tool    domain.ToolName
		raw     map[string]any
		want    Args
		field   string
		unknown bool
	}{
		{
			name: "weather",
			tool: domain.ToolWeather,
			raw:  map[string]any{"city": "Paris", "latitude": 48.86, "longitude": 2.35},
			want: WeatherArgs{City: "Paris", Latitude: 48.86, Longitude: 2.35},
		},
		{
			name:  "weather missing latitude",
			tool:  domain.ToolWeather,
			raw:   map[string]any{"city": "Paris", "longitude": 2.35},
			field: "latitude",
		},
		{
			name:  "weather latitude as string",
			tool:  domain.ToolWeather,
			raw:   map[string]any{"city": "Paris", "latitude": "48.86", "longitude": 2.35},
			field: "latitude",
		},
		{
			name:  "weather out of range",
			tool:  domain.ToolWeather,
			raw:   map[string]any{"city": "Nowhere", "latitude": 123.0, "longitude": 2.35},
			field: "latitude",
		},
		{
			name: "search",
			tool: domain.ToolWebSearch,
			raw:  map[string]any{"query": "golang", "maxResults": 10.0, "searchDepth": "advanced"},
			want: WebSearchArgs{Query: "golang", MaxResults: 10, SearchDepth: SearchAdvanced},
		},
		{
			name:  "search bad enum",
			tool:  domain.ToolWebSearch,
			raw:   map[string]any{"query": "golang", "maxResults": 10.0, "searchDepth": "deep"},
			field: "searchDepth",
		},
		{
			name: "malformed arguments",
			tool: domain.ToolWebSearch,
			raw:  nil,
		},
		{
			name:    "unknown tool",
			tool:    "run_shell",
			raw:     map[string]any{},
			unknown: true,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := DecodeArgs(c.tool, c.raw)
			switch {
			case c.unknown:
				assert.ErrorIs(t, err, ErrUnknownTool)
			case c.want != nil:
				require.NoError(t, err)
				assert.Equal(t, c.want, got)
			default:
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, c.field, verr.Field)
			}
		})
	}
}

type countingTool struct {
	calls atomic.Int32
	err   error
}

func (c *countingTool) Name() domain.ToolName { return domain.ToolWeather }
func (c *countingTool) Description() string { return "test" }
func (c *countingTool) Schema() *model.Schema { return weatherSchema }
func (c *countingTool) Execute(ctx context.Context, args Args) (any, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return map[string]string{"city": args.(WeatherArgs).City}, nil
}

func TestRegistryRun(t *testing.T) {
	tool := &countingTool{}
	r := NewRegistry(tool)

	res := r.Run(t.Context(), domain.ToolCall{
		ID: "c1", Name: "weatherTool",
		Input: map[string]any{"city": "Paris", "latitude": 48.86, "longitude": 2.35},
	})
	assert.False(t, res.IsError)
	assert.Equal(t, "c1", res.ToolCallID)
	assert.JSONEq(t, `{"city":"Paris"}`, string(res.Content))

	t.Run("validation failure is not executed", func(t *testing.T) {
		res := r.Run(t.Context(), domain.ToolCall{ID: "c2", Name: "weatherTool", Input: map[string]any{"city": "Paris"}})
		assert.True(t, res.IsError)
		assert.Contains(t, string(res.Content), "latitude")
		assert.EqualValues(t, 1, tool.calls.Load())
	})

	t.Run("execution failure", func(t *testing.T) {
		failing := NewRegistry(&countingTool{err: errors.New("boom")})
		res := failing.Run(t.Context(), domain.ToolCall{
			ID: "c3", Name: "weatherTool",
			Input: map[string]any{"city": "Paris", "latitude": 1.0, "longitude": 1.0},
		})
		assert.True(t, res.IsError)
		assert.JSONEq(t, `{"error":"boom"}`, string(res.Content))
	})

	t.Run("unknown tool", func(t *testing.T) {
		res := r.Run(t.Context(), domain.ToolCall{ID: "c4", Name: "web_search", Input: map[string]any{}})
		assert.True(t, res.IsError)
	})
}

func TestDefinitionsSorted(t *testing.T) {
	r := NewRegistry(&WebSearch{}, &Weather{})
	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "weatherTool", defs[0].Name)
	assert.Equal(t, "web_search", defs[1].Name)
	assert.Equal(t, []string{"query", "maxResults", "searchDepth"}, defs[1].Parameters.Required)
}

func weatherServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/v1/forecast", r.URL.Path)
		assert.Equal(t, "48.8566", r.URL.Query().Get("latitude"))
		assert.Equal(t, "temperature_2m,apparent_temperature,rain", r.URL.Query().Get("current"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"current":{"time":"2024-06-01T12:00","temperature_2m":21.4,"apparent_temperature":20.9,"rain":0.2}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWeather(t *testing.T) {
	var hits atomic.Int32
	srv := weatherServer(t, &hits)
	w := &Weather{BaseURL: srv.URL}

	out, err := w.Execute(t.Context(), WeatherArgs{City: "Paris", Latitude: 48.8566, Longitude: 2.3522})
	require.NoError(t, err)
	assert.Equal(t, &WeatherReport{Temperature: 21.4, ApparentTemperature: 20.9, Rain: 0.2, Unit: "°C"}, out)
}

func TestWeatherUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := (&Weather{BaseURL: srv.URL}).Execute(t.Context(), WeatherArgs{Latitude: 1, Longitude: 1})
	assert.ErrorContains(t, err, "503")
}

func TestWeatherCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	var hits atomic.Int32
	srv := weatherServer(t, &hits)
	w := &Weather{BaseURL: srv.URL, Cache: rdb, CacheTTL: time.Minute}

	args := WeatherArgs{City: "Paris", Latitude: 48.8566, Longitude: 2.3522}
	first, err := w.Execute(t.Context(), args)
	require.NoError(t, err)
	second, err := w.Execute(t.Context(), args)
	require.NoError(t, err)

	assert.EqualValues(t, 1, hits.Load())
	assert.Equal(t, first, second)
	assert.True(t, mr.Exists("openlord:weather:48.86:2.35"))
	assert.Equal(t, time.Minute, mr.TTL("openlord:weather:48.86:2.35"))
}

func TestWebSearch(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"query":"go","answer":"Go is a programming language.","results":[{"url":"https://go.dev","title":"Go","content":"The Go language","raw_content":null,"score":0.9}]}`))
	}))
	defer srv.Close()

	s := &WebSearch{BaseURL: srv.URL, APIKey: "tvly-test"}
	out, err := s.Execute(t.Context(), WebSearchArgs{Query: "go", MaxResults: 2, SearchDepth: SearchBasic})
	require.NoError(t, err)

	assert.EqualValues(t, 5, got["max_results"], "result count has a floor of five")
	assert.Equal(t, "tvly-test", got["api_key"])
	assert.Equal(t, true, got["include_images"])
	assert.Equal(t, true, got["include_answer"])
	assert.NotContains(t, got, "include_answers")
	assert.Equal(t, "basic", got["search_depth"])

	resp := out.(*SearchResponse)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, SearchResult{URL: "https://go.dev", Title: "Go", Content: "The Go language"}, resp.Results[0])
	assert.Equal(t, "Go is a programming language.", resp.Answer)
}

func TestWebSearchMissingKey(t *testing.T) {
	_, err := (&WebSearch{BaseURL: "http://unused"}).Execute(t.Context(), WebSearchArgs{Query: "go", MaxResults: 10, SearchDepth: SearchBasic})
	assert.ErrorContains(t, err, "missing API key")
}
