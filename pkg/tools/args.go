package tools

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
	"github.com/zaidmukaddam/openlord.ai/pkg/model"
)

// ErrUnknownTool is returned for tool names outside the registered set.
var ErrUnknownTool = errors.New("unknown tool")

// ValidationError reports tool arguments that do not match the tool schema.
// Calls that fail validation are never executed.
type ValidationError struct {
	Tool  domain.ToolName
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Msg)
	}
	return fmt.Sprintf("invalid arguments for %s: %s: %s", e.Tool, e.Field, e.Msg)
}

// Args is the decoded, validated argument set of one tool call.
type Args interface {
	toolName() domain.ToolName
}

type WeatherArgs struct {
	City      string
	Latitude  float64
	Longitude float64
}

func (WeatherArgs) toolName() domain.ToolName { return domain.ToolWeather }

// SearchDepth is the Tavily search depth.
type SearchDepth string

const (
	SearchBasic    SearchDepth = "basic"
	SearchAdvanced SearchDepth = "advanced"
)

type WebSearchArgs struct {
	Query       string
	MaxResults  int
	SearchDepth SearchDepth
}

func (WebSearchArgs) toolName() domain.ToolName { return domain.ToolWebSearch }

var weatherSchema = &model.Schema{
	Type: "object",
	Properties: map[string]*model.Schema{
		"city":      {Type: "string", Description: "The city of the location to get the weather for."},
		"latitude":  {Type: "number", Description: "The latitude of the location to get the weather for."},
		"longitude": {Type: "number", Description: "The longitude of the location to get the weather for."},
	},
	Required: []string{"city", "latitude", "longitude"},
}

var webSearchSchema = &model.Schema{
	Type: "object",
	Properties: map[string]*model.Schema{
		"query":      {Type: "string", Description: "The search query to look up on the web."},
		"maxResults": {Type: "number", Description: "The maximum number of results to return. Default to be used is 10."},
		"searchDepth": {
			Type:        "string",
			Description: "The search depth to use for the search. Default is basic.",
			Enum:        []string{string(SearchBasic), string(SearchAdvanced)},
		},
	},
	Required: []string{"query", "maxResults", "searchDepth"},
}

// DecodeArgs validates raw model-supplied arguments against the schema of
// tool name and returns the typed variant.
func DecodeArgs(name domain.ToolName, raw map[string]any) (Args, error) {
	if raw == nil {
		return nil, &ValidationError{Tool: name, Msg: "arguments are not a JSON object"}
	}
	switch name {
	case domain.ToolWeather:
		d := decoder{tool: name, raw: raw}
		args := WeatherArgs{
			City:      d.str("city"),
			Latitude:  d.num("latitude"),
			Longitude: d.num("longitude"),
		}
		if d.err != nil {
			return nil, d.err
		}
		if args.Latitude < -90 || args.Latitude > 90 {
			return nil, &ValidationError{Tool: name, Field: "latitude", Msg: "out of range"}
		}
		if args.Longitude < -180 || args.Longitude > 180 {
			return nil, &ValidationError{Tool: name, Field: "longitude", Msg: "out of range"}
		}
		return args, nil
	case domain.ToolWebSearch:
		d := decoder{tool: name, raw: raw}
		args := WebSearchArgs{
			Query:       d.str("query"),
			MaxResults:  int(d.num("maxResults")),
			SearchDepth: SearchDepth(d.enum("searchDepth", webSearchSchema.Properties["searchDepth"].Enum)),
		}
		if d.err != nil {
			return nil, d.err
		}
		return args, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
}

// decoder records the first validation failure and yields zero values after.
type decoder struct {
	tool domain.ToolName
	raw  map[string]any
	err  *ValidationError
}

func (d *decoder) fail(field, msg string) {
	if d.err == nil {
		d.err = &ValidationError{Tool: d.tool, Field: field, Msg: msg}
	}
}

func (d *decoder) str(field string) string {
	v, ok := d.raw[field]
	if !ok {
		d.fail(field, "required")
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.fail(field, "must be a string")
	}
	return s
}

func (d *decoder) num(field string) float64 {
	v, ok := d.raw[field]
	if !ok {
		d.fail(field, "required")
		return 0
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		d.fail(field, "must be a number")
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		d.fail(field, "must be finite")
	}
	return f
}

func (d *decoder) enum(field string, allowed []string) string {
	s := d.str(field)
	if d.err == nil && !slices.Contains(allowed, s) {
		d.fail(field, fmt.Sprintf("must be one of %v", allowed))
	}
	return s
}
