package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
	"github.com/zaidmukaddam/openlord.ai/pkg/model"
)

// WeatherReport is the weatherTool result.
type WeatherReport struct {
	Temperature         float64 `json:"temperature"`
	ApparentTemperature float64 `json:"apparentTemperature"`
	Rain                float64 `json:"rain"`
	Unit                string  `json:"unit"`
}

// Weather reports current conditions from the Open-Meteo forecast API.
type Weather struct {
	BaseURL    string
	HTTPClient *http.Client
	// Cache is optional. Reports are stored under coordinates rounded to two
	// decimals for CacheTTL.
	Cache    redis.Cmdable
	CacheTTL time.Duration
}

var _ Tool = (*Weather)(nil)

func (w *Weather) Name() domain.ToolName { return domain.ToolWeather }

func (w *Weather) Description() string {
	return "Get the weather in a location given its latitude and longitude which is with you already."
}

func (w *Weather) Schema() *model.Schema { return weatherSchema }

func (w *Weather) Execute(ctx context.Context, args Args) (any, error) {
	a, ok := args.(WeatherArgs)
	if !ok {
		return nil, fmt.Errorf("weather: unexpected arguments %T", args)
	}

	key := cacheKey(a.Latitude, a.Longitude)
	if report, ok := w.cached(ctx, key); ok {
		slog.Debug("Weather cache hit", "key", key)
		return report, nil
	}

	report, err := w.fetch(ctx, a)
	if err != nil {
		return nil, err
	}
	w.store(ctx, key, report)
	return report, nil
}

func (w *Weather) fetch(ctx context.Context, a WeatherArgs) (*WeatherReport, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(a.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(a.Longitude, 'f', -1, 64))
	q.Set("current", "temperature_2m,apparent_temperature,rain")
	endpoint := strings.TrimRight(w.BaseURL, "/") + "/v1/forecast?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating weather request: %w", err)
	}
	slog.Info("Fetching weather", "city", a.City, "latitude", a.Latitude, "longitude", a.Longitude)

	resp, err := w.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("weather request: unexpected status %s", resp.Status)
	}

	var body struct {
		Current *struct {
			Temperature         float64 `json:"temperature_2m"`
			ApparentTemperature float64 `json:"apparent_temperature"`
			Rain                float64 `json:"rain"`
		} `json:"current"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding weather response: %w", err)
	}
	if body.Current == nil {
		return nil, errors.New("weather response has no current conditions")
	}
	return &WeatherReport{
		Temperature:         body.Current.Temperature,
		ApparentTemperature: body.Current.ApparentTemperature,
		Rain:                body.Current.Rain,
		Unit:                "°C",
	}, nil
}

func (w *Weather) client() *http.Client {
	if w.HTTPClient != nil {
		return w.HTTPClient
	}
	return http.DefaultClient
}

func cacheKey(lat, long float64) string {
	return fmt.Sprintf("openlord:weather:%.2f:%.2f", lat, long)
}

func (w *Weather) cached(ctx context.Context, key string) (*WeatherReport, bool) {
	if w.Cache == nil {
		return nil, false
	}
	b, err := w.Cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("Weather cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	var report WeatherReport
	if err := json.Unmarshal(b, &report); err != nil {
		return nil, false
	}
	return &report, true
}

func (w *Weather) store(ctx context.Context, key string, report *WeatherReport) {
	if w.Cache == nil {
		return
	}
	b, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := w.Cache.Set(ctx, key, b, w.CacheTTL).Err(); err != nil {
		slog.Warn("Weather cache write failed", "key", key, "error", err)
	}
}
