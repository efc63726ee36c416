package domain

import "math"

// ModelID is the client-facing model identifier.
type ModelID string

const (
	ModelGPT4oMini     ModelID = "gpt-4o-mini"
	ModelGemini15Flash ModelID = "gemini-1.5-flash"
	ModelClaude3Haiku  ModelID = "claude-3-haiku"
)

// Defaults applied when a request omits them.
const (
	DefaultModel       = ModelGPT4oMini
	DefaultTemperature = 0.5
)

// SupportedModels lists the model identifiers clients may select.
var SupportedModels = []ModelID{ModelGPT4oMini, ModelGemini15Flash, ModelClaude3Haiku}

// Valid reports whether id is one of SupportedModels.
func (id ModelID) Valid() bool {
	for _, m := range SupportedModels {
		if m == id {
			return true
		}
	}
	return false
}

// DisplayName returns the human readable model name. Unknown ids map to the
// default model's name.
func (id ModelID) DisplayName() string {
	switch id {
	case ModelGemini15Flash:
		return "Gemini 1.5 Flash"
	case ModelClaude3Haiku:
		return "Claude 3 Haiku"
	default:
		return "GPT 4o mini"
	}
}

// GenerationConfig carries the per-turn sampling parameters.
type GenerationConfig struct {
	Model       ModelID `json:"model"`
	Temperature float64 `json:"temperature"`
}

// ClampTemperature bounds t to [0, 1] and rounds it to two decimals.
func ClampTemperature(t float64) float64 {
	if math.IsNaN(t) {
		return DefaultTemperature
	}
	t = math.Round(t*100) / 100
	return math.Min(1, math.Max(0, t))
}
