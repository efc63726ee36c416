package domain

// ChatRequest is the body of a chat turn: the whole conversation so far plus
// the generation settings. Model and Temperature fall back to defaults when
// omitted.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Model       ModelID   `json:"model,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// Config returns the generation config with defaults applied. Temperature is
// passed through unclamped.
func (r ChatRequest) Config() GenerationConfig {
	cfg := GenerationConfig{Model: r.Model, Temperature: DefaultTemperature}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if r.Temperature != nil {
		cfg.Temperature = *r.Temperature
	}
	return cfg
}

// ModelInfo describes a selectable model.
type ModelInfo struct {
	ID         ModelID `json:"id"`
	Name       string  `json:"name"`
	Configured bool    `json:"configured"`
	Default    bool    `json:"default,omitempty"`
}
