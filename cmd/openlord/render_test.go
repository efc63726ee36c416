package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
)

func TestRenderInvocation(t *testing.T) {
	pending := renderInvocation(domain.ToolInvocation{
		ToolName: domain.ToolWeather,
		Args:     map[string]any{"city": "Lisbon"},
		State:    domain.StatePending,
	}, "*")
	assert.Contains(t, pending, "Checking the weather in Lisbon")

	weather := renderInvocation(domain.ToolInvocation{
		ToolName: domain.ToolWeather,
		Args:     map[string]any{"city": "Lisbon"},
		State:    domain.StateCompleted,
		Result:   []byte(`{"temperature":21.4,"apparentTemperature":20,"rain":0,"unit":"°C"}`),
	}, "*")
	assert.Contains(t, weather, "21.4°C, feels like 20.0°C")

	search := renderInvocation(domain.ToolInvocation{
		ToolName: domain.ToolWebSearch,
		Args:     map[string]any{"query": "go releases"},
		State:    domain.StateCompleted,
		Result:   []byte(`{"results":[{"url":"https://go.dev/doc/devel/release","title":"Release History"}]}`),
	}, "*")
	assert.Contains(t, search, "1. Release History")
	assert.Contains(t, search, "https://go.dev/doc/devel/release")

	failed := renderInvocation(domain.ToolInvocation{
		ToolName: domain.ToolWebSearch,
		State:    domain.StateCompleted,
		IsError:  true,
		Result:   []byte(`{"error":"web search is not configured: missing API key"}`),
	}, "*")
	assert.Contains(t, failed, "missing API key")
}

func TestRenderMessagesWithoutRenderer(t *testing.T) {
	out := renderMessages([]domain.Message{
		{Role: domain.RoleUser, Content: "Hi", Attachments: []domain.Attachment{{Name: "cat.png", ContentType: "image/png"}}},
		{Role: domain.RoleAssistant, Content: "Hello!"},
	}, nil, "*")
	assert.Contains(t, out, "Hi")
	assert.Contains(t, out, "[image: cat.png]")
	assert.Contains(t, out, "Hello!")
}
