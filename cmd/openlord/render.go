package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
	"github.com/zaidmukaddam/openlord.ai/pkg/tools"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	senderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			MarginLeft(2)
	cardErrorStyle = cardStyle.BorderForeground(lipgloss.Color("9"))
	cardTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
)

// renderMessages renders the transcript shown in the viewport.
func renderMessages(msgs []domain.Message, r *glamour.TermRenderer, spinner string) string {
	var sb strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleUser:
			sb.WriteString(userStyle.Render("You: "))
			sb.WriteString("\n")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
			for _, a := range m.Attachments {
				sb.WriteString(statusStyle.Render(fmt.Sprintf("  [image: %s]", a.Name)))
				sb.WriteString("\n")
			}
		case domain.RoleAssistant:
			sb.WriteString(senderStyle.Render("Openlord: "))
			sb.WriteString("\n")
			for _, inv := range m.ToolInvocations {
				sb.WriteString(renderInvocation(inv, spinner))
				sb.WriteString("\n")
			}
			if m.Content != "" {
				sb.WriteString(renderMarkdown(r, m.Content))
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderMarkdown(r *glamour.TermRenderer, text string) string {
	if r == nil {
		return text + "\n"
	}
	out, err := r.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}

// renderInvocation draws a card for one tool invocation.
func renderInvocation(inv domain.ToolInvocation, spinner string) string {
	if inv.State != domain.StateCompleted {
		return cardStyle.Render(fmt.Sprintf("%s %s", spinner, pendingLabel(inv)))
	}
	if inv.IsError {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(inv.Result, &payload)
		return cardErrorStyle.Render(fmt.Sprintf("%s failed: %s", inv.ToolName, payload.Error))
	}

	switch inv.ToolName {
	case domain.ToolWeather:
		var w tools.WeatherReport
		if err := json.Unmarshal(inv.Result, &w); err != nil {
			break
		}
		city, _ := inv.Args["city"].(string)
		return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
			cardTitleStyle.Render("Weather "+city),
			fmt.Sprintf("%.1f%s, feels like %.1f%s", w.Temperature, w.Unit, w.ApparentTemperature, w.Unit),
			fmt.Sprintf("Rain: %.1f mm", w.Rain),
		))
	case domain.ToolWebSearch:
		var s tools.SearchResponse
		if err := json.Unmarshal(inv.Result, &s); err != nil {
			break
		}
		query, _ := inv.Args["query"].(string)
		lines := []string{cardTitleStyle.Render("Search: " + query)}
		for i, res := range s.Results {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, res.Title), statusStyle.Render("   "+res.URL))
		}
		if len(s.Results) == 0 {
			lines = append(lines, statusStyle.Render("no results"))
		}
		return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	}
	return cardStyle.Render(fmt.Sprintf("%s: %s", inv.ToolName, string(inv.Result)))
}

func pendingLabel(inv domain.ToolInvocation) string {
	switch inv.ToolName {
	case domain.ToolWeather:
		if city, ok := inv.Args["city"].(string); ok {
			return "Checking the weather in " + city + "..."
		}
		return "Checking the weather..."
	case domain.ToolWebSearch:
		if q, ok := inv.Args["query"].(string); ok {
			return fmt.Sprintf("Searching the web for %q...", q)
		}
		return "Searching the web..."
	default:
		return fmt.Sprintf("Running %s...", inv.ToolName)
	}
}
