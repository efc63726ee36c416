package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
)

// DefaultPersona opens the system instruction unless overridden in config.
const DefaultPersona = `You are Openlord, a personal AI assistant. NEVER mention that you are an AI. You are extremely intelligent and speak at a college educated level.`

// dateLayout renders e.g. "Saturday, June 1, 2024".
const dateLayout = "Monday, January 2, 2006"

const directives = `You should always obey the user's requests and answer all questions fully. Use tools immediately when asked and needed!

You can use the 'web_search' tool to gather information from the web in scenarios where you need to look up information on the web.

Once you get the information, you should provide the user with the information they requested. DO NOT cite the source of the information. Just collectively provide the information in a very brief and concise manner.

You can use the 'weatherTool' tool to get the weather in a location given its latitude and longitude.

You always comply with the user's request and answer questions fully and directly.`

// BuildInstructions assembles the system instruction for one turn. Location
// values that are unknown render as "unknown".
func BuildInstructions(persona string, loc domain.Location, now time.Time) string {
	if strings.TrimSpace(persona) == "" {
		persona = DefaultPersona
	}
	parts := []string{
		persona,
		fmt.Sprintf("The user's current location is %s at latitude %s and longitude %s.",
			orUnknown(loc.City), orUnknown(loc.Latitude), orUnknown(loc.Longitude)),
		"Today's date and day is " + now.Format(dateLayout) + ".",
		directives,
	}
	return strings.Join(parts, "\n\n")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
