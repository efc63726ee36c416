// Package geo derives a best-effort caller location from request metadata
// set by the edge network in front of the server.
package geo

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
)

// Headers names the request headers carrying geolocation data.
type Headers struct {
	City      string
	Latitude  string
	Longitude string
}

// DefaultHeaders are the headers populated by Vercel's edge network.
var DefaultHeaders = Headers{
	City:      "X-Vercel-IP-City",
	Latitude:  "X-Vercel-IP-Latitude",
	Longitude: "X-Vercel-IP-Longitude",
}

// FromRequest extracts the caller location using DefaultHeaders.
func FromRequest(r *http.Request) domain.Location {
	return DefaultHeaders.FromRequest(r)
}

// FromRequest extracts the caller location. Missing values are left empty.
func (h Headers) FromRequest(r *http.Request) domain.Location {
	loc := domain.Location{
		Latitude:  strings.TrimSpace(r.Header.Get(h.Latitude)),
		Longitude: strings.TrimSpace(r.Header.Get(h.Longitude)),
		IP:        IPAddress(r),
	}
	if city := r.Header.Get(h.City); city != "" {
		// The edge encodes non-ASCII city names.
		if decoded, err := url.QueryUnescape(city); err == nil {
			city = decoded
		}
		loc.City = city
	}
	return loc
}

// IPAddress returns the caller IP. It prefers X-Real-IP, then the first
// X-Forwarded-For entry, then the connection's remote address.
func IPAddress(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
