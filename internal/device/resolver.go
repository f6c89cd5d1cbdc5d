// Package device resolves the client snapshot attached to attribution and analytics events.
package device

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"github.com/couponhub/backend/internal/models"
)

const unknown = "unknown"

// GeoLookup maps a client to a country and city. Empty results become "unknown".
type GeoLookup interface {
	Lookup(ip string, h http.Header) (country, city string)
}

// HeaderGeo reads geo hints set by the edge proxy (Cloudflare or a custom load balancer).
type HeaderGeo struct{}

// Lookup implements GeoLookup.
func (HeaderGeo) Lookup(_ string, h http.Header) (string, string) {
	country := h.Get("CF-IPCountry")
	if country == "" || country == "XX" {
		country = h.Get("X-Country")
	}
	return strings.ToUpper(country), h.Get("X-City")
}

// Resolver turns a user agent and request metadata into a DeviceInfo. It never fails.
type Resolver struct {
	geo GeoLookup
}

// NewResolver creates a resolver. A nil geo uses HeaderGeo.
func NewResolver(geo GeoLookup) *Resolver {
	if geo == nil {
		geo = HeaderGeo{}
	}
	return &Resolver{geo: geo}
}

// Resolve builds the snapshot for one request.
func (r *Resolver) Resolve(userAgent, ip string, h http.Header) models.DeviceInfo {
	info := ParseUserAgent(userAgent)
	if h == nil {
		h = http.Header{}
	}
	country, city := r.geo.Lookup(ip, h)
	info.Country = orUnknown(country)
	info.City = orUnknown(city)
	return info
}

// ParseUserAgent extracts device type, browser and OS.
func ParseUserAgent(userAgent string) models.DeviceInfo {
	if strings.TrimSpace(userAgent) == "" {
		return models.DeviceInfo{DeviceType: unknown, Browser: unknown, OS: unknown, Country: unknown, City: unknown}
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	return models.DeviceInfo{
		DeviceType: deviceType(ua),
		Browser:    orUnknown(browser),
		OS:         orUnknown(ua.OSInfo().Name),
		Country:    unknown,
		City:       unknown,
	}
}

func deviceType(ua *useragent.UserAgent) string {
	switch {
	case ua.Bot():
		return "bot"
	case strings.Contains(ua.Platform(), "iPad"), strings.Contains(ua.UA(), "Tablet"):
		return "tablet"
	case strings.Contains(ua.OS(), "Android") && !ua.Mobile():
		return "tablet"
	case ua.Mobile():
		return "mobile"
	default:
		return "desktop"
	}
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return unknown
	}
	return s
}
