package link

import (
	"regexp"
	"strings"
)

var mobilePattern = regexp.MustCompile(`(?i)mobile`)

// browserTokens are checked in order. Edge and Opera also announce Chrome,
// and Chrome announces Safari, so the more specific tokens come first.
var browserTokens = []struct {
	token string
	name  string
}{
	{"edg/", "Edge"},
	{"edge/", "Edge"},
	{"opr/", "Opera"},
	{"opera", "Opera"},
	{"firefox", "Firefox"},
	{"fxios", "Firefox"},
	{"crios", "Chrome"},
	{"chrome", "Chrome"},
	{"safari", "Safari"},
}

// DeviceInfo is what a User-Agent reveals about the visitor.
type DeviceInfo struct {
	DeviceType string
	Browser    string
}

// ParseUserAgent classifies a User-Agent header. Any agent containing
// "mobile" (case-insensitive) is a Mobile device.
func ParseUserAgent(userAgent string) DeviceInfo {
	info := DeviceInfo{DeviceType: DeviceDesktop, Browser: Unknown}
	if mobilePattern.MatchString(userAgent) {
		info.DeviceType = DeviceMobile
	}

	lower := strings.ToLower(userAgent)
	for _, b := range browserTokens {
		if strings.Contains(lower, b.token) {
			info.Browser = b.name
			break
		}
	}
	return info
}
