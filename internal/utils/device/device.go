package device

import (
	"strings"

	"github.com/mssola/user_agent"
)

// Info is the parsed user-agent summary denormalised onto session rows.
type Info struct {
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version"`
	OS             string `json:"os"`
	DeviceType     string `json:"device_type"`
	IsBot          bool   `json:"is_bot"`
}

const (
	Desktop = "desktop"
	Mobile  = "mobile"
	Tablet  = "tablet"
	Bot     = "bot"
	Unknown = "unknown"
)

// Parse extracts browser, OS, and device type from a raw user agent.
func Parse(rawUA string) Info {
	if rawUA == "" {
		return Info{DeviceType: Unknown}
	}
	ua := user_agent.New(rawUA)

	browser, version := ua.Browser()

	deviceType := Desktop
	lower := strings.ToLower(rawUA)
	switch {
	case strings.Contains(lower, "tablet") || strings.Contains(lower, "ipad"):
		deviceType = Tablet
	case ua.Mobile():
		deviceType = Mobile
	case ua.Bot():
		deviceType = Bot
	}

	return Info{
		Browser:        browser,
		BrowserVersion: version,
		OS:             ua.OS(),
		DeviceType:     deviceType,
		IsBot:          ua.Bot(),
	}
}

// Format renders the info for audit descriptions.
func (i Info) Format() string {
	parts := []string{}
	if i.Browser != "" {
		parts = append(parts, i.Browser)
	}
	if i.OS != "" {
		parts = append(parts, i.OS)
	}
	parts = append(parts, i.DeviceType)
	return strings.Join(parts, " / ")
}
