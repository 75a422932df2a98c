package core

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Platform identifies the device family a capture runs against.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// Platforms lists every supported platform in routing order.
func Platforms() []Platform {
	return []Platform{PlatformAndroid, PlatformIOS}
}

// ParsePlatform maps a route segment or CLI argument to a Platform.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(s)) {
	case PlatformAndroid:
		return PlatformAndroid, nil
	case PlatformIOS:
		return PlatformIOS, nil
	default:
		return "", fmt.Errorf("unknown platform %q: expected android or ios", s)
	}
}

// Session is a single start-to-stop capture attempt and its artifacts.
type Session struct {
	ID             string    `json:"id"              yaml:"id"`
	Platform       Platform  `json:"platform"        yaml:"platform"`
	CreatedAt      time.Time `json:"created_at"      yaml:"created_at"`
	RawPath        string    `json:"raw_path"        yaml:"raw_path"`
	StructuredPath string    `json:"structured_path" yaml:"structured_path"`
}

// Age returns how long ago the session was created.
func (s Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// ArtifactPaths returns the raw and structured artifact locations for a
// session id. Android keeps the historical logs_<id> naming; iOS artifacts
// carry an ios_ prefix so both platforms can share the same directories.
func ArtifactPaths(p Platform, id, rawDir, structuredDir string) (raw, structured string) {
	prefix := ""
	if p == PlatformIOS {
		prefix = "ios_"
	}
	raw = filepath.Join(rawDir, fmt.Sprintf("%slogs_%s.txt", prefix, id))
	structured = filepath.Join(structuredDir, fmt.Sprintf("%slogs_structured_%s.csv", prefix, id))
	return raw, structured
}
