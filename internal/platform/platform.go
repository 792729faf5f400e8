// Package platform names the upstream platforms and their per-platform settings.
package platform

import (
	"fmt"
	"strings"
	"time"

	"github.com/ad-tracker/analytics-sync-go/internal/config"
)

// Platform identifies an upstream social-media platform.
type Platform string

const (
	YouTube   Platform = "youtube"
	Instagram Platform = "instagram"
)

// All lists the supported platforms in a stable order.
var All = []Platform{YouTube, Instagram}

// Parse converts a path or config value into a Platform.
func Parse(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case YouTube, Instagram:
		return p, nil
	default:
		return "", fmt.Errorf("unknown platform %q", s)
	}
}

func (p Platform) String() string {
	return string(p)
}

// Settings are the per-platform constants the pipeline needs.
type Settings struct {
	// Location is the canonical timezone used for quota days and sync dates.
	Location          *time.Location
	DailyQuota        int
	NonExpiringTokens bool
	ReportURL         string
	ResourceURL       string
}

// Registry holds Settings for every supported platform.
type Registry struct {
	settings map[Platform]Settings
}

// NewRegistry builds a Registry from explicit settings.
func NewRegistry(settings map[Platform]Settings) *Registry {
	return &Registry{settings: settings}
}

// RegistryFromConfig builds a Registry from the platforms config section.
func RegistryFromConfig(cfg config.PlatformsConfig) (*Registry, error) {
	entries := map[Platform]config.PlatformConfig{
		YouTube:   cfg.YouTube,
		Instagram: cfg.Instagram,
	}

	settings := make(map[Platform]Settings, len(entries))
	for p, pc := range entries {
		loc, err := time.LoadLocation(pc.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone for %s: %w", p, err)
		}
		settings[p] = Settings{
			Location:          loc,
			DailyQuota:        pc.DailyQuota,
			NonExpiringTokens: pc.NonExpiringTokens,
			ReportURL:         pc.ReportURL,
			ResourceURL:       pc.ResourceURL,
		}
	}

	return NewRegistry(settings), nil
}

// Settings returns the settings for p.
func (r *Registry) Settings(p Platform) (Settings, error) {
	s, ok := r.settings[p]
	if !ok {
		return Settings{}, fmt.Errorf("platform %q is not configured", p)
	}
	return s, nil
}

// Location returns the canonical timezone for p, falling back to UTC.
func (r *Registry) Location(p Platform) *time.Location {
	if s, ok := r.settings[p]; ok && s.Location != nil {
		return s.Location
	}
	return time.UTC
}

// Today returns the platform-local calendar date of now, as a UTC midnight.
func (r *Registry) Today(p Platform, now time.Time) time.Time {
	local := now.In(r.Location(p))
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}
