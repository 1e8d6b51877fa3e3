// Package settings provides event-level configuration lookups backed by the
// settings table, with defaults supplied at the call site.
package settings

import (
	"log/slog"
	"strings"
)

// Keys used by the ordering engine.
const (
	KeyWelcomeMessage  = "welcome_message"
	KeyVIPCodes        = "vip_codes" // comma-separated
	KeyTrackingEnabled = "tracking_enabled"
	KeyTrackingBaseURL = "tracking_base_url"
	KeyEventMenu       = "event_menu" // comma-separated allow-list of drinks
)

// getter is the slice of the store the settings service needs.
type getter interface {
	GetSetting(key string) (string, error)
}

// Service answers settings lookups with defaults. Lookup failures fall back
// to the default and are logged, never surfaced to the SMS user.
type Service struct {
	store getter
}

// NewService creates a settings service backed by the given store.
func NewService(st getter) *Service {
	return &Service{store: st}
}

// Get returns the configured value for key, or def when unset.
func (s *Service) Get(key, def string) string {
	val, err := s.store.GetSetting(key)
	if err != nil {
		slog.Error("Settings lookup failed, using default", "error", err, "key", key)
		return def
	}
	if val == "" {
		return def
	}
	return val
}

// GetBool interprets a setting as a boolean. Accepts true/1/yes/on and
// false/0/no/off (case-insensitive). Invalid values return def.
func (s *Service) GetBool(key string, def bool) bool {
	val := s.Get(key, "")
	if val == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		slog.Warn("Settings invalid boolean value, using default", "key", key, "value", val, "default", def)
		return def
	}
}

// GetList interprets a comma-separated setting as a trimmed string slice.
func (s *Service) GetList(key string) []string {
	val := s.Get(key, "")
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
