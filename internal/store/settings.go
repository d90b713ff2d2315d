// internal/store/settings.go
package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/user/forwardmon/internal/types"
)

const telegramOffsetKey = "telegram.offset"

// GetSetting returns the raw value for key and whether it exists.
func (s *Store) GetSetting(key string) (string, bool) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

// SetSetting stores or replaces a setting.
func (s *Store) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT INTO settings(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// DeleteSetting removes a setting if present.
func (s *Store) DeleteSetting(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}

// IterSettings returns all settings with the given prefix.
func (s *Store) IterSettings(prefix string) map[string]string {
	rows, err := s.db.Query(
		"SELECT key, value FROM settings WHERE key LIKE ? ESCAPE '\\'",
		escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if rows.Scan(&key, &value) == nil {
			out[key] = value
		}
	}
	return out
}

// SetUpdateOffset persists the admin controller's long-poll offset.
func (s *Store) SetUpdateOffset(offset int) error {
	return s.SetSetting(telegramOffsetKey, strconv.Itoa(offset))
}

// GetUpdateOffset returns the persisted long-poll offset, or 0.
func (s *Store) GetUpdateOffset() int {
	raw, ok := s.GetSetting(telegramOffsetKey)
	if !ok {
		return 0
	}
	offset, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return offset
}

// LoadRuntimeOptions assembles the runtime knobs from settings, falling back
// to defaults on missing or malformed values.
func (s *Store) LoadRuntimeOptions() types.RuntimeOptions {
	opts := types.DefaultRuntimeOptions()
	opts.PollInterval = s.durationSetting(types.SettingPollInterval, opts.PollInterval)
	opts.RatePerSecond = s.floatSetting(types.SettingRate, opts.RatePerSecond)
	opts.HealthInterval = s.durationSetting(types.SettingHealthInterval, opts.HealthInterval)
	raw, _ := s.GetSetting(types.SettingDeduplicate)
	opts.Deduplicate = ParseBool(raw, false)

	minRaw, _ := s.GetSetting(types.SettingDelayMin)
	maxRaw, _ := s.GetSetting(types.SettingDelayMax)
	opts.MinDelay = ParseDelaySetting(minRaw, 0)
	opts.MaxDelay = ParseDelaySetting(maxRaw, 0)
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	return opts
}

// LoadNetworkOptions reads the proxy and client identity overrides.
func (s *Store) LoadNetworkOptions() types.NetworkOptions {
	url, _ := s.GetSetting(types.SettingProxyURL)
	login, _ := s.GetSetting(types.SettingProxyLogin)
	password, _ := s.GetSetting(types.SettingProxyPassword)
	userAgent, _ := s.GetSetting(types.SettingUserAgent)
	return types.NetworkOptions{
		ProxyURL:      url,
		ProxyLogin:    login,
		ProxyPassword: password,
		UserAgent:     userAgent,
	}
}

func (s *Store) floatSetting(key string, fallback float64) float64 {
	raw, ok := s.GetSetting(key)
	if !ok {
		return fallback
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fallback
	}
	return value
}

func (s *Store) durationSetting(key string, fallback time.Duration) time.Duration {
	seconds := s.floatSetting(key, -1)
	if seconds < 0 {
		return fallback
	}
	return time.Duration(seconds * float64(time.Second))
}

// ParseBool parses textual boolean settings. Truthy: on/true/yes/1, falsy:
// off/false/no/0; anything else returns the default.
func ParseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true", "yes", "1":
		return true
	case "off", "false", "no", "0":
		return false
	default:
		return fallback
	}
}

// ParseDelaySetting parses jitter delay settings: values with a decimal or
// exponent are seconds, bare integers are milliseconds. Negative results
// clamp to zero.
func ParseDelaySetting(value string, fallback time.Duration) time.Duration {
	stripped := strings.TrimSpace(value)
	if stripped == "" {
		return fallback
	}
	var seconds float64
	if strings.ContainsAny(stripped, ".eE") {
		parsed, err := strconv.ParseFloat(stripped, 64)
		if err != nil {
			return fallback
		}
		seconds = parsed
	} else {
		parsed, err := strconv.ParseInt(stripped, 10, 64)
		if err != nil {
			return fallback
		}
		seconds = float64(parsed) / 1000
	}
	if seconds < 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}
