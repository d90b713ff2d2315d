// internal/store/health.go
package store

import "strings"

// Health records live in the settings table under health.<subject>.status and
// health.<subject>.message so they survive restarts alongside the rest of the
// configuration.

const (
	healthPrefix         = "health."
	healthStatusSuffix   = ".status"
	healthMessageSuffix  = ".message"
	mappingSubjectPrefix = "channel."
)

// SetHealthStatus persists the status and message for one subject.
func (s *Store) SetHealthStatus(subject, status, message string) error {
	if err := s.SetSetting(healthPrefix+subject+healthStatusSuffix, status); err != nil {
		return err
	}
	if message == "" {
		return s.DeleteSetting(healthPrefix + subject + healthMessageSuffix)
	}
	return s.SetSetting(healthPrefix+subject+healthMessageSuffix, message)
}

// GetHealthStatus returns the persisted status and message for one subject.
// Missing subjects report an empty status.
func (s *Store) GetHealthStatus(subject string) (string, string) {
	status, _ := s.GetSetting(healthPrefix + subject + healthStatusSuffix)
	message, _ := s.GetSetting(healthPrefix + subject + healthMessageSuffix)
	return status, message
}

// CleanMappingHealth drops health records for mapping subjects that are no
// longer configured. Non-mapping subjects are untouched.
func (s *Store) CleanMappingHealth(activeIDs map[string]bool) error {
	for key := range s.IterSettings(healthPrefix + mappingSubjectPrefix) {
		trimmed := strings.TrimPrefix(key, healthPrefix)
		subject := strings.TrimSuffix(strings.TrimSuffix(trimmed, healthStatusSuffix), healthMessageSuffix)
		if activeIDs[subject] {
			continue
		}
		if err := s.DeleteSetting(key); err != nil {
			return err
		}
	}
	return nil
}

// IterHealthStatuses returns the status of every persisted subject, keyed by
// subject name.
func (s *Store) IterHealthStatuses() map[string]string {
	out := make(map[string]string)
	for key, value := range s.IterSettings(healthPrefix) {
		if !strings.HasSuffix(key, healthStatusSuffix) {
			continue
		}
		subject := strings.TrimSuffix(strings.TrimPrefix(key, healthPrefix), healthStatusSuffix)
		out[subject] = value
	}
	return out
}
