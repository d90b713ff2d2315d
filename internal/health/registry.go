// internal/health/registry.go
package health

import (
	"strings"
	"sync"

	"github.com/user/forwardmon/internal/types"
)

// mappingSubjectPrefix namespaces per-mapping health subjects.
const mappingSubjectPrefix = "channel."

// MappingSubject builds the health subject key for a mapping.
func MappingSubject(discordID string) string {
	return mappingSubjectPrefix + discordID
}

// Registry keeps the current in-memory status per monitored subject and
// diffs new observations against it. Only the previous value is retained;
// transition history lives in the log.
type Registry struct {
	mu       sync.Mutex
	statuses map[string]string
}

// NewRegistry creates a registry seeded with previously persisted statuses.
func NewRegistry(seed map[string]string) *Registry {
	statuses := make(map[string]string, len(seed))
	for k, v := range seed {
		statuses[k] = v
	}
	return &Registry{statuses: statuses}
}

// Observe applies a batch of health records and returns the transitions that
// warrant notification: subjects that newly entered error, and subjects that
// recovered from error to ok.
func (r *Registry) Observe(records []types.HealthRecord) (errors, recoveries []types.HealthRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range records {
		previous, seen := r.statuses[record.Subject]
		if seen && previous == record.Status {
			continue
		}
		r.statuses[record.Subject] = record.Status
		switch {
		case record.Status == types.HealthError:
			errors = append(errors, record)
		case previous == types.HealthError && record.Status == types.HealthOK:
			recoveries = append(recoveries, record)
		}
	}
	return errors, recoveries
}

// PruneMappings drops per-mapping subjects that are no longer configured.
func (r *Registry) PruneMappings(current map[string]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for subject := range r.statuses {
		if !strings.HasPrefix(subject, mappingSubjectPrefix) {
			continue
		}
		if !current[subject] {
			delete(r.statuses, subject)
		}
	}
}

// Status returns the current status for a subject, or "" if untracked.
func (r *Registry) Status(subject string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[subject]
}

// Snapshot returns a copy of every tracked subject and its status.
func (r *Registry) Snapshot() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.statuses))
	for subject, status := range r.statuses {
		out[subject] = status
	}
	return out
}
