// internal/syncer/engine.go
package syncer

import (
	"context"
	"sort"
	"time"

	"github.com/user/forwardmon/internal/dedup"
	"github.com/user/forwardmon/internal/filter"
	"github.com/user/forwardmon/internal/pacing"
	"github.com/user/forwardmon/internal/types"
)

// forwardableTypes are the source message types eligible for forwarding on
// their own; anything else must carry attachments or embeds to pass.
var forwardableTypes = map[int]bool{0: true, 19: true, 20: true, 21: true, 23: true}

const defaultFetchLimit = 100

// Config wires an Engine to its collaborators.
type Config struct {
	Source types.SourceFeed
	Sink   types.SinkFeed
	Store  types.ConfigRepository
	Render types.Renderer
	Dedup  *dedup.Cache
	Guard  *pacing.KeyedMutex
	// SinkRate paces outbound sends and is shared with the coordinator so
	// rate changes apply immediately.
	SinkRate *pacing.RateLimiter
	// Startup is the process start marker; nothing at or before it is
	// ever forwarded.
	Startup time.Time
	// RefreshPending reports whether a configuration refresh is waiting;
	// a pass in progress aborts early when it returns true.
	RefreshPending func() bool
}

// Engine runs one synchronization pass per mapping: fetch, filter,
// deduplicate, render and forward, advancing the mapping's cursor.
type Engine struct {
	source         types.SourceFeed
	sink           types.SinkFeed
	store          types.ConfigRepository
	render         types.Renderer
	dedup          *dedup.Cache
	guard          *pacing.KeyedMutex
	sinkRate       *pacing.RateLimiter
	startup        time.Time
	refreshPending func() bool
	newFilter      func(types.FilterConfig) types.FilterEvaluator
	fetchLimit     int
}

// New creates an Engine from the given wiring.
func New(cfg Config) *Engine {
	refreshPending := cfg.RefreshPending
	if refreshPending == nil {
		refreshPending = func() bool { return false }
	}
	return &Engine{
		source:         cfg.Source,
		sink:           cfg.Sink,
		store:          cfg.Store,
		render:         cfg.Render,
		dedup:          cfg.Dedup,
		guard:          cfg.Guard,
		sinkRate:       cfg.SinkRate,
		startup:        cfg.Startup,
		refreshPending: refreshPending,
		newFilter: func(fc types.FilterConfig) types.FilterEvaluator {
			return filter.New(fc)
		},
		fetchLimit: defaultFetchLimit,
	}
}

// ForgetMapping drops the per-mapping lock once a mapping has been removed
// and no pass can still reference it.
func (e *Engine) ForgetMapping(discordID string) {
	e.guard.Forget(discordID)
}

// SetFilterFactory overrides how filter profiles are compiled, for tests.
func (e *Engine) SetFilterFactory(fn func(types.FilterConfig) types.FilterEvaluator) {
	e.newFilter = fn
}

// ProcessMapping runs one pass for the mapping under its per-key lock and
// returns how many messages were forwarded. The same entry point serves the
// periodic monitor loop and manual forward actions, so both contend on the
// same lock.
func (e *Engine) ProcessMapping(ctx context.Context, mapping *types.MappingConfig, runtime types.RuntimeOptions) (int, error) {
	unlock := e.guard.Lock(mapping.DiscordID)
	defer unlock()

	if !mapping.Active || mapping.BlockedByHealth {
		return 0, nil
	}
	switch mapping.Mode {
	case types.ModePinned:
		return e.processPinned(ctx, mapping, runtime)
	case types.ModeForum:
		return e.processForum(ctx, mapping, runtime)
	default:
		return e.processStream(ctx, mapping, runtime)
	}
}

// dedupEnabled resolves the effective dedup flag for a mapping.
func dedupEnabled(mapping *types.MappingConfig, runtime types.RuntimeOptions) bool {
	if mapping.DedupInherited {
		return runtime.Deduplicate
	}
	return mapping.Dedup
}

// cutoffTime is the forwarding floor for set-based modes: nothing at or
// before max(mapping creation, process start) is forwarded.
func (e *Engine) cutoffTime(mapping *types.MappingConfig) time.Time {
	cutoff := e.startup
	if mapping.AddedAt.After(cutoff) {
		cutoff = mapping.AddedAt
	}
	return cutoff
}

// beforeMarker reports whether a candidate ID falls at or before a snowflake
// marker. Non-numeric IDs never match.
func beforeMarker(id string, marker int64) bool {
	if marker <= 0 {
		return false
	}
	n, numeric := types.NumericID(id)
	return numeric && n <= marker
}

// beforeTime reports whether a candidate timestamp falls at or before the
// cutoff. Zero timestamps never match.
func beforeTime(ts, cutoff time.Time) bool {
	return !ts.IsZero() && !cutoff.IsZero() && !ts.After(cutoff)
}

func sortMessages(messages []types.Message) {
	sort.Slice(messages, func(i, j int) bool {
		return types.LessID(messages[i].ID, messages[j].ID)
	})
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func copySet(src map[string]bool) map[string]bool {
	out := make(map[string]bool, len(src))
	for k := range src {
		out[k] = true
	}
	return out
}
