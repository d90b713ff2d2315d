// internal/syncer/pinned.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/user/forwardmon/internal/dedup"
	"github.com/user/forwardmon/internal/pacing"
	"github.com/user/forwardmon/internal/types"
)

// processPinned tracks the pinned-message set. Pins are not append-only, so
// the cursor is a set: the first pass seeds it without forwarding, later
// passes forward only IDs that newly appeared. When a pass is interrupted the
// known set becomes (known ∩ current) ∪ processed so partially handled IDs
// stay eligible next pass.
func (e *Engine) processPinned(ctx context.Context, mapping *types.MappingConfig, runtime types.RuntimeOptions) (int, error) {
	cutoff := e.cutoffTime(mapping)
	cutoffMarker := types.SnowflakeFromTime(cutoff)

	messages, err := e.source.FetchPinned(ctx, mapping.DiscordID)
	if err != nil {
		return 0, fmt.Errorf("fetch pinned for %s: %w", mapping.DiscordID, err)
	}

	current := make(map[string]bool, len(messages))
	for _, msg := range messages {
		current[msg.ID] = true
	}

	// First pass: record the baseline, forward nothing.
	if !mapping.PinnedSynced {
		if err := e.store.SetKnownPinned(mapping.StorageID, current); err != nil {
			slog.Error("persist pinned baseline", "mapping", mapping.DiscordID, "error", err)
		}
		if err := e.store.SetPinnedSynced(mapping.StorageID, true); err != nil {
			slog.Error("persist pinned synced flag", "mapping", mapping.DiscordID, "error", err)
		}
		mapping.KnownPinnedIDs = copySet(current)
		mapping.PinnedSynced = true
		return 0, nil
	}

	previousKnown := mapping.KnownPinnedIDs
	if previousKnown == nil {
		previousKnown = map[string]bool{}
	}

	if len(messages) == 0 {
		if len(previousKnown) > 0 {
			if err := e.store.SetKnownPinned(mapping.StorageID, nil); err != nil {
				slog.Error("clear pinned set", "mapping", mapping.DiscordID, "error", err)
			}
			mapping.KnownPinnedIDs = map[string]bool{}
		}
		return 0, nil
	}

	newIDs := make(map[string]bool)
	for id := range current {
		if !previousKnown[id] {
			newIDs[id] = true
		}
	}
	if len(newIDs) == 0 && setsEqual(previousKnown, current) {
		return 0, nil
	}

	var candidates []types.Message
	for _, msg := range messages {
		if newIDs[msg.ID] {
			candidates = append(candidates, msg)
		}
	}
	sortMessages(candidates)

	filters := e.newFilter(mapping.Filters)
	deduplicate := dedupEnabled(mapping, runtime)
	processed := make(map[string]bool)
	interrupted := false
	forwarded := 0
	var jitterErr error

	for _, msg := range candidates {
		if e.refreshPending() {
			interrupted = true
			break
		}
		if beforeMarker(msg.ID, cutoffMarker) || beforeTime(msg.Timestamp, cutoff) {
			processed[msg.ID] = true
			continue
		}
		if !forwardableTypes[msg.Type] && len(msg.Attachments) == 0 && len(msg.Embeds) == 0 {
			processed[msg.ID] = true
			continue
		}
		if decision := filters.Evaluate(msg); !decision.Allowed {
			processed[msg.ID] = true
			continue
		}
		if deduplicate && e.dedup.IsDuplicate(dedup.Signature(msg)) {
			processed[msg.ID] = true
			continue
		}
		payload := e.render(msg, mapping, types.KindPinned, "")
		if err := e.sinkRate.Wait(ctx); err != nil {
			return forwarded, err
		}
		if e.refreshPending() {
			interrupted = true
			break
		}
		if err := e.sink.Send(ctx, mapping.TelegramChatID, payload, mapping.TelegramThreadID); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return forwarded, err
			}
			slog.Error("forward pinned failed", "mapping", mapping.DiscordID, "message", msg.ID, "error", err)
			continue
		}
		forwarded++
		processed[msg.ID] = true
		if err := pacing.Jitter(ctx, runtime.MinDelay, runtime.MaxDelay); err != nil {
			jitterErr = err
			interrupted = true
			break
		}
	}

	var updated map[string]bool
	if interrupted {
		updated = make(map[string]bool)
		for id := range previousKnown {
			if current[id] {
				updated[id] = true
			}
		}
		for id := range processed {
			updated[id] = true
		}
	} else {
		// A completed pass records the full observed set; a pin whose send
		// failed is dropped, not retried.
		updated = copySet(current)
	}

	if !setsEqual(updated, mapping.KnownPinnedIDs) {
		if err := e.store.SetKnownPinned(mapping.StorageID, updated); err != nil {
			slog.Error("persist pinned set", "mapping", mapping.DiscordID, "error", err)
		}
		if err := e.store.SetPinnedSynced(mapping.StorageID, true); err != nil {
			slog.Error("persist pinned synced flag", "mapping", mapping.DiscordID, "error", err)
		}
		mapping.KnownPinnedIDs = updated
		mapping.PinnedSynced = true
	}
	return forwarded, jitterErr
}
