// internal/syncer/stream.go
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

// processStream advances the scalar cursor: fetch messages newer than
// lastSeenID, forward the eligible ones in ascending ID order, and persist
// the furthest ID reached. The cursor advances past skipped and failed
// candidates alike; a permanently failing item must not block it forever.
func (e *Engine) processStream(ctx context.Context, mapping *types.MappingConfig, runtime types.RuntimeOptions) (int, error) {
	baseline := mapping.AddedAt
	bootstrap := mapping.LastMessageID == ""
	if bootstrap && baseline.Before(e.startup) {
		baseline = e.startup
	}
	baselineMarker := types.SnowflakeFromTime(baseline)
	startupMarker := types.SnowflakeFromTime(e.startup)

	messages, err := e.source.FetchSince(ctx, mapping.DiscordID, mapping.LastMessageID, e.fetchLimit)
	if err != nil {
		return 0, fmt.Errorf("fetch messages for %s: %w", mapping.DiscordID, err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	// Dedupe by source ID within the batch, first occurrence wins.
	seen := make(map[string]bool, len(messages))
	unique := messages[:0]
	for _, msg := range messages {
		if seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		unique = append(unique, msg)
	}
	sortMessages(unique)

	filters := e.newFilter(mapping.Filters)
	deduplicate := dedupEnabled(mapping, runtime)
	previous := mapping.LastMessageID
	lastSeen := previous
	forwarded := 0
	var jitterErr error

	for _, msg := range unique {
		if e.refreshPending() {
			break
		}
		if beforeMarker(msg.ID, startupMarker) {
			lastSeen = msg.ID
			continue
		}
		if beforeTime(msg.Timestamp, e.startup) {
			lastSeen = msg.ID
			continue
		}
		if !forwardableTypes[msg.Type] && len(msg.Attachments) == 0 && len(msg.Embeds) == 0 {
			lastSeen = msg.ID
			continue
		}
		if bootstrap {
			if beforeMarker(msg.ID, baselineMarker) {
				lastSeen = msg.ID
				continue
			}
			if beforeTime(msg.Timestamp, baseline) {
				lastSeen = msg.ID
				continue
			}
			bootstrap = false
		}
		if decision := filters.Evaluate(msg); !decision.Allowed {
			lastSeen = msg.ID
			continue
		}
		if deduplicate && e.dedup.IsDuplicate(dedup.Signature(msg)) {
			lastSeen = msg.ID
			continue
		}
		payload := e.render(msg, mapping, types.KindMessage, "")
		if err := e.sinkRate.Wait(ctx); err != nil {
			return forwarded, err
		}
		if e.refreshPending() {
			break
		}
		if err := e.sink.Send(ctx, mapping.TelegramChatID, payload, mapping.TelegramThreadID); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return forwarded, err
			}
			slog.Error("forward failed", "mapping", mapping.DiscordID, "message", msg.ID, "chat", mapping.TelegramChatID, "error", err)
			lastSeen = msg.ID
			continue
		}
		forwarded++
		lastSeen = msg.ID
		if err := pacing.Jitter(ctx, runtime.MinDelay, runtime.MaxDelay); err != nil {
			jitterErr = err
			break
		}
	}

	// Persist the cursor even when the pass was cut short, then surface the
	// cancellation instead of reporting success.
	if lastSeen != "" && lastSeen != previous {
		mapping.LastMessageID = lastSeen
		if err := e.store.SetLastMessage(mapping.StorageID, lastSeen); err != nil {
			slog.Error("persist cursor", "mapping", mapping.DiscordID, "error", err)
		}
	}
	return forwarded, jitterErr
}
