// internal/syncer/forum.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/user/forwardmon/internal/pacing"
	"github.com/user/forwardmon/internal/types"
)

// processForum tracks the thread set of a forum channel. Structurally the
// same as the pinned-set pass, but a "new" entity is a thread: forwarding it
// means fetching the thread's oldest message and sending it tagged with the
// thread title. The first pass only seeds the known-thread set.
func (e *Engine) processForum(ctx context.Context, mapping *types.MappingConfig, runtime types.RuntimeOptions) (int, error) {
	if mapping.GuildID == "" {
		slog.Warn("skipping forum mapping without guild id", "mapping", mapping.DiscordID)
		return 0, nil
	}

	threads, err := e.source.FetchThreads(ctx, mapping.DiscordID, mapping.GuildID)
	if err != nil {
		return 0, fmt.Errorf("fetch threads for %s: %w", mapping.DiscordID, err)
	}

	current := make(map[string]bool, len(threads))
	byID := make(map[string]types.Thread, len(threads))
	for _, thread := range threads {
		current[thread.ID] = true
		byID[thread.ID] = thread
	}

	if !mapping.ForumSynced {
		if err := e.store.SetKnownThreads(mapping.StorageID, current); err != nil {
			slog.Error("persist thread baseline", "mapping", mapping.DiscordID, "error", err)
		}
		if err := e.store.SetForumSynced(mapping.StorageID, true); err != nil {
			slog.Error("persist forum synced flag", "mapping", mapping.DiscordID, "error", err)
		}
		mapping.KnownThreadIDs = copySet(current)
		mapping.ForumSynced = true
		return 0, nil
	}

	known := mapping.KnownThreadIDs
	if known == nil {
		known = map[string]bool{}
	}
	var newIDs []string
	for id := range current {
		if !known[id] {
			newIDs = append(newIDs, id)
		}
	}
	if len(newIDs) == 0 {
		return 0, nil
	}
	sort.Slice(newIDs, func(i, j int) bool { return types.LessID(newIDs[i], newIDs[j]) })

	processed := make(map[string]bool)
	interrupted := false
	forwarded := 0
	var jitterErr error

	for _, threadID := range newIDs {
		if e.refreshPending() {
			interrupted = true
			break
		}
		thread, ok := byID[threadID]
		if !ok {
			processed[threadID] = true
			continue
		}
		messages, err := e.source.FetchSince(ctx, threadID, "", 1)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return forwarded, err
			}
			slog.Error("fetch thread starter failed", "thread", threadID, "error", err)
			continue
		}
		if len(messages) == 0 {
			processed[threadID] = true
			continue
		}
		first := messages[0]
		for _, msg := range messages[1:] {
			if types.LessID(msg.ID, first.ID) {
				first = msg
			}
		}
		payload := e.render(first, mapping, types.KindForumThread, thread.Name)
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
			slog.Error("forward thread starter failed", "thread", threadID, "error", err)
			continue
		}
		forwarded++
		processed[threadID] = true
		if err := pacing.Jitter(ctx, runtime.MinDelay, runtime.MaxDelay); err != nil {
			jitterErr = err
			interrupted = true
			break
		}
	}

	var updated map[string]bool
	if interrupted {
		updated = copySet(known)
		for id := range processed {
			updated[id] = true
		}
	} else {
		updated = copySet(current)
	}
	if !setsEqual(updated, mapping.KnownThreadIDs) {
		if err := e.store.SetKnownThreads(mapping.StorageID, updated); err != nil {
			slog.Error("persist thread set", "mapping", mapping.DiscordID, "error", err)
		}
		mapping.KnownThreadIDs = updated
	}
	return forwarded, jitterErr
}
