// internal/filter/engine.go
package filter

import (
	"strconv"
	"strings"

	"github.com/user/forwardmon/internal/types"
)

// Engine applies a mapping's allow/deny lists to source messages.
type Engine struct {
	config             types.FilterConfig
	allowedSenderIDs   map[string]bool
	allowedSenderNames map[string]bool
	blockedSenderIDs   map[string]bool
	blockedSenderNames map[string]bool
	allowedRoles       map[string]bool
	blockedRoles       map[string]bool
}

// New compiles a filter configuration into an evaluator.
func New(config types.FilterConfig) *Engine {
	e := &Engine{config: config}
	e.allowedSenderIDs, e.allowedSenderNames = splitSenderValues(config.AllowedSenders)
	e.blockedSenderIDs, e.blockedSenderNames = splitSenderValues(config.BlockedSenders)
	e.allowedRoles = trimSet(config.AllowedRoles)
	e.blockedRoles = trimSet(config.BlockedRoles)
	return e
}

// Evaluate decides whether a message may be forwarded. Checks run in a fixed
// order: stickers, senders, roles, content tokens, inferred types.
func (e *Engine) Evaluate(msg types.Message) types.FilterDecision {
	lowered := strings.ToLower(msg.Content)
	authorID := strings.TrimSpace(msg.AuthorID)
	authorName := NormalizeUsername(msg.AuthorName)

	if len(msg.Stickers) > 0 {
		return types.FilterDecision{Allowed: false, Reason: "sticker_blocked"}
	}

	if len(e.allowedSenderIDs) > 0 || len(e.allowedSenderNames) > 0 {
		if !e.allowedSenderIDs[authorID] && !(authorName != "" && e.allowedSenderNames[authorName]) {
			return types.FilterDecision{Allowed: false, Reason: "sender_not_allowed"}
		}
	}
	if e.blockedSenderIDs[authorID] {
		return types.FilterDecision{Allowed: false, Reason: "sender_blocked"}
	}
	if authorName != "" && e.blockedSenderNames[authorName] {
		return types.FilterDecision{Allowed: false, Reason: "sender_blocked"}
	}

	if len(e.allowedRoles) > 0 && !intersects(msg.RoleIDs, e.allowedRoles) {
		return types.FilterDecision{Allowed: false, Reason: "role_not_allowed"}
	}
	if intersects(msg.RoleIDs, e.blockedRoles) {
		return types.FilterDecision{Allowed: false, Reason: "role_blocked"}
	}

	if len(e.config.Whitelist) > 0 && !containsAnyToken(lowered, e.config.Whitelist) {
		return types.FilterDecision{Allowed: false, Reason: "whitelist_miss"}
	}
	if containsAnyToken(lowered, e.config.Blacklist) {
		return types.FilterDecision{Allowed: false, Reason: "blacklist_hit"}
	}

	messageTypes := InferTypes(msg)
	if len(e.config.AllowedTypes) > 0 && !intersects(messageTypes, e.config.AllowedTypes) {
		return types.FilterDecision{Allowed: false, Reason: "type_not_allowed"}
	}
	if len(e.config.BlockedTypes) > 0 && intersects(messageTypes, e.config.BlockedTypes) {
		return types.FilterDecision{Allowed: false, Reason: "type_blocked"}
	}

	return types.FilterDecision{Allowed: true}
}

var imageExts = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}
var videoExts = []string{".mp4", ".mov", ".mkv", ".webm"}
var audioExts = []string{".mp3", ".ogg", ".wav", ".flac"}

// InferTypes derives the set of coarse content types carried by a message,
// used by the allowed/blocked type lists.
func InferTypes(msg types.Message) map[string]bool {
	out := make(map[string]bool)
	if msg.Content != "" {
		out["text"] = true
	}
	if len(msg.Stickers) > 0 {
		out["sticker"] = true
	}
	for _, a := range msg.Attachments {
		filename := strings.ToLower(a.Filename)
		contentType := strings.ToLower(a.ContentType)
		switch {
		case hasAnySuffix(filename, imageExts):
			out["image"] = true
		case hasAnySuffix(filename, videoExts):
			out["video"] = true
		case hasAnySuffix(filename, audioExts):
			out["audio"] = true
		case strings.HasPrefix(contentType, "image/"):
			out["image"] = true
		case strings.HasPrefix(contentType, "video/"):
			out["video"] = true
		case strings.HasPrefix(contentType, "audio/"):
			out["audio"] = true
		default:
			out["attachment"] = true
		}
	}
	if len(msg.Embeds) > 0 {
		out["embed"] = true
	}
	if msg.Content == "" && len(msg.Attachments) == 0 && len(msg.Embeds) == 0 {
		out["empty"] = true
	}
	return out
}

// NormalizeUsername lowercases a username and strips the @ prefix.
func NormalizeUsername(username string) string {
	normalized := strings.TrimSpace(username)
	normalized = strings.TrimPrefix(normalized, "@")
	return strings.ToLower(strings.TrimSpace(normalized))
}

func splitSenderValues(values map[string]bool) (ids, names map[string]bool) {
	ids = make(map[string]bool)
	names = make(map[string]bool)
	for entry := range values {
		text := strings.TrimSpace(entry)
		if text == "" {
			continue
		}
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			ids[strconv.FormatInt(n, 10)] = true
			continue
		}
		if normalized := NormalizeUsername(text); normalized != "" {
			names[normalized] = true
		} else {
			names[strings.ToLower(text)] = true
		}
	}
	return ids, names
}

func trimSet(values map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out[trimmed] = true
		}
	}
	return out
}

func hasAnySuffix(name string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func intersects(a, b map[string]bool) bool {
	for k := range a {
		if b[k] {
			return true
		}
	}
	return false
}

func containsAnyToken(lowered string, tokens map[string]bool) bool {
	for token := range tokens {
		cleaned := strings.ToLower(strings.TrimSpace(token))
		if cleaned != "" && strings.Contains(lowered, cleaned) {
			return true
		}
	}
	return false
}
