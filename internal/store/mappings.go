// internal/store/mappings.go
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/user/forwardmon/internal/types"
)

// Filter categories accepted by AddFilter and RemoveFilter.
const (
	FilterWhitelist     = "whitelist"
	FilterBlacklist     = "blacklist"
	FilterAllowedSender = "allowed_sender"
	FilterBlockedSender = "blocked_sender"
	FilterAllowedType   = "allowed_type"
	FilterBlockedType   = "blocked_type"
	FilterAllowedRole   = "allowed_role"
	FilterBlockedRole   = "blocked_role"
)

// globalFilterChannel is the channel_id row that holds filters applied to
// every mapping.
const globalFilterChannel = 0

// AddMapping inserts a new source→destination binding and returns its storage
// id. The discord id must be unique across mappings.
func (s *Store) AddMapping(discordID, guildID, chatID string, threadID int, label string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, err := s.db.Exec(
		`INSERT INTO channels(discord_id, guild_id, telegram_chat_id, telegram_thread_id, label, added_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		discordID, guildID, chatID, threadID, label, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("add mapping %s: %w", discordID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add mapping %s: %w", discordID, err)
	}
	return id, nil
}

// RemoveMapping deletes a mapping, its filters and its health record. It
// reports whether a mapping with that discord id existed.
func (s *Store) RemoveMapping(discordID string) (bool, error) {
	s.mu.Lock()
	var storageID int64
	err := s.db.QueryRow("SELECT id FROM channels WHERE discord_id = ?", discordID).Scan(&storageID)
	if err == sql.ErrNoRows {
		s.mu.Unlock()
		return false, nil
	}
	if err != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("remove mapping %s: %w", discordID, err)
	}
	if _, err := s.db.Exec("DELETE FROM channel_filters WHERE channel_id = ?", storageID); err != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("remove mapping filters %s: %w", discordID, err)
	}
	if _, err := s.db.Exec("DELETE FROM channels WHERE id = ?", storageID); err != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("remove mapping %s: %w", discordID, err)
	}
	s.mu.Unlock()

	subject := "channel." + discordID
	s.DeleteSetting("health." + subject + ".status")
	s.DeleteSetting("health." + subject + ".message")
	return true, nil
}

// SetActive toggles a mapping on or off.
func (s *Store) SetActive(discordID string, active bool) error {
	return s.updateMapping(discordID, "active = ?", boolInt(active))
}

// SetMode switches the mapping's cursor variant and resets the cursors that
// belong to the other variants.
func (s *Store) SetMode(discordID string, mode types.MonitorMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`UPDATE channels SET monitor_mode = ?, known_pinned_ids = '[]', pinned_synced = 0,
		 known_thread_ids = '[]', forum_synced = 0 WHERE discord_id = ?`,
		string(mode), discordID,
	)
	if err != nil {
		return fmt.Errorf("set mode %s: %w", discordID, err)
	}
	return nil
}

// SetDedupMode stores the per-mapping dedup override: "inherit", "on" or "off".
func (s *Store) SetDedupMode(discordID, mode string) error {
	switch mode {
	case "inherit", "on", "off":
	default:
		return fmt.Errorf("set dedup mode %s: unknown mode %q", discordID, mode)
	}
	return s.updateMapping(discordID, "dedup_mode = ?", mode)
}

// SetGuild stores the guild a mapping's channel belongs to; required for
// forum mode where thread discovery is a guild-level call.
func (s *Store) SetGuild(discordID, guildID string) error {
	return s.updateMapping(discordID, "guild_id = ?", guildID)
}

// SetLabel renames a mapping.
func (s *Store) SetLabel(discordID, label string) error {
	return s.updateMapping(discordID, "label = ?", label)
}

func (s *Store) updateMapping(discordID, assignment string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("UPDATE channels SET "+assignment+" WHERE discord_id = ?", value, discordID)
	if err != nil {
		return fmt.Errorf("update mapping %s: %w", discordID, err)
	}
	return nil
}

// SetLastMessage persists the stream cursor.
func (s *Store) SetLastMessage(storageID int64, messageID string) error {
	return s.updateCursor(storageID, "last_message_id = ?", messageID)
}

// SetKnownPinned persists the pinned-set cursor.
func (s *Store) SetKnownPinned(storageID int64, ids map[string]bool) error {
	return s.updateCursor(storageID, "known_pinned_ids = ?", encodeIDSet(ids))
}

// SetPinnedSynced persists the pinned baseline flag.
func (s *Store) SetPinnedSynced(storageID int64, synced bool) error {
	return s.updateCursor(storageID, "pinned_synced = ?", boolInt(synced))
}

// SetKnownThreads persists the thread-set cursor.
func (s *Store) SetKnownThreads(storageID int64, ids map[string]bool) error {
	return s.updateCursor(storageID, "known_thread_ids = ?", encodeIDSet(ids))
}

// SetForumSynced persists the forum baseline flag.
func (s *Store) SetForumSynced(storageID int64, synced bool) error {
	return s.updateCursor(storageID, "forum_synced = ?", boolInt(synced))
}

func (s *Store) updateCursor(storageID int64, assignment string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("UPDATE channels SET "+assignment+" WHERE id = ?", value, storageID)
	if err != nil {
		return fmt.Errorf("update cursor %d: %w", storageID, err)
	}
	return nil
}

// AddFilter records one filter value for a mapping, or for every mapping when
// discordID is empty.
func (s *Store) AddFilter(discordID, filterType, value string) error {
	channelID, err := s.filterChannel(discordID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		"INSERT OR IGNORE INTO channel_filters(channel_id, filter_type, value) VALUES(?, ?, ?)",
		channelID, filterType, value,
	)
	if err != nil {
		return fmt.Errorf("add filter: %w", err)
	}
	return nil
}

// RemoveFilter deletes one filter value.
func (s *Store) RemoveFilter(discordID, filterType, value string) error {
	channelID, err := s.filterChannel(discordID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		"DELETE FROM channel_filters WHERE channel_id = ? AND filter_type = ? AND value = ?",
		channelID, filterType, value,
	)
	if err != nil {
		return fmt.Errorf("remove filter: %w", err)
	}
	return nil
}

// ClearFilters drops every filter for the mapping (or the global set).
func (s *Store) ClearFilters(discordID string) error {
	channelID, err := s.filterChannel(discordID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DELETE FROM channel_filters WHERE channel_id = ?", channelID); err != nil {
		return fmt.Errorf("clear filters: %w", err)
	}
	return nil
}

// ListFilters returns the filter values for a mapping grouped by category.
func (s *Store) ListFilters(discordID string) (types.FilterConfig, error) {
	channelID, err := s.filterChannel(discordID)
	if err != nil {
		return types.NewFilterConfig(), err
	}
	return s.loadFilters(channelID)
}

func (s *Store) filterChannel(discordID string) (int64, error) {
	if discordID == "" {
		return globalFilterChannel, nil
	}
	var id int64
	err := s.db.QueryRow("SELECT id FROM channels WHERE discord_id = ?", discordID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("mapping not found: %s", discordID)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup mapping %s: %w", discordID, err)
	}
	return id, nil
}

func (s *Store) loadFilters(channelID int64) (types.FilterConfig, error) {
	cfg := types.NewFilterConfig()
	rows, err := s.db.Query(
		"SELECT filter_type, value FROM channel_filters WHERE channel_id = ?", channelID,
	)
	if err != nil {
		return cfg, fmt.Errorf("load filters %d: %w", channelID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var filterType, value string
		if err := rows.Scan(&filterType, &value); err != nil {
			return cfg, fmt.Errorf("load filters %d: %w", channelID, err)
		}
		switch filterType {
		case FilterWhitelist:
			cfg.Whitelist[value] = true
		case FilterBlacklist:
			cfg.Blacklist[value] = true
		case FilterAllowedSender:
			cfg.AllowedSenders[value] = true
		case FilterBlockedSender:
			cfg.BlockedSenders[value] = true
		case FilterAllowedType:
			cfg.AllowedTypes[strings.ToLower(value)] = true
		case FilterBlockedType:
			cfg.BlockedTypes[strings.ToLower(value)] = true
		case FilterAllowedRole:
			cfg.AllowedRoles[value] = true
		case FilterBlockedRole:
			cfg.BlockedRoles[value] = true
		}
	}
	return cfg, rows.Err()
}

// LoadMappings returns every mapping with its merged filter profile and the
// health flags derived from the last pass. Rows that predate the added_at
// column get stamped with the current time so the bootstrap baseline stays
// sane.
func (s *Store) LoadMappings() ([]types.MappingConfig, error) {
	global, err := s.loadFilters(globalFilterChannel)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT id, discord_id, guild_id, telegram_chat_id, telegram_thread_id, label, active,
		 added_at, monitor_mode, dedup_mode, last_message_id, known_pinned_ids, pinned_synced,
		 known_thread_ids, forum_synced FROM channels ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("load mappings: %w", err)
	}
	defer rows.Close()

	var mappings []types.MappingConfig
	var stampIDs []int64
	now := time.Now().UTC()
	for rows.Next() {
		var m types.MappingConfig
		var active, pinnedSynced, forumSynced int
		var addedAt, mode, dedupMode, pinnedJSON, threadsJSON string
		err := rows.Scan(
			&m.StorageID, &m.DiscordID, &m.GuildID, &m.TelegramChatID, &m.TelegramThreadID,
			&m.Label, &active, &addedAt, &mode, &dedupMode, &m.LastMessageID,
			&pinnedJSON, &pinnedSynced, &threadsJSON, &forumSynced,
		)
		if err != nil {
			return nil, fmt.Errorf("load mappings: %w", err)
		}
		m.Active = active != 0
		m.Mode = types.MonitorMode(mode)
		if m.Mode != types.ModePinned && m.Mode != types.ModeForum {
			m.Mode = types.ModeStream
		}
		switch dedupMode {
		case "on":
			m.Dedup = true
		case "off":
			m.Dedup = false
		default:
			m.DedupInherited = true
		}
		m.KnownPinnedIDs = decodeIDSet(pinnedJSON)
		m.PinnedSynced = pinnedSynced != 0
		m.KnownThreadIDs = decodeIDSet(threadsJSON)
		m.ForumSynced = forumSynced != 0
		m.Formatting = types.DefaultFormattingOptions()

		if parsed, ok := parseTime(addedAt); ok {
			m.AddedAt = parsed
		} else {
			m.AddedAt = now
			stampIDs = append(stampIDs, m.StorageID)
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load mappings: %w", err)
	}

	for i := range mappings {
		m := &mappings[i]
		own, err := s.loadFilters(m.StorageID)
		if err != nil {
			return nil, err
		}
		m.Filters = global.Merge(own)
		m.HealthStatus, m.HealthMessage = s.GetHealthStatus("channel." + m.DiscordID)
		m.BlockedByHealth = m.HealthStatus == types.HealthError && m.Active
	}

	for _, id := range stampIDs {
		s.updateCursor(id, "added_at = ?", now.Format(time.RFC3339))
	}
	return mappings, nil
}

func encodeIDSet(ids map[string]bool) string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	data, err := json.Marshal(out)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeIDSet(raw string) map[string]bool {
	set := make(map[string]bool)
	if raw == "" {
		return set
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return set
	}
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func parseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
