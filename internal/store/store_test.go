// internal/store/store_test.go
package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/user/forwardmon/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSettingsRoundtrip(t *testing.T) {
	st := openTestStore(t)

	if _, ok := st.GetSetting("missing"); ok {
		t.Error("missing key must report not found")
	}
	if err := st.SetSetting("k", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := st.SetSetting("k", "v2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if value, ok := st.GetSetting("k"); !ok || value != "v2" {
		t.Errorf("expected v2, got (%q, %v)", value, ok)
	}
	if err := st.DeleteSetting("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := st.GetSetting("k"); ok {
		t.Error("deleted key must be gone")
	}
}

func TestLoadRuntimeOptions(t *testing.T) {
	st := openTestStore(t)

	opts := st.LoadRuntimeOptions()
	defaults := types.DefaultRuntimeOptions()
	if opts.PollInterval != defaults.PollInterval || opts.RatePerSecond != defaults.RatePerSecond {
		t.Errorf("expected defaults, got %+v", opts)
	}

	st.SetSetting(types.SettingRate, "2.5")
	st.SetSetting(types.SettingPollInterval, "10")
	st.SetSetting(types.SettingDeduplicate, "on")
	st.SetSetting(types.SettingDelayMin, "250")
	st.SetSetting(types.SettingDelayMax, "1.5")

	opts = st.LoadRuntimeOptions()
	if opts.RatePerSecond != 2.5 {
		t.Errorf("expected rate 2.5, got %v", opts.RatePerSecond)
	}
	if opts.PollInterval != 10*time.Second {
		t.Errorf("expected 10s poll, got %v", opts.PollInterval)
	}
	if !opts.Deduplicate {
		t.Error("expected dedup enabled")
	}
	if opts.MinDelay != 250*time.Millisecond {
		t.Errorf("bare integers are milliseconds, got %v", opts.MinDelay)
	}
	if opts.MaxDelay != 1500*time.Millisecond {
		t.Errorf("decimals are seconds, got %v", opts.MaxDelay)
	}
}

func TestParseDelaySetting(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"", 42},
		{"500", 500 * time.Millisecond},
		{"0.5", 500 * time.Millisecond},
		{"2", 2 * time.Millisecond},
		{"2.0", 2 * time.Second},
		{"-5", 0},
		{"junk", 42},
	}
	for _, tc := range cases {
		if got := ParseDelaySetting(tc.raw, 42); got != tc.want {
			t.Errorf("ParseDelaySetting(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestParseBool(t *testing.T) {
	for _, truthy := range []string{"on", "True", "YES", "1"} {
		if !ParseBool(truthy, false) {
			t.Errorf("expected %q to be true", truthy)
		}
	}
	for _, falsy := range []string{"off", "False", "no", "0"} {
		if ParseBool(falsy, true) {
			t.Errorf("expected %q to be false", falsy)
		}
	}
	if !ParseBool("weird", true) {
		t.Error("unparseable input must fall back to the default")
	}
}

func TestMappingLifecycle(t *testing.T) {
	st := openTestStore(t)

	id, err := st.AddMapping("chan-1", "guild-1", "-100", 7, "News")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if id == 0 {
		t.Error("expected a storage id")
	}

	mappings, err := st.LoadMappings()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(mappings) != 1 {
		t.Fatalf("expected one mapping, got %d", len(mappings))
	}
	m := mappings[0]
	if m.DiscordID != "chan-1" || m.GuildID != "guild-1" || m.TelegramChatID != "-100" || m.TelegramThreadID != 7 {
		t.Errorf("unexpected mapping %+v", m)
	}
	if !m.Active || m.Mode != types.ModeStream || !m.DedupInherited {
		t.Errorf("unexpected defaults %+v", m)
	}
	if m.AddedAt.IsZero() {
		t.Error("added_at must be stamped")
	}

	if err := st.SetActive("chan-1", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := st.SetDedupMode("chan-1", "on"); err != nil {
		t.Fatalf("dedup mode: %v", err)
	}
	if err := st.SetDedupMode("chan-1", "bogus"); err == nil {
		t.Error("expected rejection of unknown dedup mode")
	}

	mappings, _ = st.LoadMappings()
	if mappings[0].Active {
		t.Error("expected inactive")
	}
	if mappings[0].DedupInherited || !mappings[0].Dedup {
		t.Errorf("expected explicit dedup on, got %+v", mappings[0])
	}

	removed, err := st.RemoveMapping("chan-1")
	if err != nil || !removed {
		t.Fatalf("remove: (%v, %v)", removed, err)
	}
	removed, _ = st.RemoveMapping("chan-1")
	if removed {
		t.Error("second removal must report not found")
	}
}

func TestModeSwitchResetsCursors(t *testing.T) {
	st := openTestStore(t)
	id, _ := st.AddMapping("chan-1", "", "-100", 0, "")

	st.SetKnownPinned(id, map[string]bool{"1": true})
	st.SetPinnedSynced(id, true)
	if err := st.SetMode("chan-1", types.ModeForum); err != nil {
		t.Fatalf("set mode: %v", err)
	}

	mappings, _ := st.LoadMappings()
	m := mappings[0]
	if m.Mode != types.ModeForum {
		t.Errorf("expected forum mode, got %s", m.Mode)
	}
	if len(m.KnownPinnedIDs) != 0 || m.PinnedSynced {
		t.Error("mode switch must reset the other variant's cursors")
	}
}

func TestCursorPersistence(t *testing.T) {
	st := openTestStore(t)
	id, _ := st.AddMapping("chan-1", "", "-100", 0, "")

	st.SetLastMessage(id, "12345")
	st.SetKnownThreads(id, map[string]bool{"t1": true, "t2": true})
	st.SetForumSynced(id, true)

	mappings, _ := st.LoadMappings()
	m := mappings[0]
	if m.LastMessageID != "12345" {
		t.Errorf("expected cursor 12345, got %q", m.LastMessageID)
	}
	if !m.KnownThreadIDs["t1"] || !m.KnownThreadIDs["t2"] || !m.ForumSynced {
		t.Errorf("expected thread cursor restored, got %+v", m)
	}
}

func TestFiltersMergeGlobalAndLocal(t *testing.T) {
	st := openTestStore(t)
	st.AddMapping("chan-1", "", "-100", 0, "")

	if err := st.AddFilter("", FilterBlacklist, "spam"); err != nil {
		t.Fatalf("global filter: %v", err)
	}
	if err := st.AddFilter("chan-1", FilterWhitelist, "alert"); err != nil {
		t.Fatalf("local filter: %v", err)
	}
	if err := st.AddFilter("missing", FilterWhitelist, "x"); err == nil {
		t.Error("expected error for unknown mapping")
	}

	mappings, _ := st.LoadMappings()
	filters := mappings[0].Filters
	if !filters.Blacklist["spam"] {
		t.Error("global filters must apply to every mapping")
	}
	if !filters.Whitelist["alert"] {
		t.Error("local filters must apply")
	}

	st.RemoveFilter("", FilterBlacklist, "spam")
	mappings, _ = st.LoadMappings()
	if mappings[0].Filters.Blacklist["spam"] {
		t.Error("removed filter must not linger")
	}
}

func TestHealthStatusPersistence(t *testing.T) {
	st := openTestStore(t)

	st.SetHealthStatus("discord_token", types.HealthError, "rejected")
	status, message := st.GetHealthStatus("discord_token")
	if status != types.HealthError || message != "rejected" {
		t.Errorf("expected (error, rejected), got (%q, %q)", status, message)
	}

	st.SetHealthStatus("discord_token", types.HealthOK, "")
	status, message = st.GetHealthStatus("discord_token")
	if status != types.HealthOK || message != "" {
		t.Errorf("expected clean ok, got (%q, %q)", status, message)
	}

	st.SetHealthStatus("channel.one", types.HealthOK, "")
	st.SetHealthStatus("channel.two", types.HealthOK, "")
	st.CleanMappingHealth(map[string]bool{"channel.one": true})
	if status, _ := st.GetHealthStatus("channel.two"); status != "" {
		t.Error("stale mapping health must be cleaned")
	}
	if status, _ := st.GetHealthStatus("channel.one"); status != types.HealthOK {
		t.Error("active mapping health must survive cleaning")
	}

	statuses := st.IterHealthStatuses()
	if statuses["discord_token"] != types.HealthOK || statuses["channel.one"] != types.HealthOK {
		t.Errorf("unexpected statuses %v", statuses)
	}
}

func TestMappingBlockedByHealth(t *testing.T) {
	st := openTestStore(t)
	st.AddMapping("chan-1", "", "-100", 0, "")
	st.SetHealthStatus("channel.chan-1", types.HealthError, "unreachable")

	mappings, _ := st.LoadMappings()
	if !mappings[0].BlockedByHealth {
		t.Error("an active mapping in error must be blocked")
	}

	st.SetActive("chan-1", false)
	mappings, _ = st.LoadMappings()
	if mappings[0].BlockedByHealth {
		t.Error("an inactive mapping is not blocked, it is off")
	}
}

func TestAdmins(t *testing.T) {
	st := openTestStore(t)

	if st.HasAdmins() {
		t.Error("fresh store must have no admins")
	}
	st.AddAdmin(1, "alice")
	st.AddAdmin(1, "alice_renamed")
	st.AddAdmin(2, "bob")

	admins, err := st.ListAdmins()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(admins) != 2 {
		t.Fatalf("expected 2 admins, got %d", len(admins))
	}
	if admins[0].Username != "alice_renamed" {
		t.Errorf("re-adding must refresh the username, got %q", admins[0].Username)
	}

	st.RemoveAdmin(1)
	admins, _ = st.ListAdmins()
	if len(admins) != 1 || admins[0].UserID != 2 {
		t.Errorf("expected only bob, got %v", admins)
	}
}

func TestManualForwardAudit(t *testing.T) {
	st := openTestStore(t)

	err := st.RecordManualForward(types.ManualForwardEntry{
		DiscordID:   "chan-1",
		Forwarded:   3,
		Mode:        "stream",
		RequestedBy: 42,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	entries, err := st.RecentManualForwards(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.ID == "" {
		t.Error("missing id must be generated")
	}
	if entry.RequestedAt.IsZero() {
		t.Error("missing timestamp must be filled")
	}
	if entry.Forwarded != 3 || entry.RequestedBy != 42 {
		t.Errorf("unexpected entry %+v", entry)
	}
}

func TestUpdateOffsetPersistence(t *testing.T) {
	st := openTestStore(t)
	if st.GetUpdateOffset() != 0 {
		t.Error("fresh store must report offset 0")
	}
	st.SetUpdateOffset(4242)
	if got := st.GetUpdateOffset(); got != 4242 {
		t.Errorf("expected 4242, got %d", got)
	}
}
