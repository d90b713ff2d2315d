// internal/syncer/engine_test.go
package syncer

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/user/forwardmon/internal/dedup"
	"github.com/user/forwardmon/internal/pacing"
	"github.com/user/forwardmon/internal/types"
)

type fakeSource struct {
	messages map[string][]types.Message
	pinned   map[string][]types.Message
	threads  map[string][]types.Thread
	fetchErr error
}

func (f *fakeSource) FetchSince(ctx context.Context, channelID, afterID string, limit int) ([]types.Message, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []types.Message
	for _, msg := range f.messages[channelID] {
		if afterID == "" || types.LessID(afterID, msg.ID) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (f *fakeSource) FetchPinned(ctx context.Context, channelID string) ([]types.Message, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.pinned[channelID], nil
}

func (f *fakeSource) FetchThreads(ctx context.Context, channelID, guildID string) ([]types.Thread, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.threads[channelID], nil
}

func (f *fakeSource) CheckAccessible(ctx context.Context, channelID string) (bool, error) {
	return true, nil
}
func (f *fakeSource) VerifyCredential(ctx context.Context, token string) types.CredentialCheck {
	return types.CredentialCheck{OK: true}
}
func (f *fakeSource) CheckProxy(ctx context.Context, opts types.NetworkOptions) types.ProxyCheck {
	return types.ProxyCheck{OK: true}
}
func (f *fakeSource) SetCredential(token string)                  {}
func (f *fakeSource) SetNetworkOptions(opts types.NetworkOptions) {}

type sentItem struct {
	chatID   string
	text     string
	threadID int
}

type fakeSink struct {
	sent    []sentItem
	failIDs map[string]bool
	// onSend runs after each successful delivery, letting tests trigger a
	// refresh or cancellation mid-batch.
	onSend func()
}

func (f *fakeSink) Send(ctx context.Context, chatID string, payload types.OutboundPayload, threadID int) error {
	if f.failIDs[payload.Text] {
		return errors.New("delivery refused")
	}
	f.sent = append(f.sent, sentItem{chatID: chatID, text: payload.Text, threadID: threadID})
	if f.onSend != nil {
		f.onSend()
	}
	return nil
}

func (f *fakeSink) ids() []string {
	out := make([]string, len(f.sent))
	for i, item := range f.sent {
		out[i] = item.text
	}
	return out
}

type renderCall struct {
	id         string
	kind       types.MessageKind
	threadName string
}

type fakeStore struct {
	lastMessage  map[int64]string
	knownPinned  map[int64]map[string]bool
	pinnedSynced map[int64]bool
	knownThreads map[int64]map[string]bool
	forumSynced  map[int64]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		lastMessage:  map[int64]string{},
		knownPinned:  map[int64]map[string]bool{},
		pinnedSynced: map[int64]bool{},
		knownThreads: map[int64]map[string]bool{},
		forumSynced:  map[int64]bool{},
	}
}

func (f *fakeStore) GetSetting(key string) (string, bool) { return "", false }
func (f *fakeStore) SetSetting(key, value string) error   { return nil }
func (f *fakeStore) DeleteSetting(key string) error       { return nil }
func (f *fakeStore) LoadMappings() ([]types.MappingConfig, error) {
	return nil, nil
}
func (f *fakeStore) LoadRuntimeOptions() types.RuntimeOptions {
	return types.DefaultRuntimeOptions()
}
func (f *fakeStore) LoadNetworkOptions() types.NetworkOptions { return types.NetworkOptions{} }
func (f *fakeStore) SetLastMessage(storageID int64, messageID string) error {
	f.lastMessage[storageID] = messageID
	return nil
}
func (f *fakeStore) SetKnownPinned(storageID int64, ids map[string]bool) error {
	f.knownPinned[storageID] = copySet(ids)
	return nil
}
func (f *fakeStore) SetPinnedSynced(storageID int64, synced bool) error {
	f.pinnedSynced[storageID] = synced
	return nil
}
func (f *fakeStore) SetKnownThreads(storageID int64, ids map[string]bool) error {
	f.knownThreads[storageID] = copySet(ids)
	return nil
}
func (f *fakeStore) SetForumSynced(storageID int64, synced bool) error {
	f.forumSynced[storageID] = synced
	return nil
}
func (f *fakeStore) SetHealthStatus(subject, status, message string) error { return nil }
func (f *fakeStore) GetHealthStatus(subject string) (string, string)       { return "", "" }
func (f *fakeStore) CleanMappingHealth(activeIDs map[string]bool) error    { return nil }
func (f *fakeStore) IterHealthStatuses() map[string]string                 { return nil }
func (f *fakeStore) ListAdmins() ([]types.AdminRecord, error)              { return nil, nil }
func (f *fakeStore) RecordManualForward(entry types.ManualForwardEntry) error {
	return nil
}

type testHarness struct {
	engine  *Engine
	source  *fakeSource
	sink    *fakeSink
	store   *fakeStore
	renders []renderCall
	refresh bool
}

func newHarness(source *fakeSource) *testHarness {
	h := &testHarness{
		source: source,
		sink:   &fakeSink{failIDs: map[string]bool{}},
		store:  newFakeStore(),
	}
	h.engine = New(Config{
		Source: source,
		Sink:   h.sink,
		Store:  h.store,
		Render: func(msg types.Message, mapping *types.MappingConfig, kind types.MessageKind, threadName string) types.OutboundPayload {
			h.renders = append(h.renders, renderCall{id: msg.ID, kind: kind, threadName: threadName})
			return types.OutboundPayload{Text: msg.ID}
		},
		Dedup:          dedup.NewCache(dedup.DefaultCapacity),
		Guard:          pacing.NewKeyedMutex(),
		SinkRate:       pacing.NewRateLimiter(0),
		RefreshPending: func() bool { return h.refresh },
	})
	return h
}

func streamMapping() *types.MappingConfig {
	return &types.MappingConfig{
		StorageID:      1,
		DiscordID:      "chan",
		TelegramChatID: "-100",
		Active:         true,
		Mode:           types.ModeStream,
		LastMessageID:  "0",
		DedupInherited: true,
		Filters:        types.NewFilterConfig(),
	}
}

func msg(id string, ts time.Time) types.Message {
	return types.Message{ID: id, ChannelID: "chan", Content: "content " + id, Timestamp: ts}
}

func TestStreamForwardsInAscendingOrder(t *testing.T) {
	now := time.Now().UTC()
	h := newHarness(&fakeSource{messages: map[string][]types.Message{
		"chan": {msg("3", now), msg("1", now), msg("2", now)},
	}})
	mapping := streamMapping()

	forwarded, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if forwarded != 3 {
		t.Errorf("expected 3 forwards, got %d", forwarded)
	}
	got := h.sink.ids()
	if len(got) != 3 || got[0] != "1" || got[1] != "2" || got[2] != "3" {
		t.Errorf("expected ascending order, got %v", got)
	}
	if mapping.LastMessageID != "3" {
		t.Errorf("expected cursor at 3, got %q", mapping.LastMessageID)
	}
	if h.store.lastMessage[1] != "3" {
		t.Errorf("expected persisted cursor 3, got %q", h.store.lastMessage[1])
	}
}

func TestStreamIdempotentAcrossPasses(t *testing.T) {
	now := time.Now().UTC()
	h := newHarness(&fakeSource{messages: map[string][]types.Message{
		"chan": {msg("1", now), msg("2", now)},
	}})
	mapping := streamMapping()

	if _, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{}); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	forwarded, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if forwarded != 0 {
		t.Errorf("second pass must forward nothing, got %d", forwarded)
	}
	if len(h.sink.sent) != 2 {
		t.Errorf("expected 2 total sends, got %d", len(h.sink.sent))
	}
}

// snowflakeID fabricates an ID consistent with the message timestamp so
// marker and time comparisons agree, as they do for real source IDs.
func snowflakeID(ts time.Time) string {
	return strconv.FormatInt(types.SnowflakeFromTime(ts)+1, 10)
}

func TestStreamBootstrapSkipsBacklog(t *testing.T) {
	baseline := time.Now().UTC().Add(-time.Hour)
	oldA := msg(snowflakeID(baseline.Add(-2*time.Hour)), baseline.Add(-2*time.Hour))
	oldB := msg(snowflakeID(baseline.Add(-time.Minute)), baseline.Add(-time.Minute))
	newA := msg(snowflakeID(baseline.Add(time.Minute)), baseline.Add(time.Minute))
	h := newHarness(&fakeSource{messages: map[string][]types.Message{
		"chan": {oldA, oldB, newA},
	}})
	mapping := streamMapping()
	mapping.LastMessageID = ""
	mapping.AddedAt = baseline

	forwarded, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if forwarded != 1 {
		t.Errorf("expected only the post-baseline message, got %d forwards", forwarded)
	}
	if got := h.sink.ids(); len(got) != 1 || got[0] != newA.ID {
		t.Errorf("expected [%s], got %v", newA.ID, got)
	}
	if mapping.LastMessageID != newA.ID {
		t.Errorf("cursor must advance past skipped backlog, got %q", mapping.LastMessageID)
	}
}

func TestStreamSkipsNonForwardableType(t *testing.T) {
	now := time.Now().UTC()
	join := msg("1", now)
	join.Type = 7
	join.Content = ""
	h := newHarness(&fakeSource{messages: map[string][]types.Message{
		"chan": {join, msg("2", now)},
	}})
	mapping := streamMapping()

	forwarded, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if forwarded != 1 {
		t.Errorf("expected 1 forward, got %d", forwarded)
	}
	if got := h.sink.ids(); len(got) != 1 || got[0] != "2" {
		t.Errorf("expected [2], got %v", got)
	}
}

func TestStreamFilterDenyAdvancesCursor(t *testing.T) {
	now := time.Now().UTC()
	spam := msg("1", now)
	spam.Content = "free casino spins"
	h := newHarness(&fakeSource{messages: map[string][]types.Message{
		"chan": {spam},
	}})
	mapping := streamMapping()
	mapping.Filters.Blacklist["casino"] = true

	forwarded, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if forwarded != 0 {
		t.Errorf("expected 0 forwards, got %d", forwarded)
	}
	if mapping.LastMessageID != "1" {
		t.Errorf("cursor must advance past filtered messages, got %q", mapping.LastMessageID)
	}
}

func TestStreamDeduplicates(t *testing.T) {
	now := time.Now().UTC()
	first := msg("1", now)
	second := msg("2", now)
	second.Content = first.Content
	h := newHarness(&fakeSource{messages: map[string][]types.Message{
		"chan": {first, second},
	}})
	mapping := streamMapping()

	forwarded, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{Deduplicate: true})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if forwarded != 1 {
		t.Errorf("expected duplicate to be dropped, got %d forwards", forwarded)
	}
	if mapping.LastMessageID != "2" {
		t.Errorf("cursor must advance past duplicates, got %q", mapping.LastMessageID)
	}
}

func TestStreamSendFailureAdvancesCursor(t *testing.T) {
	now := time.Now().UTC()
	h := newHarness(&fakeSource{messages: map[string][]types.Message{
		"chan": {msg("1", now), msg("2", now)},
	}})
	h.sink.failIDs["1"] = true
	mapping := streamMapping()

	forwarded, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil {
		t.Fatalf("a failed send must not abort the pass: %v", err)
	}
	if forwarded != 1 {
		t.Errorf("expected 1 successful forward, got %d", forwarded)
	}
	if mapping.LastMessageID != "2" {
		t.Errorf("cursor must advance past the failed message, got %q", mapping.LastMessageID)
	}
}

func TestStreamRefreshAbortKeepsPartialCursor(t *testing.T) {
	now := time.Now().UTC()
	h := newHarness(&fakeSource{messages: map[string][]types.Message{
		"chan": {msg("1", now), msg("2", now), msg("3", now)},
	}})
	h.sink.onSend = func() { h.refresh = true }
	mapping := streamMapping()

	forwarded, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if forwarded != 1 {
		t.Errorf("expected the pass to stop after the first send, got %d forwards", forwarded)
	}
	if mapping.LastMessageID != "1" {
		t.Errorf("partial progress must be kept, got cursor %q", mapping.LastMessageID)
	}
	if h.store.lastMessage[1] != "1" {
		t.Errorf("partial cursor must be persisted, got %q", h.store.lastMessage[1])
	}

	// After the refresh is serviced the pass resumes from the kept cursor.
	h.refresh = false
	h.sink.onSend = nil
	forwarded, err = h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil {
		t.Fatalf("resume pass: %v", err)
	}
	if forwarded != 2 {
		t.Errorf("expected the remaining messages, got %d forwards", forwarded)
	}
	if got := h.sink.ids(); len(got) != 3 || got[1] != "2" || got[2] != "3" {
		t.Errorf("expected [1 2 3] across both passes, got %v", got)
	}
}

func TestStreamCancelDuringDelayPersistsCursor(t *testing.T) {
	now := time.Now().UTC()
	h := newHarness(&fakeSource{messages: map[string][]types.Message{
		"chan": {msg("1", now), msg("2", now)},
	}})
	ctx, cancel := context.WithCancel(context.Background())
	h.sink.onSend = cancel
	runtime := types.RuntimeOptions{MinDelay: 50 * time.Millisecond, MaxDelay: 50 * time.Millisecond}

	forwarded, err := h.engine.ProcessMapping(ctx, streamMapping(), runtime)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancellation must surface as an error, got %v", err)
	}
	if forwarded != 1 {
		t.Errorf("expected 1 forward before the cancellation, got %d", forwarded)
	}
	if h.store.lastMessage[1] != "1" {
		t.Errorf("cursor must be persisted before returning, got %q", h.store.lastMessage[1])
	}
}

func TestInactiveMappingSkipped(t *testing.T) {
	h := newHarness(&fakeSource{messages: map[string][]types.Message{
		"chan": {msg("1", time.Now().UTC())},
	}})
	mapping := streamMapping()
	mapping.Active = false

	forwarded, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil || forwarded != 0 {
		t.Errorf("inactive mapping must be a no-op, got (%d, %v)", forwarded, err)
	}

	mapping = streamMapping()
	mapping.BlockedByHealth = true
	forwarded, err = h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil || forwarded != 0 {
		t.Errorf("health-blocked mapping must be a no-op, got (%d, %v)", forwarded, err)
	}
}

func pinnedMapping() *types.MappingConfig {
	m := streamMapping()
	m.Mode = types.ModePinned
	m.LastMessageID = ""
	return m
}

func TestPinnedFirstPassSeedsBaseline(t *testing.T) {
	now := time.Now().UTC()
	h := newHarness(&fakeSource{pinned: map[string][]types.Message{
		"chan": {msg("1", now), msg("2", now)},
	}})
	mapping := pinnedMapping()

	forwarded, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if forwarded != 0 {
		t.Errorf("first pass must forward nothing, got %d", forwarded)
	}
	if !mapping.PinnedSynced || !mapping.KnownPinnedIDs["1"] || !mapping.KnownPinnedIDs["2"] {
		t.Errorf("expected seeded baseline, got synced=%v known=%v", mapping.PinnedSynced, mapping.KnownPinnedIDs)
	}
	if !h.store.pinnedSynced[1] {
		t.Error("synced flag must be persisted")
	}
}

func TestPinnedForwardsNewPins(t *testing.T) {
	now := time.Now().UTC()
	h := newHarness(&fakeSource{pinned: map[string][]types.Message{
		"chan": {msg("1", now), msg("2", now)},
	}})
	mapping := pinnedMapping()
	mapping.PinnedSynced = true
	mapping.KnownPinnedIDs = map[string]bool{"1": true}

	forwarded, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if forwarded != 1 {
		t.Errorf("expected 1 forward, got %d", forwarded)
	}
	if len(h.renders) != 1 || h.renders[0].kind != types.KindPinned {
		t.Errorf("expected one pinned render, got %v", h.renders)
	}
	if !mapping.KnownPinnedIDs["2"] {
		t.Error("forwarded pin must join the known set")
	}
}

func TestPinnedUnpinRemovedFromKnown(t *testing.T) {
	h := newHarness(&fakeSource{pinned: map[string][]types.Message{}})
	mapping := pinnedMapping()
	mapping.PinnedSynced = true
	mapping.KnownPinnedIDs = map[string]bool{"1": true}

	forwarded, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if forwarded != 0 {
		t.Errorf("expected 0 forwards, got %d", forwarded)
	}
	if len(mapping.KnownPinnedIDs) != 0 {
		t.Errorf("unpinned IDs must leave the known set, got %v", mapping.KnownPinnedIDs)
	}
}

func TestPinnedSendFailureDropped(t *testing.T) {
	now := time.Now().UTC()
	source := &fakeSource{pinned: map[string][]types.Message{
		"chan": {msg("1", now), msg("2", now)},
	}}
	h := newHarness(source)
	h.sink.failIDs["2"] = true
	mapping := pinnedMapping()
	mapping.PinnedSynced = true
	mapping.KnownPinnedIDs = map[string]bool{"1": true}

	if _, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{}); err != nil {
		t.Fatalf("process: %v", err)
	}
	// A completed pass records the full observed set, failures included.
	if !mapping.KnownPinnedIDs["2"] {
		t.Errorf("a completed pass must record every current pin, got %v", mapping.KnownPinnedIDs)
	}

	delete(h.sink.failIDs, "2")
	forwarded, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if forwarded != 0 {
		t.Errorf("a dropped pin must not be retried, got %d forwards", forwarded)
	}
}

func TestPinnedInterruptionMergesPartialProgress(t *testing.T) {
	now := time.Now().UTC()
	source := &fakeSource{pinned: map[string][]types.Message{
		"chan": {msg("1", now), msg("2", now), msg("3", now)},
	}}
	h := newHarness(source)
	h.sink.onSend = func() { h.refresh = true }
	mapping := pinnedMapping()
	mapping.PinnedSynced = true
	mapping.KnownPinnedIDs = map[string]bool{"1": true, "9": true}

	forwarded, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if forwarded != 1 {
		t.Fatalf("expected 1 forward before the interruption, got %d", forwarded)
	}
	// Known becomes (known ∩ current) ∪ processed: the stale "9" drops out,
	// the handled "2" joins, the untouched "3" stays eligible.
	want := map[string]bool{"1": true, "2": true}
	if !setsEqual(mapping.KnownPinnedIDs, want) {
		t.Errorf("expected merged set %v, got %v", want, mapping.KnownPinnedIDs)
	}
	if !setsEqual(h.store.knownPinned[1], want) {
		t.Errorf("expected merged set persisted, got %v", h.store.knownPinned[1])
	}

	// The next pass picks up where the interruption left off.
	h.refresh = false
	h.sink.onSend = nil
	forwarded, err = h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil {
		t.Fatalf("resume pass: %v", err)
	}
	if forwarded != 1 {
		t.Errorf("expected the unhandled pin to be forwarded, got %d", forwarded)
	}
	if got := h.sink.ids(); len(got) != 2 || got[1] != "3" {
		t.Errorf("expected [2 3] across both passes, got %v", got)
	}
}

func TestPinnedCutoffSkipsOldPins(t *testing.T) {
	old := time.Now().UTC().Add(-time.Hour)
	source := &fakeSource{pinned: map[string][]types.Message{
		"chan": {msg("1", old), msg("2", old)},
	}}
	h := newHarness(source)
	h.engine.startup = time.Now().UTC()
	mapping := pinnedMapping()
	mapping.PinnedSynced = true
	mapping.KnownPinnedIDs = map[string]bool{"1": true}

	forwarded, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if forwarded != 0 {
		t.Errorf("pins predating the cutoff must not be forwarded, got %d", forwarded)
	}
	if !mapping.KnownPinnedIDs["2"] {
		t.Error("skipped pin must still be marked known")
	}
}

func forumMapping() *types.MappingConfig {
	m := streamMapping()
	m.Mode = types.ModeForum
	m.GuildID = "guild"
	m.LastMessageID = ""
	return m
}

func TestForumRequiresGuild(t *testing.T) {
	h := newHarness(&fakeSource{threads: map[string][]types.Thread{
		"chan": {{ID: "t1", Name: "One", ParentID: "chan"}},
	}})
	mapping := forumMapping()
	mapping.GuildID = ""

	forwarded, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil || forwarded != 0 {
		t.Errorf("forum mapping without guild must be a no-op, got (%d, %v)", forwarded, err)
	}
	if mapping.ForumSynced {
		t.Error("missing guild must not seed the baseline")
	}
}

func TestForumFirstPassSeedsBaseline(t *testing.T) {
	h := newHarness(&fakeSource{threads: map[string][]types.Thread{
		"chan": {{ID: "t1", Name: "One", ParentID: "chan"}},
	}})
	mapping := forumMapping()

	forwarded, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if forwarded != 0 {
		t.Errorf("first pass must forward nothing, got %d", forwarded)
	}
	if !mapping.ForumSynced || !mapping.KnownThreadIDs["t1"] {
		t.Errorf("expected seeded thread set, got synced=%v known=%v", mapping.ForumSynced, mapping.KnownThreadIDs)
	}
}

func TestForumForwardsNewThreadStarter(t *testing.T) {
	now := time.Now().UTC()
	h := newHarness(&fakeSource{
		threads: map[string][]types.Thread{
			"chan": {
				{ID: "t1", Name: "Old", ParentID: "chan"},
				{ID: "t2", Name: "Fresh", ParentID: "chan"},
			},
		},
		messages: map[string][]types.Message{
			"t2": {msg("20", now), msg("10", now)},
		},
	})
	mapping := forumMapping()
	mapping.ForumSynced = true
	mapping.KnownThreadIDs = map[string]bool{"t1": true}

	forwarded, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if forwarded != 1 {
		t.Errorf("expected 1 forward, got %d", forwarded)
	}
	if len(h.renders) != 1 {
		t.Fatalf("expected one render, got %d", len(h.renders))
	}
	call := h.renders[0]
	if call.id != "10" {
		t.Errorf("expected the thread's oldest message, got %q", call.id)
	}
	if call.kind != types.KindForumThread || call.threadName != "Fresh" {
		t.Errorf("expected forum render with thread title, got %+v", call)
	}
	if !mapping.KnownThreadIDs["t2"] {
		t.Error("forwarded thread must join the known set")
	}
}

func TestForumEmptyThreadMarkedKnown(t *testing.T) {
	h := newHarness(&fakeSource{
		threads: map[string][]types.Thread{
			"chan": {{ID: "t2", Name: "Empty", ParentID: "chan"}},
		},
	})
	mapping := forumMapping()
	mapping.ForumSynced = true
	mapping.KnownThreadIDs = map[string]bool{}

	forwarded, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if forwarded != 0 {
		t.Errorf("expected 0 forwards, got %d", forwarded)
	}
	if !mapping.KnownThreadIDs["t2"] {
		t.Error("a thread with no messages must still be marked known")
	}
}

func TestFetchErrorPropagates(t *testing.T) {
	h := newHarness(&fakeSource{fetchErr: errors.New("api down")})
	mapping := streamMapping()
	if _, err := h.engine.ProcessMapping(context.Background(), mapping, types.RuntimeOptions{}); err == nil {
		t.Error("expected fetch error to propagate")
	}
}
