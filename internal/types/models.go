// internal/types/models.go
package types

import "time"

// MonitorMode selects which cursor variant a mapping uses.
type MonitorMode string

const (
	ModeStream MonitorMode = "stream"
	ModePinned MonitorMode = "pinned"
	ModeForum  MonitorMode = "forum"
)

// MessageKind tags the origin of a forwarded message for the renderer.
type MessageKind string

const (
	KindMessage     MessageKind = "message"
	KindPinned      MessageKind = "pinned"
	KindForumThread MessageKind = "forum_thread"
)

// Health status values shared by every monitored subject.
const (
	HealthOK       = "ok"
	HealthError    = "error"
	HealthUnknown  = "unknown"
	HealthDisabled = "disabled"
)

// Attachment is the subset of a source attachment used for filtering,
// deduplication and rendering.
type Attachment struct {
	Filename    string
	URL         string
	ProxyURL    string
	ContentType string
}

// Embed is the subset of a source embed the forwarder cares about.
type Embed struct {
	Title       string
	Description string
}

// Message is the source-side payload consumed by the sync engine.
type Message struct {
	ID          string
	ChannelID   string
	GuildID     string
	AuthorID    string
	AuthorName  string
	Content     string
	Attachments []Attachment
	Embeds      []Embed
	Stickers    []string
	RoleIDs     map[string]bool
	Timestamp   time.Time
	Type        int
}

// Thread describes a forum thread tracked by the thread-set cursor.
type Thread struct {
	ID       string
	Name     string
	ParentID string
}

// FilterConfig holds allow and deny lists for source content.
type FilterConfig struct {
	Whitelist      map[string]bool
	Blacklist      map[string]bool
	AllowedSenders map[string]bool
	BlockedSenders map[string]bool
	AllowedTypes   map[string]bool
	BlockedTypes   map[string]bool
	AllowedRoles   map[string]bool
	BlockedRoles   map[string]bool
}

// NewFilterConfig returns a FilterConfig with all sets allocated.
func NewFilterConfig() FilterConfig {
	return FilterConfig{
		Whitelist:      map[string]bool{},
		Blacklist:      map[string]bool{},
		AllowedSenders: map[string]bool{},
		BlockedSenders: map[string]bool{},
		AllowedTypes:   map[string]bool{},
		BlockedTypes:   map[string]bool{},
		AllowedRoles:   map[string]bool{},
		BlockedRoles:   map[string]bool{},
	}
}

// Merge returns the union of two filter configurations.
func (f FilterConfig) Merge(other FilterConfig) FilterConfig {
	out := NewFilterConfig()
	union := func(dst map[string]bool, srcs ...map[string]bool) {
		for _, src := range srcs {
			for k := range src {
				dst[k] = true
			}
		}
	}
	union(out.Whitelist, f.Whitelist, other.Whitelist)
	union(out.Blacklist, f.Blacklist, other.Blacklist)
	union(out.AllowedSenders, f.AllowedSenders, other.AllowedSenders)
	union(out.BlockedSenders, f.BlockedSenders, other.BlockedSenders)
	union(out.AllowedTypes, f.AllowedTypes, other.AllowedTypes)
	union(out.BlockedTypes, f.BlockedTypes, other.BlockedTypes)
	union(out.AllowedRoles, f.AllowedRoles, other.AllowedRoles)
	union(out.BlockedRoles, f.BlockedRoles, other.BlockedRoles)
	return out
}

// FormattingOptions configure the rendered output for one mapping.
type FormattingOptions struct {
	DisablePreview   bool
	MaxLength        int
	Ellipsis         string
	AttachmentsStyle string
	ShowSourceLink   bool
}

// DefaultFormattingOptions returns the formatting defaults applied to new mappings.
func DefaultFormattingOptions() FormattingOptions {
	return FormattingOptions{
		DisablePreview:   true,
		MaxLength:        3500,
		Ellipsis:         "…",
		AttachmentsStyle: "summary",
	}
}

// MappingConfig is one source→destination binding. The engine works on an
// immutable-per-pass snapshot; the configuration store owns the durable copy.
type MappingConfig struct {
	StorageID        int64
	DiscordID        string
	GuildID          string
	TelegramChatID   string
	TelegramThreadID int
	Label            string
	Active           bool
	AddedAt          time.Time
	Mode             MonitorMode
	Formatting       FormattingOptions
	Filters          FilterConfig

	// Dedup is the per-mapping override; DedupInherited means the global
	// runtime default applies instead.
	Dedup          bool
	DedupInherited bool

	// Stream-mode cursor.
	LastMessageID string

	// Pinned-set cursor.
	KnownPinnedIDs map[string]bool
	PinnedSynced   bool

	// Thread-set cursor.
	KnownThreadIDs map[string]bool
	ForumSynced    bool

	HealthStatus    string
	HealthMessage   string
	BlockedByHealth bool
}

// RuntimeOptions are the globally tunable knobs of the monitor loop.
type RuntimeOptions struct {
	PollInterval   time.Duration
	MinDelay       time.Duration
	MaxDelay       time.Duration
	RatePerSecond  float64
	HealthInterval time.Duration
	Deduplicate    bool
}

// DefaultRuntimeOptions mirrors the stored defaults when no settings exist.
func DefaultRuntimeOptions() RuntimeOptions {
	return RuntimeOptions{
		PollInterval:   2 * time.Second,
		RatePerSecond:  8,
		HealthInterval: 180 * time.Second,
	}
}

// NetworkOptions carry proxy and client identity overrides for the source feed.
type NetworkOptions struct {
	ProxyURL      string
	ProxyLogin    string
	ProxyPassword string
	UserAgent     string
}

// HealthRecord is the persisted status of one monitored subject.
type HealthRecord struct {
	Subject string
	Status  string
	Message string
	Label   string
}

// OutboundPayload is the rendered destination-side message. Oversized source
// content is carried in Extra as follow-up chunks.
type OutboundPayload struct {
	Text           string
	Extra          []string
	ParseMode      string
	DisablePreview bool
	ImageURLs      []string
}

// AdminRecord identifies an administrator of the service.
type AdminRecord struct {
	UserID   int64
	Username string
}

// ManualForwardEntry records the outcome of one manual forward action.
type ManualForwardEntry struct {
	ID          string
	DiscordID   string
	Label       string
	Forwarded   int
	Mode        string
	Note        string
	RequestedBy int64
	RequestedAt time.Time
}
