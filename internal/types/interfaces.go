// internal/types/interfaces.go
package types

import "context"

// Well-known settings keys shared between the engine and the admin
// controller.
const (
	SettingSourceToken    = "discord.token"
	SettingProxyURL       = "proxy.discord.url"
	SettingProxyLogin     = "proxy.discord.login"
	SettingProxyPassword  = "proxy.discord.password"
	SettingUserAgent      = "ua.discord"
	SettingPollInterval   = "runtime.poll"
	SettingDelayMin       = "runtime.delay_min"
	SettingDelayMax       = "runtime.delay_max"
	SettingRate           = "runtime.rate"
	SettingHealthInterval = "runtime.health_interval"
	SettingDeduplicate    = "runtime.deduplicate_messages"
)

// CredentialCheck reports the outcome of verifying a source credential.
// Normalized carries the canonical form of the credential when it differs
// from the supplied one.
type CredentialCheck struct {
	OK         bool
	Display    string
	Normalized string
	Error      string
}

// ProxyCheck reports the outcome of probing the configured proxy.
type ProxyCheck struct {
	OK    bool
	Error string
}

// SourceFeed is the source-side API client consumed by the engine.
type SourceFeed interface {
	// FetchSince returns messages newer than afterID, up to limit.
	FetchSince(ctx context.Context, channelID, afterID string, limit int) ([]Message, error)
	FetchPinned(ctx context.Context, channelID string) ([]Message, error)
	FetchThreads(ctx context.Context, channelID, guildID string) ([]Thread, error)
	// CheckAccessible reports whether the channel exists and is readable.
	// A definite rejection returns (false, nil); transport failures return
	// a non-nil error.
	CheckAccessible(ctx context.Context, channelID string) (bool, error)
	VerifyCredential(ctx context.Context, token string) CredentialCheck
	CheckProxy(ctx context.Context, opts NetworkOptions) ProxyCheck
	SetCredential(token string)
	SetNetworkOptions(opts NetworkOptions)
}

// SinkFeed delivers rendered payloads to the destination.
type SinkFeed interface {
	Send(ctx context.Context, chatID string, payload OutboundPayload, threadID int) error
}

// Renderer turns a source message into a destination payload. threadName is
// only set for forum-thread forwards.
type Renderer func(msg Message, mapping *MappingConfig, kind MessageKind, threadName string) OutboundPayload

// FilterDecision is the verdict of the filter engine for one message.
type FilterDecision struct {
	Allowed bool
	Reason  string
}

// FilterEvaluator applies a mapping's filter profile to messages.
type FilterEvaluator interface {
	Evaluate(msg Message) FilterDecision
}

// Notifier pushes operator-facing text to all administrators.
type Notifier interface {
	NotifyAdmins(ctx context.Context, text string)
}

// ConfigRepository is the persistent settings store shared by the engine and
// the admin controller.
type ConfigRepository interface {
	GetSetting(key string) (string, bool)
	SetSetting(key, value string) error
	DeleteSetting(key string) error

	LoadMappings() ([]MappingConfig, error)
	LoadRuntimeOptions() RuntimeOptions
	LoadNetworkOptions() NetworkOptions

	SetLastMessage(storageID int64, messageID string) error
	SetKnownPinned(storageID int64, ids map[string]bool) error
	SetPinnedSynced(storageID int64, synced bool) error
	SetKnownThreads(storageID int64, ids map[string]bool) error
	SetForumSynced(storageID int64, synced bool) error

	SetHealthStatus(subject, status, message string) error
	GetHealthStatus(subject string) (status, message string)
	CleanMappingHealth(activeIDs map[string]bool) error
	IterHealthStatuses() map[string]string

	ListAdmins() ([]AdminRecord, error)
	RecordManualForward(entry ManualForwardEntry) error
}
