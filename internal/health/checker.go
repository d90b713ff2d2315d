// internal/health/checker.go
package health

import (
	"context"
	"html"
	"log/slog"
	"strings"

	"github.com/user/forwardmon/internal/pacing"
	"github.com/user/forwardmon/internal/types"
)

const (
	SubjectProxy = "proxy"
	SubjectToken = "discord_token"
)

const dependencyDownMessage = "Check unavailable: dependency down."

// PassInput is the configuration snapshot a health pass runs against.
type PassInput struct {
	Mappings []types.MappingConfig
	Runtime  types.RuntimeOptions
	Network  types.NetworkOptions
	Token    string
}

// PassResult summarises what the pass changed.
type PassResult struct {
	// Transitions is true when any subject changed status in a way that
	// was notified (new errors or recoveries).
	Transitions bool
	// CredentialUpdated is true when the probe returned a normalized form
	// of the credential and it was persisted.
	CredentialUpdated bool
}

// Checker runs the proxy → credential → per-mapping probe chain, persists the
// resulting records, and notifies administrators about transitions.
type Checker struct {
	store    types.ConfigRepository
	source   types.SourceFeed
	registry *Registry
	notifier types.Notifier
	retry    Policy
}

// NewChecker wires a checker. notifier may be nil to disable notifications.
func NewChecker(store types.ConfigRepository, source types.SourceFeed, registry *Registry, notifier types.Notifier) *Checker {
	return &Checker{
		store:    store,
		source:   source,
		registry: registry,
		notifier: notifier,
		retry:    DefaultPolicy(),
	}
}

// SetRetry overrides the probe retry policy.
func (c *Checker) SetRetry(p Policy) { c.retry = p }

// SetNotifier installs or replaces the admin notifier.
func (c *Checker) SetNotifier(n types.Notifier) { c.notifier = n }

// RunPass executes one full health pass for the given snapshot.
func (c *Checker) RunPass(ctx context.Context, input PassInput) PassResult {
	var result PassResult
	records := make([]types.HealthRecord, 0, len(input.Mappings)+2)

	c.source.SetCredential(input.Token)
	c.source.SetNetworkOptions(input.Network)

	// Proxy.
	var proxyCheck types.ProxyCheck
	c.retry.Do(ctx, func(ctx context.Context) bool {
		proxyCheck = c.source.CheckProxy(ctx, input.Network)
		return proxyCheck.OK
	})
	proxyConfigured := input.Network.ProxyURL != ""
	proxyRecord := types.HealthRecord{Subject: SubjectProxy, Label: "Source proxy"}
	switch {
	case !proxyConfigured:
		proxyRecord.Status = types.HealthDisabled
	case proxyCheck.OK:
		proxyRecord.Status = types.HealthOK
	default:
		proxyRecord.Status = types.HealthError
		proxyRecord.Message = proxyCheck.Error
	}
	records = append(records, proxyRecord)
	proxyBlocked := proxyConfigured && !proxyCheck.OK

	// Credential.
	token := strings.TrimSpace(input.Token)
	tokenRecord := types.HealthRecord{Subject: SubjectToken, Label: "Source credential"}
	tokenOK := false
	switch {
	case proxyBlocked:
		tokenRecord.Status = types.HealthUnknown
		tokenRecord.Message = dependencyDownMessage
	case token == "":
		tokenRecord.Status = types.HealthError
		tokenRecord.Message = "Source credential is not set."
	default:
		var check types.CredentialCheck
		c.retry.Do(ctx, func(ctx context.Context) bool {
			check = c.source.VerifyCredential(ctx, token)
			return check.OK
		})
		tokenOK = check.OK
		if check.OK {
			tokenRecord.Status = types.HealthOK
			if check.Normalized != "" && check.Normalized != token {
				if err := c.store.SetSetting(types.SettingSourceToken, check.Normalized); err != nil {
					slog.Error("persist normalized credential", "error", err)
				} else {
					c.source.SetCredential(check.Normalized)
					result.CredentialUpdated = true
				}
			}
		} else {
			tokenRecord.Status = types.HealthError
			tokenRecord.Message = check.Error
		}
	}
	records = append(records, tokenRecord)

	// Per-mapping probes share a limiter so a large configuration does not
	// hammer the source API in one burst.
	rate := input.Runtime.RatePerSecond
	if rate < 1 {
		rate = 1
	}
	checkRate := pacing.NewRateLimiter(rate)
	activeSubjects := make(map[string]bool, len(input.Mappings))
	for _, mapping := range input.Mappings {
		subject := MappingSubject(mapping.DiscordID)
		activeSubjects[subject] = true
		label := mapping.Label
		if label == "" {
			label = mapping.DiscordID
		}
		record := types.HealthRecord{Subject: subject, Label: "Mapping " + label}
		switch {
		case !mapping.Active:
			record.Status = types.HealthDisabled
		case proxyBlocked:
			record.Status = types.HealthUnknown
			record.Message = dependencyDownMessage
		case !tokenOK:
			record.Status = types.HealthUnknown
			record.Message = "Check unavailable: no valid source credential."
		default:
			accessible := c.retry.Do(ctx, func(ctx context.Context) bool {
				if err := checkRate.Wait(ctx); err != nil {
					return false
				}
				ok, err := c.source.CheckAccessible(ctx, mapping.DiscordID)
				if err != nil {
					slog.Warn("mapping accessibility probe failed", "mapping", mapping.DiscordID, "error", err)
					return false
				}
				return ok
			})
			if accessible {
				record.Status = types.HealthOK
			} else {
				record.Status = types.HealthError
				record.Message = "Source channel is unreachable or access is denied."
			}
		}
		records = append(records, record)
	}

	if err := c.store.CleanMappingHealth(activeSubjects); err != nil {
		slog.Error("prune stale health records", "error", err)
	}
	for _, record := range records {
		if err := c.store.SetHealthStatus(record.Subject, record.Status, record.Message); err != nil {
			slog.Error("persist health record", "subject", record.Subject, "error", err)
		}
	}
	c.registry.PruneMappings(activeSubjects)

	errors, recoveries := c.registry.Observe(records)
	for _, record := range errors {
		slog.Warn("component unhealthy", "subject", record.Subject, "message", record.Message)
	}
	if c.notifier != nil {
		if len(errors) > 0 {
			c.notifier.NotifyAdmins(ctx, formatSummary(errors, false))
		}
		if len(recoveries) > 0 {
			c.notifier.NotifyAdmins(ctx, formatSummary(recoveries, true))
		}
	}
	result.Transitions = len(errors) > 0 || len(recoveries) > 0
	return result
}

func formatSummary(records []types.HealthRecord, recovered bool) string {
	var lines []string
	if recovered {
		lines = append(lines, "✅ <b>Components recovered</b>", "")
		for _, record := range records {
			lines = append(lines, "• "+html.EscapeString(record.Label))
		}
		return strings.Join(lines, "\n")
	}
	lines = append(lines, "🔴 <b>Problems detected</b>", "")
	for _, record := range records {
		message := record.Message
		if message == "" {
			message = "No reason given."
		}
		lines = append(lines, "• <b>"+html.EscapeString(record.Label)+"</b> — "+html.EscapeString(message))
	}
	return strings.Join(lines, "\n")
}
