// internal/telegram/controller.go
package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/forwardmon/internal/store"
	"github.com/user/forwardmon/internal/types"
)

// Coordinator is the slice of the application the controller drives.
type Coordinator interface {
	OnConfigChanged()
	OnMappingRemoved(discordID string)
	ForwardNow(ctx context.Context, discordID string) (int, *types.MappingConfig, error)
	StartupTime() time.Time
	ConfigVersion() int64
	HealthVersion() int64
}

// Controller is the Telegram-side operator console: it long-polls for
// commands, mutates the configuration store, and notifies the coordinator of
// every change. It also implements types.Notifier for health alerts.
type Controller struct {
	bot   *tgbotapi.BotAPI
	store *store.Store
	app   Coordinator
}

// NewController wires the controller.
func NewController(bot *tgbotapi.BotAPI, st *store.Store, app Coordinator) *Controller {
	return &Controller{bot: bot, store: st, app: app}
}

// NotifyAdmins sends an HTML-formatted message to every administrator.
func (c *Controller) NotifyAdmins(ctx context.Context, text string) {
	admins, err := c.store.ListAdmins()
	if err != nil {
		slog.Error("list admins for notification", "error", err)
		return
	}
	for _, admin := range admins {
		if ctx.Err() != nil {
			return
		}
		c.reply(admin.UserID, text)
	}
}

// Run long-polls updates until the context is cancelled. The update offset is
// persisted so commands are not replayed across restarts.
func (c *Controller) Run(ctx context.Context) error {
	offset := c.store.GetUpdateOffset()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		config := tgbotapi.NewUpdate(offset)
		config.Timeout = 30
		updates, err := c.bot.GetUpdates(config)
		if err != nil {
			slog.Warn("poll updates", "error", err)
			select {
			case <-time.After(3 * time.Second):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			c.handleMessage(ctx, update.Message)
		}
		if len(updates) > 0 {
			if err := c.store.SetUpdateOffset(offset); err != nil {
				slog.Error("persist update offset", "error", err)
			}
		}
	}
}

func (c *Controller) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || !msg.IsCommand() {
		return
	}
	userID := msg.From.ID

	// The first user to talk to an unconfigured service becomes its admin.
	if !c.store.HasAdmins() {
		if err := c.store.AddAdmin(userID, msg.From.UserName); err != nil {
			slog.Error("claim admin", "error", err)
			return
		}
		c.reply(userID, "You are now the administrator of this service.")
	} else if !c.isAdmin(userID) {
		return
	}

	args := strings.Fields(msg.CommandArguments())
	switch msg.Command() {
	case "start", "help":
		c.reply(userID, helpText)
	case "add":
		c.cmdAdd(userID, args)
	case "remove":
		c.cmdRemove(userID, args)
	case "list":
		c.cmdList(userID)
	case "status":
		c.cmdStatus(userID)
	case "set":
		c.cmdSet(userID, args)
	case "token":
		c.cmdToken(userID, msg.CommandArguments())
	case "proxy":
		c.cmdProxy(userID, args)
	case "filter":
		c.cmdFilter(userID, args)
	case "forward":
		c.cmdForward(ctx, userID, args)
	case "history":
		c.cmdHistory(userID)
	case "label":
		c.cmdLabel(userID, args)
	case "mode":
		c.cmdMode(userID, args)
	case "enable":
		c.cmdActive(userID, args, true)
	case "disable":
		c.cmdActive(userID, args, false)
	case "dedup":
		c.cmdDedup(userID, args)
	default:
		c.reply(userID, "Unknown command. Use /help.")
	}
}

const helpText = `<b>Forward monitor</b>
/add &lt;discord_id&gt; &lt;chat_id[:topic]&gt; [label] — add a mapping
/remove &lt;discord_id&gt; — delete a mapping
/list — show mappings
/status — service health
/enable /disable &lt;discord_id&gt; — toggle a mapping
/mode &lt;discord_id&gt; stream|pinned|forum [guild_id]
/dedup &lt;discord_id&gt; inherit|on|off
/filter &lt;discord_id|global&gt; add|remove|clear|list [type] [value]
/forward &lt;discord_id&gt; — run one pass immediately
/history — recent manual forwards
/label &lt;discord_id&gt; &lt;text&gt; — rename a mapping
/set &lt;key&gt; &lt;value&gt; — runtime settings (rate, poll, delay_min, delay_max, health_interval, dedup)
/token &lt;value&gt; — set the source credential
/proxy &lt;url&gt; [login] [password] | /proxy off`

func (c *Controller) cmdAdd(userID int64, args []string) {
	if len(args) < 2 {
		c.reply(userID, "Usage: /add <discord_id> <chat_id[:topic]> [label]")
		return
	}
	discordID := args[0]
	chatID, threadID := splitChatTarget(args[1])
	label := strings.Join(args[2:], " ")
	if _, err := c.store.AddMapping(discordID, "", chatID, threadID, label); err != nil {
		c.reply(userID, "Could not add mapping: "+html.EscapeString(err.Error()))
		return
	}
	c.app.OnConfigChanged()
	c.reply(userID, "Mapping added. It activates after the next health pass.")
}

func (c *Controller) cmdRemove(userID int64, args []string) {
	if len(args) != 1 {
		c.reply(userID, "Usage: /remove <discord_id>")
		return
	}
	removed, err := c.store.RemoveMapping(args[0])
	if err != nil {
		c.reply(userID, "Could not remove mapping: "+html.EscapeString(err.Error()))
		return
	}
	if !removed {
		c.reply(userID, "No such mapping.")
		return
	}
	c.app.OnMappingRemoved(args[0])
	c.app.OnConfigChanged()
	c.reply(userID, "Mapping removed.")
}

func (c *Controller) cmdList(userID int64) {
	mappings, err := c.store.LoadMappings()
	if err != nil {
		c.reply(userID, "Could not load mappings.")
		return
	}
	if len(mappings) == 0 {
		c.reply(userID, "No mappings configured.")
		return
	}
	lines := []string{"<b>Mappings</b>", ""}
	for _, m := range mappings {
		label := m.Label
		if label == "" {
			label = m.DiscordID
		}
		state := "🟢"
		switch {
		case !m.Active:
			state = "⚪"
		case m.BlockedByHealth:
			state = "🔴"
		case m.HealthStatus == types.HealthUnknown || m.HealthStatus == "":
			state = "🟡"
		}
		lines = append(lines, fmt.Sprintf("%s <b>%s</b> → %s (%s)",
			state, html.EscapeString(label), html.EscapeString(m.TelegramChatID), m.Mode))
	}
	c.reply(userID, strings.Join(lines, "\n"))
}

func (c *Controller) cmdStatus(userID int64) {
	statuses := c.store.IterHealthStatuses()
	subjects := make([]string, 0, len(statuses))
	for subject := range statuses {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)

	lines := []string{"<b>Service status</b>", ""}
	lines = append(lines, fmt.Sprintf("Started: %s", c.app.StartupTime().Format("2006-01-02 15:04:05 UTC")))
	lines = append(lines, fmt.Sprintf("Config version: %d (verified: %d)", c.app.ConfigVersion(), c.app.HealthVersion()))
	lines = append(lines, "")
	for _, subject := range subjects {
		icon := "🟡"
		switch statuses[subject] {
		case types.HealthOK:
			icon = "🟢"
		case types.HealthError:
			icon = "🔴"
		case types.HealthDisabled:
			icon = "⚪"
		}
		lines = append(lines, icon+" "+html.EscapeString(subject))
	}
	c.reply(userID, strings.Join(lines, "\n"))
}

// settingAliases maps command-friendly names to settings keys.
var settingAliases = map[string]string{
	"rate":            types.SettingRate,
	"poll":            types.SettingPollInterval,
	"delay_min":       types.SettingDelayMin,
	"delay_max":       types.SettingDelayMax,
	"health_interval": types.SettingHealthInterval,
	"dedup":           types.SettingDeduplicate,
	"user_agent":      types.SettingUserAgent,
}

func (c *Controller) cmdSet(userID int64, args []string) {
	if len(args) < 2 {
		c.reply(userID, "Usage: /set <key> <value>")
		return
	}
	key, ok := settingAliases[strings.ToLower(args[0])]
	if !ok {
		c.reply(userID, "Unknown setting. Known: rate, poll, delay_min, delay_max, health_interval, dedup, user_agent.")
		return
	}
	value := strings.Join(args[1:], " ")
	if err := c.store.SetSetting(key, value); err != nil {
		c.reply(userID, "Could not store setting.")
		return
	}
	c.app.OnConfigChanged()
	c.reply(userID, "Setting updated.")
}

func (c *Controller) cmdToken(userID int64, raw string) {
	token := strings.TrimSpace(raw)
	if token == "" {
		c.reply(userID, "Usage: /token <value>")
		return
	}
	if err := c.store.SetSetting(types.SettingSourceToken, token); err != nil {
		c.reply(userID, "Could not store credential.")
		return
	}
	c.app.OnConfigChanged()
	c.reply(userID, "Credential stored. It is verified on the next health pass.")
}

func (c *Controller) cmdProxy(userID int64, args []string) {
	if len(args) == 0 {
		c.reply(userID, "Usage: /proxy <url> [login] [password] or /proxy off")
		return
	}
	if strings.EqualFold(args[0], "off") {
		c.store.DeleteSetting(types.SettingProxyURL)
		c.store.DeleteSetting(types.SettingProxyLogin)
		c.store.DeleteSetting(types.SettingProxyPassword)
		c.app.OnConfigChanged()
		c.reply(userID, "Proxy disabled.")
		return
	}
	if err := c.store.SetSetting(types.SettingProxyURL, args[0]); err != nil {
		c.reply(userID, "Could not store proxy settings.")
		return
	}
	if len(args) > 1 {
		c.store.SetSetting(types.SettingProxyLogin, args[1])
	}
	if len(args) > 2 {
		c.store.SetSetting(types.SettingProxyPassword, args[2])
	}
	c.app.OnConfigChanged()
	c.reply(userID, "Proxy stored. It is probed on the next health pass.")
}

func (c *Controller) cmdFilter(userID int64, args []string) {
	if len(args) < 2 {
		c.reply(userID, "Usage: /filter <discord_id|global> add|remove|clear|list [type] [value]")
		return
	}
	target := args[0]
	if strings.EqualFold(target, "global") {
		target = ""
	}
	action := strings.ToLower(args[1])
	var err error
	switch action {
	case "add", "remove":
		if len(args) < 4 {
			c.reply(userID, "Usage: /filter <target> "+action+" <type> <value>")
			return
		}
		value := strings.Join(args[3:], " ")
		if action == "add" {
			err = c.store.AddFilter(target, strings.ToLower(args[2]), value)
		} else {
			err = c.store.RemoveFilter(target, strings.ToLower(args[2]), value)
		}
	case "clear":
		err = c.store.ClearFilters(target)
	case "list":
		cfg, listErr := c.store.ListFilters(target)
		if listErr != nil {
			c.reply(userID, "Could not load filters: "+html.EscapeString(listErr.Error()))
			return
		}
		c.reply(userID, formatFilters(cfg))
		return
	default:
		c.reply(userID, "Unknown filter action.")
		return
	}
	if err != nil {
		c.reply(userID, "Filter change failed: "+html.EscapeString(err.Error()))
		return
	}
	c.app.OnConfigChanged()
	c.reply(userID, "Filters updated.")
}

func (c *Controller) cmdForward(ctx context.Context, userID int64, args []string) {
	if len(args) != 1 {
		c.reply(userID, "Usage: /forward <discord_id>")
		return
	}
	forwarded, mapping, err := c.app.ForwardNow(ctx, args[0])
	if err != nil {
		c.reply(userID, "Forward failed: "+html.EscapeString(err.Error()))
		return
	}
	entry := types.ManualForwardEntry{
		DiscordID:   args[0],
		Forwarded:   forwarded,
		RequestedBy: userID,
	}
	if mapping != nil {
		entry.Label = mapping.Label
		entry.Mode = string(mapping.Mode)
	}
	if err := c.store.RecordManualForward(entry); err != nil {
		slog.Error("record manual forward", "error", err)
	}
	c.reply(userID, fmt.Sprintf("Forwarded %d message(s).", forwarded))
}

func (c *Controller) cmdHistory(userID int64) {
	entries, err := c.store.RecentManualForwards(10)
	if err != nil {
		c.reply(userID, "Could not load forward history.")
		return
	}
	if len(entries) == 0 {
		c.reply(userID, "No manual forwards recorded.")
		return
	}
	lines := []string{"<b>Recent manual forwards</b>", ""}
	for _, entry := range entries {
		label := entry.Label
		if label == "" {
			label = entry.DiscordID
		}
		lines = append(lines, fmt.Sprintf("%s — <b>%s</b>: %d message(s)",
			entry.RequestedAt.Format("2006-01-02 15:04"), html.EscapeString(label), entry.Forwarded))
	}
	c.reply(userID, strings.Join(lines, "\n"))
}

func (c *Controller) cmdLabel(userID int64, args []string) {
	if len(args) < 2 {
		c.reply(userID, "Usage: /label <discord_id> <text>")
		return
	}
	if err := c.store.SetLabel(args[0], strings.Join(args[1:], " ")); err != nil {
		c.reply(userID, "Could not update label: "+html.EscapeString(err.Error()))
		return
	}
	c.app.OnConfigChanged()
	c.reply(userID, "Label updated.")
}

func (c *Controller) cmdMode(userID int64, args []string) {
	if len(args) < 2 {
		c.reply(userID, "Usage: /mode <discord_id> stream|pinned|forum [guild_id]")
		return
	}
	mode := types.MonitorMode(strings.ToLower(args[1]))
	switch mode {
	case types.ModeStream, types.ModePinned, types.ModeForum:
	default:
		c.reply(userID, "Unknown mode. Use stream, pinned or forum.")
		return
	}
	if mode == types.ModeForum {
		if len(args) < 3 {
			c.reply(userID, "Forum mode needs the guild id: /mode <discord_id> forum <guild_id>")
			return
		}
		if err := c.store.SetGuild(args[0], args[2]); err != nil {
			c.reply(userID, "Could not store guild id: "+html.EscapeString(err.Error()))
			return
		}
	}
	if err := c.store.SetMode(args[0], mode); err != nil {
		c.reply(userID, "Could not change mode: "+html.EscapeString(err.Error()))
		return
	}
	c.app.OnConfigChanged()
	c.reply(userID, "Mode changed. Cursors for the previous mode were reset.")
}

func (c *Controller) cmdActive(userID int64, args []string, active bool) {
	if len(args) != 1 {
		c.reply(userID, "Usage: /enable <discord_id> or /disable <discord_id>")
		return
	}
	if err := c.store.SetActive(args[0], active); err != nil {
		c.reply(userID, "Could not update mapping: "+html.EscapeString(err.Error()))
		return
	}
	c.app.OnConfigChanged()
	if active {
		c.reply(userID, "Mapping enabled.")
	} else {
		c.reply(userID, "Mapping disabled.")
	}
}

func (c *Controller) cmdDedup(userID int64, args []string) {
	if len(args) != 2 {
		c.reply(userID, "Usage: /dedup <discord_id> inherit|on|off")
		return
	}
	if err := c.store.SetDedupMode(args[0], strings.ToLower(args[1])); err != nil {
		c.reply(userID, "Could not update dedup mode: "+html.EscapeString(err.Error()))
		return
	}
	c.app.OnConfigChanged()
	c.reply(userID, "Dedup mode updated.")
}

func (c *Controller) isAdmin(userID int64) bool {
	admins, err := c.store.ListAdmins()
	if err != nil {
		return false
	}
	for _, admin := range admins {
		if admin.UserID == userID {
			return true
		}
	}
	return false
}

func (c *Controller) reply(userID int64, text string) {
	msg := tgbotapi.NewMessage(userID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := c.bot.Send(msg); err != nil {
		msg.ParseMode = ""
		if _, err := c.bot.Send(msg); err != nil {
			slog.Warn("send admin message", "user", userID, "error", err)
		}
	}
}

// splitChatTarget parses "chat" or "chat:topic" destinations.
func splitChatTarget(raw string) (string, int) {
	chat, topic, found := strings.Cut(raw, ":")
	if !found {
		return raw, 0
	}
	threadID, err := strconv.Atoi(topic)
	if err != nil {
		return raw, 0
	}
	return chat, threadID
}

func formatFilters(cfg types.FilterConfig) string {
	section := func(name string, set map[string]bool) string {
		if len(set) == 0 {
			return ""
		}
		values := make([]string, 0, len(set))
		for value := range set {
			values = append(values, html.EscapeString(value))
		}
		sort.Strings(values)
		return "<b>" + name + ":</b> " + strings.Join(values, ", ")
	}
	var lines []string
	for _, part := range []string{
		section("whitelist", cfg.Whitelist),
		section("blacklist", cfg.Blacklist),
		section("allowed senders", cfg.AllowedSenders),
		section("blocked senders", cfg.BlockedSenders),
		section("allowed types", cfg.AllowedTypes),
		section("blocked types", cfg.BlockedTypes),
		section("allowed roles", cfg.AllowedRoles),
		section("blocked roles", cfg.BlockedRoles),
	} {
		if part != "" {
			lines = append(lines, part)
		}
	}
	if len(lines) == 0 {
		return "No filters configured."
	}
	return strings.Join(lines, "\n")
}
