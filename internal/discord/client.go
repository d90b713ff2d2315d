// internal/discord/client.go

// Package discord implements the source feed over the Discord REST API. The
// client never opens a gateway connection; channels are polled so a plain
// user or bot credential with read access is enough.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/user/forwardmon/internal/types"
)

const (
	gatewayProbeURL = "https://discord.com/api/v10/gateway"
	requestTimeout  = 30 * time.Second
)

// Client is a polling Discord API client. It implements types.SourceFeed.
type Client struct {
	mu      sync.Mutex
	session *discordgo.Session
	token   string
	network types.NetworkOptions
}

// New creates a client with no credential. SetCredential must be called
// before any fetch.
func New() *Client {
	return &Client{}
}

// SetCredential installs the API token. The session is rebuilt lazily on the
// next request.
func (c *Client) SetCredential(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == c.token {
		return
	}
	c.token = token
	c.session = nil
}

// SetNetworkOptions installs the proxy and client identity overrides.
func (c *Client) SetNetworkOptions(opts types.NetworkOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if opts == c.network {
		return
	}
	c.network = opts
	c.session = nil
}

func (c *Client) current() (*discordgo.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}
	if c.token == "" {
		return nil, errors.New("no source credential configured")
	}
	session, err := newSession(c.token, c.network)
	if err != nil {
		return nil, err
	}
	c.session = session
	return session, nil
}

// newSession builds a REST-only discordgo session with the proxy and
// user-agent overrides applied.
func newSession(token string, opts types.NetworkOptions) (*discordgo.Session, error) {
	session, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	client, err := httpClient(opts)
	if err != nil {
		return nil, err
	}
	session.Client = client
	if opts.UserAgent != "" {
		session.UserAgent = opts.UserAgent
	}
	return session, nil
}

func httpClient(opts types.NetworkOptions) (*http.Client, error) {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if opts.ProxyLogin != "" {
			proxyURL.User = url.UserPassword(opts.ProxyLogin, opts.ProxyPassword)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{Transport: transport, Timeout: requestTimeout}, nil
}

// FetchSince returns up to limit messages strictly newer than afterID, oldest
// first ordering is left to the caller.
func (c *Client) FetchSince(ctx context.Context, channelID, afterID string, limit int) ([]types.Message, error) {
	session, err := c.current()
	if err != nil {
		return nil, err
	}
	raw, err := session.ChannelMessages(channelID, limit, "", afterID, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch messages %s: %w", channelID, err)
	}
	return convertMessages(raw), nil
}

// FetchPinned returns the channel's current pinned messages.
func (c *Client) FetchPinned(ctx context.Context, channelID string) ([]types.Message, error) {
	session, err := c.current()
	if err != nil {
		return nil, err
	}
	raw, err := session.ChannelMessagesPinned(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch pinned %s: %w", channelID, err)
	}
	return convertMessages(raw), nil
}

// FetchThreads returns the active threads whose parent is channelID.
func (c *Client) FetchThreads(ctx context.Context, channelID, guildID string) ([]types.Thread, error) {
	session, err := c.current()
	if err != nil {
		return nil, err
	}
	list, err := session.GuildThreadsActive(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch threads %s: %w", guildID, err)
	}
	var threads []types.Thread
	for _, channel := range list.Threads {
		if channel.ParentID != channelID {
			continue
		}
		threads = append(threads, types.Thread{
			ID:       channel.ID,
			Name:     channel.Name,
			ParentID: channel.ParentID,
		})
	}
	return threads, nil
}

// CheckAccessible probes the channel. A 403 or 404 is a definite rejection
// and returns (false, nil); transport failures surface as errors.
func (c *Client) CheckAccessible(ctx context.Context, channelID string) (bool, error) {
	session, err := c.current()
	if err != nil {
		return false, err
	}
	_, err = session.Channel(channelID, discordgo.WithContext(ctx))
	if err == nil {
		return true, nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden, http.StatusNotFound, http.StatusUnauthorized:
			return false, nil
		}
	}
	return false, fmt.Errorf("probe channel %s: %w", channelID, err)
}

// VerifyCredential validates the token against the identity endpoint. Bot
// tokens supplied without the scheme prefix are retried with it, and the
// working form is reported as Normalized.
func (c *Client) VerifyCredential(ctx context.Context, token string) types.CredentialCheck {
	token = strings.TrimSpace(token)
	if token == "" {
		return types.CredentialCheck{Error: "Credential is empty."}
	}

	c.mu.Lock()
	network := c.network
	c.mu.Unlock()

	candidates := []string{token}
	if !strings.HasPrefix(token, "Bot ") {
		candidates = append(candidates, "Bot "+token)
	}

	var lastErr error
	for _, candidate := range candidates {
		session, err := newSession(candidate, network)
		if err != nil {
			return types.CredentialCheck{Error: err.Error()}
		}
		user, err := session.User("@me", discordgo.WithContext(ctx))
		if err != nil {
			lastErr = err
			continue
		}
		check := types.CredentialCheck{OK: true, Display: user.Username}
		if candidate != token {
			check.Normalized = candidate
		}
		return check
	}
	return types.CredentialCheck{Error: credentialError(lastErr)}
}

func credentialError(err error) string {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil &&
		restErr.Response.StatusCode == http.StatusUnauthorized {
		return "Credential was rejected by the source API."
	}
	if err != nil {
		return "Credential check failed: " + err.Error()
	}
	return "Credential check failed."
}

// CheckProxy verifies that the configured proxy can reach the source API at
// all. With no proxy configured the check trivially passes.
func (c *Client) CheckProxy(ctx context.Context, opts types.NetworkOptions) types.ProxyCheck {
	if opts.ProxyURL == "" {
		return types.ProxyCheck{OK: true}
	}
	client, err := httpClient(opts)
	if err != nil {
		return types.ProxyCheck{Error: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gatewayProbeURL, nil)
	if err != nil {
		return types.ProxyCheck{Error: err.Error()}
	}
	if opts.UserAgent != "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return types.ProxyCheck{Error: "Proxy is unreachable: " + err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return types.ProxyCheck{Error: fmt.Sprintf("Source API returned %d through the proxy.", resp.StatusCode)}
	}
	return types.ProxyCheck{OK: true}
}

func convertMessages(raw []*discordgo.Message) []types.Message {
	out := make([]types.Message, 0, len(raw))
	for _, msg := range raw {
		out = append(out, convertMessage(msg))
	}
	return out
}

func convertMessage(msg *discordgo.Message) types.Message {
	converted := types.Message{
		ID:        msg.ID,
		ChannelID: msg.ChannelID,
		GuildID:   msg.GuildID,
		Content:   msg.Content,
		Timestamp: msg.Timestamp.UTC(),
		Type:      int(msg.Type),
	}
	if msg.Author != nil {
		converted.AuthorID = msg.Author.ID
		converted.AuthorName = msg.Author.Username
	}
	for _, attachment := range msg.Attachments {
		converted.Attachments = append(converted.Attachments, types.Attachment{
			Filename:    attachment.Filename,
			URL:         attachment.URL,
			ProxyURL:    attachment.ProxyURL,
			ContentType: attachment.ContentType,
		})
	}
	for _, embed := range msg.Embeds {
		converted.Embeds = append(converted.Embeds, types.Embed{
			Title:       embed.Title,
			Description: embed.Description,
		})
	}
	for _, sticker := range msg.StickerItems {
		converted.Stickers = append(converted.Stickers, sticker.Name)
	}
	if msg.Member != nil && len(msg.Member.Roles) > 0 {
		converted.RoleIDs = make(map[string]bool, len(msg.Member.Roles))
		for _, role := range msg.Member.Roles {
			converted.RoleIDs[role] = true
		}
	}
	return converted
}
