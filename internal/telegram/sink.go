// internal/telegram/sink.go

// Package telegram holds the destination side: the sink that delivers
// rendered payloads and the admin controller that drives configuration.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/forwardmon/internal/types"
)

// Sink delivers rendered payloads to Telegram chats and topics. It implements
// types.SinkFeed.
type Sink struct {
	bot *tgbotapi.BotAPI
}

// NewSink wraps an existing bot client.
func NewSink(bot *tgbotapi.BotAPI) *Sink {
	return &Sink{bot: bot}
}

// Send delivers the payload to chatID, routing to a forum topic when threadID
// is non-zero. Extra chunks follow the main message in order; image URLs are
// sent as photos after the text.
func (s *Sink) Send(ctx context.Context, chatID string, payload types.OutboundPayload, threadID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.sendText(chatID, payload.Text, payload, threadID); err != nil {
		return err
	}
	for _, chunk := range payload.Extra {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.sendText(chatID, chunk, payload, threadID); err != nil {
			return err
		}
	}
	for _, imageURL := range payload.ImageURLs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.sendPhoto(chatID, imageURL, threadID); err != nil {
			// A broken image link should not fail the whole forward.
			slog.Warn("send photo failed", "chat", chatID, "error", err)
		}
	}
	return nil
}

// sendText issues sendMessage through the raw API so message_thread_id is
// available; the typed config in the client library predates forum topics.
func (s *Sink) sendText(chatID, text string, payload types.OutboundPayload, threadID int) error {
	params := tgbotapi.Params{
		"chat_id": chatID,
		"text":    text,
	}
	if payload.ParseMode != "" {
		params["parse_mode"] = payload.ParseMode
	}
	if payload.DisablePreview {
		params["disable_web_page_preview"] = "true"
	}
	if threadID != 0 {
		params["message_thread_id"] = strconv.Itoa(threadID)
	}
	if _, err := s.bot.MakeRequest("sendMessage", params); err != nil {
		if payload.ParseMode == "" {
			return fmt.Errorf("send message: %w", err)
		}
		// Malformed markup from source content; retry as plain text.
		delete(params, "parse_mode")
		if _, err := s.bot.MakeRequest("sendMessage", params); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func (s *Sink) sendPhoto(chatID, imageURL string, threadID int) error {
	params := tgbotapi.Params{
		"chat_id": chatID,
		"photo":   imageURL,
	}
	if threadID != 0 {
		params["message_thread_id"] = strconv.Itoa(threadID)
	}
	if _, err := s.bot.MakeRequest("sendPhoto", params); err != nil {
		return fmt.Errorf("send photo: %w", err)
	}
	return nil
}
