// internal/format/format.go
package format

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/user/forwardmon/internal/types"
)

const separator = "<b>────── ✦ ──────</b>"

var kindIcons = map[types.MessageKind]string{
	types.KindMessage:     "💬",
	types.KindPinned:      "📌",
	types.KindForumThread: "🧵",
}

var kindLabels = map[types.MessageKind]string{
	types.KindMessage:     "New message",
	types.KindPinned:      "Pinned message",
	types.KindForumThread: "New thread",
}

// Render converts a source message into a destination HTML payload respecting
// the mapping's formatting profile. It satisfies types.Renderer.
func Render(msg types.Message, mapping *types.MappingConfig, kind types.MessageKind, threadName string) types.OutboundPayload {
	formatting := mapping.Formatting
	if formatting.MaxLength <= 0 {
		formatting = types.DefaultFormattingOptions()
	}

	imageURLs, files := splitAttachments(msg.Attachments)

	var blocks []string
	if header := buildHeader(mapping.Label, msg.AuthorName, kind, threadName); header != "" {
		blocks = append(blocks, header)
	}
	if content := strings.TrimSpace(msg.Content); content != "" {
		blocks = append(blocks, escape(content))
	}
	for _, embed := range msg.Embeds {
		if block := embedBlock(embed); block != "" {
			blocks = append(blocks, block)
		}
	}
	if block := attachmentsBlock(files, formatting.AttachmentsStyle); block != "" {
		blocks = append(blocks, block)
	}
	if formatting.ShowSourceLink && msg.GuildID != "" && msg.ChannelID != "" && msg.ID != "" {
		url := fmt.Sprintf("https://discord.com/channels/%s/%s/%s", msg.GuildID, msg.ChannelID, msg.ID)
		blocks = append(blocks, fmt.Sprintf(`🔗 <a href="%s">Open in Discord</a>`, url))
	}
	blocks = append(blocks, timestampLine(msg.Timestamp))

	decorated := append([]string{separator}, blocks...)
	decorated = append(decorated, separator)
	combined := strings.Join(decorated, "\n\n")

	chunks := chunkText(combined, formatting.MaxLength, formatting.Ellipsis)
	payload := types.OutboundPayload{
		ParseMode:      "HTML",
		DisablePreview: formatting.DisablePreview,
		ImageURLs:      imageURLs,
	}
	if len(chunks) > 0 {
		payload.Text = chunks[0]
		payload.Extra = chunks[1:]
	}
	return payload
}

func buildHeader(label, author string, kind types.MessageKind, threadName string) string {
	icon, ok := kindIcons[kind]
	if !ok {
		kind = types.KindMessage
		icon = kindIcons[kind]
	}
	var parts []string
	if label != "" {
		parts = append(parts, "📣 <b>"+escape(label)+"</b>")
	}
	parts = append(parts, icon+" <b>"+escape(kindLabels[kind])+"</b>")
	if kind == types.KindForumThread && threadName != "" {
		parts = append(parts, "📝 <b>"+escape(threadName)+"</b>")
	}
	if author != "" {
		parts = append(parts, "👤 <b>"+escape(author)+"</b>")
	}
	return strings.Join(parts, "\n")
}

func embedBlock(embed types.Embed) string {
	var parts []string
	if title := strings.TrimSpace(embed.Title); title != "" {
		parts = append(parts, "<b>"+escape(title)+"</b>")
	}
	if description := strings.TrimSpace(embed.Description); description != "" {
		parts = append(parts, escape(description))
	}
	return strings.Join(parts, "\n")
}

func splitAttachments(attachments []types.Attachment) (images []string, files []types.Attachment) {
	for _, a := range attachments {
		if isImage(a) {
			url := a.URL
			if url == "" {
				url = a.ProxyURL
			}
			if url != "" {
				images = append(images, url)
				continue
			}
		}
		files = append(files, a)
	}
	return images, files
}

func isImage(a types.Attachment) bool {
	if strings.HasPrefix(strings.ToLower(a.ContentType), "image/") {
		return true
	}
	lowered := strings.ToLower(a.Filename)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".webp"} {
		if strings.HasSuffix(lowered, ext) {
			return true
		}
	}
	return false
}

func attachmentsBlock(files []types.Attachment, style string) string {
	if len(files) == 0 || style == "hidden" {
		return ""
	}
	if style == "summary" || style == "" {
		return fmt.Sprintf("📎 <b>Attachments: %d</b>", len(files))
	}
	lines := []string{"📎 <b>Attachments</b>"}
	for _, a := range files {
		name := a.Filename
		if name == "" {
			name = "file"
		}
		url := a.URL
		if url == "" {
			url = a.ProxyURL
		}
		if url != "" {
			lines = append(lines, fmt.Sprintf(`• <a href="%s">%s</a>`, url, escape(name)))
		} else {
			lines = append(lines, "• "+escape(name))
		}
	}
	return strings.Join(lines, "\n")
}

func timestampLine(moment time.Time) string {
	if moment.IsZero() {
		moment = time.Now().UTC()
	}
	return "📅 <b>" + escape(moment.UTC().Format("02.01.2006 15:04 MST")) + "</b>"
}

func escape(text string) string {
	return html.EscapeString(text)
}

// chunkText splits rendered HTML into limit-sized pieces on line boundaries
// where possible. Only the final overflow chunk carries the ellipsis.
func chunkText(text string, limit int, ellipsis string) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	remaining := text
	for len(remaining) > limit {
		cut := strings.LastIndex(remaining[:limit], "\n")
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, strings.TrimSpace(remaining[:cut]))
		remaining = strings.TrimSpace(remaining[cut:])
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	// Hard cap the number of follow-up messages to keep one source message
	// from flooding the destination chat.
	const maxChunks = 4
	if len(chunks) > maxChunks {
		chunks = chunks[:maxChunks]
		chunks[maxChunks-1] += ellipsis
	}
	return chunks
}
