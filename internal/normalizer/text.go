package normalizer

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/chatrelay/chatrelay/internal/models"
)

// strictTextPolicy strips every element from plain text messages.
var strictTextPolicy = bluemonday.StrictPolicy()

// emojiMarkupPolicy allows exactly the inline pictogram element renderEmoji
// produces; any other markup in the message is stripped.
var emojiMarkupPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowAttrs("class", "src", "data-fallback-src", "alt").OnElements("img")
	p.AllowURLSchemes("https")
	return p
}()

// Pictogram CDN mirrors, in preference order. Availability across the
// platform's own mirrors is historically inconsistent, so rendered markup
// carries every source.
var emojiMirrors = []string{
	"https://stickershop.line-scdn.net/sticonshop/v1/sticon/%s/android/%s.png",
	"https://sticon.line-scdn.net/sticonshop/v1/sticon/%s/android/%s.png",
	"https://scdn.line-apps.com/sticonshop/v1/sticon/%s/android/%s.png",
}

// emoticonFallbacks maps literal emoticon tokens the platform fails to
// annotate onto Unicode equivalents. Known upstream gap, not ours.
var emoticonFallbacks = map[string]string{
	"(smile)":    "\U0001F604",
	"(laugh)":    "\U0001F606",
	"(wink)":     "\U0001F609",
	"(sad)":      "\U0001F622",
	"(cry)":      "\U0001F62D",
	"(angry)":    "\U0001F620",
	"(surprise)": "\U0001F632",
	"(heart)":    "❤️",
}

// normalizeText renders text with inline pictogram annotations substituted by
// embeddable image markup, then applies the content-safety filter. With no
// annotations the strict text-only filter applies. Both paths end with the
// emoticon fallback pass.
func normalizeText(text string, emojis []models.Emoji) string {
	var out string
	if len(emojis) == 0 {
		out = sanitizeText(text)
	} else {
		out = substituteEmojis(text, emojis)
	}
	return substituteEmoticons(out)
}

// sanitizeText is the strict text-only filter: control characters are
// dropped (newlines and tabs survive) and every element stripped.
func sanitizeText(text string) string {
	return strictTextPolicy.Sanitize(stripControlChars(text))
}

func stripControlChars(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r < 0x20 && r != '\n' && r != '\t' {
			continue
		}
		if r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// substituteEmojis replaces each annotated span with rendered inline image
// markup, then sanitizes the assembled result under the policy that admits
// only that element. Markup carried in the message text itself is stripped.
func substituteEmojis(text string, emojis []models.Emoji) string {
	runes := []rune(text)

	sorted := make([]models.Emoji, len(emojis))
	copy(sorted, emojis)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var b strings.Builder
	pos := 0
	for _, e := range sorted {
		if e.Index < pos || e.Index > len(runes) || e.Length <= 0 {
			continue
		}
		end := e.Index + e.Length
		if end > len(runes) {
			end = len(runes)
		}
		b.WriteString(stripControlChars(string(runes[pos:e.Index])))
		b.WriteString(renderEmoji(e))
		pos = end
	}
	if pos < len(runes) {
		b.WriteString(stripControlChars(string(runes[pos:])))
	}
	return emojiMarkupPolicy.Sanitize(b.String())
}

// renderEmoji produces the inline image element for one pictogram, carrying
// every mirror URL so renderers can fall back when the primary is down.
func renderEmoji(e models.Emoji) string {
	product := html.EscapeString(e.ProductID)
	id := html.EscapeString(e.EmojiID)

	primary := fmt.Sprintf(emojiMirrors[0], product, id)
	fallbacks := make([]string, 0, len(emojiMirrors)-1)
	for _, m := range emojiMirrors[1:] {
		fallbacks = append(fallbacks, fmt.Sprintf(m, product, id))
	}

	return fmt.Sprintf(
		`<img class="chat-emoji" src="%s" data-fallback-src="%s" alt="">`,
		primary, strings.Join(fallbacks, " "),
	)
}

func substituteEmoticons(text string) string {
	for token, emoji := range emoticonFallbacks {
		text = strings.ReplaceAll(text, token, emoji)
	}
	return text
}
