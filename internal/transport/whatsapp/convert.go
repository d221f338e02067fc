package whatsapp

import (
	"html"
	"regexp"
	"strings"
)

var (
	reAnchor = regexp.MustCompile(`(?is)<a\s+href="([^"]+)">(.*?)</a>`)
	reBold   = regexp.MustCompile(`(?s)<b>(.*?)</b>`)
	reItalic = regexp.MustCompile(`(?s)<i>(.*?)</i>`)
	reCode   = regexp.MustCompile("(?s)<code>(.*?)</code>")
	reTag    = regexp.MustCompile(`<[^>]+>`)
)

// FromTelegramHTML converts a report written in Telegram HTML into
// WhatsApp-compatible plain text with basic formatting markers.
func FromTelegramHTML(text string) string {
	if text == "" {
		return ""
	}
	s := reAnchor.ReplaceAllString(text, "$2 ($1)")
	s = reBold.ReplaceAllString(s, "*$1*")
	s = reItalic.ReplaceAllString(s, "_${1}_")
	s = reCode.ReplaceAllString(s, "`$1`")
	s = reTag.ReplaceAllString(s, "")
	return strings.TrimSpace(html.UnescapeString(s))
}
