package render

import (
	"html"
	"strings"
)

// Telegram limits, counted in UTF-16 code units.
const (
	MaxTextLen    = 4096
	MaxCaptionLen = 1024

	// transcriptEntryLimit keeps any single history entry, with its header,
	// inside one message.
	transcriptEntryLimit = 3500
	nameLimit            = 64
)

const ellipsis = "…"

// Len measures s the way Telegram applies its length limits.
func Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// clipEscaped HTML-escapes s and cuts it on a rune boundary so the result
// is at most limit units long, ellipsis included.
func clipEscaped(s string, limit int) string {
	escaped := html.EscapeString(s)
	if Len(escaped) <= limit {
		return escaped
	}

	budget := limit - Len(ellipsis)
	var sb strings.Builder
	n := 0
	for _, r := range s {
		e := html.EscapeString(string(r))
		w := Len(e)
		if n+w > budget {
			break
		}
		sb.WriteString(e)
		n += w
	}
	sb.WriteString(ellipsis)
	return sb.String()
}
