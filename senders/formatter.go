package senders

import (
	"fmt"
	"strings"

	"github.com/adscout/adscout/lib/models"
)

// FormatListing renders one listing as a Telegram Markdown message. The URL
// goes on its own line so the chat client renders a preview card.
func FormatListing(l *models.Listing) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "🆕 *%s*\n", escapeMarkdown(l.Title))
	if l.Price != "" {
		fmt.Fprintf(b, "💰 %s\n", escapeMarkdown(l.Price))
	}
	if l.Location != "" {
		fmt.Fprintf(b, "📍 %s\n", escapeMarkdown(l.Location))
	}
	fmt.Fprintf(b, "🔎 %s (%s)\n", escapeMarkdown(l.Keyword), l.Source)
	fmt.Fprintf(b, "\n%s", l.URL)
	return b.String()
}

func FormatSummary(s Summary) string {
	return fmt.Sprintf(
		"📊 *Search finished: %s*\nKeywords: %d\nFound: %d\nNew: %d\nDuration: %.1fs",
		s.Source, s.Keywords, s.Found, s.New, s.Duration.Seconds(),
	)
}

var markdownEscaper = strings.NewReplacer("*", "\\*", "_", "\\_", "`", "\\`", "[", "\\[")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
