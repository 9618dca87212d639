package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var markdownV2Specials = "_*[]()~`>#+-=|{}.!"

// EscapeV2 escapes text for Telegram MarkdownV2 parse mode.
func EscapeV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if strings.ContainsRune(markdownV2Specials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ToTelegramHTML converts AI-generated markdown to the HTML subset Telegram
// accepts, so model replies keep their formatting over the control channel.
func ToTelegramHTML(md string) string {
	if md == "" {
		return ""
	}

	html := string(blackfriday.Run([]byte(md), blackfriday.WithExtensions(blackfriday.CommonExtensions)))
	return cleanHTMLForTelegram(html)
}

var (
	paragraphRe  = regexp.MustCompile(`<p>(.*?)</p>`)
	codeBlockRe  = regexp.MustCompile(`(?s)<pre><code(?: class="[^"]*")?>(.*?)</code></pre>`)
	anyTagRe     = regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9]*)(?:\s[^>]*)?>`)
	tagNameRe    = regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9]*)`)
	newlineRunRe = regexp.MustCompile(`\n{3,}`)
)

var supportedTags = []string{"b", "i", "u", "s", "code", "pre", "a", "br"}

func cleanHTMLForTelegram(html string) string {
	html = paragraphRe.ReplaceAllString(html, "$1\n")

	html = strings.ReplaceAll(html, "<strong>", "<b>")
	html = strings.ReplaceAll(html, "</strong>", "</b>")
	html = strings.ReplaceAll(html, "<em>", "<i>")
	html = strings.ReplaceAll(html, "</em>", "</i>")

	html = codeBlockRe.ReplaceAllString(html, "<pre>$1</pre>")

	// Lists become plain bullet lines
	for _, tag := range []string{"<ul>", "</ul>", "<ol>", "</ol>"} {
		html = strings.ReplaceAll(html, tag, "")
	}
	html = strings.ReplaceAll(html, "<li>", "• ")
	html = strings.ReplaceAll(html, "</li>", "\n")

	// Strip anything Telegram doesn't support
	html = anyTagRe.ReplaceAllStringFunc(html, func(match string) string {
		m := tagNameRe.FindStringSubmatch(match)
		if len(m) > 1 {
			for _, supported := range supportedTags {
				if m[1] == supported {
					return match
				}
			}
		}
		return ""
	})

	html = newlineRunRe.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}
