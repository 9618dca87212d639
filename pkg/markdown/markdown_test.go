package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeV2(t *testing.T) {
	assert.Equal(t, `hello world`, EscapeV2("hello world"))
	assert.Equal(t, `a\.b\*c\_d`, EscapeV2("a.b*c_d"))
	assert.Equal(t, `\[link\]\(url\)`, EscapeV2("[link](url)"))
	assert.Equal(t, "", EscapeV2(""))
}

func TestToTelegramHTMLBasicFormatting(t *testing.T) {
	out := ToTelegramHTML("**bold** and *italic* and `code`")
	assert.Contains(t, out, "<b>bold</b>")
	assert.Contains(t, out, "<i>italic</i>")
	assert.Contains(t, out, "<code>code</code>")
	assert.NotContains(t, out, "<p>")
	assert.NotContains(t, out, "<strong>")
}

func TestToTelegramHTMLCodeBlock(t *testing.T) {
	out := ToTelegramHTML("```go\nfmt.Println(1)\nfmt.Println(2)\n```")
	assert.Contains(t, out, "<pre>")
	assert.Contains(t, out, "fmt.Println(1)")
	assert.NotContains(t, out, "class=")
	assert.NotContains(t, out, "<code></code>")
}

func TestToTelegramHTMLLists(t *testing.T) {
	out := ToTelegramHTML("- first\n- second")
	assert.Contains(t, out, "• first")
	assert.Contains(t, out, "• second")
	assert.NotContains(t, out, "<ul>")
	assert.NotContains(t, out, "<li>")
}

func TestToTelegramHTMLStripsUnsupportedTags(t *testing.T) {
	out := ToTelegramHTML("# Heading\n\n## Sub\n\ntext")
	assert.NotContains(t, out, "<h1>")
	assert.NotContains(t, out, "<h2>")
	assert.Contains(t, out, "Heading")
	assert.Contains(t, out, "Sub")
	assert.Contains(t, out, "text")
}

func TestToTelegramHTMLEmpty(t *testing.T) {
	assert.Equal(t, "", ToTelegramHTML(""))
}
