package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var cases = []struct {
	name string
	in   string
	want string
}{
	{"empty", "", ""},
	{"emphasis", "**Bold** _word_", "Bold word"},
	{"inline code", "`code`", "code"},
	{"checklist open", "- [ ] Buy milk", "Buy milk"},
	{"checklist done", "- [x] Done item", "Done item"},
	{"checklist caps", "* [X] Caps", "Caps"},
	{"link", "[Link](http://x)", "Link"},
	{"heading", "# Heading", "Heading"},
	{"heading with emphasis", "## Sub *heading*", "Sub heading"},
	{"image dropped", "![alt](img.png) Ship it", "Ship it"},
	{"fenced code", "```\ncode\n```\nAfter", "After"},
	{"ordered list", "1. First\n2. Second", "First Second"},
	{"blockquote", "> quoted", "quoted"},
	{"html", "<b>bold</b> text", "bold text"},
	{"strikethrough", "~~done~~", "done"},
	{"brackets kept mid-line", "Review [ ] notation", "Review [ ] notation"},
	{"whitespace", "  multiple   spaces  ", "multiple spaces"},
	{"blank lines", "Line one\n\nLine two", "Line one Line two"},
	{"nested list", "- Parent\n  - Child", "Parent Child"},
}

func TestSanitize(t *testing.T) {
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Sanitize(tc.in))
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	for _, tc := range cases {
		once := Sanitize(tc.in)
		assert.Equal(t, once, Sanitize(once), "input %q", tc.in)
	}
}

func TestSanitizeLinkInChecklist(t *testing.T) {
	got := Sanitize("- [ ] Read [the doc](https://example.com/doc) and **reply**")
	assert.Equal(t, "Read the doc and reply", got)
}
