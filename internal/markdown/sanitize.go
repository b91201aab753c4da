// Package markdown turns Craft task markdown into plain one-line display text.
package markdown

import (
	"regexp"
	"strings"
)

// rule is one regex rewrite of the sanitizer pipeline.
type rule struct {
	re   *regexp.Regexp
	repl string
}

// pipeline runs in order: later rules would corrupt syntax that earlier rules
// still need to see (e.g. list markers must go before bare '*' is stripped).
var pipeline = []rule{
	// Fenced code blocks.
	{regexp.MustCompile("(?s)```.*?```"), " "},
	// Inline code spans keep their content.
	{regexp.MustCompile("`([^`]*)`"), "${1}"},
	// Images disappear entirely.
	{regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`), ""},
	// Links keep their text.
	{regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`), "${1}"},
	// Checklist items: "- [ ] task", "* [x] task".
	{regexp.MustCompile(`(?m)^\s{0,3}[-*+]\s+\[[ xX]\]\s+`), ""},
	// Unordered list markers.
	{regexp.MustCompile(`(?m)^\s{0,3}[-*+]\s+`), ""},
	// Ordered list markers.
	{regexp.MustCompile(`(?m)^\s{0,3}\d+\.\s+`), ""},
	// Headings.
	{regexp.MustCompile(`(?m)^\s{0,3}#+\s+`), ""},
	// Blockquotes.
	{regexp.MustCompile(`(?m)^>\s+`), ""},
	// Emphasis, strikethrough and stray heading characters.
	{regexp.MustCompile(`[*_~#]`), ""},
	// HTML-ish tags.
	{regexp.MustCompile(`<[^>]+>`), ""},
	// Whitespace normalisation.
	{regexp.MustCompile(`\n+`), " "},
	{regexp.MustCompile(`\s{2,}`), " "},
}

// Sanitize strips markdown formatting from raw and returns a single trimmed
// line. It never fails; empty input yields empty output.
func Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	out := raw
	for _, r := range pipeline {
		out = r.re.ReplaceAllString(out, r.repl)
	}
	return strings.TrimSpace(out)
}
