package search

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Engines wrap matches in these private-use runes; Highlight turns them
// into <mark> tags once the comment text is escaped.
const (
	matchStart = "\uE000"
	matchEnd   = "\uE001"
)

var snippetPolicy = bluemonday.NewPolicy().AllowElements("mark")

// Highlight renders a raw engine snippet as HTML. Comment text is escaped,
// so the only elements in the result are <mark> pairs.
func Highlight(raw string) string {
	escaped := html.EscapeString(raw)
	escaped = strings.NewReplacer(matchStart, "<mark>", matchEnd, "</mark>").Replace(escaped)
	return snippetPolicy.Sanitize(escaped)
}
