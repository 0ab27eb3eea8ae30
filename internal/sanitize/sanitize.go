// Package sanitize cleans free text that arrives from AI tool calls before
// it is stored on a node or a suspect link. Stored text is later returned
// to the assistant verbatim, so control characters, XML/HTML tags and code
// fences are stripped while the wording is kept.
package sanitize

import (
	"regexp"
	"strings"
)

// MaxTextLength is the maximum stored length of multi-line text such as
// requirement text, rationale or descriptions.
const MaxTextLength = 4000

// MaxLabelLength is the maximum stored length of single-line fields such
// as names, requirement IDs and resolver names.
const MaxLabelLength = 200

var (
	// reXMLTag matches XML/HTML tags including those with attributes and self-closing tags.
	// It also matches XML processing instructions like <?xml ...?>.
	reXMLTag = regexp.MustCompile(`<[/?!]?[a-zA-Z][a-zA-Z0-9]*(?:\s+[^>]*)?/?>|<\?[^?]*\?>`)

	// reTripleBacktick matches triple (or more) backtick sequences used in code fences.
	reTripleBacktick = regexp.MustCompile("```+")

	reExcessiveNewlines = regexp.MustCompile(`\n{3,}`)

	reWhitespaceRun = regexp.MustCompile(`\s+`)
)

// Text sanitizes multi-line text. The pipeline runs in this order:
//  1. Strip null bytes and ASCII control characters (except \n, \t)
//  2. Strip XML/HTML tags
//  3. Collapse triple backticks to single backtick
//  4. Collapse excessive newlines (3+ -> 2)
//  5. Trim leading/trailing whitespace
//  6. Truncate to MaxTextLength
func Text(input string) string {
	if input == "" {
		return ""
	}

	s := stripControlChars(input, true)
	s = reXMLTag.ReplaceAllString(s, "")
	s = reTripleBacktick.ReplaceAllString(s, "`")
	s = reExcessiveNewlines.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)
	return truncate(s, MaxTextLength)
}

// Label sanitizes a single-line field: control characters and tags are
// removed, whitespace runs collapse to one space, and the result is cut to
// MaxLabelLength.
func Label(input string) string {
	if input == "" {
		return ""
	}

	s := stripControlChars(input, false)
	s = reXMLTag.ReplaceAllString(s, "")
	s = reWhitespaceRun.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	return truncate(s, MaxLabelLength)
}

// Labels applies Label to each element and drops the ones left empty.
func Labels(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = Label(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// stripControlChars removes ASCII control characters (0x00-0x1F). Newline
// and tab survive when keepLayout is set; otherwise they become spaces.
func stripControlChars(s string, keepLayout bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			if keepLayout {
				b.WriteRune(r)
			} else {
				b.WriteByte(' ')
			}
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !runeStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func runeStart(b byte) bool {
	return b&0xC0 != 0x80
}
