package extract

import (
	"strings"
	"unicode"
)

var invisibleRunes = map[rune]bool{
	'\uFEFF': true,
	'\u200B': true,
	'\u200C': true,
	'\u200D': true,
	'\u2060': true,
	'\u00AD': true,
}

// normalizeText cleans extracted text while keeping line and paragraph
// structure: whitespace runs inside a line collapse to one space, blank-line
// runs collapse to a single blank line.
func normalizeText(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case invisibleRunes[r]:
			return -1
		case r == '\t' || r == '\x00' || r == '\f':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, text)

	lines := strings.Split(text, "\n")
	var b strings.Builder
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank = b.Len() > 0
			continue
		}
		if b.Len() > 0 {
			if blank {
				b.WriteString("\n\n")
			} else {
				b.WriteByte('\n')
			}
		}
		b.WriteString(line)
		blank = false
	}
	return b.String()
}
