package rag

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

const (
	quoteDelim   = "'''"
	markerPrefix = "###"
)

type SegmentKind string

const (
	SegmentText   SegmentKind = "text"
	SegmentQuote  SegmentKind = "quote"
	SegmentMarker SegmentKind = "marker"
)

// Segment is one lexed piece of annotated text. Page and FileName are set
// for markers only.
type Segment struct {
	Kind     SegmentKind `json:"kind"`
	Text     string      `json:"text"`
	Page     int         `json:"page,omitempty"`
	FileName string      `json:"fileName,omitempty"`
}

// Citation pairs a quoted span with the marker that precedes it.
type Citation struct {
	Quote    string `json:"quote"`
	Page     int    `json:"page"`
	FileName string `json:"fileName"`
}

// FormatMarker renders the source marker for a page of a file.
func FormatMarker(page int, fileName string) string {
	return fmt.Sprintf("%s%d-%s", markerPrefix, page, fileName)
}

// ParseAnnotated lexes annotator output into text, quote and marker
// segments. knownFiles lets markers match file names containing spaces;
// the longest known name wins. Unknown names end at whitespace or an
// apostrophe, minus trailing punctuation. Unterminated quotes and malformed
// markers stay text.
func ParseAnnotated(text string, knownFiles ...string) []Segment {
	known := append([]string(nil), knownFiles...)
	sort.SliceStable(known, func(i, j int) bool { return len(known[i]) > len(known[j]) })

	var (
		segments []Segment
		buf      strings.Builder
	)
	flush := func() {
		if buf.Len() > 0 {
			segments = append(segments, Segment{Kind: SegmentText, Text: buf.String()})
			buf.Reset()
		}
	}

	for i := 0; i < len(text); {
		switch {
		case strings.HasPrefix(text[i:], quoteDelim):
			end := strings.Index(text[i+len(quoteDelim):], quoteDelim)
			if end < 0 {
				buf.WriteString(text[i:])
				i = len(text)
				continue
			}
			content := text[i+len(quoteDelim) : i+len(quoteDelim)+end]
			flush()
			if m, n, ok := parseMarker(strings.TrimSpace(content), known); ok && n == len(strings.TrimSpace(content)) {
				segments = append(segments, m)
			} else {
				segments = append(segments, Segment{Kind: SegmentQuote, Text: content})
			}
			i += len(quoteDelim)*2 + end
		case strings.HasPrefix(text[i:], markerPrefix):
			m, n, ok := parseMarker(text[i:], known)
			if !ok {
				buf.WriteString(markerPrefix)
				i += len(markerPrefix)
				continue
			}
			flush()
			segments = append(segments, m)
			i += n
		default:
			buf.WriteByte(text[i])
			i++
		}
	}
	flush()
	return segments
}

// Citations returns every quote paired with the nearest preceding marker.
// Quotes before any marker carry no source.
func Citations(text string, knownFiles ...string) []Citation {
	var (
		out     []Citation
		current Segment
	)
	for _, seg := range ParseAnnotated(text, knownFiles...) {
		switch seg.Kind {
		case SegmentMarker:
			current = seg
		case SegmentQuote:
			out = append(out, Citation{Quote: seg.Text, Page: current.Page, FileName: current.FileName})
		}
	}
	if out == nil {
		out = []Citation{}
	}
	return out
}

// parseMarker reads "###{page}-{filename}" at the start of s and returns
// the segment and the number of bytes consumed.
func parseMarker(s string, known []string) (Segment, int, bool) {
	if !strings.HasPrefix(s, markerPrefix) {
		return Segment{}, 0, false
	}
	pos := len(markerPrefix)
	digits := pos
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}
	if digits == pos || digits >= len(s) || s[digits] != '-' {
		return Segment{}, 0, false
	}
	page, err := strconv.Atoi(s[pos:digits])
	if err != nil {
		return Segment{}, 0, false
	}
	rest := s[digits+1:]

	name := ""
	for _, k := range known {
		if k != "" && strings.HasPrefix(rest, k) {
			name = k
			break
		}
	}
	if name == "" {
		end := strings.IndexFunc(rest, func(r rune) bool { return unicode.IsSpace(r) || r == '\'' })
		if end < 0 {
			end = len(rest)
		}
		name = strings.TrimRight(rest[:end], ".,;:!?)]}\"")
	}
	if name == "" {
		return Segment{}, 0, false
	}
	n := digits + 1 + len(name)
	return Segment{Kind: SegmentMarker, Text: s[:n], Page: page, FileName: name}, n, true
}
