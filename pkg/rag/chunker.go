package rag

import (
	"fmt"
	"strings"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// separators in preference order. A separator stays attached to the end of
// the piece it terminates so no character is lost.
var separators = []string{"\n\n", "\n", ". ", "! ", "? "}

// Span is one chunk with its rune offsets into the source text.
type Span struct {
	Start int
	End   int
	Text  string
}

// Chunker splits text into overlapping passages, cutting at the most
// natural boundary available.
type Chunker struct {
	size    int
	overlap int
}

type ChunkerOption func(*Chunker)

func WithChunkSize(n int) ChunkerOption {
	return func(c *Chunker) { c.size = n }
}

func WithOverlap(n int) ChunkerOption {
	return func(c *Chunker) { c.overlap = n }
}

func NewChunker(opts ...ChunkerOption) (*Chunker, error) {
	c := &Chunker{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", c.size)
	}
	if c.overlap < 0 || c.overlap >= c.size {
		return nil, fmt.Errorf("chunk overlap must be within [0,%d), got %d", c.size, c.overlap)
	}
	return c, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk returns the chunk texts of Split.
func (c *Chunker) Chunk(text string) []string {
	spans := c.Split(text)
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Text
	}
	return out
}

// Split returns chunks of at most Size runes. Consecutive chunks share at
// most Overlap runes.
func (c *Chunker) Split(text string) []Span {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	pieces := c.splitRange(runes, piece{0, len(runes)}, 0)
	return c.merge(runes, pieces)
}

// piece is a half-open rune range [start, end).
type piece struct {
	start, end int
}

func (p piece) len() int { return p.end - p.start }

// splitRange breaks r into pieces no longer than size, trying separators
// from level onwards.
func (c *Chunker) splitRange(runes []rune, r piece, level int) []piece {
	if r.len() <= c.size {
		return []piece{r}
	}
	for i := level; i < len(separators); i++ {
		parts := splitKeep(runes, r, []rune(separators[i]))
		if len(parts) <= 1 {
			continue
		}
		var out []piece
		for _, p := range parts {
			if p.len() <= c.size {
				out = append(out, p)
				continue
			}
			out = append(out, c.splitRange(runes, p, i+1)...)
		}
		return out
	}
	return c.hardCut(r)
}

// hardCut slices r into windows of size runes stepping by size-overlap.
// Every window but the last is full, so merge emits each one on its own.
func (c *Chunker) hardCut(r piece) []piece {
	var out []piece
	step := c.size - c.overlap
	for start := r.start; start < r.end; start += step {
		end := start + c.size
		if end > r.end {
			end = r.end
		}
		out = append(out, piece{start, end})
		if end == r.end {
			break
		}
	}
	return out
}

// splitKeep splits r on sep, keeping sep at the end of each piece.
func splitKeep(runes []rune, r piece, sep []rune) []piece {
	var out []piece
	start := r.start
	for i := r.start; i+len(sep) <= r.end; {
		if matchAt(runes, i, sep) {
			end := i + len(sep)
			out = append(out, piece{start, end})
			start = end
			i = end
			continue
		}
		i++
	}
	if start < r.end {
		out = append(out, piece{start, r.end})
	}
	return out
}

func matchAt(runes []rune, i int, sep []rune) bool {
	for j, s := range sep {
		if runes[i+j] != s {
			return false
		}
	}
	return true
}

// merge packs consecutive pieces into windows of at most size runes. When a
// window is emitted, pieces are dropped from its front until what remains
// fits inside the overlap and leaves room for the next piece; the remainder
// starts the next window. A window holding only carried-over pieces is
// never emitted on its own.
func (c *Chunker) merge(runes []rune, pieces []piece) []Span {
	var (
		spans  []Span
		window []piece
		total  int
		fresh  bool
	)
	emit := func() {
		if !fresh || len(window) == 0 {
			return
		}
		fresh = false
		start, end := window[0].start, window[len(window)-1].end
		if strings.TrimSpace(string(runes[start:end])) == "" {
			return
		}
		spans = append(spans, Span{Start: start, End: end, Text: string(runes[start:end])})
	}
	for _, p := range pieces {
		if len(window) > 0 && total+p.len() > c.size {
			emit()
			for len(window) > 0 && (total > c.overlap || total+p.len() > c.size) {
				total -= window[0].len()
				window = window[1:]
			}
		}
		window = append(window, p)
		total += p.len()
		fresh = true
	}
	emit()
	return spans
}
