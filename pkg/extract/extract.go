package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoText is returned when a file yields no readable text.
var ErrNoText = errors.New("no text extracted")

// Page is the text of one physical page (PDF) or section (EPUB). Number is
// 1-based.
type Page struct {
	Number int
	Text   string
}

// Extractor turns uploaded bytes into normalised page text.
type Extractor struct {
	usePdftotext bool
	timeout      time.Duration
}

type Option func(*Extractor)

// WithPdftotext toggles the poppler pdftotext strategy. When disabled, or
// when the binary is missing, the pure-Go reader is used.
func WithPdftotext(enabled bool) Option {
	return func(e *Extractor) { e.usePdftotext = enabled }
}

// WithTimeout bounds external tool runs.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func New(opts ...Option) *Extractor {
	e := &Extractor{usePdftotext: true, timeout: 2 * time.Minute}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract dispatches on the file extension. Pages that normalise to empty
// text are dropped; an input with no text at all returns ErrNoText.
func (e *Extractor) Extract(ctx context.Context, fileName string, data []byte) ([]Page, error) {
	var (
		pages []Page
		err   error
	)
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		pages, err = e.extractPDF(ctx, data)
	case ".epub":
		pages, err = extractEPUB(data)
	case ".html", ".htm", ".xhtml":
		pages, err = extractHTML(data)
	default:
		pages = []Page{{Number: 1, Text: string(data)}}
	}
	if err != nil {
		return nil, err
	}
	out := make([]Page, 0, len(pages))
	for _, p := range pages {
		p.Text = normalizeText(p.Text)
		if p.Text == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", fileName, ErrNoText)
	}
	return out, nil
}
