package rag

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidK     = errors.New("k must not be negative")
	ErrEmptyQuery   = errors.New("query is empty")
	ErrEmptyMessage = errors.New("message is empty")
	ErrEmptyAnswer  = errors.New("answer is empty")
)

// ExtractionError reports that text could not be extracted from a file.
type ExtractionError struct {
	FileName string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.FileName, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// StorageError reports that the raw file could not be persisted.
type StorageError struct {
	FileName string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s: %v", e.FileName, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// EmptyDocumentError reports an ingestion that produced no usable passage.
type EmptyDocumentError struct {
	FileName string
	Chunks   int
	Failed   int
}

func (e *EmptyDocumentError) Error() string {
	if e.Chunks == 0 {
		return fmt.Sprintf("document %s has no text to index", e.FileName)
	}
	return fmt.Sprintf("document %s: all %d passages failed to embed", e.FileName, e.Failed)
}

// MalformedReplyError reports model output that failed the schema parse.
// Raw holds the unmodified model output.
type MalformedReplyError struct {
	Raw string
	Err error
}

func (e *MalformedReplyError) Error() string {
	return fmt.Sprintf("malformed model reply: %v", e.Err)
}

func (e *MalformedReplyError) Unwrap() error { return e.Err }

// NoContextFoundError reports that the citation pass retrieved nothing.
type NoContextFoundError struct {
	Question  string
	FileNames []string
}

func (e *NoContextFoundError) Error() string {
	return "no context found for citation"
}
