// Package chathistory persists saved chat sessions per owner. A session is an
// opaque JSON document addressed by (owner scope key, title).
package chathistory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pdfchat/pkg/domain"
)

var (
	ErrNotFound    = errors.New("chat history not found")
	ErrInvalidKey  = errors.New("invalid owner or title")
	ErrInvalidData = errors.New("chat history must be valid JSON")
)

// cleared is what Clear leaves behind.
var cleared = json.RawMessage("[]")

// Store is implemented by FileStore and RedisStore.
type Store interface {
	// List returns the saved titles of owner in ascending order.
	List(ctx context.Context, owner string) ([]string, error)
	Load(ctx context.Context, owner, title string) (json.RawMessage, error)
	// Save creates or overwrites a session.
	Save(ctx context.Context, owner, title string, data json.RawMessage) error
	// Clear empties an existing session to "[]".
	Clear(ctx context.Context, owner, title string) error
	Delete(ctx context.Context, owner, title string) error
}

// validKey rejects parts that could escape an owner directory or collide
// with the storage layout.
func validKey(parts ...string) error {
	for _, p := range parts {
		switch {
		case strings.TrimSpace(p) == "", p == ".", p == "..":
			return ErrInvalidKey
		case strings.ContainsAny(p, `/\`), strings.ContainsRune(p, 0):
			return ErrInvalidKey
		}
	}
	return nil
}

func validData(data json.RawMessage) error {
	if len(bytes.TrimSpace(data)) == 0 || !json.Valid(data) {
		return ErrInvalidData
	}
	return nil
}

// DecodeSession reads a stored blob as a ChatSession. A cleared blob yields
// an empty session with the given title.
func DecodeSession(title string, data json.RawMessage) (domain.ChatSession, error) {
	session := domain.ChatSession{Title: title, Turns: []domain.Turn{}, FileNames: []string{}}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return session, nil
	}
	if trimmed[0] == '[' {
		var turns []domain.Turn
		if err := json.Unmarshal(trimmed, &turns); err != nil {
			return session, fmt.Errorf("decode chat turns: %w", err)
		}
		if turns != nil {
			session.Turns = turns
		}
		return session, nil
	}
	if err := json.Unmarshal(trimmed, &session); err != nil {
		return session, fmt.Errorf("decode chat session: %w", err)
	}
	if session.Title == "" {
		session.Title = title
	}
	if session.Turns == nil {
		session.Turns = []domain.Turn{}
	}
	if session.FileNames == nil {
		session.FileNames = []string{}
	}
	return session, nil
}

// EncodeSession renders a session the way Save expects it.
func EncodeSession(session domain.ChatSession) (json.RawMessage, error) {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return nil, err
	}
	return data, nil
}
