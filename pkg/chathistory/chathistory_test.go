package chathistory

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"pdfchat/pkg/domain"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s, err := NewRedisStore(client, "test:history")
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	return s
}

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	return s
}

func TestStores(t *testing.T) {
	for name, build := range map[string]func(*testing.T) Store{
		"file":  func(t *testing.T) Store { return newFileStore(t) },
		"redis": func(t *testing.T) Store { return newRedisStore(t) },
	} {
		t.Run(name, func(t *testing.T) {
			t.Run("lifecycle", func(t *testing.T) { testLifecycle(t, build(t)) })
			t.Run("missing", func(t *testing.T) { testMissing(t, build(t)) })
			t.Run("invalid", func(t *testing.T) { testInvalid(t, build(t)) })
		})
	}
}

func testLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	blob := json.RawMessage(`{"title":"Chat 1","chatHistory":[{"sender":"user","text":"hi"}]}`)

	if err := s.Save(ctx, "alice@example.com", "Chat 1", blob); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, "alice@example.com", "Another", json.RawMessage(`[]`)); err != nil {
		t.Fatalf("save second: %v", err)
	}
	if err := s.Save(ctx, "bob@example.com", "Chat 1", json.RawMessage(`[]`)); err != nil {
		t.Fatalf("save other owner: %v", err)
	}

	titles, err := s.List(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if want := []string{"Another", "Chat 1"}; !reflect.DeepEqual(titles, want) {
		t.Fatalf("titles = %v, want %v", titles, want)
	}

	got, err := s.Load(ctx, "alice@example.com", "Chat 1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != string(blob) {
		t.Fatalf("load = %s, want %s", got, blob)
	}

	if err := s.Clear(ctx, "alice@example.com", "Chat 1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err = s.Load(ctx, "alice@example.com", "Chat 1")
	if err != nil {
		t.Fatalf("load after clear: %v", err)
	}
	if string(got) != "[]" {
		t.Fatalf("cleared = %s, want []", got)
	}

	if err := s.Delete(ctx, "alice@example.com", "Chat 1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Load(ctx, "alice@example.com", "Chat 1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("load after delete err = %v, want ErrNotFound", err)
	}
	if _, err := s.Load(ctx, "bob@example.com", "Chat 1"); err != nil {
		t.Fatalf("other owner affected: %v", err)
	}
}

func testMissing(t *testing.T, s Store) {
	ctx := context.Background()
	titles, err := s.List(ctx, "nobody")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(titles) != 0 {
		t.Fatalf("titles = %v, want none", titles)
	}
	if _, err := s.Load(ctx, "nobody", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("load err = %v, want ErrNotFound", err)
	}
	if err := s.Clear(ctx, "nobody", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("clear err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "nobody", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete err = %v, want ErrNotFound", err)
	}
}

func testInvalid(t *testing.T, s Store) {
	ctx := context.Background()
	for _, key := range [][2]string{{"", "t"}, {"o", " "}, {"..", "t"}, {"o", "../x"}, {"a/b", "t"}} {
		if err := s.Save(ctx, key[0], key[1], json.RawMessage(`[]`)); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("save %q err = %v, want ErrInvalidKey", key, err)
		}
	}
	if err := s.Save(ctx, "o", "t", json.RawMessage(`{not json`)); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("save invalid json err = %v, want ErrInvalidData", err)
	}
}

func TestFileStoreLayout(t *testing.T) {
	base := t.TempDir()
	s, err := NewFileStore(base)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := s.Save(context.Background(), "alice", "Paper notes", json.RawMessage(`[]`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "alice", "Paper notes.json")); err != nil {
		t.Fatalf("expected session file: %v", err)
	}
}

func TestDecodeSession(t *testing.T) {
	session, err := DecodeSession("Chat", json.RawMessage(`[]`))
	if err != nil {
		t.Fatalf("decode cleared: %v", err)
	}
	if session.Title != "Chat" || session.Turns == nil || len(session.Turns) != 0 {
		t.Fatalf("cleared session = %+v", session)
	}

	in := domain.ChatSession{
		Title:         "Chat",
		FileNames:     []string{"a.pdf"},
		Turns:         []domain.Turn{{Sender: domain.SenderUser, Text: "hello"}},
		ContextWindow: 3,
		Model:         "gpt-4o",
	}
	data, err := EncodeSession(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeSession("ignored", data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("decoded = %+v, want %+v", out, in)
	}

	if _, err := DecodeSession("x", json.RawMessage(`"text"`)); err == nil {
		t.Fatalf("expected error for a JSON string")
	}
}
