package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"campfire/cmd/internal/ids"
)

// These tests run against a real Postgres and are skipped unless
// CAMPFIRE_TEST_DATABASE_URL is set. Each run creates and drops its own
// schema, so a shared dev database is safe to point at.

func TestPostgresStoreAppendAndFetchPage(t *testing.T) {
	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	defer mustDropSchema(t, pool, schema)
	mustApplyMessagesSchema(t, pool, schema)

	store := mustNewPostgresStore(t, pool, schema)
	room := newTestRoom(t)
	ctx := context.Background()

	var all []Message
	for i := 0; i < 7; i++ {
		msg, err := store.Append(ctx, AppendInput{
			Room:   room,
			Author: Author{ID: "u1", DisplayName: "Alice"},
			Body:   fmt.Sprintf("message %d", i),
		})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if !msg.Committed() {
			t.Fatalf("Append %d returned uncommitted message", i)
		}
		if i > 0 && *msg.OrderingKey <= *all[i-1].OrderingKey {
			t.Fatalf("ordering key not strictly increasing: %d after %d", *msg.OrderingKey, *all[i-1].OrderingKey)
		}
		all = append(all, msg)
	}

	page, err := store.FetchPage(ctx, room, 3, nil)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page) != 3 || page[0].ID != all[6].ID || page[2].ID != all[4].ID {
		t.Fatalf("first page = %+v", page)
	}
	if page[0].Author.DisplayName != "Alice" {
		t.Fatalf("author lost: %+v", page[0].Author)
	}

	older, err := store.FetchPage(ctx, room, 3, page[2].OrderingKey)
	if err != nil {
		t.Fatalf("FetchPage older: %v", err)
	}
	if len(older) != 3 || older[0].ID != all[3].ID {
		t.Fatalf("older page = %+v", older)
	}

	last, err := store.FetchPage(ctx, room, 3, older[2].OrderingKey)
	if err != nil {
		t.Fatalf("FetchPage last: %v", err)
	}
	if len(last) != 1 || last[0].ID != all[0].ID {
		t.Fatalf("last page = %+v", last)
	}
}

func TestPostgresStoreMutations(t *testing.T) {
	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	defer mustDropSchema(t, pool, schema)
	mustApplyMessagesSchema(t, pool, schema)

	store := mustNewPostgresStore(t, pool, schema)
	room := newTestRoom(t)
	ctx := context.Background()

	msg, err := store.Append(ctx, AppendInput{Room: room, Author: Author{ID: "u1"}, Body: "original"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	edited, err := store.Edit(ctx, room, msg.ID, "edited")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if edited.Body != "edited" {
		t.Fatalf("edited body = %q", edited.Body)
	}

	if err := store.Annotate(ctx, room, msg.ID, "General Chat", "A short title"); err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if err := store.Delete(ctx, room, msg.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	page, err := store.FetchPage(ctx, room, 10, nil)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("page = %d messages, want 1 (tombstone keeps its row)", len(page))
	}
	got := page[0]
	if !got.Deleted || got.Category != "General Chat" || got.Title != "A short title" {
		t.Fatalf("row after mutations = %+v", got)
	}

	if err := store.Remove(ctx, room, msg.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	page, err = store.FetchPage(ctx, room, 10, nil)
	if err != nil {
		t.Fatalf("FetchPage after remove: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("page = %d messages after remove, want 0", len(page))
	}

	if _, err := store.Edit(ctx, room, "missing", "x"); err == nil {
		t.Fatal("Edit on missing message succeeded")
	}
}

func TestPostgresStoreSubscribe(t *testing.T) {
	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	defer mustDropSchema(t, pool, schema)
	mustApplyMessagesSchema(t, pool, schema)

	store := mustNewPostgresStore(t, pool, schema)
	room := newTestRoom(t)
	ctx := context.Background()

	seed, err := store.Append(ctx, AppendInput{Room: room, Author: Author{ID: "u1"}, Body: "seed"})
	if err != nil {
		t.Fatalf("Append seed: %v", err)
	}

	var mu sync.Mutex
	var got []Change
	stop, err := store.Subscribe(ctx, room, 10, func(ch Change) {
		mu.Lock()
		got = append(got, ch)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	mu.Lock()
	if len(got) != 1 || got[0].Kind != Added || got[0].Message.ID != seed.ID {
		mu.Unlock()
		t.Fatalf("snapshot replay = %+v", got)
	}
	mu.Unlock()

	live, err := store.Append(ctx, AppendInput{Room: room, Author: Author{ID: "u2"}, Body: "live"})
	if err != nil {
		t.Fatalf("Append live: %v", err)
	}
	waitFor(t, "live notification", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
	mu.Lock()
	if got[1].Kind != Added || got[1].Message.ID != live.ID || got[1].Message.Body != "live" {
		mu.Unlock()
		t.Fatalf("live event = %+v", got[1])
	}
	mu.Unlock()

	if err := store.Delete(ctx, room, live.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	waitFor(t, "tombstone notification", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3 && got[2].Kind == Modified && got[2].Message.Deleted
	})

	// After stop no further events arrive.
	stop()
	stop()
	if _, err := store.Append(ctx, AppendInput{Room: room, Author: Author{ID: "u3"}, Body: "after stop"}); err != nil {
		t.Fatalf("Append after stop: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	n := len(got)
	mu.Unlock()
	if n != 3 {
		t.Fatalf("events after stop = %d, want 3", n)
	}
}

// ---- harness ----

func mustNewPostgresStore(t *testing.T, pool *pgxpool.Pool, schema string) *PostgresStore {
	t.Helper()
	s, err := NewPostgresStore(nil, pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("CAMPFIRE_TEST_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: CAMPFIRE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse CAMPFIRE_TEST_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (CAMPFIRE_TEST_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "campfire_it_" + strings.ToLower(ids.MustULID(time.Now()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplyMessagesSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	table := pgIdent(schema, "messages")
	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  room_key       TEXT        NOT NULL,
  id             TEXT        NOT NULL,
  author_id      TEXT        NOT NULL,
  author_name    TEXT        NOT NULL DEFAULT '',
  author_avatar  TEXT        NOT NULL DEFAULT '',
  body           TEXT        NOT NULL DEFAULT '',
  attachment_url TEXT        NOT NULL DEFAULT '',
  ordering_key   BIGINT,
  deleted        BOOLEAN     NOT NULL DEFAULT false,
  category       TEXT        NOT NULL DEFAULT '',
  title          TEXT        NOT NULL DEFAULT '',
  created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (room_key, id)
);

CREATE INDEX IF NOT EXISTS messages_room_ordering ON %s (room_key, ordering_key);
`, table, table)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
