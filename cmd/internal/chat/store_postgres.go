package chat

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"campfire/cmd/internal/ids"
)

// PostgresStore is a BackingStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Live feed:
// - Every mutation issues pg_notify on a per-room channel inside the same
//   transaction, so subscribers observe changes in commit order.
// - Subscribe holds one dedicated connection per subscription in LISTEN mode.
//   Reconnection after connection loss is delegated to the caller resubscribing;
//   the subscription surfaces nothing after its context ends.
//
// Ordering keys are unix-milli timestamps assigned here, forced strictly
// greater than the room's previous key under a per-room advisory xact lock.
//
// Schema (managed externally, not migrated by this process):
//
//	CREATE TABLE campfire.messages (
//	    room_key       text        NOT NULL,
//	    id             text        NOT NULL,
//	    author_id      text        NOT NULL,
//	    author_name    text        NOT NULL DEFAULT '',
//	    author_avatar  text        NOT NULL DEFAULT '',
//	    body           text        NOT NULL DEFAULT '',
//	    attachment_url text        NOT NULL DEFAULT '',
//	    ordering_key   bigint,
//	    deleted        boolean     NOT NULL DEFAULT false,
//	    category       text        NOT NULL DEFAULT '',
//	    title          text        NOT NULL DEFAULT '',
//	    created_at     timestamptz NOT NULL DEFAULT now(),
//	    PRIMARY KEY (room_key, id)
//	);
//	CREATE INDEX messages_room_ordering ON campfire.messages (room_key, ordering_key);
type PostgresStore struct {
	log    *slog.Logger
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "campfire").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed BackingStore.
func NewPostgresStore(log *slog.Logger, pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if log == nil {
		log = slog.Default()
	}
	st := &PostgresStore{
		log:    log,
		pool:   pool,
		schema: "campfire",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) messagesTable() string {
	return pgIdent(s.schema, "messages")
}

// Append persists a message with a server-assigned id and ordering key and
// notifies room subscribers in the same transaction.
func (s *PostgresStore) Append(ctx context.Context, in AppendInput) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("chat: nil store")
	}
	if in.Room.IsZero() || in.Author.ID == "" {
		return Message{}, errors.New("chat: invalid append input")
	}
	if strings.TrimSpace(in.Body) == "" && strings.TrimSpace(in.AttachmentURL) == "" {
		return Message{}, errors.New("chat: message needs a body or an attachment")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := time.Now().UTC()
	roomKey := in.Room.Key()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize writes per room so ordering keys stay strictly monotonic.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, roomKey); err != nil {
		return Message{}, fmt.Errorf("advisory lock: %w", err)
	}

	var lastKey int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(ordering_key), 0) FROM `+s.messagesTable()+` WHERE room_key = $1`,
		roomKey,
	).Scan(&lastKey); err != nil {
		return Message{}, err
	}

	key := now.UnixMilli()
	if key <= lastKey {
		key = lastKey + 1
	}

	msg := Message{
		ID:            ids.MustULID(now),
		Author:        in.Author,
		Body:          in.Body,
		AttachmentURL: in.AttachmentURL,
		OrderingKey:   &key,
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.messagesTable()+` (
		     room_key, id, author_id, author_name, author_avatar,
		     body, attachment_url, ordering_key, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		roomKey, msg.ID, msg.Author.ID, msg.Author.DisplayName, msg.Author.AvatarURL,
		msg.Body, msg.AttachmentURL, key, now,
	); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := notifyRoom(ctx, tx, roomKey, Change{Message: msg, Kind: Added}); err != nil {
		return Message{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Edit replaces the body of an existing message and notifies Modified.
func (s *PostgresStore) Edit(ctx context.Context, room RoomID, id, body string) (Message, error) {
	return s.mutate(ctx, room, id, Modified,
		`UPDATE `+s.messagesTable()+`
		    SET body = $3
		  WHERE room_key = $1 AND id = $2`, body)
}

// Delete tombstones a message in place and notifies Modified.
func (s *PostgresStore) Delete(ctx context.Context, room RoomID, id string) error {
	_, err := s.mutate(ctx, room, id, Modified,
		`UPDATE `+s.messagesTable()+`
		    SET deleted = true
		  WHERE room_key = $1 AND id = $2`)
	return err
}

// Annotate patches classification results and notifies Modified.
func (s *PostgresStore) Annotate(ctx context.Context, room RoomID, id, category, title string) error {
	_, err := s.mutate(ctx, room, id, Modified,
		`UPDATE `+s.messagesTable()+`
		    SET category = $3, title = $4
		  WHERE room_key = $1 AND id = $2`, category, title)
	return err
}

// Remove drops a message entirely and notifies Removed.
func (s *PostgresStore) Remove(ctx context.Context, room RoomID, id string) error {
	_, err := s.mutate(ctx, room, id, Removed,
		`DELETE FROM `+s.messagesTable()+`
		  WHERE room_key = $1 AND id = $2`)
	return err
}

// mutate runs stmt against (room, id), re-reads (or captures) the row, and
// notifies subscribers with the resulting change in the same transaction.
func (s *PostgresStore) mutate(ctx context.Context, room RoomID, id string, kind ChangeKind, stmt string, args ...any) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("chat: nil store")
	}
	if room.IsZero() || strings.TrimSpace(id) == "" {
		return Message{}, errors.New("chat: missing room or message id")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	roomKey := room.Key()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// For Removed the row is gone after stmt, so read it first.
	msg, err := s.readMessage(ctx, tx, roomKey, id)
	if err != nil {
		return Message{}, err
	}

	exec := append([]any{roomKey, id}, args...)
	tag, err := tx.Exec(ctx, stmt, exec...)
	if err != nil {
		return Message{}, err
	}
	if tag.RowsAffected() == 0 {
		return Message{}, errors.New("chat: message not found")
	}

	if kind != Removed {
		msg, err = s.readMessage(ctx, tx, roomKey, id)
		if err != nil {
			return Message{}, err
		}
	}

	if err := notifyRoom(ctx, tx, roomKey, Change{Message: msg, Kind: kind}); err != nil {
		return Message{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (s *PostgresStore) readMessage(ctx context.Context, tx pgx.Tx, roomKey, id string) (Message, error) {
	var m Message
	err := tx.QueryRow(ctx,
		`SELECT id, author_id, author_name, author_avatar, body, attachment_url,
		        ordering_key, deleted, category, title
		   FROM `+s.messagesTable()+`
		  WHERE room_key = $1 AND id = $2`,
		roomKey, id,
	).Scan(
		&m.ID, &m.Author.ID, &m.Author.DisplayName, &m.Author.AvatarURL,
		&m.Body, &m.AttachmentURL, &m.OrderingKey, &m.Deleted, &m.Category, &m.Title,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, errors.New("chat: message not found")
	}
	return m, err
}

// FetchPage returns up to limit committed messages ordered by key DESC,
// strictly older than before when it is non-nil. Rows whose ordering key is
// not yet committed are excluded so cursors never land on an unstable row.
func (s *PostgresStore) FetchPage(ctx context.Context, room RoomID, limit int, before *int64) ([]Message, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if room.IsZero() {
		return nil, errors.New("chat: missing room")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var (
		rows pgx.Rows
		err  error
	)
	if before == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT id, author_id, author_name, author_avatar, body, attachment_url,
			        ordering_key, deleted, category, title
			   FROM `+s.messagesTable()+`
			  WHERE room_key = $1 AND ordering_key IS NOT NULL
			  ORDER BY ordering_key DESC
			  LIMIT $2`,
			room.Key(), limit,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, author_id, author_name, author_avatar, body, attachment_url,
			        ordering_key, deleted, category, title
			   FROM `+s.messagesTable()+`
			  WHERE room_key = $1 AND ordering_key IS NOT NULL AND ordering_key < $2
			  ORDER BY ordering_key DESC
			  LIMIT $3`,
			room.Key(), *before, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID, &m.Author.ID, &m.Author.DisplayName, &m.Author.AvatarURL,
			&m.Body, &m.AttachmentURL, &m.OrderingKey, &m.Deleted, &m.Category, &m.Title,
		); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Subscribe starts a LISTEN loop on the room's notification channel, replays
// the latest limit messages as Added events, then streams incremental
// changes until ctx ends or stop is called.
func (s *PostgresStore) Subscribe(ctx context.Context, room RoomID, limit int, fn func(Change)) (func(), error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if room.IsZero() || fn == nil {
		return nil, errors.New("chat: invalid subscription")
	}

	subCtx, cancel := context.WithCancel(ctx)

	conn, err := s.pool.Acquire(subCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("acquire listen conn: %w", err)
	}

	channel := roomChannel(room)
	if _, err := conn.Exec(subCtx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Release()
		cancel()
		return nil, fmt.Errorf("listen: %w", err)
	}

	// Snapshot after LISTEN: events raced between the two are replayed as
	// duplicates, which the merge engine ignores by id.
	snapshot, err := s.FetchPage(subCtx, room, limit, nil)
	if err != nil {
		conn.Release()
		cancel()
		return nil, err
	}
	reverseMessages(snapshot)
	for _, m := range snapshot {
		fn(Change{Message: m, Kind: Added})
	}

	go func() {
		defer conn.Release()
		for {
			n, err := conn.Conn().WaitForNotification(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					// Connection-level failure; recovery is the caller's
					// resubscribe, per the store's retry policy.
					s.log.Error("chat.feed.listen.fail", "room", room.Key(), "err", err)
				}
				return
			}
			ch, err := decodeNotification(n.Payload)
			if err != nil {
				s.log.Error("chat.feed.payload.fail", "room", room.Key(), "err", err)
				continue
			}
			fn(ch)
		}
	}()

	var once sync.Once
	stop := func() { once.Do(cancel) }
	return stop, nil
}

// ---- notification codec ----

// wireChange is the pg_notify payload. Payloads are capped by Postgres at
// 8000 bytes; message bodies are bounded well below that by the gateway.
type wireChange struct {
	Kind    string  `json:"kind"`
	Message Message `json:"message"`
}

func notifyRoom(ctx context.Context, tx pgx.Tx, roomKey string, ch Change) error {
	payload, err := json.Marshal(wireChange{Kind: ch.Kind.String(), Message: ch.Message})
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, roomChannelForKey(roomKey), string(payload)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

func decodeNotification(payload string) (Change, error) {
	var w wireChange
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return Change{}, err
	}
	var kind ChangeKind
	switch w.Kind {
	case Added.String():
		kind = Added
	case Modified.String():
		kind = Modified
	case Removed.String():
		kind = Removed
	default:
		return Change{}, fmt.Errorf("chat: unknown change kind %q", w.Kind)
	}
	return Change{Message: w.Message, Kind: kind}, nil
}

// roomChannel derives a NAMEDATALEN-safe notification channel name from the
// room key. md5 here is a stable name hash, not a security boundary.
func roomChannel(room RoomID) string {
	return roomChannelForKey(room.Key())
}

func roomChannelForKey(key string) string {
	sum := md5.Sum([]byte(key))
	return "campfire_room_" + hex.EncodeToString(sum[:])
}

// ---- identifier quoting ----

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
