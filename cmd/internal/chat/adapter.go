package chat

import (
	"context"
)

// BackingStore persists and streams messages per room.
//
// Requirements:
//   - FetchPage returns messages ordered by OrderingKey DESC, committed keys
//     only, strictly older than "before" when it is non-nil.
//   - Subscribe delivers an initial snapshot (the latest "limit" messages as
//     Added events, ascending) followed by incremental change events, all on
//     a single goroutine per subscription. The returned stop function is
//     idempotent; no event is delivered after it returns.
//   - Append assigns the message id and ordering key server-side; keys are
//     strictly increasing per room.
type BackingStore interface {
	FetchPage(ctx context.Context, room RoomID, limit int, before *int64) ([]Message, error)
	Subscribe(ctx context.Context, room RoomID, limit int, fn func(Change)) (stop func(), err error)

	Append(ctx context.Context, in AppendInput) (Message, error)
	Edit(ctx context.Context, room RoomID, id, body string) (Message, error)
	// Delete tombstones a message: it keeps its id and position, the body is
	// hidden at display time. Surfaced to subscribers as Modified.
	Delete(ctx context.Context, room RoomID, id string) error
	// Remove drops a message entirely. Surfaced to subscribers as Removed.
	Remove(ctx context.Context, room RoomID, id string) error
	// Annotate patches classification results onto an existing message.
	// Surfaced to subscribers as Modified.
	Annotate(ctx context.Context, room RoomID, id, category, title string) error

	Close() error
}

// AppendInput describes a message append request.
type AppendInput struct {
	Room          RoomID
	Author        Author
	Body          string
	AttachmentURL string
}
