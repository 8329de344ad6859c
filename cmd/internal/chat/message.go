// Package chat contains Campfire's conversation core: the message model,
// room identity, the backing-store adapter, and the per-conversation
// synchronization engine (paged history + live merge + observer fanout).
package chat

// Author identifies a message sender. Immutable after the message is created.
type Author struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Message is the canonical message representation.
//
// OrderingKey is the server-assigned unix-milli timestamp that defines total
// order within a room. It is nil for the short window between an optimistic
// local insert and the server acknowledgment; such messages must never be
// used as a pagination cursor.
type Message struct {
	ID            string `json:"id"`
	Author        Author `json:"author"`
	Body          string `json:"body,omitempty"`
	AttachmentURL string `json:"attachment_url,omitempty"`
	OrderingKey   *int64 `json:"ordering_key,omitempty"`
	Deleted       bool   `json:"deleted,omitempty"`

	// Category and Title are attached asynchronously by the classification
	// step; absent on attachment-only or still-processing messages.
	Category string `json:"category,omitempty"`
	Title    string `json:"title,omitempty"`
}

// Committed reports whether the server has assigned an ordering key.
func (m Message) Committed() bool {
	return m.OrderingKey != nil
}

// ChangeKind enumerates live-feed change events.
type ChangeKind uint8

const (
	Added ChangeKind = iota + 1
	Modified
	Removed
)

// String implements fmt.Stringer for logs and metrics labels.
func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one live-feed event.
type Change struct {
	Message Message
	Kind    ChangeKind
}
