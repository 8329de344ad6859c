// Package v1 defines the Campfire chat wire contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeRoomJoin opens a room (client -> server) and is echoed back.
	TypeRoomJoin = "room_join"
	// TypeRoomLeave closes a room (client -> server).
	TypeRoomLeave = "room_leave"

	// TypeMessageSend requests sending a new message (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageAck acknowledges a send request (server -> client).
	TypeMessageAck = "message_ack"
	// TypeMessageEdit requests editing a message body (client -> server).
	TypeMessageEdit = "message_edit"
	// TypeMessageDelete requests tombstoning a message (client -> server).
	TypeMessageDelete = "message_delete"

	// TypeLoadMore requests one older history page (client -> server).
	TypeLoadMore = "load_more"

	// TypeRoomState carries the current message window (server -> client).
	TypeRoomState = "room_state"
	// TypeLoading carries the loading flag (server -> client).
	TypeLoading = "loading"
	// TypeHasMore carries the has-more flag (server -> client).
	TypeHasMore = "has_more"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeRoomJoin,
		TypeRoomLeave,
		TypeMessageSend,
		TypeMessageAck,
		TypeMessageEdit,
		TypeMessageDelete,
		TypeLoadMore,
		TypeRoomState,
		TypeLoading,
		TypeHasMore,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// User identifies the session user.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// HelloPayload is sent by the client to initiate a session.
type HelloPayload struct {
	User User `json:"user"`
}

// HelloAckPayload returns the server-assigned session id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
}

// RoomJoinPayload opens a room. Exactly one of RoomKey (a public state room)
// or PeerID (the other participant of a personal room) must be set.
type RoomJoinPayload struct {
	RoomKey string `json:"room_key,omitempty"`
	PeerID  string `json:"peer_id,omitempty"`
}

// RoomJoinedPayload echoes a successful join.
type RoomJoinedPayload struct {
	RoomKey  string `json:"room_key"`
	Personal bool   `json:"personal"`
}

// RoomLeavePayload closes a previously joined room.
type RoomLeavePayload struct {
	RoomKey string `json:"room_key"`
}

// MessageSendPayload requests sending a message into a room.
type MessageSendPayload struct {
	RoomKey       string `json:"room_key"`
	Body          string `json:"body,omitempty"`
	AttachmentURL string `json:"attachment_url,omitempty"`
}

// MessageAckPayload acknowledges a send request with the canonical server ids.
type MessageAckPayload struct {
	RoomKey     string `json:"room_key"`
	MessageID   string `json:"message_id"`
	OrderingKey *int64 `json:"ordering_key,omitempty"`
}

// MessageEditPayload requests replacing a message body.
type MessageEditPayload struct {
	RoomKey   string `json:"room_key"`
	MessageID string `json:"message_id"`
	Body      string `json:"body"`
}

// MessageDeletePayload requests tombstoning a message.
type MessageDeletePayload struct {
	RoomKey   string `json:"room_key"`
	MessageID string `json:"message_id"`
}

// LoadMorePayload requests one older history page for a joined room.
type LoadMorePayload struct {
	RoomKey string `json:"room_key"`
}

// Message is the wire representation of one message.
type Message struct {
	ID            string `json:"id"`
	Author        User   `json:"author"`
	Body          string `json:"body,omitempty"`
	AttachmentURL string `json:"attachment_url,omitempty"`
	OrderingKey   *int64 `json:"ordering_key,omitempty"`
	Deleted       bool   `json:"deleted,omitempty"`
	Category      string `json:"category,omitempty"`
	Title         string `json:"title,omitempty"`
}

// RoomStatePayload carries the full current message window of a room.
type RoomStatePayload struct {
	RoomKey  string    `json:"room_key"`
	Messages []Message `json:"messages"`
}

// LoadingPayload carries the loading flag of a room.
type LoadingPayload struct {
	RoomKey string `json:"room_key"`
	Loading bool   `json:"loading"`
}

// HasMorePayload carries the has-more flag of a room.
type HasMorePayload struct {
	RoomKey string `json:"room_key"`
	HasMore bool   `json:"has_more"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
