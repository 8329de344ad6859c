package chat

import (
	"errors"
	"fmt"
	"strings"
)

// personalSeparator joins the two participant ids of a personal room in the
// persisted key layout. Participant ids must not contain it.
const personalSeparator = "__"

// RoomID identifies a conversation as an explicit tagged variant instead of a
// string convention re-derived by inspection at every use site.
//
// Two kinds exist:
//   - public rooms, named by a flat slug (state-name rooms);
//   - personal rooms between exactly two participants, canonicalized so both
//     parties independently compute the same id.
type RoomID struct {
	slug string
	a, b string
}

// PublicRoom returns the RoomID of a public (state) room.
func PublicRoom(slug string) (RoomID, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return RoomID{}, errors.New("chat: empty room slug")
	}
	if strings.Contains(slug, personalSeparator) {
		return RoomID{}, fmt.Errorf("chat: room slug must not contain %q", personalSeparator)
	}
	return RoomID{slug: slug}, nil
}

// PersonalRoom returns the RoomID of the 1:1 room between two participants.
// The pair is ordered canonically, so PersonalRoom(a, b) == PersonalRoom(b, a).
func PersonalRoom(userA, userB string) (RoomID, error) {
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return RoomID{}, errors.New("chat: empty participant id")
	}
	if userA == userB {
		return RoomID{}, errors.New("chat: personal room requires two distinct participants")
	}
	if strings.Contains(userA, personalSeparator) || strings.Contains(userB, personalSeparator) {
		return RoomID{}, fmt.Errorf("chat: participant id must not contain %q", personalSeparator)
	}
	if userB < userA {
		userA, userB = userB, userA
	}
	return RoomID{a: userA, b: userB}, nil
}

// ParseRoomKey recovers a RoomID from its persisted key layout.
func ParseRoomKey(key string) (RoomID, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return RoomID{}, errors.New("chat: empty room key")
	}
	if !strings.Contains(key, personalSeparator) {
		return PublicRoom(key)
	}
	parts := strings.SplitN(key, personalSeparator, 2)
	return PersonalRoom(parts[0], parts[1])
}

// IsZero reports whether the RoomID carries no identity.
func (r RoomID) IsZero() bool {
	return r.slug == "" && r.a == "" && r.b == ""
}

// IsPersonal reports whether this is a two-party room.
func (r RoomID) IsPersonal() bool {
	return r.a != ""
}

// Participants returns the canonical participant pair of a personal room,
// or zero values for a public room.
func (r RoomID) Participants() (string, string) {
	return r.a, r.b
}

// Slug returns the public room slug, or "" for a personal room.
func (r RoomID) Slug() string {
	return r.slug
}

// Key renders the persisted layout: the slug for a public room, or the two
// participant ids joined by the separator for a personal one.
func (r RoomID) Key() string {
	if r.IsPersonal() {
		return r.a + personalSeparator + r.b
	}
	return r.slug
}

// String implements fmt.Stringer (log-friendly).
func (r RoomID) String() string { return r.Key() }
