package campuschat

import (
	"fmt"
	"strings"
)

// RoomKind distinguishes direct chats from group chats.
type RoomKind string

const (
	RoomChat  RoomKind = "chat"
	RoomGroup RoomKind = "group"
)

// RoomKey is the canonical (kind, id) identity of a conversation. It is the
// sole map key for every piece of per-room state: message caches, unread
// counters, typing state, and open windows.
type RoomKey struct {
	Kind RoomKind
	ID   string
}

// ChatRoom returns the key for a direct chat session.
func ChatRoom(id string) RoomKey { return RoomKey{Kind: RoomChat, ID: id} }

// GroupRoom returns the key for a group chat.
func GroupRoom(id string) RoomKey { return RoomKey{Kind: RoomGroup, ID: id} }

// String serializes the key to the wire form "chat:<id>" / "group:<id>".
// This is the exact room string carried by socket events.
func (k RoomKey) String() string {
	return string(k.Kind) + ":" + k.ID
}

// IsZero reports whether the key is the zero value.
func (k RoomKey) IsZero() bool { return k.Kind == "" && k.ID == "" }

// ParseRoomKey parses the wire form back into a RoomKey. It accepts exactly
// the strings produced by String; anything else is an error.
func ParseRoomKey(s string) (RoomKey, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return RoomKey{}, fmt.Errorf("malformed room key %q", s)
	}
	switch RoomKind(kind) {
	case RoomChat, RoomGroup:
		return RoomKey{Kind: RoomKind(kind), ID: id}, nil
	default:
		return RoomKey{}, fmt.Errorf("unknown room kind %q in key %q", kind, s)
	}
}
