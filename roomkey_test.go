package campuschat_test

import (
	"testing"

	campuschat "github.com/nextgen-campus/campuschat-go"
)

func TestRoomKey_RoundTrip(t *testing.T) {
	cases := []struct {
		key  campuschat.RoomKey
		wire string
	}{
		{campuschat.ChatRoom("42"), "chat:42"},
		{campuschat.GroupRoom("cs101"), "group:cs101"},
	}
	for _, tc := range cases {
		if got := tc.key.String(); got != tc.wire {
			t.Errorf("String() = %q, want %q", got, tc.wire)
		}
		parsed, err := campuschat.ParseRoomKey(tc.wire)
		if err != nil {
			t.Fatalf("ParseRoomKey(%q) returned error: %v", tc.wire, err)
		}
		if parsed != tc.key {
			t.Errorf("ParseRoomKey(%q) = %+v, want %+v", tc.wire, parsed, tc.key)
		}
	}
}

func TestParseRoomKey_Rejects(t *testing.T) {
	for _, s := range []string{"", "chat", "chat:", "dm:42", "42", ":42"} {
		if _, err := campuschat.ParseRoomKey(s); err == nil {
			t.Errorf("ParseRoomKey(%q) succeeded, want error", s)
		}
	}
}

func TestRoomKey_IsZero(t *testing.T) {
	if !(campuschat.RoomKey{}).IsZero() {
		t.Error("zero RoomKey should report IsZero")
	}
	if campuschat.ChatRoom("1").IsZero() {
		t.Error("non-zero RoomKey should not report IsZero")
	}
}

func TestMessage_Room(t *testing.T) {
	direct := campuschat.Message{ID: "m1", ChatID: "c1"}
	if got := direct.Room(); got != campuschat.ChatRoom("c1") {
		t.Errorf("Room() = %+v, want chat:c1", got)
	}
	group := campuschat.Message{ID: "m2", GroupID: "g1"}
	if got := group.Room(); got != campuschat.GroupRoom("g1") {
		t.Errorf("Room() = %+v, want group:g1", got)
	}
}
