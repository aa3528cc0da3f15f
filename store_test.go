package campuschat_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	campuschat "github.com/nextgen-campus/campuschat-go"
)

func msg(id, chatID, sender, createdAt string) campuschat.Message {
	return campuschat.Message{
		ID: id, ChatID: chatID, SenderID: sender,
		Content: "msg " + id, MessageType: "text", CreatedAt: createdAt,
	}
}

func ids(msgs []campuschat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ============================================================================
// MergeMessages
// ============================================================================

func TestMergeMessages_OrderAndDedup(t *testing.T) {
	a := msg("a", "c1", "u1", "2026-01-01T10:00:00Z")
	b := msg("b", "c1", "u2", "2026-01-01T10:05:00Z")
	c := msg("c", "c1", "u1", "2026-01-01T09:00:00Z")

	// Arrival order should not matter; the timeline sorts by created_at.
	merged := campuschat.MergeMessages([]campuschat.Message{b}, []campuschat.Message{a, c, a})
	if !equalIDs(ids(merged), []string{"c", "a", "b"}) {
		t.Fatalf("merged order = %v, want [c a b]", ids(merged))
	}
}

func TestMergeMessages_Idempotent(t *testing.T) {
	a := msg("a", "c1", "u1", "2026-01-01T10:00:00Z")
	b := msg("b", "c1", "u2", "2026-01-01T10:05:00Z")

	once := campuschat.MergeMessages([]campuschat.Message{a}, []campuschat.Message{b})
	twice := campuschat.MergeMessages(once, []campuschat.Message{b})
	if !equalIDs(ids(once), ids(twice)) {
		t.Fatalf("re-merging same input changed timeline: %v vs %v", ids(once), ids(twice))
	}
	if len(twice) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(twice))
	}
}

func TestMergeMessages_TimestampTieBreak(t *testing.T) {
	ts := "2026-01-01T10:00:00Z"
	x := msg("x", "c1", "u1", ts)
	y := msg("y", "c1", "u2", ts)

	ab := campuschat.MergeMessages([]campuschat.Message{x}, []campuschat.Message{y})
	ba := campuschat.MergeMessages([]campuschat.Message{y}, []campuschat.Message{x})
	if !equalIDs(ids(ab), ids(ba)) {
		t.Fatalf("tie order depends on arrival: %v vs %v", ids(ab), ids(ba))
	}
	if !equalIDs(ids(ab), []string{"x", "y"}) {
		t.Fatalf("equal timestamps should order by id, got %v", ids(ab))
	}
}

func TestMergeMessages_ReadByGrowsMonotonically(t *testing.T) {
	a := msg("a", "c1", "u1", "2026-01-01T10:00:00Z")
	a.ReadBy = []string{"u1", "u2"}

	update := campuschat.Message{ID: "a", ChatID: "c1", ReadBy: []string{"u3", "u1"}}
	merged := campuschat.MergeMessages([]campuschat.Message{a}, []campuschat.Message{update})
	if len(merged) != 1 {
		t.Fatalf("expected 1 message, got %d", len(merged))
	}
	got := merged[0]
	for _, u := range []string{"u1", "u2", "u3"} {
		if !got.ReadByUser(u) {
			t.Errorf("read set lost %s: %v", u, got.ReadBy)
		}
	}
	if got.Content != "msg a" {
		t.Errorf("partial update clobbered content: %q", got.Content)
	}
}

// ============================================================================
// MessageStore
// ============================================================================

// pageFetcher builds a PageFetcher from a func for store tests.
func pageFetcher(f func(ctx context.Context, room campuschat.RoomKey, opts *campuschat.PageOptions) ([]campuschat.Message, error)) campuschat.PageFetcher {
	return f
}

func TestMessageStore_InitialLoadAndPaging(t *testing.T) {
	room := campuschat.ChatRoom("c1")

	// 30 messages, newest page of 10 first. The fetcher serves slices keyed
	// on the before cursor the way the history endpoint does.
	history := make([]campuschat.Message, 30)
	for i := range history {
		history[i] = msg(fmt.Sprintf("m%02d", i), "c1", "u1", fmt.Sprintf("2026-01-01T10:%02d:00Z", i))
	}

	fetch := pageFetcher(func(ctx context.Context, r campuschat.RoomKey, opts *campuschat.PageOptions) ([]campuschat.Message, error) {
		if r != room {
			t.Errorf("fetch for unexpected room %v", r)
		}
		end := len(history)
		if opts.Before != "" {
			for i, m := range history {
				if m.CreatedAt == opts.Before {
					end = i
					break
				}
			}
		}
		start := end - opts.Limit
		if start < 0 {
			start = 0
		}
		return history[start:end], nil
	})

	store := campuschat.NewMessageStore(fetch, 10)
	ctx := context.Background()

	if err := store.EnsureMessages(ctx, room, false); err != nil {
		t.Fatalf("initial load: %v", err)
	}
	got := store.Messages(room)
	if len(got) != 10 || got[0].ID != "m20" || got[9].ID != "m29" {
		t.Fatalf("initial page wrong: %v", ids(got))
	}
	if st := store.State(room); !st.HasMore {
		t.Fatal("expected HasMore after a full page")
	}

	// Page backwards twice; the third page exhausts history.
	if err := store.EnsureMessages(ctx, room, false); err != nil {
		t.Fatalf("load older: %v", err)
	}
	if err := store.EnsureMessages(ctx, room, false); err != nil {
		t.Fatalf("load older: %v", err)
	}
	got = store.Messages(room)
	if len(got) != 30 || got[0].ID != "m00" {
		t.Fatalf("full history wrong: %d msgs, first %s", len(got), got[0].ID)
	}

	// 30 divides evenly into full pages, so one more fetch returns an empty
	// page and ends pagination.
	if err := store.EnsureMessages(ctx, room, false); err != nil {
		t.Fatalf("final page: %v", err)
	}
	if st := store.State(room); st.HasMore {
		t.Fatal("expected pagination to end after short page")
	}
	// Now a no-op.
	if err := store.EnsureMessages(ctx, room, false); err != nil {
		t.Fatalf("no-op load: %v", err)
	}
	if got := store.Messages(room); len(got) != 30 {
		t.Fatalf("no-op load changed cache: %d msgs", len(got))
	}
}

func TestMessageStore_StaleFetchDiscarded(t *testing.T) {
	room := campuschat.ChatRoom("c1")
	oldPage := []campuschat.Message{msg("old", "c1", "u1", "2026-01-01T09:00:00Z")}
	newPage := []campuschat.Message{msg("new", "c1", "u1", "2026-01-01T10:00:00Z")}

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int

	fetch := pageFetcher(func(ctx context.Context, r campuschat.RoomKey, opts *campuschat.PageOptions) ([]campuschat.Message, error) {
		calls++
		if calls == 1 {
			close(started)
			<-release
			return oldPage, nil
		}
		return newPage, nil
	})

	store := campuschat.NewMessageStore(fetch, 10)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- store.EnsureMessages(ctx, room, false) }()
	<-started

	// A reset supersedes the in-flight fetch.
	if err := store.EnsureMessages(ctx, room, true); err != nil {
		t.Fatalf("reset load: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("superseded load: %v", err)
	}

	got := store.Messages(room)
	if !equalIDs(ids(got), []string{"new"}) {
		t.Fatalf("stale fetch overwrote newer state: %v", ids(got))
	}
}

func TestMessageStore_FetchErrorRecorded(t *testing.T) {
	room := campuschat.ChatRoom("c1")
	boom := errors.New("backend down")
	fetch := pageFetcher(func(ctx context.Context, r campuschat.RoomKey, opts *campuschat.PageOptions) ([]campuschat.Message, error) {
		return nil, boom
	})

	store := campuschat.NewMessageStore(fetch, 10)
	err := store.EnsureMessages(context.Background(), room, false)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped fetch error, got %v", err)
	}
	if st := store.State(room); st.Err == nil {
		t.Fatal("expected error recorded in room state")
	}
	if got := store.Messages(room); len(got) != 0 {
		t.Fatalf("failed fetch should not populate cache: %v", ids(got))
	}
}

func TestMessageStore_UpdateReadState(t *testing.T) {
	room := campuschat.ChatRoom("c1")
	store := campuschat.NewMessageStore(pageFetcher(func(context.Context, campuschat.RoomKey, *campuschat.PageOptions) ([]campuschat.Message, error) {
		return nil, nil
	}), 10)

	a := msg("a", "c1", "u1", "2026-01-01T10:00:00Z")
	a.ReadBy = []string{"u1"}
	store.AddMessage(a)
	store.AddMessage(msg("b", "c1", "u1", "2026-01-01T10:01:00Z"))

	store.UpdateReadState(room, []string{"a", "b", "missing"}, "u2")
	store.UpdateReadState(room, []string{"a"}, "u2") // duplicate receipt

	got := store.Messages(room)
	if !got[0].ReadByUser("u1") || !got[0].ReadByUser("u2") {
		t.Errorf("message a read set wrong: %v", got[0].ReadBy)
	}
	if len(got[0].ReadBy) != 2 {
		t.Errorf("duplicate receipt grew read set: %v", got[0].ReadBy)
	}
	if !got[1].ReadByUser("u2") {
		t.Errorf("message b read set wrong: %v", got[1].ReadBy)
	}
}

// ============================================================================
// Registry
// ============================================================================

func TestRegistry_TouchResorts(t *testing.T) {
	reg := campuschat.NewRegistry()
	reg.SetChats([]campuschat.ChatSession{
		{ID: "c1", LastMessageAt: "2026-01-01T10:00:00Z"},
		{ID: "c2", LastMessageAt: "2026-01-01T11:00:00Z"},
	})

	chats := reg.Chats()
	if chats[0].ID != "c2" {
		t.Fatalf("expected c2 first, got %s", chats[0].ID)
	}

	m := msg("m1", "c1", "u1", "2026-01-01T12:00:00Z")
	if !reg.Touch(m) {
		t.Fatal("Touch should find session c1")
	}
	chats = reg.Chats()
	if chats[0].ID != "c1" {
		t.Fatalf("expected c1 first after touch, got %s", chats[0].ID)
	}
	if chats[0].LastMessage == nil || chats[0].LastMessage.ID != "m1" {
		t.Fatal("last message not recorded")
	}

	unknown := msg("m2", "nope", "u1", "2026-01-01T13:00:00Z")
	if reg.Touch(unknown) {
		t.Fatal("Touch should ignore unknown sessions")
	}
}

func TestRegistry_TouchGroup(t *testing.T) {
	reg := campuschat.NewRegistry()
	reg.SetGroupChats([]campuschat.GroupChat{{ID: "g1", Name: "Algorithms"}})

	m := campuschat.Message{ID: "m1", GroupID: "g1", SenderID: "u1", CreatedAt: "2026-01-01T12:00:00Z"}
	if !reg.Touch(m) {
		t.Fatal("Touch should find group g1")
	}
	g, ok := reg.Group("g1")
	if !ok || g.LastMessageAt != m.CreatedAt {
		t.Fatalf("group not updated: %+v", g)
	}
}

// ============================================================================
// PresenceTracker
// ============================================================================

func TestPresenceTracker(t *testing.T) {
	p := campuschat.NewPresenceTracker()
	p.Seed([]string{"u1", "u2", ""})

	if !p.IsOnline("u1") || !p.IsOnline("u2") {
		t.Error("seeded users should be online")
	}
	if p.IsOnline("u3") {
		t.Error("unknown users should be offline")
	}

	p.SetOnline("u1", false)
	p.SetOnline("u3", true)
	if p.IsOnline("u1") || !p.IsOnline("u3") {
		t.Error("deltas not applied")
	}
	if n := p.OnlineCount(); n != 2 {
		t.Errorf("OnlineCount = %d, want 2", n)
	}

	// Reconnect snapshot replaces everything.
	p.Seed([]string{"u4"})
	if p.IsOnline("u3") || !p.IsOnline("u4") {
		t.Error("seed should replace previous state")
	}
}
