package campuschat

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ============================================================================
// Message merge
// ============================================================================

// MergeMessages reconciles two message collections into one sorted,
// deduplicated timeline. It is the single mechanism joining REST-fetched
// history with socket-pushed live messages, so it is idempotent and
// commutative over duplicate ids: incoming fields shallow-merge over any
// existing entry with the same id (a later partial update, e.g. a freshened
// read_by, never loses fields), and the result is sorted ascending by
// (created_at, id).
func MergeMessages(current, incoming []Message) []Message {
	byID := make(map[string]Message, len(current)+len(incoming))
	order := make([]string, 0, len(current)+len(incoming))

	for _, m := range current {
		if _, seen := byID[m.ID]; !seen {
			order = append(order, m.ID)
		}
		byID[m.ID] = m
	}
	for _, m := range incoming {
		if existing, seen := byID[m.ID]; seen {
			byID[m.ID] = overlayMessage(existing, m)
		} else {
			order = append(order, m.ID)
			byID[m.ID] = m
		}
	}

	merged := make([]Message, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].CreatedAt != merged[j].CreatedAt {
			return merged[i].CreatedAt < merged[j].CreatedAt
		}
		// Equal timestamps: message id breaks the tie deterministically.
		return merged[i].ID < merged[j].ID
	})
	return merged
}

func overlayMessage(base, update Message) Message {
	if update.ChatID != "" {
		base.ChatID = update.ChatID
	}
	if update.GroupID != "" {
		base.GroupID = update.GroupID
	}
	if update.SenderID != "" {
		base.SenderID = update.SenderID
	}
	if update.Content != "" {
		base.Content = update.Content
	}
	if update.MessageType != "" {
		base.MessageType = update.MessageType
	}
	if len(update.Attachments) > 0 {
		base.Attachments = update.Attachments
	}
	if update.Meta != nil {
		base.Meta = update.Meta
	}
	if update.CreatedAt != "" {
		base.CreatedAt = update.CreatedAt
	}
	base.ReadBy = unionIDs(base.ReadBy, update.ReadBy)
	return base
}

// unionIDs appends the ids from add that are missing from base, preserving
// order. Read state only ever grows.
func unionIDs(base, add []string) []string {
	for _, id := range add {
		found := false
		for _, existing := range base {
			if existing == id {
				found = true
				break
			}
		}
		if !found {
			base = append(base, id)
		}
	}
	return base
}

// ============================================================================
// MessageStore
// ============================================================================

// PageFetcher loads one history page for a room. The engine wires this to the
// REST gateway; tests substitute fakes.
type PageFetcher func(ctx context.Context, room RoomKey, opts *PageOptions) ([]Message, error)

// RoomFetchState is the per-room pagination state exposed to callers.
type RoomFetchState struct {
	Loading bool
	HasMore bool
	Err     error
}

type roomCache struct {
	msgs    []Message
	hasMore bool
	loading bool
	err     error
	// epoch counts issued fetches for this room. A response whose epoch is
	// behind the latest issued fetch is stale and discarded, so a slow reset
	// can never overwrite newer state.
	epoch uint64
}

// MessageStore is the per-room ordered, deduplicated message cache with
// cursor pagination. All mutation goes through its own methods; each update
// is atomic under the store mutex.
type MessageStore struct {
	mu       sync.Mutex
	rooms    map[RoomKey]*roomCache
	pageSize int
	fetch    PageFetcher
}

// NewMessageStore creates a cache backed by the given page fetcher. pageSize
// <= 0 selects DefaultPageSize.
func NewMessageStore(fetch PageFetcher, pageSize int) *MessageStore {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &MessageStore{
		rooms:    make(map[RoomKey]*roomCache),
		pageSize: pageSize,
		fetch:    fetch,
	}
}

func (s *MessageStore) room(key RoomKey) *roomCache {
	rc, ok := s.rooms[key]
	if !ok {
		rc = &roomCache{hasMore: true}
		s.rooms[key] = rc
	}
	return rc
}

// EnsureMessages seeds or extends a room's cache. With reset, or when the
// room is empty, it fetches the most recent page and replaces the cache.
// Otherwise it pages backwards from the oldest cached message; if no more
// history exists or a fetch is already in flight it is a no-op. The has-more
// signal is purely the page length: a page shorter than the fetch limit ends
// pagination.
func (s *MessageStore) EnsureMessages(ctx context.Context, room RoomKey, reset bool) error {
	s.mu.Lock()
	rc := s.room(room)

	// A reset always issues a fresh fetch: the epoch guard below makes any
	// still-in-flight older fetch harmless.
	var before string
	if !reset && len(rc.msgs) > 0 {
		if !rc.hasMore || rc.loading {
			s.mu.Unlock()
			return nil
		}
		before = rc.msgs[0].CreatedAt
	}

	rc.epoch++
	epoch := rc.epoch
	rc.loading = true
	rc.err = nil
	s.mu.Unlock()

	page, err := s.fetch(ctx, room, &PageOptions{Before: before, Limit: s.pageSize})

	s.mu.Lock()
	defer s.mu.Unlock()
	if rc.epoch != epoch {
		// A newer fetch superseded this one; its result owns the state.
		return nil
	}
	rc.loading = false
	if err != nil {
		rc.err = err
		return fmt.Errorf("load messages for %s: %w", room, err)
	}
	if before == "" {
		rc.msgs = MergeMessages(nil, page)
	} else {
		rc.msgs = MergeMessages(rc.msgs, page)
	}
	rc.hasMore = len(page) >= s.pageSize
	return nil
}

// AddMessage routes a message to its room by chat_id/group_id and merges it
// in. It returns the room key so the caller can update registry, unread, and
// notification state.
func (s *MessageStore) AddMessage(msg Message) RoomKey {
	key := msg.Room()
	s.mu.Lock()
	defer s.mu.Unlock()
	rc := s.room(key)
	rc.msgs = MergeMessages(rc.msgs, []Message{msg})
	return key
}

// UpdateReadState unions userID into the read set of each listed message.
// Applying the same receipt twice is a no-op.
func (s *MessageStore) UpdateReadState(room RoomKey, messageIDs []string, userID string) {
	if userID == "" || len(messageIDs) == 0 {
		return
	}
	wanted := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.rooms[room]
	if !ok {
		return
	}
	for i := range rc.msgs {
		if wanted[rc.msgs[i].ID] {
			rc.msgs[i].ReadBy = unionIDs(rc.msgs[i].ReadBy, []string{userID})
		}
	}
}

// Messages returns a copy of the room's timeline, oldest first.
func (s *MessageStore) Messages(room RoomKey) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.rooms[room]
	if !ok {
		return nil
	}
	return append([]Message(nil), rc.msgs...)
}

// State returns the room's pagination state.
func (s *MessageStore) State(room RoomKey) RoomFetchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.rooms[room]
	if !ok {
		return RoomFetchState{HasMore: true}
	}
	return RoomFetchState{Loading: rc.loading, HasMore: rc.hasMore, Err: rc.err}
}

// ============================================================================
// Registry
// ============================================================================

// Registry holds the session lists (direct chats and group chats), kept
// sorted by last_message_at descending. Loads are full replacements; there
// is no delta protocol for session metadata.
type Registry struct {
	mu     sync.RWMutex
	chats  []ChatSession
	groups []GroupChat
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// SetChats replaces the direct chat list.
func (r *Registry) SetChats(chats []ChatSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append([]ChatSession(nil), chats...)
	sortChats(r.chats)
}

// SetGroupChats replaces the group chat list.
func (r *Registry) SetGroupChats(groups []GroupChat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = append([]GroupChat(nil), groups...)
	sortGroups(r.groups)
}

// Chats returns a copy of the direct chat list, most recent activity first.
func (r *Registry) Chats() []ChatSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ChatSession(nil), r.chats...)
}

// GroupChats returns a copy of the group chat list, most recent activity
// first.
func (r *Registry) GroupChats() []GroupChat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]GroupChat(nil), r.groups...)
}

// Chat looks up a direct session by id.
func (r *Registry) Chat(id string) (ChatSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.chats {
		if c.ID == id {
			return c, true
		}
	}
	return ChatSession{}, false
}

// Group looks up a group chat by id.
func (r *Registry) Group(id string) (GroupChat, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.groups {
		if g.ID == id {
			return g, true
		}
	}
	return GroupChat{}, false
}

// Touch records msg as the matching session's last message and re-sorts the
// list. Unknown sessions are ignored (the next full refresh picks them up).
func (r *Registry) Touch(msg Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.GroupID != "" {
		for i := range r.groups {
			if r.groups[i].ID == msg.GroupID {
				m := msg
				r.groups[i].LastMessage = &m
				r.groups[i].LastMessageAt = msg.CreatedAt
				sortGroups(r.groups)
				return true
			}
		}
		return false
	}
	for i := range r.chats {
		if r.chats[i].ID == msg.ChatID {
			m := msg
			r.chats[i].LastMessage = &m
			r.chats[i].LastMessageAt = msg.CreatedAt
			sortChats(r.chats)
			return true
		}
	}
	return false
}

// Timestamps are RFC 3339, so string order is chronological; sessions that
// never saw a message sort last.
func sortChats(chats []ChatSession) {
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].LastMessageAt > chats[j].LastMessageAt
	})
}

func sortGroups(groups []GroupChat) {
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].LastMessageAt > groups[j].LastMessageAt
	})
}

// ============================================================================
// PresenceTracker
// ============================================================================

// PresenceTracker maps user id to online state, seeded from connection
// snapshots and updated by status deltas. Unknown users are offline.
type PresenceTracker struct {
	mu     sync.RWMutex
	online map[string]bool
}

// NewPresenceTracker creates an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]bool)}
}

// Seed replaces all presence state with the snapshot's online-user list.
func (p *PresenceTracker) Seed(onlineUsers []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = make(map[string]bool, len(onlineUsers))
	for _, id := range onlineUsers {
		if id != "" {
			p.online[id] = true
		}
	}
}

// SetOnline applies a single presence delta.
func (p *PresenceTracker) SetOnline(userID string, online bool) {
	if userID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = online
}

// IsOnline reports whether the user was last seen online.
func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online[userID]
}

// OnlineCount returns the number of users currently marked online.
func (p *PresenceTracker) OnlineCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, on := range p.online {
		if on {
			n++
		}
	}
	return n
}
