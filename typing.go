package campuschat

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultTypingIdle is how long after the last keystroke the outbound
	// "stopped typing" signal fires.
	DefaultTypingIdle = 1500 * time.Millisecond

	// DefaultTypingStale is how long an inbound "is typing" marker survives
	// without a refreshing event. The stop event can be lost on a flaky
	// connection, so stored typing state self-heals by expiry.
	DefaultTypingStale = 2 * time.Second
)

// TypingState is the ephemeral typing marker for one room.
type TypingState struct {
	UserID    string
	IsTyping  bool
	UpdatedAt time.Time
}

// TypingEmitter sends outbound typing indicators; Realtime implements it.
type TypingEmitter interface {
	SendTyping(ctx context.Context, room RoomKey, isTyping bool) error
}

// TypingCoordinator owns per-room typing state in both directions. Outbound,
// it signals "typing" once per burst of keystrokes and "stopped" after an
// idle window. Inbound, it stores the latest marker per room and expires
// stale ones.
type TypingCoordinator struct {
	emitter TypingEmitter
	idle    time.Duration
	stale   time.Duration

	mu       sync.Mutex
	inbound  map[RoomKey]TypingState
	outbound map[RoomKey]*time.Timer // pending stop-typing timers
}

// NewTypingCoordinator creates a coordinator with the given idle and
// staleness windows; zero values select the defaults.
func NewTypingCoordinator(emitter TypingEmitter, idle, stale time.Duration) *TypingCoordinator {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	if stale <= 0 {
		stale = DefaultTypingStale
	}
	return &TypingCoordinator{
		emitter:  emitter,
		idle:     idle,
		stale:    stale,
		inbound:  make(map[RoomKey]TypingState),
		outbound: make(map[RoomKey]*time.Timer),
	}
}

// ============================================================================
// Outbound
// ============================================================================

// Keystroke records composer activity in a room. The first keystroke of a
// burst emits is_typing:true; every keystroke restarts the idle timer whose
// expiry emits is_typing:false.
func (t *TypingCoordinator) Keystroke(ctx context.Context, room RoomKey) {
	t.mu.Lock()
	timer, active := t.outbound[room]
	if active {
		timer.Stop()
	}
	t.outbound[room] = time.AfterFunc(t.idle, func() {
		t.stopTyping(room)
	})
	t.mu.Unlock()

	if !active {
		_ = t.emitter.SendTyping(ctx, room, true)
	}
}

// Stop ends the current typing burst immediately, e.g. when the composer
// submits or the window closes.
func (t *TypingCoordinator) Stop(room RoomKey) {
	t.mu.Lock()
	timer, active := t.outbound[room]
	if active {
		timer.Stop()
		delete(t.outbound, room)
	}
	t.mu.Unlock()

	if active {
		_ = t.emitter.SendTyping(context.Background(), room, false)
	}
}

func (t *TypingCoordinator) stopTyping(room RoomKey) {
	t.mu.Lock()
	delete(t.outbound, room)
	t.mu.Unlock()
	_ = t.emitter.SendTyping(context.Background(), room, false)
}

// ============================================================================
// Inbound
// ============================================================================

// Observe applies an inbound typing indicator. A stop event clears the room
// immediately; a start event stores the marker and schedules its expiry.
func (t *TypingCoordinator) Observe(p TypingPayload) {
	room, err := ParseRoomKey(p.Room)
	if err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !p.IsTyping {
		delete(t.inbound, room)
		return
	}

	state := TypingState{UserID: p.UserID, IsTyping: true, UpdatedAt: time.Now()}
	t.inbound[room] = state

	stamp := state.UpdatedAt
	time.AfterFunc(t.stale, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if current, ok := t.inbound[room]; ok && current.UpdatedAt.Equal(stamp) {
			delete(t.inbound, room)
		}
	})
}

// State returns the room's typing marker, if one is live. Markers older than
// the staleness window are treated as absent even before their expiry timer
// fires.
func (t *TypingCoordinator) State(room RoomKey) (TypingState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.inbound[room]
	if !ok || time.Since(state.UpdatedAt) > t.stale {
		return TypingState{}, false
	}
	return state, true
}
