package campuschat

import (
	"sync"
	"time"
)

// WindowConfig describes a conversation window to open.
type WindowConfig struct {
	Key    RoomKey
	Title  string
	Avatar string
	Meta   map[string]any
}

// Window is one open conversation pane. Windows are client-only and
// ephemeral; position in the manager's slice is the z-order (last is
// topmost).
type Window struct {
	Key         RoomKey
	Title       string
	Avatar      string
	Meta        map[string]any
	Minimized   bool
	CreatedAt   time.Time
	LastFocused time.Time
}

// WindowManager owns the ordered set of open conversation windows and their
// unread counters. It holds no network concerns: the engine pairs its
// transitions with join/leave and history fetches.
type WindowManager struct {
	mu      sync.Mutex
	windows []*Window
	unread  map[RoomKey]int
}

// NewWindowManager creates an empty manager.
func NewWindowManager() *WindowManager {
	return &WindowManager{unread: make(map[RoomKey]int)}
}

// Open adds a window for the room. If one is already open it un-minimizes
// it and moves it topmost instead. It reports whether a new window was
// created.
func (w *WindowManager) Open(cfg WindowConfig) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if win := w.raise(cfg.Key); win != nil {
		win.Minimized = false
		return false
	}

	w.windows = append(w.windows, &Window{
		Key:       cfg.Key,
		Title:     cfg.Title,
		Avatar:    cfg.Avatar,
		Meta:      cfg.Meta,
		CreatedAt: time.Now(),
	})
	return true
}

// Close removes the room's window. It reports whether a window existed; the
// engine leaves the room exactly when it did.
func (w *WindowManager) Close(key RoomKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, win := range w.windows {
		if win.Key == key {
			w.windows = append(w.windows[:i], w.windows[i+1:]...)
			return true
		}
	}
	return false
}

// ToggleMinimize flips the minimized flag without changing z-order.
func (w *WindowManager) ToggleMinimize(key RoomKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, win := range w.windows {
		if win.Key == key {
			win.Minimized = !win.Minimized
			return
		}
	}
}

// Focus un-minimizes the window, stamps LastFocused, and raises it topmost.
func (w *WindowManager) Focus(key RoomKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if win := w.raise(key); win != nil {
		win.Minimized = false
		win.LastFocused = time.Now()
	}
}

// raise moves the room's window to the end of the order and returns it.
// Caller holds the mutex.
func (w *WindowManager) raise(key RoomKey) *Window {
	for i, win := range w.windows {
		if win.Key == key {
			w.windows = append(append(w.windows[:i], w.windows[i+1:]...), win)
			return win
		}
	}
	return nil
}

// Windows returns the open windows in z-order, bottom to top.
func (w *WindowManager) Windows() []Window {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Window, 0, len(w.windows))
	for _, win := range w.windows {
		out = append(out, *win)
	}
	return out
}

// IsActive reports whether the room's window is open and not minimized, i.e.
// the user is presumed to be watching it.
func (w *WindowManager) IsActive(key RoomKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, win := range w.windows {
		if win.Key == key {
			return !win.Minimized
		}
	}
	return false
}

// IncrementUnread bumps the room's unread counter.
func (w *WindowManager) IncrementUnread(key RoomKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unread[key]++
}

// ClearUnread resets the room's unread counter to exactly zero.
func (w *WindowManager) ClearUnread(key RoomKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unread[key] = 0
}

// Unread returns the room's unread count.
func (w *WindowManager) Unread(key RoomKey) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unread[key]
}
