package campuschat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// metaIdempotencyKey is the message meta field carrying the client-generated
// send token. The backend deduplicates retried sends on it.
const metaIdempotencyKey = "_idempotency_key"

// Gateway is the REST surface the engine needs; Client implements it.
type Gateway interface {
	ListChats(ctx context.Context) ([]ChatSession, error)
	ListGroupChats(ctx context.Context) ([]GroupChat, error)
	FetchRoomMessages(ctx context.Context, room RoomKey, opts *PageOptions) ([]Message, error)
	SendRoomMessage(ctx context.Context, room RoomKey, payload SendPayload, files []AttachmentFile) (*Message, error)
}

// RoomEmitter is the socket command surface the engine needs; Realtime
// implements it.
type RoomEmitter interface {
	JoinRoom(ctx context.Context, room RoomKey) error
	LeaveRoom(ctx context.Context, room RoomKey) error
	SendTyping(ctx context.Context, room RoomKey, isTyping bool) error
	SendReadReceipt(ctx context.Context, room RoomKey, messageIDs []string) error
}

// Notifier receives messages that arrive for rooms the user is not watching.
// Implementations decide how to surface them (desktop notification, terminal
// bell, nothing).
type Notifier interface {
	Notify(room RoomKey, msg Message)
}

type noopNotifier struct{}

func (noopNotifier) Notify(RoomKey, Message) {}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithNotifier installs a notifier for background messages.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithPageSize sets the history page size.
func WithPageSize(n int) EngineOption {
	return func(e *Engine) { e.pageSize = n }
}

// WithTypingWindows overrides the outbound idle and inbound staleness windows.
func WithTypingWindows(idle, stale time.Duration) EngineOption {
	return func(e *Engine) {
		e.typingIdle = idle
		e.typingStale = stale
	}
}

// Engine ties the REST gateway, the socket, and the client-side state
// together: one timeline cache, one session registry, one presence map, one
// window set, one typing coordinator. All socket events flow through its
// handlers; all user actions flow through its methods.
type Engine struct {
	gateway  Gateway
	emitter  RoomEmitter
	notifier Notifier
	userID   string

	pageSize    int
	typingIdle  time.Duration
	typingStale time.Duration

	Store    *MessageStore
	Registry *Registry
	Presence *PresenceTracker
	Windows  *WindowManager
	Typing   *TypingCoordinator
}

// NewEngine creates an engine for the given user backed by the gateway.
// Attach a Realtime (or any RoomEmitter) before opening windows so joins and
// typing indicators have somewhere to go; without one the engine still works
// in REST-only mode.
func NewEngine(gateway Gateway, userID string, opts ...EngineOption) *Engine {
	e := &Engine{
		gateway:  gateway,
		notifier: noopNotifier{},
		userID:   userID,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.Store = NewMessageStore(func(ctx context.Context, room RoomKey, po *PageOptions) ([]Message, error) {
		return gateway.FetchRoomMessages(ctx, room, po)
	}, e.pageSize)
	e.Registry = NewRegistry()
	e.Presence = NewPresenceTracker()
	e.Windows = NewWindowManager()
	e.Typing = NewTypingCoordinator(emitterFunc(e.sendTyping), e.typingIdle, e.typingStale)
	return e
}

// emitterFunc adapts a function to TypingEmitter.
type emitterFunc func(ctx context.Context, room RoomKey, isTyping bool) error

func (f emitterFunc) SendTyping(ctx context.Context, room RoomKey, isTyping bool) error {
	return f(ctx, room, isTyping)
}

func (e *Engine) sendTyping(ctx context.Context, room RoomKey, isTyping bool) error {
	if e.emitter == nil {
		return nil
	}
	return e.emitter.SendTyping(ctx, room, isTyping)
}

// UserID returns the engine's current user, as confirmed by the last
// handshake when a socket is attached.
func (e *Engine) UserID() string {
	return e.userID
}

// ============================================================================
// Socket Wiring
// ============================================================================

// Attach wires the engine's handlers into a Realtime connection and uses it
// for room commands. Call before Connect so the initial handshake snapshot is
// not missed.
func (e *Engine) Attach(rt *Realtime) {
	e.UseEmitter(rt)
	rt.OnConnectedEvent(e.HandleConnected)
	rt.OnStatus(e.HandleStatus)
	rt.OnTyping(e.HandleTyping)
	rt.OnMessageReceived(e.HandleMessageReceived)
	rt.OnReadReceipt(e.HandleReadReceipt)
}

// UseEmitter installs the socket command surface. Pass nil to drop back to
// REST-only mode.
func (e *Engine) UseEmitter(em RoomEmitter) {
	e.emitter = em
}

// HandleConnected applies the handshake snapshot: adopt the server-confirmed
// user id, seed presence, and rejoin every open window's room.
func (e *Engine) HandleConnected(p ConnectedPayload) {
	if p.UserID != "" {
		e.userID = p.UserID
	}
	e.Presence.Seed(p.OnlineUsers)
	e.rejoinOpenRooms()
}

// HandleStatus applies a presence delta.
func (e *Engine) HandleStatus(p StatusPayload) {
	e.Presence.SetOnline(p.UserID, p.Event == "online")
}

// HandleTyping applies an inbound typing indicator, ignoring echoes of our
// own.
func (e *Engine) HandleTyping(p TypingPayload) {
	if p.UserID == e.userID {
		return
	}
	e.Typing.Observe(p)
}

// HandleReadReceipt unions the reader into the listed messages' read sets.
func (e *Engine) HandleReadReceipt(p ReadReceiptPayload) {
	room, err := ParseRoomKey(p.Room)
	if err != nil {
		return
	}
	e.Store.UpdateReadState(room, p.MessageIDs, p.UserID)
}

// rejoinOpenRooms re-subscribes every open window's room. Room membership is
// connection-scoped on the server, so every (re)connect starts from zero.
func (e *Engine) rejoinOpenRooms() {
	if e.emitter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	for _, win := range e.Windows.Windows() {
		_ = e.emitter.JoinRoom(ctx, win.Key)
	}
}

// HandleMessageReceived folds a live message into the cache, refreshes the
// session registry, and applies the unread/notification discipline: our own
// echoes never count as unread, messages for the actively watched room are
// acknowledged immediately, everything else bumps the counter and notifies.
func (e *Engine) HandleMessageReceived(msg Message) {
	room := e.Store.AddMessage(msg)
	e.Registry.Touch(msg)
	e.Typing.Observe(TypingPayload{Room: room.String(), UserID: msg.SenderID, IsTyping: false})

	if msg.SenderID == e.userID {
		return
	}
	if e.Windows.IsActive(room) {
		e.acknowledge(room, []string{msg.ID})
		return
	}
	e.Windows.IncrementUnread(room)
	e.notifier.Notify(room, msg)
}

// acknowledge marks messages read locally and on the wire.
func (e *Engine) acknowledge(room RoomKey, messageIDs []string) {
	e.Store.UpdateReadState(room, messageIDs, e.userID)
	if e.emitter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	_ = e.emitter.SendReadReceipt(ctx, room, messageIDs)
}

// ============================================================================
// Sessions
// ============================================================================

// RefreshSessions reloads the direct and group session lists concurrently
// and replaces the registry contents.
func (e *Engine) RefreshSessions(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		chats, err := e.gateway.ListChats(ctx)
		if err != nil {
			return err
		}
		e.Registry.SetChats(chats)
		return nil
	})
	g.Go(func() error {
		groups, err := e.gateway.ListGroupChats(ctx)
		if err != nil {
			return err
		}
		e.Registry.SetGroupChats(groups)
		return nil
	})
	return g.Wait()
}

// ============================================================================
// Windows
// ============================================================================

// OpenWindow opens (or raises) the conversation window for a room, joins the
// room, loads the latest history page if none is cached, and clears the
// unread counter.
func (e *Engine) OpenWindow(ctx context.Context, cfg WindowConfig) error {
	e.Windows.Open(cfg)
	e.Windows.ClearUnread(cfg.Key)
	if e.emitter != nil {
		if err := e.emitter.JoinRoom(ctx, cfg.Key); err != nil {
			return err
		}
	}
	return e.Store.EnsureMessages(ctx, cfg.Key, false)
}

// CloseWindow closes the room's window, ends any typing burst, and leaves
// the room. Closing an unknown room is a no-op.
func (e *Engine) CloseWindow(ctx context.Context, key RoomKey) error {
	if !e.Windows.Close(key) {
		return nil
	}
	e.Typing.Stop(key)
	if e.emitter == nil {
		return nil
	}
	return e.emitter.LeaveRoom(ctx, key)
}

// FocusWindow raises and un-minimizes the window, zeroes its unread counter,
// and acknowledges cached messages we have not read yet.
func (e *Engine) FocusWindow(key RoomKey) {
	e.Windows.Focus(key)
	e.Windows.ClearUnread(key)

	var pending []string
	for _, msg := range e.Store.Messages(key) {
		if msg.SenderID != e.userID && !msg.ReadByUser(e.userID) {
			pending = append(pending, msg.ID)
		}
	}
	if len(pending) > 0 {
		e.acknowledge(key, pending)
	}
}

// ToggleMinimize flips the window's minimized state.
func (e *Engine) ToggleMinimize(key RoomKey) {
	e.Windows.ToggleMinimize(key)
}

// ============================================================================
// Messages
// ============================================================================

// EnsureMessages loads the room's latest page if nothing is cached yet.
func (e *Engine) EnsureMessages(ctx context.Context, room RoomKey) error {
	return e.Store.EnsureMessages(ctx, room, false)
}

// LoadOlder pages backwards from the oldest cached message.
func (e *Engine) LoadOlder(ctx context.Context, room RoomKey) error {
	return e.Store.EnsureMessages(ctx, room, false)
}

// ReloadMessages discards any in-flight fetch and replaces the room's cache
// with the most recent page.
func (e *Engine) ReloadMessages(ctx context.Context, room RoomKey) error {
	return e.Store.EnsureMessages(ctx, room, true)
}

// SendMessage sends a message to a room and folds the confirmed copy into
// local state. Each call carries a fresh idempotency token in meta so a
// gateway retry cannot produce a duplicate. On failure no local state
// changes; the caller retries explicitly.
func (e *Engine) SendMessage(ctx context.Context, room RoomKey, payload SendPayload, files []AttachmentFile) (*Message, error) {
	e.Typing.Stop(room)

	if payload.Meta == nil {
		payload.Meta = make(map[string]any, 1)
	}
	if _, ok := payload.Meta[metaIdempotencyKey]; !ok {
		payload.Meta[metaIdempotencyKey] = uuid.NewString()
	}

	msg, err := e.gateway.SendRoomMessage(ctx, room, payload, files)
	if err != nil {
		return nil, err
	}

	e.Store.AddMessage(*msg)
	e.Registry.Touch(*msg)
	// The sender has read their own message by definition.
	e.acknowledge(room, []string{msg.ID})
	return msg, nil
}
