package campuschat

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the socket client. Reconnection is explicit and
// deliberate rather than inherited from library defaults: backoff, attempt
// cap, and jitter are all tunable here.
type RealtimeConfig struct {
	// URL is the socket endpoint, e.g. "wss://campus.example.com/socket".
	// http(s) schemes are rewritten to ws(s).
	URL   string
	Token string

	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// ConnState is the connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// EventHandler is the generic handler for unrecognized event types.
type EventHandler func(event string, data json.RawMessage)

type eventDispatcher struct {
	mu             sync.RWMutex
	generic        map[string][]EventHandler
	onConnectedEv  []func(ConnectedPayload)
	onStatus       []func(StatusPayload)
	onTyping       []func(TypingPayload)
	onMessage      []func(Message)
	onReadReceipt  []func(ReadReceiptPayload)
	onConnected    []func()
	onDisconnected []func(reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{
		generic: make(map[string][]EventHandler),
	}
}

func (d *eventDispatcher) dispatch(env Envelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch env.Event {
	case "connected":
		var p ConnectedPayload
		if json.Unmarshal(env.Data, &p) == nil {
			for _, h := range d.onConnectedEv {
				h(p)
			}
		}
	case "status":
		var p StatusPayload
		if json.Unmarshal(env.Data, &p) == nil {
			for _, h := range d.onStatus {
				h(p)
			}
		}
	case "typing_indicator":
		var p TypingPayload
		if json.Unmarshal(env.Data, &p) == nil {
			for _, h := range d.onTyping {
				h(p)
			}
		}
	case "message_received":
		var m Message
		if json.Unmarshal(env.Data, &m) == nil {
			for _, h := range d.onMessage {
				h(m)
			}
		}
	case "read_receipt":
		var p ReadReceiptPayload
		if json.Unmarshal(env.Data, &p) == nil {
			for _, h := range d.onReadReceipt {
				h(p)
			}
		}
	}

	for _, h := range d.generic[env.Event] {
		h(env.Event, env.Data)
	}
}

func (d *eventDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (d *eventDispatcher) emitDisconnected(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	// A minute of stable connection earns a fresh attempt budget.
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// Realtime client
// ============================================================================

// Realtime is the single socket connection for a signed-in user. Connect is
// idempotent; Disconnect tears the connection down and suppresses reconnects.
// Room membership is connection-scoped on the server, so after every
// (re)connect the engine re-joins the rooms of all open windows via the
// OnConnected meta-event.
type Realtime struct {
	config           RealtimeConfig
	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnState
	intentionalClose bool
	cancelFn         context.CancelFunc
	dispatcher       *eventDispatcher
	recon            *reconnector
}

// NewRealtime creates a socket client. Call Connect to establish the
// connection.
func NewRealtime(config RealtimeConfig) *Realtime {
	config.defaults()
	return &Realtime{
		config:     config,
		state:      StateDisconnected,
		dispatcher: newEventDispatcher(),
		recon:      newReconnector(&config),
	}
}

// OnConnectedEvent registers a handler for the server's initial snapshot
// (user id plus the online-user list).
func (rt *Realtime) OnConnectedEvent(h func(ConnectedPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onConnectedEv = append(rt.dispatcher.onConnectedEv, h)
	rt.dispatcher.mu.Unlock()
}

// OnStatus registers a handler for presence deltas.
func (rt *Realtime) OnStatus(h func(StatusPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onStatus = append(rt.dispatcher.onStatus, h)
	rt.dispatcher.mu.Unlock()
}

// OnTyping registers a handler for inbound typing indicators.
func (rt *Realtime) OnTyping(h func(TypingPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onTyping = append(rt.dispatcher.onTyping, h)
	rt.dispatcher.mu.Unlock()
}

// OnMessageReceived registers a handler for live messages.
func (rt *Realtime) OnMessageReceived(h func(Message)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onMessage = append(rt.dispatcher.onMessage, h)
	rt.dispatcher.mu.Unlock()
}

// OnReadReceipt registers a handler for inbound read receipts.
func (rt *Realtime) OnReadReceipt(h func(ReadReceiptPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onReadReceipt = append(rt.dispatcher.onReadReceipt, h)
	rt.dispatcher.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event. It fires
// after every successful handshake, including reconnects.
func (rt *Realtime) OnConnected(h func()) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onConnected = append(rt.dispatcher.onConnected, h)
	rt.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (rt *Realtime) OnDisconnected(h func(reason string)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onDisconnected = append(rt.dispatcher.onDisconnected, h)
	rt.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (rt *Realtime) OnReconnecting(h func(attempt int, delay time.Duration)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onReconnecting = append(rt.dispatcher.onReconnecting, h)
	rt.dispatcher.mu.Unlock()
}

// On registers a generic event handler.
func (rt *Realtime) On(event string, h EventHandler) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.generic[event] = append(rt.dispatcher.generic[event], h)
	rt.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (rt *Realtime) State() ConnState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// Connect establishes the socket connection and performs the auth handshake.
// Calling it while connected or connecting is a no-op.
func (rt *Realtime) Connect(ctx context.Context) error {
	rt.mu.Lock()
	if rt.state == StateConnected || rt.state == StateConnecting {
		rt.mu.Unlock()
		return nil
	}
	rt.state = StateConnecting
	rt.intentionalClose = false
	rt.mu.Unlock()

	wsURL := strings.Replace(rt.config.URL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	if rt.config.Token != "" {
		sep := "?"
		if strings.Contains(wsURL, "?") {
			sep = "&"
		}
		wsURL += sep + "token=" + rt.config.Token
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		rt.setState(StateDisconnected)
		return fmt.Errorf("socket dial: %w", err)
	}

	// The server acknowledges the handshake with a "connected" snapshot;
	// anything else means auth failed.
	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		rt.setState(StateDisconnected)
		return fmt.Errorf("read handshake: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event != "connected" {
		conn.Close(websocket.StatusNormalClosure, "")
		rt.setState(StateDisconnected)
		return fmt.Errorf("expected 'connected' handshake, got %q", env.Event)
	}

	rt.mu.Lock()
	rt.conn = conn
	rt.state = StateConnected
	rt.mu.Unlock()
	rt.recon.markConnected()

	rt.dispatcher.dispatch(env)
	rt.dispatcher.emitConnected()

	connCtx, cancel := context.WithCancel(context.Background())
	rt.mu.Lock()
	rt.cancelFn = cancel
	rt.mu.Unlock()

	go rt.readLoop(connCtx)
	go rt.heartbeatLoop(connCtx)

	return nil
}

// Disconnect closes the connection and disables reconnection until the next
// explicit Connect.
func (rt *Realtime) Disconnect() error {
	rt.mu.Lock()
	rt.intentionalClose = true
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	conn := rt.conn
	rt.conn = nil
	rt.state = StateDisconnected
	rt.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	rt.dispatcher.emitDisconnected("client disconnect")
	return nil
}

func (rt *Realtime) setState(s ConnState) {
	rt.mu.Lock()
	rt.state = s
	rt.mu.Unlock()
}

// ============================================================================
// Commands
// ============================================================================

// JoinRoom asks the server to add this connection to the room. Membership is
// connection-scoped: it must be re-sent after every reconnect.
func (rt *Realtime) JoinRoom(ctx context.Context, room RoomKey) error {
	if room.Kind == RoomGroup {
		return rt.send(ctx, "join_group", joinPayload{GroupID: room.ID})
	}
	return rt.send(ctx, "join_chat", joinPayload{ChatID: room.ID})
}

// LeaveRoom removes this connection from the room.
func (rt *Realtime) LeaveRoom(ctx context.Context, room RoomKey) error {
	if room.Kind == RoomGroup {
		return rt.send(ctx, "leave_group", joinPayload{GroupID: room.ID})
	}
	return rt.send(ctx, "leave_chat", joinPayload{ChatID: room.ID})
}

// SendTyping emits a typing indicator for the room.
func (rt *Realtime) SendTyping(ctx context.Context, room RoomKey, isTyping bool) error {
	return rt.send(ctx, "typing_indicator", TypingPayload{Room: room.String(), IsTyping: isTyping})
}

// SendReadReceipt marks the given message ids read by this user.
func (rt *Realtime) SendReadReceipt(ctx context.Context, room RoomKey, messageIDs []string) error {
	return rt.send(ctx, "read_receipt", ReadReceiptPayload{Room: room.String(), MessageIDs: messageIDs})
}

func (rt *Realtime) send(ctx context.Context, event string, data any) error {
	rt.mu.Lock()
	conn := rt.conn
	rt.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

// ============================================================================
// Loops
// ============================================================================

func (rt *Realtime) readLoop(ctx context.Context) {
	for {
		rt.mu.Lock()
		conn := rt.conn
		rt.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.mu.Lock()
			intentional := rt.intentionalClose
			rt.mu.Unlock()
			if intentional {
				return
			}

			rt.mu.Lock()
			rt.state = StateDisconnected
			rt.conn = nil
			rt.mu.Unlock()

			rt.dispatcher.emitDisconnected(err.Error())

			if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
				go rt.scheduleReconnect()
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		rt.dispatcher.dispatch(env)
	}
}

func (rt *Realtime) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(rt.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.mu.Lock()
			conn := rt.conn
			connected := rt.state == StateConnected
			rt.mu.Unlock()
			if !connected || conn == nil {
				return
			}

			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				// Dead connection; closing it lets readLoop run the
				// reconnect path.
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (rt *Realtime) scheduleReconnect() {
	for {
		delay := rt.recon.nextDelay()
		rt.setState(StateReconnecting)
		rt.dispatcher.emitReconnecting(rt.recon.attempt, delay)

		time.Sleep(delay)

		rt.mu.Lock()
		if rt.intentionalClose {
			rt.state = StateDisconnected
			rt.mu.Unlock()
			return
		}
		// Connect checks state itself; reset so it is not a no-op.
		rt.state = StateDisconnected
		rt.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := rt.Connect(ctx)
		cancel()
		if err == nil {
			return
		}
		if !rt.config.AutoReconnect || !rt.recon.shouldReconnect() {
			rt.setState(StateDisconnected)
			return
		}
	}
}
