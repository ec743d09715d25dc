package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/listlane/listlane/internal/listlane"
)

var (
	ErrInvalidFrame = errors.New("realtime: invalid frame")
	ErrNoToken      = errors.New("realtime: no token available")
	ErrChannelDown  = errors.New("realtime: channel is not open")
	ErrClosed       = errors.New("realtime: manager is closed")
)

// State is the connection lifecycle of the channel.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Handler consumes one inbound mutation event.
type Handler func(envelope Envelope)

type Options struct {
	// Endpoint is the websocket URL of the backend's event channel.
	Endpoint string
	Dialer   Dialer
	Tokens   TokenSource
	// Outbox buffers outbound events while the channel is down. Required.
	Outbox listlane.Outbox
	Logger listlane.Logger
	// ReconnectInterval is the fixed delay between reconnect attempts
	// while the channel is closed. Defaults to one second.
	ReconnectInterval time.Duration
	// Instance identifies this client on the wire so its own broadcasts
	// can be recognized and skipped. Defaults to a random id.
	Instance string
	// OnConnect fires after each successful dial, before the read loop
	// starts consuming frames.
	OnConnect func(ctx context.Context)
	// OnDisconnect fires when an open session drops or a dial fails.
	OnDisconnect func(err error)
}

// Manager owns the realtime channel: it dials, redials on a fixed interval
// while disconnected, routes inbound events to handlers, and diverts
// outbound events to the outbox whenever the channel is not open.
//
// The reconnect timer exists only between sessions. A successful dial
// returns control to the session loop, so no stale timer can fire during an
// open session and race a live connection.
type Manager struct {
	endpoint          string
	dialer            Dialer
	tokens            TokenSource
	outbox            listlane.Outbox
	logger            listlane.Logger
	reconnectInterval time.Duration
	instance          string
	onConnect         func(ctx context.Context)
	onDisconnect      func(err error)

	mu       sync.Mutex
	state    State
	conn     Conn
	handlers map[Kind]Handler
	cancel   context.CancelFunc
	done     chan struct{}
	started  bool
	closed   bool

	tsMu   sync.Mutex
	lastTs int64
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Outbox == nil {
		return nil, fmt.Errorf("%w: outbox is required", listlane.ErrInvalidInput)
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	interval := opts.ReconnectInterval
	if interval <= 0 {
		interval = time.Second
	}
	instance := opts.Instance
	if instance == "" {
		instance = uuid.NewString()
	}
	return &Manager{
		endpoint:          opts.Endpoint,
		dialer:            dialer,
		tokens:            opts.Tokens,
		outbox:            opts.Outbox,
		logger:            opts.Logger,
		reconnectInterval: interval,
		instance:          instance,
		onConnect:         opts.OnConnect,
		onDisconnect:      opts.OnDisconnect,
		state:             StateClosed,
		handlers:          map[Kind]Handler{},
	}, nil
}

// Instance returns this client's wire identity.
func (m *Manager) Instance() string {
	return m.instance
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Handle registers the handler for one event kind. Registration must happen
// before Connect.
func (m *Manager) Handle(kind Kind, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if handler == nil {
		delete(m.handlers, kind)
		return
	}
	m.handlers[kind] = handler
}

// Connect starts the session loop. It returns immediately; the loop runs
// until Close or the context ends.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = true
	m.mu.Unlock()

	go m.run(runCtx)
	return nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.cancel
	conn := m.conn
	done := m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
	return nil
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	for {
		if ctx.Err() != nil {
			m.setState(StateClosed, nil)
			return
		}
		m.setState(StateConnecting, nil)

		conn, err := m.dial(ctx)
		if err != nil {
			m.setState(StateClosed, nil)
			m.notifyDisconnect(err)
			if !m.waitReconnect(ctx) {
				return
			}
			continue
		}

		m.setState(StateOpen, conn)
		if m.onConnect != nil {
			m.onConnect(ctx)
		}

		err = m.readLoop(ctx, conn)
		_ = conn.Close()
		m.setState(StateClosed, nil)
		m.notifyDisconnect(err)

		if !m.waitReconnect(ctx) {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context) (Conn, error) {
	token := ""
	if m.tokens != nil {
		fetched, err := m.tokens.Token()
		if err != nil {
			return nil, err
		}
		token = fetched
	}
	return m.dialer.DialContext(ctx, m.endpoint, token)
}

// waitReconnect sleeps the fixed reconnect interval. It reports false when
// the context ended and the loop should stop.
func (m *Manager) waitReconnect(ctx context.Context) bool {
	timer := time.NewTimer(m.reconnectInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) error {
	for {
		raw, err := conn.ReadMessage(ctx)
		if err != nil {
			return err
		}
		m.dispatch(raw)
	}
}

func (m *Manager) dispatch(raw []byte) {
	envelope, err := DecodeFrame(raw)
	if err != nil {
		m.logf("dropping invalid frame: %v", err)
		return
	}
	kind, ok := envelope.Kind()
	if !ok {
		m.logf("dropping frame with unknown type %q", envelope.Type)
		return
	}
	if kind == KindError {
		var payload ErrorPayload
		_ = json.Unmarshal(envelope.Payload, &payload)
		m.logf("server reported error for instance %s: %s", envelope.Instance, payload.Message)
		return
	}
	// own broadcasts were already applied locally before sending
	if envelope.Instance == m.instance {
		return
	}
	m.mu.Lock()
	handler := m.handlers[kind]
	m.mu.Unlock()
	if handler == nil {
		m.logf("no handler for %s, frame ignored", kind)
		return
	}
	handler(envelope)
}

// Send transmits one event, or deposits it in the outbox when the channel
// is not open or the write fails mid-flight.
func (m *Manager) Send(ctx context.Context, kind Kind, payload any) error {
	envelope, err := NewEnvelope(kind, m.instance, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()

	if !open || conn == nil {
		return m.deposit(envelope)
	}
	if err := m.writeEnvelope(ctx, conn, envelope); err != nil {
		m.logf("channel write failed, deferring event: %v", err)
		return m.deposit(envelope)
	}
	return nil
}

func (m *Manager) writeEnvelope(ctx context.Context, conn Conn, envelope Envelope) error {
	if m.tokens != nil {
		token, err := m.tokens.Token()
		if err != nil {
			return err
		}
		envelope.JWT = token
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return conn.WriteMessage(ctx, raw)
}

// deposit stores the envelope without its token; replay attaches a fresh
// one.
func (m *Manager) deposit(envelope Envelope) error {
	envelope.JWT = ""
	raw, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	record := listlane.Envelope{
		EventID: uuid.NewString(),
		UtcTime: m.captureTimestamp(),
		Data:    string(raw),
	}
	if err := m.outbox.Append(record); err != nil {
		return fmt.Errorf("outbox append: %w", err)
	}
	return nil
}

// captureTimestamp returns strictly increasing UTC milliseconds so replay
// order matches deposit order even for events captured in the same
// millisecond.
func (m *Manager) captureTimestamp() int64 {
	m.tsMu.Lock()
	defer m.tsMu.Unlock()
	now := listlane.NowUTCMillis()
	if now <= m.lastTs {
		now = m.lastTs + 1
	}
	m.lastTs = now
	return now
}

// ResendOutbox replays every buffered event in capture order over the open
// channel. The outbox is cleared only after the whole batch went through,
// so a failure keeps the remainder for the next reconnect.
func (m *Manager) ResendOutbox(ctx context.Context) error {
	records, err := m.outbox.DrainSince(0)
	if err != nil {
		return fmt.Errorf("outbox drain: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()
	if !open || conn == nil {
		return ErrChannelDown
	}

	for _, record := range records {
		var envelope Envelope
		if err := json.Unmarshal([]byte(record.Data), &envelope); err != nil {
			m.logf("dropping undecodable outbox record %s: %v", record.EventID, err)
			continue
		}
		if err := m.writeEnvelope(ctx, conn, envelope); err != nil {
			return fmt.Errorf("replay event %s: %w", record.EventID, err)
		}
	}
	if err := m.outbox.Clear(); err != nil {
		return fmt.Errorf("outbox clear: %w", err)
	}
	m.logf("replayed %d buffered events", len(records))
	return nil
}

// OutboxDepth reports how many events await replay.
func (m *Manager) OutboxDepth() (int, error) {
	return m.outbox.Depth()
}

func (m *Manager) setState(state State, conn Conn) {
	m.mu.Lock()
	m.state = state
	m.conn = conn
	m.mu.Unlock()
}

func (m *Manager) notifyDisconnect(err error) {
	if m.onDisconnect == nil {
		return
	}
	m.onDisconnect(err)
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger == nil {
		return
	}
	m.logger.Printf(format, args...)
}
