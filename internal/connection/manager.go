// Package connection owns the chat socket lifecycle: connect, detect close,
// reconnect with capped exponential backoff, and report state transitions.
package connection

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"classchat/internal/hub"
	"classchat/internal/metrics"
	"classchat/pkg/interfaces"
	"classchat/pkg/log"
	"classchat/pkg/types"
)

// Options configures a Manager
type Options struct {
	UserID      int64
	Token       string
	BaseDelay   time.Duration // First reconnect delay, doubled per attempt
	MaxDelay    time.Duration // Backoff cap
	MaxAttempts int           // Automatic reconnects before giving up
	DialTimeout time.Duration
}

// DefaultOptions returns 1s base delay, 30s cap and 5 attempts
func DefaultOptions() Options {
	return Options{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
		DialTimeout: 15 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = d.MaxDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = d.DialTimeout
	}
	return o
}

// Manager keeps at most one live socket for the current credentials
// ARCHITECTURAL DISCOVERY: gen identifies the current socket lifetime. Every
// dial, read loop and reconnect timer captures it, and any of them observing
// a newer gen discards its result, so a Disconnect racing a dial or a stale
// timer can never resurrect a second socket.
type Manager struct {
	opts   Options
	dialer interfaces.Dialer
	clock  interfaces.Clock
	log    zerolog.Logger
	states *hub.Hub[types.StateEvent]

	mu         sync.Mutex
	userID     int64
	token      string
	state      types.ConnectionState
	socket     interfaces.Socket
	attempts   int
	timer      interfaces.Timer
	dialCancel context.CancelFunc
	gen        uint64
	onFrame    func([]byte)
	closed     bool
}

// NewManager creates an idle manager. Nothing is dialed until Connect.
func NewManager(opts Options, dialer interfaces.Dialer, clock interfaces.Clock) *Manager {
	opts = opts.withDefaults()
	logger := log.WithComponent("connection")
	return &Manager{
		opts:   opts,
		dialer: dialer,
		clock:  clock,
		log:    logger,
		states: hub.New[types.StateEvent]("connection-state", logger),
		userID: opts.UserID,
		token:  opts.Token,
		state:  types.StateIdle,
	}
}

// SetCredentials replaces the credentials used by the next dial.
// A live socket is left untouched.
func (m *Manager) SetCredentials(userID int64, token string) {
	m.mu.Lock()
	m.userID = userID
	m.token = token
	m.mu.Unlock()
}

// HandleFrames installs the callback that receives every inbound text frame.
// It runs on the socket's read goroutine, one frame at a time, in arrival order.
func (m *Manager) HandleFrames(fn func([]byte)) {
	m.mu.Lock()
	m.onFrame = fn
	m.mu.Unlock()
}

// SubscribeState registers fn for every state transition and returns its unsubscribe function
func (m *Manager) SubscribeState(fn func(types.StateEvent)) func() {
	return m.states.Subscribe(fn)
}

func (m *Manager) State() types.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) IsConnected() bool {
	return m.State() == types.StateOpen
}

// Attempts returns the reconnect attempt counter
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Connect dials the endpoint with the current credentials and blocks until the
// socket is open or the dial fails. Missing credentials make it a no-op, as
// does calling it while a socket is already open or being dialed. A failed
// dial is handled like a socket close, so it may schedule a reconnect.
func (m *Manager) Connect(ctx context.Context) error {
	return m.connect(ctx, false)
}

// Reconnect resets the attempt counter and dials immediately, cancelling any
// pending backoff timer. It does nothing while a socket is open.
func (m *Manager) Reconnect(ctx context.Context) error {
	return m.connect(ctx, true)
}

func (m *Manager) connect(ctx context.Context, manual bool) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.userID <= 0 || m.token == "" {
		m.mu.Unlock()
		m.log.Debug().Msg("Connect skipped: no credentials")
		return nil
	}
	if m.state == types.StateOpen || m.state == types.StateConnecting {
		m.mu.Unlock()
		return nil
	}
	if manual {
		m.attempts = 0
	}
	gen, userID, token := m.beginDialLocked()
	m.mu.Unlock()
	m.states.Flush()

	return m.dial(ctx, gen, userID, token)
}

// beginDialLocked starts a new socket lifetime and moves to Connecting
func (m *Manager) beginDialLocked() (uint64, int64, string) {
	m.stopTimerLocked()
	m.gen++
	m.setStateLocked(types.StateConnecting, 0, 0)
	return m.gen, m.userID, m.token
}

func (m *Manager) dial(parent context.Context, gen uint64, userID int64, token string) error {
	ctx, cancel := context.WithTimeout(parent, m.opts.DialTimeout)
	defer cancel()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return ErrConnectAborted
	}
	m.dialCancel = cancel
	m.mu.Unlock()

	logger := m.log.With().Int64("user_id", userID).Logger()
	logger.Debug().Int("attempt", m.Attempts()).Msg("Dialing chat socket")

	sock, err := m.dialer.Dial(ctx, userID, token)

	m.mu.Lock()
	m.dialCancel = nil
	if gen != m.gen {
		m.mu.Unlock()
		if sock != nil {
			_ = sock.Close()
		}
		return ErrConnectAborted
	}

	if err != nil {
		code := types.CloseCode(err)
		logger.Warn().Err(err).Int("close_code", code).Msg("Chat socket dial failed")
		m.handleCloseLocked(code)
		m.mu.Unlock()
		m.states.Flush()
		return fmt.Errorf("connect chat socket: %w", err)
	}

	m.socket = sock
	m.attempts = 0
	m.setStateLocked(types.StateOpen, 0, 0)
	go m.readLoop(sock, gen)
	m.mu.Unlock()
	m.states.Flush()

	logger.Info().Msg("Chat socket open")
	return nil
}

// readLoop is the only reader of sock. Frames are handed to the frame
// callback outside the manager lock so handlers may call Send.
func (m *Manager) readLoop(sock interfaces.Socket, gen uint64) {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			m.socketClosed(sock, gen, err)
			return
		}

		m.mu.Lock()
		current := gen == m.gen
		handler := m.onFrame
		m.mu.Unlock()

		if !current {
			return
		}
		if handler != nil {
			handler(data)
		}
	}
}

func (m *Manager) socketClosed(sock interfaces.Socket, gen uint64, err error) {
	_ = sock.Close()

	m.mu.Lock()
	if gen != m.gen {
		// Disconnect or a newer dial already took over
		m.mu.Unlock()
		return
	}
	m.socket = nil
	code := types.CloseCode(err)
	m.log.Warn().Err(err).Int("close_code", code).Msg("Chat socket closed")
	m.handleCloseLocked(code)
	m.mu.Unlock()
	m.states.Flush()
}

// handleCloseLocked moves to Closed and schedules the next automatic attempt
// unless the server rejected the credentials or the attempts are used up.
func (m *Manager) handleCloseLocked(code int) {
	metrics.SocketClosesTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	m.setStateLocked(types.StateClosed, code, 0)

	if code == types.CloseAuthRejected {
		m.log.Warn().Int("close_code", code).Msg("Authentication rejected, not reconnecting")
		return
	}
	if m.attempts >= m.opts.MaxAttempts {
		m.log.Warn().Int("attempt", m.attempts).Msg("Reconnect attempts exhausted")
		return
	}

	delay := m.backoff(m.attempts)
	m.attempts++
	gen := m.gen
	m.setStateLocked(types.StateReconnecting, code, delay)
	m.timer = m.clock.AfterFunc(delay, func() { m.reconnectDue(gen) })

	metrics.ReconnectAttemptsTotal.Inc()
	m.log.Info().Int("attempt", m.attempts).Dur("delay", delay).Msg("Reconnect scheduled")
}

// backoff returns min(BaseDelay * 2^attempt, MaxDelay)
func (m *Manager) backoff(attempt int) time.Duration {
	delay := m.opts.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= m.opts.MaxDelay {
			return m.opts.MaxDelay
		}
	}
	if delay > m.opts.MaxDelay {
		return m.opts.MaxDelay
	}
	return delay
}

func (m *Manager) reconnectDue(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.closed || m.state != types.StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	if m.userID <= 0 || m.token == "" {
		m.setStateLocked(types.StateClosed, 0, 0)
		m.mu.Unlock()
		m.states.Flush()
		return
	}
	// Credentials are read now, not when the timer was armed
	gen, userID, token := m.beginDialLocked()
	m.mu.Unlock()
	m.states.Flush()

	_ = m.dial(context.Background(), gen, userID, token)
}

// Send writes v as one frame. It returns types.ErrNotConnected, possibly
// wrapping the write error, when the socket is not open.
func (m *Manager) Send(v interface{}) error {
	m.mu.Lock()
	sock := m.socket
	open := m.state == types.StateOpen
	m.mu.Unlock()

	if !open || sock == nil {
		return types.ErrNotConnected
	}
	if err := sock.WriteJSON(v); err != nil {
		m.log.Warn().Err(err).Msg("Socket write failed")
		return fmt.Errorf("%w: %v", types.ErrNotConnected, err)
	}
	return nil
}

// Disconnect cancels any pending reconnect or dial, closes the socket and
// moves to Closed. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	sock := m.disconnectLocked()
	m.mu.Unlock()
	m.states.Flush()

	if sock != nil {
		_ = sock.Close()
	}
}

// disconnectLocked ends the current socket lifetime. The next Connect starts
// with a full set of automatic attempts.
func (m *Manager) disconnectLocked() interfaces.Socket {
	m.gen++
	m.attempts = 0
	m.stopTimerLocked()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	sock := m.socket
	m.socket = nil
	if m.state != types.StateClosed {
		m.setStateLocked(types.StateClosed, types.CloseNormal, 0)
		m.log.Info().Msg("Chat socket disconnected")
	}
	return sock
}

// Close disconnects and disposes the manager. Later Connect calls fail with ErrManagerClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.onFrame = nil
	sock := m.disconnectLocked()
	m.mu.Unlock()
	m.states.Flush()

	if sock != nil {
		return sock.Close()
	}
	return nil
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) setStateLocked(state types.ConnectionState, code int, delay time.Duration) {
	old := m.state
	m.state = state
	metrics.SetConnectionState(state)
	m.states.Enqueue(types.StateEvent{
		Old:       old,
		New:       state,
		CloseCode: code,
		Attempt:   m.attempts,
		Delay:     delay,
	})
}
