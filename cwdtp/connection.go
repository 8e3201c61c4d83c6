package cwdtp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Role distinguishes which side of the handshake a Connection plays (§4.D).
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// State is the Connection lifecycle state machine (§3).
type State int32

const (
	StateOpening State = iota
	StateOpen
	StateClosing
	StateClosed
	StateError
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "OPENING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateError:
		return "ERROR"
	case StateTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// terminal reports whether a connection in this state will never transition
// again (the invariant backing "ignore frames once terminal").
func (s State) terminal() bool {
	switch s {
	case StateClosed, StateError, StateTimedOut:
		return true
	default:
		return false
	}
}

// Connection is one symmetric, event-driven, message-oriented CWDTP
// connection layered atop a single WebSocket (§3, §5). All of its mutable
// state is owned by a single loop goroutine started at construction; the
// handful of fields guarded by mu exist purely so ID()/State()/CloseCode()
// can be read safely from other goroutines.
type Connection struct {
	role    Role
	sock    wsSocket
	log     *slog.Logger
	metrics *Metrics

	timeouts      Timeouts
	maxFrameBytes int64
	limiter       *RateLimiter
	router        *router

	hooks struct {
		onOpen    func(*Connection)
		onClosing func(*Connection, string)
		onClose   func(*Connection, bool, string)
		onError   func(*Connection, error)
	}

	mu        sync.Mutex
	state     State
	id        string
	isAlive   bool
	closeCode int

	reqKey string // set only for RoleClient

	outbox  chan sendRequest
	control chan any
	opened  chan struct{}
	done    chan struct{}

	cancelRun context.CancelFunc
}

type sendRequest struct {
	env    Envelope
	result chan error
}

type frameMsg struct {
	binary bool
	data   []byte
	err    error
}

type disconnectMsg struct {
	code   int
	reason string
	result chan error
}

type terminateMsg struct {
	code   int
	reason string
	result chan error
}

type heartbeatTickMsg struct{}

func newConnection(role Role, sock wsSocket, opts Options) *Connection {
	c := &Connection{
		role:          role,
		sock:          sock,
		log:           opts.Logger,
		metrics:       opts.Metrics,
		timeouts:      opts.Timeouts,
		maxFrameBytes: opts.MaxFrameBytes,
		limiter:       NewRateLimiter(opts.RateLimitEvents, opts.RateLimitWindow),
		router:        newRouter(),
		state:         StateOpening,
		outbox:        make(chan sendRequest, opts.SendQueueSize),
		control:       make(chan any, 32),
		opened:        make(chan struct{}),
		done:          make(chan struct{}),
	}
	c.hooks.onOpen = opts.OnOpen
	c.hooks.onClosing = opts.OnClosing
	c.hooks.onClose = opts.OnClose
	c.hooks.onError = opts.OnError
	return c
}

// ID returns the server-assigned connection identifier. It is empty until
// the identifier is known: a server-role connection sets it when it answers
// the client-hello, a client-role connection when it accepts the
// server-hello.
func (c *Connection) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Connection) setID(id string) {
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// CloseCode returns the WebSocket close code this connection was (or will
// be) closed with. Only meaningful once Done() is closed.
func (c *Connection) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

func (c *Connection) setCloseCode(code int) {
	c.mu.Lock()
	c.closeCode = code
	c.mu.Unlock()
}

func (c *Connection) markAlive(alive bool) {
	c.mu.Lock()
	c.isAlive = alive
	c.mu.Unlock()
}

func (c *Connection) wasAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isAlive
}

// Role reports which side of the handshake this Connection plays.
func (c *Connection) Role() Role { return c.role }

// Done is closed once the connection has reached a terminal state and the
// underlying WebSocket has been closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// QueueDepth reports how many application Send calls are currently queued
// waiting for the loop goroutine to write them (domain-stack addition,
// mirroring the teacher's bounded send-queue observability).
func (c *Connection) QueueDepth() int { return len(c.outbox) }

// On registers handler for a non-reserved event name (§4.C). Re-registering
// the same event name replaces the previous handler.
func (c *Connection) On(event string, handler MessageHandler) error {
	return c.router.on(event, handler)
}

// Send encodes args and enqueues them for delivery under event. It fails
// with ErrNotConnected if the connection is not OPEN, and with
// ErrBackpressure if the outbound queue is saturated.
func (c *Connection) Send(ctx context.Context, event string, args ...any) error {
	if err := ValidateEventName(event); err != nil {
		return err
	}
	if c.State() != StateOpen {
		return fmt.Errorf("cwdtp: send %q: %w", event, ErrNotConnected)
	}
	encoded, err := encodeArgs(args)
	if err != nil {
		return err
	}
	env := newEnvelope(event, nil, encoded)
	result := make(chan error, 1)
	req := sendRequest{env: env, result: result}

	select {
	case c.outbox <- req:
	case <-c.done:
		return fmt.Errorf("cwdtp: send %q: %w", event, ErrNotConnected)
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("cwdtp: send %q: %w", event, ErrBackpressure)
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("cwdtp: send %q: %w", event, ErrNotConnected)
	}
}

// Disconnect starts the graceful closing handshake (§4.D). It returns once
// the close envelope has been sent; the connection finishes closing
// asynchronously and Done() reports completion.
func (c *Connection) Disconnect(ctx context.Context, code int, reason string) error {
	result := make(chan error, 1)
	select {
	case c.control <- disconnectMsg{code: code, reason: reason, result: result}:
	case <-c.done:
		return nil
	}
	select {
	case err := <-result:
		return err
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate forcibly closes the underlying WebSocket without the closing
// handshake. Idempotent: calling it on an already-terminal connection is a
// no-op.
func (c *Connection) Terminate(code int, reason string) error {
	result := make(chan error, 1)
	select {
	case c.control <- terminateMsg{code: code, reason: reason, result: result}:
	case <-c.done:
		return nil
	}
	select {
	case err := <-result:
		return err
	case <-c.done:
		return nil
	}
}

func (c *Connection) readLoop(ctx context.Context) {
	for {
		binary, data, err := c.sock.Read(ctx)
		select {
		case c.control <- frameMsg{binary: binary, data: data, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Connection) writeEnvelope(ctx context.Context, env Envelope) error {
	b, err := marshalEnvelope(env)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.sock.Write(wctx, b)
}

func (c *Connection) invokeOnOpen() {
	c.log.Info("cwdtp.open", "role", c.role.String(), "id", c.ID())
	if c.hooks.onOpen != nil {
		c.hooks.onOpen(c)
	}
}

func (c *Connection) invokeOnClosing(reason string) {
	c.log.Info("cwdtp.closing", "role", c.role.String(), "id", c.ID(), "reason", reason)
	if c.hooks.onClosing != nil {
		c.hooks.onClosing(c, reason)
	}
}

func (c *Connection) invokeOnClose(wasError bool, reason string) {
	c.log.Info("cwdtp.close", "role", c.role.String(), "id", c.ID(), "was_error", wasError, "reason", reason)
	if c.hooks.onClose != nil {
		c.hooks.onClose(c, wasError, reason)
	}
}

func (c *Connection) invokeOnError(err error) {
	c.log.Warn("cwdtp.error", "role", c.role.String(), "id", c.ID(), "err", err)
	if c.hooks.onError != nil {
		c.hooks.onError(c, err)
	}
}

func closeTimerChan(t *oneShotTimer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}
