package cwdtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// StatusCoder lets a VerifyClient error carry a specific HTTP status code
// through to the rejected upgrade response; errors that don't implement it
// default to 403 Forbidden.
type StatusCoder interface {
	StatusCode() int
}

// AcceptorConfig configures an Acceptor (§4.E).
type AcceptorConfig struct {
	// Path is the URL path this acceptor answers upgrade requests on. "*"
	// (the default) matches every path routed to it.
	Path string

	HeartbeatInterval time.Duration
	Timeouts          Timeouts
	SendQueueSize     int
	MaxFrameBytes     int64
	RateLimitEvents   int
	RateLimitWindow   time.Duration
	PerMessageDeflate bool

	GetClientIP  func(*http.Request) string
	HandleCORS   func(origin string) bool
	VerifyClient func(ctx context.Context, r *http.Request) error

	Logger  *slog.Logger
	Metrics *Metrics

	// Next receives requests whose path does not match Path, letting an
	// Acceptor share a mux with ordinary HTTP routes.
	Next http.Handler

	OnConnection         func(*Connection, *http.Request)
	OnRejectedHandshake  func(clientIP, code string)
	OnVerifyClientError  func(error)
	OnHandshakeTimeout   func(clientIP string)
	OnConnectionError    func(error)
	OnConnectionTimeout  func(*Connection)
}

func (cfg AcceptorConfig) withDefaults() AcceptorConfig {
	if cfg.Path == "" {
		cfg.Path = "*"
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Timeouts == (Timeouts{}) {
		cfg.Timeouts = DefaultTimeouts()
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = DefaultSendQueueSize
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if cfg.RateLimitEvents <= 0 {
		cfg.RateLimitEvents = DefaultRateLimitEvents
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = DefaultRateLimitWindow
	}
	if cfg.GetClientIP == nil {
		cfg.GetClientIP = defaultGetClientIP
	}
	if cfg.HandleCORS == nil {
		cfg.HandleCORS = func(string) bool { return false }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Acceptor screens incoming HTTP upgrade requests, completes the
// server-role handshake, and owns the fleet of resulting connections
// (§4.E). It implements http.Handler so it can be mounted directly on a
// *http.ServeMux.
type Acceptor struct {
	cfg   AcceptorConfig
	fleet *fleet

	mu        sync.Mutex
	attached  bool
	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewAcceptor constructs an Acceptor. Call Attach to mount it and start its
// heartbeat sweep.
func NewAcceptor(cfg AcceptorConfig) *Acceptor {
	return &Acceptor{cfg: cfg.withDefaults(), fleet: newFleet()}
}

// Attach mounts the acceptor on mux at its configured Path and starts the
// heartbeat sweep goroutine.
func (a *Acceptor) Attach(mux *http.ServeMux) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.attached {
		return errors.New("cwdtp: acceptor already attached")
	}
	pattern := a.cfg.Path
	if pattern == "*" || pattern == "" {
		pattern = "/"
	}
	mux.Handle(pattern, a)
	a.attached = true
	a.stopSweep = make(chan struct{})
	a.sweepDone = make(chan struct{})
	go a.heartbeatSweepLoop()
	return nil
}

// Detach stops the heartbeat sweep and disconnects every open connection in
// the fleet. It does not unmount the handler from the mux (net/http has no
// API for that); callers that need a full shutdown should stop accepting
// new HTTP connections at the listener level.
func (a *Acceptor) Detach() error {
	a.mu.Lock()
	if !a.attached {
		a.mu.Unlock()
		return nil
	}
	a.attached = false
	close(a.stopSweep)
	a.mu.Unlock()

	<-a.sweepDone
	return a.DisconnectAll("server shutting down")
}

// DisconnectAll starts a graceful Disconnect on every fleet member.
func (a *Acceptor) DisconnectAll(reason string) error {
	for _, c := range a.fleet.snapshot() {
		_ = c.Disconnect(context.Background(), CloseGoingAway, reason)
	}
	return nil
}

// FleetSize reports how many connections are currently OPEN or CLOSING.
func (a *Acceptor) FleetSize() int { return a.fleet.len() }

func (a *Acceptor) heartbeatSweepLoop() {
	defer close(a.sweepDone)
	t := time.NewTicker(a.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-a.stopSweep:
			return
		case <-t.C:
			for _, c := range a.fleet.snapshot() {
				select {
				case c.control <- heartbeatTickMsg{}:
				case <-c.done:
				}
			}
		}
	}
}

// ServeHTTP screens an upgrade request through the gates of §4.E in order:
// path, subprotocol, CORS, VerifyClient, then the WebSocket upgrade itself.
func (a *Acceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Path != "*" && r.URL.Path != a.cfg.Path {
		if a.cfg.Next != nil {
			a.cfg.Next.ServeHTTP(w, r)
			return
		}
		writeRawHTTPError(w, http.StatusNotFound)
		return
	}

	clientIP := a.cfg.GetClientIP(r)

	if !hasSubprotocol(r, Subprotocol) {
		a.reject(w, clientIP, http.StatusBadRequest, RejectCodeInvalidProto)
		return
	}

	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin != "" && !a.cfg.HandleCORS(origin) {
		a.reject(w, clientIP, http.StatusForbidden, RejectCodeCORSFailed)
		return
	}

	if a.cfg.VerifyClient != nil {
		if err := a.cfg.VerifyClient(r.Context(), r); err != nil {
			if a.cfg.OnVerifyClientError != nil {
				a.cfg.OnVerifyClientError(err)
			}
			a.reject(w, clientIP, statusFromVerifyError(err), RejectCodeVerifyFailed)
			return
		}
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:    []string{Subprotocol},
		CompressionMode: compressionMode(a.cfg.PerMessageDeflate),
	})
	if err != nil {
		a.reject(w, clientIP, http.StatusBadRequest, RejectCodeWSHandshakeFailed)
		return
	}

	opts := Options{
		Logger:          a.cfg.Logger,
		Metrics:         a.cfg.Metrics,
		Timeouts:        a.cfg.Timeouts,
		SendQueueSize:   a.cfg.SendQueueSize,
		MaxFrameBytes:   a.cfg.MaxFrameBytes,
		RateLimitEvents: a.cfg.RateLimitEvents,
		RateLimitWindow: a.cfg.RateLimitWindow,
	}.withDefaults()

	conn := acceptConnection(wsConn, opts)
	go a.watchConnection(conn, clientIP, r)
}

// watchConnection blocks until conn either opens or fails to, registers it
// in the fleet on success, and reports the outcome through the configured
// callbacks. Once registered it waits for the connection's eventual close
// to remove it again and surface a heartbeat-timeout specific callback.
func (a *Acceptor) watchConnection(conn *Connection, clientIP string, r *http.Request) {
	select {
	case <-conn.Opened():
		a.fleet.add(conn)
		if a.cfg.OnConnection != nil {
			a.cfg.OnConnection(conn, r)
		}
		<-conn.Done()
		a.fleet.remove(conn)
		if conn.CloseCode() == ClosePongTimeout && a.cfg.OnConnectionTimeout != nil {
			a.cfg.OnConnectionTimeout(conn)
		}

	case <-conn.Done():
		switch conn.State() {
		case StateTimedOut:
			if a.cfg.OnHandshakeTimeout != nil {
				a.cfg.OnHandshakeTimeout(clientIP)
			}
		default:
			if a.cfg.OnConnectionError != nil {
				a.cfg.OnConnectionError(fmt.Errorf("cwdtp: handshake failed: state=%s", conn.State()))
			}
		}
	}
}

func (a *Acceptor) reject(w http.ResponseWriter, clientIP string, status int, code string) {
	a.cfg.Metrics.incRejected(code)
	writeRawHTTPError(w, status)
	if a.cfg.OnRejectedHandshake != nil {
		a.cfg.OnRejectedHandshake(clientIP, code)
	}
}

// writeRawHTTPError mirrors §4.E's "write a raw HTTP response and destroy
// the socket" rejection model within net/http's handler abstraction: no
// upgrade occurs, the body is empty, and Connection: close tells net/http
// to tear the TCP connection down once the handler returns.
func writeRawHTTPError(w http.ResponseWriter, status int) {
	w.Header().Set("Connection", "close")
	w.WriteHeader(status)
}

func hasSubprotocol(r *http.Request, proto string) bool {
	for _, h := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(h, ",") {
			if strings.TrimSpace(p) == proto {
				return true
			}
		}
	}
	return false
}

func defaultGetClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func statusFromVerifyError(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusForbidden
}

func compressionMode(enabled bool) websocket.CompressionMode {
	if enabled {
		return websocket.CompressionContextTakeover
	}
	return websocket.CompressionDisabled
}
