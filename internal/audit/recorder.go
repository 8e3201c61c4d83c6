package audit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/colonialwars-lib/cwdtp-engine/cwdtp"
)

// Recorder wires a Store into a cwdtp.Acceptor's and cwdtp.Options lifecycle
// hooks. It has no opinion on transport; it only turns hook invocations into
// AppendEvent calls, logging (not failing) any persistence error so a flaky
// audit store never takes down a live connection.
type Recorder struct {
	store Store
	log   *slog.Logger
}

// NewRecorder returns a Recorder backed by store. A nil logger discards logs.
func NewRecorder(store Store, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Recorder{store: store, log: log}
}

// OnConnection is a cwdtp.AcceptorConfig.OnConnection hook: it records that a
// connection finished its opening handshake.
func (rec *Recorder) OnConnection(c *cwdtp.Connection, r *http.Request) {
	rec.append(c.ID(), c.Role().String(), EventOpened, "", peerIP(r))
}

// Watch is a convenience cwdtp.AcceptorConfig.OnConnection hook that records
// the open event and then, in the background, waits for the connection to
// finish closing and records that too. Acceptor has no per-connection
// OnClose hook of its own, so this is the only way to capture a connection's
// full lifecycle through a Store.
func (rec *Recorder) Watch(c *cwdtp.Connection, r *http.Request) {
	rec.OnConnection(c, r)
	go func() {
		<-c.Done()
		wasError := c.State() == cwdtp.StateError || c.State() == cwdtp.StateTimedOut
		reason := fmt.Sprintf("state=%s close_code=%d", c.State(), c.CloseCode())
		rec.OnClose(c, wasError, reason)
	}()
}

// OnConnectionTimeout is a cwdtp.AcceptorConfig.OnConnectionTimeout hook: it
// records a pong-timeout initiated close.
func (rec *Recorder) OnConnectionTimeout(c *cwdtp.Connection) {
	rec.append(c.ID(), c.Role().String(), EventPongTimeout, "heartbeat pong timeout", "")
}

// OnHandshakeTimeout is a cwdtp.AcceptorConfig.OnHandshakeTimeout hook: it
// records that a connection never completed its opening handshake in time.
func (rec *Recorder) OnHandshakeTimeout(clientIP string) {
	rec.append("", "server", EventHandshakeTimeout, "opening handshake timeout", clientIP)
}

// OnConnectionError is a cwdtp.AcceptorConfig.OnConnectionError hook.
func (rec *Recorder) OnConnectionError(err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	rec.append("", "server", EventConnectionError, reason, "")
}

// OnClose is a cwdtp.Options.OnClose hook: it records the final disposition
// of a connection once its loop has fully exited.
func (rec *Recorder) OnClose(c *cwdtp.Connection, wasError bool, reason string) {
	rec.append(c.ID(), c.Role().String(), EventClosed, reason, "")
}

func (rec *Recorder) append(connID, role string, kind EventKind, reason, ip string) {
	if rec == nil || rec.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := rec.store.AppendEvent(ctx, AppendEventInput{
		ConnID: connID,
		Role:   role,
		Kind:   kind,
		Reason: reason,
		PeerIP: ip,
		Now:    time.Now().UTC(),
	})
	if err != nil {
		rec.log.Warn("audit: failed to record connection event",
			"conn_id", connID, "kind", kind, "error", err)
		return
	}
	rec.log.Info("cwdtp.connection",
		"conn_id", connID, "role", role, "kind", string(kind), "reason", reason, "peer_ip", ip)
}

func peerIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
