package cwdtp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func startAcceptorServer(t *testing.T, cfg AcceptorConfig) (*httptest.Server, *Acceptor) {
	t.Helper()
	a := NewAcceptor(cfg)
	mux := http.NewServeMux()
	if err := a.Attach(mux); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		_ = a.Detach()
		ts.Close()
	})
	return ts, a
}

func TestHandshakeAndMessageRoundTrip(t *testing.T) {
	opened := make(chan *Connection, 1)
	received := make(chan []any, 1)

	ts, _ := startAcceptorServer(t, AcceptorConfig{
		HeartbeatInterval: time.Hour, // keep the sweep out of this test's way
		OnConnection: func(c *Connection, r *http.Request) {
			_ = c.On("ping-game", func(args []any) { received <- args })
			opened <- c
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, wsURL(ts.URL), Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Terminate(CloseNormal, "test done")

	select {
	case <-client.Opened():
	case <-time.After(5 * time.Second):
		t.Fatal("client never reached OPEN")
	}

	var server *Connection
	select {
	case server = <-opened:
	case <-time.After(5 * time.Second):
		t.Fatal("server never observed a connection")
	}
	if server.State() != StateOpen {
		t.Fatalf("server connection state = %v, want OPEN", server.State())
	}
	if server.ID() == "" {
		t.Fatal("server connection has no assigned id")
	}

	if err := client.Send(ctx, "ping-game", "hello", float64(7)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case args := <-received:
		if len(args) != 2 || args[0] != "hello" {
			t.Fatalf("unexpected args: %#v", args)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the event")
	}
}

func TestSendRejectedBeforeOpen(t *testing.T) {
	ts, _ := startAcceptorServer(t, AcceptorConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, wsURL(ts.URL), Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Terminate(CloseNormal, "test done")

	err = client.Send(ctx, "too-early")
	if err == nil {
		t.Fatal("expected Send before OPEN to fail")
	}
}

func TestReservedEventNameRejected(t *testing.T) {
	ts, _ := startAcceptorServer(t, AcceptorConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, wsURL(ts.URL), Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Terminate(CloseNormal, "test done")

	select {
	case <-client.Opened():
	case <-time.After(5 * time.Second):
		t.Fatal("client never reached OPEN")
	}

	err = client.Send(ctx, EventPing)
	if err == nil || !IsInvalidEventName(err) {
		t.Fatalf("expected InvalidEventNameError, got %v", err)
	}
}

func TestGracefulDisconnect(t *testing.T) {
	serverClosed := make(chan bool, 1)

	ts, _ := startAcceptorServer(t, AcceptorConfig{
		HeartbeatInterval: time.Hour,
		OnConnection: func(c *Connection, r *http.Request) {
			go func() {
				<-c.Done()
				serverClosed <- true
			}()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, wsURL(ts.URL), Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	select {
	case <-client.Opened():
	case <-time.After(5 * time.Second):
		t.Fatal("client never reached OPEN")
	}

	if err := client.Disconnect(ctx, CloseNormal, "bye"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	select {
	case <-client.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client connection never finished closing")
	}
	if client.State() != StateClosed {
		t.Fatalf("client state = %v, want CLOSED", client.State())
	}

	select {
	case <-serverClosed:
	case <-time.After(5 * time.Second):
		t.Fatal("server side never observed the close")
	}
}

func TestAcceptorRejectsMissingSubprotocol(t *testing.T) {
	ts, _ := startAcceptorServer(t, AcceptorConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(ts.URL), nil)
	if err == nil {
		t.Fatal("expected dial without the cwdtp subprotocol to fail")
	}
	if resp != nil && resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

type rejectAllVerifyError struct{}

func (rejectAllVerifyError) Error() string { return "nope" }
func (rejectAllVerifyError) StatusCode() int { return http.StatusUnauthorized }

func TestAcceptorRejectsVerifyClientFailure(t *testing.T) {
	ts, _ := startAcceptorServer(t, AcceptorConfig{
		VerifyClient: func(ctx context.Context, r *http.Request) error {
			return rejectAllVerifyError{}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(ts.URL), &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err == nil {
		t.Fatal("expected dial to be rejected by VerifyClient")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got resp=%v", resp)
	}
}

func TestStatusFromVerifyErrorDefaultsForbidden(t *testing.T) {
	if got := statusFromVerifyError(errors.New("plain")); got != http.StatusForbidden {
		t.Errorf("statusFromVerifyError = %d, want 403", got)
	}
}
