package cwdtp

import (
	"context"

	"github.com/coder/websocket"
)

// Close codes (§4.D, §6).
const (
	CloseNormal           = 1000
	CloseGoingAway        = 1001
	CloseProtocolError    = 1002
	ClosePolicyViolation  = 1008
	CloseHandshakeTimeout = 4002
	ClosePongTimeout      = 4004
)

// wsSocket is the minimal surface Connection needs from a WebSocket, so the
// state machine in connection.go can be driven from a fake in tests instead
// of a live *websocket.Conn.
type wsSocket interface {
	Read(ctx context.Context) (binary bool, data []byte, err error)
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
	CloseNow() error
	SetReadLimit(n int64)
}

type coderSocket struct {
	conn *websocket.Conn
}

func wrapSocket(c *websocket.Conn) wsSocket { return &coderSocket{conn: c} }

func (s *coderSocket) Read(ctx context.Context) (bool, []byte, error) {
	mt, data, err := s.conn.Read(ctx)
	if err != nil {
		return false, nil, err
	}
	return mt == websocket.MessageBinary, data, nil
}

func (s *coderSocket) Write(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *coderSocket) Close(code int, reason string) error {
	return s.conn.Close(websocket.StatusCode(code), reason)
}

func (s *coderSocket) CloseNow() error { return s.conn.CloseNow() }

func (s *coderSocket) SetReadLimit(n int64) { s.conn.SetReadLimit(n) }

// wsCloseStatus extracts the peer's close status code from a Read error, or
// -1 if err does not represent a WebSocket close frame.
func wsCloseStatus(err error) int {
	return int(websocket.CloseStatus(err))
}
