package cwdtp

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
)

// Subprotocol is the WebSocket subprotocol CWDTP negotiates during the
// HTTP upgrade (§4.E).
const Subprotocol = "pow.cwdtp"

// Dial opens a WebSocket to url and drives the client side of the CWDTP
// opening handshake. It returns while the handshake is still in progress;
// callers should wait on Opened() before calling Send, which returns
// ErrNotConnected whenever the connection is not OPEN.
func Dial(ctx context.Context, url string, opts Options) (*Connection, error) {
	opts = opts.withDefaults()

	wsConn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("cwdtp: dial: %w", err)
	}
	wsConn.SetReadLimit(opts.MaxFrameBytes)

	reqKey, err := newReqKey()
	if err != nil {
		_ = wsConn.CloseNow()
		return nil, fmt.Errorf("cwdtp: dial: %w", err)
	}

	c := newConnection(RoleClient, wrapSocket(wsConn), opts)
	c.reqKey = reqKey

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancelRun = cancel

	go c.readLoop(runCtx)
	go c.runClient(runCtx)
	return c, nil
}

// Opened returns a channel that is closed once the connection transitions
// to OPEN, letting callers await handshake completion without polling
// State().
func (c *Connection) Opened() <-chan struct{} { return c.opened }

// runClient drives the client side of the opening handshake, the OPEN
// message loop (including the client-owned ping timer), and the closing
// handshake (§4.D).
func (c *Connection) runClient(ctx context.Context) {
	defer close(c.done)
	defer c.cancelRun()

	handshakeStart := time.Now()
	hello := newEnvelope(EventClientHello, map[string]any{"req_key": c.reqKey}, nil)
	if err := c.writeEnvelope(ctx, hello); err != nil {
		c.setState(StateError)
		c.invokeOnError(fmt.Errorf("cwdtp: client-hello write failed: %w", err))
		_ = c.sock.CloseNow()
		return
	}

	hsTimer := newOneShotTimer(c.timeouts.Handshake)
	defer hsTimer.Stop()

	var pingTimer *oneShotTimer
	defer func() {
		if pingTimer != nil {
			pingTimer.Stop()
		}
	}()

	var closeTimer *oneShotTimer
	defer func() {
		if closeTimer != nil {
			closeTimer.Stop()
		}
	}()

	var (
		localCloseInitiated bool
		localCloseCode      int
		localCloseReason    string
		peerCloseReason     string
		peerCloseWasError   bool
	)

	finalizeGraceful := func(code int, reason string, wasError bool) {
		hsTimer.Stop()
		if pingTimer != nil {
			pingTimer.Stop()
		}
		if closeTimer != nil {
			closeTimer.Stop()
		}
		_ = c.sock.Close(code, reason)
		c.setCloseCode(code)
		c.setState(StateClosed)
		c.invokeOnClose(wasError, reason)
	}

	forceTerminate := func(code int, reason string) {
		hsTimer.Stop()
		if pingTimer != nil {
			pingTimer.Stop()
		}
		if closeTimer != nil {
			closeTimer.Stop()
		}
		_ = c.sock.Close(code, reason)
		c.setCloseCode(code)
		c.setState(StateClosed)
		c.invokeOnClose(true, reason)
	}

	handleReadError := func(err error) {
		switch c.State() {
		case StateOpening:
			hsTimer.Stop()
			c.setState(StateError)
			c.invokeOnError(fmt.Errorf("cwdtp: %w", ErrConnectionReset))
			_ = c.sock.CloseNow()
			c.setCloseCode(wsCloseStatus(err))
		case StateOpen, StateClosing:
			reason := peerCloseReason
			wasError := true
			if reason == "" {
				reason = localCloseReason
			}
			if reason == "" {
				reason = err.Error()
			}
			if c.State() == StateClosing && (peerCloseReason != "" || localCloseInitiated) {
				wasError = peerCloseWasError
			}
			if pingTimer != nil {
				pingTimer.Stop()
			}
			if closeTimer != nil {
				closeTimer.Stop()
			}
			_ = c.sock.CloseNow()
			c.setCloseCode(wsCloseStatus(err))
			c.setState(StateClosed)
			c.invokeOnClose(wasError, reason)
		}
	}

	for {
		select {
		case <-ctx.Done():
			forceTerminate(CloseGoingAway, "client shutting down")
			return

		case <-hsTimer.C():
			if c.State() == StateOpening {
				c.setState(StateTimedOut)
				c.invokeOnError(&HandshakeError{Op: "cwdtp.Dial", Kind: ErrInvalidCWDTPMsg, Msg: "handshake timed out"})
				_ = c.sock.Close(CloseHandshakeTimeout, "handshake timeout")
				c.setCloseCode(CloseHandshakeTimeout)
				c.invokeOnClose(true, "handshake timeout")
				return
			}

		case <-closeTimerChan(pingTimer):
			c.invokeOnError(fmt.Errorf("cwdtp: ping not received before timeout"))
			forceTerminate(CloseNormal, "ping timeout")
			return

		case <-closeTimerChan(closeTimer):
			c.setState(StateTimedOut)
			c.invokeOnError(fmt.Errorf("cwdtp: close-ack not received before timeout"))
			forceTerminate(CloseGoingAway, "close timeout")
			return

		case req := <-c.outbox:
			if c.State() != StateOpen {
				req.result <- fmt.Errorf("cwdtp: send: %w", ErrNotConnected)
				continue
			}
			req.result <- c.writeEnvelope(ctx, req.env)

		case raw := <-c.control:
			switch m := raw.(type) {

			case frameMsg:
				if m.err != nil {
					handleReadError(m.err)
					return
				}
				if m.binary {
					c.invokeOnError(&InvalidMsgError{Op: "cwdtp.Connection", Kind: ErrUnexpectedBinary, Msg: "binary frame received on a cwdtp connection"})
					forceTerminate(CloseProtocolError, "unexpected binary frame")
					return
				}
				env, err := unmarshalEnvelope(m.data)
				if err != nil {
					c.invokeOnError(err)
					forceTerminate(CloseProtocolError, "invalid cwdtp envelope")
					return
				}

				switch {
				case c.State() == StateOpening && env.Event == EventServerHello:
					resKey, _ := env.Meta["res_key"].(string)
					cid, _ := env.Meta["cid"].(string)
					if cid == "" {
						c.invokeOnError(&HandshakeError{Op: "cwdtp.Dial", Kind: ErrMissingConnID, Msg: "server-hello missing cid"})
						forceTerminate(CloseProtocolError, "invalid server-hello")
						return
					}
					if resKey != deriveResKey(c.reqKey) {
						c.invokeOnError(&HandshakeError{Op: "cwdtp.Dial", Kind: ErrInvalidResKey, Msg: "res_key mismatch"})
						forceTerminate(CloseProtocolError, "res_key mismatch")
						return
					}
					c.setID(cid)
					if err := c.writeEnvelope(ctx, newEnvelope(EventServerHelloAck, nil, nil)); err != nil {
						c.invokeOnError(err)
						forceTerminate(CloseProtocolError, "server-hello-ack write failed")
						return
					}
					hsTimer.Stop()
					c.setState(StateOpen)
					c.metrics.observeHandshake(time.Since(handshakeStart))
					pingTimer = newOneShotTimer(c.timeouts.Ping)
					close(c.opened)
					c.invokeOnOpen()

				case c.State() == StateOpening:
					// Ignore stray non-handshake frames while opening.

				case env.Event == EventPing:
					if pingTimer != nil {
						pingTimer.Reset(c.timeouts.Ping)
					}
					_ = c.writeEnvelope(ctx, newEnvelope(EventPong, nil, nil))

				case env.Event == EventClose:
					reason, _ := env.Meta["reason"].(string)
					wasError, _ := env.Meta["error"].(bool)
					peerCloseReason = reason
					peerCloseWasError = wasError
					c.invokeOnClosing(reason)
					c.setState(StateClosing)
					_ = c.writeEnvelope(ctx, newEnvelope(EventCloseAck, nil, nil))

				case env.Event == EventCloseAck:
					if c.State() == StateClosing && localCloseInitiated {
						finalizeGraceful(localCloseCode, localCloseReason, false)
						return
					}

				default:
					if c.State() != StateOpen {
						continue
					}
					if IsReservedEvent(env.Event) {
						continue
					}
					if !c.limiter.Allow(time.Now()) {
						c.invokeOnError(fmt.Errorf("cwdtp: event rate limit exceeded"))
						forceTerminate(ClosePolicyViolation, "rate limit exceeded")
						return
					}
					args, err := decodeData(env.Data)
					if err != nil {
						c.invokeOnError(err)
						forceTerminate(CloseProtocolError, "invalid message payload")
						return
					}
					c.router.dispatch(env.Event, args)
				}

			case disconnectMsg:
				if c.State() != StateOpen {
					m.result <- fmt.Errorf("cwdtp: disconnect: %w", ErrNotConnected)
					continue
				}
				localCloseInitiated = true
				localCloseCode, localCloseReason = m.code, m.reason
				c.invokeOnClosing(m.reason)
				c.setState(StateClosing)
				env := newEnvelope(EventClose, map[string]any{"error": false, "reason": m.reason}, nil)
				if err := c.writeEnvelope(ctx, env); err != nil {
					m.result <- err
					forceTerminate(m.code, m.reason)
					return
				}
				closeTimer = newOneShotTimer(c.timeouts.Close)
				m.result <- nil

			case terminateMsg:
				forceTerminate(m.code, m.reason)
				m.result <- nil
				return

			case heartbeatTickMsg:
				// The client never receives heartbeat ticks; it relies on
				// pingTimer instead. Ignore defensively.
			}
		}
	}
}
