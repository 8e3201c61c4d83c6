package cwdtp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coder/websocket"
)

// acceptConnection wraps an already-upgraded *websocket.Conn as a
// server-role Connection and starts its loop goroutines. Called by
// Acceptor.ServeHTTP after the WebSocket upgrade succeeds.
func acceptConnection(wsConn *websocket.Conn, opts Options) *Connection {
	wsConn.SetReadLimit(opts.MaxFrameBytes)
	c := newConnection(RoleServer, wrapSocket(wsConn), opts)

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancelRun = cancel

	go c.readLoop(runCtx)
	go c.runServer(runCtx)
	return c
}

// runServer drives the server side of the opening handshake, the OPEN
// message loop, the closing handshake, and the heartbeat sweep reply
// (§4.D). It owns all of the connection's mutable state; every other
// goroutine only ever talks to it through c.outbox/c.control.
func (c *Connection) runServer(ctx context.Context) {
	defer close(c.done)
	defer c.cancelRun()

	handshakeStart := time.Now()
	hsTimer := newOneShotTimer(c.timeouts.Handshake)
	defer hsTimer.Stop()

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

	// active tracks whether this connection is counted in the active gauge,
	// so connections that never reached OPEN are not subtracted from it.
	active := false
	releaseActive := func() {
		if active {
			active = false
			c.metrics.decActive()
		}
	}

	finalizeGraceful := func(code int, reason string, wasError bool) {
		hsTimer.Stop()
		if closeTimer != nil {
			closeTimer.Stop()
		}
		_ = c.sock.Close(code, reason)
		c.setCloseCode(code)
		c.setState(StateClosed)
		releaseActive()
		c.invokeOnClose(wasError, reason)
	}

	forceTerminate := func(code int, reason string) {
		hsTimer.Stop()
		if closeTimer != nil {
			closeTimer.Stop()
		}
		_ = c.sock.Close(code, reason)
		c.setCloseCode(code)
		c.setState(StateClosed)
		releaseActive()
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
			hsTimer.Stop()
			if closeTimer != nil {
				closeTimer.Stop()
			}
			_ = c.sock.CloseNow()
			c.setCloseCode(wsCloseStatus(err))
			c.setState(StateClosed)
			releaseActive()
			c.invokeOnClose(wasError, reason)
		}
	}

	for {
		select {
		case <-ctx.Done():
			forceTerminate(CloseGoingAway, "server shutting down")
			return

		case <-hsTimer.C():
			if c.State() == StateOpening {
				c.setState(StateTimedOut)
				c.invokeOnError(&HandshakeError{Op: "cwdtp.Accept", Kind: ErrInvalidCWDTPMsg, Msg: "handshake timed out"})
				_ = c.sock.Close(CloseHandshakeTimeout, "handshake timeout")
				c.setCloseCode(CloseHandshakeTimeout)
				releaseActive()
				c.invokeOnClose(true, "handshake timeout")
				return
			}

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
				case c.State() == StateOpening && env.Event == EventClientHello:
					reqKey, _ := env.Meta["req_key"].(string)
					if strings.TrimSpace(reqKey) == "" {
						c.invokeOnError(&HandshakeError{Op: "cwdtp.Accept", Kind: ErrInvalidCWDTPMsg, Msg: "client-hello missing req_key"})
						forceTerminate(CloseProtocolError, "invalid client-hello")
						return
					}
					cid, err := newConnectionID()
					if err != nil {
						c.invokeOnError(err)
						forceTerminate(CloseProtocolError, "connection id generation failed")
						return
					}
					c.setID(cid)
					resKey := deriveResKey(reqKey)
					hello := newEnvelope(EventServerHello, map[string]any{"res_key": resKey, "cid": cid}, nil)
					if err := c.writeEnvelope(ctx, hello); err != nil {
						c.invokeOnError(err)
						forceTerminate(CloseProtocolError, "server-hello write failed")
						return
					}

				case c.State() == StateOpening && env.Event == EventServerHelloAck:
					hsTimer.Stop()
					c.setState(StateOpen)
					c.markAlive(true)
					active = true
					c.metrics.incActive()
					c.metrics.incTotal()
					c.metrics.observeHandshake(time.Since(handshakeStart))
					close(c.opened)
					c.invokeOnOpen()

				case c.State() == StateOpening:
					// Ignore stray non-handshake frames while opening rather
					// than tearing the connection down over a reorder.

				case env.Event == EventPong:
					c.markAlive(true)

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
				if c.State() != StateOpen {
					continue
				}
				if !c.wasAlive() {
					c.metrics.incHeartbeatTimeout()
					c.invokeOnError(fmt.Errorf("cwdtp: pong not received before next heartbeat"))
					forceTerminate(ClosePongTimeout, "pong timeout")
					return
				}
				c.markAlive(false)
				_ = c.writeEnvelope(ctx, newEnvelope(EventPing, nil, nil))
			}
		}
	}
}
