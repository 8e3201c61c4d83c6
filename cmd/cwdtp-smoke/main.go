// Package main provides a CI-friendly CWDTP smoke test.
//
// It validates:
//   - opening handshake (client-hello/server-hello/server-hello-ack) and
//     subprotocol selection
//   - a typed-binary event round trip
//   - heartbeat ping/pong keeping the connection alive across an idle period
//     (only when -idle is set)
//   - graceful closing handshake
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/colonialwars-lib/cwdtp-engine/cwdtp"
)

const defaultPerStepTimeout = 7 * time.Second

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/cwdtp", "CWDTP URL")
		event   = flag.String("event", "ping-game", "Event name to round-trip")
		text    = flag.String("text", "hello colonial wars", "Argument to send alongside the event")
		idle    = flag.Duration("idle", 0, "If set, sleep this long after the round trip to exercise heartbeat ping/pong")
		timeout = flag.Duration("timeout", defaultPerStepTimeout, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	root := context.Background()

	received := make(chan []any, 1)

	dialCtx, cancel := context.WithTimeout(root, *timeout)
	conn, err := cwdtp.Dial(dialCtx, *wsURL, cwdtp.Options{
		OnError: func(_ *cwdtp.Connection, err error) {
			if *verbose {
				fmt.Fprintf(os.Stderr, "smoke: connection error: %v\n", err)
			}
		},
	})
	cancel()
	if err != nil {
		fatalf("dial: %v", err)
	}
	defer conn.Terminate(cwdtp.CloseNormal, "smoke test done")

	if err := conn.On(*event+"-echo", func(args []any) {
		received <- args
	}); err != nil {
		fatalf("register handler: %v", err)
	}

	select {
	case <-conn.Opened():
		if *verbose {
			fmt.Println("smoke: connection OPEN")
		}
	case <-time.After(*timeout):
		fatalf("timed out waiting for the opening handshake to complete")
	}

	sendCtx, sendCancel := context.WithTimeout(root, *timeout)
	err = conn.Send(sendCtx, *event, *text, map[string]any{
		"payload": cwdtp.Binary{Type: cwdtp.BinaryUint8Array, Bytes: []byte(*text)},
	})
	sendCancel()
	if err != nil {
		fatalf("send: %v", err)
	}

	select {
	case args := <-received:
		if *verbose {
			fmt.Printf("smoke: received echo args=%#v\n", args)
		}
	case <-time.After(*timeout):
		fatalf("timed out waiting for the server to echo %q", *event)
	}

	if *idle > 0 {
		if *verbose {
			fmt.Printf("smoke: idling %s to exercise heartbeat ping/pong\n", *idle)
		}
		select {
		case <-conn.Done():
			fatalf("connection closed unexpectedly while idling (state=%s, close_code=%d)", conn.State(), conn.CloseCode())
		case <-time.After(*idle):
		}
		if conn.State() != cwdtp.StateOpen {
			fatalf("connection dropped out of OPEN while idling: state=%s", conn.State())
		}
	}

	closeCtx, closeCancel := context.WithTimeout(root, *timeout)
	err = conn.Disconnect(closeCtx, cwdtp.CloseNormal, "smoke test complete")
	closeCancel()
	if err != nil {
		fatalf("disconnect: %v", err)
	}

	select {
	case <-conn.Done():
	case <-time.After(*timeout):
		fatalf("timed out waiting for the closing handshake to complete")
	}

	if conn.State() != cwdtp.StateClosed {
		fatalf("expected CLOSED after a graceful disconnect, got state=%s", conn.State())
	}

	fmt.Printf("OK: id=%s event=%s state=%s\n", conn.ID(), *event, conn.State())
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "cwdtp-smoke: "+format+"\n", args...)
	os.Exit(1)
}
