// Package main is the CWDTP engine server entrypoint binary.
//
// It intentionally delegates startup to the internal app package to keep
// main small, testable (via app), and lint-friendly.
package main

import (
	"log/slog"
	"os"

	"github.com/colonialwars-lib/cwdtp-engine/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		slog.Error("cwdtpd.exit", "err", err)
		os.Exit(1)
	}
}
