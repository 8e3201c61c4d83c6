package app

import (
	"errors"

	"github.com/colonialwars-lib/cwdtp-engine/internal/gameauth"
)

// ValidateSecurityConfig enforces the engine's demo-auth policy at startup.
//
// Fail-fast is intentional: silently accepting every upgrade request in
// production is unacceptable once RequireGameAuth is set. Enforcement is
// end-to-end by validating the same module (gameauth) that signs and checks
// tokens at the upgrade boundary.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireGameAuth {
		return nil
	}

	if _, err := gameauth.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, gameauth.ErrHMACKeyMissing):
			return errors.New("security policy: CWDTP_REQUIRE_GAMEAUTH=true but " + gameauth.HMACEnvKey + " is missing")
		case errors.Is(err, gameauth.ErrHMACKeyTooShort):
			return errors.New("security policy: CWDTP_REQUIRE_GAMEAUTH=true but " + gameauth.HMACEnvKey + " is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !gameauth.HMACEnabled() {
		return errors.New("security policy: CWDTP_REQUIRE_GAMEAUTH=true but gameauth signing key is not configured")
	}

	return nil
}
