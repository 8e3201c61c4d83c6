package cwdtp

import "testing"

func TestNewOriginAllowlist(t *testing.T) {
	allow := NewOriginAllowlist([]string{"https://game.example.com", "http://localhost:*"})

	cases := map[string]bool{
		"https://game.example.com":      true,
		"https://game.example.com:443":  false,
		"http://localhost:5173":         true,
		"http://localhost:3000":         true,
		"https://evil.example.com":      false,
		"not-a-url":                     false,
	}
	for origin, want := range cases {
		if got := allow(origin); got != want {
			t.Errorf("allow(%q) = %v, want %v", origin, got, want)
		}
	}
}

func TestNewOriginAllowlistWildcard(t *testing.T) {
	allow := NewOriginAllowlist([]string{"*"})
	if !allow("https://anything.example.com") {
		t.Error("expected wildcard rule to allow any well-formed origin")
	}
}

func TestNewOriginAllowlistEmpty(t *testing.T) {
	allow := NewOriginAllowlist(nil)
	if allow("https://game.example.com") {
		t.Error("expected an empty allowlist to reject everything")
	}
}
