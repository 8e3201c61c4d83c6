package cwdtp

import "testing"

func TestDeriveResKeyDeterministic(t *testing.T) {
	a := deriveResKey("abc123")
	b := deriveResKey("abc123")
	if a != b {
		t.Fatalf("deriveResKey is not deterministic: %q != %q", a, b)
	}
}

func TestDeriveResKeyDiffersPerReqKey(t *testing.T) {
	a := deriveResKey("abc123")
	b := deriveResKey("xyz789")
	if a == b {
		t.Fatalf("deriveResKey produced the same output for different inputs")
	}
}

func TestNewReqKeyIsUnique(t *testing.T) {
	a, err := newReqKey()
	if err != nil {
		t.Fatalf("newReqKey: %v", err)
	}
	b, err := newReqKey()
	if err != nil {
		t.Fatalf("newReqKey: %v", err)
	}
	if a == b {
		t.Fatalf("newReqKey produced duplicate values: %q", a)
	}
}
