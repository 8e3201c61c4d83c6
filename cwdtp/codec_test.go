package cwdtp

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeBinaryRoundTrip(t *testing.T) {
	original := Binary{Type: BinaryUint8Array, Bytes: []byte{0, 1, 2, 255}}

	encoded, err := encodeArgs([]any{"hello", original, 42})
	if err != nil {
		t.Fatalf("encodeArgs: %v", err)
	}

	env := newEnvelope("demo", nil, encoded)
	raw, err := marshalEnvelope(env)
	if err != nil {
		t.Fatalf("marshalEnvelope: %v", err)
	}

	parsed, err := unmarshalEnvelope(raw)
	if err != nil {
		t.Fatalf("unmarshalEnvelope: %v", err)
	}

	args, err := decodeData(parsed.Data)
	if err != nil {
		t.Fatalf("decodeData: %v", err)
	}

	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(args))
	}
	if args[0] != "hello" {
		t.Errorf("args[0] = %v, want hello", args[0])
	}
	bin, ok := args[1].(Binary)
	if !ok {
		t.Fatalf("args[1] is %T, want Binary", args[1])
	}
	if bin.Type != BinaryUint8Array || !bytes.Equal(bin.Bytes, original.Bytes) {
		t.Errorf("args[1] = %+v, want %+v", bin, original)
	}
}

func TestEncodeBinaryRejectsUnalignedStride(t *testing.T) {
	_, err := encodeArgs([]any{Binary{Type: BinaryInt16Array, Bytes: []byte{1, 2, 3}}})
	if err == nil {
		t.Fatal("expected an error for misaligned int16array contents")
	}
	if !IsInvalidMsg(err) {
		t.Errorf("expected an *InvalidMsgError, got %T: %v", err, err)
	}
}

func TestDecodeBinaryRejectsUnknownType(t *testing.T) {
	_, err := decodeValue(map[string]any{
		"binary":   true,
		"type":     "nope",
		"contents": []any{},
	})
	if err == nil {
		t.Fatal("expected an error for unknown binary type")
	}
}

func TestDecodeBinaryRejectsOutOfRangeByte(t *testing.T) {
	_, err := decodeValue(map[string]any{
		"binary":   true,
		"type":     string(BinaryUint8Array),
		"contents": []any{float64(300)},
	})
	if err == nil {
		t.Fatal("expected an error for an out-of-range byte value")
	}
}

func TestEncodeValueNestedStructures(t *testing.T) {
	nested := []any{
		map[string]any{"a": 1, "b": Binary{Type: BinaryArrayBuffer, Bytes: []byte{9, 8}}},
	}
	encoded, err := encodeValue(nested)
	if err != nil {
		t.Fatalf("encodeValue: %v", err)
	}
	lst, ok := encoded.([]any)
	if !ok || len(lst) != 1 {
		t.Fatalf("unexpected encoded shape: %#v", encoded)
	}
	m, ok := lst[0].(map[string]any)
	if !ok {
		t.Fatalf("unexpected encoded element: %#v", lst[0])
	}
	wb, ok := m["b"].(wireBinary)
	if !ok || !wb.Binary {
		t.Fatalf("expected wireBinary for key b, got %#v", m["b"])
	}
}
