package cwdtp

import "encoding/json"

// BinaryType names the typed-array/ArrayBuffer/DataView kind a Binary value
// round-trips as (§3, §4.B).
type BinaryType string

const (
	BinaryInt8Array         BinaryType = "int8array"
	BinaryUint8Array        BinaryType = "uint8array"
	BinaryUint8ClampedArray BinaryType = "uint8clampedarray"
	BinaryInt16Array        BinaryType = "int16array"
	BinaryUint16Array       BinaryType = "uint16array"
	BinaryInt32Array        BinaryType = "int32array"
	BinaryUint32Array       BinaryType = "uint32array"
	BinaryFloat32Array      BinaryType = "float32array"
	BinaryFloat64Array      BinaryType = "float64array"
	BinaryInt64Array        BinaryType = "bigint64array"
	BinaryUint64Array       BinaryType = "biguint64array"
	BinaryDataView          BinaryType = "dataview"
	BinaryArrayBuffer       BinaryType = "arraybuffer"
)

// Binary is a typed-binary value as described by §3's Value grammar. Bytes
// holds the raw little-endian element contents; their width is implied by
// Type.
type Binary struct {
	Type  BinaryType
	Bytes []byte
}

// elementStride returns the per-element byte width for t, or false if t is
// not a recognized binary type.
func elementStride(t BinaryType) (int, bool) {
	switch t {
	case BinaryInt8Array, BinaryUint8Array, BinaryUint8ClampedArray, BinaryArrayBuffer, BinaryDataView:
		return 1, true
	case BinaryInt16Array, BinaryUint16Array:
		return 2, true
	case BinaryInt32Array, BinaryUint32Array, BinaryFloat32Array:
		return 4, true
	case BinaryFloat64Array, BinaryInt64Array, BinaryUint64Array:
		return 8, true
	default:
		return 0, false
	}
}

// wireBinary is the {binary:true, type, contents} object the codec emits on
// the wire in place of a Binary value.
type wireBinary struct {
	Binary   bool   `json:"binary"`
	Type     string `json:"type"`
	Contents []int  `json:"contents"`
}

func encodeArgs(args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		v, err := encodeValue(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func decodeData(data []any) ([]any, error) {
	out := make([]any, len(data))
	for i, d := range data {
		v, err := decodeValue(d)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func encodeValue(v any) (any, error) {
	switch x := v.(type) {
	case Binary:
		return encodeBinary(x)
	case *Binary:
		if x == nil {
			return nil, nil
		}
		return encodeBinary(*x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			ev, err := encodeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			ev, err := encodeValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	default:
		return v, nil
	}
}

func encodeBinary(b Binary) (wireBinary, error) {
	stride, ok := elementStride(b.Type)
	if !ok {
		return wireBinary{}, &InvalidMsgError{Op: "codec.Encode", Kind: ErrInvalidCWDTPMsg, Msg: "unknown binary type: " + string(b.Type)}
	}
	if stride > 1 && len(b.Bytes)%stride != 0 {
		return wireBinary{}, &InvalidMsgError{Op: "codec.Encode", Kind: ErrInvalidCWDTPMsg, Msg: "contents length not aligned to element stride"}
	}
	contents := make([]int, len(b.Bytes))
	for i, by := range b.Bytes {
		contents[i] = int(by)
	}
	return wireBinary{Binary: true, Type: string(b.Type), Contents: contents}, nil
}

func decodeValue(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		if bv, ok := x["binary"].(bool); ok && bv {
			return decodeBinary(x)
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			dv, err := decodeValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			dv, err := decodeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	default:
		return v, nil
	}
}

func decodeBinary(m map[string]any) (Binary, error) {
	typRaw, _ := m["type"].(string)
	typ := BinaryType(typRaw)
	stride, ok := elementStride(typ)
	if !ok {
		return Binary{}, &InvalidMsgError{Op: "codec.Decode", Kind: ErrInvalidCWDTPMsg, Msg: "unrecognized binary type: " + typRaw}
	}
	rawContents, ok := m["contents"].([]any)
	if !ok {
		return Binary{}, &InvalidMsgError{Op: "codec.Decode", Kind: ErrInvalidCWDTPMsg, Msg: "binary value missing contents array"}
	}
	bytes := make([]byte, len(rawContents))
	for i, c := range rawContents {
		iv, err := toByteValue(c)
		if err != nil {
			return Binary{}, &InvalidMsgError{Op: "codec.Decode", Kind: ErrInvalidCWDTPMsg, Msg: err.Error()}
		}
		bytes[i] = iv
	}
	if stride > 1 && len(bytes)%stride != 0 {
		return Binary{}, &InvalidMsgError{Op: "codec.Decode", Kind: ErrInvalidCWDTPMsg, Msg: "contents length mismatch for element type"}
	}
	return Binary{Type: typ, Bytes: bytes}, nil
}

func toByteValue(c any) (byte, error) {
	var iv int64
	switch n := c.(type) {
	case json.Number:
		parsed, err := n.Int64()
		if err != nil {
			return 0, err
		}
		iv = parsed
	case float64:
		iv = int64(n)
	default:
		return 0, errInvalidByteElement
	}
	if iv < 0 || iv > 255 {
		return 0, errByteOutOfRange
	}
	return byte(iv), nil
}
