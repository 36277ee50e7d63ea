// Package typedvalue is a thin typed adapter sitting in front of a
// shmap.Map: it prefixes an opaque value with a one-byte type tag
// (0=string, 1=boolean, 2=number, 4=integer) before handing it to the
// map, and strips the tag back off on read. The map never sees or
// interprets this tag — as far as shmap is concerned every value is
// still just bytes.
package typedvalue

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Type is the one-byte tag prefixed to every encoded value.
type Type byte

const (
	TypeString  Type = 0
	TypeBoolean Type = 1
	TypeNumber  Type = 2
	TypeInteger Type = 4
)

// compressedFlag is OR'd into the tag byte when the payload that follows
// was run through a Compressor before being written.
const compressedFlag byte = 1 << 7

func setFlag(b, flag byte) byte   { return b | flag }
func clearFlag(b, flag byte) byte { return b &^ flag }
func hasFlag(b, flag byte) bool   { return b&flag != 0 }

var errUnknownType = errors.New("typedvalue: unknown type tag")

// EncodeString encodes a string value, compressing its bytes with c
// first when c is non-nil and the compressed form is smaller.
func EncodeString(s string, c Compressor) []byte {
	return encodeTagged(TypeString, []byte(s), c)
}

// EncodeBool encodes a boolean value. Booleans are never compressed.
func EncodeBool(v bool) []byte {
	b := byte(0)
	if v {
		b = 1
	}
	return []byte{byte(TypeBoolean), b}
}

// EncodeNumber encodes a float64 as its little-endian bit pattern.
func EncodeNumber(v float64) []byte {
	buf := make([]byte, 9)
	buf[0] = byte(TypeNumber)
	binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v))
	return buf
}

// EncodeInteger encodes an int64 as its little-endian bit pattern.
func EncodeInteger(v int64) []byte {
	buf := make([]byte, 9)
	buf[0] = byte(TypeInteger)
	binary.LittleEndian.PutUint64(buf[1:], uint64(v))
	return buf
}

func encodeTagged(t Type, payload []byte, c Compressor) []byte {
	tag := byte(t)
	if c != nil {
		compressed := c.Compress(payload)
		if len(compressed) < len(payload) {
			tag = setFlag(tag, compressedFlag)
			payload = compressed
		}
	}
	out := make([]byte, 1+len(payload))
	out[0] = tag
	copy(out[1:], payload)
	return out
}

// Decoded is the result of decoding a tagged value: exactly one of the
// typed fields is meaningful, selected by Type.
type Decoded struct {
	Type    Type
	String  string
	Boolean bool
	Number  float64
	Integer int64
}

// Decode strips the type tag from raw and returns the typed value,
// decompressing the payload with c first when the compressed flag is set.
// A compressed payload with a nil c is an error.
func Decode(raw []byte, c Compressor) (Decoded, error) {
	if len(raw) == 0 {
		return Decoded{}, errors.New("typedvalue: empty payload")
	}

	tagByte := raw[0]
	compressed := hasFlag(tagByte, compressedFlag)
	tag := Type(clearFlag(tagByte, compressedFlag))
	payload := raw[1:]

	if compressed {
		if c == nil {
			return Decoded{}, errors.New("typedvalue: payload is compressed but no Compressor was supplied")
		}
		decompressed, err := c.Decompress(payload)
		if err != nil {
			return Decoded{}, errors.Wrap(err, "typedvalue: decompress")
		}
		payload = decompressed
	}

	switch tag {
	case TypeString:
		return Decoded{Type: TypeString, String: string(payload)}, nil
	case TypeBoolean:
		if len(payload) < 1 {
			return Decoded{}, errors.New("typedvalue: truncated boolean payload")
		}
		return Decoded{Type: TypeBoolean, Boolean: payload[0] != 0}, nil
	case TypeNumber:
		if len(payload) < 8 {
			return Decoded{}, errors.New("typedvalue: truncated number payload")
		}
		bits := binary.LittleEndian.Uint64(payload)
		return Decoded{Type: TypeNumber, Number: math.Float64frombits(bits)}, nil
	case TypeInteger:
		if len(payload) < 8 {
			return Decoded{}, errors.New("typedvalue: truncated integer payload")
		}
		return Decoded{Type: TypeInteger, Integer: int64(binary.LittleEndian.Uint64(payload))}, nil
	default:
		return Decoded{}, errUnknownType
	}
}
