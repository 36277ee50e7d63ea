package typedvalue

import (
	"shmap"
)

// Client adapts a *shmap.Map into a typed get/set/del/stat surface,
// encoding and decoding values with an optional Compressor for string
// payloads. The underlying map continues to treat every value as an
// opaque byte string; Client is just a caller sitting in front of it.
type Client struct {
	Map        *shmap.Map
	Compressor Compressor
}

// Set encodes value and stores it under key.
func (c *Client) Set(key []byte, value Decoded) error {
	var encoded []byte
	switch value.Type {
	case TypeString:
		encoded = EncodeString(value.String, c.Compressor)
	case TypeBoolean:
		encoded = EncodeBool(value.Boolean)
	case TypeNumber:
		encoded = EncodeNumber(value.Number)
	case TypeInteger:
		encoded = EncodeInteger(value.Integer)
	default:
		return errUnknownType
	}
	return c.Map.Insert(key, encoded)
}

// SetString is a convenience wrapper around Set for the common string
// case.
func (c *Client) SetString(key []byte, s string) error {
	return c.Map.Insert(key, EncodeString(s, c.Compressor))
}

// Get retrieves and decodes the typed value stored under key.
func (c *Client) Get(key []byte) (Decoded, error) {
	raw, err := c.Map.Search(key)
	if err != nil {
		return Decoded{}, err
	}
	return Decode(raw, c.Compressor)
}

// Del removes key. ErrNotFound stays visible so callers can tell whether
// anything was actually removed; swallow it at the call site if
// delete-if-present semantics are wanted.
func (c *Client) Del(key []byte) error {
	return c.Map.Delete(key)
}

// Stat reports the underlying map's sizing and usage counters.
func (c *Client) Stat() (shmap.Stat, error) {
	return c.Map.Stat()
}
