package typedvalue

import (
	"bytes"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4"
)

// Compressor optionally shrinks a string payload before it is tagged and
// written to a shmap.Map. Compress and Decompress live on the same value
// so Decode can pick the matching decompressor.
type Compressor interface {
	Compress([]byte) []byte
	Decompress([]byte) ([]byte, error)
}

type snappyCompressor struct{}

// Snappy is a Compressor backed by github.com/golang/snappy.
var Snappy Compressor = snappyCompressor{}

func (snappyCompressor) Compress(in []byte) []byte {
	return snappy.Encode(nil, in)
}

func (snappyCompressor) Decompress(in []byte) ([]byte, error) {
	return snappy.Decode(nil, in)
}

type lz4Compressor struct{}

// LZ4 is a Compressor backed by github.com/pierrec/lz4.
var LZ4 Compressor = lz4Compressor{}

func (lz4Compressor) Compress(in []byte) []byte {
	buf := &bytes.Buffer{}
	w := lz4.NewWriter(buf)
	w.NoChecksum = true
	if _, err := w.Write(in); err != nil {
		panic(err)
	}
	_ = w.Close()
	return buf.Bytes()
}

func (lz4Compressor) Decompress(in []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	r := lz4.NewReader(bytes.NewReader(in))
	_, err := buf.ReadFrom(r)
	return buf.Bytes(), err
}
