// Package coding encodes the trust aggregate cache blob as
// zstd-compressed msgpack, the format the read API expects.
package coding

import (
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Coder encodes and decodes cache blobs. Construct once and reuse: the
// zstd encoder and decoder hold internal buffers.
type Coder struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCoder creates a ready-to-use coder.
func NewCoder() (*Coder, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}

	return &Coder{enc: enc, dec: dec}, nil
}

// Close releases the compressor resources.
func (c *Coder) Close() {
	c.enc.Close()
	c.dec.Close()
}

// Encode marshals v to msgpack and compresses it.
func (c *Coder) Encode(v any) ([]byte, error) {
	packed, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	return c.enc.EncodeAll(packed, nil), nil
}

// Decode decompresses data and unmarshals it into v.
func (c *Coder) Decode(data []byte, v any) error {
	packed, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(packed, v)
}
