// Package compression provides pluggable byte-payload compression for the
// persistent FIFO's disk-spilled records (§4.2, §6 "fifo.compression");
// the transport File body is sent uncompressed. It wraps pure-Go codecs only; none of
// them shell out or require cgo.
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm names the wire/config value selecting a Codec.
type Algorithm string

const (
	None   Algorithm = "none"
	Snappy Algorithm = "snappy"
	LZ4    Algorithm = "lz4"
	Zstd   Algorithm = "zstd"
)

// Codec compresses and decompresses whole payloads. Implementations must
// be safe for concurrent use: the FIFO's writer and a compacting flush
// path may call the same codec from different moments under its own
// external lock, but a shared *zstd.Encoder is not itself guarded here.
type Codec interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Algorithm() Algorithm
}

// New builds the Codec for a configured algorithm name. An unknown name
// is a configuration error, caught at startup rather than at first use.
func New(alg Algorithm) (Codec, error) {
	switch alg {
	case "", None:
		return noneCodec{}, nil
	case Snappy:
		return snappyCodec{}, nil
	case LZ4:
		return lz4Codec{}, nil
	case Zstd:
		return newZstdCodec()
	default:
		return nil, fmt.Errorf("compression: unknown algorithm %q", alg)
	}
}

type noneCodec struct{}

func (noneCodec) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noneCodec) Decompress(data []byte) ([]byte, error) { return data, nil }
func (noneCodec) Algorithm() Algorithm                   { return None }

type snappyCodec struct{}

func (snappyCodec) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCodec) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

func (snappyCodec) Algorithm() Algorithm { return Snappy }

type lz4Codec struct{}

func (lz4Codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compression: lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compression: lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("compression: lz4 read: %w", err)
	}
	return out, nil
}

func (lz4Codec) Algorithm() Algorithm { return LZ4 }

// zstdCodec keeps one encoder and one decoder for the life of the
// process; both are safe for concurrent use per the klauspost/compress
// docs, which matters since the FIFO's background flush and a foreground
// write can both touch the codec.
type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec() (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("compression: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("compression: zstd decoder: %w", err)
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (c *zstdCodec) Compress(data []byte) ([]byte, error) {
	return c.enc.EncodeAll(data, nil), nil
}

func (c *zstdCodec) Decompress(data []byte) ([]byte, error) {
	return c.dec.DecodeAll(data, nil)
}

func (c *zstdCodec) Algorithm() Algorithm { return Zstd }
