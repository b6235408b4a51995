package storage

import (
	"bytes"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses and decompresses cell value payloads before they cross
// the storage boundary. The transaction core never inspects value bytes
// itself; it only ever asks a Codec to frame or unframe them (§6 DOMAIN
// STACK). Three real codecs are wired in from the compression libraries the
// teacher already depends on, each aimed at a different cell population:
// Snappy for the hot path, LZ4 for higher ratio on cold-ish rows, and zstd
// for archival / old-version-chain entries that are unlikely to be read
// again soon.
type Codec interface {
	Name() string
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

// NoopCodec stores values uncompressed. Useful for tests and for values too
// small for compression to pay off.
type NoopCodec struct{}

func (NoopCodec) Name() string                    { return "none" }
func (NoopCodec) Encode(src []byte) ([]byte, error) { return src, nil }
func (NoopCodec) Decode(src []byte) ([]byte, error) { return src, nil }

// SnappyCodec is the default codec: cheap CPU cost, decent ratio, used on
// the hot write path.
type SnappyCodec struct{}

func (SnappyCodec) Name() string { return "snappy" }

func (SnappyCodec) Encode(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (SnappyCodec) Decode(src []byte) ([]byte, error) {
	return snappy.Decode(nil, src)
}

// LZ4Codec trades some CPU for a better ratio than Snappy, intended for
// rows moved into the old-version chain but still plausibly read by a
// long-running repeatable-read transaction.
type LZ4Codec struct{}

func (LZ4Codec) Name() string { return "lz4" }

func (LZ4Codec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (LZ4Codec) Decode(src []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	return io.ReadAll(r)
}

// ZstdCodec is aimed at archival-tier data: old-version chain nodes below
// the GC watermark that persisted storage nonetheless wants to keep
// compactly, and cold pages read rarely enough that decode CPU doesn't
// matter. A single shared encoder/decoder pair is reused across calls,
// matching klauspost/compress's documented usage pattern.
type ZstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCodec builds a ZstdCodec with fresh encoder/decoder state.
func NewZstdCodec() (*ZstdCodec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &ZstdCodec{enc: enc, dec: dec}, nil
}

func (z *ZstdCodec) Name() string { return "zstd" }

func (z *ZstdCodec) Encode(src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, nil), nil
}

func (z *ZstdCodec) Decode(src []byte) ([]byte, error) {
	return z.dec.DecodeAll(src, nil)
}

// CodecByName resolves a configured codec name (§6 config.StorageConfig) to
// a Codec instance. Unknown names fall back to Snappy rather than failing
// startup over a typo in a tunable that only affects compression ratio.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "none":
		return NoopCodec{}, nil
	case "lz4":
		return LZ4Codec{}, nil
	case "zstd":
		return NewZstdCodec()
	case "snappy", "":
		return SnappyCodec{}, nil
	default:
		return SnappyCodec{}, nil
	}
}
