package storage

import (
	"bytes"
	"testing"
)

func TestCodecsRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, repeated for a better compression ratio: the quick brown fox jumps over the lazy dog")

	zstdCodec, err := NewZstdCodec()
	if err != nil {
		t.Fatalf("NewZstdCodec failed: %v", err)
	}

	codecs := []Codec{NoopCodec{}, SnappyCodec{}, LZ4Codec{}, zstdCodec}
	for _, c := range codecs {
		encoded, err := c.Encode(payload)
		if err != nil {
			t.Fatalf("[%s] encode failed: %v", c.Name(), err)
		}
		decoded, err := c.Decode(encoded)
		if err != nil {
			t.Fatalf("[%s] decode failed: %v", c.Name(), err)
		}
		if !bytes.Equal(decoded, payload) {
			t.Errorf("[%s] round trip mismatch: got %q, want %q", c.Name(), decoded, payload)
		}
	}
}

func TestCodecByName(t *testing.T) {
	cases := map[string]string{
		"none":   "none",
		"snappy": "snappy",
		"":       "snappy",
		"lz4":    "lz4",
		"zstd":   "zstd",
		"bogus":  "snappy",
	}
	for name, wantName := range cases {
		c, err := CodecByName(name)
		if err != nil {
			t.Fatalf("CodecByName(%q) failed: %v", name, err)
		}
		if c.Name() != wantName {
			t.Errorf("CodecByName(%q).Name() = %q, want %q", name, c.Name(), wantName)
		}
	}
}

func TestEncodeDecodeValueTombstone(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeValue(&buf, NoopCodec{}, nil); err != nil {
		t.Fatalf("encode nil failed: %v", err)
	}
	v, err := DecodeValue(&buf, NoopCodec{})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if v != nil {
		t.Errorf("expected nil (tombstone) value, got %q", v)
	}
}

func TestEncodeDecodeValuePresent(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeValue(&buf, SnappyCodec{}, []byte("hello")); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	v, err := DecodeValue(&buf, SnappyCodec{})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if string(v) != "hello" {
		t.Errorf("expected %q, got %q", "hello", v)
	}
}
