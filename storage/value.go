package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// EncodeValue writes the one-byte presence flag (0 = null/tombstone, 1 =
// present) followed, when present, by a four-byte big-endian length prefix
// and the codec-compressed payload. This is the persisted cell value layout
// named in spec.md §6.
func EncodeValue(buf *bytes.Buffer, codec Codec, value []byte) error {
	if value == nil {
		buf.WriteByte(0)
		return nil
	}
	buf.WriteByte(1)
	encoded, err := codec.Encode(value)
	if err != nil {
		return fmt.Errorf("encode value with codec %s: %w", codec.Name(), err)
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(encoded)))
	buf.Write(lenPrefix[:])
	buf.Write(encoded)
	return nil
}

// DecodeValue reverses EncodeValue, returning a nil slice for a
// null/tombstone entry.
func DecodeValue(buf *bytes.Buffer, codec Codec) ([]byte, error) {
	flag, err := buf.ReadByte()
	if err != nil {
		return nil, err
	}
	if flag == 0 {
		return nil, nil
	}
	var lenPrefix [4]byte
	if _, err := io.ReadFull(buf, lenPrefix[:]); err != nil {
		return nil, fmt.Errorf("read value length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	encoded := make([]byte, n)
	if _, err := io.ReadFull(buf, encoded); err != nil {
		return nil, fmt.Errorf("read value payload: %w", err)
	}
	decoded, err := codec.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode value with codec %s: %w", codec.Name(), err)
	}
	return decoded, nil
}
