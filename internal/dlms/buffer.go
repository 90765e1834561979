package dlms

import (
	"encoding/binary"
	"fmt"
)

// Buffer is a growable byte buffer with a read cursor.
type Buffer struct {
	data []byte
	pos  int
}

// NewBuffer wraps data for reading; appends grow it.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Bytes returns the whole buffer contents.
func (b *Buffer) Bytes() []byte { return b.data }

// Remaining returns the unread part of the buffer.
func (b *Buffer) Remaining() []byte { return b.data[b.pos:] }

// Len returns the total number of bytes held.
func (b *Buffer) Len() int { return len(b.data) }

// Position returns the read cursor.
func (b *Buffer) Position() int { return b.pos }

// SetPosition moves the read cursor.
func (b *Buffer) SetPosition(pos int) error {
	if pos < 0 || pos > len(b.data) {
		return fmt.Errorf("%w: position %d outside 0..%d", ErrFormat, pos, len(b.data))
	}
	b.pos = pos
	return nil
}

// Available returns the number of unread bytes.
func (b *Buffer) Available() int { return len(b.data) - b.pos }

func (b *Buffer) Append(p ...byte) { b.data = append(b.data, p...) }

func (b *Buffer) SetUint8(v uint8) { b.data = append(b.data, v) }

func (b *Buffer) SetUint16(v uint16) { b.data = binary.BigEndian.AppendUint16(b.data, v) }

func (b *Buffer) SetUint32(v uint32) { b.data = binary.BigEndian.AppendUint32(b.data, v) }

func (b *Buffer) SetUint64(v uint64) { b.data = binary.BigEndian.AppendUint64(b.data, v) }

// Next consumes n bytes and returns them without copying.
func (b *Buffer) Next(n int) ([]byte, error) {
	if n < 0 || b.Available() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrFormat, n, b.Available())
	}
	p := b.data[b.pos : b.pos+n]
	b.pos += n
	return p, nil
}

func (b *Buffer) Uint8() (uint8, error) {
	p, err := b.Next(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *Buffer) Uint16() (uint16, error) {
	p, err := b.Next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

func (b *Buffer) Uint32() (uint32, error) {
	p, err := b.Next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p), nil
}

func (b *Buffer) Uint64() (uint64, error) {
	p, err := b.Next(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(p), nil
}
