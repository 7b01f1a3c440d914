package asm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrResourceExhausted is returned when a Buffer would have to grow past its
// configured limit.
var ErrResourceExhausted = errors.New("resource exhausted")

const defaultBufferCapacity = 64

// Buffer is an append-only byte container with capacity doubling. Bytes that
// were already written can be overwritten in place, which is how branch
// displacements get patched once their target is known.
type Buffer struct {
	data  []byte
	limit int
}

// NewBuffer returns an empty buffer with the requested initial capacity. A
// limit of zero means the buffer may grow without bound.
func NewBuffer(capacity, limit int) *Buffer {
	if capacity <= 0 {
		capacity = defaultBufferCapacity
	}
	if limit > 0 && capacity > limit {
		capacity = limit
	}
	return &Buffer{
		data:  make([]byte, 0, capacity),
		limit: limit,
	}
}

func (b *Buffer) Len() int { return len(b.data) }

func (b *Buffer) Cap() int { return cap(b.data) }

// Bytes returns a copy of the buffer contents.
func (b *Buffer) Bytes() []byte {
	return append([]byte(nil), b.data...)
}

func (b *Buffer) grow(n int) error {
	need := len(b.data) + n
	if b.limit > 0 && need > b.limit {
		return fmt.Errorf("grow buffer to %d bytes (limit %d): %w", need, b.limit, ErrResourceExhausted)
	}
	if need <= cap(b.data) {
		return nil
	}

	newCap := cap(b.data) * 2
	if newCap == 0 {
		newCap = defaultBufferCapacity
	}
	for newCap < need {
		newCap *= 2
	}
	if b.limit > 0 && newCap > b.limit {
		newCap = b.limit
	}

	grown := make([]byte, len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
	return nil
}

// Append adds raw bytes to the end of the buffer.
func (b *Buffer) Append(data ...byte) error {
	if err := b.grow(len(data)); err != nil {
		return err
	}
	b.data = append(b.data, data...)
	return nil
}

// AppendUint32 appends v in little-endian order.
func (b *Buffer) AppendUint32(v uint32) error {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return b.Append(tmp[:]...)
}

// PutUint32At overwrites four previously written bytes at off.
func (b *Buffer) PutUint32At(off int, v uint32) error {
	if off < 0 || off+4 > len(b.data) {
		return fmt.Errorf("patch at %d out of range (len %d)", off, len(b.data))
	}
	binary.LittleEndian.PutUint32(b.data[off:off+4], v)
	return nil
}

// Uint32At reads back four bytes at off.
func (b *Buffer) Uint32At(off int) (uint32, error) {
	if off < 0 || off+4 > len(b.data) {
		return 0, fmt.Errorf("read at %d out of range (len %d)", off, len(b.data))
	}
	return binary.LittleEndian.Uint32(b.data[off : off+4]), nil
}
