// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package buffer provides a growable, seekable byte buffer used to stage
// both outbound and inbound request/response payloads.
//
// Semantics and design:
//   - Invariant: 0 <= cursor <= farthestWrite <= allocation. The allocation
//     is a power of two no smaller than MinimumSize, except after Adopt,
//     which installs the given slice as the allocation at its own length.
//   - Write grows the allocation by doubling whenever a write would exceed
//     the current capacity; it never shrinks.
//   - Read returns a borrowed view into the backing array starting at the
//     cursor; reading past farthestWrite fails with ErrReadPastEnd and
//     leaves the cursor unmoved.
//   - A Buffer is owned by its creator. It may be moved (reassigned) but is
//     not safe for concurrent use by multiple goroutines.
package buffer

import (
	"encoding/binary"
	"errors"
)

// MinimumSize is the smallest allocation a Buffer ever holds.
const MinimumSize = 32

// ErrReadPastEnd is returned when a read would consume bytes beyond the
// high-water mark (farthestWrite).
var ErrReadPastEnd = errors.New("buffer: read past end")

// ErrSeekPastEnd is returned when Seek is asked to move beyond farthestWrite.
var ErrSeekPastEnd = errors.New("buffer: seek past end")

// byteOrder is the fixed wire byte order for length-prefixed strings.
// Pinned to little-endian explicitly rather than the host's native order:
// every worked example in the originating spec is byte-exact
// little-endian, and a portable implementation must behave identically on
// big-endian architectures too.
var byteOrder = binary.LittleEndian

// Buffer is a growable append+seek+read byte buffer with bounds checking.
type Buffer struct {
	data          []byte
	cursor        int
	farthestWrite int
}

// New returns a Buffer with the minimum allocation.
func New() *Buffer {
	return &Buffer{data: make([]byte, MinimumSize)}
}

// NewSize returns a Buffer whose initial allocation is the smallest power of
// two no smaller than MinimumSize that can hold hint bytes.
func NewSize(hint int) *Buffer {
	b := &Buffer{data: make([]byte, MinimumSize)}
	if hint > MinimumSize {
		b.grow(hint)
	}
	return b
}

// grow doubles the allocation until it can hold need bytes.
func (b *Buffer) grow(need int) {
	actual := MinimumSize
	for actual < need {
		actual *= 2
	}
	if actual == len(b.data) {
		return
	}
	newData := make([]byte, actual)
	copy(newData, b.data[:b.farthestWrite])
	b.data = newData
}

// Write appends p at the cursor, growing the allocation if necessary, and
// advances the cursor. The high-water mark is updated if the cursor moves
// past it.
func (b *Buffer) Write(p []byte) (int, error) {
	need := b.cursor + len(p)
	if need > len(b.data) {
		b.grow(need)
	}
	copy(b.data[b.cursor:need], p)
	b.cursor = need
	if b.cursor > b.farthestWrite {
		b.farthestWrite = b.cursor
	}
	return len(p), nil
}

// WriteByte appends a single byte at the cursor.
func (b *Buffer) WriteByte(c byte) error {
	_, err := b.Write([]byte{c})
	return err
}

// WriteUint16 appends a 16-bit value in the buffer's fixed byte order.
func (b *Buffer) WriteUint16(v uint16) error {
	var tmp [2]byte
	byteOrder.PutUint16(tmp[:], v)
	_, err := b.Write(tmp[:])
	return err
}

// WriteString emits a 16-bit length prefix followed by the raw bytes of s.
func (b *Buffer) WriteString(s string) error {
	if err := b.WriteUint16(uint16(len(s))); err != nil {
		return err
	}
	_, err := b.Write([]byte(s))
	return err
}

// Read returns a borrowed view of n bytes starting at the cursor and
// advances the cursor. The returned slice aliases the buffer's backing
// array and is invalidated by the next Write that triggers a grow.
func (b *Buffer) Read(n int) ([]byte, error) {
	if b.cursor+n > b.farthestWrite {
		return nil, ErrReadPastEnd
	}
	out := b.data[b.cursor : b.cursor+n]
	b.cursor += n
	return out, nil
}

// ReadByte reads a single byte.
func (b *Buffer) ReadByte() (byte, error) {
	p, err := b.Read(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

// ReadUint16 reads a 16-bit value in the buffer's fixed byte order.
func (b *Buffer) ReadUint16() (uint16, error) {
	p, err := b.Read(2)
	if err != nil {
		return 0, err
	}
	return byteOrder.Uint16(p), nil
}

// ReadString is the inverse of WriteString. On failure before completion
// the cursor is restored to its pre-call position.
func (b *Buffer) ReadString() (string, error) {
	start := b.cursor
	length, err := b.ReadUint16()
	if err != nil {
		b.cursor = start
		return "", err
	}
	data, err := b.Read(int(length))
	if err != nil {
		b.cursor = start
		return "", err
	}
	return string(data), nil
}

// Seek moves the cursor to pos, which must not exceed the high-water mark.
func (b *Buffer) Seek(pos int) error {
	if pos < 0 || pos > b.farthestWrite {
		return ErrSeekPastEnd
	}
	b.cursor = pos
	return nil
}

// Reset zeroes the cursor and high-water mark; the allocation is retained.
func (b *Buffer) Reset() {
	b.cursor = 0
	b.farthestWrite = 0
}

// Adopt takes ownership of an externally-allocated buffer, replacing the
// current one. Used for zero-copy construction from bytes already read off
// a connection.
func (b *Buffer) Adopt(buf []byte) {
	b.data = buf
	b.cursor = 0
	b.farthestWrite = len(buf)
}

// Bytes returns the written portion of the buffer (from offset 0 to the
// high-water mark), aliasing the backing array.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.farthestWrite]
}

// Len returns the high-water mark (farthestWrite).
func (b *Buffer) Len() int {
	return b.farthestWrite
}

// Cap returns the current allocation size.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Cursor returns the current cursor position.
func (b *Buffer) Cursor() int {
	return b.cursor
}

// AtEOF reports whether the cursor has consumed all written bytes.
func (b *Buffer) AtEOF() bool {
	return b.cursor >= b.farthestWrite
}
