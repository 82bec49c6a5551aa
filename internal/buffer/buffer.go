// Package buffer provides a resizable byte container with separate
// length and capacity, used by every stage of the cipher pipeline.
package buffer

// Buffer is a growable byte container. Unlike a raw []byte, growing a
// Buffer past its capacity never aliases the old backing array into
// the caller's hands — Grow swaps a fresh backing array into the same
// *Buffer.
type Buffer struct {
	data []byte
}

// New allocates a Buffer with the given initial capacity.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity)}
}

// FromBytes wraps an existing slice as the initial contents of a Buffer.
// The slice is copied; the caller's slice is never retained.
func FromBytes(b []byte) *Buffer {
	buf := New(len(b))
	buf.Append(b)
	return buf
}

// Len returns the logical length.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Cap returns the current capacity.
func (b *Buffer) Cap() int {
	return cap(b.data)
}

// Bytes returns the logical contents. The returned slice is only
// valid until the next mutating call on b.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Reset truncates the buffer to zero length without releasing capacity.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

// Grow ensures at least n additional bytes of capacity are available,
// reallocating the backing array if necessary.
func (b *Buffer) Grow(n int) {
	if cap(b.data)-len(b.data) >= n {
		return
	}
	next := make([]byte, len(b.data), 2*cap(b.data)+n)
	copy(next, b.data)
	b.data = next
}

// Append appends p to the buffer, growing as needed.
func (b *Buffer) Append(p []byte) {
	b.Grow(len(p))
	b.data = append(b.data, p...)
}

// AppendByte appends a single byte.
func (b *Buffer) AppendByte(c byte) {
	b.Grow(1)
	b.data = append(b.data, c)
}

// TrimLeft discards the first n bytes, shifting remaining bytes down.
func (b *Buffer) TrimLeft(n int) {
	if n <= 0 {
		return
	}
	if n >= len(b.data) {
		b.data = b.data[:0]
		return
	}
	copy(b.data, b.data[n:])
	b.data = b.data[:len(b.data)-n]
}

// Clone returns a new Buffer with an independent copy of the contents.
func (b *Buffer) Clone() *Buffer {
	return FromBytes(b.data)
}
