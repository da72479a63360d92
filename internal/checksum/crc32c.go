// Package checksum provides the incremental checksum engine used to verify
// chunk data. The concrete algorithm is CRC-32C (Castagnoli),
// the same polynomial chunk checksums are recorded with on the wire
// (wireschema.ChecksumTypeCRC32C).
package checksum

import (
	"hash/crc32"
)

// castagnoli is computed once; building a crc32.Table is not free enough to
// redo per Engine.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Engine is a single-threaded, incremental CRC-32C accumulator. It mirrors
// the shape of hash.Hash32 but exposes a narrower feed/read/reset surface:
// feed one byte, feed a slice, feed a (possibly non-contiguous) buffer
// view, read the current value, reset.
//
// Not safe for concurrent use by multiple goroutines.
type Engine struct {
	crc uint32
}

// New returns a fresh Engine with an empty accumulated checksum.
func New() *Engine {
	return &Engine{}
}

// FeedByte folds a single byte into the running checksum.
func (e *Engine) FeedByte(b byte) {
	e.crc = crc32.Update(e.crc, castagnoli, []byte{b})
}

// FeedSlice folds buf[offset:offset+length] into the running checksum. It
// panics if the requested range is out of bounds, the same contract as
// slicing buf directly.
func (e *Engine) FeedSlice(buf []byte, offset, length int) {
	e.crc = crc32.Update(e.crc, castagnoli, buf[offset:offset+length])
}

// BufferView is a (possibly non-contiguous) view over one or more backing
// byte slices, e.g. a scatter/gather buffer assembled from several network
// reads. Feed treats the concatenation of Segments as one logical buffer.
type BufferView struct {
	Segments [][]byte
}

// Contiguous reports whether the view holds exactly one segment, in which
// case it can be fed without copying.
func (v BufferView) Contiguous() bool {
	return len(v.Segments) == 1
}

// Len returns the total number of bytes across all segments.
func (v BufferView) Len() int {
	n := 0
	for _, s := range v.Segments {
		n += len(s)
	}
	return n
}

// FeedView folds a BufferView into the running checksum. A single-segment
// (contiguous) view is fed directly; a multi-segment view is copied into a
// bounce buffer first, since crc32.Update has no scatter/gather form.
func (e *Engine) FeedView(v BufferView) {
	if v.Contiguous() {
		if len(v.Segments) == 1 {
			e.crc = crc32.Update(e.crc, castagnoli, v.Segments[0])
		}
		return
	}
	bounce := make([]byte, 0, v.Len())
	for _, s := range v.Segments {
		bounce = append(bounce, s...)
	}
	e.crc = crc32.Update(e.crc, castagnoli, bounce)
}

// Sum64 returns the current checksum value widened to u64; the CRC-32C
// value occupies the low 32 bits. Chunk checksum records on the wire hold
// the 4-byte big-endian form of Sum32.
func (e *Engine) Sum64() uint64 {
	return uint64(e.crc)
}

// Sum32 returns the current checksum value as the native CRC-32 width.
func (e *Engine) Sum32() uint32 {
	return e.crc
}

// Reset clears the accumulated checksum back to its zero value.
func (e *Engine) Reset() {
	e.crc = 0
}

// Of is a convenience one-shot helper equivalent to creating an Engine,
// feeding buf, and reading Sum32.
func Of(buf []byte) uint32 {
	return crc32.Checksum(buf, castagnoli)
}
