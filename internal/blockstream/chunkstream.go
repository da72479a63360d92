package blockstream

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"cargohold/internal/cargoerr"
	"cargohold/internal/checksum"
	"cargohold/internal/replicapipeline"
	"cargohold/internal/wireschema"
)

// PipelineClient is the subset of replicapipeline.Client a chunk/block
// stream needs, narrowed to an interface so tests can substitute a fake
// transport instead of dialing real connections.
type PipelineClient interface {
	AcquireReadClient(pipeline replicapipeline.Pipeline) (*replicapipeline.ClientHandle, error)
	ReleaseReadClient(handle *replicapipeline.ClientHandle, invalidate bool)
	GetBlock(ctx context.Context, handle *replicapipeline.ClientHandle, blockID wireschema.DatanodeBlockId, token []byte) (wireschema.BlockData, error)
	ReadChunk(ctx context.Context, handle *replicapipeline.ClientHandle, blockID wireschema.DatanodeBlockId, chunk wireschema.ChunkInfo, readOffset, readLength int64, token []byte) ([]byte, error)
}

// ChunkReadStream is a lazy reader for one chunk: it does not connect
// until first read, verifies checksum-boundary segments against the
// chunk's embedded checksum list, and supports seek/unbuffer.
//
// Not safe for concurrent use; it is always driven by exactly one
// BlockReadStream which supplies its own synchronization.
type ChunkReadStream struct {
	info           wireschema.ChunkInfo
	blockID        wireschema.DatanodeBlockId
	pipelineFn     func() replicapipeline.Pipeline
	verifyChecksum bool
	token          []byte
	client         PipelineClient

	handle *replicapipeline.ClientHandle
	pos    int64
}

// NewChunkReadStream builds a ChunkReadStream. pipelineFn is consulted
// freshly on every (re)connect so a pipeline refresh performed by the
// owning block stream is picked up automatically.
func NewChunkReadStream(info wireschema.ChunkInfo, blockID wireschema.DatanodeBlockId, pipelineFn func() replicapipeline.Pipeline, verifyChecksum bool, token []byte, client PipelineClient) *ChunkReadStream {
	return &ChunkReadStream{info: info, blockID: blockID, pipelineFn: pipelineFn, verifyChecksum: verifyChecksum, token: token, client: client}
}

// connect lazily acquires an RPC client for this chunk's current replica
// pipeline. A no-op if already connected. Nothing touches the network
// before the first read, so a seek that skips past this chunk entirely
// never opens it.
func (s *ChunkReadStream) connect() error {
	if s.handle != nil {
		return nil
	}
	h, err := s.client.AcquireReadClient(s.pipelineFn().AsStandalone())
	if err != nil {
		return err
	}
	s.handle = h
	return nil
}

// Read fills buf with up to len(buf) bytes starting at the stream's
// current position, advancing it, and returns io.EOF once the chunk is
// exhausted.
func (s *ChunkReadStream) Read(buf []byte) (int, error) {
	if s.pos >= s.info.Len {
		return 0, io.EOF
	}
	if err := s.connect(); err != nil {
		return 0, err
	}

	want := int64(len(buf))
	if remaining := s.info.Len - s.pos; want > remaining {
		want = remaining
	}
	if want == 0 {
		return 0, io.EOF
	}

	data, err := s.client.ReadChunk(context.Background(), s.handle, s.blockID, s.info, s.pos, want, s.token)
	if err != nil {
		return 0, err
	}
	if s.verifyChecksum {
		if err := verifyChecksumSegments(s.info, data, s.pos); err != nil {
			return 0, err
		}
	}
	n := copy(buf, data)
	s.pos += int64(n)
	return n, nil
}

// Seek moves the stream's position within the chunk. A negative position,
// or one at or past the chunk length, fails EndOfStream; a zero-length
// chunk accepts any offset and stays at position 0.
func (s *ChunkReadStream) Seek(offset int64) error {
	if s.info.Len == 0 {
		s.pos = 0
		return nil
	}
	if offset < 0 || offset >= s.info.Len {
		return cargoerr.ErrEndOfStream
	}
	s.pos = offset
	return nil
}

// GetRemaining returns the number of unread bytes left in the chunk.
func (s *ChunkReadStream) GetRemaining() int64 {
	return s.info.Len - s.pos
}

// GetPos returns the stream's current position within the chunk.
func (s *ChunkReadStream) GetPos() int64 {
	return s.pos
}

// Close releases the RPC client, idempotently.
func (s *ChunkReadStream) Close() error {
	return s.ReleaseClient(false)
}

// Unbuffer persists the current position (already held in s.pos) and
// releases the RPC client so it can be pooled; a subsequent read
// transparently reconnects.
func (s *ChunkReadStream) Unbuffer() error {
	return s.ReleaseClient(false)
}

// ReleaseClient releases the stream's RPC client if one is held.
// invalidate is forwarded to the pipeline client so a connection believed
// bad is not returned to the pool.
func (s *ChunkReadStream) ReleaseClient(invalidate bool) error {
	if s.handle == nil {
		return nil
	}
	s.client.ReleaseReadClient(s.handle, invalidate)
	s.handle = nil
	return nil
}

// verifyChecksumSegments verifies every checksum-boundary segment fully
// covered by data (which starts at chunk offset startOffset) against the
// chunk's embedded checksum list. A partially covered boundary segment
// (the common case for a read that doesn't happen to align with
// bytesPerChecksum) is skipped rather than rejected: only whole segments
// are ever checked, matching the source data's own checksum granularity.
func verifyChecksumSegments(info wireschema.ChunkInfo, data []byte, startOffset int64) error {
	cd := info.Checksum
	if cd.Type == wireschema.ChecksumTypeNone || len(cd.Checksums) == 0 || cd.BytesPerChecksum <= 0 {
		return nil
	}
	bpc := int64(cd.BytesPerChecksum)
	end := startOffset + int64(len(data))

	firstSeg := startOffset / bpc
	lastSeg := (end - 1) / bpc
	for seg := firstSeg; seg <= lastSeg && int(seg) < len(cd.Checksums); seg++ {
		segStart := seg * bpc
		segEnd := segStart + bpc
		if segEnd > info.Len {
			segEnd = info.Len
		}
		if segStart < startOffset || segEnd > end {
			continue // boundary segment not fully covered by this read
		}
		want := cd.Checksums[seg]
		got := checksum.Of(data[segStart-startOffset : segEnd-startOffset])
		if len(want) != 4 || binary.BigEndian.Uint32(want) != got {
			return fmt.Errorf("%w: chunk %s segment %d", cargoerr.ErrChecksumMismatch, info.ChunkName, seg)
		}
	}
	return nil
}
