package blockstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"cargohold/internal/cargoerr"
	"cargohold/internal/logging"
	"cargohold/internal/replicapipeline"
	"cargohold/internal/wireschema"
)

// PipelineRefreshFunc asks the caller for a replacement replica pipeline
// after a storage-container failure. A nil Pipeline return means no
// replacement is available.
type PipelineRefreshFunc func(blockID wireschema.DatanodeBlockId) (*replicapipeline.Pipeline, error)

// Config supplies a BlockReadStream with everything it needs at
// construction. No I/O happens until the first Read or ReadAt; a Seek
// before then only records the position.
type Config struct {
	BlockID         wireschema.DatanodeBlockId
	Length          int64
	Pipeline        replicapipeline.Pipeline
	Token           []byte
	VerifyChecksum  bool
	Client          PipelineClient
	RetryPolicy     *RetryPolicy
	RefreshPipeline PipelineRefreshFunc
	Logger          *slog.Logger
}

// BlockReadStream composes the chunk streams of one block, providing
// seek/read/positional read with retry and replica-pipeline refresh on
// failure. Each stream is a single-owner read session; all public
// operations run under an internal mutex so an interrupting
// unbuffer/close sequences safely against a read in progress.
type BlockReadStream struct {
	mu sync.Mutex

	cfg      Config
	pipeline replicapipeline.Pipeline
	log      *slog.Logger

	blockHandle *replicapipeline.ClientHandle
	initialized bool

	chunks       []wireschema.ChunkInfo
	chunkOffsets []int64
	chunkStreams []*ChunkReadStream
	chunkIndex   int

	blockPosition      int64
	previousChunkIndex int
	retryCount         int
	closed             bool
}

// New constructs a BlockReadStream. It performs no I/O; initialization
// happens at most once, on the first read.
func New(cfg Config) *BlockReadStream {
	if cfg.RetryPolicy == nil {
		cfg.RetryPolicy = NewRetryPolicy()
	}
	return &BlockReadStream{
		cfg:      cfg,
		pipeline: cfg.Pipeline,
		log:      logging.Default(cfg.Logger).With("component", "block-stream", "blockID", cfg.BlockID),
	}
}

// currentPipeline is the supplier passed to each ChunkReadStream so a
// refresh performed mid-read is visible to every chunk stream
// immediately, without re-threading state through them explicitly.
func (s *BlockReadStream) currentPipeline() replicapipeline.Pipeline {
	return s.pipeline
}

// tryRefresh asks cfg.RefreshPipeline for a replacement and adopts it only
// if disjoint from the current pipeline; an overlapping replacement would
// just re-read from the same failing datanodes.
func (s *BlockReadStream) tryRefresh() bool {
	if s.cfg.RefreshPipeline == nil {
		return false
	}
	np, err := s.cfg.RefreshPipeline(s.cfg.BlockID)
	if err != nil || np == nil {
		return false
	}
	if !np.DisjointFrom(s.pipeline) {
		return false
	}
	s.pipeline = *np
	return true
}

// initialize issues GetBlock, retrying per policy and attempting one free
// pipeline refresh before the first failure counts against the retry
// budget.
func (s *BlockReadStream) initialize() error {
	if s.initialized {
		return nil
	}

	refreshOffered := false
	for {
		if s.blockHandle == nil {
			h, err := s.cfg.Client.AcquireReadClient(s.pipeline.AsStandalone())
			if err != nil {
				return fmt.Errorf("%w: acquire block client: %v", cargoerr.ErrRpcTransport, err)
			}
			s.blockHandle = h
		}

		blockData, err := s.cfg.Client.GetBlock(context.Background(), s.blockHandle, s.cfg.BlockID, s.cfg.Token)
		if err == nil {
			s.retryCount = 0
			s.setupChunks(blockData.Chunks)
			s.initialized = true
			s.seekLocked(s.blockPosition)
			return nil
		}

		if !refreshOffered && cargoerr.KindOf(err) == cargoerr.KindStorageContainer {
			refreshOffered = true
			if s.tryRefresh() {
				s.cfg.Client.ReleaseReadClient(s.blockHandle, true)
				s.blockHandle = nil
				continue
			}
		}

		decision := s.cfg.RetryPolicy.Decide(err, s.retryCount)
		if decision == RetryDeny {
			return err
		}
		s.retryCount++
		s.cfg.Client.ReleaseReadClient(s.blockHandle, true)
		s.blockHandle = nil
		s.cfg.RetryPolicy.Wait()
	}
}

// setupChunks builds chunkOffsets[i] = sum of lengths of chunks before i,
// and one not-yet-connected ChunkReadStream per chunk.
func (s *BlockReadStream) setupChunks(chunks []wireschema.ChunkInfo) {
	s.chunks = chunks
	s.chunkOffsets = make([]int64, len(chunks))
	s.chunkStreams = make([]*ChunkReadStream, len(chunks))
	var sum int64
	for i, ch := range chunks {
		s.chunkOffsets[i] = sum
		sum += ch.Len
		s.chunkStreams[i] = NewChunkReadStream(ch, s.cfg.BlockID, s.currentPipeline, s.cfg.VerifyChecksum, s.cfg.Token, s.cfg.Client)
	}
	s.chunkIndex = 0
	s.previousChunkIndex = 0
}

// handleReadError releases the block's RPC client and every chunk
// stream's client, then attempts a pipeline refresh.
func (s *BlockReadStream) handleReadError() {
	if s.blockHandle != nil {
		s.cfg.Client.ReleaseReadClient(s.blockHandle, true)
		s.blockHandle = nil
	}
	for _, cs := range s.chunkStreams {
		cs.ReleaseClient(true)
	}
	s.tryRefresh()
}

// Read implements io.Reader, delegating to the active chunk stream with
// retry and pipeline refresh on failure.
func (s *BlockReadStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		if err := s.initialize(); err != nil {
			return 0, err
		}
	}
	return s.readLocked(p)
}

// ReadAt is the positional read form: it reads up to len(p) bytes
// starting at block offset off and restores the stream's logical position
// afterward, so interleaved Read calls are unaffected.
func (s *BlockReadStream) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		if err := s.initialize(); err != nil {
			return 0, err
		}
	}

	savedIdx := s.chunkIndex
	savedPrev := s.previousChunkIndex
	savedPositions := make([]int64, len(s.chunkStreams))
	for i, cs := range s.chunkStreams {
		savedPositions[i] = cs.pos
	}
	defer func() {
		for i, cs := range s.chunkStreams {
			cs.pos = savedPositions[i]
		}
		s.chunkIndex = savedIdx
		s.previousChunkIndex = savedPrev
	}()

	if err := s.seekLocked(off); err != nil {
		return 0, err
	}
	return s.readLocked(p)
}

func (s *BlockReadStream) readLocked(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if len(s.chunks) == 0 {
			if total == 0 {
				return 0, errEOF
			}
			return total, nil
		}
		cur := s.chunkStreams[s.chunkIndex]
		if s.chunkIndex == len(s.chunks)-1 && cur.GetRemaining() == 0 {
			if total == 0 {
				return 0, errEOF
			}
			return total, nil
		}
		if cur.GetRemaining() == 0 {
			s.chunkIndex++
			continue
		}

		toRead := cur.GetRemaining()
		if int64(len(p)) < toRead {
			toRead = int64(len(p))
		}

		n, err := cur.Read(p[:toRead])
		if err != nil {
			if err == errEOF {
				// The chunk reported fewer bytes available than its
				// declared length promised; only legal at the final
				// chunk's final read, handled by the check above.
				return total, fmt.Errorf("%w: unexpected EOF mid-block", cargoerr.ErrInconsistentChunkRead)
			}
			if cargoerr.KindOf(err) == cargoerr.KindStorageContainer {
				// The container replica itself is failing: drop every
				// client and try a different pipeline.
				decision := s.cfg.RetryPolicy.Decide(err, s.retryCount)
				if decision == RetryDeny {
					return total, err
				}
				s.retryCount++
				s.handleReadError()
				s.cfg.RetryPolicy.Wait()
				continue
			}
			if cargoerr.Retryable(err) {
				// Generic transport failure: only this chunk's connection
				// is suspect, so release it and redial the same pipeline.
				decision := s.cfg.RetryPolicy.Decide(err, s.retryCount)
				if decision == RetryDeny {
					return total, err
				}
				s.retryCount++
				cur.ReleaseClient(true)
				s.cfg.RetryPolicy.Wait()
				continue
			}
			return total, err
		}
		if int64(n) != toRead {
			return total, fmt.Errorf("%w: requested %d, got %d", cargoerr.ErrInconsistentChunkRead, toRead, n)
		}

		s.retryCount = 0
		total += n
		p = p[n:]
		if cur.GetRemaining() == 0 && s.chunkIndex+1 < len(s.chunks) {
			s.chunkIndex++
		}
	}
	return total, nil
}

// errEOF is a package-local alias for io.EOF, the sentinel chunkstream.go
// returns once a chunk is exhausted.
var errEOF = io.EOF

// Seek moves the block stream's logical position. Before initialization
// the position is only recorded, to be replayed once the chunk list is
// known.
func (s *BlockReadStream) Seek(pos int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seekLocked(pos)
}

func (s *BlockReadStream) seekLocked(pos int64) error {
	if !s.initialized {
		s.blockPosition = pos
		return nil
	}
	if pos == 0 && s.cfg.Length == 0 {
		return nil
	}
	if pos < 0 || pos >= s.cfg.Length {
		return cargoerr.ErrEndOfStream
	}

	idx := sort.Search(len(s.chunkOffsets), func(i int) bool { return s.chunkOffsets[i] > pos }) - 1
	if idx < 0 {
		idx = 0
	}

	s.chunkStreams[s.previousChunkIndex].Seek(0)
	for i := idx + 1; i < len(s.chunkStreams); i++ {
		s.chunkStreams[i].Seek(0)
	}
	if err := s.chunkStreams[idx].Seek(pos - s.chunkOffsets[idx]); err != nil {
		return err
	}
	s.chunkIndex = idx
	s.previousChunkIndex = idx
	return nil
}

// GetPos returns the block stream's current logical position.
func (s *BlockReadStream) GetPos() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getPosLocked()
}

func (s *BlockReadStream) getPosLocked() int64 {
	if !s.initialized {
		if s.cfg.Length == 0 {
			return 0
		}
		return s.blockPosition
	}
	return s.chunkOffsets[s.chunkIndex] + s.chunkStreams[s.chunkIndex].GetPos()
}

// Close releases the block's RPC client and closes every chunk stream.
// Idempotent.
func (s *BlockReadStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.blockHandle != nil {
		s.cfg.Client.ReleaseReadClient(s.blockHandle, false)
		s.blockHandle = nil
	}
	for _, cs := range s.chunkStreams {
		cs.Close()
	}
	s.closed = true
	return nil
}

// Unbuffer saves the current position, releases the RPC client, and asks
// every chunk stream to unbuffer, so pooled connections are freed between
// read bursts.
func (s *BlockReadStream) Unbuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blockPosition = s.getPosLocked()
	if s.blockHandle != nil {
		s.cfg.Client.ReleaseReadClient(s.blockHandle, false)
		s.blockHandle = nil
	}
	for _, cs := range s.chunkStreams {
		cs.Unbuffer()
	}
	return nil
}
