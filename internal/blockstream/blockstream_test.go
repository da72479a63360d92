package blockstream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"cargohold/internal/cargoerr"
	"cargohold/internal/replicapipeline"
	"cargohold/internal/wireschema"
)

// fakeClient is an in-memory stand-in for replicapipeline.Client, letting
// tests drive GetBlock/ReadChunk failures and pipeline-dependent chunk
// bytes without a real RPC transport.
type fakeClient struct {
	mu sync.Mutex

	// chunkBytes maps (pipelineID, chunkName) -> full chunk contents, so a
	// refreshed pipeline can serve different bytes than the original.
	chunkBytes map[string]map[string][]byte

	getBlockErrs  []error // consumed in order; once exhausted, succeeds
	getBlockCalls int
	blockData     wireschema.BlockData

	// shortReadOnce, if set, makes the next ReadChunk for this chunk name
	// return shortReadOnce bytes regardless of requested length.
	shortReadOnce map[string]int

	readChunkErrs map[string][]error // per chunk name, consumed in order
	readChunkCalls int

	acquireCalls  int
	releaseCalls  int
	invalidations int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		chunkBytes:    map[string]map[string][]byte{},
		shortReadOnce: map[string]int{},
		readChunkErrs: map[string][]error{},
	}
}

func (f *fakeClient) AcquireReadClient(pipeline replicapipeline.Pipeline) (*replicapipeline.ClientHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquireCalls++
	return &replicapipeline.ClientHandle{Node: replicapipeline.DatanodeEndpoint{ID: pipeline.ID}}, nil
}

func (f *fakeClient) ReleaseReadClient(handle *replicapipeline.ClientHandle, invalidate bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseCalls++
	if invalidate {
		f.invalidations++
	}
}

func (f *fakeClient) GetBlock(ctx context.Context, handle *replicapipeline.ClientHandle, blockID wireschema.DatanodeBlockId, token []byte) (wireschema.BlockData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.getBlockCalls
	f.getBlockCalls++
	if idx < len(f.getBlockErrs) && f.getBlockErrs[idx] != nil {
		return wireschema.BlockData{}, f.getBlockErrs[idx]
	}
	return f.blockData, nil
}

func (f *fakeClient) ReadChunk(ctx context.Context, handle *replicapipeline.ClientHandle, blockID wireschema.DatanodeBlockId, chunk wireschema.ChunkInfo, readOffset, readLength int64, token []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readChunkCalls++

	if errs := f.readChunkErrs[chunk.ChunkName]; len(errs) > 0 {
		err := errs[0]
		f.readChunkErrs[chunk.ChunkName] = errs[1:]
		if err != nil {
			return nil, err
		}
	}

	full := f.chunkBytes[handle.Node.ID][chunk.ChunkName]
	end := readOffset + readLength
	if end > int64(len(full)) {
		end = int64(len(full))
	}
	data := full[readOffset:end]

	if n, ok := f.shortReadOnce[chunk.ChunkName]; ok {
		delete(f.shortReadOnce, chunk.ChunkName)
		if n < len(data) {
			data = data[:n]
		}
	}
	return data, nil
}

// fillPattern returns n deterministic bytes starting logically at base, so
// a test can verify reassembled bytes line up with block offsets without
// storing a giant literal.
func fillPattern(base, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte((base + i) % 251)
	}
	return out
}

func chunkInfos(lengths []int64) []wireschema.ChunkInfo {
	infos := make([]wireschema.ChunkInfo, len(lengths))
	var off int64
	for i, l := range lengths {
		infos[i] = wireschema.ChunkInfo{ChunkName: chunkName(i), Offset: off, Len: l}
		off += l
	}
	return infos
}

func chunkName(i int) string {
	return "chunk_" + string(rune('0'+i))
}

func testPipeline(id string, nodeIDs ...string) replicapipeline.Pipeline {
	nodes := make([]replicapipeline.DatanodeEndpoint, len(nodeIDs))
	for i, n := range nodeIDs {
		nodes[i] = replicapipeline.DatanodeEndpoint{ID: n, Address: n + ":9859"}
	}
	return replicapipeline.Pipeline{ID: id, Nodes: nodes}
}

func newStream(t *testing.T, client *fakeClient, length int64, lengths []int64, refresh PipelineRefreshFunc) *BlockReadStream {
	t.Helper()
	pipeline := testPipeline("p1", "dn1")
	infos := chunkInfos(lengths)
	client.blockData = wireschema.BlockData{Chunks: infos, Size: length}

	var off int64
	full := map[string][]byte{}
	for _, ci := range infos {
		full[ci.ChunkName] = fillPattern(int(off), int(ci.Len))
		off += ci.Len
	}
	client.chunkBytes[pipeline.ID] = full
	// AsStandalone() keeps pipeline.ID and the fake AcquireReadClient keys
	// by it, so reads after the standalone conversion are served from "p1".
	client.chunkBytes["p1"] = full

	rp := NewRetryPolicy()
	rp.Sleep = func(d time.Duration) {} // no real sleeping in tests

	return New(Config{
		BlockID:         wireschema.DatanodeBlockId{ContainerID: 1, LocalID: 1},
		Length:          length,
		Pipeline:        pipeline,
		Client:          client,
		RetryPolicy:     rp,
		RefreshPipeline: refresh,
	})
}

func TestReadAllRoundTrip(t *testing.T) {
	client := newFakeClient()
	lengths := []int64{40, 40, 20}
	s := newStream(t, client, 100, lengths, nil)

	buf := make([]byte, 0, 100)
	tmp := make([]byte, 7) // arbitrary buffer size smaller than any chunk
	for {
		n, err := s.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if n == 0 {
			t.Fatal("Read returned 0, nil without EOF")
		}
	}
	if len(buf) != 100 {
		t.Fatalf("read %d bytes, want 100", len(buf))
	}
	want := fillPattern(0, 100)
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, buf[i], want[i])
		}
	}
}

func TestSeekBeforeInit(t *testing.T) {
	client := newFakeClient()
	lengths := []int64{40, 40, 40, 40, 40, 40, 40, 40, 40, 40} // 10 * 40 = 400
	s := newStream(t, client, 400, lengths, nil)

	if err := s.Seek(90); err != nil {
		t.Fatalf("Seek before init: %v", err)
	}

	buf := make([]byte, 10)
	n, err := s.Read(buf)
	if err != nil {
		t.Fatalf("Read after seek: %v", err)
	}
	if n != 10 {
		t.Fatalf("read %d bytes, want 10", n)
	}
	want := fillPattern(90, 10)
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, buf[i], want[i])
		}
	}
	if got := s.GetPos(); got != 100 {
		t.Errorf("GetPos() = %d, want 100", got)
	}
}

func TestSeekRoundTrip(t *testing.T) {
	client := newFakeClient()
	lengths := []int64{40, 40, 20}
	s := newStream(t, client, 100, lengths, nil)

	// Force initialization.
	if err := s.Seek(0); err != nil {
		t.Fatalf("Seek(0): %v", err)
	}
	one := make([]byte, 1)
	if _, err := s.Read(one); err != nil {
		t.Fatalf("Read: %v", err)
	}

	for _, p := range []int64{0, 1, 39, 40, 41, 79, 80, 99} {
		if err := s.Seek(p); err != nil {
			t.Fatalf("Seek(%d): %v", p, err)
		}
		if got := s.GetPos(); got != p {
			t.Errorf("Seek(%d); GetPos() = %d, want %d", p, got, p)
		}
	}

	if err := s.Seek(-1); !errors.Is(err, cargoerr.ErrEndOfStream) {
		t.Errorf("Seek(-1): got %v, want ErrEndOfStream", err)
	}
	if err := s.Seek(100); !errors.Is(err, cargoerr.ErrEndOfStream) {
		t.Errorf("Seek(100): got %v, want ErrEndOfStream", err)
	}
}

func TestPipelineRefreshOnGetBlockFailure(t *testing.T) {
	client := newFakeClient()
	client.getBlockErrs = []error{cargoerr.ErrStorageContainer}

	lengths := []int64{40, 40, 20}
	refreshCalls := 0
	refresh := func(id wireschema.DatanodeBlockId) (*replicapipeline.Pipeline, error) {
		refreshCalls++
		np := testPipeline("p2", "dn2")
		return &np, nil
	}
	s := newStream(t, client, 100, lengths, refresh)
	// The refreshed pipeline must serve the same chunk bytes under its own
	// id so the read can still succeed.
	client.chunkBytes["p2"] = client.chunkBytes["p1"]

	buf := make([]byte, 100)
	n, err := io.ReadFull(s, buf)
	if err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if n != 100 {
		t.Fatalf("read %d bytes, want 100", n)
	}
	if refreshCalls != 1 {
		t.Errorf("refreshCalls = %d, want 1", refreshCalls)
	}
	if client.getBlockCalls != 2 {
		t.Errorf("getBlockCalls = %d, want 2 (one failure + one retry)", client.getBlockCalls)
	}
}

func TestPipelineRefreshDeclinedWhenNotDisjoint(t *testing.T) {
	client := newFakeClient()
	client.getBlockErrs = []error{cargoerr.ErrStorageContainer, cargoerr.ErrStorageContainer, cargoerr.ErrStorageContainer, cargoerr.ErrStorageContainer}

	lengths := []int64{40, 40, 20}
	refresh := func(id wireschema.DatanodeBlockId) (*replicapipeline.Pipeline, error) {
		// Overlapping pipeline (shares dn1): must be rejected.
		np := testPipeline("p1", "dn1")
		return &np, nil
	}
	s := newStream(t, client, 100, lengths, refresh)

	buf := make([]byte, 10)
	_, err := s.Read(buf)
	if !errors.Is(err, cargoerr.ErrStorageContainer) {
		t.Fatalf("got %v, want ErrStorageContainer after exhausting retries", err)
	}
	// maxRetries=3 plus the original attempt = 4 GetBlock calls total.
	if client.getBlockCalls != 4 {
		t.Errorf("getBlockCalls = %d, want 4", client.getBlockCalls)
	}
}

func TestStorageContainerErrorMidReadRefreshesPipeline(t *testing.T) {
	client := newFakeClient()
	lengths := []int64{40, 40, 20}
	refreshCalls := 0
	refresh := func(id wireschema.DatanodeBlockId) (*replicapipeline.Pipeline, error) {
		refreshCalls++
		np := testPipeline("p2", "dn2")
		return &np, nil
	}
	s := newStream(t, client, 100, lengths, refresh)
	client.chunkBytes["p2"] = client.chunkBytes["p1"]
	client.readChunkErrs["chunk_0"] = []error{cargoerr.ErrStorageContainer}

	buf := make([]byte, 10)
	if _, err := s.Read(buf); err != nil {
		t.Fatalf("Read with one storage-container error: %v", err)
	}
	if refreshCalls != 1 {
		t.Errorf("refreshCalls = %d, want 1 (storage-container errors refresh the pipeline)", refreshCalls)
	}
	want := fillPattern(0, 10)
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, buf[i], want[i])
		}
	}
}

func TestTransportErrorMidReadDoesNotRefresh(t *testing.T) {
	client := newFakeClient()
	lengths := []int64{40, 40, 20}
	refreshCalls := 0
	refresh := func(id wireschema.DatanodeBlockId) (*replicapipeline.Pipeline, error) {
		refreshCalls++
		np := testPipeline("p2", "dn2")
		return &np, nil
	}
	s := newStream(t, client, 100, lengths, refresh)
	client.readChunkErrs["chunk_0"] = []error{cargoerr.ErrRpcTransport}

	buf := make([]byte, 10)
	if _, err := s.Read(buf); err != nil {
		t.Fatalf("Read with one transport error: %v", err)
	}
	if refreshCalls != 0 {
		t.Errorf("refreshCalls = %d, want 0 (transport errors only redial the current chunk)", refreshCalls)
	}
	if client.invalidations == 0 {
		t.Error("expected the failing chunk's client to be released with invalidate")
	}
}

func TestShortReadIsInconsistentChunkRead(t *testing.T) {
	client := newFakeClient()
	lengths := []int64{40, 40, 20}
	s := newStream(t, client, 100, lengths, nil)
	client.shortReadOnce["chunk_0"] = 5 // 5 bytes back when 20 requested

	buf := make([]byte, 20)
	_, err := s.Read(buf)
	if !errors.Is(err, cargoerr.ErrInconsistentChunkRead) {
		t.Fatalf("got %v, want ErrInconsistentChunkRead", err)
	}
}

func TestReadAtDoesNotMovePosition(t *testing.T) {
	client := newFakeClient()
	lengths := []int64{40, 40, 20}
	s := newStream(t, client, 100, lengths, nil)

	buf := make([]byte, 10)
	if _, err := s.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	posBefore := s.GetPos()

	at := make([]byte, 15)
	n, err := s.ReadAt(at, 50)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 15 {
		t.Fatalf("ReadAt read %d bytes, want 15", n)
	}
	want := fillPattern(50, 15)
	for i := range want {
		if at[i] != want[i] {
			t.Fatalf("ReadAt byte %d = %d, want %d", i, at[i], want[i])
		}
	}
	if got := s.GetPos(); got != posBefore {
		t.Errorf("GetPos() after ReadAt = %d, want %d (unchanged)", got, posBefore)
	}

	// The next sequential read continues from where Read left off.
	if _, err := s.Read(buf); err != nil {
		t.Fatalf("Read after ReadAt: %v", err)
	}
	want = fillPattern(int(posBefore), 10)
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("sequential byte %d = %d, want %d", i, buf[i], want[i])
		}
	}
}

func TestReadAtPastEndFailsEndOfStream(t *testing.T) {
	client := newFakeClient()
	lengths := []int64{40, 40, 20}
	s := newStream(t, client, 100, lengths, nil)

	buf := make([]byte, 10)
	if _, err := s.ReadAt(buf, 100); !errors.Is(err, cargoerr.ErrEndOfStream) {
		t.Fatalf("ReadAt(100): got %v, want ErrEndOfStream", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	client := newFakeClient()
	lengths := []int64{40, 40, 20}
	s := newStream(t, client, 100, lengths, nil)

	buf := make([]byte, 10)
	if _, err := s.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestUnbufferThenReadResumesAtSamePosition(t *testing.T) {
	client := newFakeClient()
	lengths := []int64{40, 40, 20}
	s := newStream(t, client, 100, lengths, nil)

	buf := make([]byte, 10)
	if _, err := s.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	posBefore := s.GetPos()

	if err := s.Unbuffer(); err != nil {
		t.Fatalf("Unbuffer: %v", err)
	}
	if got := s.GetPos(); got != posBefore {
		t.Fatalf("GetPos() after Unbuffer = %d, want %d", got, posBefore)
	}

	one := make([]byte, 1)
	if _, err := s.Read(one); err != nil {
		t.Fatalf("Read after Unbuffer: %v", err)
	}
	want := fillPattern(int(posBefore), 1)
	if one[0] != want[0] {
		t.Errorf("byte after unbuffer/read = %d, want %d", one[0], want[0])
	}
}

func TestRetryCounterResetsOnSuccessfulRead(t *testing.T) {
	client := newFakeClient()
	lengths := []int64{40, 40, 20}
	s := newStream(t, client, 100, lengths, nil)
	client.readChunkErrs["chunk_0"] = []error{cargoerr.ErrRpcTransport}

	buf := make([]byte, 10)
	if _, err := s.Read(buf); err != nil {
		t.Fatalf("Read with one retryable error: %v", err)
	}
	if s.retryCount != 0 {
		t.Errorf("retryCount after successful read = %d, want 0 (reset)", s.retryCount)
	}
}
