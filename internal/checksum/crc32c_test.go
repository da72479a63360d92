package checksum

import "testing"

func TestEngineFeedSliceMatchesOneShot(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	e := New()
	e.FeedSlice(data, 0, len(data))

	want := Of(data)
	if got := e.Sum32(); got != want {
		t.Errorf("Sum32() = %d, want %d", got, want)
	}
}

func TestEngineFeedByteAccumulates(t *testing.T) {
	data := []byte("abcdef")

	e := New()
	for _, b := range data {
		e.FeedByte(b)
	}

	want := Of(data)
	if got := e.Sum32(); got != want {
		t.Errorf("byte-by-byte Sum32() = %d, want %d", got, want)
	}
}

func TestEngineReset(t *testing.T) {
	e := New()
	e.FeedSlice([]byte("nonempty"), 0, 8)
	if e.Sum32() == 0 {
		t.Fatal("expected nonzero checksum before reset")
	}
	e.Reset()
	if got := e.Sum32(); got != 0 {
		t.Errorf("Sum32() after Reset() = %d, want 0", got)
	}
}

func TestEngineFeedViewContiguous(t *testing.T) {
	data := []byte("contiguous segment")
	e := New()
	e.FeedView(BufferView{Segments: [][]byte{data}})

	want := Of(data)
	if got := e.Sum32(); got != want {
		t.Errorf("Sum32() = %d, want %d", got, want)
	}
}

func TestEngineFeedViewNonContiguousMatchesConcatenation(t *testing.T) {
	parts := [][]byte{[]byte("hello, "), []byte("chunked "), []byte("world")}
	var concat []byte
	for _, p := range parts {
		concat = append(concat, p...)
	}

	e := New()
	e.FeedView(BufferView{Segments: parts})

	want := Of(concat)
	if got := e.Sum32(); got != want {
		t.Errorf("non-contiguous Sum32() = %d, want %d (concatenated)", got, want)
	}
}

func TestEngineSum64WidensSum32(t *testing.T) {
	e := New()
	e.FeedSlice([]byte("widen me"), 0, 8)
	if e.Sum64() != uint64(e.Sum32()) {
		t.Errorf("Sum64() = %d, want widened Sum32() = %d", e.Sum64(), e.Sum32())
	}
}

func TestEnginePiecewiseFeedMatchesWholeFeed(t *testing.T) {
	// Feeding the same bytes in different chunk sizes must produce the same
	// checksum: incremental feeding is associative over concatenation.
	data := []byte("0123456789abcdef0123456789abcdef")

	whole := New()
	whole.FeedSlice(data, 0, len(data))

	piecewise := New()
	for i := 0; i < len(data); i += 3 {
		end := i + 3
		if end > len(data) {
			end = len(data)
		}
		piecewise.FeedSlice(data, i, end-i)
	}

	if whole.Sum32() != piecewise.Sum32() {
		t.Errorf("piecewise feed = %d, want %d (whole feed)", piecewise.Sum32(), whole.Sum32())
	}
}
