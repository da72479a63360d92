package wireschema

import (
	"bytes"
	"testing"
)

func TestDatanodeBlockIdRoundTrip(t *testing.T) {
	want := DatanodeBlockId{ContainerID: 42, LocalID: 7}
	got, err := UnmarshalDatanodeBlockId(want.Marshal())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestChunkInfoRoundTrip(t *testing.T) {
	want := ChunkInfo{
		ChunkName: "chunk_1",
		Offset:    1024,
		Len:       4096,
		Checksum: ChecksumData{
			Type:             ChecksumTypeCRC32C,
			BytesPerChecksum: 512,
			Checksums:        [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}},
		},
	}
	got, err := UnmarshalChunkInfo(want.Marshal())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ChunkName != want.ChunkName || got.Offset != want.Offset || got.Len != want.Len {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.Checksum.Type != want.Checksum.Type || got.Checksum.BytesPerChecksum != want.Checksum.BytesPerChecksum {
		t.Errorf("checksum metadata mismatch: got %+v, want %+v", got.Checksum, want.Checksum)
	}
	if len(got.Checksum.Checksums) != len(want.Checksum.Checksums) {
		t.Fatalf("checksum count = %d, want %d", len(got.Checksum.Checksums), len(want.Checksum.Checksums))
	}
	for i := range want.Checksum.Checksums {
		if !bytes.Equal(got.Checksum.Checksums[i], want.Checksum.Checksums[i]) {
			t.Errorf("checksum[%d] = %x, want %x", i, got.Checksum.Checksums[i], want.Checksum.Checksums[i])
		}
	}
}

func TestBlockDataRoundTrip(t *testing.T) {
	want := BlockData{
		BlockID: DatanodeBlockId{ContainerID: 1, LocalID: 2},
		Chunks: []ChunkInfo{
			{ChunkName: "chunk_0", Offset: 0, Len: 1000},
			{ChunkName: "chunk_1", Offset: 1000, Len: 500},
		},
		Size: 1500,
	}
	got, err := UnmarshalBlockData(want.Marshal())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.BlockID != want.BlockID || got.Size != want.Size || len(got.Chunks) != len(want.Chunks) {
		t.Errorf("got %+v, want %+v", got, want)
	}
	for i := range want.Chunks {
		if got.Chunks[i].ChunkName != want.Chunks[i].ChunkName {
			t.Errorf("chunk[%d].ChunkName = %q, want %q", i, got.Chunks[i].ChunkName, want.Chunks[i].ChunkName)
		}
	}
}

func TestGetBlockRequestResponseRoundTrip(t *testing.T) {
	req := GetBlockRequest{BlockID: DatanodeBlockId{ContainerID: 9, LocalID: 3}, Token: []byte("bearer")}
	gotReq, err := UnmarshalGetBlockRequest(req.Marshal())
	if err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if gotReq.BlockID != req.BlockID {
		t.Errorf("got %+v, want %+v", gotReq, req)
	}
	if !bytes.Equal(gotReq.Token, req.Token) {
		t.Errorf("token = %q, want %q", gotReq.Token, req.Token)
	}

	resp := GetBlockResponse{BlockData: BlockData{
		BlockID: req.BlockID,
		Chunks:  []ChunkInfo{{ChunkName: "chunk_0", Len: 10}},
		Size:    10,
	}}
	gotResp, err := UnmarshalGetBlockResponse(resp.Marshal())
	if err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if gotResp.BlockData.Size != resp.BlockData.Size {
		t.Errorf("got size %d, want %d", gotResp.BlockData.Size, resp.BlockData.Size)
	}
}

func TestReadChunkRequestResponseRoundTrip(t *testing.T) {
	req := ReadChunkRequest{
		BlockID:    DatanodeBlockId{ContainerID: 1, LocalID: 1},
		ChunkInfo:  ChunkInfo{ChunkName: "chunk_2", Offset: 2048, Len: 1024},
		ReadOffset: 100,
		ReadLength: 200,
		Token:      []byte("bearer"),
	}
	gotReq, err := UnmarshalReadChunkRequest(req.Marshal())
	if err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if gotReq.BlockID != req.BlockID || gotReq.ChunkInfo.ChunkName != req.ChunkInfo.ChunkName {
		t.Errorf("got %+v, want %+v", gotReq, req)
	}
	if gotReq.ReadOffset != req.ReadOffset || gotReq.ReadLength != req.ReadLength {
		t.Errorf("got offset/length %d/%d, want %d/%d", gotReq.ReadOffset, gotReq.ReadLength, req.ReadOffset, req.ReadLength)
	}
	if !bytes.Equal(gotReq.Token, req.Token) {
		t.Errorf("token = %q, want %q", gotReq.Token, req.Token)
	}

	resp := ReadChunkResponse{Data: []byte("some chunk bytes")}
	gotResp, err := UnmarshalReadChunkResponse(resp.Marshal())
	if err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !bytes.Equal(gotResp.Data, resp.Data) {
		t.Errorf("got %q, want %q", gotResp.Data, resp.Data)
	}
}
