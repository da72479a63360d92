package wireschema

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal/Unmarshal on the types in this file hand-encode the same
// length-delimited/varint wire format protoc-generated code would produce,
// field number by field number, using the low-level primitives in
// google.golang.org/protobuf/encoding/protowire. There is no .proto/protoc
// step in this module, so the field layout below is this module's own
// schema rather than a generated one.

const (
	fieldBlockIDContainerID = 1
	fieldBlockIDLocalID     = 2

	fieldChunkInfoName     = 1
	fieldChunkInfoOffset   = 2
	fieldChunkInfoLen      = 3
	fieldChunkInfoChecksum = 4

	fieldChecksumType      = 1
	fieldChecksumBytesPer  = 2
	fieldChecksumValue     = 3

	fieldBlockDataBlockID = 1
	fieldBlockDataChunk   = 2
	fieldBlockDataSize    = 3

	fieldGetBlockReqBlockID = 1
	fieldGetBlockReqToken   = 2
	fieldGetBlockRespData   = 1

	fieldReadChunkReqBlockID   = 1
	fieldReadChunkReqChunkInfo = 2
	fieldReadChunkReqOffset    = 3
	fieldReadChunkReqLength    = 4
	fieldReadChunkReqToken     = 5
	fieldReadChunkRespData     = 1
)

// Marshal encodes a DatanodeBlockId.
func (b DatanodeBlockId) Marshal() []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldBlockIDContainerID, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(b.ContainerID))
	out = protowire.AppendTag(out, fieldBlockIDLocalID, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(b.LocalID))
	return out
}

// UnmarshalDatanodeBlockId decodes a DatanodeBlockId from buf.
func UnmarshalDatanodeBlockId(buf []byte) (DatanodeBlockId, error) {
	var b DatanodeBlockId
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return b, protowire.ParseError(n)
		}
		buf = buf[n:]
		switch num {
		case fieldBlockIDContainerID:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return b, protowire.ParseError(n)
			}
			b.ContainerID = int64(v)
			buf = buf[n:]
		case fieldBlockIDLocalID:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return b, protowire.ParseError(n)
			}
			b.LocalID = int64(v)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return b, protowire.ParseError(n)
			}
			buf = buf[n:]
		}
	}
	return b, nil
}

func (c ChecksumData) marshalAppend(out []byte) []byte {
	out = protowire.AppendTag(out, fieldChecksumType, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(c.Type))
	out = protowire.AppendTag(out, fieldChecksumBytesPer, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(c.BytesPerChecksum))
	for _, v := range c.Checksums {
		out = protowire.AppendTag(out, fieldChecksumValue, protowire.BytesType)
		out = protowire.AppendBytes(out, v)
	}
	return out
}

func unmarshalChecksumData(buf []byte) (ChecksumData, error) {
	var c ChecksumData
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return c, protowire.ParseError(n)
		}
		buf = buf[n:]
		switch num {
		case fieldChecksumType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return c, protowire.ParseError(n)
			}
			c.Type = ChecksumType(v)
			buf = buf[n:]
		case fieldChecksumBytesPer:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return c, protowire.ParseError(n)
			}
			c.BytesPerChecksum = int32(v)
			buf = buf[n:]
		case fieldChecksumValue:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return c, protowire.ParseError(n)
			}
			cp := make([]byte, len(v))
			copy(cp, v)
			c.Checksums = append(c.Checksums, cp)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return c, protowire.ParseError(n)
			}
			buf = buf[n:]
		}
	}
	return c, nil
}

func (ci ChunkInfo) marshalAppend(out []byte) []byte {
	out = protowire.AppendTag(out, fieldChunkInfoName, protowire.BytesType)
	out = protowire.AppendString(out, ci.ChunkName)
	out = protowire.AppendTag(out, fieldChunkInfoOffset, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(ci.Offset))
	out = protowire.AppendTag(out, fieldChunkInfoLen, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(ci.Len))
	out = protowire.AppendTag(out, fieldChunkInfoChecksum, protowire.BytesType)
	out = protowire.AppendBytes(out, ci.Checksum.marshalAppend(nil))
	return out
}

// Marshal encodes a ChunkInfo.
func (ci ChunkInfo) Marshal() []byte {
	return ci.marshalAppend(nil)
}

// UnmarshalChunkInfo decodes a ChunkInfo from buf.
func UnmarshalChunkInfo(buf []byte) (ChunkInfo, error) {
	var ci ChunkInfo
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return ci, protowire.ParseError(n)
		}
		buf = buf[n:]
		switch num {
		case fieldChunkInfoName:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return ci, protowire.ParseError(n)
			}
			ci.ChunkName = v
			buf = buf[n:]
		case fieldChunkInfoOffset:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return ci, protowire.ParseError(n)
			}
			ci.Offset = int64(v)
			buf = buf[n:]
		case fieldChunkInfoLen:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return ci, protowire.ParseError(n)
			}
			ci.Len = int64(v)
			buf = buf[n:]
		case fieldChunkInfoChecksum:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return ci, protowire.ParseError(n)
			}
			cd, err := unmarshalChecksumData(v)
			if err != nil {
				return ci, fmt.Errorf("chunk info checksum: %w", err)
			}
			ci.Checksum = cd
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return ci, protowire.ParseError(n)
			}
			buf = buf[n:]
		}
	}
	return ci, nil
}

func (bd BlockData) marshalAppend(out []byte) []byte {
	out = protowire.AppendTag(out, fieldBlockDataBlockID, protowire.BytesType)
	out = protowire.AppendBytes(out, bd.BlockID.Marshal())
	for _, c := range bd.Chunks {
		out = protowire.AppendTag(out, fieldBlockDataChunk, protowire.BytesType)
		out = protowire.AppendBytes(out, c.Marshal())
	}
	out = protowire.AppendTag(out, fieldBlockDataSize, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(bd.Size))
	return out
}

// Marshal encodes a BlockData.
func (bd BlockData) Marshal() []byte {
	return bd.marshalAppend(nil)
}

// UnmarshalBlockData decodes a BlockData from buf.
func UnmarshalBlockData(buf []byte) (BlockData, error) {
	var bd BlockData
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return bd, protowire.ParseError(n)
		}
		buf = buf[n:]
		switch num {
		case fieldBlockDataBlockID:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return bd, protowire.ParseError(n)
			}
			id, err := UnmarshalDatanodeBlockId(v)
			if err != nil {
				return bd, fmt.Errorf("block data block id: %w", err)
			}
			bd.BlockID = id
			buf = buf[n:]
		case fieldBlockDataChunk:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return bd, protowire.ParseError(n)
			}
			ci, err := UnmarshalChunkInfo(v)
			if err != nil {
				return bd, fmt.Errorf("block data chunk: %w", err)
			}
			bd.Chunks = append(bd.Chunks, ci)
			buf = buf[n:]
		case fieldBlockDataSize:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return bd, protowire.ParseError(n)
			}
			bd.Size = int64(v)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return bd, protowire.ParseError(n)
			}
			buf = buf[n:]
		}
	}
	return bd, nil
}

// Marshal encodes a GetBlockRequest.
func (r GetBlockRequest) Marshal() []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldGetBlockReqBlockID, protowire.BytesType)
	out = protowire.AppendBytes(out, r.BlockID.Marshal())
	if len(r.Token) > 0 {
		out = protowire.AppendTag(out, fieldGetBlockReqToken, protowire.BytesType)
		out = protowire.AppendBytes(out, r.Token)
	}
	return out
}

// UnmarshalGetBlockRequest decodes a GetBlockRequest from buf.
func UnmarshalGetBlockRequest(buf []byte) (GetBlockRequest, error) {
	var r GetBlockRequest
	sawBlockID := false
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return r, protowire.ParseError(n)
		}
		buf = buf[n:]
		switch num {
		case fieldGetBlockReqBlockID:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			id, err := UnmarshalDatanodeBlockId(v)
			if err != nil {
				return r, err
			}
			r.BlockID = id
			sawBlockID = true
			buf = buf[n:]
		case fieldGetBlockReqToken:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.Token = append([]byte(nil), v...)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			buf = buf[n:]
		}
	}
	if !sawBlockID {
		return r, fmt.Errorf("get block request: missing block id field")
	}
	return r, nil
}

// Marshal encodes a GetBlockResponse.
func (r GetBlockResponse) Marshal() []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldGetBlockRespData, protowire.BytesType)
	out = protowire.AppendBytes(out, r.BlockData.Marshal())
	return out
}

// UnmarshalGetBlockResponse decodes a GetBlockResponse from buf.
func UnmarshalGetBlockResponse(buf []byte) (GetBlockResponse, error) {
	var r GetBlockResponse
	num, _, n := protowire.ConsumeTag(buf)
	if n < 0 || num != fieldGetBlockRespData {
		return r, fmt.Errorf("get block response: missing block data field")
	}
	buf = buf[n:]
	v, n := protowire.ConsumeBytes(buf)
	if n < 0 {
		return r, protowire.ParseError(n)
	}
	bd, err := UnmarshalBlockData(v)
	if err != nil {
		return r, err
	}
	r.BlockData = bd
	return r, nil
}

// Marshal encodes a ReadChunkRequest.
func (r ReadChunkRequest) Marshal() []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldReadChunkReqBlockID, protowire.BytesType)
	out = protowire.AppendBytes(out, r.BlockID.Marshal())
	out = protowire.AppendTag(out, fieldReadChunkReqChunkInfo, protowire.BytesType)
	out = protowire.AppendBytes(out, r.ChunkInfo.Marshal())
	out = protowire.AppendTag(out, fieldReadChunkReqOffset, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(r.ReadOffset))
	out = protowire.AppendTag(out, fieldReadChunkReqLength, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(r.ReadLength))
	if len(r.Token) > 0 {
		out = protowire.AppendTag(out, fieldReadChunkReqToken, protowire.BytesType)
		out = protowire.AppendBytes(out, r.Token)
	}
	return out
}

// UnmarshalReadChunkRequest decodes a ReadChunkRequest from buf.
func UnmarshalReadChunkRequest(buf []byte) (ReadChunkRequest, error) {
	var r ReadChunkRequest
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return r, protowire.ParseError(n)
		}
		buf = buf[n:]
		switch num {
		case fieldReadChunkReqBlockID:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			id, err := UnmarshalDatanodeBlockId(v)
			if err != nil {
				return r, err
			}
			r.BlockID = id
			buf = buf[n:]
		case fieldReadChunkReqChunkInfo:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			ci, err := UnmarshalChunkInfo(v)
			if err != nil {
				return r, err
			}
			r.ChunkInfo = ci
			buf = buf[n:]
		case fieldReadChunkReqOffset:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.ReadOffset = int64(v)
			buf = buf[n:]
		case fieldReadChunkReqLength:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.ReadLength = int64(v)
			buf = buf[n:]
		case fieldReadChunkReqToken:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.Token = append([]byte(nil), v...)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			buf = buf[n:]
		}
	}
	return r, nil
}

// Marshal encodes a ReadChunkResponse.
func (r ReadChunkResponse) Marshal() []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldReadChunkRespData, protowire.BytesType)
	out = protowire.AppendBytes(out, r.Data)
	return out
}

// UnmarshalReadChunkResponse decodes a ReadChunkResponse from buf.
func UnmarshalReadChunkResponse(buf []byte) (ReadChunkResponse, error) {
	var r ReadChunkResponse
	num, _, n := protowire.ConsumeTag(buf)
	if n < 0 || num != fieldReadChunkRespData {
		return r, fmt.Errorf("read chunk response: missing data field")
	}
	buf = buf[n:]
	v, n := protowire.ConsumeBytes(buf)
	if n < 0 {
		return r, protowire.ParseError(n)
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	r.Data = cp
	return r, nil
}
