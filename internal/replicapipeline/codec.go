package replicapipeline

import (
	"fmt"

	"google.golang.org/grpc/encoding"

	"cargohold/internal/wireschema"
)

// codecName is registered with grpc-go's encoding package so ClientConn
// can be told to use it via grpc.CallContentSubtype. The datanode RPC
// messages hand-roll the protobuf wire format themselves (see
// internal/wireschema) rather than going through generated proto.Message
// types, so a plain codec is needed in their place.
const codecName = "cargohold"

func init() {
	encoding.RegisterCodec(wireCodec{})
}

// wireMarshaler is implemented by every wireschema request/response type.
type wireMarshaler interface {
	Marshal() []byte
}

// wireCodec adapts wireschema's hand-rolled protowire marshal/unmarshal
// methods to grpc-go's encoding.Codec interface.
type wireCodec struct{}

func (wireCodec) Name() string { return codecName }

func (wireCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(wireMarshaler)
	if !ok {
		return nil, fmt.Errorf("%s codec: %T has no Marshal() []byte method", codecName, v)
	}
	return m.Marshal(), nil
}

func (wireCodec) Unmarshal(data []byte, v interface{}) error {
	switch p := v.(type) {
	case *wireschema.GetBlockRequest:
		r, err := wireschema.UnmarshalGetBlockRequest(data)
		if err != nil {
			return err
		}
		*p = r
	case *wireschema.GetBlockResponse:
		r, err := wireschema.UnmarshalGetBlockResponse(data)
		if err != nil {
			return err
		}
		*p = r
	case *wireschema.ReadChunkRequest:
		r, err := wireschema.UnmarshalReadChunkRequest(data)
		if err != nil {
			return err
		}
		*p = r
	case *wireschema.ReadChunkResponse:
		r, err := wireschema.UnmarshalReadChunkResponse(data)
		if err != nil {
			return err
		}
		*p = r
	default:
		return fmt.Errorf("%s codec: unsupported type %T", codecName, v)
	}
	return nil
}
