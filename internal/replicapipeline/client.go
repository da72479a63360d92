package replicapipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"cargohold/internal/cargoerr"
	"cargohold/internal/logging"
	"cargohold/internal/wireschema"
)

const (
	methodGetBlock  = "/cargohold.datanode.XceiverClientProtocol/GetBlock"
	methodReadChunk = "/cargohold.datanode.XceiverClientProtocol/ReadChunk"
)

// ClientHandle is an acquired connection to one datanode, borrowed for
// the duration of a read and returned on close, unbuffer, or failure.
type ClientHandle struct {
	Node DatanodeEndpoint
	conn *grpc.ClientConn
}

// Client acquires and releases RPC client handles for replica pipelines,
// and submits GetBlock/ReadChunk requests over them.
// Connections are cached per datanode address and invalidated on failure,
// the same cached-or-dial-then-invalidate-on-error shape as a connection
// pool keyed by peer id.
type Client struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
	log   *slog.Logger

	// dial is overridable so tests can substitute an in-process
	// transport instead of a real network dial.
	dial func(addr string) (*grpc.ClientConn, error)
}

// NewClient returns a Client using real gRPC dials.
func NewClient(logger *slog.Logger) *Client {
	c := &Client{
		conns: make(map[string]*grpc.ClientConn),
		log:   logging.Default(logger).With("component", "replica-pipeline"),
	}
	c.dial = func(addr string) (*grpc.ClientConn, error) {
		return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	return c
}

// AcquireReadClient returns a handle bound to pipeline's primary node,
// reusing a cached connection if one already exists. Reads always target
// the pipeline's standalone variant; callers are expected to have already
// called pipeline.AsStandalone() as needed — AcquireReadClient itself
// only picks the primary node and dials it.
func (c *Client) AcquireReadClient(pipeline Pipeline) (*ClientHandle, error) {
	node, ok := pipeline.PrimaryNode()
	if !ok {
		return nil, fmt.Errorf("%w: pipeline %s has no nodes", cargoerr.ErrInternal, pipeline.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.conns[node.Address]
	if ok {
		return &ClientHandle{Node: node, conn: conn}, nil
	}

	conn, err := c.dial(node.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", cargoerr.ErrRpcTransport, node.Address, err)
	}
	c.conns[node.Address] = conn
	return &ClientHandle{Node: node, conn: conn}, nil
}

// ReleaseReadClient releases handle. When invalidate is true, the
// underlying connection is closed and evicted from the cache so the next
// AcquireReadClient for this node dials fresh, the path the block stream
// takes after a failed read before refreshing its pipeline.
func (c *Client) ReleaseReadClient(handle *ClientHandle, invalidate bool) {
	if handle == nil || !invalidate {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[handle.Node.Address]; ok && conn == handle.conn {
		delete(c.conns, handle.Node.Address)
		if err := conn.Close(); err != nil {
			c.log.Warn("closing invalidated connection", "node", handle.Node.ID, "error", err)
		}
	}
}

// Close tears down every cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for addr, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, addr)
	}
	return firstErr
}

// GetBlock fetches a block's chunk list over handle. token is the opaque
// bearer credential the datanode validates; this client only carries it.
func (c *Client) GetBlock(ctx context.Context, handle *ClientHandle, blockID wireschema.DatanodeBlockId, token []byte) (wireschema.BlockData, error) {
	req := wireschema.GetBlockRequest{BlockID: blockID, Token: token}
	var resp wireschema.GetBlockResponse
	if err := handle.conn.Invoke(ctx, methodGetBlock, req, &resp, grpc.CallContentSubtype(codecName)); err != nil {
		return wireschema.BlockData{}, fmt.Errorf("%w: GetBlock: %v", cargoerr.ErrRpcTransport, err)
	}
	return resp.BlockData, nil
}

// ReadChunk fetches readLength bytes of one chunk starting at readOffset
// (readLength == 0 means "to the end of the chunk") over handle.
func (c *Client) ReadChunk(ctx context.Context, handle *ClientHandle, blockID wireschema.DatanodeBlockId, chunk wireschema.ChunkInfo, readOffset, readLength int64, token []byte) ([]byte, error) {
	req := wireschema.ReadChunkRequest{BlockID: blockID, ChunkInfo: chunk, ReadOffset: readOffset, ReadLength: readLength, Token: token}
	var resp wireschema.ReadChunkResponse
	if err := handle.conn.Invoke(ctx, methodReadChunk, req, &resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, fmt.Errorf("%w: ReadChunk: %v", cargoerr.ErrRpcTransport, err)
	}
	return resp.Data, nil
}
