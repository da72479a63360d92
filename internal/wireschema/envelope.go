// Package wireschema defines the wire schema used at the two external
// boundaries of the container engine: the client/namespace-manager
// request/response envelope, and the client/datanode GetBlock/ReadChunk
// messages. This is schema only — the namespace manager's own service
// implementation lives elsewhere.
//
// Wire format is protocol buffers v2. No .proto/protoc step is available
// in this module, so messages hand-roll their own marshal/unmarshal using
// the low-level field encoding from
// google.golang.org/protobuf/encoding/protowire, the same length-delimited/
// varint wire format generated code would produce.
package wireschema

// CmdType tags the single request/response payload kind carried by an
// envelope. The full namespace manager schema enumerates Volume, Bucket,
// Key, Multipart, File, Acl, Prepare, Upgrade, Service-list, DB-updates,
// Delegation-token, S3-secret, and Trash sub-messages; the container
// engine only needs the tags below, the commands its own clients issue
// plus the GetBlock/ReadChunk commands used by the block read path.
type CmdType int32

const (
	CmdTypeUnknown CmdType = iota
	CmdTypeCreateVolume
	CmdTypeInfoVolume
	CmdTypeCreateBucket
	CmdTypeInfoBucket
	CmdTypeCreateKey
	CmdTypeLookupKey
	CmdTypeCommitKey
	CmdTypeInitiateMultiPartUpload
	CmdTypeCommitMultiPartUpload
	CmdTypeGetDelegationToken
	CmdTypeGetS3Secret
	CmdTypeAllocateBlock
	CmdTypeGetBlock
	CmdTypeReadChunk
)

// Status is the envelope-level result code. The real schema enumerates
// roughly sixty error codes; this module carries OK plus the subset that
// maps onto the core's own error kinds (cargoerr.Kind), since every other
// status is opaque payload as far as the container engine/block stream
// are concerned.
type Status int32

const (
	StatusOK Status = iota
	StatusInternalError
	StatusKeyNotFound
	StatusVolumeNotFound
	StatusBucketNotFound
	StatusVolumeAlreadyExists
	StatusBucketAlreadyExists
	StatusKeyAlreadyExists
	StatusContainerNotFound
	StatusBlockNotCommitted
	StatusInvalidToken
	StatusAccessDenied
	StatusScmGetBlockError
	StatusScmGetBlockFailedException
	StatusUnknownCipherSuite
)

// UserInfo identifies the caller making a request.
type UserInfo struct {
	UserName   string
	RemoteAddr string
}

// S3Auth carries S3-compatible request-signing material for requests that
// arrive over the S3 gateway surface.
type S3Auth struct {
	AccessID       string
	StringToSign   string
	Signature      string
	AwsAccessKeyId string
}

// Request is the envelope every client request is wrapped in. CmdType
// selects which per-type payload message, defined elsewhere in this
// package, Payload holds.
type Request struct {
	CmdType       CmdType
	TraceID       string
	ClientID      string
	UserInfo      *UserInfo
	Version       uint32
	LayoutVersion uint32
	S3Auth        *S3Auth

	// Payload holds the per-cmdType message. Exactly one concrete type is
	// valid for a given CmdType; Marshal rejects a mismatch (see the
	// payload dispatch in namespace.go).
	Payload any
}

// Response is the envelope every namespace manager/datanode reply is
// wrapped in.
type Response struct {
	CmdType      CmdType
	TraceID      string
	Success      bool
	Message      string
	Status       Status
	LeaderNodeID string

	Payload any
}
