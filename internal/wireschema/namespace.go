package wireschema

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// The types in this file are the per-cmdType payload shapes carried inside
// the namespace manager envelope: volume, bucket, key, multipart, acl,
// delegation-token, and S3-secret sub-messages. The container engine never
// interprets these beyond encode/decode; they exist so the envelope
// boundary is honored with real message shapes rather than opaque blobs.

// StorageType is the storage tier requested for a bucket's data.
type StorageType int32

const (
	StorageTypeDisk StorageType = iota
	StorageTypeSSD
	StorageTypeArchive
	StorageTypeRamDisk
)

// ReplicationKind mirrors the pipeline replication type at the namespace
// boundary. It is deliberately a separate enum from the pipeline client's
// own type: wireschema sits below replicapipeline in the import graph.
type ReplicationKind int32

const (
	ReplicationStandalone ReplicationKind = iota
	ReplicationRatis
)

// AclRight is a bitmask of permissions carried on an AclInfo.
type AclRight uint32

const (
	AclRead AclRight = 1 << iota
	AclWrite
	AclCreate
	AclList
	AclDelete
	AclReadAcl
	AclWriteAcl
	AclAll AclRight = 1<<31 - 1
)

// AclType says what kind of principal an AclInfo names.
type AclType int32

const (
	AclTypeUser AclType = iota
	AclTypeGroup
	AclTypeWorld
)

// AclInfo grants rights on a volume, bucket, or key to one principal.
type AclInfo struct {
	Type   AclType
	Name   string
	Rights AclRight
}

// VolumeInfo is the persisted shape of one volume in the namespace.
type VolumeInfo struct {
	AdminName    string
	OwnerName    string
	Volume       string
	QuotaInBytes uint64
	CreationTime int64
	ObjectID     uint64
	UpdateID     uint64
	Acls         []AclInfo
}

// BucketInfo is the persisted shape of one bucket in the namespace.
type BucketInfo struct {
	VolumeName       string
	BucketName       string
	IsVersionEnabled bool
	StorageType      StorageType
	CreationTime     int64
	ObjectID         uint64
	UpdateID         uint64
	Acls             []AclInfo
}

// KeyArgs names a key and carries the write/lookup parameters every
// key-scoped request shares.
type KeyArgs struct {
	VolumeName          string
	BucketName          string
	KeyName             string
	DataSize            uint64
	Type                ReplicationKind
	Factor              int32
	IsMultipartKey      bool
	MultipartUploadID   string
	MultipartPartNumber int32
}

// KeyLocation places one block of a key: the datanode block id, the range
// of the key it covers, the pipeline to read it from, and the bearer token
// authorizing the read (the same opaque credential the block read stream
// forwards on GetBlock/ReadChunk).
type KeyLocation struct {
	BlockID       DatanodeBlockId
	Offset        uint64
	Length        uint64
	CreateVersion uint64
	PipelineID    string
	Token         []byte
}

// KeyInfo is the namespace manager's view of one committed key.
type KeyInfo struct {
	VolumeName       string
	BucketName       string
	KeyName          string
	DataSize         uint64
	CreationTime     int64
	ModificationTime int64
	Type             ReplicationKind
	Factor           int32
	Locations        []KeyLocation
}

// Per-cmdType request/response payloads. Exactly one of these rides in an
// envelope, selected by CmdType.

type CreateVolumeRequest struct{ Volume VolumeInfo }
type CreateVolumeResponse struct{}

type InfoVolumeRequest struct{ VolumeName string }
type InfoVolumeResponse struct{ Volume VolumeInfo }

type CreateBucketRequest struct{ Bucket BucketInfo }
type CreateBucketResponse struct{}

type InfoBucketRequest struct {
	VolumeName string
	BucketName string
}
type InfoBucketResponse struct{ Bucket BucketInfo }

type CreateKeyRequest struct{ Args KeyArgs }
type CreateKeyResponse struct {
	Key         KeyInfo
	ID          uint64
	OpenVersion uint64
}

type LookupKeyRequest struct{ Args KeyArgs }
type LookupKeyResponse struct{ Key KeyInfo }

type CommitKeyRequest struct {
	Args     KeyArgs
	ClientID uint64
}
type CommitKeyResponse struct{}

type InitiateMultiPartUploadRequest struct{ Args KeyArgs }
type InitiateMultiPartUploadResponse struct {
	VolumeName        string
	BucketName        string
	KeyName           string
	MultipartUploadID string
}

type CommitMultiPartUploadRequest struct {
	Args     KeyArgs
	ClientID uint64
}
type CommitMultiPartUploadResponse struct{ PartName string }

type GetDelegationTokenRequest struct{ Renewer string }
type GetDelegationTokenResponse struct{ Token []byte }

type GetS3SecretRequest struct{ KerberosID string }
type GetS3SecretResponse struct {
	KerberosID string
	AwsSecret  string
}

type AllocateBlockRequest struct {
	Args     KeyArgs
	ClientID uint64
}
type AllocateBlockResponse struct{ Location KeyLocation }

// Wire encoding. Field numbers are this module's own schema (see wire.go);
// zero-valued scalar fields are omitted, the proto2 convention for
// optional fields at their defaults.

func (a AclInfo) marshalAppend(out []byte) []byte {
	out = appendVarintField(out, 1, uint64(a.Type))
	out = appendStringField(out, 2, a.Name)
	out = appendVarintField(out, 3, uint64(a.Rights))
	return out
}

func unmarshalAclInfo(buf []byte) (AclInfo, error) {
	var a AclInfo
	s := fieldScanner{buf: buf}
	for s.next() {
		switch s.num {
		case 1:
			a.Type = AclType(s.varint())
		case 2:
			a.Name = s.str()
		case 3:
			a.Rights = AclRight(s.varint())
		default:
			s.skip()
		}
	}
	return a, s.err
}

func (v VolumeInfo) marshalAppend(out []byte) []byte {
	out = appendStringField(out, 1, v.AdminName)
	out = appendStringField(out, 2, v.OwnerName)
	out = appendStringField(out, 3, v.Volume)
	out = appendVarintField(out, 4, v.QuotaInBytes)
	out = appendVarintField(out, 5, uint64(v.CreationTime))
	out = appendVarintField(out, 6, v.ObjectID)
	out = appendVarintField(out, 7, v.UpdateID)
	for _, a := range v.Acls {
		out = appendMessageField(out, 8, a.marshalAppend(nil))
	}
	return out
}

func unmarshalVolumeInfo(buf []byte) (VolumeInfo, error) {
	var v VolumeInfo
	s := fieldScanner{buf: buf}
	for s.next() {
		switch s.num {
		case 1:
			v.AdminName = s.str()
		case 2:
			v.OwnerName = s.str()
		case 3:
			v.Volume = s.str()
		case 4:
			v.QuotaInBytes = s.varint()
		case 5:
			v.CreationTime = int64(s.varint())
		case 6:
			v.ObjectID = s.varint()
		case 7:
			v.UpdateID = s.varint()
		case 8:
			a, err := unmarshalAclInfo(s.bytes())
			if err != nil {
				return v, err
			}
			v.Acls = append(v.Acls, a)
		default:
			s.skip()
		}
	}
	return v, s.err
}

func (b BucketInfo) marshalAppend(out []byte) []byte {
	out = appendStringField(out, 1, b.VolumeName)
	out = appendStringField(out, 2, b.BucketName)
	out = appendBoolField(out, 3, b.IsVersionEnabled)
	out = appendVarintField(out, 4, uint64(b.StorageType))
	out = appendVarintField(out, 5, uint64(b.CreationTime))
	out = appendVarintField(out, 6, b.ObjectID)
	out = appendVarintField(out, 7, b.UpdateID)
	for _, a := range b.Acls {
		out = appendMessageField(out, 8, a.marshalAppend(nil))
	}
	return out
}

func unmarshalBucketInfo(buf []byte) (BucketInfo, error) {
	var b BucketInfo
	s := fieldScanner{buf: buf}
	for s.next() {
		switch s.num {
		case 1:
			b.VolumeName = s.str()
		case 2:
			b.BucketName = s.str()
		case 3:
			b.IsVersionEnabled = s.varint() != 0
		case 4:
			b.StorageType = StorageType(s.varint())
		case 5:
			b.CreationTime = int64(s.varint())
		case 6:
			b.ObjectID = s.varint()
		case 7:
			b.UpdateID = s.varint()
		case 8:
			a, err := unmarshalAclInfo(s.bytes())
			if err != nil {
				return b, err
			}
			b.Acls = append(b.Acls, a)
		default:
			s.skip()
		}
	}
	return b, s.err
}

func (k KeyArgs) marshalAppend(out []byte) []byte {
	out = appendStringField(out, 1, k.VolumeName)
	out = appendStringField(out, 2, k.BucketName)
	out = appendStringField(out, 3, k.KeyName)
	out = appendVarintField(out, 4, k.DataSize)
	out = appendVarintField(out, 5, uint64(k.Type))
	out = appendVarintField(out, 6, uint64(uint32(k.Factor)))
	out = appendBoolField(out, 7, k.IsMultipartKey)
	out = appendStringField(out, 8, k.MultipartUploadID)
	out = appendVarintField(out, 9, uint64(uint32(k.MultipartPartNumber)))
	return out
}

func unmarshalKeyArgs(buf []byte) (KeyArgs, error) {
	var k KeyArgs
	s := fieldScanner{buf: buf}
	for s.next() {
		switch s.num {
		case 1:
			k.VolumeName = s.str()
		case 2:
			k.BucketName = s.str()
		case 3:
			k.KeyName = s.str()
		case 4:
			k.DataSize = s.varint()
		case 5:
			k.Type = ReplicationKind(s.varint())
		case 6:
			k.Factor = int32(s.varint())
		case 7:
			k.IsMultipartKey = s.varint() != 0
		case 8:
			k.MultipartUploadID = s.str()
		case 9:
			k.MultipartPartNumber = int32(s.varint())
		default:
			s.skip()
		}
	}
	return k, s.err
}

func (l KeyLocation) marshalAppend(out []byte) []byte {
	out = appendMessageField(out, 1, l.BlockID.Marshal())
	out = appendVarintField(out, 2, l.Offset)
	out = appendVarintField(out, 3, l.Length)
	out = appendVarintField(out, 4, l.CreateVersion)
	out = appendStringField(out, 5, l.PipelineID)
	out = appendBytesField(out, 6, l.Token)
	return out
}

func unmarshalKeyLocation(buf []byte) (KeyLocation, error) {
	var l KeyLocation
	s := fieldScanner{buf: buf}
	for s.next() {
		switch s.num {
		case 1:
			id, err := UnmarshalDatanodeBlockId(s.bytes())
			if err != nil {
				return l, err
			}
			l.BlockID = id
		case 2:
			l.Offset = s.varint()
		case 3:
			l.Length = s.varint()
		case 4:
			l.CreateVersion = s.varint()
		case 5:
			l.PipelineID = s.str()
		case 6:
			l.Token = append([]byte(nil), s.bytes()...)
		default:
			s.skip()
		}
	}
	return l, s.err
}

func (k KeyInfo) marshalAppend(out []byte) []byte {
	out = appendStringField(out, 1, k.VolumeName)
	out = appendStringField(out, 2, k.BucketName)
	out = appendStringField(out, 3, k.KeyName)
	out = appendVarintField(out, 4, k.DataSize)
	out = appendVarintField(out, 5, uint64(k.CreationTime))
	out = appendVarintField(out, 6, uint64(k.ModificationTime))
	out = appendVarintField(out, 7, uint64(k.Type))
	out = appendVarintField(out, 8, uint64(uint32(k.Factor)))
	for _, l := range k.Locations {
		out = appendMessageField(out, 9, l.marshalAppend(nil))
	}
	return out
}

func unmarshalKeyInfo(buf []byte) (KeyInfo, error) {
	var k KeyInfo
	s := fieldScanner{buf: buf}
	for s.next() {
		switch s.num {
		case 1:
			k.VolumeName = s.str()
		case 2:
			k.BucketName = s.str()
		case 3:
			k.KeyName = s.str()
		case 4:
			k.DataSize = s.varint()
		case 5:
			k.CreationTime = int64(s.varint())
		case 6:
			k.ModificationTime = int64(s.varint())
		case 7:
			k.Type = ReplicationKind(s.varint())
		case 8:
			k.Factor = int32(s.varint())
		case 9:
			l, err := unmarshalKeyLocation(s.bytes())
			if err != nil {
				return k, err
			}
			k.Locations = append(k.Locations, l)
		default:
			s.skip()
		}
	}
	return k, s.err
}

// marshalRequestPayload encodes the payload matching cmdType. A nil
// payload encodes as absent; a payload of the wrong concrete type is an
// error, enforcing the envelope's at-most-one-matching-payload rule.
func marshalRequestPayload(cmdType CmdType, payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	switch p := payload.(type) {
	case CreateVolumeRequest:
		return p.Volume.marshalAppend(nil), checkCmd(cmdType, CmdTypeCreateVolume)
	case InfoVolumeRequest:
		return appendStringField(nil, 1, p.VolumeName), checkCmd(cmdType, CmdTypeInfoVolume)
	case CreateBucketRequest:
		return p.Bucket.marshalAppend(nil), checkCmd(cmdType, CmdTypeCreateBucket)
	case InfoBucketRequest:
		out := appendStringField(nil, 1, p.VolumeName)
		return appendStringField(out, 2, p.BucketName), checkCmd(cmdType, CmdTypeInfoBucket)
	case CreateKeyRequest:
		return appendMessageField(nil, 1, p.Args.marshalAppend(nil)), checkCmd(cmdType, CmdTypeCreateKey)
	case LookupKeyRequest:
		return appendMessageField(nil, 1, p.Args.marshalAppend(nil)), checkCmd(cmdType, CmdTypeLookupKey)
	case CommitKeyRequest:
		out := appendMessageField(nil, 1, p.Args.marshalAppend(nil))
		return appendVarintField(out, 2, p.ClientID), checkCmd(cmdType, CmdTypeCommitKey)
	case InitiateMultiPartUploadRequest:
		return appendMessageField(nil, 1, p.Args.marshalAppend(nil)), checkCmd(cmdType, CmdTypeInitiateMultiPartUpload)
	case CommitMultiPartUploadRequest:
		out := appendMessageField(nil, 1, p.Args.marshalAppend(nil))
		return appendVarintField(out, 2, p.ClientID), checkCmd(cmdType, CmdTypeCommitMultiPartUpload)
	case GetDelegationTokenRequest:
		return appendStringField(nil, 1, p.Renewer), checkCmd(cmdType, CmdTypeGetDelegationToken)
	case GetS3SecretRequest:
		return appendStringField(nil, 1, p.KerberosID), checkCmd(cmdType, CmdTypeGetS3Secret)
	case AllocateBlockRequest:
		out := appendMessageField(nil, 1, p.Args.marshalAppend(nil))
		return appendVarintField(out, 2, p.ClientID), checkCmd(cmdType, CmdTypeAllocateBlock)
	case GetBlockRequest:
		return p.Marshal(), checkCmd(cmdType, CmdTypeGetBlock)
	case ReadChunkRequest:
		return p.Marshal(), checkCmd(cmdType, CmdTypeReadChunk)
	default:
		return nil, fmt.Errorf("request payload %T does not match any cmdType", payload)
	}
}

func checkCmd(got, want CmdType) error {
	if got != want {
		return fmt.Errorf("payload for cmdType %d carried under cmdType %d", want, got)
	}
	return nil
}

// unmarshalRequestPayload decodes buf as the request payload for cmdType.
func unmarshalRequestPayload(cmdType CmdType, buf []byte) (any, error) {
	switch cmdType {
	case CmdTypeCreateVolume:
		v, err := unmarshalVolumeInfo(buf)
		return CreateVolumeRequest{Volume: v}, err
	case CmdTypeInfoVolume:
		s := fieldScanner{buf: buf}
		var r InfoVolumeRequest
		for s.next() {
			if s.num == 1 {
				r.VolumeName = s.str()
			} else {
				s.skip()
			}
		}
		return r, s.err
	case CmdTypeCreateBucket:
		b, err := unmarshalBucketInfo(buf)
		return CreateBucketRequest{Bucket: b}, err
	case CmdTypeInfoBucket:
		s := fieldScanner{buf: buf}
		var r InfoBucketRequest
		for s.next() {
			switch s.num {
			case 1:
				r.VolumeName = s.str()
			case 2:
				r.BucketName = s.str()
			default:
				s.skip()
			}
		}
		return r, s.err
	case CmdTypeCreateKey:
		args, err := unmarshalEmbeddedKeyArgs(buf)
		return CreateKeyRequest{Args: args}, err
	case CmdTypeLookupKey:
		args, err := unmarshalEmbeddedKeyArgs(buf)
		return LookupKeyRequest{Args: args}, err
	case CmdTypeCommitKey:
		args, clientID, err := unmarshalKeyArgsWithClient(buf)
		return CommitKeyRequest{Args: args, ClientID: clientID}, err
	case CmdTypeInitiateMultiPartUpload:
		args, err := unmarshalEmbeddedKeyArgs(buf)
		return InitiateMultiPartUploadRequest{Args: args}, err
	case CmdTypeCommitMultiPartUpload:
		args, clientID, err := unmarshalKeyArgsWithClient(buf)
		return CommitMultiPartUploadRequest{Args: args, ClientID: clientID}, err
	case CmdTypeGetDelegationToken:
		s := fieldScanner{buf: buf}
		var r GetDelegationTokenRequest
		for s.next() {
			if s.num == 1 {
				r.Renewer = s.str()
			} else {
				s.skip()
			}
		}
		return r, s.err
	case CmdTypeGetS3Secret:
		s := fieldScanner{buf: buf}
		var r GetS3SecretRequest
		for s.next() {
			if s.num == 1 {
				r.KerberosID = s.str()
			} else {
				s.skip()
			}
		}
		return r, s.err
	case CmdTypeAllocateBlock:
		args, clientID, err := unmarshalKeyArgsWithClient(buf)
		return AllocateBlockRequest{Args: args, ClientID: clientID}, err
	case CmdTypeGetBlock:
		return UnmarshalGetBlockRequest(buf)
	case CmdTypeReadChunk:
		return UnmarshalReadChunkRequest(buf)
	default:
		return nil, fmt.Errorf("unknown request cmdType %d", cmdType)
	}
}

func unmarshalEmbeddedKeyArgs(buf []byte) (KeyArgs, error) {
	s := fieldScanner{buf: buf}
	var args KeyArgs
	for s.next() {
		if s.num == 1 {
			a, err := unmarshalKeyArgs(s.bytes())
			if err != nil {
				return args, err
			}
			args = a
		} else {
			s.skip()
		}
	}
	return args, s.err
}

func unmarshalKeyArgsWithClient(buf []byte) (KeyArgs, uint64, error) {
	s := fieldScanner{buf: buf}
	var args KeyArgs
	var clientID uint64
	for s.next() {
		switch s.num {
		case 1:
			a, err := unmarshalKeyArgs(s.bytes())
			if err != nil {
				return args, 0, err
			}
			args = a
		case 2:
			clientID = s.varint()
		default:
			s.skip()
		}
	}
	return args, clientID, s.err
}

// marshalResponsePayload encodes the payload matching cmdType on a
// Response envelope.
func marshalResponsePayload(cmdType CmdType, payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	switch p := payload.(type) {
	case CreateVolumeResponse:
		return []byte{}, checkCmd(cmdType, CmdTypeCreateVolume)
	case InfoVolumeResponse:
		return appendMessageField(nil, 1, p.Volume.marshalAppend(nil)), checkCmd(cmdType, CmdTypeInfoVolume)
	case CreateBucketResponse:
		return []byte{}, checkCmd(cmdType, CmdTypeCreateBucket)
	case InfoBucketResponse:
		return appendMessageField(nil, 1, p.Bucket.marshalAppend(nil)), checkCmd(cmdType, CmdTypeInfoBucket)
	case CreateKeyResponse:
		out := appendMessageField(nil, 1, p.Key.marshalAppend(nil))
		out = appendVarintField(out, 2, p.ID)
		return appendVarintField(out, 3, p.OpenVersion), checkCmd(cmdType, CmdTypeCreateKey)
	case LookupKeyResponse:
		return appendMessageField(nil, 1, p.Key.marshalAppend(nil)), checkCmd(cmdType, CmdTypeLookupKey)
	case CommitKeyResponse:
		return []byte{}, checkCmd(cmdType, CmdTypeCommitKey)
	case InitiateMultiPartUploadResponse:
		out := appendStringField(nil, 1, p.VolumeName)
		out = appendStringField(out, 2, p.BucketName)
		out = appendStringField(out, 3, p.KeyName)
		return appendStringField(out, 4, p.MultipartUploadID), checkCmd(cmdType, CmdTypeInitiateMultiPartUpload)
	case CommitMultiPartUploadResponse:
		return appendStringField(nil, 1, p.PartName), checkCmd(cmdType, CmdTypeCommitMultiPartUpload)
	case GetDelegationTokenResponse:
		return appendBytesField(nil, 1, p.Token), checkCmd(cmdType, CmdTypeGetDelegationToken)
	case GetS3SecretResponse:
		out := appendStringField(nil, 1, p.KerberosID)
		return appendStringField(out, 2, p.AwsSecret), checkCmd(cmdType, CmdTypeGetS3Secret)
	case AllocateBlockResponse:
		return appendMessageField(nil, 1, p.Location.marshalAppend(nil)), checkCmd(cmdType, CmdTypeAllocateBlock)
	case GetBlockResponse:
		return p.Marshal(), checkCmd(cmdType, CmdTypeGetBlock)
	case ReadChunkResponse:
		return p.Marshal(), checkCmd(cmdType, CmdTypeReadChunk)
	default:
		return nil, fmt.Errorf("response payload %T does not match any cmdType", payload)
	}
}

// unmarshalResponsePayload decodes buf as the response payload for
// cmdType.
func unmarshalResponsePayload(cmdType CmdType, buf []byte) (any, error) {
	switch cmdType {
	case CmdTypeCreateVolume:
		return CreateVolumeResponse{}, nil
	case CmdTypeInfoVolume:
		s := fieldScanner{buf: buf}
		var r InfoVolumeResponse
		for s.next() {
			if s.num == 1 {
				v, err := unmarshalVolumeInfo(s.bytes())
				if err != nil {
					return r, err
				}
				r.Volume = v
			} else {
				s.skip()
			}
		}
		return r, s.err
	case CmdTypeCreateBucket:
		return CreateBucketResponse{}, nil
	case CmdTypeInfoBucket:
		s := fieldScanner{buf: buf}
		var r InfoBucketResponse
		for s.next() {
			if s.num == 1 {
				b, err := unmarshalBucketInfo(s.bytes())
				if err != nil {
					return r, err
				}
				r.Bucket = b
			} else {
				s.skip()
			}
		}
		return r, s.err
	case CmdTypeCreateKey:
		s := fieldScanner{buf: buf}
		var r CreateKeyResponse
		for s.next() {
			switch s.num {
			case 1:
				k, err := unmarshalKeyInfo(s.bytes())
				if err != nil {
					return r, err
				}
				r.Key = k
			case 2:
				r.ID = s.varint()
			case 3:
				r.OpenVersion = s.varint()
			default:
				s.skip()
			}
		}
		return r, s.err
	case CmdTypeLookupKey:
		s := fieldScanner{buf: buf}
		var r LookupKeyResponse
		for s.next() {
			if s.num == 1 {
				k, err := unmarshalKeyInfo(s.bytes())
				if err != nil {
					return r, err
				}
				r.Key = k
			} else {
				s.skip()
			}
		}
		return r, s.err
	case CmdTypeCommitKey:
		return CommitKeyResponse{}, nil
	case CmdTypeInitiateMultiPartUpload:
		s := fieldScanner{buf: buf}
		var r InitiateMultiPartUploadResponse
		for s.next() {
			switch s.num {
			case 1:
				r.VolumeName = s.str()
			case 2:
				r.BucketName = s.str()
			case 3:
				r.KeyName = s.str()
			case 4:
				r.MultipartUploadID = s.str()
			default:
				s.skip()
			}
		}
		return r, s.err
	case CmdTypeCommitMultiPartUpload:
		s := fieldScanner{buf: buf}
		var r CommitMultiPartUploadResponse
		for s.next() {
			if s.num == 1 {
				r.PartName = s.str()
			} else {
				s.skip()
			}
		}
		return r, s.err
	case CmdTypeGetDelegationToken:
		s := fieldScanner{buf: buf}
		var r GetDelegationTokenResponse
		for s.next() {
			if s.num == 1 {
				r.Token = append([]byte(nil), s.bytes()...)
			} else {
				s.skip()
			}
		}
		return r, s.err
	case CmdTypeGetS3Secret:
		s := fieldScanner{buf: buf}
		var r GetS3SecretResponse
		for s.next() {
			switch s.num {
			case 1:
				r.KerberosID = s.str()
			case 2:
				r.AwsSecret = s.str()
			default:
				s.skip()
			}
		}
		return r, s.err
	case CmdTypeAllocateBlock:
		s := fieldScanner{buf: buf}
		var r AllocateBlockResponse
		for s.next() {
			if s.num == 1 {
				l, err := unmarshalKeyLocation(s.bytes())
				if err != nil {
					return r, err
				}
				r.Location = l
			} else {
				s.skip()
			}
		}
		return r, s.err
	case CmdTypeGetBlock:
		return UnmarshalGetBlockResponse(buf)
	case CmdTypeReadChunk:
		return UnmarshalReadChunkResponse(buf)
	default:
		return nil, fmt.Errorf("unknown response cmdType %d", cmdType)
	}
}

// fieldScanner walks a protowire-encoded buffer one field at a time,
// collecting the first error and stopping on it. It keeps the per-message
// unmarshal switches above free of repeated bounds plumbing.
type fieldScanner struct {
	buf []byte
	num protowire.Number
	typ protowire.Type
	err error
}

// next advances to the next field tag, reporting false at end of buffer or
// on error.
func (s *fieldScanner) next() bool {
	if s.err != nil || len(s.buf) == 0 {
		return false
	}
	num, typ, n := protowire.ConsumeTag(s.buf)
	if n < 0 {
		s.err = protowire.ParseError(n)
		return false
	}
	s.num, s.typ = num, typ
	s.buf = s.buf[n:]
	return true
}

func (s *fieldScanner) varint() uint64 {
	if s.err != nil {
		return 0
	}
	v, n := protowire.ConsumeVarint(s.buf)
	if n < 0 {
		s.err = protowire.ParseError(n)
		return 0
	}
	s.buf = s.buf[n:]
	return v
}

func (s *fieldScanner) bytes() []byte {
	if s.err != nil {
		return nil
	}
	v, n := protowire.ConsumeBytes(s.buf)
	if n < 0 {
		s.err = protowire.ParseError(n)
		return nil
	}
	s.buf = s.buf[n:]
	return v
}

func (s *fieldScanner) str() string {
	return string(s.bytes())
}

func (s *fieldScanner) skip() {
	if s.err != nil {
		return
	}
	n := protowire.ConsumeFieldValue(s.num, s.typ, s.buf)
	if n < 0 {
		s.err = protowire.ParseError(n)
		return
	}
	s.buf = s.buf[n:]
}

// append helpers omitting zero values, the proto2 optional-field default
// convention.

func appendVarintField(out []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return out
	}
	out = protowire.AppendTag(out, num, protowire.VarintType)
	return protowire.AppendVarint(out, v)
}

func appendBoolField(out []byte, num protowire.Number, v bool) []byte {
	if !v {
		return out
	}
	out = protowire.AppendTag(out, num, protowire.VarintType)
	return protowire.AppendVarint(out, 1)
}

func appendStringField(out []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return out
	}
	out = protowire.AppendTag(out, num, protowire.BytesType)
	return protowire.AppendString(out, v)
}

func appendBytesField(out []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return out
	}
	out = protowire.AppendTag(out, num, protowire.BytesType)
	return protowire.AppendBytes(out, v)
}

func appendMessageField(out []byte, num protowire.Number, msg []byte) []byte {
	out = protowire.AppendTag(out, num, protowire.BytesType)
	return protowire.AppendBytes(out, msg)
}
