// Package cargoerr defines the exhaustive set of typed error kinds used
// across the container engine and block read client. Every
// fallible operation in this module returns one of these sentinels, wrapped
// with context via fmt.Errorf("...: %w", ...), so callers can classify a
// failure with errors.Is/errors.As without string-matching messages.
package cargoerr

import "errors"

// Kind identifies one of the exhaustive error categories.
type Kind int

const (
	KindUnknown Kind = iota
	KindAlreadyExists
	KindNotOpen
	KindInvalidState
	KindUnsupportedRequest
	KindDiskOutOfSpace
	KindFileWriteError
	KindDbCompactError
	KindDbSyncError
	KindEndOfStream
	KindChecksumMismatch
	KindInconsistentChunkRead
	KindRpcTransport
	KindStorageContainer
	KindSecurityFault
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindNotOpen:
		return "NotOpen"
	case KindInvalidState:
		return "InvalidState"
	case KindUnsupportedRequest:
		return "UnsupportedRequest"
	case KindDiskOutOfSpace:
		return "DiskOutOfSpace"
	case KindFileWriteError:
		return "FileWriteError"
	case KindDbCompactError:
		return "DbCompactError"
	case KindDbSyncError:
		return "DbSyncError"
	case KindEndOfStream:
		return "EndOfStream"
	case KindChecksumMismatch:
		return "ChecksumMismatch"
	case KindInconsistentChunkRead:
		return "InconsistentChunkRead"
	case KindRpcTransport:
		return "RpcTransport"
	case KindStorageContainer:
		return "StorageContainer"
	case KindSecurityFault:
		return "SecurityFault"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// typedError pairs a Kind with a sentinel error value so errors.Is works
// against the package-level variables below while Kind() can still recover
// the category from a wrapped instance.
type typedError struct {
	kind Kind
	msg  string
}

func (e *typedError) Error() string { return e.msg }

func new(kind Kind, msg string) error {
	return &typedError{kind: kind, msg: msg}
}

var (
	ErrAlreadyExists         = new(KindAlreadyExists, "container already exists")
	ErrNotOpen               = new(KindNotOpen, "state transition precondition violated")
	ErrInvalidState          = new(KindInvalidState, "operation not legal in current state")
	ErrUnsupportedRequest    = new(KindUnsupportedRequest, "request not supported in current state")
	ErrDiskOutOfSpace        = new(KindDiskOutOfSpace, "volume has insufficient space")
	ErrFileWriteError        = new(KindFileWriteError, "descriptor atomic write failed")
	ErrDbCompactError        = new(KindDbCompactError, "embedded store compaction failed")
	ErrDbSyncError           = new(KindDbSyncError, "embedded store sync failed")
	ErrEndOfStream           = new(KindEndOfStream, "seek past end of stream")
	ErrChecksumMismatch      = new(KindChecksumMismatch, "chunk checksum verification failed")
	ErrInconsistentChunkRead = new(KindInconsistentChunkRead, "short read from chunk believed to have more data")
	ErrRpcTransport          = new(KindRpcTransport, "rpc transport failure")
	// ErrStorageContainer is a storage-container failure reported by a
	// datanode with a retryable sub-code; the block read stream answers it
	// by releasing every client and refreshing its replica pipeline. A
	// NOT_RETRIABLE sub-code is surfaced as ErrInternal instead, so it
	// never enters the retry loop.
	ErrStorageContainer = new(KindStorageContainer, "storage container failure")
	ErrSecurityFault    = new(KindSecurityFault, "security/token failure")
	ErrInternal         = new(KindInternal, "internal error")
)

// Is reports whether err (or anything it wraps) is the same Kind as target,
// provided target is one of this package's sentinels.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// KindOf recovers the Kind of err if err (or something it wraps) is one of
// this package's typed sentinels. Returns KindUnknown otherwise.
func KindOf(err error) Kind {
	var te *typedError
	if errors.As(err, &te) {
		return te.kind
	}
	return KindUnknown
}

// Retryable reports whether errors of this kind should be retried by the
// block read stream's retry policy: transport failures and generic
// storage-container errors retry; security faults and everything else do
// not.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRpcTransport, KindStorageContainer:
		return true
	default:
		return false
	}
}
