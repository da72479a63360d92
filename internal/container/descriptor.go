package container

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"cargohold/internal/cargoerr"
	"cargohold/internal/checksum"
)

// ContainerType names the kind of container being described. This module
// only ever constructs KeyValueContainer; the field is carried because it
// is part of the persisted descriptor schema.
type ContainerType string

// KeyValueContainer is the only container type this module constructs.
const KeyValueContainer ContainerType = "KeyValueContainer"

// SchemaVersion enumerates the on-disk layout revision of a container's
// embedded store.
type SchemaVersion string

// SchemaV3 is the only schema version new containers are created with.
const SchemaV3 SchemaVersion = "3"

// Descriptor is every attribute persisted about a container.
type Descriptor struct {
	ContainerID           uint64
	ContainerType         ContainerType
	State                 State
	SchemaVersion         SchemaVersion
	LayoutVersion         int
	MaxSize               uint64
	BytesUsed             uint64
	KeyCount              uint64
	ReadCount             uint64
	WriteCount            uint64
	ReadBytes             uint64
	WriteBytes            uint64
	BlockCommitSequenceID uint64
	DeleteTransactionID   uint64
	OriginNodeID          string
	OriginPipelineID      string
	LastDataScanTimestamp int64
	Metadata              map[string]string
	ChecksumOfContent     string
}

// Clone returns a deep copy, used so an in-memory mutation can be
// attempted against a scratch copy and rolled back without touching the
// container's live descriptor on a write failure.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Metadata = make(map[string]string, len(d.Metadata))
	for k, v := range d.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

const (
	keyContainerID           = "containerID"
	keyContainerType         = "containerType"
	keyState                 = "state"
	keySchemaVersion         = "schemaVersion"
	keyLayoutVersion         = "layoutVersion"
	keyMaxSize               = "maxSize"
	keyBytesUsed             = "bytesUsed"
	keyKeyCount              = "keyCount"
	keyReadCount             = "readCount"
	keyWriteCount            = "writeCount"
	keyReadBytes             = "readBytes"
	keyWriteBytes            = "writeBytes"
	keyBlockCommitSequenceID = "blockCommitSequenceID"
	keyDeleteTransactionID   = "deleteTransactionID"
	keyOriginNodeID          = "originNodeID"
	keyOriginPipelineID      = "originPipelineID"
	keyLastDataScanTimestamp = "lastDataScanTimestamp"
	keyChecksumOfContent     = "checksumOfContent"
	metadataPrefix           = "metadata."
)

// serialize renders d as the key/value text format the descriptor file
// holds. When zeroChecksum is true, checksumOfContent is emitted as the
// empty string, the convention the self-checksum is computed against: the
// file embeds a checksum covering itself with that field zeroed.
func (d *Descriptor) serialize(zeroChecksum bool) []byte {
	var b strings.Builder
	writeKV := func(k, v string) {
		fmt.Fprintf(&b, "%s=%s\n", k, v)
	}
	writeKV(keyContainerID, strconv.FormatUint(d.ContainerID, 10))
	writeKV(keyContainerType, string(d.ContainerType))
	writeKV(keyState, d.State.String())
	writeKV(keySchemaVersion, string(d.SchemaVersion))
	writeKV(keyLayoutVersion, strconv.Itoa(d.LayoutVersion))
	writeKV(keyMaxSize, strconv.FormatUint(d.MaxSize, 10))
	writeKV(keyBytesUsed, strconv.FormatUint(d.BytesUsed, 10))
	writeKV(keyKeyCount, strconv.FormatUint(d.KeyCount, 10))
	writeKV(keyReadCount, strconv.FormatUint(d.ReadCount, 10))
	writeKV(keyWriteCount, strconv.FormatUint(d.WriteCount, 10))
	writeKV(keyReadBytes, strconv.FormatUint(d.ReadBytes, 10))
	writeKV(keyWriteBytes, strconv.FormatUint(d.WriteBytes, 10))
	writeKV(keyBlockCommitSequenceID, strconv.FormatUint(d.BlockCommitSequenceID, 10))
	writeKV(keyDeleteTransactionID, strconv.FormatUint(d.DeleteTransactionID, 10))
	writeKV(keyOriginNodeID, d.OriginNodeID)
	writeKV(keyOriginPipelineID, d.OriginPipelineID)
	writeKV(keyLastDataScanTimestamp, strconv.FormatInt(d.LastDataScanTimestamp, 10))

	keys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeKV(metadataPrefix+k, d.Metadata[k])
	}

	if zeroChecksum {
		writeKV(keyChecksumOfContent, "")
	} else {
		writeKV(keyChecksumOfContent, d.ChecksumOfContent)
	}
	return []byte(b.String())
}

// computeChecksum returns the content-checksum of d: the CRC-32C of d's
// serialized form with the checksum field zeroed.
func (d *Descriptor) computeChecksum() string {
	sum := checksum.Of(d.serialize(true))
	return strconv.FormatUint(uint64(sum), 16)
}

// stampChecksum recomputes and sets ChecksumOfContent before the
// descriptor is written to disk.
func (d *Descriptor) stampChecksum() {
	d.ChecksumOfContent = d.computeChecksum()
}

// ParseDescriptorBytes parses raw descriptor bytes extracted from an
// imported archive, without touching disk or validating the self-checksum
// (Import always re-stamps a fresh checksum when it writes the overlaid
// descriptor locally, so the incoming one is never trusted as-is).
func ParseDescriptorBytes(data []byte) (*Descriptor, error) {
	return parseDescriptor(data)
}

// parseDescriptor parses the key/value text format back into a Descriptor.
func parseDescriptor(data []byte) (*Descriptor, error) {
	d := &Descriptor{Metadata: map[string]string{}}
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return nil, fmt.Errorf("%w: malformed descriptor line %q", cargoerr.ErrInternal, line)
		}
		k, v := line[:idx], line[idx+1:]
		switch {
		case k == keyContainerID:
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: containerID: %v", cargoerr.ErrInternal, err)
			}
			d.ContainerID = n
		case k == keyContainerType:
			d.ContainerType = ContainerType(v)
		case k == keyState:
			st, ok := ParseState(v)
			if !ok {
				return nil, fmt.Errorf("%w: unknown state %q", cargoerr.ErrInternal, v)
			}
			d.State = st
		case k == keySchemaVersion:
			d.SchemaVersion = SchemaVersion(v)
		case k == keyLayoutVersion:
			n, _ := strconv.Atoi(v)
			d.LayoutVersion = n
		case k == keyMaxSize:
			n, _ := strconv.ParseUint(v, 10, 64)
			d.MaxSize = n
		case k == keyBytesUsed:
			n, _ := strconv.ParseUint(v, 10, 64)
			d.BytesUsed = n
		case k == keyKeyCount:
			n, _ := strconv.ParseUint(v, 10, 64)
			d.KeyCount = n
		case k == keyReadCount:
			n, _ := strconv.ParseUint(v, 10, 64)
			d.ReadCount = n
		case k == keyWriteCount:
			n, _ := strconv.ParseUint(v, 10, 64)
			d.WriteCount = n
		case k == keyReadBytes:
			n, _ := strconv.ParseUint(v, 10, 64)
			d.ReadBytes = n
		case k == keyWriteBytes:
			n, _ := strconv.ParseUint(v, 10, 64)
			d.WriteBytes = n
		case k == keyBlockCommitSequenceID:
			n, _ := strconv.ParseUint(v, 10, 64)
			d.BlockCommitSequenceID = n
		case k == keyDeleteTransactionID:
			n, _ := strconv.ParseUint(v, 10, 64)
			d.DeleteTransactionID = n
		case k == keyOriginNodeID:
			d.OriginNodeID = v
		case k == keyOriginPipelineID:
			d.OriginPipelineID = v
		case k == keyLastDataScanTimestamp:
			n, _ := strconv.ParseInt(v, 10, 64)
			d.LastDataScanTimestamp = n
		case k == keyChecksumOfContent:
			d.ChecksumOfContent = v
		case strings.HasPrefix(k, metadataPrefix):
			d.Metadata[strings.TrimPrefix(k, metadataPrefix)] = v
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", cargoerr.ErrInternal, err)
	}
	return d, nil
}

// writeDescriptor stamps d's checksum and persists it to path via
// serialize-then-write-temp-then-rename. The temp file lives in the same
// directory as the target so the rename stays on one filesystem. On any
// failure the temp file is removed and path is left untouched.
func writeDescriptor(path string, d *Descriptor) error {
	d.stampChecksum()
	data := d.serialize(false)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp descriptor: %v", cargoerr.ErrFileWriteError, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: write temp descriptor: %v", cargoerr.ErrFileWriteError, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: sync temp descriptor: %v", cargoerr.ErrFileWriteError, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: close temp descriptor: %v", cargoerr.ErrFileWriteError, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("%w: rename temp descriptor: %v", cargoerr.ErrFileWriteError, err)
	}
	return nil
}

// loadDescriptorResult is the outcome of loading a descriptor from disk:
// either a verified descriptor, or one whose content-checksum did not
// match (in which case Unhealthy is true and the caller must mark the
// container UNHEALTHY without treating the load itself as fatal).
type loadDescriptorResult struct {
	Descriptor *Descriptor
	Unhealthy  bool
}

// loadDescriptor reads and parses the descriptor file at path, validating
// its self-checksum.
func loadDescriptor(path string) (loadDescriptorResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return loadDescriptorResult{}, fmt.Errorf("%w: read descriptor: %v", cargoerr.ErrInternal, err)
	}
	d, err := parseDescriptor(data)
	if err != nil {
		return loadDescriptorResult{}, err
	}
	want := d.computeChecksum()
	if want != d.ChecksumOfContent {
		return loadDescriptorResult{Descriptor: d, Unhealthy: true}, nil
	}
	return loadDescriptorResult{Descriptor: d}, nil
}
