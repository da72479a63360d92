package container

import (
	"os"
	"testing"
)

func TestDescriptorChecksumRoundTrip(t *testing.T) {
	d := &Descriptor{
		ContainerID:           7,
		ContainerType:         KeyValueContainer,
		State:                 StateOpen,
		SchemaVersion:         SchemaV3,
		MaxSize:               1 << 30,
		BlockCommitSequenceID: 42,
		Metadata:              map[string]string{"owner": "team-a"},
	}
	d.stampChecksum()

	data := d.serialize(false)
	got, err := parseDescriptor(data)
	if err != nil {
		t.Fatalf("parseDescriptor: %v", err)
	}
	if got.computeChecksum() != got.ChecksumOfContent {
		t.Errorf("recomputed checksum %q != stored %q", got.computeChecksum(), got.ChecksumOfContent)
	}
	if got.ContainerID != d.ContainerID || got.BlockCommitSequenceID != d.BlockCommitSequenceID {
		t.Errorf("got %+v, want fields matching %+v", got, d)
	}
	if got.Metadata["owner"] != "team-a" {
		t.Errorf("metadata not preserved: %+v", got.Metadata)
	}
}

func TestDescriptorChecksumMismatchDetected(t *testing.T) {
	d := &Descriptor{ContainerID: 1, State: StateOpen, Metadata: map[string]string{}}
	d.stampChecksum()
	data := d.serialize(false)

	// Corrupt a byte in the middle of the serialized form.
	corrupted := []byte(string(data))
	for i := range corrupted {
		if corrupted[i] == '0' {
			corrupted[i] = '9'
			break
		}
	}

	parsed, err := parseDescriptor(corrupted)
	if err != nil {
		t.Fatalf("parseDescriptor: %v", err)
	}
	if parsed.computeChecksum() == parsed.ChecksumOfContent {
		t.Fatal("expected checksum mismatch after corruption")
	}
}

func TestWriteDescriptorAtomicRename(t *testing.T) {
	dir := t.TempDir()
	paths := NewPaths(dir, "scm", 3)
	if err := os.MkdirAll(paths.MetadataDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	d := &Descriptor{ContainerID: 3, State: StateOpen, Metadata: map[string]string{}}
	if err := writeDescriptor(paths.DescriptorFile, d); err != nil {
		t.Fatalf("writeDescriptor: %v", err)
	}

	res, err := loadDescriptor(paths.DescriptorFile)
	if err != nil {
		t.Fatalf("loadDescriptor: %v", err)
	}
	if res.Unhealthy {
		t.Fatal("freshly written descriptor reported unhealthy")
	}
	if res.Descriptor.ContainerID != 3 {
		t.Errorf("containerID = %d, want 3", res.Descriptor.ContainerID)
	}
}
