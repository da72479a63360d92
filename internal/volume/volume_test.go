package volume

import (
	"bytes"
	"errors"
	"testing"

	"cargohold/internal/cargoerr"
	"cargohold/internal/container"
)

func newTestSet(t *testing.T, capacity uint64) (*Set, *Volume) {
	t.Helper()
	v := New("vol-1", t.TempDir(), capacity)
	if err := v.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	s := NewSet()
	s.Add(v)
	return s, v
}

func TestCreateContainerOnReservesCapacity(t *testing.T) {
	s, v := newTestSet(t, 10<<30) // 10 GiB free

	c, err := s.CreateContainerOn(v, "scm1", 1, 1<<30, "node-1", "pipeline-1", container.Config{})
	if err != nil {
		t.Fatalf("CreateContainerOn: %v", err)
	}
	if c.State() != container.StateOpen {
		t.Fatalf("state = %v, want OPEN", c.State())
	}
	if got, want := v.AvailableBytes(), uint64(9<<30); got != want {
		t.Errorf("AvailableBytes() = %d, want %d", got, want)
	}
}

func TestCreateContainerOnInsufficientSpaceFailsDiskOutOfSpace(t *testing.T) {
	s, v := newTestSet(t, 1<<20) // 1 MiB free

	_, err := s.CreateContainerOn(v, "scm1", 1, 1<<30, "node-1", "pipeline-1", container.Config{})
	if !errors.Is(err, cargoerr.ErrDiskOutOfSpace) {
		t.Fatalf("got %v, want ErrDiskOutOfSpace", err)
	}
	if got, want := v.AvailableBytes(), uint64(1<<20); got != want {
		t.Errorf("AvailableBytes() after failed create = %d, want unchanged %d", got, want)
	}
}

func TestDeleteReleasesReservedCapacity(t *testing.T) {
	s, v := newTestSet(t, 10<<30)

	c, err := s.CreateContainerOn(v, "scm1", 1, 2<<30, "node-1", "pipeline-1", container.Config{})
	if err != nil {
		t.Fatalf("CreateContainerOn: %v", err)
	}
	if err := c.MarkForClose(); err != nil {
		t.Fatalf("MarkForClose: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, want := v.AvailableBytes(), uint64(10<<30); got != want {
		t.Errorf("AvailableBytes() after delete = %d, want %d (fully released)", got, want)
	}
}

func TestOnFailureMarksVolumeUnhealthyAndBlocksNewContainers(t *testing.T) {
	s, v := newTestSet(t, 10<<30)

	v.OnFailure()
	if v.Healthy() {
		t.Fatal("expected volume to report unhealthy after OnFailure")
	}

	if _, err := s.CreateContainerOn(v, "scm1", 1, 1<<20, "node-1", "pipeline-1", container.Config{}); err == nil {
		t.Fatal("expected CreateContainerOn to fail on an unhealthy volume")
	}
}

func TestCreateContainerOnRejectsVolumeNotInSet(t *testing.T) {
	s, _ := newTestSet(t, 10<<30)
	stray := New("stray", t.TempDir(), 10<<30)

	if _, err := s.CreateContainerOn(stray, "scm1", 1, 1<<20, "node-1", "pipeline-1", container.Config{}); err == nil {
		t.Fatal("expected CreateContainerOn to reject a volume not registered in the set")
	}
}

func TestExportImportRoundTripReservesCapacityOnImport(t *testing.T) {
	srcSet, srcVol := newTestSet(t, 10<<30)

	c, err := srcSet.CreateContainerOn(srcVol, "scm1", 1, 1<<30, "node-1", "pipeline-1", container.Config{})
	if err != nil {
		t.Fatalf("CreateContainerOn: %v", err)
	}
	if err := c.MarkForClose(); err != nil {
		t.Fatalf("MarkForClose: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var buf bytes.Buffer
	if err := srcSet.Export(c, &buf); err != nil {
		t.Fatalf("Export: %v", err)
	}

	dstSet, dstVol := newTestSet(t, 10<<30)
	imported, err := dstSet.ImportContainerOn(dstVol, "scm1", 1, 1<<30, container.Config{}, &buf)
	if err != nil {
		t.Fatalf("ImportContainerOn: %v", err)
	}
	if imported.State() != container.StateClosed {
		t.Fatalf("imported state = %v, want CLOSED", imported.State())
	}
	if got, want := dstVol.AvailableBytes(), uint64(9<<30); got != want {
		t.Errorf("AvailableBytes() after import = %d, want %d", got, want)
	}
}

func TestImportContainerOnFailsDiskOutOfSpace(t *testing.T) {
	dstSet, dstVol := newTestSet(t, 1<<20) // 1 MiB free

	_, err := dstSet.ImportContainerOn(dstVol, "scm1", 1, 1<<30, container.Config{}, bytes.NewReader(nil))
	if !errors.Is(err, cargoerr.ErrDiskOutOfSpace) {
		t.Fatalf("got %v, want ErrDiskOutOfSpace", err)
	}
}
