package containerpack

import (
	"io"

	"cargohold/internal/container"
)

// Export streams c out as a single archive to out: ExportPrepare takes
// the write lock, requires CLOSED or QUASI_CLOSED, compacts/evicts the
// embedded store, and downgrades to a read lock held for the duration of
// the archive stream so a concurrent Delete can't race the packer while
// concurrent reads still proceed. ExportFinish releases the read lock and
// clears the store cache's exporting marker so the container can be
// acquired again.
func Export(c *container.Container, out io.Writer) error {
	if err := c.ExportPrepare(); err != nil {
		return err
	}
	defer c.ExportFinish()

	target := PackTarget{
		ChunksDir:      c.Paths().ChunksDir,
		DbFile:         c.Paths().DbFile,
		DescriptorFile: c.Paths().DescriptorFile,
	}
	return Pack(target, out)
}

// Import reconstructs a container from an archive produced by Export,
// materializing it at paths: a fresh container is created, the archive is
// unpacked into its chunks/db files, the embedded descriptor is parsed and
// overlaid onto the local descriptor (re-stamping a fresh checksum), and
// the in-memory key count is rebuilt by scanning the store rather than
// trusting the incoming descriptor. Any failure along
// the way deletes the metadata, chunks, and container-root directories
// rather than leaving a partial container behind.
func Import(paths container.Paths, containerID uint64, cfg container.Config, in io.Reader) (*container.Container, error) {
	c, err := container.Create(paths, containerID, 0, "", "", cfg)
	if err != nil {
		return nil, err
	}

	target := UnpackTarget{ChunksDir: paths.ChunksDir, DbFile: paths.DbFile}
	descriptorBytes, err := Unpack(target, in)
	if err != nil {
		container.DeleteAll(paths)
		return nil, err
	}

	attrs, err := container.ParseDescriptorBytes(descriptorBytes)
	if err != nil {
		container.DeleteAll(paths)
		return nil, err
	}
	if err := c.ImportDescriptor(attrs); err != nil {
		container.DeleteAll(paths)
		return nil, err
	}
	if err := c.RebuildKeyCount(); err != nil {
		container.DeleteAll(paths)
		return nil, err
	}

	return c, nil
}
