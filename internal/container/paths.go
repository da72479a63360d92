// Package container implements the on-disk layout and lifecycle state
// machine of a key-value container: a self-describing unit of replicated
// storage holding many blocks.
package container

import (
	"fmt"
	"path/filepath"
)

// Paths is the set of on-disk locations derived from a container's root.
// All of its fields are computed by pure functions of (volumeRoot,
// idSubdir, containerID); nothing here touches the filesystem.
type Paths struct {
	Root           string
	MetadataDir    string
	ChunksDir      string
	DescriptorFile string
	DbFile         string
}

// descriptorFileName is the name of a container's descriptor file.
func descriptorFileName(containerID uint64) string {
	return fmt.Sprintf("%d.container", containerID)
}

// dbDirName is the name of a container's embedded key/value store file
// (a single bbolt file inside the metadata directory).
func dbDirName(containerID uint64) string {
	return fmt.Sprintf("%d-dn-container.db", containerID)
}

// NewPaths computes every path derived from a container's root, given
// (volumeRoot, idSubdir, containerID). idSubdir is the cluster-or-SCM-id
// directory component between the volume root and the container id.
func NewPaths(volumeRoot, idSubdir string, containerID uint64) Paths {
	root := filepath.Join(volumeRoot, idSubdir, fmt.Sprint(containerID))
	metadataDir := filepath.Join(root, "metadata")
	return Paths{
		Root:           root,
		MetadataDir:    metadataDir,
		ChunksDir:      filepath.Join(root, "chunks"),
		DescriptorFile: filepath.Join(metadataDir, descriptorFileName(containerID)),
		DbFile:         filepath.Join(metadataDir, dbDirName(containerID)),
	}
}

// ChunkFileName names the on-disk file backing one block's nth chunk.
func ChunkFileName(blockID uint64, n int) string {
	return fmt.Sprintf("%d_chunk_%d", blockID, n)
}

// ChunkFilePath joins a container's chunks directory with a chunk file
// name.
func (p Paths) ChunkFilePath(blockID uint64, n int) string {
	return filepath.Join(p.ChunksDir, ChunkFileName(blockID, n))
}
