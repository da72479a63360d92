// Package containerpack implements atomic bulk copy-in/copy-out of a
// container as a single archive: pack streams a closed container's
// on-disk tree out as one opaque, deterministic stream; unpack
// reconstitutes it and hands back the embedded descriptor bytes so the
// caller can re-stamp and re-write a local descriptor.
package containerpack

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"cargohold/internal/cargoerr"
)

// descriptorEntryName is the archive entry name the packed descriptor
// bytes are written under. It is deliberately written after the chunk
// entries (see Pack) so unpack's descriptor-bytes-always-present guarantee
// is actually exercised rather than trivially true.
const descriptorEntryName = "descriptor"

const dbEntryName = "db"

const chunksEntryPrefix = "chunks/"

// PackTarget is the minimal view of a container Pack needs: its root
// paths. Export in this package builds it from a container's Paths; Pack
// itself reads only these three paths and takes no container lock.
type PackTarget struct {
	ChunksDir      string
	DbFile         string
	DescriptorFile string
}

// Pack streams target's on-disk tree (db file, chunk files, descriptor) as
// a single zstd-compressed tar archive to out. The descriptor is always
// included, written as the archive's final entry.
func Pack(target PackTarget, out io.Writer) error {
	enc, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("%w: new zstd writer: %v", cargoerr.ErrInternal, err)
	}
	tw := tar.NewWriter(enc)

	if err := packDbFile(tw, target.DbFile); err != nil {
		tw.Close()
		enc.Close()
		return err
	}
	if err := packChunks(tw, target.ChunksDir); err != nil {
		tw.Close()
		enc.Close()
		return err
	}
	if err := packDescriptor(tw, target.DescriptorFile); err != nil {
		tw.Close()
		enc.Close()
		return err
	}

	if err := tw.Close(); err != nil {
		enc.Close()
		return fmt.Errorf("%w: close tar writer: %v", cargoerr.ErrInternal, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("%w: close zstd writer: %v", cargoerr.ErrInternal, err)
	}
	return nil
}

func packDbFile(tw *tar.Writer, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: stat db file: %v", cargoerr.ErrInternal, err)
	}
	return packFile(tw, path, dbEntryName, info)
}

func packChunks(tw *tar.Writer, chunksDir string) error {
	entries, err := os.ReadDir(chunksDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: read chunks dir: %v", cargoerr.ErrInternal, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		full := filepath.Join(chunksDir, name)
		info, err := os.Stat(full)
		if err != nil {
			return fmt.Errorf("%w: stat chunk %s: %v", cargoerr.ErrInternal, name, err)
		}
		if err := packFile(tw, full, chunksEntryPrefix+name, info); err != nil {
			return err
		}
	}
	return nil
}

func packDescriptor(tw *tar.Writer, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: stat descriptor: %v", cargoerr.ErrInternal, err)
	}
	return packFile(tw, path, descriptorEntryName, info)
}

func packFile(tw *tar.Writer, path, entryName string, info fs.FileInfo) error {
	hdr := &tar.Header{
		Name: entryName,
		Mode: int64(info.Mode().Perm()),
		Size: info.Size(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("%w: write tar header for %s: %v", cargoerr.ErrInternal, entryName, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", cargoerr.ErrInternal, path, err)
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("%w: copy %s into archive: %v", cargoerr.ErrInternal, path, err)
	}
	return nil
}

// UnpackTarget is where Unpack materializes a received archive's files.
type UnpackTarget struct {
	ChunksDir string
	DbFile    string
}

// Unpack reads an archive produced by Pack, writing chunk and db files
// into target, and returns the raw descriptor bytes embedded in the
// stream without writing them anywhere; the caller, the import path,
// decides where those bytes land.
func Unpack(target UnpackTarget, in io.Reader) ([]byte, error) {
	dec, err := zstd.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("%w: new zstd reader: %v", cargoerr.ErrInternal, err)
	}
	defer dec.Close()
	tr := tar.NewReader(dec)

	if err := os.MkdirAll(target.ChunksDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create chunks dir: %v", cargoerr.ErrInternal, err)
	}
	if err := os.MkdirAll(filepath.Dir(target.DbFile), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create metadata dir: %v", cargoerr.ErrInternal, err)
	}

	var descriptorBytes []byte
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read tar header: %v", cargoerr.ErrInternal, err)
		}

		switch {
		case hdr.Name == descriptorEntryName:
			descriptorBytes, err = io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("%w: read descriptor entry: %v", cargoerr.ErrInternal, err)
			}
		case hdr.Name == dbEntryName:
			if err := writeEntry(tr, target.DbFile, hdr); err != nil {
				return nil, err
			}
		case len(hdr.Name) > len(chunksEntryPrefix) && hdr.Name[:len(chunksEntryPrefix)] == chunksEntryPrefix:
			chunkName := hdr.Name[len(chunksEntryPrefix):]
			if err := writeEntry(tr, filepath.Join(target.ChunksDir, chunkName), hdr); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unrecognized archive entry %q", cargoerr.ErrInternal, hdr.Name)
		}
	}

	if descriptorBytes == nil {
		return nil, fmt.Errorf("%w: archive has no descriptor entry", cargoerr.ErrInternal)
	}
	return descriptorBytes, nil
}

func writeEntry(tr *tar.Reader, path string, hdr *tar.Header) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.FileMode(hdr.Mode))
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", cargoerr.ErrInternal, path, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, tr); err != nil {
		return fmt.Errorf("%w: write %s: %v", cargoerr.ErrInternal, path, err)
	}
	return nil
}
