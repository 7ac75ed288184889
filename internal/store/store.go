// Package store persists document trees in a readable JSON encoding or a
// compact binary encoding, chosen by file extension.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/itsmostafa/pageindex/internal/pageindex"
)

// Format identifies an on-disk encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatBinary
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatBinary:
		return "binary"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// FormatFromPath picks the encoding from the file extension. Anything that
// is not a binary extension is JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin", ".bincode", ".pidx":
		return FormatBinary
	default:
		return FormatJSON
	}
}

// Encode serializes tree in the given format.
func Encode(tree *pageindex.DocumentTree, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return encodeJSON(tree)
	case FormatBinary:
		return encodeBinary(tree)
	default:
		return nil, pageindex.Errorf(pageindex.KindPersistence, "unknown format %s", format)
	}
}

// Decode parses data in the given format. It does not validate the tree.
func Decode(data []byte, format Format) (*pageindex.DocumentTree, error) {
	var (
		tree *pageindex.DocumentTree
		err  error
	)
	switch format {
	case FormatJSON:
		tree, err = decodeJSON(data)
	case FormatBinary:
		tree, err = decodeBinary(data)
	default:
		return nil, pageindex.Errorf(pageindex.KindPersistence, "unknown format %s", format)
	}
	if err != nil {
		return nil, pageindex.NewError(pageindex.KindPersistence, "failed to decode "+format.String()+" index", err)
	}
	tree.Normalize()
	return tree, nil
}

// Save validates tree and writes it to path atomically, creating parent
// directories as needed. A failed save leaves any existing file untouched.
func Save(tree *pageindex.DocumentTree, path string) error {
	if tree == nil {
		return pageindex.Errorf(pageindex.KindPersistence, "nothing to save")
	}
	if err := pageindex.Validate(tree, tree.PageCount()); err != nil {
		return err
	}

	data, err := Encode(tree, FormatFromPath(path))
	if err != nil {
		return err
	}

	if err := writeFileAtomic(path, data); err != nil {
		return pageindex.NewError(pageindex.KindPersistence, "failed to write index "+path, err)
	}
	return nil
}

// Load reads, decodes and re-validates a tree. Ranges are checked against
// the recorded page count when the file has one.
func Load(path string) (*pageindex.DocumentTree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pageindex.NewError(pageindex.KindPersistence, "failed to read index "+path, err)
	}

	tree, err := Decode(data, FormatFromPath(path))
	if err != nil {
		return nil, err
	}
	if err := pageindex.Validate(tree, tree.PageCount()); err != nil {
		return nil, err
	}
	return tree, nil
}

// Exists reports whether an index file is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Size returns the size in bytes of the index file at path.
func Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, pageindex.NewError(pageindex.KindPersistence, "index not found: "+path, err)
		}
		return 0, pageindex.NewError(pageindex.KindPersistence, "failed to stat index "+path, err)
	}
	return info.Size(), nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	return os.Rename(tmpName, path)
}
