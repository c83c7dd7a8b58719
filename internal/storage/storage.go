// Package storage is the indexed piece read/write adapter: a backing file
// opened through afero.Fs so production code runs against the real
// filesystem while tests run against an in-memory one.
package storage

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/EthanAGit/p2pProj/internal/errs"
)

// Adapter reads and writes pieces of one backing file by index.
type Adapter struct {
	fs        afero.Fs
	file      afero.File
	fileSize  int64
	pieceSize int
}

// Open creates (if missing) a sparse file of fileSize bytes at
// filepath.Join(dir, name) on fs, and returns an Adapter over it.
func Open(fs afero.Fs, dir, name string, fileSize int64, pieceSize int) (*Adapter, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, &errs.Storage{Op: "mkdir", Err: err}
	}
	path := filepath.Join(dir, name)

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, &errs.Storage{Op: "stat", Err: err}
	}
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, &errs.Storage{Op: "open", Err: err}
	}
	if !exists {
		if err := f.Truncate(fileSize); err != nil {
			f.Close()
			return nil, &errs.Storage{Op: "truncate", Err: err}
		}
	}
	return &Adapter{fs: fs, file: f, fileSize: fileSize, pieceSize: pieceSize}, nil
}

// Close releases the backing file handle.
func (a *Adapter) Close() error {
	return a.file.Close()
}

// PieceLength returns the byte length of piece index: pieceSize, except the
// last piece which is short (fileSize - index*pieceSize).
func (a *Adapter) PieceLength(index int) int {
	start := int64(index) * int64(a.pieceSize)
	remaining := a.fileSize - start
	if remaining < 0 {
		remaining = 0
	}
	if remaining > int64(a.pieceSize) {
		return a.pieceSize
	}
	return int(remaining)
}

// ReadPiece reads piece index's bytes at offset index*pieceSize.
func (a *Adapter) ReadPiece(index int) ([]byte, error) {
	length := a.PieceLength(index)
	buf := make([]byte, length)
	offset := int64(index) * int64(a.pieceSize)
	if _, err := a.file.ReadAt(buf, offset); err != nil {
		return nil, &errs.Storage{Op: "read", Index: index, Err: err}
	}
	return buf, nil
}

// WritePiece writes data at offset index*pieceSize.
func (a *Adapter) WritePiece(index int, data []byte) error {
	offset := int64(index) * int64(a.pieceSize)
	if _, err := a.file.WriteAt(data, offset); err != nil {
		return &errs.Storage{Op: "write", Index: index, Err: err}
	}
	return nil
}
