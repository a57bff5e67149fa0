// Copyright 2026 The nnpkg Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package strtab implements the append-only UTF-32 string table file
// format shared by every package database: a 12-byte header followed by
// a concatenation of zero-terminated, 4-byte-aligned UTF-32 strings,
// addressed by absolute byte offset.
//
// Once written, an offset is immutable and may be shared by many
// property records. There is no deduplication and no deletion.
package strtab

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

const (
	sigBytesLen  = 8
	headerSize   = 12 // sig(8) + verMaj(1) + verMin(1) + pad(2)
	currentMajor = 0
	currentMinor = 1
)

var fileSignature = [sigBytesLen]byte{0x00, 'n', 'n', 'p', 'k', 'g', 'd', 'b'}

// Errors returned by this package.
var (
	// ErrExists is returned by Create when the string table file already exists.
	ErrExists = errors.New("string table already exists")
	// ErrBadSignature is returned by Open when the file's signature doesn't match.
	ErrBadSignature = errors.New("bad string table signature")
	// ErrOutOfBounds is returned by GetString when the offset is not within
	// the mapped region.
	ErrOutOfBounds = errors.New("string offset outside table bounds")
	// ErrUnterminated is returned by GetString when no zero terminator is
	// found before the end of the mapped region.
	ErrUnterminated = errors.New("string table entry missing terminator")
)

// Table is an open string table: a growable, mmap-backed append log.
type Table struct {
	path string
	f    *os.File
	data mmap.MMap // read-only view, remapped after every growth
	size int64     // current mapped (== file) size
	off  int64     // append offset, == size once opened
}

// align4 rounds v up to the next multiple of 4.
func align4(v int64) int64 {
	return (v + 3) &^ 3
}

// Create creates a new, empty string table file at path. It fails with
// ErrExists if the file is already present.
func Create(path string) error {
	if _, err := os.Stat(path); err == nil {
		return ErrExists
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	hdr := make([]byte, headerSize)
	copy(hdr[0:sigBytesLen], fileSignature[:])
	hdr[8] = currentMajor
	hdr[9] = currentMinor
	// hdr[10:12] pad, left zero

	if _, err := f.Write(hdr); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Open opens an existing string table file, mapping it read-only and
// positioning the append cursor at the current end of file.
func Open(path string) (*Table, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	size := st.Size()
	if size < headerSize {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrBadSignature)
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	if !bytesEqual(data[0:sigBytesLen], fileSignature[:]) {
		data.Unmap()
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrBadSignature)
	}

	return &Table{
		path: path,
		f:    f,
		data: data,
		size: size,
		off:  size,
	}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AddString writes s to the table as a zero-terminated, 4-byte-aligned
// UTF-32 string and returns the absolute byte offset it was written at.
//
// The write goes straight to the file (the mapping is read-only), after
// which the table is remapped so the new region is visible through
// GetString — this is the "remap after growth" strategy the format
// allows in place of a side cache.
func (t *Table) AddString(s string) (uint32, error) {
	runes := []rune(s)
	n := int64(len(runes)) + 1 // + terminator
	byteLen := n * 4
	buf := make([]byte, byteLen)
	for i, r := range runes {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(r))
	}
	// trailing 4 bytes (the terminator) are already zero

	writeOff := t.off
	if _, err := t.f.WriteAt(buf, writeOff); err != nil {
		return 0, fmt.Errorf("write %s: %w", t.path, err)
	}

	// Every unit here is a 4-byte UTF-32 code point, so byteLen is always
	// already a multiple of 4; align4 is applied anyway since the format
	// guarantees it, not because padding is ever written in practice.
	newSize := writeOff + align4(byteLen)

	if err := t.remap(newSize); err != nil {
		return 0, err
	}

	if writeOff > int64(^uint32(0)) {
		return 0, fmt.Errorf("string table offset %d exceeds u32 range", writeOff)
	}
	return uint32(writeOff), nil
}

func (t *Table) remap(newSize int64) error {
	if err := t.data.Unmap(); err != nil {
		return fmt.Errorf("unmap %s: %w", t.path, err)
	}
	data, err := mmap.Map(t.f, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("remap %s: %w", t.path, err)
	}
	t.data = data
	t.size = newSize
	t.off = newSize
	return nil
}

// GetString returns the zero-terminated UTF-32 string starting at the
// given absolute byte offset.
func (t *Table) GetString(offset uint32) (string, error) {
	off := int64(offset)
	if off < headerSize || off >= t.size {
		return "", ErrOutOfBounds
	}
	var runes []rune
	for p := off; ; p += 4 {
		if p+4 > t.size {
			return "", ErrUnterminated
		}
		r := binary.LittleEndian.Uint32(t.data[p : p+4])
		if r == 0 {
			break
		}
		runes = append(runes, rune(r))
	}
	return string(runes), nil
}

// Close unmaps the table and closes its file descriptor.
func (t *Table) Close() error {
	var firstErr error
	if err := t.data.Unmap(); err != nil {
		firstErr = err
	}
	if err := t.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Path returns the filesystem path the table was opened from.
func (t *Table) Path() string { return t.path }
