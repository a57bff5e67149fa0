// Copyright 2026 The nnpkg Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package propdb implements the property database file format: a fixed
// header followed by an array of 512-byte fixed-size records, each
// either free (type INVALID) or holding a typed payload (currently only
// PKG). The file is mmap'ed read-write for its lifetime and protected
// by an advisory exclusive, non-blocking lock.
package propdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	mmap "github.com/edsrzf/mmap-go"
	flock "github.com/gofrs/flock"

	"github.com/nexos-dev/nnpkg/internal/strtab"
)

const (
	headerSize  = 28 // sig8 + ver1 + rev1 + size2 + crc4 + numProps4 + numFreeProps4 + propSize4
	RecordSize  = 512
	PayloadSize = RecordSize - 12 // id4 + crc4 + type2 + resvd2

	currentVersion  = 0
	currentRevision = 1
)

// Property type tags. Only PKG payloads are interpreted by this package;
// STRING is reserved for a future use and INVALID marks a free slot.
const (
	TypeInvalid uint16 = 0
	TypePKG     uint16 = 1
	TypeString  uint16 = 2
)

var fileSignature = [8]byte{0x00, 'n', 'n', 'p', 'k', 'g', 'd', 'b'}

// Errors returned by this package. Higher layers (internal/engine) map
// these onto the nerr.Code taxonomy.
var (
	ErrExists       = errors.New("property database already exists")
	ErrLocked       = errors.New("failed to acquire package database lock")
	ErrBadSignature = errors.New("bad property database signature")
	ErrBadPropSize  = errors.New("unexpected property record size")
	ErrHeaderCRC    = errors.New("property database header checksum mismatch")
	ErrRecordCRC    = errors.New("property record checksum mismatch")
	ErrNotFound     = errors.New("property not found")
	ErrNoRef        = errors.New("property has no backing record to remove")
)

// Location names the two files a database lives in.
type Location struct {
	DBPath     string
	StrtabPath string
}

// header is the in-memory decoding of the 28-byte file header.
type header struct {
	sig          uint64
	version      uint8
	revision     uint8
	size         uint16
	crc32        uint32
	numProps     uint32
	numFreeProps uint32
	propSize     uint32
}

func encodeHeader(h header) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.sig)
	buf[8] = h.version
	buf[9] = h.revision
	binary.LittleEndian.PutUint16(buf[10:12], h.size)
	binary.LittleEndian.PutUint32(buf[12:16], h.crc32)
	binary.LittleEndian.PutUint32(buf[16:20], h.numProps)
	binary.LittleEndian.PutUint32(buf[20:24], h.numFreeProps)
	binary.LittleEndian.PutUint32(buf[24:28], h.propSize)
	return buf
}

func decodeHeader(buf []byte) header {
	return header{
		sig:          binary.LittleEndian.Uint64(buf[0:8]),
		version:      buf[8],
		revision:     buf[9],
		size:         binary.LittleEndian.Uint16(buf[10:12]),
		crc32:        binary.LittleEndian.Uint32(buf[12:16]),
		numProps:     binary.LittleEndian.Uint32(buf[16:20]),
		numFreeProps: binary.LittleEndian.Uint32(buf[20:24]),
		propSize:     binary.LittleEndian.Uint32(buf[24:28]),
	}
}

func headerCRC(buf []byte) uint32 {
	tmp := make([]byte, len(buf))
	copy(tmp, buf)
	binary.LittleEndian.PutUint32(tmp[12:16], 0)
	return crc32.ChecksumIEEE(tmp)
}

func recordCRC(rec []byte) uint32 {
	tmp := make([]byte, len(rec))
	copy(tmp, rec)
	binary.LittleEndian.PutUint32(tmp[4:8], 0)
	return crc32.ChecksumIEEE(tmp)
}

// Prop is a decoded (or about-to-be-written) property record.
type Prop struct {
	ID      string
	Type    uint16
	Payload [PayloadSize]byte

	inStore bool
	slot    int
}

// queuedProp is an entry on propsToAdd: a Prop awaiting a slot.
type queuedProp struct {
	prop Prop
}

// Store is an open property database.
type Store struct {
	loc    Location
	f      *os.File
	data   mmap.MMap
	lock   *flock.Flock
	strtab *strtab.Table

	hdr header

	allocMark   int
	allocMarkOK bool
	propsLeft   int

	toAdd []queuedProp
	toRm  []Prop
}

// Create creates a new, empty property database (and its companion
// string table) at the given location. It fails with ErrExists if the
// property file is already present.
func Create(loc Location) error {
	if _, err := os.Stat(loc.DBPath); err == nil {
		return ErrExists
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", loc.DBPath, err)
	}

	if dir := filepath.Dir(loc.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(loc.DBPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", loc.DBPath, err)
	}

	hdr := header{
		sig:          binary.LittleEndian.Uint64(fileSignature[:]),
		version:      currentVersion,
		revision:     currentRevision,
		size:         headerSize,
		numProps:     0,
		numFreeProps: 0,
		propSize:     RecordSize,
	}
	hdr.crc32 = headerCRC(encodeHeader(hdr))

	if _, err := f.Write(encodeHeader(hdr)); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", loc.DBPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", loc.DBPath, err)
	}

	return strtab.Create(loc.StrtabPath)
}

// Open opens an existing property database, acquiring an exclusive
// advisory lock on the property file and mapping both files into
// memory. The returned Store must be closed (which commits any queued
// changes) to release the lock.
func Open(loc Location) (*Store, error) {
	st, err := os.Stat(loc.DBPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", loc.DBPath, err)
	}
	size := st.Size()

	f, err := os.OpenFile(loc.DBPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", loc.DBPath, err)
	}

	lock := flock.New(loc.DBPath)
	locked, err := lock.TryLock()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("lock %s: %w", loc.DBPath, err)
	}
	if !locked {
		f.Close()
		return nil, ErrLocked
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		lock.Unlock()
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", loc.DBPath, err)
	}

	if size < headerSize {
		data.Unmap()
		lock.Unlock()
		f.Close()
		return nil, fmt.Errorf("%s: %w", loc.DBPath, ErrBadSignature)
	}

	hdr := decodeHeader(data[:headerSize])
	if hdr.propSize != RecordSize {
		data.Unmap()
		lock.Unlock()
		f.Close()
		return nil, fmt.Errorf("%s: %w", loc.DBPath, ErrBadPropSize)
	}
	if gotCRC := headerCRC(data[:headerSize]); gotCRC != hdr.crc32 {
		data.Unmap()
		lock.Unlock()
		f.Close()
		return nil, fmt.Errorf("%s: %w", loc.DBPath, ErrHeaderCRC)
	}

	tab, err := strtab.Open(loc.StrtabPath)
	if err != nil {
		data.Unmap()
		lock.Unlock()
		f.Close()
		return nil, err
	}

	return &Store{
		loc:    loc,
		f:      f,
		data:   data,
		lock:   lock,
		strtab: tab,
		hdr:    hdr,
	}, nil
}

// Strtab returns the database's open string table.
func (s *Store) Strtab() *strtab.Table { return s.strtab }

// NumProps returns the number of committed record slots (free or not).
func (s *Store) NumProps() uint32 { return s.hdr.numProps }

// NumFreeProps returns the number of free record slots known to the
// store at the time it was opened (or as adjusted by this
// transaction's queued removals/allocations).
func (s *Store) NumFreeProps() uint32 { return s.hdr.numFreeProps }

func (s *Store) recordSlice(i int) []byte {
	base := headerSize + i*RecordSize
	return s.data[base : base+RecordSize]
}

func decodeProp(rec []byte, id string, slot int) Prop {
	var p Prop
	p.ID = id
	p.Type = binary.LittleEndian.Uint16(rec[8:10])
	copy(p.Payload[:], rec[12:RecordSize])
	p.inStore = true
	p.slot = slot
	return p
}

// FindProp scans the committed records (offset 0..NumProps) for one
// whose id string equals name. This is a linear scan — O(NumProps) —
// as the original format has no secondary index.
func (s *Store) FindProp(name string) (Prop, bool, error) {
	for i := 0; i < int(s.hdr.numProps); i++ {
		rec := s.recordSlice(i)
		typ := binary.LittleEndian.Uint16(rec[8:10])
		if typ == TypeInvalid {
			continue
		}
		idOff := binary.LittleEndian.Uint32(rec[0:4])
		id, err := s.strtab.GetString(idOff)
		if err != nil {
			return Prop{}, false, fmt.Errorf("decode record %d id: %w", i, err)
		}
		if id == name {
			if crc := recordCRC(rec); crc != binary.LittleEndian.Uint32(rec[4:8]) {
				return Prop{}, false, fmt.Errorf("record %d (%s): %w", i, name, ErrRecordCRC)
			}
			return decodeProp(rec, id, i), true, nil
		}
	}
	return Prop{}, false, nil
}

// QueuedByID reports whether a property with the given id is already
// queued for addition in this transaction (but not yet committed).
func (s *Store) QueuedByID(id string) (Prop, bool) {
	for _, qp := range s.toAdd {
		if qp.prop.ID == id {
			return qp.prop, true
		}
	}
	return Prop{}, false
}

// AddProp enqueues a property for addition at Close. No I/O or
// duplicate-checking happens here; callers (internal/pkg) are
// responsible for verifying the id is not already present.
func (s *Store) AddProp(p Prop) {
	s.toAdd = append(s.toAdd, queuedProp{prop: p})
}

// RemoveProp enqueues a live property for removal at Close. p must have
// been returned by FindProp (carrying a backing slot reference).
func (s *Store) RemoveProp(p Prop) error {
	if !p.inStore {
		return ErrNoRef
	}
	s.toRm = append(s.toRm, p)
	return nil
}

// allocateSlot finds and reserves the lowest-offset free slot at or
// after the allocation mark, or (false) if none is available without a
// fuller rescan than the mark's remembered budget allows.
func (s *Store) allocateSlot() (int, bool) {
	if s.hdr.numFreeProps == 0 {
		return -1, false
	}

	start := 0
	propsLeft := int(s.hdr.numProps)
	if s.allocMarkOK {
		start = s.allocMark
		propsLeft = s.propsLeft
	}

	for i := 0; i < propsLeft; i++ {
		idx := start + i
		rec := s.recordSlice(idx)
		typ := binary.LittleEndian.Uint16(rec[8:10])
		if typ == TypeInvalid {
			s.hdr.numFreeProps--
			s.allocMark = idx + 1
			s.allocMarkOK = true
			s.propsLeft = propsLeft - i - 1
			return idx, true
		}
	}
	return -1, false
}

// serializeInto writes p's id, type, payload and CRC into rec, writing
// p.ID to the string table if needed.
func (s *Store) serializeInto(rec []byte, p Prop) error {
	idOff, err := s.strtab.AddString(p.ID)
	if err != nil {
		return fmt.Errorf("write id %q: %w", p.ID, err)
	}
	binary.LittleEndian.PutUint32(rec[0:4], idOff)
	binary.LittleEndian.PutUint16(rec[8:10], p.Type)
	rec[10] = 0
	rec[11] = 0
	copy(rec[12:RecordSize], p.Payload[:])
	crc := recordCRC(rec)
	binary.LittleEndian.PutUint32(rec[4:8], crc)
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// grow extends the mapped file to newSize, remapping it read-write.
func (s *Store) grow(newSize int64) error {
	if err := s.f.Truncate(newSize); err != nil {
		return fmt.Errorf("truncate %s: %w", s.loc.DBPath, err)
	}
	if err := s.data.Unmap(); err != nil {
		return fmt.Errorf("unmap %s: %w", s.loc.DBPath, err)
	}
	data, err := mmap.Map(s.f, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("remap %s: %w", s.loc.DBPath, err)
	}
	s.data = data
	return nil
}

// Close commits all queued removals and additions, recomputes and
// writes the header CRC, then unmaps and unlocks the database.
//
// Commit-time write failures are detected but not unwound: there is no
// rollback journal.
func (s *Store) Close() error {
	for _, p := range s.toRm {
		rec := s.recordSlice(p.slot)
		zero(rec)
		s.hdr.numFreeProps++
	}

	nextIdx := int(s.hdr.numProps)
	for _, qp := range s.toAdd {
		if idx, ok := s.allocateSlot(); ok {
			if err := s.serializeInto(s.recordSlice(idx), qp.prop); err != nil {
				return s.closeAfterError(err)
			}
			continue
		}

		newSize := int64(headerSize) + int64(nextIdx+1)*RecordSize
		if err := s.grow(newSize); err != nil {
			return s.closeAfterError(err)
		}
		if err := s.serializeInto(s.recordSlice(nextIdx), qp.prop); err != nil {
			return s.closeAfterError(err)
		}
		nextIdx++
		s.hdr.numProps++
	}

	s.hdr.crc32 = headerCRC(encodeHeader(s.hdr))
	copy(s.data[:headerSize], encodeHeader(s.hdr))

	if err := s.data.Flush(); err != nil {
		return s.closeAfterError(err)
	}

	return s.finalClose()
}

func (s *Store) closeAfterError(cause error) error {
	_ = s.finalClose()
	return cause
}

func (s *Store) finalClose() error {
	var firstErr error
	if err := s.data.Unmap(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.strtab.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
