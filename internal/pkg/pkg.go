// Copyright 2026 The nnpkg Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package pkg implements the package layer: an arena of LogicalPackages
// addressed by stable integer handles, serialized to and resolved from
// a property database's PKG-typed records.
package pkg

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nexos-dev/nnpkg/internal/propdb"
)

// MaxDeps is the hard cap on dependencies a single package record can
// carry; the on-disk layout reserves exactly this many 8-byte slots.
const MaxDeps = 60

const (
	offDescription  = 0
	offPrefix       = 4
	offPkgType      = 8
	offIsDependency = 10
	offDepsStart    = 20
	depEntrySize    = 8
)

var (
	// ErrAlreadyExists is returned by Add when a package with the same id
	// is already present (committed or queued in this transaction).
	ErrAlreadyExists = errors.New("package already exists")
	// ErrNotFound is returned by Find when the root package name isn't
	// present in any open database.
	ErrNotFound = errors.New("package not found")
	// ErrTooManyDeps is returned when a package declares more dependencies
	// than the record format can hold.
	ErrTooManyDeps = errors.New("package declares more than the maximum number of dependencies")
	// ErrNoRecord is returned by Remove when the package has no backing
	// live record to remove.
	ErrNoRecord = errors.New("package has no backing record")

	errDepMissing = errors.New("dependency missing")
)

// BrokenDepError reports that Owner declares a dependency, Missing, that
// cannot be located in any open database. It is returned as-is by
// nested recursive lookups so the original owner/missing pair survives
// to the top caller instead of being overwritten at each frame.
type BrokenDepError struct {
	Owner   string
	Missing string
}

func (e *BrokenDepError) Error() string {
	return fmt.Sprintf("broken dependency: %s requires %s, which is not present", e.Owner, e.Missing)
}

// Handle is a stable reference to a Package held in an Arena.
type Handle int32

// Package is a logical package: the in-memory counterpart of a PKG
// property record.
type Package struct {
	ID           string
	Description  string
	Prefix       string
	IsDependency bool
	Type         uint16
	Deps         []Handle

	// record is the backing live property, if this Package was produced
	// by Find (as opposed to freshly constructed for Add). Remove
	// requires it.
	record *propdb.Prop
}

// Arena owns a set of Packages addressed by Handle. Packages created in
// an Arena live until the arena itself is discarded.
type Arena struct {
	pkgs []Package
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// New stores p in the arena and returns a handle to it.
func (a *Arena) New(p Package) Handle {
	a.pkgs = append(a.pkgs, p)
	return Handle(len(a.pkgs) - 1)
}

// Get returns a pointer to the package behind h. The pointer is valid
// until the next call to New, which may grow the arena's backing array.
func (a *Arena) Get(h Handle) *Package {
	return &a.pkgs[h]
}

// Add verifies name uniqueness (against both the committed store and
// this transaction's queued-but-uncommitted additions) and enqueues the
// package behind h for addition.
func Add(arena *Arena, store *propdb.Store, h Handle) error {
	p := arena.Get(h)
	if len(p.Deps) > MaxDeps {
		return fmt.Errorf("%s: %w", p.ID, ErrTooManyDeps)
	}

	if _, found := store.QueuedByID(p.ID); found {
		return fmt.Errorf("%s: %w", p.ID, ErrAlreadyExists)
	}
	if _, found, err := store.FindProp(p.ID); err != nil {
		return err
	} else if found {
		return fmt.Errorf("%s: %w", p.ID, ErrAlreadyExists)
	}

	payload, err := encodePayload(arena, store, p)
	if err != nil {
		return err
	}

	store.AddProp(propdb.Prop{
		ID:      p.ID,
		Type:    propdb.TypePKG,
		Payload: payload,
	})
	return nil
}

// Find locates the package named name, recursively resolving its
// dependency graph against store. Two distinct failures are possible:
// the root name absent (ErrNotFound) and a transitive dependency absent
// (*BrokenDepError, carrying the owning package id and the missing
// name).
func Find(arena *Arena, store *propdb.Store, name string) (Handle, error) {
	return find(arena, store, name, false)
}

func find(arena *Arena, store *propdb.Store, name string, findingDep bool) (Handle, error) {
	prop, found, err := store.FindProp(name)
	if err != nil {
		return 0, err
	}
	if !found {
		if findingDep {
			return 0, errDepMissing
		}
		return 0, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	dec := decodePayload(prop.Payload)

	h := arena.New(Package{
		ID:           name,
		Description:  "",
		Prefix:       "",
		IsDependency: dec.isDependency,
		Type:         dec.pkgType,
		record:       &prop,
	})

	description, err := store.Strtab().GetString(dec.descriptionOff)
	if err != nil {
		return 0, fmt.Errorf("%s: description: %w", name, err)
	}
	prefix, err := store.Strtab().GetString(dec.prefixOff)
	if err != nil {
		return 0, fmt.Errorf("%s: prefix: %w", name, err)
	}
	pkg := arena.Get(h)
	pkg.Description = description
	pkg.Prefix = prefix

	for _, depOff := range dec.depOffsets {
		depName, err := store.Strtab().GetString(depOff)
		if err != nil {
			return 0, fmt.Errorf("%s: dependency name: %w", name, err)
		}

		depH, err := find(arena, store, depName, true)
		if err != nil {
			if errors.Is(err, errDepMissing) {
				return 0, &BrokenDepError{Owner: name, Missing: depName}
			}
			// A *BrokenDepError from deeper in the recursion: propagate
			// untouched so the original owner/missing pair survives.
			return 0, err
		}

		pkg = arena.Get(h)
		pkg.Deps = append(pkg.Deps, depH)
	}

	return h, nil
}

// Remove enqueues the package behind h for removal. It requires h to
// have been produced by Find (carrying a backing live record).
func Remove(arena *Arena, store *propdb.Store, h Handle) error {
	p := arena.Get(h)
	if p.record == nil {
		return fmt.Errorf("%s: %w", p.ID, ErrNoRecord)
	}
	return store.RemoveProp(*p.record)
}

type decodedPayload struct {
	descriptionOff uint32
	prefixOff      uint32
	pkgType        uint16
	isDependency   bool
	depOffsets     []uint32
}

func decodePayload(payload [propdb.PayloadSize]byte) decodedPayload {
	var d decodedPayload
	d.descriptionOff = binary.LittleEndian.Uint32(payload[offDescription : offDescription+4])
	d.prefixOff = binary.LittleEndian.Uint32(payload[offPrefix : offPrefix+4])
	d.pkgType = binary.LittleEndian.Uint16(payload[offPkgType : offPkgType+2])
	d.isDependency = payload[offIsDependency] != 0

	for i := 0; i < MaxDeps; i++ {
		base := offDepsStart + i*depEntrySize
		idx := binary.LittleEndian.Uint32(payload[base : base+4])
		if idx == 0 {
			break
		}
		d.depOffsets = append(d.depOffsets, idx)
	}
	return d
}

func encodePayload(arena *Arena, store *propdb.Store, p *Package) ([propdb.PayloadSize]byte, error) {
	var payload [propdb.PayloadSize]byte

	descOff, err := store.Strtab().AddString(p.Description)
	if err != nil {
		return payload, fmt.Errorf("write description: %w", err)
	}
	prefixOff, err := store.Strtab().AddString(p.Prefix)
	if err != nil {
		return payload, fmt.Errorf("write prefix: %w", err)
	}

	binary.LittleEndian.PutUint32(payload[offDescription:offDescription+4], descOff)
	binary.LittleEndian.PutUint32(payload[offPrefix:offPrefix+4], prefixOff)
	binary.LittleEndian.PutUint16(payload[offPkgType:offPkgType+2], p.Type)
	if p.IsDependency {
		payload[offIsDependency] = 1
	}

	for i, depH := range p.Deps {
		dep := arena.Get(depH)
		idOff, err := store.Strtab().AddString(dep.ID)
		if err != nil {
			return payload, fmt.Errorf("write dependency %q: %w", dep.ID, err)
		}
		base := offDepsStart + i*depEntrySize
		binary.LittleEndian.PutUint32(payload[base:base+4], idOff)
		// verOp/ver[3] are reserved: always written as zero.
	}

	return payload, nil
}
