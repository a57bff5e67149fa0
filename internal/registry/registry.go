// Copyright 2026 The nnpkg Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package registry tracks the set of property databases open in a
// transaction: an ordered list tagged by role (SOURCE vs DESTINATION)
// and locality (LOCAL vs REMOTE), with a first-hit-wins lookup across
// all of them.
//
// Unlike the original, this is not process-global state: a Registry is
// an explicit value owned by whatever control object (internal/engine)
// runs the transaction.
package registry

import (
	"errors"
	"fmt"

	"github.com/nexos-dev/nnpkg/internal/pkg"
	"github.com/nexos-dev/nnpkg/internal/propdb"
)

// Role describes whether a database accepts writes in this transaction.
type Role int

const (
	Source Role = iota + 1
	Destination
)

// Locality describes where a database physically lives.
type Locality int

const (
	Local Locality = iota + 1
	Remote
)

// ErrNoDestination is returned by Destination when no database has been
// opened with role Destination.
var ErrNoDestination = errors.New("no destination database open")

// entry is one opened database plus its tags.
type entry struct {
	store    *propdb.Store
	role     Role
	locality Locality
}

// Registry holds every database open within a single transaction.
type Registry struct {
	dbs  []*entry
	dest *entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Open adds an already-opened store to the registry under role and
// locality. It panics if a second Destination database is registered:
// per the original design, at most one destination database may exist
// in a transaction, and a caller attempting a second is a programming
// error, not a recoverable one.
func (r *Registry) Open(store *propdb.Store, role Role, locality Locality) {
	e := &entry{store: store, role: role, locality: locality}
	if role == Destination {
		if r.dest != nil {
			panic("registry: a destination database is already open")
		}
		r.dest = e
	}
	r.dbs = append(r.dbs, e)
}

// Destination returns the registry's single destination database.
func (r *Registry) Destination() (*propdb.Store, error) {
	if r.dest == nil {
		return nil, ErrNoDestination
	}
	return r.dest.store, nil
}

// FindPackage searches every open database in registration order,
// returning the first package found. It distinguishes a missing root
// (pkg.ErrNotFound) from a broken transitive dependency (*pkg.BrokenDepError)
// exactly as pkg.Find does for a single database — the difference here
// is only that the root lookup spans however many databases are open.
func (r *Registry) FindPackage(arena *pkg.Arena, name string) (pkg.Handle, error) {
	if len(r.dbs) == 0 {
		return 0, fmt.Errorf("%s: %w", name, pkg.ErrNotFound)
	}
	var lastErr error
	for _, e := range r.dbs {
		h, err := pkg.Find(arena, e.store, name)
		if err == nil {
			return h, nil
		}
		if errors.Is(err, pkg.ErrNotFound) {
			lastErr = err
			continue
		}
		// A *BrokenDepError (or any other failure) is definitive: the
		// package exists here but its dependency graph doesn't resolve.
		return 0, err
	}
	return 0, lastErr
}

// AddPackage delegates to the destination database.
func (r *Registry) AddPackage(arena *pkg.Arena, h pkg.Handle) error {
	dest, err := r.Destination()
	if err != nil {
		return err
	}
	return pkg.Add(arena, dest, h)
}

// RemovePackage delegates to the destination database.
func (r *Registry) RemovePackage(arena *pkg.Arena, h pkg.Handle) error {
	dest, err := r.Destination()
	if err != nil {
		return err
	}
	return pkg.Remove(arena, dest, h)
}

// CloseAll closes every open database, in registration order, and
// returns the first error encountered (closing the rest regardless).
func (r *Registry) CloseAll() error {
	var firstErr error
	for _, e := range r.dbs {
		if err := e.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.dbs = nil
	r.dest = nil
	return firstErr
}
