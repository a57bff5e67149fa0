// Copyright 2026 The nnpkg Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package engine drives the transaction state machine that sequences
// configuration parsing, database access, dependency resolution,
// filesystem indexing and commit for a single operation.
package engine

import (
	"errors"
	"fmt"
	"os"

	"github.com/nexos-dev/nnpkg/internal/config"
	"github.com/nexos-dev/nnpkg/internal/fsindex"
	"github.com/nexos-dev/nnpkg/internal/nerr"
	"github.com/nexos-dev/nnpkg/internal/pkg"
	"github.com/nexos-dev/nnpkg/internal/propdb"
	"github.com/nexos-dev/nnpkg/internal/registry"
)

// State is one node of the transaction state machine.
type State int

const (
	StateInitPkgSys State = iota
	StateReadPkgConf
	StateCollectIndex
	StateWriteIndex
	StateAddPkg
	StateCleanupPkgSys
	StateAccept
	StateErr
)

func (s State) String() string {
	switch s {
	case StateInitPkgSys:
		return "INIT_PKGSYS"
	case StateReadPkgConf:
		return "READ_PKGCONF"
	case StateCollectIndex:
		return "COLLECT_INDEX"
	case StateWriteIndex:
		return "WRITE_INDEX"
	case StateAddPkg:
		return "ADDPKG"
	case StateCleanupPkgSys:
		return "CLEANUP_PKGSYS"
	case StateAccept:
		return "ACCEPT"
	case StateErr:
		return "ERR"
	default:
		return "UNKNOWN"
	}
}

// Type identifies which transition table and action set the engine
// runs. Only TransAdd is implemented; the state machine shape is built
// to hold further transaction types without change to Execute.
type Type int

const (
	TransAdd Type = iota
)

// ProgressFunc is invoked on every state transition, including ERR. It
// must not fail the transaction; any error it might want to report is
// the caller's concern, not the engine's.
type ProgressFunc func(cb *ControlBlock, state State)

// ControlBlock carries everything one transaction needs: its current
// state, the registry of open databases, the package being processed,
// and the diagnostic hints left behind on failure.
type ControlBlock struct {
	State    State
	Type     Type
	Progress ProgressFunc

	ConfPath    string
	PkgConfPath string

	MainConf *config.MainConfig
	Registry *registry.Registry
	Arena    *pkg.Arena

	PkgHandle    pkg.Handle
	IndexEntries []fsindex.Entry

	// ProgressHint mirrors the original control block's progress hint
	// slot: seeded with the package id on entering ADDPKG, independent
	// of any error hints.
	ProgressHint [5]string

	Err *nerr.Error
}

// NewAddControlBlock builds a control block for an add transaction.
func NewAddControlBlock(confPath, pkgConfPath string, progress ProgressFunc) *ControlBlock {
	return &ControlBlock{
		Type:        TransAdd,
		Progress:    progress,
		ConfPath:    confPath,
		PkgConfPath: pkgConfPath,
		Registry:    registry.New(),
		Arena:       pkg.NewArena(),
	}
}

// SetState records the new state, seeds progress hints for states that
// need it, and invokes the progress callback.
func (cb *ControlBlock) SetState(s State) {
	cb.State = s
	if s == StateAddPkg {
		p := cb.Arena.Get(cb.PkgHandle)
		cb.ProgressHint[0] = p.ID
	}
	if cb.Progress != nil {
		cb.Progress(cb, s)
	}
}

// fail and failSys both release any open databases before entering ERR:
// a failure discovered after INIT_PKGSYS opened the destination
// database must not leak its advisory lock.
func (cb *ControlBlock) fail(code nerr.Code, hints ...string) bool {
	cb.Err = nerr.New(code, hints...)
	_ = cb.Registry.CloseAll()
	cb.SetState(StateErr)
	return false
}

func (cb *ControlBlock) failSys(err error, hints ...string) bool {
	cb.Err = nerr.WrapSys(err, hints...)
	_ = cb.Registry.CloseAll()
	cb.SetState(StateErr)
	return false
}

func nextState(cb *ControlBlock) State {
	switch cb.State {
	case StateErr:
		return StateErr
	case StateAccept:
		return StateAccept
	}
	switch cb.Type {
	case TransAdd:
		switch cb.State {
		case StateInitPkgSys:
			return StateReadPkgConf
		case StateReadPkgConf:
			return StateCollectIndex
		case StateCollectIndex:
			return StateWriteIndex
		case StateWriteIndex:
			return StateAddPkg
		case StateAddPkg:
			return StateCleanupPkgSys
		case StateCleanupPkgSys:
			return StateAccept
		}
	}
	panic(fmt.Sprintf("engine: no transition defined for state %s in transaction type %d", cb.State, cb.Type))
}

// Execute runs the transaction to completion, returning the terminal
// error (nil on ACCEPT).
func Execute(cb *ControlBlock) error {
	cb.SetState(StateInitPkgSys)
	for cb.State != StateAccept {
		if !runState(cb) {
			return cb.Err
		}
		cb.SetState(nextState(cb))
	}
	return nil
}

func runState(cb *ControlBlock) bool {
	switch cb.State {
	case StateInitPkgSys:
		return initPkgSys(cb)
	case StateReadPkgConf:
		return readPkgConf(cb)
	case StateCollectIndex:
		return collectIndex(cb)
	case StateWriteIndex:
		return writeIndex(cb)
	case StateAddPkg:
		return addPkg(cb)
	case StateCleanupPkgSys:
		return cleanupPkgSys(cb)
	default:
		return true
	}
}

func initPkgSys(cb *ControlBlock) bool {
	mainConf, err := config.ParseMainConfig(cb.ConfPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cb.failSys(err, cb.ConfPath)
		}
		return cb.fail(nerr.SyntaxErr, err.Error())
	}
	cb.MainConf = mainConf

	loc := propdb.Location{DBPath: mainConf.PackageDb, StrtabPath: mainConf.Strtab}
	store, err := propdb.Open(loc)
	if err != nil {
		if errors.Is(err, propdb.ErrLocked) {
			return cb.fail(nerr.DBLocked, mainConf.PackageDb)
		}
		return cb.failSys(err, mainConf.PackageDb)
	}
	cb.Registry.Open(store, registry.Destination, registry.Local)
	return true
}

func readPkgConf(cb *ControlBlock) bool {
	desc, err := config.ParsePackageConfig(cb.PkgConfPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cb.failSys(err, cb.PkgConfPath)
		}
		return cb.fail(nerr.SyntaxErr, err.Error())
	}

	var deps []pkg.Handle
	for _, depName := range desc.Dependencies {
		dh, err := cb.Registry.FindPackage(cb.Arena, depName)
		if err != nil {
			var bde *pkg.BrokenDepError
			switch {
			case errors.As(err, &bde):
				return cb.fail(nerr.BrokenDep, bde.Owner, bde.Missing)
			case errors.Is(err, pkg.ErrNotFound):
				return cb.fail(nerr.BrokenDep, desc.ID, depName)
			default:
				return cb.failSys(err)
			}
		}
		deps = append(deps, dh)
	}

	cb.PkgHandle = cb.Arena.New(pkg.Package{
		ID:           desc.ID,
		Description:  desc.Description,
		Prefix:       desc.Prefix,
		IsDependency: desc.IsDependency,
		Deps:         deps,
	})
	return true
}

func collectIndex(cb *ControlBlock) bool {
	p := cb.Arena.Get(cb.PkgHandle)
	entries, err := fsindex.Collect(p.Prefix, cb.MainConf.IndexPath)
	if err != nil {
		return cb.failSys(err, p.Prefix)
	}
	cb.IndexEntries = entries
	return true
}

func writeIndex(cb *ControlBlock) bool {
	if err := fsindex.Write(cb.IndexEntries); err != nil {
		return cb.failSys(err)
	}
	return true
}

func addPkg(cb *ControlBlock) bool {
	p := cb.Arena.Get(cb.PkgHandle)
	if err := cb.Registry.AddPackage(cb.Arena, cb.PkgHandle); err != nil {
		switch {
		case errors.Is(err, pkg.ErrAlreadyExists):
			return cb.fail(nerr.PkgExist, p.ID)
		case errors.Is(err, pkg.ErrTooManyDeps):
			return cb.fail(nerr.TooManyDeps, p.ID)
		default:
			return cb.failSys(err, p.ID)
		}
	}
	return true
}

func cleanupPkgSys(cb *ControlBlock) bool {
	if err := cb.Registry.CloseAll(); err != nil {
		return cb.failSys(err)
	}
	cb.MainConf = nil
	return true
}
