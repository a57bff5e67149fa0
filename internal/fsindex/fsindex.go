// Copyright 2026 The nnpkg Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package fsindex builds and materializes the filesystem index: a set
// of symlinks in a central index tree pointing back at the files a
// package installed under its own prefix, one level deep in each of a
// fixed set of FHS-style subtrees.
package fsindex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// subtrees is the fixed, ordered set of directories indexed under a
// package prefix. Anything outside this set is not indexed.
var subtrees = []string{"bin", "sbin", "etc", "share", "libexec", "var", "lib", "include"}

// Entry is one (source, destination) symlink pair: destination, once
// written, is a symlink pointing at source.
type Entry struct {
	Source      string
	Destination string
}

// Collect walks each fixed subtree of prefix one level deep and builds
// the list of index entries that would register every file found
// there under idxPath. A subtree that doesn't exist under prefix is
// skipped silently; any other error opening it is returned.
func Collect(prefix, idxPath string) ([]Entry, error) {
	var entries []Entry

	for _, dir := range subtrees {
		srcDir := filepath.Join(prefix, dir)
		dstDir := filepath.Join(idxPath, dir)

		items, err := os.ReadDir(srcDir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", srcDir, err)
		}

		for _, item := range items {
			entries = append(entries, Entry{
				Source:      filepath.Join(srcDir, item.Name()),
				Destination: filepath.Join(dstDir, item.Name()),
			})
		}
	}

	return entries, nil
}

// Write materializes each entry as a symlink, in order. An entry whose
// destination already exists is left alone (EEXIST is not an error).
func Write(entries []Entry) error {
	for _, e := range entries {
		if err := os.MkdirAll(filepath.Dir(e.Destination), 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", filepath.Dir(e.Destination), err)
		}
		if err := os.Symlink(e.Source, e.Destination); err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return fmt.Errorf("symlink %s -> %s: %w", e.Destination, e.Source, err)
		}
	}
	return nil
}
