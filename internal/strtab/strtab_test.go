// Copyright 2026 The nnpkg Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package strtab

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestCreateThenOpenEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strtab")
	if err := Create(path); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := Create(path); !errors.Is(err, ErrExists) {
		t.Fatalf("second Create: got %v, want ErrExists", err)
	}

	tab, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tab.Close()

	if tab.size != headerSize {
		t.Errorf("size = %d, want %d", tab.size, headerSize)
	}
}

func TestAddAndGetStringRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strtab")
	if err := Create(path); err != nil {
		t.Fatalf("Create: %v", err)
	}
	tab, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tab.Close()

	cases := []string{"a", "test", "a test package", "", "dep-one"}
	offsets := make([]uint32, len(cases))

	for i, s := range cases {
		off, err := tab.AddString(s)
		if err != nil {
			t.Fatalf("AddString(%q): %v", s, err)
		}
		offsets[i] = off
	}

	seen := map[uint32]bool{}
	for i, off := range offsets {
		if seen[off] {
			t.Fatalf("offset %d reused across writes", off)
		}
		seen[off] = true

		got, err := tab.GetString(off)
		if err != nil {
			t.Fatalf("GetString(%d): %v", off, err)
		}
		if got != cases[i] {
			t.Errorf("GetString(%d) = %q, want %q", off, got, cases[i])
		}
	}
}

func TestGetStringOutOfBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strtab")
	if err := Create(path); err != nil {
		t.Fatalf("Create: %v", err)
	}
	tab, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tab.Close()

	if _, err := tab.GetString(1_000_000); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("GetString(huge) = %v, want ErrOutOfBounds", err)
	}
}

func TestReopenSeesExistingStrings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strtab")
	if err := Create(path); err != nil {
		t.Fatalf("Create: %v", err)
	}
	tab, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	off, err := tab.AddString("persisted")
	if err != nil {
		t.Fatalf("AddString: %v", err)
	}
	if err := tab.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tab2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer tab2.Close()

	got, err := tab2.GetString(off)
	if err != nil {
		t.Fatalf("GetString after reopen: %v", err)
	}
	if got != "persisted" {
		t.Errorf("got %q, want %q", got, "persisted")
	}
}
