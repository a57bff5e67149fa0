// Copyright 2026 The nnpkg Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConf(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.conf")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseMainConfig(t *testing.T) {
	path := writeConf(t, `
settings {
    packageDb = "/var/lib/nnpkg/props.db";
    strtab = "/var/lib/nnpkg/strtab.db";
    indexPath = "/var/lib/nnpkg/index";
}
`)
	cfg, err := ParseMainConfig(path)
	if err != nil {
		t.Fatalf("ParseMainConfig: %v", err)
	}
	if cfg.PackageDb != "/var/lib/nnpkg/props.db" {
		t.Errorf("PackageDb = %q", cfg.PackageDb)
	}
	if cfg.Strtab != "/var/lib/nnpkg/strtab.db" {
		t.Errorf("Strtab = %q", cfg.Strtab)
	}
	if cfg.IndexPath != "/var/lib/nnpkg/index" {
		t.Errorf("IndexPath = %q", cfg.IndexPath)
	}
}

func TestParseMainConfigMissingProperty(t *testing.T) {
	path := writeConf(t, `
settings {
    packageDb = "/var/lib/nnpkg/props.db";
}
`)
	if _, err := ParseMainConfig(path); !errors.Is(err, ErrMissingProperty) {
		t.Fatalf("got %v, want ErrMissingProperty", err)
	}
}

func TestParseMainConfigWrongBlockType(t *testing.T) {
	path := writeConf(t, `
package foo {
    description = "x";
}
`)
	if _, err := ParseMainConfig(path); !errors.Is(err, ErrUnknownBlock) {
		t.Fatalf("got %v, want ErrUnknownBlock", err)
	}
}

func TestParsePackageConfig(t *testing.T) {
	path := writeConf(t, `
package mypkg {
    description = "a test package";
    prefix = "/usr";
    isDependency = false;
    dependencies = libfoo, libbar;
}
`)
	desc, err := ParsePackageConfig(path)
	if err != nil {
		t.Fatalf("ParsePackageConfig: %v", err)
	}
	if desc.ID != "mypkg" {
		t.Errorf("ID = %q", desc.ID)
	}
	if desc.Description != "a test package" {
		t.Errorf("Description = %q", desc.Description)
	}
	if desc.Prefix != "/usr" {
		t.Errorf("Prefix = %q", desc.Prefix)
	}
	if desc.IsDependency {
		t.Errorf("IsDependency = true, want false")
	}
	wantDeps := []string{"libfoo", "libbar"}
	if len(desc.Dependencies) != len(wantDeps) {
		t.Fatalf("Dependencies = %v, want %v", desc.Dependencies, wantDeps)
	}
	for i, d := range wantDeps {
		if desc.Dependencies[i] != d {
			t.Errorf("Dependencies[%d] = %q, want %q", i, desc.Dependencies[i], d)
		}
	}
}

func TestParsePackageConfigMissingName(t *testing.T) {
	path := writeConf(t, `
package {
    description = "x";
}
`)
	if _, err := ParsePackageConfig(path); !errors.Is(err, ErrMissingBlockName) {
		t.Fatalf("got %v, want ErrMissingBlockName", err)
	}
}

func TestParsePackageConfigBadBooleanValue(t *testing.T) {
	path := writeConf(t, `
package mypkg {
    isDependency = maybe;
}
`)
	if _, err := ParsePackageConfig(path); !errors.Is(err, ErrPropertyType) {
		t.Fatalf("got %v, want ErrPropertyType", err)
	}
}

func TestParseMultipleBlocksRejected(t *testing.T) {
	path := writeConf(t, `
settings {
    packageDb = "a";
    strtab = "b";
    indexPath = "c";
}
settings {
    packageDb = "a";
    strtab = "b";
    indexPath = "c";
}
`)
	if _, err := ParseMainConfig(path); !errors.Is(err, ErrMultipleBlocks) {
		t.Fatalf("got %v, want ErrMultipleBlocks", err)
	}
}
