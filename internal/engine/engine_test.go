// Copyright 2026 The nnpkg Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nexos-dev/nnpkg/internal/nerr"
	"github.com/nexos-dev/nnpkg/internal/propdb"
)

type testEnv struct {
	confPath  string
	indexPath string
	prefix    string
}

func setupEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()

	dbLoc := propdb.Location{
		DBPath:     filepath.Join(dir, "props.db"),
		StrtabPath: filepath.Join(dir, "strtab.db"),
	}
	if err := propdb.Create(dbLoc); err != nil {
		t.Fatalf("propdb.Create: %v", err)
	}

	indexPath := filepath.Join(dir, "index")
	prefix := filepath.Join(dir, "prefix")
	if err := os.MkdirAll(filepath.Join(prefix, "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(prefix, "bin", "tool"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	confPath := filepath.Join(dir, "main.conf")
	conf := "settings {\n" +
		"    packageDb = \"" + dbLoc.DBPath + "\";\n" +
		"    strtab = \"" + dbLoc.StrtabPath + "\";\n" +
		"    indexPath = \"" + indexPath + "\";\n" +
		"}\n"
	if err := os.WriteFile(confPath, []byte(conf), 0644); err != nil {
		t.Fatal(err)
	}

	return testEnv{confPath: confPath, indexPath: indexPath, prefix: prefix}
}

func writePkgConf(t *testing.T, dir, id, prefix string, deps []string) string {
	t.Helper()
	body := "package " + id + " {\n" +
		"    description = \"a package\";\n" +
		"    prefix = \"" + prefix + "\";\n" +
		"    isDependency = false;\n"
	if len(deps) > 0 {
		body += "    dependencies = "
		for i, d := range deps {
			if i > 0 {
				body += ", "
			}
			body += d
		}
		body += ";\n"
	}
	body += "}\n"

	path := filepath.Join(dir, id+".conf")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAddTransactionAccepts(t *testing.T) {
	env := setupEnv(t)
	pkgConf := writePkgConf(t, filepath.Dir(env.confPath), "mypkg", env.prefix, nil)

	var states []State
	cb := NewAddControlBlock(env.confPath, pkgConf, func(cb *ControlBlock, s State) {
		states = append(states, s)
	})

	if err := Execute(cb); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cb.State != StateAccept {
		t.Fatalf("final state = %s, want ACCEPT", cb.State)
	}

	want := []State{
		StateInitPkgSys, StateReadPkgConf, StateCollectIndex,
		StateWriteIndex, StateAddPkg, StateCleanupPkgSys, StateAccept,
	}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, states[i], want[i])
		}
	}

	target, err := os.Readlink(filepath.Join(env.indexPath, "bin", "tool"))
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != filepath.Join(env.prefix, "bin", "tool") {
		t.Errorf("symlink target = %q", target)
	}
}

func TestAddTransactionBrokenDependency(t *testing.T) {
	env := setupEnv(t)
	pkgConf := writePkgConf(t, filepath.Dir(env.confPath), "mypkg", env.prefix, []string{"missing"})

	cb := NewAddControlBlock(env.confPath, pkgConf, nil)
	if err := Execute(cb); err == nil {
		t.Fatal("Execute: expected error")
	}
	if cb.State != StateErr {
		t.Fatalf("final state = %s, want ERR", cb.State)
	}
	if cb.Err.Code != nerr.BrokenDep {
		t.Fatalf("Err.Code = %s, want %s", cb.Err.Code, nerr.BrokenDep)
	}
	if cb.Err.Hints[0] != "mypkg" || cb.Err.Hints[1] != "missing" {
		t.Errorf("Hints = %v, want [mypkg missing ...]", cb.Err.Hints)
	}
}

func TestAddTransactionDuplicateRejected(t *testing.T) {
	env := setupEnv(t)
	pkgConf := writePkgConf(t, filepath.Dir(env.confPath), "mypkg", env.prefix, nil)

	first := NewAddControlBlock(env.confPath, pkgConf, nil)
	if err := Execute(first); err != nil {
		t.Fatalf("first Execute: %v", err)
	}

	second := NewAddControlBlock(env.confPath, pkgConf, nil)
	if err := Execute(second); err == nil {
		t.Fatal("second Execute: expected error")
	}
	if second.Err.Code != nerr.PkgExist {
		t.Fatalf("Err.Code = %s, want %s", second.Err.Code, nerr.PkgExist)
	}
}

func TestAddTransactionDependencyChain(t *testing.T) {
	env := setupEnv(t)
	confDir := filepath.Dir(env.confPath)

	baseConf := writePkgConf(t, confDir, "base", env.prefix, nil)
	base := NewAddControlBlock(env.confPath, baseConf, nil)
	if err := Execute(base); err != nil {
		t.Fatalf("base Execute: %v", err)
	}

	topConf := writePkgConf(t, confDir, "top", env.prefix, []string{"base"})
	top := NewAddControlBlock(env.confPath, topConf, nil)
	if err := Execute(top); err != nil {
		t.Fatalf("top Execute: %v", err)
	}
	if top.State != StateAccept {
		t.Fatalf("final state = %s, want ACCEPT", top.State)
	}
}

func TestProgressHintSeededOnAddPkg(t *testing.T) {
	env := setupEnv(t)
	pkgConf := writePkgConf(t, filepath.Dir(env.confPath), "hinted", env.prefix, nil)

	var hintAtAddPkg string
	cb := NewAddControlBlock(env.confPath, pkgConf, func(cb *ControlBlock, s State) {
		if s == StateAddPkg {
			hintAtAddPkg = cb.ProgressHint[0]
		}
	})
	if err := Execute(cb); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if hintAtAddPkg != "hinted" {
		t.Errorf("ProgressHint[0] at ADDPKG = %q, want %q", hintAtAddPkg, "hinted")
	}
}

func TestAddTransactionMissingMainConfig(t *testing.T) {
	env := setupEnv(t)
	pkgConf := writePkgConf(t, filepath.Dir(env.confPath), "mypkg", env.prefix, nil)

	cb := NewAddControlBlock(filepath.Join(filepath.Dir(env.confPath), "does-not-exist.conf"), pkgConf, nil)
	err := Execute(cb)
	if err == nil {
		t.Fatal("expected error")
	}
	var nerrErr *nerr.Error
	if !errors.As(err, &nerrErr) {
		t.Fatalf("err = %v, want *nerr.Error", err)
	}
}
