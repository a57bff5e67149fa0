// Copyright 2026 The nnpkg Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package config parses the two textual configuration grammars the
// core consumes: the tool's global `settings { ... }` block and a
// single package's `package NAME { ... }` description. Both share one
// small block/property grammar, built with participle.
package config

import (
	"errors"
	"fmt"
	"os"
)

// MainConfig is the tool's global configuration: where the package
// database, its string table, and the symlink index tree live.
type MainConfig struct {
	PackageDb string
	Strtab    string
	IndexPath string
}

// Descriptor is a single package description: everything a package
// config file declares about one package, before dependency names are
// resolved against any open database.
type Descriptor struct {
	ID           string
	Description  string
	Prefix       string
	IsDependency bool
	Dependencies []string
}

var (
	// ErrEmptyFile is returned when a configuration file contains no
	// blocks at all.
	ErrEmptyFile = errors.New("empty configuration file")
	// ErrUnknownBlock is returned when a block's type isn't recognized
	// by the caller (e.g. "package" where "settings" was expected).
	ErrUnknownBlock = errors.New("unrecognized block type")
	// ErrMultipleBlocks is returned when a file that must hold exactly
	// one block holds more than one.
	ErrMultipleBlocks = errors.New("only one block supported in this configuration file")
	// ErrMissingBlockName is returned when a block that requires a name
	// (package) has none.
	ErrMissingBlockName = errors.New("block name required")
	// ErrUnexpectedBlockName is returned when a block that must be
	// unnamed (settings) carries one.
	ErrUnexpectedBlockName = errors.New("block does not take a name")
	// ErrMissingProperty is returned when a required property is absent.
	ErrMissingProperty = errors.New("missing required property")
	// ErrPropertyArity is returned when a property that requires exactly
	// one value has zero or more than one.
	ErrPropertyArity = errors.New("property requires exactly one value")
	// ErrPropertyType is returned when a property's value isn't the kind
	// (string vs. identifier) the property requires.
	ErrPropertyType = errors.New("property has wrong value type")
)

// ParseMainConfig reads and parses the global settings file at path.
func ParseMainConfig(path string) (*MainConfig, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := parseFile(path, string(src))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(f.Blocks) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyFile)
	}
	if len(f.Blocks) > 1 {
		return nil, fmt.Errorf("%s: %w", path, ErrMultipleBlocks)
	}

	b := f.Blocks[0]
	if b.Type != "settings" {
		return nil, fmt.Errorf("%s: %q: %w", path, b.Type, ErrUnknownBlock)
	}
	if b.Name != nil {
		return nil, fmt.Errorf("%s: %w", path, ErrUnexpectedBlockName)
	}

	cfg := &MainConfig{}
	for _, p := range b.Props {
		s, err := requireOneString(path, p)
		if err != nil {
			return nil, err
		}
		switch p.Name {
		case "packageDb":
			cfg.PackageDb = s
		case "strtab":
			cfg.Strtab = s
		case "indexPath":
			cfg.IndexPath = s
		}
	}

	if cfg.PackageDb == "" {
		return nil, fmt.Errorf("%s: packageDb: %w", path, ErrMissingProperty)
	}
	if cfg.Strtab == "" {
		return nil, fmt.Errorf("%s: strtab: %w", path, ErrMissingProperty)
	}
	if cfg.IndexPath == "" {
		return nil, fmt.Errorf("%s: indexPath: %w", path, ErrMissingProperty)
	}
	return cfg, nil
}

// ParsePackageConfig reads and parses a single package description file
// at path.
func ParsePackageConfig(path string) (*Descriptor, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := parseFile(path, string(src))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(f.Blocks) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyFile)
	}
	if len(f.Blocks) > 1 {
		return nil, fmt.Errorf("%s: %w", path, ErrMultipleBlocks)
	}

	b := f.Blocks[0]
	if b.Type != "package" {
		return nil, fmt.Errorf("%s: %q: %w", path, b.Type, ErrUnknownBlock)
	}
	if b.Name == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrMissingBlockName)
	}

	desc := &Descriptor{ID: *b.Name}
	for _, p := range b.Props {
		switch p.Name {
		case "description":
			s, err := requireOneString(path, p)
			if err != nil {
				return nil, err
			}
			desc.Description = s
		case "prefix":
			s, err := requireOneString(path, p)
			if err != nil {
				return nil, err
			}
			desc.Prefix = s
		case "isDependency":
			b, err := requireOneBool(path, p)
			if err != nil {
				return nil, err
			}
			desc.IsDependency = b
		case "dependencies":
			for _, v := range p.Values {
				if v.Ident == nil {
					return nil, fmt.Errorf("%s: %s: %w", path, p.Name, ErrPropertyType)
				}
				desc.Dependencies = append(desc.Dependencies, *v.Ident)
			}
		}
	}
	return desc, nil
}

func requireOneString(path string, p *property) (string, error) {
	if len(p.Values) != 1 {
		return "", fmt.Errorf("%s: %s: %w", path, p.Name, ErrPropertyArity)
	}
	if p.Values[0].Str == nil {
		return "", fmt.Errorf("%s: %s: %w", path, p.Name, ErrPropertyType)
	}
	return *p.Values[0].Str, nil
}

func requireOneBool(path string, p *property) (bool, error) {
	if len(p.Values) != 1 {
		return false, fmt.Errorf("%s: %s: %w", path, p.Name, ErrPropertyArity)
	}
	if p.Values[0].Ident == nil {
		return false, fmt.Errorf("%s: %s: %w", path, p.Name, ErrPropertyType)
	}
	switch *p.Values[0].Ident {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("%s: %s: %w", path, p.Name, ErrPropertyType)
	}
}
