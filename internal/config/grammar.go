// Copyright 2026 The nnpkg Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package config

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// configLexer tokenizes the block/property grammar shared by the main
// configuration file and package description files.
var configLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "String", Pattern: `"(\\.|[^"])*"`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_-]*`},
	{Name: "Punct", Pattern: `[{}=,;]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

// value is either a quoted string or a bare identifier (used for
// booleans and dependency names, which carry no quotes in the source
// grammar).
type value struct {
	Str   *string `@String`
	Ident *string `| @Ident`
}

// property is a single `name = value (, value)* ;` line inside a block.
type property struct {
	Name   string   `@Ident "="`
	Values []*value `@@ ("," @@)* ";"`
}

// block is a `type [name] { property* }` group. Name is absent for the
// unnamed `settings` block.
type block struct {
	Type  string      `@Ident`
	Name  *string     `@Ident?`
	Props []*property `"{" @@* "}"`
}

// file is the top-level parse tree: an unordered sequence of blocks.
type file struct {
	Blocks []*block `@@*`
}

var parser = participle.MustBuild[file](
	participle.Lexer(configLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.Unquote("String"),
)

func parseFile(name, input string) (*file, error) {
	return parser.ParseString(name, input)
}
