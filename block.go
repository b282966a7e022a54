// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import "strings"

// Block is a named, reusable worker invoked by _CALL; it lives in a
// module namespace, per spec.md §3 "Block".
type Block struct {
	Name   string
	Module string
	Worker *Worker
}

// ModuleTable maps module name to the blocks declared in that namespace,
// per spec.md §3 "Blocks live in a namespace (module)".
type ModuleTable struct {
	modules map[string]map[string]*Block
}

// NewModuleTable returns a table pre-seeded with the [DefaultModule] namespace.
func NewModuleTable() *ModuleTable {
	t := &ModuleTable{modules: map[string]map[string]*Block{}}
	t.modules[DefaultModule] = map[string]*Block{}
	return t
}

// Declare registers a block in the named module, creating the namespace
// on first use (MODULE itself is just bookkeeping in the assembler; a
// module "exists" here as soon as it has a block).
func (t *ModuleTable) Declare(module string, b *Block) {
	if _, ok := t.modules[module]; !ok {
		t.modules[module] = map[string]*Block{}
	}
	t.modules[module][b.Name] = b
}

// Resolve looks up name, first in the qualified "Module:NAME" form if
// present, otherwise by searching useModule then [DefaultModule], per
// spec.md §3: "unqualified calls search the current _USEd module, then
// DEFAULT; qualified calls use Module:NAME."
func (t *ModuleTable) Resolve(name, useModule string) (*Block, bool) {
	if module, bare, ok := strings.Cut(name, ":"); ok {
		if blocks, exists := t.modules[module]; exists {
			if b, found := blocks[bare]; found {
				return b, true
			}
		}
		return nil, false
	}

	if useModule != "" && useModule != DefaultModule {
		if blocks, exists := t.modules[useModule]; exists {
			if b, found := blocks[name]; found {
				return b, true
			}
		}
	}
	if blocks, exists := t.modules[DefaultModule]; exists {
		if b, found := blocks[name]; found {
			return b, true
		}
	}
	return nil, false
}

// ParseSignature splits a BLOCK header's argument list "arg1 arg2 : ret1
// ret2" into params and return-variable names. Either side may be empty,
// per spec.md §4.1.
func ParseSignature(rest string) (params, retvars []string) {
	before, after, hasColon := strings.Cut(rest, ":")
	params = splitFields(before)
	if hasColon {
		retvars = splitFields(after)
	}
	return
}

func splitFields(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
