// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"strings"
	"sync"
)

// DefaultModule is the reserved implicit module namespace. It may not be
// declared again via "MODULE DEFAULT" (spec.md §4.1).
const DefaultModule = "DEFAULT"

// CommandRegistry is the append-only, module-keyed command table spec.md
// §4.3 describes. Commands are contributed by built-in and compatibility
// modules during initialization and are immutable once [*Fabric.Go] runs
// (spec.md §9 "Hook chains ... Register during initialization only;
// freeze before GO" applies equally to the command registry).
type CommandRegistry struct {
	mu       sync.RWMutex
	all      []*Command // insertion order, used by -L / -C
	byModule map[string]map[string]*Command
}

// NewCommandRegistry returns an empty [*CommandRegistry].
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{byModule: map[string]map[string]*Command{}}
}

// Register adds cmd to the registry. Calling Register with the same
// (Module, Name) pair twice replaces the earlier entry in place (used by
// modules that redefine a LINK target) without disturbing the insertion
// order used for listings.
func (r *CommandRegistry) Register(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byModule[cmd.Module]; !ok {
		r.byModule[cmd.Module] = map[string]*Command{}
	}
	if _, exists := r.byModule[cmd.Module][cmd.Name]; !exists {
		r.all = append(r.all, cmd)
	} else {
		for i, c := range r.all {
			if c.Module == cmd.Module && c.Name == cmd.Name {
				r.all[i] = cmd
				break
			}
		}
	}
	r.byModule[cmd.Module][cmd.Name] = cmd
}

// All returns every registered command in registration order, used by the
// -L command-line flag to list all commands.
func (r *CommandRegistry) All() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Command, len(r.all))
	copy(out, r.all)
	return out
}

// Lookup resolves the first token of a script line against the module
// search path: an explicit "Module:NAME" qualifies the module directly;
// otherwise searchPath (typically [currentModule, DefaultModule]) is
// tried in order. Within a module, resolution is longest-prefix match
// against token, so "_LOG_LEVEL_SET" wins over "_LOG_LEVEL" per spec.md
// §4.3.
func (r *CommandRegistry) Lookup(token string, searchPath []string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if module, name, ok := strings.Cut(token, ":"); ok {
		if cmds, exists := r.byModule[module]; exists {
			if best := longestPrefixMatch(cmds, name); best != nil {
				return best, true
			}
		}
		return nil, false
	}

	for _, module := range searchPath {
		cmds, exists := r.byModule[module]
		if !exists {
			continue
		}
		if best := longestPrefixMatch(cmds, token); best != nil {
			return best, true
		}
	}
	return nil, false
}

func longestPrefixMatch(cmds map[string]*Command, token string) *Command {
	var best *Command
	for name, cmd := range cmds {
		if strings.HasPrefix(token, name) && (best == nil || len(name) > len(best.Name)) {
			best = cmd
		}
	}
	return best
}
