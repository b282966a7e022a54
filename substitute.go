// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import "strings"

// Substitute walks $NAME and ${NAME} forms in text, resolving each
// through scope's lookup chain. An unresolved name is left literal, per
// spec.md §4.2: "an unresolved name is left literal."
//
// Variable substitution happens inside command handlers, not during
// dispatch, because some commands (e.g. a MATCH pattern) need raw,
// unsubstituted text; callers decide when to call Substitute.
func Substitute(scope *Scope, text string) string {
	var out strings.Builder
	i := 0
	for i < len(text) {
		c := text[i]
		if c != '$' || i+1 >= len(text) {
			out.WriteByte(c)
			i++
			continue
		}

		// ${NAME}
		if text[i+1] == '{' {
			end := strings.IndexByte(text[i+2:], '}')
			if end < 0 {
				out.WriteByte(c)
				i++
				continue
			}
			name := text[i+2 : i+2+end]
			if v, ok := scope.Get(name); ok {
				out.WriteString(v.Str)
			} else {
				out.WriteString("${" + name + "}")
			}
			i += 2 + end + 1
			continue
		}

		// $NAME
		j := i + 1
		for j < len(text) && isNameByte(text[j]) {
			j++
		}
		if j == i+1 {
			// lone '$' not followed by a name byte: literal
			out.WriteByte(c)
			i++
			continue
		}
		name := text[i+1 : j]
		if v, ok := scope.Get(name); ok {
			out.WriteString(v.Str)
		} else {
			out.WriteString("$" + name)
		}
		i = j
	}
	return out.String()
}

func isNameByte(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9', b == '_', b == '.', b == '-':
		return true
	default:
		return false
	}
}
