// SPDX-License-Identifier: GPL-3.0-or-later

package httest

// Kind tags the optional typed variant a [Value] carries.
//
// Every value is fundamentally a string; Kind only changes how a handler
// is allowed to interpret it. See spec.md §3 "Value".
type Kind int

const (
	// KindString is the default: an ordinary string value.
	KindString Kind = iota

	// KindFunc tags a value as a reference to a compiled [*Block] plus
	// its captured context (a closure), built by [FuncValue].
	KindFunc

	// KindList tags a value as space-separated tokens, built by [ListValue].
	KindList
)

// Value is a named, typed entry in a [Scope].
type Value struct {
	// Str is the string representation; always populated, even for
	// KindFunc and KindList, so that substitution never needs a type switch.
	Str string

	// Kind records the optional typed variant.
	Kind Kind

	// Block is non-nil when Kind == KindFunc: the closure this value refers to.
	Block *Block
}

// StringValue wraps a plain string as a [Value].
func StringValue(s string) Value {
	return Value{Str: s, Kind: KindString}
}

// ListValue wraps space-separated tokens as a [Value] with Kind KindList.
func ListValue(tokens []string) Value {
	return Value{Str: joinTokens(tokens), Kind: KindList}
}

// FuncValue wraps a block reference as a [Value] with Kind KindFunc.
func FuncValue(b *Block) Value {
	return Value{Str: b.Name, Kind: KindFunc, Block: b}
}

func joinTokens(tokens []string) string {
	out := ""
	for i, t := range tokens {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}
