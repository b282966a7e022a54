// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"context"
	"math/rand/v2"
	"strconv"
	"strings"
)

// RegisterMathModule installs the MATH compatibility module, grounded on
// the two MATH operations httest.c LINKs a bare command to (httest.c:410-411:
// "_OP" -> "_MATH:OP", "_RAND" -> "_MATH:RAND"; no math_module.c exists in
// original_source/, only these LINK rows, so RAND's exact value range is
// this module's own call): OP evaluates an expression via the hand-written
// [EvalExpr] evaluator (see expr.go for why this is the one stdlib-only
// exception in the registry); RAND draws a pseudo-random integer, using
// stdlib math/rand/v2 since no RNG library appears anywhere in the pack.
func RegisterMathModule(gc *GlobalContext) {
	gc.Registry.Register(&Command{
		Module:  "_MATH",
		Name:    "OP",
		Syntax:  `_MATH:OP VAR = <expr>`,
		Help:    "evaluate an arithmetic/boolean expression into VAR",
		Handler: cmdMathOp,
	})
	gc.Registry.Register(&Command{
		Module:  "_MATH",
		Name:    "RAND",
		Syntax:  `_MATH:RAND VAR = MIN MAX`,
		Help:    "draw a random integer in [MIN, MAX] into VAR",
		Handler: cmdMathRand,
	})
}

func cmdMathOp(ctx context.Context, w *Worker, args string, arena *Arena) error {
	text := substituted(w, args)
	name, expr, ok := strings.Cut(text, "=")
	name = strings.TrimSpace(name)
	if !ok || !ValidVariableName(name) {
		return NewStatusError(KindParse, Origin{}, "_MATH:OP", "bad assignment: "+args)
	}

	v, err := EvalExpr(strings.TrimSpace(expr))
	if err != nil {
		return NewStatusError(KindParse, Origin{}, "_MATH:OP", err.Error())
	}

	out := strconv.FormatFloat(v, 'g', -1, 64)
	w.Scope.Set(name, StringValue(out))
	return nil
}

func cmdMathRand(ctx context.Context, w *Worker, args string, arena *Arena) error {
	text := substituted(w, args)
	name, bounds, ok := strings.Cut(text, "=")
	name = strings.TrimSpace(name)
	if !ok || !ValidVariableName(name) {
		return NewStatusError(KindParse, Origin{}, "_MATH:RAND", "bad assignment: "+args)
	}

	fields := strings.Fields(bounds)
	if len(fields) != 2 {
		return NewStatusError(KindParse, Origin{}, "_MATH:RAND", "want VAR = MIN MAX, got: "+args)
	}
	min, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return NewStatusError(KindParse, Origin{}, "_MATH:RAND", "bad MIN: "+err.Error())
	}
	max, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return NewStatusError(KindParse, Origin{}, "_MATH:RAND", "bad MAX: "+err.Error())
	}
	if max < min {
		return NewStatusError(KindParse, Origin{}, "_MATH:RAND", "MAX must be >= MIN")
	}

	n := min + rand.Int64N(max-min+1)
	w.Scope.Set(name, StringValue(strconv.FormatInt(n, 10)))
	return nil
}
