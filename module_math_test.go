// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMathOpEvaluatesExpression(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)

	require.NoError(t, cmdMathOp(context.Background(), w, "N = 2 + 3 * 4", NewArena()))
	v, ok := w.Scope.Get("N")
	require.True(t, ok)
	assert.Equal(t, "14", v.Str)
}

func TestMathOpSubstitutesOperands(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)
	w.Scope.Set("X", StringValue("10"))

	require.NoError(t, cmdMathOp(context.Background(), w, "N = $X / 2", NewArena()))
	v, _ := w.Scope.Get("N")
	assert.Equal(t, "5", v.Str)
}

func TestMathOpRejectsBadAssignment(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)
	err := cmdMathOp(context.Background(), w, "not-an-assignment", NewArena())
	assert.Error(t, err)
}

func TestMathOpRejectsDivisionByZero(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)
	err := cmdMathOp(context.Background(), w, "N = 1 / 0", NewArena())
	assert.Error(t, err)
}

func TestMathRandStaysWithinBounds(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)

	for i := 0; i < 50; i++ {
		require.NoError(t, cmdMathRand(context.Background(), w, "N = 5 5", NewArena()))
		v, ok := w.Scope.Get("N")
		require.True(t, ok)
		n, err := strconv.Atoi(v.Str)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	}

	require.NoError(t, cmdMathRand(context.Background(), w, "N = 1 3", NewArena()))
	v, _ := w.Scope.Get("N")
	n, err := strconv.Atoi(v.Str)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 3)
}

func TestMathRandRejectsMaxLessThanMin(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)
	err := cmdMathRand(context.Background(), w, "N = 10 1", NewArena())
	assert.Error(t, err)
}

func TestMathRandRejectsBadAssignment(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)
	err := cmdMathRand(context.Background(), w, "not-an-assignment", NewArena())
	assert.Error(t, err)
}

func TestRandLinksToMathRand(t *testing.T) {
	gc := newTestGlobal()
	cmd, ok := gc.Registry.Lookup("_RAND", []string{DefaultModule})
	require.True(t, ok)
	assert.True(t, cmd.Flags.Has(FlagLink))
	assert.Equal(t, "_MATH:RAND", cmd.Syntax)
}
