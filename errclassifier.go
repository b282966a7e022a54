// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import "github.com/bassosimone/errclass"

// ErrClassifier classifies errors into categorical strings for the
// __ERROR/__STATUS variables and for structured logging.
//
// Implementations map errors to short, descriptive labels (e.g., "ETIMEDOUT",
// "ECONNRESET") that facilitate systematic analysis of script failures.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the [ErrClassifier] interface.
type ErrClassifierFunc func(error) string

var _ ErrClassifier = ErrClassifierFunc(nil)

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string {
	return f(err)
}

// DefaultErrClassifier classifies errors using [errclass.New], which maps
// common network errors (ECONNRESET, ETIMEDOUT, ...) to short labels.
// A nil error classifies to the empty string.
var DefaultErrClassifier = ErrClassifierFunc(func(err error) string {
	if err == nil {
		return ""
	}
	return errclass.New(err)
})
