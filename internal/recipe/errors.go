// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

package recipe

import "fmt"

// ValidationError reports a structurally invalid recipe or vector. It
// surfaces to the caller with a specific reason so the input can be
// corrected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid recipe: " + e.Reason
	}
	return fmt.Sprintf("invalid recipe: %s: %s", e.Field, e.Reason)
}

// newValidationError builds a ValidationError with a formatted reason.
func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
