// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package delta

import (
	"errors"
	"fmt"
)

// Sentinel errors for structural delta validation (spec.md §4.1,
// InvalidDelta error class). These are raised only by Validate and are
// never propagated across the federation wire protocol.
var (
	ErrEmptyID            = errors.New("delta: id must not be empty")
	ErrInvalidTimestamp   = errors.New("delta: timestamp must be a positive integer")
	ErrEmptyAuthor        = errors.New("delta: author must not be empty")
	ErrEmptySystem        = errors.New("delta: system must not be empty")
	ErrEmptyLocalContext  = errors.New("delta: pointer local_context must not be empty")
	ErrEmptyTargetContext = errors.New("delta: pointer target_context must not be empty when present")
	ErrInvalidTarget      = errors.New("delta: pointer target must be an entity reference or a string/number/bool primitive")
)

// ValidationError reports a structural validation failure for a specific
// delta, optionally pinned to a pointer index.
type ValidationError struct {
	DeltaID      string
	PointerIndex int // -1 if the failure is not pointer-specific
	Err          error
}

func (e *ValidationError) Error() string {
	if e.PointerIndex >= 0 {
		return fmt.Sprintf("invalid delta %q, pointer[%d]: %v", e.DeltaID, e.PointerIndex, e.Err)
	}
	return fmt.Sprintf("invalid delta %q: %v", e.DeltaID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
