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

import "math"

// Validate checks the structural invariants of a Delta (spec.md §4.1).
// Validation is structural only: it never consults a HyperSchema or the
// schema registry, and a well-formed delta is always accepted regardless
// of whether any schema can make sense of it.
func Validate(d Delta) error {
	if d.ID == "" {
		return &ValidationError{DeltaID: d.ID, PointerIndex: -1, Err: ErrEmptyID}
	}
	if d.Timestamp <= 0 {
		return &ValidationError{DeltaID: d.ID, PointerIndex: -1, Err: ErrInvalidTimestamp}
	}
	if d.Author == "" {
		return &ValidationError{DeltaID: d.ID, PointerIndex: -1, Err: ErrEmptyAuthor}
	}
	if d.System == "" {
		return &ValidationError{DeltaID: d.ID, PointerIndex: -1, Err: ErrEmptySystem}
	}

	for i, p := range d.Pointers {
		if err := validatePointer(p); err != nil {
			return &ValidationError{DeltaID: d.ID, PointerIndex: i, Err: err}
		}
	}
	return nil
}

func validatePointer(p Pointer) error {
	if p.LocalContext == "" {
		return ErrEmptyLocalContext
	}
	if p.TargetContext != nil && *p.TargetContext == "" {
		return ErrEmptyTargetContext
	}
	return validateTarget(p.Target)
}

func validateTarget(t Target) error {
	switch t.Kind {
	case KindEntity:
		if t.EntityID == "" {
			return ErrInvalidTarget
		}
		return nil
	case KindPrimitive:
		switch v := t.Value.(type) {
		case string, bool:
			return nil
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return ErrInvalidTarget
			}
			return nil
		case float32, int, int32, int64:
			return nil
		default:
			return ErrInvalidTarget
		}
	default:
		return ErrInvalidTarget
	}
}
