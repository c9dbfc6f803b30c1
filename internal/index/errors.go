// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index maintains the secondary indexes over the delta log — by
// target id, target context, author, system, and timestamp — and a
// candidate-set planner that narrows a DeltaFilter to an indexed id set
// when possible.
//
// # Ownership Model
//
// The index stores delta ids, not deltas themselves: the delta log
// (internal/storage) remains the single source of truth for payloads.
//
// # Thread Safety
//
// Set is safe for concurrent use. Add and Remove take an exclusive lock;
// CandidateIDs takes a shared lock.
package index

import "errors"

// ErrUnknownDelta names a delta id that was never added. Remove does not
// return it: removing an unknown delta is a no-op.
var ErrUnknownDelta = errors.New("index: unknown delta id")
