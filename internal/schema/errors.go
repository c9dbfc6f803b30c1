// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyID is returned by Register when a schema has no id.
var ErrEmptyID = errors.New("schema: id must not be empty")

// ErrUnknownSchema is returned when a schema id has no registry entry.
var ErrUnknownSchema = errors.New("schema: unknown schema id")

// CircularSchemaError reports a cycle found in the transformation graph
// during DAG-validated registration (spec.md §4.6/§4.11).
type CircularSchemaError struct {
	Cycle []string // schema ids in cycle order, repeating the start id
}

func NewCircularSchemaError(cycle []string) *CircularSchemaError {
	return &CircularSchemaError{Cycle: cycle}
}

func (e *CircularSchemaError) Error() string {
	return fmt.Sprintf("schema: circular transformation graph: %s", strings.Join(e.Cycle, " -> "))
}
