// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package delta defines the immutable assertion unit of rhizomedb: a
// timestamped, authored Delta carrying an ordered list of typed Pointers.
package delta

import (
	"encoding/json"
	"fmt"
)

// LocalContextNegates is the reserved local_context that marks a Pointer
// as a negation of the delta identified by its EntityReference target.
const LocalContextNegates = "negates"

// Delta is an immutable, timestamped, authored assertion. Once persisted,
// no field of a Delta may be changed; logical removal happens only via a
// negating Delta (see Pointer / LocalContextNegates).
type Delta struct {
	ID        string    `json:"id"`
	Timestamp int64     `json:"timestamp"`
	Author    string    `json:"author"`
	System    string    `json:"system"`
	Pointers  []Pointer `json:"pointers"`
}

// Pointer is an element of a Delta's pointer list. It plays a named role
// (LocalContext) toward a Target, and may additionally be assigned to a
// named property (TargetContext) on the target entity's projection.
type Pointer struct {
	LocalContext string `json:"local_context"`
	Target       Target `json:"target"`

	// TargetContext names the property this pointer should appear under
	// when the target entity is projected. Nil means unassigned: the
	// delta is still relevant to its target entity (indexed, queryable)
	// but omitted from the standard projection. See DESIGN.md "orphaned
	// pointers" for the preserved-but-undecided behavior this models.
	TargetContext *string `json:"target_context,omitempty"`
}

// NegatesID reports whether this pointer negates the delta with the given
// id: local_context must be "negates" and the target must be an
// EntityReference equal to id.
func (p Pointer) NegatesID(id string) bool {
	return p.LocalContext == LocalContextNegates && p.Target.IsEntity() && p.Target.EntityID == id
}

// TargetKind distinguishes the two shapes a Pointer's Target may take.
type TargetKind int

const (
	// KindEntity is a reference to another domain entity by id.
	KindEntity TargetKind = iota
	// KindPrimitive carries a literal string, finite number, or boolean.
	KindPrimitive
)

// Target is the tagged union described in spec.md §3: either an
// EntityReference ({ "id": "..." }) or a Primitive JSON scalar.
type Target struct {
	Kind     TargetKind
	EntityID string // valid when Kind == KindEntity
	Value    any    // valid when Kind == KindPrimitive: string, float64, or bool
}

// EntityRef constructs an EntityReference target.
func EntityRef(id string) Target {
	return Target{Kind: KindEntity, EntityID: id}
}

// Primitive constructs a Primitive target. v must be a string, float64
// (or float32, int, int32, int64), or bool; other types are rejected by
// Validate.
func Primitive(v any) Target {
	return Target{Kind: KindPrimitive, Value: v}
}

// IsEntity reports whether the target is an EntityReference.
func (t Target) IsEntity() bool { return t.Kind == KindEntity }

// IsPrimitive reports whether the target carries a primitive value.
func (t Target) IsPrimitive() bool { return t.Kind == KindPrimitive }

type entityWire struct {
	ID string `json:"id"`
}

// MarshalJSON encodes an EntityReference as {"id": "..."} and a Primitive
// as its bare JSON scalar.
func (t Target) MarshalJSON() ([]byte, error) {
	if t.Kind == KindEntity {
		return json.Marshal(entityWire{ID: t.EntityID})
	}
	return json.Marshal(t.Value)
}

// UnmarshalJSON decodes either shape: an object with an "id" field becomes
// an EntityReference, anything else (string/number/bool/null) becomes a
// Primitive.
func (t *Target) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err == nil {
		if idRaw, ok := probe["id"]; ok {
			var id string
			if err := json.Unmarshal(idRaw, &id); err != nil {
				return fmt.Errorf("decoding entity reference id: %w", err)
			}
			*t = EntityRef(id)
			return nil
		}
	}

	var scalar any
	if err := json.Unmarshal(data, &scalar); err != nil {
		return fmt.Errorf("decoding pointer target: %w", err)
	}
	*t = Primitive(scalar)
	return nil
}
