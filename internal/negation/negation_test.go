// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package negation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rhizomedb/rhizomedb/internal/delta"
)

func negates(id string, author string, ts int64, target string) delta.Delta {
	return delta.Delta{
		ID: id, Timestamp: ts, Author: author, System: "sys",
		Pointers: []delta.Pointer{{LocalContext: delta.LocalContextNegates, Target: delta.EntityRef(target)}},
	}
}

func TestEffectiveSet_NoNegations(t *testing.T) {
	log := []delta.Delta{
		{ID: "d1", Timestamp: 1, Author: "a", System: "s"},
	}
	set := EffectiveSet(log, nil)
	assert.Empty(t, set)
}

func TestEffectiveSet_SingleNegation(t *testing.T) {
	log := []delta.Delta{
		{ID: "d1", Timestamp: 1, Author: "a", System: "s"},
		negates("n1", "a", 2, "d1"),
	}
	set := EffectiveSet(log, nil)
	assert.True(t, set["d1"])
	assert.False(t, set["n1"])
}

func TestEffectiveSet_DoubleNegationReasserts(t *testing.T) {
	log := []delta.Delta{
		{ID: "d1", Timestamp: 1, Author: "a", System: "s"},
		negates("n1", "a", 2, "d1"),
		negates("n2", "a", 3, "n1"),
	}
	set := EffectiveSet(log, nil)
	assert.False(t, set["d1"], "double negation should re-assert d1")
	assert.True(t, set["n1"])
	assert.False(t, set["n2"])
}

func TestEffectiveSet_TripleNegationStaysNegated(t *testing.T) {
	log := []delta.Delta{
		{ID: "d1", Timestamp: 1, Author: "a", System: "s"},
		negates("n1", "a", 2, "d1"),
		negates("n2", "a", 3, "n1"),
		negates("n3", "a", 4, "n2"),
	}
	set := EffectiveSet(log, nil)
	assert.True(t, set["d1"])
}

func TestEffectiveSet_AsOfTsExcludesLaterNegations(t *testing.T) {
	log := []delta.Delta{
		{ID: "d1", Timestamp: 1, Author: "a", System: "s"},
		negates("n1", "a", 100, "d1"),
	}
	asOf := int64(50)
	set := EffectiveSet(log, &asOf)
	assert.False(t, set["d1"])
}

func TestIsNegated(t *testing.T) {
	log := []delta.Delta{
		{ID: "d1", Timestamp: 1, Author: "a", System: "s"},
		negates("n1", "a", 2, "d1"),
	}
	assert.True(t, IsNegated(log, nil, "d1"))
	assert.False(t, IsNegated(log, nil, "n1"))
}
