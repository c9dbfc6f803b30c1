// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve turns a HyperView into a flat View by applying, per
// output property, a ViewSchema's conflict-resolution strategy to the
// competing deltas a projection may hold for that property (spec.md
// §4.8). The resolver is pure and idempotent: the same HyperView and
// ViewSchema always produce the same View.
package resolve

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rhizomedb/rhizomedb/internal/delta"
	"github.com/rhizomedb/rhizomedb/internal/hyperview"
)

// Strategy names a conflict-resolution strategy for competing deltas on
// one property.
type Strategy int

const (
	// MostRecent picks the delta with the greatest timestamp.
	MostRecent Strategy = iota
	// FirstWrite picks the delta with the smallest timestamp.
	FirstWrite
	// TrustedAuthor picks the most recent delta of the highest-priority
	// author in TrustedAuthors that has any delta, falling back to
	// MostRecent.
	TrustedAuthor
	// TrustedSystem picks the most recent delta of the highest-priority
	// system in TrustedSystems that has any delta, falling back to
	// MostRecent.
	TrustedSystem
	// Majority groups deltas by pointer-set equality and picks the
	// largest group's most recent delta; equal-sized groups are
	// tie-broken by the lexicographically smallest group key.
	Majority
	// Min returns the minimum numeric pointer target across all
	// competing deltas, short-circuiting Extract.
	Min
	// Max returns the maximum numeric pointer target across all
	// competing deltas, short-circuiting Extract.
	Max
	// Mean returns the arithmetic mean of the numeric pointer targets
	// across all competing deltas, short-circuiting Extract.
	Mean
	// AllValues returns every competing delta's extracted value, in
	// the HyperView's original order.
	AllValues
	// Custom delegates winner selection to PropertyRule.Resolve.
	Custom
)

// ErrNoCandidates reports a property rule whose source property has no
// deltas in the HyperView. Resolve does not return it: such a property is
// left out of the View.
var ErrNoCandidates = errors.New("resolve: no candidate deltas for property")

// ExtractFunc pulls a property's value out of a winning delta. The
// default extractor returns the value of the delta's first primitive
// pointer target.
type ExtractFunc func(hyperview.ProjectedDelta) (any, bool)

// ResolveFunc is the winner-selection function for Strategy == Custom.
type ResolveFunc func([]hyperview.ProjectedDelta) []hyperview.ProjectedDelta

// PropertyRule describes how one output property is derived from a
// HyperView source property.
type PropertyRule struct {
	SourceProperty string
	Strategy       Strategy
	TrustedAuthors []string // priority order, for Strategy == TrustedAuthor
	TrustedSystems []string // priority order, for Strategy == TrustedSystem
	Extract        ExtractFunc
	Resolve        ResolveFunc // required when Strategy == Custom
}

// ViewSchema maps output property names to the rule that produces them.
type ViewSchema struct {
	Properties map[string]PropertyRule
}

// View is a flat, conflict-resolved projection: output property name to
// resolved value (or []any for AllValues).
type View struct {
	ID     string
	Values map[string]any
}

// Resolve applies vs to hv, producing a flat View.
func Resolve(hv *hyperview.View, vs ViewSchema) (*View, error) {
	view := &View{ID: hv.ID, Values: make(map[string]any, len(vs.Properties))}

	for outProp, rule := range vs.Properties {
		candidates := hv.Properties[rule.SourceProperty]
		if len(candidates) == 0 {
			continue
		}

		if rule.Strategy == Min || rule.Strategy == Max || rule.Strategy == Mean {
			value, ok := aggregateNumeric(candidates, rule.Strategy)
			if !ok {
				continue
			}
			view.Values[outProp] = value
			continue
		}

		winners, err := selectWinners(candidates, rule)
		if err != nil {
			return nil, fmt.Errorf("resolve: property %q: %w", outProp, err)
		}
		if len(winners) == 0 {
			continue
		}

		extract := rule.Extract
		if extract == nil {
			extract = defaultExtract
		}

		if rule.Strategy == AllValues {
			values := make([]any, 0, len(winners))
			for _, pd := range winners {
				if v, ok := extract(pd); ok {
					values = append(values, v)
				}
			}
			view.Values[outProp] = values
			continue
		}

		if v, ok := extract(winners[0]); ok {
			view.Values[outProp] = v
		}
	}

	return view, nil
}

func selectWinners(candidates []hyperview.ProjectedDelta, rule PropertyRule) ([]hyperview.ProjectedDelta, error) {
	switch rule.Strategy {
	case MostRecent:
		return []hyperview.ProjectedDelta{mostRecent(candidates)}, nil
	case FirstWrite:
		return []hyperview.ProjectedDelta{firstWrite(candidates)}, nil
	case TrustedAuthor:
		if pd, ok := byTrustedField(candidates, rule.TrustedAuthors, func(pd hyperview.ProjectedDelta) string { return pd.Delta.Author }); ok {
			return []hyperview.ProjectedDelta{pd}, nil
		}
		return []hyperview.ProjectedDelta{mostRecent(candidates)}, nil
	case TrustedSystem:
		if pd, ok := byTrustedField(candidates, rule.TrustedSystems, func(pd hyperview.ProjectedDelta) string { return pd.Delta.System }); ok {
			return []hyperview.ProjectedDelta{pd}, nil
		}
		return []hyperview.ProjectedDelta{mostRecent(candidates)}, nil
	case Majority:
		return []hyperview.ProjectedDelta{majority(candidates)}, nil
	case AllValues:
		return candidates, nil
	case Custom:
		if rule.Resolve == nil {
			return nil, errors.New("Strategy == Custom requires Resolve")
		}
		return rule.Resolve(candidates), nil
	default:
		return nil, fmt.Errorf("unknown strategy %d", rule.Strategy)
	}
}

func mostRecent(candidates []hyperview.ProjectedDelta) hyperview.ProjectedDelta {
	best := candidates[0]
	for _, pd := range candidates[1:] {
		if pd.Delta.Timestamp > best.Delta.Timestamp {
			best = pd
		}
	}
	return best
}

func firstWrite(candidates []hyperview.ProjectedDelta) hyperview.ProjectedDelta {
	best := candidates[0]
	for _, pd := range candidates[1:] {
		if pd.Delta.Timestamp < best.Delta.Timestamp {
			best = pd
		}
	}
	return best
}

func byTrustedField(candidates []hyperview.ProjectedDelta, priority []string, field func(hyperview.ProjectedDelta) string) (hyperview.ProjectedDelta, bool) {
	for _, want := range priority {
		var (
			best  hyperview.ProjectedDelta
			found bool
		)
		for _, pd := range candidates {
			if field(pd) != want {
				continue
			}
			if !found || pd.Delta.Timestamp > best.Delta.Timestamp {
				best = pd
				found = true
			}
		}
		if found {
			return best, true
		}
	}
	return hyperview.ProjectedDelta{}, false
}

// majority groups candidates by pointer-set equality and returns the
// largest group's most recent delta, tie-broken lexicographically on the
// group's canonical key for determinism.
func majority(candidates []hyperview.ProjectedDelta) hyperview.ProjectedDelta {
	groups := make(map[string][]hyperview.ProjectedDelta)
	var keys []string
	for _, pd := range candidates {
		key := pointerSetKey(pd.Delta.Pointers)
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], pd)
	}
	sort.Strings(keys)

	var bestKey string
	bestSize := -1
	for _, key := range keys {
		if size := len(groups[key]); size > bestSize {
			bestSize = size
			bestKey = key
		}
	}
	return mostRecent(groups[bestKey])
}

func pointerSetKey(pointers []delta.Pointer) string {
	keys := make([]string, 0, len(pointers))
	for _, p := range pointers {
		tc := ""
		if p.TargetContext != nil {
			tc = *p.TargetContext
		}
		if p.Target.IsEntity() {
			keys = append(keys, fmt.Sprintf("%s|e:%s|%s", p.LocalContext, p.Target.EntityID, tc))
		} else {
			keys = append(keys, fmt.Sprintf("%s|p:%v|%s", p.LocalContext, p.Target.Value, tc))
		}
	}
	sort.Strings(keys)
	return fmt.Sprintf("%v", keys)
}

func aggregateNumeric(candidates []hyperview.ProjectedDelta, strategy Strategy) (float64, bool) {
	var (
		sum   float64
		count int
		min   float64
		max   float64
	)
	for _, pd := range candidates {
		for _, p := range pd.Delta.Pointers {
			if !p.Target.IsPrimitive() {
				continue
			}
			n, ok := numericValue(p.Target.Value)
			if !ok {
				continue
			}
			if count == 0 {
				min, max = n, n
			} else {
				if n < min {
					min = n
				}
				if n > max {
					max = n
				}
			}
			sum += n
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	switch strategy {
	case Min:
		return min, true
	case Max:
		return max, true
	case Mean:
		return sum / float64(count), true
	default:
		return 0, false
	}
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func defaultExtract(pd hyperview.ProjectedDelta) (any, bool) {
	for _, p := range pd.Delta.Pointers {
		if p.Target.IsPrimitive() {
			return p.Target.Value, true
		}
	}
	return nil, false
}
