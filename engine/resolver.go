package engine

import (
	"fmt"
	"strconv"
)

// resolveVariable resolves one declarative variable spec against the
// input and the variables resolved so far, returning the value and a
// human-readable account of where it came from. Resolution order
// across a rule's variables is declaration order; a variable may
// reference any variable declared before it, never after.
func resolveVariable(spec *VariableSpec, input, resolved map[string]any, ev *Evaluator) (any, string, error) {
	switch spec.Type {
	case "mapping":
		raw, found := lookupField(spec.Input, input, resolved)
		if found && raw != nil {
			key := mapKey(raw)
			if v, ok := spec.Map[key]; ok {
				return normalizeValue(v), fmt.Sprintf("mapped from %s = %s", spec.Input, key), nil
			}
		}
		return normalizeValue(spec.Default), fmt.Sprintf("default (no mapping for %s)", spec.Input), nil

	case "lookup_table":
		raw, found := lookupField(spec.Input, input, resolved)
		if found {
			if num, ok := toFloat64(raw); ok {
				// First containing range wins; declaration order is
				// load-bearing and ranges are never sorted.
				for _, r := range spec.Table {
					if r.Min != nil && num < *r.Min {
						continue
					}
					if r.Max != nil && num >= *r.Max {
						continue
					}
					return normalizeValue(r.Value), fmt.Sprintf("%s = %s fell in range %s", spec.Input, formatValue(num), rangeLabel(r)), nil
				}
			}
		}
		return normalizeValue(spec.Default), fmt.Sprintf("default (no range matched %s)", spec.Input), nil

	case "constant":
		return normalizeValue(spec.Value), "constant", nil

	case "formula":
		// Sub-formulas evaluate against the input only, not against
		// previously resolved variables.
		v, err := ev.Evaluate(spec.Formula, input)
		if err != nil {
			return nil, "", err
		}
		return v, fmt.Sprintf("computed from %s", spec.Formula), nil

	case "conditional":
		for i, branch := range spec.Branches {
			if len(branch.If) == 0 {
				// else arm: always matches.
				return normalizeValue(branch.Value), "conditional: else branch", nil
			}
			ok, err := Matches(branch.If, input, resolved)
			if err != nil {
				return nil, "", err
			}
			if ok {
				return normalizeValue(branch.Value), fmt.Sprintf("conditional: branch %d matched", i+1), nil
			}
		}
		return normalizeValue(spec.Default), "conditional: default (no branch matched)", nil

	case "multi_condition":
		count := 0
		for _, cond := range spec.Conditions {
			ok, err := Matches(cond, input, resolved)
			if err != nil {
				return nil, "", err
			}
			if ok {
				count++
			}
		}

		switch spec.Operator {
		case "AND":
			if count == len(spec.Conditions) {
				return normalizeValue(spec.Values.True), fmt.Sprintf("all %d conditions matched", len(spec.Conditions)), nil
			}
			return normalizeValue(spec.Values.False), fmt.Sprintf("%d of %d conditions matched", count, len(spec.Conditions)), nil

		case "OR":
			if count > 0 {
				return normalizeValue(spec.Values.True), fmt.Sprintf("%d of %d conditions matched", count, len(spec.Conditions)), nil
			}
			return normalizeValue(spec.Values.False), "no condition matched", nil

		case "COUNT":
			// Highest threshold <= the tally wins.
			best := -1
			var value any
			for _, th := range spec.Thresholds {
				if th.Count <= count && th.Count > best {
					best = th.Count
					value = th.Value
				}
			}
			if best >= 0 {
				return normalizeValue(value), fmt.Sprintf("%d conditions matched (threshold %d)", count, best), nil
			}
			return normalizeValue(spec.Default), fmt.Sprintf("%d conditions matched (below all thresholds)", count), nil

		default:
			return nil, "", fmt.Errorf("unknown multi_condition operator %q", spec.Operator)
		}

	default:
		return nil, "", fmt.Errorf("unknown variable type %q", spec.Type)
	}
}

// resolveVariables resolves an ordered variable list, recording one
// step per variable.
func resolveVariables(vars Variables, input map[string]any, ev *Evaluator, rec *Recorder) (map[string]any, error) {
	resolved := make(map[string]any, len(vars))
	for _, nv := range vars {
		value, reason, err := resolveVariable(nv.Spec, input, resolved, ev)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", nv.Name, err)
		}
		resolved[nv.Name] = value
		rec.Record(nv.Name, value, reason)
	}
	return resolved, nil
}

// mapKey renders a value as an exact-match mapping key, matching the
// string keys a JSON/YAML map carries.
func mapKey(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	default:
		if f, ok := toFloat64(v); ok {
			return formatValue(f)
		}
		return fmt.Sprintf("%v", v)
	}
}

func rangeLabel(r LookupRange) string {
	lo, hi := "-inf", "+inf"
	if r.Min != nil {
		lo = formatValue(*r.Min)
	}
	if r.Max != nil {
		hi = formatValue(*r.Max)
	}
	return fmt.Sprintf("[%s, %s)", lo, hi)
}
