package engine

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Step is one recorded micro-decision. The ordered step sequence of an
// execution lets a human reconstruct why the result was produced
// without re-running anything.
type Step struct {
	Step   string `json:"step"`
	Value  any    `json:"value"`
	Reason string `json:"reason"`
}

// Recorder accumulates the ordered, append-only explanation trace of
// one execution. A fresh recorder is created per Execute call and
// discarded with it.
type Recorder struct {
	steps []Step
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends one step.
func (r *Recorder) Record(step string, value any, reason string) {
	r.steps = append(r.steps, Step{Step: step, Value: value, Reason: reason})
}

// Steps returns the recorded trace in order.
func (r *Recorder) Steps() []Step {
	return r.steps
}

var templatePlaceholder = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_.]*)\}`)

// RenderTemplate substitutes {name} and {a.b} placeholders: resolved
// variables are consulted first, then dot-path traversal of the raw
// input. Unresolvable placeholders are left in place so a gap in an
// explanation is visible instead of silently blank.
func RenderTemplate(template string, variables, input map[string]any) string {
	if template == "" {
		return ""
	}
	return templatePlaceholder.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		if variables != nil {
			if v, ok := variables[name]; ok {
				return formatValue(v)
			}
			if v, ok := lookupPath(variables, name); ok {
				return formatValue(v)
			}
		}
		if v, ok := lookupPath(input, name); ok {
			return formatValue(v)
		}
		return match
	})
}

// formatValue renders a value for explanation text: whole numbers
// without a trailing ".0", other floats trimmed to two decimals.
func formatValue(v any) string {
	if f, ok := toFloat64(v); ok {
		if f == math.Trunc(f) && math.Abs(f) < 1e15 {
			return strconv.FormatFloat(f, 'f', 0, 64)
		}
		return strings.TrimRight(strings.TrimRight(strconv.FormatFloat(f, 'f', 2, 64), "0"), ".")
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// round2 rounds to two decimal places, the precision every numeric
// rule result is reported at.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// clampRange clamps a value into a declared output range.
func clampRange(v float64, r *OutputRange) float64 {
	if r == nil {
		return v
	}
	if v < r[0] {
		return r[0]
	}
	if v > r[1] {
		return r[1]
	}
	return v
}

// clamp01 clamps confidence into [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
