package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// templatePattern matches a whole-string template reference such as
// "{{ workflow.input.customer.id }}" or "{{steps.fetch.outputs.0.name}}".
// A step input that does not match in full is treated as a literal value,
// not as a template with surrounding text — partial interpolation inside a
// larger string is not supported.
var templatePattern = regexp.MustCompile(`^\{\{\s*([A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)*)\s*\}\}$`)

// templatePath reports the dotted path inside s, if s is exactly one
// template reference.
func templatePath(s string) (string, bool) {
	m := templatePattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ResolveValue walks v, replacing any string that is a template reference
// with the value it resolves to against ctx. Maps and sequences are walked
// recursively so that an entire inputs block can be resolved in one call.
// A path with no binding anywhere along it resolves to nil rather than an
// error — see resolvePath.
func ResolveValue(v any, ctx *ExecutionContext) any {
	switch t := v.(type) {
	case string:
		path, ok := templatePath(t)
		if !ok {
			return t
		}
		return resolvePath(path, ctx)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = ResolveValue(vv, ctx)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = ResolveValue(vv, ctx)
		}
		return out
	default:
		return v
	}
}

// ResolveInputs applies ResolveValue to every entry of a step's inputs
// block.
func ResolveInputs(inputs map[string]any, ctx *ExecutionContext) map[string]any {
	resolved := make(map[string]any, len(inputs))
	for k, v := range inputs {
		resolved[k] = ResolveValue(v, ctx)
	}
	return resolved
}

// resolvePath evaluates a dotted path against one of the two supported
// roots: workflow.input.<path> and steps.<id>.outputs.<path>. Any other
// root, or a path that runs off the end of the available structure,
// resolves to nil.
func resolvePath(path string, ctx *ExecutionContext) any {
	segments := strings.Split(path, ".")
	if len(segments) == 0 {
		return nil
	}
	switch segments[0] {
	case "workflow":
		if len(segments) < 2 || segments[1] != "input" {
			return nil
		}
		return navigate(ctx.Input(), segments[2:])
	case "steps":
		if len(segments) < 3 || segments[2] != "outputs" {
			return nil
		}
		stepID := segments[1]
		out, ok := ctx.StepOutput(stepID)
		if !ok {
			return nil
		}
		return navigate(out, segments[3:])
	default:
		return nil
	}
}

// navigate walks node through the remaining path segments, indexing into
// maps by key and sequences by integer position. It returns nil as soon as
// a segment cannot be resolved, rather than panicking or erroring, matching
// the path-resolution rule that a missing key or out-of-range index yields
// a null value.
func navigate(node any, segments []string) any {
	cur := node
	for _, seg := range segments {
		switch v := cur.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				return nil
			}
			cur = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			cur = v[idx]
		default:
			return nil
		}
	}
	return cur
}

// Truthy implements the truthiness rule a conditional step applies to its
// resolved condition value: null, false, the empty string, a zero int,
// int64 or float64, and an empty sequence or map are false; everything else
// (including values of any other type) is true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// SwitchKey stringifies a resolved condition value into the form used to
// look up a switch step's branch. Booleans render as Go's lowercase
// true/false rather than a title-cased or numeric form, and whole-valued
// floats render without a trailing ".0" so that a YAML integer round-trips
// to the same case label a workflow author wrote by hand.
func SwitchKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
