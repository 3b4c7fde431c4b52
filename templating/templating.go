// Package templating wraps the Jinja2-compatible rendering engine and the jq
// filter engine used throughout the flow interpreter: `when` conditions, the
// `goto` step's target, the `jinja` and `set_fact` steps, and every step's
// optional jq_expression post-filter.
package templating

import (
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/nikolalohinski/gonja"
)

// trueValues mirrors the membership check applied to a rendered `when`
// expression: lowercased, must be one of these to pass.
var trueValues = map[string]bool{"true": true, "1": true, "yes": true}

// Render renders a Jinja2-style template string against data.
func Render(tmpl string, data map[string]any) (string, error) {
	t, err := gonja.FromString(tmpl)
	if err != nil {
		return "", fmt.Errorf("templating: parse: %w", err)
	}
	out, err := t.Execute(gonja.Context(data))
	if err != nil {
		return "", fmt.Errorf("templating: render: %w", err)
	}
	return out, nil
}

// EvalWhen wraps expr as "{{ expr }}", renders it, and checks the lowercased
// result against the true-value set.
func EvalWhen(expr string, data map[string]any) (bool, error) {
	rendered, err := Render("{{ "+expr+" }}", data)
	if err != nil {
		return false, err
	}
	return trueValues[strings.ToLower(strings.TrimSpace(rendered))], nil
}

// EvalAllWhen evaluates a list of `when` expressions; all must hold for the
// step to run. An empty list always passes.
func EvalAllWhen(exprs []string, data map[string]any) (bool, error) {
	for _, expr := range exprs {
		ok, err := EvalWhen(expr, data)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// ApplyJQ applies a jq filter to input and returns the single-result-or-null
// value: if the filter yields exactly one result, that result is returned;
// any other count (zero or more than one) yields nil.
func ApplyJQ(expression string, input any) (any, error) {
	if expression == "" {
		return input, nil
	}
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("templating: jq parse %q: %w", expression, err)
	}

	iter := query.Run(input)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("templating: jq eval %q: %w", expression, err)
		}
		results = append(results, v)
	}

	if len(results) == 1 {
		return results[0], nil
	}
	return nil, nil
}

// RenderValue walks a value tree (maps, slices, strings) and renders every
// string leaf as a Jinja2 template against data, leaving every other type
// untouched. Used by set_fact, which templates an arbitrary nested object.
func RenderValue(value any, data map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return Render(v, data)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, vv := range v {
			rv, err := RenderValue(vv, data)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, vv := range v {
			rv, err := RenderValue(vv, data)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}
