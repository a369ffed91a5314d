package config

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strconv"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// PrefillGlobal is the global a template assigns its prefill dict to.
const PrefillGlobal = "prefill"

// TemplateInput is the read-only context exposed to a prefill template.
type TemplateInput struct {
	// Type is the section type being added.
	Type string

	// ID is the identifier the new section will get.
	ID string

	// Labels are the labels already used by sections of the type.
	Labels []string
}

// TemplateEvaluator executes Starlark prefill templates.
type TemplateEvaluator struct {
	timeout time.Duration
}

// NewTemplateEvaluator creates a new template evaluator.
func NewTemplateEvaluator(timeout time.Duration) *TemplateEvaluator {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &TemplateEvaluator{
		timeout: timeout,
	}
}

// EvaluateFile runs the template stored at path.
func (te *TemplateEvaluator) EvaluateFile(ctx context.Context, path string, in TemplateInput) (map[string][]string, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	return te.evaluate(ctx, path, string(script), in)
}

// Evaluate runs a template and returns the prefill it assigns. A template
// that assigns nothing yields an empty prefill.
func (te *TemplateEvaluator) Evaluate(ctx context.Context, script string, in TemplateInput) (map[string][]string, error) {
	return te.evaluate(ctx, "prefill.star", script, in)
}

func (te *TemplateEvaluator) evaluate(ctx context.Context, filename, script string, in TemplateInput) (map[string][]string, error) {
	evalCtx, cancel := context.WithTimeout(ctx, te.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "hpconf-template",
		Print: func(_ *starlark.Thread, _ string) {},
	}

	resultCh := make(chan map[string][]string, 1)
	errCh := make(chan error, 1)

	go func() {
		result, err := evaluateSync(thread, filename, script, in)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel(evalCtx.Err().Error())
		return nil, fmt.Errorf("template execution timeout after %v", te.timeout)
	case err := <-errCh:
		return nil, err
	case result := <-resultCh:
		return result, nil
	}
}

func evaluateSync(thread *starlark.Thread, filename, script string, in TemplateInput) (map[string][]string, error) {
	labels := make([]starlark.Value, len(in.Labels))
	for i, l := range in.Labels {
		labels[i] = starlark.String(l)
	}
	labelList := starlark.NewList(labels)
	labelList.Freeze()

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
		"section": starlarkstruct.FromStringDict(starlark.String("section"), starlark.StringDict{
			"type":   starlark.String(in.Type),
			"id":     starlark.String(in.ID),
			"labels": labelList,
		}),
		"unique_label": starlark.NewBuiltin("unique_label", uniqueLabel(in.Labels)),
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("template execution failed: %w", err)
	}

	val, ok := globals[PrefillGlobal]
	if !ok || val == starlark.None {
		return map[string][]string{}, nil
	}
	dict, ok := val.(*starlark.Dict)
	if !ok {
		return nil, fmt.Errorf("%s must be a dict, got %s", PrefillGlobal, val.Type())
	}

	prefill := make(map[string][]string, dict.Len())
	for _, item := range dict.Items() {
		key, ok := item[0].(starlark.String)
		if !ok {
			return nil, fmt.Errorf("%s keys must be strings, got %s", PrefillGlobal, item[0].Type())
		}
		values, err := toFieldValues(item[1])
		if err != nil {
			return nil, fmt.Errorf("%s[%q]: %w", PrefillGlobal, string(key), err)
		}
		prefill[string(key)] = values
	}
	return prefill, nil
}

// toFieldValues converts a Starlark value to stored field values. Scalars
// become single values; lists and tuples become ordered lists.
func toFieldValues(v starlark.Value) ([]string, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case *starlark.List:
		return iterValues(val)
	case starlark.Tuple:
		return iterValues(val)
	}
	s, err := toFieldValue(v)
	if err != nil {
		return nil, err
	}
	return []string{s}, nil
}

func iterValues(iterable starlark.Iterable) ([]string, error) {
	iter := iterable.Iterate()
	defer iter.Done()

	var out []string
	var x starlark.Value
	for iter.Next(&x) {
		s, err := toFieldValue(x)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func toFieldValue(v starlark.Value) (string, error) {
	switch val := v.(type) {
	case starlark.String:
		return string(val), nil
	case starlark.Bool:
		if val {
			return "1", nil
		}
		return "0", nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return "", fmt.Errorf("integer too large")
		}
		return strconv.FormatInt(i, 10), nil
	}
	return "", fmt.Errorf("unsupported starlark type: %s", v.Type())
}

// uniqueLabel returns a builtin yielding base, or base followed by the
// lowest free counter when base is taken.
func uniqueLabel(taken []string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	used := slices.Clone(taken)
	sort.Strings(used)

	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var base string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "base", &base); err != nil {
			return nil, err
		}
		if _, found := slices.BinarySearch(used, base); !found {
			return starlark.String(base), nil
		}
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s %d", base, n)
			if _, found := slices.BinarySearch(used, candidate); !found {
				return starlark.String(candidate), nil
			}
		}
	}
}
