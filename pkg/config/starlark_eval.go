package config

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/trendfire/trendfire/pkg/earthengine/expr"
	"github.com/trendfire/trendfire/pkg/trend"
)

// DefaultIndexTimeout bounds the evaluation of one index script.
const DefaultIndexTimeout = 5 * time.Second

// IndexCompiler turns Starlark index scripts into trend indices.
//
// A script sees these builtins and must assign the global "index":
//
//	band(name)   the named band of the current image
//	nd(a, b)     normalized difference of bands a and b
//	sqrt(x)      square root
//	exp(x)       e to the power x
//
// Terms combine with + - * / and with numbers, e.g.
//
//	index = (band("SR_B5") - band("SR_B4")) / (band("SR_B5") + band("SR_B4") + 0.5) * 1.5
type IndexCompiler struct {
	timeout time.Duration
}

// NewIndexCompiler creates a compiler. A zero timeout uses
// DefaultIndexTimeout.
func NewIndexCompiler(timeout time.Duration) *IndexCompiler {
	if timeout == 0 {
		timeout = DefaultIndexTimeout
	}
	return &IndexCompiler{timeout: timeout}
}

// CompileIndices compiles every custom index. Names must not repeat or
// collide with a band the Landsat chain already carries.
func (c *IndexCompiler) CompileIndices(ctx context.Context, defs []CustomIndex) ([]trend.Index, error) {
	seen := make(map[string]bool, len(defs))
	out := make([]trend.Index, 0, len(defs))
	for _, def := range defs {
		if seen[def.Name] || trend.ReservedBand(def.Name) {
			return nil, fmt.Errorf("custom index %q: name already in use", def.Name)
		}
		seen[def.Name] = true

		idx, err := c.Compile(ctx, def)
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}

// Compile evaluates one index script.
func (c *IndexCompiler) Compile(ctx context.Context, def CustomIndex) (trend.Index, error) {
	evalCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "index:" + def.Name,
		Print: func(*starlark.Thread, string) {},
	}

	type result struct {
		t   *term
		err error
	}
	done := make(chan result, 1)
	go func() {
		t, err := evalIndex(thread, def)
		done <- result{t, err}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("timeout")
		<-done
		return trend.Index{}, fmt.Errorf("custom index %q: evaluation stopped after %v: %w", def.Name, c.timeout, evalCtx.Err())
	case r := <-done:
		if r.err != nil {
			return trend.Index{}, fmt.Errorf("custom index %q: %w", def.Name, r.err)
		}
		return trend.Index{Name: def.Name, Apply: r.t.apply}, nil
	}
}

func evalIndex(thread *starlark.Thread, def CustomIndex) (*term, error) {
	predeclared := starlark.StringDict{
		"band": starlark.NewBuiltin("band", builtinBand),
		"nd":   starlark.NewBuiltin("nd", builtinND),
		"sqrt": starlark.NewBuiltin("sqrt", unaryBuiltin(expr.Image.Sqrt)),
		"exp":  starlark.NewBuiltin("exp", unaryBuiltin(expr.Image.Exp)),
	}

	globals, err := starlark.ExecFile(thread, def.Name+".star", def.Script, predeclared)
	if err != nil {
		return nil, err
	}

	v, ok := globals["index"]
	if !ok {
		return nil, fmt.Errorf("script does not assign index")
	}
	t, err := toTerm(v)
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	if !t.image {
		return nil, fmt.Errorf("index is a constant; it must read at least one band")
	}
	return t, nil
}

// term is a deferred image computation. image is false for pure numbers.
type term struct {
	apply func(img expr.Image) expr.Image
	image bool
	desc  string
}

var (
	_ starlark.Value     = (*term)(nil)
	_ starlark.HasBinary = (*term)(nil)
	_ starlark.HasUnary  = (*term)(nil)
)

func (t *term) String() string        { return t.desc }
func (t *term) Type() string          { return "term" }
func (t *term) Freeze()               {}
func (t *term) Truth() starlark.Bool  { return starlark.True }
func (t *term) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: term") }

func (t *term) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	other, err := toTerm(y)
	if err != nil {
		return nil, err
	}
	left, right := t, other
	if side == starlark.Right {
		left, right = other, t
	}

	var combine func(a, b expr.Image) expr.Image
	switch op {
	case syntax.PLUS:
		combine = expr.Image.Add
	case syntax.MINUS:
		combine = expr.Image.Subtract
	case syntax.STAR:
		combine = expr.Image.Multiply
	case syntax.SLASH:
		combine = expr.Image.Divide
	default:
		return nil, nil
	}

	return &term{
		apply: func(img expr.Image) expr.Image {
			return combine(left.apply(img), right.apply(img))
		},
		image: left.image || right.image,
		desc:  fmt.Sprintf("(%s %s %s)", left.desc, op, right.desc),
	}, nil
}

func (t *term) Unary(op syntax.Token) (starlark.Value, error) {
	switch op {
	case syntax.MINUS:
		return &term{
			apply: func(img expr.Image) expr.Image {
				return t.apply(img).Multiply(expr.Scalar(-1))
			},
			image: t.image,
			desc:  "-" + t.desc,
		}, nil
	case syntax.PLUS:
		return t, nil
	}
	return nil, nil
}

func toTerm(v starlark.Value) (*term, error) {
	if t, ok := v.(*term); ok {
		return t, nil
	}
	switch v.(type) {
	case starlark.Int, starlark.Float:
		f, _ := starlark.AsFloat(v)
		return constTerm(f), nil
	}
	return nil, fmt.Errorf("unsupported operand of type %s", v.Type())
}

func constTerm(f float64) *term {
	return &term{
		apply: func(expr.Image) expr.Image { return expr.Scalar(f) },
		desc:  fmt.Sprint(f),
	}
}

func builtinBand(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%s: empty band name", b.Name())
	}
	return &term{
		apply: func(img expr.Image) expr.Image { return img.Select(name) },
		image: true,
		desc:  fmt.Sprintf("band(%q)", name),
	}, nil
}

func builtinND(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var first, second string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &first, &second); err != nil {
		return nil, err
	}
	return &term{
		apply: func(img expr.Image) expr.Image { return img.NormalizedDifference(first, second) },
		image: true,
		desc:  fmt.Sprintf("nd(%q, %q)", first, second),
	}, nil
}

func unaryBuiltin(image func(expr.Image) expr.Image) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
			return nil, err
		}
		t, err := toTerm(x)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return &term{
			apply: func(img expr.Image) expr.Image { return image(t.apply(img)) },
			image: t.image,
			desc:  fmt.Sprintf("%s(%s)", b.Name(), t.desc),
		}, nil
	}
}
