// Package celeval compiles and evaluates the CEL expressions attached to
// data and process watch-item policies (spec.md §3 "CEL Result"). An Evaluator owns
// one cel.Env shared by every compiled expression; Activation instances
// carry the per-decision variable bindings and memoization state.
package celeval

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/interpreter/functions"

	"github.com/northpole-faad/faad/internal/faaerr"
)

const (
	requireTouchIDOverload     = "require_touchid_with_cooldown_minutes_int"
	requireTouchIDOnlyOverload = "require_touchid_only_with_cooldown_minutes_int"

	touchIDKindKey     = "__touchid_kind"
	touchIDCooldownKey = "cooldown_minutes"
	touchIDKindOnly    = "only"
	touchIDKindNormal  = "normal"
)

// Result is the outcome of evaluating a compiled expression against one
// Activation.
type Result struct {
	Verdict         Verdict
	CooldownMinutes int64
	// Cacheable reports whether this result may be reused for future
	// evaluations of the same process identity without re-running the
	// expression (spec.md §3). It is always false for TouchID verdicts,
	// since the cooldown is considered dynamic regardless of which
	// variables the expression referenced.
	Cacheable bool
}

// Evaluator compiles CEL source against a fixed variable/function
// environment and evaluates compiled programs against caller-supplied
// Activations.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator builds the shared CEL environment: the static "target" map,
// the dynamic args/envs/euid/cwd variables, the verdict enum constants,
// and the require_touchid_* functions.
func NewEvaluator() (*Evaluator, error) {
	opts := []cel.EnvOption{
		cel.Variable("target", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("args", cel.ListType(cel.StringType)),
		cel.Variable("envs", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("euid", cel.IntType),
		cel.Variable("cwd", cel.StringType),
		cel.Function("require_touchid_with_cooldown_minutes",
			cel.Overload(requireTouchIDOverload, []*cel.Type{cel.IntType}, cel.MapType(cel.StringType, cel.DynType)),
		),
		cel.Function("require_touchid_only_with_cooldown_minutes",
			cel.Overload(requireTouchIDOnlyOverload, []*cel.Type{cel.IntType}, cel.MapType(cel.StringType, cel.DynType)),
		),
	}
	for name, val := range enumConstants {
		opts = append(opts, cel.Constant(name, cel.IntType, types.Int(val)))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, faaerr.New(faaerr.KindConfiguration, "celeval.NewEvaluator", err)
	}
	return &Evaluator{env: env}, nil
}

// Compiled wraps a type-checked, pre-bound CEL program. Safe for
// concurrent use across Activations.
type Compiled struct {
	src string
	prg cel.Program
}

// Source returns the original expression text this Compiled was built
// from.
func (c *Compiled) Source() string { return c.src }

// Compile type-checks expr and binds the require_touchid_* functions
// into a reusable cel.Program. Touch ID functions are stateless, so one
// Program serves every future Evaluate call for this expression.
func (e *Evaluator) Compile(expr string) (*Compiled, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, faaerr.New(faaerr.KindCompile, "celeval.Compile", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.Functions(
			&functions.Overload{
				Operator: requireTouchIDOverload,
				Unary:    touchIDUnary(false),
			},
			&functions.Overload{
				Operator: requireTouchIDOnlyOverload,
				Unary:    touchIDUnary(true),
			},
		),
	)
	if err != nil {
		return nil, faaerr.New(faaerr.KindCompile, "celeval.Compile", err)
	}
	return &Compiled{src: expr, prg: prg}, nil
}

// Evaluate runs c against act and maps the raw CEL output onto Result per
// spec.md §4.3's verdict rules.
func (e *Evaluator) Evaluate(c *Compiled, act *Activation) (Result, error) {
	out, _, err := c.prg.Eval(act)
	if err != nil {
		return Result{}, faaerr.New(faaerr.KindEvaluation, "celeval.Evaluate", err)
	}

	cacheable := act.cacheable()

	switch v := out.Value().(type) {
	case bool:
		if v {
			return Result{Verdict: Allowlist, Cacheable: cacheable}, nil
		}
		return Result{Verdict: Blocklist, Cacheable: cacheable}, nil
	case int64:
		verdict, ok := verdictFromInt(v)
		if !ok {
			return Result{}, faaerr.New(faaerr.KindEvaluation, "celeval.Evaluate",
				fmt.Errorf("unrecognized enum result %d", v))
		}
		return Result{Verdict: verdict, Cacheable: cacheable}, nil
	case map[string]any:
		return touchIDResult(v)
	default:
		return Result{}, faaerr.New(faaerr.KindEvaluation, "celeval.Evaluate",
			fmt.Errorf("unsupported CEL result type %T", out.Value()))
	}
}

// CompileAndEvaluate is a convenience wrapper for callers that never
// reuse a compiled expression (e.g. ad-hoc tooling); production lookups
// should call Compile once per policy and Evaluate per decision.
func (e *Evaluator) CompileAndEvaluate(expr string, act *Activation) (Result, error) {
	c, err := e.Compile(expr)
	if err != nil {
		return Result{}, err
	}
	return e.Evaluate(c, act)
}

func touchIDResult(m map[string]any) (Result, error) {
	kind, _ := m[touchIDKindKey].(string)
	cooldown, _ := m[touchIDCooldownKey].(int64)

	switch kind {
	case touchIDKindOnly:
		return Result{Verdict: RequireTouchIDOnly, CooldownMinutes: cooldown, Cacheable: false}, nil
	case touchIDKindNormal:
		return Result{Verdict: RequireTouchID, CooldownMinutes: cooldown, Cacheable: false}, nil
	default:
		return Result{}, faaerr.New(faaerr.KindEvaluation, "celeval.touchIDResult",
			fmt.Errorf("malformed touchid result map"))
	}
}

// touchIDUnary builds the stateless implementation bound to both
// require_touchid_with_cooldown_minutes and its _only variant. Negative
// cooldowns are clamped to zero per spec.md §3.
func touchIDUnary(only bool) func(ref.Val) ref.Val {
	kind := touchIDKindNormal
	if only {
		kind = touchIDKindOnly
	}
	return func(arg ref.Val) ref.Val {
		n, ok := arg.Value().(int64)
		if !ok {
			return types.NewErr("require_touchid_with_cooldown_minutes: expected int argument, got %T", arg.Value())
		}
		if n < 0 {
			n = 0
		}
		return types.DefaultTypeAdapter.NativeToValue(map[string]interface{}{
			touchIDKindKey:     kind,
			touchIDCooldownKey: n,
		})
	}
}
