package celeval

import (
	"testing"
	"time"
)

func mustEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return e
}

// Scenario 1: target.signing_time >= timestamp(1748436989) evaluates to
// ALLOWLIST, cacheable = true.
func TestEvaluate_TimestampPolicy(t *testing.T) {
	e := mustEvaluator(t)
	target := TargetContext{SigningTime: time.Unix(1748436989, 0).UTC()}
	act := NewActivation(target, nil, nil, nil, nil)

	res, err := e.CompileAndEvaluate("target.signing_time >= timestamp(1748436989)", act)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Verdict != Allowlist {
		t.Errorf("verdict = %v, want Allowlist", res.Verdict)
	}
	if !res.Cacheable {
		t.Error("expected cacheable = true")
	}
}

// Scenario 2: args[0] == 'hello' against args = ["hello","world"]
// evaluates to ALLOWLIST, cacheable = false.
func TestEvaluate_DynamicPolicyFlipsCacheable(t *testing.T) {
	e := mustEvaluator(t)
	act := NewActivation(TargetContext{}, func() []string { return []string{"hello", "world"} }, nil, nil, nil)

	res, err := e.CompileAndEvaluate(`args[0] == "hello"`, act)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Verdict != Allowlist {
		t.Errorf("verdict = %v, want Allowlist", res.Verdict)
	}
	if res.Cacheable {
		t.Error("expected cacheable = false once args is consumed")
	}
}

// Scenario 3: a short-circuiting OR chain over args[0] invokes the
// counting producer exactly once.
func TestEvaluate_MemoizesDynamicProducer(t *testing.T) {
	e := mustEvaluator(t)
	calls := 0
	producer := func() []string {
		calls++
		return []string{"hello"}
	}
	act := NewActivation(TargetContext{}, producer, nil, nil, nil)

	res, err := e.CompileAndEvaluate(`args[0] == "foo" || args[0] == "bar" || args[0] == "hello"`, act)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Verdict != Allowlist {
		t.Errorf("verdict = %v, want Allowlist", res.Verdict)
	}
	if calls != 1 {
		t.Errorf("producer invoked %d times, want exactly 1", calls)
	}
}

// Scenario 4: require_touchid_with_cooldown_minutes(10) -> REQUIRE_TOUCHID
// with cooldown_minutes = 10; negative cooldowns clamp to 0.
func TestEvaluate_TouchIDCooldown(t *testing.T) {
	e := mustEvaluator(t)
	act := NewActivation(TargetContext{}, nil, nil, nil, nil)

	res, err := e.CompileAndEvaluate("require_touchid_with_cooldown_minutes(10)", act)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Verdict != RequireTouchID || res.CooldownMinutes != 10 {
		t.Errorf("got verdict=%v cooldown=%d, want RequireTouchID/10", res.Verdict, res.CooldownMinutes)
	}
	if res.Cacheable {
		t.Error("TouchID results must never be cacheable")
	}

	act2 := NewActivation(TargetContext{}, nil, nil, nil, nil)
	res2, err := e.CompileAndEvaluate("require_touchid_with_cooldown_minutes(-5)", act2)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res2.CooldownMinutes != 0 {
		t.Errorf("cooldown = %d, want clamped to 0", res2.CooldownMinutes)
	}
}

func TestEvaluate_TouchIDOnlyVariant(t *testing.T) {
	e := mustEvaluator(t)
	act := NewActivation(TargetContext{}, nil, nil, nil, nil)

	res, err := e.CompileAndEvaluate("require_touchid_only_with_cooldown_minutes(3)", act)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Verdict != RequireTouchIDOnly || res.CooldownMinutes != 3 {
		t.Errorf("got verdict=%v cooldown=%d, want RequireTouchIDOnly/3", res.Verdict, res.CooldownMinutes)
	}
}

// A dynamic variable referenced only on an unreached branch of a
// short-circuited expression must not flip cacheable, and its producer
// must not be invoked.
func TestEvaluate_ShortCircuitSkipsUnreachedDynamicAccess(t *testing.T) {
	e := mustEvaluator(t)
	calls := 0
	act := NewActivation(TargetContext{}, func() []string { calls++; return []string{"x"} }, nil, nil, nil)

	res, err := e.CompileAndEvaluate(`true || args[0] == "x"`, act)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Verdict != Allowlist {
		t.Errorf("verdict = %v, want Allowlist", res.Verdict)
	}
	if !res.Cacheable {
		t.Error("expected cacheable = true since args was never reached")
	}
	if calls != 0 {
		t.Errorf("producer invoked %d times, want 0", calls)
	}
}

func TestCompile_RejectsUndeclaredIdentifier(t *testing.T) {
	e := mustEvaluator(t)
	if _, err := e.Compile("bogus_identifier == 1"); err == nil {
		t.Error("expected compile error for undeclared identifier")
	}
}
