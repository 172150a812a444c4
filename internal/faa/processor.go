package faa

import (
	"log/slog"
	"sync"

	"github.com/northpole-faad/faad/internal/celeval"
	"github.com/northpole-faad/faad/internal/faaerr"
	"github.com/northpole-faad/faad/internal/faevent"
	"github.com/northpole-faad/faad/internal/watchitems"
)

// TargetPolicyPair bundles one event target's index with the policy
// WatchItems selected for it (spec.md §4.2 "target_policy_pairs").
type TargetPolicyPair struct {
	TargetIndex int
	Policy      Policy
}

// DeniedBlockFunc is the user-facing denial sink (spec.md §4.2
// "denied_block"); specified only as a peripheral notification callback.
type DeniedBlockFunc func(event *faevent.Event, customMsg, customURL, customText string)

// LogFunc is invoked for every decision the logging path admits (spec.md
// §4.2 "Logging decision").
type LogFunc func(event *faevent.Event, target faevent.Target, policy Policy, decision Decision)

// Processor is the FAA decision engine (spec.md §4.2 FAAPolicyProcessor).
// Safe for concurrent use: the CEL compile cache and rate limiter are
// internally synchronized, and Activations are built fresh per call.
type Processor struct {
	evaluator *celeval.Evaluator
	rateLimit *RateLimiter
	authCache *AuthCache
	logger    *slog.Logger

	mu         sync.Mutex
	compiled   map[string]*celeval.Compiled
	badSigProt bool

	onLog    LogFunc
	onDenied DeniedBlockFunc
}

// NewProcessor builds a Processor. evaluator may be nil if no policy in
// the active configuration uses CelExpr; logger defaults to slog.Default.
func NewProcessor(evaluator *celeval.Evaluator, logsPerSec, windowSecs int, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		evaluator: evaluator,
		rateLimit: NewRateLimiter(logsPerSec, windowSecs),
		authCache: NewAuthCache(0),
		logger:    logger.With("component", "faa.Processor"),
		compiled:  make(map[string]*celeval.Compiled),
	}
}

// SetBadSignatureProtection toggles the signature gate of spec.md §4.2
// step 2.
func (p *Processor) SetBadSignatureProtection(enabled bool) {
	p.mu.Lock()
	p.badSigProt = enabled
	p.mu.Unlock()
}

// RegisterLogFunc installs the sink invoked for every logged decision.
func (p *Processor) RegisterLogFunc(fn LogFunc) {
	p.mu.Lock()
	p.onLog = fn
	p.mu.Unlock()
}

// RegisterDeniedBlockFunc installs the user-facing denial notification
// sink.
func (p *Processor) RegisterDeniedBlockFunc(fn DeniedBlockFunc) {
	p.mu.Lock()
	p.onDenied = fn
	p.mu.Unlock()
}

// ModifyRateLimiterSettings implements spec.md §4.2's
// ModifyRateLimiterSettings.
func (p *Processor) ModifyRateLimiterSettings(logsPerSec, windowSecs int) {
	p.rateLimit.Modify(logsPerSec, windowSecs)
}

// NotifyExit evicts the per-process auth cache entries for auditToken
// (spec.md §4.2 NotifyExit).
func (p *Processor) NotifyExit(auditToken string) {
	p.authCache.Evict(auditToken)
}

// ImmediateResponse returns a cached verdict for an event whose every
// target has a fresh, cacheable memoized decision, short-circuiting the
// full pipeline (spec.md §4.2 ImmediateResponse).
func (p *Processor) ImmediateResponse(event *faevent.Event) (AuthResult, bool, bool) {
	targets, err := event.Targets()
	if err != nil || len(targets) == 0 {
		return ResultAllow, false, false
	}
	results := make([]AuthResult, 0, len(targets))
	for _, t := range targets {
		key := authCacheKey(event.Process.AuditToken, t.AbsolutePath)
		verdict, cacheable, ok := p.authCache.Get(key)
		if !ok || !cacheable {
			return ResultAllow, false, false
		}
		results = append(results, verdict)
	}
	return combineDecisions(results), true, true
}

// ProcessMessage runs the full ApplyPolicy pipeline for every (target,
// policy) pair, combines the per-target decisions, and returns the final
// auth result plus whether it is safe to memoize in the auth cache
// (spec.md §4.2 ProcessMessage).
func (p *Processor) ProcessMessage(
	event *faevent.Event,
	pairs []TargetPolicyPair,
	match MatchFunc,
	override OverrideAction,
) (AuthResult, bool) {
	targets, err := event.Targets()
	if err != nil {
		p.logger.Warn("event target extraction failed, defaulting to allow", "error", err)
		return ResultAllow, false
	}

	if match == nil {
		match = DefaultMatchPredicate
	}

	results := make([]AuthResult, 0, len(pairs))
	cacheable := true
	perTargetCacheable := make(map[int]bool, len(targets))
	for i := range targets {
		perTargetCacheable[i] = true
	}

	for _, pair := range pairs {
		if pair.TargetIndex < 0 || pair.TargetIndex >= len(targets) {
			continue
		}
		target := targets[pair.TargetIndex]

		decision, decCacheable := p.ApplyPolicy(event, target, pair.Policy, match, override)
		results = append(results, decisionToAuthResult(decision))
		if !decCacheable {
			cacheable = false
			perTargetCacheable[pair.TargetIndex] = false
		}

		p.maybeLog(event, target, pair.Policy, decision)
	}

	final := combineDecisions(results)

	if cacheable {
		for i, t := range targets {
			if perTargetCacheable[i] {
				p.authCache.Put(authCacheKey(event.Process.AuditToken, t.AbsolutePath), final, true)
			}
		}
	}

	return final, cacheable
}

// ApplyPolicy runs the per-(target,policy) pipeline of spec.md §4.2.
func (p *Processor) ApplyPolicy(event *faevent.Event, target faevent.Target, policy Policy, match MatchFunc, override OverrideAction) (Decision, bool) {
	if policy == nil {
		return NoPolicy, true
	}
	base := policy.Base()

	p.mu.Lock()
	badSigProt := p.badSigProt
	p.mu.Unlock()

	if badSigProt && event.Process.CSSigned && !event.Process.CSValid {
		return applyOverride(DeniedInvalidSignature, override), true
	}

	if event.IsReadPass() && target.IsReadableHint && base.AllowReadAccess {
		return applyOverride(AllowedReadAccess, override), true
	}

	matched, cacheable, err := p.resolveMatched(base, target, policy, event, match)
	if err != nil {
		p.logger.Warn("policy evaluation failed, defaulting to allow", "rule", base.Name, "error", err)
		return applyOverride(Allowed, override), false
	}

	allowed := matched
	if base.RuleType.IsDenyType() {
		allowed = !matched
	}

	decision := Allowed
	if !allowed {
		decision = Denied
	}
	if base.AuditOnly && !allowed {
		decision = AllowedAuditOnly
	}

	return applyOverride(decision, override), cacheable
}

// resolveMatched computes the "matched" signal for the rule-type
// projection: the CEL verdict when the policy opts in via CelExpr,
// otherwise the caller-supplied match predicate.
func (p *Processor) resolveMatched(base watchitems.WatchItemPolicyBase, target faevent.Target, policy Policy, event *faevent.Event, match MatchFunc) (bool, bool, error) {
	if base.CelExpr == "" {
		return match(policy, target, event.Process), true, nil
	}
	if p.evaluator == nil {
		return false, false, faaerr.New(faaerr.KindConfiguration, "faa.resolveMatched", errExprWithoutEvaluator(base.Name))
	}

	compiled, err := p.compileCached(base.CelExpr)
	if err != nil {
		return false, false, err
	}

	act := celeval.NewActivation(
		celeval.TargetContext{
			SigningID:         event.Process.SigningID,
			TeamID:            event.Process.TeamID,
			CDHash:            event.Process.CDHash,
			CertificateSHA256: event.Process.CertificateSHA256,
			PlatformBinary:    event.Process.PlatformBinary,
			Path:              event.Process.BinaryPath,
		},
		func() []string { return event.Process.Args },
		func() map[string]string { return event.Process.Envs },
		func() int64 { return event.Process.EUID },
		func() string { return event.Process.CWD },
	)

	res, err := p.evaluator.Evaluate(compiled, act)
	if err != nil {
		return false, false, err
	}

	switch res.Verdict {
	case celeval.Allowlist:
		return true, res.Cacheable, nil
	case celeval.Blocklist:
		return false, res.Cacheable, nil
	default:
		// TouchID verdicts have no representation in the file-access
		// decision enum; treat as a block, fail-safe (DESIGN.md records
		// this as an explicit Open Question resolution): report whichever
		// match value makes this rule type deny.
		return base.RuleType.IsDenyType(), res.Cacheable, nil
	}
}

func (p *Processor) compileCached(expr string) (*celeval.Compiled, error) {
	p.mu.Lock()
	if c, ok := p.compiled[expr]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := p.evaluator.Compile(expr)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.compiled[expr] = c
	p.mu.Unlock()
	return c, nil
}

func (p *Processor) maybeLog(event *faevent.Event, target faevent.Target, policy Policy, decision Decision) {
	if !decision.shouldLog() {
		return
	}
	if !p.rateLimit.Admit() {
		return
	}

	base := policy.Base()
	suppressed := base.Silent

	p.mu.Lock()
	onLog := p.onLog
	onDenied := p.onDenied
	p.mu.Unlock()

	if onLog != nil {
		onLog(event, target, policy, decision)
	}
	if decision.isDenyFamily() && !suppressed && onDenied != nil {
		onDenied(event, base.CustomMessage, base.EventDetailURL, base.EventDetailText)
	}
}

func authCacheKey(auditToken, path string) string {
	return auditToken + "|" + path
}

func errExprWithoutEvaluator(ruleName string) error {
	return &exprWithoutEvaluatorError{ruleName: ruleName}
}

type exprWithoutEvaluatorError struct{ ruleName string }

func (e *exprWithoutEvaluatorError) Error() string {
	return "rule " + e.ruleName + " declares CelExpr but no CEL evaluator is configured"
}
