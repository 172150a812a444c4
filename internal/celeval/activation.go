package celeval

import (
	"sync"
	"time"

	"github.com/google/cel-go/interpreter"
)

// TargetContext is the static execution context CEL expressions evaluate
// against: signing time, identity, and other attributes fixed for the
// lifetime of the decision being evaluated. Every field here is
// cacheable — referencing only TargetContext fields never flips an
// Activation's cacheable flag.
type TargetContext struct {
	SigningTime       time.Time
	SigningID         string
	TeamID            string
	CDHash            []byte
	CertificateSHA256 []byte
	PlatformBinary    bool
	Path              string
}

func (t TargetContext) celMap() map[string]any {
	return map[string]any{
		"signing_time":       t.SigningTime,
		"signing_id":         t.SigningID,
		"team_id":            t.TeamID,
		"cdhash":             t.CDHash,
		"certificate_sha256": t.CertificateSHA256,
		"platform_binary":    t.PlatformBinary,
		"path":               t.Path,
	}
}

// ArgsProducer lazily supplies the ordered argument list. Invoked at most
// once per Activation.
type ArgsProducer func() []string

// EnvsProducer lazily supplies the environment map. Invoked at most once
// per Activation.
type EnvsProducer func() map[string]string

// EuidProducer lazily supplies the effective UID. Invoked at most once
// per Activation.
type EuidProducer func() int64

// CwdProducer lazily supplies the working directory. Invoked at most once
// per Activation.
type CwdProducer func() string

// Activation binds a fixed variable set for one CEL evaluation. It
// implements cel-go's interpreter.Activation interface directly so that
// dynamic producers (args/envs/euid/cwd) are invoked only if the compiled
// expression actually references them (honoring short-circuit evaluation),
// and memoized so each is invoked at most once even if referenced multiple
// times. Activation is not safe to share across threads or across more
// than one evaluation — build a fresh one per decision.
type Activation struct {
	target TargetContext

	argsFn ArgsProducer
	envsFn EnvsProducer
	euidFn EuidProducer
	cwdFn  CwdProducer

	mu         sync.Mutex
	args       []string
	argsLoaded bool
	envs       map[string]string
	envsLoaded bool
	euid       int64
	euidLoaded bool
	cwd        string
	cwdLoaded  bool

	dynamicAccessed bool
}

// NewActivation builds an Activation for one evaluation. Any producer may
// be nil, in which case the corresponding variable resolves to its zero
// value if referenced (still marking the result non-cacheable).
func NewActivation(target TargetContext, args ArgsProducer, envs EnvsProducer, euid EuidProducer, cwd CwdProducer) *Activation {
	return &Activation{target: target, argsFn: args, envsFn: envs, euidFn: euid, cwdFn: cwd}
}

// ResolveName implements interpreter.Activation.
func (a *Activation) ResolveName(name string) (any, bool) {
	switch name {
	case "target":
		return a.target.celMap(), true
	case "args":
		return a.resolveArgs(), true
	case "envs":
		return a.resolveEnvs(), true
	case "euid":
		return a.resolveEuid(), true
	case "cwd":
		return a.resolveCwd(), true
	default:
		return nil, false
	}
}

// Parent implements interpreter.Activation. Activations in this package
// never nest.
func (a *Activation) Parent() interpreter.Activation { return nil }

var _ interpreter.Activation = (*Activation)(nil)

func (a *Activation) resolveArgs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dynamicAccessed = true
	if !a.argsLoaded {
		if a.argsFn != nil {
			a.args = a.argsFn()
		}
		a.argsLoaded = true
	}
	return a.args
}

func (a *Activation) resolveEnvs() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dynamicAccessed = true
	if !a.envsLoaded {
		if a.envsFn != nil {
			a.envs = a.envsFn()
		}
		a.envsLoaded = true
	}
	return a.envs
}

func (a *Activation) resolveEuid() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dynamicAccessed = true
	if !a.euidLoaded {
		if a.euidFn != nil {
			a.euid = a.euidFn()
		}
		a.euidLoaded = true
	}
	return a.euid
}

func (a *Activation) resolveCwd() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dynamicAccessed = true
	if !a.cwdLoaded {
		if a.cwdFn != nil {
			a.cwd = a.cwdFn()
		}
		a.cwdLoaded = true
	}
	return a.cwd
}

// cacheable reports whether no dynamic variable was accessed during this
// Activation's lifetime so far.
func (a *Activation) cacheable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.dynamicAccessed
}

// MemoizedArgs exists only to support memoization tests that want to
// assert "invoked at most once" against a counting producer; the counting
// is the test's own responsibility (wrap the producer), this accessor just
// exposes the current memoized args value and whether it has been loaded.
func (a *Activation) MemoizedArgs() ([]string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.args, a.argsLoaded
}
