// Package daemon assembles the WatchItems store, the CEL evaluator, and
// the FAA processor into a single running process, wiring an injected
// event Provider to the decision pipeline (spec.md §6 init order).
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/northpole-faad/faad/internal/celeval"
	"github.com/northpole-faad/faad/internal/faa"
	"github.com/northpole-faad/faad/internal/faaerr"
	"github.com/northpole-faad/faad/internal/faevent"
	"github.com/northpole-faad/faad/internal/watchitems"
)

// Config holds the process-wide settings spec.md §4.1/§4.2 expose as
// construction parameters.
type Config struct {
	ConfigPath             string
	ConfigDict             *watchitems.Document
	ReapplyInterval        time.Duration
	LogsPerSecond          int
	LogWindowSeconds       int
	BadSignatureProtection bool
	Logger                 *slog.Logger
}

// Daemon owns the process-wide state spec.md §6 names: the configurator
// snapshot (owned by Store), the WatchItems shared pointer, the
// FAAPolicyProcessor, the CEL Evaluator, and the event Provider.
type Daemon struct {
	store     *watchitems.Store
	evaluator *celeval.Evaluator
	processor *faa.Processor
	provider  faevent.Provider
	logger    *slog.Logger

	mu       sync.Mutex
	override faa.OverrideAction
}

// New builds a Daemon in this order: configurator/WatchItems (Create) →
// CEL Evaluator → FAAPolicyProcessor → wire up callbacks. The Evaluator is
// built before the Processor because NewProcessor takes it as an argument.
// The provider is not enabled until Start.
func New(cfg Config, provider faevent.Provider) (*Daemon, error) {
	const op = "daemon.New"
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "daemon.Daemon")

	store, err := watchitems.Create(cfg.ConfigPath, cfg.ConfigDict, cfg.ReapplyInterval, logger)
	if err != nil {
		return nil, faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("watchitems.Create: %w", err))
	}

	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, faaerr.New(faaerr.KindCompile, op, fmt.Errorf("celeval.NewEvaluator: %w", err))
	}

	processor := faa.NewProcessor(evaluator, cfg.LogsPerSecond, cfg.LogWindowSeconds, logger)
	processor.SetBadSignatureProtection(cfg.BadSignatureProtection)

	d := &Daemon{
		store:     store,
		evaluator: evaluator,
		processor: processor,
		provider:  provider,
		logger:    logger,
	}

	store.RegisterDataWatchItemsUpdatedCallback(func(total int, added, removed []string) {
		d.logger.Info("data watch items updated", "total", total, "added", len(added), "removed", len(removed))
	})
	store.RegisterProcWatchItemsUpdatedCallback(func(total int) {
		d.logger.Info("process watch items updated", "total", total)
	})

	if provider != nil {
		provider.RegisterHandler(d.handleEvent)
		provider.RegisterExitHandler(d.processor.NotifyExit)
	}

	return d, nil
}

// RegisterLogFunc/RegisterDeniedBlockFunc forward to the underlying
// Processor, so callers can wire telemetry/notification sinks without
// reaching into daemon internals.
func (d *Daemon) RegisterLogFunc(fn faa.LogFunc) { d.processor.RegisterLogFunc(fn) }

func (d *Daemon) RegisterDeniedBlockFunc(fn faa.DeniedBlockFunc) {
	d.processor.RegisterDeniedBlockFunc(fn)
}

// SetOverride installs the process-wide override action applied to every
// decision (spec.md §4.2's override_action, exposed here as daemon-level
// configuration rather than a per-call argument from the event provider).
func (d *Daemon) SetOverride(o faa.OverrideAction) {
	d.mu.Lock()
	d.override = o
	d.mu.Unlock()
}

func (d *Daemon) currentOverride() faa.OverrideAction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.override
}

// ModifyRateLimiterSettings forwards to the Processor.
func (d *Daemon) ModifyRateLimiterSettings(logsPerSec, windowSecs int) {
	d.processor.ModifyRateLimiterSettings(logsPerSec, windowSecs)
}

// State returns the WatchItems store's current metadata snapshot.
func (d *Daemon) State() watchitems.State { return d.store.State() }

// Start begins periodic/hot reload of the WatchItems store and enables
// the event provider (spec.md §6's "enable ES clients" step).
func (d *Daemon) Start(ctx context.Context) error {
	d.store.BeginPeriodicTask()
	if d.provider == nil {
		return nil
	}
	return d.provider.Enable(ctx)
}

// Stop disables the event provider and halts the store's reload timers.
func (d *Daemon) Stop() error {
	var err error
	if d.provider != nil {
		err = d.provider.Disable()
	}
	d.store.Stop()
	return err
}

// handleEvent is the Provider callback: extract targets, try the
// immediate (cached) response, else assemble target_policy_pairs from
// both WatchItems indices and run the full pipeline (spec.md §4.2).
func (d *Daemon) handleEvent(ctx context.Context, event *faevent.Event) faevent.Decision {
	if cached, ok, fresh := d.processor.ImmediateResponse(event); ok && fresh {
		return faevent.Decision{Allow: cached == faa.ResultAllow, Cacheable: true}
	}

	targets, err := event.Targets()
	if err != nil {
		d.logger.Warn("event target extraction failed, defaulting to allow", "error", err)
		return faevent.Decision{Allow: true}
	}

	var pairs []faa.TargetPolicyPair
	d.store.FindPoliciesForTargets(func(lookup watchitems.LookupFunc) {
		for i, t := range targets {
			if p, ok := lookup(t.AbsolutePath); ok {
				pairs = append(pairs, faa.TargetPolicyPair{TargetIndex: i, Policy: p})
			}
		}
	})
	d.store.IterateProcessPolicies(func(p *watchitems.ProcessWatchItemPolicy) bool {
		for i := range targets {
			pairs = append(pairs, faa.TargetPolicyPair{TargetIndex: i, Policy: p})
		}
		return false
	})

	result, cacheable := d.processor.ProcessMessage(event, pairs, faa.DefaultMatchPredicate, d.currentOverride())
	return faevent.Decision{Allow: result == faa.ResultAllow, Cacheable: cacheable}
}
