package telemetry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/northpole-faad/faad/internal/faa"
	"github.com/northpole-faad/faad/internal/faevent"
)

// Sink adapts a Store into faa.LogFunc, hash-chaining each inserted
// Record to the previous one (grounded on trace.ComputeHash's chained
// scheme, generalized from a per-session chain to a single process-wide
// chain since FAA decisions have no session concept).
type Sink struct {
	store  Store
	logger *slog.Logger

	mu       sync.Mutex
	prevHash string
}

// NewSink wraps store, priming the hash chain from its existing tail.
func NewSink(store Store, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{store: store, logger: logger.With("component", "telemetry.Sink"), prevHash: seed}
	if records, err := store.ListRecords(Filter{Limit: 1}); err == nil && len(records) > 0 {
		s.prevHash = records[0].Hash
	}
	return s
}

// LogFunc returns the faa.LogFunc callback to register with
// faa.Processor.RegisterLogFunc / daemon.Daemon.RegisterLogFunc.
func (s *Sink) LogFunc() faa.LogFunc {
	return s.record
}

func (s *Sink) record(event *faevent.Event, target faevent.Target, policy faa.Policy, decision faa.Decision) {
	ruleName := ""
	if policy != nil {
		ruleName = policy.Base().Name
	}

	s.mu.Lock()
	r := &Record{
		ID:         ulid.Make().String(),
		Timestamp:  time.Now(),
		AuditToken: event.Process.AuditToken,
		SigningID:  event.Process.SigningID,
		BinaryPath: event.Process.BinaryPath,
		EventKind:  event.Kind.String(),
		TargetPath: target.AbsolutePath,
		RuleName:   ruleName,
		Decision:   decision.String(),
		Cacheable:  false,
		PrevHash:   s.prevHash,
	}
	r.Hash = computeHash(r)
	s.prevHash = r.Hash
	s.mu.Unlock()

	if err := s.store.InsertRecord(r); err != nil {
		s.logger.Error("failed to persist telemetry record", "error", err, "rule", ruleName)
	}
}
