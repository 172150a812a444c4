// Package telemetry is the peripheral audit/telemetry sink for FAA
// decisions. spec.md §1 names "a telemetry writer/serializer pipeline" as
// an external collaborator the core only calls through a logging
// callback; this package gives that collaborator a concrete,
// non-core implementation so the module is runnable end-to-end.
package telemetry

import "time"

// Record is one persisted decision: a denormalized, hash-chained audit
// entry for a single (event, target, policy) pair FAA's logging path
// admitted (spec.md §4.2 "Logging decision").
type Record struct {
	ID         string
	Timestamp  time.Time
	AuditToken string
	SigningID  string
	BinaryPath string
	EventKind  string
	TargetPath string
	RuleName   string
	Decision   string
	Cacheable  bool
	PrevHash   string
	Hash       string
}

// Filter narrows ListRecords queries.
type Filter struct {
	AuditToken string
	RuleName   string
	Since      time.Time
	Limit      int
}

// Store persists and queries Records. Mirrors trace.Store's shape,
// trimmed to the subset FAA's logging path needs.
type Store interface {
	Initialize() error
	Close() error

	InsertRecord(r *Record) error
	ListRecords(filter Filter) ([]*Record, error)
	VerifyHashChain() (bool, int, error)
	PruneOlderThan(days int) (int64, error)
}
