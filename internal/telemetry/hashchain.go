package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// seed is the fixed prev_hash of the first Record ever inserted, so an
// empty chain has a deterministic starting point to verify against.
const seed = "faad-telemetry-genesis"

// computeHash hashes the fields that make a Record tamper-evident,
// chaining to the previous entry's hash (grounded on trace.ComputeHash's
// pipe-joined-field scheme).
func computeHash(r *Record) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
		r.ID, r.AuditToken, r.EventKind, r.TargetPath, r.RuleName, r.Decision, r.PrevHash)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// verifyChain walks records in insertion order and checks hash integrity,
// returning the index of the first break, or -1 if the chain is intact.
func verifyChain(records []*Record) (bool, int) {
	prev := seed
	for i, r := range records {
		if r.PrevHash != prev {
			return false, i
		}
		if r.Hash != computeHash(r) {
			return false, i
		}
		prev = r.Hash
	}
	return true, -1
}
