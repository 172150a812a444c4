package faa

import (
	"bytes"
	"strings"

	"github.com/northpole-faad/faad/internal/faevent"
	"github.com/northpole-faad/faad/internal/watchitems"
)

// Policy abstracts over *watchitems.DataWatchItemPolicy and
// *watchitems.ProcessWatchItemPolicy so ApplyPolicy can treat both rule
// families uniformly outside of the rule-type projection and the
// family-specific match predicate.
type Policy interface {
	Base() watchitems.WatchItemPolicyBase
}

// MatchFunc computes spec.md §4.2's "matched" signal for one (policy,
// target, instigating process) triple. Callers supply this because the
// semantics differ between Data rules (the active process must match one
// of the policy's process descriptors) and Process rules (the active
// process must match one of the policy's process descriptors and the
// target path must fall inside the policy's path set).
type MatchFunc func(policy Policy, target faevent.Target, proc faevent.ProcessInstigator) bool

// DefaultMatchPredicate is the family-dispatching MatchFunc grounded in
// spec.md §4.2's "match_predicate" description.
func DefaultMatchPredicate(policy Policy, target faevent.Target, proc faevent.ProcessInstigator) bool {
	switch p := policy.(type) {
	case *watchitems.DataWatchItemPolicy:
		return matchesAnyProcess(p.Processes, proc)
	case *watchitems.ProcessWatchItemPolicy:
		return matchesAnyProcess(p.Processes, proc) && p.MatchesPath(target.AbsolutePath)
	default:
		return false
	}
}

func matchesAnyProcess(descriptors []watchitems.WatchItemProcess, proc faevent.ProcessInstigator) bool {
	for _, d := range descriptors {
		if PolicyMatchesProcess(d, proc) {
			return true
		}
	}
	return false
}

// PolicyMatchesProcess implements spec.md §4.2's process-identity
// equality: every attribute set on d must equal the corresponding
// attribute of proc; an unset attribute on d is a wildcard. A
// single-`*` signing_id is matched by splitting around the wildcard
// position and testing prefix/suffix containment.
func PolicyMatchesProcess(d watchitems.WatchItemProcess, proc faevent.ProcessInstigator) bool {
	if d.BinaryPath != "" && d.BinaryPath != proc.BinaryPath {
		return false
	}
	if d.TeamID != "" && d.TeamID != proc.TeamID {
		return false
	}
	if len(d.CDHash) > 0 && !bytes.Equal(d.CDHash, proc.CDHash) {
		return false
	}
	if len(d.CertificateSHA256) > 0 && !bytes.Equal(d.CertificateSHA256, proc.CertificateSHA256) {
		return false
	}
	if d.PlatformBinary != watchitems.Unset {
		want := d.PlatformBinary == watchitems.True
		if want != proc.PlatformBinary {
			return false
		}
	}
	if d.SigningID != "" && !signingIDMatches(d, proc.SigningID) {
		return false
	}
	return true
}

func signingIDMatches(d watchitems.WatchItemProcess, candidate string) bool {
	if !d.HasWildcard() {
		return d.SigningID == candidate
	}
	pos := d.SigningIDWildcardPos()
	leading := d.SigningID[:pos]
	trailing := d.SigningID[pos+1:]
	if len(candidate) == 0 {
		return false
	}
	return strings.HasPrefix(candidate, leading) && strings.HasSuffix(candidate, trailing)
}
