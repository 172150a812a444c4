package celeval

// Verdict is a CEL-produced symbol consumed downstream by the FAA policy
// processor (spec.md §3 "CEL Result").
type Verdict int

const (
	// VerdictUnspecified is the zero value and never a legitimate result.
	VerdictUnspecified Verdict = iota
	Allowlist
	Blocklist
	RequireTouchID
	RequireTouchIDOnly
)

func (v Verdict) String() string {
	switch v {
	case Allowlist:
		return "ALLOWLIST"
	case Blocklist:
		return "BLOCKLIST"
	case RequireTouchID:
		return "REQUIRE_TOUCHID"
	case RequireTouchIDOnly:
		return "REQUIRE_TOUCHID_ONLY"
	default:
		return "UNSPECIFIED"
	}
}

// enumConstants is the set of non-zero enum values exposed as CEL global
// names, per spec.md §3 "every non-zero enum constant exposed as a global
// name".
var enumConstants = map[string]int64{
	"ALLOWLIST":            int64(Allowlist),
	"BLOCKLIST":            int64(Blocklist),
	"REQUIRE_TOUCHID":      int64(RequireTouchID),
	"REQUIRE_TOUCHID_ONLY": int64(RequireTouchIDOnly),
}

func verdictFromInt(n int64) (Verdict, bool) {
	switch n {
	case int64(Allowlist):
		return Allowlist, true
	case int64(Blocklist):
		return Blocklist, true
	case int64(RequireTouchID):
		return RequireTouchID, true
	case int64(RequireTouchIDOnly):
		return RequireTouchIDOnly, true
	default:
		return VerdictUnspecified, false
	}
}
