// Package watchitems owns the hot-reloadable catalogue of rules describing
// which filesystem paths and which processes are subject to file-access
// control. It projects a declarative policy document into two in-memory
// indices — a path prefix tree (DataWatchItems) and a process list
// (ProcessWatchItems) — and notifies registered callbacks when either
// changes.
package watchitems

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/northpole-faad/faad/internal/faaerr"
	"github.com/northpole-faad/faad/internal/watchitems/trie"
)

// nameRegexp matches a valid rule identifier.
var nameRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// platformTeamIDSentinel is the special team_id value that implies
// PlatformBinary = true and clears TeamID.
const platformTeamIDSentinel = "platform"

const (
	maxSigningIDLen  = 512
	maxCustomMessage = 2048
	maxEventURL      = 6000
	maxEventText     = 48
	cdhashLen        = 20
	certSHA256Len    = 32
)

// PathType distinguishes an exact-match path entry from a directory-prefix
// entry.
type PathType int

const (
	PathLiteral PathType = iota
	PathPrefix
)

func (t PathType) String() string {
	if t == PathPrefix {
		return "Prefix"
	}
	return "Literal"
}

// RuleType controls how a (path, process) match result projects to an
// allow/deny verdict. See spec.md §4.2 "Rule-type projection".
type RuleType int

const (
	PathsWithAllowedProcesses RuleType = iota
	PathsWithDeniedProcesses
	ProcessesWithAllowedPaths
	ProcessesWithDeniedPaths
)

func ParseRuleType(s string) (RuleType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PATHSWITHALLOWEDPROCESSES":
		return PathsWithAllowedProcesses, nil
	case "PATHSWITHDENIEDPROCESSES":
		return PathsWithDeniedProcesses, nil
	case "PROCESSESWITHALLOWEDPATHS":
		return ProcessesWithAllowedPaths, nil
	case "PROCESSESWITHDENIEDPATHS":
		return ProcessesWithDeniedPaths, nil
	default:
		return 0, fmt.Errorf("unrecognized rule type %q", s)
	}
}

// IsPathRule reports whether the rule type governs a Data (path-indexed)
// watch item as opposed to a Process watch item.
func (rt RuleType) IsPathRule() bool {
	return rt == PathsWithAllowedProcesses || rt == PathsWithDeniedProcesses
}

// IsDenyType reports whether a match means "deny" (true) or "allow" (false).
func (rt RuleType) IsDenyType() bool {
	return rt == PathsWithDeniedProcesses || rt == ProcessesWithDeniedPaths
}

// TriState models an optional bool: unset / true / false.
type TriState int

const (
	Unset TriState = iota
	True
	False
)

func TriFromBool(b bool) TriState {
	if b {
		return True
	}
	return False
}

// WatchItemProcess is an immutable identity filter matched against a
// candidate process. At least one attribute must be set.
type WatchItemProcess struct {
	BinaryPath        string
	SigningID         string
	TeamID            string // cleared and implied "platform" when PlatformBinary is True
	CDHash            []byte // 20 bytes, decoded from hex
	CertificateSHA256 []byte // 32 bytes, decoded from hex
	PlatformBinary    TriState

	// signingIDWildcardPos is the byte offset of the single '*' in
	// SigningID, or -1 if SigningID has no wildcard. Derived, excluded
	// from equality.
	signingIDWildcardPos int
}

// NoWildcard is the sentinel value of SigningIDWildcardPos when SigningID
// contains no '*'.
const NoWildcard = -1

// SigningIDWildcardPos returns the precomputed wildcard offset, or
// NoWildcard.
func (p WatchItemProcess) SigningIDWildcardPos() int { return p.signingIDWildcardPos }

// HasWildcard reports whether SigningID contains a wildcard.
func (p WatchItemProcess) HasWildcard() bool { return p.signingIDWildcardPos != NoWildcard }

// NewWatchItemProcess validates and constructs a WatchItemProcess,
// splitting a combined "TID:SID" signing_id form and precomputing the
// wildcard position. Returns a *faaerr.Error of KindConfiguration on any
// invariant violation.
func NewWatchItemProcess(binaryPath, signingID, teamID string, cdhashHex, certSHA256Hex string, platformBinary TriState) (WatchItemProcess, error) {
	const op = "watchitems.NewWatchItemProcess"

	if len(signingID) > maxSigningIDLen {
		return WatchItemProcess{}, faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("signing_id exceeds %d bytes", maxSigningIDLen))
	}

	// Combined "TID:SID" form: split on the first ':'.
	if idx := strings.IndexByte(signingID, ':'); idx >= 0 && teamID == "" {
		teamID, signingID = signingID[:idx], signingID[idx+1:]
	}

	p := WatchItemProcess{
		BinaryPath: binaryPath,
		SigningID:  signingID,
		TeamID:     teamID,
	}

	if teamID == platformTeamIDSentinel {
		p.TeamID = ""
		p.PlatformBinary = True
	} else {
		p.PlatformBinary = platformBinary
	}

	if p.PlatformBinary == True && p.TeamID != "" {
		return WatchItemProcess{}, faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("platform_binary=true cannot be combined with a non-sentinel team_id"))
	}

	if cdhashHex != "" {
		b, err := hex.DecodeString(cdhashHex)
		if err != nil || len(b) != cdhashLen {
			return WatchItemProcess{}, faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("cdhash must be %d hex-decoded bytes", cdhashLen))
		}
		p.CDHash = b
	}

	if certSHA256Hex != "" {
		b, err := hex.DecodeString(certSHA256Hex)
		if err != nil || len(b) != certSHA256Len {
			return WatchItemProcess{}, faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("certificate_sha256 must be %d hex-decoded bytes", certSHA256Len))
		}
		p.CertificateSHA256 = b
	}

	p.signingIDWildcardPos = NoWildcard
	if wc := strings.IndexByte(p.SigningID, '*'); wc >= 0 {
		if strings.Count(p.SigningID, "*") > 1 {
			return WatchItemProcess{}, faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("signing_id may contain at most one wildcard"))
		}
		if p.PlatformBinary != True && p.TeamID == "" {
			return WatchItemProcess{}, faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("wildcarded signing_id requires platform_binary=true or team_id set"))
		}
		p.signingIDWildcardPos = wc
	}

	if p.BinaryPath == "" && p.SigningID == "" && p.TeamID == "" &&
		len(p.CDHash) == 0 && len(p.CertificateSHA256) == 0 && p.PlatformBinary == Unset {
		return WatchItemProcess{}, faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("at least one attribute must be set"))
	}

	return p, nil
}

// Equal reports attribute-wise equality, excluding the derived wildcard
// position.
func (p WatchItemProcess) Equal(o WatchItemProcess) bool {
	return p.BinaryPath == o.BinaryPath &&
		p.SigningID == o.SigningID &&
		p.TeamID == o.TeamID &&
		string(p.CDHash) == string(o.CDHash) &&
		string(p.CertificateSHA256) == string(o.CertificateSHA256) &&
		p.PlatformBinary == o.PlatformBinary
}

// key returns a stable string usable for set-dedup of process descriptors.
func (p WatchItemProcess) key() string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%x\x00%x\x00%d", p.BinaryPath, p.SigningID, p.TeamID, p.CDHash, p.CertificateSHA256, p.PlatformBinary)
}

// WatchItemPolicyBase holds the rule state common to both Data and Process
// watch items.
type WatchItemPolicyBase struct {
	Name            string
	Version         string
	AllowReadAccess bool
	AuditOnly       bool
	RuleType        RuleType
	Silent          bool
	SilentTTY       bool
	CustomMessage   string // empty means unset
	EventDetailURL  string
	EventDetailText string
	Processes       []WatchItemProcess
	// CelExpr is an opt-in dynamic predicate (spec.md §4.2 "CEL evaluation
	// (optional)"): when non-empty, ApplyPolicy compiles/evaluates it and
	// folds its verdict into the rule-type projection in place of the
	// static matched/not-matched result.
	CelExpr string
}

// ValidateName reports whether name matches the required identifier
// pattern.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return faaerr.New(faaerr.KindConfiguration, "watchitems.ValidateName", fmt.Errorf("invalid rule name %q", name))
	}
	return nil
}

func validateBase(b WatchItemPolicyBase) error {
	const op = "watchitems.validateBase"
	if err := ValidateName(b.Name); err != nil {
		return err
	}
	if b.Version == "" {
		return faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("version must be non-empty"))
	}
	if len(b.CustomMessage) > maxCustomMessage {
		return faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("custom_message exceeds %d chars", maxCustomMessage))
	}
	if len(b.EventDetailURL) > maxEventURL {
		return faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("event_detail_url exceeds %d chars", maxEventURL))
	}
	if len(b.EventDetailText) > maxEventText {
		return faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("event_detail_text exceeds %d chars", maxEventText))
	}
	return nil
}

// dedupProcesses removes duplicate process descriptors (by Equal),
// preserving first-seen order.
func dedupProcesses(procs []WatchItemProcess) []WatchItemProcess {
	seen := make(map[string]struct{}, len(procs))
	out := make([]WatchItemProcess, 0, len(procs))
	for _, p := range procs {
		k := p.key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}

// PathTypePair is an (path, path_type) tuple, comparable for set
// difference during reload.
type PathTypePair struct {
	Path string
	Type PathType
}

// DataWatchItemPolicy is a Base plus a single expanded (path, path_type).
// Glob expansion at load time produces one DataWatchItemPolicy per
// expanded path.
type DataWatchItemPolicy struct {
	WatchItemPolicyBase
	Path     string
	PathType PathType
}

// Base returns the policy's common rule state.
func (d *DataWatchItemPolicy) Base() WatchItemPolicyBase { return d.WatchItemPolicyBase }

// NewDataWatchItemPolicy validates and constructs a DataWatchItemPolicy.
func NewDataWatchItemPolicy(base WatchItemPolicyBase, path string, pathType PathType) (*DataWatchItemPolicy, error) {
	if err := validateBase(base); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, faaerr.New(faaerr.KindConfiguration, "watchitems.NewDataWatchItemPolicy", fmt.Errorf("path must be non-empty"))
	}
	base.Processes = dedupProcesses(base.Processes)
	return &DataWatchItemPolicy{WatchItemPolicyBase: base, Path: path, PathType: pathType}, nil
}

// ProcessWatchItemPolicy is a Base plus an immutable set of (path,
// path_type) pairs and the derived prefix tree built from their expanded
// glob matches, used to answer "does this target path belong to this
// process's allowed/denied set".
type ProcessWatchItemPolicy struct {
	WatchItemPolicyBase
	PathTypePairs []PathTypePair

	tree *trie.Tree
}

// Base returns the policy's common rule state.
func (p *ProcessWatchItemPolicy) Base() WatchItemPolicyBase { return p.WatchItemPolicyBase }

// NewProcessWatchItemPolicy validates and constructs a
// ProcessWatchItemPolicy, expanding globs in pairs into the internal
// prefix tree.
func NewProcessWatchItemPolicy(base WatchItemPolicyBase, pairs []PathTypePair, expand GlobExpander) (*ProcessWatchItemPolicy, error) {
	if err := validateBase(base); err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, faaerr.New(faaerr.KindConfiguration, "watchitems.NewProcessWatchItemPolicy", fmt.Errorf("at least one path required"))
	}
	base.Processes = dedupProcesses(base.Processes)

	t := trie.New()
	for _, pair := range pairs {
		expanded, err := expand(pair.Path)
		if err != nil {
			return nil, faaerr.New(faaerr.KindConfiguration, "watchitems.NewProcessWatchItemPolicy", err)
		}
		if len(expanded) == 0 {
			expanded = []string{pair.Path}
		}
		for _, p := range expanded {
			t.Insert(p, pair.Type == PathPrefix, nil)
		}
	}

	return &ProcessWatchItemPolicy{WatchItemPolicyBase: base, PathTypePairs: pairs, tree: t}, nil
}

// MatchesPath reports whether target belongs to this policy's path set
// (literal match, or under a prefix entry).
func (p *ProcessWatchItemPolicy) MatchesPath(target string) bool {
	if p.tree == nil {
		return false
	}
	_, ok := p.tree.Lookup(target)
	return ok
}

// GlobExpander expands a glob pattern into concrete paths. Supplied by the
// config loader so the pure policy types stay filesystem-agnostic for
// testing.
type GlobExpander func(pattern string) ([]string, error)
