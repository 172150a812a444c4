// Package faevent models the fixed set of file-access kernel event
// variants as a tagged union (spec.md §6) and extracts their target
// lists deterministically (spec.md §3 "PathTarget").
package faevent

import "fmt"

// Kind identifies which event variant an Event carries, i.e. which of its
// typed payload fields is populated.
type Kind int

const (
	KindUnspecified Kind = iota
	KindClone
	KindCreate
	KindCopyfile
	KindExchangedata
	KindLink
	KindOpen
	KindRename
	KindTruncate
	KindUnlink
)

func (k Kind) String() string {
	switch k {
	case KindClone:
		return "CLONE"
	case KindCreate:
		return "CREATE"
	case KindCopyfile:
		return "COPYFILE"
	case KindExchangedata:
		return "EXCHANGEDATA"
	case KindLink:
		return "LINK"
	case KindOpen:
		return "OPEN"
	case KindRename:
		return "RENAME"
	case KindTruncate:
		return "TRUNCATE"
	case KindUnlink:
		return "UNLINK"
	default:
		return "UNSPECIFIED"
	}
}

// OpenFlags mirrors the subset of open(2) flag bits the processor cares
// about: whether the call requested any write access.
type OpenFlags struct {
	WriteBits bool
}

// NewPath names a destination by directory plus filename, used by the
// CREATE and RENAME variants' "directory + name" target shape.
type NewPath struct {
	Dir      string
	Filename string
}

// ClonePayload is the CLONE variant: source file cloned to a new path
// inside target_dir.
type ClonePayload struct {
	Source    string
	TargetDir string
	TargetName string
}

// CreatePayload is the CREATE variant: a brand-new file materializing at
// Destination.
type CreatePayload struct {
	Destination NewPath
}

// CopyfilePayload is the COPYFILE variant. Exactly one of TargetFile or
// (TargetDir, TargetName) is set, mirroring the "existing_file vs
// dir+name" destination shape shared with RENAME.
type CopyfilePayload struct {
	Source     string
	TargetFile string
	TargetDir  string
	TargetName string
}

// ExchangedataPayload is the EXCHANGEDATA variant: two files trade
// contents, neither side is a read target.
type ExchangedataPayload struct {
	File1 string
	File2 string
}

// LinkPayload is the LINK variant: a hard link from Source into a new
// directory entry.
type LinkPayload struct {
	Source         string
	TargetDir      string
	TargetFilename string
}

// OpenPayload is the OPEN variant.
type OpenPayload struct {
	File  string
	Flags OpenFlags
}

// RenamePayload is the RENAME variant. Exactly one of ExistingFile or
// NewPath is set (spec.md §9's "destination missing is a validation
// error, not a silent discard").
type RenamePayload struct {
	Source       string
	ExistingFile string
	NewPath      *NewPath
}

// TruncatePayload is the TRUNCATE variant.
type TruncatePayload struct {
	Target string
}

// UnlinkPayload is the UNLINK variant.
type UnlinkPayload struct {
	Target string
}

// Event is a tagged union over the nine file-access variants. Exactly
// one of the typed payload fields is populated, selected by Kind.
type Event struct {
	Kind Kind

	Clone        *ClonePayload
	Create       *CreatePayload
	Copyfile     *CopyfilePayload
	Exchangedata *ExchangedataPayload
	Link         *LinkPayload
	Open         *OpenPayload
	Rename       *RenamePayload
	Truncate     *TruncatePayload
	Unlink       *UnlinkPayload

	// Process identifies the instigating process; shared across all
	// variants.
	Process ProcessInstigator
}

// ProcessInstigator carries the attributes of the process that
// triggered the event, as consumed by the signature gate and by process
// match predicates.
type ProcessInstigator struct {
	AuditToken        string
	BinaryPath        string
	SigningID         string
	TeamID            string
	CDHash            []byte
	CertificateSHA256 []byte
	PlatformBinary    bool
	CSSigned          bool
	CSValid           bool
	EUID              int64
	CWD               string
	Args              []string
	Envs              map[string]string
}

// Target is a per-event, per-target tuple (spec.md §3 "PathTarget").
type Target struct {
	AbsolutePath     string
	IsReadableHint   bool
	SourceFileHandle string // empty when no source handle is available
}

// Targets extracts the deterministic target list for e per the table in
// spec.md §6. It returns an error only for a variant whose required
// destination shape is entirely unset (spec.md §9), or for an
// unrecognized Kind.
func (e *Event) Targets() ([]Target, error) {
	switch e.Kind {
	case KindClone:
		p := e.Clone
		return []Target{
			{AbsolutePath: p.Source, IsReadableHint: true},
			{AbsolutePath: joinDirName(p.TargetDir, p.TargetName), IsReadableHint: false},
		}, nil
	case KindCreate:
		p := e.Create
		return []Target{
			{AbsolutePath: joinDirName(p.Destination.Dir, p.Destination.Filename), IsReadableHint: false},
		}, nil
	case KindCopyfile:
		p := e.Copyfile
		dest, err := copyfileDestination(p)
		if err != nil {
			return nil, err
		}
		return []Target{
			{AbsolutePath: p.Source, IsReadableHint: true},
			{AbsolutePath: dest, IsReadableHint: false},
		}, nil
	case KindExchangedata:
		p := e.Exchangedata
		return []Target{
			{AbsolutePath: p.File1, IsReadableHint: false},
			{AbsolutePath: p.File2, IsReadableHint: false},
		}, nil
	case KindLink:
		p := e.Link
		return []Target{
			{AbsolutePath: p.Source, IsReadableHint: false},
			{AbsolutePath: joinDirName(p.TargetDir, p.TargetFilename), IsReadableHint: false},
		}, nil
	case KindOpen:
		p := e.Open
		return []Target{
			{AbsolutePath: p.File, IsReadableHint: true},
		}, nil
	case KindRename:
		p := e.Rename
		dest, err := renameDestination(p)
		if err != nil {
			return nil, err
		}
		return []Target{
			{AbsolutePath: p.Source, IsReadableHint: false},
			{AbsolutePath: dest, IsReadableHint: false},
		}, nil
	case KindTruncate:
		p := e.Truncate
		return []Target{{AbsolutePath: p.Target, IsReadableHint: false}}, nil
	case KindUnlink:
		p := e.Unlink
		return []Target{{AbsolutePath: p.Target, IsReadableHint: false}}, nil
	default:
		return nil, fmt.Errorf("faevent: unrecognized event kind %v", e.Kind)
	}
}

// IsReadPass reports whether e is a request that only ever needs read
// access to its readable-hint target(s), per spec.md §4.2's read-pass
// special case: OPEN with no write bits, or CLONE/COPYFILE whose source
// is the readable side.
func (e *Event) IsReadPass() bool {
	switch e.Kind {
	case KindOpen:
		return !e.Open.Flags.WriteBits
	case KindClone, KindCopyfile:
		return true
	default:
		return false
	}
}

func copyfileDestination(p *CopyfilePayload) (string, error) {
	if p.TargetFile != "" {
		return p.TargetFile, nil
	}
	if p.TargetDir != "" || p.TargetName != "" {
		return joinDirName(p.TargetDir, p.TargetName), nil
	}
	return "", fmt.Errorf("faevent: COPYFILE event has neither target_file nor target_dir/target_name set")
}

func renameDestination(p *RenamePayload) (string, error) {
	if p.ExistingFile != "" {
		return p.ExistingFile, nil
	}
	if p.NewPath != nil {
		return joinDirName(p.NewPath.Dir, p.NewPath.Filename), nil
	}
	return "", fmt.Errorf("faevent: RENAME event has neither existing_file nor new_path set")
}

func joinDirName(dir, name string) string {
	if dir == "" {
		return name
	}
	if name == "" {
		return dir
	}
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}
