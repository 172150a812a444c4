package watchitems

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/northpole-faad/faad/internal/faaerr"
	"gopkg.in/yaml.v3"
)

// Document is the top-level configuration schema of spec.md §4.1.
type Document struct {
	Version         string                `yaml:"Version"`
	EventDetailURL  string                `yaml:"EventDetailURL"`
	EventDetailText string                `yaml:"EventDetailText"`
	WatchItems      map[string]RuleConfig `yaml:"WatchItems"`
}

// RuleConfig is a single named entry under the WatchItems dictionary.
type RuleConfig struct {
	Paths     []PathEntry     `yaml:"Paths"`
	Processes []ProcessConfig `yaml:"Processes"`
	Options   OptionsConfig   `yaml:"Options"`
}

// PathEntry accepts either a bare path string or a {Path, IsPrefix} dict.
// yaml.v3 decodes both shapes through UnmarshalYAML.
type PathEntry struct {
	Path     string
	IsPrefix bool
}

func (p *PathEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&p.Path)
	}
	var alias struct {
		Path     string `yaml:"Path"`
		IsPrefix bool   `yaml:"IsPrefix"`
	}
	if err := node.Decode(&alias); err != nil {
		return err
	}
	p.Path, p.IsPrefix = alias.Path, alias.IsPrefix
	return nil
}

// ProcessConfig is the YAML shape of a WatchItemProcess descriptor.
type ProcessConfig struct {
	BinaryPath        string `yaml:"BinaryPath"`
	SigningID         string `yaml:"SigningID"`
	TeamID            string `yaml:"TeamID"`
	CDHash            string `yaml:"CDHash"`
	CertificateSha256 string `yaml:"CertificateSha256"`
	PlatformBinary    *bool  `yaml:"PlatformBinary"`
}

// OptionsConfig is the YAML shape of the per-rule Options dict.
type OptionsConfig struct {
	AllowReadAccess        bool    `yaml:"AllowReadAccess"`
	AuditOnly              *bool   `yaml:"AuditOnly"`
	InvertProcessExceptions *bool  `yaml:"InvertProcessExceptions"` // deprecated
	RuleType               string `yaml:"RuleType"`
	EnableSilentMode       bool    `yaml:"EnableSilentMode"`
	EnableSilentTTYMode    bool    `yaml:"EnableSilentTTYMode"`
	BlockMessage           string  `yaml:"BlockMessage"`
	EventDetailURL         string  `yaml:"EventDetailURL"`
	EventDetailText        string  `yaml:"EventDetailText"`
	CelExpr                string  `yaml:"CelExpr"`
}

const maxPathLen = 1024 // PATH_MAX on Darwin

// parsedConfig is the result of validating a Document: two separate policy
// sets ready for indexing.
type parsedConfig struct {
	version         string
	eventDetailURL  string
	eventDetailText string
	dataPolicies    []*DataWatchItemPolicy
	processPolicies []*ProcessWatchItemPolicy
}

// parseDocument validates doc and projects it into data/process policy
// sets. On any error, the first failure is returned and the caller must
// discard the partial parse.
func parseDocument(doc *Document, expand GlobExpander) (*parsedConfig, error) {
	const op = "watchitems.parseDocument"

	if doc.Version == "" {
		return nil, faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("Version is required"))
	}

	out := &parsedConfig{
		version:         doc.Version,
		eventDetailURL:  doc.EventDetailURL,
		eventDetailText: doc.EventDetailText,
	}

	for name, rule := range doc.WatchItems {
		if err := ValidateName(name); err != nil {
			return nil, err
		}
		if len(rule.Paths) == 0 {
			return nil, faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("rule %q: Paths must be non-empty", name))
		}
		for _, pe := range rule.Paths {
			if len(pe.Path) == 0 || len(pe.Path) > maxPathLen {
				return nil, faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("rule %q: path length must be 1..%d", name, maxPathLen))
			}
		}

		ruleType, err := resolveRuleType(name, rule.Options)
		if err != nil {
			return nil, err
		}

		procs := make([]WatchItemProcess, 0, len(rule.Processes))
		for _, pc := range rule.Processes {
			platform := Unset
			if pc.PlatformBinary != nil {
				platform = TriFromBool(*pc.PlatformBinary)
			}
			p, err := NewWatchItemProcess(pc.BinaryPath, pc.SigningID, pc.TeamID, pc.CDHash, pc.CertificateSha256, platform)
			if err != nil {
				return nil, faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("rule %q: %w", name, err))
			}
			procs = append(procs, p)
		}

		auditOnly := true // default per spec.md §4.1 table
		if rule.Options.AuditOnly != nil {
			auditOnly = *rule.Options.AuditOnly
		}

		base := WatchItemPolicyBase{
			Name:            name,
			Version:         doc.Version,
			AllowReadAccess: rule.Options.AllowReadAccess,
			AuditOnly:       auditOnly,
			RuleType:        ruleType,
			Silent:          rule.Options.EnableSilentMode,
			SilentTTY:       rule.Options.EnableSilentTTYMode,
			CustomMessage:   rule.Options.BlockMessage,
			EventDetailURL:  rule.Options.EventDetailURL,
			EventDetailText: rule.Options.EventDetailText,
			Processes:       procs,
			CelExpr:         rule.Options.CelExpr,
		}

		if ruleType.IsPathRule() {
			for _, pe := range rule.Paths {
				pt := PathLiteral
				if pe.IsPrefix {
					pt = PathPrefix
				}
				expanded, err := expand(pe.Path)
				if err != nil {
					return nil, faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("rule %q: glob expansion: %w", name, err))
				}
				if len(expanded) == 0 {
					expanded = []string{pe.Path}
				}
				for _, p := range expanded {
					dp, err := NewDataWatchItemPolicy(base, p, pt)
					if err != nil {
						return nil, err
					}
					out.dataPolicies = append(out.dataPolicies, dp)
				}
			}
		} else {
			pairs := make([]PathTypePair, 0, len(rule.Paths))
			for _, pe := range rule.Paths {
				pt := PathLiteral
				if pe.IsPrefix {
					pt = PathPrefix
				}
				pairs = append(pairs, PathTypePair{Path: pe.Path, Type: pt})
			}
			pp, err := NewProcessWatchItemPolicy(base, pairs, expand)
			if err != nil {
				return nil, err
			}
			out.processPolicies = append(out.processPolicies, pp)
		}
	}

	return out, nil
}

// resolveRuleType derives the effective RuleType, handling the deprecated
// InvertProcessExceptions flag when RuleType itself is unset.
func resolveRuleType(name string, opts OptionsConfig) (RuleType, error) {
	if opts.RuleType != "" {
		return ParseRuleType(opts.RuleType)
	}
	if opts.InvertProcessExceptions != nil && *opts.InvertProcessExceptions {
		return PathsWithDeniedProcesses, nil
	}
	return PathsWithAllowedProcesses, nil
}

// decodeDocument parses raw YAML bytes into a Document.
func decodeDocument(raw []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, faaerr.New(faaerr.KindConfiguration, "watchitems.decodeDocument", err)
	}
	return &doc, nil
}

// readConfigFile reads and decodes the document at path.
func readConfigFile(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, faaerr.New(faaerr.KindConfiguration, "watchitems.readConfigFile", err)
	}
	return decodeDocument(raw)
}

// defaultGlobExpander expands a glob pattern via filepath.Glob. Patterns
// that match nothing are registered unexpanded by the callers
// (parseDocument for data rules, NewProcessWatchItemPolicy for process
// rules) so a not-yet-existing literal path can still be registered.
func defaultGlobExpander(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	return matches, nil
}
