package watchitems

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/northpole-faad/faad/internal/faaerr"
	"github.com/northpole-faad/faad/internal/watchitems/trie"
)

// minReapplyInterval is the floor spec.md §4.1 imposes on the periodic
// reload interval.
const minReapplyInterval = 15 * time.Second

// DataUpdateFunc is invoked asynchronously, in a new goroutine, whenever
// a reload swaps the active DataWatchItems index. Invocations from
// successive reloads are not ordered with respect to each other.
type DataUpdateFunc func(totalPathCount int, newPaths, removedPaths []string)

// ProcUpdateFunc is invoked whenever a reload swaps the active
// ProcessWatchItems index.
type ProcUpdateFunc func(totalPolicyCount int)

// index is the atomically-swapped snapshot of both projections.
type index struct {
	dataTree        *trie.Tree // path -> *DataWatchItemPolicy
	dataPathPairs   map[PathTypePair]struct{}
	processPolicies []*ProcessWatchItemPolicy
	version         string
	eventDetailURL  string
	eventDetailText string
}

func emptyIndex() *index {
	return &index{
		dataTree:      trie.New(),
		dataPathPairs: map[PathTypePair]struct{}{},
	}
}

// State is a point-in-time snapshot of Store metadata.
type State struct {
	RuleCount    int
	Version      string
	ConfigPath   string
	LastReloadAt time.Time
}

// Store owns the active set of data- and process-oriented watch item
// policies. See spec.md §4.1 for the full contract.
type Store struct {
	mu  sync.RWMutex // guards idx and callbacks
	idx *index

	reapplyInterval time.Duration
	configPath      string
	configDict      *Document
	hasPath         bool
	hasDict         bool

	dataCb DataUpdateFunc
	procCb ProcUpdateFunc

	expand GlobExpander
	logger *slog.Logger

	lastReload time.Time

	ticker     *time.Ticker
	tickerDone chan struct{}
	fsw        *fsnotify.Watcher
	fswDone    chan struct{}
	started    bool
}

// Create builds a Store from either a config file path or an in-memory
// Document, mirroring spec.md §4.1's Create contract. Returns (nil, error)
// when both sources are set, neither is set, or reapplyInterval is below
// the 15s floor.
func Create(configPath string, configDict *Document, reapplyInterval time.Duration, logger *slog.Logger) (*Store, error) {
	const op = "watchitems.Create"
	if logger == nil {
		logger = slog.Default()
	}

	if configPath != "" && configDict != nil {
		return nil, faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("exactly one of configPath or configDict must be set"))
	}
	if configPath == "" && configDict == nil {
		return nil, faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("exactly one of configPath or configDict must be set"))
	}
	if reapplyInterval < minReapplyInterval {
		return nil, faaerr.New(faaerr.KindConfiguration, op, fmt.Errorf("reapplyInterval must be >= %s", minReapplyInterval))
	}

	s := &Store{
		idx:             emptyIndex(),
		reapplyInterval: reapplyInterval,
		expand:          defaultGlobExpander,
		logger:          logger.With("component", "watchitems.Store"),
	}
	if configPath != "" {
		s.configPath, s.hasPath = configPath, true
	} else {
		s.configDict, s.hasDict = configDict, true
	}

	if err := s.reload(); err != nil {
		s.logger.Error("initial load failed", "error", err)
	}

	return s, nil
}

// SetConfigPath atomically swaps the store to a file-backed source and
// triggers an immediate reload.
func (s *Store) SetConfigPath(path string) error {
	s.mu.Lock()
	s.configPath, s.hasPath = path, true
	s.configDict, s.hasDict = nil, false
	s.mu.Unlock()
	return s.reload()
}

// SetConfig atomically swaps the store to an in-memory source and
// triggers an immediate reload.
func (s *Store) SetConfig(doc *Document) error {
	s.mu.Lock()
	s.configDict, s.hasDict = doc, true
	s.configPath, s.hasPath = "", false
	s.mu.Unlock()
	return s.reload()
}

// RegisterDataWatchItemsUpdatedCallback installs the (at most one) active
// data-index update callback.
func (s *Store) RegisterDataWatchItemsUpdatedCallback(cb DataUpdateFunc) {
	s.mu.Lock()
	s.dataCb = cb
	s.mu.Unlock()
}

// RegisterProcWatchItemsUpdatedCallback installs the (at most one) active
// process-index update callback.
func (s *Store) RegisterProcWatchItemsUpdatedCallback(cb ProcUpdateFunc) {
	s.mu.Lock()
	s.procCb = cb
	s.mu.Unlock()
}

// BeginPeriodicTask starts the reload timer. Idempotent.
func (s *Store) BeginPeriodicTask() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.ticker = time.NewTicker(s.reapplyInterval)
	s.tickerDone = make(chan struct{})
	go func() {
		for {
			select {
			case <-s.tickerDone:
				return
			case <-s.ticker.C:
				if err := s.reload(); err != nil {
					s.logger.Error("periodic reload failed", "error", err)
				}
			}
		}
	}()

	if s.hasPath {
		if err := s.startFSWatch(); err != nil {
			s.logger.Warn("could not start fsnotify watch, relying on periodic reload only", "error", err)
		}
	}
}

// Stop halts the periodic timer and filesystem watcher, if running.
func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	if s.ticker != nil {
		s.ticker.Stop()
		close(s.tickerDone)
	}
	if s.fsw != nil {
		_ = s.fsw.Close()
		<-s.fswDone
		s.fsw = nil
	}
}

func (s *Store) startFSWatch() error {
	absPath, err := filepath.Abs(s.configPath)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(absPath)); err != nil {
		_ = w.Close()
		return err
	}
	s.fsw = w
	s.fswDone = make(chan struct{})

	go func() {
		defer close(s.fswDone)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if abs, _ := filepath.Abs(ev.Name); abs != absPath {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if err := s.reload(); err != nil {
						s.logger.Error("fsnotify-triggered reload failed", "error", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Error("fsnotify error", "error", err)
			}
		}
	}()
	return nil
}

// reload runs the algorithm of spec.md §4.1: read, parse, build new
// indices, decide whether to swap, compute path deltas, swap under the
// writer lock, then dispatch callbacks asynchronously.
func (s *Store) reload() error {
	s.mu.RLock()
	hasPath, configPath := s.hasPath, s.configPath
	hasDict, configDict := s.hasDict, s.configDict
	expand := s.expand
	s.mu.RUnlock()

	var doc *Document
	noConfig := false
	switch {
	case hasPath:
		d, err := readConfigFile(configPath)
		if err != nil {
			// Missing/unreadable file with a path source => "no config".
			noConfig = true
		} else {
			doc = d
		}
	case hasDict:
		if configDict == nil {
			doc = &Document{}
		} else {
			doc = configDict
		}
	default:
		return faaerr.New(faaerr.KindConfiguration, "watchitems.reload", fmt.Errorf("no config source set"))
	}

	parsed := &parsedConfig{}
	if !noConfig {
		p, err := parseDocument(doc, expand)
		if err != nil {
			s.logger.Error("configuration rejected, keeping previous state", "error", err)
			return err
		}
		parsed = p
	}

	newIdx := emptyIndex()
	newIdx.version, newIdx.eventDetailURL, newIdx.eventDetailText = parsed.version, parsed.eventDetailURL, parsed.eventDetailText
	for _, dp := range parsed.dataPolicies {
		pair := PathTypePair{Path: dp.Path, Type: dp.PathType}
		newIdx.dataTree.Insert(dp.Path, dp.PathType == PathPrefix, dp)
		newIdx.dataPathPairs[pair] = struct{}{}
	}
	newIdx.processPolicies = parsed.processPolicies

	s.mu.Lock()
	oldIdx := s.idx
	if !configsDiffer(oldIdx, newIdx) {
		s.mu.Unlock()
		return nil
	}
	s.idx = newIdx
	s.lastReload = time.Now()
	dataCb, procCb := s.dataCb, s.procCb
	s.mu.Unlock()

	newPaths, removedPaths := diffPairs(oldIdx.dataPathPairs, newIdx.dataPathPairs)

	if dataCb != nil {
		go dataCb(len(newIdx.dataPathPairs), newPaths, removedPaths)
	}
	if procCb != nil {
		go procCb(len(newIdx.processPolicies))
	}

	return nil
}

func configsDiffer(a, b *index) bool {
	if a.version != b.version || a.eventDetailURL != b.eventDetailURL || a.eventDetailText != b.eventDetailText {
		return true
	}
	if len(a.dataPathPairs) != len(b.dataPathPairs) {
		return true
	}
	for k := range a.dataPathPairs {
		if _, ok := b.dataPathPairs[k]; !ok {
			return true
		}
	}
	if len(a.processPolicies) != len(b.processPolicies) {
		return true
	}
	return false
}

func diffPairs(oldPairs, newPairs map[PathTypePair]struct{}) (added, removed []string) {
	for p := range newPairs {
		if _, ok := oldPairs[p]; !ok {
			added = append(added, p.Path)
		}
	}
	for p := range oldPairs {
		if _, ok := newPairs[p]; !ok {
			removed = append(removed, p.Path)
		}
	}
	return added, removed
}

// LookupFunc resolves an absolute path to the policy of the longest
// matching prefix, or (nil, false).
type LookupFunc func(absPath string) (*DataWatchItemPolicy, bool)

// FindPoliciesForTargets invokes iterBlock, under a reader lock, with a
// lookup function bound to the current DataWatchItems snapshot.
func (s *Store) FindPoliciesForTargets(iterBlock func(lookup LookupFunc)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.idx

	iterBlock(func(absPath string) (*DataWatchItemPolicy, bool) {
		v, ok := idx.dataTree.Lookup(absPath)
		if !ok {
			return nil, false
		}
		return v.(*DataWatchItemPolicy), true
	})
}

// IterateProcessPolicies enumerates process policies under a reader lock,
// stopping early when checkBlock returns true ("stop").
func (s *Store) IterateProcessPolicies(checkBlock func(*ProcessWatchItemPolicy) (stop bool)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policies := s.idx.processPolicies

	for _, p := range policies {
		if checkBlock(p) {
			return
		}
	}
}

// State returns a snapshot of store metadata.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		RuleCount:    len(s.idx.dataPathPairs) + len(s.idx.processPolicies),
		Version:      s.idx.version,
		ConfigPath:   s.configPath,
		LastReloadAt: s.lastReload,
	}
}

// EventDetailLinkInfo resolves (url, text) from policy (if non-nil),
// falling back to the process-global defaults. ok is false when both url
// and text resolve to empty strings; when only one of them is empty, it
// is returned as "" with ok=true.
func (s *Store) EventDetailLinkInfo(base *WatchItemPolicyBase) (url string, text string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	url, text = s.idx.eventDetailURL, s.idx.eventDetailText
	if base != nil {
		if base.EventDetailURL != "" {
			url = base.EventDetailURL
		}
		if base.EventDetailText != "" {
			text = base.EventDetailText
		}
	}
	return url, text, url != "" || text != ""
}
