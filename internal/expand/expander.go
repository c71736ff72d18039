// Package expand rewrites search queries by appending dictionary synonyms.
// Expansion feeds the lexical retrieval leg only; the dense leg embeds the
// raw query.
package expand

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Expansion describes one query rewrite. Field names follow the wire shape
// returned to task consumers.
type Expansion struct {
	OriginalQuery    string              `json:"original_query"`
	ExpandedQuery    string              `json:"expanded_query"`
	FoundSynonyms    map[string][]string `json:"found_synonyms"`
	ExpansionTerms   []string            `json:"expansion_terms"`
	TermsExpanded    int                 `json:"terms_expanded"`
	SynonymsAdded    int                 `json:"synonyms_added"`
	ExpansionApplied bool                `json:"expansion_applied"`
	Strategy         string              `json:"expansion_strategy,omitempty"`
	MaxSynonymsUsed  int                 `json:"max_synonyms_used,omitempty"`
}

// Stats summarizes the loaded dictionary.
type Stats struct {
	TotalTerms    int     `json:"total_terms"`
	TotalSynonyms int     `json:"total_synonyms"`
	AvgPerTerm    float64 `json:"avg_synonyms_per_term"`
}

// Expander holds the synonym dictionary and serves concurrent expansions.
// When constructed with a dictionary path it can hot-reload the file via
// Watch.
type Expander struct {
	mu     sync.RWMutex
	dict   map[string][]string
	path   string
	logger *slog.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	stopped bool
}

// Option configures an Expander.
type Option func(*Expander)

// WithDictionary replaces the built-in dictionary.
func WithDictionary(dict map[string][]string) Option {
	return func(e *Expander) {
		e.dict = dict
	}
}

// WithPath sets a JSON dictionary file that overrides the built-in set.
func WithPath(path string) Option {
	return func(e *Expander) {
		e.path = path
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Expander) {
		e.logger = logger
	}
}

// New creates an Expander. A configured dictionary file that fails to load
// is logged and the built-in dictionary kept, so startup never blocks on a
// bad synonyms file.
func New(opts ...Option) *Expander {
	e := &Expander{
		dict:   defaultSynonyms,
		logger: slog.Default(),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.path != "" {
		if err := e.Reload(); err != nil {
			e.logger.Warn("synonym dictionary load failed, using built-in set",
				slog.String("path", e.path),
				slog.String("error", err.Error()))
		}
	}
	e.logger.Info("synonym expander ready", slog.Int("terms", e.TermCount()))
	return e
}

// Reload reads the dictionary file and swaps it in atomically.
func (e *Expander) Reload() error {
	if e.path == "" {
		return nil
	}
	data, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("read synonyms file: %w", err)
	}
	dict := make(map[string][]string)
	if err := json.Unmarshal(data, &dict); err != nil {
		return fmt.Errorf("parse synonyms file: %w", err)
	}
	lowered := make(map[string][]string, len(dict))
	for term, synonyms := range dict {
		lowered[strings.ToLower(term)] = synonyms
	}

	e.mu.Lock()
	e.dict = lowered
	e.mu.Unlock()

	e.logger.Info("synonym dictionary loaded",
		slog.String("path", e.path),
		slog.Int("terms", len(lowered)))
	return nil
}

// Expand appends up to maxPerTerm synonyms for every dictionary term found
// in the query. Synonym order follows term extraction order, so repeated
// calls produce identical rewrites.
func (e *Expander) Expand(query string, maxPerTerm int) Expansion {
	if maxPerTerm < 0 {
		maxPerTerm = 0
	}
	terms := extractTerms(query)

	found := make(map[string][]string)
	var selected []string
	seen := make(map[string]struct{})

	e.mu.RLock()
	for _, term := range terms {
		synonyms, ok := e.dict[term]
		if !ok {
			continue
		}
		if len(synonyms) > maxPerTerm {
			synonyms = synonyms[:maxPerTerm]
		}
		found[term] = synonyms
		for _, s := range synonyms {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			selected = append(selected, s)
		}
	}
	e.mu.RUnlock()

	expanded := query
	if len(selected) > 0 {
		expanded = query + " " + strings.Join(selected, " ")
	}

	return Expansion{
		OriginalQuery:    query,
		ExpandedQuery:    expanded,
		FoundSynonyms:    found,
		ExpansionTerms:   selected,
		TermsExpanded:    len(found),
		SynonymsAdded:    len(selected),
		ExpansionApplied: len(selected) > 0,
	}
}

// ExpandSmart picks the synonym budget from the query domain: technical
// queries get 3 synonyms per term, everything else 2.
func (e *Expander) ExpandSmart(query string) Expansion {
	lowered := strings.ToLower(query)

	maxSynonyms := 2
	switch {
	case containsAny(lowered, technicalProbeTerms):
		maxSynonyms = 3
	case containsAny(lowered, businessProbeTerms):
	case containsAny(lowered, designProbeTerms):
	}

	result := e.Expand(query, maxSynonyms)
	result.Strategy = "smart"
	result.MaxSynonymsUsed = maxSynonyms
	return result
}

// SynonymsFor returns the dictionary entry for one term.
func (e *Expander) SynonymsFor(term string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dict[strings.ToLower(term)]
}

// AddSynonyms registers synonyms for a term at runtime.
func (e *Expander) AddSynonyms(term string, synonyms []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dict == nil {
		e.dict = make(map[string][]string)
	}
	e.dict[strings.ToLower(term)] = synonyms
}

// TermCount returns the number of dictionary terms.
func (e *Expander) TermCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.dict)
}

// Stats returns dictionary size counters.
func (e *Expander) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	total := 0
	for _, synonyms := range e.dict {
		total += len(synonyms)
	}
	s := Stats{TotalTerms: len(e.dict), TotalSynonyms: total}
	if s.TotalTerms > 0 {
		s.AvgPerTerm = float64(total) / float64(s.TotalTerms)
	}
	return s
}

// Healthy reports whether a dictionary is loaded.
func (e *Expander) Healthy() bool {
	return e.TermCount() > 0
}

// Watch reloads the dictionary whenever the file changes. It blocks until
// Stop is called or the watcher fails; callers run it in a goroutine.
// Watching the parent directory survives editors that replace the file on
// save.
func (e *Expander) Watch() error {
	if e.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create dictionary watcher: %w", err)
	}
	e.mu.Lock()
	e.watcher = w
	e.mu.Unlock()

	if err := w.Add(filepath.Dir(e.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch dictionary dir: %w", err)
	}

	base := filepath.Base(e.path)
	for {
		select {
		case <-e.stopCh:
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := e.Reload(); err != nil {
				e.logger.Warn("synonym dictionary reload failed, keeping previous set",
					slog.String("path", e.path),
					slog.String("error", err.Error()))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("dictionary watcher error", slog.String("error", err.Error()))
		}
	}
}

// Stop terminates a running Watch.
func (e *Expander) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	close(e.stopCh)
	if e.watcher != nil {
		_ = e.watcher.Close()
	}
}

// extractTerms lists expansion candidates: every word of length >= 2 plus
// bigrams and trigrams of consecutive words.
func extractTerms(query string) []string {
	words := wordRe.FindAllString(strings.ToLower(query), -1)

	terms := make([]string, 0, len(words)*3)
	terms = append(terms, words...)
	for i := 0; i < len(words)-1; i++ {
		terms = append(terms, words[i]+" "+words[i+1])
		if i < len(words)-2 {
			terms = append(terms, words[i]+" "+words[i+1]+" "+words[i+2])
		}
	}
	return terms
}

func containsAny(s string, probes []string) bool {
	for _, probe := range probes {
		if strings.Contains(s, probe) {
			return true
		}
	}
	return false
}
