package memory

import (
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/perolyat/bartholomew/internal/metrics"
)

// RulePriority lists governance categories from highest to lowest
// precedence, grounded on
// original_source/bartholomew/kernel/memory_rules.py's PRIORITY.
var RulePriority = []string{
	"never_store",
	"ask_before_store",
	"always_keep",
	"auto_expire",
	"context_only",
}

// ruleFile is the on-disk shape of memory_rules.yaml: a map from
// category name to a list of rule entries.
type ruleFile map[string][]ruleEntry

type ruleEntry struct {
	Match    map[string]any `yaml:"match"`
	Metadata map[string]any `yaml:"metadata"`
}

// MemoryRule is a single governance rule: an AND-combined match clause
// and the metadata it contributes when it fires.
type MemoryRule struct {
	Category string
	Match    map[string]any
	Metadata map[string]any
}

// candidateMemory is the normalized shape rules match against.
type candidateMemory struct {
	Kind    string
	Key     string
	Content string
	Tags    []string
	Speaker string
}

// Matches reports whether m satisfies every field named in the rule's
// match clause (AND semantics, unset fields always pass).
func (r MemoryRule) Matches(m candidateMemory) bool {
	if v, ok := r.Match["kind"]; ok {
		if toString(v) != m.Kind {
			return false
		}
	}
	if v, ok := r.Match["key"]; ok {
		if toString(v) != m.Key {
			return false
		}
	}
	if v, ok := r.Match["speaker"]; ok {
		if toString(v) != m.Speaker {
			return false
		}
	}
	if v, ok := r.Match["tags"]; ok {
		ruleTags := toStringSlice(v)
		if !anyIntersect(ruleTags, m.Tags) {
			return false
		}
	}
	if v, ok := r.Match["content"]; ok {
		pattern := toString(v)
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return false
		}
		if !re.MatchString(m.Content) {
			return false
		}
	}
	return true
}

// MemoryRulesEngine loads memory_rules.yaml and evaluates memories
// against it in priority order, merging metadata first-wins across
// categories. Hot-reloads on a ~10s poll and (when the underlying
// filesystem supports it) an fsnotify watch, grounded on
// MemoryRulesEngine in
// original_source/bartholomew/kernel/memory_rules.py.
type MemoryRulesEngine struct {
	mu            sync.RWMutex
	configPath    string
	defaultPaths  []string
	rulesByCat    map[string][]MemoryRule
	lastModTime   time.Time
	stopCh        chan struct{}
	stoppedOnce   sync.Once
}

// NewMemoryRulesEngine loads rules from configPath (or the default
// search path when empty) and starts the background watcher.
func NewMemoryRulesEngine(configPath string) *MemoryRulesEngine {
	e := &MemoryRulesEngine{
		configPath: configPath,
		defaultPaths: []string{
			"bartholomew/config/memory_rules.yaml",
			"config/memory_rules.yaml",
		},
		rulesByCat: make(map[string][]MemoryRule),
		stopCh:     make(chan struct{}),
	}
	e.loadRules()
	if path := e.findPath(); path != "" {
		if fi, err := os.Stat(path); err == nil {
			e.lastModTime = fi.ModTime()
		}
	}
	go e.watchLoop()
	return e
}

func (e *MemoryRulesEngine) findPath() string {
	if e.configPath != "" {
		if _, err := os.Stat(e.configPath); err == nil {
			return e.configPath
		}
	}
	for _, p := range e.defaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (e *MemoryRulesEngine) loadRules() {
	e.mu.Lock()
	defer e.mu.Unlock()

	fresh := make(map[string][]MemoryRule, len(RulePriority))
	for _, c := range RulePriority {
		fresh[c] = nil
	}

	path := e.findPath()
	if path == "" {
		e.rulesByCat = fresh
		return
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to read memory rules file")
		metrics.RulesReloadTotal.WithLabelValues("error").Inc()
		e.rulesByCat = fresh
		return
	}

	var parsed ruleFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to parse memory rules yaml")
		metrics.RulesReloadTotal.WithLabelValues("error").Inc()
		e.rulesByCat = fresh
		return
	}
	metrics.RulesReloadTotal.WithLabelValues("success").Inc()

	for _, category := range RulePriority {
		for _, entry := range parsed[category] {
			fresh[category] = append(fresh[category], MemoryRule{
				Category: category,
				Match:    entry.Match,
				Metadata: entry.Metadata,
			})
		}
	}
	e.rulesByCat = fresh
}

// Reload clears and re-reads memory_rules.yaml from disk.
func (e *MemoryRulesEngine) Reload() {
	e.loadRules()
	path := e.findPath()
	if path == "" {
		e.mu.Lock()
		e.lastModTime = time.Time{}
		e.mu.Unlock()
		log.Info().Msg("reloaded memory rules (no config file found)")
		return
	}
	if fi, err := os.Stat(path); err == nil {
		e.mu.Lock()
		e.lastModTime = fi.ModTime()
		e.mu.Unlock()
	}
	log.Info().Str("path", path).Msg("reloaded memory rules")
}

func (e *MemoryRulesEngine) checkAndReloadIfNeeded() {
	path := e.findPath()
	if path == "" {
		return
	}
	fi, err := os.Stat(path)
	if err != nil {
		log.Error().Err(err).Msg("failed to stat memory rules file")
		return
	}
	e.mu.RLock()
	last := e.lastModTime
	e.mu.RUnlock()
	if last.IsZero() || !fi.ModTime().Equal(last) {
		e.Reload()
	}
}

// watchLoop combines an fsnotify watch on the rules directory (when
// available) with a 10s poll fallback, since fsnotify is unreliable
// across bind mounts / some container filesystems.
func (e *MemoryRulesEngine) watchLoop() {
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		for _, dir := range []string{"bartholomew/config", "config"} {
			_ = watcher.Add(dir)
		}
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.checkAndReloadIfNeeded()
		case ev, ok := <-watcherEvents(watcher):
			if !ok {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				e.checkAndReloadIfNeeded()
			}
		}
	}
}

// watcherEvents returns w.Events, or a nil channel (which blocks
// forever in a select) when w is nil.
func watcherEvents(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

// StopWatcher halts the background reload goroutine.
func (e *MemoryRulesEngine) StopWatcher() {
	e.stoppedOnce.Do(func() { close(e.stopCh) })
}

// Candidate is the caller-facing input to Evaluate: a memory prior to
// any rule-derived policy being applied.
type Candidate struct {
	Kind    string
	Key     string
	Content string
	Tags    []string
	Speaker string
}

// Evaluate applies every matching rule in priority order and returns
// the merged, enriched policy for this candidate. First-wins: a field
// set by a higher-priority category's rule is never overwritten by a
// lower-priority one.
func (e *MemoryRulesEngine) Evaluate(c Candidate) EvaluatedMetadata {
	e.checkAndReloadIfNeeded()

	m := candidateMemory{Kind: c.Kind, Key: c.Key, Content: c.Content, Tags: c.Tags, Speaker: c.Speaker}

	result := EvaluatedMetadata{
		AllowStore: true,
		FTSIndex:   true,
		EmbedMode:  "summary",
		Metadata:   make(map[string]any),
	}

	e.mu.RLock()
	rulesByCat := e.rulesByCat
	e.mu.RUnlock()

	seen := make(map[string]bool)
	var matchedCategories []string
	var matchedRules []MatchedRule

	for _, category := range RulePriority {
		for _, rule := range rulesByCat[category] {
			if !rule.Matches(m) {
				continue
			}
			matchedCategories = append(matchedCategories, category)
			matchedRules = append(matchedRules, MatchedRule{Category: category, Match: rule.Match})

			for k, v := range rule.Metadata {
				if seen[k] {
					continue
				}
				seen[k] = true
				applyRuleField(&result, k, v)
			}
		}
	}

	if result.Redact && result.RedactStrategy == "" {
		result.RedactStrategy = "mask"
	}

	if os.Getenv("BARTHO_EMBED_ENABLED") == "1" {
		if result.EmbedMode != "none" && !seen["embed_store"] {
			result.EmbedStore = true
		}
	}

	result.MatchedCategories = matchedCategories
	result.MatchedRules = matchedRules
	return result
}

// ShouldStore is a convenience wrapper around Evaluate.
func (e *MemoryRulesEngine) ShouldStore(c Candidate) bool {
	return e.Evaluate(c).AllowStore
}

// RequiresConsent is a convenience wrapper around Evaluate.
func (e *MemoryRulesEngine) RequiresConsent(c Candidate) bool {
	return e.Evaluate(c).RequiresConsent
}

func applyRuleField(result *EvaluatedMetadata, key string, value any) {
	switch key {
	case "allow_store":
		result.AllowStore = toBool(value)
	case "requires_consent":
		result.RequiresConsent = toBool(value)
	case "redact":
		result.Redact = toBool(value)
	case "redact_strategy":
		result.RedactStrategy = toString(value)
	case "content":
		result.Content = toString(value)
	case "summary_mode":
		result.SummaryMode = toString(value)
	case "summarize":
		result.Summarize = toBool(value)
	case "encrypt":
		switch v := value.(type) {
		case bool:
			if v {
				result.Encrypt = "true"
			}
		default:
			result.Encrypt = toString(value)
		}
	case "fts_index":
		result.FTSIndex = toBool(value)
	case "embed":
		result.EmbedMode = toString(value)
	case "embed_store":
		result.EmbedStore = toBool(value)
	case "recall_policy":
		result.RecallPolicy = toString(value)
	case "privacy_class":
		result.PrivacyClass = toString(value)
	case "expires_in":
		result.ExpiresIn = toString(value)
	case "kind_boost":
		result.KindBoost = toFloat(value)
	case "rule_boost":
		result.RuleBoost = toFloat(value)
	default:
		result.Metadata[key] = value
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

func toStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, toString(it))
	}
	return out
}

func anyIntersect(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if set[v] {
			return true
		}
	}
	return false
}
