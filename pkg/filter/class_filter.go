// Package filter classifies class and package names into size categories
// such as android, kotlin or application code.
package filter

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

//go:embed default_rules.toml
var embeddedRules []byte

// Rule maps name prefixes to one category.
type Rule struct {
	Category string   `toml:"category"`
	Prefixes []string `toml:"prefixes"`
}

// Rules is a classification ruleset. Rules are tried in order.
type Rules struct {
	Default string `toml:"default"`
	Rules   []Rule `toml:"rule"`
}

// DefaultRules returns the embedded ruleset.
func DefaultRules() (*Rules, error) {
	var r Rules
	if err := toml.Unmarshal(embeddedRules, &r); err != nil {
		return nil, fmt.Errorf("failed to parse embedded rules: %w", err)
	}
	return &r, nil
}

// LoadRules reads a ruleset from a TOML file. It replaces the embedded
// rules entirely.
func LoadRules(path string) (*Rules, error) {
	var r Rules
	if _, err := toml.DecodeFile(path, &r); err != nil {
		return nil, fmt.Errorf("failed to load rules from %s: %w", path, err)
	}
	if r.Default == "" {
		return nil, fmt.Errorf("rules file %s: missing default category", path)
	}
	return &r, nil
}

// ClassFilter classifies names by prefix. It is safe for concurrent use.
type ClassFilter struct {
	mu    sync.RWMutex
	rules Rules

	categoryCache     map[string]string
	categoryCacheSize int
}

// NewClassFilter creates a filter from rules; nil means the embedded rules.
func NewClassFilter(rules *Rules) (*ClassFilter, error) {
	if rules == nil {
		var err error
		if rules, err = DefaultRules(); err != nil {
			return nil, err
		}
	}
	return &ClassFilter{
		rules:             *rules,
		categoryCache:     make(map[string]string),
		categoryCacheSize: 10000,
	}, nil
}

// Classify returns the category of a dotted class or package name. Package
// names match prefixes as if they ended with a dot.
func (f *ClassFilter) Classify(name string) string {
	f.mu.RLock()
	if cat, ok := f.categoryCache[name]; ok {
		f.mu.RUnlock()
		return cat
	}
	cat := f.classifyUncached(name)
	f.mu.RUnlock()

	f.mu.Lock()
	if len(f.categoryCache) < f.categoryCacheSize {
		f.categoryCache[name] = cat
	}
	f.mu.Unlock()
	return cat
}

func (f *ClassFilter) classifyUncached(name string) string {
	withDot := name + "."
	for _, r := range f.rules.Rules {
		for _, prefix := range r.Prefixes {
			if strings.HasPrefix(withDot, prefix) {
				return r.Category
			}
		}
	}
	return f.rules.Default
}

// AddPrefix adds a prefix to a category, creating the category at the
// front of the rule list when it does not exist yet.
func (f *ClassFilter) AddPrefix(category, prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.rules.Rules {
		if f.rules.Rules[i].Category == category {
			f.rules.Rules[i].Prefixes = append(f.rules.Rules[i].Prefixes, prefix)
			f.categoryCache = make(map[string]string)
			return
		}
	}
	f.rules.Rules = append([]Rule{{Category: category, Prefixes: []string{prefix}}}, f.rules.Rules...)
	f.categoryCache = make(map[string]string)
}

// Categories lists every category the filter can return, default last.
func (f *ClassFilter) Categories() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, r := range f.rules.Rules {
		if !seen[r.Category] {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	if !seen[f.rules.Default] {
		out = append(out, f.rules.Default)
	}
	return out
}

// CacheStats returns cache statistics.
func (f *ClassFilter) CacheStats() (size int, maxSize int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.categoryCache), f.categoryCacheSize
}
