// Package privacy masks identifying tokens in free text before it
// leaves the process. Every string handed to the external reasoning
// service goes through Scrub; patient names and long-lived identifiers
// never ride along with clinical content.
package privacy

import (
	"regexp"
	"strings"
	"sync"
)

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// Scrubber is safe for concurrent use. Rules are fixed at construction;
// the name list grows as patients are onboarded while evaluations run.
type Scrubber struct {
	rules []compiledRule

	mu    sync.RWMutex
	names []string
}

func NewScrubber(cfg RulesConfig) (*Scrubber, error) {
	var compiled []compiledRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return &Scrubber{rules: compiled}, nil
}

// AddName registers a display name to be masked wherever it appears.
// Matching is case-insensitive.
func (s *Scrubber) AddName(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	s.mu.Lock()
	s.names = append(s.names, name)
	s.mu.Unlock()
}

// Scrub returns the text with every identifying token replaced by its
// mask.
func (s *Scrubber) Scrub(text string) string {
	if s == nil || text == "" {
		return text
	}
	for _, cr := range s.rules {
		text = cr.re.ReplaceAllString(text, cr.rule.Mask)
	}
	s.mu.RLock()
	names := s.names
	s.mu.RUnlock()
	for _, name := range names {
		text = replaceFold(text, name, "[patient]")
	}
	return text
}

// Detected reports which rule types match the text. Used for logging
// the scrub decision without logging the text itself.
func (s *Scrubber) Detected(text string) []string {
	if s == nil || text == "" {
		return nil
	}
	var types []string
	seen := make(map[string]struct{})
	for _, cr := range s.rules {
		if !cr.re.MatchString(text) {
			continue
		}
		if _, ok := seen[cr.rule.Type]; ok {
			continue
		}
		seen[cr.rule.Type] = struct{}{}
		types = append(types, cr.rule.Type)
	}
	return types
}

func replaceFold(text, old, replacement string) string {
	if old == "" {
		return text
	}
	lower := strings.ToLower(text)
	target := strings.ToLower(old)

	var b strings.Builder
	for {
		idx := strings.Index(lower, target)
		if idx < 0 {
			b.WriteString(text)
			return b.String()
		}
		b.WriteString(text[:idx])
		b.WriteString(replacement)
		text = text[idx+len(old):]
		lower = lower[idx+len(target):]
	}
}
