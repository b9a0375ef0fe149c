// Package spam is a coarse keyword filter applied to search results before engaging with them.
package spam

import (
	"sort"
	"strings"
)

// DefaultThreshold is the number of distinct keywords a text must contain to be rejected.
const DefaultThreshold = 5

// DefaultKeywords is the built-in keyword list.
var DefaultKeywords = []string{"spam", "scam", "fake", "pump", "dump"}

// Filter counts distinct keyword hits against a threshold. It holds no mutable state and is
// safe for concurrent use.
type Filter struct {
	keywords  []string
	threshold int
}

// New builds a filter. Keywords are lowercased, trimmed and de-duplicated; blanks are dropped.
// A nil keyword list selects DefaultKeywords. A threshold below 1 is raised to 1.
func New(keywords []string, threshold int) *Filter {
	if keywords == nil {
		keywords = DefaultKeywords
	}
	seen := make(map[string]struct{}, len(keywords))
	kws := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		kws = append(kws, k)
	}
	if threshold < 1 {
		threshold = 1
	}
	return &Filter{keywords: kws, threshold: threshold}
}

// IsSpam reports whether text contains at least Threshold distinct keywords (case-insensitive
// substring match). Repeating one keyword counts once.
func (f *Filter) IsSpam(text string) bool {
	if f == nil || len(f.keywords) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	n := 0
	for _, k := range f.keywords {
		if strings.Contains(lower, k) {
			n++
			if n >= f.threshold {
				return true
			}
		}
	}
	return false
}

// Matches returns the distinct keywords found in text, sorted.
func (f *Filter) Matches(text string) []string {
	if f == nil {
		return nil
	}
	lower := strings.ToLower(text)
	var out []string
	for _, k := range f.keywords {
		if strings.Contains(lower, k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (f *Filter) Threshold() int { return f.threshold }

// Keywords returns a copy of the normalized keyword list.
func (f *Filter) Keywords() []string {
	return append([]string(nil), f.keywords...)
}
