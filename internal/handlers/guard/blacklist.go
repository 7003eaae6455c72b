package guard

import (
	"fmt"
	"regexp"
)

func DefaultBlacklistPatterns() []string {
	return []string{
		`\b(badword1|badword2|scam)\b`,
		`http[s]?://\S+`,
	}
}

// Blacklist matches message content against case-insensitive patterns.
type Blacklist struct {
	patterns []*regexp.Regexp
}

func NewBlacklist(patterns []string) (*Blacklist, error) {
	b := &Blacklist{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile blacklist pattern %q: %w", p, err)
		}
		b.patterns = append(b.patterns, re)
	}
	return b, nil
}

// Match returns the first pattern found in text.
func (b *Blacklist) Match(text string) (string, bool) {
	if b == nil || text == "" {
		return "", false
	}
	for _, re := range b.patterns {
		if re.MatchString(text) {
			return re.String(), true
		}
	}
	return "", false
}

func (b *Blacklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.patterns)
}
