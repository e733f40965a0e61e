// Package moderation flags candidate messages that should be redirected.
//
// Rules are a static table (rules.yaml, embedded) mapping word lists, phrases
// and patterns to flags. False positives and negatives are expected.
package moderation

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Flag names accepted in a rule table.
const (
	FlagInappropriate = "inappropriate"
	FlagSpam          = "spam"
	FlagGibberish     = "gibberish"
)

// Flags is the classifier verdict for one message.
type Flags struct {
	Inappropriate    bool `json:"is_inappropriate"`
	Spam             bool `json:"is_spam"`
	Gibberish        bool `json:"is_gibberish"`
	TooShort         bool `json:"is_too_short"`
	NeedsRedirection bool `json:"needs_redirection"`
}

// Rule is one row of the table as written in YAML. Words and phrases are
// both matched as case-insensitive substrings, so "idiots" hits "idiot".
type Rule struct {
	Flag     string   `yaml:"flag"`
	Words    []string `yaml:"words"`
	Phrases  []string `yaml:"phrases"`
	Patterns []string `yaml:"patterns"`
}

type ruleTable struct {
	Rules []Rule `yaml:"rules"`
}

type compiledRule struct {
	flag string
	re   *regexp.Regexp
}

// Classifier applies a compiled rule table.
type Classifier struct {
	rules []compiledRule
}

// Default returns the classifier built from the embedded table.
func Default() *Classifier {
	c, err := Parse(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded moderation rules: %v", err))
	}
	return c
}

// Load reads a rule table from disk.
func Load(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return Parse(data)
}

// Parse compiles a YAML rule table.
func Parse(data []byte) (*Classifier, error) {
	var table ruleTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	c := &Classifier{}
	for i, r := range table.Rules {
		switch r.Flag {
		case FlagInappropriate, FlagSpam, FlagGibberish:
		default:
			return nil, fmt.Errorf("rule %d: unknown flag %q", i, r.Flag)
		}

		var alts []string
		for _, lit := range append(append([]string(nil), r.Words...), r.Phrases...) {
			if lit = strings.TrimSpace(lit); lit != "" {
				alts = append(alts, regexp.QuoteMeta(lit))
			}
		}
		alts = append(alts, r.Patterns...)
		if len(alts) == 0 {
			continue
		}

		re, err := regexp.Compile(`(?i)(?:` + strings.Join(alts, "|") + `)`)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Flag, err)
		}
		c.rules = append(c.rules, compiledRule{flag: r.Flag, re: re})
	}
	return c, nil
}

// Classify evaluates every rule against text.
func (c *Classifier) Classify(text string) Flags {
	var f Flags
	for _, r := range c.rules {
		if !r.re.MatchString(text) {
			continue
		}
		switch r.flag {
		case FlagInappropriate:
			f.Inappropriate = true
		case FlagSpam:
			f.Spam = true
		case FlagGibberish:
			f.Gibberish = true
		}
	}

	trimmed := strings.TrimSpace(text)
	f.TooShort = len([]rune(trimmed)) <= 2 && !isAlpha(trimmed)
	f.NeedsRedirection = f.Inappropriate || f.Spam || f.Gibberish
	return f
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
