// Package moderation screens text before it is routed and before a reply is
// delivered. A Gate wraps a Provider (local keyword filter or a remote
// moderation service) and applies a fixed fail-open or fail-closed policy
// when the provider cannot answer.
package moderation

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/whisper/bridge/internal/route"
)

// leetReplacer maps common character substitutions back to letters so that
// "b@dw0rd" is screened as "badword".
var leetReplacer = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"@", "a",
	"$", "s",
	"!", "i",
)

// FilterResult is the outcome of a Filter check.
type FilterResult struct {
	Blocked bool
	Reason  string // "blocked_keyword" | "spam_pattern"
	Term    string
}

// Filter is a keyword blocklist. ASCII single words match whole tokens,
// ASCII multi-word terms match as token phrases, and terms containing other
// scripts (CJK has no word separators) match as substrings of the
// normalized text. A Filter is immutable after construction.
type Filter struct {
	words      map[string]struct{}
	phrases    [][]string
	substrings []string
	spam       bool
}

// NewFilterWithTerms builds a filter from raw terms. Empty and whitespace
// terms are ignored. Spam heuristics are disabled.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, raw := range terms {
		term := route.Normalize(raw)
		if term == "" {
			continue
		}
		switch {
		case !isASCII(term):
			f.substrings = append(f.substrings, term)
		case strings.Contains(term, " "):
			f.phrases = append(f.phrases, strings.Fields(term))
		default:
			f.words[term] = struct{}{}
		}
	}
	return f
}

// WithSpamChecks returns a copy of f that also applies the spam heuristics
// after the keyword blocklist.
func (f *Filter) WithSpamChecks() *Filter {
	cp := *f
	cp.spam = true
	return &cp
}

// LoadKeywords reads a keyword file: one term per line, blank lines and
// lines starting with '#' ignored.
func LoadKeywords(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("moderation: open keywords: %w", err)
	}
	defer file.Close()

	var terms []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("moderation: read keywords: %w", err)
	}
	return terms, nil
}

// LoadFilter builds a filter from the keyword file at path (no terms when
// path is empty), with spam heuristics when spam is set.
func LoadFilter(path string, spam bool) (*Filter, error) {
	var terms []string
	if path != "" {
		var err error
		if terms, err = LoadKeywords(path); err != nil {
			return nil, err
		}
	}
	f := NewFilterWithTerms(terms)
	if spam {
		f = f.WithSpamChecks()
	}
	return f, nil
}

// Len returns the number of loaded terms.
func (f *Filter) Len() int {
	return len(f.words) + len(f.phrases) + len(f.substrings)
}

// Check screens text. Keyword matches take priority over spam patterns.
func (f *Filter) Check(text string) FilterResult {
	normalized := route.Normalize(text)

	for _, sub := range f.substrings {
		if strings.Contains(normalized, sub) {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: sub}
		}
	}

	plain := tokenizePlain(normalized)
	leet := tokenizeLeet(normalized)
	for i := range leet {
		leet[i] = normalizeLeet(leet[i])
	}

	for _, tokens := range [][]string{plain, leet} {
		for _, tok := range tokens {
			if _, ok := f.words[tok]; ok {
				return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: tok}
			}
		}
		for _, phrase := range f.phrases {
			if containsPhrase(tokens, phrase) {
				return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: strings.Join(phrase, " ")}
			}
		}
	}

	if f.spam {
		return checkSpamPatterns(text)
	}
	return FilterResult{}
}

// normalizeLeet undoes leetspeak substitutions.
func normalizeLeet(s string) string {
	return leetReplacer.Replace(s)
}

// tokenizePlain splits on anything that is not a letter or digit.
func tokenizePlain(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenizeLeet splits on whitespace and common punctuation, but keeps the
// symbols used as letter substitutes inside tokens.
func tokenizeLeet(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
		switch r {
		case '@', '$', '!':
			return false
		}
		return true
	})
}

func containsPhrase(tokens, phrase []string) bool {
	if len(phrase) == 0 || len(tokens) < len(phrase) {
		return false
	}
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		match := true
		for j := range phrase {
			if tokens[i+j] != phrase[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}
