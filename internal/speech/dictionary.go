package speech

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// Dictionary replaces whole words before synthesis, ignoring case.
type Dictionary struct {
	mu      sync.RWMutex
	entries []dictionaryEntry
}

type dictionaryEntry struct {
	word        string
	pattern     *regexp.Regexp
	replacement string
}

func NewDictionary(words map[string]string) *Dictionary {
	d := &Dictionary{}
	d.Set(words)
	return d
}

// Set replaces all entries. Longer words are applied first.
func (d *Dictionary) Set(words map[string]string) {
	entries := make([]dictionaryEntry, 0, len(words))
	for word, replacement := range words {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		entries = append(entries, dictionaryEntry{
			word:        word,
			pattern:     regexp.MustCompile(`(?i)` + regexp.QuoteMeta(word)),
			replacement: replacement,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].word) != len(entries[j].word) {
			return len(entries[i].word) > len(entries[j].word)
		}
		return entries[i].word < entries[j].word
	})
	d.mu.Lock()
	d.entries = entries
	d.mu.Unlock()
}

func (d *Dictionary) Apply(text string) string {
	if d == nil {
		return text
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.entries {
		text = e.replace(text)
	}
	return text
}

func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

func (e dictionaryEntry) replace(text string) string {
	locs := e.pattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		if !wordEdgeBefore(text, loc[0]) || !wordEdgeAfter(text, loc[1]) {
			continue
		}
		b.WriteString(text[last:loc[0]])
		b.WriteString(e.replacement)
		last = loc[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func wordEdgeBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func wordEdgeAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}
