package text

import (
	"container/list"
	"strings"
)

// node represents a node in the trie.
type node struct {
	children map[rune]*node
	fail     *node // failure pointer for Aho-Corasick
	// lengths of the keywords ending here, in runes, including those reached via fail links
	outputs []int
}

// Matcher finds every occurrence of a fixed keyword set in one pass.
type Matcher struct {
	root       *node
	foldCase   bool
	keywordCnt int
}

// NewMatcher builds an Aho-Corasick automaton over keywords. Empty keywords are ignored.
func NewMatcher(keywords []string, opts ...Option) *Matcher {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	m := &Matcher{
		root:     &node{children: make(map[rune]*node)},
		foldCase: options.FoldCase,
	}
	for _, keyword := range keywords {
		if keyword == "" {
			continue
		}
		m.insert(m.normalize(keyword))
		m.keywordCnt++
	}
	m.buildFailurePointers()
	return m
}

func (m *Matcher) normalize(s string) string {
	if m.foldCase {
		return strings.ToLower(s)
	}
	return s
}

func (m *Matcher) insert(keyword string) {
	current := m.root
	for _, ch := range keyword {
		if _, ok := current.children[ch]; !ok {
			current.children[ch] = &node{children: make(map[rune]*node)}
		}
		current = current.children[ch]
	}
	current.outputs = append(current.outputs, len([]rune(keyword)))
}

func (m *Matcher) buildFailurePointers() {
	queue := list.New()
	m.root.fail = nil
	queue.PushBack(m.root)

	for queue.Len() > 0 {
		current := queue.Remove(queue.Front()).(*node)

		for r, child := range current.children {
			if current == m.root {
				child.fail = m.root
			} else {
				failure := current.fail
				for failure != nil && failure.children[r] == nil {
					failure = failure.fail
				}
				if failure == nil {
					child.fail = m.root
				} else {
					child.fail = failure.children[r]
				}
			}
			child.outputs = append(child.outputs, child.fail.outputs...)
			queue.PushBack(child)
		}
	}
}

// FindAll returns the matched keywords in order of their end position.
// Matches are returned as they appear in text.
func (m *Matcher) FindAll(text string) []string {
	if m.keywordCnt == 0 {
		return nil
	}
	runes := []rune(text)
	normalized := []rune(m.normalize(text))
	if len(normalized) != len(runes) {
		runes = normalized
	}
	current := m.root
	found := make([]string, 0)
	for i, ch := range normalized {
		for current != m.root && current.children[ch] == nil {
			current = current.fail
		}
		if child, ok := current.children[ch]; ok {
			current = child
		}
		for _, n := range current.outputs {
			found = append(found, string(runes[i-n+1:i+1]))
		}
	}
	return found
}

// First returns the earliest-ending keyword found in text.
func (m *Matcher) First(text string) (string, bool) {
	all := m.FindAll(text)
	if len(all) == 0 {
		return "", false
	}
	return all[0], true
}

// Contains reports whether any keyword occurs in text.
func (m *Matcher) Contains(text string) bool {
	_, ok := m.First(text)
	return ok
}

// Count returns the number of distinct keywords found in text.
func (m *Matcher) Count(text string) int {
	seen := make(map[string]struct{})
	for _, w := range m.FindAll(text) {
		seen[m.normalize(w)] = struct{}{}
	}
	return len(seen)
}
