package query

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	doubleSourceRe = regexp.MustCompile(`\[\[Source:\s*(\d+)\]\]`)
	sourceRe       = regexp.MustCompile(`\[Source:\s*(\d+)\]`)
	fullWidthRe    = regexp.MustCompile(`【(\d+)】`)
	citationRe     = regexp.MustCompile(`\[(\d+)\]`)
	citationLineRe = regexp.MustCompile(`^\s*\[\d+\]`)
	refHeadingRe   = regexp.MustCompile(`(?i)^\s*(?:#+\s*)?(?:\*\*)?(?:References|Sources|参考来源|引用|引用文献|Reference Document List)(?::|：)?(?:\*\*)?\s*$`)
)

// normalizer rewrites an answer line by line so that it can run while
// the model is still streaming. Lines that may belong to a trailing
// reference list are held back until a content line proves otherwise.
type normalizer struct {
	emit  func(string) error
	valid map[int]bool

	partial strings.Builder
	held    []string
	cut     bool
	started bool
	out     strings.Builder
}

// newNormalizer drops citations missing from valid, a nil valid keeps all.
func newNormalizer(valid map[int]bool, emit func(string) error) *normalizer {
	if emit == nil {
		emit = func(string) error { return nil }
	}
	return &normalizer{emit: emit, valid: valid}
}

// Write consumes a token chunk.
func (n *normalizer) Write(chunk string) error {
	n.partial.WriteString(chunk)
	buf := n.partial.String()
	idx := strings.LastIndex(buf, "\n")
	if idx < 0 {
		return nil
	}
	n.partial.Reset()
	n.partial.WriteString(buf[idx+1:])
	for _, line := range strings.Split(buf[:idx], "\n") {
		if err := n.line(line); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes the last line and drops a trailing reference run.
func (n *normalizer) Close() error {
	if n.partial.Len() > 0 {
		last := n.partial.String()
		n.partial.Reset()
		if err := n.line(last); err != nil {
			return err
		}
	}
	n.held = nil
	return nil
}

// Pending is everything received but not yet emitted.
func (n *normalizer) Pending() string {
	return strings.Join(n.held, "\n") + n.partial.String()
}

// Text is the normalized answer emitted so far.
func (n *normalizer) Text() string {
	return strings.TrimRight(n.out.String(), "\n")
}

func (n *normalizer) line(l string) error {
	if n.cut {
		return nil
	}
	l = strings.TrimRight(rewriteCitations(l, n.valid), " \t\r")
	if refHeadingRe.MatchString(l) {
		n.cut = true
		n.held = nil
		return nil
	}
	if strings.TrimSpace(l) == "" {
		if n.started {
			n.held = append(n.held, l)
		}
		return nil
	}
	if n.started && citationLineRe.MatchString(l) {
		n.held = append(n.held, l)
		return nil
	}
	blank := false
	for _, h := range n.held {
		if strings.TrimSpace(h) == "" {
			if !blank {
				if err := n.put(""); err != nil {
					return err
				}
			}
			blank = true
			continue
		}
		blank = false
		if err := n.put(h); err != nil {
			return err
		}
	}
	n.held = n.held[:0]
	n.started = true
	return n.put(l)
}

func (n *normalizer) put(l string) error {
	if err := n.emit(l + "\n"); err != nil {
		return err
	}
	n.out.WriteString(l)
	n.out.WriteString("\n")
	return nil
}

func rewriteCitations(l string, valid map[int]bool) string {
	l = doubleSourceRe.ReplaceAllString(l, "[$1]")
	l = sourceRe.ReplaceAllString(l, "[$1]")
	l = fullWidthRe.ReplaceAllString(l, "[$1]")
	if valid == nil {
		return l
	}
	return citationRe.ReplaceAllStringFunc(l, func(m string) string {
		i, _ := strconv.Atoi(m[1 : len(m)-1])
		if !valid[i] {
			return ""
		}
		return m
	})
}

// NormalizeCitations rewrites [[Source: n]], [Source: n] and 【n】 to [n],
// removes a trailing reference section and collapses runs of blank lines.
func NormalizeCitations(answer string) string {
	n := newNormalizer(nil, nil)
	_ = n.Write(answer)
	_ = n.Close()
	return n.Text()
}

// Citations lists the distinct [n] indices of answer in order of first
// occurrence.
func Citations(answer string) []int {
	var out []int
	seen := make(map[int]bool)
	for _, m := range citationRe.FindAllStringSubmatch(answer, -1) {
		i, err := strconv.Atoi(m[1])
		if err != nil || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	return out
}
