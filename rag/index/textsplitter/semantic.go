package textsplitter

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Semantic splits on blank lines, then on sentence ends, and packs
// sentences greedily up to ChunkSize. The tail sentences of a chunk that
// fit in ChunkOverlap are repeated at the head of the next one.
type Semantic struct {
	ChunkSize    int
	ChunkOverlap int
	measure      func(string) int
}

var _ TextSplitter = Semantic{}

func NewSemantic(opts ...Option) Semantic {
	options := DefaultOptions()
	for _, o := range opts {
		o(&options)
	}
	return Semantic{
		ChunkSize:    options.ChunkSize,
		ChunkOverlap: options.ChunkOverlap,
		measure:      lengthFunc(options.EncodingName),
	}
}

func (s Semantic) SplitText(text string) ([]string, error) {
	measure := s.measure
	if measure == nil {
		measure = utf8.RuneCountInString
	}
	size := s.ChunkSize
	if size <= 0 {
		size = _defaultChunkSize
	}

	var sentences []string
	for _, p := range splitParagraphs(text) {
		sentences = append(sentences, SplitSentences(p)...)
	}

	var (
		chunks []string
		cur    []string
		curLen int
	)
	for _, sent := range sentences {
		m := measure(sent)
		if curLen+m <= size || len(cur) == 0 {
			cur = append(cur, sent)
			curLen += m
			continue
		}
		chunks = append(chunks, joinSentences(cur))

		cur = append(overlapTail(cur, s.ChunkOverlap, measure), sent)
		curLen = 0
		for _, c := range cur {
			curLen += measure(c)
		}
	}
	if len(cur) > 0 {
		chunks = append(chunks, joinSentences(cur))
	}
	return chunks, nil
}

func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r", "\n")
	var paras []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paras = append(paras, p)
		}
	}
	if len(paras) == 0 && strings.TrimSpace(text) != "" {
		paras = []string{strings.TrimSpace(text)}
	}
	return paras
}

func overlapTail(cur []string, budget int, measure func(string) int) []string {
	if budget <= 0 {
		return nil
	}
	acc, i := 0, len(cur)
	for i > 0 {
		m := measure(cur[i-1])
		if acc+m > budget {
			break
		}
		acc += m
		i--
	}
	return append([]string(nil), cur[i:]...)
}

func isFullWidthStop(r rune) bool {
	switch r {
	case '。', '！', '？', '；', '．':
		return true
	}
	return false
}

func isHalfWidthStop(r rune) bool {
	switch r {
	case '!', '?', ';', '.':
		return true
	}
	return false
}

// SplitSentences cuts after full-width stops, and after ASCII stops that
// are followed by whitespace so decimals and abbreviations stay intact.
func SplitSentences(text string) []string {
	runes := []rune(text)
	var (
		sents []string
		start int
	)
	emit := func(end int) {
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			sents = append(sents, s)
		}
		start = end
	}
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		next := i + 1
		switch {
		case isFullWidthStop(r):
			// keep closing quotes with the sentence
			for next < len(runes) && strings.ContainsRune("”’」』）)", runes[next]) {
				next++
			}
			emit(next)
			i = next - 1
		case isHalfWidthStop(r) && next < len(runes) && unicode.IsSpace(runes[next]):
			emit(next)
		}
	}
	emit(len(runes))
	return sents
}

// joinSentences restores a space between sentences that end in ASCII
// punctuation and concatenates the rest.
func joinSentences(sents []string) string {
	var b strings.Builder
	for i, s := range sents {
		if i > 0 {
			last, _ := utf8.DecodeLastRuneInString(sents[i-1])
			if last < utf8.RuneSelf {
				b.WriteByte(' ')
			}
		}
		b.WriteString(s)
	}
	return b.String()
}
