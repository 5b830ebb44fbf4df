package textsplitter

import (
	"regexp"
	"strings"
)

var atxHeadingRe = regexp.MustCompile(`^(#{1,6})[ \t]+(.*?)(?:[ \t]+#+)?[ \t]*$`)

// Section is the body found under one heading path.
type Section struct {
	// Headings runs from the outermost heading down, e.g. ["# 总则", "## 适用范围"]
	Headings []string
	Body     string
}

// Heading renders the path as the lines that open every chunk of s.
func (s Section) Heading() string {
	return strings.Join(s.Headings, "\n")
}

// Markdown splits on ATX headings up to MaxHeadingLevel and repeats the
// heading path at the top of each chunk, so a chunk retrieved alone still
// names its section. Bodies are packed with the Semantic splitter and
// fenced code never opens a section.
type Markdown struct {
	MaxHeadingLevel int
	body            Semantic
}

var _ TextSplitter = (*Markdown)(nil)

func NewMarkdown(opts ...Option) *Markdown {
	options := DefaultOptions()
	for _, o := range opts {
		o(&options)
	}
	return &Markdown{
		MaxHeadingLevel: options.MaxHeadingLevel,
		body:            NewSemantic(opts...),
	}
}

func (m *Markdown) SplitText(text string) ([]string, error) {
	var chunks []string
	for _, s := range m.Sections(text) {
		parts, err := m.body.SplitText(s.Body)
		if err != nil {
			return nil, err
		}
		heading := s.Heading()
		for _, p := range parts {
			if heading != "" {
				p = heading + "\n" + p
			}
			chunks = append(chunks, p)
		}
	}
	return chunks, nil
}

// Sections walks text line by line. A heading closes the running body and
// replaces every heading of the same or a deeper level in the path.
// Headings with no body of their own yield no section.
func (m *Markdown) Sections(text string) []Section {
	type heading struct {
		level int
		line  string
	}
	var (
		out   []Section
		path  []heading
		body  []string
		fence string
	)
	flush := func() {
		b := strings.TrimSpace(strings.Join(body, "\n"))
		body = body[:0]
		if b == "" {
			return
		}
		lines := make([]string, len(path))
		for i, h := range path {
			lines[i] = h.line
		}
		out = append(out, Section{Headings: lines, Body: b})
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if f := fenceOf(trimmed); f != "" && (fence == "" || f == fence) {
			if fence == "" {
				fence = f
			} else {
				fence = ""
			}
			body = append(body, line)
			continue
		}
		if fence == "" {
			if mm := atxHeadingRe.FindStringSubmatch(trimmed); mm != nil && len(mm[1]) <= m.maxLevel() {
				flush()
				level := len(mm[1])
				for len(path) > 0 && path[len(path)-1].level >= level {
					path = path[:len(path)-1]
				}
				path = append(path, heading{level: level, line: mm[1] + " " + mm[2]})
				continue
			}
		}
		body = append(body, line)
	}
	flush()
	return out
}

func (m *Markdown) maxLevel() int {
	if m.MaxHeadingLevel <= 0 || m.MaxHeadingLevel > 6 {
		return 6
	}
	return m.MaxHeadingLevel
}

func fenceOf(line string) string {
	for _, f := range []string{"```", "~~~"} {
		if strings.HasPrefix(line, f) {
			return f
		}
	}
	return ""
}
