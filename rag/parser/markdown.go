package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/russross/blackfriday/v2"
)

// MarkdownReader re-emits markdown through the blackfriday AST, which drops
// raw html and images and normalizes heading and list syntax.
type MarkdownReader struct{}

func (r *MarkdownReader) Parse(filePath string) (string, error) {
	content, err := readFile(filePath)
	if err != nil {
		return "", errors.Wrap(err, "read file")
	}
	return renderMarkdown([]byte(DecodeText(content))), nil
}

func renderMarkdown(content []byte) string {
	md := blackfriday.New(blackfriday.WithExtensions(blackfriday.CommonExtensions))
	root := md.Parse(content)

	var b strings.Builder
	root.Walk(func(n *blackfriday.Node, entering bool) blackfriday.WalkStatus {
		switch n.Type {
		case blackfriday.Heading:
			if entering {
				b.WriteString(strings.Repeat("#", n.Level) + " ")
			} else {
				b.WriteString("\n\n")
			}
		case blackfriday.Paragraph:
			if !entering {
				if n.Parent != nil && n.Parent.Type == blackfriday.Item {
					b.WriteString("\n")
				} else {
					b.WriteString("\n\n")
				}
			}
		case blackfriday.List:
			if !entering && (n.Parent == nil || n.Parent.Type != blackfriday.Item) {
				b.WriteString("\n")
			}
		case blackfriday.Item:
			if entering {
				if n.ListFlags&blackfriday.ListTypeOrdered != 0 {
					b.WriteString(strconv.Itoa(itemNumber(n)) + ". ")
				} else {
					b.WriteString("- ")
				}
			}
		case blackfriday.BlockQuote:
			if entering {
				b.WriteString("> ")
			}
		case blackfriday.Text:
			b.Write(n.Literal)
		case blackfriday.Code:
			b.WriteString("`" + string(n.Literal) + "`")
		case blackfriday.CodeBlock:
			b.WriteString("```" + string(n.Info) + "\n")
			b.Write(n.Literal)
			b.WriteString("```\n\n")
		case blackfriday.Softbreak, blackfriday.Hardbreak:
			b.WriteString("\n")
		case blackfriday.HorizontalRule:
			b.WriteString("---\n\n")
		case blackfriday.Image:
			return blackfriday.SkipChildren
		case blackfriday.HTMLBlock, blackfriday.HTMLSpan:
		case blackfriday.TableCell:
			if entering {
				b.WriteString("| ")
			} else {
				b.WriteString(" ")
			}
		case blackfriday.TableRow:
			if !entering {
				b.WriteString("|\n")
			}
		case blackfriday.TableHead:
			if !entering && n.FirstChild != nil {
				cells := 0
				for c := n.FirstChild.FirstChild; c != nil; c = c.Next {
					cells++
				}
				b.WriteString("|" + strings.Repeat(" --- |", cells) + "\n")
			}
		case blackfriday.Table:
			if !entering {
				b.WriteString("\n")
			}
		}
		return blackfriday.GoToNext
	})
	return b.String()
}

func itemNumber(n *blackfriday.Node) int {
	i := 1
	for p := n.Prev; p != nil; p = p.Prev {
		i++
	}
	return i
}

var (
	htmlTagRe   = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9]*(?:\s[^<>]*)?/?>`)
	bulletRe    = regexp.MustCompile(`^(\s*)[•·●○▪■◆*+]\s+`)
	numberRe    = regexp.MustCompile(`^(\s*)(\d{1,3})(?:[、)）]|\.\s)\s*`)
	setextH1Re  = regexp.MustCompile(`^=+\s*$`)
	setextH2Re  = regexp.MustCompile(`^-{2,}\s*$`)
	blankRunsRe = regexp.MustCompile(`\n{3,}`)
)

// ToMarkdown normalizes extracted text into markdown and prefixes a short
// metadata preamble with the source and the title.
func ToMarkdown(text, source, title string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")

	out := make([]string, 0, len(lines))
	fenced := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			fenced = !fenced
			out = append(out, strings.TrimRight(line, " \t"))
			continue
		}
		if fenced {
			out = append(out, line)
			continue
		}

		line = strings.TrimRight(htmlTagRe.ReplaceAllString(line, ""), " \t　")
		if n := len(out); n > 0 && strings.TrimSpace(out[n-1]) != "" && !isStructural(out[n-1]) {
			if setextH1Re.MatchString(line) {
				out[n-1] = "# " + strings.TrimSpace(out[n-1])
				continue
			}
			if setextH2Re.MatchString(line) {
				out[n-1] = "## " + strings.TrimSpace(out[n-1])
				continue
			}
		}
		line = bulletRe.ReplaceAllString(line, "$1- ")
		line = numberRe.ReplaceAllString(line, "$1$2. ")
		out = append(out, line)
	}

	body := strings.TrimSpace(blankRunsRe.ReplaceAllString(strings.Join(out, "\n"), "\n\n"))
	return "Source: " + source + "\nTitle: " + title + "\n\n" + body + "\n"
}

func isStructural(line string) bool {
	s := strings.TrimSpace(line)
	return strings.HasPrefix(s, "#") || strings.HasPrefix(s, "- ") || strings.HasPrefix(s, "|") || numberRe.MatchString(s)
}
