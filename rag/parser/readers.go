package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/bigf625oot/Tiga-sub000/utils/json"
	"github.com/go-shiori/go-readability"
	"github.com/pkg/errors"
	"github.com/unidoc/unioffice/document"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v2"
)

// TextReader handles plain text in any of the supported encodings.
type TextReader struct{}

func (r *TextReader) Parse(filePath string) (string, error) {
	content, err := readFile(filePath)
	if err != nil {
		return "", errors.Wrap(err, "read file")
	}
	return DecodeText(content), nil
}

// DOCXReader extracts paragraph text from Word documents.
type DOCXReader struct{}

func (r *DOCXReader) Parse(filePath string) (string, error) {
	doc, err := document.Open(filePath)
	if err != nil {
		return "", errors.Wrap(err, "open docx")
	}
	defer doc.Close()

	var text strings.Builder
	for _, para := range doc.Paragraphs() {
		for _, run := range para.Runs() {
			text.WriteString(run.Text())
		}
		text.WriteString("\n\n")
	}
	return text.String(), nil
}

// JSONReader pretty prints JSON so keys land on their own lines.
type JSONReader struct{}

func (r *JSONReader) Parse(filePath string) (string, error) {
	content, err := readFile(filePath)
	if err != nil {
		return "", errors.Wrap(err, "read file")
	}
	text := DecodeText(content)

	var data any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		// malformed json is still useful as text
		return text, nil
	}
	pretty, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return text, nil
	}
	return "```json\n" + string(pretty) + "\n```", nil
}

type YAMLReader struct{}

func (r *YAMLReader) Parse(filePath string) (string, error) {
	content, err := readFile(filePath)
	if err != nil {
		return "", errors.Wrap(err, "read file")
	}
	text := DecodeText(content)

	var data any
	if err := yaml.Unmarshal([]byte(text), &data); err != nil {
		return text, nil
	}
	pretty, err := yaml.Marshal(data)
	if err != nil {
		return text, nil
	}
	return "```yaml\n" + string(pretty) + "```", nil
}

// HTMLReader keeps the main article when readability finds one and falls
// back to the whole document text.
type HTMLReader struct{}

func (r *HTMLReader) Parse(filePath string) (string, error) {
	content, err := readFile(filePath)
	if err != nil {
		return "", errors.Wrap(err, "read file")
	}
	html := DecodeText(content)

	pageURL, _ := url.Parse("file://" + filePath)
	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		if article.Title != "" {
			return "# " + article.Title + "\n\n" + article.TextContent, nil
		}
		return article.TextContent, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(html)))
	if err != nil {
		return "", errors.Wrap(err, "parse html")
	}
	doc.Find("script,style,noscript").Remove()
	return doc.Text(), nil
}

// ExcelReader renders each sheet as a markdown table.
type ExcelReader struct{}

func (r *ExcelReader) Parse(filePath string) (string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return "", errors.Wrap(err, "open excel file")
	}
	defer f.Close()

	var result strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil || len(rows) == 0 {
			continue
		}
		result.WriteString(fmt.Sprintf("## %s\n\n", sheetName))

		width := 0
		for _, row := range rows {
			width = max(width, len(row))
		}
		for i, row := range rows {
			cells := make([]string, width)
			for j := range cells {
				if j < len(row) {
					cells[j] = strings.ReplaceAll(strings.TrimSpace(row[j]), "|", "\\|")
				}
			}
			result.WriteString("| " + strings.Join(cells, " | ") + " |\n")
			if i == 0 {
				result.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
			}
		}
		result.WriteString("\n")
	}
	return result.String(), nil
}
