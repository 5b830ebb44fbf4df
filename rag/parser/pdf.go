package parser

import (
	"fmt"
	"math"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pkg/errors"
)

// PDFReader offers three extraction strategies of decreasing fidelity.
type PDFReader struct{}

type pdfExtractor struct {
	name string
	fn   func(filePath string) (string, error)
}

func (r *PDFReader) extractors() []pdfExtractor {
	return []pdfExtractor{
		{name: "native", fn: r.native},
		{name: "layout", fn: r.layout},
		{name: "raw", fn: r.raw},
	}
}

// Parse returns the first non-empty, valid extraction.
func (r *PDFReader) Parse(filePath string) (string, error) {
	var lastErr error
	for _, ex := range r.extractors() {
		text, err := ex.fn(filePath)
		if err != nil {
			lastErr = err
			continue
		}
		if strings.TrimSpace(text) != "" && IsTextValid(text) {
			return text, nil
		}
	}
	if lastErr == nil {
		lastErr = errors.New("pdf has no usable text layer")
	}
	return "", lastErr
}

func (r *PDFReader) native(filePath string) (string, error) {
	return eachPage(filePath, func(p pdf.Page) (string, error) {
		fonts := make(map[string]*pdf.Font)
		for _, name := range p.Fonts() {
			f := p.Font(name)
			fonts[name] = &f
		}
		return p.GetPlainText(fonts)
	})
}

func (r *PDFReader) layout(filePath string) (string, error) {
	return eachPage(filePath, func(p pdf.Page) (string, error) {
		rows, err := p.GetTextByRow()
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for _, row := range rows {
			for _, word := range row.Content {
				b.WriteString(word.S)
			}
			b.WriteString("\n")
		}
		return b.String(), nil
	})
}

func (r *PDFReader) raw(filePath string) (string, error) {
	return eachPage(filePath, func(p pdf.Page) (string, error) {
		var (
			b     strings.Builder
			lastY = math.NaN()
		)
		for _, t := range p.Content().Text {
			if !math.IsNaN(lastY) && math.Abs(t.Y-lastY) > 1 {
				b.WriteString("\n")
			}
			b.WriteString(t.S)
			lastY = t.Y
		}
		return b.String(), nil
	})
}

// eachPage opens the file once and concatenates per-page output.
// The pdf package panics on some malformed inputs, those become errors.
func eachPage(filePath string, fn func(p pdf.Page) (string, error)) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return "", errors.Wrap(err, "open pdf")
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		s, err := fn(page)
		if err != nil {
			return "", errors.Wrapf(err, "page %d", i)
		}
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}
