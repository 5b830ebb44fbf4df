package parser

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/utils/logger"
	"go.uber.org/zap"
)

// Reader turns one file format into plain text.
type Reader interface {
	Parse(filePath string) (string, error)
}

// Parser dispatches by extension and normalizes the result into markdown.
type Parser struct {
	readers    map[string]Reader
	pdf        *PDFReader
	ocr        OCR
	ocrEnabled bool
	source     string
	logger     *zap.Logger
}

func New(opts ...Option) *Parser {
	options := &Options{
		Source: "local",
	}
	for _, opt := range opts {
		opt(options)
	}
	p := &Parser{
		pdf:        &PDFReader{},
		ocr:        options.OCR,
		ocrEnabled: options.OCREnabled,
		source:     options.Source,
		logger:     logger.Named("parser"),
	}
	text := &TextReader{}
	p.readers = map[string]Reader{
		".txt":      text,
		".csv":      text,
		".log":      text,
		".docx":     &DOCXReader{},
		".json":     &JSONReader{},
		".jsonl":    text,
		".yaml":     &YAMLReader{},
		".yml":      &YAMLReader{},
		".html":     &HTMLReader{},
		".htm":      &HTMLReader{},
		".md":       &MarkdownReader{},
		".markdown": &MarkdownReader{},
		".xlsx":     &ExcelReader{},
	}
	for ext, r := range options.Readers {
		p.readers[ext] = r
	}
	return p
}

// Parse reads a local file and returns normalized markdown text.
// It fails with rag.ErrParse when nothing printable could be extracted.
func (p *Parser) Parse(ctx context.Context, filePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(filePath))
	p.logger.Info("parsing file", zap.String("path", filePath), zap.String("ext", ext))

	var (
		text string
		err  error
	)
	switch ext {
	case ".pdf":
		text, err = p.parsePDF(ctx, filePath)
	case ".doc":
		return "", rag.NewError(rag.ErrParse, nil, "legacy .doc is not supported, save it as .docx")
	default:
		reader, ok := p.readers[ext]
		if !ok {
			reader = p.readers[".txt"]
		}
		text, err = reader.Parse(filePath)
	}
	if err != nil {
		return "", rag.Errorf(rag.ErrParse, err, "parse %s", filepath.Base(filePath))
	}

	text = Sanitize(strings.TrimSpace(text))
	if strings.TrimSpace(text) == "" {
		return "", rag.Errorf(rag.ErrParse, nil, "no text extracted from %s", filepath.Base(filePath))
	}
	title := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	return ToMarkdown(text, p.source, title), nil
}

func (p *Parser) parsePDF(ctx context.Context, filePath string) (string, error) {
	for _, ex := range p.pdf.extractors() {
		text, err := ex.fn(filePath)
		if err != nil {
			p.logger.Warn("pdf extractor failed", zap.String("extractor", ex.name), zap.Error(err))
			continue
		}
		if strings.TrimSpace(text) != "" && IsTextValid(text) {
			p.logger.Info("pdf parsed", zap.String("extractor", ex.name))
			return text, nil
		}
		p.logger.Warn("pdf extractor produced low-signal text", zap.String("extractor", ex.name))
	}

	if !p.ocrEnabled || p.ocr == nil {
		return "", rag.NewError(rag.ErrParse, nil, "no text layer found, enable OCR for scanned PDFs")
	}
	text, err := p.ocr.Recognize(ctx, filePath)
	if err != nil {
		return "", err
	}
	p.logger.Info("pdf parsed by ocr", zap.Int("chars", utf8.RuneCountInString(text)))
	return text, nil
}

// IsTextValid rejects text dominated by private-use-area runes, which is what
// broken font maps produce.
func IsTextValid(text string) bool {
	if text == "" {
		return false
	}
	total := utf8.RuneCountInString(text)
	if total < 50 {
		return true
	}
	private := 0
	for _, r := range text {
		if r >= 0xE000 && r <= 0xF8FF {
			private++
		}
	}
	return float64(private)/float64(total) <= 0.1
}

// Sanitize drops invalid UTF-8 (lone surrogates included) and NUL bytes.
func Sanitize(text string) string {
	text = strings.ToValidUTF8(text, "")
	return strings.ReplaceAll(text, "\x00", "")
}

func readFile(filePath string) ([]byte, error) {
	return os.ReadFile(filePath)
}
