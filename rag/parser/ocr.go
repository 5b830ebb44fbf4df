package parser

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// OCR recognizes text from a scanned PDF.
type OCR interface {
	Recognize(ctx context.Context, pdfPath string) (string, error)
}

// TesseractOCR rasterizes pages with pdftoppm and reads them with tesseract.
// Both binaries must be on PATH.
type TesseractOCR struct {
	Lang string
	DPI  int
}

func NewTesseractOCR(lang string) *TesseractOCR {
	if lang == "" {
		lang = "chi_sim+eng"
	}
	return &TesseractOCR{Lang: lang, DPI: 200}
}

func (o *TesseractOCR) Recognize(ctx context.Context, pdfPath string) (string, error) {
	dir, err := os.MkdirTemp("", "tiga-ocr-*")
	if err != nil {
		return "", errors.Wrap(err, "create ocr workdir")
	}
	defer os.RemoveAll(dir)

	dpi := o.DPI
	if dpi <= 0 {
		dpi = 200
	}
	prefix := filepath.Join(dir, "page")
	if out, err := exec.CommandContext(ctx, "pdftoppm", "-r", strconv.Itoa(dpi), "-png", pdfPath, prefix).CombinedOutput(); err != nil {
		return "", errors.Wrapf(err, "pdftoppm: %s", strings.TrimSpace(string(out)))
	}

	// pdftoppm zero pads page numbers, lexical order is page order
	pages, err := filepath.Glob(prefix + "*.png")
	if err != nil {
		return "", errors.Wrap(err, "list rendered pages")
	}
	sort.Strings(pages)

	var b strings.Builder
	for _, page := range pages {
		out, err := exec.CommandContext(ctx, "tesseract", page, "stdout", "-l", o.Lang).Output()
		if err != nil {
			return "", errors.Wrapf(err, "tesseract %s", filepath.Base(page))
		}
		b.Write(out)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}
