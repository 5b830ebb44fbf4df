package parser

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

type fakeOCR struct {
	text  string
	calls int
}

func (f *fakeOCR) Recognize(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.text, nil
}

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, content, 0o644))
	return p
}

func TestParser_Parse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		file     string
		content  string
		contains []string
		excludes []string
	}{
		{
			name:     "plain text",
			file:     "notes.txt",
			content:  "第一段内容。\n\n第二段内容。",
			contains: []string{"Title: notes", "Source: local", "第一段内容。", "第二段内容。"},
		},
		{
			name:     "json pretty printed",
			file:     "data.json",
			content:  `{"name":"tiga","tags":["a","b"]}`,
			contains: []string{"```json", `"name": "tiga"`},
		},
		{
			name:     "markdown without html",
			file:     "readme.md",
			content:  "Title\n=====\n\n<div>hidden</div>\n\n* one\n* two\n\n1. first\n2. second\n",
			contains: []string{"# Title", "- one", "- two", "1. first", "2. second"},
			excludes: []string{"<div>", "hidden"},
		},
		{
			name:     "html article",
			file:     "page.html",
			content:  "<html><head><title>T</title><style>.x{}</style></head><body><p>正文内容在这里。</p></body></html>",
			contains: []string{"正文内容在这里。"},
			excludes: []string{".x{}"},
		},
		{
			name:     "unknown extension read as text",
			file:     "script.sh",
			content:  "echo hello",
			contains: []string{"echo hello"},
		},
	}

	p := New()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeFile(t, tt.file, []byte(tt.content))
			out, err := p.Parse(context.Background(), path)
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestParser_ParseErrors(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := context.Background()

	_, err := p.Parse(ctx, writeFile(t, "old.doc", []byte("binary")))
	assert.ErrorIs(t, err, rag.ErrParse)

	_, err = p.Parse(ctx, writeFile(t, "empty.txt", []byte(" \n\t\n ")))
	assert.ErrorIs(t, err, rag.ErrParse)

	_, err = p.Parse(ctx, writeFile(t, "scan.pdf", []byte("not really a pdf")))
	assert.ErrorIs(t, err, rag.ErrParse)
}

func TestParser_PDFFallsBackToOCR(t *testing.T) {
	t.Parallel()

	ocr := &fakeOCR{text: "扫描件识别出的文字"}
	p := New(WithOCR(ocr))
	out, err := p.Parse(context.Background(), writeFile(t, "scan.pdf", []byte("not really a pdf")))
	require.NoError(t, err)
	assert.Equal(t, 1, ocr.calls)
	assert.Contains(t, out, "扫描件识别出的文字")
	assert.Contains(t, out, "Title: scan")
}

func TestParser_CustomReader(t *testing.T) {
	t.Parallel()

	p := New(WithReader(".rtf", &TextReader{}), WithSource("upload"))
	out, err := p.Parse(context.Background(), writeFile(t, "a.rtf", []byte("rich text")))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Source: upload\nTitle: a\n\n"))
}

func TestIsTextValid(t *testing.T) {
	t.Parallel()

	assert.False(t, IsTextValid(""))
	assert.True(t, IsTextValid("short "))
	assert.True(t, IsTextValid(strings.Repeat("正常文本", 20)))
	// exactly at the threshold
	assert.True(t, IsTextValid(strings.Repeat("a", 90)+strings.Repeat("\ue000", 10)))
	assert.False(t, IsTextValid(strings.Repeat("a", 89)+strings.Repeat("\ue000", 11)))
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", Sanitize("a\x00b\xffc"))
	assert.Equal(t, "中文", Sanitize("中文"))
}

func TestDecodeText(t *testing.T) {
	t.Parallel()

	gbk, err := simplifiedchinese.GBK.NewEncoder().String("中文测试")
	require.NoError(t, err)

	assert.Equal(t, "中文测试", DecodeText([]byte(gbk)))
	assert.Equal(t, "hello", DecodeText([]byte("\xef\xbb\xbfhello")))
	assert.Equal(t, "café", DecodeText([]byte("caf\xe9")))
}

func TestToMarkdown(t *testing.T) {
	t.Parallel()

	in := "Intro\n-----\n\n• point one\n1、 步骤一\n2) 步骤二\n<b>bold</b>  \n\n\n\nend\n```\n<keep>\n```"
	out := ToMarkdown(in, "local", "doc")

	assert.True(t, strings.HasPrefix(out, "Source: local\nTitle: doc\n\n"))
	assert.Contains(t, out, "## Intro")
	assert.Contains(t, out, "- point one")
	assert.Contains(t, out, "1. 步骤一")
	assert.Contains(t, out, "2. 步骤二")
	assert.Contains(t, out, "\nbold\n")
	assert.Contains(t, out, "<keep>")
	assert.NotContains(t, out, "\n\n\n")
	assert.Equal(t, out, ToMarkdown(strings.TrimPrefix(out, "Source: local\nTitle: doc\n\n"), "local", "doc"))
}
