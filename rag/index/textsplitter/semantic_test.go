package textsplitter

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSplitSentences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "chinese stops",
			text: "今天下雨。明天晴天！后天呢？",
			want: []string{"今天下雨。", "明天晴天！", "后天呢？"},
		},
		{
			name: "closing quote stays",
			text: "他说：“走吧。”我们就走了。",
			want: []string{"他说：“走吧。”", "我们就走了。"},
		},
		{
			name: "ascii needs whitespace",
			text: "Pi is 3.14 roughly. Next one! Done",
			want: []string{"Pi is 3.14 roughly.", "Next one!", "Done"},
		},
		{
			name: "blank",
			text: "   ",
			want: nil,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SplitSentences(tt.text))
		})
	}
}

func TestSemantic_SplitText(t *testing.T) {
	t.Parallel()

	s := NewSemantic(WithChunkSize(10), WithChunkOverlap(5))
	chunks, err := s.SplitText("一二三四。五六七八。\n\n九十一二。三四五六七八九十一二三。")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"一二三四。五六七八。",
		"五六七八。九十一二。",
		"九十一二。三四五六七八九十一二三。",
	}, chunks)
}

func TestSemantic_EnglishJoin(t *testing.T) {
	t.Parallel()

	s := NewSemantic(WithChunkSize(100), WithChunkOverlap(0))
	chunks, err := s.SplitText("First sentence. Second sentence.")
	require.NoError(t, err)
	assert.Equal(t, []string{"First sentence. Second sentence."}, chunks)
}

func TestSemantic_Bounds(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(5, 60).Draw(t, "size")
		overlap := rapid.IntRange(0, size-1).Draw(t, "overlap")
		sents := rapid.SliceOfN(rapid.StringMatching(`[一-龥]{1,20}。`), 1, 30).Draw(t, "sents")
		text := strings.Join(sents, "")

		chunks, err := NewSemantic(WithChunkSize(size), WithChunkOverlap(overlap)).SplitText(text)
		if err != nil {
			t.Fatal(err)
		}
		if len(chunks) == 0 {
			t.Fatalf("no chunks for %q", text)
		}
		for _, c := range chunks {
			// a chunk only exceeds size by the sentence that started it
			parts := SplitSentences(c)
			if len(parts) > 1 && utf8.RuneCountInString(c) > size+utf8.RuneCountInString(parts[len(parts)-1]) {
				t.Fatalf("chunk %q exceeds %d", c, size)
			}
		}
		if !strings.HasSuffix(chunks[len(chunks)-1], sents[len(sents)-1]) {
			t.Fatalf("last sentence lost")
		}
	})
}

func TestFixed_SplitText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{name: "empty", text: "", size: 4, overlap: 1, want: []string{}},
		{name: "single window", text: "abc", size: 4, overlap: 1, want: []string{"abc"}},
		{name: "overlapping", text: "abcdefghij", size: 4, overlap: 1, want: []string{"abcd", "defg", "ghij"}},
		{name: "runes", text: "一二三四五六", size: 4, overlap: 2, want: []string{"一二三四", "三四五六"}},
		{name: "overlap too large is ignored", text: "abcdef", size: 3, overlap: 3, want: []string{"abc", "def"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NewFixed(WithChunkSize(tt.size), WithChunkOverlap(tt.overlap)).SplitText(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	s, err := New(StrategyFixed)
	require.NoError(t, err)
	assert.IsType(t, Fixed{}, s)

	s, err = New(StrategyFixed, WithEncodingName("cl100k_base"))
	require.NoError(t, err)
	assert.IsType(t, TokenSplitter{}, s)

	s, err = New("Semantic")
	require.NoError(t, err)
	assert.IsType(t, Semantic{}, s)

	s, err = New(StrategyMarkdown)
	require.NoError(t, err)
	assert.IsType(t, &Markdown{}, s)

	_, err = New("paragraphs")
	assert.Error(t, err)
}
