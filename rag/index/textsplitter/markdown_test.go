package textsplitter

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const handbook = `前言没有标题。

# 员工手册

## 入职

新员工第一天领取工牌。

### 设备

笔记本在 IT 处领取。

## 休假

年假十五天。

` + "```bash\n# 这不是标题\necho ok\n```" + `

# 附录 #

联系 HR。`

func TestMarkdown_Sections(t *testing.T) {
	t.Parallel()

	got := NewMarkdown().Sections(handbook)
	require.Len(t, got, 5)

	assert.Empty(t, got[0].Headings)
	assert.Equal(t, "前言没有标题。", got[0].Body)

	assert.Equal(t, []string{"# 员工手册", "## 入职"}, got[1].Headings)
	assert.Equal(t, []string{"# 员工手册", "## 入职", "### 设备"}, got[2].Headings)

	// a sibling replaces the deeper path, fenced lines stay in the body
	assert.Equal(t, []string{"# 员工手册", "## 休假"}, got[3].Headings)
	assert.Contains(t, got[3].Body, "# 这不是标题")

	// closing hashes are dropped from the heading
	assert.Equal(t, []string{"# 附录"}, got[4].Headings)
	assert.Equal(t, "# 附录\n联系 HR。", got[4].Heading()+"\n"+got[4].Body)
}

func TestMarkdown_MaxHeadingLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		level int
		want  int
	}{
		{name: "default stops at h4", level: 0, want: 5},
		{name: "only h1", level: 1, want: 3},
		{name: "h2", level: 2, want: 4},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewMarkdown()
			if tt.level > 0 {
				m = NewMarkdown(WithMaxHeadingLevel(tt.level))
			}
			assert.Len(t, m.Sections(handbook), tt.want)
		})
	}

	// deeper headings are body text
	s := NewMarkdown(WithMaxHeadingLevel(1)).Sections(handbook)
	assert.Contains(t, s[1].Body, "### 设备")
}

func TestMarkdown_SplitText(t *testing.T) {
	t.Parallel()

	text := "# 制度\n\n## 报销\n\n" + strings.Repeat("发票需在三十天内提交。", 6)
	chunks, err := NewMarkdown(WithChunkSize(30), WithChunkOverlap(0)).SplitText(text)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.True(t, strings.HasPrefix(c, "# 制度\n## 报销\n发票"), c)
		body := strings.TrimPrefix(c, "# 制度\n## 报销\n")
		assert.LessOrEqual(t, utf8.RuneCountInString(body), 30)
	}

	chunks, err = NewMarkdown().SplitText("   \n\n# 空标题\n")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
