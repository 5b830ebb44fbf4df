package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatcher_FindAll(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		keywords []string
		text     string
		opts     []Option
		want     []string
	}{
		{
			name:     "ascii",
			keywords: []string{"sensitive", "words"},
			text:     "This is a test text containing sensitive words.",
			want:     []string{"sensitive", "words"},
		},
		{
			name:     "overlapping",
			keywords: []string{"he", "she", "hers"},
			text:     "ushers",
			want:     []string{"she", "he", "hers"},
		},
		{
			name:     "chinese",
			keywords: []string{"认证失败", "[no-context]"},
			text:     "调用出错：认证失败，请检查密钥",
			want:     []string{"认证失败"},
		},
		{
			name:     "fold case",
			keywords: []string{"sorry"},
			text:     "Sorry, I cannot answer.",
			opts:     []Option{WithFoldCase()},
			want:     []string{"Sorry"},
		},
		{
			name:     "no keywords",
			keywords: nil,
			text:     "anything",
			want:     nil,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewMatcher(tt.keywords, tt.opts...)
			got := m.FindAll(tt.text)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatcher_Count(t *testing.T) {
	t.Parallel()
	m := NewMatcher([]string{"alice", "acme"}, WithFoldCase())
	assert.Equal(t, 2, m.Count("Alice joined ACME, alice stayed"))
	assert.True(t, m.Contains("ACME corp"))
	assert.False(t, m.Contains("bob"))
}
