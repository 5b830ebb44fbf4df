package query

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/pkg/errors"
	"github.com/thoas/go-funk"
)

// DefaultSystemPrompt is used when no prompt file is configured. The
// placeholders are {current_date}, {knowledge} and {history}.
const DefaultSystemPrompt = `---Role---
你是一个严谨、可靠的知识库问答助手，必须严格依据提供的上下文（文档片段与实体）回答用户问题。

---Instructions---
1. 使用简体中文回答。
2. 每个事实后都要用 [n] 标注出处，n 对应 "Reference Document List" 中的编号，例如："智能工厂建设加速[1]，产值提升了20%[2]。"
3. 不要使用 [Source: n]、(Source: n) 或 doc#id 的形式，只使用 [n]。
4. 不要在结尾生成参考文献列表。
5. 只依据上下文回答，上下文中没有的信息请回答"根据已知文档无法回答该问题"。

当前日期：{current_date}

---History---
{history}

---Context---
{knowledge}
`

// LoadPrompt reads a prompt template file, an empty path yields the default.
func LoadPrompt(path string) (string, error) {
	if path == "" {
		return DefaultSystemPrompt, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "read prompt file %s", path)
	}
	tpl := strings.TrimSpace(string(b))
	if tpl == "" {
		return DefaultSystemPrompt, nil
	}
	return tpl, nil
}

// PromptLimits caps the rendered knowledge and history, in runes.
type PromptLimits struct {
	MaxKnowledge int
	MaxHistory   int
}

// RenderPrompt fills the template. Knowledge past the limit is cut with
// a "...(truncated)" tail, history keeps its most recent part.
func RenderPrompt(tpl string, now time.Time, stats, knowledge string, history []string, limits PromptLimits) string {
	if limits.MaxKnowledge <= 0 {
		limits.MaxKnowledge = DefaultMaxKnowledge
	}
	if limits.MaxHistory <= 0 {
		limits.MaxHistory = DefaultMaxHistory
	}
	if k := []rune(knowledge); len(k) > limits.MaxKnowledge {
		knowledge = string(k[:limits.MaxKnowledge]) + "...(truncated)"
	}
	hist := strings.Join(history, "\n")
	if h := []rune(hist); len(h) > limits.MaxHistory {
		hist = string(h[len(h)-limits.MaxHistory:])
	}
	return strings.NewReplacer(
		"{current_date}", now.Format("2006-01-02"),
		"{knowledge}", stats+knowledge,
		"{history}", hist,
	).Replace(tpl)
}

// DocStats renders the processed-document statistics block from doc
// markers. Repeated markers count once, prefixes are stripped and names
// sorted.
func DocStats(markers []string) string {
	names := make([]string, 0, len(markers))
	for _, m := range funk.UniqString(markers) {
		if m == "" {
			continue
		}
		names = append(names, rag.StripMarker(m))
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	var b strings.Builder
	fmt.Fprintf(&b, "【系统统计信息】\n知识库现有 %d 篇已处理文档：\n", len(names))
	for i, n := range names {
		fmt.Fprintf(&b, "%d. %s\n", i+1, n)
	}
	b.WriteString("\n")
	return b.String()
}

// ShapeQuery asks for a Chinese answer unless the question already does.
func ShapeQuery(q string) string {
	if strings.Contains(q, "中文") {
		return q
	}
	return q + " (请用中文回答)"
}
