package main

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bigf625oot/Tiga-sub000/rag/query"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	askDoc     int64
	askSession string
	askLocal   bool
	askQuiet   bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "基于知识库流式问答",
	Example: `  tiga ask "Alice 在哪家公司工作？"
  tiga ask --doc 3 "这份合同的付款条件是什么"
  tiga ask --session s1 "继续说说"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().Int64Var(&askDoc, "doc", 0, "只在该文档内检索")
	askCmd.Flags().StringVar(&askSession, "session", "", "会话 ID，沿用历史对话")
	askCmd.Flags().BoolVar(&askLocal, "local", false, "首轮检索使用 local 模式")
	askCmd.Flags().BoolVarP(&askQuiet, "quiet", "q", false, "不输出思考过程")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeEngine(e)

	req := &query.Request{
		Query:     strings.Join(args, " "),
		Scope:     query.ScopeGlobal,
		SessionId: askSession,
	}
	if req.SessionId == "" {
		req.SessionId = uuid.NewString()
	}
	if askDoc > 0 {
		req.Scope, req.DocId = query.ScopeDoc, askDoc
	}
	if askLocal {
		req.Mode = query.ModeLocal
	}
	out := cmd.OutOrStdout()
	emit := func(s string) error {
		_, err := io.WriteString(out, s)
		return err
	}
	if askQuiet {
		emit = thinkFilter(out)
	}
	if _, err = e.QAStream(ctx, req, emit); err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "session:", req.SessionId)
	return nil
}

// thinkFilter drops <think> blocks from the stream. Blocks always open
// and close on their own line.
func thinkFilter(w io.Writer) func(string) error {
	var (
		pending string
		inThink bool
	)
	return func(s string) error {
		pending += s
		for {
			i := strings.IndexByte(pending, '\n')
			if i < 0 {
				if inThink || strings.HasPrefix("<think>", pending) {
					return nil
				}
				_, err := io.WriteString(w, pending)
				pending = ""
				return err
			}
			line := pending[:i+1]
			pending = pending[i+1:]
			switch {
			case line == "<think>\n":
				inThink = true
			case inThink:
				if line == "</think>\n" || strings.HasSuffix(line, "</think>\n") {
					inThink = false
				}
			default:
				if _, err := io.WriteString(w, line); err != nil {
					return err
				}
			}
		}
	}
}
