package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/spf13/cobra"
)

var (
	ingestParent int64
	ingestNoWait bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "上传并索引文档",
	Example: `  tiga ingest report.pdf notes.md
  tiga ingest --parent 3 scan.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().Int64Var(&ingestParent, "parent", 0, "所属文件夹 ID")
	ingestCmd.Flags().BoolVar(&ingestNoWait, "no-wait", false, "首段索引完成后立即返回")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeEngine(e)

	var parent *int64
	if ingestParent > 0 {
		parent = &ingestParent
	}
	out := cmd.OutOrStdout()
	var ids []int64
	failed := 0
	for _, path := range args {
		doc, err := e.Upload(ctx, path, filepath.Base(path), parent)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s\t上传失败: %v\n", path, err)
			continue
		}
		if err = e.Ingest(ctx, doc.Id); err != nil {
			failed++
			fmt.Fprintf(out, "%d\t%s\t索引失败: %v\n", doc.Id, doc.Filename, err)
			continue
		}
		ids = append(ids, doc.Id)
	}
	if !ingestNoWait {
		e.Wait()
	}
	for _, id := range ids {
		doc, err := e.Document(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", doc.Id, doc.Filename, doc.Status, doc.ProgressNote)
		if doc.Status == rag.StatusFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(args))
	}
	return nil
}
