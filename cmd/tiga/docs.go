package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "列出文档及索引状态",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeEngine(e)

		docs, err := e.Documents(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPROGRESS\tSIZE")
		for _, d := range docs {
			name := d.Filename
			if d.IsFolder {
				name += "/"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", d.Id, name, d.Status, d.ProgressNote, d.Size)
		}
		return w.Flush()
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <doc_id>...",
	Short: "删除文档及其切片、向量和图谱贡献",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIds(args)
		if err != nil {
			return err
		}
		e, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeEngine(e)

		for _, id := range ids {
			if err = e.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\tdeleted\n", id)
		}
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <doc_id>...",
	Short: "重新索引失败的文档",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIds(args)
		if err != nil {
			return err
		}
		e, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeEngine(e)

		for _, id := range ids {
			if err = e.Retry(cmd.Context(), id); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%v\n", id, err)
			}
		}
		e.Wait()
		for _, id := range ids {
			if d, err := e.Document(cmd.Context(), id); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", d.Id, d.Status, d.ProgressNote)
			}
		}
		return nil
	},
}

var rebuildExcludes []string

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "清空向量与切片后按原文件重新索引全部文档",
	Long: `向量维度变化后旧向量表会被清空，用 rebuild 从原始文件重新生成切片和向量。
图谱保留，重复抽取会合并进已有节点。`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		excludes, err := parseIds(rebuildExcludes)
		if err != nil {
			return err
		}
		e, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeEngine(e)

		n, err := e.Rebuild(cmd.Context(), excludes)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d documents\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd, deleteCmd, retryCmd, rebuildCmd)
	rebuildCmd.Flags().StringSliceVar(&rebuildExcludes, "exclude", nil, "跳过的文档 ID")
}
