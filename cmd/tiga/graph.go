package main

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	graphFormat string
	graphOut    string
)

var graphCmd = &cobra.Command{
	Use:   "graph <doc_id>",
	Short: "导出文档的实体关系子图",
	Example: `  tiga graph 3
  tiga graph 3 --format svg --out doc3.svg`,
	Args: cobra.ExactArgs(1),
	RunE: runGraph,
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringVarP(&graphFormat, "format", "f", "json", "输出格式: json, dot, svg")
	graphCmd.Flags().StringVarP(&graphOut, "out", "o", "", "写入文件，默认标准输出")
}

func runGraph(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return errors.Errorf("invalid document id %q", args[0])
	}
	switch graphFormat {
	case "json", "dot", "svg":
	default:
		return errors.Errorf("unsupported format %q", graphFormat)
	}
	e, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeEngine(e)

	data, err := e.GraphData(cmd.Context(), id, graphFormat)
	if err != nil {
		return err
	}
	if graphOut != "" {
		return errors.Wrap(os.WriteFile(graphOut, data, 0o644), "write graph")
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
