package main

import (
	"github.com/bigf625oot/Tiga-sub000/tool/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "以 stdio 方式运行 MCP 服务",
	Long: `提供三个工具：search_knowledge_base、query_knowledge_graph、get_graph_structure。
日志只写 stderr 或文件，stdout 留给协议。`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeEngine(e)
		return mcp.NewServer(e, Version).ServeStdio()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
