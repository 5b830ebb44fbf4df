package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/bigf625oot/Tiga-sub000/config"
	"github.com/bigf625oot/Tiga-sub000/rag/engine"
	"github.com/bigf625oot/Tiga-sub000/utils/logger"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Version 当前版本号
const Version = "0.3.0"

var (
	cfgFile string
	debug   bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tiga",
	Short: "混合检索与流式问答引擎",
	Long: `tiga 把上传的文档解析、切分、向量化并抽取实体关系图谱，
再以向量检索加图谱检索的混合方式回答问题，答案带引用来源。`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if debug {
			c.Log.Level = "debug"
		}
		// stdout carries answers and the MCP protocol
		if c.Log.Output == "stdout" {
			c.Log.Output = "stderr"
		}
		logger.Init(&c.Log)
		cfg = c
		return nil
	},
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "启用调试日志")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// openEngine builds and initializes the engine from the loaded config.
// The caller owns Close.
func openEngine(ctx context.Context) (*engine.Engine, error) {
	e := engine.New(cfg)
	if err := e.Init(ctx); err != nil {
		return nil, errors.Wrap(err, "init engine")
	}
	return e, nil
}

func closeEngine(e *engine.Engine) {
	if err := e.Close(context.Background()); err != nil {
		logger.Warn("close engine: " + err.Error())
	}
}

// parseIds reads document ids from args, accepting "1,2" as well as "1 2".
func parseIds(args []string) ([]int64, error) {
	var ids []int64
	for _, a := range args {
		for _, part := range strings.Split(a, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, errors.Errorf("invalid document id %q", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}
