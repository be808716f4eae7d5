package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// rootOptions 全局参数
type rootOptions struct {
	ConfigPath string
	LogLevel   string
	Proxy      string
	Verbose    bool
}

const rootLongDescription = `🔍 Snitch - 智能合约 AI 审计工具

从 GitHub 仓库发现 Solidity (.sol) / Cadence (.cdc) 合约，
调用 LLM 生成审计报告并提取 "Audit Score: XX" 分数，
可选地把报告上传到内容寻址存储并写入链上注册表。

配置:
  在 src/config/settings.yaml 中设置，或使用环境变量:
  OPENAI_API_KEY, DEEPSEEK_API_KEY, GITHUB_TOKEN, PINATA_JWT,
  LEDGER_PRIVATE_KEY, DATABASE_URL`

// NewRootCommand 创建根命令及所有子命令
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "snitch",
		Short:         "AI smart contract auditor",
		Long:          rootLongDescription,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "配置文件路径（默认 src/config/settings.yaml）")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "覆盖日志级别: debug | info | warn | error")
	root.PersistentFlags().StringVar(&opts.Proxy, "proxy", "", "可选 HTTP 代理，例如 http://127.0.0.1:7897")
	root.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "输出详细日志")

	root.AddCommand(
		newServeCommand(opts),
		newDiscoverCommand(opts),
		newAuditCommand(opts),
		newPublishCommand(opts),
		newSearchCommand(opts),
		newMigrateCommand(opts),
	)
	return root
}

// Run 解析命令行并执行，SIGINT / SIGTERM 会取消 context
func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

// PrintFatal 将错误打印到 stderr 并以非零代码退出。
func PrintFatal(err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "错误:", err)
	os.Exit(1)
}
