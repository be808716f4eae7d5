package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/admi-n/snitch/src/config"
	"github.com/admi-n/snitch/src/internal"
	"github.com/admi-n/snitch/src/internal/core"
	"github.com/admi-n/snitch/src/internal/handler"
	"github.com/admi-n/snitch/src/internal/jobs"
	"github.com/admi-n/snitch/src/internal/server"
	"github.com/admi-n/snitch/src/internal/store"
	"github.com/admi-n/snitch/src/strategy/prompts"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	command := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP API 服务",
		Example: "  snitch serve\n" +
			"  snitch serve --addr :9090",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, opts, needs{auditor: true, ledger: true, index: true}, func(s *config.Settings) {
				if addr != "" {
					s.Server.ListenAddr = addr
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			s := a.settings
			manager := jobs.NewManager(a.pipeline, jobs.Options{
				Workers:     s.Jobs.Workers,
				QueueSize:   s.Jobs.QueueSize,
				JobTimeout:  s.AI.Timeout + s.GitHub.FileTimeout,
				MaxFinished: s.Jobs.MaxFinished,
				Retention:   s.Jobs.Retention,
			}, a.logger.Named("jobs"))
			manager.Start(ctx)

			srv := server.New(a.pipeline, manager, server.Options{
				ListenAddr:      s.Server.ListenAddr,
				ReadTimeout:     s.Server.ReadTimeout,
				ShutdownTimeout: s.Server.ShutdownTimeout,
			}, a.logger.Named("http"))
			err = srv.Run(ctx)
			manager.Wait()
			return err
		},
	}
	command.Flags().StringVar(&addr, "addr", "", "监听地址，覆盖 server.listen_addr")
	return command
}

func newDiscoverCommand(opts *rootOptions) *cobra.Command {
	var owner, repo string
	var asJSON bool
	command := &cobra.Command{
		Use:     "discover",
		Short:   "列出仓库中的候选合约",
		Example: "  snitch discover --owner onflow --repo flow-core-contracts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), opts, needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			files, err := a.pipeline.Discover(cmd.Context(), owner, repo)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, files)
			}
			fmt.Fprintf(out, "📋 %s/%s 共发现 %d 个合约文件\n", owner, repo, len(files))
			for _, f := range files {
				fmt.Fprintf(out, "  - %s (%s, %d bytes)\n", f.Path, f.Language(), len(f.Content))
			}
			return nil
		},
	}
	command.Flags().StringVar(&owner, "owner", "", "仓库所有者")
	command.Flags().StringVar(&repo, "repo", "", "仓库名")
	command.Flags().BoolVar(&asJSON, "json", false, "以 JSON 输出 [{path, content}]")
	return command
}

func newAuditCommand(opts *rootOptions) *cobra.Command {
	var (
		cfg        internal.AuditConfig
		promptFile string
		outPath    string
		strategy   string
	)
	command := &cobra.Command{
		Use:   "audit",
		Short: "审计仓库中的一个合约",
		Example: "  snitch audit --owner onflow --repo flow-core-contracts --path contracts/FlowToken.cdc\n" +
			"  snitch audit --owner octo --repo vault --path contracts/Token.sol --out reports/Token.md",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, opts, needs{auditor: true}, func(s *config.Settings) {
				if strategy != "" {
					s.AI.Strategy = strategy
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			if promptFile != "" {
				data, err := os.ReadFile(promptFile)
				if err != nil {
					return fmt.Errorf("读取 prompt 文件失败: %w", err)
				}
				cfg.SystemPrompt = string(data)
			}
			cfg.Verbose = opts.Verbose

			out := cmd.OutOrStdout()
			progress := core.NewAuditProgress()
			printer := &stepPrinter{out: out}
			outcome, err := a.pipeline.Run(ctx, cfg, progress, func() { printer.print(progress.Steps()) })
			if err != nil {
				return err
			}

			if outPath != "" {
				if _, err := a.reporter.GenerateAndSave(outcome.Document, outPath); err != nil {
					return err
				}
				fmt.Fprintf(out, "💾 报告已保存到 %s\n", outPath)
			} else {
				fmt.Fprintln(out)
				fmt.Fprintln(out, outcome.Text)
			}
			if outcome.Result.HasScore() {
				fmt.Fprintf(out, "\n🏁 Audit Score: %d\n", *outcome.Result.Score)
			} else {
				fmt.Fprintln(out, "\n⚠️  报告中没有找到分数")
			}
			return nil
		},
	}
	command.Flags().StringVar(&cfg.Owner, "owner", "", "仓库所有者")
	command.Flags().StringVar(&cfg.Repo, "repo", "", "仓库名")
	command.Flags().StringVar(&cfg.Path, "path", "", "仓库内的合约路径")
	command.Flags().DurationVar(&cfg.Timeout, "timeout", 5*time.Minute, "整个审计流程的超时")
	command.Flags().StringVar(&promptFile, "prompt-file", "", "自定义 system prompt 文件，覆盖模板")
	command.Flags().StringVar(&strategy, "strategy", "", "strategy/prompts/audit 下的模板名")
	command.Flags().StringVar(&outPath, "out", "", "把 Markdown 报告写到文件")
	_ = command.RegisterFlagCompletionFunc("strategy", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		names, _ := prompts.ListStrategies(prompts.ModeAudit)
		return names, cobra.ShellCompDirectiveNoFileComp
	})
	return command
}

func newPublishCommand(opts *rootOptions) *cobra.Command {
	var req handler.PublishRequest
	var reportPath string
	command := &cobra.Command{
		Use:   "publish",
		Short: "上传审计报告并写入注册表",
		Example: "  snitch publish --report reports/Token.md --contract octo/vault/contracts/Token.sol\n" +
			"  snitch publish --report report.txt --owner octo --repo vault --path contracts/Token.sol --submitter 0xabc...",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if reportPath == "" {
				return errors.New("--report is required")
			}
			data, err := os.ReadFile(reportPath)
			if err != nil {
				return fmt.Errorf("读取报告失败: %w", err)
			}
			req.AuditReport = string(data)

			a, err := bootstrap(cmd.Context(), opts, needs{ledger: true, index: true})
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.Publish(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✅ 发布成功\n")
			fmt.Fprintf(out, "  分数: %d\n", res.Score)
			fmt.Fprintf(out, "  CID:  %s (%s)\n", res.CID, a.reporter.StorageName())
			if res.TxHash != "" {
				fmt.Fprintf(out, "  交易: %s\n", res.TxHash)
			}
			fmt.Fprintf(out, "  ID:   %d\n", res.ID)
			if !res.Indexed {
				fmt.Fprintln(out, "⚠️  本地索引写入失败，链上记录已提交")
			}
			return nil
		},
	}
	command.Flags().StringVar(&reportPath, "report", "", "审计报告文件（需包含 Audit Score: XX）")
	command.Flags().StringVar(&req.ContractID, "contract", "", "合约标识，为空时由 owner/repo/path 组成")
	command.Flags().StringVar(&req.Owner, "owner", "", "仓库所有者")
	command.Flags().StringVar(&req.Repo, "repo", "", "仓库名")
	command.Flags().StringVar(&req.Path, "path", "", "仓库内的合约路径")
	command.Flags().StringVar(&req.Submitter, "submitter", "", "提交者地址，默认使用签名账户")
	return command
}

func newSearchCommand(opts *rootOptions) *cobra.Command {
	var contract string
	var onchain bool
	var limit int
	command := &cobra.Command{
		Use:     "search",
		Short:   "按合约标识查询历史审计",
		Example: "  snitch search --contract octo/vault/contracts/Token.sol\n  snitch search --contract octo/vault/contracts/Token.sol --ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), opts, needs{ledger: onchain, index: !onchain})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if onchain {
				records, err := a.pipeline.SearchLedger(cmd.Context(), contract)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "⛓️  链上共 %d 条审计记录\n", len(records))
				for _, r := range records {
					fmt.Fprintf(out, "  #%d score=%d cid=%s submitter=%s at=%s\n",
						r.ID, r.Score, r.CID, r.Submitter, r.Timestamp.UTC().Format(time.RFC3339))
				}
				return nil
			}

			records, err := a.pipeline.SearchIndex(cmd.Context(), contract, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "📋 共 %d 条审计记录\n", len(records))
			for _, r := range records {
				fmt.Fprintf(out, "  %s score=%d cid=%s", r.CreatedAt.Format(time.RFC3339), r.Score, r.CID)
				if r.TxHash != "" {
					fmt.Fprintf(out, " tx=%s", r.TxHash)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	command.Flags().StringVar(&contract, "contract", "", "合约标识，例如 owner/repo/path")
	command.Flags().BoolVar(&onchain, "ledger", false, "查询链上注册表而不是本地索引")
	command.Flags().IntVar(&limit, "limit", store.DefaultSearchLimit, "最多返回的记录数")
	return command
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "执行审计索引数据库迁移",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := config.LoadSettings(opts.ConfigPath)
			if err != nil {
				return fmt.Errorf("加载配置失败: %w", err)
			}
			if !settings.Database.Enabled() {
				return fmt.Errorf("未配置数据库: 设置 %s 或 database.dsn", config.EnvDatabaseURL)
			}
			a, err := bootstrap(cmd.Context(), opts, needs{index: true})
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s 迁移完成\n", settings.Database.DriverName())
			return nil
		},
	}
}

// stepPrinter 只打印状态发生变化的步骤
type stepPrinter struct {
	out  io.Writer
	last []core.StepStatus
}

func (p *stepPrinter) print(steps []core.Step) {
	if len(p.last) != len(steps) {
		p.last = make([]core.StepStatus, len(steps))
	}
	for i, s := range steps {
		if p.last[i] == s.Status {
			continue
		}
		p.last[i] = s.Status
		switch s.Status {
		case core.StepLoading:
			fmt.Fprintf(p.out, "⏳ %s...\n", s.Label)
		case core.StepCompleted:
			fmt.Fprintf(p.out, "✅ %s\n", s.Label)
		case core.StepFailed:
			fmt.Fprintf(p.out, "❌ %s: %s\n", s.Label, s.Error)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
