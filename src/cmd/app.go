package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/admi-n/snitch/src/config"
	"github.com/admi-n/snitch/src/internal"
	"github.com/admi-n/snitch/src/internal/ai"
	"github.com/admi-n/snitch/src/internal/discovery"
	"github.com/admi-n/snitch/src/internal/github"
	"github.com/admi-n/snitch/src/internal/handler"
	"github.com/admi-n/snitch/src/internal/ledger"
	"github.com/admi-n/snitch/src/internal/logging"
	"github.com/admi-n/snitch/src/internal/report"
	"github.com/admi-n/snitch/src/internal/store"
)

// needs 子命令需要的可选组件
type needs struct {
	auditor bool
	ledger  bool
	index   bool
}

// app 一次命令执行所需的全部依赖
type app struct {
	settings *config.Settings
	logger   *zap.Logger
	clients  *internal.HTTPClientFactory
	reporter *report.Reporter
	auditor  *ai.Manager
	ledger   *ledger.Client
	index    store.Index
	pipeline *handler.Pipeline
}

// bootstrap 加载配置并按需创建各组件；overrides 在配置加载后、组件创建前执行
func bootstrap(ctx context.Context, opts *rootOptions, n needs, overrides ...func(*config.Settings)) (*app, error) {
	settings, err := config.LoadSettings(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if opts.Proxy != "" {
		settings.Proxy = opts.Proxy
	}
	for _, override := range overrides {
		override(settings)
	}
	level := settings.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}

	logger, err := logging.New(level, settings.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	clients, err := internal.NewHTTPClientFactory(settings.Proxy)
	if err != nil {
		return nil, err
	}
	if clients.ProxyEnabled() {
		logger.Info("🌐 使用代理", zap.String("proxy", clients.ProxyURL()))
	}

	a := &app{settings: settings, logger: logger, clients: clients}

	gh, err := github.NewClient(github.Config{
		BaseURL:    settings.GitHub.BaseURL,
		Token:      settings.GetGitHubToken(),
		HTTPClient: clients.Client(0),
	})
	if err != nil {
		return nil, err
	}
	discoverer := discovery.New(gh, discovery.Options{
		Extensions:  settings.GitHub.Extensions,
		Concurrency: settings.GitHub.Concurrency,
		FileTimeout: settings.GitHub.FileTimeout,
	}, logger.Named("discovery"))

	storage, err := report.NewStorage(settings.Storage, clients.Client(60*time.Second))
	if err != nil {
		return nil, err
	}
	a.reporter = report.NewReporter(report.NewMarkdownGenerator(), storage)

	deps := handler.Deps{
		Discoverer: discoverer,
		Reporter:   a.reporter,
		Provider:   settings.AI.Provider,
		Strategy:   settings.AI.Strategy,
		Structured: settings.AI.Structured,
		Logger:     logger.Named("pipeline"),
	}

	if n.auditor {
		if err := a.openAuditor(); err != nil {
			a.Close()
			return nil, err
		}
		if a.auditor != nil {
			deps.Auditor = a.auditor
		}
	}

	if n.ledger && settings.Ledger.Enabled {
		client, err := ledger.Dial(ctx, settings.Ledger, logger.Named("ledger"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("连接注册表失败: %w", err)
		}
		a.ledger = client
		deps.Ledger = client
	}

	if n.index {
		index, err := store.Open(ctx, settings.Database, true, logger.Named("store"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("打开审计索引失败: %w", err)
		}
		a.index = index
		deps.Index = index
	}

	a.pipeline = handler.NewPipeline(deps)
	return a, nil
}

// openAuditor 创建 AI 管理器；缺少 key 时只告警，审计请求会返回缺少配置的错误
func (a *app) openAuditor() error {
	mcfg, err := ai.ManagerConfigFromSettings(a.settings, a.clients.Client(a.settings.AI.Timeout), a.logger.Named("ai"))
	if err == nil {
		a.auditor, err = ai.NewManager(mcfg)
	}
	if errors.Is(err, config.ErrMissingAPIKey) {
		a.logger.Warn("⚠️ 未配置 LLM API Key，审计功能不可用", zap.String("provider", a.settings.AI.Provider))
		return nil
	}
	if err != nil {
		return fmt.Errorf("初始化 AI 管理器失败: %w", err)
	}
	a.logger.Info("🤖 AI 客户端已就绪", zap.String("client", a.auditor.GetClientInfo()))
	return nil
}

// Close 释放所有外部连接
func (a *app) Close() {
	if a.auditor != nil {
		_ = a.auditor.Close()
	}
	if a.ledger != nil {
		a.ledger.Close()
	}
	if a.index != nil {
		_ = a.index.Close()
	}
	_ = a.logger.Sync()
}
