package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/admi-n/snitch/src/config"
	"github.com/admi-n/snitch/src/internal"
	"github.com/admi-n/snitch/src/internal/ai"
	"github.com/admi-n/snitch/src/internal/ai/parser"
	"github.com/admi-n/snitch/src/internal/core"
	"github.com/admi-n/snitch/src/internal/discovery"
	"github.com/admi-n/snitch/src/internal/ledger"
	"github.com/admi-n/snitch/src/internal/report"
	"github.com/admi-n/snitch/src/internal/store"
	"github.com/admi-n/snitch/src/strategy/prompts"
)

// Discoverer 仓库合约发现
type Discoverer interface {
	Discover(ctx context.Context, owner, repo string) ([]internal.ContractFile, error)
}

// Auditor LLM 审计
type Auditor interface {
	Audit(ctx context.Context, systemPrompt, content string) (string, error)
	GetClientInfo() string
}

// Ledger 链上注册表
type Ledger interface {
	Submit(ctx context.Context, sub ledger.Submission) (string, error)
	GetAudits(ctx context.Context, contractID string) ([]ledger.Record, error)
}

// Deps 流水线依赖；Auditor / Ledger 可以为空
type Deps struct {
	Discoverer Discoverer
	Auditor    Auditor
	Reporter   *report.Reporter
	Ledger     Ledger
	Index      store.Index
	Provider   string // Auditor 为空时用于缺少密钥的提示
	Strategy   string
	Structured bool
	Logger     *zap.Logger
	Now        func() time.Time
}

// Pipeline 发现 -> 选择 -> 构建 prompt -> 审计 -> 发布
type Pipeline struct {
	discover   Discoverer
	auditor    Auditor
	reporter   *report.Reporter
	ledger     Ledger
	index      store.Index
	parser     *parser.Parser
	provider   string
	strategy   string
	structured bool
	logger     *zap.Logger
	now        func() time.Time
}

// NewPipeline 创建流水线
func NewPipeline(d Deps) *Pipeline {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	index := d.Index
	if index == nil {
		index = store.NewMemoryIndex()
	}
	return &Pipeline{
		discover:   d.Discoverer,
		auditor:    d.Auditor,
		reporter:   d.Reporter,
		ledger:     d.Ledger,
		index:      index,
		parser:     parser.NewParser(),
		provider:   d.Provider,
		strategy:   d.Strategy,
		structured: d.Structured,
		logger:     logger,
		now:        now,
	}
}

// AuditOutcome 一次完整审计的产物
type AuditOutcome struct {
	File     internal.ContractFile
	Result   internal.AuditResult // ReportText 保持模型原文
	Document *report.AuditDocument
	Text     string // 终端展示用，结构化模式下为解析后的报告
}

// Discover 列出仓库中的候选合约
func (p *Pipeline) Discover(ctx context.Context, owner, repo string) ([]internal.ContractFile, error) {
	files, err := p.discover.Discover(ctx, owner, repo)
	if err != nil {
		if !errors.Is(err, discovery.ErrMissingInput) {
			p.logger.Error("❌ 获取合约失败", zap.String("owner", owner), zap.String("repo", repo), zap.Error(err))
		}
		return nil, err
	}
	p.logger.Info("📋 合约发现完成", zap.String("owner", owner), zap.String("repo", repo), zap.Int("files", len(files)))
	return files, nil
}

// AuditContent 直接审计一段合约内容，原样返回模型输出
func (p *Pipeline) AuditContent(ctx context.Context, systemPrompt, content string) (internal.AuditResult, error) {
	if strings.TrimSpace(systemPrompt) == "" || strings.TrimSpace(content) == "" {
		return internal.AuditResult{}, ai.ErrMissingInput
	}
	if p.auditor == nil {
		return internal.AuditResult{}, config.MissingKey(p.provider)
	}
	text, err := p.auditor.Audit(ctx, systemPrompt, content)
	if err != nil {
		p.logger.Error("❌ 审计失败", zap.Error(err))
		return internal.AuditResult{}, err
	}
	return p.result(text), nil
}

// Run 执行拉取 + 审计两个步骤。progress 可为空；onUpdate 在每次状态变化后调用。
func (p *Pipeline) Run(ctx context.Context, cfg internal.AuditConfig, progress *core.Progress, onUpdate func()) (*AuditOutcome, error) {
	if progress == nil {
		progress = core.NewAuditProgress()
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("%w: missing contract path", discovery.ErrContractNotFound)
	}
	if p.auditor == nil {
		return nil, config.MissingKey(p.provider)
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	log := p.logger.With(zap.String("owner", cfg.Owner), zap.String("repo", cfg.Repo), zap.String("path", cfg.Path))

	// 1. 拉取合约内容
	var file internal.ContractFile
	err := core.Run(progress, core.StepFetch, func() error {
		files, err := p.Discover(ctx, cfg.Owner, cfg.Repo)
		if err != nil {
			return err
		}
		file, err = discovery.Select(files, cfg.Path)
		return err
	}, onUpdate)
	if err != nil {
		return nil, err
	}

	// 2. 生成审计报告
	var text string
	err = core.Run(progress, core.StepAudit, func() error {
		systemPrompt := cfg.SystemPrompt
		if strings.TrimSpace(systemPrompt) == "" {
			built, err := prompts.BuildAuditPrompt(p.strategy, cfg.Owner, cfg.Repo, file, p.structured)
			if err != nil {
				return fmt.Errorf("加载 prompt 模板失败: %w", err)
			}
			systemPrompt = built
		}
		out, err := p.auditor.Audit(ctx, systemPrompt, file.Content)
		text = out
		return err
	}, onUpdate)
	if err != nil {
		log.Error("❌ 审计失败", zap.Error(err))
		return nil, err
	}

	result := p.result(text)
	doc := &report.AuditDocument{
		ContractID:  report.ContractIdentifier(cfg.Owner, cfg.Repo, file.Path),
		Owner:       cfg.Owner,
		Repo:        cfg.Repo,
		Path:        file.Path,
		Language:    file.Language(),
		Provider:    p.auditor.GetClientInfo(),
		Strategy:    p.strategy,
		GeneratedAt: p.now(),
		ReportText:  text,
		Score:       result.Score,
	}
	outcome := &AuditOutcome{File: file, Result: result, Document: doc, Text: text}
	if sr := p.decodeStructured(doc); sr != nil {
		outcome.Text = sr.Markdown()
		log.Info("🔎 结构化报告", zap.Int("findings", len(sr.Findings)), zap.Int("high", sr.GetHighSeverityCount()))
	}

	if result.HasScore() {
		log.Info("✅ 审计完成", zap.Int("score", *result.Score))
	} else {
		log.Warn("⚠️ 审计完成，但报告中没有分数")
	}
	return outcome, nil
}

// decodeStructured 结构化模式下解析 JSON 回复，正文和发现列表写回 doc；解析失败时按原文渲染
func (p *Pipeline) decodeStructured(doc *report.AuditDocument) *parser.StructuredReport {
	if !p.structured {
		return nil
	}
	sr, err := p.parser.Parse(doc.ReportText)
	if err != nil {
		p.logger.Debug("结构化报告解析失败，按原文渲染", zap.Error(err))
		return nil
	}
	doc.Body = sr.Report
	doc.Findings = sr.Findings
	return sr
}

// FetchReport 按 CID 读取已发布的报告
func (p *Pipeline) FetchReport(ctx context.Context, cid string) (*report.StoredReport, error) {
	cid = strings.TrimSpace(cid)
	if cid == "" {
		return nil, report.ErrInvalidCID
	}
	if p.reporter == nil {
		return nil, report.ErrFetchUnsupported
	}
	return p.reporter.Fetch(ctx, cid)
}

func (p *Pipeline) result(text string) internal.AuditResult {
	res := internal.AuditResult{ReportText: text}
	if score, ok := p.parser.ScoreFrom(text, p.structured); ok {
		res.Score = &score
	}
	return res
}
