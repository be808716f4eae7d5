package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/admi-n/snitch/src/internal/ai/parser"
	"github.com/admi-n/snitch/src/internal/report/renderers"
)

// AuditDocument 单个合约的审计结果及其来源
type AuditDocument struct {
	ContractID  string // 链上 / 索引使用的合约标识，默认 owner/repo/path
	Owner       string
	Repo        string
	Path        string
	Language    string
	Provider    string
	Strategy    string
	GeneratedAt time.Time
	ReportText  string // 模型原文
	Body        string // 渲染到报告正文的内容，为空时使用 ReportText
	Score       *int
	Findings    []parser.Finding // 结构化模式下才有
}

// ContractIdentifier owner/repo/path 形式的默认合约标识
func ContractIdentifier(owner, repo, path string) string {
	return strings.Trim(owner+"/"+repo+"/"+strings.TrimLeft(path, "/"), "/")
}

// Generator 报告生成器接口
type Generator interface {
	Generate(doc *AuditDocument) (string, error)
}

// MarkdownGenerator markdown格式报告生成器
type MarkdownGenerator struct {
	renderer *renderers.MarkdownRenderer
}

// NewMarkdownGenerator 创建markdown报告生成器
func NewMarkdownGenerator() *MarkdownGenerator {
	return &MarkdownGenerator{renderer: renderers.NewMarkdownRenderer()}
}

// Generate 生成markdown格式报告
func (g *MarkdownGenerator) Generate(doc *AuditDocument) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("audit document is nil")
	}
	body := doc.Body
	if strings.TrimSpace(body) == "" {
		body = doc.ReportText
	}
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("audit report text is empty")
	}

	var b strings.Builder

	// 报告头部
	b.WriteString("# Snitch 审计报告\n\n")
	if doc.Owner != "" || doc.Repo != "" {
		fmt.Fprintf(&b, "**仓库**: %s/%s\n", doc.Owner, doc.Repo)
	}
	if doc.Path != "" {
		fmt.Fprintf(&b, "**合约**: %s\n", doc.Path)
	}
	if doc.ContractID != "" {
		fmt.Fprintf(&b, "**合约标识**: %s\n", doc.ContractID)
	}
	if doc.Language != "" {
		fmt.Fprintf(&b, "**语言**: %s\n", doc.Language)
	}
	if doc.Provider != "" {
		fmt.Fprintf(&b, "**AI 提供商**: %s\n", doc.Provider)
	}
	if doc.Strategy != "" {
		fmt.Fprintf(&b, "**策略**: %s\n", doc.Strategy)
	}
	generatedAt := doc.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}
	fmt.Fprintf(&b, "**生成时间**: %s\n", generatedAt.UTC().Format("2006-01-02 15:04:05"))
	if doc.Score != nil {
		fmt.Fprintf(&b, "**分数**: %d\n\n", *doc.Score)
	} else {
		b.WriteString("**分数**: 未提取\n\n")
	}

	// 结构化模式下的发现列表
	if len(doc.Findings) > 0 {
		b.WriteString(g.renderer.RenderFindings(doc.Findings))
	}

	b.WriteString("## 审计报告\n\n")
	b.WriteString(strings.TrimSpace(body))
	b.WriteString("\n")

	return b.String(), nil
}
