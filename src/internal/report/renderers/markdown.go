package renderers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/admi-n/snitch/src/internal/ai/parser"
)

// MarkdownRenderer markdown渲染器
type MarkdownRenderer struct{}

// NewMarkdownRenderer 创建markdown渲染器
func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{}
}

// RenderFinding 渲染单个发现
func (r *MarkdownRenderer) RenderFinding(f parser.Finding) string {
	icon := getSeverityIcon(f.Severity)
	title := f.Title
	if title == "" {
		title = f.Description
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s **[%s]** %s", icon, f.Severity, title)
	if f.Location != "" {
		fmt.Fprintf(&b, " (`%s`)", f.Location)
	}
	if f.Title != "" && f.Description != "" {
		fmt.Fprintf(&b, "\n   **描述**: %s", f.Description)
	}
	if f.Remediation != "" {
		fmt.Fprintf(&b, "\n   **修复建议**: %s", f.Remediation)
	}
	return b.String()
}

// RenderFindings 按严重性从高到低渲染发现列表，并附带严重性分布
func (r *MarkdownRenderer) RenderFindings(findings []parser.Finding) string {
	sorted := make([]parser.Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return parser.GetSeverityScore(sorted[i].Severity) > parser.GetSeverityScore(sorted[j].Severity)
	})

	dist := map[string]int{}
	for _, f := range sorted {
		dist[f.Severity]++
	}

	var b strings.Builder
	b.WriteString("## 严重性分布\n\n")
	for _, level := range []parser.SeverityLevel{
		parser.SeverityCritical, parser.SeverityHigh, parser.SeverityMedium, parser.SeverityLow, parser.SeverityInfo,
	} {
		if n := dist[string(level)]; n > 0 {
			fmt.Fprintf(&b, "- **%s**: %d\n", level, n)
		}
	}
	b.WriteString("\n## 发现\n\n")
	for i, f := range sorted {
		fmt.Fprintf(&b, "%d. %s\n\n", i+1, r.RenderFinding(f))
	}
	return b.String()
}

// getSeverityIcon 获取严重等级对应的图标
func getSeverityIcon(severity string) string {
	switch parser.SeverityLevel(severity) {
	case parser.SeverityCritical:
		return "🔴"
	case parser.SeverityHigh:
		return "🟠"
	case parser.SeverityMedium:
		return "🟡"
	case parser.SeverityLow:
		return "🟢"
	default:
		return "⚪"
	}
}
