package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidReport 结构化报告未通过校验
var ErrInvalidReport = errors.New("invalid structured report")

// Parser 解析 AI 返回的结构化审计报告
type Parser struct {
	jsonExtractor *regexp.Regexp
}

// NewParser 创建新的解析器
func NewParser() *Parser {
	// 用于提取 JSON 代码块的正则表达式
	jsonRegex := regexp.MustCompile("```(?:json)?\n?([\\s\\S]*?)\n?```")

	return &Parser{
		jsonExtractor: jsonRegex,
	}
}

// Parse 解析 AI 响应文本并校验
func (p *Parser) Parse(response string) (*StructuredReport, error) {
	result, err := p.decode(response)
	if err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Parser) decode(response string) (*StructuredReport, error) {
	// 尝试直接解析 JSON
	var result StructuredReport
	err := json.Unmarshal([]byte(response), &result)
	if err == nil {
		return &result, nil
	}

	// 尝试从 markdown 代码块中提取 JSON
	matches := p.jsonExtractor.FindStringSubmatch(response)
	if len(matches) > 1 {
		jsonStr := strings.TrimSpace(matches[1])
		result = StructuredReport{}
		if err = json.Unmarshal([]byte(jsonStr), &result); err == nil {
			return &result, nil
		}
	}

	// 如果仍然失败，尝试清理响应并再次解析
	result = StructuredReport{}
	if err = json.Unmarshal([]byte(p.cleanResponse(response)), &result); err == nil {
		return &result, nil
	}

	return nil, fmt.Errorf("failed to parse AI response as JSON: %w", err)
}

// cleanResponse 清理响应文本
func (p *Parser) cleanResponse(response string) string {
	// 移除常见的非 JSON 前缀
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	// 尝试找到第一个 { 和最后一个 }
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")

	if start >= 0 && end > start {
		response = response[start : end+1]
	}

	return response
}

// ScoreFrom 结构化模式下优先取 JSON 中的分数，解析失败时回退到 "Audit Score:" 标记
func (p *Parser) ScoreFrom(response string, structured bool) (int, bool) {
	if structured {
		if r, err := p.Parse(response); err == nil {
			return r.Score, true
		}
	}
	return ExtractScore(response)
}

// StructuredReport 结构化审计结果
type StructuredReport struct {
	Report   string    `json:"report"`
	Score    int       `json:"score"`
	Findings []Finding `json:"findings"`
}

// Finding 单条发现
type Finding struct {
	Title       string `json:"title"`
	Severity    string `json:"severity"` // Critical, High, Medium, Low, Info
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}

// Validate 校验结构化报告
func (r *StructuredReport) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: report is nil", ErrInvalidReport)
	}
	if strings.TrimSpace(r.Report) == "" {
		return fmt.Errorf("%w: report text is empty", ErrInvalidReport)
	}
	if r.Score < 0 || r.Score > 100 {
		return fmt.Errorf("%w: score %d out of range 0-100", ErrInvalidReport, r.Score)
	}
	for i, f := range r.Findings {
		if GetSeverityScore(f.Severity) == 0 {
			return fmt.Errorf("%w: finding %d has unknown severity %q", ErrInvalidReport, i, f.Severity)
		}
		if strings.TrimSpace(f.Description) == "" && strings.TrimSpace(f.Title) == "" {
			return fmt.Errorf("%w: finding %d missing description", ErrInvalidReport, i)
		}
	}
	return nil
}

// GetHighSeverityCount 获取高危发现数量
func (r *StructuredReport) GetHighSeverityCount() int {
	count := 0
	for _, f := range r.Findings {
		if f.Severity == string(SeverityCritical) || f.Severity == string(SeverityHigh) {
			count++
		}
	}
	return count
}

// Markdown 渲染为带 "Audit Score:" 标记的报告文本，以便下游统一提取分数
func (r *StructuredReport) Markdown() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.Report))
	b.WriteString("\n")
	if len(r.Findings) > 0 {
		b.WriteString("\n## Findings\n")
		for _, f := range r.Findings {
			title := f.Title
			if title == "" {
				title = f.Description
			}
			fmt.Fprintf(&b, "\n- **[%s] %s**", f.Severity, title)
			if f.Location != "" {
				fmt.Fprintf(&b, " (%s)", f.Location)
			}
			b.WriteString("\n")
			if f.Title != "" && f.Description != "" {
				fmt.Fprintf(&b, "  %s\n", f.Description)
			}
			if f.Remediation != "" {
				fmt.Fprintf(&b, "  Remediation: %s\n", f.Remediation)
			}
		}
	}
	fmt.Fprintf(&b, "\n%s%d\n", ScoreMarker, r.Score)
	return b.String()
}
