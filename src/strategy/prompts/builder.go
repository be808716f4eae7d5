package prompts

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/admi-n/snitch/src/internal"
	"github.com/admi-n/snitch/src/internal/ai/parser"
)

// AuditVars 审计模板可用的变量
type AuditVars struct {
	Language     string // Solidity / Cadence
	ContractName string
	Path         string
	Owner        string
	Repo         string
}

// BuildPrompt 使用模板和变量构建最终的 prompt
func BuildPrompt(templateContent string, variables any) (string, error) {
	tmpl, err := template.New("prompt").Option("missingkey=zero").Parse(templateContent)
	if err != nil {
		return "", fmt.Errorf("模板解析失败: %w", err)
	}

	var result strings.Builder
	if err := tmpl.Execute(&result, variables); err != nil {
		return "", fmt.Errorf("模板执行失败: %w", err)
	}

	return result.String(), nil
}

// BuildAuditPrompt 为单个合约构建审计指令；structured 为 true 时追加 JSON 格式要求
func BuildAuditPrompt(strategy string, owner, repo string, file internal.ContractFile, structured bool) (string, error) {
	templateContent, err := LoadTemplate(ModeAudit, strategy)
	if err != nil {
		return "", err
	}

	prompt, err := BuildPrompt(templateContent, AuditVars{
		Language:     file.Language(),
		ContractName: file.Name(),
		Path:         file.Path,
		Owner:        owner,
		Repo:         repo,
	})
	if err != nil {
		return "", err
	}

	if structured {
		prompt = strings.TrimRight(prompt, "\n") + "\n\n" + parser.GetSchemaInstructions()
	}
	return prompt, nil
}
