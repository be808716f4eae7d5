package prompts

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ModeAudit 单合约审计模板目录
const ModeAudit = "audit"

// DefaultStrategy 内置的默认审计模板
const DefaultStrategy = "default"

//go:embed audit/*.tmpl
var builtin embed.FS

// TemplateDir 磁盘上的模板根目录，同名模板优先于内置模板
var TemplateDir = filepath.Join("strategy", "prompts")

// LoadTemplate 加载指定模式和策略的 prompt 模板
func LoadTemplate(mode, strategy string) (string, error) {
	if strategy == "" {
		strategy = DefaultStrategy
	}
	if strings.ContainsAny(strategy, `/\`) || strings.Contains(strategy, "..") {
		return "", fmt.Errorf("invalid strategy name %q", strategy)
	}

	// 构建模板文件路径
	templatePath := filepath.Join(TemplateDir, mode, strategy+".tmpl")
	content, err := os.ReadFile(templatePath)
	if err == nil {
		return string(content), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to load template %s: %w", templatePath, err)
	}

	// 磁盘上没有时回退到内置模板
	content, embedErr := builtin.ReadFile(mode + "/" + strategy + ".tmpl")
	if embedErr != nil {
		return "", fmt.Errorf("failed to load template %s: %w", templatePath, err)
	}
	return string(content), nil
}

// ListStrategies 列出指定模式下所有可用的策略（内置 + 磁盘）
func ListStrategies(mode string) ([]string, error) {
	seen := map[string]bool{}

	if entries, err := builtin.ReadDir(mode); err == nil {
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".tmpl") {
				seen[strings.TrimSuffix(entry.Name(), ".tmpl")] = true
			}
		}
	}

	promptsDir := filepath.Join(TemplateDir, mode)
	entries, err := os.ReadDir(promptsDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read prompts directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".tmpl") {
			// 移除 .tmpl 后缀
			seen[strings.TrimSuffix(entry.Name(), ".tmpl")] = true
		}
	}

	if len(seen) == 0 {
		return nil, fmt.Errorf("no strategies found for mode %s", mode)
	}

	strategies := make([]string, 0, len(seen))
	for name := range seen {
		strategies = append(strategies, name)
	}
	sort.Strings(strategies)
	return strategies, nil
}
