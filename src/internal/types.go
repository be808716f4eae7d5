package internal

import (
	"path"
	"strings"
	"time"
)

// DefaultExtensions 默认识别的智能合约源文件后缀
var DefaultExtensions = []string{".sol", ".cdc"}

// AuditConfig 单次审计（CLI / Job）所需的参数
type AuditConfig struct {
	Owner        string
	Repo         string
	Path         string // 仓库内的合约路径
	SystemPrompt string // 为空时使用默认审计模板
	Timeout      time.Duration
	Verbose      bool
}

// ContractFile 发现流程产出的合约文件，创建后不再修改
type ContractFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Name 返回不带后缀的文件名，例如 contracts/Token.sol -> Token
func (f ContractFile) Name() string {
	return ContractNameFromPath(f.Path)
}

// Language 根据后缀返回合约语言
func (f ContractFile) Language() string {
	return LanguageForPath(f.Path)
}

// AuditResult 审计结果：原始报告文本以及可选的分数
type AuditResult struct {
	ReportText string `json:"auditReport"`
	Score      *int   `json:"score,omitempty"`
}

// HasScore 是否提取到了分数
func (r AuditResult) HasScore() bool {
	return r.Score != nil
}

// ContractNameFromPath 取路径最后一段并去掉第一个 "." 之后的部分
func ContractNameFromPath(p string) string {
	base := path.Base(p)
	if i := strings.Index(base, "."); i >= 0 {
		return base[:i]
	}
	return base
}

// LanguageForPath 根据文件后缀判断语言
func LanguageForPath(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".sol":
		return "Solidity"
	case ".cdc":
		return "Cadence"
	default:
		return "Solidity or Cadence"
	}
}

// HasExtension 判断文件名是否以任一后缀结尾
func HasExtension(name string, extensions []string) bool {
	for _, ext := range extensions {
		if ext != "" && strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
