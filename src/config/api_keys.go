package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingAPIKey 未配置 LLM API Key
var ErrMissingAPIKey = errors.New("missing LLM API key")

// APIKeyError 某个 provider 缺少 API Key，errors.Is 匹配 ErrMissingAPIKey
type APIKeyError struct {
	Provider string // 展示名，例如 OpenAI
	Env      string
	Field    string
}

func (e *APIKeyError) Error() string {
	return fmt.Sprintf("%s for %s: set %s or %s", ErrMissingAPIKey, e.Provider, e.Env, e.Field)
}

func (e *APIKeyError) Unwrap() error { return ErrMissingAPIKey }

// Message 对外提示，不带配置细节
func (e *APIKeyError) Message() string {
	return "Missing " + e.Provider + " API key"
}

// MissingKey 返回 provider 对应的缺少密钥错误
func MissingKey(provider string) *APIKeyError {
	if provider == "deepseek" {
		return &APIKeyError{Provider: "DeepSeek", Env: EnvDeepSeekKey, Field: "ai.deepseek.api_key"}
	}
	return &APIKeyError{Provider: "OpenAI", Env: EnvOpenAIKey, Field: "ai.openai.api_key"}
}

// 环境变量名，环境变量优先于配置文件
const (
	EnvOpenAIKey        = "OPENAI_API_KEY"
	EnvOpenAIKeyLegacy  = "NEXT_OPENAI_KEY"
	EnvDeepSeekKey      = "DEEPSEEK_API_KEY"
	EnvGitHubToken      = "GITHUB_TOKEN"
	EnvGitHubCLIToken   = "GH_TOKEN"
	EnvGitHubTokenNext  = "NEXT_GITHUB_TOKEN"
	EnvPinataJWT        = "PINATA_JWT"
	EnvLedgerPrivateKey = "LEDGER_PRIVATE_KEY"
	EnvDatabaseURL      = "DATABASE_URL"
	EnvListenAddr       = "LISTEN_ADDR"
)

// DefaultSettingsPath 默认配置文件路径
const DefaultSettingsPath = "src/config/settings.yaml"

// AIConfig AI 相关配置
type AIConfig struct {
	Provider       string        `yaml:"provider"` // openai | deepseek | local-llm
	Timeout        time.Duration `yaml:"timeout"`
	RequestsPerMin int           `yaml:"requests_per_min"`
	Strategy       string        `yaml:"strategy"`        // strategy/prompts 下的模板名，空则用内置模板
	Structured     bool          `yaml:"structured"`      // 要求模型返回 JSON 报告
	MaxInputBytes  int           `yaml:"max_input_bytes"` // 0 表示不限制

	OpenAI struct {
		APIKey      string   `yaml:"api_key"`
		BaseURL     string   `yaml:"base_url"`    // 可选，默认使用官方 API
		Model       string   `yaml:"model"`       // 默认 gpt-4
		Temperature *float64 `yaml:"temperature"` // 未设置时 0.2，显式 0 保留
		MaxTokens   int      `yaml:"max_tokens"`
	} `yaml:"openai"`

	DeepSeek struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"` // 默认 https://api.deepseek.com/v1
		Model   string `yaml:"model"`    // 默认 deepseek-chat
	} `yaml:"deepseek"`

	LocalLLM struct {
		BaseURL string `yaml:"base_url"` // 例如 http://localhost:11434
		Model   string `yaml:"model"`    // 例如 llama2
	} `yaml:"local_llm"`
}

// GitHubConfig 仓库发现相关配置
type GitHubConfig struct {
	Token       string        `yaml:"token"`
	BaseURL     string        `yaml:"base_url"`
	Extensions  []string      `yaml:"extensions"`
	Concurrency int           `yaml:"concurrency"`  // 并发拉取文件内容的 worker 数
	FileTimeout time.Duration `yaml:"file_timeout"` // 单个文件拉取超时
}

// StorageConfig 内容寻址存储配置
type StorageConfig struct {
	Backend string `yaml:"backend"` // pinata | file
	Dir     string `yaml:"dir"`     // file 后端的目录
	Pinata  struct {
		JWT     string `yaml:"jwt"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"pinata"`
}

// LedgerConfig 链上注册表配置
type LedgerConfig struct {
	Enabled         bool   `yaml:"enabled"`
	RPC             string `yaml:"rpc"`
	ChainID         int64  `yaml:"chain_id"`
	RegistryAddress string `yaml:"registry_address"`
	PrivateKey      string `yaml:"private_key"`
	GasLimit        uint64 `yaml:"gas_limit"`
}

// Settings 全局配置结构
type Settings struct {
	Server struct {
		ListenAddr      string        `yaml:"listen_addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`  // debug | info | warn | error
		Format string `yaml:"format"` // structured | console
	} `yaml:"log"`

	Jobs struct {
		Workers     int           `yaml:"workers"`
		QueueSize   int           `yaml:"queue_size"`
		MaxFinished int           `yaml:"max_finished"` // 内存中保留的已结束任务数
		Retention   time.Duration `yaml:"retention"`
	} `yaml:"jobs"`

	Proxy string `yaml:"proxy"` // 可选 HTTP 代理，例如 http://127.0.0.1:7897

	Database DatabaseSettings `yaml:"database"`
	GitHub   GitHubConfig     `yaml:"github"`
	AI       AIConfig         `yaml:"ai"`
	Storage  StorageConfig    `yaml:"storage"`
	Ledger   LedgerConfig     `yaml:"ledger"`
}

// LoadSettings 加载配置文件；configPath 为空且默认文件不存在时只使用默认值和环境变量
func LoadSettings(configPath string) (*Settings, error) {
	explicit := configPath != ""
	if configPath == "" {
		configPath = DefaultSettingsPath
	}

	var settings Settings
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err) && !explicit:
		// 没有配置文件，走默认值
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	settings.applyEnv()
	settings.Normalize()
	return &settings, nil
}

// applyEnv 环境变量覆盖配置文件
func (s *Settings) applyEnv() {
	if v := firstEnv(EnvDatabaseURL); v != "" {
		s.Database.DSN = v
	}
	if v := firstEnv(EnvListenAddr); v != "" {
		s.Server.ListenAddr = v
	}
	if v := firstEnv(EnvPinataJWT); v != "" {
		s.Storage.Pinata.JWT = v
	}
	if v := firstEnv(EnvLedgerPrivateKey); v != "" {
		s.Ledger.PrivateKey = v
	}
}

// Normalize 填充默认值
func (s *Settings) Normalize() {
	if s.Server.ListenAddr == "" {
		s.Server.ListenAddr = ":8080"
	}
	if s.Server.ReadTimeout == 0 {
		s.Server.ReadTimeout = 15 * time.Second
	}
	if s.Server.ShutdownTimeout == 0 {
		s.Server.ShutdownTimeout = 10 * time.Second
	}
	if s.Log.Level == "" {
		s.Log.Level = "info"
	}
	if s.Log.Format == "" {
		s.Log.Format = "console"
	}
	if s.Jobs.Workers <= 0 {
		s.Jobs.Workers = 2
	}
	if s.Jobs.QueueSize <= 0 {
		s.Jobs.QueueSize = 32
	}
	if s.Jobs.MaxFinished <= 0 {
		s.Jobs.MaxFinished = 256
	}
	if s.Jobs.Retention == 0 {
		s.Jobs.Retention = time.Hour
	}

	if s.GitHub.BaseURL == "" {
		s.GitHub.BaseURL = "https://api.github.com"
	}
	if len(s.GitHub.Extensions) == 0 {
		s.GitHub.Extensions = []string{".sol", ".cdc"}
	}
	if s.GitHub.Concurrency <= 0 {
		s.GitHub.Concurrency = 8
	}
	if s.GitHub.FileTimeout == 0 {
		s.GitHub.FileTimeout = 20 * time.Second
	}

	if s.AI.Provider == "" {
		s.AI.Provider = "openai"
	}
	if s.AI.Timeout == 0 {
		s.AI.Timeout = 120 * time.Second
	}
	if s.AI.RequestsPerMin <= 0 {
		s.AI.RequestsPerMin = 20
	}
	if s.AI.OpenAI.BaseURL == "" {
		s.AI.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if s.AI.OpenAI.Model == "" {
		s.AI.OpenAI.Model = "gpt-4"
	}
	if s.AI.OpenAI.Temperature == nil {
		temperature := 0.2
		s.AI.OpenAI.Temperature = &temperature
	}
	if s.AI.OpenAI.MaxTokens == 0 {
		s.AI.OpenAI.MaxTokens = 2000
	}

	if s.Storage.Backend == "" {
		s.Storage.Backend = "file"
	}
	if s.Storage.Dir == "" {
		s.Storage.Dir = "data/reports"
	}
	if s.Storage.Pinata.BaseURL == "" {
		s.Storage.Pinata.BaseURL = "https://api.pinata.cloud"
	}
	if s.Ledger.GasLimit == 0 {
		s.Ledger.GasLimit = 300000
	}
}

// GetOpenAIKey 获取 OpenAI API Key
func (s *Settings) GetOpenAIKey() (string, error) {
	// 优先从环境变量读取
	if key := firstEnv(EnvOpenAIKey, EnvOpenAIKeyLegacy); key != "" {
		return key, nil
	}
	if s.AI.OpenAI.APIKey == "" {
		return "", MissingKey("openai")
	}
	return s.AI.OpenAI.APIKey, nil
}

// GetDeepSeekKey 获取 DeepSeek API Key
func (s *Settings) GetDeepSeekKey() (string, error) {
	if key := firstEnv(EnvDeepSeekKey); key != "" {
		return key, nil
	}
	if s.AI.DeepSeek.APIKey == "" {
		return "", MissingKey("deepseek")
	}
	return s.AI.DeepSeek.APIKey, nil
}

// GetAPIKey 根据 provider 返回对应的 key，本地模型不需要 key
func (s *Settings) GetAPIKey(provider string) (string, error) {
	switch provider {
	case "chatgpt5", "openai", "gpt4":
		return s.GetOpenAIKey()
	case "deepseek":
		return s.GetDeepSeekKey()
	default:
		return "", nil
	}
}

// GetGitHubToken 获取 GitHub token，没有配置时返回空串（匿名访问）
func (s *Settings) GetGitHubToken() string {
	if token := firstEnv(EnvGitHubCLIToken, EnvGitHubToken, EnvGitHubTokenNext); token != "" {
		return token
	}
	return strings.TrimSpace(s.GitHub.Token)
}

// GetLocalLLMConfig 获取本地 LLM 配置
func (s *Settings) GetLocalLLMConfig() (baseURL, model string) {
	baseURL = s.AI.LocalLLM.BaseURL
	model = s.AI.LocalLLM.Model
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama2"
	}
	return baseURL, model
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}
