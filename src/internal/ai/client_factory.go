package ai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/admi-n/snitch/src/internal/ai/client"
)

// AIClient 定义所有 AI 客户端必须实现的接口
type AIClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	GetName() string
	Close() error
}

// AIClientConfig 客户端配置
type AIClientConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64 // 为空时使用客户端默认值
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// NewAIClient 根据 provider 创建对应的 AI 客户端
func NewAIClient(cfg AIClientConfig) (AIClient, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	switch cfg.Provider {
	case "openai", "chatgpt5", "gpt4":
		return client.NewOpenAIClient(client.OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
			HTTPClient:  cfg.HTTPClient,
			Logger:      cfg.Logger,
		})

	case "deepseek":
		return client.NewDeepSeekClient(client.DeepSeekConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
			HTTPClient:  cfg.HTTPClient,
			Logger:      cfg.Logger,
		})

	case "local-llm", "ollama":
		return client.NewLocalLLMClient(client.LocalLLMConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			HTTPClient:  cfg.HTTPClient,
		})

	default:
		return nil, fmt.Errorf("unsupported AI provider: %s (supported: openai, deepseek, local-llm)", cfg.Provider)
	}
}

// ValidateProvider 验证提供商名称是否有效
func ValidateProvider(provider string) error {
	validProviders := map[string]bool{
		"openai":    true,
		"chatgpt5":  true,
		"gpt4":      true,
		"deepseek":  true,
		"local-llm": true,
		"ollama":    true,
	}

	if !validProviders[provider] {
		return fmt.Errorf("invalid provider '%s', must be one of: openai, chatgpt5, gpt4, deepseek, local-llm, ollama", provider)
	}

	return nil
}

// RequiresAPIKey 本地模型不需要 key
func RequiresAPIKey(provider string) bool {
	return provider != "local-llm" && provider != "ollama"
}
