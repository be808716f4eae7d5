package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// OpenAIClient 实现 OpenAI chat completions 调用
type OpenAIClient struct {
	endpoint *chatEndpoint
}

// OpenAIConfig 配置结构
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string   // 默认 "https://api.openai.com/v1"
	Model       string   // 默认 "gpt-4"
	Temperature *float64 // 为空时默认 0.2
	MaxTokens   int      // 默认 2000
	Timeout     time.Duration
	HTTPClient  *http.Client // 为空时按 Timeout 创建
	Logger      *zap.Logger
}

// NewOpenAIClient 创建新的 OpenAI 客户端
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4"
	}
	temperature := 0.2
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OpenAIClient{endpoint: &chatEndpoint{
		provider:    "OpenAI",
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		temperature: temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  httpClient,
		logger:      logger,
	}}, nil
}

// Complete 以 system + user 两轮消息调用模型，返回原始回复
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.endpoint.complete(ctx, systemPrompt, userPrompt)
}

// GetName 返回客户端名称
func (c *OpenAIClient) GetName() string {
	return fmt.Sprintf("OpenAI (%s)", c.endpoint.model)
}

// Close 清理资源
func (c *OpenAIClient) Close() error {
	c.endpoint.httpClient.CloseIdleConnections()
	return nil
}
