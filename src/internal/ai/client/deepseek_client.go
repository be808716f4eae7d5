package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DeepSeekClient 实现 DeepSeek API 调用（与 OpenAI 协议兼容）
type DeepSeekClient struct {
	endpoint *chatEndpoint
}

// DeepSeekConfig 配置结构
type DeepSeekConfig struct {
	APIKey      string
	BaseURL     string   // 默认 "https://api.deepseek.com/v1"
	Model       string   // 默认 "deepseek-chat"
	Temperature *float64 // 为空时默认 0.2
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// NewDeepSeekClient 创建新的 DeepSeek 客户端
func NewDeepSeekClient(cfg DeepSeekConfig) (*DeepSeekClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepseek.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "deepseek-chat"
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

	return &DeepSeekClient{endpoint: &chatEndpoint{
		provider:    "DeepSeek",
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		temperature: temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  httpClient,
		logger:      logger,
	}}, nil
}

// Complete 以 system + user 两轮消息调用模型
func (c *DeepSeekClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.endpoint.complete(ctx, systemPrompt, userPrompt)
}

// GetName 返回客户端名称
func (c *DeepSeekClient) GetName() string {
	return fmt.Sprintf("DeepSeek (%s)", c.endpoint.model)
}

// Close 清理资源
func (c *DeepSeekClient) Close() error {
	c.endpoint.httpClient.CloseIdleConnections()
	return nil
}
