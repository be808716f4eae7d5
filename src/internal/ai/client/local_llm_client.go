package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// LocalLLMClient 本地 LLM 客户端（例如 Ollama）
type LocalLLMClient struct {
	baseURL     string
	model       string
	temperature *float64
	httpClient  *http.Client
}

// LocalLLMConfig 本地 LLM 配置
type LocalLLMConfig struct {
	BaseURL     string   // 例如 "http://localhost:11434"
	Model       string   // 例如 "llama2", "codellama"
	Temperature *float64 // 为空时使用模型默认值
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Ollama API 请求/响应结构
type ollamaRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// NewLocalLLMClient 创建本地 LLM 客户端
func NewLocalLLMClient(cfg LocalLLMConfig) (*LocalLLMClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama2"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second // 本地模型可能需要更长时间
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &LocalLLMClient{
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		httpClient:  httpClient,
	}, nil
}

// Complete 调用 /api/generate，system 字段承载审计指令
func (c *LocalLLMClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqBody := ollamaRequest{
		Model:  c.model,
		System: systemPrompt,
		Prompt: userPrompt,
		Stream: false,
	}
	if c.temperature != nil {
		reqBody.Options = map[string]any{"temperature": *c.temperature}
	}

	status, body, err := postJSON(ctx, c.httpClient, c.baseURL+"/api/generate", reqBody, nil)
	if err != nil {
		return "", err
	}

	var apiResp ollamaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		if status != http.StatusOK {
			return "", statusError(status, body)
		}
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if apiResp.Error != "" {
		return "", fmt.Errorf("Ollama API error: %s", apiResp.Error)
	}
	if status != http.StatusOK {
		return "", statusError(status, body)
	}

	return apiResp.Response, nil
}

// GetName 返回客户端名称
func (c *LocalLLMClient) GetName() string {
	return fmt.Sprintf("Local LLM (%s)", c.model)
}

// Close 清理资源
func (c *LocalLLMClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
