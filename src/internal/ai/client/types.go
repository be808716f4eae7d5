package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// 共享的 API 类型定义（OpenAI 兼容的 chat completions 协议）

// 角色名
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message 消息结构
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Choice 选择结构
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage 使用情况结构
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError API 错误结构
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string    `json:"id"`
	Model   string    `json:"model"`
	Choices []Choice  `json:"choices"`
	Usage   Usage     `json:"usage"`
	Error   *APIError `json:"error,omitempty"`
}

// chatEndpoint 一个 OpenAI 兼容的 /chat/completions 端点
type chatEndpoint struct {
	provider    string
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	logger      *zap.Logger
}

// complete 发送 system + user 两轮消息，返回第一个 choice 的原文
func (e *chatEndpoint) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqBody := chatRequest{
		Model: e.model,
		Messages: []Message{
			{Role: RoleSystem, Content: systemPrompt},
			{Role: RoleUser, Content: userPrompt},
		},
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
	}

	status, body, err := postJSON(ctx, e.httpClient, e.baseURL+"/chat/completions", reqBody, map[string]string{
		"Authorization": "Bearer " + e.apiKey,
	})
	if err != nil {
		return "", err
	}

	var apiResp chatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		if status != http.StatusOK {
			return "", statusError(status, body)
		}
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("%s API error: %s (type: %s, code: %s)",
			e.provider, apiResp.Error.Message, apiResp.Error.Type, apiResp.Error.Code)
	}
	if status != http.StatusOK {
		return "", statusError(status, body)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	e.logger.Debug("📊 Token 使用",
		zap.String("provider", e.provider),
		zap.Int("prompt", apiResp.Usage.PromptTokens),
		zap.Int("completion", apiResp.Usage.CompletionTokens),
		zap.Int("total", apiResp.Usage.TotalTokens))

	return apiResp.Choices[0].Message.Content, nil
}

// postJSON 发送 JSON 请求并读出完整响应体，非 200 由调用方处理
func postJSON(ctx context.Context, httpClient *http.Client, url string, payload any, headers map[string]string) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func statusError(status int, body []byte) error {
	return fmt.Errorf("API returned status %d: %s", status, truncate(string(body), 512))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
