package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/admi-n/snitch/src/config"
)

var (
	// ErrInputTooLarge 合约内容超过 max_input_bytes
	ErrInputTooLarge = errors.New("contract content exceeds the configured input limit")
	// ErrMissingInput 合约内容或审计指令为空
	ErrMissingInput = errors.New("Missing contract or systemPrompt")
)

// Manager 管理 AI 客户端和审计请求
type Manager struct {
	client        AIClient
	rateLimit     *rateLimiter
	maxInputBytes int
	logger        *zap.Logger
}

type rateLimiter struct {
	requests chan struct{}
	interval time.Duration
	stop     chan struct{}
	once     sync.Once
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	rl := &rateLimiter{
		requests: make(chan struct{}, requestsPerMinute),
		interval: time.Minute / time.Duration(requestsPerMinute),
		stop:     make(chan struct{}),
	}

	for i := 0; i < requestsPerMinute; i++ {
		rl.requests <- struct{}{}
	}

	go func() {
		ticker := time.NewTicker(rl.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case rl.requests <- struct{}{}:
				default:
				}
			case <-rl.stop:
				return
			}
		}
	}()

	return rl
}

func (rl *rateLimiter) Wait(ctx context.Context) error {
	select {
	case <-rl.requests:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rl *rateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// ManagerConfig 管理器配置
type ManagerConfig struct {
	Provider       string
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    *float64
	MaxTokens      int
	Timeout        time.Duration
	RequestsPerMin int
	MaxInputBytes  int // 0 表示不限制
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// ManagerConfigFromSettings 根据全局配置组装 ManagerConfig，缺少 key 时返回 config.ErrMissingAPIKey
func ManagerConfigFromSettings(s *config.Settings, httpClient *http.Client, logger *zap.Logger) (ManagerConfig, error) {
	cfg := ManagerConfig{
		Provider:       s.AI.Provider,
		Timeout:        s.AI.Timeout,
		RequestsPerMin: s.AI.RequestsPerMin,
		MaxInputBytes:  s.AI.MaxInputBytes,
		HTTPClient:     httpClient,
		Logger:         logger,
	}
	if err := ValidateProvider(cfg.Provider); err != nil {
		return cfg, err
	}

	switch cfg.Provider {
	case "deepseek":
		cfg.BaseURL = s.AI.DeepSeek.BaseURL
		cfg.Model = s.AI.DeepSeek.Model
		cfg.Temperature = s.AI.OpenAI.Temperature
		cfg.MaxTokens = s.AI.OpenAI.MaxTokens
	case "local-llm", "ollama":
		cfg.BaseURL, cfg.Model = s.GetLocalLLMConfig()
		cfg.Temperature = s.AI.OpenAI.Temperature
	default:
		cfg.BaseURL = s.AI.OpenAI.BaseURL
		cfg.Model = s.AI.OpenAI.Model
		cfg.Temperature = s.AI.OpenAI.Temperature
		cfg.MaxTokens = s.AI.OpenAI.MaxTokens
	}

	if RequiresAPIKey(cfg.Provider) {
		key, err := s.GetAPIKey(cfg.Provider)
		if err != nil {
			return cfg, err
		}
		cfg.APIKey = key
	}
	return cfg, nil
}

// NewManager 创建新的 AI 管理器
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.APIKey == "" && RequiresAPIKey(cfg.Provider) {
		return nil, config.MissingKey(cfg.Provider)
	}

	client, err := NewAIClient(AIClientConfig{
		Provider:    cfg.Provider,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
		HTTPClient:  cfg.HTTPClient,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AI client: %w", err)
	}

	return NewManagerWithClient(client, cfg), nil
}

// NewManagerWithClient 使用已有客户端创建管理器
func NewManagerWithClient(client AIClient, cfg ManagerConfig) *Manager {
	if cfg.RequestsPerMin <= 0 {
		cfg.RequestsPerMin = 20
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client:        client,
		rateLimit:     newRateLimiter(cfg.RequestsPerMin),
		maxInputBytes: cfg.MaxInputBytes,
		logger:        logger,
	}
}

// Audit 以 systemPrompt 为 system 消息、合约原文为 user 消息调用模型，原样返回回复
func (m *Manager) Audit(ctx context.Context, systemPrompt, content string) (string, error) {
	if strings.TrimSpace(systemPrompt) == "" || strings.TrimSpace(content) == "" {
		return "", ErrMissingInput
	}
	if m.maxInputBytes > 0 && len(content) > m.maxInputBytes {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrInputTooLarge, len(content), m.maxInputBytes)
	}

	if err := m.rateLimit.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait failed: %w", err)
	}

	m.logger.Info("🤖 正在审计合约", zap.String("client", m.client.GetName()), zap.Int("bytes", len(content)))

	startTime := time.Now()
	response, err := m.client.Complete(ctx, systemPrompt, content)
	if err != nil {
		return "", fmt.Errorf("AI analysis failed: %w", err)
	}

	m.logger.Info("✅ 审计完成", zap.Duration("duration", time.Since(startTime)))
	return response, nil
}

// GetClientInfo 返回客户端名称
func (m *Manager) GetClientInfo() string {
	return m.client.GetName()
}

// Close 释放客户端和限流器
func (m *Manager) Close() error {
	m.rateLimit.Stop()
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}
