package internal

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClientFactory 为 GitHub / LLM / Pinata 等上游创建带统一代理配置的 HTTP 客户端
type HTTPClientFactory struct {
	proxy *url.URL
}

// NewHTTPClientFactory 创建客户端工厂，proxyURL 为空表示不使用代理
func NewHTTPClientFactory(proxyURL string) (*HTTPClientFactory, error) {
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL == "" {
		return &HTTPClientFactory{}, nil
	}
	if err := ValidateProxyURL(proxyURL); err != nil {
		return nil, err
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	return &HTTPClientFactory{proxy: u}, nil
}

// Client 创建 HTTP 客户端，timeout 为 0 表示不设置整体超时（由 context 控制）
func (f *HTTPClientFactory) Client(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     30 * time.Second,
		MaxIdleConnsPerHost: 16,
	}
	if f != nil && f.proxy != nil {
		transport.Proxy = http.ProxyURL(f.proxy)
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// ProxyEnabled 是否启用代理
func (f *HTTPClientFactory) ProxyEnabled() bool {
	return f != nil && f.proxy != nil
}

// ProxyURL 返回代理地址
func (f *HTTPClientFactory) ProxyURL() string {
	if !f.ProxyEnabled() {
		return ""
	}
	return f.proxy.String()
}

// ValidateProxyURL 验证代理URL格式
func ValidateProxyURL(proxyURL string) error {
	if strings.TrimSpace(proxyURL) == "" {
		return nil // 空字符串表示不使用代理
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "socks5" {
		return fmt.Errorf("unsupported proxy scheme: %s (supported: http, https, socks5)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("proxy host cannot be empty")
	}
	return nil
}
