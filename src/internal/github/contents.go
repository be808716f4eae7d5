package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// EntryType GitHub contents API 返回的条目类型
const (
	EntryTypeFile    = "file"
	EntryTypeDir     = "dir"
	EntryTypeSymlink = "symlink"
	EntryTypeSubmod  = "submodule"
)

// Config GitHub API 配置
type Config struct {
	BaseURL    string // 默认 https://api.github.com
	Token      string // 为空时匿名访问
	UserAgent  string
	HTTPClient *http.Client
}

// Entry contents API 中的单个目录条目
type Entry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	Size        int64  `json:"size"`
	SHA         string `json:"sha"`
	DownloadURL string `json:"download_url"`
}

// APIError 上游返回非 200 时的错误
type APIError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("GitHub API returned status %d: %s (url=%s)", e.StatusCode, e.Message, e.URL)
}

// IsNotFound 判断是否为 404
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client GitHub 仓库内容客户端
type Client struct {
	baseURL    *url.URL
	token      string
	userAgent  string
	httpClient *http.Client
}

// NewClient 创建 GitHub 客户端
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.github.com"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("解析 GitHub BaseURL 失败: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "snitch/1.0"
	}
	return &Client{
		baseURL:    u,
		token:      strings.TrimSpace(cfg.Token),
		userAgent:  ua,
		httpClient: httpClient,
	}, nil
}

// ListContents 列出仓库某个目录下的条目，dir 为空表示根目录
func (c *Client) ListContents(ctx context.Context, owner, repo, dir string) ([]Entry, error) {
	endpoint := c.contentsURL(owner, repo, dir)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		// 传入的是文件路径时 API 返回单个对象
		return nil, fmt.Errorf("解析 GitHub contents 响应失败 (path=%q): %w", dir, err)
	}
	return entries, nil
}

// FetchRaw 通过 download_url 拉取文件原始内容
func (c *Client) FetchRaw(ctx context.Context, downloadURL string) (string, error) {
	if strings.TrimSpace(downloadURL) == "" {
		return "", fmt.Errorf("empty download url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 GitHub 失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取 GitHub 响应失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// 返回 body 片段有助于定位错误
		var payload struct {
			Message string `json:"message"`
		}
		msg := string(body)
		if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
			msg = payload.Message
		}
		if len(msg) > 1024 {
			msg = msg[:1024]
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg, URL: req.URL.String()}
	}
	return body, nil
}

func (c *Client) contentsURL(owner, repo, dir string) string {
	segments := []string{"repos", owner, repo, "contents"}
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part != "" {
			segments = append(segments, part)
		}
	}
	// Path 保存未转义的路径，由 URL.String 负责转义
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(segments, "/")
	u.RawPath = ""
	return u.String()
}
