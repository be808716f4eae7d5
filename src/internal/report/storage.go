package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/admi-n/snitch/src/config"
)

var (
	// ErrNotFound 内容不存在
	ErrNotFound = errors.New("content not found")
	// ErrInvalidCID 内容标识格式不对
	ErrInvalidCID = errors.New("invalid content id")
	// ErrFetchUnsupported 存储后端不支持按 CID 读取
	ErrFetchUnsupported = errors.New("storage backend does not support fetching reports")
)

// StoredReport 上传到内容寻址存储的报告
type StoredReport struct {
	ContractID  string    `json:"contractId"`
	Owner       string    `json:"owner,omitempty"`
	Repo        string    `json:"repo,omitempty"`
	Path        string    `json:"path,omitempty"`
	Score       int       `json:"score"`
	AuditReport string    `json:"auditReport"`
	Markdown    string    `json:"markdown,omitempty"`
	Submitter   string    `json:"submitter,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Storage 内容寻址存储接口，Put 返回内容标识（CID）
type Storage interface {
	Put(ctx context.Context, rec *StoredReport) (string, error)
	Name() string
}

// Fetcher 可以按 CID 读回报告的存储
type Fetcher interface {
	Get(ctx context.Context, cid string) (*StoredReport, error)
}

// NewStorage 根据配置创建存储后端
func NewStorage(cfg config.StorageConfig, httpClient *http.Client) (Storage, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStorage(cfg.Dir), nil
	case "pinata", "ipfs":
		return NewPinataStorage(cfg.Pinata.JWT, cfg.Pinata.BaseURL, httpClient)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (supported: file, pinata)", cfg.Backend)
	}
}

// FileStorage 文件存储实现，文件名为内容的 keccak256
type FileStorage struct {
	OutputDir string
}

// NewFileStorage 创建文件存储
func NewFileStorage(outputDir string) *FileStorage {
	return &FileStorage{
		OutputDir: outputDir,
	}
}

// Name 后端名称
func (s *FileStorage) Name() string { return "file" }

// Put 保存报告，返回 0x 前缀的 keccak256 哈希
func (s *FileStorage) Put(_ context.Context, rec *StoredReport) (string, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	// 确保输出目录存在
	if err := os.MkdirAll(s.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	cid := crypto.Keccak256Hash(data).Hex()
	if err := os.WriteFile(s.path(cid), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	return cid, nil
}

// Get 按哈希读取报告，并校验内容与哈希一致
func (s *FileStorage) Get(_ context.Context, cid string) (*StoredReport, error) {
	if _, err := hexutil.Decode(cid); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidCID, cid, err)
	}
	data, err := os.ReadFile(s.path(cid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, cid)
		}
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}
	if got := crypto.Keccak256Hash(data).Hex(); !strings.EqualFold(got, cid) {
		return nil, fmt.Errorf("content hash mismatch: want %s, got %s", cid, got)
	}
	var rec StoredReport
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode report file: %w", err)
	}
	return &rec, nil
}

func (s *FileStorage) path(cid string) string {
	return filepath.Join(s.OutputDir, strings.ToLower(cid)+".json")
}

// PinataStorage 通过 Pinata pinJSONToIPFS 上传到 IPFS
type PinataStorage struct {
	jwt        string
	baseURL    string
	httpClient *http.Client
}

type pinataRequest struct {
	PinataContent  *StoredReport  `json:"pinataContent"`
	PinataMetadata pinataMetadata `json:"pinataMetadata"`
}

type pinataMetadata struct {
	Name      string            `json:"name"`
	KeyValues map[string]string `json:"keyvalues,omitempty"`
}

type pinataResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// NewPinataStorage 创建 Pinata 存储
func NewPinataStorage(jwt, baseURL string, httpClient *http.Client) (*PinataStorage, error) {
	if strings.TrimSpace(jwt) == "" {
		return nil, fmt.Errorf("pinata JWT is required (set %s)", config.EnvPinataJWT)
	}
	if baseURL == "" {
		baseURL = "https://api.pinata.cloud"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &PinataStorage{
		jwt:        strings.TrimSpace(jwt),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}, nil
}

// Name 后端名称
func (s *PinataStorage) Name() string { return "pinata" }

// Put 上传报告并返回 IPFS CID
func (s *PinataStorage) Put(ctx context.Context, rec *StoredReport) (string, error) {
	body, err := json.Marshal(pinataRequest{
		PinataContent: rec,
		PinataMetadata: pinataMetadata{
			Name:      fmt.Sprintf("snitch-audit-%s-%d", rec.ContractID, rec.CreatedAt.UnixMilli()),
			KeyValues: map[string]string{"contractId": rec.ContractID},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/pinning/pinJSONToIPFS", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.jwt)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return "", fmt.Errorf("pinata returned status %d: %s", resp.StatusCode, msg)
	}

	var out pinataResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if out.IpfsHash == "" {
		return "", fmt.Errorf("pinata response missing IpfsHash")
	}
	return out.IpfsHash, nil
}
