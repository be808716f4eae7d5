package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/admi-n/snitch/src/internal"
	"github.com/admi-n/snitch/src/internal/github"
)

var (
	// ErrMissingInput owner 或 repo 为空
	ErrMissingInput = errors.New("Missing owner or repo")
	// ErrContractNotFound 选中的合约不在发现结果中
	ErrContractNotFound = errors.New("Selected contract not found")
	// ErrRepoNotFound 仓库不存在或无权访问
	ErrRepoNotFound = errors.New("Repository not found")
)

// ContentsAPI 仓库内容上游（GitHub contents API）
type ContentsAPI interface {
	ListContents(ctx context.Context, owner, repo, dir string) ([]github.Entry, error)
	FetchRaw(ctx context.Context, downloadURL string) (string, error)
}

// Options 发现流程参数
type Options struct {
	Extensions  []string      // 识别的后缀，默认 .sol / .cdc
	Concurrency int           // 并发拉取内容的上限
	FileTimeout time.Duration // 单个文件拉取超时，0 表示只受 ctx 控制
}

// Service 递归遍历仓库并拉取候选合约文件
type Service struct {
	api    ContentsAPI
	opts   Options
	logger *zap.Logger
}

// New 创建发现服务
func New(api ContentsAPI, opts Options, logger *zap.Logger) *Service {
	if len(opts.Extensions) == 0 {
		opts.Extensions = internal.DefaultExtensions
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{api: api, opts: opts, logger: logger}
}

// Discover 返回仓库中所有匹配后缀的文件及内容。
// 任一目录列举或内容拉取失败都会中止整个流程，不返回部分结果。
func (s *Service) Discover(ctx context.Context, owner, repo string) ([]internal.ContractFile, error) {
	owner, repo = strings.TrimSpace(owner), strings.TrimSpace(repo)
	if owner == "" || repo == "" {
		return nil, ErrMissingInput
	}

	candidates, err := s.walk(ctx, owner, repo, "")
	if err != nil {
		return nil, err
	}
	s.logger.Debug("仓库遍历完成",
		zap.String("owner", owner), zap.String("repo", repo), zap.Int("candidates", len(candidates)))

	files := make([]internal.ContractFile, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, entry := range candidates {
		g.Go(func() error {
			fctx := gctx
			if s.opts.FileTimeout > 0 {
				var cancel context.CancelFunc
				fctx, cancel = context.WithTimeout(gctx, s.opts.FileTimeout)
				defer cancel()
			}
			content, err := s.api.FetchRaw(fctx, entry.DownloadURL)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", entry.Path, err)
			}
			files[i] = internal.ContractFile{Path: entry.Path, Content: content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// walk 递归列举目录，返回匹配后缀的文件条目
func (s *Service) walk(ctx context.Context, owner, repo, dir string) ([]github.Entry, error) {
	entries, err := s.api.ListContents(ctx, owner, repo, dir)
	if err != nil {
		if dir == "" && github.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrRepoNotFound, owner, repo)
		}
		return nil, fmt.Errorf("list %s/%s/%s: %w", owner, repo, dir, err)
	}

	out := make([]github.Entry, 0)
	for _, entry := range entries {
		switch entry.Type {
		case github.EntryTypeFile:
			if internal.HasExtension(entry.Name, s.opts.Extensions) {
				out = append(out, entry)
			}
		case github.EntryTypeDir:
			sub, err := s.walk(ctx, owner, repo, entry.Path)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		case github.EntryTypeSymlink, github.EntryTypeSubmod:
			s.logger.Debug("跳过非普通条目", zap.String("path", entry.Path), zap.String("type", entry.Type))
		}
	}
	return out, nil
}

// Select 按路径从发现结果中取出合约
func Select(files []internal.ContractFile, path string) (internal.ContractFile, error) {
	for _, f := range files {
		if f.Path == path {
			return f, nil
		}
	}
	return internal.ContractFile{}, fmt.Errorf("%w: %s", ErrContractNotFound, path)
}
