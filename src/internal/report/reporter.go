package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNoScore 报告中没有可用的分数
var ErrNoScore = errors.New("Could not find audit score in the report")

// Reporter 报告器，整合生成器和存储功能
type Reporter struct {
	generator Generator
	storage   Storage
}

// NewReporter 创建报告器
func NewReporter(generator Generator, storage Storage) *Reporter {
	return &Reporter{
		generator: generator,
		storage:   storage,
	}
}

// StorageName 当前存储后端名称
func (r *Reporter) StorageName() string {
	if r.storage == nil {
		return ""
	}
	return r.storage.Name()
}

// Render 只生成报告内容
func (r *Reporter) Render(doc *AuditDocument) (string, error) {
	content, err := r.generator.Generate(doc)
	if err != nil {
		return "", fmt.Errorf("failed to generate report: %w", err)
	}
	return content, nil
}

// GenerateAndSave 生成报告并写入本地文件，用于 CLI --out
func (r *Reporter) GenerateAndSave(doc *AuditDocument, outPath string) (string, error) {
	content, err := r.Render(doc)
	if err != nil {
		return "", err
	}
	if dir := filepath.Dir(outPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(outPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	return outPath, nil
}

// Fetch 按 CID 读取已上传的报告
func (r *Reporter) Fetch(ctx context.Context, cid string) (*StoredReport, error) {
	fetcher, ok := r.storage.(Fetcher)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFetchUnsupported, r.StorageName())
	}
	return fetcher.Get(ctx, cid)
}

// Upload 生成报告并上传到内容存储，返回 CID。没有分数时返回 ErrNoScore。
func (r *Reporter) Upload(ctx context.Context, doc *AuditDocument, submitter string) (string, error) {
	if doc.Score == nil {
		return "", ErrNoScore
	}
	if r.storage == nil {
		return "", fmt.Errorf("no content storage configured")
	}
	content, err := r.Render(doc)
	if err != nil {
		return "", err
	}

	createdAt := doc.GeneratedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	cid, err := r.storage.Put(ctx, &StoredReport{
		ContractID:  doc.ContractID,
		Owner:       doc.Owner,
		Repo:        doc.Repo,
		Path:        doc.Path,
		Score:       *doc.Score,
		AuditReport: doc.ReportText,
		Markdown:    content,
		Submitter:   submitter,
		CreatedAt:   createdAt.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}
	return cid, nil
}
