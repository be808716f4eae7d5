package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/admi-n/snitch/src/internal/ledger"
	"github.com/admi-n/snitch/src/internal/report"
	"github.com/admi-n/snitch/src/internal/store"
)

var (
	// ErrMissingReport 发布时缺少报告或合约标识
	ErrMissingReport = errors.New("Missing auditReport or contractId")
	// ErrInvalidSubmitter submitter 不是合法的地址
	ErrInvalidSubmitter = errors.New("invalid submitter address")
)

// StepError 发布过程中某个外部步骤失败
type StepError struct {
	Step string // upload | ledger | index
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// PublishRequest 发布请求
type PublishRequest struct {
	AuditReport string `json:"auditReport"`
	ContractID  string `json:"contractId"`
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
	Path        string `json:"path"`
	Submitter   string `json:"submitter"`
}

// PublishResult 发布结果
type PublishResult struct {
	Score   int    `json:"score"`
	CID     string `json:"cid"`
	TxHash  string `json:"txHash,omitempty"`
	ID      int64  `json:"id"`
	Indexed bool   `json:"indexed"`
}

// Publish 提取分数 -> 上传报告 -> 写入注册表 -> 写入本地索引。
// 链上提交成功后索引失败只记录日志，结果中 Indexed 为 false；其余步骤失败即中止。
func (p *Pipeline) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	contractID := strings.TrimSpace(req.ContractID)
	if contractID == "" && req.Owner != "" && req.Repo != "" && req.Path != "" {
		contractID = report.ContractIdentifier(req.Owner, req.Repo, req.Path)
	}
	if strings.TrimSpace(req.AuditReport) == "" || contractID == "" {
		return nil, ErrMissingReport
	}
	if req.Submitter != "" && !common.IsHexAddress(req.Submitter) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSubmitter, req.Submitter)
	}

	score, ok := p.parser.ScoreFrom(req.AuditReport, p.structured)
	if !ok {
		return nil, report.ErrNoScore
	}
	if p.reporter == nil {
		return nil, &StepError{Step: "upload", Err: errors.New("no content storage configured")}
	}

	now := p.now()
	log := p.logger.With(zap.String("contract", contractID), zap.Int("score", score))

	// 1. 上传报告
	doc := &report.AuditDocument{
		ContractID:  contractID,
		Owner:       req.Owner,
		Repo:        req.Repo,
		Path:        req.Path,
		GeneratedAt: now,
		ReportText:  req.AuditReport,
		Score:       &score,
	}
	p.decodeStructured(doc)
	cid, err := p.reporter.Upload(ctx, doc, req.Submitter)
	if err != nil {
		log.Error("❌ 上传报告失败", zap.Error(err))
		return nil, &StepError{Step: "upload", Err: err}
	}
	log.Info("📦 报告已上传", zap.String("cid", cid), zap.String("storage", p.reporter.StorageName()))

	// 2. 写入注册表
	sub := ledger.NewSubmission(contractID, score, submitterAddress(req.Submitter), cid, now)
	result := &PublishResult{Score: score, CID: cid, ID: sub.ID.Int64()}
	if p.ledger != nil {
		txHash, err := p.ledger.Submit(ctx, sub)
		if err != nil {
			log.Error("❌ 提交注册表失败", zap.Error(err))
			return nil, &StepError{Step: "ledger", Err: err}
		}
		result.TxHash = txHash
	} else {
		log.Debug("未启用注册表，跳过链上提交")
	}

	// 3. 写入本地索引
	if _, err := p.index.Insert(ctx, &store.AuditRecord{
		ContractID: contractID,
		Owner:      req.Owner,
		Repo:       req.Repo,
		Path:       req.Path,
		Score:      score,
		CID:        cid,
		TxHash:     result.TxHash,
		Submitter:  req.Submitter,
		CreatedAt:  now.UTC(),
	}); err != nil {
		if result.TxHash == "" {
			log.Error("❌ 写入审计索引失败", zap.Error(err))
			return nil, &StepError{Step: "index", Err: err}
		}
		// 交易已经上链，重试会重复提交
		log.Error("❌ 写入审计索引失败，链上记录已存在", zap.String("tx", result.TxHash), zap.Error(err))
		return result, nil
	}
	result.Indexed = true

	return result, nil
}

// SearchIndex 查询本地索引
func (p *Pipeline) SearchIndex(ctx context.Context, contractID string, limit int) ([]store.AuditRecord, error) {
	return p.index.SearchByContract(ctx, contractID, limit)
}

// SearchLedger 查询链上注册表
func (p *Pipeline) SearchLedger(ctx context.Context, contractID string) ([]ledger.Record, error) {
	if strings.TrimSpace(contractID) == "" {
		return nil, store.ErrMissingContract
	}
	if p.ledger == nil {
		return nil, ledger.ErrDisabled
	}
	return p.ledger.GetAudits(ctx, strings.TrimSpace(contractID))
}

func submitterAddress(s string) common.Address {
	if common.IsHexAddress(s) {
		return common.HexToAddress(s)
	}
	return common.Address{}
}
