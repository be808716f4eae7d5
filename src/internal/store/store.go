package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/admi-n/snitch/src/config"
)

// ErrMissingContract 查询时没有给出合约标识
var ErrMissingContract = errors.New("Missing contract")

// DefaultSearchLimit 单次查询返回的最大条数
const DefaultSearchLimit = 100

// AuditRecord 审计索引中的一行
type AuditRecord struct {
	ID         int64     `json:"id"`
	ContractID string    `json:"contractId"`
	Owner      string    `json:"owner,omitempty"`
	Repo       string    `json:"repo,omitempty"`
	Path       string    `json:"path,omitempty"`
	Score      int       `json:"score"`
	CID        string    `json:"cid"`
	TxHash     string    `json:"txHash,omitempty"`
	Submitter  string    `json:"submitter,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Index 审计索引
type Index interface {
	Insert(ctx context.Context, rec *AuditRecord) (int64, error)
	SearchByContract(ctx context.Context, contractID string, limit int) ([]AuditRecord, error)
	Close() error
}

// Open 根据配置打开索引；没有配置 DSN 时使用内存索引
func Open(ctx context.Context, cfg config.DatabaseSettings, autoMigrate bool, logger *zap.Logger) (Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled() {
		logger.Warn("⚠️ 未配置数据库，审计索引仅保存在内存中")
		return NewMemoryIndex(), nil
	}

	switch cfg.DriverName() {
	case "postgres":
		pg, err := OpenPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if autoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, err
			}
		}
		logger.Info("✅ 已连接 Postgres 审计索引")
		return pg, nil
	default:
		my, err := OpenMySQL(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if autoMigrate {
			if err := my.Migrate(ctx); err != nil {
				my.Close()
				return nil, err
			}
		}
		logger.Info("✅ 已连接 MySQL 审计索引")
		return my, nil
	}
}

// normalizeSearch 校验查询参数
func normalizeSearch(contractID string, limit int) (string, int, error) {
	contractID = strings.TrimSpace(contractID)
	if contractID == "" {
		return "", 0, ErrMissingContract
	}
	if limit <= 0 || limit > DefaultSearchLimit {
		limit = DefaultSearchLimit
	}
	return contractID, limit, nil
}

func validateRecord(rec *AuditRecord) error {
	if rec == nil {
		return fmt.Errorf("audit record is nil")
	}
	if strings.TrimSpace(rec.ContractID) == "" {
		return fmt.Errorf("audit record missing contract id")
	}
	if strings.TrimSpace(rec.CID) == "" {
		return fmt.Errorf("audit record missing cid")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return nil
}
