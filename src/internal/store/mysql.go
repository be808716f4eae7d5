package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pressly/goose/v3"

	"github.com/admi-n/snitch/src/config"
)

const auditColumns = "id, contract_id, owner, repo, path, score, cid, tx_hash, submitter, created_at"

// MySQLStore MySQL 审计索引
type MySQLStore struct {
	db *sql.DB
}

// OpenMySQL 初始化 MySQL 连接池并 ping 验证
func OpenMySQL(ctx context.Context, cfg config.DatabaseSettings) (*MySQLStore, error) {
	dsn, err := cfg.MySQLDSN()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("OpenMySQL: %w", err)
	}

	// 设置连接池参数
	maxOpen, maxIdle, lifetime := cfg.PoolLimits()
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	// 验证连接
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("OpenMySQL ping failed: %w", err)
	}

	return &MySQLStore{db: db}, nil
}

// Migrate 应用内置迁移
func (s *MySQLStore) Migrate(ctx context.Context) error {
	_, err := runMigrations(ctx, s.db, goose.DialectMySQL)
	return err
}

// Insert 写入一条记录
func (s *MySQLStore) Insert(ctx context.Context, rec *AuditRecord) (int64, error) {
	if err := validateRecord(rec); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO audits (contract_id, owner, repo, path, score, cid, tx_hash, submitter, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		rec.ContractID, rec.Owner, rec.Repo, rec.Path, rec.Score, rec.CID, rec.TxHash, rec.Submitter, rec.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert audit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert audit: %w", err)
	}
	rec.ID = id
	return id, nil
}

// SearchByContract 按时间倒序查询
func (s *MySQLStore) SearchByContract(ctx context.Context, contractID string, limit int) ([]AuditRecord, error) {
	contractID, limit, err := normalizeSearch(contractID, limit)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+auditColumns+" FROM audits WHERE contract_id = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		contractID, limit)
	if err != nil {
		return nil, fmt.Errorf("search audits: %w", err)
	}
	defer rows.Close()

	out := make([]AuditRecord, 0)
	for rows.Next() {
		var r AuditRecord
		if err := rows.Scan(&r.ID, &r.ContractID, &r.Owner, &r.Repo, &r.Path, &r.Score, &r.CID, &r.TxHash, &r.Submitter, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close 关闭连接池
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
