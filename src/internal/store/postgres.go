package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/admi-n/snitch/src/config"
)

// PostgresStore Postgres 审计索引
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// OpenPostgres 建立连接池并 ping
func OpenPostgres(ctx context.Context, cfg config.DatabaseSettings) (*PostgresStore, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	maxOpen, _, lifetime := cfg.PoolLimits()
	pcfg.MaxConns = int32(maxOpen)
	pcfg.MaxConnLifetime = lifetime
	pcfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{Pool: pool}, nil
}

// Migrate 通过 database/sql 适配层执行 goose 迁移
func (s *PostgresStore) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.Pool)
	defer db.Close()
	_, err := runMigrations(ctx, db, goose.DialectPostgres)
	return err
}

// Insert 写入一条记录
func (s *PostgresStore) Insert(ctx context.Context, rec *AuditRecord) (int64, error) {
	if err := validateRecord(rec); err != nil {
		return 0, err
	}
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO audits (contract_id, owner, repo, path, score, cid, tx_hash, submitter, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		rec.ContractID, rec.Owner, rec.Repo, rec.Path, rec.Score, rec.CID, rec.TxHash, rec.Submitter, rec.CreatedAt.UTC(),
	).Scan(&rec.ID)
	if err != nil {
		return 0, fmt.Errorf("insert audit: %w", err)
	}
	return rec.ID, nil
}

// SearchByContract 按时间倒序查询
func (s *PostgresStore) SearchByContract(ctx context.Context, contractID string, limit int) ([]AuditRecord, error) {
	contractID, limit, err := normalizeSearch(contractID, limit)
	if err != nil {
		return nil, err
	}

	rows, err := s.Pool.Query(ctx,
		"SELECT "+auditColumns+" FROM audits WHERE contract_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		contractID, limit)
	if err != nil {
		return nil, fmt.Errorf("search audits: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AuditRecord, error) {
		var r AuditRecord
		err := row.Scan(&r.ID, &r.ContractID, &r.Owner, &r.Repo, &r.Path, &r.Score, &r.CID, &r.TxHash, &r.Submitter, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("search audits: %w", err)
	}
	if out == nil {
		out = []AuditRecord{}
	}
	return out, nil
}

// Close 关闭连接池
func (s *PostgresStore) Close() error {
	s.Pool.Close()
	return nil
}
