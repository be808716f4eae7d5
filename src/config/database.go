package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DatabaseSettings 审计索引数据库配置，DSN 为空时不启用索引
type DatabaseSettings struct {
	Driver          string        `yaml:"driver"` // mysql | postgres，为空时根据 DSN 推断
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Enabled 是否配置了数据库
func (d DatabaseSettings) Enabled() bool {
	return strings.TrimSpace(d.DSN) != ""
}

// DriverName 返回数据库驱动名，postgres:// 开头的 DSN 视为 postgres
func (d DatabaseSettings) DriverName() string {
	switch strings.ToLower(strings.TrimSpace(d.Driver)) {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "mysql":
		return "mysql"
	}
	dsn := strings.ToLower(strings.TrimSpace(d.DSN))
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	return "mysql"
}

// MySQLDSN 规范化 MySQL DSN：强制 parseTime=true 和 utf8mb4
func (d DatabaseSettings) MySQLDSN() (string, error) {
	cfg, err := mysql.ParseDSN(d.DSN)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}
	return cfg.FormatDSN(), nil
}

// PoolLimits 返回连接池参数（带默认值）
func (d DatabaseSettings) PoolLimits() (maxOpen, maxIdle int, lifetime time.Duration) {
	maxOpen, maxIdle, lifetime = d.MaxOpenConns, d.MaxIdleConns, d.ConnMaxLifetime
	if maxOpen <= 0 {
		maxOpen = 25
	}
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	return maxOpen, maxIdle, lifetime
}
