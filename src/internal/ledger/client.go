package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/admi-n/snitch/src/config"
)

var (
	// ErrDisabled 未启用链上注册表
	ErrDisabled = errors.New("ledger is not enabled")
	// ErrReadOnly 没有配置签名私钥
	ErrReadOnly = errors.New("ledger has no signing key configured")
)

// Client 审计注册表合约客户端
type Client struct {
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
	auth     *bind.TransactOpts
	eth      *ethclient.Client
	logger   *zap.Logger
}

// Dial 连接 RPC 节点并创建客户端；没有私钥时只能读
func Dial(ctx context.Context, cfg config.LedgerConfig, logger *zap.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPC)
	if err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("获取 chain id 失败: %w", err)
		}
	}

	var key *ecdsa.PrivateKey
	if pk := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"); pk != "" {
		key, err = crypto.HexToECDSA(pk)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("解析私钥失败: %w", err)
		}
	}

	c, err := NewClient(eth, cfg.RegistryAddress, key, chainID, cfg.GasLimit, logger)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.eth = eth

	logger.Info("✅ 已连接注册表",
		zap.String("rpc", cfg.RPC),
		zap.String("chain_id", chainID.String()),
		zap.String("registry", c.address.Hex()),
		zap.Bool("read_only", c.auth == nil))
	return c, nil
}

// NewClient 基于任意合约后端创建客户端，key 为 nil 时只读
func NewClient(backend bind.ContractBackend, registry string, key *ecdsa.PrivateKey, chainID *big.Int, gasLimit uint64, logger *zap.Logger) (*Client, error) {
	if !common.IsHexAddress(registry) {
		return nil, fmt.Errorf("invalid registry address %q", registry)
	}
	parsed, err := ParseRegistryABI()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	address := common.HexToAddress(registry)
	c := &Client{
		address:  address,
		abi:      parsed,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		logger:   logger,
	}

	if key != nil {
		auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return nil, fmt.Errorf("创建签名器失败: %w", err)
		}
		auth.GasLimit = gasLimit
		c.auth = auth
	}
	return c, nil
}

// Sender 签名账户地址；只读时返回零地址
func (c *Client) Sender() common.Address {
	if c.auth == nil {
		return common.Address{}
	}
	return c.auth.From
}

// Submit 发送 submitAudit 交易，返回交易哈希
func (c *Client) Submit(ctx context.Context, sub Submission) (string, error) {
	if c.auth == nil {
		return "", ErrReadOnly
	}
	if sub.Submitter == (common.Address{}) {
		sub.Submitter = c.auth.From
	}
	if err := sub.Validate(); err != nil {
		return "", err
	}

	opts := *c.auth
	opts.Context = ctx
	tx, err := c.contract.Transact(&opts, methodSubmit, sub.Args()...)
	if err != nil {
		return "", fmt.Errorf("failed to submit audit: %w", err)
	}

	c.logger.Info("📝 审计记录已提交",
		zap.String("contract", sub.ContractID),
		zap.String("id", sub.ID.String()),
		zap.Int("score", sub.Score),
		zap.String("tx", tx.Hash().Hex()))
	return tx.Hash().Hex(), nil
}

// GetAudits 读取某个合约的全部审计记录
func (c *Client) GetAudits(ctx context.Context, contractID string) ([]Record, error) {
	var out []any
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodGet, contractID); err != nil {
		return nil, fmt.Errorf("failed to read audits: %w", err)
	}
	return decodeAudits(out)
}

// Close 关闭 RPC 连接
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}
