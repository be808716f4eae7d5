package ledger

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// RegistryABI 审计注册表合约的 ABI
const RegistryABI = `[
  {
    "type": "function",
    "name": "submitAudit",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "contractId", "type": "string"},
      {"name": "id", "type": "uint256"},
      {"name": "score", "type": "uint256"},
      {"name": "timestamp", "type": "uint256"},
      {"name": "submitter", "type": "address"},
      {"name": "cid", "type": "string"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "getAudits",
    "stateMutability": "view",
    "inputs": [
      {"name": "contractId", "type": "string"}
    ],
    "outputs": [
      {
        "name": "",
        "type": "tuple[]",
        "components": [
          {"name": "id", "type": "uint256"},
          {"name": "score", "type": "uint256"},
          {"name": "timestamp", "type": "uint256"},
          {"name": "submitter", "type": "address"},
          {"name": "cid", "type": "string"}
        ]
      }
    ]
  },
  {
    "type": "event",
    "name": "AuditSubmitted",
    "anonymous": false,
    "inputs": [
      {"name": "contractId", "type": "string", "indexed": false},
      {"name": "id", "type": "uint256", "indexed": true},
      {"name": "score", "type": "uint256", "indexed": false},
      {"name": "submitter", "type": "address", "indexed": true},
      {"name": "cid", "type": "string", "indexed": false}
    ]
  }
]`

const (
	methodSubmit = "submitAudit"
	methodGet    = "getAudits"
)

// ParseRegistryABI 解析注册表 ABI
func ParseRegistryABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(RegistryABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse registry ABI: %w", err)
	}
	return parsed, nil
}

// Submission 写入注册表的一条审计记录
type Submission struct {
	ContractID string
	ID         *big.Int // 由时间戳派生（unix 毫秒）
	Score      int
	Timestamp  time.Time
	Submitter  common.Address
	CID        string
}

// NewSubmission 组装记录，ID 取 now 的 unix 毫秒
func NewSubmission(contractID string, score int, submitter common.Address, cid string, now time.Time) Submission {
	return Submission{
		ContractID: contractID,
		ID:         big.NewInt(now.UnixMilli()),
		Score:      score,
		Timestamp:  now,
		Submitter:  submitter,
		CID:        cid,
	}
}

// Validate 检查必填字段
func (s Submission) Validate() error {
	switch {
	case strings.TrimSpace(s.ContractID) == "":
		return fmt.Errorf("submission missing contract id")
	case s.ID == nil || s.ID.Sign() <= 0:
		return fmt.Errorf("submission missing id")
	case s.Score < 0:
		return fmt.Errorf("submission score must not be negative")
	case strings.TrimSpace(s.CID) == "":
		return fmt.Errorf("submission missing content id")
	}
	return nil
}

// Args submitAudit 的参数，顺序与 ABI 一致
func (s Submission) Args() []any {
	return []any{
		s.ContractID,
		s.ID,
		big.NewInt(int64(s.Score)),
		big.NewInt(s.Timestamp.Unix()),
		s.Submitter,
		s.CID,
	}
}

// Record 从注册表读取的审计记录
type Record struct {
	ID        uint64    `json:"id"`
	Score     int       `json:"score"`
	Timestamp time.Time `json:"timestamp"`
	Submitter string    `json:"submitter"`
	CID       string    `json:"cid"`
}

// onchainAudit 与 getAudits 返回的 tuple 字段一一对应
type onchainAudit struct {
	Id        *big.Int
	Score     *big.Int
	Timestamp *big.Int
	Submitter common.Address
	Cid       string
}

// decodeAudits 解码 getAudits 的返回值
func decodeAudits(out []any) ([]Record, error) {
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected getAudits output length %d", len(out))
	}
	raw := *abi.ConvertType(out[0], new([]onchainAudit)).(*[]onchainAudit)

	records := make([]Record, 0, len(raw))
	for _, a := range raw {
		records = append(records, Record{
			ID:        a.Id.Uint64(),
			Score:     int(a.Score.Int64()),
			Timestamp: time.Unix(a.Timestamp.Int64(), 0).UTC(),
			Submitter: a.Submitter.Hex(),
			CID:       a.Cid,
		})
	}
	return records, nil
}
