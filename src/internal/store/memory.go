package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryIndex 进程内索引，重启后丢失
type MemoryIndex struct {
	mu      sync.RWMutex
	nextID  int64
	records []AuditRecord
}

// NewMemoryIndex 创建内存索引
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

// Insert 追加一条记录
func (m *MemoryIndex) Insert(_ context.Context, rec *AuditRecord) (int64, error) {
	if err := validateRecord(rec); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	m.records = append(m.records, *rec)
	return rec.ID, nil
}

// SearchByContract 按时间倒序返回某合约的记录
func (m *MemoryIndex) SearchByContract(_ context.Context, contractID string, limit int) ([]AuditRecord, error) {
	contractID, limit, err := normalizeSearch(contractID, limit)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	out := make([]AuditRecord, 0)
	for _, r := range m.records {
		if r.ContractID == contractID {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close 无需释放资源
func (m *MemoryIndex) Close() error { return nil }
