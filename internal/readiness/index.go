package readiness

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
)

// Index is the read-only vault. Version changes whenever the record set does.
type Index interface {
	Records(ctx context.Context) ([]VaultRecord, error)
	Version() string
}

// #region memory-index
// MemoryIndex is an in-process vault index.
type MemoryIndex struct {
	mu      sync.RWMutex
	records []VaultRecord
	version int
}

func NewMemoryIndex(records ...VaultRecord) *MemoryIndex {
	idx := &MemoryIndex{}
	idx.Put(records...)
	return idx
}

// Put adds or replaces records by vault id and bumps the version.
func (m *MemoryIndex) Put(records ...VaultRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		replaced := false
		for i := range m.records {
			if m.records[i].VaultID == r.VaultID {
				m.records[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			m.records = append(m.records, r)
		}
	}
	m.version++
}

func (m *MemoryIndex) Records(_ context.Context) ([]VaultRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]VaultRecord(nil), m.records...), nil
}

func (m *MemoryIndex) Version() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return strconv.Itoa(m.version)
}

// #endregion memory-index

// #region file-index
// LoadFile reads a JSON vault export: either an array of records or an
// object with a "records" array.
func LoadFile(path string) (*MemoryIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vault %s: %w", path, err)
	}
	records, err := decodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("decode vault %s: %w", path, err)
	}
	return NewMemoryIndex(records...), nil
}

func decodeRecords(data []byte) ([]VaultRecord, error) {
	var records []VaultRecord
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}
	var wrapped struct {
		Records []VaultRecord `json:"records"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Records, nil
}

// #endregion file-index
