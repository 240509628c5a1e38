package settings

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Nothing survives a restart.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string][]byte)}
}

func memoryKey(collection, matchKey, matchValue string) string {
	return collection + "\x00" + matchKey + "\x00" + matchValue
}

func (m *Memory) Pull(_ context.Context, collection, matchKey, matchValue string, out any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.records[memoryKey(collection, matchKey, matchValue)]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := decodeRecord(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Memory) Push(_ context.Context, collection, matchKey string, record any) error {
	value, raw, err := encodeRecord(matchKey, record)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.records[memoryKey(collection, matchKey, value)] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
