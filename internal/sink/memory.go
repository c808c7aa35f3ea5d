package sink

import (
	"context"
	"sync"

	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// Memory keeps records in process. Used by tests and the demo.
type Memory struct {
	mu       sync.RWMutex
	failures []types.FailureRecord
	metadata []types.MetadataRecord
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) AppendFailure(_ context.Context, bookID string, reason types.FailureReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, types.FailureRecord{BookID: bookID, Reason: reason, InjectedAt: now()})
	return nil
}

func (m *Memory) AppendMetadata(_ context.Context, record types.MetadataRecord) error {
	fields := make(map[string]string, len(record.Fields))
	for k, v := range record.Fields {
		fields[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata = append(m.metadata, types.MetadataRecord{ID: record.ID, Fields: fields, InjectedAt: now()})
	return nil
}

func (m *Memory) LastSequenceNumber(_ context.Context, department types.DepartmentCode) (int, bool, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.metadata))
	for _, r := range m.metadata {
		ids = append(ids, r.ID)
	}
	m.mu.RUnlock()
	seq, ok := MaxSequence(department, ids)
	return seq, ok, nil
}

// Failures returns a copy of the stored failure records.
func (m *Memory) Failures() []types.FailureRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.FailureRecord, len(m.failures))
	copy(out, m.failures)
	return out
}

// Metadata returns a copy of the stored metadata records.
func (m *Memory) Metadata() []types.MetadataRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.MetadataRecord, len(m.metadata))
	copy(out, m.metadata)
	return out
}
