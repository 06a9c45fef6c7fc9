package ingest

import (
	"context"
	"sync"

	"seclog/core"
)

// MemoryEventLog is an in-process EventLog. It assigns record numbers,
// drops the oldest records beyond its capacity and can be cleared, which
// makes it the simulated source for development and tests.
type MemoryEventLog struct {
	mu       sync.Mutex
	name     core.Logfile
	capacity int
	records  []NativeRecord
	total    uint64
	failWith error
	gate     chan struct{}
	seeks    []uint64
	fullRead int
}

// NewMemoryEventLog creates an empty log. A capacity of 0 retains everything.
func NewMemoryEventLog(name core.Logfile, capacity int) *MemoryEventLog {
	return &MemoryEventLog{name: name, capacity: capacity}
}

func (m *MemoryEventLog) Name() core.Logfile { return m.name }

// Append numbers and stores records. Logfile is set to the log's name.
func (m *MemoryEventLog) Append(records ...NativeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.total++
		r.RecordNumber = m.total
		r.Logfile = m.name
		m.records = append(m.records, r)
	}
	if m.capacity > 0 && len(m.records) > m.capacity {
		m.records = append([]NativeRecord(nil), m.records[len(m.records)-m.capacity:]...)
	}
}

// Clear drops every record. With resetNumbering the next record is numbered
// 1 again, as after clearing a Windows log.
func (m *MemoryEventLog) Clear(resetNumbering bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	if resetNumbering {
		m.total = 0
	}
}

// FailWith makes every subsequent call return err. nil restores normal
// operation.
func (m *MemoryEventLog) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Block makes reads wait until Unblock is called.
func (m *MemoryEventLog) Block() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate == nil {
		m.gate = make(chan struct{})
	}
}

// Unblock releases blocked and future reads.
func (m *MemoryEventLog) Unblock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

// Seeks returns the start positions passed to ReadFrom so far.
func (m *MemoryEventLog) Seeks() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.seeks...)
}

// FullReads returns how many times ReadAll was called.
func (m *MemoryEventLog) FullReads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fullRead
}

func (m *MemoryEventLog) Info(ctx context.Context) (SourceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return SourceInfo{}, m.failWith
	}
	info := SourceInfo{Total: m.total}
	if len(m.records) > 0 {
		info.Oldest = m.records[0].RecordNumber
	}
	return info, nil
}

func (m *MemoryEventLog) ReadFrom(ctx context.Context, start uint64) ([]NativeRecord, error) {
	m.wait(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeks = append(m.seeks, start)
	if m.failWith != nil {
		return nil, m.failWith
	}
	if len(m.records) > 0 && start < m.records[0].RecordNumber {
		return nil, ErrInvalidPosition
	}
	var out []NativeRecord
	for _, r := range m.records {
		if r.RecordNumber >= start {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryEventLog) ReadAll(ctx context.Context) ([]NativeRecord, error) {
	m.wait(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.fullRead++
	if m.failWith != nil {
		return nil, m.failWith
	}
	return append([]NativeRecord(nil), m.records...), nil
}

// wait blocks while the log is gated. Reads are not interruptible, matching
// native event-log reads; ctx is only consulted so tests can bail out.
func (m *MemoryEventLog) wait(ctx context.Context) {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()
	if gate == nil {
		return
	}
	select {
	case <-gate:
	case <-ctx.Done():
	}
}
