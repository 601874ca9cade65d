package deadletter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/imrishuroy/serverless-snacks/internal/bus"
)

// Memory is an in-process channel for local runs. It enforces
// RetentionPeriod itself by dropping expired entries on access.
type Memory struct {
	mu      sync.Mutex
	seq     int
	entries []Message
	nowFunc func() time.Time
}

func NewMemory() *Memory {
	return &Memory{nowFunc: func() time.Time { return time.Now().UTC() }}
}

func (m *Memory) Capture(ctx context.Context, f bus.Failure) error {
	e, err := FromFailure(f)
	if err != nil {
		return err
	}
	return m.Send(ctx, e)
}

func (m *Memory) Send(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = m.nowFunc()
	}
	m.seq++
	id := fmt.Sprintf("dl-%d", m.seq)
	m.entries = append(m.entries, Message{Entry: e, MessageID: id, ReceiptHandle: id})
	return nil
}

func (m *Memory) Receive(ctx context.Context, max int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()
	if max <= 0 || max > len(m.entries) {
		max = len(m.entries)
	}
	return append([]Message(nil), m.entries[:max]...), nil
}

func (m *Memory) Delete(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.ReceiptHandle == msg.ReceiptHandle {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("unknown receipt handle %q", msg.ReceiptHandle)
}

// Len reports the number of retained entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()
	return len(m.entries)
}

func (m *Memory) prune() {
	now := m.nowFunc()
	kept := m.entries[:0]
	for _, e := range m.entries {
		if !e.Entry.Expired(now) {
			kept = append(kept, e)
		}
	}
	m.entries = kept
}
