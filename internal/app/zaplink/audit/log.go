package audit

import (
	"context"
	"sync"
)

// Entry 已落库的一条审计记录；ID 用作分页 cursor。
type Entry struct {
	ID int64 `json:"id"`
	Event
}

type Page struct {
	Entries    []Entry `json:"entries"`
	NextCursor *int64  `json:"next_cursor,omitempty"`
}

// Reader 按 code 倒序分页读取审计记录。cursor=0 表示从最新开始。
type Reader interface {
	ListByCode(ctx context.Context, code string, limit int, cursor int64) (*Page, error)
}

// MemoryLog 进程内的 Sink + Reader，没有配置数据库时使用。
type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) WriteBatch(_ context.Context, batch []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range batch {
		m.entries = append(m.entries, Entry{ID: int64(len(m.entries)) + 1, Event: e})
	}
	return nil
}

func (m *MemoryLog) ListByCode(_ context.Context, code string, limit int, cursor int64) (*Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	page := &Page{}
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.Code != code {
			continue
		}
		if cursor > 0 && e.ID >= cursor {
			continue
		}
		if len(page.Entries) == limit {
			break
		}
		page.Entries = append(page.Entries, e)
	}
	if limit > 0 && len(page.Entries) == limit {
		next := page.Entries[len(page.Entries)-1].ID
		page.NextCursor = &next
	}
	return page, nil
}
