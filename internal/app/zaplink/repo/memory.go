package repo

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
)

// MemoryStore 进程内实现，开发环境与测试使用。
//
// map 上的读写锁只保护“有哪些链接”；每条链接自己带一把锁，
// ConsumeView 只锁住被访问的那一条，不同链接之间互不阻塞。
type MemoryStore struct {
	codec *zaplink.Codec
	seq   atomic.Int64

	mu    sync.RWMutex
	links map[string]*memEntry
}

type memEntry struct {
	mu   sync.Mutex
	link zaplink.Link
}

func NewMemoryStore(codec *zaplink.Codec) *MemoryStore {
	return &MemoryStore{
		codec: codec,
		links: make(map[string]*memEntry),
	}
}

func (m *MemoryStore) Create(_ context.Context, nl zaplink.NewLink) (zaplink.Link, error) {
	if err := nl.Validate(); err != nil {
		return zaplink.Link{}, err
	}
	id := m.seq.Add(1)
	code, err := m.codec.Encode(uint64(id))
	if err != nil {
		return zaplink.Link{}, err
	}
	link := nl.Build(id, code)

	m.mu.Lock()
	m.links[code] = &memEntry{link: link}
	m.mu.Unlock()
	return link, nil
}

func (m *MemoryStore) entry(code string) (*memEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.links[code]
	return e, ok
}

func (m *MemoryStore) Get(_ context.Context, code string) (zaplink.Link, error) {
	e, ok := m.entry(code)
	if !ok {
		return zaplink.Link{}, zaplink.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.link, nil
}

func (m *MemoryStore) ConsumeView(_ context.Context, code string, now time.Time) (zaplink.Link, error) {
	e, ok := m.entry(code)
	if !ok {
		return zaplink.Link{}, zaplink.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	l := &e.link
	if l.Tombstoned() {
		return zaplink.Link{}, zaplink.ErrExpired
	}
	if !l.Policy.Allows(l.ViewCount, now) {
		l.ExhaustedAt = &now
		return zaplink.Link{}, zaplink.ErrExpired
	}
	l.ViewCount++
	if l.Policy.SpentBy(l.ViewCount) {
		l.ExhaustedAt = &now
	}
	return *l, nil
}

func (m *MemoryStore) Revoke(_ context.Context, code string, now time.Time) error {
	e, ok := m.entry(code)
	if !ok {
		return zaplink.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.link.Tombstoned() {
		return zaplink.ErrAlreadyExhausted
	}
	e.link.ExhaustedAt = &now
	return nil
}

func (m *MemoryStore) SweepExpired(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.RLock()
	entries := make([]*memEntry, 0, len(m.links))
	for _, e := range m.links {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var swept []string
	for _, e := range entries {
		if len(swept) >= limit {
			break
		}
		e.mu.Lock()
		l := &e.link
		if !l.Tombstoned() && l.Policy.Kind == zaplink.PolicyExpiresAt && !l.Policy.Allows(l.ViewCount, now) {
			l.ExhaustedAt = &now
			swept = append(swept, l.Code)
		}
		e.mu.Unlock()
	}
	return swept, nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, ownerID int64, limit int) ([]zaplink.Link, error) {
	m.mu.RLock()
	entries := make([]*memEntry, 0)
	for _, e := range m.links {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var out []zaplink.Link
	for _, e := range entries {
		e.mu.Lock()
		if e.link.OwnerID != nil && *e.link.OwnerID == ownerID {
			out = append(out, e.link)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) OwnsLink(ctx context.Context, ownerID int64, code string) (bool, error) {
	l, err := m.Get(ctx, code)
	if err != nil {
		if err == zaplink.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return l.OwnerID != nil && *l.OwnerID == ownerID, nil
}

func (m *MemoryStore) EachCode(_ context.Context, fn func(code string)) error {
	m.mu.RLock()
	codes := make([]string, 0, len(m.links))
	for code := range m.links {
		codes = append(codes, code)
	}
	m.mu.RUnlock()
	for _, code := range codes {
		fn(code)
	}
	return nil
}
