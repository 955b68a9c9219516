package audit

import (
	"sync"
	"time"

	"github.com/gdg-charusat/zaplink/internal/platform/metrics"
)

// Outcome 一次访问尝试的结论。
type Outcome string

const (
	OutcomeGranted          Outcome = "granted"
	OutcomeNotFound         Outcome = "not_found"
	OutcomePasswordRequired Outcome = "password_required"
	OutcomePasswordMismatch Outcome = "password_mismatch"
	OutcomeExpired          Outcome = "expired"
	OutcomeError            Outcome = "error"
)

// Event 访问审计事件
type Event struct {
	Code       string    `json:"code"`
	Outcome    Outcome   `json:"outcome"`
	ViewCount  int64     `json:"view_count"` // 放行后的计数，拒绝时为 0
	AccessedAt time.Time `json:"accessed_at"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
	Referer    string    `json:"referer"`
}

// Collector 收集器接口（Channel / Kafka 两种实现）
type Collector interface {
	Collect(event Event)
	Close()
}

// ChannelCollector 基于 channel 的收集器，满了直接丢弃，不阻塞访问路径。
type ChannelCollector struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

func NewChannelCollector(bufferSize int) *ChannelCollector {
	return &ChannelCollector{
		ch: make(chan Event, bufferSize),
	}
}

func (c *ChannelCollector) Collect(event Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- event:
	default:
		// 通道满了，丢弃
		metrics.AuditEventsDropped.Inc()
	}
}

func (c *ChannelCollector) Events() <-chan Event {
	return c.ch
}

func (c *ChannelCollector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Discard 丢弃所有事件，用于测试或显式关闭审计。
type Discard struct{}

func (Discard) Collect(Event) {}
func (Discard) Close()        {}
