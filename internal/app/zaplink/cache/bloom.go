package cache

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
)

type BloomFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewBloomFilter 创建布隆过滤器
// expectedItems: 预期存储的元素数量
// falsePositiveRate: 误判率（建议 0.01 即 1%）
func NewBloomFilter(expectedItems uint, falsePositiveRate float64) *BloomFilter {
	return &BloomFilter{
		filter: bloom.NewWithEstimates(expectedItems, falsePositiveRate),
	}
}

func (b *BloomFilter) Add(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter.AddString(code)
}

// MightExist 返回 false 表示一定不存在，true 表示可能存在（有误判率）
func (b *BloomFilter) MightExist(code string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter.TestString(code)
}

// Count 返回已添加的元素数量（估算）
func (b *BloomFilter) Count() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter.ApproximatedSize()
}

// Warm 把 lister 里的所有 code 加进过滤器。
// code 只增不删（耗尽的链接只打墓碑），过滤器不需要重建；
// 周期性调用是为了吸收其它实例创建的 code。
func (b *BloomFilter) Warm(ctx context.Context, lister zaplink.CodeLister) (int, error) {
	n := 0
	err := lister.EachCode(ctx, func(code string) {
		b.Add(code)
		n++
	})
	return n, err
}
