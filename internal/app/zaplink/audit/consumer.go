package audit

import (
	"context"
	"log/slog"
	"time"
)

// Sink 审计事件的落地方（Postgres 的 link_access_log 或内存）。
type Sink interface {
	WriteBatch(ctx context.Context, batch []Event) error
}

// Consumer 消费 ChannelCollector 中的事件，攒批后写入 Sink。
type Consumer struct {
	sink      Sink
	collector *ChannelCollector
	batchSize int
	interval  time.Duration
}

func NewConsumer(sink Sink, collector *ChannelCollector) *Consumer {
	return &Consumer{
		sink:      sink,
		collector: collector,
		batchSize: 100,         //批量写入大小
		interval:  time.Second, //最大等待时间
	}
}

// 阻塞 消费循环
func (c *Consumer) Run(ctx context.Context) {
	batch := make([]Event, 0, c.batchSize)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.drain(batch)
			return
		case event, ok := <-c.collector.Events():
			if !ok {
				flush(c.sink, batch)
				return
			}
			batch = append(batch, event)
			if len(batch) >= c.batchSize {
				flush(c.sink, batch)
				batch = batch[:0] //清空切片，但保留容量不变，避免反复分配内存
			}
		case <-ticker.C:
			if len(batch) > 0 {
				flush(c.sink, batch)
				batch = batch[:0]
			}
		}
	}
}

// drain 退出前把 channel 里已经排队的事件也写掉，不再等待新事件。
func (c *Consumer) drain(batch []Event) {
	for {
		select {
		case event, ok := <-c.collector.Events():
			if !ok {
				flush(c.sink, batch)
				return
			}
			batch = append(batch, event)
			if len(batch) >= c.batchSize {
				flush(c.sink, batch)
				batch = batch[:0]
			}
		default:
			flush(c.sink, batch)
			return
		}
	}
}

func flush(sink Sink, batch []Event) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sink.WriteBatch(ctx, batch); err != nil {
		slog.Error("audit: write batch failed", "err", err, "count", len(batch))
		return
	}
	slog.Debug("audit: flushed", "count", len(batch))
}
