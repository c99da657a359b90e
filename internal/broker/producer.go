package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/accounts"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/obs"
)

// Producer publishes account lifecycle transitions for downstream consumers
// (notification fan-out, client-side cache invalidation). Writes are async
// and best effort: the admin panel never waits on the broker.
type Producer struct {
	w     *kafka.Writer
	topic string
}

// NewProducer connects a writer to the brokers.
func NewProducer(brokers []string, topic string) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		Async:                  true,
		AllowAutoTopicCreation: true,
	}
	return &Producer{w: w, topic: topic}
}

// PublishLifecycle emits one transition event keyed by account id, so a
// partition sees each account's transitions in order.
func (p *Producer) PublishLifecycle(ctx context.Context, ev accounts.LifecycleEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		obs.LogEvent(map[string]any{"type": "broker", "event": "broker.marshal_failed", "error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.AccountID),
		Value: b,
		Topic: p.topic,
	})
	if err != nil {
		obs.LogEvent(map[string]any{
			"type":    "broker",
			"event":   "broker.publish_failed",
			"topic":   p.topic,
			"account": ev.AccountID,
			"error":   err.Error(),
		})
	}
}

// Close flushes and closes the writer.
func (p *Producer) Close() {
	if err := p.w.Close(); err != nil {
		obs.LogEvent(map[string]any{"type": "broker", "event": "broker.close_failed", "error": err.Error()})
	}
}
