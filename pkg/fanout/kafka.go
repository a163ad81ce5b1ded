package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mahaj/chatwithme/pkg/model"
	"github.com/segmentio/kafka-go"
)

// KafkaBus publishes message events keyed by chat id, so every event of one
// conversation lands in the same partition in send order.
type KafkaBus struct {
	writer *kafka.Writer
	log    *slog.Logger
}

func NewKafkaBus(brokers []string, topic string, log *slog.Logger) *KafkaBus {
	return &KafkaBus{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		log: log,
	}
}

func (b *KafkaBus) Publish(ctx context.Context, evt model.MessageEvent) error {
	msg, err := encodeEvent(evt)
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish message %d: %w", evt.Message.ID, err)
	}
	b.log.Debug("Message event published", "message_id", evt.Message.ID, "chat_id", evt.ChatID())
	return nil
}

func (b *KafkaBus) Close() error {
	return b.writer.Close()
}

func encodeEvent(evt model.MessageEvent) (kafka.Message, error) {
	value, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode message event: %w", err)
	}
	return kafka.Message{Key: []byte(evt.ChatID()), Value: value, Time: time.Now()}, nil
}

// ReplicaGroupID returns a consumer group unique to this process, so every
// replica reads every event and pushes to its own connections.
func ReplicaGroupID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Consumer feeds events from the bus into a local dispatcher.
type Consumer struct {
	reader     *kafka.Reader
	dispatcher *Dispatcher
	log        *slog.Logger
}

func NewConsumer(brokers []string, topic, groupID string, d *Dispatcher, log *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     250 * time.Millisecond,
	})
	return &Consumer{reader: r, dispatcher: d, log: log}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.log.Warn("Error reading message event, retrying", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		c.handle(ctx, m.Value)
	}
}

func (c *Consumer) handle(ctx context.Context, value []byte) {
	var evt model.MessageEvent
	if err := json.Unmarshal(value, &evt); err != nil {
		c.log.Warn("Failed to decode message event", "error", err)
		return
	}
	c.dispatcher.Dispatch(ctx, evt)
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
