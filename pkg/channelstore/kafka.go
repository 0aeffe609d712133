package channelstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mahaj/dupahar-composer/pkg/model"
	"github.com/mahaj/dupahar-composer/pkg/snowflake"
	"github.com/segmentio/kafka-go"
)

// KafkaLog appends records to a Kafka topic. Messages are keyed by channel
// id, so a channel maps to one partition and keeps its order there. Writes
// wait for all in-sync replicas before acknowledging.
type KafkaLog struct {
	mu     sync.Mutex
	writer *kafka.Writer
	node   *snowflake.Node
}

func NewKafkaLog(brokers []string, topic string, node *snowflake.Node) *KafkaLog {
	return &KafkaLog{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		node: node,
	}
}

func (k *KafkaLog) Append(ctx context.Context, channelID string, rec model.MessageRecord) (model.Ack, error) {
	if err := CheckAppend(channelID, rec); err != nil {
		return model.Ack{}, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	id, ts := k.node.Next()
	ack := model.Ack{ID: id, Timestamp: ts}
	value, err := json.Marshal(model.Event{ChannelID: channelID, Record: rec.Stamp(ack)})
	if err != nil {
		return model.Ack{}, fmt.Errorf("encode event: %w", err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(channelID),
		Value: value,
		Time:  ts,
	})
	if err != nil {
		return model.Ack{}, fmt.Errorf("write to kafka: %w", err)
	}
	return ack, nil
}

func (k *KafkaLog) Close() error {
	return k.writer.Close()
}

// DecodeEvent parses a message produced by KafkaLog.
func DecodeEvent(m kafka.Message) (model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return model.Event{}, fmt.Errorf("decode event at offset %d: %w", m.Offset, err)
	}
	return ev, nil
}
