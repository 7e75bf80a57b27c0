package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

type KafkaSink struct {
	topic string
	p     sarama.SyncProducer
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if topic == "" {
		return nil, errors.New("topic empty")
	}
	if len(brokers) == 0 {
		return nil, errors.New("no brokers")
	}

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond

	// SyncProducer must have Return.Successes=true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaSinkWithProducer(p, topic), nil
}

func NewKafkaSinkWithProducer(p sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{topic: topic, p: p}
}

func (s *KafkaSink) Close() error {
	if s.p != nil {
		return s.p.Close()
	}
	return nil
}

// Emit wraps v into an Envelope and sends it synchronously. key selects the
// partition, so all messages of one tx stay ordered.
func (s *KafkaSink) Emit(ctx context.Context, typ string, key string, v any) error {
	// SyncProducer не принимает ctx, проверяем только до отправки
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	env := Envelope{
		Type: typ,
		TS:   time.Now().UnixMilli(),
		Data: data,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.ByteEncoder(b),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	if _, _, err := s.p.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka emit failed: %w", err)
	}
	return nil
}
