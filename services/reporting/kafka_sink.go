package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"trading_scheduler/services/trading"
)

// KafkaSink produces one message per batch, keyed by job id so the results
// of a job stay ordered within a partition
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
	}}
}

func (s *KafkaSink) Publish(ctx context.Context, r trading.Result) error {
	msg, err := resultMessage(r)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to produce batch %s: %w", r.RunID, err)
	}
	return nil
}

func resultMessage(r trading.Result) (kafka.Message, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode batch %s: %w", r.RunID, err)
	}
	return kafka.Message{
		Key:   []byte(r.JobID),
		Value: data,
		Time:  r.FinishedAt,
		Headers: []kafka.Header{
			{Key: "run_id", Value: []byte(r.RunID)},
		},
	}, nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
