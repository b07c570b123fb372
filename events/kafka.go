package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/IBM/sarama"
)

// KafkaSink forwards events to a topic, keyed by payment id so one payment's
// events stay ordered on a partition.
type KafkaSink struct {
	Producer sarama.SyncProducer
	Topic    string
	Logger   *slog.Logger
}

func NewKafkaSink(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{Producer: producer, Topic: topic, Logger: logger}
}

func (k *KafkaSink) Publish(ctx context.Context, ev Event) {
	if k.Producer == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		k.Logger.ErrorContext(ctx, "encode event", "type", ev.Type, "error", err)
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: k.Topic,
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(ev.Type)},
		},
	}
	if ev.PaymentID != "" {
		msg.Key = sarama.StringEncoder(ev.PaymentID)
	}
	if _, _, err := k.Producer.SendMessage(msg); err != nil {
		k.Logger.WarnContext(ctx, "publish event", "type", ev.Type, "payment_id", ev.PaymentID, "error", err)
	}
}

// NewProducer builds a synchronous producer with the delivery guarantees the
// console relies on.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	return sarama.NewSyncProducer(brokers, config)
}
