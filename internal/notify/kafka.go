package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Kafka publishes each message as a JSON record keyed by its source.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
}

type kafkaRecord struct {
	Source    string    `json:"source"`
	Group     string    `json:"group"`
	TopicID   int       `json:"topic_id"`
	Title     string    `json:"title"`
	MessageID int       `json:"message_id"`
	Date      time.Time `json:"date"`
	Text      string    `json:"text"`
}

func NewKafka(brokers []string, topic string) (*Kafka, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 0

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newKafkaWithProducer(producer, topic), nil
}

func newKafkaWithProducer(p sarama.SyncProducer, topic string) *Kafka {
	return &Kafka{producer: p, topic: topic}
}

func (k *Kafka) Deliver(ctx context.Context, d Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(kafkaRecord{
		Source:    d.Key.String(),
		Group:     d.Key.Group,
		TopicID:   d.Key.TopicID,
		Title:     d.Title,
		MessageID: d.MessageID,
		Date:      d.Date.UTC(),
		Text:      d.Text,
	})
	if err != nil {
		return fmt.Errorf("marshal kafka record: %w", err)
	}

	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(d.Key.String()),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.producer.Close()
}
