package mykafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Skotchmaster/autho/internal/events"
)

const writeTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer streams auth events to a Kafka topic, keyed by user id so one
// user's events stay ordered.
type Producer struct {
	writer messageWriter
}

func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka: brokers and topic are required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           writeTimeout,
	}
	return &Producer{writer: w}, nil
}

func message(ev events.Event) (kafka.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.UserID),
		Value: data,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}, nil
}

func (p *Producer) Publish(ctx context.Context, ev events.Event) error {
	msg, err := message(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", ev.Type, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
