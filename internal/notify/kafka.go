// Package notify publishes transfer events to Kafka for downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// TransferRecorded is the event emitted after a transfer is committed to the ledger.
type TransferRecorded struct {
	ActivityID string    `json:"activity_id"`
	Title      string    `json:"title"`
	Filename   string    `json:"filename"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Publisher writes transfer events to a single topic.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a Publisher for the given brokers and topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Snappy,
			Async:        false,
		},
	}
}

// TransferRecorded publishes the event, keyed by activity ID so replays for
// one activity land on one partition.
func (p *Publisher) TransferRecorded(ctx context.Context, activityID, title, filename string) error {
	payload, err := json.Marshal(TransferRecorded{
		ActivityID: activityID,
		Title:      title,
		Filename:   filename,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(activityID),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

// Close releases the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
