package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/forecast-collector/internal/config"
	"github.com/couchcryptid/forecast-collector/internal/domain"
	"github.com/couchcryptid/forecast-collector/internal/observability"
)

// Message header keys.
const (
	HeaderRunID       = "run_id"
	HeaderRetrievedAt = "retrieved_at"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes committed forecast rows to a Kafka topic, one message per
// row keyed by city.
// It implements pipeline.BatchPublisher.
type Writer struct {
	writer  messageWriter
	topic   string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewWriter creates a Kafka producer for the configured forecast topic.
func NewWriter(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, topic: cfg.KafkaTopic, logger: logger, metrics: metrics}
}

// PublishBatch serializes every row of batch and writes them in a single
// WriteMessages call.
func (w *Writer) PublishBatch(ctx context.Context, runID string, batch domain.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, batch.Len())
	for i := range batch.Records {
		msg, err := serializeToMessage(runID, batch, i)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d messages to %s: %w", len(msgs), w.topic, err)
	}

	w.metrics.RowsPublished.Add(float64(len(msgs)))
	w.logger.Info("batch published", "topic", w.topic, "messages", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals record i of batch into a Kafka message. The
// value holds every store column; null values stay null.
func serializeToMessage(runID string, batch domain.Batch, i int) (kafkago.Message, error) {
	rec := batch.Records[i]
	retrievedAt := domain.FormatTimestamp(batch.RetrievedAt)

	row := make(map[string]any, len(batch.Variables)+3)
	row[domain.ColumnTime] = rec.Time.Format(domain.TimeLayout)
	row[domain.ColumnCity] = rec.City
	row[domain.ColumnRetrievedAt] = retrievedAt
	for j, name := range batch.Variables {
		if v := rec.Values[j]; !math.IsNaN(v) {
			row[name] = v
		} else {
			row[name] = nil
		}
	}

	data, err := json.Marshal(row)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize forecast row: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(rec.City),
		Value: data,
		Time:  batch.RetrievedAt,
		Headers: []kafkago.Header{
			{Key: HeaderRunID, Value: []byte(runID)},
			{Key: HeaderRetrievedAt, Value: []byte(retrievedAt)},
		},
	}, nil
}

