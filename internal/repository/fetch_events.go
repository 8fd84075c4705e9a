package repository

import (
	"context"
	"time"

	"BarBridge/internal/domain/models"
	drepo "BarBridge/internal/domain/repository"
	pkgkafka "BarBridge/pkg/kafka"
)

// KafkaFetchEvents publishes one summary event per completed fetch for
// downstream consumers.
type KafkaFetchEvents struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaFetchEvents creates a kafka-backed fetch event publisher.
func NewKafkaFetchEvents(producer *pkgkafka.Producer, topic string) *KafkaFetchEvents {
	return &KafkaFetchEvents{producer: producer, topic: topic}
}

func (p *KafkaFetchEvents) PublishFetchEvent(ctx context.Context, res *models.FetchResult, req models.HistoricalRequest) error {
	payload := map[string]interface{}{
		"request_id": res.RequestID,
		"symbol":     req.Symbol,
		"timeframe":  req.Timeframe,
		"start":      req.Start.UTC().Format(time.RFC3339),
		"end":        req.End.UTC().Format(time.RFC3339),
		"rows":       len(res.Bars),
		"success":    res.Success,
		"warnings":   res.Warnings,
	}
	if res.Err != nil {
		payload["error"] = res.Err.Error()
	}
	return p.producer.Publish(ctx, p.topic, []byte(req.Symbol), payload)
}

func (p *KafkaFetchEvents) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var _ drepo.EventPublisher = (*KafkaFetchEvents)(nil)
