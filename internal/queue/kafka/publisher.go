// Package kafka implements the delivery queue on a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/springfiles/edgecache/internal/model"
	"github.com/springfiles/edgecache/internal/observability"
	"github.com/springfiles/edgecache/internal/queue"
)

var errQueueFull = errors.New("publish queue full")

// Publisher sends SyncRequests without ever blocking the request path: the
// producer is async and a full local buffer drops the message. Losing a
// trigger only delays caching; the next miss enqueues again.
type Publisher struct {
	topic   string
	logger  *slog.Logger
	input   chan model.SyncRequest
	prod    sarama.AsyncProducer
	stopped chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create async producer: %w", err)
	}
	return newPublisher(prod, topic, queueSize, logger), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	p := &Publisher{
		topic:   topic,
		logger:  logger,
		input:   make(chan model.SyncRequest, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for req := range p.input {
			b, err := json.Marshal(req)
			if err != nil {
				p.logger.Error("sync request marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				// Same springname lands on the same partition so duplicate
				// triggers arrive back to back at one consumer.
				Key:   sarama.StringEncoder(model.CacheKey(req.Category, req.Springname)),
				Value: sarama.ByteEncoder(b),
				Headers: []sarama.RecordHeader{{
					Key:   []byte(queue.RequestTypeAttr),
					Value: []byte(queue.RequestTypeValue),
				}},
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncQueuePublish(err)
				p.logger.Error("sync request publish", "err", err)
			}
		}
	}()

	return p
}

var _ queue.Publisher = (*Publisher)(nil)

func (p *Publisher) Publish(_ context.Context, req model.SyncRequest) error {
	select {
	case p.input <- req:
		observability.IncQueuePublish(nil)
		return nil
	default:
		// full buffer: drop rather than block the caller
		observability.IncQueuePublish(errQueueFull)
		return errQueueFull
	}
}

func (p *Publisher) Close() error {
	close(p.input)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("close producer: %w", err)
	}
	return nil
}
