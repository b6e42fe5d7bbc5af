// Package notify publishes one Kafka event per matched dossier.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/model"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/observability"
)

type Event struct {
	RunID      string    `json:"run_id"`
	DossierID  string    `json:"dossier_id"`
	Link       string    `json:"link"`
	Cell       string    `json:"h3_cell,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

type Publisher struct {
	topic  string
	prod   sarama.SyncProducer
	logger *slog.Logger
}

func New(brokers []string, topic string, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "buurtweg-monitor"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Retry.Max = 3

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("notify: create sync producer: %w", err)
	}
	return NewWithProducer(prod, topic, logger), nil
}

func NewWithProducer(prod sarama.SyncProducer, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{topic: topic, prod: prod, logger: logger}
}

// Publish sends the batch keyed by dossier id. Failed messages are counted and returned as one
// error; they do not affect the others.
func (p *Publisher) Publish(ctx context.Context, runID string, matches []model.Match, at time.Time) error {
	if len(matches) == 0 {
		return nil
	}
	msgs := make([]*sarama.ProducerMessage, 0, len(matches))
	for _, m := range matches {
		b, err := json.Marshal(Event{RunID: runID, DossierID: m.DossierID, Link: m.Link, Cell: m.Cell, DetectedAt: at.UTC()})
		if err != nil {
			return fmt.Errorf("notify: marshal %s: %w", m.DossierID, err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(m.DossierID),
			Value: sarama.ByteEncoder(b),
		})
	}

	err := p.prod.SendMessages(msgs)
	if err == nil {
		p.logger.InfoContext(ctx, "match events published", "count", len(msgs), "topic", p.topic)
		return nil
	}

	var perrs sarama.ProducerErrors
	if errors.As(err, &perrs) {
		for range perrs {
			observability.IncNotifyFailure()
		}
	} else {
		for range msgs {
			observability.IncNotifyFailure()
		}
	}
	return fmt.Errorf("notify: send %d events: %w", len(msgs), err)
}

func (p *Publisher) Close() error {
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("notify: close producer: %w", err)
	}
	return nil
}
