package notify

import (
	"context"
	"encoding/json"
	"fmt"

	kafka "github.com/segmentio/kafka-go"

	"quoteflow/config"
	"quoteflow/logger"
	"quoteflow/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher sends job stats to Topic and alerts to AlertTopic, both
// JSON encoded. Alerts fall back to Topic when AlertTopic is empty.
type KafkaPublisher struct {
	jobs   messageWriter
	alerts messageWriter
	log    *logger.Entry
}

func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		}
	}
	p := &KafkaPublisher{
		jobs: newWriter(cfg.Topic),
		log:  logger.GetLogger().WithComponent("notify"),
	}
	p.alerts = p.jobs
	if cfg.AlertTopic != "" && cfg.AlertTopic != cfg.Topic {
		p.alerts = newWriter(cfg.AlertTopic)
	}
	p.log.WithFields(logger.Fields{
		"brokers":     cfg.Brokers,
		"topic":       cfg.Topic,
		"alert_topic": cfg.AlertTopic,
	}).Debug("kafka publisher initialized")
	return p, nil
}

func (p *KafkaPublisher) JobCompleted(ctx context.Context, stats models.SyncJobStats) error {
	msg, err := jobMessage(stats)
	if err != nil {
		return err
	}
	if err := p.jobs.WriteMessages(ctx, msg); err != nil {
		p.log.WithError(err).Warn("failed to write job message")
		return fmt.Errorf("publish job %s: %w", stats.JobID, err)
	}
	p.log.WithFields(logger.Fields{"job_id": stats.JobID}).Debug("job stats written to kafka")
	return nil
}

// Alert is always logged; the Kafka write is best effort on top.
func (p *KafkaPublisher) Alert(ctx context.Context, a Alert) error {
	p.log.WithFields(logger.Fields{
		"symbol":         a.Symbol,
		"classification": a.Classification,
		"batch_id":       a.BatchID,
	}).Alert(a.Kind, a.Message)

	msg, err := alertMessage(a)
	if err != nil {
		return err
	}
	if err := p.alerts.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish alert %s: %w", a.Kind, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	err := p.jobs.Close()
	if p.alerts != p.jobs {
		if aerr := p.alerts.Close(); err == nil {
			err = aerr
		}
	}
	return err
}

func jobMessage(stats models.SyncJobStats) (kafka.Message, error) {
	data, err := json.Marshal(stats)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal job stats: %w", err)
	}
	return kafka.Message{
		Key:   []byte(stats.JobID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte("sync_job_completed")},
			{Key: "classification", Value: []byte(stats.Classification)},
		},
	}, nil
}

func alertMessage(a Alert) (kafka.Message, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal alert: %w", err)
	}
	key := a.Symbol
	if key == "" {
		key = a.Kind
	}
	return kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: []kafka.Header{{Key: "event", Value: []byte("alert")}},
	}, nil
}
