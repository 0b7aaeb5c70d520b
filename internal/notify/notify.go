// Package notify publishes job completions and operator alerts.
package notify

import (
	"context"
	"time"

	"quoteflow/config"
	"quoteflow/logger"
	"quoteflow/models"
)

// Alert is an event an operator must act on, such as a failed saga
// compensation.
type Alert struct {
	Kind           string    `json:"kind"`
	Symbol         string    `json:"symbol,omitempty"`
	Classification string    `json:"classification,omitempty"`
	BatchID        string    `json:"batch_id,omitempty"`
	Message        string    `json:"message"`
	At             time.Time `json:"at"`
}

type Publisher interface {
	JobCompleted(ctx context.Context, stats models.SyncJobStats) error
	Alert(ctx context.Context, a Alert) error
	Close() error
}

// New returns a Kafka publisher when enabled, otherwise a log-only one.
func New(cfg config.KafkaConfig) (Publisher, error) {
	if !cfg.Enabled {
		return NewLogPublisher(), nil
	}
	return NewKafkaPublisher(cfg)
}

// LogPublisher writes events to the structured log only.
type LogPublisher struct {
	log *logger.Entry
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{log: logger.GetLogger().WithComponent("notify")}
}

func (p *LogPublisher) JobCompleted(_ context.Context, stats models.SyncJobStats) error {
	p.log.WithFields(logger.Fields{
		"job_id":          stats.JobID,
		"classification":  string(stats.Classification),
		"total_units":     stats.TotalUnits,
		"succeeded_units": stats.SucceededUnits,
		"partial_units":   stats.PartialUnits,
		"failed_units":    stats.FailedUnits,
		"records":         stats.TotalRecords,
		"duration":        stats.Duration.String(),
	}).Info("sync job completed")
	return nil
}

func (p *LogPublisher) Alert(_ context.Context, a Alert) error {
	p.log.WithFields(logger.Fields{
		"symbol":         a.Symbol,
		"classification": a.Classification,
		"batch_id":       a.BatchID,
	}).Alert(a.Kind, a.Message)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
