package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"quoteflow/config"
	"quoteflow/models"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed int
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed++
	return nil
}

func TestKafkaPublisherRoutesTopics(t *testing.T) {
	jobs, alerts := &captureWriter{}, &captureWriter{}
	p := &KafkaPublisher{jobs: jobs, alerts: alerts, log: NewLogPublisher().log}

	stats := models.SyncJobStats{JobID: "job-1", Classification: models.DailyKline, TotalUnits: 2, SucceededUnits: 2}
	if err := p.JobCompleted(context.Background(), stats); err != nil {
		t.Fatalf("JobCompleted: %v", err)
	}
	if err := p.Alert(context.Background(), Alert{Kind: "saga_compensation", Symbol: "BTCUSDT", At: time.Now()}); err != nil {
		t.Fatalf("Alert: %v", err)
	}

	if len(jobs.msgs) != 1 || string(jobs.msgs[0].Key) != "job-1" {
		t.Fatalf("unexpected job messages %+v", jobs.msgs)
	}
	var decoded models.SyncJobStats
	if err := json.Unmarshal(jobs.msgs[0].Value, &decoded); err != nil || decoded.TotalUnits != 2 {
		t.Fatalf("job payload not decodable: %v %+v", err, decoded)
	}
	if len(alerts.msgs) != 1 || string(alerts.msgs[0].Key) != "BTCUSDT" {
		t.Fatalf("unexpected alert messages %+v", alerts.msgs)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if jobs.closed != 1 || alerts.closed != 1 {
		t.Fatalf("writers not closed")
	}
}

func TestKafkaPublisherWriteError(t *testing.T) {
	w := &captureWriter{err: errors.New("leader not available")}
	p := &KafkaPublisher{jobs: w, alerts: w, log: NewLogPublisher().log}
	if err := p.JobCompleted(context.Background(), models.SyncJobStats{JobID: "x"}); err == nil {
		t.Fatalf("expected error")
	}
	if err := p.Close(); err != nil || w.closed != 1 {
		t.Fatalf("shared writer should close once")
	}
}

func TestNewSelectsPublisher(t *testing.T) {
	p, err := New(config.KafkaConfig{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := p.(*LogPublisher); !ok {
		t.Fatalf("expected log publisher, got %T", p)
	}
	if _, err := New(config.KafkaConfig{Enabled: true}); err == nil {
		t.Fatalf("expected error without brokers")
	}
	kp, err := New(config.KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "jobs"})
	if err != nil {
		t.Fatalf("New kafka: %v", err)
	}
	kp.Close()
}
