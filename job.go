package main

import (
	"fmt"
	"strings"
	"time"

	"quoteflow/config"
	"quoteflow/internal/orchestrator"
	"quoteflow/models"
)

type jobFlags struct {
	classification string
	operation      string
	units          string
	groups         string
	start          string
	end            string
	concurrency    int
	jobID          string
}

// buildJob turns command line flags into an orchestrator job. Units come
// from -units, else from the universe file.
func buildJob(cfg *config.Config, f jobFlags, now time.Time) (orchestrator.Job, error) {
	class, err := models.ParseClassification(f.classification)
	if err != nil {
		return orchestrator.Job{}, &config.ConfigurationError{Key: "classification", Err: err}
	}
	op, err := models.ParseOperation(f.operation)
	if err != nil {
		return orchestrator.Job{}, &config.ConfigurationError{Key: "operation", Err: err}
	}

	job := orchestrator.Job{
		ID:             f.jobID,
		Classification: class,
		Operation:      op,
		MaxConcurrency: cfg.Sync.MaxConcurrency,
		ChunkSize:      cfg.Sync.Chunk,
	}
	if f.concurrency > 0 {
		job.MaxConcurrency = f.concurrency
	}
	if op == models.OpIntradayBars {
		job.Period = cfg.Sync.IntradayPeriod
	}

	if op.PerSymbol() {
		if job.Units, err = resolveUnits(cfg, f.units, f.groups); err != nil {
			return orchestrator.Job{}, err
		}
	}

	if op.Windowed() {
		job.End = now
		if f.end != "" {
			if job.End, err = parseTime(f.end); err != nil {
				return orchestrator.Job{}, &config.ConfigurationError{Key: "end", Err: err}
			}
		}
		lookback := cfg.Sync.Lookback
		if lookback <= 0 {
			lookback = 24 * time.Hour
		}
		job.Start = job.End.Add(-lookback)
		if f.start != "" {
			if job.Start, err = parseTime(f.start); err != nil {
				return orchestrator.Job{}, &config.ConfigurationError{Key: "start", Err: err}
			}
		}
	}
	return job, nil
}

func resolveUnits(cfg *config.Config, units, groups string) ([]string, error) {
	if list := splitList(units); len(list) > 0 {
		for i := range list {
			list[i] = strings.ToUpper(list[i])
		}
		return list, nil
	}
	if cfg.UniverseFile == "" {
		return nil, &config.ConfigurationError{Key: "universe_file", Err: fmt.Errorf("no units given and no universe file configured")}
	}
	u, err := config.LoadUniverse(config.ResolveEnvPath(cfg.UniverseFile))
	if err != nil {
		return nil, err
	}
	out, err := u.Units(splitList(groups)...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &config.ConfigurationError{Source: cfg.UniverseFile, Err: fmt.Errorf("universe resolves to no units")}
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("want YYYY-MM-DD or RFC3339, got %q", s)
	}
	return t, nil
}
