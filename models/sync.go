package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// UnitStatus is the terminal state of one sync unit.
type UnitStatus string

const (
	UnitSuccess UnitStatus = "success"
	UnitPartial UnitStatus = "partial"
	UnitFailed  UnitStatus = "failed"
)

// SyncUnitResult is the immutable outcome of one unit (usually a symbol).
type SyncUnitResult struct {
	Unit                 string        `json:"unit"`
	Status               UnitStatus    `json:"status"`
	Records              int64         `json:"records"`
	SubOpSucceeded       int           `json:"sub_ops_succeeded"`
	SubOpFailed          int           `json:"sub_ops_failed"`
	Provider             string        `json:"provider,omitempty"`
	SagaCommits          int           `json:"saga_commits"`
	SagaRollbacks        int           `json:"saga_rollbacks"`
	SagaAborts           int           `json:"saga_aborts"`
	CompensationFailures int           `json:"compensation_failures"`
	Error                string        `json:"error,omitempty"`
	Duration             time.Duration `json:"duration"`
}

// StatusFor derives a unit status from its sub-operation counts.
func StatusFor(succeeded, failed int) UnitStatus {
	switch {
	case failed == 0 && succeeded > 0:
		return UnitSuccess
	case succeeded > 0:
		return UnitPartial
	default:
		return UnitFailed
	}
}

// SyncJobStats is the aggregate of a finished job. The orchestrator hands
// out copies only.
type SyncJobStats struct {
	JobID                string             `json:"job_id"`
	Classification       DataClassification `json:"classification"`
	Operation            Operation          `json:"operation"`
	MaxConcurrency       int                `json:"max_concurrency"`
	TotalUnits           int                `json:"total_units"`
	SucceededUnits       int                `json:"succeeded_units"`
	PartialUnits         int                `json:"partial_units"`
	FailedUnits          int                `json:"failed_units"`
	TotalRecords         int64              `json:"total_records"`
	SagaCommits          int                `json:"saga_commits"`
	SagaRollbacks        int                `json:"saga_rollbacks"`
	SagaAborts           int                `json:"saga_aborts"`
	CompensationFailures int                `json:"compensation_failures"`
	StartedAt            time.Time          `json:"started_at"`
	FinishedAt           time.Time          `json:"finished_at"`
	Duration             time.Duration      `json:"duration"`
	Units                []SyncUnitResult   `json:"units"`
}

// Merge folds one unit result into the totals. Callers serialize access.
func (s *SyncJobStats) Merge(r SyncUnitResult) {
	switch r.Status {
	case UnitSuccess:
		s.SucceededUnits++
	case UnitPartial:
		s.PartialUnits++
	default:
		s.FailedUnits++
	}
	s.TotalRecords += r.Records
	s.SagaCommits += r.SagaCommits
	s.SagaRollbacks += r.SagaRollbacks
	s.SagaAborts += r.SagaAborts
	s.CompensationFailures += r.CompensationFailures
	s.Units = append(s.Units, r)
}

// Snapshot returns a deep copy with units sorted by key.
func (s *SyncJobStats) Snapshot() *SyncJobStats {
	out := *s
	out.Units = make([]SyncUnitResult, len(s.Units))
	copy(out.Units, s.Units)
	sort.Slice(out.Units, func(i, j int) bool { return out.Units[i].Unit < out.Units[j].Unit })
	return &out
}

// FailedKeys lists units that did not fully succeed.
func (s *SyncJobStats) FailedKeys() []string {
	var keys []string
	for _, u := range s.Units {
		if u.Status != UnitSuccess {
			keys = append(keys, u.Unit)
		}
	}
	sort.Strings(keys)
	return keys
}

// Err returns a *PartialSyncFailure when any unit failed or was partial.
func (s *SyncJobStats) Err() error {
	if s.FailedUnits == 0 && s.PartialUnits == 0 {
		return nil
	}
	return &PartialSyncFailure{
		Total:   s.TotalUnits,
		Failed:  s.FailedUnits,
		Partial: s.PartialUnits,
		Units:   s.FailedKeys(),
	}
}

// PartialSyncFailure describes a job that finished with some failed units.
// It is informational; the job itself completed.
type PartialSyncFailure struct {
	Total   int
	Failed  int
	Partial int
	Units   []string
}

func (e *PartialSyncFailure) Error() string {
	units := e.Units
	more := ""
	if len(units) > 10 {
		more = fmt.Sprintf(" (+%d more)", len(units)-10)
		units = units[:10]
	}
	return fmt.Sprintf("sync finished with %d failed and %d partial of %d units: %s%s",
		e.Failed, e.Partial, e.Total, strings.Join(units, ","), more)
}
