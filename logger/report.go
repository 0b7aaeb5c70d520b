package logger

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

var (
	errorCount     int64
	warnCount      int64
	alertCount     int64
	adapterCalls   int64
	adapterFails   int64
	unitsSucceeded int64
	unitsPartial   int64
	unitsFailed    int64
	recordsWritten int64
	sagaCommits    int64
	sagaRollbacks  int64
	sagaAborts     int64
)

func recordWarn()  { atomic.AddInt64(&warnCount, 1) }
func recordError() { atomic.AddInt64(&errorCount, 1) }
func recordAlert() { atomic.AddInt64(&alertCount, 1) }

// IncrementAdapterCall counts one upstream invocation.
func IncrementAdapterCall(failed bool) {
	atomic.AddInt64(&adapterCalls, 1)
	if failed {
		atomic.AddInt64(&adapterFails, 1)
	}
}

// IncrementUnit counts a finished sync unit by status and its written records.
func IncrementUnit(status string, records int) {
	switch status {
	case "success":
		atomic.AddInt64(&unitsSucceeded, 1)
	case "partial":
		atomic.AddInt64(&unitsPartial, 1)
	default:
		atomic.AddInt64(&unitsFailed, 1)
	}
	atomic.AddInt64(&recordsWritten, int64(records))
}

// IncrementSaga counts a saga outcome.
func IncrementSaga(state string) {
	switch state {
	case "committed":
		atomic.AddInt64(&sagaCommits, 1)
	case "rolled_back":
		atomic.AddInt64(&sagaRollbacks, 1)
	default:
		atomic.AddInt64(&sagaAborts, 1)
	}
}

// StartReport logs host and sync counters every interval until ctx ends.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func reportFields() Fields {
	return Fields{
		"errors":          atomic.LoadInt64(&errorCount),
		"warns":           atomic.LoadInt64(&warnCount),
		"alerts":          atomic.LoadInt64(&alertCount),
		"adapter_calls":   atomic.LoadInt64(&adapterCalls),
		"adapter_fails":   atomic.LoadInt64(&adapterFails),
		"units_succeeded": atomic.LoadInt64(&unitsSucceeded),
		"units_partial":   atomic.LoadInt64(&unitsPartial),
		"units_failed":    atomic.LoadInt64(&unitsFailed),
		"records_written": atomic.LoadInt64(&recordsWritten),
		"saga_commits":    atomic.LoadInt64(&sagaCommits),
		"saga_rollbacks":  atomic.LoadInt64(&sagaRollbacks),
		"saga_aborts":     atomic.LoadInt64(&sagaAborts),
		"goroutines":      runtime.NumGoroutine(),
	}
}

func logReport(ctx context.Context, log *Log) {
	fields := reportFields()

	cpuPct := 0.0
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	memMB := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memMB = float64(vm.Used) / 1024 / 1024
	}
	var sent, recv uint64
	if counters, err := gnet.IOCounters(false); err == nil && len(counters) > 0 {
		sent, recv = counters[0].BytesSent, counters[0].BytesRecv
	}
	fields["cpu_percent"] = cpuPct
	fields["memory_mb"] = int64(memMB)
	fields["net_bytes_sent"] = int64(sent)
	fields["net_bytes_recv"] = int64(recv)

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	datum := func(name string, unit cwtypes.StandardUnit, v float64) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{MetricName: aws.String(name), Unit: unit, Value: aws.Float64(v)}
	}
	count := func(key string) float64 { return float64(fields[key].(int64)) }

	publishMetrics(ctx, []cwtypes.MetricDatum{
		datum("CPUPercent", cwtypes.StandardUnitPercent, cpuPct),
		datum("MemoryMB", cwtypes.StandardUnitMegabytes, memMB),
		datum("NetBytesSent", cwtypes.StandardUnitBytes, float64(sent)),
		datum("NetBytesRecv", cwtypes.StandardUnitBytes, float64(recv)),
		datum("AdapterCalls", cwtypes.StandardUnitCount, count("adapter_calls")),
		datum("AdapterFailures", cwtypes.StandardUnitCount, count("adapter_fails")),
		datum("UnitsSucceeded", cwtypes.StandardUnitCount, count("units_succeeded")),
		datum("UnitsFailed", cwtypes.StandardUnitCount, count("units_failed")),
		datum("RecordsWritten", cwtypes.StandardUnitCount, count("records_written")),
		datum("SagaCommits", cwtypes.StandardUnitCount, count("saga_commits")),
		datum("SagaRollbacks", cwtypes.StandardUnitCount, count("saga_rollbacks")),
	})
}
