package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"quoteflow/logger"
	"quoteflow/models"
)

func TestCountersRecord(t *testing.T) {
	Init()

	before := testutil.ToFloat64(sagas.WithLabelValues("daily_kline", "rolled_back"))
	IncSaga("daily_kline", "rolled_back")
	if got := testutil.ToFloat64(sagas.WithLabelValues("daily_kline", "rolled_back")); got != before+1 {
		t.Fatalf("saga counter = %v, want %v", got, before+1)
	}

	AddRecords("daily_kline", "timeseries", 0)
	AddRecords("daily_kline", "timeseries", 5)
	if got := testutil.ToFloat64(records.WithLabelValues("daily_kline", "timeseries")); got < 5 {
		t.Fatalf("records counter = %v", got)
	}

	ObserveAdapterCall("binance", "price_history", "success", 30*time.Millisecond)
	if got := testutil.ToFloat64(adapterCalls.WithLabelValues("binance", "price_history", "success")); got < 1 {
		t.Fatalf("adapter counter = %v", got)
	}
}

func TestDetectLimit(t *testing.T) {
	cases := []struct {
		provider, msg string
		rate, ban     bool
	}{
		{"binance", "<APIError> code=-1003, msg=Too many requests", true, false},
		{"binance", "IP banned until 1700000000", false, true},
		{"bybit", "retCode=10006 too many visits", true, false},
		{"bybit", "ip rate limit triggered", false, true},
		{"restapi", "unexpected status 429", true, false},
		{"restapi", "connection reset by peer", false, false},
	}
	for _, c := range cases {
		rate, ban := DetectLimit(c.provider, c.msg)
		if rate != c.rate || ban != c.ban {
			t.Errorf("DetectLimit(%s, %q) = %v,%v want %v,%v", c.provider, c.msg, rate, ban, c.rate, c.ban)
		}
	}
}

func TestReportLimitFromMessage(t *testing.T) {
	Init()
	log := logger.Logger()
	if ReportLimitFromMessage(log, "binance", "price_history", "read: connection refused") {
		t.Fatalf("plain network error must not count as a limit event")
	}
	if !ReportLimitFromMessage(log, "binance", "price_history", "too many requests") {
		t.Fatalf("expected limit event")
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                  "0.0.0.0:9102",
		" :9000 ":           "0.0.0.0:9000",
		"localhost":         "localhost:9102",
		"*:8080":            "0.0.0.0:8080",
		"http://host:7070/": "host:7070",
		"[::1]:443":         "[::1]:443",
	}
	for in, want := range cases {
		if got := normalizeAddress(in); got != want {
			t.Errorf("normalizeAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestServerRoutes(t *testing.T) {
	srv := NewServer(":0", logger.Logger())
	router := srv.router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/last", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any job, got %d", rec.Code)
	}

	srv.RecordJob(&models.SyncJobStats{JobID: "job-1", TotalUnits: 2, SucceededUnits: 2})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/last", nil))
	var got models.SyncJobStats
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if got.JobID != "job-1" || got.SucceededUnits != 2 {
		t.Fatalf("unexpected job payload: %+v", got)
	}

	IncFailover("price_history", "served")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "quoteflow_failover_total") {
		t.Fatalf("metrics output missing failover counter")
	}
}
