package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncStart(ResultOK)
	IncStop(ResultNoop)
	ObserveStartDuration(0.3)
	IncStale()
	SetKnownServers(2)
	RecordProbeTransition("starting", "waiting-for-pid")
	IncRecorderRequest("aa", "POST")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"hexanator_supervisor_starts_total":           false,
		"hexanator_supervisor_stops_total":            false,
		"hexanator_supervisor_start_duration_seconds": false,
		"hexanator_supervisor_stale_records_total":    false,
		"hexanator_supervisor_known_servers":          false,
		"hexanator_probe_state_transitions_total":     false,
		"hexanator_recorder_requests_total":           false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
	if got := testutil.ToFloat64(knownServers); got != 2 {
		t.Fatalf("known servers = %v", got)
	}
}

func TestHandlerForServesMetrics(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()

	IncStart(ResultTimeout)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), `hexanator_supervisor_starts_total{result="timeout"}`) {
		t.Fatalf("metrics output missing starts_total: %s", b)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	before := testutil.ToFloat64(starts.WithLabelValues(ResultFailed))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncStart(ResultFailed)
			IncRecorderRequest("c", "GET")
		}()
	}
	wg.Wait()
	if got := testutil.ToFloat64(starts.WithLabelValues(ResultFailed)) - before; got != 50 {
		t.Fatalf("expected 50 increments, got %v", got)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	before := testutil.ToFloat64(staleRecords)
	IncStale()
	IncStart(ResultOK)
	IncStop(ResultOK)
	ObserveStartDuration(1.0)
	SetKnownServers(5)
	RecordProbeTransition("a", "b")
	IncRecorderRequest("n", "GET")
	if testutil.ToFloat64(staleRecords) != before {
		t.Fatalf("helpers must no-op before Register")
	}
}

type errorRegisterer struct{}

func (errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}
func (errorRegisterer) MustRegister(...prometheus.Collector) {}
func (errorRegisterer) Unregister(prometheus.Collector) bool { return false }

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(errorRegisterer{})
	if err == nil || err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
}
