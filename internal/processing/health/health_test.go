package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/processing/breaker"
	"github.com/vietddude/jobrunner/internal/processing/pool"
	"github.com/vietddude/jobrunner/internal/processing/queue"
)

// =============================================================================
// Stubs
// =============================================================================

type stubSource struct {
	status pool.Status
}

func (s *stubSource) Status() pool.Status { return s.status }

type stubFailed struct {
	count int
	err   error
}

func (s *stubFailed) Count(ctx context.Context) (int, error) { return s.count, s.err }

type stubSubmitter struct {
	jobs []*domain.Job
	err  error
}

func (s *stubSubmitter) Submit(job *domain.Job) error {
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

type stubReleaser struct {
	released map[string]string
	err      error
}

func (s *stubReleaser) ForceRelease(jobID, reason string) error {
	if s.err != nil {
		return s.err
	}
	if s.released == nil {
		s.released = make(map[string]string)
	}
	s.released[jobID] = reason
	return nil
}

func healthyStatus() pool.Status {
	return pool.Status{
		Running:        true,
		RunningWorkers: 4,
		QueueDepthByPriority: map[domain.Priority]int{
			domain.PriorityCritical: 1,
			domain.PriorityHigh:     0,
			domain.PriorityMedium:   2,
			domain.PriorityLow:      0,
		},
		CircuitBreakers: []breaker.Snapshot{
			{Operation: "op1", State: breaker.StateClosed},
		},
		Performance: pool.PerformanceReport{Throughput: 2.5, AvgLatency: 0.4, ErrorRate: 0.05, Samples: 40},
	}
}

// =============================================================================
// Monitor Tests
// =============================================================================

func TestMonitor_Healthy(t *testing.T) {
	monitor := NewMonitor(&stubSource{status: healthyStatus()}, 100, &stubFailed{count: 1}, nil)

	report := monitor.CheckHealth(context.Background())
	if report.SystemStatus != StatusHealthy {
		t.Errorf("expected healthy, got %s (%+v)", report.SystemStatus, report.Components)
	}
	if _, ok := report.Components["failed_jobs"]; !ok {
		t.Error("expected failed_jobs component")
	}
}

func TestMonitor_Degraded(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*pool.Status)
		failed    *stubFailed
		stores    map[string]Pinger
		component string
	}{
		{
			name: "open breaker",
			mutate: func(s *pool.Status) {
				s.CircuitBreakers = append(s.CircuitBreakers, breaker.Snapshot{Operation: "op2", State: breaker.StateOpen})
			},
			component: "circuit_breakers",
		},
		{
			name:      "error rate",
			mutate:    func(s *pool.Status) { s.Performance.ErrorRate = 0.3 },
			component: "performance",
		},
		{
			name:      "queue nearly full",
			mutate:    func(s *pool.Status) { s.QueueDepthByPriority[domain.PriorityLow] = 95 },
			component: "queue",
		},
		{
			name:      "dead letter backlog",
			failed:    &stubFailed{count: 500},
			component: "failed_jobs",
		},
		{
			name:      "dead letter store error",
			failed:    &stubFailed{err: errors.New("redis down")},
			component: "failed_jobs",
		},
		{
			name: "store unreachable",
			stores: map[string]Pinger{
				"postgres": PingFunc(func(context.Context) error { return errors.New("refused") }),
			},
			component: "postgres",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := healthyStatus()
			if tt.mutate != nil {
				tt.mutate(&st)
			}
			var failed FailedJobCounter
			if tt.failed != nil {
				failed = tt.failed
			}
			monitor := NewMonitor(&stubSource{status: st}, 100, failed, tt.stores)

			report := monitor.CheckHealth(context.Background())
			if report.SystemStatus != StatusDegraded {
				t.Errorf("expected degraded, got %s", report.SystemStatus)
			}
			if report.Components[tt.component].Status != StatusDegraded {
				t.Errorf("expected %s degraded, got %+v", tt.component, report.Components[tt.component])
			}
		})
	}
}

func TestMonitor_Critical(t *testing.T) {
	st := healthyStatus()
	st.Running = false
	st.RunningWorkers = 0
	monitor := NewMonitor(&stubSource{status: st}, 100, nil, nil)

	if got := monitor.CheckHealth(context.Background()).SystemStatus; got != StatusCritical {
		t.Errorf("expected critical, got %s", got)
	}

	st = healthyStatus()
	st.Performance.ErrorRate = 0.9
	monitor = NewMonitor(&stubSource{status: st}, 100, nil, nil)
	if got := monitor.CheckHealth(context.Background()).SystemStatus; got != StatusCritical {
		t.Errorf("expected critical on error rate, got %s", got)
	}
}

func TestMonitor_ErrorRateNeedsSamples(t *testing.T) {
	st := healthyStatus()
	st.Performance.ErrorRate = 1
	st.Performance.Samples = 3
	monitor := NewMonitor(&stubSource{status: st}, 100, nil, nil)

	if got := monitor.CheckHealth(context.Background()).SystemStatus; got != StatusHealthy {
		t.Errorf("expected healthy with few samples, got %s", got)
	}
}

// =============================================================================
// HTTP Tests
// =============================================================================

func newTestServer(st pool.Status, sub Submitter) *httptest.Server {
	source := &stubSource{status: st}
	s := NewServer(NewMonitor(source, 100, nil, nil), source, sub, ":0", nil)
	return httptest.NewServer(s.Handler())
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(healthyStatus(), nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	down := healthyStatus()
	down.Running = false
	srv2 := newTestServer(down, nil)
	defer srv2.Close()
	resp2, err := http.Get(srv2.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp2.StatusCode)
	}
}

func TestServer_Status(t *testing.T) {
	srv := newTestServer(healthyStatus(), nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"runningWorkers", "queueDepthByPriority", "circuitBreakers", "performance"} {
		if _, ok := body[key]; !ok {
			t.Errorf("status report missing %q", key)
		}
	}
	perf := body["performance"].(map[string]any)
	for _, key := range []string{"throughput", "avgLatency", "errorRate"} {
		if _, ok := perf[key]; !ok {
			t.Errorf("performance missing %q", key)
		}
	}
	cb := body["circuitBreakers"].([]any)[0].(map[string]any)
	if cb["operation"] != "op1" || cb["state"] != "CLOSED" {
		t.Errorf("unexpected breaker entry %v", cb)
	}
	if _, ok := cb["failureCount"]; !ok {
		t.Error("breaker entry missing failureCount")
	}
}

func TestServer_SubmitJob(t *testing.T) {
	sub := &stubSubmitter{}
	srv := newTestServer(healthyStatus(), sub)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/jobs", "application/json",
		strings.NewReader(`{"id":"J1","priority":"HIGH","operation":"publish","payload":{"repo":"x"}}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if len(sub.jobs) != 1 {
		t.Fatalf("expected 1 submitted job, got %d", len(sub.jobs))
	}
	job := sub.jobs[0]
	if job.Priority != domain.PriorityHigh || job.Operation != "publish" || string(job.Payload) != `{"repo":"x"}` {
		t.Errorf("unexpected job %+v", job)
	}

	cases := []struct {
		body string
		err  error
		code int
	}{
		{body: `{"id":"J2","priority":"urgent"}`, code: http.StatusBadRequest},
		{body: `not json`, code: http.StatusBadRequest},
		{body: `{"id":"J3"}`, err: fmt.Errorf("wrapped: %w", queue.ErrQueueFull), code: http.StatusServiceUnavailable},
	}
	for _, c := range cases {
		sub.err = c.err
		resp, err := http.Post(srv.URL+"/jobs", "application/json", strings.NewReader(c.body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != c.code {
			t.Errorf("body %s: expected %d, got %d", c.body, c.code, resp.StatusCode)
		}
	}
}

func TestServer_SubmitDisabled(t *testing.T) {
	srv := newTestServer(healthyStatus(), nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/jobs", "application/json", strings.NewReader(`{"id":"J1"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestServer_LockRelease(t *testing.T) {
	source := &stubSource{status: healthyStatus()}
	s := NewServer(NewMonitor(source, 100, nil, nil), source, nil, ":0", nil)
	releaser := &stubReleaser{}
	s.SetLockReleaser(releaser)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/locks/jobs%2Fwith%20spaces/release?reason=stuck", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := releaser.released["jobs/with spaces"]; got != "stuck" {
		t.Errorf("expected release with reason stuck, got %v", releaser.released)
	}

	releaser.err = errors.New("disk full")
	resp, err = http.Post(srv.URL+"/locks/J2/release", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", resp.StatusCode)
	}
}

func TestServer_LockReleaseDisabled(t *testing.T) {
	srv := newTestServer(healthyStatus(), nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/locks/J1/release", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

// =============================================================================
// gRPC Tests
// =============================================================================

func TestGRPCServer_Sync(t *testing.T) {
	source := &stubSource{status: healthyStatus()}
	monitor := NewMonitor(source, 100, nil, nil)
	g := NewGRPCServer(monitor, ":0", 0, nil)

	if got := g.Sync(context.Background()); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("expected SERVING, got %s", got)
	}
	resp, err := g.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("expected SERVING, got %s", resp.Status)
	}

	source.status.Running = false
	monitor.cacheTTL = 0
	if got := g.Sync(context.Background()); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("expected NOT_SERVING, got %s", got)
	}
}
