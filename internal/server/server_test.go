package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"video-extender/internal/domain"
	"video-extender/internal/jobs"
	"video-extender/internal/jobstore"
)

// fakeService records started params and serves a real event bus.
type fakeService struct {
	mu      sync.Mutex
	started []domain.JobParams
	running bool
	bus     *jobs.EventBus
	records []jobstore.Record
}

func newFakeService() *fakeService {
	return &fakeService{bus: jobs.NewEventBus(100)}
}

func (f *fakeService) StartGeneration(params domain.JobParams) (domain.Job, error) {
	if err := params.Validate(); err != nil {
		return domain.Job{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return domain.Job{}, jobs.ErrJobAlreadyRunning
	}
	f.running = true
	f.started = append(f.started, params)
	return domain.Job{ID: "job-1", Status: domain.JobStatusStarting}, nil
}

func (f *fakeService) CancelGeneration() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return jobs.ErrNoRunningJob
	}
	f.running = false
	return nil
}

func (f *fakeService) CurrentJob() domain.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return domain.Job{ID: "job-1", Status: domain.JobStatusSampling}
	}
	return domain.Job{Status: domain.JobStatusIdle}
}

func (f *fakeService) JobEvents(since int64) []jobs.Event      { return f.bus.Since(since) }
func (f *fakeService) EventsChanged() <-chan struct{}          { return f.bus.Changed() }
func (f *fakeService) GetDiagnostics() domain.DiagnosticReport { return domain.DiagnosticReport{} }

func (f *fakeService) History(_ context.Context, limit int) ([]jobstore.Record, error) {
	if limit > 0 && len(f.records) > limit {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func (f *fakeService) JobDefaults() domain.JobParams {
	params := domain.DefaultJobParams()
	params.ImagePath = "/images/start.png"
	return params
}

// TestStartAppliesPresetAndOverrides checks defaults, preset and body layering.
func TestStartAppliesPresetAndOverrides(t *testing.T) {
	svc := newFakeService()
	srv := httptest.NewServer(New(svc, nil).Handler())
	defer srv.Close()

	body := `{"contentPreset":"Dance","prompt":"a robot dances","steps":12}`
	resp, err := http.Post(srv.URL+"/api/jobs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	got := svc.started[0]
	if got.Prompt != "a robot dances" || got.Steps != 12 {
		t.Fatalf("body overrides lost: %+v", got)
	}
	if got.FlowPreset != "dance" || got.ContentPreset != "Dance" || got.DistilledGuidanceScale != 12 {
		t.Fatalf("preset not applied: %+v", got)
	}
	if got.ImagePath != "/images/start.png" {
		t.Fatalf("defaults lost: %+v", got)
	}

	resp, err = http.Post(srv.URL+"/api/jobs", "application/json", nil)
	if err != nil {
		t.Fatalf("second post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second status = %d, want 409", resp.StatusCode)
	}
}

// TestStartRejectsInvalidParams maps validation errors to 400.
func TestStartRejectsInvalidParams(t *testing.T) {
	srv := httptest.NewServer(New(newFakeService(), nil).Handler())
	defer srv.Close()

	for _, body := range []string{`{"windowSize":0}`, `{"contentPreset":"Nope"}`, `{bad json`} {
		resp, err := http.Post(srv.URL+"/api/jobs", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

// TestCancelWithoutJob maps the idle state to 409.
func TestCancelWithoutJob(t *testing.T) {
	srv := httptest.NewServer(New(newFakeService(), nil).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/jobs/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

// TestEventsSince returns only newer events.
func TestEventsSince(t *testing.T) {
	svc := newFakeService()
	svc.bus.Publish(jobs.Event{Type: jobs.EventTypeStatus})
	svc.bus.Publish(jobs.Event{Type: jobs.EventTypeProgress, Percent: 40})
	srv := httptest.NewServer(New(svc, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/jobs/events?since=1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var events []jobs.Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].Percent != 40 {
		t.Fatalf("events = %+v", events)
	}

	bad, err := http.Get(srv.URL + "/api/jobs/events?since=x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", bad.StatusCode)
	}
}

// TestPresetsListsBothFamilies checks the preset catalog endpoint.
func TestPresetsListsBothFamilies(t *testing.T) {
	srv := httptest.NewServer(New(newFakeService(), nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/presets")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var got presetsResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Content) == 0 || len(got.Flow) == 0 {
		t.Fatalf("presets = %+v", got)
	}
}

// TestStreamPushesBacklogAndNewEvents checks the websocket stream.
func TestStreamPushesBacklogAndNewEvents(t *testing.T) {
	svc := newFakeService()
	svc.bus.Publish(jobs.Event{Type: jobs.EventTypeStatus, Message: "backlog"})
	srv := httptest.NewServer(New(svc, nil).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/jobs/stream?since=0"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first jobs.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read backlog: %v", err)
	}
	if first.Message != "backlog" {
		t.Fatalf("first = %+v", first)
	}

	svc.bus.Publish(jobs.Event{Type: jobs.EventTypeFile, Path: "out/job_9.mp4"})
	var second jobs.Event
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if second.Type != jobs.EventTypeFile || second.Seq != 2 {
		t.Fatalf("second = %+v", second)
	}
}

// TestHistoryLimit checks the limit query parameter.
func TestHistoryLimit(t *testing.T) {
	svc := newFakeService()
	svc.records = []jobstore.Record{{ID: "b"}, {ID: "a"}}
	srv := httptest.NewServer(New(svc, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/jobs/history?limit=1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var got []jobstore.Record
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("history = %+v", got)
	}
}
