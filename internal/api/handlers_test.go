package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tourplan/internal/model"
	"tourplan/internal/store"
	"tourplan/internal/webhooks"
)

func newTestServer() *Server {
	mem := store.NewMemory()
	return &Server{Store: mem, Pub: webhooks.NewPublisher(mem), Broker: NewBroker()}
}

func doJSON(t *testing.T, h http.HandlerFunc, method, path string, body string, role string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("X-Tenant-Id", "t1")
	if role != "" {
		req.Header.Set("X-Role", role)
	}
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

const demoSet = `{"name":"berlin","locations":[
	{"name":"Depot","lat":52.5200,"lng":13.4050},
	{"name":"Museum","lat":52.5206,"lng":13.3862,"openTime":"10:00","closeTime":"18:00","stayMin":45},
	{"name":"Gallery","lat":52.5076,"lng":13.3904,"openTime":"11:00","closeTime":"17:00","stayMin":30},
	{"name":"Cafe","lat":52.5128,"lng":13.4206,"stayMin":20}
]}`

func createSet(t *testing.T, s *Server) model.LocationSet {
	t.Helper()
	w := doJSON(t, s.LocationSetsHandler, http.MethodPost, "/v1/location-sets", demoSet, "admin")
	if w.Code != http.StatusCreated {
		t.Fatalf("create set: %d %s", w.Code, w.Body.String())
	}
	var ls model.LocationSet
	if err := json.Unmarshal(w.Body.Bytes(), &ls); err != nil {
		t.Fatal(err)
	}
	return ls
}

func TestLocationSetCRUD(t *testing.T) {
	s := newTestServer()
	ls := createSet(t, s)
	if ls.ID == "" || len(ls.Locations) != 4 {
		t.Fatalf("unexpected set: %+v", ls)
	}

	w := doJSON(t, s.LocationSetByIDHandler, http.MethodGet, "/v1/location-sets/"+ls.ID, "", "admin")
	if w.Code != 200 {
		t.Fatalf("get: %d", w.Code)
	}

	w = doJSON(t, s.LocationSetsHandler, http.MethodGet, "/v1/location-sets", "", "admin")
	if w.Code != 200 || !strings.Contains(w.Body.String(), ls.ID) {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s.LocationSetByIDHandler, http.MethodDelete, "/v1/location-sets/"+ls.ID, "", "admin")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	w = doJSON(t, s.LocationSetByIDHandler, http.MethodGet, "/v1/location-sets/"+ls.ID, "", "admin")
	if w.Code != 404 {
		t.Fatalf("get after delete: %d", w.Code)
	}
}

func TestLocationSetValidation(t *testing.T) {
	s := newTestServer()
	cases := []string{
		`{"locations":[{"name":"a","lat":0,"lng":0},{"name":"b","lat":1,"lng":1}]}`,
		`{"name":"x","locations":[{"name":"a","lat":0,"lng":0}]}`,
		`{"name":"x","locations":[{"name":"a","lat":95,"lng":0},{"name":"b","lat":1,"lng":1}]}`,
		`{"name":"x","locations":[{"name":"a","lat":0,"lng":0,"openTime":"9am"},{"name":"b","lat":1,"lng":1}]}`,
		`{"name":"x","locations":[{"name":"a","lat":0,"lng":0,"openTime":"12:00","closeTime":"10:00"},{"name":"b","lat":1,"lng":1}]}`,
	}
	for i, body := range cases {
		w := doJSON(t, s.LocationSetsHandler, http.MethodPost, "/v1/location-sets", body, "admin")
		if w.Code != 400 {
			t.Fatalf("case %d: want 400, got %d %s", i, w.Code, w.Body.String())
		}
	}
}

func TestOptimizeValidation(t *testing.T) {
	s := newTestServer()
	ls := createSet(t, s)

	w := doJSON(t, s.OptimizeHandler, http.MethodPost, "/v1/optimize", `{"locationSetId":"`+ls.ID+`","algorithm":"tabu"}`, "admin")
	if w.Code != 400 {
		t.Fatalf("bad algorithm: want 400, got %d", w.Code)
	}
	w = doJSON(t, s.OptimizeHandler, http.MethodPost, "/v1/optimize", `{"locationSetId":"missing"}`, "admin")
	if w.Code != 404 {
		t.Fatalf("missing set: want 404, got %d", w.Code)
	}
	w = doJSON(t, s.OptimizeHandler, http.MethodPost, "/v1/optimize", `{"locationSetId":"`+ls.ID+`","avgSpeedKph":-3}`, "admin")
	if w.Code != 400 {
		t.Fatalf("bad speed: want 400, got %d", w.Code)
	}
	// eliteSize is checked against the defaulted population size, not just
	// the literal request fields
	w = doJSON(t, s.OptimizeHandler, http.MethodPost, "/v1/optimize", `{"locationSetId":"`+ls.ID+`","genetic":{"eliteSize":200}}`, "admin")
	if w.Code != 400 {
		t.Fatalf("oversized eliteSize vs default population: want 400, got %d", w.Code)
	}
	w = doJSON(t, s.OptimizeHandler, http.MethodPost, "/v1/optimize", `{"locationSetId":"`+ls.ID+`","genetic":{"populationSize":30,"eliteSize":30}}`, "admin")
	if w.Code != 400 {
		t.Fatalf("eliteSize == populationSize: want 400, got %d", w.Code)
	}
	w = doJSON(t, s.OptimizeHandler, http.MethodPost, "/v1/optimize", `{"locationSetId":"`+ls.ID+`","annealing":{"minTemp":5000}}`, "admin")
	if w.Code != 400 {
		t.Fatalf("minTemp above default initialTemp: want 400, got %d", w.Code)
	}
	w = doJSON(t, s.OptimizeHandler, http.MethodPost, "/v1/optimize", `{"locationSetId":"`+ls.ID+`"}`, "viewer")
	if w.Code != 403 {
		t.Fatalf("viewer: want 403, got %d", w.Code)
	}
}

func waitForJob(t *testing.T, s *Server, id string) model.Job {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.Store.GetJob(context.Background(), "t1", id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Status == model.JobDone || job.Status == model.JobFailed {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return model.Job{}
}

func TestOptimizeFlowGenetic(t *testing.T) {
	s := newTestServer()
	ls := createSet(t, s)

	body := `{"locationSetId":"` + ls.ID + `","algorithm":"genetic","seed":42,` +
		`"genetic":{"populationSize":30,"generations":40}}`
	w := doJSON(t, s.OptimizeHandler, http.MethodPost, "/v1/optimize", body, "admin")
	if w.Code != http.StatusAccepted {
		t.Fatalf("optimize: %d %s", w.Code, w.Body.String())
	}
	var job model.Job
	if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}
	if job.Status != model.JobQueued {
		t.Fatalf("want queued, got %s", job.Status)
	}

	job = waitForJob(t, s, job.ID)
	if job.Status != model.JobDone || job.SolutionID == "" {
		t.Fatalf("job did not succeed: %+v", job)
	}

	w = doJSON(t, s.SolutionByIDHandler, http.MethodGet, "/v1/solutions/"+job.SolutionID, "", "admin")
	if w.Code != 200 {
		t.Fatalf("get solution: %d", w.Code)
	}
	var sol model.Solution
	if err := json.Unmarshal(w.Body.Bytes(), &sol); err != nil {
		t.Fatal(err)
	}
	if len(sol.Stops) != 4 {
		t.Fatalf("want 4 stops, got %d", len(sol.Stops))
	}
	if sol.Stops[0].Name != "Depot" {
		t.Fatalf("tour must start at the first location, got %q", sol.Stops[0].Name)
	}
	seen := map[string]bool{}
	for _, st := range sol.Stops {
		if seen[st.Name] {
			t.Fatalf("duplicate stop %q", st.Name)
		}
		seen[st.Name] = true
		if st.Arrival == "" || st.Departure == "" {
			t.Fatalf("missing clock strings: %+v", st)
		}
	}
	if sol.Fitness < sol.DistanceKm {
		t.Fatalf("fitness %v cannot be below distance %v", sol.Fitness, sol.DistanceKm)
	}

	w = doJSON(t, s.RunMetricsHandler, http.MethodGet, "/v1/admin/run-metrics/"+job.ID, "", "admin")
	if w.Code != 200 || !strings.Contains(w.Body.String(), `"algorithm":"genetic"`) {
		t.Fatalf("run metrics: %d %s", w.Code, w.Body.String())
	}
}

func TestOptimizeFlowAnnealing(t *testing.T) {
	s := newTestServer()
	ls := createSet(t, s)
	body := `{"locationSetId":"` + ls.ID + `","algorithm":"annealing","seed":7,` +
		`"annealing":{"initialTemp":100,"coolingRate":0.9,"minTemp":1,"iterationsPerTemp":20}}`
	w := doJSON(t, s.OptimizeHandler, http.MethodPost, "/v1/optimize", body, "admin")
	if w.Code != http.StatusAccepted {
		t.Fatalf("optimize: %d %s", w.Code, w.Body.String())
	}
	var job model.Job
	_ = json.Unmarshal(w.Body.Bytes(), &job)
	job = waitForJob(t, s, job.ID)
	if job.Status != model.JobDone {
		t.Fatalf("job failed: %+v", job)
	}
}

func TestOptimizeFailureEmitsWebhook(t *testing.T) {
	s := newTestServer()
	ls := createSet(t, s)
	if _, err := s.Store.CreateSubscription(context.Background(), "t1", model.SubscriptionRequest{
		URL: "https://example.test/hook", Events: []string{"optimization.failed"}, Secret: "s",
	}); err != nil {
		t.Fatal(err)
	}
	// Delete the set between job creation and execution to force a failure.
	job, err := s.Store.CreateJob(context.Background(), "t1", model.OptimizeRequest{LocationSetID: ls.ID})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Store.DeleteLocationSet(context.Background(), "t1", ls.ID); err != nil {
		t.Fatal(err)
	}
	s.runJob("t1", job)
	got, _ := s.Store.GetJob(context.Background(), "t1", job.ID)
	if got.Status != model.JobFailed || got.Error == "" {
		t.Fatalf("want failed job, got %+v", got)
	}
	due, err := s.Store.FetchDueWebhookDeliveries(context.Background(), 10)
	if err != nil || len(due) != 1 || due[0].EventType != "optimization.failed" {
		t.Fatalf("want one queued failure webhook, got %v %v", due, err)
	}
}

func TestRunJobEmitsFinalProgressStep(t *testing.T) {
	s := newTestServer()
	ls := createSet(t, s)
	// 45 generations: not a multiple of the progress interval, so the last
	// event must come from the final-step emission
	job, err := s.Store.CreateJob(context.Background(), "t1", model.OptimizeRequest{
		LocationSetID: ls.ID,
		Algorithm:     "genetic",
		Seed:          5,
		Genetic:       &model.GeneticParams{PopulationSize: 20, Generations: 45},
	})
	if err != nil {
		t.Fatal(err)
	}
	ch := s.Broker.Subscribe(job.ID)
	defer s.Broker.Unsubscribe(job.ID, ch)

	s.runJob("t1", job)

	steps := []int{}
	sawDone := false
	for len(ch) > 0 {
		evt := <-ch
		switch evt.Type {
		case "job.progress":
			steps = append(steps, evt.Data["step"].(int))
		case "job.done":
			sawDone = true
		}
	}
	if !sawDone {
		t.Fatalf("no job.done event, got steps %v", steps)
	}
	if len(steps) == 0 || steps[len(steps)-1] != 45 {
		t.Fatalf("final generation not reported, got steps %v", steps)
	}
}

func TestJobsListStatusFilter(t *testing.T) {
	s := newTestServer()
	ls := createSet(t, s)
	job, _ := s.Store.CreateJob(context.Background(), "t1", model.OptimizeRequest{LocationSetID: ls.ID})
	w := doJSON(t, s.JobsIndexHandler, http.MethodGet, "/v1/jobs?status=queued", "", "admin")
	if w.Code != 200 || !strings.Contains(w.Body.String(), job.ID) {
		t.Fatalf("queued filter: %d %s", w.Code, w.Body.String())
	}
	w = doJSON(t, s.JobsIndexHandler, http.MethodGet, "/v1/jobs?status=done", "", "admin")
	if w.Code != 200 || strings.Contains(w.Body.String(), job.ID) {
		t.Fatalf("done filter should exclude queued job: %s", w.Body.String())
	}
	w = doJSON(t, s.JobsIndexHandler, http.MethodGet, "/v1/jobs?status=bogus", "", "admin")
	if w.Code != 400 {
		t.Fatalf("bogus filter: want 400, got %d", w.Code)
	}
}

// sseRecorder implements http.Flusher so the SSE handler can stream into a
// buffer the test polls.
type sseRecorder struct {
	mu   sync.Mutex
	hdr  http.Header
	buf  bytes.Buffer
	code int
}

func newSSERecorder() *sseRecorder { return &sseRecorder{hdr: http.Header{}} }

func (r *sseRecorder) Header() http.Header { return r.hdr }
func (r *sseRecorder) WriteHeader(c int)   { r.code = c }
func (r *sseRecorder) Flush()              {}
func (r *sseRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}
func (r *sseRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

func TestJobEventsSSE(t *testing.T) {
	s := newTestServer()
	ls := createSet(t, s)
	job, _ := s.Store.CreateJob(context.Background(), "t1", model.OptimizeRequest{LocationSetID: ls.ID})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+job.ID+"/events/stream", nil).WithContext(ctx)
	req.Header.Set("X-Tenant-Id", "t1")
	rec := newSSERecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.JobByIDHandler(rec, req)
	}()

	// wait for the initial heartbeat, then publish
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(rec.String(), "heartbeat") {
		if time.Now().After(deadline) {
			t.Fatalf("no heartbeat: %q", rec.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Broker.Publish(job.ID, SSEEvent{Type: "job.progress", Data: map[string]any{"jobId": job.ID, "step": 10, "bestFitness": 12.5}})

	deadline = time.Now().Add(2 * time.Second)
	for !strings.Contains(rec.String(), "event: job.progress") {
		if time.Now().After(deadline) {
			t.Fatalf("progress event not streamed: %q", rec.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(rec.String(), `"bestFitness":12.5`) {
		t.Fatalf("payload missing: %q", rec.String())
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit on context cancel")
	}
}

func TestSubscriptionsRBAC(t *testing.T) {
	s := newTestServer()
	body := `{"url":"https://example.test/h","events":["optimization.completed"],"secret":"x"}`
	w := doJSON(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", body, "viewer")
	if w.Code != 403 {
		t.Fatalf("viewer create: want 403, got %d", w.Code)
	}
	w = doJSON(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", body, "admin")
	if w.Code != http.StatusCreated {
		t.Fatalf("admin create: %d %s", w.Code, w.Body.String())
	}
	var sub model.Subscription
	_ = json.Unmarshal(w.Body.Bytes(), &sub)
	w = doJSON(t, s.SubscriptionByIDHandler, http.MethodDelete, "/v1/subscriptions/"+sub.ID, "", "admin")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer()
	w := doJSON(t, s.HealthHandler, http.MethodGet, "/healthz", "", "")
	if w.Code != 200 {
		t.Fatalf("healthz: %d", w.Code)
	}
	w = doJSON(t, s.ReadyHandler, http.MethodGet, "/readyz", "", "")
	if w.Code != 200 {
		t.Fatalf("readyz: %d", w.Code)
	}
}
