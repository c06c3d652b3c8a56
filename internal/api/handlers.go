package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tourplan/internal/model"
	"tourplan/internal/opt"
	"tourplan/internal/store"
)

func parseLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			return n
		}
	}
	return def
}

// LocationSetsHandler handles POST/GET /v1/location-sets.
func (s *Server) LocationSetsHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodPost:
		if !p.CanPlan() {
			writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path)
			return
		}
		var req model.LocationSetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateLocationSetRequest(&req); err != nil {
			writeProblem(w, 400, "Invalid location set", err.Error(), r.URL.Path)
			return
		}
		ls, err := s.Store.CreateLocationSet(r.Context(), p.Tenant, req)
		if err != nil {
			writeProblem(w, 500, "Create location set failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, ls)
	case http.MethodGet:
		items, next, err := s.Store.ListLocationSets(r.Context(), p.Tenant, r.URL.Query().Get("cursor"), parseLimit(r, 100))
		if err != nil {
			writeProblem(w, 500, "List location sets failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// LocationSetByIDHandler handles GET/DELETE /v1/location-sets/{id}.
func (s *Server) LocationSetByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/location-sets/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, 404, "Not Found", "missing id", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodGet:
		ls, err := s.Store.GetLocationSet(r.Context(), p.Tenant, id)
		if err != nil {
			writeProblem(w, 404, "Location set not found", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 200, ls)
	case http.MethodDelete:
		if !p.CanPlan() {
			writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path)
			return
		}
		if err := s.Store.DeleteLocationSet(r.Context(), p.Tenant, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeProblem(w, 404, "Location set not found", err.Error(), r.URL.Path)
				return
			}
			writeProblem(w, 500, "Delete location set failed", err.Error(), r.URL.Path)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// OptimizeHandler handles POST /v1/optimize: it validates the request,
// queues a job, and runs the solve in the background.
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanPlan() {
		writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path)
		return
	}
	var req model.OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateOptimizeRequest(&req); err != nil {
		writeProblem(w, 400, "Invalid optimize request", err.Error(), r.URL.Path)
		return
	}
	if _, err := s.Store.GetLocationSet(r.Context(), p.Tenant, req.LocationSetID); err != nil {
		writeProblem(w, 404, "Location set not found", err.Error(), r.URL.Path)
		return
	}
	job, err := s.Store.CreateJob(r.Context(), p.Tenant, req)
	if err != nil {
		writeProblem(w, 500, "Create job failed", err.Error(), r.URL.Path)
		return
	}
	go s.runJob(p.Tenant, job)
	writeJSON(w, http.StatusAccepted, job)
}

// JobsIndexHandler handles GET /v1/jobs with an optional status filter.
func (s *Server) JobsIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	status := r.URL.Query().Get("status")
	switch status {
	case "", model.JobQueued, model.JobRunning, model.JobDone, model.JobFailed:
	default:
		writeProblem(w, 400, "Invalid status filter", status, r.URL.Path)
		return
	}
	items, next, err := s.Store.ListJobs(r.Context(), p.Tenant, status, r.URL.Query().Get("cursor"), parseLimit(r, 100))
	if err != nil {
		writeProblem(w, 500, "List jobs failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// JobByIDHandler handles GET /v1/jobs/{id} and the SSE progress stream at
// GET /v1/jobs/{id}/events/stream.
func (s *Server) JobByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, 404, "Not Found", "missing id", r.URL.Path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	p := s.getPrincipal(r)
	if len(parts) == 3 && parts[1] == "events" && parts[2] == "stream" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if _, err := s.Store.GetJob(r.Context(), p.Tenant, id); err != nil {
			writeProblem(w, 404, "Job not found", err.Error(), r.URL.Path)
			return
		}
		s.streamJobEvents(w, r, id)
		return
	}
	if len(parts) != 1 {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	job, err := s.Store.GetJob(r.Context(), p.Tenant, id)
	if err != nil {
		writeProblem(w, 404, "Job not found", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, job)
}

func (s *Server) streamJobEvents(w http.ResponseWriter, r *http.Request, jobID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(jobID)
	defer s.Broker.Unsubscribe(jobID, ch)
	fmt.Fprintf(w, "event: heartbeat\n")
	fmt.Fprintf(w, "data: {\"jobId\":\"%s\",\"ts\":\"%s\"}\n\n", jobID, time.Now().Format(time.RFC3339))
	flusher.Flush()
	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"jobId\":\"%s\",\"ts\":\"%s\"}\n\n", jobID, time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// SolutionsIndexHandler handles GET /v1/solutions.
func (s *Server) SolutionsIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	items, next, err := s.Store.ListSolutions(r.Context(), p.Tenant, r.URL.Query().Get("cursor"), parseLimit(r, 100))
	if err != nil {
		writeProblem(w, 500, "List solutions failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// SolutionByIDHandler handles GET /v1/solutions/{id}.
func (s *Server) SolutionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/solutions/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, 404, "Not Found", "missing id", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	sol, err := s.Store.GetSolution(r.Context(), p.Tenant, id)
	if err != nil {
		writeProblem(w, 404, "Solution not found", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, sol)
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions.
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodPost:
		if !p.IsAdmin() {
			writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
			return
		}
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.URL == "" || len(req.Events) == 0 {
			writeProblem(w, 400, "Invalid subscription", "url and events are required", r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), p.Tenant, req)
		if err != nil {
			writeProblem(w, 500, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, r.URL.Query().Get("cursor"), parseLimit(r, 100))
		if err != nil {
			writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}.
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if id == "" {
		writeProblem(w, 404, "Not Found", "missing id", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, 404, "Subscription not found", err.Error(), r.URL.Path)
			return
		}
		writeProblem(w, 500, "Delete subscription failed", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunMetricsHandler handles GET /v1/admin/run-metrics and
// GET /v1/admin/run-metrics/{jobId}.
func (s *Server) RunMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/admin/run-metrics")
	id = strings.TrimPrefix(id, "/")
	if id == "" {
		writeJSON(w, 200, map[string]any{"runs": opt.GetRuns(p.Tenant)})
		return
	}
	stats, ok := opt.GetRun(p.Tenant, id)
	if !ok {
		writeProblem(w, 404, "No run stats for job", id, r.URL.Path)
		return
	}
	writeJSON(w, 200, stats)
}

// WebhookDeliveriesHandler handles GET /v1/admin/webhook-deliveries.
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	items, next, err := s.Store.ListWebhookDeliveries(r.Context(), p.Tenant, r.URL.Query().Get("status"), r.URL.Query().Get("cursor"), parseLimit(r, 100))
	if err != nil {
		writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// WebhookDeliveryRetryHandler handles POST /v1/admin/webhook-deliveries/{id}/retry.
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
	if id == "" {
		writeProblem(w, 404, "Not Found", "missing id", r.URL.Path)
		return
	}
	if err := s.Store.RetryWebhookDelivery(r.Context(), p.Tenant, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, 404, "Delivery not found", err.Error(), r.URL.Path)
			return
		}
		writeProblem(w, 500, "Retry failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]bool{"ok": true})
}

// HealthHandler reports liveness.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

// ReadyHandler reports readiness, pinging the database when one is wired.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeProblem(w, 503, "Not ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}
