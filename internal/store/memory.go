package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tourplan/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu                 sync.Mutex
	sets               map[string]model.LocationSet // id -> set
	setsTen            map[string][]string          // tenant -> set ids
	jobs               map[string]model.Job
	jobsTen            map[string][]string
	sols               map[string]model.Solution
	solsTen            map[string][]string
	subs               map[string][]model.Subscription // tenant -> subscriptions
	deliveries         map[string]*memDelivery
	deliveriesByTenant map[string][]string
}

func NewMemory() *Memory {
	return &Memory{
		sets:               map[string]model.LocationSet{},
		setsTen:            map[string][]string{},
		jobs:               map[string]model.Job{},
		jobsTen:            map[string][]string{},
		sols:               map[string]model.Solution{},
		solsTen:            map[string][]string{},
		subs:               map[string][]model.Subscription{},
		deliveries:         map[string]*memDelivery{},
		deliveriesByTenant: map[string][]string{},
	}
}

// memDelivery augments WebhookDelivery with scheduling/metrics state.
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339) }

func (m *Memory) CreateLocationSet(ctx context.Context, tenantID string, req model.LocationSetRequest) (model.LocationSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.LocationSet{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Name:      req.Name,
		Locations: append([]model.LocationIn(nil), req.Locations...),
		CreatedAt: nowRFC3339(),
	}
	m.sets[s.ID] = s
	m.setsTen[tenantID] = append(m.setsTen[tenantID], s.ID)
	return s, nil
}

func (m *Memory) GetLocationSet(ctx context.Context, tenantID, id string) (model.LocationSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[id]
	if !ok || s.TenantID != tenantID {
		return model.LocationSet{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListLocationSets(ctx context.Context, tenantID, cursor string, limit int) ([]model.LocationSet, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := pageIDs(m.setsTen[tenantID], cursor, &limit)
	out := make([]model.LocationSet, 0, len(ids))
	var next string
	for _, id := range ids {
		out = append(out, m.sets[id])
		next = id
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) DeleteLocationSet(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[id]
	if !ok || s.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.sets, id)
	m.setsTen[tenantID] = removeID(m.setsTen[tenantID], id)
	return nil
}

func (m *Memory) CreateJob(ctx context.Context, tenantID string, req model.OptimizeRequest) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := model.Job{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Status:    model.JobQueued,
		Request:   req,
		CreatedAt: nowRFC3339(),
	}
	m.jobs[j.ID] = j
	m.jobsTen[tenantID] = append(m.jobsTen[tenantID], j.ID)
	return j, nil
}

func (m *Memory) GetJob(ctx context.Context, tenantID, id string) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.TenantID != tenantID {
		return model.Job{}, ErrNotFound
	}
	return j, nil
}

func (m *Memory) ListJobs(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Job, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.jobsTen[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	out := []model.Job{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		j := m.jobs[ids[i]]
		if status == "" || j.Status == status {
			out = append(out, j)
		}
		next = ids[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) MarkJobRunning(ctx context.Context, tenantID, id string) error {
	return m.updateJob(tenantID, id, func(j *model.Job) {
		j.Status = model.JobRunning
	})
}

func (m *Memory) CompleteJob(ctx context.Context, tenantID, id, solutionID string) error {
	return m.updateJob(tenantID, id, func(j *model.Job) {
		j.Status = model.JobDone
		j.SolutionID = solutionID
		j.FinishedAt = nowRFC3339()
	})
}

func (m *Memory) FailJob(ctx context.Context, tenantID, id, reason string) error {
	return m.updateJob(tenantID, id, func(j *model.Job) {
		j.Status = model.JobFailed
		j.Error = reason
		j.FinishedAt = nowRFC3339()
	})
}

func (m *Memory) updateJob(tenantID, id string, f func(*model.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.TenantID != tenantID {
		return ErrNotFound
	}
	f(&j)
	m.jobs[id] = j
	return nil
}

func (m *Memory) SaveSolution(ctx context.Context, sol model.Solution) (model.Solution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sol.ID == "" {
		sol.ID = uuid.New().String()
	}
	if sol.CreatedAt == "" {
		sol.CreatedAt = nowRFC3339()
	}
	m.sols[sol.ID] = sol
	m.solsTen[sol.TenantID] = append(m.solsTen[sol.TenantID], sol.ID)
	return sol, nil
}

func (m *Memory) GetSolution(ctx context.Context, tenantID, id string) (model.Solution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sols[id]
	if !ok || s.TenantID != tenantID {
		return model.Solution{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListSolutions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Solution, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := pageIDs(m.solsTen[tenantID], cursor, &limit)
	out := make([]model.Solution, 0, len(ids))
	var next string
	for _, id := range ids {
		out = append(out, m.sols[id])
		next = id
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, tenantID string, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), TenantID: tenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[tenantID] = append(m.subs[tenantID], s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs[tenantID] {
		for _, e := range s.Events {
			if e == eventType {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[tenantID]
	start := 0
	if cursor != "" {
		for i := range list {
			if list[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(list) {
		end = len(list)
	}
	items := append([]model.Subscription(nil), list[start:end]...)
	next := ""
	if end < len(list) {
		next = list[end-1].ID
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	arr := m.subs[tenantID]
	out := make([]model.Subscription, 0, len(arr))
	for _, s := range arr {
		if s.ID != id {
			out = append(out, s)
		}
	}
	m.subs[tenantID] = out
	return nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"}, NextAttemptAt: time.Now()}
	m.deliveries[id] = d
	m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, ids := range m.deliveriesByTenant {
		for _, id := range ids {
			d := m.deliveries[id]
			if d == nil {
				continue
			}
			if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
				out = append(out, d.WebhookDelivery)
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return nil
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := time.Now()
		d.DeliveredAt = &now
	} else {
		d.Status = "retry"
		d.LastError = lastError
		if nextAttemptAt != nil {
			d.NextAttemptAt = *nextAttemptAt
		} else {
			d.NextAttemptAt = time.Now().Add(1 * time.Minute)
		}
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d := m.deliveries[id]; d != nil {
		d.Status = "failed"
		d.LastError = lastError
		d.ResponseCode = responseCode
		d.LatencyMs = latencyMs
	}
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []map[string]any{}
	for _, id := range m.deliveriesByTenant[tenantID] {
		d := m.deliveries[id]
		if d == nil {
			continue
		}
		if status == "" || d.Status == status {
			item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
			if !d.NextAttemptAt.IsZero() {
				item["nextAttemptAt"] = d.NextAttemptAt
			}
			if d.LastError != "" {
				item["lastError"] = d.LastError
			}
			out = append(out, item)
		}
	}
	return out, "", nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d != nil && d.TenantID == tenantID {
		d.Status = "pending"
		d.NextAttemptAt = time.Now()
	}
	return nil
}

// pageIDs applies cursor pagination over an ordered id list and normalizes
// the limit in place.
func pageIDs(ids []string, cursor string, limit *int) []string {
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if *limit <= 0 {
		*limit = 100
	}
	end := start + *limit
	if end > len(ids) {
		end = len(ids)
	}
	return ids[start:end]
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
