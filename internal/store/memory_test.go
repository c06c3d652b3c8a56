package store

import (
	"context"
	"errors"
	"testing"

	"tourplan/internal/model"
)

func TestMemoryLocationSetLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	s, err := m.CreateLocationSet(ctx, "t1", model.LocationSetRequest{
		Name: "berlin tour",
		Locations: []model.LocationIn{
			{Name: "depot", Lat: 52.52, Lng: 13.40},
			{Name: "shop", Lat: 52.53, Lng: 13.42, OpenTime: "10:00", CloseTime: "12:00", StayMin: 15},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := m.GetLocationSet(ctx, "t1", s.ID)
	if err != nil || got.Name != "berlin tour" || len(got.Locations) != 2 {
		t.Fatalf("get: %v %+v", err, got)
	}
	if _, err := m.GetLocationSet(ctx, "t2", s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant read should 404, got %v", err)
	}
	if err := m.DeleteLocationSet(ctx, "t1", s.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.GetLocationSet(ctx, "t1", s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete: %v", err)
	}
}

func TestMemoryListLocationSetsPagination(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := m.CreateLocationSet(ctx, "t1", model.LocationSetRequest{Name: "s"}); err != nil {
			t.Fatal(err)
		}
	}
	page1, cursor, err := m.ListLocationSets(ctx, "t1", "", 2)
	if err != nil || len(page1) != 2 || cursor == "" {
		t.Fatalf("page1: %v len=%d cursor=%q", err, len(page1), cursor)
	}
	page2, cursor2, err := m.ListLocationSets(ctx, "t1", cursor, 2)
	if err != nil || len(page2) != 2 || cursor2 == "" {
		t.Fatalf("page2: %v len=%d", err, len(page2))
	}
	if page2[0].ID == page1[0].ID || page2[0].ID == page1[1].ID {
		t.Fatalf("pages overlap")
	}
	page3, cursor3, err := m.ListLocationSets(ctx, "t1", cursor2, 2)
	if err != nil || len(page3) != 1 || cursor3 != "" {
		t.Fatalf("page3: %v len=%d cursor=%q", err, len(page3), cursor3)
	}
}

func TestMemoryJobTransitions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	j, err := m.CreateJob(ctx, "t1", model.OptimizeRequest{LocationSetID: "ls1", Algorithm: "genetic"})
	if err != nil || j.Status != model.JobQueued {
		t.Fatalf("create: %v %+v", err, j)
	}
	if err := m.MarkJobRunning(ctx, "t1", j.ID); err != nil {
		t.Fatalf("running: %v", err)
	}
	sol, err := m.SaveSolution(ctx, model.Solution{TenantID: "t1", JobID: j.ID, Algorithm: "genetic", Fitness: 12.5})
	if err != nil || sol.ID == "" {
		t.Fatalf("save solution: %v", err)
	}
	if err := m.CompleteJob(ctx, "t1", j.ID, sol.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := m.GetJob(ctx, "t1", j.ID)
	if err != nil || got.Status != model.JobDone || got.SolutionID != sol.ID || got.FinishedAt == "" {
		t.Fatalf("after complete: %v %+v", err, got)
	}
	if err := m.MarkJobRunning(ctx, "t1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing job: %v", err)
	}
}

func TestMemoryFailJob(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	j, _ := m.CreateJob(ctx, "t1", model.OptimizeRequest{LocationSetID: "ls1"})
	if err := m.FailJob(ctx, "t1", j.ID, "location set not found"); err != nil {
		t.Fatal(err)
	}
	got, _ := m.GetJob(ctx, "t1", j.ID)
	if got.Status != model.JobFailed || got.Error == "" {
		t.Fatalf("after fail: %+v", got)
	}
}

func TestMemorySubscriptionsForEvent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, err := m.CreateSubscription(ctx, "t1", model.SubscriptionRequest{URL: "https://a", Events: []string{"optimization.completed"}, Secret: "s"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreateSubscription(ctx, "t1", model.SubscriptionRequest{URL: "https://b", Events: []string{"optimization.failed"}}); err != nil {
		t.Fatal(err)
	}
	subs, err := m.GetSubscriptionsForEvent(ctx, "t1", "optimization.completed")
	if err != nil || len(subs) != 1 || subs[0].URL != "https://a" {
		t.Fatalf("got %v %v", subs, err)
	}
}

func TestMemoryWebhookQueue(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id, err := m.EnqueueWebhook(ctx, "t1", "sub1", "optimization.completed", "https://x", "sec", []byte(`{"id":"e1"}`))
	if err != nil {
		t.Fatal(err)
	}
	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	if err != nil || len(due) != 1 || due[0].ID != id {
		t.Fatalf("due: %v %v", due, err)
	}
	// Failed attempt goes to retry with a future next attempt.
	if err := m.MarkWebhookDelivery(ctx, id, false, nil, "500", 500, 12); err != nil {
		t.Fatal(err)
	}
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 0 {
		t.Fatalf("retry should not be due yet: %v", due)
	}
	if err := m.RetryWebhookDelivery(ctx, "t1", id); err != nil {
		t.Fatal(err)
	}
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 {
		t.Fatalf("manual retry should requeue: %v", due)
	}
	if err := m.MarkWebhookDelivery(ctx, id, true, nil, "", 200, 8); err != nil {
		t.Fatal(err)
	}
	items, _, err := m.ListWebhookDeliveries(ctx, "t1", "delivered", "", 10)
	if err != nil || len(items) != 1 {
		t.Fatalf("delivered list: %v %v", items, err)
	}
}
