package store

import (
	"context"
	"errors"
	"time"

	"tourplan/internal/model"
)

// Store is the persistence interface used by the API server.
type Store interface {
	// Location sets
	CreateLocationSet(ctx context.Context, tenantID string, req model.LocationSetRequest) (model.LocationSet, error)
	GetLocationSet(ctx context.Context, tenantID, id string) (model.LocationSet, error)
	ListLocationSets(ctx context.Context, tenantID, cursor string, limit int) ([]model.LocationSet, string, error)
	DeleteLocationSet(ctx context.Context, tenantID, id string) error

	// Optimization jobs
	CreateJob(ctx context.Context, tenantID string, req model.OptimizeRequest) (model.Job, error)
	GetJob(ctx context.Context, tenantID, id string) (model.Job, error)
	ListJobs(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Job, string, error)
	MarkJobRunning(ctx context.Context, tenantID, id string) error
	CompleteJob(ctx context.Context, tenantID, id, solutionID string) error
	FailJob(ctx context.Context, tenantID, id, reason string) error

	// Solutions
	SaveSolution(ctx context.Context, sol model.Solution) (model.Solution, error)
	GetSolution(ctx context.Context, tenantID, id string) (model.Solution, error)
	ListSolutions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Solution, string, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, tenantID string, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error)
	RetryWebhookDelivery(ctx context.Context, tenantID, id string) error
}

var ErrNotFound = errors.New("not found")
