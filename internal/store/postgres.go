package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tourplan/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every .sql file in dir in lexical order. The statements
// use CREATE TABLE IF NOT EXISTS, so re-running on boot is safe.
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(b)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) CreateLocationSet(ctx context.Context, tenantID string, req model.LocationSetRequest) (model.LocationSet, error) {
	id := uuid.New().String()
	locs, err := json.Marshal(req.Locations)
	if err != nil {
		return model.LocationSet{}, err
	}
	var created time.Time
	err = p.db.QueryRowContext(ctx, `INSERT INTO location_sets (id, tenant_id, name, locations) VALUES ($1,$2,$3,$4) RETURNING created_at`,
		id, tenantID, req.Name, locs).Scan(&created)
	if err != nil {
		return model.LocationSet{}, err
	}
	return model.LocationSet{ID: id, TenantID: tenantID, Name: req.Name, Locations: req.Locations, CreatedAt: created.UTC().Format(time.RFC3339)}, nil
}

func (p *Postgres) GetLocationSet(ctx context.Context, tenantID, id string) (model.LocationSet, error) {
	var s model.LocationSet
	var locs []byte
	var created time.Time
	err := p.db.QueryRowContext(ctx, `SELECT id::text, name, locations, created_at FROM location_sets WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&s.ID, &s.Name, &locs, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, ErrNotFound
		}
		return s, err
	}
	s.TenantID = tenantID
	s.CreatedAt = created.UTC().Format(time.RFC3339)
	if err := json.Unmarshal(locs, &s.Locations); err != nil {
		return s, err
	}
	return s, nil
}

func (p *Postgres) ListLocationSets(ctx context.Context, tenantID, cursor string, limit int) ([]model.LocationSet, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, name, locations, created_at FROM location_sets WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, name, locations, created_at FROM location_sets WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.LocationSet{}
	var last string
	for rows.Next() {
		var s model.LocationSet
		var locs []byte
		var created time.Time
		if err := rows.Scan(&s.ID, &s.Name, &locs, &created); err != nil {
			return nil, "", err
		}
		s.TenantID = tenantID
		s.CreatedAt = created.UTC().Format(time.RFC3339)
		_ = json.Unmarshal(locs, &s.Locations)
		out = append(out, s)
		last = s.ID
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (p *Postgres) DeleteLocationSet(ctx context.Context, tenantID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM location_sets WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateJob(ctx context.Context, tenantID string, req model.OptimizeRequest) (model.Job, error) {
	id := uuid.New().String()
	body, err := json.Marshal(req)
	if err != nil {
		return model.Job{}, err
	}
	var created time.Time
	err = p.db.QueryRowContext(ctx, `INSERT INTO jobs (id, tenant_id, status, request) VALUES ($1,$2,$3,$4) RETURNING created_at`,
		id, tenantID, model.JobQueued, body).Scan(&created)
	if err != nil {
		return model.Job{}, err
	}
	return model.Job{ID: id, TenantID: tenantID, Status: model.JobQueued, Request: req, CreatedAt: created.UTC().Format(time.RFC3339)}, nil
}

func (p *Postgres) GetJob(ctx context.Context, tenantID, id string) (model.Job, error) {
	var j model.Job
	var body []byte
	var solID, jobErr sql.NullString
	var created time.Time
	var finished sql.NullTime
	err := p.db.QueryRowContext(ctx, `SELECT id::text, status, request, solution_id::text, error, created_at, finished_at FROM jobs WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&j.ID, &j.Status, &body, &solID, &jobErr, &created, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return j, ErrNotFound
		}
		return j, err
	}
	j.TenantID = tenantID
	j.SolutionID = solID.String
	j.Error = jobErr.String
	j.CreatedAt = created.UTC().Format(time.RFC3339)
	if finished.Valid {
		j.FinishedAt = finished.Time.UTC().Format(time.RFC3339)
	}
	if err := json.Unmarshal(body, &j.Request); err != nil {
		return j, err
	}
	return j, nil
}

func (p *Postgres) ListJobs(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Job, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT id::text, status, request, solution_id::text, error, created_at, finished_at FROM jobs WHERE tenant_id=$1`
	args := []any{tenantID}
	idx := 2
	if status != "" {
		q += ` AND status=$` + strconv.Itoa(idx)
		args = append(args, status)
		idx++
	}
	if cursor != "" {
		q += ` AND id::text > $` + strconv.Itoa(idx)
		args = append(args, cursor)
		idx++
	}
	q += ` ORDER BY id LIMIT $` + strconv.Itoa(idx)
	args = append(args, limit)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Job{}
	var last string
	for rows.Next() {
		var j model.Job
		var body []byte
		var solID, jobErr sql.NullString
		var created time.Time
		var finished sql.NullTime
		if err := rows.Scan(&j.ID, &j.Status, &body, &solID, &jobErr, &created, &finished); err != nil {
			return nil, "", err
		}
		j.TenantID = tenantID
		j.SolutionID = solID.String
		j.Error = jobErr.String
		j.CreatedAt = created.UTC().Format(time.RFC3339)
		if finished.Valid {
			j.FinishedAt = finished.Time.UTC().Format(time.RFC3339)
		}
		_ = json.Unmarshal(body, &j.Request)
		out = append(out, j)
		last = j.ID
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (p *Postgres) MarkJobRunning(ctx context.Context, tenantID, id string) error {
	return p.execOne(ctx, `UPDATE jobs SET status=$3 WHERE tenant_id=$1 AND id=$2`, tenantID, id, model.JobRunning)
}

func (p *Postgres) CompleteJob(ctx context.Context, tenantID, id, solutionID string) error {
	return p.execOne(ctx, `UPDATE jobs SET status=$3, solution_id=$4, finished_at=now() WHERE tenant_id=$1 AND id=$2`, tenantID, id, model.JobDone, solutionID)
}

func (p *Postgres) FailJob(ctx context.Context, tenantID, id, reason string) error {
	return p.execOne(ctx, `UPDATE jobs SET status=$3, error=$4, finished_at=now() WHERE tenant_id=$1 AND id=$2`, tenantID, id, model.JobFailed, reason)
}

func (p *Postgres) execOne(ctx context.Context, q string, args ...any) error {
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SaveSolution(ctx context.Context, sol model.Solution) (model.Solution, error) {
	if sol.ID == "" {
		sol.ID = uuid.New().String()
	}
	stops, err := json.Marshal(sol.Stops)
	if err != nil {
		return model.Solution{}, err
	}
	var created time.Time
	err = p.db.QueryRowContext(ctx, `INSERT INTO solutions (id, tenant_id, job_id, location_set_id, algorithm, stops, distance_km, penalty_min, fitness, seed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING created_at`,
		sol.ID, sol.TenantID, nullIfEmpty(sol.JobID), nullIfEmpty(sol.LocationSetID), sol.Algorithm, stops, sol.DistanceKm, sol.PenaltyMin, sol.Fitness, sol.Seed).Scan(&created)
	if err != nil {
		return model.Solution{}, err
	}
	sol.CreatedAt = created.UTC().Format(time.RFC3339)
	return sol, nil
}

func (p *Postgres) GetSolution(ctx context.Context, tenantID, id string) (model.Solution, error) {
	var s model.Solution
	var stops []byte
	var jobID, setID sql.NullString
	var created time.Time
	err := p.db.QueryRowContext(ctx, `SELECT id::text, job_id::text, location_set_id::text, algorithm, stops, distance_km, penalty_min, fitness, seed, created_at
		FROM solutions WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&s.ID, &jobID, &setID, &s.Algorithm, &stops, &s.DistanceKm, &s.PenaltyMin, &s.Fitness, &s.Seed, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, ErrNotFound
		}
		return s, err
	}
	s.TenantID = tenantID
	s.JobID = jobID.String
	s.LocationSetID = setID.String
	s.CreatedAt = created.UTC().Format(time.RFC3339)
	if err := json.Unmarshal(stops, &s.Stops); err != nil {
		return s, err
	}
	return s, nil
}

func (p *Postgres) ListSolutions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Solution, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, job_id::text, location_set_id::text, algorithm, stops, distance_km, penalty_min, fitness, seed, created_at
			FROM solutions WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, job_id::text, location_set_id::text, algorithm, stops, distance_km, penalty_min, fitness, seed, created_at
			FROM solutions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Solution{}
	var last string
	for rows.Next() {
		var s model.Solution
		var stops []byte
		var jobID, setID sql.NullString
		var created time.Time
		if err := rows.Scan(&s.ID, &jobID, &setID, &s.Algorithm, &stops, &s.DistanceKm, &s.PenaltyMin, &s.Fitness, &s.Seed, &created); err != nil {
			return nil, "", err
		}
		s.TenantID = tenantID
		s.JobID = jobID.String
		s.LocationSetID = setID.String
		s.CreatedAt = created.UTC().Format(time.RFC3339)
		_ = json.Unmarshal(stops, &s.Stops)
		out = append(out, s)
		last = s.ID
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, tenantID string, req model.SubscriptionRequest) (model.Subscription, error) {
	id := uuid.New().String()
	ev, _ := json.Marshal(req.Events)
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`, id, tenantID, req.URL, ev, req.Secret)
	if err != nil {
		return model.Subscription{}, err
	}
	return model.Subscription{ID: id, TenantID: tenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND events @> $2::jsonb`, tenantID, `["`+eventType+`"]`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil {
			return nil, err
		}
		s.TenantID = tenantID
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
	}
	return out, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	var out []model.Subscription
	var last string
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil {
			return nil, "", err
		}
		s.TenantID = tenantID
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
		last = s.ID
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return err
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	dk := computeDedupKey(payload)
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now(),$8)
		ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING`, id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id::text, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
		FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(1 * time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
			id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT id::text, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url FROM webhook_deliveries WHERE tenant_id=$1`
	var rows *sql.Rows
	var err error
	if status != "" {
		q += ` AND status=$2 ORDER BY id LIMIT $3`
		rows, err = p.db.QueryContext(ctx, q, tenantID, status, limit)
	} else {
		q += ` ORDER BY id LIMIT $2`
		rows, err = p.db.QueryContext(ctx, q, tenantID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []map[string]any{}
	var last string
	for rows.Next() {
		var id, typ, st, lastErr, url string
		var attempts int
		var nextAt sql.NullTime
		if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url); err != nil {
			return nil, "", err
		}
		item := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
		if nextAt.Valid {
			item["nextAttemptAt"] = nextAt.Time
		}
		if lastErr != "" {
			item["lastError"] = lastErr
		}
		out = append(out, item)
		last = id
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return err
}

// computeDedupKey prefers the event's own id so retried emits collapse into
// one delivery row; otherwise a payload hash prefix.
func computeDedupKey(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && v != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
