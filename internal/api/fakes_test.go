package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"sankalp/internal/currency"
	"sankalp/internal/dispatch"
	"sankalp/internal/models"
)

type fakeStore struct {
	mu sync.Mutex

	jobs      []models.ScheduledJob
	leads     map[string]*models.Lead
	attempts  map[string]models.AttemptStatus
	events    []models.WebhookEvent
	failEvent bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		leads:    make(map[string]*models.Lead),
		attempts: make(map[string]models.AttemptStatus),
	}
}

func (f *fakeStore) CreateJob(ctx context.Context, job *models.ScheduledJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.ID = int64(len(f.jobs) + 1)
	if job.PublicID == "" {
		job.PublicID = "job-fake"
	}
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	f.jobs = append(f.jobs, *job)
	return nil
}

func (f *fakeStore) GetJobByPublicID(ctx context.Context, publicID string) (*models.ScheduledJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.jobs {
		if f.jobs[i].PublicID == publicID {
			return &f.jobs[i], nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeStore) ListJobs(ctx context.Context, status string, limit, offset int) ([]models.ScheduledJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ScheduledJob
	for _, j := range f.jobs {
		if status == "" || string(j.Status) == status {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeStore) ListAttempts(ctx context.Context, jobID int64) ([]models.MessageAttempt, error) {
	return nil, nil
}

func (f *fakeStore) InsertLead(ctx context.Context, lead *models.Lead) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lead.ID = int64(len(f.leads) + 1)
	f.leads[lead.Phone] = lead
	return nil
}

func (f *fakeStore) UpsertLeadByPhone(ctx context.Context, phoneNumber, source string, at time.Time) (*models.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.leads[phoneNumber]; ok {
		l.LastMessageAt = at
		return l, nil
	}
	l := &models.Lead{
		ID:            int64(len(f.leads) + 1),
		Phone:         phoneNumber,
		Status:        "lead",
		Source:        source,
		LastMessageAt: at,
	}
	f.leads[phoneNumber] = l
	return l, nil
}

func (f *fakeStore) SetLeadOptedOut(ctx context.Context, phoneNumber string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.leads[phoneNumber]; ok {
		l.OptedOut = true
	}
	return nil
}

func (f *fakeStore) UpdateAttemptDelivery(ctx context.Context, waMessageID string, status models.AttemptStatus, failureReason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[waMessageID] = status
	return nil
}

func (f *fakeStore) InsertWebhookEvent(ctx context.Context, e *models.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEvent {
		return errors.New("event insert failed")
	}
	f.events = append(f.events, *e)
	return nil
}

func (f *fakeStore) eventKinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]string, 0, len(f.events))
	for _, e := range f.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type fakeRunner struct {
	lastOpts dispatch.Options
	result   *dispatch.RunResult
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, opts dispatch.Options) (*dispatch.RunResult, error) {
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &dispatch.RunResult{}, nil
}

func newTestHandler(store *fakeStore, runner *fakeRunner) *Handler {
	return &Handler{
		Store:              store,
		Dispatcher:         runner,
		Log:                zap.NewNop(),
		Converter:          currency.NewConverter(0, 0),
		CronSecret:         "cron-secret",
		WebhookVerifyToken: "verify-token",

		DefaultJobLimit:         7,
		DefaultLeadsPerJobLimit: 70,
		PayUMerchantKey:    "gtKFFx",
		PayUMerchantSalt:   "eCwWELxi",
		PayUBaseURL:        "https://test.payu.in",
		ProcessingFeePct:   3.3,
	}
}
