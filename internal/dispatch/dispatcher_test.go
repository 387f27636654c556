package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sankalp/internal/models"
	"sankalp/internal/ratelimit"
)

// ----------------------------
// Fakes
// ----------------------------

type fakeStore struct {
	mu       sync.Mutex
	jobs     map[int64]*models.ScheduledJob
	leads    map[int64]models.Lead
	attempts []models.MessageAttempt
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:  make(map[int64]*models.ScheduledJob),
		leads: make(map[int64]models.Lead),
	}
}

// fakeLease mirrors the storage lease on running jobs.
const fakeLease = 10 * time.Minute

func (f *fakeStore) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var claimed []models.ScheduledJob
	for _, j := range f.jobs {
		if len(claimed) >= limit {
			break
		}
		due := j.Status == models.JobPending && !j.DueAt.After(now)
		stranded := j.Status == models.JobRunning && !j.UpdatedAt.After(now.Add(-fakeLease))
		if due || stranded {
			j.Status = models.JobRunning
			j.UpdatedAt = now
			claimed = append(claimed, *j)
		}
	}
	return claimed, nil
}

func (f *fakeStore) LeadsByIDs(ctx context.Context, ids []int64, limit int) ([]models.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Lead
	for _, id := range ids {
		if l, ok := f.leads[id]; ok && !l.OptedOut && len(out) < limit {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) LeadsByFilter(ctx context.Context, filter models.LeadFilter, limit int) ([]models.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Lead
	for _, l := range f.leads {
		if l.OptedOut || len(out) >= limit {
			continue
		}
		if len(filter.Statuses) > 0 && !contains(filter.Statuses, l.Status) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeStore) AttemptedLeadIDs(ctx context.Context, jobID int64) (map[int64]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempted := make(map[int64]bool)
	for _, a := range f.attempts {
		if a.JobID == jobID {
			attempted[a.LeadID] = true
		}
	}
	return attempted, nil
}

func (f *fakeStore) InsertAttempt(ctx context.Context, a *models.MessageAttempt) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.attempts {
		if existing.JobID == a.JobID && existing.LeadID == a.LeadID {
			return false, nil
		}
	}
	f.attempts = append(f.attempts, *a)
	return true, nil
}

func (f *fakeStore) FinishJob(ctx context.Context, id int64, status models.JobStatus, nextDue *time.Time, runCount int, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	j.Status = status
	j.RunCount = runCount
	j.LastError = lastError
	if nextDue != nil {
		j.DueAt = *nextDue
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []string
	failTo map[string]error
}

func (f *fakeSender) SendText(ctx context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failTo[to]; ok {
		return "", err
	}
	f.sent = append(f.sent, to)
	return "wamid." + to, nil
}

// ----------------------------
// Tests
// ----------------------------

var testTime = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

func newTestDispatcher(store Store, sender *fakeSender) *Dispatcher {
	guard := ratelimit.NewFixedWindow(0, 0)
	return New(store, sender, guard, nil, zap.NewNop(), 2)
}

func seedJob(store *fakeStore, leadIDs []int64) *models.ScheduledJob {
	job := &models.ScheduledJob{
		ID:             1,
		PublicID:       "job-1",
		Name:           "workshop reminder",
		MessageContent: "Namaste! Your workshop starts tomorrow.",
		TargetType:     models.TargetLeadIDs,
		TargetLeadIDs:  leadIDs,
		Status:         models.JobPending,
		DueAt:          testTime.Add(-time.Minute),
		CreatedBy:      "ops",
	}
	store.jobs[job.ID] = job
	return job
}

func seedLeads(store *fakeStore, phones ...string) []int64 {
	ids := make([]int64, 0, len(phones))
	for i, p := range phones {
		id := int64(i + 1)
		store.leads[id] = models.Lead{ID: id, Phone: p, Status: "lead"}
		ids = append(ids, id)
	}
	return ids
}

func TestRunSendsToAllRecipientsAndCompletes(t *testing.T) {
	store := newFakeStore()
	ids := seedLeads(store, "9876543210", "9876543211", "9876543212")
	job := seedJob(store, ids)

	sender := &fakeSender{}
	d := newTestDispatcher(store, sender)

	res, err := d.Run(context.Background(), Options{Now: testTime})
	require.NoError(t, err)

	assert.Equal(t, 1, res.ScannedJobs)
	assert.Equal(t, 1, res.ExecutedJobs)
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, 0, res.Failed)
	assert.Len(t, store.attempts, 3)
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 1, job.RunCount)

	// Phones are normalized before sending.
	assert.Contains(t, sender.sent, "919876543210")
}

func TestRunHonorsLeadsPerJobLimit(t *testing.T) {
	store := newFakeStore()
	ids := seedLeads(store, "9876543210", "9876543211", "9876543212")
	job := seedJob(store, ids)

	sender := &fakeSender{}
	d := newTestDispatcher(store, sender)

	res, err := d.Run(context.Background(), Options{Now: testTime, JobLimit: 1, LeadsPerJobLimit: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Sent)
	assert.Len(t, store.attempts, 2)
	assert.Equal(t, 1, res.JobResults[0].Remaining)
	// Truncated audience: the job is not completed, it goes back to
	// pending so the next pass can resume.
	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, 0, job.RunCount)
}

func TestRunIsIdempotentAcrossPasses(t *testing.T) {
	store := newFakeStore()
	ids := seedLeads(store, "9876543210", "9876543211", "9876543212")
	job := seedJob(store, ids)

	sender := &fakeSender{}
	d := newTestDispatcher(store, sender)

	_, err := d.Run(context.Background(), Options{Now: testTime, LeadsPerJobLimit: 2})
	require.NoError(t, err)
	require.Len(t, store.attempts, 2)

	// Second pass resumes the job and only sends to the remaining lead.
	res, err := d.Run(context.Background(), Options{Now: testTime.Add(time.Minute), LeadsPerJobLimit: 2})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Sent)
	assert.Len(t, store.attempts, 3)
	assert.Equal(t, models.JobCompleted, job.Status)

	// Third pass finds nothing due.
	res, err = d.Run(context.Background(), Options{Now: testTime.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ScannedJobs)
	assert.Len(t, store.attempts, 3)
}

func TestRunRecordsPartialFailuresWithoutFailingJob(t *testing.T) {
	store := newFakeStore()
	ids := seedLeads(store, "9876543210", "9876543211")
	job := seedJob(store, ids)

	sender := &fakeSender{failTo: map[string]error{
		"919876543211": errors.New("recipient unreachable"),
	}}
	d := newTestDispatcher(store, sender)

	res, err := d.Run(context.Background(), Options{Now: testTime})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, models.JobCompleted, job.Status)

	var failed *models.MessageAttempt
	for i := range store.attempts {
		if store.attempts[i].Status == models.AttemptFailed {
			failed = &store.attempts[i]
		}
	}
	require.NotNil(t, failed)
	assert.Contains(t, failed.FailureReason, "recipient unreachable")
}

func TestRunFailsJobOnEmptyContent(t *testing.T) {
	store := newFakeStore()
	ids := seedLeads(store, "9876543210")
	job := seedJob(store, ids)
	job.MessageContent = "   "

	sender := &fakeSender{}
	d := newTestDispatcher(store, sender)

	res, err := d.Run(context.Background(), Options{Now: testTime})
	require.NoError(t, err)

	assert.Equal(t, 0, res.ExecutedJobs)
	assert.Equal(t, "error", res.JobResults[0].Status)
	assert.Empty(t, store.attempts)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.LastError, "message content is empty")
}

func TestRunSkipsFutureJobs(t *testing.T) {
	store := newFakeStore()
	ids := seedLeads(store, "9876543210")
	job := seedJob(store, ids)
	job.DueAt = testTime.Add(time.Hour)

	d := newTestDispatcher(store, &fakeSender{})

	res, err := d.Run(context.Background(), Options{Now: testTime})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ScannedJobs)
	assert.Equal(t, models.JobPending, job.Status)
}

func TestRunReschedulesRecurringJob(t *testing.T) {
	store := newFakeStore()
	ids := seedLeads(store, "9876543210")
	job := seedJob(store, ids)
	job.Recurrence = models.Recurrence{Frequency: "daily", Interval: 1}

	d := newTestDispatcher(store, &fakeSender{})

	_, err := d.Run(context.Background(), Options{Now: testTime})
	require.NoError(t, err)

	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, 1, job.RunCount)
	assert.Equal(t, testTime.Add(24*time.Hour), job.DueAt)
}

func TestRunCompletesRecurringJobAtMaxRuns(t *testing.T) {
	store := newFakeStore()
	ids := seedLeads(store, "9876543210")
	job := seedJob(store, ids)
	job.Recurrence = models.Recurrence{Frequency: "daily"}
	job.MaxRuns = 1

	d := newTestDispatcher(store, &fakeSender{})

	_, err := d.Run(context.Background(), Options{Now: testTime})
	require.NoError(t, err)

	assert.Equal(t, models.JobCompleted, job.Status)
}

func TestRunReclaimsJobStrandedInRunning(t *testing.T) {
	store := newFakeStore()
	ids := seedLeads(store, "9876543210", "9876543211", "9876543212")
	job := seedJob(store, ids)

	// A previous pass claimed the job, sent to the first recipient and
	// died before finishing it.
	job.Status = models.JobRunning
	job.UpdatedAt = testTime.Add(-15 * time.Minute)
	store.attempts = append(store.attempts, models.MessageAttempt{
		JobID:  job.ID,
		LeadID: ids[0],
		Phone:  "919876543210",
		Status: models.AttemptSent,
		SentAt: job.UpdatedAt,
	})

	sender := &fakeSender{}
	d := newTestDispatcher(store, sender)

	res, err := d.Run(context.Background(), Options{Now: testTime})
	require.NoError(t, err)

	assert.Equal(t, 1, res.ScannedJobs)
	assert.Equal(t, 2, res.Sent)
	assert.Len(t, store.attempts, 3)
	assert.NotContains(t, sender.sent, "919876543210")
	assert.Equal(t, models.JobCompleted, job.Status)
}

func TestRunLeavesFreshRunningJobAlone(t *testing.T) {
	store := newFakeStore()
	ids := seedLeads(store, "9876543210")
	job := seedJob(store, ids)

	// Claimed moments ago by a concurrent pass that is still working.
	job.Status = models.JobRunning
	job.UpdatedAt = testTime.Add(-time.Minute)

	d := newTestDispatcher(store, &fakeSender{})

	res, err := d.Run(context.Background(), Options{Now: testTime})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ScannedJobs)
	assert.Empty(t, store.attempts)
}

func TestRunRecordsRateLimitedRecipientsAsFailed(t *testing.T) {
	store := newFakeStore()
	ids := seedLeads(store, "9876543210", "9876543211")
	seedJob(store, ids)

	sender := &fakeSender{}
	guard := ratelimit.NewFixedWindow(1, 0)
	d := New(store, sender, guard, nil, zap.NewNop(), 1)

	res, err := d.Run(context.Background(), Options{Now: testTime})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, sender.sent, 1)
	assert.Len(t, store.attempts, 2)
}

func TestRunSkipsLeadsWithUnusablePhone(t *testing.T) {
	store := newFakeStore()
	store.leads[1] = models.Lead{ID: 1, Phone: "no digits here", Status: "lead"}
	store.leads[2] = models.Lead{ID: 2, Phone: "9876543210", Status: "lead"}
	job := seedJob(store, []int64{1, 2})

	d := newTestDispatcher(store, &fakeSender{})

	res, err := d.Run(context.Background(), Options{Now: testTime})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, store.attempts, 1)
	assert.Equal(t, models.JobCompleted, job.Status)
}
