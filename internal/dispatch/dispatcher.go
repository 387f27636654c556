// Package dispatch runs one pass of the scheduled-message dispatcher:
// claim due jobs, resolve their audiences, send through the messaging
// client and record every outcome in the append-only attempt log.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sankalp/internal/metrics"
	"sankalp/internal/models"
	"sankalp/internal/phone"
	"sankalp/internal/ratelimit"
	"sankalp/internal/whatsapp"
)

const (
	DefaultJobLimit    = 25
	MaxJobLimit        = 200
	DefaultLeadsPerJob = 200
	MaxLeadsPerJob     = 2000
)

// Store is the persistence surface the dispatcher needs.
type Store interface {
	ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error)
	LeadsByIDs(ctx context.Context, ids []int64, limit int) ([]models.Lead, error)
	LeadsByFilter(ctx context.Context, filter models.LeadFilter, limit int) ([]models.Lead, error)
	AttemptedLeadIDs(ctx context.Context, jobID int64) (map[int64]bool, error)
	InsertAttempt(ctx context.Context, a *models.MessageAttempt) (bool, error)
	FinishJob(ctx context.Context, id int64, status models.JobStatus, nextDue *time.Time, runCount int, lastError string) error
}

type Options struct {
	Now              time.Time
	JobLimit         int
	LeadsPerJobLimit int
}

type JobResult struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Attempted int    `json:"attempted"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Remaining int    `json:"remaining"`
	Error     string `json:"error,omitempty"`
}

type RunResult struct {
	ScannedJobs  int         `json:"scanned_jobs"`
	ExecutedJobs int         `json:"executed_jobs"`
	Sent         int         `json:"sent_messages"`
	Failed       int         `json:"failed_messages"`
	Skipped      int         `json:"skipped_messages"`
	JobResults   []JobResult `json:"job_results"`
}

type Dispatcher struct {
	store       Store
	sender      whatsapp.Sender
	guard       ratelimit.Guard
	limiter     *rate.Limiter
	log         *zap.Logger
	concurrency int
}

func New(store Store, sender whatsapp.Sender, guard ratelimit.Guard, limiter *rate.Limiter, log *zap.Logger, concurrency int) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		store:       store,
		sender:      sender,
		guard:       guard,
		limiter:     limiter,
		log:         log,
		concurrency: concurrency,
	}
}

// Run executes one dispatch pass. It claims at most JobLimit due jobs,
// sends to at most LeadsPerJobLimit recipients per job, and returns a
// summary. A storage failure while claiming aborts the pass; failures
// inside a job are recorded on that job and the pass moves on.
func (d *Dispatcher) Run(ctx context.Context, opts Options) (*RunResult, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	jobLimit := clamp(opts.JobLimit, DefaultJobLimit, MaxJobLimit)
	leadsLimit := clamp(opts.LeadsPerJobLimit, DefaultLeadsPerJob, MaxLeadsPerJob)

	jobs, err := d.store.ClaimDueJobs(ctx, now, jobLimit)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}

	metrics.DispatchPasses.Inc()

	result := &RunResult{
		ScannedJobs: len(jobs),
		JobResults:  make([]JobResult, 0, len(jobs)),
	}

	for i := range jobs {
		jr := d.runJob(ctx, &jobs[i], now, leadsLimit)
		if jr.Error == "" {
			result.ExecutedJobs++
		}
		result.Sent += jr.Sent
		result.Failed += jr.Failed
		result.Skipped += jr.Skipped
		result.JobResults = append(result.JobResults, jr)
	}

	return result, nil
}

func (d *Dispatcher) runJob(ctx context.Context, job *models.ScheduledJob, now time.Time, leadsLimit int) JobResult {
	jr := JobResult{JobID: job.PublicID, Status: "ok"}

	content := strings.TrimSpace(job.MessageContent)
	if content == "" {
		return d.failJob(ctx, job, jr, "message content is empty")
	}

	audience, err := d.resolveAudience(ctx, job)
	if err != nil {
		return d.failJob(ctx, job, jr, fmt.Sprintf("resolve audience: %v", err))
	}

	attempted, err := d.store.AttemptedLeadIDs(ctx, job.ID)
	if err != nil {
		return d.failJob(ctx, job, jr, fmt.Sprintf("load attempted recipients: %v", err))
	}

	pending := make([]models.Lead, 0, len(audience))
	for _, lead := range audience {
		if !attempted[lead.ID] {
			pending = append(pending, lead)
		}
	}

	toSend := pending
	if len(toSend) > leadsLimit {
		toSend = toSend[:leadsLimit]
	}
	jr.Remaining = len(pending) - len(toSend)

	d.sendBatch(ctx, job, content, toSend, now, &jr)

	// Bookkeeping after all recipient attempts have terminated.
	if jr.Remaining > 0 {
		// Truncated audience: the job stays due so the next pass can
		// pick up where this one stopped.
		if err := d.store.FinishJob(ctx, job.ID, models.JobPending, nil, job.RunCount, ""); err != nil {
			d.log.Error("failed to reschedule truncated job",
				zap.String("job_id", job.PublicID),
				zap.Error(err),
			)
		}
		return jr
	}

	runCount := job.RunCount + 1
	next := NextRunAt(job.Recurrence, now)

	status := models.JobCompleted
	if next != nil && (job.MaxRuns == 0 || runCount < job.MaxRuns) {
		status = models.JobPending
	} else {
		next = nil
	}

	if err := d.store.FinishJob(ctx, job.ID, status, next, runCount, ""); err != nil {
		d.log.Error("failed to finish job",
			zap.String("job_id", job.PublicID),
			zap.Error(err),
		)
		return jr
	}

	if status == models.JobCompleted {
		metrics.JobsCompleted.Inc()
	}

	return jr
}

func (d *Dispatcher) sendBatch(ctx context.Context, job *models.ScheduledJob, content string, leads []models.Lead, now time.Time, jr *JobResult) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	work := make(chan models.Lead)

	for i := 0; i < d.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for lead := range work {
				outcome := d.sendOne(ctx, job, content, lead, now)
				mu.Lock()
				jr.Attempted++
				switch outcome {
				case models.AttemptSent:
					jr.Sent++
				case models.AttemptFailed:
					jr.Failed++
				default:
					jr.Attempted--
					jr.Skipped++
				}
				mu.Unlock()
			}
		}()
	}

	for _, lead := range leads {
		select {
		case work <- lead:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(work)
	wg.Wait()
}

// sendOne attempts delivery to a single recipient and records the
// outcome. The empty status means the recipient was skipped without an
// attempt row (unusable phone number).
func (d *Dispatcher) sendOne(ctx context.Context, job *models.ScheduledJob, content string, lead models.Lead, now time.Time) models.AttemptStatus {
	to := phone.Normalize(lead.Phone)
	if to == "" {
		return ""
	}

	attempt := &models.MessageAttempt{
		JobID:  job.ID,
		LeadID: lead.ID,
		Phone:  to,
		SentAt: now,
	}

	if ok, reason := d.guard.Allow(job.CreatedBy, to, now); !ok {
		attempt.Status = models.AttemptFailed
		attempt.FailureReason = reason
		d.recordAttempt(ctx, attempt)
		metrics.MessageFailures.Inc()
		return models.AttemptFailed
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			attempt.Status = models.AttemptFailed
			attempt.FailureReason = "dispatch cancelled"
			d.recordAttempt(ctx, attempt)
			return models.AttemptFailed
		}
	}

	waID, err := d.sender.SendText(ctx, to, content)
	if err != nil {
		attempt.Status = models.AttemptFailed
		attempt.FailureReason = err.Error()
		d.recordAttempt(ctx, attempt)
		metrics.MessageFailures.Inc()

		d.log.Warn("message send failed",
			zap.String("job_id", job.PublicID),
			zap.String("to", to),
			zap.Error(err),
		)
		return models.AttemptFailed
	}

	attempt.Status = models.AttemptSent
	attempt.WAMessageID = waID
	d.recordAttempt(ctx, attempt)
	d.guard.Record(job.CreatedBy, to, now)
	metrics.MessagesSent.Inc()

	return models.AttemptSent
}

func (d *Dispatcher) recordAttempt(ctx context.Context, a *models.MessageAttempt) {
	inserted, err := d.store.InsertAttempt(ctx, a)
	if err != nil {
		d.log.Error("failed to record attempt",
			zap.Int64("job_id", a.JobID),
			zap.String("to", a.Phone),
			zap.Error(err),
		)
		return
	}
	if !inserted {
		d.log.Warn("duplicate attempt suppressed",
			zap.Int64("job_id", a.JobID),
			zap.String("to", a.Phone),
		)
	}
}

func (d *Dispatcher) resolveAudience(ctx context.Context, job *models.ScheduledJob) ([]models.Lead, error) {
	switch job.TargetType {
	case models.TargetLeadIDs:
		if len(job.TargetLeadIDs) == 0 {
			return nil, nil
		}
		return d.store.LeadsByIDs(ctx, job.TargetLeadIDs, MaxLeadsPerJob)
	case models.TargetFilter:
		return d.store.LeadsByFilter(ctx, job.TargetFilter, MaxLeadsPerJob)
	default:
		return nil, fmt.Errorf("unknown target type %q", job.TargetType)
	}
}

func (d *Dispatcher) failJob(ctx context.Context, job *models.ScheduledJob, jr JobResult, reason string) JobResult {
	jr.Status = "error"
	jr.Error = reason

	if err := d.store.FinishJob(ctx, job.ID, models.JobFailed, nil, job.RunCount, reason); err != nil {
		d.log.Error("failed to mark job failed",
			zap.String("job_id", job.PublicID),
			zap.Error(err),
		)
	}
	return jr
}

func clamp(v, def, max int) int {
	if v <= 0 {
		v = def
	}
	if v > max {
		v = max
	}
	return v
}
