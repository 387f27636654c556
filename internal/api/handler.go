// Package api exposes the HTTP surface: the dispatch-pass trigger, the
// operator job/lead endpoints, the provider webhook and the payment
// hash endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sankalp/internal/alert"
	"sankalp/internal/csvparser"
	"sankalp/internal/currency"
	"sankalp/internal/dispatch"
	"sankalp/internal/models"
)

// Runner triggers one dispatch pass.
type Runner interface {
	Run(ctx context.Context, opts dispatch.Options) (*dispatch.RunResult, error)
}

// Store is the persistence surface the handlers need.
type Store interface {
	CreateJob(ctx context.Context, job *models.ScheduledJob) error
	GetJobByPublicID(ctx context.Context, publicID string) (*models.ScheduledJob, error)
	ListJobs(ctx context.Context, status string, limit, offset int) ([]models.ScheduledJob, error)
	ListAttempts(ctx context.Context, jobID int64) ([]models.MessageAttempt, error)
	InsertLead(ctx context.Context, lead *models.Lead) error
	UpsertLeadByPhone(ctx context.Context, phoneNumber, source string, at time.Time) (*models.Lead, error)
	SetLeadOptedOut(ctx context.Context, phoneNumber string) error
	UpdateAttemptDelivery(ctx context.Context, waMessageID string, status models.AttemptStatus, failureReason string) error
	InsertWebhookEvent(ctx context.Context, e *models.WebhookEvent) error
}

type Handler struct {
	Store      Store
	Dispatcher Runner
	Log        *zap.Logger
	Alerts     *alert.Mailer
	Converter  *currency.Converter

	CronSecret         string
	WebhookVerifyToken string
	WebhookAppSecret   string

	// Deploy-time dispatch limits, overridable per trigger request.
	DefaultJobLimit         int
	DefaultLeadsPerJobLimit int

	PayUMerchantKey  string
	PayUMerchantSalt string
	PayUBaseURL      string
	ProcessingFeePct float64
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Post("/dispatch/run", h.requireSecret(h.RunDispatch))

	r.Post("/jobs", h.requireSecret(h.CreateJob))
	r.Get("/jobs", h.requireSecret(h.ListJobs))
	r.Get("/jobs/{id}", h.requireSecret(h.GetJob))

	r.Post("/leads/import", h.requireSecret(h.ImportLeads))

	r.Get("/webhook/whatsapp", h.VerifyWebhook)
	r.Post("/webhook/whatsapp", h.ReceiveWebhook)

	r.Post("/payments/payu/initiate", h.InitiatePayment)
	r.Post("/payments/payu/verify", h.VerifyPayment)

	return r
}

// requireSecret guards operator endpoints with the shared cron secret,
// accepted either as x-cron-secret or as a bearer token.
func (h *Handler) requireSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get("x-cron-secret")
		if provided == "" {
			auth := r.Header.Get("Authorization")
			provided = strings.TrimPrefix(auth, "Bearer ")
		}
		if h.CronSecret == "" ||
			subtle.ConstantTimeCompare([]byte(provided), []byte(h.CronSecret)) != 1 {
			respondError(w, http.StatusUnauthorized, "invalid or missing secret")
			return
		}
		next(w, r)
	}
}

// ----------------------------
// Dispatch trigger
// ----------------------------

func (h *Handler) RunDispatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		JobLimit         int `json:"jobLimit"`
		LeadsPerJobLimit int `json:"leadsPerJobLimit"`
	}
	// The body is optional; an empty or absent one uses the configured
	// deploy-time limits.
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.JobLimit <= 0 {
		body.JobLimit = h.DefaultJobLimit
	}
	if body.LeadsPerJobLimit <= 0 {
		body.LeadsPerJobLimit = h.DefaultLeadsPerJobLimit
	}

	result, err := h.Dispatcher.Run(r.Context(), dispatch.Options{
		JobLimit:         body.JobLimit,
		LeadsPerJobLimit: body.LeadsPerJobLimit,
	})
	if err != nil {
		h.Log.Error("dispatch pass failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.Log.Info("dispatch pass finished",
		zap.Int("scanned", result.ScannedJobs),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
	)

	if h.Alerts.Enabled() {
		go func(res *dispatch.RunResult) {
			if err := h.Alerts.PassSummary(res); err != nil {
				h.Log.Warn("ops alert failed", zap.Error(err))
			}
		}(result)
	}

	respondData(w, http.StatusOK, result)
}

// ----------------------------
// Jobs
// ----------------------------

type createJobRequest struct {
	Name           string            `json:"name"`
	MessageContent string            `json:"message_content"`
	TargetLeadIDs  []int64           `json:"target_lead_ids"`
	TargetFilter   models.LeadFilter `json:"target_filter"`
	SendAt         *time.Time        `json:"send_at"`
	DelayMinutes   *int              `json:"delay_minutes"`
	Recurrence     models.Recurrence `json:"recurrence"`
	MaxRuns        int               `json:"max_runs"`
	CreatedBy      string            `json:"created_by"`
}

func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var body createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if strings.TrimSpace(body.MessageContent) == "" {
		respondError(w, http.StatusBadRequest, "message_content is required")
		return
	}

	dueAt := time.Now()
	if body.SendAt != nil {
		dueAt = *body.SendAt
	} else if body.DelayMinutes != nil && *body.DelayMinutes > 0 {
		dueAt = time.Now().Add(time.Duration(*body.DelayMinutes) * time.Minute)
	}

	targetType := models.TargetFilter
	if len(body.TargetLeadIDs) > 0 {
		targetType = models.TargetLeadIDs
	}

	createdBy := body.CreatedBy
	if createdBy == "" {
		createdBy = "system"
	}

	job := &models.ScheduledJob{
		Name:           strings.TrimSpace(body.Name),
		MessageContent: strings.TrimSpace(body.MessageContent),
		TargetType:     targetType,
		TargetLeadIDs:  body.TargetLeadIDs,
		TargetFilter:   body.TargetFilter,
		Recurrence:     body.Recurrence,
		Status:         models.JobPending,
		DueAt:          dueAt,
		MaxRuns:        body.MaxRuns,
		CreatedBy:      createdBy,
	}

	if err := h.Store.CreateJob(r.Context(), job); err != nil {
		h.Log.Error("create job failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	respondData(w, http.StatusCreated, job)
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	jobs, err := h.Store.ListJobs(r.Context(), status, limit, offset)
	if err != nil {
		h.Log.Error("list jobs failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []models.ScheduledJob{}
	}

	respondData(w, http.StatusOK, jobs)
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "id")

	job, err := h.Store.GetJobByPublicID(r.Context(), publicID)
	if err != nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	attempts, err := h.Store.ListAttempts(r.Context(), job.ID)
	if err != nil {
		h.Log.Error("list attempts failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load attempts")
		return
	}

	respondData(w, http.StatusOK, map[string]any{
		"job":      job,
		"attempts": attempts,
	})
}

// ----------------------------
// Leads
// ----------------------------

func (h *Handler) ImportLeads(w http.ResponseWriter, r *http.Request) {
	leads, skipped, err := csvparser.ParseLeads(r.Body, 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	imported := 0
	for i := range leads {
		if err := h.Store.InsertLead(r.Context(), &leads[i]); err != nil {
			h.Log.Error("lead import failed",
				zap.String("phone", leads[i].Phone),
				zap.Error(err),
			)
			respondError(w, http.StatusInternalServerError, "failed to import leads")
			return
		}
		imported++
	}

	respondData(w, http.StatusOK, map[string]int{
		"imported": imported,
		"skipped":  skipped,
	})
}

// ----------------------------
// Response helpers
// ----------------------------

func respondData(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    data,
	})
}

func respondError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   msg,
	})
}
