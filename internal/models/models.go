package models

import "time"

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

type AttemptStatus string

const (
	AttemptSent      AttemptStatus = "sent"
	AttemptDelivered AttemptStatus = "delivered"
	AttemptRead      AttemptStatus = "read"
	AttemptFailed    AttemptStatus = "failed"
)

// TargetType selects how a job's audience is resolved.
type TargetType string

const (
	TargetLeadIDs TargetType = "lead_ids"
	TargetFilter  TargetType = "filter"
)

// Recurrence describes when a job runs again after a pass.
// Frequency "none" means one-shot.
type Recurrence struct {
	Frequency     string `json:"frequency"`
	Interval      int    `json:"interval,omitempty"`
	Weekdays      []int  `json:"weekdays,omitempty"`
	CustomMinutes int    `json:"custom_minutes,omitempty"`
}

// LeadFilter narrows the audience for filter-targeted jobs.
type LeadFilter struct {
	Statuses  []string `json:"statuses,omitempty"`
	LabelsAny []string `json:"labels_any,omitempty"`
}

type ScheduledJob struct {
	ID             int64      `json:"id"`
	PublicID       string     `json:"public_id"`
	Name           string     `json:"name"`
	MessageContent string     `json:"message_content"`
	TargetType     TargetType `json:"target_type"`
	TargetLeadIDs  []int64    `json:"target_lead_ids,omitempty"`
	TargetFilter   LeadFilter `json:"target_filter,omitempty"`
	Recurrence     Recurrence `json:"recurrence"`

	Status    JobStatus `json:"status"`
	DueAt     time.Time `json:"due_at"`
	RunCount  int       `json:"run_count"`
	MaxRuns   int       `json:"max_runs,omitempty"`
	LastError string    `json:"last_error,omitempty"`

	CreatedBy string     `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
}

// MessageAttempt is one row of the append-only outbound log.
// Exactly one row exists per (job, recipient); rows are never updated
// except for delivery-status transitions driven by webhook callbacks.
type MessageAttempt struct {
	ID            int64         `json:"id"`
	JobID         int64         `json:"job_id"`
	LeadID        int64         `json:"lead_id"`
	Phone         string        `json:"phone"`
	Status        AttemptStatus `json:"status"`
	WAMessageID   string        `json:"wa_message_id,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	SentAt        time.Time     `json:"sent_at"`
}

type Lead struct {
	ID            int64     `json:"id"`
	Phone         string    `json:"phone"`
	FirstName     string    `json:"first_name,omitempty"`
	Status        string    `json:"status"`
	Labels        []string  `json:"labels,omitempty"`
	Source        string    `json:"source"`
	OptedOut      bool      `json:"opted_out"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// WebhookEvent is the append-only audit record for every inbound
// provider callback. Never mutated after insert.
type WebhookEvent struct {
	ID          int64     `json:"id"`
	Source      string    `json:"source"`
	Kind        string    `json:"kind"`
	OK          bool      `json:"ok"`
	Message     string    `json:"message,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	WAMessageID string    `json:"wa_message_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	Payload     []byte    `json:"payload,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

const (
	EventKindVerify  = "verify"
	EventKindInbound = "inbound_message"
	EventKindStatus  = "status_update"
	EventKindError   = "error"
	EventKindUnknown = "unknown"

	EventSourceWhatsApp = "whatsapp"
)
