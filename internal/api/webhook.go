package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"sankalp/internal/metrics"
	"sankalp/internal/models"
	"sankalp/internal/phone"
)

const maxWebhookBody = 1 << 20

// VerifyWebhook answers the provider's one-time subscription handshake:
// echo the challenge when the verify token matches, 403 otherwise.
func (h *Handler) VerifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if h.WebhookVerifyToken == "" {
		respondError(w, http.StatusInternalServerError, "webhook verify token is not configured")
		return
	}

	if mode == "subscribe" && token == h.WebhookVerifyToken && challenge != "" {
		h.recordEvent(r, &models.WebhookEvent{
			Source:     models.EventSourceWhatsApp,
			Kind:       models.EventKindVerify,
			OK:         true,
			ReceivedAt: time.Now(),
		})
		// The provider expects the raw challenge string back.
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}

	respondError(w, http.StatusForbidden, "verification failed")
}

// webhookPayload mirrors the Cloud API callback shape: entries carry
// changes, each with message-status updates and/or inbound messages.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Statuses []webhookStatus  `json:"statuses"`
				Messages []webhookMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	Errors      []struct {
		Title   string `json:"title"`
		Message string `json:"message"`
	} `json:"errors"`
}

type webhookMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
}

// ReceiveWebhook ingests a provider callback. The event row is written
// first; everything derived from it is best-effort and never turns the
// acknowledgment into an error, because the provider retries non-2xx
// responses.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if h.WebhookAppSecret != "" {
		if !h.validSignature(r, raw) {
			respondError(w, http.StatusUnauthorized, "invalid webhook signature")
			return
		}
	}

	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.recordEvent(r, &models.WebhookEvent{
			Source:     models.EventSourceWhatsApp,
			Kind:       models.EventKindError,
			OK:         false,
			Message:    "invalid JSON body",
			ReceivedAt: time.Now(),
		})
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	now := time.Now()

	recorded := 0
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				if h.applyStatusUpdate(r, st, raw, now) {
					recorded++
				}
			}
			for _, msg := range change.Value.Messages {
				if h.applyInboundMessage(r, msg, raw, now) {
					recorded++
				}
			}
		}
	}

	// Every accepted callback leaves at least one audit row, including
	// change kinds this service does not act on (contacts, reactions).
	if recorded == 0 {
		h.recordEvent(r, &models.WebhookEvent{
			Source:     models.EventSourceWhatsApp,
			Kind:       models.EventKindUnknown,
			OK:         true,
			Message:    "no recognized items in webhook payload",
			Payload:    raw,
			ReceivedAt: now,
		})
	}

	respondData(w, http.StatusOK, nil)
}

// validSignature checks x-hub-signature-256 ("sha256=<hex>") over the
// raw body against the configured app secret.
func (h *Handler) validSignature(r *http.Request, raw []byte) bool {
	header := r.Header.Get("x-hub-signature-256")
	provided := strings.TrimPrefix(header, "sha256=")
	if provided == header || provided == "" {
		return false
	}

	providedBytes, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.WebhookAppSecret))
	mac.Write(raw)
	return hmac.Equal(providedBytes, mac.Sum(nil))
}

func (h *Handler) applyStatusUpdate(r *http.Request, st webhookStatus, raw []byte, now time.Time) bool {
	waMessageID := strings.TrimSpace(st.ID)
	if waMessageID == "" {
		return false
	}

	status := models.AttemptStatus(strings.ToLower(st.Status))
	var failureReason string
	switch status {
	case models.AttemptSent, models.AttemptDelivered, models.AttemptRead:
	case models.AttemptFailed:
		if len(st.Errors) > 0 {
			failureReason = st.Errors[0].Title
			if failureReason == "" {
				failureReason = st.Errors[0].Message
			}
		}
		if failureReason == "" {
			failureReason = "failed"
		}
	default:
		return false
	}

	h.recordEvent(r, &models.WebhookEvent{
		Source:      models.EventSourceWhatsApp,
		Kind:        models.EventKindStatus,
		OK:          true,
		WAMessageID: waMessageID,
		Status:      string(status),
		Phone:       phone.Normalize(st.RecipientID),
		Payload:     raw,
		ReceivedAt:  now,
	})

	if err := h.Store.UpdateAttemptDelivery(r.Context(), waMessageID, status, failureReason); err != nil {
		h.Log.Warn("status derivation failed",
			zap.String("wa_message_id", waMessageID),
			zap.Error(err),
		)
	}
	return true
}

func (h *Handler) applyInboundMessage(r *http.Request, msg webhookMessage, raw []byte, now time.Time) bool {
	from := phone.Normalize(msg.From)
	if from == "" {
		return false
	}

	body := strings.TrimSpace(msg.Text.Body)
	if msg.Type != "text" || body == "" {
		return false
	}

	h.recordEvent(r, &models.WebhookEvent{
		Source:      models.EventSourceWhatsApp,
		Kind:        models.EventKindInbound,
		OK:          true,
		Phone:       from,
		WAMessageID: msg.ID,
		Message:     preview(body),
		Payload:     raw,
		ReceivedAt:  now,
	})

	if _, err := h.Store.UpsertLeadByPhone(r.Context(), from, "whatsapp", now); err != nil {
		h.Log.Warn("inbound lead upsert failed",
			zap.String("phone", from),
			zap.Error(err),
		)
		return true
	}

	switch strings.ToUpper(body) {
	case "STOP", "UNSUBSCRIBE", "OPTOUT":
		if err := h.Store.SetLeadOptedOut(r.Context(), from); err != nil {
			h.Log.Warn("opt-out flag failed",
				zap.String("phone", from),
				zap.Error(err),
			)
		}
	}
	return true
}

func (h *Handler) recordEvent(r *http.Request, e *models.WebhookEvent) {
	metrics.WebhookEvents.WithLabelValues(e.Kind).Inc()
	if err := h.Store.InsertWebhookEvent(r.Context(), e); err != nil {
		// The webhook path must stay resilient; never fail on audit writes.
		h.Log.Warn("webhook event insert failed", zap.Error(err))
	}
}

// preview trims an inbound body for the audit log so full message
// contents are not duplicated there.
func preview(body string) string {
	if len(body) > 80 {
		return body[:80]
	}
	return body
}
