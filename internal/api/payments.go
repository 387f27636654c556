package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"sankalp/internal/currency"
	"sankalp/internal/metrics"
	"sankalp/internal/payu"
	"sankalp/internal/phone"
)

type initiatePaymentRequest struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	ProductInfo string  `json:"product_info"`
	FirstName   string  `json:"first_name"`
	Email       string  `json:"email"`
	Phone       string  `json:"phone"`
	TxnID       string  `json:"txn_id"`
	SuccessURL  string  `json:"success_url"`
	FailureURL  string  `json:"failure_url"`
}

// InitiatePayment builds the gateway form: the total (with processing
// fee) converted to INR, the request hash, and the fields the browser
// must post to the gateway.
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	if h.PayUMerchantKey == "" || h.PayUMerchantSalt == "" {
		respondError(w, http.StatusInternalServerError, "payment gateway is not configured")
		return
	}

	var body initiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if !isFinitePositive(body.Amount) ||
		strings.TrimSpace(body.ProductInfo) == "" ||
		strings.TrimSpace(body.FirstName) == "" ||
		strings.TrimSpace(body.Email) == "" {
		respondError(w, http.StatusBadRequest, "missing or invalid required fields")
		return
	}

	// The gateway charges in INR; other checkout currencies are
	// converted first, then the processing fee is added on top.
	from := currency.Normalize(body.Currency)
	amountINR := h.Converter.Convert(body.Amount, from, currency.INR)
	total := amountINR * (1 + h.ProcessingFeePct/100)
	amount := fmt.Sprintf("%.2f", total)

	txnID := strings.TrimSpace(body.TxnID)
	if txnID == "" {
		// Gateway requires txnid unique and <= 25 chars.
		txnID = fmt.Sprintf("TXN-%d", time.Now().UnixMilli())
	}
	if len(txnID) > 25 {
		respondError(w, http.StatusBadRequest, "txn_id must be at most 25 characters")
		return
	}

	req := payu.Request{
		TxnID:       txnID,
		Amount:      amount,
		ProductInfo: payu.SanitizeField(body.ProductInfo),
		FirstName:   payu.SanitizeField(body.FirstName),
		Email:       payu.SanitizeField(body.Email),
	}
	hash := payu.RequestHash(h.PayUMerchantKey, h.PayUMerchantSalt, req)

	h.Log.Info("payment initiated",
		zap.String("txnid", txnID),
		zap.String("amount", amount),
		zap.String("currency", string(from)),
	)

	respondData(w, http.StatusOK, map[string]any{
		"action": h.PayUBaseURL + "/_payment",
		"fields": map[string]string{
			"key":         h.PayUMerchantKey,
			"txnid":       req.TxnID,
			"amount":      req.Amount,
			"productinfo": req.ProductInfo,
			"firstname":   req.FirstName,
			"email":       req.Email,
			"phone":       phone.Normalize(body.Phone),
			"surl":        body.SuccessURL,
			"furl":        body.FailureURL,
			"hash":        hash,
		},
	})
}

// VerifyPayment receives the gateway redirect fields as a form POST and
// verifies the response hash before trusting the status. A bad hash is
// a security failure: the transaction is reported unverified no matter
// what status claims.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	resp := payu.Response{
		TxnID:       r.PostFormValue("txnid"),
		Amount:      r.PostFormValue("amount"),
		ProductInfo: r.PostFormValue("productinfo"),
		FirstName:   r.PostFormValue("firstname"),
		Email:       r.PostFormValue("email"),
		Status:      r.PostFormValue("status"),
		UDF1:        r.PostFormValue("udf1"),
		UDF2:        r.PostFormValue("udf2"),
		UDF3:        r.PostFormValue("udf3"),
		UDF4:        r.PostFormValue("udf4"),
		UDF5:        r.PostFormValue("udf5"),
		Hash:        r.PostFormValue("hash"),
	}

	if resp.TxnID == "" {
		respondError(w, http.StatusBadRequest, "missing txnid")
		return
	}

	if !payu.VerifyResponse(h.PayUMerchantKey, h.PayUMerchantSalt, resp) {
		metrics.PaymentVerifications.WithLabelValues("rejected").Inc()
		h.Log.Warn("payment hash verification failed",
			zap.String("txnid", resp.TxnID),
			zap.String("status", resp.Status),
		)
		respondError(w, http.StatusBadRequest, "hash verification failed")
		return
	}

	paid := strings.EqualFold(resp.Status, "success")
	outcome := "verified_failure"
	if paid {
		outcome = "verified_success"
	}
	metrics.PaymentVerifications.WithLabelValues(outcome).Inc()

	respondData(w, http.StatusOK, map[string]any{
		"txnid":    resp.TxnID,
		"amount":   resp.Amount,
		"status":   strings.ToLower(resp.Status),
		"verified": true,
		"paid":     paid,
	})
}

func isFinitePositive(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f > 0
}
