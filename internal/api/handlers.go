package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/meridian-vc/backoffice/internal/consent"
	"github.com/meridian-vc/backoffice/internal/domain"
	"github.com/meridian-vc/backoffice/internal/privacy"
	"github.com/meridian-vc/backoffice/internal/storage"
	"github.com/meridian-vc/backoffice/internal/subscriber"
)

// Handlers carries the service dependencies for all HTTP endpoints.
type Handlers struct {
	registry *subscriber.Registry
	ledger   *consent.Ledger
	privacy  *privacy.Handler
	store    storage.Store
	limiter  *RateLimiter
}

// NewHandlers wires the endpoint handlers.
func NewHandlers(registry *subscriber.Registry, ledger *consent.Ledger, ph *privacy.Handler, store storage.Store, limiter *RateLimiter) *Handlers {
	return &Handlers{registry: registry, ledger: ledger, privacy: ph, store: store, limiter: limiter}
}

// HealthCheck reports service liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type subscribeRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Source      string `json:"source"`
	GDPRApplies *bool  `json:"gdprApplies,omitempty"`
	CCPAApplies *bool  `json:"ccpaApplies,omitempty"`
}

type subscribeResponse struct {
	Success          bool     `json:"success"`
	SubscriberID     string   `json:"subscriberId,omitempty"`
	UnsubscribeToken string   `json:"unsubscribeToken,omitempty"`
	Error            string   `json:"error,omitempty"`
	ValidationErrors []string `json:"validationErrors,omitempty"`
}

// Subscribe registers a new subscriber and records newsletter consent in the
// ledger. Duplicate emails are a conflict, not an error.
func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow(r.Context(), clientIP(r)) {
		respondError(w, http.StatusTooManyRequests, "Too many subscription attempts, try again later")
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Source == "" {
		req.Source = "website"
	}

	res, err := h.registry.Create(r.Context(), subscriber.CreateInput{
		Name:      req.Name,
		Email:     req.Email,
		Source:    req.Source,
		UserAgent: r.UserAgent(),
		IPAddress: clientIP(r),
	})
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, safeErrorMessage(http.StatusInternalServerError, err))
		return
	}
	if !res.Success {
		code := http.StatusBadRequest
		if res.Error == subscriber.ErrDuplicateEmail {
			code = http.StatusConflict
		}
		respondJSON(w, code, subscribeResponse{Success: false, Error: res.Error, ValidationErrors: res.ValidationErrors})
		return
	}

	if _, err := h.ledger.RecordConsent(r.Context(), consent.RecordInput{
		Email:       req.Email,
		Type:        domain.ConsentNewsletter,
		Given:       true,
		Method:      domain.MethodCheckbox,
		Source:      req.Source,
		Purposes:    []string{"newsletter"},
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
		GDPRApplies: req.GDPRApplies,
		CCPAApplies: req.CCPAApplies,
	}); err != nil {
		// The subscriber exists but the consent write failed. Surface the
		// failure so the client retries; Create stays idempotent at 409.
		respondSafeError(w, http.StatusInternalServerError, err, safeErrorMessage(http.StatusInternalServerError, err))
		return
	}

	_ = privacy.LogCommunication(r.Context(), h.store, domain.CommunicationRecord{
		Email:   req.Email,
		Kind:    "welcome",
		Subject: "Welcome to the newsletter",
	})

	respondJSON(w, http.StatusCreated, subscribeResponse{
		Success:          true,
		SubscriberID:     res.SubscriberID,
		UnsubscribeToken: h.ledger.GenerateUnsubscribeToken(req.Email, domain.ConsentNewsletter),
	})
}

type unsubscribeRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

// Unsubscribe processes list-unsubscribe links. The token is either the
// subscriber's stored opaque token or a signed link token; either one
// authorizes the change. On success the status flips to unsubscribed and a
// consent withdrawal is appended to the ledger.
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if r.Method == http.MethodGet {
		req.Email = r.URL.Query().Get("email")
		req.Token = r.URL.Query().Get("token")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Token == "" {
		respondError(w, http.StatusBadRequest, "email and token are required")
		return
	}

	authorized, err := h.authorizeUnsubscribe(r, req)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, safeErrorMessage(http.StatusInternalServerError, err))
		return
	}
	if !authorized {
		respondError(w, http.StatusForbidden, "Invalid unsubscribe token")
		return
	}

	res, err := h.registry.UpdateStatus(r.Context(), req.Email, domain.SubscriberUnsubscribed, &subscriber.StatusPatch{
		UserAgent: r.UserAgent(),
		IPAddress: clientIP(r),
	})
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, safeErrorMessage(http.StatusInternalServerError, err))
		return
	}
	if !res.Success {
		respondJSON(w, http.StatusNotFound, res)
		return
	}

	if err := h.ledger.WithdrawConsent(r.Context(), req.Email, domain.ConsentNewsletter, "unsubscribe_link", clientIP(r), r.UserAgent()); err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, safeErrorMessage(http.StatusInternalServerError, err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handlers) authorizeUnsubscribe(r *http.Request, req unsubscribeRequest) (bool, error) {
	sub, err := h.registry.GetByToken(r.Context(), req.Token)
	if err != nil {
		return false, err
	}
	if sub != nil && sub.Email == domain.NormalizeEmail(req.Email) {
		return true, nil
	}
	return h.ledger.VerifyUnsubscribeToken(req.Token, req.Email, domain.ConsentNewsletter), nil
}

type resubscribeRequest struct {
	Email  string `json:"email"`
	Source string `json:"source"`
}

// Resubscribe is the explicit re-opt-in path for a previously unsubscribed
// address. A fresh consent grant is appended; the registry re-mints the
// unsubscribe token.
func (h *Handlers) Resubscribe(w http.ResponseWriter, r *http.Request) {
	var req resubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Source == "" {
		req.Source = "resubscribe"
	}

	res, err := h.registry.Reactivate(r.Context(), req.Email)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, safeErrorMessage(http.StatusInternalServerError, err))
		return
	}
	if !res.Success {
		respondJSON(w, http.StatusConflict, res)
		return
	}

	if _, err := h.ledger.RecordConsent(r.Context(), consent.RecordInput{
		Email:     req.Email,
		Type:      domain.ConsentNewsletter,
		Given:     true,
		Method:    domain.MethodOptIn,
		Source:    req.Source,
		Purposes:  []string{"newsletter"},
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}); err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, safeErrorMessage(http.StatusInternalServerError, err))
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// CheckEmail answers whether an address has a live subscriber record.
func (h *Handlers) CheckEmail(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}
	res, err := h.registry.CheckEmailExists(r.Context(), email)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, safeErrorMessage(http.StatusInternalServerError, err))
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ListSubscribers returns subscribers filtered by status, source, and
// subscription date range.
func (h *Handlers) ListSubscribers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := domain.SubscriberStatus(q.Get("status"))
	if status == "" {
		status = domain.SubscriberActive
	}
	if !domain.ValidStatus(status) {
		respondError(w, http.StatusBadRequest, "unknown status")
		return
	}

	opts := subscriber.ListOptions{Source: q.Get("source")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		opts.Limit = n
	}
	for param, dst := range map[string]*time.Time{
		"subscribed_after":  &opts.SubscribedAfter,
		"subscribed_before": &opts.SubscribedBefore,
	} {
		if v := q.Get(param); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				respondError(w, http.StatusBadRequest, param+" must be RFC3339")
				return
			}
			*dst = t
		}
	}

	subs, err := h.registry.GetByStatus(r.Context(), status, opts)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, safeErrorMessage(http.StatusInternalServerError, err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"subscribers": subs,
		"count":       len(subs),
	})
}

// SubscriberStats returns per-status and per-source counts.
func (h *Handlers) SubscriberStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.registry.Stats(r.Context())
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, safeErrorMessage(http.StatusInternalServerError, err))
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// ConsentStatus returns the current consent state for (email, type).
func (h *Handlers) ConsentStatus(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}
	ct := domain.ConsentType(r.URL.Query().Get("type"))
	if ct == "" {
		ct = domain.ConsentNewsletter
	}
	if !domain.ValidConsentType(ct) {
		respondError(w, http.StatusBadRequest, "unknown consent type")
		return
	}

	rec, err := h.ledger.GetStatus(r.Context(), email, ct)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, safeErrorMessage(http.StatusInternalServerError, err))
		return
	}
	if rec == nil {
		respondJSON(w, http.StatusOK, map[string]any{"hasConsent": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"hasConsent": rec.ConsentGiven,
		"record":     rec,
	})
}

// ConsentHistory returns the full ledger for an email, newest first.
func (h *Handlers) ConsentHistory(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}
	recs, err := h.ledger.History(r.Context(), email)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, safeErrorMessage(http.StatusInternalServerError, err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"history": recs,
		"count":   len(recs),
	})
}

type policyUpdateRequest struct {
	Email   string `json:"email"`
	Type    string `json:"type"`
	Version string `json:"version"`
}

// ConsentPolicyUpdate re-stamps active grants with a new privacy policy
// version after a policy change.
func (h *Handlers) ConsentPolicyUpdate(w http.ResponseWriter, r *http.Request) {
	var req policyUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Version == "" {
		respondError(w, http.StatusBadRequest, "email and version are required")
		return
	}
	ct := domain.ConsentType(req.Type)
	if ct == "" {
		ct = domain.ConsentNewsletter
	}
	if !domain.ValidConsentType(ct) {
		respondError(w, http.StatusBadRequest, "unknown consent type")
		return
	}

	if err := h.ledger.UpdateForPolicyChange(r.Context(), req.Email, ct, req.Version); err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, safeErrorMessage(http.StatusInternalServerError, err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type privacyRequest struct {
	Email              string            `json:"email"`
	VerificationMethod string            `json:"verificationMethod"`
	RetainForLegal     *bool             `json:"retainForLegal,omitempty"`
	Corrections        map[string]string `json:"corrections,omitempty"`
}

func decodePrivacyRequest(w http.ResponseWriter, r *http.Request) (privacyRequest, bool) {
	var req privacyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return req, false
	}
	if req.VerificationMethod == "" {
		req.VerificationMethod = "email_link"
	}
	return req, true
}

// PrivacyAccess fulfills an access/portability request with a full export.
func (h *Handlers) PrivacyAccess(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePrivacyRequest(w, r)
	if !ok {
		return
	}
	export, err := h.privacy.HandleAccessRequest(r.Context(), req.Email, req.VerificationMethod)
	if err != nil {
		// ErrRequestFailed is already non-leaky; detail is in server logs.
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, export)
}

// PrivacyDeletion fulfills an erasure request. Retention for legal holds
// defaults to on: the anonymized shell preserves the audit trail.
func (h *Handlers) PrivacyDeletion(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePrivacyRequest(w, r)
	if !ok {
		return
	}
	retain := true
	if req.RetainForLegal != nil {
		retain = *req.RetainForLegal
	}
	summary, err := h.privacy.HandleDeletionRequest(r.Context(), req.Email, req.VerificationMethod, retain)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// PrivacyRectification applies allow-listed corrections to the subject's
// subscriber record.
func (h *Handlers) PrivacyRectification(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePrivacyRequest(w, r)
	if !ok {
		return
	}
	if len(req.Corrections) == 0 {
		respondError(w, http.StatusBadRequest, "corrections are required")
		return
	}
	if err := h.privacy.HandleRectificationRequest(r.Context(), req.Email, req.Corrections, req.VerificationMethod); err != nil {
		if errors.Is(err, privacy.ErrEmailInUse) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
