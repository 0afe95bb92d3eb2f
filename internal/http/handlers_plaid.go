package http

import (
	"errors"
	"net/http"

	"bizxpense/internal/aggregator"
	"bizxpense/internal/core"
	applog "bizxpense/internal/log"
	"bizxpense/internal/services"
)

// handleWebhook always acknowledges a well-formed notification so the
// aggregator does not retry; sync failures are only logged.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := applog.FromContext(ctx).WithComponent(applog.ComponentWebhook)

	var evt services.WebhookEvent
	if err := decodeJSON(w, r, &evt, false); err != nil {
		logger.ErrorContext(ctx, "Webhook payload rejected", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "Webhook processing failed")
		return
	}

	s.metrics.webhooksReceived.Add(1)
	if err := s.svc.Webhooks.Receive(ctx, evt); err != nil {
		logger.ErrorContext(ctx, "Webhook sync failed",
			applog.FieldExternalItemID, evt.ItemID,
			applog.FieldWebhookCode, evt.Code,
			applog.FieldError, err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

type syncRequest struct {
	ItemID string `json:"itemId"`
}

type syncFailure struct {
	ItemID          string `json:"itemId"`
	InstitutionName string `json:"institutionName"`
	Error           string `json:"error"`
}

type syncResponse struct {
	services.SyncResult
	Failures []syncFailure `json:"failures,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, userID string) {
	ctx := r.Context()

	var req syncRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	summary, err := s.svc.Sync.SyncAll(ctx, userID, sanitizeInput(req.ItemID))
	if errors.Is(err, services.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, "Linked account not found")
		return
	}

	s.metrics.recordSync(summary)
	failed := summary.Failed()
	if err != nil && len(failed) == len(summary.Items) {
		applog.FromContext(ctx).WithComponent(applog.ComponentSync).ErrorContext(ctx, "Sync failed", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "Failed to sync transactions")
		return
	}

	resp := syncResponse{SyncResult: summary.SyncResult}
	for _, it := range failed {
		resp.Failures = append(resp.Failures, syncFailure{
			ItemID:          it.ItemID,
			InstitutionName: it.InstitutionName,
			Error:           failureMessage(it.Err),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// failureMessage reduces an item failure to something safe to show the user.
func failureMessage(err error) string {
	if aggregator.NeedsReauth(err) {
		return "Re-authentication required"
	}
	var aggErr *aggregator.Error
	if errors.As(err, &aggErr) && aggErr.Code != "" {
		return "Aggregator error: " + aggErr.Code
	}
	return "Sync failed"
}

func (s *Server) handleCreateLinkToken(w http.ResponseWriter, r *http.Request, userID string) {
	token, err := s.svc.Accounts.CreateLinkToken(r.Context(), userID)
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Link token creation failed", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "Failed to create link token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"link_token": token})
}

type exchangeRequest struct {
	PublicToken string `json:"public_token"`
	Metadata    struct {
		Institution services.Institution `json:"institution"`
	} `json:"metadata"`
}

type exchangeResponse struct {
	Success bool `json:"success"`
	services.LinkResult
}

func (s *Server) handleExchangeToken(w http.ResponseWriter, r *http.Request, userID string) {
	var req exchangeRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	inst := services.Institution{
		ID:   sanitizeInput(req.Metadata.Institution.ID),
		Name: sanitizeInput(req.Metadata.Institution.Name),
	}
	res, err := s.svc.Accounts.ExchangePublicToken(r.Context(), userID, sanitizeInput(req.PublicToken), inst)
	if errors.Is(err, core.ErrMissingPublicToken) {
		writeError(w, http.StatusBadRequest, "Missing public token")
		return
	}
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Public token exchange failed", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "Failed to link account")
		return
	}
	writeJSON(w, http.StatusOK, exchangeResponse{Success: true, LinkResult: res})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request, userID string) {
	items, err := s.svc.Accounts.ListItems(r.Context(), userID)
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Listing linked accounts failed", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "Failed to load linked accounts")
		return
	}
	if items == nil {
		items = []core.LinkedItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request, userID string) {
	err := s.svc.Accounts.Disconnect(r.Context(), userID, r.PathValue("id"))
	if errors.Is(err, services.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, "Linked account not found")
		return
	}
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Disconnect failed", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "Failed to disconnect account")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
