package http

import (
	"errors"
	"net/http"
	"strconv"

	"bizxpense/internal/core"
	applog "bizxpense/internal/log"
	"bizxpense/internal/services"
)

func (s *Server) handleProcessRecurring(w http.ResponseWriter, r *http.Request, userID string) {
	ctx := r.Context()
	res, err := s.svc.Processor.ProcessDue(ctx, userID, s.now())
	s.metrics.recordRecurring(res)
	if err != nil {
		applog.FromContext(ctx).WithComponent(applog.ComponentRecurring).ErrorContext(ctx, "Recurring processing finished with errors",
			applog.FieldProcessed, res.Processed,
			applog.FieldGenerated, res.Generated,
			"failures", res.Failed,
			applog.FieldError, err)
		if res.Processed == 0 {
			writeError(w, http.StatusInternalServerError, "Failed to process recurring expenses")
			return
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListRecurring(w http.ResponseWriter, r *http.Request, userID string) {
	activeOnly := true
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid active parameter")
			return
		}
		activeOnly = b
	}

	list, err := s.svc.Recurring.List(r.Context(), userID, activeOnly)
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Listing recurring expenses failed", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "Failed to load recurring expenses")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateRecurring(w http.ResponseWriter, r *http.Request, userID string) {
	in, ok := s.decodeRecurringInput(w, r)
	if !ok {
		return
	}
	re, err := s.svc.Recurring.Create(r.Context(), userID, in, s.now())
	if err != nil {
		s.writeRecurringError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, re)
}

func (s *Server) handleGetRecurring(w http.ResponseWriter, r *http.Request, userID string) {
	re, err := s.svc.Recurring.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		s.writeRecurringError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, re)
}

func (s *Server) handleUpdateRecurring(w http.ResponseWriter, r *http.Request, userID string) {
	in, ok := s.decodeRecurringInput(w, r)
	if !ok {
		return
	}
	re, err := s.svc.Recurring.Update(r.Context(), userID, r.PathValue("id"), in, s.now())
	if err != nil {
		s.writeRecurringError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, re)
}

func (s *Server) handleDeleteRecurring(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.svc.Recurring.Delete(r.Context(), userID, r.PathValue("id")); err != nil {
		s.writeRecurringError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) decodeRecurringInput(w http.ResponseWriter, r *http.Request) (services.RecurringInput, bool) {
	var in services.RecurringInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		if core.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
		} else {
			writeError(w, http.StatusBadRequest, "Invalid request body")
		}
		return in, false
	}
	in.Vendor = sanitizeInput(in.Vendor)
	in.Description = sanitizeInput(in.Description)
	in.Notes = sanitizeInput(in.Notes)
	in.Tags = sanitizeInput(in.Tags)
	in.CategoryID = sanitizeInput(in.CategoryID)
	in.PaymentMethod = sanitizeInput(in.PaymentMethod)
	return in, true
}

func (s *Server) writeRecurringError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrRecurringNotFound):
		writeError(w, http.StatusNotFound, "Recurring expense not found")
	case core.IsValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		applog.FromContext(r.Context()).WithComponent(applog.ComponentRecurring).ErrorContext(r.Context(), "Recurring expense request failed", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "Failed to save recurring expense")
	}
}
