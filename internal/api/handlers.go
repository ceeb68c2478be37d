package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/outreachd/outreachd/internal/campaign"
	"github.com/outreachd/outreachd/internal/escalation"
	"github.com/outreachd/outreachd/internal/store"
)

// CreateScheduleRequest is the request body for POST /schedules.
type CreateScheduleRequest struct {
	OwnerID          string `json:"owner_id"`
	RecipientName    string `json:"recipient_name"`
	RecipientAddress string `json:"recipient_address"`
	ReferralLink     string `json:"referral_link,omitempty"`
}

// CreateRecordRequest is the request body for POST /escalations.
type CreateRecordRequest struct {
	OwnerID            string     `json:"owner_id"`
	RecipientName      string     `json:"recipient_name"`
	RecipientAddress   string     `json:"recipient_address"`
	RecipientPhone     string     `json:"recipient_phone"`
	FollowUpEligibleAt *time.Time `json:"follow_up_eligible_at,omitempty"`
}

// RateLimitResponse is the response for GET /owners/{id}/ratelimit.
type RateLimitResponse struct {
	OwnerID string `json:"owner_id"`
	Limited bool   `json:"limited"`
	Count   int    `json:"count"`
	Ceiling int    `json:"ceiling"`
	Window  string `json:"window"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// ErrorResponse is the error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleCreateSchedule handles POST /api/v1/schedules.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.OwnerID == "" {
		s.sendError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	if req.RecipientAddress == "" {
		s.sendError(w, http.StatusBadRequest, "recipient_address is required")
		return
	}

	sched, err := s.schedules.Create(r.Context(), campaign.CreateParams{
		OwnerID:          req.OwnerID,
		RecipientName:    req.RecipientName,
		RecipientAddress: req.RecipientAddress,
		ReferralLink:     req.ReferralLink,
	})
	if err != nil {
		s.logger.Error("failed to create schedule", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create schedule")
		return
	}

	s.sendJSON(w, http.StatusCreated, sched)
}

// handleListSchedules handles GET /api/v1/schedules?owner_id=...
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		s.sendError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	scheds, err := s.schedules.ListByOwner(r.Context(), ownerID)
	if err != nil {
		s.logger.Error("failed to list schedules", "owner_id", ownerID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list schedules")
		return
	}
	if scheds == nil {
		scheds = []*campaign.Schedule{}
	}

	s.sendJSON(w, http.StatusOK, scheds)
}

// handleGetSchedule handles GET /api/v1/schedules/{id}.
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sched, err := s.schedules.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "Schedule not found")
			return
		}
		s.logger.Error("failed to get schedule", "schedule_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get schedule")
		return
	}

	s.sendJSON(w, http.StatusOK, sched)
}

// handlePause handles POST /api/v1/schedules/{id}/pause.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.updateSchedule(w, r, s.schedules.Pause)
}

// handleResume handles POST /api/v1/schedules/{id}/resume.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.updateSchedule(w, r, s.schedules.Resume)
}

// handleOptOut handles POST /api/v1/schedules/{id}/optout.
func (s *Server) handleOptOut(w http.ResponseWriter, r *http.Request) {
	s.updateSchedule(w, r, s.schedules.OptOut)
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) (*campaign.Schedule, error)) {
	id := chi.URLParam(r, "id")

	sched, err := op(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "Schedule not found")
			return
		}
		s.logger.Error("failed to update schedule", "schedule_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to update schedule")
		return
	}

	s.sendJSON(w, http.StatusOK, sched)
}

// handleRateLimit handles GET /api/v1/owners/{id}/ratelimit.
func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "id")
	now := s.clock.Now()

	count, err := s.limiter.Count(r.Context(), ownerID, now)
	if err != nil {
		s.logger.Error("failed to check rate limit", "owner_id", ownerID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to check rate limit")
		return
	}

	s.sendJSON(w, http.StatusOK, RateLimitResponse{
		OwnerID: ownerID,
		Limited: count >= s.limiter.Ceiling(),
		Count:   count,
		Ceiling: s.limiter.Ceiling(),
		Window:  s.limiter.Window().String(),
	})
}

// handleRunDrip handles POST /api/v1/batches/drip.
func (s *Server) handleRunDrip(w http.ResponseWriter, r *http.Request) {
	summary, err := s.drip.Run(r.Context())
	if err != nil {
		s.logger.Error("drip batch failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Drip batch failed")
		return
	}
	s.sendJSON(w, http.StatusOK, summary)
}

// handleRunEscalation handles POST /api/v1/batches/escalation.
func (s *Server) handleRunEscalation(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.escalation.Run(r.Context())
	if err != nil {
		s.logger.Error("escalation batch failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Escalation batch failed")
		return
	}
	if outcomes == nil {
		outcomes = []escalation.Outcome{}
	}
	s.sendJSON(w, http.StatusOK, outcomes)
}

// handleCreateRecord handles POST /api/v1/escalations.
func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.OwnerID == "" {
		s.sendError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	if req.RecipientAddress == "" {
		s.sendError(w, http.StatusBadRequest, "recipient_address is required")
		return
	}

	params := escalation.CreateParams{
		OwnerID:          req.OwnerID,
		RecipientName:    req.RecipientName,
		RecipientAddress: req.RecipientAddress,
		RecipientPhone:   req.RecipientPhone,
	}
	if req.FollowUpEligibleAt != nil {
		params.FollowUpEligibleAt = *req.FollowUpEligibleAt
	}

	rec, err := s.escalation.Create(r.Context(), params)
	if err != nil {
		s.logger.Error("failed to create outreach record", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create record")
		return
	}

	s.sendJSON(w, http.StatusCreated, rec)
}

// handleGetRecord handles GET /api/v1/escalations/{id}.
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.escalation.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "Record not found")
			return
		}
		s.logger.Error("failed to get outreach record", "record_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get record")
		return
	}

	s.sendJSON(w, http.StatusOK, rec)
}

// handleRecordOptOut handles POST /api/v1/escalations/{id}/optout.
func (s *Server) handleRecordOptOut(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.escalation.OptOut(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "Record not found")
			return
		}
		s.logger.Error("failed to opt out record", "record_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to opt out record")
		return
	}

	s.sendJSON(w, http.StatusOK, rec)
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: s.clock.Now().Sub(s.startTime).String(),
	})
}

// sendJSON sends a JSON response.
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response.
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
