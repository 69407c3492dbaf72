package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/autokita/wa-campaign-engine/internal/apperrors"
	"github.com/autokita/wa-campaign-engine/internal/model"
	"github.com/autokita/wa-campaign-engine/internal/usecase"
	"github.com/autokita/wa-campaign-engine/pkg/utils"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps application errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrConflict), errors.Is(err, apperrors.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, apperrors.ErrRateLimited):
		status = http.StatusTooManyRequests
	}
	utils.WriteJSONResponse(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.NewFatal(apperrors.ErrBadRequest, "invalid request body: %s", err.Error())
	}
	return nil
}

// handleWebhook ingests provider events. The provider always receives 200;
// internal failures are logged and counted, never surfaced, so the provider
// does not re-deliver on our errors.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var envelope usecase.WebhookEnvelope
	if err := decodeBody(r, &envelope); err != nil {
		s.logger.Warn("Discarding unparsable webhook body", zap.Error(err))
		utils.WriteJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	_ = s.webhooks.HandleEvent(r.Context(), envelope)
	utils.WriteJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sessionRequest struct {
	Session string `json:"session"`
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var input usecase.CreateCampaignInput
	if err := decodeBody(r, &input); err != nil {
		s.writeError(w, err)
		return
	}
	campaign, err := s.campaigns.Create(r.Context(), input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusCreated, campaign)
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.campaigns.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, campaigns)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := s.campaigns.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, campaign)
}

func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var input usecase.UpdateCampaignInput
	if err := decodeBody(r, &input); err != nil {
		s.writeError(w, err)
		return
	}
	campaign, err := s.campaigns.Update(r.Context(), r.PathValue("id"), input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, campaign)
}

func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.campaigns.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartCampaign(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	campaign, err := s.campaigns.Start(r.Context(), r.PathValue("id"), req.Session)
	if err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, campaign)
}

func (s *Server) handlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := s.campaigns.Pause(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, campaign)
}

func (s *Server) handleResumeCampaign(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	campaign, err := s.campaigns.Resume(r.Context(), r.PathValue("id"), req.Session)
	if err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, campaign)
}

func (s *Server) handleCampaignStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.campaigns.Statistics(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, stats)
}

func (s *Server) handleCreateSegment(w http.ResponseWriter, r *http.Request) {
	var input usecase.CreateSegmentInput
	if err := decodeBody(r, &input); err != nil {
		s.writeError(w, err)
		return
	}
	segment, err := s.audience.CreateSegment(r.Context(), input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusCreated, segment)
}

func (s *Server) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	segment, err := s.audience.GetSegment(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, segment)
}

func (s *Server) handleSyncSegment(w http.ResponseWriter, r *http.Request) {
	count, err := s.audience.Sync(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, map[string]int{"contact_count": count})
}

type previewRequest struct {
	Criteria []model.Criterion `json:"criteria"`
}

type previewResponse struct {
	Count    int             `json:"count"`
	Contacts []model.Contact `json:"contacts"`
}

func (s *Server) handlePreviewSegment(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	contacts, count, err := s.audience.Preview(r.Context(), req.Criteria)
	if err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, previewResponse{Count: count, Contacts: contacts})
}

func (s *Server) handleCreateSequence(w http.ResponseWriter, r *http.Request) {
	var input usecase.CreateSequenceInput
	if err := decodeBody(r, &input); err != nil {
		s.writeError(w, err)
		return
	}
	seq, err := s.sequences.Create(r.Context(), input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusCreated, seq)
}

func (s *Server) handleGetSequence(w http.ResponseWriter, r *http.Request) {
	seq, err := s.sequences.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, seq)
}

type enrollRequest struct {
	ContactID string `json:"contact_id"`
	Session   string `json:"session"`
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.ContactID == "" {
		s.writeError(w, apperrors.NewFatal(apperrors.ErrBadRequest, "contact_id is required"))
		return
	}
	enrollment, err := s.sequences.Enroll(r.Context(), req.ContactID, r.PathValue("id"), req.Session)
	if err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusCreated, enrollment)
}

func (s *Server) handleCancelEnrollment(w http.ResponseWriter, r *http.Request) {
	if err := s.sequences.Cancel(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type startSessionRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	session, err := s.sessions.Start(r.Context(), req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusCreated, session)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Status(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, session)
}

func (s *Server) handleSessionLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(r.Context(), r.PathValue("name")); err != nil {
		s.writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleGatewayHealth(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.GatewayHealthy(r.Context()) {
		utils.WriteJSONResponse(w, http.StatusServiceUnavailable, HealthResponse{Status: "DOWN"})
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, HealthResponse{Status: "UP"})
}
