package httpapi

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/autokita/wa-campaign-engine/internal/usecase"
	"github.com/autokita/wa-campaign-engine/pkg/utils"
)

// Server exposes the webhook endpoint, the campaign control surface and the
// health probes on one HTTP listener.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *zap.Logger

	campaigns *usecase.CampaignService
	audience  *usecase.AudienceService
	sequences *usecase.SequenceService
	webhooks  *usecase.WebhookService
	sessions  *usecase.SessionService
}

// HealthResponse is the response structure for health check endpoints
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// NewServer creates a new API server
func NewServer(
	port string,
	logger *zap.Logger,
	campaigns *usecase.CampaignService,
	audience *usecase.AudienceService,
	sequences *usecase.SequenceService,
	webhooks *usecase.WebhookService,
	sessions *usecase.SessionService,
) *Server {
	mux := http.NewServeMux()

	server := &Server{
		httpServer: &http.Server{
			Addr:    ":" + port,
			Handler: mux,
		},
		mux:       mux,
		logger:    logger,
		campaigns: campaigns,
		audience:  audience,
		sequences: sequences,
		webhooks:  webhooks,
		sessions:  sessions,
	}

	mux.HandleFunc("GET /health", server.handleHealth)
	mux.HandleFunc("GET /ready", server.handleReady)

	mux.HandleFunc("POST /webhook", server.handleWebhook)

	mux.HandleFunc("POST /campaigns", server.handleCreateCampaign)
	mux.HandleFunc("GET /campaigns", server.handleListCampaigns)
	mux.HandleFunc("GET /campaigns/{id}", server.handleGetCampaign)
	mux.HandleFunc("PATCH /campaigns/{id}", server.handleUpdateCampaign)
	mux.HandleFunc("DELETE /campaigns/{id}", server.handleDeleteCampaign)
	mux.HandleFunc("POST /campaigns/{id}/start", server.handleStartCampaign)
	mux.HandleFunc("POST /campaigns/{id}/pause", server.handlePauseCampaign)
	mux.HandleFunc("POST /campaigns/{id}/resume", server.handleResumeCampaign)
	mux.HandleFunc("GET /campaigns/{id}/statistics", server.handleCampaignStatistics)

	mux.HandleFunc("POST /segments", server.handleCreateSegment)
	mux.HandleFunc("GET /segments/{id}", server.handleGetSegment)
	mux.HandleFunc("POST /segments/{id}/sync", server.handleSyncSegment)
	mux.HandleFunc("POST /segments/preview", server.handlePreviewSegment)

	mux.HandleFunc("POST /sequences", server.handleCreateSequence)
	mux.HandleFunc("GET /sequences/{id}", server.handleGetSequence)
	mux.HandleFunc("POST /sequences/{id}/enroll", server.handleEnroll)
	mux.HandleFunc("POST /enrollments/{id}/cancel", server.handleCancelEnrollment)

	mux.HandleFunc("POST /sessions", server.handleStartSession)
	mux.HandleFunc("GET /sessions/{name}", server.handleSessionStatus)
	mux.HandleFunc("POST /sessions/{name}/logout", server.handleSessionLogout)
	mux.HandleFunc("GET /gateway/health", server.handleGatewayHealth)

	return server
}

// RegisterMetricsHandler adds the /metrics endpoint handler.
// Should only be called if metrics are enabled.
func (s *Server) RegisterMetricsHandler(handler http.Handler) {
	s.logger.Info("Registering /metrics endpoint")
	s.mux.Handle("GET /metrics", handler)
}

// Start begins the HTTP server
func (s *Server) Start() {
	go func() {
		s.logger.Info("Starting API server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// handleHealth handles the /health endpoint for liveness probes
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "UP",
		Version: "1.0.0",
	}

	utils.WriteJSONResponse(w, http.StatusOK, resp)
}

// handleReady handles the /ready endpoint for readiness probes
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "READY",
		Details: map[string]string{
			"timestamp": utils.FormatISO8601(utils.Now()),
		},
	}

	utils.WriteJSONResponse(w, http.StatusOK, resp)
}
