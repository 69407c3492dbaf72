package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/autokita/wa-campaign-engine/internal/apperrors"
	"github.com/autokita/wa-campaign-engine/internal/model"
	"github.com/autokita/wa-campaign-engine/internal/storage"
	"github.com/autokita/wa-campaign-engine/pkg/clock"
)

// SessionGateway is the slice of the channel client the session manager uses.
type SessionGateway interface {
	CreateSession(ctx context.Context, sessionName string) error
	SessionStatus(ctx context.Context, sessionName string) (string, error)
	Logout(ctx context.Context, sessionName string) error
	Health(ctx context.Context) bool
}

// SessionService manages channel sessions through the gateway API. Session
// rows are refreshed from both API results here and status webhooks, so the
// stored status can already be newer than what a stale API response reports.
type SessionService struct {
	sessionRepo storage.SessionRepo
	gateway     SessionGateway
	clk         clock.Clock
}

func NewSessionService(sessionRepo storage.SessionRepo, gateway SessionGateway, clk clock.Clock) *SessionService {
	return &SessionService{
		sessionRepo: sessionRepo,
		gateway:     gateway,
		clk:         clk,
	}
}

// Start asks the gateway to start the named session and records it locally
// as starting. Starting an already-running session is a no-op on the gateway
// side.
func (s *SessionService) Start(ctx context.Context, sessionName string) (*model.ChannelSession, error) {
	if sessionName == "" {
		return nil, apperrors.NewFatal(apperrors.ErrBadRequest, "session name is required")
	}

	if err := s.gateway.CreateSession(ctx, sessionName); err != nil {
		return nil, handleChannelError(ctx, err, "Session Start")
	}
	if err := s.recordStatus(ctx, sessionName, model.SessionStatusStarting); err != nil {
		return nil, err
	}
	return s.get(ctx, sessionName)
}

// Status fetches the gateway's view of a session, refreshes the stored row
// and returns it.
func (s *SessionService) Status(ctx context.Context, sessionName string) (*model.ChannelSession, error) {
	if sessionName == "" {
		return nil, apperrors.NewFatal(apperrors.ErrBadRequest, "session name is required")
	}

	status, err := s.gateway.SessionStatus(ctx, sessionName)
	if err != nil {
		return nil, handleChannelError(ctx, err, "Session Status")
	}
	if err := s.recordStatus(ctx, sessionName, strings.ToLower(status)); err != nil {
		return nil, err
	}
	return s.get(ctx, sessionName)
}

// Logout disconnects the session from the provider account and marks the
// stored row stopped. An unknown local row is not an error; the gateway is
// the authority on which sessions exist.
func (s *SessionService) Logout(ctx context.Context, sessionName string) error {
	if sessionName == "" {
		return apperrors.NewFatal(apperrors.ErrBadRequest, "session name is required")
	}

	if err := s.gateway.Logout(ctx, sessionName); err != nil {
		return handleChannelError(ctx, err, "Session Logout")
	}
	err := s.sessionRepo.UpdateStatus(ctx, sessionName, model.SessionStatusStopped, s.clk.Now())
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return handleRepositoryError(ctx, err, "Session Logout", sessionName)
	}
	return nil
}

// GatewayHealthy reports whether the gateway answers its health endpoint.
func (s *SessionService) GatewayHealthy(ctx context.Context) bool {
	return s.gateway.Health(ctx)
}

func (s *SessionService) recordStatus(ctx context.Context, sessionName, status string) error {
	err := s.sessionRepo.UpdateStatus(ctx, sessionName, status, s.clk.Now())
	if err != nil && errors.Is(err, apperrors.ErrNotFound) {
		now := s.clk.Now()
		session := model.ChannelSession{
			ID:          uuid.New().String(),
			SessionName: sessionName,
			Status:      status,
			LastSeenAt:  &now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.sessionRepo.Upsert(ctx, session); err != nil {
			return handleRepositoryError(ctx, err, "Session Upsert", sessionName)
		}
		return nil
	}
	if err != nil {
		return handleRepositoryError(ctx, err, "Session UpdateStatus", sessionName)
	}
	return nil
}

func (s *SessionService) get(ctx context.Context, sessionName string) (*model.ChannelSession, error) {
	session, err := s.sessionRepo.FindByName(ctx, sessionName)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "Session FindByName", sessionName)
	}
	return session, nil
}
