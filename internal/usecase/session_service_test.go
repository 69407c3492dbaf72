package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/autokita/wa-campaign-engine/internal/apperrors"
	"github.com/autokita/wa-campaign-engine/internal/model"
	storagemock "github.com/autokita/wa-campaign-engine/internal/storage/mock"
	"github.com/autokita/wa-campaign-engine/pkg/clock"
)

type gatewayMock struct {
	mock.Mock
}

func (m *gatewayMock) CreateSession(ctx context.Context, sessionName string) error {
	args := m.Called(ctx, sessionName)
	return args.Error(0)
}

func (m *gatewayMock) SessionStatus(ctx context.Context, sessionName string) (string, error) {
	args := m.Called(ctx, sessionName)
	return args.String(0), args.Error(1)
}

func (m *gatewayMock) Logout(ctx context.Context, sessionName string) error {
	args := m.Called(ctx, sessionName)
	return args.Error(0)
}

func (m *gatewayMock) Health(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

type sessionFixture struct {
	sessionRepo *storagemock.SessionRepoMock
	gateway     *gatewayMock
	clk         *clock.Mock
	svc         *SessionService
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		sessionRepo: new(storagemock.SessionRepoMock),
		gateway:     new(gatewayMock),
		clk:         clock.NewMock(time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)),
	}
	f.svc = NewSessionService(f.sessionRepo, f.gateway, f.clk)
	return f
}

func TestSessionStart(t *testing.T) {
	t.Run("starts gateway session and stores starting row", func(t *testing.T) {
		f := newSessionFixture(t)
		f.gateway.On("CreateSession", mock.Anything, "sales-wa").Return(nil)
		f.sessionRepo.On("UpdateStatus", mock.Anything, "sales-wa", model.SessionStatusStarting, f.clk.Now()).
			Return(apperrors.ErrNotFound)
		f.sessionRepo.On("Upsert", mock.Anything, mock.MatchedBy(func(s model.ChannelSession) bool {
			return s.SessionName == "sales-wa" && s.Status == model.SessionStatusStarting && s.LastSeenAt != nil
		})).Return(nil)
		f.sessionRepo.On("FindByName", mock.Anything, "sales-wa").
			Return(&model.ChannelSession{SessionName: "sales-wa", Status: model.SessionStatusStarting}, nil)

		session, err := f.svc.Start(context.Background(), "sales-wa")

		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusStarting, session.Status)
		f.gateway.AssertExpectations(t)
		f.sessionRepo.AssertExpectations(t)
	})

	t.Run("gateway failure surfaces without touching the store", func(t *testing.T) {
		f := newSessionFixture(t)
		f.gateway.On("CreateSession", mock.Anything, "sales-wa").Return(apperrors.ErrChannel)

		_, err := f.svc.Start(context.Background(), "sales-wa")

		require.Error(t, err)
		f.sessionRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	})

	t.Run("empty name rejected", func(t *testing.T) {
		f := newSessionFixture(t)

		_, err := f.svc.Start(context.Background(), "")

		require.Error(t, err)
		assert.True(t, apperrors.IsFatal(err))
	})
}

func TestSessionStatus(t *testing.T) {
	t.Run("refreshes stored row with lowercased gateway status", func(t *testing.T) {
		f := newSessionFixture(t)
		f.gateway.On("SessionStatus", mock.Anything, "sales-wa").Return("WORKING", nil)
		f.sessionRepo.On("UpdateStatus", mock.Anything, "sales-wa", model.SessionStatusWorking, f.clk.Now()).
			Return(nil)
		f.sessionRepo.On("FindByName", mock.Anything, "sales-wa").
			Return(&model.ChannelSession{SessionName: "sales-wa", Status: model.SessionStatusWorking}, nil)

		session, err := f.svc.Status(context.Background(), "sales-wa")

		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusWorking, session.Status)
	})
}

func TestSessionLogout(t *testing.T) {
	t.Run("marks stored session stopped", func(t *testing.T) {
		f := newSessionFixture(t)
		f.gateway.On("Logout", mock.Anything, "sales-wa").Return(nil)
		f.sessionRepo.On("UpdateStatus", mock.Anything, "sales-wa", model.SessionStatusStopped, f.clk.Now()).
			Return(nil)

		err := f.svc.Logout(context.Background(), "sales-wa")

		require.NoError(t, err)
		f.sessionRepo.AssertExpectations(t)
	})

	t.Run("session unknown locally is not an error", func(t *testing.T) {
		f := newSessionFixture(t)
		f.gateway.On("Logout", mock.Anything, "ghost-wa").Return(nil)
		f.sessionRepo.On("UpdateStatus", mock.Anything, "ghost-wa", model.SessionStatusStopped, f.clk.Now()).
			Return(apperrors.ErrNotFound)

		err := f.svc.Logout(context.Background(), "ghost-wa")

		require.NoError(t, err)
	})
}

func TestGatewayHealthy(t *testing.T) {
	f := newSessionFixture(t)
	f.gateway.On("Health", mock.Anything).Return(true)

	assert.True(t, f.svc.GatewayHealthy(context.Background()))
}
