package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/autokita/wa-campaign-engine/internal/apperrors"
	"github.com/autokita/wa-campaign-engine/internal/dispatch"
	"github.com/autokita/wa-campaign-engine/internal/model"
	storagemock "github.com/autokita/wa-campaign-engine/internal/storage/mock"
	"github.com/autokita/wa-campaign-engine/internal/usecase"
	"github.com/autokita/wa-campaign-engine/pkg/clock"
)

type senderStub struct{ mock.Mock }

func (m *senderStub) SendText(ctx context.Context, session, phone, text string) (string, error) {
	args := m.Called(ctx, session, phone, text)
	return args.String(0), args.Error(1)
}

func (m *senderStub) SendImage(ctx context.Context, session, phone, mediaURL, caption string) (string, error) {
	args := m.Called(ctx, session, phone, mediaURL, caption)
	return args.String(0), args.Error(1)
}

type enqueuerStub struct{ mock.Mock }

func (m *enqueuerStub) Enqueue(ctx context.Context, task dispatch.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

type gatewayStub struct{ mock.Mock }

func (m *gatewayStub) CreateSession(ctx context.Context, sessionName string) error {
	args := m.Called(ctx, sessionName)
	return args.Error(0)
}

func (m *gatewayStub) SessionStatus(ctx context.Context, sessionName string) (string, error) {
	args := m.Called(ctx, sessionName)
	return args.String(0), args.Error(1)
}

func (m *gatewayStub) Logout(ctx context.Context, sessionName string) error {
	args := m.Called(ctx, sessionName)
	return args.Error(0)
}

func (m *gatewayStub) Health(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

type apiFixture struct {
	campaignRepo *storagemock.CampaignRepoMock
	messageRepo  *storagemock.MessageRepoMock
	contactRepo  *storagemock.ContactRepoMock
	segmentRepo  *storagemock.SegmentRepoMock
	sequenceRepo *storagemock.SequenceRepoMock
	sessionRepo  *storagemock.SessionRepoMock
	queue        *enqueuerStub
	gateway      *gatewayStub
	server       *Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		campaignRepo: new(storagemock.CampaignRepoMock),
		messageRepo:  new(storagemock.MessageRepoMock),
		contactRepo:  new(storagemock.ContactRepoMock),
		segmentRepo:  new(storagemock.SegmentRepoMock),
		sequenceRepo: new(storagemock.SequenceRepoMock),
		sessionRepo:  new(storagemock.SessionRepoMock),
		queue:        new(enqueuerStub),
		gateway:      new(gatewayStub),
	}
	clk := clock.NewMock(time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC))
	sender := new(senderStub)
	audience := usecase.NewAudienceService(f.contactRepo, f.segmentRepo)
	delivery := usecase.NewDeliveryService(f.messageRepo, f.campaignRepo, clk)
	campaigns := usecase.NewCampaignService(
		f.campaignRepo, f.messageRepo, f.contactRepo,
		audience, delivery, sender, f.queue, 5*time.Second, clk,
	)
	sequences := usecase.NewSequenceService(f.sequenceRepo, f.contactRepo, f.messageRepo, sender, f.queue, clk)
	webhooks := usecase.NewWebhookService(f.contactRepo, f.messageRepo, f.sessionRepo, delivery, clk)
	sessions := usecase.NewSessionService(f.sessionRepo, f.gateway, clk)
	f.server = NewServer("0", zap.NewNop(), campaigns, audience, sequences, webhooks, sessions)
	return f
}

func (f *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "UP")

	rec = f.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "READY")
}

func TestWebhookEndpoint(t *testing.T) {
	t.Run("valid event returns ok", func(t *testing.T) {
		f := newAPIFixture(t)
		f.sessionRepo.On("UpdateStatus", mock.Anything, "sales-wa", "working", mock.Anything).Return(nil)

		rec := f.do(http.MethodPost, "/webhook",
			`{"event":"session.status","session":"sales-wa","payload":{"status":"WORKING"}}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "ok")
	})

	t.Run("internal failure still returns ok", func(t *testing.T) {
		f := newAPIFixture(t)
		f.sessionRepo.On("UpdateStatus", mock.Anything, "sales-wa", "working", mock.Anything).
			Return(apperrors.ErrDatabase)

		rec := f.do(http.MethodPost, "/webhook",
			`{"event":"session.status","session":"sales-wa","payload":{"status":"WORKING"}}`)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("garbage body still returns ok", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(http.MethodPost, "/webhook", `not json at all`)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCampaignEndpoints(t *testing.T) {
	t.Run("create returns 201", func(t *testing.T) {
		f := newAPIFixture(t)
		f.campaignRepo.On("Save", mock.Anything, mock.AnythingOfType("model.Campaign")).Return(nil)

		rec := f.do(http.MethodPost, "/campaigns",
			`{"name":"Promo Juli","message_template":"Halo [Nama]"}`)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), "draft")
	})

	t.Run("create without template returns 400", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(http.MethodPost, "/campaigns", `{"name":"Promo"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get missing campaign returns 404", func(t *testing.T) {
		f := newAPIFixture(t)
		f.campaignRepo.On("FindByID", mock.Anything, "nope").Return(nil, apperrors.ErrNotFound)

		rec := f.do(http.MethodGet, "/campaigns/nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("pause of a draft returns 409", func(t *testing.T) {
		f := newAPIFixture(t)
		campaign := model.NewCampaign(&model.Campaign{ID: "camp-1", Status: model.CampaignStatusDraft})
		f.campaignRepo.On("FindByID", mock.Anything, "camp-1").Return(campaign, nil)

		rec := f.do(http.MethodPost, "/campaigns/camp-1/pause", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("start enqueues and returns running", func(t *testing.T) {
		f := newAPIFixture(t)
		campaign := model.NewCampaign(&model.Campaign{ID: "camp-1", Status: model.CampaignStatusDraft})
		contacts := []model.Contact{*model.NewContact(&model.Contact{ID: "c1"})}

		f.campaignRepo.On("FindByID", mock.Anything, "camp-1").Return(campaign, nil)
		f.contactRepo.On("FindAll", mock.Anything).Return(contacts, nil)
		f.campaignRepo.On("Update", mock.Anything, mock.AnythingOfType("model.Campaign")).Return(nil)
		f.messageRepo.On("Save", mock.Anything, mock.AnythingOfType("model.Message")).Return(nil)
		f.queue.On("Enqueue", mock.Anything, mock.AnythingOfType("dispatch.Task")).Return(nil)

		rec := f.do(http.MethodPost, "/campaigns/camp-1/start", `{"session":"sales-wa"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "running")
	})

	t.Run("delete of non-draft returns 409", func(t *testing.T) {
		f := newAPIFixture(t)
		campaign := model.NewCampaign(&model.Campaign{ID: "camp-1", Status: model.CampaignStatusRunning})
		f.campaignRepo.On("FindByID", mock.Anything, "camp-1").Return(campaign, nil)

		rec := f.do(http.MethodDelete, "/campaigns/camp-1", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestSegmentEndpoints(t *testing.T) {
	t.Run("preview counts matching contacts", func(t *testing.T) {
		f := newAPIFixture(t)
		contacts := []model.Contact{
			*model.NewContact(&model.Contact{ID: "c1", VehicleInterest: "Toyota Avanza"}),
			*model.NewContact(&model.Contact{ID: "c2", VehicleInterest: "Honda Civic"}),
		}
		f.contactRepo.On("FindAll", mock.Anything).Return(contacts, nil)

		rec := f.do(http.MethodPost, "/segments/preview",
			`{"criteria":[{"field":"vehicle_interest","value":"Toyota"}]}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"count":1`)
	})

	t.Run("sync missing segment returns 404", func(t *testing.T) {
		f := newAPIFixture(t)
		f.segmentRepo.On("FindByID", mock.Anything, "nope").Return(nil, apperrors.ErrNotFound)

		rec := f.do(http.MethodPost, "/segments/nope/sync", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSequenceEndpoints(t *testing.T) {
	t.Run("enroll returns 201", func(t *testing.T) {
		f := newAPIFixture(t)
		seq := &model.FollowUpSequence{ID: "seq-1", IsActive: true}
		step := &model.SequenceStep{SequenceID: "seq-1", StepOrder: 0, DelayHours: 24, MessageTemplate: "Halo"}
		contact := model.NewContact(&model.Contact{ID: "c1"})

		f.sequenceRepo.On("FindSequenceByID", mock.Anything, "seq-1").Return(seq, nil)
		f.contactRepo.On("FindByID", mock.Anything, "c1").Return(contact, nil)
		f.sequenceRepo.On("FindStep", mock.Anything, "seq-1", 0).Return(step, nil)
		f.sequenceRepo.On("SaveContactSequence", mock.Anything, mock.AnythingOfType("model.ContactSequence")).Return(nil)
		f.queue.On("Enqueue", mock.Anything, mock.AnythingOfType("dispatch.Task")).Return(nil)

		rec := f.do(http.MethodPost, "/sequences/seq-1/enroll",
			`{"contact_id":"c1","session":"sales-wa"}`)
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("enroll without contact_id returns 400", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(http.MethodPost, "/sequences/seq-1/enroll", `{"session":"sales-wa"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSessionEndpoints(t *testing.T) {
	t.Run("start returns 201 with stored row", func(t *testing.T) {
		f := newAPIFixture(t)
		f.gateway.On("CreateSession", mock.Anything, "sales-wa").Return(nil)
		f.sessionRepo.On("UpdateStatus", mock.Anything, "sales-wa", model.SessionStatusStarting, mock.Anything).Return(nil)
		f.sessionRepo.On("FindByName", mock.Anything, "sales-wa").
			Return(&model.ChannelSession{SessionName: "sales-wa", Status: model.SessionStatusStarting}, nil)

		rec := f.do(http.MethodPost, "/sessions", `{"name":"sales-wa"}`)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"starting"`)
	})

	t.Run("status refreshes from gateway", func(t *testing.T) {
		f := newAPIFixture(t)
		f.gateway.On("SessionStatus", mock.Anything, "sales-wa").Return("WORKING", nil)
		f.sessionRepo.On("UpdateStatus", mock.Anything, "sales-wa", model.SessionStatusWorking, mock.Anything).Return(nil)
		f.sessionRepo.On("FindByName", mock.Anything, "sales-wa").
			Return(&model.ChannelSession{SessionName: "sales-wa", Status: model.SessionStatusWorking}, nil)

		rec := f.do(http.MethodGet, "/sessions/sales-wa", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"working"`)
	})

	t.Run("gateway health down returns 503", func(t *testing.T) {
		f := newAPIFixture(t)
		f.gateway.On("Health", mock.Anything).Return(false)

		rec := f.do(http.MethodGet, "/gateway/health", "")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
