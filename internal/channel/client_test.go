package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autokita/wa-campaign-engine/internal/apperrors"
	"github.com/autokita/wa-campaign-engine/internal/config"
	"github.com/autokita/wa-campaign-engine/internal/ratelimit"
	"github.com/autokita/wa-campaign-engine/pkg/clock"
)

func testConfig(baseURL string) config.ChannelConfig {
	return config.ChannelConfig{
		BaseURL:           baseURL,
		APIKey:            "test-key",
		RequestTimeout:    5 * time.Second,
		MessagesPerMinute: 100,
		MessageDelay:      time.Millisecond, // keep tests fast
		RetryAttempts:     3,
		RetryBackoff:      []int{0, 0, 0},
	}
}

func newTestClient(baseURL string, perMinute int) *Client {
	cfg := testConfig(baseURL)
	cfg.MessagesPerMinute = perMinute
	limiter := ratelimit.NewLimiter(perMinute, 0, clock.New())
	return NewClient(cfg, limiter)
}

func TestSendText_Success(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sendText", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"id":"true_628123456789@c.us_ABC123"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 100)
	id, err := client.SendText(context.Background(), "default", "08123456789", "Halo Budi")
	require.NoError(t, err)
	assert.Equal(t, "true_628123456789@c.us_ABC123", id)
	assert.Equal(t, "628123456789@c.us", gotBody["chatId"])
	assert.Equal(t, "Halo Budi", gotBody["text"])
}

func TestSendText_SerializedIDResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":{"fromMe":true,"_serialized":"true_628@c.us_XYZ"}}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 100)
	id, err := client.SendText(context.Background(), "default", "628123456789", "hi")
	require.NoError(t, err)
	assert.Equal(t, "true_628@c.us_XYZ", id)
}

func TestSendText_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"ok"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 1)

	_, err := client.SendText(context.Background(), "default", "628111", "first")
	require.NoError(t, err)

	_, err = client.SendText(context.Background(), "default", "628222", "second")
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimitedError(err))
	assert.Greater(t, apperrors.RetryAfter(err), time.Duration(0))
}

func TestSendText_TransientFailureRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":"recovered"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 100)
	id, err := client.SendText(context.Background(), "default", "628123", "retry me")
	require.NoError(t, err)
	assert.Equal(t, "recovered", id)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSendText_GatewayRejectionNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"number not on whatsapp"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 100)
	_, err := client.SendText(context.Background(), "default", "628123", "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrChannel)
	assert.Contains(t, err.Error(), "number not on whatsapp")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx must not be retried")
}

func TestSendText_RetryBudgetExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 100)
	_, err := client.SendText(context.Background(), "default", "628123", "down")
	require.Error(t, err)
	// Initial attempt plus the three scheduled retries.
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestCheckNumberExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/contacts/check-exists", r.URL.Path)
		assert.Equal(t, "628123456789@c.us", r.URL.Query().Get("phone"))
		w.Write([]byte(`{"numberExists":true}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 100)
	exists, err := client.CheckNumberExists(context.Background(), "default", "08123456789")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSendImage_CaptionAndFile(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sendImage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"id":"img-1"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 100)
	id, err := client.SendImage(context.Background(), "default", "628123", "https://cdn.example.com/promo.jpg", "Promo!")
	require.NoError(t, err)
	assert.Equal(t, "img-1", id)
	assert.Equal(t, "Promo!", gotBody["caption"])
	file := gotBody["file"].(map[string]interface{})
	assert.Equal(t, "https://cdn.example.com/promo.jpg", file["url"])
}
