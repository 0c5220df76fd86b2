package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/skoret/assistant-bot/internal/billing"
	"github.com/skoret/assistant-bot/internal/metrics"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) ProcessPayment(ctx context.Context, providerID string) (billing.Outcome, error) {
	args := m.Called(ctx, providerID)
	return args.Get(0).(billing.Outcome), args.Error(1)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newTestServer(t *testing.T, processor PaymentProcessor, health HealthChecker, opts Options) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.New(reg).RemindersDelivered.Inc()
	srv := httptest.NewServer(New(newNoopLogger(), processor, health, reg, opts).Router())
	t.Cleanup(srv.Close)
	return srv
}

func notification(event, status string) string {
	return `{
		"type": "notification",
		"event": "` + event + `",
		"object": {
			"id": "2d9e-000f",
			"status": "` + status + `",
			"amount": {"value": "500.00", "currency": "RUB"}
		}
	}`
}

func post(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/yookassa/notifications", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestNotification_Succeeded(t *testing.T) {
	processor := &MockProcessor{}
	processor.On("ProcessPayment", mock.Anything, "2d9e-000f").Return(billing.OutcomeSucceeded, nil).Once()
	srv := newTestServer(t, processor, pinger{}, Options{})

	resp := post(t, srv, notification("payment.succeeded", "succeeded"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"outcome":"succeeded"`)
	processor.AssertExpectations(t)
}

func TestNotification_Canceled(t *testing.T) {
	processor := &MockProcessor{}
	processor.On("ProcessPayment", mock.Anything, "2d9e-000f").Return(billing.OutcomeCanceled, nil).Once()
	srv := newTestServer(t, processor, pinger{}, Options{})

	resp := post(t, srv, notification("payment.canceled", "canceled"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	processor.AssertExpectations(t)
}

func TestNotification_IgnoredEvent(t *testing.T) {
	processor := &MockProcessor{}
	srv := newTestServer(t, processor, pinger{}, Options{})

	resp := post(t, srv, notification("payment.waiting_for_capture", "waiting_for_capture"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	processor.AssertNotCalled(t, "ProcessPayment", mock.Anything, mock.Anything)
}

func TestNotification_BadRequests(t *testing.T) {
	processor := &MockProcessor{}
	srv := newTestServer(t, processor, pinger{}, Options{})

	for name, body := range map[string]string{
		"not json":      `{"event": `,
		"missing id":    `{"type": "notification", "event": "payment.succeeded", "object": {"status": "succeeded", "amount": {"value": "1", "currency": "RUB"}}}`,
		"wrong type":    strings.Replace(notification("payment.succeeded", "succeeded"), `"notification"`, `"refund"`, 1),
		"missing event": `{"type": "notification", "object": {"id": "x", "status": "succeeded", "amount": {"value": "1", "currency": "RUB"}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := post(t, srv, body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	processor.AssertNotCalled(t, "ProcessPayment", mock.Anything, mock.Anything)
}

func TestNotification_ProcessingErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "transient", err: errors.New("provider timeout"), code: http.StatusInternalServerError},
		{name: "unknown payment", err: billing.ErrUnknownPayment, code: http.StatusOK},
		{name: "amount mismatch", err: errors.Wrap(billing.ErrAmountMismatch, "wrapped"), code: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := &MockProcessor{}
			processor.On("ProcessPayment", mock.Anything, "2d9e-000f").Return(billing.Outcome(""), tt.err)
			srv := newTestServer(t, processor, pinger{}, Options{})

			resp := post(t, srv, notification("payment.succeeded", "succeeded"))
			assert.Equal(t, tt.code, resp.StatusCode)
		})
	}
}

func TestNotification_RateLimited(t *testing.T) {
	processor := &MockProcessor{}
	processor.On("ProcessPayment", mock.Anything, mock.Anything).Return(billing.OutcomeAlreadyProcessed, nil)
	srv := newTestServer(t, processor, pinger{}, Options{NotificationRate: 1})

	codes := make(map[int]int)
	for i := 0; i < 5; i++ {
		codes[post(t, srv, notification("payment.succeeded", "succeeded")).StatusCode]++
	}
	assert.Positive(t, codes[http.StatusOK])
	assert.Positive(t, codes[http.StatusTooManyRequests])
}

func TestHealth(t *testing.T) {
	ok := newTestServer(t, &MockProcessor{}, pinger{}, Options{})
	resp, err := http.Get(ok.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down := newTestServer(t, &MockProcessor{}, pinger{err: errors.New("database is closed")}, Options{})
	resp, err = http.Get(down.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t, &MockProcessor{}, pinger{}, Options{})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "assistant_bot_reminders_delivered_total 1")
}
