package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"chatsync/internal/metrics"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservabilityPassesThrough(t *testing.T) {
	metrics.GetRegistry().Reset()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	handler := Observability(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("body"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/conversations/c1/messages", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "body", rec.Body.String())

	snap := metrics.GetSnapshot()
	require.Contains(t, snap.Counters, "http_requests_total,endpoint=/conversations/c1/messages,method=GET")
	assert.Contains(t, snap.Counters, "http_responses_total,status=418")
	assert.Contains(t, snap.Timers, "http_request_duration,method=GET")
}

func TestObservabilityDefaultsToOK(t *testing.T) {
	metrics.GetRegistry().Reset()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	handler := Observability(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("implicit 200"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	snap := metrics.GetSnapshot()
	assert.Contains(t, snap.Counters, "http_responses_total,status=200")
}
