package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Post("/replies/{id}/send-draft", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/replies/"+id+"/send-draft", nil))
	}

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/replies/{id}/send-draft", "409"))
	assert.Equal(t, float64(2), got)
}

func TestObserveHelpers(t *testing.T) {
	m := New()
	m.ObserveSend("INITIAL", nil)
	m.ObserveSend("REPLY", errors.New("smtp down"))
	m.ObserveAI("classify", time.Now(), nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.EmailsSent.WithLabelValues("REPLY", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AICalls.WithLabelValues("classify", "ok")))

	var nilMetrics *Metrics
	nilMetrics.ObserveSend("INITIAL", nil)
}

func TestHandler(t *testing.T) {
	m := New()
	m.RepliesIngested.Add(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "leadflow_replies_ingested_total 4"))
}
