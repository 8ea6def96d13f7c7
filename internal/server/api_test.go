package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fastzet/metastream/internal/health"
	"github.com/fastzet/metastream/internal/providers"
	"github.com/fastzet/metastream/internal/querycache"
)

// MockPager implements Pager for testing.
type MockPager struct {
	mock.Mock
}

func (m *MockPager) GetPage(ctx context.Context, query string, page int) querycache.Page {
	return m.Called(ctx, query, page).Get(0).(querycache.Page)
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["error"]
}

func TestSearch_ReturnsPage(t *testing.T) {
	pager := new(MockPager)
	pager.On("GetPage", mock.Anything, "t rex", 2).Return(querycache.Page{
		Query:       "t rex",
		Results:     []providers.Record{{Title: "Roar", URL: "https://v.example/1", Score: 42}},
		Count:       1,
		ElapsedTime: 0.25,
		Page:        2,
		Cached:      true,
	})

	s := New(":0", WithSearch(pager))
	rec := serve(s, http.MethodGet, "/api/search?q=t+rex&page=2")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 1.0, body["count"])
	assert.Equal(t, 0.25, body["elapsedTime"])
	assert.Equal(t, 2.0, body["page"])
	assert.Equal(t, true, body["cached"])
	assert.NotContains(t, body, "failed")
	results := body["results"].([]any)
	assert.Equal(t, "Roar", results[0].(map[string]any)["title"])
	pager.AssertExpectations(t)
}

func TestSearch_DefaultsToFirstPage(t *testing.T) {
	pager := new(MockPager)
	pager.On("GetPage", mock.Anything, "raptor", 1).Return(querycache.Page{Query: "raptor", Page: 1, Results: []providers.Record{}})

	s := New(":0", WithSearch(pager))
	rec := serve(s, http.MethodGet, "/api/search?q=raptor")

	assert.Equal(t, http.StatusOK, rec.Code)
	pager.AssertExpectations(t)
}

func TestSearch_MissingQuery(t *testing.T) {
	pager := new(MockPager)
	s := New(":0", WithSearch(pager))

	for _, target := range []string{"/api/search", "/api/search?q=", "/api/search?q=%20%20"} {
		rec := serve(s, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Contains(t, decodeError(t, rec), "missing query", target)
	}
	pager.AssertNotCalled(t, "GetPage", mock.Anything, mock.Anything, mock.Anything)
}

func TestSearch_InvalidPage(t *testing.T) {
	pager := new(MockPager)
	s := New(":0", WithSearch(pager))

	for _, target := range []string{"/api/search?q=a&page=0", "/api/search?q=a&page=-3", "/api/search?q=a&page=two"} {
		rec := serve(s, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Contains(t, decodeError(t, rec), "page", target)
	}
	pager.AssertNotCalled(t, "GetPage", mock.Anything, mock.Anything, mock.Anything)
}

func TestProviders_ListsStatuses(t *testing.T) {
	s := New(":0", WithProviders(func() []health.Status {
		return []health.Status{
			{Name: "YouTube", Checked: true, Healthy: false, Error: "quota"},
			{Name: "DinoTube", Healthy: true},
		}
	}))

	rec := serve(s, http.MethodGet, "/api/providers")
	require.Equal(t, http.StatusOK, rec.Code)

	var body ProvidersResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Providers, 2)
	assert.Equal(t, "YouTube", body.Providers[0].Name)
	assert.Equal(t, "quota", body.Providers[0].Error)
}

func TestMetrics_Exposed(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	s := New(":0", WithMetrics(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	rec := serve(s, http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_total 1")
}

func TestRoutes_AreGetOnly(t *testing.T) {
	pager := new(MockPager)
	s := New(":0",
		WithSearch(pager),
		WithProviders(func() []health.Status { return nil }),
		WithMetrics(promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})),
	)

	for _, path := range []string{"/api/search?q=x", "/api/providers", "/metrics"} {
		rec := serve(s, http.MethodPost, path)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}
	pager.AssertNotCalled(t, "GetPage", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestID_ReusesValidHeader(t *testing.T) {
	s := New(":0")
	id := "0b6f2f8e-3c1e-4a57-9f54-1f1b1c1d1e1f"

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, id)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get(RequestIDHeader))
}
