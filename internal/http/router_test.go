package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-notify-backend/internal/config"
	"github.com/tbourn/go-notify-backend/internal/domain"
	"github.com/tbourn/go-notify-backend/internal/services"
)

type stubDeliverySvc struct{}

func (stubDeliverySvc) Deliver(context.Context, services.DeliverInput) (*services.DeliverResult, error) {
	return &services.DeliverResult{MessageID: "m1", RequestID: "q1"}, nil
}

func (stubDeliverySvc) GetDelivery(context.Context, string) (*services.DeliveryStatus, error) {
	return &services.DeliveryStatus{}, nil
}

func (stubDeliverySvc) ListAttemptsPage(context.Context, string, int, int) ([]domain.DeliveryAttempt, int64, error) {
	return nil, 0, nil
}

type stubPrefSvc struct{}

func (stubPrefSvc) FindByRecipient(context.Context, string) (*domain.ChannelPreference, error) {
	return nil, nil
}

func (stubPrefSvc) Upsert(_ context.Context, _ string, p *domain.ChannelPreference) (*domain.ChannelPreference, error) {
	return p, nil
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	RegisterRoutes(r, stubDeliverySvc{}, stubPrefSvc{}, cfg)
	return r
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	r := newRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("/health status = %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["status"] != "ok" {
		t.Fatalf("/health body = %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_") {
		t.Fatalf("/metrics status = %d", w.Code)
	}
}

func TestRouter_FallbacksAndSecurityHeaders(t *testing.T) {
	r := newRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("no-route status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("no-method status = %d", w.Code)
	}

	// Default CORS posture: allow-all.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if acao := w.Header().Get("Access-Control-Allow-Origin"); acao != "*" {
		t.Fatalf("ACAO = %q, want *", acao)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatal("X-Request-ID header missing")
	}
}

func TestRouter_MountsVersionedAPI(t *testing.T) {
	r := newRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deliveries",
		strings.NewReader(`{"correlation_id":"c1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /api/v1/deliveries status = %d, body = %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/recipients/r1/preferences", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET preferences status = %d", w.Code)
	}
}
