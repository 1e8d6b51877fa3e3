package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brewtap/brewtap/internal/messaging"
	"github.com/brewtap/brewtap/internal/models"
	"github.com/brewtap/brewtap/internal/store"
	"github.com/brewtap/brewtap/internal/twiliosms"
)

func newTestServer(t *testing.T) (*Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	svc := messaging.NewTwilioService(&twiliosms.MockClient{})
	return NewServer(":0", st, svc), st
}

func TestStationsRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	body := `{"id": 1, "status": "active", "capacity": 10, "name": "North Cart"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stations", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /stations = %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stations", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /stations = %d", rec.Code)
	}
	var stations []models.Station
	if err := json.NewDecoder(rec.Body).Decode(&stations); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(stations) != 1 || stations[0].Name != "North Cart" {
		t.Errorf("stations = %+v", stations)
	}
}

func TestStationValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stations", strings.NewReader(`{"id": 0, "capacity": 10}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero station id accepted: %d", rec.Code)
	}
}

func TestOrdersByPhone(t *testing.T) {
	srv, st := newTestServer(t)
	st.SaveStation(models.Station{ID: 1, Status: models.StationStatusActive, Capacity: 10})
	order := models.Order{
		OrderNumber: "150405-000001",
		Phone:       "61400000001",
		StationID:   1,
		Status:      models.OrderStatusPending,
		Details:     models.OrderDraft{Type: "latte"},
		CreatedAt:   time.Now(),
	}
	if err := st.CreateOrderAndIncrementLoad(order); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders?phone=61400000001", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /orders = %d", rec.Code)
	}
	var orders []models.Order
	if err := json.NewDecoder(rec.Body).Decode(&orders); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(orders) != 1 || orders[0].OrderNumber != "150405-000001" {
		t.Errorf("orders = %+v", orders)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing phone accepted: %d", rec.Code)
	}
}

func TestOrderStatusReleasesLoad(t *testing.T) {
	srv, st := newTestServer(t)
	st.SaveStation(models.Station{ID: 1, Status: models.StationStatusActive, Capacity: 10})
	order := models.Order{
		OrderNumber: "150405-000002",
		Phone:       "61400000001",
		StationID:   1,
		Status:      models.OrderStatusPending,
		Details:     models.OrderDraft{Type: "latte"},
		CreatedAt:   time.Now(),
	}
	if err := st.CreateOrderAndIncrementLoad(order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if s, _ := st.GetStation(1); s.CurrentLoad != 1 {
		t.Fatalf("load after create = %d", s.CurrentLoad)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/status",
		strings.NewReader(`{"order_number": "150405-000002", "status": "completed"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /orders/status = %d: %s", rec.Code, rec.Body.String())
	}

	updated, err := st.GetOrderByNumber("150405-000002")
	if err != nil {
		t.Fatalf("fetch order: %v", err)
	}
	if updated.Status != models.OrderStatusCompleted {
		t.Errorf("status = %s", updated.Status)
	}
	if s, _ := st.GetStation(1); s.CurrentLoad != 0 {
		t.Errorf("load after completion = %d, want 0", s.CurrentLoad)
	}

	// A second completion must not release the slot again.
	st.IncrementStationLoad(1, 2)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/status",
		strings.NewReader(`{"order_number": "150405-000002", "status": "completed"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat POST /orders/status = %d", rec.Code)
	}
	if s, _ := st.GetStation(1); s.CurrentLoad != 2 {
		t.Errorf("load after repeated completion = %d, want 2", s.CurrentLoad)
	}
}

func TestOrderStatusValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/status",
		strings.NewReader(`{"order_number": "150405-000003", "status": "teleported"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid status accepted: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/status",
		strings.NewReader(`{"order_number": "no-such", "status": "completed"}`)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown order = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
}
