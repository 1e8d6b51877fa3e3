// Package api provides the HTTP surface: the Twilio inbound webhook plus a
// small operator API for stations and orders used by barista tooling.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/brewtap/brewtap/internal/messaging"
	"github.com/brewtap/brewtap/internal/models"
	"github.com/brewtap/brewtap/internal/store"
)

// Server wires HTTP routes over the store and messaging service.
type Server struct {
	store  store.Store
	twilio *messaging.TwilioService
	addr   string
}

// NewServer builds a Server listening on addr.
func NewServer(addr string, st store.Store, twilio *messaging.TwilioService) *Server {
	return &Server{store: st, twilio: twilio, addr: addr}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/twilio", s.twilio.WebhookHandler)
	mux.HandleFunc("/stations", s.stationsHandler)
	mux.HandleFunc("/orders", s.ordersHandler)
	mux.HandleFunc("/orders/status", s.orderStatusHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks.
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	slog.Info("API server listening", "addr", s.addr)
	return srv.ListenAndServe()
}

// stationsHandler lists stations on GET and upserts one on POST.
func (s *Server) stationsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		stations, err := s.store.ListStations()
		if err != nil {
			slog.Error("API station list failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, stations)
	case http.MethodPost:
		var station models.Station
		if err := json.NewDecoder(r.Body).Decode(&station); err != nil {
			http.Error(w, "invalid station payload", http.StatusBadRequest)
			return
		}
		if station.ID <= 0 || station.Capacity <= 0 {
			http.Error(w, "station id and capacity must be positive", http.StatusBadRequest)
			return
		}
		if err := s.store.SaveStation(station); err != nil {
			slog.Error("API station save failed", "error", err, "station_id", station.ID)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ordersHandler returns a customer's recent orders for the barista view.
func (s *Server) ordersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	phone := r.URL.Query().Get("phone")
	if phone == "" {
		http.Error(w, "phone query parameter required", http.StatusBadRequest)
		return
	}
	orders, err := s.store.OrdersByPhoneSince(phone, time.Now().Add(-24*time.Hour))
	if err != nil {
		slog.Error("API order lookup failed", "error", err, "phone", phone)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, orders)
}

type orderStatusRequest struct {
	OrderNumber string             `json:"order_number"`
	Status      models.OrderStatus `json:"status"`
}

// orderStatusHandler lets a barista advance an order's status. Terminal
// transitions release the station slot.
func (s *Server) orderStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req orderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.OrderNumber == "" || !models.IsValidOrderStatus(req.Status) {
		http.Error(w, "order_number and a valid status are required", http.StatusBadRequest)
		return
	}

	order, err := s.store.GetOrderByNumber(req.OrderNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		slog.Error("API order fetch failed", "error", err, "order_number", req.OrderNumber)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := s.store.UpdateOrderStatus(req.OrderNumber, req.Status); err != nil {
		slog.Error("API order status update failed", "error", err, "order_number", req.OrderNumber)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	wasOpen := order.Status == models.OrderStatusPending || order.Status == models.OrderStatusInProgress
	nowClosed := req.Status == models.OrderStatusCompleted || req.Status == models.OrderStatusCancelled
	if wasOpen && nowClosed && order.StationID > 0 {
		if err := s.store.IncrementStationLoad(order.StationID, -1); err != nil {
			slog.Error("API station load release failed", "error", err, "station_id", order.StationID)
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("API response encoding failed", "error", err)
	}
}
