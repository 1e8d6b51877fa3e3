// Package store provides storage backends for BrewTap.
//
// It includes an in-memory store for tests and single-process deployments,
// plus SQLite and PostgreSQL backed stores for durable state.
package store

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brewtap/brewtap/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the persistence surface consumed by the ordering engine:
// conversation states, orders, stations, customer preferences, event breaks,
// inventory, and settings.
type Store interface {
	// Conversation state (one record per phone number)
	GetConversationState(phone string) (*models.ConversationState, error)
	SaveConversationState(state models.ConversationState) error
	DeleteConversationState(phone string) error

	// Orders
	CreateOrder(o models.Order) error
	GetOrderByNumber(number string) (*models.Order, error)
	LatestOrderByPhone(phone string) (*models.Order, error)
	LatestPendingOrderByPhone(phone string) (*models.Order, error)
	OrdersByPhoneSince(phone string, since time.Time) ([]models.Order, error)
	UpdateOrderStatus(number string, status models.OrderStatus) error

	// CreateOrderAndIncrementLoad inserts the order and bumps the assigned
	// station's load in one transaction where the backend supports it.
	CreateOrderAndIncrementLoad(o models.Order) error

	// Stations. IncrementStationLoad applies an atomic relative update so
	// concurrent commits never lose a count; the load floors at zero.
	ListStations() ([]models.Station, error)
	GetStation(id int) (*models.Station, error)
	GetStationByInboundNumber(number string) (*models.Station, error)
	SaveStation(s models.Station) error
	IncrementStationLoad(id, delta int) error

	// Customer preferences (keyed by phone or phone_friendName)
	GetPreference(key string) (*models.CustomerPreference, error)
	SavePreference(p models.CustomerPreference) error
	DeletePreference(key string) error

	// Event breaks, inventory, settings
	ListEventBreaks() ([]models.EventBreak, error)
	SaveEventBreak(b models.EventBreak) error
	ListIngredients() ([]models.Ingredient, error)
	SaveIngredient(i models.Ingredient) error
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error

	Close() error
}

// InMemoryStore is a thread-safe in-memory Store used by tests and
// single-process deployments.
type InMemoryStore struct {
	mu          sync.RWMutex
	convStates  map[string]models.ConversationState
	orders      []models.Order
	stations    map[int]models.Station
	preferences map[string]models.CustomerPreference
	breaks      []models.EventBreak
	ingredients map[string]models.Ingredient
	settings    map[string]string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		convStates:  make(map[string]models.ConversationState),
		stations:    make(map[int]models.Station),
		preferences: make(map[string]models.CustomerPreference),
		ingredients: make(map[string]models.Ingredient),
		settings:    make(map[string]string),
	}
}

func (s *InMemoryStore) GetConversationState(phone string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.convStates[phone]
	if !ok {
		return nil, nil
	}
	cp := st
	cp.Scratch = copyScratch(st.Scratch)
	return &cp, nil
}

func (s *InMemoryStore) SaveConversationState(state models.ConversationState) error {
	if state.Phone == "" {
		return models.ErrEmptyPhone
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state.Scratch = copyScratch(state.Scratch)
	s.convStates[state.Phone] = state
	return nil
}

func (s *InMemoryStore) DeleteConversationState(phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convStates, phone)
	return nil
}

func (s *InMemoryStore) CreateOrder(o models.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orders {
		if existing.OrderNumber == o.OrderNumber {
			return errors.New("duplicate order number: " + o.OrderNumber)
		}
	}
	s.orders = append(s.orders, o)
	return nil
}

func (s *InMemoryStore) CreateOrderAndIncrementLoad(o models.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orders {
		if existing.OrderNumber == o.OrderNumber {
			return errors.New("duplicate order number: " + o.OrderNumber)
		}
	}
	st, ok := s.stations[o.StationID]
	if !ok {
		return ErrNotFound
	}
	s.orders = append(s.orders, o)
	st.CurrentLoad++
	s.stations[o.StationID] = st
	return nil
}

func (s *InMemoryStore) GetOrderByNumber(number string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.orders {
		if s.orders[i].OrderNumber == number {
			o := s.orders[i]
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) LatestOrderByPhone(phone string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Order
	for i := range s.orders {
		o := s.orders[i]
		if o.Phone != phone {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = &o
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *InMemoryStore) LatestPendingOrderByPhone(phone string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Order
	for i := range s.orders {
		o := s.orders[i]
		if o.Phone != phone || o.Status != models.OrderStatusPending {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = &o
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *InMemoryStore) OrdersByPhoneSince(phone string, since time.Time) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Order
	for i := range s.orders {
		o := s.orders[i]
		if o.Phone == phone && !o.CreatedAt.Before(since) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) UpdateOrderStatus(number string, status models.OrderStatus) error {
	if !models.IsValidOrderStatus(status) {
		return models.ErrInvalidOrderStatus
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].OrderNumber == number {
			s.orders[i].Status = status
			now := time.Now()
			s.orders[i].UpdatedAt = now
			if status == models.OrderStatusCompleted {
				s.orders[i].CompletedAt = &now
			}
			return nil
		}
	}
	return ErrNotFound
}

func (s *InMemoryStore) ListStations() ([]models.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Station, 0, len(s.stations))
	for _, st := range s.stations {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) GetStation(id int) (*models.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (s *InMemoryStore) GetStationByInboundNumber(number string) (*models.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.stations {
		if st.InboundNumber != "" && st.InboundNumber == number {
			cp := st
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) SaveStation(station models.Station) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stations[station.ID] = station
	return nil
}

func (s *InMemoryStore) IncrementStationLoad(id, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stations[id]
	if !ok {
		return ErrNotFound
	}
	st.CurrentLoad += delta
	if st.CurrentLoad < 0 {
		st.CurrentLoad = 0
	}
	s.stations[id] = st
	return nil
}

func (s *InMemoryStore) GetPreference(key string) (*models.CustomerPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.preferences[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *InMemoryStore) SavePreference(p models.CustomerPreference) error {
	if p.Key == "" {
		return errors.New("preference key cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[p.Key] = p
	return nil
}

func (s *InMemoryStore) DeletePreference(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.preferences, key)
	return nil
}

func (s *InMemoryStore) ListEventBreaks() ([]models.EventBreak, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.EventBreak, len(s.breaks))
	copy(out, s.breaks)
	return out, nil
}

func (s *InMemoryStore) SaveEventBreak(b models.EventBreak) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.breaks {
		if s.breaks[i].ID == b.ID {
			s.breaks[i] = b
			return nil
		}
	}
	s.breaks = append(s.breaks, b)
	return nil
}

func (s *InMemoryStore) ListIngredients() ([]models.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Ingredient, 0, len(s.ingredients))
	for _, ing := range s.ingredients {
		out = append(out, ing)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemoryStore) SaveIngredient(i models.Ingredient) error {
	if strings.TrimSpace(i.Name) == "" {
		return errors.New("ingredient name cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingredients[strings.ToLower(i.Name)] = i
	return nil
}

func (s *InMemoryStore) GetSetting(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings[key], nil
}

func (s *InMemoryStore) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

func copyScratch(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
