package models

import (
	"errors"
	"strings"
	"time"
)

// OrderStatus represents the lifecycle state of a committed order.
type OrderStatus string

const (
	// OrderStatusPending indicates the order is queued at a station.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusInProgress indicates a barista has started the order.
	OrderStatusInProgress OrderStatus = "in-progress"
	// OrderStatusCompleted indicates the order is ready for pickup.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates the order was cancelled.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusPaused indicates fulfilment is temporarily held.
	OrderStatusPaused OrderStatus = "paused"
)

// IsValidOrderStatus checks if the given order status is supported.
func IsValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusPending, OrderStatusInProgress, OrderStatusCompleted,
		OrderStatusCancelled, OrderStatusPaused:
		return true
	default:
		return false
	}
}

// Queue priority bounds. 1 is reserved for VIP orders; regular orders get a
// time-banded value in [5,9] so older orders sort ahead within the tier.
const (
	PriorityVIP        = 1
	PriorityRegularMin = 5
	PriorityRegularMax = 9
)

// Error variables for validation failures shared across modules.
var (
	ErrEmptyPhone         = errors.New("phone number cannot be empty")
	ErrEmptyOrderNumber   = errors.New("order number cannot be empty")
	ErrInvalidStage       = errors.New("invalid conversation stage")
	ErrInvalidOrderStatus = errors.New("invalid order status")
	ErrDraftMissingType   = errors.New("order draft requires a coffee type")
)

// OrderDraft is an in-memory order under construction. It becomes an Order
// only on confirmation.
type OrderDraft struct {
	Type      string `json:"type"`
	Milk      string `json:"milk,omitempty"`
	Size      string `json:"size,omitempty"`
	Sugar     string `json:"sugar,omitempty"`
	Notes     string `json:"notes,omitempty"`
	VIP       bool   `json:"vip,omitempty"`
	StationID int    `json:"station_id,omitempty"`
}

// Validate checks the draft has the minimum required fields for commit.
func (d *OrderDraft) Validate() error {
	if strings.TrimSpace(d.Type) == "" {
		return ErrDraftMissingType
	}
	return nil
}

// IsComplete reports whether the draft carries a coffee type plus at least
// one more recognized field, the threshold for the confirmation fast-path.
func (d *OrderDraft) IsComplete() bool {
	if strings.TrimSpace(d.Type) == "" {
		return false
	}
	return d.Milk != "" || d.Size != "" || d.Sugar != ""
}

// OrderEdit records a single post-confirmation change to an order.
type OrderEdit struct {
	Field    string    `json:"field"`
	OldValue string    `json:"old_value"`
	NewValue string    `json:"new_value"`
	EditedAt time.Time `json:"edited_at"`
}

// Order is a committed, persisted order. OrderNumber is immutable once
// assigned; QueuePriority never changes after creation except by the VIP
// code path.
type Order struct {
	ID            string      `json:"id"`
	OrderNumber   string      `json:"order_number"`
	Phone         string      `json:"phone"`
	CustomerName  string      `json:"customer_name,omitempty"`
	StationID     int         `json:"station_id"`
	Status        OrderStatus `json:"status"`
	QueuePriority int         `json:"queue_priority"`
	Details       OrderDraft  `json:"order_details"`
	ForFriend     string      `json:"for_friend,omitempty"` // friend's name for group sub-orders
	Deferred      bool        `json:"deferred,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	PickedUpAt    *time.Time  `json:"picked_up_at,omitempty"`
	EditHistory   []OrderEdit `json:"edit_history,omitempty"`
}

// Validate performs basic validation on a committed order.
func (o *Order) Validate() error {
	if o.Phone == "" {
		return ErrEmptyPhone
	}
	if o.OrderNumber == "" {
		return ErrEmptyOrderNumber
	}
	if !IsValidOrderStatus(o.Status) {
		return ErrInvalidOrderStatus
	}
	return o.Details.Validate()
}

// StationStatus represents the operational state of a station.
type StationStatus string

const (
	// StationStatusActive indicates the station accepts new orders.
	StationStatusActive StationStatus = "active"
	// StationStatusInactive indicates the station is closed.
	StationStatusInactive StationStatus = "inactive"
	// StationStatusMaintenance indicates the station is down for maintenance.
	StationStatusMaintenance StationStatus = "maintenance"
)

// StationCapabilities describes what a station can serve.
type StationCapabilities struct {
	MilkTypes   []string `json:"milk_types,omitempty"`
	CoffeeTypes []string `json:"coffee_types,omitempty"`
	VIPService  bool     `json:"vip_service,omitempty"`
	HighVolume  bool     `json:"high_volume,omitempty"`
}

// ServesMilk reports whether the station offers the given milk type. An
// empty capability list means no restriction.
func (c StationCapabilities) ServesMilk(milk string) bool {
	if milk == "" || len(c.MilkTypes) == 0 {
		return true
	}
	for _, m := range c.MilkTypes {
		if strings.EqualFold(m, milk) {
			return true
		}
	}
	return false
}

// Station is a physical coffee-making point. CurrentLoad is mutated only
// through the store's atomic increment/decrement.
type Station struct {
	ID                int                 `json:"id"`
	Name              string              `json:"name,omitempty"`
	Status            StationStatus       `json:"status"`
	CurrentLoad       int                 `json:"current_load"`
	Capacity          int                 `json:"capacity"`
	Capabilities      StationCapabilities `json:"capabilities"`
	AvgCompletionTime float64             `json:"avg_completion_time"` // minutes, exponentially weighted
	WaitTimeMinutes   int                 `json:"wait_time_minutes"`   // configured override; 0 means derive from load
	InboundNumber     string              `json:"inbound_number,omitempty"`
}

// IsActive reports whether the station accepts new orders.
func (s *Station) IsActive() bool {
	return s.Status == StationStatusActive
}

// LoadRatio returns current load as a fraction of capacity.
func (s *Station) LoadRatio() float64 {
	if s.Capacity <= 0 {
		return 1.0
	}
	return float64(s.CurrentLoad) / float64(s.Capacity)
}

// CustomerPreference holds a customer's saved name, usual drink, and
// counters. Friend orders use a composite "phone_friendName" key so they
// never overwrite the primary customer's own record.
type CustomerPreference struct {
	ID            string    `json:"id"`
	Key           string    `json:"key"` // phone, or phone_friendName for friend records
	Name          string    `json:"name,omitempty"`
	DrinkType     string    `json:"drink_type,omitempty"`
	Milk          string    `json:"milk,omitempty"`
	Size          string    `json:"size,omitempty"`
	Sugar         string    `json:"sugar,omitempty"`
	VIP           bool      `json:"vip,omitempty"`
	TotalOrders   int       `json:"total_orders"`
	LoyaltyPoints int       `json:"loyalty_points"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PreferenceKey builds the preference record key for a phone number and an
// optional friend name.
func PreferenceKey(phone, friendName string) string {
	if friendName == "" {
		return phone
	}
	return phone + "_" + strings.ToLower(strings.ReplaceAll(friendName, " ", ""))
}

// HasUsualOrder reports whether the record carries enough fields to replay
// a "usual" order.
func (p *CustomerPreference) HasUsualOrder() bool {
	return p != nil && p.DrinkType != ""
}

// EventBreak is a scheduled window in which only a subset of stations is
// open. Weekday uses time.Weekday numbering.
type EventBreak struct {
	ID         int          `json:"id"`
	Weekday    time.Weekday `json:"weekday"`
	Start      string       `json:"start"` // "15:04"
	End        string       `json:"end"`   // "15:04"
	StationIDs []int        `json:"station_ids,omitempty"`
}

// Contains reports whether t falls inside the break window on its weekday.
func (b EventBreak) Contains(t time.Time) bool {
	if t.Weekday() != b.Weekday {
		return false
	}
	start, err := time.Parse("15:04", b.Start)
	if err != nil {
		return false
	}
	end, err := time.Parse("15:04", b.End)
	if err != nil {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= start.Hour()*60+start.Minute() && minutes < end.Hour()*60+end.Minute()
}

// StartsAfter reports whether the break begins after t on the same weekday,
// i.e. it is an upcoming break the deferred-order policy can target.
func (b EventBreak) StartsAfter(t time.Time) bool {
	if t.Weekday() != b.Weekday {
		return false
	}
	start, err := time.Parse("15:04", b.Start)
	if err != nil {
		return false
	}
	return start.Hour()*60+start.Minute() > t.Hour()*60+t.Minute()
}

// IncludesStation reports whether the station stays open during the break.
// An empty subset means all stations are open.
func (b EventBreak) IncludesStation(id int) bool {
	if len(b.StationIDs) == 0 {
		return true
	}
	for _, s := range b.StationIDs {
		if s == id {
			return true
		}
	}
	return false
}

// Ingredient is a stock-tracked inventory item the catalog derives
// availability from.
type Ingredient struct {
	Name     string `json:"name"`
	Category string `json:"category"` // coffee, milk, sweetener, size
	Stock    int    `json:"stock"`
}

// Response represents an inbound SMS from a customer.
type Response struct {
	From string `json:"from"`
	// To is the inbound number the message arrived on. Station-specific
	// numbers resolve to a station preference during routing.
	To   string `json:"to,omitempty"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records the delivery status of an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// InboundMeta carries out-of-band attributes of an inbound SMS, such as a
// station id resolved from a station-specific inbound number.
type InboundMeta struct {
	StationID int `json:"station_id,omitempty"`
}
