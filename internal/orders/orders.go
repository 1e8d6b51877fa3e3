// Package orders implements order commit and confirmation messaging: order
// number generation, queue priority, station resolution, the pending-order
// insert, preference updates, and the outbound confirmation text.
package orders

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brewtap/brewtap/internal/assignment"
	"github.com/brewtap/brewtap/internal/events"
	"github.com/brewtap/brewtap/internal/models"
	"github.com/brewtap/brewtap/internal/settings"
	"github.com/brewtap/brewtap/internal/store"
)

// Wait estimate bounds.
const (
	// MaxWaitEstimateMinutes caps the quoted wait time.
	MaxWaitEstimateMinutes = 30
	// defaultCompletionMinutes is assumed when a station has no history yet.
	defaultCompletionMinutes = 4.0
)

// ErrNoPendingOrder is returned by Cancel when the customer has nothing to cancel.
var ErrNoPendingOrder = errors.New("no pending order to cancel")

// Committer turns a confirmed draft into a persisted order and builds the
// confirmation reply.
type Committer struct {
	store    store.Store
	assigner *assignment.Engine
	settings *settings.Service
	events   events.Publisher
	now      func() time.Time
}

// NewCommitter wires a committer over the given collaborators.
func NewCommitter(st store.Store, assigner *assignment.Engine, cfg *settings.Service, pub events.Publisher) *Committer {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Committer{store: st, assigner: assigner, settings: cfg, events: pub, now: time.Now}
}

// NewOrderNumber derives a human-readable order number from the clock. The
// sub-second microsecond component makes collisions negligible; it is not
// cryptographically unique.
func NewOrderNumber(t time.Time) string {
	return fmt.Sprintf("%s-%06d", t.Format("150405"), t.Nanosecond()/1000)
}

// ResolvePriority maps an order to its queue priority: VIP orders get 1,
// regular orders a value in [5,9] from the current 15-minute bucket so older
// orders sort ahead within the tier. The banding resets each hour, which can
// rank a very old order from the previous hour behind a fresh one; kept as
// inherited behavior.
func ResolvePriority(vip bool, t time.Time) int {
	if vip {
		return models.PriorityVIP
	}
	p := models.PriorityRegularMin + t.Minute()/15
	if p > models.PriorityRegularMax {
		p = models.PriorityRegularMax
	}
	return p
}

// Confirm commits the draft for phone and returns the confirmation text.
// A station-resolution failure aborts before any insert; failures after the
// insert are logged and skipped so the committed order survives.
func (c *Committer) Confirm(phone string, draft models.OrderDraft, name string, isFriendOrder bool, friendName string) (string, error) {
	if err := draft.Validate(); err != nil {
		return "", err
	}

	result, err := c.assigner.Assign(assignment.Request{
		VIP:               draft.VIP,
		MilkType:          draft.Milk,
		OverrideStationID: draft.StationID,
	})
	if err != nil {
		// No station means no order; the caller surfaces the apology.
		slog.Warn("Order commit aborted, no station", "error", err, "phone", phone)
		return "", err
	}

	now := c.now()
	order := models.Order{
		ID:            uuid.NewString(),
		OrderNumber:   NewOrderNumber(now),
		Phone:         phone,
		CustomerName:  name,
		StationID:     result.StationID,
		Status:        models.OrderStatusPending,
		QueuePriority: ResolvePriority(draft.VIP, now),
		Details:       draft,
		Deferred:      result.Deferred,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if isFriendOrder {
		order.ForFriend = friendName
	}
	order.Details.StationID = result.StationID

	// Insert and load increment commit together; a failure here guarantees
	// no partial order exists.
	if err := c.store.CreateOrderAndIncrementLoad(order); err != nil {
		slog.Error("Order insert failed", "error", err, "phone", phone, "order_number", order.OrderNumber)
		return "", fmt.Errorf("failed to commit order: %w", err)
	}
	slog.Info("Order committed", "order_number", order.OrderNumber, "phone", phone, "station_id", order.StationID, "priority", order.QueuePriority, "deferred", order.Deferred)

	// Everything below is best-effort: the order is already committed.
	c.updatePreferences(phone, draft, name, isFriendOrder, friendName)
	c.publishEvent(order)

	return c.confirmationText(order), nil
}

// Cancel cancels the customer's most recent pending order and releases the
// station load slot.
func (c *Committer) Cancel(phone string) (*models.Order, error) {
	order, err := c.store.LatestPendingOrderByPhone(phone)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoPendingOrder
		}
		return nil, fmt.Errorf("failed to look up pending order: %w", err)
	}
	if err := c.store.UpdateOrderStatus(order.OrderNumber, models.OrderStatusCancelled); err != nil {
		return nil, fmt.Errorf("failed to cancel order %s: %w", order.OrderNumber, err)
	}
	if err := c.store.IncrementStationLoad(order.StationID, -1); err != nil {
		slog.Error("Failed to release station load on cancel", "error", err, "station_id", order.StationID, "order_number", order.OrderNumber)
	}
	order.Status = models.OrderStatusCancelled
	c.events.PublishOrderEvent(events.OrderEvent{
		Kind:        events.EventOrderCancelled,
		OrderNumber: order.OrderNumber,
		Phone:       order.Phone,
		StationID:   order.StationID,
		Status:      models.OrderStatusCancelled,
		Priority:    order.QueuePriority,
		Timestamp:   c.now(),
	})
	slog.Info("Order cancelled", "order_number", order.OrderNumber, "phone", phone)
	return order, nil
}

// EstimateWaitMinutes quotes a wait time for the station: its configured
// override when set, otherwise load times average completion time, capped.
func (c *Committer) EstimateWaitMinutes(stationID int) int {
	st, err := c.store.GetStation(stationID)
	if err != nil || st == nil {
		return MaxWaitEstimateMinutes
	}
	if st.WaitTimeMinutes > 0 {
		return st.WaitTimeMinutes
	}
	avg := st.AvgCompletionTime
	if avg <= 0 {
		avg = defaultCompletionMinutes
	}
	estimate := int(math.Ceil(float64(st.CurrentLoad) * avg))
	if estimate < int(avg) {
		estimate = int(avg)
	}
	if estimate > MaxWaitEstimateMinutes {
		estimate = MaxWaitEstimateMinutes
	}
	return estimate
}

func (c *Committer) updatePreferences(phone string, draft models.OrderDraft, name string, isFriendOrder bool, friendName string) {
	key := models.PreferenceKey(phone, "")
	displayName := name
	if isFriendOrder {
		// Friend orders write to a composite-keyed record, never the
		// primary customer's own preferences.
		key = models.PreferenceKey(phone, friendName)
		displayName = friendName
	}
	pref, err := c.store.GetPreference(key)
	if err != nil {
		slog.Error("Preference lookup failed, skipping update", "error", err, "key", key)
		return
	}
	now := c.now()
	if pref == nil {
		pref = &models.CustomerPreference{ID: uuid.NewString(), Key: key, CreatedAt: now}
	}
	if displayName != "" {
		pref.Name = displayName
	}
	pref.DrinkType = draft.Type
	pref.Milk = draft.Milk
	pref.Size = draft.Size
	pref.Sugar = draft.Sugar
	if draft.VIP {
		pref.VIP = true
	}
	pref.TotalOrders++
	pref.LoyaltyPoints++
	pref.UpdatedAt = now
	if err := c.store.SavePreference(*pref); err != nil {
		slog.Error("Preference update failed, order unaffected", "error", err, "key", key)
	}
}

func (c *Committer) publishEvent(order models.Order) {
	kind := events.EventOrderCreated
	if order.Deferred {
		kind = events.EventOrderDeferred
	}
	err := c.events.PublishOrderEvent(events.OrderEvent{
		Kind:        kind,
		OrderNumber: order.OrderNumber,
		Phone:       order.Phone,
		StationID:   order.StationID,
		Status:      order.Status,
		Priority:    order.QueuePriority,
		Deferred:    order.Deferred,
		Timestamp:   order.CreatedAt,
	})
	if err != nil {
		slog.Error("Order event publish failed, order unaffected", "error", err, "order_number", order.OrderNumber)
	}
}

// confirmationText builds the outbound reply. The station is named only when
// the requested milk pins the assignment; otherwise it stays hidden since
// load balancing may still shift the order before pickup messaging.
func (c *Committer) confirmationText(order models.Order) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Order %s confirmed", order.OrderNumber))
	if order.ForFriend != "" {
		b.WriteString(fmt.Sprintf(" for %s", order.ForFriend))
	}
	b.WriteString("! ")

	if order.Deferred {
		b.WriteString("All stations are busy right now, so we've scheduled your coffee for the next break. We'll text you when it's being made. ")
	} else if c.milkPinsStation(order) {
		stationName := fmt.Sprintf("station %d", order.StationID)
		if st, err := c.store.GetStation(order.StationID); err == nil && st.Name != "" {
			stationName = st.Name
		}
		b.WriteString(fmt.Sprintf("Head to %s (the only station with %s milk). ", stationName, order.Details.Milk))
		b.WriteString(fmt.Sprintf("Estimated wait: %d min. ", c.EstimateWaitMinutes(order.StationID)))
	} else {
		b.WriteString("We're finding you the shortest queue and will text you the station at pickup. ")
		b.WriteString(fmt.Sprintf("Estimated wait: %d min. ", c.EstimateWaitMinutes(order.StationID)))
	}

	if c.settings.GetBool(settings.KeyTrackingEnabled, false) {
		base := c.settings.Get(settings.KeyTrackingBaseURL, "")
		if base != "" {
			b.WriteString(fmt.Sprintf("Track it: %s/%s", strings.TrimRight(base, "/"), order.OrderNumber))
		}
	}
	return strings.TrimSpace(b.String())
}

// milkPinsStation reports whether the order's milk is served by exactly one
// active station, which must be the assigned one. ServesMilk is the same rule
// the assignment engine filters on, so the two never disagree on who can make
// the drink.
func (c *Committer) milkPinsStation(order models.Order) bool {
	milk := order.Details.Milk
	if milk == "" || milk == "none" {
		return false
	}
	stations, err := c.store.ListStations()
	if err != nil {
		return false
	}
	count := 0
	for _, st := range stations {
		if st.IsActive() && st.Capabilities.ServesMilk(milk) {
			count++
		}
	}
	return count == 1
}
