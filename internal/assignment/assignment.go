// Package assignment selects a fulfilment station for an order based on
// live station load, capabilities, VIP service, and the event break schedule.
package assignment

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/brewtap/brewtap/internal/models"
)

// Load threshold above which the deferred-order policy kicks in.
const deferralLoadThreshold = 0.8

var (
	// ErrNoStations is returned when zero stations are configured. Callers
	// must surface "no stations available" to the customer; there is no
	// fallback station.
	ErrNoStations = errors.New("no stations configured")
	// ErrNoActiveStations is returned when stations exist but none accept
	// orders right now.
	ErrNoActiveStations = errors.New("no active stations available")
)

// Request carries the order attributes the engine routes on.
type Request struct {
	VIP bool
	// MilkType is the requested milk, empty when none or not yet known.
	MilkType string
	// OverrideStationID pins the assignment when positive: set from a
	// station-specific inbound number or an in-text "station N" mention.
	OverrideStationID int
}

// Result is the engine's decision. Deferred means the order was assigned to
// a station that opens at the next scheduled break instead of being queued
// immediately.
type Result struct {
	StationID int
	Deferred  bool
}

// stationSource is the slice of the store the engine reads.
type stationSource interface {
	ListStations() ([]models.Station, error)
	GetStation(id int) (*models.Station, error)
	ListEventBreaks() ([]models.EventBreak, error)
}

// Engine implements the multi-criteria station selection algorithm.
type Engine struct {
	store stationSource
	// now and randFloat are injectable for tests.
	now       func() time.Time
	randFloat func() float64
}

// NewEngine creates an assignment engine over the given store.
func NewEngine(st stationSource) *Engine {
	return &Engine{
		store:     st,
		now:       time.Now,
		randFloat: rand.Float64,
	}
}

// Assign picks a station for the request. Selection criteria, in priority
// order: explicit override, VIP routing, milk-exclusivity, break-period
// routing, the deferred-order policy, then weighted load balancing.
func (e *Engine) Assign(req Request) (Result, error) {
	// Explicit override wins when the station actually exists.
	if req.OverrideStationID > 0 {
		if st, err := e.store.GetStation(req.OverrideStationID); err == nil && st != nil {
			slog.Debug("Assignment using explicit station override", "station_id", st.ID)
			return Result{StationID: st.ID}, nil
		}
		slog.Warn("Assignment override station not found, falling through", "station_id", req.OverrideStationID)
	}

	stations, err := e.store.ListStations()
	if err != nil {
		return Result{}, fmt.Errorf("failed to list stations: %w", err)
	}
	if len(stations) == 0 {
		slog.Warn("Assignment requested with zero stations configured")
		return Result{}, ErrNoStations
	}

	active := filterActive(stations)
	if len(active) == 0 {
		slog.Warn("Assignment requested with no active stations", "total", len(stations))
		return Result{}, ErrNoActiveStations
	}

	if req.VIP {
		if st := leastLoaded(filterVIP(active)); st != nil {
			slog.Debug("Assignment VIP routed", "station_id", st.ID)
			return Result{StationID: st.ID}, nil
		}
		st := leastLoaded(active)
		slog.Debug("Assignment VIP fallback to least-loaded", "station_id", st.ID)
		return Result{StationID: st.ID}, nil
	}

	// Milk exclusivity: if exactly one active station serves the milk, the
	// customer must land there.
	if req.MilkType != "" && req.MilkType != "none" {
		serving := filterMilk(active, req.MilkType)
		if len(serving) == 1 {
			slog.Debug("Assignment pinned by milk exclusivity", "station_id", serving[0].ID, "milk", req.MilkType)
			return Result{StationID: serving[0].ID}, nil
		}
	}

	now := e.now()
	breaks, err := e.store.ListEventBreaks()
	if err != nil {
		// Break schedule is advisory; fall back to plain load balancing.
		slog.Error("Assignment failed to read break schedule", "error", err)
		breaks = nil
	}

	if br := currentBreak(breaks, now); br != nil {
		open := filterBreakOpen(active, *br)
		if len(open) > 0 {
			if req.MilkType != "" {
				if serving := filterMilk(open, req.MilkType); len(serving) > 0 {
					open = serving
				}
			}
			st := e.weightedPick(open)
			slog.Debug("Assignment break-period routed", "station_id", st.ID, "break_id", br.ID)
			return Result{StationID: st.ID}, nil
		}
		// No station open during the break; fall through to standard routing.
	} else if allNearCapacity(active) {
		if next := nextBreak(breaks, now); next != nil {
			open := filterBreakOpen(active, *next)
			if len(open) > 0 {
				st := preferHighVolume(open)
				slog.Info("Assignment deferring order to next break", "station_id", st.ID, "break_id", next.ID)
				return Result{StationID: st.ID, Deferred: true}, nil
			}
		}
	}

	st := e.weightedPick(active)
	slog.Debug("Assignment load balanced", "station_id", st.ID, "load", st.CurrentLoad, "capacity", st.Capacity)
	return Result{StationID: st.ID}, nil
}

// weightedPick selects probabilistically with weight
// (1 - normalized_load) * (capacity / 10), so high-capacity low-load
// stations receive proportionally more orders.
func (e *Engine) weightedPick(stations []models.Station) *models.Station {
	if len(stations) == 1 {
		return &stations[0]
	}
	weights := make([]float64, len(stations))
	var total float64
	for i, st := range stations {
		w := (1 - st.LoadRatio()) * (float64(st.Capacity) / 10)
		if w < 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return leastLoaded(stations)
	}
	target := e.randFloat() * total
	var acc float64
	for i := range stations {
		acc += weights[i]
		if target < acc {
			return &stations[i]
		}
	}
	return &stations[len(stations)-1]
}

func filterActive(stations []models.Station) []models.Station {
	var out []models.Station
	for _, st := range stations {
		if st.IsActive() {
			out = append(out, st)
		}
	}
	return out
}

func filterVIP(stations []models.Station) []models.Station {
	var out []models.Station
	for _, st := range stations {
		if st.Capabilities.VIPService {
			out = append(out, st)
		}
	}
	return out
}

func filterMilk(stations []models.Station, milk string) []models.Station {
	var out []models.Station
	for _, st := range stations {
		if st.Capabilities.ServesMilk(milk) {
			out = append(out, st)
		}
	}
	return out
}

func filterBreakOpen(stations []models.Station, br models.EventBreak) []models.Station {
	var out []models.Station
	for _, st := range stations {
		if br.IncludesStation(st.ID) {
			out = append(out, st)
		}
	}
	return out
}

func leastLoaded(stations []models.Station) *models.Station {
	if len(stations) == 0 {
		return nil
	}
	best := &stations[0]
	for i := 1; i < len(stations); i++ {
		if stations[i].LoadRatio() < best.LoadRatio() {
			best = &stations[i]
		}
	}
	return best
}

func preferHighVolume(stations []models.Station) *models.Station {
	var highVolume []models.Station
	for _, st := range stations {
		if st.Capabilities.HighVolume {
			highVolume = append(highVolume, st)
		}
	}
	if len(highVolume) > 0 {
		return leastLoaded(highVolume)
	}
	return leastLoaded(stations)
}

func allNearCapacity(stations []models.Station) bool {
	for _, st := range stations {
		if st.LoadRatio() < deferralLoadThreshold {
			return false
		}
	}
	return true
}

func currentBreak(breaks []models.EventBreak, now time.Time) *models.EventBreak {
	for i := range breaks {
		if breaks[i].Contains(now) {
			return &breaks[i]
		}
	}
	return nil
}

func nextBreak(breaks []models.EventBreak, now time.Time) *models.EventBreak {
	var next *models.EventBreak
	nextStart := 0
	for i := range breaks {
		if !breaks[i].StartsAfter(now) {
			continue
		}
		start, err := time.Parse("15:04", breaks[i].Start)
		if err != nil {
			continue
		}
		minutes := start.Hour()*60 + start.Minute()
		if next == nil || minutes < nextStart {
			next = &breaks[i]
			nextStart = minutes
		}
	}
	return next
}
