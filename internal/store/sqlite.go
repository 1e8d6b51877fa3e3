// Package store provides storage backends for BrewTap.
//
// This file implements an SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/brewtap/brewtap/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetConversationState(phone string) (*models.ConversationState, error) {
	row := s.db.QueryRow(`SELECT phone, stage, scratch, message_count, last_interaction, created_at, updated_at FROM conversation_states WHERE phone = ?`, phone)
	st, err := scanConversationState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationState failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get conversation state for %s: %w", phone, err)
	}
	return st, nil
}

func (s *SQLiteStore) SaveConversationState(state models.ConversationState) error {
	if state.Phone == "" {
		return models.ErrEmptyPhone
	}
	scratchJSON, err := json.Marshal(state.Scratch)
	if err != nil {
		return fmt.Errorf("failed to marshal scratch data: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO conversation_states (phone, stage, scratch, message_count, last_interaction, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET stage = excluded.stage, scratch = excluded.scratch,
			message_count = excluded.message_count, last_interaction = excluded.last_interaction, updated_at = excluded.updated_at`,
		state.Phone, string(state.Stage), string(scratchJSON), state.MessageCount, state.LastInteraction, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState failed", "error", err, "phone", state.Phone)
		return fmt.Errorf("failed to save conversation state for %s: %w", state.Phone, err)
	}
	slog.Debug("SQLiteStore SaveConversationState succeeded", "phone", state.Phone, "stage", state.Stage)
	return nil
}

func (s *SQLiteStore) DeleteConversationState(phone string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_states WHERE phone = ?`, phone)
	if err != nil {
		slog.Error("SQLiteStore DeleteConversationState failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to delete conversation state for %s: %w", phone, err)
	}
	return nil
}

func (s *SQLiteStore) CreateOrder(o models.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	detailsJSON, editsJSON, err := marshalOrderBlobs(o)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO orders (id, order_number, phone, customer_name, station_id, status, queue_priority, order_details, for_friend, deferred, created_at, updated_at, completed_at, picked_up_at, edit_history)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.OrderNumber, o.Phone, nilIfEmpty(o.CustomerName), o.StationID, string(o.Status), o.QueuePriority,
		detailsJSON, nilIfEmpty(o.ForFriend), o.Deferred, o.CreatedAt, o.UpdatedAt, o.CompletedAt, o.PickedUpAt, editsJSON)
	if err != nil {
		slog.Error("SQLiteStore CreateOrder failed", "error", err, "order_number", o.OrderNumber)
		return fmt.Errorf("failed to insert order %s: %w", o.OrderNumber, err)
	}
	slog.Debug("SQLiteStore CreateOrder succeeded", "order_number", o.OrderNumber, "station_id", o.StationID)
	return nil
}

func (s *SQLiteStore) CreateOrderAndIncrementLoad(o models.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	detailsJSON, editsJSON, err := marshalOrderBlobs(o)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO orders (id, order_number, phone, customer_name, station_id, status, queue_priority, order_details, for_friend, deferred, created_at, updated_at, completed_at, picked_up_at, edit_history)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.OrderNumber, o.Phone, nilIfEmpty(o.CustomerName), o.StationID, string(o.Status), o.QueuePriority,
		detailsJSON, nilIfEmpty(o.ForFriend), o.Deferred, o.CreatedAt, o.UpdatedAt, o.CompletedAt, o.PickedUpAt, editsJSON); err != nil {
		slog.Error("SQLiteStore CreateOrderAndIncrementLoad insert failed", "error", err, "order_number", o.OrderNumber)
		return fmt.Errorf("failed to insert order %s: %w", o.OrderNumber, err)
	}
	res, err := tx.Exec(`UPDATE stations SET current_load = current_load + 1 WHERE id = ?`, o.StationID)
	if err != nil {
		slog.Error("SQLiteStore CreateOrderAndIncrementLoad load update failed", "error", err, "station_id", o.StationID)
		return fmt.Errorf("failed to increment load for station %d: %w", o.StationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order transaction: %w", err)
	}
	slog.Debug("SQLiteStore CreateOrderAndIncrementLoad succeeded", "order_number", o.OrderNumber, "station_id", o.StationID)
	return nil
}

const orderColumns = `id, order_number, phone, customer_name, station_id, status, queue_priority, order_details, for_friend, deferred, created_at, updated_at, completed_at, picked_up_at, edit_history`

func (s *SQLiteStore) GetOrderByNumber(number string) (*models.Order, error) {
	row := s.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE order_number = ?`, number)
	o, err := scanOrderRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", number, err)
	}
	return o, nil
}

func (s *SQLiteStore) LatestOrderByPhone(phone string) (*models.Order, error) {
	row := s.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE phone = ? ORDER BY created_at DESC LIMIT 1`, phone)
	o, err := scanOrderRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest order for %s: %w", phone, err)
	}
	return o, nil
}

func (s *SQLiteStore) LatestPendingOrderByPhone(phone string) (*models.Order, error) {
	row := s.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE phone = ? AND status = 'pending' ORDER BY created_at DESC LIMIT 1`, phone)
	o, err := scanOrderRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest pending order for %s: %w", phone, err)
	}
	return o, nil
}

func (s *SQLiteStore) OrdersByPhoneSince(phone string, since time.Time) ([]models.Order, error) {
	rows, err := s.db.Query(`SELECT `+orderColumns+` FROM orders WHERE phone = ? AND created_at >= ? ORDER BY created_at ASC`, phone, since)
	if err != nil {
		slog.Error("SQLiteStore OrdersByPhoneSince query failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query orders for %s: %w", phone, err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *SQLiteStore) UpdateOrderStatus(number string, status models.OrderStatus) error {
	if !models.IsValidOrderStatus(status) {
		return models.ErrInvalidOrderStatus
	}
	now := time.Now()
	var res sql.Result
	var err error
	if status == models.OrderStatusCompleted {
		res, err = s.db.Exec(`UPDATE orders SET status = ?, updated_at = ?, completed_at = ? WHERE order_number = ?`, string(status), now, now, number)
	} else {
		res, err = s.db.Exec(`UPDATE orders SET status = ?, updated_at = ? WHERE order_number = ?`, string(status), now, number)
	}
	if err != nil {
		slog.Error("SQLiteStore UpdateOrderStatus failed", "error", err, "order_number", number, "status", status)
		return fmt.Errorf("failed to update status of order %s: %w", number, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListStations() ([]models.Station, error) {
	rows, err := s.db.Query(`SELECT ` + stationColumns + ` FROM stations ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListStations query failed", "error", err)
		return nil, fmt.Errorf("failed to query stations: %w", err)
	}
	defer rows.Close()
	return collectStations(rows)
}

const stationColumns = `id, name, status, current_load, capacity, capabilities, avg_completion_time, wait_time_minutes, inbound_number`

func (s *SQLiteStore) GetStation(id int) (*models.Station, error) {
	row := s.db.QueryRow(`SELECT `+stationColumns+` FROM stations WHERE id = ?`, id)
	st, err := scanStationRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get station %d: %w", id, err)
	}
	return st, nil
}

func (s *SQLiteStore) GetStationByInboundNumber(number string) (*models.Station, error) {
	row := s.db.QueryRow(`SELECT `+stationColumns+` FROM stations WHERE inbound_number = ?`, number)
	st, err := scanStationRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get station by inbound number: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) SaveStation(st models.Station) error {
	capsJSON, err := json.Marshal(st.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal station capabilities: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO stations (id, name, status, current_load, capacity, capabilities, avg_completion_time, wait_time_minutes, inbound_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, status = excluded.status, current_load = excluded.current_load,
			capacity = excluded.capacity, capabilities = excluded.capabilities, avg_completion_time = excluded.avg_completion_time,
			wait_time_minutes = excluded.wait_time_minutes, inbound_number = excluded.inbound_number`,
		st.ID, nilIfEmpty(st.Name), string(st.Status), st.CurrentLoad, st.Capacity, string(capsJSON), st.AvgCompletionTime, st.WaitTimeMinutes, nilIfEmpty(st.InboundNumber))
	if err != nil {
		slog.Error("SQLiteStore SaveStation failed", "error", err, "station_id", st.ID)
		return fmt.Errorf("failed to save station %d: %w", st.ID, err)
	}
	return nil
}

// IncrementStationLoad applies a relative, atomic load update. The MAX guard
// keeps the counter from going negative on duplicate decrements.
func (s *SQLiteStore) IncrementStationLoad(id, delta int) error {
	res, err := s.db.Exec(`UPDATE stations SET current_load = MAX(0, current_load + ?) WHERE id = ?`, delta, id)
	if err != nil {
		slog.Error("SQLiteStore IncrementStationLoad failed", "error", err, "station_id", id, "delta", delta)
		return fmt.Errorf("failed to update load for station %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetPreference(key string) (*models.CustomerPreference, error) {
	row := s.db.QueryRow(`SELECT id, key, name, drink_type, milk, size, sugar, vip, total_orders, loyalty_points, created_at, updated_at FROM customer_preferences WHERE key = ?`, key)
	p, err := scanPreferenceRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preference %s: %w", key, err)
	}
	return p, nil
}

func (s *SQLiteStore) SavePreference(p models.CustomerPreference) error {
	if p.Key == "" {
		return fmt.Errorf("preference key cannot be empty")
	}
	_, err := s.db.Exec(`INSERT INTO customer_preferences (id, key, name, drink_type, milk, size, sugar, vip, total_orders, loyalty_points, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET name = excluded.name, drink_type = excluded.drink_type, milk = excluded.milk,
			size = excluded.size, sugar = excluded.sugar, vip = excluded.vip, total_orders = excluded.total_orders,
			loyalty_points = excluded.loyalty_points, updated_at = excluded.updated_at`,
		p.ID, p.Key, nilIfEmpty(p.Name), nilIfEmpty(p.DrinkType), nilIfEmpty(p.Milk), nilIfEmpty(p.Size), nilIfEmpty(p.Sugar),
		p.VIP, p.TotalOrders, p.LoyaltyPoints, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SavePreference failed", "error", err, "key", p.Key)
		return fmt.Errorf("failed to save preference %s: %w", p.Key, err)
	}
	return nil
}

func (s *SQLiteStore) DeletePreference(key string) error {
	_, err := s.db.Exec(`DELETE FROM customer_preferences WHERE key = ?`, key)
	if err != nil {
		slog.Error("SQLiteStore DeletePreference failed", "error", err, "key", key)
		return fmt.Errorf("failed to delete preference %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) ListEventBreaks() ([]models.EventBreak, error) {
	rows, err := s.db.Query(`SELECT id, weekday, start_time, end_time, station_ids FROM event_breaks ORDER BY weekday, start_time`)
	if err != nil {
		slog.Error("SQLiteStore ListEventBreaks query failed", "error", err)
		return nil, fmt.Errorf("failed to query event breaks: %w", err)
	}
	defer rows.Close()
	return collectEventBreaks(rows)
}

func (s *SQLiteStore) SaveEventBreak(b models.EventBreak) error {
	idsJSON, err := json.Marshal(b.StationIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal break station ids: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO event_breaks (id, weekday, start_time, end_time, station_ids)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET weekday = excluded.weekday, start_time = excluded.start_time,
			end_time = excluded.end_time, station_ids = excluded.station_ids`,
		b.ID, int(b.Weekday), b.Start, b.End, string(idsJSON))
	if err != nil {
		slog.Error("SQLiteStore SaveEventBreak failed", "error", err, "break_id", b.ID)
		return fmt.Errorf("failed to save event break %d: %w", b.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListIngredients() ([]models.Ingredient, error) {
	rows, err := s.db.Query(`SELECT name, category, stock FROM ingredients ORDER BY name`)
	if err != nil {
		slog.Error("SQLiteStore ListIngredients query failed", "error", err)
		return nil, fmt.Errorf("failed to query ingredients: %w", err)
	}
	defer rows.Close()
	var out []models.Ingredient
	for rows.Next() {
		var ing models.Ingredient
		if err := rows.Scan(&ing.Name, &ing.Category, &ing.Stock); err != nil {
			return nil, fmt.Errorf("failed to scan ingredient row: %w", err)
		}
		out = append(out, ing)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveIngredient(i models.Ingredient) error {
	_, err := s.db.Exec(`INSERT INTO ingredients (name, category, stock) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET category = excluded.category, stock = excluded.stock`,
		i.Name, i.Category, i.Stock)
	if err != nil {
		slog.Error("SQLiteStore SaveIngredient failed", "error", err, "name", i.Name)
		return fmt.Errorf("failed to save ingredient %s: %w", i.Name, err)
	}
	return nil
}

func (s *SQLiteStore) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		slog.Error("SQLiteStore SetSetting failed", "error", err, "key", key)
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
