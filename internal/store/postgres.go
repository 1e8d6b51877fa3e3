// Package store provides storage backends for BrewTap.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/brewtap/brewtap/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetConversationState(phone string) (*models.ConversationState, error) {
	row := s.db.QueryRow(`SELECT phone, stage, scratch, message_count, last_interaction, created_at, updated_at FROM conversation_states WHERE phone = $1`, phone)
	st, err := scanConversationState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationState failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get conversation state for %s: %w", phone, err)
	}
	return st, nil
}

func (s *PostgresStore) SaveConversationState(state models.ConversationState) error {
	if state.Phone == "" {
		return models.ErrEmptyPhone
	}
	scratchJSON, err := json.Marshal(state.Scratch)
	if err != nil {
		return fmt.Errorf("failed to marshal scratch data: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO conversation_states (phone, stage, scratch, message_count, last_interaction, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (phone) DO UPDATE SET stage = EXCLUDED.stage, scratch = EXCLUDED.scratch,
			message_count = EXCLUDED.message_count, last_interaction = EXCLUDED.last_interaction, updated_at = EXCLUDED.updated_at`,
		state.Phone, string(state.Stage), string(scratchJSON), state.MessageCount, state.LastInteraction, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState failed", "error", err, "phone", state.Phone)
		return fmt.Errorf("failed to save conversation state for %s: %w", state.Phone, err)
	}
	return nil
}

func (s *PostgresStore) DeleteConversationState(phone string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_states WHERE phone = $1`, phone)
	if err != nil {
		slog.Error("PostgresStore DeleteConversationState failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to delete conversation state for %s: %w", phone, err)
	}
	return nil
}

const pgOrderInsert = `INSERT INTO orders (id, order_number, phone, customer_name, station_id, status, queue_priority, order_details, for_friend, deferred, created_at, updated_at, completed_at, picked_up_at, edit_history)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

func (s *PostgresStore) CreateOrder(o models.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	detailsJSON, editsJSON, err := marshalOrderBlobs(o)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(pgOrderInsert,
		o.ID, o.OrderNumber, o.Phone, nilIfEmpty(o.CustomerName), o.StationID, string(o.Status), o.QueuePriority,
		detailsJSON, nilIfEmpty(o.ForFriend), o.Deferred, o.CreatedAt, o.UpdatedAt, o.CompletedAt, o.PickedUpAt, editsJSON)
	if err != nil {
		slog.Error("PostgresStore CreateOrder failed", "error", err, "order_number", o.OrderNumber)
		return fmt.Errorf("failed to insert order %s: %w", o.OrderNumber, err)
	}
	return nil
}

func (s *PostgresStore) CreateOrderAndIncrementLoad(o models.Order) error {
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

	if _, err := tx.Exec(pgOrderInsert,
		o.ID, o.OrderNumber, o.Phone, nilIfEmpty(o.CustomerName), o.StationID, string(o.Status), o.QueuePriority,
		detailsJSON, nilIfEmpty(o.ForFriend), o.Deferred, o.CreatedAt, o.UpdatedAt, o.CompletedAt, o.PickedUpAt, editsJSON); err != nil {
		slog.Error("PostgresStore CreateOrderAndIncrementLoad insert failed", "error", err, "order_number", o.OrderNumber)
		return fmt.Errorf("failed to insert order %s: %w", o.OrderNumber, err)
	}
	res, err := tx.Exec(`UPDATE stations SET current_load = current_load + 1 WHERE id = $1`, o.StationID)
	if err != nil {
		slog.Error("PostgresStore CreateOrderAndIncrementLoad load update failed", "error", err, "station_id", o.StationID)
		return fmt.Errorf("failed to increment load for station %d: %w", o.StationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOrderByNumber(number string) (*models.Order, error) {
	row := s.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, number)
	o, err := scanOrderRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", number, err)
	}
	return o, nil
}

func (s *PostgresStore) LatestOrderByPhone(phone string) (*models.Order, error) {
	row := s.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE phone = $1 ORDER BY created_at DESC LIMIT 1`, phone)
	o, err := scanOrderRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest order for %s: %w", phone, err)
	}
	return o, nil
}

func (s *PostgresStore) LatestPendingOrderByPhone(phone string) (*models.Order, error) {
	row := s.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE phone = $1 AND status = 'pending' ORDER BY created_at DESC LIMIT 1`, phone)
	o, err := scanOrderRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest pending order for %s: %w", phone, err)
	}
	return o, nil
}

func (s *PostgresStore) OrdersByPhoneSince(phone string, since time.Time) ([]models.Order, error) {
	rows, err := s.db.Query(`SELECT `+orderColumns+` FROM orders WHERE phone = $1 AND created_at >= $2 ORDER BY created_at ASC`, phone, since)
	if err != nil {
		slog.Error("PostgresStore OrdersByPhoneSince query failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query orders for %s: %w", phone, err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *PostgresStore) UpdateOrderStatus(number string, status models.OrderStatus) error {
	if !models.IsValidOrderStatus(status) {
		return models.ErrInvalidOrderStatus
	}
	now := time.Now()
	var res sql.Result
	var err error
	if status == models.OrderStatusCompleted {
		res, err = s.db.Exec(`UPDATE orders SET status = $1, updated_at = $2, completed_at = $2 WHERE order_number = $3`, string(status), now, number)
	} else {
		res, err = s.db.Exec(`UPDATE orders SET status = $1, updated_at = $2 WHERE order_number = $3`, string(status), now, number)
	}
	if err != nil {
		slog.Error("PostgresStore UpdateOrderStatus failed", "error", err, "order_number", number, "status", status)
		return fmt.Errorf("failed to update status of order %s: %w", number, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListStations() ([]models.Station, error) {
	rows, err := s.db.Query(`SELECT ` + stationColumns + ` FROM stations ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListStations query failed", "error", err)
		return nil, fmt.Errorf("failed to query stations: %w", err)
	}
	defer rows.Close()
	return collectStations(rows)
}

func (s *PostgresStore) GetStation(id int) (*models.Station, error) {
	row := s.db.QueryRow(`SELECT `+stationColumns+` FROM stations WHERE id = $1`, id)
	st, err := scanStationRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get station %d: %w", id, err)
	}
	return st, nil
}

func (s *PostgresStore) GetStationByInboundNumber(number string) (*models.Station, error) {
	row := s.db.QueryRow(`SELECT `+stationColumns+` FROM stations WHERE inbound_number = $1`, number)
	st, err := scanStationRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get station by inbound number: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) SaveStation(st models.Station) error {
	capsJSON, err := json.Marshal(st.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal station capabilities: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO stations (id, name, status, current_load, capacity, capabilities, avg_completion_time, wait_time_minutes, inbound_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, status = EXCLUDED.status, current_load = EXCLUDED.current_load,
			capacity = EXCLUDED.capacity, capabilities = EXCLUDED.capabilities, avg_completion_time = EXCLUDED.avg_completion_time,
			wait_time_minutes = EXCLUDED.wait_time_minutes, inbound_number = EXCLUDED.inbound_number`,
		st.ID, nilIfEmpty(st.Name), string(st.Status), st.CurrentLoad, st.Capacity, string(capsJSON), st.AvgCompletionTime, st.WaitTimeMinutes, nilIfEmpty(st.InboundNumber))
	if err != nil {
		slog.Error("PostgresStore SaveStation failed", "error", err, "station_id", st.ID)
		return fmt.Errorf("failed to save station %d: %w", st.ID, err)
	}
	return nil
}

// IncrementStationLoad applies a relative, atomic load update. The GREATEST
// guard keeps the counter from going negative on duplicate decrements.
func (s *PostgresStore) IncrementStationLoad(id, delta int) error {
	res, err := s.db.Exec(`UPDATE stations SET current_load = GREATEST(0, current_load + $1) WHERE id = $2`, delta, id)
	if err != nil {
		slog.Error("PostgresStore IncrementStationLoad failed", "error", err, "station_id", id, "delta", delta)
		return fmt.Errorf("failed to update load for station %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetPreference(key string) (*models.CustomerPreference, error) {
	row := s.db.QueryRow(`SELECT id, key, name, drink_type, milk, size, sugar, vip, total_orders, loyalty_points, created_at, updated_at FROM customer_preferences WHERE key = $1`, key)
	p, err := scanPreferenceRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preference %s: %w", key, err)
	}
	return p, nil
}

func (s *PostgresStore) SavePreference(p models.CustomerPreference) error {
	if p.Key == "" {
		return fmt.Errorf("preference key cannot be empty")
	}
	_, err := s.db.Exec(`INSERT INTO customer_preferences (id, key, name, drink_type, milk, size, sugar, vip, total_orders, loyalty_points, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (key) DO UPDATE SET name = EXCLUDED.name, drink_type = EXCLUDED.drink_type, milk = EXCLUDED.milk,
			size = EXCLUDED.size, sugar = EXCLUDED.sugar, vip = EXCLUDED.vip, total_orders = EXCLUDED.total_orders,
			loyalty_points = EXCLUDED.loyalty_points, updated_at = EXCLUDED.updated_at`,
		p.ID, p.Key, nilIfEmpty(p.Name), nilIfEmpty(p.DrinkType), nilIfEmpty(p.Milk), nilIfEmpty(p.Size), nilIfEmpty(p.Sugar),
		p.VIP, p.TotalOrders, p.LoyaltyPoints, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SavePreference failed", "error", err, "key", p.Key)
		return fmt.Errorf("failed to save preference %s: %w", p.Key, err)
	}
	return nil
}

func (s *PostgresStore) DeletePreference(key string) error {
	_, err := s.db.Exec(`DELETE FROM customer_preferences WHERE key = $1`, key)
	if err != nil {
		slog.Error("PostgresStore DeletePreference failed", "error", err, "key", key)
		return fmt.Errorf("failed to delete preference %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) ListEventBreaks() ([]models.EventBreak, error) {
	rows, err := s.db.Query(`SELECT id, weekday, start_time, end_time, station_ids FROM event_breaks ORDER BY weekday, start_time`)
	if err != nil {
		slog.Error("PostgresStore ListEventBreaks query failed", "error", err)
		return nil, fmt.Errorf("failed to query event breaks: %w", err)
	}
	defer rows.Close()
	return collectEventBreaks(rows)
}

func (s *PostgresStore) SaveEventBreak(b models.EventBreak) error {
	idsJSON, err := json.Marshal(b.StationIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal break station ids: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO event_breaks (id, weekday, start_time, end_time, station_ids)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET weekday = EXCLUDED.weekday, start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time, station_ids = EXCLUDED.station_ids`,
		b.ID, int(b.Weekday), b.Start, b.End, string(idsJSON))
	if err != nil {
		slog.Error("PostgresStore SaveEventBreak failed", "error", err, "break_id", b.ID)
		return fmt.Errorf("failed to save event break %d: %w", b.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListIngredients() ([]models.Ingredient, error) {
	rows, err := s.db.Query(`SELECT name, category, stock FROM ingredients ORDER BY name`)
	if err != nil {
		slog.Error("PostgresStore ListIngredients query failed", "error", err)
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

func (s *PostgresStore) SaveIngredient(i models.Ingredient) error {
	_, err := s.db.Exec(`INSERT INTO ingredients (name, category, stock) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET category = EXCLUDED.category, stock = EXCLUDED.stock`,
		i.Name, i.Category, i.Stock)
	if err != nil {
		slog.Error("PostgresStore SaveIngredient failed", "error", err, "name", i.Name)
		return fmt.Errorf("failed to save ingredient %s: %w", i.Name, err)
	}
	return nil
}

func (s *PostgresStore) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		slog.Error("PostgresStore SetSetting failed", "error", err, "key", key)
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
