package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brewtap/brewtap/internal/models"
)

// rowScanner abstracts *sql.Row and *sql.Rows so scan helpers can serve both.
type rowScanner interface {
	Scan(dest ...any) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func marshalOrderBlobs(o models.Order) (detailsJSON, editsJSON string, err error) {
	details, err := json.Marshal(o.Details)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal order details: %w", err)
	}
	edits, err := json.Marshal(o.EditHistory)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal edit history: %w", err)
	}
	return string(details), string(edits), nil
}

func scanConversationState(row rowScanner) (*models.ConversationState, error) {
	var st models.ConversationState
	var stage string
	var scratchJSON sql.NullString
	var lastInteraction sql.NullTime
	err := row.Scan(&st.Phone, &stage, &scratchJSON, &st.MessageCount, &lastInteraction, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	st.Stage = models.Stage(stage)
	if lastInteraction.Valid {
		st.LastInteraction = lastInteraction.Time
	}
	if scratchJSON.Valid && scratchJSON.String != "" {
		if err := json.Unmarshal([]byte(scratchJSON.String), &st.Scratch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scratch data: %w", err)
		}
	}
	return &st, nil
}

func scanOrderRow(row rowScanner) (*models.Order, error) {
	var o models.Order
	var customerName, forFriend, editsJSON sql.NullString
	var status, detailsJSON string
	var completedAt, pickedUpAt sql.NullTime
	err := row.Scan(&o.ID, &o.OrderNumber, &o.Phone, &customerName, &o.StationID, &status, &o.QueuePriority,
		&detailsJSON, &forFriend, &o.Deferred, &o.CreatedAt, &o.UpdatedAt, &completedAt, &pickedUpAt, &editsJSON)
	if err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	o.CustomerName = customerName.String
	o.ForFriend = forFriend.String
	if completedAt.Valid {
		o.CompletedAt = &completedAt.Time
	}
	if pickedUpAt.Valid {
		o.PickedUpAt = &pickedUpAt.Time
	}
	if err := json.Unmarshal([]byte(detailsJSON), &o.Details); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order details: %w", err)
	}
	if editsJSON.Valid && editsJSON.String != "" {
		if err := json.Unmarshal([]byte(editsJSON.String), &o.EditHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal edit history: %w", err)
		}
	}
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]models.Order, error) {
	var out []models.Order
	for rows.Next() {
		o, err := scanOrderRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func scanStationRow(row rowScanner) (*models.Station, error) {
	var st models.Station
	var name, capsJSON, inboundNumber sql.NullString
	var status string
	err := row.Scan(&st.ID, &name, &status, &st.CurrentLoad, &st.Capacity, &capsJSON, &st.AvgCompletionTime, &st.WaitTimeMinutes, &inboundNumber)
	if err != nil {
		return nil, err
	}
	st.Name = name.String
	st.Status = models.StationStatus(status)
	st.InboundNumber = inboundNumber.String
	if capsJSON.Valid && capsJSON.String != "" {
		if err := json.Unmarshal([]byte(capsJSON.String), &st.Capabilities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal station capabilities: %w", err)
		}
	}
	return &st, nil
}

func collectStations(rows *sql.Rows) ([]models.Station, error) {
	var out []models.Station
	for rows.Next() {
		st, err := scanStationRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan station row: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func scanPreferenceRow(row rowScanner) (*models.CustomerPreference, error) {
	var p models.CustomerPreference
	var name, drinkType, milk, size, sugar sql.NullString
	err := row.Scan(&p.ID, &p.Key, &name, &drinkType, &milk, &size, &sugar, &p.VIP, &p.TotalOrders, &p.LoyaltyPoints, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Name = name.String
	p.DrinkType = drinkType.String
	p.Milk = milk.String
	p.Size = size.String
	p.Sugar = sugar.String
	return &p, nil
}

func collectEventBreaks(rows *sql.Rows) ([]models.EventBreak, error) {
	var out []models.EventBreak
	for rows.Next() {
		var b models.EventBreak
		var weekday int
		var idsJSON sql.NullString
		if err := rows.Scan(&b.ID, &weekday, &b.Start, &b.End, &idsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan event break row: %w", err)
		}
		b.Weekday = time.Weekday(weekday)
		if idsJSON.Valid && idsJSON.String != "" {
			if err := json.Unmarshal([]byte(idsJSON.String), &b.StationIDs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal break station ids: %w", err)
			}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
