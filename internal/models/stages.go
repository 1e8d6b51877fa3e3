// Package models defines the core data structures for BrewTap.
//
// It includes the conversation stage enum, conversation state, order and
// station records, and customer preferences shared across modules.
package models

import "time"

// Stage identifies the current step of a phone number's ordering conversation.
type Stage string

const (
	// StageNone means no active conversation (new customer or restarted flow).
	StageNone Stage = ""
	// StageAwaitingName waits for the customer's name.
	StageAwaitingName Stage = "awaiting_name"
	// StageAwaitingCoffeeType waits for a coffee type selection.
	StageAwaitingCoffeeType Stage = "awaiting_coffee_type"
	// StageAwaitingMilk waits for a milk selection.
	StageAwaitingMilk Stage = "awaiting_milk"
	// StageAwaitingSize waits for a size selection.
	StageAwaitingSize Stage = "awaiting_size"
	// StageAwaitingSugar waits for a sugar/sweetener selection.
	StageAwaitingSugar Stage = "awaiting_sugar"
	// StageAwaitingConfirmation waits for YES/NO/EDIT on the assembled draft.
	StageAwaitingConfirmation Stage = "awaiting_confirmation"

	// Friend (group order) sub-flow stages mirror the primary flow but write
	// into the group order list instead of committing immediately.
	StageAwaitingFriendName               Stage = "awaiting_friend_name"
	StageAwaitingFriendSuggestionResponse Stage = "awaiting_friend_suggestion_response"
	StageAwaitingFriendCoffeeType         Stage = "awaiting_friend_coffee_type"
	StageAwaitingFriendMilk               Stage = "awaiting_friend_milk"
	StageAwaitingFriendSize               Stage = "awaiting_friend_size"
	StageAwaitingFriendSugar              Stage = "awaiting_friend_sugar"
	StageAwaitingFriendConfirmation       Stage = "awaiting_friend_confirmation"
	StageAwaitingFriendDecision           Stage = "awaiting_friend_decision"

	// StageAwaitingDeletionConfirmation is the two-step data deletion guard.
	StageAwaitingDeletionConfirmation Stage = "awaiting_deletion_confirmation"
	// StageCompleted is terminal and re-entrant: the next inbound message is
	// treated as fresh input.
	StageCompleted Stage = "completed"
)

// IsValidStage reports whether the given stage is one of the closed set.
func IsValidStage(s Stage) bool {
	switch s {
	case StageNone, StageAwaitingName, StageAwaitingCoffeeType, StageAwaitingMilk,
		StageAwaitingSize, StageAwaitingSugar, StageAwaitingConfirmation,
		StageAwaitingFriendName, StageAwaitingFriendSuggestionResponse,
		StageAwaitingFriendCoffeeType, StageAwaitingFriendMilk,
		StageAwaitingFriendSize, StageAwaitingFriendSugar,
		StageAwaitingFriendConfirmation, StageAwaitingFriendDecision,
		StageAwaitingDeletionConfirmation, StageCompleted:
		return true
	default:
		return false
	}
}

// IsFriendStage reports whether the stage belongs to the friend sub-flow.
func (s Stage) IsFriendStage() bool {
	switch s {
	case StageAwaitingFriendName, StageAwaitingFriendSuggestionResponse,
		StageAwaitingFriendCoffeeType, StageAwaitingFriendMilk,
		StageAwaitingFriendSize, StageAwaitingFriendSugar,
		StageAwaitingFriendConfirmation, StageAwaitingFriendDecision:
		return true
	default:
		return false
	}
}

// ConversationState represents a phone number's persisted dialogue state.
// At most one exists per phone; Set on the conversation store is the only
// mutation path.
type ConversationState struct {
	Phone           string            `json:"phone"`
	Stage           Stage             `json:"stage"`
	Scratch         map[string]string `json:"scratch,omitempty"`
	MessageCount    int               `json:"message_count"`
	LastInteraction time.Time         `json:"last_interaction"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Scratch keys used by the dialogue engine. Scratch is fully replaced on
// every transition; the name key is the one intentional carry-over within a
// single order flow.
const (
	ScratchName      = "name"
	ScratchType      = "type"
	ScratchMilk      = "milk"
	ScratchSize      = "size"
	ScratchSugar     = "sugar"
	ScratchNotes     = "notes"
	ScratchStationID = "station_id"
	ScratchVIP       = "vip"

	ScratchPrimaryName  = "primary_name"
	ScratchPrimaryOrder = "primary_order"
	ScratchFriendName   = "friend_name"
	ScratchFriendOrder  = "friend_order"
	ScratchGroupOrders  = "group_orders"
)
