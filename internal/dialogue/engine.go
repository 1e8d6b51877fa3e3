package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/brewtap/brewtap/internal/inventory"
	"github.com/brewtap/brewtap/internal/models"
	"github.com/brewtap/brewtap/internal/nlp"
	"github.com/brewtap/brewtap/internal/orders"
	"github.com/brewtap/brewtap/internal/settings"
	"github.com/brewtap/brewtap/internal/store"
)

// DefaultWelcome greets customers when no welcome_message setting is
// configured.
const DefaultWelcome = "Welcome to the coffee cart! What's your name?"

// Engine routes each inbound SMS through the ordering conversation: greeting
// and command short-circuits first, then an exhaustive dispatch on the
// stored stage.
type Engine struct {
	conv      *ConversationStore
	store     store.Store
	catalog   inventory.Catalog
	settings  *settings.Service
	committer *orders.Committer
	now       func() time.Time
}

// NewEngine wires a dialogue engine over its collaborators.
func NewEngine(conv *ConversationStore, st store.Store, catalog inventory.Catalog, cfg *settings.Service, committer *orders.Committer) *Engine {
	return &Engine{
		conv:      conv,
		store:     st,
		catalog:   catalog,
		settings:  cfg,
		committer: committer,
		now:       time.Now,
	}
}

// HandleSMS processes one inbound message and returns the reply text. Every
// step runs to completion before the reply; concurrency only exists across
// phone numbers (the messaging layer serializes per phone).
func (e *Engine) HandleSMS(ctx context.Context, phone, body string, meta *models.InboundMeta) (string, error) {
	if phone == "" {
		return "", models.ErrEmptyPhone
	}
	body = strings.TrimSpace(body)
	state := e.conv.Get(phone)
	slog.Debug("Engine handling SMS", "phone", phone, "stage", state.Stage, "body_length", len(body))

	if body == "" {
		return "Sorry, we didn't catch that. Text INFO for help or tell us what coffee you'd like!", nil
	}

	// The deletion confirmation must be answered in place; a bare YES or
	// STOP here is part of the sub-flow, not a fresh command.
	if state.Stage == models.StageAwaitingDeletionConfirmation {
		return e.handleDeletionConfirmation(phone, body, state)
	}

	// Greetings reset the flow from any state.
	if nlp.IsGreeting(body) {
		return e.startConversation(phone, body, meta)
	}

	if reply, handled := e.tryCommand(phone, body, state, meta); handled {
		return reply, nil
	}

	switch state.Stage {
	case models.StageAwaitingName:
		return e.handleAwaitingName(phone, body, state, meta)
	case models.StageAwaitingCoffeeType:
		return e.handleAwaitingCoffeeType(phone, body, state)
	case models.StageAwaitingMilk:
		return e.handleAwaitingMilk(phone, body, state)
	case models.StageAwaitingSize:
		return e.handleAwaitingSize(phone, body, state)
	case models.StageAwaitingSugar:
		return e.handleAwaitingSugar(phone, body, state)
	case models.StageAwaitingConfirmation:
		return e.handleAwaitingConfirmation(phone, body, state)
	case models.StageAwaitingFriendName:
		return e.handleFriendName(phone, body, state)
	case models.StageAwaitingFriendSuggestionResponse:
		return e.handleFriendSuggestion(phone, body, state)
	case models.StageAwaitingFriendCoffeeType:
		return e.handleFriendCoffeeType(phone, body, state)
	case models.StageAwaitingFriendMilk:
		return e.handleFriendMilk(phone, body, state)
	case models.StageAwaitingFriendSize:
		return e.handleFriendSize(phone, body, state)
	case models.StageAwaitingFriendSugar:
		return e.handleFriendSugar(phone, body, state)
	case models.StageAwaitingFriendConfirmation:
		return e.handleFriendConfirmation(phone, body, state)
	case models.StageAwaitingFriendDecision:
		return e.handleFriendDecision(phone, body, state)
	case models.StageAwaitingDeletionConfirmation:
		// Handled above; unreachable, kept for exhaustiveness.
		return e.handleDeletionConfirmation(phone, body, state)
	case models.StageNone, models.StageCompleted:
		return e.startConversation(phone, body, meta)
	default:
		slog.Warn("Engine unknown stage, restarting conversation", "phone", phone, "stage", state.Stage)
		return e.startConversation(phone, body, meta)
	}
}

// startConversation handles a message with no active flow: new customers,
// completed flows, and greeting resets all land here.
func (e *Engine) startConversation(phone, body string, meta *models.InboundMeta) (string, error) {
	pref, err := e.store.GetPreference(models.PreferenceKey(phone, ""))
	if err != nil {
		slog.Error("Engine preference lookup failed, continuing without", "error", err, "phone", phone)
		pref = nil
	}
	knownName := ""
	if pref != nil {
		knownName = pref.Name
	}

	if nlp.IsAskingForUsual(body) {
		return e.replayUsual(phone, pref)
	}

	fields := nlp.ParseOrder(body)
	draft := draftFromFields(fields)
	e.applyStationOverride(&draft, body, meta)

	// Fast path: a complete draft skips the wizard entirely.
	if draft.IsComplete() {
		if reply, ok := e.validateDraftAgainstInventory(&draft); !ok {
			return reply, nil
		}
		scratch := scratchFromDraft(knownName, draft)
		e.conv.Set(phone, models.StageAwaitingConfirmation, scratch)
		return fmt.Sprintf("Got it%s: %s. Reply YES to confirm, NO to cancel, or EDIT to change it.",
			namePart(knownName), e.draftSummary(draft)), nil
	}

	// Partial extraction with a known customer continues from the next
	// missing field.
	if draft.Type != "" && knownName != "" {
		if _, ok := e.catalog.IsCoffeeTypeAvailable(draft.Type); !ok {
			return e.coffeeTypeRejection(draft.Type), nil
		}
		scratch := scratchFromDraft(knownName, draft)
		stage, prompt := e.nextMissingField(draft)
		e.conv.Set(phone, stage, scratch)
		return prompt, nil
	}

	if knownName == "" {
		e.conv.Set(phone, models.StageAwaitingName, scratchWithStation(map[string]string{}, draft))
		return e.settings.Get(settings.KeyWelcomeMessage, DefaultWelcome), nil
	}

	e.conv.Set(phone, models.StageAwaitingCoffeeType, scratchWithStation(map[string]string{models.ScratchName: knownName}, draft))
	return fmt.Sprintf("Hi %s! What coffee would you like? We have: %s.",
		knownName, strings.Join(e.catalog.AvailableCoffeeTypes(), ", ")), nil
}

// replayUsual jumps straight to confirmation with the saved usual order.
func (e *Engine) replayUsual(phone string, pref *models.CustomerPreference) (string, error) {
	if pref == nil || !pref.HasUsualOrder() {
		e.conv.Set(phone, models.StageAwaitingCoffeeType, map[string]string{})
		return fmt.Sprintf("We don't have a usual order saved for you yet. What would you like? We have: %s.",
			strings.Join(e.catalog.AvailableCoffeeTypes(), ", ")), nil
	}
	draft := models.OrderDraft{
		Type:  pref.DrinkType,
		Milk:  pref.Milk,
		Size:  pref.Size,
		Sugar: pref.Sugar,
		VIP:   pref.VIP,
	}
	if reply, ok := e.validateDraftAgainstInventory(&draft); !ok {
		return reply, nil
	}
	scratch := scratchFromDraft(pref.Name, draft)
	e.conv.Set(phone, models.StageAwaitingConfirmation, scratch)
	return fmt.Sprintf("Your usual%s: %s. Reply YES to order, NO to cancel, or EDIT to change it.",
		namePart(pref.Name), e.draftSummary(draft)), nil
}

// validateDraftAgainstInventory checks every user-specified field against
// live availability. On the first invalid field it returns the rejection
// message and false; the caller must not advance the stage.
func (e *Engine) validateDraftAgainstInventory(draft *models.OrderDraft) (string, bool) {
	if draft.Type != "" {
		canonical, ok := e.catalog.IsCoffeeTypeAvailable(draft.Type)
		if !ok {
			return e.coffeeTypeRejection(draft.Type), false
		}
		draft.Type = canonical
	}
	if draft.Milk != "" && draft.Milk != "none" {
		canonical, ok := e.catalog.IsMilkAvailable(draft.Milk)
		if !ok {
			return e.milkRejection(draft.Milk), false
		}
		draft.Milk = canonical
	}
	return "", true
}

func (e *Engine) coffeeTypeRejection(requested string) string {
	return fmt.Sprintf("Sorry, we can't make %q right now. Today we have: %s. Which would you like?",
		requested, strings.Join(e.catalog.AvailableCoffeeTypes(), ", "))
}

func (e *Engine) milkRejection(requested string) string {
	return fmt.Sprintf("Sorry, we're out of %s milk. We have: %s. Which milk would you like?",
		requested, strings.Join(e.catalog.AvailableMilkTypes(), ", "))
}

func (e *Engine) sugarRejection() string {
	return fmt.Sprintf("Sorry, we didn't catch that. For sweeteners we have: %s. Or reply NONE.",
		strings.Join(e.catalog.AvailableSweeteners(), ", "))
}

// nextMissingField returns the stage and prompt for the first unset field of
// the draft, in the fixed milk → size → sugar order. Black coffees skip milk.
func (e *Engine) nextMissingField(draft models.OrderDraft) (models.Stage, string) {
	if draft.Milk == "" && !nlp.IsBlackCoffee(draft.Type) {
		return models.StageAwaitingMilk, fmt.Sprintf("A %s, nice. What milk? We have: %s.",
			draft.Type, strings.Join(e.catalog.AvailableMilkTypes(), ", "))
	}
	if draft.Size == "" {
		return models.StageAwaitingSize, fmt.Sprintf("What size? (%s)",
			strings.Join(e.catalog.AvailableSizes(draft.Type), ", "))
	}
	if draft.Sugar == "" {
		return models.StageAwaitingSugar, "Any sugar? (e.g. 1 sugar, 2 sugars, or NONE)"
	}
	return models.StageAwaitingConfirmation, fmt.Sprintf("Here's your order: %s. Reply YES to confirm, NO to cancel, or EDIT to change it.",
		e.draftSummary(draft))
}

func (e *Engine) draftSummary(draft models.OrderDraft) string {
	return nlp.FormatOrderSummary(fieldsFromDraft(draft))
}

// applyStationOverride resolves an explicit station from inbound metadata or
// an in-text "station N" mention. Metadata wins.
func (e *Engine) applyStationOverride(draft *models.OrderDraft, body string, meta *models.InboundMeta) {
	if meta != nil && meta.StationID > 0 {
		draft.StationID = meta.StationID
		return
	}
	if id := nlp.ExtractStationID(body); id > 0 {
		draft.StationID = id
	}
}

// Scratch conversion helpers. Scratch is the persisted string-map form of an
// in-flight draft.

func draftFromFields(fields map[string]string) models.OrderDraft {
	return models.OrderDraft{
		Type:  fields[nlp.FieldType],
		Milk:  fields[nlp.FieldMilk],
		Size:  fields[nlp.FieldSize],
		Sugar: fields[nlp.FieldSugar],
		Notes: fields[nlp.FieldNotes],
	}
}

func fieldsFromDraft(draft models.OrderDraft) map[string]string {
	fields := map[string]string{}
	if draft.Type != "" {
		fields[nlp.FieldType] = draft.Type
	}
	if draft.Milk != "" {
		fields[nlp.FieldMilk] = draft.Milk
	}
	if draft.Size != "" {
		fields[nlp.FieldSize] = draft.Size
	}
	if draft.Sugar != "" {
		fields[nlp.FieldSugar] = draft.Sugar
	}
	if draft.Notes != "" {
		fields[nlp.FieldNotes] = draft.Notes
	}
	return fields
}

func scratchFromDraft(name string, draft models.OrderDraft) map[string]string {
	scratch := map[string]string{}
	if name != "" {
		scratch[models.ScratchName] = name
	}
	if draft.Type != "" {
		scratch[models.ScratchType] = draft.Type
	}
	if draft.Milk != "" {
		scratch[models.ScratchMilk] = draft.Milk
	}
	if draft.Size != "" {
		scratch[models.ScratchSize] = draft.Size
	}
	if draft.Sugar != "" {
		scratch[models.ScratchSugar] = draft.Sugar
	}
	if draft.Notes != "" {
		scratch[models.ScratchNotes] = draft.Notes
	}
	if draft.VIP {
		scratch[models.ScratchVIP] = "true"
	}
	if draft.StationID > 0 {
		scratch[models.ScratchStationID] = strconv.Itoa(draft.StationID)
	}
	return scratch
}

func draftFromScratch(scratch map[string]string) models.OrderDraft {
	draft := models.OrderDraft{
		Type:  scratch[models.ScratchType],
		Milk:  scratch[models.ScratchMilk],
		Size:  scratch[models.ScratchSize],
		Sugar: scratch[models.ScratchSugar],
		Notes: scratch[models.ScratchNotes],
		VIP:   scratch[models.ScratchVIP] == "true",
	}
	if id, err := strconv.Atoi(scratch[models.ScratchStationID]); err == nil {
		draft.StationID = id
	}
	return draft
}

func scratchWithStation(scratch map[string]string, draft models.OrderDraft) map[string]string {
	if draft.StationID > 0 {
		scratch[models.ScratchStationID] = strconv.Itoa(draft.StationID)
	}
	return scratch
}

func namePart(name string) string {
	if name == "" {
		return ""
	}
	return ", " + name
}
