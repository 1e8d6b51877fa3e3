package dialogue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brewtap/brewtap/internal/models"
	"github.com/brewtap/brewtap/internal/nlp"
)

// friendOrderWindow bounds how long after their own order a customer may
// keep adding friends to the group.
const friendOrderWindow = time.Hour

// startFriendFlow begins the add-a-friend sub-flow. It requires a recent
// order from the primary customer so a group stays anchored to one round.
func (e *Engine) startFriendFlow(phone string, state models.ConversationState) string {
	recent, err := e.store.OrdersByPhoneSince(phone, e.now().Add(-friendOrderWindow))
	if err != nil {
		slog.Error("Engine recent order lookup failed for friend flow", "error", err, "phone", phone)
		return "Sorry, something went wrong on our end. Please try again in a moment."
	}
	anchored := false
	for _, o := range recent {
		if o.Status != models.OrderStatusCancelled {
			anchored = true
			break
		}
	}
	if !anchored {
		return "Order your own coffee first, then text FRIEND to add one for someone with you!"
	}

	scratch := map[string]string{
		models.ScratchName:        state.Scratch[models.ScratchName],
		models.ScratchGroupOrders: state.Scratch[models.ScratchGroupOrders],
	}
	e.conv.Set(phone, models.StageAwaitingFriendName, scratch)
	return "Happy to add a coffee for your friend. What's their name?"
}

// handleFriendName captures the friend's name and, when a saved preference
// exists under this customer's number, offers their usual first.
func (e *Engine) handleFriendName(phone, body string, state models.ConversationState) (string, error) {
	friendName := cleanName(body)
	if friendName == "" {
		return "We didn't catch that. What's your friend's name?", nil
	}

	scratch := friendBaseScratch(state)
	scratch[models.ScratchFriendName] = friendName

	pref, err := e.store.GetPreference(models.PreferenceKey(phone, friendName))
	if err != nil {
		slog.Error("Engine friend preference lookup failed", "error", err, "phone", phone, "friend", friendName)
		pref = nil
	}
	if pref != nil && pref.HasUsualOrder() {
		draft := models.OrderDraft{
			Type:  pref.DrinkType,
			Milk:  pref.Milk,
			Size:  pref.Size,
			Sugar: pref.Sugar,
		}
		if _, ok := e.validateDraftAgainstInventory(&draft); ok {
			mergeDraftIntoScratch(scratch, draft)
			e.conv.Set(phone, models.StageAwaitingFriendSuggestionResponse, scratch)
			return fmt.Sprintf("Last time %s had %s. Same again? Reply YES, or NO to pick something else.",
				friendName, e.draftSummary(draft)), nil
		}
	}

	e.conv.Set(phone, models.StageAwaitingFriendCoffeeType, scratch)
	return fmt.Sprintf("What would %s like? We have: %s.",
		friendName, strings.Join(e.catalog.AvailableCoffeeTypes(), ", ")), nil
}

func (e *Engine) handleFriendSuggestion(phone, body string, state models.ConversationState) (string, error) {
	friendName := state.Scratch[models.ScratchFriendName]
	switch {
	case nlp.IsAffirmative(body):
		draft := draftFromScratch(state.Scratch)
		e.conv.Set(phone, models.StageAwaitingFriendConfirmation, state.Scratch)
		return fmt.Sprintf("%s for %s. Reply YES to confirm, NO to cancel, or EDIT to change it.",
			e.draftSummary(draft), friendName), nil
	case nlp.IsNegative(body):
		scratch := friendBaseScratch(state)
		scratch[models.ScratchFriendName] = friendName
		e.conv.Set(phone, models.StageAwaitingFriendCoffeeType, scratch)
		return fmt.Sprintf("No problem. What would %s like? We have: %s.",
			friendName, strings.Join(e.catalog.AvailableCoffeeTypes(), ", ")), nil
	default:
		return fmt.Sprintf("Reply YES for %s's usual, or NO to pick something else.", friendName), nil
	}
}

func (e *Engine) handleFriendCoffeeType(phone, body string, state models.ConversationState) (string, error) {
	fields := nlp.ParseOrder(body)
	requested := fields[nlp.FieldType]
	if requested == "" {
		requested = body
	}
	canonical, ok := e.catalog.IsCoffeeTypeAvailable(requested)
	if !ok {
		return e.coffeeTypeRejection(requested), nil
	}

	draft := draftFromScratch(state.Scratch)
	draft.Type = canonical
	if milk := fields[nlp.FieldMilk]; milk != "" {
		draft.Milk = milk
	}
	if size := fields[nlp.FieldSize]; size != "" {
		draft.Size = size
	}
	if sugar := fields[nlp.FieldSugar]; sugar != "" {
		draft.Sugar = sugar
	}
	if reply, ok := e.validateDraftAgainstInventory(&draft); !ok {
		draft.Milk = ""
		e.setFriendStage(phone, models.StageAwaitingFriendMilk, state, draft)
		return reply, nil
	}
	if nlp.IsBlackCoffee(draft.Type) && draft.Milk == "" {
		draft.Milk = "none"
	}

	stage, prompt := e.nextMissingFriendField(draft, state.Scratch[models.ScratchFriendName])
	e.setFriendStage(phone, stage, state, draft)
	return prompt, nil
}

func (e *Engine) handleFriendMilk(phone, body string, state models.ConversationState) (string, error) {
	draft := draftFromScratch(state.Scratch)
	if nlp.IsNegative(body) || strings.EqualFold(strings.TrimSpace(body), "none") {
		draft.Milk = "none"
	} else {
		canonical, ok := e.catalog.IsMilkAvailable(body)
		if !ok {
			return e.milkRejection(strings.TrimSpace(body)), nil
		}
		draft.Milk = canonical
	}
	stage, prompt := e.nextMissingFriendField(draft, state.Scratch[models.ScratchFriendName])
	e.setFriendStage(phone, stage, state, draft)
	return prompt, nil
}

func (e *Engine) handleFriendSize(phone, body string, state models.ConversationState) (string, error) {
	draft := draftFromScratch(state.Scratch)
	fields := nlp.ParseOrder(body)
	size := fields[nlp.FieldSize]
	if size == "" {
		canonical, ok := matchSize(body, e.catalog.AvailableSizes(draft.Type))
		if !ok {
			return fmt.Sprintf("What size for %s? We have: %s.",
				state.Scratch[models.ScratchFriendName], strings.Join(e.catalog.AvailableSizes(draft.Type), ", ")), nil
		}
		size = canonical
	}
	if !containsFold(e.catalog.AvailableSizes(draft.Type), size) {
		return fmt.Sprintf("A %s only comes in: %s. Which would you like?",
			draft.Type, strings.Join(e.catalog.AvailableSizes(draft.Type), ", ")), nil
	}
	draft.Size = size
	stage, prompt := e.nextMissingFriendField(draft, state.Scratch[models.ScratchFriendName])
	e.setFriendStage(phone, stage, state, draft)
	return prompt, nil
}

func (e *Engine) handleFriendSugar(phone, body string, state models.ConversationState) (string, error) {
	draft := draftFromScratch(state.Scratch)
	fields := nlp.ParseOrder(body)
	sugar := fields[nlp.FieldSugar]
	if sugar == "" {
		sugar = bareSugarReply(body)
	}
	if sugar == "" {
		return e.sugarRejection(), nil
	}
	draft.Sugar = sugar
	stage, prompt := e.nextMissingFriendField(draft, state.Scratch[models.ScratchFriendName])
	e.setFriendStage(phone, stage, state, draft)
	return prompt, nil
}

// handleFriendConfirmation commits the friend's order against the primary
// customer's phone and asks whether to add another.
func (e *Engine) handleFriendConfirmation(phone, body string, state models.ConversationState) (string, error) {
	friendName := state.Scratch[models.ScratchFriendName]
	primaryName := state.Scratch[models.ScratchName]
	draft := draftFromScratch(state.Scratch)

	switch {
	case nlp.IsAffirmative(body):
		reply, err := e.committer.Confirm(phone, draft, primaryName, true, friendName)
		if err != nil {
			if noStations(err) {
				return noStationsReply, nil
			}
			return "", fmt.Errorf("committing friend order for %s: %w", phone, err)
		}
		scratch := map[string]string{
			models.ScratchName:        primaryName,
			models.ScratchGroupOrders: appendGroupOrder(state.Scratch[models.ScratchGroupOrders], friendName),
		}
		e.conv.Set(phone, models.StageAwaitingFriendDecision, scratch)
		return reply + " Anyone else? Reply YES to add another friend, or NO if that's everyone.", nil

	case nlp.IsNegative(body):
		scratch := map[string]string{
			models.ScratchName:        primaryName,
			models.ScratchGroupOrders: state.Scratch[models.ScratchGroupOrders],
		}
		e.conv.Set(phone, models.StageAwaitingFriendDecision, scratch)
		return fmt.Sprintf("Okay, skipping %s's coffee. Anyone else? Reply YES or NO.", friendName), nil

	case strings.EqualFold(strings.TrimSpace(body), "edit"):
		scratch := friendBaseScratch(state)
		scratch[models.ScratchFriendName] = friendName
		e.conv.Set(phone, models.StageAwaitingFriendCoffeeType, scratch)
		return fmt.Sprintf("Sure. What would %s like? We have: %s.",
			friendName, strings.Join(e.catalog.AvailableCoffeeTypes(), ", ")), nil

	default:
		return fmt.Sprintf("%s for %s. Reply YES to confirm, NO to cancel, or EDIT to change it.",
			e.draftSummary(draft), friendName), nil
	}
}

func (e *Engine) handleFriendDecision(phone, body string, state models.ConversationState) (string, error) {
	switch {
	case nlp.IsAffirmative(body):
		scratch := map[string]string{
			models.ScratchName:        state.Scratch[models.ScratchName],
			models.ScratchGroupOrders: state.Scratch[models.ScratchGroupOrders],
		}
		e.conv.Set(phone, models.StageAwaitingFriendName, scratch)
		return "Great! What's their name?", nil
	case nlp.IsNegative(body):
		names := decodeGroupOrders(state.Scratch[models.ScratchGroupOrders])
		e.conv.Set(phone, models.StageCompleted, map[string]string{models.ScratchName: state.Scratch[models.ScratchName]})
		if len(names) > 0 {
			return fmt.Sprintf("All set! Coffees on the way for you and %s. We'll text when they're ready.",
				strings.Join(names, ", ")), nil
		}
		return "All set! We'll text you when your coffee is ready.", nil
	default:
		return "Reply YES to add another friend's coffee, or NO if that's everyone.", nil
	}
}

// friendBaseScratch keeps only the cross-friend carry-overs: the primary
// customer's name and the group roster.
func friendBaseScratch(state models.ConversationState) map[string]string {
	return map[string]string{
		models.ScratchName:        state.Scratch[models.ScratchName],
		models.ScratchGroupOrders: state.Scratch[models.ScratchGroupOrders],
	}
}

func (e *Engine) setFriendStage(phone string, stage models.Stage, state models.ConversationState, draft models.OrderDraft) {
	scratch := friendBaseScratch(state)
	scratch[models.ScratchFriendName] = state.Scratch[models.ScratchFriendName]
	mergeDraftIntoScratch(scratch, draft)
	e.conv.Set(phone, stage, scratch)
}

// nextMissingFriendField mirrors nextMissingField with friend stages and
// prompts addressed to the friend by name.
func (e *Engine) nextMissingFriendField(draft models.OrderDraft, friendName string) (models.Stage, string) {
	if draft.Milk == "" && !nlp.IsBlackCoffee(draft.Type) {
		return models.StageAwaitingFriendMilk, fmt.Sprintf("What milk for %s? We have: %s.",
			friendName, strings.Join(e.catalog.AvailableMilkTypes(), ", "))
	}
	if draft.Size == "" {
		return models.StageAwaitingFriendSize, fmt.Sprintf("What size for %s? (%s)",
			friendName, strings.Join(e.catalog.AvailableSizes(draft.Type), ", "))
	}
	if draft.Sugar == "" {
		return models.StageAwaitingFriendSugar, fmt.Sprintf("Any sugar for %s? (e.g. 1 sugar, or NONE)", friendName)
	}
	return models.StageAwaitingFriendConfirmation, fmt.Sprintf("%s for %s. Reply YES to confirm, NO to cancel, or EDIT to change it.",
		e.draftSummary(draft), friendName)
}

func mergeDraftIntoScratch(scratch map[string]string, draft models.OrderDraft) {
	for k, v := range scratchFromDraft("", draft) {
		scratch[k] = v
	}
}

// Group orders are stored in scratch as a JSON array of friend names.

func appendGroupOrder(encoded, friendName string) string {
	names := decodeGroupOrders(encoded)
	names = append(names, friendName)
	out, err := json.Marshal(names)
	if err != nil {
		return encoded
	}
	return string(out)
}

func decodeGroupOrders(encoded string) []string {
	if encoded == "" {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(encoded), &names); err != nil {
		return nil
	}
	return names
}
