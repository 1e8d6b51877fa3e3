package dialogue

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brewtap/brewtap/internal/assignment"
	"github.com/brewtap/brewtap/internal/models"
	"github.com/brewtap/brewtap/internal/nlp"
)

// handleAwaitingName records the customer's name and moves to drink
// selection. If the message also reads as an order, the parsed fields carry
// forward so the customer is not asked twice.
func (e *Engine) handleAwaitingName(phone, body string, state models.ConversationState, meta *models.InboundMeta) (string, error) {
	name := cleanName(body)
	if name == "" {
		return "We didn't catch your name. What should we call you?", nil
	}

	pref, err := e.store.GetPreference(models.PreferenceKey(phone, ""))
	if err != nil {
		slog.Error("Engine preference lookup failed during name capture", "error", err, "phone", phone)
		pref = nil
	}

	// A returning customer with a saved usual gets the one-tap path.
	if pref != nil && pref.HasUsualOrder() {
		draft := models.OrderDraft{
			Type:  pref.DrinkType,
			Milk:  pref.Milk,
			Size:  pref.Size,
			Sugar: pref.Sugar,
			VIP:   pref.VIP,
		}
		if _, ok := e.validateDraftAgainstInventory(&draft); ok {
			scratch := scratchFromDraft(name, draft)
			scratch[models.ScratchStationID] = state.Scratch[models.ScratchStationID]
			e.conv.Set(phone, models.StageAwaitingConfirmation, scratch)
			return fmt.Sprintf("Welcome back, %s! Your usual is %s. Reply YES to order it, or tell us what you'd like instead.",
				name, e.draftSummary(draft)), nil
		}
	}

	draft := draftFromScratch(state.Scratch)
	e.applyStationOverride(&draft, body, meta)
	scratch := scratchFromDraft(name, draft)

	if draft.Type != "" {
		if reply, ok := e.validateDraftAgainstInventory(&draft); !ok {
			e.conv.Set(phone, models.StageAwaitingCoffeeType, map[string]string{models.ScratchName: name})
			return reply, nil
		}
		stage, prompt := e.nextMissingField(draft)
		e.conv.Set(phone, stage, scratchFromDraft(name, draft))
		return fmt.Sprintf("Thanks %s! %s", name, prompt), nil
	}

	e.conv.Set(phone, models.StageAwaitingCoffeeType, scratch)
	return fmt.Sprintf("Nice to meet you, %s! What coffee would you like? We have: %s.",
		name, strings.Join(e.catalog.AvailableCoffeeTypes(), ", ")), nil
}

// handleAwaitingCoffeeType validates the drink against the live catalog. An
// unavailable drink keeps the stage and lists what is on today.
func (e *Engine) handleAwaitingCoffeeType(phone, body string, state models.ConversationState) (string, error) {
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
	// Pick up any extra fields volunteered in the same message.
	if milk := fields[nlp.FieldMilk]; milk != "" && draft.Milk == "" {
		draft.Milk = milk
	}
	if size := fields[nlp.FieldSize]; size != "" && draft.Size == "" {
		draft.Size = size
	}
	if sugar := fields[nlp.FieldSugar]; sugar != "" && draft.Sugar == "" {
		draft.Sugar = sugar
	}
	if reply, ok := e.validateDraftAgainstInventory(&draft); !ok {
		draft.Milk = ""
		e.conv.Set(phone, models.StageAwaitingMilk, scratchFromDraft(state.Scratch[models.ScratchName], draft))
		return reply, nil
	}
	if nlp.IsBlackCoffee(draft.Type) && draft.Milk == "" {
		draft.Milk = "none"
	}

	stage, prompt := e.nextMissingField(draft)
	e.conv.Set(phone, stage, scratchFromDraft(state.Scratch[models.ScratchName], draft))
	return prompt, nil
}

func (e *Engine) handleAwaitingMilk(phone, body string, state models.ConversationState) (string, error) {
	draft := draftFromScratch(state.Scratch)
	if nlp.IsNegative(body) || strings.EqualFold(strings.TrimSpace(body), "none") || strings.EqualFold(strings.TrimSpace(body), "no milk") {
		draft.Milk = "none"
	} else {
		canonical, ok := e.catalog.IsMilkAvailable(body)
		if !ok {
			return e.milkRejection(strings.TrimSpace(body)), nil
		}
		draft.Milk = canonical
	}

	stage, prompt := e.nextMissingField(draft)
	e.conv.Set(phone, stage, scratchFromDraft(state.Scratch[models.ScratchName], draft))
	return prompt, nil
}

func (e *Engine) handleAwaitingSize(phone, body string, state models.ConversationState) (string, error) {
	draft := draftFromScratch(state.Scratch)
	fields := nlp.ParseOrder(body)
	size := fields[nlp.FieldSize]
	if size == "" {
		canonical, ok := matchSize(body, e.catalog.AvailableSizes(draft.Type))
		if !ok {
			return fmt.Sprintf("What size would you like? We have: %s.",
				strings.Join(e.catalog.AvailableSizes(draft.Type), ", ")), nil
		}
		size = canonical
	}
	if !containsFold(e.catalog.AvailableSizes(draft.Type), size) {
		return fmt.Sprintf("A %s only comes in: %s. Which would you like?",
			draft.Type, strings.Join(e.catalog.AvailableSizes(draft.Type), ", ")), nil
	}
	draft.Size = size

	stage, prompt := e.nextMissingField(draft)
	e.conv.Set(phone, stage, scratchFromDraft(state.Scratch[models.ScratchName], draft))
	return prompt, nil
}

func (e *Engine) handleAwaitingSugar(phone, body string, state models.ConversationState) (string, error) {
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

	stage, prompt := e.nextMissingField(draft)
	e.conv.Set(phone, stage, scratchFromDraft(state.Scratch[models.ScratchName], draft))
	return prompt, nil
}

// bareSugarReply interprets a reply that is just a count or a refusal, which
// ParseOrder on its own would not recognize as a sugar field.
func bareSugarReply(body string) string {
	trimmed := strings.TrimSpace(body)
	if nlp.IsNegative(trimmed) || strings.EqualFold(trimmed, "none") {
		return "no sugar"
	}
	switch trimmed {
	case "0":
		return "no sugar"
	case "1":
		return "1 sugar"
	case "2", "3", "4":
		return trimmed + " sugars"
	}
	return ""
}

// handleAwaitingConfirmation commits on YES, abandons on NO, and restarts the
// drink wizard on EDIT. Anything else re-prompts without losing the draft.
func (e *Engine) handleAwaitingConfirmation(phone, body string, state models.ConversationState) (string, error) {
	name := state.Scratch[models.ScratchName]
	draft := draftFromScratch(state.Scratch)

	switch {
	case nlp.IsAffirmative(body):
		reply, err := e.committer.Confirm(phone, draft, name, false, "")
		if err != nil {
			if noStations(err) {
				return noStationsReply, nil
			}
			return "", fmt.Errorf("committing order for %s: %w", phone, err)
		}
		e.conv.Set(phone, models.StageCompleted, map[string]string{
			models.ScratchName:         name,
			models.ScratchPrimaryOrder: e.draftSummary(draft),
		})
		return reply + " Text FRIEND to add an order for someone with you.", nil

	case nlp.IsNegative(body):
		e.conv.Set(phone, models.StageCompleted, map[string]string{models.ScratchName: name})
		return "No worries, order cancelled. Text us any time you'd like a coffee!", nil

	case strings.EqualFold(strings.TrimSpace(body), "edit"):
		scratch := map[string]string{models.ScratchName: name}
		scratchWithStation(scratch, draft)
		e.conv.Set(phone, models.StageAwaitingCoffeeType, scratch)
		return fmt.Sprintf("Sure, let's start over. What coffee would you like? We have: %s.",
			strings.Join(e.catalog.AvailableCoffeeTypes(), ", ")), nil

	default:
		return fmt.Sprintf("Your order is %s. Reply YES to confirm, NO to cancel, or EDIT to change it.",
			e.draftSummary(draft)), nil
	}
}

// noStationsReply is the capacity apology for when no station can take the
// order. The draft is kept so the customer can retry with a plain YES.
const noStationsReply = "Sorry, no coffee stations are available right now. Your order is saved. Reply YES in a few minutes to try again."

func noStations(err error) bool {
	return errors.Is(err, assignment.ErrNoStations) || errors.Is(err, assignment.ErrNoActiveStations)
}

// cleanName strips punctuation and common lead-ins ("i'm", "my name is")
// from a name reply.
func cleanName(body string) string {
	name := strings.TrimSpace(body)
	lower := strings.ToLower(name)
	for _, prefix := range []string{"my name is ", "i'm ", "im ", "it's ", "its ", "this is ", "call me "} {
		if strings.HasPrefix(lower, prefix) {
			name = strings.TrimSpace(name[len(prefix):])
			break
		}
	}
	name = strings.Trim(name, ".!,")
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" || strings.ContainsAny(name, "0123456789") {
		return ""
	}
	return titleCase(name)
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func matchSize(body string, sizes []string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(body))
	for _, s := range sizes {
		if strings.Contains(lower, strings.ToLower(s)) {
			return s, true
		}
	}
	return "", false
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
