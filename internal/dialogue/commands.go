package dialogue

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brewtap/brewtap/internal/models"
	"github.com/brewtap/brewtap/internal/nlp"
	"github.com/brewtap/brewtap/internal/orders"
	"github.com/brewtap/brewtap/internal/settings"
	"github.com/brewtap/brewtap/internal/store"
)

const infoText = "Text us your coffee order any time! Commands: STATUS (check your order), CANCEL, OPTIONS (today's menu), USUAL (reorder your usual), FRIEND (add a coffee for a friend), MYDATA, CHANGENAME <name>, RESET, DELETE (remove your data)."

// tryCommand matches the message against the keyword commands. It returns
// the reply and true when a command handled the message; stage-specific
// replies like a bare YES fall through to the stage dispatch.
func (e *Engine) tryCommand(phone, body string, state models.ConversationState, meta *models.InboundMeta) (string, bool) {
	upper := strings.ToUpper(strings.TrimSpace(body))

	switch upper {
	case "STATUS":
		return e.commandStatus(phone), true
	case "CANCEL", "CANCELORDER", "CANCEL ORDER":
		return e.commandCancel(phone), true
	case "INFO", "HELP", "?":
		return infoText, true
	case "OPTIONS", "MENU", "COMMANDS":
		return e.commandOptions(), true
	case "USUAL", "MY USUAL":
		pref, err := e.store.GetPreference(models.PreferenceKey(phone, ""))
		if err != nil {
			slog.Error("Engine preference lookup failed for usual", "error", err, "phone", phone)
			pref = nil
		}
		reply, _ := e.replayUsual(phone, pref)
		return reply, true
	case "FRIEND", "ADD FRIEND":
		return e.startFriendFlow(phone, state), true
	case "MYDATA", "MY DATA":
		return e.commandMyData(phone), true
	case "RESET":
		return e.commandReset(phone), true
	case "DELETE", "FORGET ME", "STOP":
		e.conv.Set(phone, models.StageAwaitingDeletionConfirmation, map[string]string{})
		return "This will delete your saved name, preferences and conversation history. Reply YES to confirm, or anything else to keep them.", true
	}

	const changeName = "CHANGENAME "
	if strings.HasPrefix(upper, changeName) {
		return e.commandChangeName(phone, strings.TrimSpace(body)[len(changeName):]), true
	}

	if e.matchVIPCode(upper) {
		return e.commandVIP(phone, state), true
	}

	return "", false
}

// commandStatus reports the latest order, any friend orders in the same
// round, and the current wait estimate.
func (e *Engine) commandStatus(phone string) string {
	order, err := e.store.LatestOrderByPhone(phone)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "We don't have an order from you yet. Tell us what you'd like!"
		}
		slog.Error("Engine status lookup failed", "error", err, "phone", phone)
		return "Sorry, we couldn't look up your order right now. Please try again shortly."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Order %s is %s", order.OrderNumber, statusPhrase(order.Status))
	if order.Status == models.OrderStatusPending || order.Status == models.OrderStatusInProgress {
		if eta := e.committer.EstimateWaitMinutes(order.StationID); eta > 0 {
			fmt.Fprintf(&b, ", about %d min to go", eta)
		}
	}
	b.WriteString(".")

	since := order.CreatedAt.Add(-friendOrderWindow)
	if related, err := e.store.OrdersByPhoneSince(phone, since); err == nil {
		for _, o := range related {
			if o.ForFriend != "" && o.ID != order.ID && o.Status != models.OrderStatusCancelled {
				fmt.Fprintf(&b, " %s's order is %s.", o.ForFriend, statusPhrase(o.Status))
			}
		}
	}
	return b.String()
}

func (e *Engine) commandCancel(phone string) string {
	order, err := e.committer.Cancel(phone)
	if err != nil {
		if errors.Is(err, orders.ErrNoPendingOrder) {
			return "You don't have an open order to cancel."
		}
		slog.Error("Engine cancel failed", "error", err, "phone", phone)
		return "Sorry, we couldn't cancel that right now. Please try again shortly."
	}
	return fmt.Sprintf("Order %s cancelled. Text us any time you'd like another coffee!", order.OrderNumber)
}

// commandOptions lists today's drinks, intersected with the event_menu
// allow-list when one is configured.
func (e *Engine) commandOptions() string {
	drinks := e.catalog.AvailableCoffeeTypes()
	if allowed := e.settings.GetList(settings.KeyEventMenu); len(allowed) > 0 {
		drinks = intersectFold(drinks, allowed)
	}
	milks := e.catalog.AvailableMilkTypes()
	return fmt.Sprintf("Today's menu: %s. Milk: %s. Sweeteners: %s.",
		strings.Join(drinks, ", "), strings.Join(milks, ", "),
		strings.Join(e.catalog.AvailableSweeteners(), ", "))
}

func (e *Engine) commandMyData(phone string) string {
	pref, err := e.store.GetPreference(models.PreferenceKey(phone, ""))
	if err != nil || pref == nil {
		return "We don't have anything saved for you. Text DELETE any time to remove data we hold."
	}
	var b strings.Builder
	b.WriteString("Here's what we have saved: ")
	if pref.Name != "" {
		fmt.Fprintf(&b, "name %s. ", pref.Name)
	}
	if pref.HasUsualOrder() {
		fmt.Fprintf(&b, "Usual order: %s. ", nlp.FormatOrderSummary(map[string]string{
			nlp.FieldType:  pref.DrinkType,
			nlp.FieldMilk:  pref.Milk,
			nlp.FieldSize:  pref.Size,
			nlp.FieldSugar: pref.Sugar,
		}))
	}
	fmt.Fprintf(&b, "Orders with us: %d. ", pref.TotalOrders)
	b.WriteString("Text DELETE to remove it all, or RESET to clear just your drink preferences.")
	return b.String()
}

func (e *Engine) commandChangeName(phone, newName string) string {
	name := cleanName(newName)
	if name == "" {
		return "Usage: CHANGENAME <your name>"
	}
	key := models.PreferenceKey(phone, "")
	pref, err := e.store.GetPreference(key)
	if err != nil || pref == nil {
		pref = &models.CustomerPreference{Key: key}
	}
	pref.Name = name
	if err := e.store.SavePreference(*pref); err != nil {
		slog.Error("Engine name change save failed", "error", err, "phone", phone)
		return "Sorry, we couldn't save that right now. Please try again shortly."
	}
	return fmt.Sprintf("Done! We'll call you %s from now on.", name)
}

// commandReset clears drink preferences but keeps the name and loyalty
// counters.
func (e *Engine) commandReset(phone string) string {
	key := models.PreferenceKey(phone, "")
	pref, err := e.store.GetPreference(key)
	if err != nil || pref == nil {
		return "Nothing to reset. Tell us what you'd like and we'll remember it!"
	}
	pref.DrinkType = ""
	pref.Milk = ""
	pref.Size = ""
	pref.Sugar = ""
	if err := e.store.SavePreference(*pref); err != nil {
		slog.Error("Engine preference reset failed", "error", err, "phone", phone)
		return "Sorry, we couldn't reset that right now. Please try again shortly."
	}
	return "Your drink preferences are cleared. Your next order becomes your new usual."
}

// commandVIP flags the customer as VIP and jumps straight into ordering.
func (e *Engine) commandVIP(phone string, state models.ConversationState) string {
	key := models.PreferenceKey(phone, "")
	pref, err := e.store.GetPreference(key)
	if err != nil || pref == nil {
		pref = &models.CustomerPreference{Key: key}
	}
	pref.VIP = true
	if err := e.store.SavePreference(*pref); err != nil {
		slog.Error("Engine VIP flag save failed", "error", err, "phone", phone)
	}
	scratch := map[string]string{models.ScratchVIP: "true"}
	if name := state.Scratch[models.ScratchName]; name != "" {
		scratch[models.ScratchName] = name
	} else if pref.Name != "" {
		scratch[models.ScratchName] = pref.Name
	}
	e.conv.Set(phone, models.StageAwaitingCoffeeType, scratch)
	return fmt.Sprintf("VIP code accepted! Your orders skip the queue today. What would you like? We have: %s.",
		strings.Join(e.catalog.AvailableCoffeeTypes(), ", "))
}

func (e *Engine) matchVIPCode(upper string) bool {
	for _, code := range e.settings.GetList(settings.KeyVIPCodes) {
		if code != "" && strings.EqualFold(strings.TrimSpace(code), upper) {
			return true
		}
	}
	return false
}

// handleDeletionConfirmation completes the two-step data deletion. Only an
// explicit yes deletes; anything else backs out.
func (e *Engine) handleDeletionConfirmation(phone, body string, state models.ConversationState) (string, error) {
	if !nlp.IsAffirmative(body) {
		e.conv.Set(phone, models.StageCompleted, map[string]string{})
		return "No problem, we've kept your details. Text us any time!", nil
	}

	if err := e.store.DeletePreference(models.PreferenceKey(phone, "")); err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("deleting preference for %s: %w", phone, err)
	}
	e.conv.Clear(phone)
	return "All your saved details are deleted. Thanks for visiting, and feel free to text us again any time.", nil
}

func statusPhrase(s models.OrderStatus) string {
	switch s {
	case models.OrderStatusPending:
		return "in the queue"
	case models.OrderStatusInProgress:
		return "being made now"
	case models.OrderStatusCompleted:
		return "ready for pickup"
	case models.OrderStatusCancelled:
		return "cancelled"
	case models.OrderStatusPaused:
		return "on hold during a break"
	default:
		return string(s)
	}
}

func intersectFold(base, allowed []string) []string {
	var out []string
	for _, b := range base {
		if containsFold(allowed, b) {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return base
	}
	return out
}
