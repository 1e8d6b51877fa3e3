package dialogue

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/brewtap/brewtap/internal/assignment"
	"github.com/brewtap/brewtap/internal/events"
	"github.com/brewtap/brewtap/internal/inventory"
	"github.com/brewtap/brewtap/internal/models"
	"github.com/brewtap/brewtap/internal/orders"
	"github.com/brewtap/brewtap/internal/settings"
	"github.com/brewtap/brewtap/internal/store"
)

const testPhone = "61400000001"

type fixture struct {
	store  *store.InMemoryStore
	conv   *ConversationStore
	engine *Engine
	pub    *events.RecordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := newBareFixture(t)
	f.store.SaveStation(models.Station{ID: 1, Status: models.StationStatusActive, Capacity: 10})
	return f
}

// newBareFixture wires an engine over a store with no stations configured.
func newBareFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewInMemoryStore()

	pub := &events.RecordingPublisher{}
	cfg := settings.NewService(st)
	committer := orders.NewCommitter(st, assignment.NewEngine(st), cfg, pub)
	conv := NewConversationStore(st)
	engine := NewEngine(conv, st, inventory.NewDefaultStaticCatalog(), cfg, committer)
	return &fixture{store: st, conv: conv, engine: engine, pub: pub}
}

// send pushes one message through the engine and fails the test on error.
func (f *fixture) send(t *testing.T, body string) string {
	t.Helper()
	reply, err := f.engine.HandleSMS(context.Background(), testPhone, body, nil)
	if err != nil {
		t.Fatalf("HandleSMS(%q) error: %v", body, err)
	}
	return reply
}

func (f *fixture) stage() models.Stage {
	return f.conv.Get(testPhone).Stage
}

func (f *fixture) orderCount() int {
	got, _ := f.store.OrdersByPhoneSince(testPhone, time.Time{})
	return len(got)
}

func TestFullOrderingConversation(t *testing.T) {
	f := newFixture(t)

	reply := f.send(t, "hi")
	if !strings.Contains(reply, "name") {
		t.Errorf("greeting should ask for a name: %q", reply)
	}
	if f.stage() != models.StageAwaitingName {
		t.Fatalf("stage = %s, want awaiting_name", f.stage())
	}

	reply = f.send(t, "sam")
	if !strings.Contains(reply, "Sam") {
		t.Errorf("reply should use the cleaned name: %q", reply)
	}
	if f.stage() != models.StageAwaitingCoffeeType {
		t.Fatalf("stage = %s, want awaiting_coffee_type", f.stage())
	}

	f.send(t, "latte")
	if f.stage() != models.StageAwaitingMilk {
		t.Fatalf("stage = %s, want awaiting_milk", f.stage())
	}

	f.send(t, "oat")
	if f.stage() != models.StageAwaitingSize {
		t.Fatalf("stage = %s, want awaiting_size", f.stage())
	}

	f.send(t, "large")
	if f.stage() != models.StageAwaitingSugar {
		t.Fatalf("stage = %s, want awaiting_sugar", f.stage())
	}

	reply = f.send(t, "1 sugar")
	if f.stage() != models.StageAwaitingConfirmation {
		t.Fatalf("stage = %s, want awaiting_confirmation", f.stage())
	}
	if !strings.Contains(reply, "large latte with oat milk, 1 sugar") {
		t.Errorf("confirmation prompt should summarize the order: %q", reply)
	}

	reply = f.send(t, "yes")
	if f.stage() != models.StageCompleted {
		t.Fatalf("stage = %s, want completed", f.stage())
	}
	if !strings.Contains(reply, "confirmed") || !strings.Contains(reply, "FRIEND") {
		t.Errorf("commit reply should confirm and mention FRIEND: %q", reply)
	}
	if f.orderCount() != 1 {
		t.Errorf("order count = %d, want 1", f.orderCount())
	}
}

func TestFastPathCompleteOrder(t *testing.T) {
	f := newFixture(t)

	reply := f.send(t, "Large oat latte with 1 sugar please")
	if f.stage() != models.StageAwaitingConfirmation {
		t.Fatalf("complete order should fast-path to confirmation, stage = %s", f.stage())
	}
	if !strings.Contains(reply, "large latte with oat milk") {
		t.Errorf("fast-path prompt missing summary: %q", reply)
	}

	f.send(t, "yes")
	if f.orderCount() != 1 {
		t.Errorf("order count = %d, want 1", f.orderCount())
	}
}

func TestBlackCoffeeSkipsMilk(t *testing.T) {
	f := newFixture(t)
	f.send(t, "hi")
	f.send(t, "Alex")
	f.send(t, "long black")
	if f.stage() != models.StageAwaitingSize {
		t.Errorf("black coffee should skip the milk stage, got %s", f.stage())
	}
}

func TestUnavailableCoffeeKeepsStage(t *testing.T) {
	f := newFixture(t)
	f.send(t, "hi")
	f.send(t, "Alex")

	reply := f.send(t, "ristretto")
	if f.stage() != models.StageAwaitingCoffeeType {
		t.Fatalf("invalid drink must not advance the stage, got %s", f.stage())
	}
	if !strings.Contains(reply, "latte") {
		t.Errorf("rejection should list available drinks: %q", reply)
	}

	f.send(t, "cappuccino")
	if f.stage() != models.StageAwaitingMilk {
		t.Errorf("valid retry should advance, got %s", f.stage())
	}
}

func TestUnavailableMilkKeepsStage(t *testing.T) {
	f := newFixture(t)
	f.send(t, "hi")
	f.send(t, "Alex")
	f.send(t, "latte")

	f.send(t, "camel milk")
	if f.stage() != models.StageAwaitingMilk {
		t.Errorf("invalid milk must not advance the stage, got %s", f.stage())
	}
}

func TestConfirmationNoAbandons(t *testing.T) {
	f := newFixture(t)
	f.send(t, "large oat latte 1 sugar")
	reply := f.send(t, "no")
	if f.stage() != models.StageCompleted {
		t.Fatalf("stage = %s, want completed", f.stage())
	}
	if !strings.Contains(reply, "cancelled") {
		t.Errorf("decline reply: %q", reply)
	}
	if f.orderCount() != 0 {
		t.Errorf("no order should be committed, got %d", f.orderCount())
	}
}

func TestConfirmationEditRestartsDrink(t *testing.T) {
	f := newFixture(t)
	f.send(t, "hi")
	f.send(t, "Sam")
	f.send(t, "latte")
	f.send(t, "oat")
	f.send(t, "large")
	f.send(t, "1 sugar")

	f.send(t, "edit")
	if f.stage() != models.StageAwaitingCoffeeType {
		t.Fatalf("EDIT should return to drink selection, got %s", f.stage())
	}
	// The name survives the edit.
	state := f.conv.Get(testPhone)
	if state.Scratch[models.ScratchName] != "Sam" {
		t.Errorf("name lost on edit: %v", state.Scratch)
	}
}

func TestDoubleYesIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.send(t, "large oat latte 1 sugar")
	f.send(t, "yes")
	if f.orderCount() != 1 {
		t.Fatalf("order count = %d, want 1", f.orderCount())
	}

	// A second YES after completion must not commit anything.
	f.send(t, "yes")
	if f.orderCount() != 1 {
		t.Errorf("second YES created an order, count = %d", f.orderCount())
	}
}

func TestUsualReplaysSavedOrder(t *testing.T) {
	f := newFixture(t)
	f.store.SavePreference(models.CustomerPreference{
		ID: "p1", Key: testPhone, Name: "Sam",
		DrinkType: "cappuccino", Milk: "skim", Size: "medium", Sugar: "no sugar",
	})

	reply := f.send(t, "my usual please")
	if f.stage() != models.StageAwaitingConfirmation {
		t.Fatalf("usual should jump to confirmation, got %s", f.stage())
	}
	if !strings.Contains(reply, "medium cappuccino with skim milk") {
		t.Errorf("usual summary wrong: %q", reply)
	}

	f.send(t, "yes")
	if f.orderCount() != 1 {
		t.Errorf("usual order not committed")
	}
}

func TestUsualWithoutSavedOrder(t *testing.T) {
	f := newFixture(t)
	reply := f.send(t, "usual")
	if f.stage() != models.StageAwaitingCoffeeType {
		t.Fatalf("no usual saved should fall back to drink selection, got %s", f.stage())
	}
	if !strings.Contains(reply, "don't have a usual") {
		t.Errorf("reply: %q", reply)
	}
}

func TestReturningCustomerOfferedUsualAtName(t *testing.T) {
	f := newFixture(t)
	f.store.SavePreference(models.CustomerPreference{
		ID: "p1", Key: testPhone, DrinkType: "latte", Milk: "oat", Size: "large",
	})

	f.send(t, "hi")
	reply := f.send(t, "Sam")
	if f.stage() != models.StageAwaitingConfirmation {
		t.Fatalf("returning customer should be offered their usual, got %s", f.stage())
	}
	if !strings.Contains(reply, "Welcome back") {
		t.Errorf("reply: %q", reply)
	}
}

func TestStationOverrideFromText(t *testing.T) {
	f := newFixture(t)
	f.store.SaveStation(models.Station{ID: 2, Status: models.StationStatusActive, Capacity: 10})

	f.send(t, "large oat latte 1 sugar at station 2")
	f.send(t, "yes")

	order, err := f.store.LatestOrderByPhone(testPhone)
	if err != nil {
		t.Fatalf("order not committed: %v", err)
	}
	if order.StationID != 2 {
		t.Errorf("station override ignored, got station %d", order.StationID)
	}
}

func TestInboundStationMetaOverrides(t *testing.T) {
	f := newFixture(t)
	f.store.SaveStation(models.Station{ID: 3, Status: models.StationStatusActive, Capacity: 10})

	_, err := f.engine.HandleSMS(context.Background(), testPhone, "large oat latte 1 sugar", &models.InboundMeta{StationID: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.send(t, "yes")

	order, err := f.store.LatestOrderByPhone(testPhone)
	if err != nil {
		t.Fatalf("order not committed: %v", err)
	}
	if order.StationID != 3 {
		t.Errorf("inbound meta override ignored, got station %d", order.StationID)
	}
}

func TestNoStationsApology(t *testing.T) {
	f := newBareFixture(t)

	f.send(t, "large oat latte 1 sugar")
	if f.stage() != models.StageAwaitingConfirmation {
		t.Fatalf("stage = %s, want awaiting_confirmation", f.stage())
	}

	reply := f.send(t, "yes")
	if !strings.Contains(reply, "no coffee stations are available") {
		t.Errorf("expected the capacity apology: %q", reply)
	}
	if strings.Contains(reply, "something went wrong") {
		t.Errorf("capacity failure must not read as an internal error: %q", reply)
	}
	if f.orderCount() != 0 {
		t.Fatalf("order count = %d, want 0 with no stations", f.orderCount())
	}
	if f.stage() != models.StageAwaitingConfirmation {
		t.Errorf("draft should be kept for retry, stage = %s", f.stage())
	}

	// An inactive station is still no capacity.
	f.store.SaveStation(models.Station{ID: 1, Status: models.StationStatusInactive, Capacity: 10})
	reply = f.send(t, "yes")
	if !strings.Contains(reply, "no coffee stations are available") {
		t.Errorf("inactive-only stations should still apologize: %q", reply)
	}
	if f.orderCount() != 0 {
		t.Fatalf("order count = %d, want 0 with inactive stations", f.orderCount())
	}

	// Capacity returns; the saved draft commits on a plain YES.
	f.store.SaveStation(models.Station{ID: 1, Status: models.StationStatusActive, Capacity: 10})
	reply = f.send(t, "yes")
	if !strings.Contains(reply, "confirmed") {
		t.Errorf("retry after capacity returned should commit: %q", reply)
	}
	if f.orderCount() != 1 {
		t.Errorf("order count = %d, want 1", f.orderCount())
	}
}

func TestEmptyPhoneRejected(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.HandleSMS(context.Background(), "", "hi", nil); err == nil {
		t.Fatal("expected error for empty phone")
	}
}

func TestEmptyBodyReprompts(t *testing.T) {
	f := newFixture(t)
	reply := f.send(t, "   ")
	if !strings.Contains(reply, "didn't catch") {
		t.Errorf("reply: %q", reply)
	}
}
