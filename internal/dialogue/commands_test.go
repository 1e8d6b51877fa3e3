package dialogue

import (
	"strings"
	"testing"

	"github.com/brewtap/brewtap/internal/models"
	"github.com/brewtap/brewtap/internal/settings"
)

func commitOrder(t *testing.T, f *fixture) *models.Order {
	t.Helper()
	f.send(t, "large oat latte 1 sugar")
	f.send(t, "yes")
	order, err := f.store.LatestOrderByPhone(testPhone)
	if err != nil {
		t.Fatalf("order not committed: %v", err)
	}
	return order
}

func TestStatusWithoutOrder(t *testing.T) {
	f := newFixture(t)
	reply := f.send(t, "STATUS")
	if !strings.Contains(reply, "don't have an order") {
		t.Errorf("reply: %q", reply)
	}
}

func TestStatusReportsLatestOrder(t *testing.T) {
	f := newFixture(t)
	order := commitOrder(t, f)

	reply := f.send(t, "status")
	if !strings.Contains(reply, order.OrderNumber) {
		t.Errorf("status should include the order number: %q", reply)
	}
	if !strings.Contains(reply, "queue") {
		t.Errorf("status should phrase the pending state: %q", reply)
	}
}

func TestStatusReportsFriendOrders(t *testing.T) {
	f := newFixture(t)
	commitOrder(t, f)

	f.send(t, "FRIEND")
	f.send(t, "Jo")
	f.send(t, "small mocha 2 sugars")
	f.send(t, "skim")
	f.send(t, "yes")
	f.send(t, "no")

	// A fresh order of the customer's own anchors the report, so Jo's order
	// shows up as part of the same round.
	f.send(t, "large oat latte 1 sugar")
	f.send(t, "yes")

	reply := f.send(t, "STATUS")
	if !strings.Contains(reply, "Jo's order is in the queue") {
		t.Errorf("status should report the friend's order by name: %q", reply)
	}
}

func TestCancelCommand(t *testing.T) {
	f := newFixture(t)
	order := commitOrder(t, f)

	reply := f.send(t, "CANCEL")
	if !strings.Contains(reply, "cancelled") {
		t.Errorf("reply: %q", reply)
	}

	got, _ := f.store.GetOrderByNumber(order.OrderNumber)
	if got.Status != models.OrderStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	station, _ := f.store.GetStation(order.StationID)
	if station.CurrentLoad != 0 {
		t.Errorf("station load = %d, want 0 after cancel", station.CurrentLoad)
	}

	reply = f.send(t, "CANCEL")
	if !strings.Contains(reply, "don't have an open order") {
		t.Errorf("second cancel reply: %q", reply)
	}
}

func TestInfoCommand(t *testing.T) {
	f := newFixture(t)
	for _, cmd := range []string{"INFO", "help", "?"} {
		reply := f.send(t, cmd)
		if !strings.Contains(reply, "STATUS") || !strings.Contains(reply, "FRIEND") {
			t.Errorf("%s reply should list commands: %q", cmd, reply)
		}
	}
}

func TestOptionsCommand(t *testing.T) {
	f := newFixture(t)
	reply := f.send(t, "OPTIONS")
	if !strings.Contains(reply, "latte") || !strings.Contains(reply, "oat") {
		t.Errorf("menu reply: %q", reply)
	}
}

func TestOptionsHonorsEventMenu(t *testing.T) {
	f := newFixture(t)
	f.store.SetSetting(settings.KeyEventMenu, "latte,flat white")

	reply := f.send(t, "MENU")
	if !strings.Contains(reply, "latte") {
		t.Errorf("allow-listed drink missing: %q", reply)
	}
	if strings.Contains(reply, "hot chocolate") {
		t.Errorf("drink outside the event menu leaked: %q", reply)
	}
}

func TestVIPCodeCommand(t *testing.T) {
	f := newFixture(t)
	f.store.SetSetting(settings.KeyVIPCodes, "GOLD123,BARISTA")

	reply := f.send(t, "gold123")
	if !strings.Contains(reply, "VIP") {
		t.Errorf("reply: %q", reply)
	}
	if f.stage() != models.StageAwaitingCoffeeType {
		t.Fatalf("VIP code should jump to drink selection, got %s", f.stage())
	}
	pref, _ := f.store.GetPreference(testPhone)
	if pref == nil || !pref.VIP {
		t.Error("VIP flag not saved")
	}

	// The committed order carries VIP priority.
	f.send(t, "latte")
	f.send(t, "oat")
	f.send(t, "large")
	f.send(t, "no sugar")
	f.send(t, "yes")
	order, err := f.store.LatestOrderByPhone(testPhone)
	if err != nil {
		t.Fatalf("order not committed: %v", err)
	}
	if order.QueuePriority != models.PriorityVIP {
		t.Errorf("priority = %d, want VIP", order.QueuePriority)
	}
}

func TestChangeNameCommand(t *testing.T) {
	f := newFixture(t)
	reply := f.send(t, "CHANGENAME alex")
	if !strings.Contains(reply, "Alex") {
		t.Errorf("reply: %q", reply)
	}
	pref, _ := f.store.GetPreference(testPhone)
	if pref == nil || pref.Name != "Alex" {
		t.Errorf("name not saved: %+v", pref)
	}

	reply = f.send(t, "CHANGENAME 12345")
	if !strings.Contains(reply, "Usage") {
		t.Errorf("reply: %q", reply)
	}
}

func TestResetClearsDrinkKeepsName(t *testing.T) {
	f := newFixture(t)
	f.store.SavePreference(models.CustomerPreference{
		ID: "p1", Key: testPhone, Name: "Sam",
		DrinkType: "latte", Milk: "oat", Size: "large", Sugar: "1 sugar",
		TotalOrders: 4, LoyaltyPoints: 4,
	})

	f.send(t, "RESET")
	pref, _ := f.store.GetPreference(testPhone)
	if pref.Name != "Sam" || pref.TotalOrders != 4 {
		t.Errorf("reset should keep name and counters: %+v", pref)
	}
	if pref.DrinkType != "" || pref.Milk != "" {
		t.Errorf("reset should clear drink fields: %+v", pref)
	}
}

func TestMyDataCommand(t *testing.T) {
	f := newFixture(t)
	f.store.SavePreference(models.CustomerPreference{
		ID: "p1", Key: testPhone, Name: "Sam", DrinkType: "latte", TotalOrders: 2,
	})

	reply := f.send(t, "MYDATA")
	if !strings.Contains(reply, "Sam") || !strings.Contains(reply, "latte") {
		t.Errorf("reply: %q", reply)
	}
}

func TestDeletionRequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	f.store.SavePreference(models.CustomerPreference{ID: "p1", Key: testPhone, Name: "Sam"})

	reply := f.send(t, "DELETE")
	if f.stage() != models.StageAwaitingDeletionConfirmation {
		t.Fatalf("stage = %s, want awaiting_deletion_confirmation", f.stage())
	}
	if !strings.Contains(reply, "YES") {
		t.Errorf("reply should ask for confirmation: %q", reply)
	}

	// Still have the data before confirming.
	if pref, _ := f.store.GetPreference(testPhone); pref == nil {
		t.Fatal("data deleted before confirmation")
	}

	f.send(t, "yes")
	if pref, _ := f.store.GetPreference(testPhone); pref != nil {
		t.Error("preference not deleted after confirmation")
	}
	if f.stage() != models.StageNone {
		t.Errorf("conversation state should be cleared, stage = %s", f.stage())
	}
}

func TestDeletionBacksOutOnAnythingElse(t *testing.T) {
	f := newFixture(t)
	f.store.SavePreference(models.CustomerPreference{ID: "p1", Key: testPhone, Name: "Sam"})

	f.send(t, "FORGET ME")
	// A command keyword here must be treated as a decline, not re-run as a
	// fresh command.
	reply := f.send(t, "STOP")
	if !strings.Contains(reply, "kept your details") {
		t.Errorf("reply: %q", reply)
	}
	if pref, _ := f.store.GetPreference(testPhone); pref == nil {
		t.Error("decline must keep the data")
	}
	if f.stage() != models.StageCompleted {
		t.Errorf("stage = %s, want completed", f.stage())
	}
}
