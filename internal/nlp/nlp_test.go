package nlp

import "testing"

func TestParseOrderFullMessage(t *testing.T) {
	fields := ParseOrder("Large oat latte with 1 sugar please")
	if fields[FieldType] != "latte" {
		t.Errorf("expected type latte, got %q", fields[FieldType])
	}
	if fields[FieldMilk] != "oat" {
		t.Errorf("expected milk oat, got %q", fields[FieldMilk])
	}
	if fields[FieldSize] != "large" {
		t.Errorf("expected size large, got %q", fields[FieldSize])
	}
	if fields[FieldSugar] != "1 sugar" {
		t.Errorf("expected 1 sugar, got %q", fields[FieldSugar])
	}
}

func TestParseOrderMultiWordDrinkBeatsSubstring(t *testing.T) {
	fields := ParseOrder("flat white please")
	if fields[FieldType] != "flat white" {
		t.Errorf("expected flat white, got %q", fields[FieldType])
	}
}

func TestParseOrderLongBlackNotMilkNone(t *testing.T) {
	fields := ParseOrder("long black thanks")
	if fields[FieldType] != "long black" {
		t.Fatalf("expected long black, got %q", fields[FieldType])
	}
	if _, ok := fields[FieldMilk]; ok {
		t.Errorf("long black should not set a milk field, got %q", fields[FieldMilk])
	}
}

func TestParseOrderExplicitNoMilk(t *testing.T) {
	fields := ParseOrder("long black no milk")
	if fields[FieldMilk] != "none" {
		t.Errorf("expected milk none, got %q", fields[FieldMilk])
	}
}

func TestParseOrderMilkAliases(t *testing.T) {
	cases := map[string]string{
		"cappuccino with whole milk":    "full cream",
		"latte with skinny milk":        "skim",
		"flat white lactose free":       "lactose free",
		"medium soy chai latte":         "soy",
		"almond milk cappuccino please": "almond",
	}
	for input, want := range cases {
		got := ParseOrder(input)[FieldMilk]
		if got != want {
			t.Errorf("ParseOrder(%q) milk = %q, want %q", input, got, want)
		}
	}
}

func TestParseOrderNoSugar(t *testing.T) {
	fields := ParseOrder("latte no sugar")
	if fields[FieldSugar] != "no sugar" {
		t.Errorf("expected no sugar, got %q", fields[FieldSugar])
	}
}

func TestParseOrderSugarWords(t *testing.T) {
	fields := ParseOrder("flat white two sugars")
	if fields[FieldSugar] != "2 sugars" {
		t.Errorf("expected 2 sugars, got %q", fields[FieldSugar])
	}
}

func TestParseOrderNotes(t *testing.T) {
	fields := ParseOrder("latte note: extra shot")
	if fields[FieldNotes] != "extra shot" {
		t.Errorf("expected note extra shot, got %q", fields[FieldNotes])
	}
	fields = ParseOrder("extra hot cappuccino")
	if fields[FieldNotes] != "extra hot" {
		t.Errorf("expected note extra hot, got %q", fields[FieldNotes])
	}
}

func TestParseOrderUnrecognized(t *testing.T) {
	fields := ParseOrder("what time do you close?")
	if len(fields) != 0 {
		t.Errorf("expected no fields, got %v", fields)
	}
}

func TestExtractStationID(t *testing.T) {
	if id := ExtractStationID("latte at station 3 please"); id != 3 {
		t.Errorf("expected station 3, got %d", id)
	}
	if id := ExtractStationID("just a latte"); id != 0 {
		t.Errorf("expected 0, got %d", id)
	}
}

func TestIsGreeting(t *testing.T) {
	for _, msg := range []string{"hi", "Hello", "HEY", "good morning", "hi there"} {
		if !IsGreeting(msg) {
			t.Errorf("expected %q to be a greeting", msg)
		}
	}
	for _, msg := range []string{"latte please", "hi I'd like a large flat white with oat milk thanks"} {
		if IsGreeting(msg) {
			t.Errorf("expected %q not to be a greeting", msg)
		}
	}
}

func TestIsAffirmativeAndNegative(t *testing.T) {
	for _, msg := range []string{"yes", "YES", "yep", "ok", "Sure!", "y"} {
		if !IsAffirmative(msg) {
			t.Errorf("expected %q to be affirmative", msg)
		}
	}
	for _, msg := range []string{"no", "Nope", "nah", "n"} {
		if !IsNegative(msg) {
			t.Errorf("expected %q to be negative", msg)
		}
	}
	if IsAffirmative("no") || IsNegative("yes") {
		t.Error("affirmative and negative must not overlap")
	}
}

func TestIsBlackCoffee(t *testing.T) {
	if !IsBlackCoffee("long black") || !IsBlackCoffee("espresso") {
		t.Error("expected long black and espresso to be black coffees")
	}
	if IsBlackCoffee("latte") {
		t.Error("latte is not a black coffee")
	}
}

func TestFormatOrderSummary(t *testing.T) {
	got := FormatOrderSummary(map[string]string{
		FieldType: "latte", FieldMilk: "oat", FieldSize: "large", FieldSugar: "1 sugar",
	})
	want := "large latte with oat milk, 1 sugar"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	got = FormatOrderSummary(map[string]string{FieldType: "long black", FieldMilk: "none"})
	want = "long black, no milk"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	original := ParseOrder("large oat latte 1 sugar")
	reparsed := ParseOrder(FormatOrderSummary(original))
	for _, f := range []string{FieldType, FieldMilk, FieldSize, FieldSugar} {
		if original[f] != reparsed[f] {
			t.Errorf("field %s changed across round trip: %q vs %q", f, original[f], reparsed[f])
		}
	}
}
