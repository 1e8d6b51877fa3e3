// Package nlp turns free-text SMS bodies into structured partial orders.
//
// Everything here is a pure function of the input text plus lookup tables:
// no state, no side effects. Callers must treat an empty result as "nothing
// recognized, ask again", never as an error.
package nlp

import (
	"fmt"
	"regexp"
	"strings"
)

// Field names returned by ParseOrder.
const (
	FieldType  = "type"
	FieldMilk  = "milk"
	FieldSize  = "size"
	FieldSugar = "sugar"
	FieldNotes = "notes"
)

// coffeeTypes is ordered longest-first so multi-word drinks match before
// their substrings ("flat white" before "white", "long black" before "black").
var coffeeTypes = []string{
	"flat white",
	"long black",
	"hot chocolate",
	"chai latte",
	"iced coffee",
	"cappuccino",
	"macchiato",
	"americano",
	"espresso",
	"piccolo",
	"mocha",
	"latte",
	"filter",
	"tea",
}

// milkAliases maps spoken variants onto canonical milk names.
var milkAliases = map[string]string{
	"full cream":   "full cream",
	"full-cream":   "full cream",
	"whole milk":   "full cream",
	"regular milk": "full cream",
	"skim":         "skim",
	"skinny":       "skim",
	"lite milk":    "skim",
	"oat":          "oat",
	"soy":          "soy",
	"soya":         "soy",
	"almond":       "almond",
	"lactose free": "lactose free",
	"lactose-free": "lactose free",
	"no milk":      "none",
	"black":        "none",
}

var sizeAliases = map[string]string{
	"small":   "small",
	"sml":     "small",
	"medium":  "medium",
	"med":     "medium",
	"regular": "medium",
	"large":   "large",
	"lge":     "large",
	"big":     "large",
}

var (
	sugarCountRe = regexp.MustCompile(`\b(\d+|one|two|three|half)\s*(sugars?|sweeteners?)\b`)
	noSugarRe    = regexp.MustCompile(`\b(no|zero|without)\s*(sugars?|sweeteners?)\b`)
	stationRe    = regexp.MustCompile(`\bstation\s+(\d+)\b`)
)

var sugarWords = map[string]string{
	"one": "1", "two": "2", "three": "3", "half": "half",
}

var greetingWords = []string{
	"hi", "hello", "hey", "good morning", "good afternoon", "gday", "g'day",
	"morning", "howdy", "yo", "help", "start", "coffee please",
}

var affirmativeWords = []string{
	"yes", "y", "yep", "yeah", "yea", "sure", "ok", "okay", "confirm",
	"sounds good", "correct", "that's right", "thats right", "please", "go ahead",
}

var usualPhrases = []string{
	"usual", "the usual", "my usual", "same as last time", "same again",
	"the regular", "as always",
}

var blackCoffees = []string{"espresso", "long black", "americano", "filter", "black coffee"}

// ParseOrder extracts whatever order fields it can recognize from text.
// It returns a possibly-empty map; unrecognized input yields no entries.
func ParseOrder(text string) map[string]string {
	fields := make(map[string]string)
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return fields
	}

	for _, ct := range coffeeTypes {
		if strings.Contains(lower, ct) {
			fields[FieldType] = ct
			break
		}
	}

	// Longest alias first so "lactose free" beats "free", "no milk" beats "milk".
	bestMilk, bestLen := "", 0
	for alias, canonical := range milkAliases {
		if strings.Contains(lower, alias) && len(alias) > bestLen {
			bestMilk, bestLen = canonical, len(alias)
		}
	}
	if bestMilk != "" {
		// "black" inside "long black" is the drink, not a milk request.
		if !(bestMilk == "none" && fields[FieldType] == "long black" && !strings.Contains(lower, "no milk")) {
			fields[FieldMilk] = bestMilk
		}
	}

	for alias, canonical := range sizeAliases {
		if containsWord(lower, alias) {
			fields[FieldSize] = canonical
			break
		}
	}

	if noSugarRe.MatchString(lower) {
		fields[FieldSugar] = "no sugar"
	} else if m := sugarCountRe.FindStringSubmatch(lower); m != nil {
		count := m[1]
		if word, ok := sugarWords[count]; ok {
			count = word
		}
		if count == "1" {
			fields[FieldSugar] = "1 sugar"
		} else {
			fields[FieldSugar] = count + " sugars"
		}
	}

	if idx := strings.Index(lower, "note:"); idx >= 0 {
		fields[FieldNotes] = strings.TrimSpace(text[idx+len("note:"):])
	} else if strings.Contains(lower, "extra hot") {
		fields[FieldNotes] = "extra hot"
	} else if strings.Contains(lower, "decaf") {
		fields[FieldNotes] = "decaf"
	}

	return fields
}

// ExtractStationID parses an in-text "station N" mention. Returns 0 when no
// station is mentioned.
func ExtractStationID(text string) int {
	m := stationRe.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return 0
	}
	var id int
	fmt.Sscanf(m[1], "%d", &id)
	return id
}

// IsGreeting reports whether text reads as a greeting or help request.
func IsGreeting(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, g := range greetingWords {
		if lower == g {
			return true
		}
	}
	// Short messages that open with a greeting word still count.
	for _, g := range []string{"hi ", "hello ", "hey "} {
		if strings.HasPrefix(lower, g) && len(lower) < 25 {
			return true
		}
	}
	return false
}

// IsAffirmative reports whether text reads as a yes.
func IsAffirmative(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(strings.TrimRight(text, "!. ")))
	for _, a := range affirmativeWords {
		if lower == a {
			return true
		}
	}
	return false
}

// IsNegative reports whether text reads as a no.
func IsNegative(text string) bool {
	switch strings.ToLower(strings.TrimSpace(strings.TrimRight(text, "!. "))) {
	case "no", "n", "nope", "nah", "cancel", "stop that", "not yet":
		return true
	default:
		return false
	}
}

// IsAskingForUsual reports whether text asks for the customer's saved order.
func IsAskingForUsual(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, u := range usualPhrases {
		if lower == u || strings.Contains(lower, u) {
			return true
		}
	}
	return false
}

// IsBlackCoffee reports whether the coffee type takes no milk.
func IsBlackCoffee(coffeeType string) bool {
	lower := strings.ToLower(strings.TrimSpace(coffeeType))
	for _, b := range blackCoffees {
		if lower == b {
			return true
		}
	}
	return false
}

// FormatOrderSummary renders order fields as a short human-readable line,
// e.g. "large latte with oat milk, 1 sugar".
func FormatOrderSummary(fields map[string]string) string {
	var b strings.Builder
	if size := fields[FieldSize]; size != "" {
		b.WriteString(size)
		b.WriteString(" ")
	}
	if t := fields[FieldType]; t != "" {
		b.WriteString(t)
	} else {
		b.WriteString("coffee")
	}
	if milk := fields[FieldMilk]; milk != "" && milk != "none" {
		b.WriteString(" with ")
		b.WriteString(milk)
		b.WriteString(" milk")
	} else if milk == "none" {
		b.WriteString(", no milk")
	}
	if sugar := fields[FieldSugar]; sugar != "" {
		b.WriteString(", ")
		b.WriteString(sugar)
	}
	if notes := fields[FieldNotes]; notes != "" {
		b.WriteString(" (")
		b.WriteString(notes)
		b.WriteString(")")
	}
	return b.String()
}

// containsWord reports whether lower contains word bounded by non-letters.
func containsWord(lower, word string) bool {
	idx := strings.Index(lower, word)
	for idx >= 0 {
		beforeOK := idx == 0 || !isLetter(lower[idx-1])
		afterIdx := idx + len(word)
		afterOK := afterIdx >= len(lower) || !isLetter(lower[afterIdx])
		if beforeOK && afterOK {
			return true
		}
		next := strings.Index(lower[idx+1:], word)
		if next < 0 {
			return false
		}
		idx = idx + 1 + next
	}
	return false
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
