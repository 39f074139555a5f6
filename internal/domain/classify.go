package domain

import (
	"strings"

	"recibod/internal/clock"
)

// Category is the single coarse due signal derived per user per module.
// Higher values win: a user with both an overdue and a due-in-two-days
// obligation classifies as Overdue.
type Category int

const (
	None Category = iota
	DueInTwoDays
	DueTomorrow
	DueToday
	Overdue
)

// Key returns the template-array key for the category inside a module's
// template document.
func (c Category) Key() string {
	switch c {
	case Overdue:
		return "overdue"
	case DueToday:
		return "dueToday"
	case DueTomorrow:
		return "dueTomorrow"
	case DueInTwoDays:
		return "dueIn2Days"
	default:
		return "none"
	}
}

func (c Category) String() string { return c.Key() }

// Classifier decides which module an obligation belongs to. The keyword
// implementation below is a migration shim for free-text categories; a
// tagged category written at creation time can replace it without touching
// the classification rules.
type Classifier interface {
	Module(ob Obligation) (Module, bool)
}

// KeywordClassifier matches an obligation's free-text category against
// per-module substring sets, case-insensitively.
type KeywordClassifier struct {
	keywords map[Module][]string
}

func NewKeywordClassifier(keywords map[string][]string) *KeywordClassifier {
	kw := make(map[Module][]string, len(keywords))
	for mod, words := range keywords {
		lowered := make([]string, 0, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				lowered = append(lowered, w)
			}
		}
		kw[Module(mod)] = lowered
	}
	return &KeywordClassifier{keywords: kw}
}

func (c *KeywordClassifier) Module(ob Obligation) (Module, bool) {
	cat := strings.ToLower(ob.Category)
	if cat == "" {
		return "", false
	}
	for mod, words := range c.keywords {
		for _, w := range words {
			if strings.Contains(cat, w) {
				return mod, true
			}
		}
	}
	return "", false
}

// DayRefs carries the three reference local days a classification compares
// against. All are YYYYMMDD under the same user offset.
type DayRefs struct {
	Today    int
	Tomorrow int
	DayAfter int
}

// DueRules classifies one user's obligations for one module.
type DueRules struct {
	Classifier Classifier
	// DueFields is the fallback order of due-date field names inside
	// Obligation.Attrs; the first non-null wins.
	DueFields []string
}

// ResolveDueDay resolves an obligation's due day as a local YYYYMMDD, trying
// the configured field names in order. Unparseable values fall through to the
// next field.
func (r DueRules) ResolveDueDay(ob Obligation, offsetMinutes int) (int, bool) {
	for _, field := range r.DueFields {
		v, present := ob.Attrs[field]
		if !present || v == nil {
			continue
		}
		if day, ok := clock.LocalDayOf(v, offsetMinutes); ok {
			return day, true
		}
	}
	return 0, false
}

// Classify scans all obligations, keeps the ones belonging to module with an
// outstanding balance, and returns the highest-priority category found.
//
// Obligations without a resolvable due date are excluded from classification
// and reported back by ID so the caller can back-fill a default due date off
// the critical path. Due days beyond the +2 horizon are simply ignored.
func (r DueRules) Classify(module Module, obs []Obligation, offsetMinutes int, refs DayRefs) (Category, []string) {
	best := None
	var missingDue []string

	for _, ob := range obs {
		mod, ok := r.Classifier.Module(ob)
		if !ok || mod != module {
			continue
		}
		if ob.Settled() {
			continue
		}
		due, ok := r.ResolveDueDay(ob, offsetMinutes)
		if !ok {
			missingDue = append(missingDue, ob.ID)
			continue
		}

		var cat Category
		switch {
		case due < refs.Today:
			cat = Overdue
		case due == refs.Today:
			cat = DueToday
		case due == refs.Tomorrow:
			cat = DueTomorrow
		case due == refs.DayAfter:
			cat = DueInTwoDays
		default:
			continue
		}
		if cat > best {
			best = cat
		}
	}
	return best, missingDue
}
