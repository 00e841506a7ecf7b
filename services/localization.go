package services

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"mindscreen/models"
)

// cultureLocalePrefix separates cultural-context entries from language entries in the table.
const cultureLocalePrefix = "culture:"

// TranslationKey addresses one localizable field.
type TranslationKey struct {
	EntityID  string // assessment type ID, or "typeID/questionID" for questions
	FieldPath string // e.g. "text", "options.2", "rules.phq9_total.ranges.0.label"
	Locale    string // language tag, or "culture:<context>"
}

// TranslationEntry is one version of a field's text. An empty Value clears the field.
type TranslationEntry struct {
	TranslationKey
	Value      string    `json:"value"`
	Version    int       `json:"version"`
	RecordedAt time.Time `json:"recorded_at"`
}

// TranslationTable is an append-only, versioned store of localized text.
// Lookups always see the newest version of a key.
type TranslationTable struct {
	mu      sync.RWMutex
	entries map[TranslationKey][]TranslationEntry
	now     func() time.Time
}

// NewTranslationTable creates an empty table.
func NewTranslationTable() *TranslationTable {
	return &TranslationTable{
		entries: make(map[TranslationKey][]TranslationEntry),
		now:     time.Now,
	}
}

// Put appends value as the newest version of key unless it equals the current one.
// It returns the version now in effect.
func (t *TranslationTable) Put(key TranslationKey, value string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	history := t.entries[key]
	if n := len(history); n > 0 && history[n-1].Value == value {
		return history[n-1].Version
	}
	if len(history) == 0 && value == "" {
		return 0
	}
	entry := TranslationEntry{TranslationKey: key, Value: value, Version: len(history) + 1, RecordedAt: t.now()}
	t.entries[key] = append(history, entry)
	return entry.Version
}

// Lookup returns the newest non-empty value for key.
func (t *TranslationTable) Lookup(key TranslationKey) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	history := t.entries[key]
	if len(history) == 0 {
		return "", false
	}
	v := history[len(history)-1].Value
	return v, v != ""
}

// History returns every version recorded for key, oldest first.
func (t *TranslationTable) History(key TranslationKey) []TranslationEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]TranslationEntry(nil), t.entries[key]...)
}

// Locales lists the locales with at least one live entry for an assessment type
// or any of its questions.
func (t *TranslationTable) Locales(typeID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := map[string]bool{}
	for key, history := range t.entries {
		if key.EntityID != typeID && !strings.HasPrefix(key.EntityID, typeID+"/") {
			continue
		}
		if history[len(history)-1].Value != "" {
			seen[key.Locale] = true
		}
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// indexAssessmentType flattens the override maps of t into the table. Fields that
// a previous version of t had translated but this one does not are cleared.
func (t *TranslationTable) indexAssessmentType(at *models.AssessmentType) {
	fresh := map[TranslationKey]string{}
	collect := func(locale string, o models.TypeOverride) {
		add := func(path, v string) {
			if v != "" {
				fresh[TranslationKey{EntityID: at.ID, FieldPath: path, Locale: locale}] = v
			}
		}
		add("name", o.Name)
		add("description", o.Description)
		for rid, name := range o.RuleNames {
			add("rules."+rid+".name", name)
		}
		for rid, ranges := range o.Ranges {
			for i, r := range ranges {
				prefix := "rules." + rid + ".ranges." + strconv.Itoa(i)
				add(prefix+".label", r.Label)
				add(prefix+".description", r.Description)
			}
		}
	}
	for lang, o := range at.Translations {
		collect(lang, o)
	}
	for ctx, o := range at.CulturalAdaptations {
		collect(cultureLocalePrefix+ctx, o)
	}

	for _, q := range at.Questions {
		entityID := questionEntityID(at.ID, q.ID)
		collectQ := func(locale string, o models.QuestionOverride) {
			if o.Text != "" {
				fresh[TranslationKey{EntityID: entityID, FieldPath: "text", Locale: locale}] = o.Text
			}
			for optID, text := range o.Options {
				if text != "" {
					fresh[TranslationKey{EntityID: entityID, FieldPath: "options." + optID, Locale: locale}] = text
				}
			}
			for k, label := range o.ScaleLabels {
				if label != "" {
					fresh[TranslationKey{EntityID: entityID, FieldPath: "scale_labels." + k, Locale: locale}] = label
				}
			}
		}
		for lang, o := range q.Translations {
			collectQ(lang, o)
		}
		for ctx, o := range q.CulturalAdaptations {
			collectQ(cultureLocalePrefix+ctx, o)
		}
	}

	for key, v := range fresh {
		t.Put(key, v)
	}
	t.clearMissing(at.ID, fresh)
}

// clearMissing appends an empty version for live keys of typeID that are not in keep.
func (t *TranslationTable) clearMissing(typeID string, keep map[TranslationKey]string) {
	var stale []TranslationKey
	t.mu.RLock()
	for key, history := range t.entries {
		if key.EntityID != typeID && !strings.HasPrefix(key.EntityID, typeID+"/") {
			continue
		}
		if _, ok := keep[key]; ok {
			continue
		}
		if history[len(history)-1].Value != "" {
			stale = append(stale, key)
		}
	}
	t.mu.RUnlock()
	for _, key := range stale {
		t.Put(key, "")
	}
}

func questionEntityID(typeID, questionID string) string {
	return typeID + "/" + questionID
}

// localeChain returns the lookup order for a language tag: "pt-BR" tries "pt-BR" then "pt".
func localeChain(lang string) []string {
	if lang == "" {
		return nil
	}
	chain := []string{lang}
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		chain = append(chain, lang[:i])
	}
	return chain
}

// applyLocale substitutes every field of at that the table holds for one of the locales.
// at must be a copy; the first locale with a value wins per field.
func (t *TranslationTable) applyLocale(at *models.AssessmentType, locales []string) {
	lookup := func(entityID, path string) (string, bool) {
		for _, l := range locales {
			if v, ok := t.Lookup(TranslationKey{EntityID: entityID, FieldPath: path, Locale: l}); ok {
				return v, true
			}
		}
		return "", false
	}

	if v, ok := lookup(at.ID, "name"); ok {
		at.Name = v
	}
	if v, ok := lookup(at.ID, "description"); ok {
		at.Description = v
	}
	for i := range at.ScoringRules {
		rule := &at.ScoringRules[i]
		if v, ok := lookup(at.ID, "rules."+rule.ID+".name"); ok {
			rule.Name = v
		}
		for j := range rule.Ranges {
			prefix := "rules." + rule.ID + ".ranges." + strconv.Itoa(j)
			if v, ok := lookup(at.ID, prefix+".label"); ok {
				rule.Ranges[j].Label = v
			}
			if v, ok := lookup(at.ID, prefix+".description"); ok {
				rule.Ranges[j].Description = v
			}
		}
	}
	for i := range at.Questions {
		q := &at.Questions[i]
		entityID := questionEntityID(at.ID, q.ID)
		if v, ok := lookup(entityID, "text"); ok {
			q.Text = v
		}
		for j := range q.Options {
			if v, ok := lookup(entityID, "options."+q.Options[j].ID); ok {
				q.Options[j].Text = v
			}
		}
		for k := range q.ScaleLabels {
			if v, ok := lookup(entityID, "scale_labels."+k); ok {
				q.ScaleLabels[k] = v
			}
		}
	}
}
