package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"mindscreen/catalog"
	"mindscreen/models"
)

// CatalogFormatVersion is written into every catalog export.
const CatalogFormatVersion = 1

// QuestionBankManager owns the canonical assessment definitions.
// Everything it returns is a copy; callers can never mutate the stored entities.
type QuestionBankManager interface {
	LoadDefaults() error
	LoadFromDir(dir string) (int, error)

	AddAssessmentType(t *models.AssessmentType) error
	UpdateAssessmentType(t *models.AssessmentType) error
	RemoveAssessmentType(id string) bool

	GetAssessmentType(id string) (*models.AssessmentType, error)
	GetAllAssessmentTypes() []*models.AssessmentType
	GetAssessmentTypesByCategory(category models.AssessmentCategory) []*models.AssessmentType
	GetQuestions(typeID, language, culturalContext string) ([]models.AssessmentQuestion, error)
	GetLocalizedAssessmentType(id, language string) (*models.AssessmentType, error)
	GetCulturallyAdaptedAssessmentType(id, culturalContext string) (*models.AssessmentType, error)
	Resolve(id, language, culturalContext string) (*models.AssessmentType, error)
	AvailableLocales(id string) []string

	ValidateQuestion(q *models.AssessmentQuestion) error
	ValidateAssessmentType(t *models.AssessmentType) error

	ExportCatalog() ([]byte, error)
	ImportCatalog(data []byte) (int, error)
}

// CatalogValidationError lists every structural problem found in one entity.
type CatalogValidationError struct {
	EntityID string
	Problems []string
}

func (e *CatalogValidationError) Error() string {
	id := e.EntityID
	if id == "" {
		id = "<no id>"
	}
	return fmt.Sprintf("invalid definition '%s': %s", id, strings.Join(e.Problems, "; "))
}

// ImportFailure names one rejected entry of an import batch.
type ImportFailure struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
	Error string `json:"error"`
}

// ImportError is returned when a catalog import is rejected. Nothing was registered.
type ImportError struct {
	Failures []ImportFailure
}

func (e *ImportError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("#%d (%s): %s", f.Index, f.ID, f.Error)
	}
	return fmt.Sprintf("catalog import rejected, %d invalid entries: %s", len(e.Failures), strings.Join(parts, " | "))
}

// CatalogDocument is the transport form of the whole catalog.
type CatalogDocument struct {
	FormatVersion   int                      `json:"format_version"`
	ExportedAt      time.Time                `json:"exported_at"`
	AssessmentTypes []*models.AssessmentType `json:"assessment_types"`
}

type questionBankManager struct {
	mu           sync.RWMutex
	types        map[string]*models.AssessmentType
	translations *TranslationTable
	now          func() time.Time
}

// NewQuestionBankManager creates an empty question bank.
func NewQuestionBankManager() QuestionBankManager {
	return &questionBankManager{
		types:        make(map[string]*models.AssessmentType),
		translations: NewTranslationTable(),
		now:          time.Now,
	}
}

// LoadDefaults registers the built-in questionnaires, replacing any with the same ID.
func (b *questionBankManager) LoadDefaults() error {
	types, err := catalog.Defaults()
	if err != nil {
		log.Printf("ERROR: [QuestionBank] Failed to decode built-in catalog: %v", err)
		return fmt.Errorf("failed to decode built-in catalog: %w", err)
	}
	for _, t := range types {
		if err := b.ValidateAssessmentType(t); err != nil {
			log.Printf("ERROR: [QuestionBank] Built-in assessment type '%s' is invalid: %v", t.ID, err)
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.registerLocked(t)
	}
	log.Printf("INFO: [QuestionBank] Loaded %d built-in assessment types.", len(types))
	return nil
}

// LoadFromDir registers every valid questionnaire file in dir and returns how many were loaded.
// Invalid files are skipped; the returned error joins their reasons.
func (b *questionBankManager) LoadFromDir(dir string) (int, error) {
	types, errs := catalog.LoadDir(dir)
	loaded := 0
	for _, t := range types {
		if err := b.ValidateAssessmentType(t); err != nil {
			log.Printf("WARN: [QuestionBank] Skipping assessment type '%s' from '%s': %v", t.ID, dir, err)
			errs = append(errs, err)
			continue
		}
		b.mu.Lock()
		b.registerLocked(t)
		b.mu.Unlock()
		loaded++
	}
	log.Printf("INFO: [QuestionBank] Loaded %d assessment types from '%s' (%d skipped).", loaded, dir, len(errs))
	return loaded, errors.Join(errs...)
}

// AddAssessmentType registers a new assessment type. The ID must not be in use.
func (b *questionBankManager) AddAssessmentType(t *models.AssessmentType) error {
	if t == nil {
		return errors.New("assessment type cannot be nil")
	}
	if err := b.ValidateAssessmentType(t); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.types[t.ID]; exists {
		return fmt.Errorf("assessment type '%s' already exists", t.ID)
	}
	b.registerLocked(t.Clone())
	log.Printf("INFO: [QuestionBank] Added assessment type '%s' (version %s).", t.ID, t.Version)
	return nil
}

// UpdateAssessmentType replaces a registered assessment type. The version must change.
func (b *questionBankManager) UpdateAssessmentType(t *models.AssessmentType) error {
	if t == nil {
		return errors.New("assessment type cannot be nil")
	}
	if err := b.ValidateAssessmentType(t); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	current, exists := b.types[t.ID]
	if !exists {
		return &models.SessionError{Code: models.ErrCodeAssessmentTypeNotFound, AssessmentTypeID: t.ID}
	}
	if current.Version == t.Version {
		return fmt.Errorf("assessment type '%s' is already at version %s", t.ID, t.Version)
	}
	b.registerLocked(t.Clone())
	log.Printf("INFO: [QuestionBank] Updated assessment type '%s' from version %s to %s.", t.ID, current.Version, t.Version)
	return nil
}

// RemoveAssessmentType unregisters an assessment type. Sessions already started keep
// the questions they were started with.
func (b *questionBankManager) RemoveAssessmentType(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.types[id]; !exists {
		return false
	}
	delete(b.types, id)
	b.translations.clearMissing(id, nil)
	log.Printf("INFO: [QuestionBank] Removed assessment type '%s'.", id)
	return true
}

func (b *questionBankManager) registerLocked(t *models.AssessmentType) {
	if t.Version == "" {
		t.Version = "1.0.0"
	}
	if t.BaseLanguage == "" {
		t.BaseLanguage = "en"
	}
	t.UpdatedAt = b.now().UTC()
	for _, w := range RangeCoverageIssues(t) {
		log.Printf("WARN: [QuestionBank] Assessment type '%s': %s", t.ID, w)
	}
	b.types[t.ID] = t
	b.translations.indexAssessmentType(t)
}

func (b *questionBankManager) canonical(id string) (*models.AssessmentType, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.types[id]
	if !ok {
		return nil, &models.SessionError{Code: models.ErrCodeAssessmentTypeNotFound, AssessmentTypeID: id}
	}
	return t.Clone(), nil
}

// GetAssessmentType returns a copy of the canonical (base language) definition.
func (b *questionBankManager) GetAssessmentType(id string) (*models.AssessmentType, error) {
	return b.canonical(id)
}

// GetAllAssessmentTypes returns copies of every registered type, ordered by ID.
func (b *questionBankManager) GetAllAssessmentTypes() []*models.AssessmentType {
	return b.filter(func(*models.AssessmentType) bool { return true })
}

// GetAssessmentTypesByCategory returns copies of the types in one category, ordered by ID.
func (b *questionBankManager) GetAssessmentTypesByCategory(category models.AssessmentCategory) []*models.AssessmentType {
	return b.filter(func(t *models.AssessmentType) bool { return t.Category == category })
}

func (b *questionBankManager) filter(keep func(*models.AssessmentType) bool) []*models.AssessmentType {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*models.AssessmentType, 0, len(b.types))
	for _, t := range b.types {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetQuestions returns the ordered questions of a type as seen in the given language and context.
func (b *questionBankManager) GetQuestions(typeID, language, culturalContext string) ([]models.AssessmentQuestion, error) {
	t, err := b.Resolve(typeID, language, culturalContext)
	if err != nil {
		return nil, err
	}
	return t.Questions, nil
}

// GetLocalizedAssessmentType returns a copy with text substituted for language.
// Fields without a translation keep the base language text.
func (b *questionBankManager) GetLocalizedAssessmentType(id, language string) (*models.AssessmentType, error) {
	return b.Resolve(id, language, "")
}

// GetCulturallyAdaptedAssessmentType returns a copy adapted for a cultural context.
func (b *questionBankManager) GetCulturallyAdaptedAssessmentType(id, culturalContext string) (*models.AssessmentType, error) {
	return b.Resolve(id, "", culturalContext)
}

// Resolve returns a copy adapted to culturalContext and then translated to language.
func (b *questionBankManager) Resolve(id, language, culturalContext string) (*models.AssessmentType, error) {
	t, err := b.canonical(id)
	if err != nil {
		return nil, err
	}
	if culturalContext != "" {
		b.translations.applyLocale(t, []string{cultureLocalePrefix + culturalContext})
	}
	if language != "" && language != t.BaseLanguage {
		b.translations.applyLocale(t, localeChain(language))
	}
	return t, nil
}

// AvailableLocales lists the languages and cultural contexts a type has text for.
func (b *questionBankManager) AvailableLocales(id string) []string {
	return b.translations.Locales(id)
}

// ValidateQuestion checks the structure of a single question.
func (b *questionBankManager) ValidateQuestion(q *models.AssessmentQuestion) error {
	problems := questionProblems(q)
	if len(problems) > 0 {
		return &CatalogValidationError{EntityID: q.ID, Problems: problems}
	}
	return nil
}

func questionProblems(q *models.AssessmentQuestion) []string {
	var problems []string
	if strings.TrimSpace(q.ID) == "" {
		problems = append(problems, "question id is empty")
	}
	if strings.TrimSpace(q.Text) == "" {
		problems = append(problems, fmt.Sprintf("question '%s' has empty text", q.ID))
	}
	if !q.QuestionType.IsValid() {
		problems = append(problems, fmt.Sprintf("question '%s' has unknown type '%s'", q.ID, q.QuestionType))
		return problems
	}
	switch q.QuestionType {
	case models.QuestionTypeSingleChoice, models.QuestionTypeMultiChoice, models.QuestionTypeScale:
		if len(q.Options) == 0 {
			problems = append(problems, fmt.Sprintf("question '%s' of type %s needs options", q.ID, q.QuestionType))
		}
		seen := map[string]bool{}
		for _, opt := range q.Options {
			if opt.ID == "" {
				problems = append(problems, fmt.Sprintf("question '%s' has an option without id", q.ID))
				continue
			}
			if seen[opt.ID] {
				problems = append(problems, fmt.Sprintf("question '%s' repeats option id '%s'", q.ID, opt.ID))
			}
			seen[opt.ID] = true
		}
	}
	if q.QuestionType == models.QuestionTypeScale && !(q.ScaleMin < q.ScaleMax) {
		problems = append(problems, fmt.Sprintf("question '%s' needs scale_min < scale_max (got %v, %v)", q.ID, q.ScaleMin, q.ScaleMax))
	}
	return problems
}

// ValidateAssessmentType checks the type, each of its questions and its scoring rules.
func (b *questionBankManager) ValidateAssessmentType(t *models.AssessmentType) error {
	if t == nil {
		return errors.New("assessment type cannot be nil")
	}
	var problems []string
	if strings.TrimSpace(t.ID) == "" {
		problems = append(problems, "id is empty")
	}
	if strings.TrimSpace(t.Name) == "" {
		problems = append(problems, "name is empty")
	}
	if !t.Category.IsValid() {
		problems = append(problems, fmt.Sprintf("unknown category '%s'", t.Category))
	}
	if len(t.Questions) == 0 {
		problems = append(problems, "at least one question is required")
	}
	if len(t.ScoringRules) == 0 {
		problems = append(problems, "at least one scoring rule is required")
	}

	questionIDs := map[string]bool{}
	for i := range t.Questions {
		q := &t.Questions[i]
		problems = append(problems, questionProblems(q)...)
		if q.ID != "" && questionIDs[q.ID] {
			problems = append(problems, fmt.Sprintf("duplicate question id '%s'", q.ID))
		}
		questionIDs[q.ID] = true
	}

	ruleIDs := map[string]bool{}
	for i := range t.ScoringRules {
		rule := &t.ScoringRules[i]
		problems = append(problems, ruleProblems(rule, questionIDs)...)
		if rule.ID != "" && ruleIDs[rule.ID] {
			problems = append(problems, fmt.Sprintf("duplicate scoring rule id '%s'", rule.ID))
		}
		ruleIDs[rule.ID] = true
	}
	for _, a := range t.Advice {
		if !ruleIDs[a.RuleID] {
			problems = append(problems, fmt.Sprintf("advice references unknown rule '%s'", a.RuleID))
		}
	}

	if len(problems) > 0 {
		return &CatalogValidationError{EntityID: t.ID, Problems: problems}
	}
	return nil
}

func ruleProblems(rule *models.ScoringRule, questionIDs map[string]bool) []string {
	var problems []string
	if strings.TrimSpace(rule.ID) == "" {
		problems = append(problems, "scoring rule id is empty")
	}
	if !rule.Calculation.IsValid() {
		problems = append(problems, fmt.Sprintf("rule '%s' has unknown calculation '%s'", rule.ID, rule.Calculation))
	}
	if len(rule.QuestionIDs) == 0 {
		problems = append(problems, fmt.Sprintf("rule '%s' consumes no questions", rule.ID))
	}
	for _, qid := range rule.QuestionIDs {
		if !questionIDs[qid] {
			problems = append(problems, fmt.Sprintf("rule '%s' references unknown question '%s'", rule.ID, qid))
		}
	}
	for qid := range rule.Weights {
		if !questionIDs[qid] {
			problems = append(problems, fmt.Sprintf("rule '%s' weights unknown question '%s'", rule.ID, qid))
		}
	}
	for i, r := range rule.Ranges {
		if r.Min > r.Max {
			problems = append(problems, fmt.Sprintf("rule '%s' range %d has min %v > max %v", rule.ID, i, r.Min, r.Max))
		}
		if !r.RiskLevel.IsValid() {
			problems = append(problems, fmt.Sprintf("rule '%s' range %d has invalid risk level '%s'", rule.ID, i, r.RiskLevel))
		}
		if i > 0 && r.Min <= rule.Ranges[i-1].Max {
			problems = append(problems, fmt.Sprintf("rule '%s' range %d overlaps or is out of order with range %d", rule.ID, i, i-1))
		}
	}
	return problems
}

// RangeCoverageIssues reports reachable scores that no range of a rule covers.
// Integer-valued rules only need to cover whole numbers.
func RangeCoverageIssues(t *models.AssessmentType) []string {
	var issues []string
	for i := range t.ScoringRules {
		rule := &t.ScoringRules[i]
		if len(rule.Ranges) == 0 {
			continue
		}
		lo, hi, integral := reachableScores(t, rule)
		first, last := rule.Ranges[0], rule.Ranges[len(rule.Ranges)-1]
		if lo < first.Min {
			issues = append(issues, fmt.Sprintf("rule '%s' can score %v, below its lowest range (%v)", rule.ID, lo, first.Min))
		}
		if hi > last.Max {
			issues = append(issues, fmt.Sprintf("rule '%s' can score %v, above its highest range (%v)", rule.ID, hi, last.Max))
		}
		for j := 1; j < len(rule.Ranges); j++ {
			prevMax, nextMin := rule.Ranges[j-1].Max, rule.Ranges[j].Min
			gap := nextMin > prevMax
			if integral {
				gap = math.Floor(nextMin)-math.Ceil(prevMax) > 1 || (math.Ceil(prevMax) != prevMax && math.Floor(nextMin) > prevMax)
			}
			if gap {
				issues = append(issues, fmt.Sprintf("rule '%s' leaves scores between %v and %v unlabelled", rule.ID, prevMax, nextMin))
			}
		}
	}
	return issues
}

// reachableScores bounds the score a rule can produce from valid answers.
func reachableScores(t *models.AssessmentType, rule *models.ScoringRule) (lo, hi float64, integral bool) {
	integral = rule.Calculation != models.CalculationAverage
	for _, qid := range rule.QuestionIDs {
		q, ok := t.FindQuestion(qid)
		if !ok {
			continue
		}
		qlo, qhi := questionValueBounds(q)
		w := 1.0
		if rule.Calculation == models.CalculationWeightedSum {
			w = rule.Weight(qid)
		}
		if w != math.Trunc(w) {
			integral = false
		}
		for _, opt := range q.Options {
			if opt.Value != math.Trunc(opt.Value) {
				integral = false
			}
		}
		a, b := qlo*w, qhi*w
		if a > b {
			a, b = b, a
		}
		lo += a
		hi += b
	}
	if rule.Calculation == models.CalculationAverage && len(rule.QuestionIDs) > 0 {
		n := float64(len(rule.QuestionIDs))
		lo, hi = lo/n, hi/n
	}
	return lo, hi, integral
}

func questionValueBounds(q *models.AssessmentQuestion) (float64, float64) {
	switch q.QuestionType {
	case models.QuestionTypeScale:
		return q.ScaleMin, q.ScaleMax
	case models.QuestionTypeSingleChoice:
		if len(q.Options) == 0 {
			return 0, 0
		}
		lo, hi := q.Options[0].Value, q.Options[0].Value
		for _, o := range q.Options[1:] {
			lo, hi = math.Min(lo, o.Value), math.Max(hi, o.Value)
		}
		return lo, hi
	case models.QuestionTypeMultiChoice:
		var lo, hi float64
		for _, o := range q.Options {
			if o.Value < 0 {
				lo += o.Value
			} else {
				hi += o.Value
			}
		}
		return lo, hi
	}
	return 0, 0
}

// ExportCatalog serializes every registered type to a CatalogDocument.
func (b *questionBankManager) ExportCatalog() ([]byte, error) {
	doc := CatalogDocument{
		FormatVersion:   CatalogFormatVersion,
		ExportedAt:      b.now().UTC(),
		AssessmentTypes: b.GetAllAssessmentTypes(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode catalog: %w", err)
	}
	log.Printf("INFO: [QuestionBank] Exported %d assessment types.", len(doc.AssessmentTypes))
	return data, nil
}

// ImportCatalog validates every entry of a CatalogDocument and registers all of them,
// replacing types with the same ID, or none of them. It returns the number registered.
func (b *questionBankManager) ImportCatalog(data []byte) (int, error) {
	var doc CatalogDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("failed to decode catalog document: %w", err)
	}
	if doc.FormatVersion != CatalogFormatVersion {
		return 0, fmt.Errorf("unsupported catalog format version %d", doc.FormatVersion)
	}

	var failures []ImportFailure
	seen := map[string]int{}
	for i, t := range doc.AssessmentTypes {
		if t == nil {
			failures = append(failures, ImportFailure{Index: i, Error: "entry is null"})
			continue
		}
		if err := b.ValidateAssessmentType(t); err != nil {
			failures = append(failures, ImportFailure{Index: i, ID: t.ID, Error: err.Error()})
		}
		if first, dup := seen[t.ID]; dup && t.ID != "" {
			failures = append(failures, ImportFailure{Index: i, ID: t.ID, Error: fmt.Sprintf("duplicates entry #%d", first)})
		} else {
			seen[t.ID] = i
		}
	}
	if len(failures) > 0 {
		log.Printf("WARN: [QuestionBank] Rejected catalog import of %d entries: %d invalid.", len(doc.AssessmentTypes), len(failures))
		return 0, &ImportError{Failures: failures}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range doc.AssessmentTypes {
		b.registerLocked(t.Clone())
	}
	log.Printf("INFO: [QuestionBank] Imported %d assessment types.", len(doc.AssessmentTypes))
	return len(doc.AssessmentTypes), nil
}
