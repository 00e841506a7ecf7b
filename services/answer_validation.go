package services

import (
	"fmt"
	"strconv"
	"strings"

	"mindscreen/models"
)

// ValidateAnswer checks value against the rules of question's type.
// It never returns a Go error; failures are listed in the result.
func ValidateAnswer(q *models.AssessmentQuestion, value models.AnswerValue) models.ValidationResult {
	fail := func(code models.ValidationErrorCode, format string, args ...interface{}) models.ValidationResult {
		return models.ValidationResult{
			Valid:  false,
			Errors: []models.ValidationError{{Code: code, QuestionID: q.ID, Message: fmt.Sprintf(format, args...)}},
		}
	}

	if value.IsEmpty() {
		if q.IsRequired {
			return fail(models.ErrCodeRequiredMissing, "an answer is required")
		}
		return models.ValidationResult{Valid: true}
	}

	switch q.QuestionType {
	case models.QuestionTypeSingleChoice:
		if value.Kind() == models.AnswerList {
			return fail(models.ErrCodeWrongType, "expected a single option, got a list")
		}
		if _, ok := matchOption(q, value); !ok {
			return fail(models.ErrCodeInvalidOption, "'%s' is not one of the options", value.String())
		}
	case models.QuestionTypeMultiChoice:
		if value.Kind() != models.AnswerList {
			return fail(models.ErrCodeWrongType, "expected a list of options")
		}
		var unknown, repeated []string
		seen := make(map[string]bool)
		for _, item := range value.Items() {
			opt, ok := matchOption(q, item)
			switch {
			case !ok:
				unknown = append(unknown, item.String())
			case seen[opt.ID]:
				repeated = append(repeated, item.String())
			default:
				seen[opt.ID] = true
			}
		}
		if len(unknown) > 0 {
			return fail(models.ErrCodeInvalidOption, "unknown options: %s", strings.Join(unknown, ", "))
		}
		if len(repeated) > 0 {
			return fail(models.ErrCodeInvalidOption, "options chosen more than once: %s", strings.Join(repeated, ", "))
		}
	case models.QuestionTypeScale:
		n, ok := value.Number()
		if !ok {
			return fail(models.ErrCodeWrongType, "expected a number between %v and %v", q.ScaleMin, q.ScaleMax)
		}
		if n < q.ScaleMin || n > q.ScaleMax {
			return fail(models.ErrCodeOutOfRange, "%v is outside [%v, %v]", n, q.ScaleMin, q.ScaleMax)
		}
	case models.QuestionTypeText:
		if _, ok := value.Text(); !ok {
			return fail(models.ErrCodeWrongType, "expected text")
		}
	default:
		return fail(models.ErrCodeWrongType, "question has unsupported type '%s'", q.QuestionType)
	}
	return models.ValidationResult{Valid: true}
}

// matchOption finds the option a scalar answer refers to. Numbers match an option
// value before an option ID; text matches an ID before a value.
func matchOption(q *models.AssessmentQuestion, v models.AnswerValue) (models.QuestionOption, bool) {
	switch v.Kind() {
	case models.AnswerNumber:
		n, _ := v.Number()
		if opt, ok := q.FindOptionByValue(n); ok {
			return opt, true
		}
		return q.FindOption(v.Key())
	case models.AnswerText:
		s, _ := v.Text()
		if opt, ok := q.FindOption(s); ok {
			return opt, true
		}
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return q.FindOptionByValue(n)
		}
	}
	return models.QuestionOption{}, false
}
