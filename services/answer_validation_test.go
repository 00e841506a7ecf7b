package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mindscreen/models"
)

func TestValidateAnswer(t *testing.T) {
	scale := scaleQuestion("s1", "How often?", true)
	optionalScale := scaleQuestion("s2", "Anything else?", false)
	single := models.AssessmentQuestion{
		ID: "c1", Text: "Pick one", QuestionType: models.QuestionTypeSingleChoice, IsRequired: true,
		Options: []models.QuestionOption{{ID: "yes", Text: "Yes", Value: 1}, {ID: "no", Text: "No", Value: 0}},
	}
	multi := models.AssessmentQuestion{
		ID: "m1", Text: "Pick any", QuestionType: models.QuestionTypeMultiChoice, IsRequired: true,
		Options: []models.QuestionOption{{ID: "a", Text: "A", Value: 1}, {ID: "b", Text: "B", Value: 2}},
	}
	text := models.AssessmentQuestion{ID: "t1", Text: "Tell us more", QuestionType: models.QuestionTypeText}

	tests := []struct {
		name     string
		question models.AssessmentQuestion
		value    models.AnswerValue
		valid    bool
		code     models.ValidationErrorCode
	}{
		{"scale in range", scale, models.NumberValue(2), true, ""},
		{"scale at bounds", scale, models.NumberValue(3), true, ""},
		{"scale above max", scale, models.NumberValue(5), false, models.ErrCodeOutOfRange},
		{"scale below min", scale, models.NumberValue(-1), false, models.ErrCodeOutOfRange},
		{"scale with text", scale, models.TextValue("often"), false, models.ErrCodeWrongType},
		{"required missing", scale, models.AnswerValue{}, false, models.ErrCodeRequiredMissing},
		{"blank text counts as missing", scale, models.TextValue("  "), false, models.ErrCodeRequiredMissing},
		{"optional skipped", optionalScale, models.AnswerValue{}, true, ""},
		{"single by id", single, models.TextValue("yes"), true, ""},
		{"single by value", single, models.NumberValue(0), true, ""},
		{"single unknown option", single, models.TextValue("maybe"), false, models.ErrCodeInvalidOption},
		{"single with list", single, models.TextList("yes"), false, models.ErrCodeWrongType},
		{"multi with list", multi, models.TextList("a", "b"), true, ""},
		{"multi mixed ids and values", multi, models.ListValue(models.TextValue("a"), models.NumberValue(2)), true, ""},
		{"multi unknown member", multi, models.TextList("a", "z"), false, models.ErrCodeInvalidOption},
		{"multi repeated option", multi, models.TextList("b", "b", "b", "b"), false, models.ErrCodeInvalidOption},
		{"multi same option by id and value", multi, models.ListValue(models.TextValue("b"), models.NumberValue(2)), false, models.ErrCodeInvalidOption},
		{"multi with scalar", multi, models.TextValue("a"), false, models.ErrCodeWrongType},
		{"multi empty list is missing", multi, models.TextList(), false, models.ErrCodeRequiredMissing},
		{"text", text, models.TextValue("sleeping badly"), true, ""},
		{"text with number", text, models.NumberValue(4), false, models.ErrCodeWrongType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.question
			res := ValidateAnswer(&q, tt.value)
			assert.Equal(t, tt.valid, res.Valid)
			if tt.valid {
				assert.Empty(t, res.Errors)
				return
			}
			assert.True(t, res.HasCode(tt.code), "expected %s, got %+v", tt.code, res.Errors)
			assert.Equal(t, q.ID, res.Errors[0].QuestionID)
		})
	}
}

func TestMatchOption_NumbersPreferValues(t *testing.T) {
	q := models.AssessmentQuestion{
		ID: "c1", QuestionType: models.QuestionTypeSingleChoice,
		Options: []models.QuestionOption{{ID: "1", Text: "Never", Value: 0}, {ID: "2", Text: "Sometimes", Value: 1}},
	}

	opt, ok := matchOption(&q, models.NumberValue(1))
	assert.True(t, ok)
	assert.Equal(t, "2", opt.ID, "1 is the value of option 2")

	opt, ok = matchOption(&q, models.NumberValue(2))
	assert.True(t, ok)
	assert.Equal(t, "2", opt.ID, "no option has value 2, so it names option 2 by ID")

	opt, ok = matchOption(&q, models.TextValue("1"))
	assert.True(t, ok)
	assert.Equal(t, "1", opt.ID, "text names an ID first")
}
