package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AnswerValueKind tells which representation an AnswerValue holds.
type AnswerValueKind int

const (
	AnswerEmpty AnswerValueKind = iota
	AnswerNumber
	AnswerText
	AnswerList
)

func (k AnswerValueKind) String() string {
	switch k {
	case AnswerNumber:
		return "number"
	case AnswerText:
		return "text"
	case AnswerList:
		return "list"
	}
	return "empty"
}

// AnswerValue is an immutable answer payload: a number, a string, or a list of
// numbers and strings. It marshals to plain JSON (3, "text", [1, "opt_b"]).
type AnswerValue struct {
	kind   AnswerValueKind
	number float64
	text   string
	items  []AnswerValue
}

// NumberValue wraps a numeric answer.
func NumberValue(n float64) AnswerValue {
	return AnswerValue{kind: AnswerNumber, number: n}
}

// TextValue wraps a string answer (free text or an option ID).
func TextValue(s string) AnswerValue {
	return AnswerValue{kind: AnswerText, text: s}
}

// ListValue wraps a multiple-choice answer. Nested lists are flattened.
func ListValue(items ...AnswerValue) AnswerValue {
	flat := make([]AnswerValue, 0, len(items))
	for _, it := range items {
		if it.kind == AnswerList {
			flat = append(flat, it.items...)
			continue
		}
		flat = append(flat, it)
	}
	return AnswerValue{kind: AnswerList, items: flat}
}

// NumberList is shorthand for a list of numeric answers.
func NumberList(ns ...float64) AnswerValue {
	items := make([]AnswerValue, len(ns))
	for i, n := range ns {
		items[i] = NumberValue(n)
	}
	return AnswerValue{kind: AnswerList, items: items}
}

// TextList is shorthand for a list of option IDs.
func TextList(ss ...string) AnswerValue {
	items := make([]AnswerValue, len(ss))
	for i, s := range ss {
		items[i] = TextValue(s)
	}
	return AnswerValue{kind: AnswerList, items: items}
}

func (v AnswerValue) Kind() AnswerValueKind { return v.kind }

// Number returns the numeric payload and whether the value is a number.
func (v AnswerValue) Number() (float64, bool) {
	return v.number, v.kind == AnswerNumber
}

// Text returns the string payload and whether the value is text.
func (v AnswerValue) Text() (string, bool) {
	return v.text, v.kind == AnswerText
}

// Items returns a copy of the list members.
func (v AnswerValue) Items() []AnswerValue {
	if v.kind != AnswerList {
		return nil
	}
	return append([]AnswerValue(nil), v.items...)
}

// IsEmpty reports a missing answer: no value, blank text, or an empty list.
func (v AnswerValue) IsEmpty() bool {
	switch v.kind {
	case AnswerEmpty:
		return true
	case AnswerText:
		return strings.TrimSpace(v.text) == ""
	case AnswerList:
		return len(v.items) == 0
	}
	return false
}

// Key is the string form used to compare a scalar against option IDs.
func (v AnswerValue) Key() string {
	switch v.kind {
	case AnswerNumber:
		return strconv.FormatFloat(v.number, 'f', -1, 64)
	case AnswerText:
		return v.text
	}
	return ""
}

// Equal compares two values structurally.
func (v AnswerValue) Equal(o AnswerValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case AnswerNumber:
		return v.number == o.number
	case AnswerText:
		return v.text == o.text
	case AnswerList:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
	}
	return true
}

func (v AnswerValue) String() string {
	switch v.kind {
	case AnswerNumber, AnswerText:
		return v.Key()
	case AnswerList:
		parts := make([]string, len(v.items))
		for i, it := range v.items {
			parts[i] = it.Key()
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return ""
}

// MarshalJSON encodes the value as a JSON number, string, array or null.
func (v AnswerValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case AnswerNumber:
		return json.Marshal(v.number)
	case AnswerText:
		return json.Marshal(v.text)
	case AnswerList:
		return json.Marshal(v.items)
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts a JSON number, string, array of numbers/strings or null.
func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := answerValueFrom(raw, true)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// AnswerValueFrom converts a decoded JSON value into an AnswerValue.
func AnswerValueFrom(raw interface{}) (AnswerValue, error) {
	return answerValueFrom(raw, true)
}

func answerValueFrom(raw interface{}, allowList bool) (AnswerValue, error) {
	switch t := raw.(type) {
	case nil:
		return AnswerValue{}, nil
	case float64:
		return NumberValue(t), nil
	case int:
		return NumberValue(float64(t)), nil
	case string:
		return TextValue(t), nil
	case []interface{}:
		if !allowList {
			return AnswerValue{}, fmt.Errorf("nested lists are not valid answers")
		}
		items := make([]AnswerValue, 0, len(t))
		for _, e := range t {
			item, err := answerValueFrom(e, false)
			if err != nil {
				return AnswerValue{}, err
			}
			items = append(items, item)
		}
		return AnswerValue{kind: AnswerList, items: items}, nil
	}
	return AnswerValue{}, fmt.Errorf("unsupported answer value of type %T", raw)
}

// AssessmentAnswer is a user's answer to one question. It is replaced, never edited.
type AssessmentAnswer struct {
	QuestionID string      `json:"question_id"`
	Value      AnswerValue `json:"value"`
	AnsweredAt time.Time   `json:"answered_at"`
}
