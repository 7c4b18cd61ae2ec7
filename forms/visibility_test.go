package forms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/studenthub/regforms/model"
)

func condField(conds ...model.Condition) model.Field {
	return model.Field{ID: 10, Label: "Details", Type: model.FieldText, Conditions: conds}
}

func TestVisible_NoConditions(t *testing.T) {
	assert.True(t, Visible(condField(), map[int]any{}))
}

func TestVisible_Equals(t *testing.T) {
	f := condField(model.Condition{FieldID: 1, Operator: model.OpEquals, Value: "yes"})

	assert.True(t, Visible(f, map[int]any{1: "yes"}))
	assert.False(t, Visible(f, map[int]any{1: "no"}))
	assert.False(t, Visible(f, map[int]any{}))
}

func TestVisible_NotEquals(t *testing.T) {
	f := condField(model.Condition{FieldID: 1, Operator: model.OpNotEquals, Value: "none"})

	assert.True(t, Visible(f, map[int]any{1: "some"}))
	assert.False(t, Visible(f, map[int]any{1: "none"}))
}

func TestVisible_AllConditionsMustHold(t *testing.T) {
	f := condField(
		model.Condition{FieldID: 1, Operator: model.OpEquals, Value: "yes"},
		model.Condition{FieldID: 2, Operator: model.OpEquals, Value: "other"},
	)

	assert.True(t, Visible(f, map[int]any{1: "yes", 2: "other"}))
	assert.False(t, Visible(f, map[int]any{1: "yes", 2: "something"}))
}

func TestVisible_UnknownOperatorIsPermissive(t *testing.T) {
	f := condField(model.Condition{FieldID: 1, Operator: "matches", Value: "x"})

	assert.True(t, Visible(f, map[int]any{1: "whatever"}))
}

func TestVisible_ComparesStringRepresentations(t *testing.T) {
	f := condField(model.Condition{FieldID: 1, Operator: model.OpEquals, Value: "5"})

	// JSON numbers decode as float64
	assert.True(t, Visible(f, map[int]any{1: float64(5)}))
	assert.True(t, Visible(f, map[int]any{1: "5"}))

	b := condField(model.Condition{FieldID: 1, Operator: model.OpEquals, Value: "true"})
	assert.True(t, Visible(b, map[int]any{1: true}))
}

func TestVisibleFields_PreservesOrder(t *testing.T) {
	fields := []model.Field{
		{ID: 1, Type: model.FieldSelect, Options: []string{"yes", "no"}},
		{ID: 2, Type: model.FieldText, Conditions: []model.Condition{
			{FieldID: 1, Operator: model.OpEquals, Value: "yes"},
		}},
		{ID: 3, Type: model.FieldText},
	}

	visible := VisibleFields(fields, map[int]any{1: "no"})
	assert.Len(t, visible, 2)
	assert.Equal(t, 1, visible[0].ID)
	assert.Equal(t, 3, visible[1].ID)

	visible = VisibleFields(fields, map[int]any{1: "yes"})
	assert.Len(t, visible, 3)
}
