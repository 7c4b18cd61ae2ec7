// Package forms holds the rules shared by the service and the client:
// conditional field visibility, per-type validation and multipart payload
// assembly. Everything here is a pure function of the field definitions
// and the current value map.
package forms

import (
	"fmt"
	"strconv"

	"github.com/studenthub/regforms/model"
)

// Visible reports whether a field should be shown given the current
// values. A field with no conditions is always visible; otherwise all of
// its conditions must hold. Unknown operators do not hide the field.
func Visible(field model.Field, values map[int]any) bool {
	for _, cond := range field.Conditions {
		actual := stringify(values[cond.FieldID])

		switch cond.Operator {
		case model.OpEquals:
			if actual != cond.Value {
				return false
			}
		case model.OpNotEquals:
			if actual == cond.Value {
				return false
			}
		}
	}
	return true
}

// VisibleFields filters a form's fields down to the currently visible
// ones, preserving order.
func VisibleFields(fields []model.Field, values map[int]any) []model.Field {
	visible := make([]model.Field, 0, len(fields))
	for _, f := range fields {
		if Visible(f, values) {
			visible = append(visible, f)
		}
	}
	return visible
}

// stringify renders a value the way conditions and scalar payload parts
// see it. JSON numbers arrive as float64: integral ones must print
// without a decimal point so they compare equal to "5".
func stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprint(v)
	}
}

func isEmpty(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []string:
		return len(v) == 0
	case []any:
		return len(v) == 0
	}
	return false
}

// asStrings normalizes an array-typed value to its elements' string
// representations. Scalars become a single-element slice.
func asStrings(v any) []string {
	switch v := v.(type) {
	case nil:
		return nil
	case []string:
		return v
	case []any:
		out := make([]string, len(v))
		for i, e := range v {
			out[i] = stringify(e)
		}
		return out
	default:
		return []string{stringify(v)}
	}
}

func isOption(field model.Field, value string) bool {
	for _, opt := range field.Options {
		if opt == value {
			return true
		}
	}
	return false
}
