package model

import "time"

type FormState string

const (
	FormOpen     FormState = "open"
	FormClosed   FormState = "closed"
	FormDraft    FormState = "draft"
	FormArchived FormState = "archived"
)

type Form struct {
	ID          int       `json:"id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	OpenDate    time.Time `json:"open_date"`
	CloseDate   time.Time `json:"close_date"`
	State       FormState `json:"status"`
	Target      string    `json:"target,omitempty"`
	Fields      []Field   `json:"fields,omitempty"`
}

type FieldType string

const (
	FieldText        FieldType = "text"
	FieldTextarea    FieldType = "textarea"
	FieldEmail       FieldType = "email"
	FieldPhone       FieldType = "phone"
	FieldNumber      FieldType = "number"
	FieldDate        FieldType = "date"
	FieldTime        FieldType = "time"
	FieldDatetime    FieldType = "datetime"
	FieldBoolean     FieldType = "boolean"
	FieldSelect      FieldType = "select"
	FieldRadio       FieldType = "radio"
	FieldMultiselect FieldType = "multiselect"
	FieldCheckbox    FieldType = "checkbox"
	FieldFile        FieldType = "file"
	FieldImage       FieldType = "image"
	FieldURL         FieldType = "url"
	FieldRating      FieldType = "rating"
)

// IsFile reports whether values for this type are uploaded attachments
// rather than text.
func (t FieldType) IsFile() bool {
	return t == FieldFile || t == FieldImage
}

// IsMulti reports whether values for this type are arrays of options.
func (t FieldType) IsMulti() bool {
	return t == FieldMultiselect || t == FieldCheckbox
}

// IsChoice reports whether values for this type are a single pick from
// the declared option list.
func (t FieldType) IsChoice() bool {
	return t == FieldSelect || t == FieldRadio
}

type Field struct {
	ID           int         `json:"id,omitempty"`
	Label        string      `json:"label"`
	Type         FieldType   `json:"type"`
	Required     bool        `json:"required"`
	Position     int         `json:"position"`
	DefaultValue string      `json:"default_value,omitempty"`
	Options      []string    `json:"options,omitempty"`
	MinLength    *int        `json:"min_length,omitempty"`
	MaxLength    *int        `json:"max_length,omitempty"`
	MinValue     *float64    `json:"min_value,omitempty"`
	MaxValue     *float64    `json:"max_value,omitempty"`
	MaxFiles     int         `json:"max_files,omitempty"`
	MaxFileSize  int64       `json:"max_file_size,omitempty"`
	Conditions   []Condition `json:"conditions,omitempty"`
}

type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not_equals"
)

// Condition makes a field's visibility depend on another field's value.
type Condition struct {
	FieldID  int      `json:"field_id"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

// Submission is a student's recorded answers to a form. Data maps field
// ids (as decimal strings, since JSON object keys are strings) to the
// entered values.
type Submission struct {
	ID        int            `json:"id"`
	FormID    int            `json:"form_id"`
	StudentID string         `json:"student_id"`
	Data      map[string]any `json:"data"`
	Locked    bool           `json:"locked"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Attachment is a file staged for upload under a file-type field.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}
