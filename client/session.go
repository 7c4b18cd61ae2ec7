package client

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/studenthub/regforms/forms"
	"github.com/studenthub/regforms/model"
)

var (
	// ErrLocked means the form closed or the submission was frozen:
	// no further edits are accepted.
	ErrLocked = errors.New("submission is locked")

	// ErrValidation means Save stopped before sending anything; the
	// per-field messages are in Session.FieldErrors.
	ErrValidation = errors.New("submission failed validation")
)

// Session is an open form being filled in. It holds the current value
// map the visibility conditions and the validator run against, staged
// attachments, and the submission state that decides between create and
// update on save.
type Session struct {
	client *Client

	Form        model.Form
	Submission  *model.Submission
	Status      model.FormStatus
	Values      map[int]any
	Attachments map[int][]model.Attachment
	FieldErrors map[int]string
}

// newSession merges any previous submission over the fields' default
// values. Submission data keys are decimal strings; only numeric-looking
// keys can match a field id.
func newSession(c *Client, form model.Form, sub *model.Submission) *Session {
	values := map[int]any{}
	for _, f := range form.Fields {
		if f.DefaultValue != "" {
			values[f.ID] = f.DefaultValue
		}
	}
	if sub != nil {
		for key, value := range sub.Data {
			if id, err := strconv.Atoi(key); err == nil {
				values[id] = value
			}
		}
	}

	return &Session{
		client:      c,
		Form:        form,
		Submission:  sub,
		Status:      model.StatusOf(form, sub, time.Now()),
		Values:      values,
		Attachments: map[int][]model.Attachment{},
		FieldErrors: map[int]string{},
	}
}

// Visible reports whether a field is currently shown, given the other
// fields' values.
func (s *Session) Visible(field model.Field) bool {
	return forms.Visible(field, s.Values)
}

// VisibleFields returns the fields currently shown, in display order.
func (s *Session) VisibleFields() []model.Field {
	return forms.VisibleFields(s.Form.Fields, s.Values)
}

// Set records a field value. Edits are rejected once the submission is
// locked or the form has closed.
func (s *Session) Set(fieldID int, value any) error {
	if s.Status.Locked {
		return ErrLocked
	}
	s.Values[fieldID] = value
	return nil
}

// Attach stages a file under a file-type field.
func (s *Session) Attach(fieldID int, att model.Attachment) error {
	if s.Status.Locked {
		return ErrLocked
	}
	s.Attachments[fieldID] = append(s.Attachments[fieldID], att)
	return nil
}

// ClearAttachments drops the staged files for a field.
func (s *Session) ClearAttachments(fieldID int) {
	delete(s.Attachments, fieldID)
}

// Save validates the visible fields and sends the submission: POST to
// create when there is no submission yet, PUT to update otherwise. On
// success the returned submission replaces local state, so the next Save
// is an update.
func (s *Session) Save(ctx context.Context) error {
	if s.Status.Locked {
		return ErrLocked
	}

	s.FieldErrors = forms.Validate(s.Form.Fields, s.Values, s.Attachments)
	if len(s.FieldErrors) > 0 {
		return ErrValidation
	}

	body, contentType, err := forms.EncodePayload(s.Form.Fields, s.Values, s.Attachments)
	if err != nil {
		return err
	}

	formPath := "/api/registrations/forms/" + strconv.Itoa(s.Form.ID)

	var sub model.Submission
	if s.Submission == nil {
		err = s.client.post(ctx, formPath+"/submit", body, contentType, &sub)
	} else {
		err = s.client.put(ctx, formPath+"/submission", body, contentType, &sub)
	}
	if err != nil {
		return err
	}

	s.Submission = &sub
	s.Status = model.StatusOf(s.Form, s.Submission, time.Now())
	return nil
}
