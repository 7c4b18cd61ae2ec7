package forms

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/studenthub/regforms/model"
)

var validate = validator.New()

// Validate checks current values against the field definitions and
// returns a map of field id to error message. Hidden fields are skipped
// entirely. At most one message is kept per field: a later rule's message
// replaces an earlier one. An empty map means the submission may proceed.
func Validate(fields []model.Field, values map[int]any, files map[int][]model.Attachment) map[int]string {
	errs := map[int]string{}

	for _, f := range fields {
		if !Visible(f, values) {
			continue
		}

		if f.Type.IsFile() {
			if f.Required && len(files[f.ID]) == 0 {
				errs[f.ID] = fmt.Sprintf("%s requires at least one file", f.Label)
			}
			if f.MaxFiles > 0 && len(files[f.ID]) > f.MaxFiles {
				errs[f.ID] = fmt.Sprintf("%s accepts at most %d files", f.Label, f.MaxFiles)
			}
			if f.MaxFileSize > 0 {
				for _, att := range files[f.ID] {
					if int64(len(att.Data)) > f.MaxFileSize {
						errs[f.ID] = fmt.Sprintf("%s exceeds the %d byte file size limit", att.Name, f.MaxFileSize)
					}
				}
			}
			continue
		}

		value := values[f.ID]
		if isEmpty(value) {
			if f.Required {
				errs[f.ID] = fmt.Sprintf("%s is required", f.Label)
			}
			continue
		}

		if f.Type.IsMulti() {
			for _, elem := range asStrings(value) {
				if !isOption(f, elem) {
					errs[f.ID] = fmt.Sprintf("%q is not a valid choice for %s", elem, f.Label)
				}
			}
			continue
		}

		text := stringify(value)
		switch f.Type {
		case model.FieldEmail:
			if validate.Var(text, "email") != nil {
				errs[f.ID] = "Invalid email address"
			}
		case model.FieldURL:
			if validate.Var(text, "url") != nil {
				errs[f.ID] = "Invalid URL"
			}
		case model.FieldPhone:
			if n := countDigits(text); n < 7 || n > 15 {
				errs[f.ID] = "Phone number must have between 7 and 15 digits"
			}
		case model.FieldNumber, model.FieldRating:
			num, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
			if err != nil {
				errs[f.ID] = fmt.Sprintf("%s must be a number", f.Label)
				continue
			}
			if f.MinValue != nil && num < *f.MinValue {
				errs[f.ID] = fmt.Sprintf("%s must be at least %v", f.Label, *f.MinValue)
			}
			if f.MaxValue != nil && num > *f.MaxValue {
				errs[f.ID] = fmt.Sprintf("%s must be at most %v", f.Label, *f.MaxValue)
			}
		}

		if f.Type.IsChoice() && !isOption(f, text) {
			errs[f.ID] = fmt.Sprintf("%q is not a valid choice for %s", text, f.Label)
		}

		if f.MinLength != nil && len(text) < *f.MinLength {
			errs[f.ID] = fmt.Sprintf("%s must be at least %d characters", f.Label, *f.MinLength)
		}
		if f.MaxLength != nil && len(text) > *f.MaxLength {
			errs[f.ID] = fmt.Sprintf("%s must be at most %d characters", f.Label, *f.MaxLength)
		}
	}

	return errs
}

func countDigits(s string) (n int) {
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return
}
