package routes

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/studenthub/regforms/model"
)

func fetchForm(ctx context.Context, db *sql.DB, id int) (model.Form, error) {
	form := model.Form{}

	var closeDate sql.NullTime
	err := db.QueryRowContext(ctx, `
		SELECT id, title, description, open_date, close_date, status, target
		FROM form
		WHERE id = ?`,
		id,
	).Scan(&form.ID, &form.Title, &form.Description, &form.OpenDate, &closeDate, &form.State, &form.Target)
	if err != nil {
		return form, err
	}
	if closeDate.Valid {
		form.CloseDate = closeDate.Time
	}

	form.Fields, err = fetchFields(ctx, db, id)
	return form, err
}

func fetchFields(ctx context.Context, db *sql.DB, formID int) ([]model.Field, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, label, type, required, position, default_value, options,
			min_length, max_length, min_value, max_value, max_files, max_file_size
		FROM form_field
		WHERE form_id = ?
		ORDER BY position, id`,
		formID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := []model.Field{}
	for rows.Next() {
		f := model.Field{}
		var options string
		var minLen, maxLen sql.NullInt64
		var minVal, maxVal sql.NullFloat64
		err = rows.Scan(
			&f.ID, &f.Label, &f.Type, &f.Required, &f.Position, &f.DefaultValue, &options,
			&minLen, &maxLen, &minVal, &maxVal, &f.MaxFiles, &f.MaxFileSize,
		)
		if err != nil {
			return nil, err
		}

		if options != "" {
			if err := json.Unmarshal([]byte(options), &f.Options); err != nil {
				return nil, err
			}
		}
		if minLen.Valid {
			n := int(minLen.Int64)
			f.MinLength = &n
		}
		if maxLen.Valid {
			n := int(maxLen.Int64)
			f.MaxLength = &n
		}
		if minVal.Valid {
			v := minVal.Float64
			f.MinValue = &v
		}
		if maxVal.Valid {
			v := maxVal.Float64
			f.MaxValue = &v
		}

		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return fields, attachConditions(ctx, db, formID, fields)
}

func attachConditions(ctx context.Context, db *sql.DB, formID int, fields []model.Field) error {
	rows, err := db.QueryContext(ctx, `
		SELECT c.field_id, c.depends_on, c.operator, c.value
		FROM field_condition c
		JOIN form_field f ON (f.id = c.field_id)
		WHERE f.form_id = ?
		ORDER BY c.id`,
		formID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	byID := map[int]*model.Field{}
	for i := range fields {
		byID[fields[i].ID] = &fields[i]
	}

	for rows.Next() {
		var fieldID int
		cond := model.Condition{}
		err = rows.Scan(&fieldID, &cond.FieldID, &cond.Operator, &cond.Value)
		if err != nil {
			return err
		}
		if f, ok := byID[fieldID]; ok {
			f.Conditions = append(f.Conditions, cond)
		}
	}
	return rows.Err()
}

func fetchSubmission(ctx context.Context, db *sql.DB, formID int, studentID string) (model.Submission, error) {
	sub := model.Submission{}

	var data string
	err := db.QueryRowContext(ctx, `
		SELECT id, form_id, student_id, data, locked, created_at, updated_at
		FROM submission
		WHERE form_id = ? AND student_id = ?`,
		formID,
		studentID,
	).Scan(&sub.ID, &sub.FormID, &sub.StudentID, &data, &sub.Locked, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return sub, err
	}

	err = json.Unmarshal([]byte(data), &sub.Data)
	return sub, err
}
