package routes

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/studenthub/regforms/app"
	"github.com/studenthub/regforms/httpx"
	"github.com/studenthub/regforms/log"
	"github.com/studenthub/regforms/model"
)

func CreateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form := model.Form{}
		err := render.DecodeJSON(r.Body, &form)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if form.State == "" {
			form.State = model.FormDraft
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		var formID int
		err = tx.QueryRowContext(r.Context(), `
			INSERT INTO form (title, description, open_date, close_date, status, target)
			VALUES (?, ?, ?, ?, ?, ?)
			RETURNING id`,
			form.Title,
			form.Description,
			form.OpenDate,
			nullTime(form.CloseDate),
			form.State,
			form.Target,
		).Scan(&formID)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_form", err)
			return
		}

		if !insertFields(w, r, tx, formID, form.Fields) {
			return
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.insert_form.commit", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id": formID,
		})
	}
}

func ListForms(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := app.QueryContext(r.Context(), `
			SELECT id, title, description, open_date, close_date, status, target
			FROM form
			ORDER BY open_date DESC`)
		if err != nil {
			httpx.LogInternalError(w, "db.get_forms", err)
			return
		}
		defer rows.Close()

		formList := []model.Form{}
		for rows.Next() {
			f := model.Form{}
			var closeDate sql.NullTime
			err = rows.Scan(&f.ID, &f.Title, &f.Description, &f.OpenDate, &closeDate, &f.State, &f.Target)
			if err != nil {
				httpx.LogInternalError(w, "db.get_forms.scan", err)
				return
			}
			if closeDate.Valid {
				f.CloseDate = closeDate.Time
			}
			formList = append(formList, f)
		}
		if err := rows.Err(); err != nil {
			httpx.LogInternalError(w, "db.get_forms.rows", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"forms": formList,
		})
	}
}

func GetFormById(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		form, err := fetchForm(r.Context(), app.DB, formID)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "get_form", formID)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_form", err)
			return
		}

		render.JSON(w, r, form)
	}
}

func UpdateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		form := model.Form{}
		err = render.DecodeJSON(r.Body, &form)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(r.Context(), `
			UPDATE form
			SET
				title = ?,
				description = ?,
				open_date = ?,
				close_date = ?,
				status = ?,
				target = ?
			WHERE id = ?`,
			form.Title,
			form.Description,
			form.OpenDate,
			nullTime(form.CloseDate),
			form.State,
			form.Target,
			formID,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.update_form", err)
			return
		}
		n, err := res.RowsAffected()
		if err != nil {
			httpx.LogInternalError(w, "db.update_form.verify", err)
			return
		}
		if n < 1 {
			httpx.LogNotFound(w, "update_form", formID)
			return
		}

		// replacing fields would orphan submitted answers
		var hasSubmissions bool
		tx.QueryRowContext(r.Context(), `
			SELECT 1 FROM submission WHERE form_id = ? LIMIT 1`,
			formID,
		).Scan(&hasSubmissions)
		if hasSubmissions && form.Fields != nil {
			httpx.LogStatusMsg(w, http.StatusConflict, log.DebugLevel, "update_form.fields", "form already has submissions")
			return
		}

		if form.Fields != nil {
			// delete and recreate all fields
			_, err = tx.ExecContext(r.Context(), `
				DELETE FROM form_field
				WHERE form_id = ?`,
				formID,
			)
			if err != nil {
				httpx.LogInternalError(w, "db.update_form.delete_fields", err)
				return
			}
			if !insertFields(w, r, tx, formID, form.Fields) {
				return
			}
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.update_form.commit", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func DeleteForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		res, err := app.ExecContext(r.Context(), `
			DELETE FROM form
			WHERE id = ?`,
			formID,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.delete_form", err)
			return
		}
		n, err := res.RowsAffected()
		if err != nil {
			httpx.LogInternalError(w, "db.delete_form.verify", err)
			return
		}
		if n < 1 {
			httpx.LogNotFound(w, "delete_form", formID)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func GetFormSubmissions(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		rows, err := app.QueryContext(r.Context(), `
			SELECT id, form_id, student_id, data, locked, created_at, updated_at
			FROM submission
			WHERE form_id = ?
			ORDER BY created_at`,
			formID,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.get_submissions", err)
			return
		}
		defer rows.Close()

		subs := []model.Submission{}
		for rows.Next() {
			sub := model.Submission{}
			var data string
			err = rows.Scan(&sub.ID, &sub.FormID, &sub.StudentID, &data, &sub.Locked, &sub.CreatedAt, &sub.UpdatedAt)
			if err != nil {
				httpx.LogInternalError(w, "db.get_submissions.scan", err)
				return
			}
			if err := json.Unmarshal([]byte(data), &sub.Data); err != nil {
				httpx.LogInternalError(w, "db.get_submissions.parse_data", err)
				return
			}
			subs = append(subs, sub)
		}
		if err := rows.Err(); err != nil {
			httpx.LogInternalError(w, "db.get_submissions.rows", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"submissions": subs,
		})
	}
}

// LockSubmission freezes (or unfreezes) a student's submission.
func LockSubmission(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subID, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		body := struct {
			Locked bool `json:"locked"`
		}{}
		err = render.DecodeJSON(r.Body, &body)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		res, err := app.ExecContext(r.Context(), `
			UPDATE submission
			SET locked = ?
			WHERE id = ?`,
			body.Locked,
			subID,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.lock_submission", err)
			return
		}
		n, err := res.RowsAffected()
		if err != nil {
			httpx.LogInternalError(w, "db.lock_submission.verify", err)
			return
		}
		if n < 1 {
			httpx.LogNotFound(w, "lock_submission", subID)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// insertFields stores a form's fields and their visibility conditions.
// In an incoming payload a condition's field_id refers to the target
// field's position in the fields array, since real ids do not exist
// until insertion.
func insertFields(w http.ResponseWriter, r *http.Request, tx *sql.Tx, formID int, fields []model.Field) bool {
	stmt, err := tx.PrepareContext(r.Context(), `
		INSERT INTO form_field (form_id, label, type, required, position, default_value, options,
			min_length, max_length, min_value, max_value, max_files, max_file_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	if err != nil {
		httpx.LogInternalError(w, "db.insert_form.fields.prepare", err)
		return false
	}
	defer stmt.Close()

	ids := make([]int, len(fields))
	for i, f := range fields {
		var optionsJson []byte
		if f.Options != nil {
			optionsJson, err = json.Marshal(f.Options)
			if err != nil {
				httpx.LogInternalError(w, "db.insert_form.fields.parse_options", err)
				return false
			}
		}

		err = stmt.QueryRowContext(r.Context(),
			formID, f.Label, f.Type, f.Required, i, f.DefaultValue, string(optionsJson),
			nullInt(f.MinLength), nullInt(f.MaxLength), nullFloat(f.MinValue), nullFloat(f.MaxValue),
			f.MaxFiles, f.MaxFileSize,
		).Scan(&ids[i])
		if err != nil {
			httpx.LogInternalError(w, "db.insert_form.fields.insert", err)
			return false
		}
	}

	condStmt, err := tx.PrepareContext(r.Context(), `
		INSERT INTO field_condition (field_id, depends_on, operator, value)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		httpx.LogInternalError(w, "db.insert_form.conditions.prepare", err)
		return false
	}
	defer condStmt.Close()

	for i, f := range fields {
		for _, cond := range f.Conditions {
			if cond.FieldID < 0 || cond.FieldID >= len(fields) {
				httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "insert_form.conditions",
					"condition on field %d references unknown field %d", i, cond.FieldID)
				return false
			}
			_, err = condStmt.ExecContext(r.Context(), ids[i], ids[cond.FieldID], cond.Operator, cond.Value)
			if err != nil {
				httpx.LogInternalError(w, "db.insert_form.conditions.insert", err)
				return false
			}
		}
	}
	return true
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
