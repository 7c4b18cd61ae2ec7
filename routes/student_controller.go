package routes

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/studenthub/regforms/app"
	"github.com/studenthub/regforms/forms"
	"github.com/studenthub/regforms/httpx"
	"github.com/studenthub/regforms/log"
	"github.com/studenthub/regforms/model"
	"github.com/studenthub/regforms/routes/middlewares"
)

const maxSubmissionMemory = 32 << 20

// ListOpenForms returns the forms a student may browse, newest opening
// first.
func ListOpenForms(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		skip, limit := pagination(r, 50)

		rows, err := app.QueryContext(r.Context(), `
			SELECT id, title, description, open_date, close_date, status, target
			FROM form
			WHERE status IN ('open', 'closed')
			ORDER BY open_date DESC
			LIMIT ? OFFSET ?`,
			limit,
			skip,
		)
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

		render.JSON(w, r, formList)
	}
}

// StudentGetForm returns a form definition with its fields and visibility
// conditions.
func StudentGetForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		form, err := fetchForm(r.Context(), app.DB, formID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && form.State == model.FormDraft) {
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

// StudentGetSubmission returns the calling student's submission for a
// form, or 404 when they have not submitted yet.
func StudentGetSubmission(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		sub, err := fetchSubmission(r.Context(), app.DB, formID, middlewares.Username(r))
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "get_submission", formID)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_submission", err)
			return
		}

		render.JSON(w, r, sub)
	}
}

// SubmitForm creates the student's submission from a multipart payload.
// One submission per student per form: a second POST gets 409.
func SubmitForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}
		studentID := middlewares.Username(r)

		form, err := fetchForm(r.Context(), app.DB, formID)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "get_form", formID)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_form", err)
			return
		}
		if closed(form) {
			httpx.LogStatusMsg(w, http.StatusConflict, log.DebugLevel, "submit.closed", "form is closed")
			return
		}

		_, err = fetchSubmission(r.Context(), app.DB, formID, studentID)
		if err == nil {
			httpx.LogStatusMsg(w, http.StatusConflict, log.DebugLevel, "submit.exists", "submission already exists")
			return
		}
		if !errors.Is(err, sql.ErrNoRows) {
			httpx.LogInternalError(w, "db.get_submission", err)
			return
		}

		values, files, ok := readSubmissionParts(w, r, form.Fields)
		if !ok {
			return
		}
		if errs := forms.Validate(form.Fields, values, files); len(errs) > 0 {
			renderValidationErrors(w, r, errs)
			return
		}

		data, err := json.Marshal(keysToStrings(values))
		if err != nil {
			httpx.LogInternalError(w, "submit.encode_data", err)
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		now := time.Now()
		sub := model.Submission{FormID: formID, StudentID: studentID, CreatedAt: now, UpdatedAt: now}
		err = tx.QueryRowContext(r.Context(), `
			INSERT INTO submission (form_id, student_id, data, locked, created_at, updated_at)
			VALUES (?, ?, ?, 0, ?, ?)
			RETURNING id`,
			formID,
			studentID,
			string(data),
			now,
			now,
		).Scan(&sub.ID)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_submission", err)
			return
		}

		if !storeFiles(w, r, app, tx, sub.ID, files) {
			return
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.insert_submission.commit", err)
			return
		}

		json.Unmarshal(data, &sub.Data)
		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, sub)
	}
}

// UpdateSubmission replaces the student's existing submission. Locked
// submissions and closed forms reject the update.
func UpdateSubmission(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}
		studentID := middlewares.Username(r)

		form, err := fetchForm(r.Context(), app.DB, formID)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "get_form", formID)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_form", err)
			return
		}
		if closed(form) {
			httpx.LogStatusMsg(w, http.StatusConflict, log.DebugLevel, "update.closed", "form is closed")
			return
		}

		sub, err := fetchSubmission(r.Context(), app.DB, formID, studentID)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "get_submission", formID)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_submission", err)
			return
		}
		if sub.Locked {
			httpx.LogStatusMsg(w, http.StatusConflict, log.DebugLevel, "update.locked", "submission is locked")
			return
		}

		values, files, ok := readSubmissionParts(w, r, form.Fields)
		if !ok {
			return
		}
		if errs := forms.Validate(form.Fields, values, files); len(errs) > 0 {
			renderValidationErrors(w, r, errs)
			return
		}

		data, err := json.Marshal(keysToStrings(values))
		if err != nil {
			httpx.LogInternalError(w, "update.encode_data", err)
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		sub.UpdatedAt = time.Now()
		_, err = tx.ExecContext(r.Context(), `
			UPDATE submission
			SET data = ?, updated_at = ?
			WHERE id = ?`,
			string(data),
			sub.UpdatedAt,
			sub.ID,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.update_submission", err)
			return
		}

		// new uploads replace previous ones per field
		for fieldID := range files {
			_, err = tx.ExecContext(r.Context(), `
				DELETE FROM submission_file
				WHERE submission_id = ? AND field_id = ?`,
				sub.ID,
				fieldID,
			)
			if err != nil {
				httpx.LogInternalError(w, "db.update_submission.files", err)
				return
			}
		}
		if !storeFiles(w, r, app, tx, sub.ID, files) {
			return
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.update_submission.commit", err)
			return
		}

		json.Unmarshal(data, &sub.Data)
		render.JSON(w, r, sub)
	}
}

func closed(form model.Form) bool {
	return model.StatusOf(form, nil, time.Now()).Closed
}

func pagination(r *http.Request, maxLimit int) (skip, limit int) {
	skip, _ = strconv.Atoi(r.URL.Query().Get("skip"))
	if skip < 0 {
		skip = 0
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	return
}

// readSubmissionParts extracts field values and attachments from the
// multipart body. Parts are keyed by decimal field id; array-typed
// values arrive as a JSON string.
func readSubmissionParts(w http.ResponseWriter, r *http.Request, fields []model.Field) (map[int]any, map[int][]model.Attachment, bool) {
	err := r.ParseMultipartForm(maxSubmissionMemory)
	if err != nil {
		httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_multipart")
		return nil, nil, false
	}

	values := map[int]any{}
	files := map[int][]model.Attachment{}

	for _, f := range fields {
		key := strconv.Itoa(f.ID)

		if f.Type.IsFile() {
			for _, header := range r.MultipartForm.File[key] {
				att, err := readAttachment(header)
				if err != nil {
					httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.read_attachment")
					return nil, nil, false
				}
				files[f.ID] = append(files[f.ID], att)
			}
			continue
		}

		parts := r.MultipartForm.Value[key]
		if len(parts) == 0 {
			continue
		}

		if f.Type.IsMulti() {
			var elems []any
			if err := json.Unmarshal([]byte(parts[0]), &elems); err != nil {
				httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_multi_value")
				return nil, nil, false
			}
			values[f.ID] = elems
		} else {
			values[f.ID] = parts[0]
		}
	}

	return values, files, true
}

func storeFiles(w http.ResponseWriter, r *http.Request, app app.App, tx *sql.Tx, submissionID int, files map[int][]model.Attachment) bool {
	if len(files) == 0 {
		return true
	}

	if err := os.MkdirAll(app.UploadsDir, 0o755); err != nil {
		httpx.LogInternalError(w, "submit.uploads_dir", err)
		return false
	}

	stmt, err := tx.PrepareContext(r.Context(), `
		INSERT INTO submission_file (submission_id, field_id, name, stored_name, content_type, size)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		httpx.LogInternalError(w, "db.insert_submission.files.prepare", err)
		return false
	}
	defer stmt.Close()

	for fieldID, atts := range files {
		for _, att := range atts {
			storedName := uuid.NewString() + filepath.Ext(att.Name)
			err = os.WriteFile(filepath.Join(app.UploadsDir, storedName), att.Data, 0o644)
			if err != nil {
				httpx.LogInternalError(w, "submit.write_file", err)
				return false
			}

			_, err = stmt.ExecContext(r.Context(), submissionID, fieldID, att.Name, storedName, att.ContentType, len(att.Data))
			if err != nil {
				httpx.LogInternalError(w, "db.insert_submission.files.insert", err)
				return false
			}
		}
	}
	return true
}

func renderValidationErrors(w http.ResponseWriter, r *http.Request, errs map[int]string) {
	fieldErrors := make(map[string]string, len(errs))
	for id, msg := range errs {
		fieldErrors[strconv.Itoa(id)] = msg
	}

	render.Status(r, http.StatusUnprocessableEntity)
	render.JSON(w, r, map[string]any{
		"detail": "submission failed validation",
		"errors": fieldErrors,
	})
}

func keysToStrings(values map[int]any) map[string]any {
	out := make(map[string]any, len(values))
	for id, v := range values {
		out[strconv.Itoa(id)] = v
	}
	return out
}

func readAttachment(header *multipart.FileHeader) (model.Attachment, error) {
	file, err := header.Open()
	if err != nil {
		return model.Attachment{}, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return model.Attachment{}, err
	}

	return model.Attachment{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
