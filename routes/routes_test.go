package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/studenthub/regforms/app"
	"github.com/studenthub/regforms/client"
	"github.com/studenthub/regforms/config"
	"github.com/studenthub/regforms/database"
	"github.com/studenthub/regforms/httpx"
	"github.com/studenthub/regforms/model"
	"github.com/studenthub/regforms/routes"
)

type testServer struct {
	url string
	app app.App
}

func startServer(t *testing.T) testServer {
	t.Helper()

	cfg := config.Config{
		DBUrl:       filepath.Join(t.TempDir(), "regforms_test.sqlite"),
		UploadsDir:  t.TempDir(),
		TokenSecret: "testing-token-secret",
		TokenTTL:    time.Hour,
	}

	db, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, user := range []struct{ name, pass, role string }{
		{"jdoe", "hunter2", "student"},
		{"registrar", "letmein", "admin"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(user.pass), bcrypt.DefaultCost)
		require.NoError(t, err)
		_, err = db.Exec(
			"INSERT INTO user (username, password_hash, role) VALUES (?, ?, ?)",
			user.name, string(hash), user.role,
		)
		require.NoError(t, err)
	}

	a := app.App{
		DB:           db,
		BearerServer: httpx.NewBearerServer(db, cfg),
		Config:       cfg,
	}

	srv := httptest.NewServer(routes.Wire(a))
	t.Cleanup(srv.Close)

	return testServer{url: srv.URL, app: a}
}

func login(t *testing.T, baseURL, user, pass string) string {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/login", nil)
	require.NoError(t, err)
	req.SetBasicAuth(user, pass)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	tokens := struct {
		AccessToken string `json:"access_token"`
	}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tokens))
	require.NotEmpty(t, tokens.AccessToken)
	return tokens.AccessToken
}

// createForm stores a registration form through the admin API and
// returns its id. Conditions in the payload address sibling fields by
// array index.
func createForm(t *testing.T, baseURL, token string, form model.Form) int {
	t.Helper()

	payload, err := json.Marshal(form)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/admin/forms", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := struct {
		ID int `json:"id"`
	}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	return created.ID
}

func sampleForm(state model.FormState, closeDate time.Time) model.Form {
	return model.Form{
		Title:       "Freshman club registration",
		Description: "Sign up for one or more clubs",
		OpenDate:    time.Now().Add(-time.Hour),
		CloseDate:   closeDate,
		State:       state,
		Fields: []model.Field{
			{Label: "Full name", Type: model.FieldText, Required: true},
			{Label: "Email", Type: model.FieldEmail, Required: true},
			{Label: "Join a club?", Type: model.FieldBoolean},
			{Label: "Clubs", Type: model.FieldMultiselect, Options: []string{"chess", "debate", "robotics"},
				// visible only when field #2 (array index) is true
				Conditions: []model.Condition{{FieldID: 2, Operator: model.OpEquals, Value: "true"}}},
			{Label: "Student ID scan", Type: model.FieldFile},
		},
	}
}

func TestStudentSubmissionRoundTrip(t *testing.T) {
	srv := startServer(t)
	adminToken := login(t, srv.url, "registrar", "letmein")
	formID := createForm(t, srv.url, adminToken, sampleForm(model.FormOpen, time.Now().Add(24*time.Hour)))

	studentToken := login(t, srv.url, "jdoe", "hunter2")
	c, err := client.New(srv.url, client.StaticToken(studentToken))
	require.NoError(t, err)

	ctx := context.Background()

	formList, err := c.ListForms(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, formList, 1)
	assert.Equal(t, "Freshman club registration", formList[0].Title)

	session, err := c.LoadForm(ctx, formID)
	require.NoError(t, err)
	require.Len(t, session.Form.Fields, 5)
	assert.Nil(t, session.Submission)

	fieldID := fieldIDsByLabel(session.Form)

	// the conditional field is hidden until the boolean is set
	assert.Len(t, session.VisibleFields(), 4)
	require.NoError(t, session.Set(fieldID["Join a club?"], "true"))
	assert.Len(t, session.VisibleFields(), 5)

	require.NoError(t, session.Set(fieldID["Full name"], "Jane Doe"))
	require.NoError(t, session.Set(fieldID["Email"], "jane@example.edu"))
	require.NoError(t, session.Set(fieldID["Clubs"], []string{"chess", "debate"}))
	require.NoError(t, session.Attach(fieldID["Student ID scan"], model.Attachment{
		Name:        "id.png",
		ContentType: "image/png",
		Data:        []byte{0x89, 'P', 'N', 'G'},
	}))

	require.NoError(t, session.Save(ctx))
	require.NotNil(t, session.Submission)
	createdID := session.Submission.ID

	// reloading pre-populates the submitted values over the defaults
	reloaded, err := c.LoadForm(ctx, formID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.Submission)
	assert.Equal(t, createdID, reloaded.Submission.ID)
	assert.Equal(t, "Jane Doe", reloaded.Values[fieldID["Full name"]])
	assert.True(t, reloaded.Status.Submitted)

	// editing again updates in place instead of creating a second submission
	require.NoError(t, reloaded.Set(fieldID["Full name"], "Jane A. Doe"))
	require.NoError(t, reloaded.Save(ctx))
	assert.Equal(t, createdID, reloaded.Submission.ID)
}

func TestSubmitValidationRejectedByServer(t *testing.T) {
	srv := startServer(t)
	adminToken := login(t, srv.url, "registrar", "letmein")
	formID := createForm(t, srv.url, adminToken, sampleForm(model.FormOpen, time.Now().Add(24*time.Hour)))

	studentToken := login(t, srv.url, "jdoe", "hunter2")

	// raw multipart POST with the required fields missing, bypassing the
	// client's own validation: the server must re-check
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	mw.Close()

	req, err := http.NewRequest(http.MethodPost,
		srv.url+"/api/registrations/forms/"+itoa(formID)+"/submit", body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+studentToken)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	failure := struct {
		Detail string            `json:"detail"`
		Errors map[string]string `json:"errors"`
	}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&failure))
	assert.NotEmpty(t, failure.Errors)
}

func TestClosedFormRejectsSubmission(t *testing.T) {
	srv := startServer(t)
	adminToken := login(t, srv.url, "registrar", "letmein")
	formID := createForm(t, srv.url, adminToken, sampleForm(model.FormOpen, time.Now().Add(-time.Hour)))

	studentToken := login(t, srv.url, "jdoe", "hunter2")
	c, err := client.New(srv.url, client.StaticToken(studentToken))
	require.NoError(t, err)

	session, err := c.LoadForm(context.Background(), formID)
	require.NoError(t, err)

	assert.True(t, session.Status.Locked)
	assert.ErrorIs(t, session.Save(context.Background()), client.ErrLocked)
}

func TestLockedSubmissionRejectsUpdate(t *testing.T) {
	srv := startServer(t)
	adminToken := login(t, srv.url, "registrar", "letmein")

	form := model.Form{
		Title:    "Simple",
		OpenDate: time.Now().Add(-time.Hour),
		State:    model.FormOpen,
		Fields:   []model.Field{{Label: "Answer", Type: model.FieldText, Required: true}},
	}
	formID := createForm(t, srv.url, adminToken, form)

	studentToken := login(t, srv.url, "jdoe", "hunter2")
	c, err := client.New(srv.url, client.StaticToken(studentToken))
	require.NoError(t, err)

	ctx := context.Background()
	session, err := c.LoadForm(ctx, formID)
	require.NoError(t, err)
	require.NoError(t, session.Set(session.Form.Fields[0].ID, "42"))
	require.NoError(t, session.Save(ctx))

	// registrar freezes the submission
	body := bytes.NewReader([]byte(`{"locked":true}`))
	req, err := http.NewRequest(http.MethodPut,
		srv.url+"/api/admin/submissions/"+itoa(session.Submission.ID)+"/lock", body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// the client still holds pre-lock state, so the server must refuse
	reloaded, err := c.LoadForm(ctx, formID)
	require.NoError(t, err)
	assert.True(t, reloaded.Status.Locked)
	assert.ErrorIs(t, reloaded.Set(reloaded.Form.Fields[0].ID, "43"), client.ErrLocked)

	require.NoError(t, session.Set(session.Form.Fields[0].ID, "43"))
	err = session.Save(ctx)
	apiErr := &client.APIError{}
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
}

func TestStudentCannotReachAdminRoutes(t *testing.T) {
	srv := startServer(t)
	studentToken := login(t, srv.url, "jdoe", "hunter2")

	req, err := http.NewRequest(http.MethodGet, srv.url+"/api/admin/forms", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+studentToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv := startServer(t)

	resp, err := http.Get(srv.url + "/api/registrations/forms")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDraftFormsHiddenFromStudents(t *testing.T) {
	srv := startServer(t)
	adminToken := login(t, srv.url, "registrar", "letmein")
	formID := createForm(t, srv.url, adminToken, sampleForm(model.FormDraft, time.Now().Add(24*time.Hour)))

	studentToken := login(t, srv.url, "jdoe", "hunter2")
	c, err := client.New(srv.url, client.StaticToken(studentToken))
	require.NoError(t, err)

	formList, err := c.ListForms(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, formList)

	_, err = c.GetForm(context.Background(), formID)
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func fieldIDsByLabel(form model.Form) map[string]int {
	ids := map[string]int{}
	for _, f := range form.Fields {
		ids[f.Label] = f.ID
	}
	return ids
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
