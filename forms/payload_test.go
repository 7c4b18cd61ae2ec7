package forms

import (
	"io"
	"mime"
	"mime/multipart"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studenthub/regforms/model"
)

func decodeParts(t *testing.T, fields []model.Field, values map[int]any, files map[int][]model.Attachment) (map[string][]string, map[string][]string) {
	t.Helper()

	body, contentType, err := EncodePayload(fields, values, files)
	require.NoError(t, err)

	_, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)

	form, err := multipart.NewReader(body, params["boundary"]).ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { form.RemoveAll() })

	fileNames := map[string][]string{}
	for key, headers := range form.File {
		for _, h := range headers {
			fileNames[key] = append(fileNames[key], h.Filename)
		}
	}
	return form.Value, fileNames
}

func TestEncodePayload_ScalarsAsStrings(t *testing.T) {
	fields := []model.Field{
		{ID: 1, Type: model.FieldText},
		{ID: 2, Type: model.FieldNumber},
		{ID: 3, Type: model.FieldBoolean},
	}
	values := map[int]any{1: "hello", 2: float64(42), 3: true}

	parts, _ := decodeParts(t, fields, values, nil)
	assert.Equal(t, []string{"hello"}, parts["1"])
	assert.Equal(t, []string{"42"}, parts["2"])
	assert.Equal(t, []string{"true"}, parts["3"])
}

func TestEncodePayload_EmptyValuesOmitted(t *testing.T) {
	fields := []model.Field{
		{ID: 1, Type: model.FieldText},
		{ID: 2, Type: model.FieldText},
	}
	values := map[int]any{1: "kept", 2: ""}

	parts, _ := decodeParts(t, fields, values, nil)
	assert.Contains(t, parts, "1")
	assert.NotContains(t, parts, "2")
}

func TestEncodePayload_HiddenFieldsOmitted(t *testing.T) {
	fields := []model.Field{
		{ID: 1, Type: model.FieldBoolean},
		{ID: 2, Type: model.FieldText, Conditions: []model.Condition{
			{FieldID: 1, Operator: model.OpEquals, Value: "true"},
		}},
	}
	values := map[int]any{1: "false", 2: "should not appear"}

	parts, _ := decodeParts(t, fields, values, nil)
	assert.NotContains(t, parts, "2")
}

func TestEncodePayload_ArrayFilteredToOptionsAndJSONEncoded(t *testing.T) {
	fields := []model.Field{
		{ID: 1, Type: model.FieldCheckbox, Options: []string{"a", "b"}},
	}
	values := map[int]any{1: []any{"a", "zzz", "b"}}

	parts, _ := decodeParts(t, fields, values, nil)
	assert.Equal(t, []string{`["a","b"]`}, parts["1"])
}

func TestEncodePayload_InvalidChoiceDropped(t *testing.T) {
	fields := []model.Field{
		{ID: 1, Type: model.FieldSelect, Options: []string{"a", "b"}},
		{ID: 2, Type: model.FieldRadio, Options: []string{"x"}},
	}
	values := map[int]any{1: "c", 2: "x"}

	parts, _ := decodeParts(t, fields, values, nil)
	assert.NotContains(t, parts, "1")
	assert.Equal(t, []string{"x"}, parts["2"])
}

func TestEncodePayload_FilesUnderFieldKey(t *testing.T) {
	fields := []model.Field{
		{ID: 7, Type: model.FieldFile},
	}
	files := map[int][]model.Attachment{
		7: {
			{Name: "one.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1")},
			{Name: "two.pdf", Data: []byte("%PDF-2")},
		},
	}

	_, fileNames := decodeParts(t, fields, nil, files)
	assert.Equal(t, []string{"one.pdf", "two.pdf"}, fileNames["7"])
}

func TestEncodePayload_FileContentPreserved(t *testing.T) {
	fields := []model.Field{{ID: 7, Type: model.FieldFile}}
	files := map[int][]model.Attachment{
		7: {{Name: "essay.txt", ContentType: "text/plain", Data: []byte("my essay")}},
	}

	body, contentType, err := EncodePayload(fields, nil, files)
	require.NoError(t, err)

	_, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)

	reader := multipart.NewReader(body, params["boundary"])
	part, err := reader.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "text/plain", part.Header.Get("Content-Type"))

	content, err := io.ReadAll(part)
	require.NoError(t, err)
	assert.Equal(t, "my essay", string(content))
}
