package forms

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/studenthub/regforms/model"
)

// WritePayload assembles the multipart submission body from the current
// state. Only visible fields are encoded, each part keyed by the field's
// decimal id. Empty values are omitted so partial submissions stay
// partial. Array values are filtered to declared options and sent as a
// JSON string; single-choice values are dropped when no longer a valid
// option.
func WritePayload(w *multipart.Writer, fields []model.Field, values map[int]any, files map[int][]model.Attachment) error {
	for _, f := range fields {
		if !Visible(f, values) {
			continue
		}
		key := strconv.Itoa(f.ID)

		if f.Type.IsFile() {
			for _, att := range files[f.ID] {
				part, err := createFilePart(w, key, att)
				if err != nil {
					return err
				}
				if _, err := part.Write(att.Data); err != nil {
					return err
				}
			}
			continue
		}

		value := values[f.ID]
		if isEmpty(value) {
			continue
		}

		if f.Type.IsMulti() {
			known := make([]string, 0)
			for _, elem := range asStrings(value) {
				if isOption(f, elem) {
					known = append(known, elem)
				}
			}
			encoded, err := json.Marshal(known)
			if err != nil {
				return err
			}
			if err := w.WriteField(key, string(encoded)); err != nil {
				return err
			}
			continue
		}

		text := stringify(value)
		if f.Type.IsChoice() && !isOption(f, text) {
			continue
		}
		if err := w.WriteField(key, text); err != nil {
			return err
		}
	}
	return nil
}

// EncodePayload is WritePayload into a fresh buffer, returning the body
// and its content type.
func EncodePayload(fields []model.Field, values map[int]any, files map[int][]model.Attachment) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if err := WritePayload(w, fields, values, files); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// createFilePart mirrors multipart.Writer.CreateFormFile, but keeps the
// attachment's own content type instead of forcing octet-stream.
func createFilePart(w *multipart.Writer, key string, att model.Attachment) (io.Writer, error) {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		`form-data; name="`+quoteEscaper.Replace(key)+`"; filename="`+quoteEscaper.Replace(att.Name)+`"`)
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	return w.CreatePart(header)
}
