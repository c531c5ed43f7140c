package gateway

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strconv"
)

// Form is a multipart body; use it whenever an attachment is sent.
type Form struct {
	fields []formField
	files  []formFile
}

type formField struct{ name, value string }

type formFile struct {
	field       string
	filename    string
	contentType string
	r           io.Reader
}

// NewForm returns an empty Form.
func NewForm() *Form { return &Form{} }

// Field adds a text field.
func (f *Form) Field(name string, v interface{}) *Form {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case int64:
		s = strconv.FormatInt(x, 10)
	case int:
		s = strconv.Itoa(x)
	case bool:
		s = strconv.FormatBool(x)
	default:
		s = fmt.Sprint(x)
	}
	f.fields = append(f.fields, formField{name: name, value: s})
	return f
}

// File adds a file part. contentType may be empty.
func (f *Form) File(field, filename, contentType string, r io.Reader) *Form {
	f.files = append(f.files, formFile{field: field, filename: filename, contentType: contentType, r: r})
	return f
}

// encode renders the form once so a retried request can resend the same
// bytes.
func (f *Form) encode() ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, fld := range f.fields {
		if err := w.WriteField(fld.name, fld.value); err != nil {
			return nil, "", err
		}
	}
	for _, file := range f.files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.field, file.filename))
		ct := file.contentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, file.r); err != nil {
			return nil, "", fmt.Errorf("gateway: read attachment %s: %w", file.filename, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
