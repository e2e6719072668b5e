package apiclient

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	dErrors "tradax/pkg/domain-errors"
)

// Response is a successful (2xx) reply with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsJSON reports whether the server declared a JSON content type.
func (r *Response) IsJSON() bool {
	ct := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.Contains(strings.ToLower(ct), "json")
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// Decode unmarshals the body into v. An empty body leaves v untouched.
func (r *Response) Decode(v any) error {
	if len(strings.TrimSpace(string(r.Body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeDecode, "unexpected response format")
	}
	return nil
}

// Value returns the parsed JSON value for JSON responses and the raw text otherwise.
func (r *Response) Value() (any, error) {
	if !r.IsJSON() {
		return r.Text(), nil
	}
	var v any
	if err := r.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}
