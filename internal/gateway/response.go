package gateway

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// Meta is the pagination block of list responses. Total is nil when the
// server did not report one.
type Meta struct {
	Total *int `json:"total"`
	Page  int  `json:"page"`
	Limit int  `json:"limit"`
}

// Response is a successful gateway reply. Data is the server's "data"
// payload, or the whole body when it has none.
type Response struct {
	StatusCode int
	Data       json.RawMessage
	Meta       *Meta
	Body       []byte
}

func parseResponse(status int, body []byte) (*Response, error) {
	r := &Response{StatusCode: status, Body: body}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return r, nil
	}
	if trimmed[0] != '{' {
		r.Data = trimmed
		return r, nil
	}
	var env struct {
		Data json.RawMessage `json:"data"`
		Meta *Meta           `json:"meta"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("gateway: decode response: %w", err)
	}
	r.Data = env.Data
	r.Meta = env.Meta
	if len(r.Data) == 0 {
		r.Data = trimmed
	}
	return r, nil
}

// Decode unmarshals Data into v.
func (r *Response) Decode(v interface{}) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("gateway: empty response data")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("gateway: decode data: %w", err)
	}
	return nil
}

// Page is one decoded page of a list endpoint.
type Page[T any] struct {
	Items      []T
	Total      int
	TotalKnown bool
	Page       int
}

// DecodePage reads a list reply. Both {data:[...], meta} and the nested
// {data:{data:[...], meta}} shape are accepted.
func DecodePage[T any](r *Response) (Page[T], error) {
	var p Page[T]
	data := bytes.TrimSpace(r.Data)
	meta := r.Meta

	if len(data) > 0 && data[0] == '{' {
		var inner struct {
			Data json.RawMessage `json:"data"`
			Meta *Meta           `json:"meta"`
		}
		if err := json.Unmarshal(data, &inner); err != nil {
			return p, fmt.Errorf("gateway: decode page: %w", err)
		}
		data = bytes.TrimSpace(inner.Data)
		if inner.Meta != nil {
			meta = inner.Meta
		}
	}

	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &p.Items); err != nil {
			return p, fmt.Errorf("gateway: decode page items: %w", err)
		}
	}
	if meta != nil {
		p.Page = meta.Page
		if meta.Total != nil {
			p.Total = *meta.Total
			p.TotalKnown = true
		}
	}
	return p, nil
}
