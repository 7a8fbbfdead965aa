package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"sumarte/internal/core"
)

// page is the paginated collection envelope.
type page struct {
	Count    int             `json:"count"`
	Next     *string         `json:"next"`
	Previous *string         `json:"previous"`
	Results  json.RawMessage `json:"results"`
}

// decodeList accepts a bare array or a paginated object and always returns a
// non-nil slice. next is the URL of the following page, if any.
func decodeList[T any](data []byte) (items []T, next string, err error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []T{}, "", nil
	}

	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, "", fmt.Errorf("decode list: %w", err)
		}
	case '{':
		var p page
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, "", fmt.Errorf("decode page: %w", err)
		}
		if len(p.Results) > 0 {
			if err := json.Unmarshal(p.Results, &items); err != nil {
				return nil, "", fmt.Errorf("decode page results: %w", err)
			}
		}
		if p.Next != nil {
			next = *p.Next
		}
	default:
		return nil, "", fmt.Errorf("decode list: unexpected %q", trimmed[0])
	}

	if items == nil {
		items = []T{}
	}
	return items, next, nil
}

// decodeOne unwraps {"message": ..., "data": {...}} envelopes used by the
// action endpoints and decodes plain objects as they are.
func decodeOne[T any](data []byte) (T, error) {
	var out T
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err == nil && len(env.Data) > 0 && env.Data[0] == '{' {
		data = env.Data
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode object: %w", err)
	}
	return out, nil
}

// amount accepts money as a JSON string or number. null and "" decode as 0.
type amount struct {
	d decimal.Decimal
}

func (a *amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	s = strings.Trim(s, `"`)
	if s == "" || s == "null" {
		a.d = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("amount %q: %w", s, err)
	}
	a.d = d
	return nil
}

func (a amount) domain() core.Amount { return core.AmountFromDecimal(a.d) }

// id accepts a key as a number, a numeric string, null, or a nested object
// with an "id" field.
type id struct {
	v     int64
	valid bool
}

func (i *id) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*i = id{}
		return nil
	case b[0] == '{':
		var nested struct {
			ID *int64 `json:"id"`
		}
		if err := json.Unmarshal(b, &nested); err != nil {
			return err
		}
		if nested.ID != nil {
			*i = id{v: *nested.ID, valid: true}
		}
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*i = id{}
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("id %q: %w", s, err)
	}
	*i = id{v: v, valid: true}
	return nil
}

func (i id) ptr() *int64 {
	if !i.valid {
		return nil
	}
	v := i.v
	return &v
}

// timestamp accepts dates and datetimes in the layouts the backend emits.
type timestamp struct {
	t time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	core.DateLayout,
}

func (ts *timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		ts.t = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			ts.t = t
			return nil
		}
	}
	return fmt.Errorf("timestamp %q: unrecognized layout", s)
}
