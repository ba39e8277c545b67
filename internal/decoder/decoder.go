// Package decoder interprets director responses. Text mode responses are
// returned as they are; JSON mode responses are unwrapped from the
// director's {"result": {...}} envelope and looked up by key.
package decoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/codewiresh/dcon/internal/protocol"
)

// TooLargeDiagnostic is what the director prints instead of JSON when a
// result exceeds its packet size limit.
const TooLargeDiagnostic = "Failed to send result as json"

var (
	ErrResponseTooLarge = errors.New("response too large, retry with limit and offset")
	ErrMissingKey       = errors.New("key missing from director response")
	ErrJSONDecode       = errors.New("invalid JSON in director response")
)

// DirectorError is an error reported inside a well-formed JSON response.
type DirectorError struct {
	Code    int
	Message string
}

func (e *DirectorError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("director error %d: %s", e.Code, e.Message)
	}
	return "director error: " + e.Message
}

// IsTooLarge reports whether raw is the director's too-large diagnostic.
func IsTooLarge(raw string) bool {
	return strings.Contains(raw, TooLargeDiagnostic)
}

// Decode interprets raw at the given API level. In text mode the raw text
// is the value and key is ignored. In JSON modes the value under
// result.<key> is returned; an empty key returns the whole result.
func Decode(raw string, level protocol.APILevel, key string) (any, error) {
	if IsTooLarge(raw) {
		return nil, fmt.Errorf("%w: %s", ErrResponseTooLarge, firstLine(raw))
	}
	if !level.IsJSON() {
		return raw, nil
	}

	v, err := Lookup(raw, key)
	if err != nil {
		return nil, err
	}
	return value(v), nil
}

// DecodeInto unmarshals result.<key> into v.
func DecodeInto(raw, key string, v any) error {
	if IsTooLarge(raw) {
		return fmt.Errorf("%w: %s", ErrResponseTooLarge, firstLine(raw))
	}
	res, err := Lookup(raw, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(res.Raw), v); err != nil {
		return fmt.Errorf("%w: result.%s: %w", ErrJSONDecode, key, err)
	}
	return nil
}

// Lookup validates the envelope and returns result.<key> without
// converting it.
func Lookup(raw, key string) (gjson.Result, error) {
	result, err := envelope(raw)
	if err != nil {
		return gjson.Result{}, err
	}
	if key == "" {
		return result, nil
	}

	var found gjson.Result
	var ok bool
	result.ForEach(func(k, v gjson.Result) bool {
		if k.String() == key {
			found, ok = v, true
			return false
		}
		return true
	})
	if !ok {
		return gjson.Result{}, fmt.Errorf("%w: %q", ErrMissingKey, key)
	}
	return found, nil
}

// Range is the pagination metadata of an API level 2 list response.
type Range struct {
	Filtered int `json:"filtered"`
	Limit    int `json:"limit"`
	Offset   int `json:"offset"`
}

// Meta returns result.meta.range, or false when the response has none.
func Meta(raw string) (Range, bool) {
	if !gjson.Valid(raw) {
		return Range{}, false
	}
	r := gjson.Get(raw, "result.meta.range")
	if !r.IsObject() {
		return Range{}, false
	}
	return Range{
		Filtered: int(r.Get("filtered").Int()),
		Limit:    int(r.Get("limit").Int()),
		Offset:   int(r.Get("offset").Int()),
	}, true
}

func envelope(raw string) (gjson.Result, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !gjson.Valid(raw) {
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrJSONDecode, firstLine(raw))
	}

	// JSON-RPC style failure: {"error": {"code": 1, "message": "...", "data": {...}}}
	if e := gjson.Get(raw, "error"); e.Exists() && e.Type != gjson.Null {
		return gjson.Result{}, rpcError(e)
	}

	result := gjson.Get(raw, "result")
	if !result.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: %q", ErrMissingKey, "result")
	}
	if e := result.Get("error"); e.Exists() && e.Type != gjson.Null {
		return gjson.Result{}, &DirectorError{Message: e.String()}
	}
	return result, nil
}

func rpcError(e gjson.Result) *DirectorError {
	de := &DirectorError{
		Code:    int(e.Get("code").Int()),
		Message: e.Get("message").String(),
	}
	if e.Type == gjson.String {
		de.Message = e.String()
	}
	var msgs []string
	e.Get("data.messages.error").ForEach(func(_, m gjson.Result) bool {
		msgs = append(msgs, strings.TrimSpace(m.String()))
		return true
	})
	if len(msgs) > 0 {
		de.Message = strings.Join(msgs, "; ")
	}
	return de
}

// value converts a gjson result into plain Go values. Arrays always come
// back as a non-nil []any so an empty collection is distinguishable from a
// missing one.
func value(r gjson.Result) any {
	switch {
	case r.IsArray():
		items := r.Array()
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, value(item))
		}
		return out
	case r.IsObject():
		out := make(map[string]any)
		r.ForEach(func(k, v gjson.Result) bool {
			out[k.String()] = value(v)
			return true
		})
		return out
	default:
		return r.Value()
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
