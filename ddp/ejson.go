package ddp

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// EJSONObject is a decoded EJSON document: reserved keys ($date,
// $binary,...) have already been unwrapped into Go native values
// (time.Time, []byte) wherever they appear as a document field value,
// but the map itself is left as map[string]any so callers can inspect
// arbitrary DDP message shapes without a schema.
type EJSONObject = map[string]any

// EJSONEncode serializes v (expected to be a map[string]any / struct
// tree built from JSON-compatible values plus time.Time and []byte) to
// an EJSON text frame.
func EJSONEncode(v any) ([]byte, error) {
	wrapped, err := ejsonWrap(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wrapped)
}

// EJSONDecode parses an EJSON text frame. Malformed frames return an
// error; callers at the transport boundary (socket.go) drop the frame
// silently rather than propagating this error further.
func EJSONDecode(data []byte) (EJSONObject, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	unwrapped := ejsonUnwrap(raw)
	obj, ok := unwrapped.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("ejson: top-level value is not an object")
	}
	return obj, nil
}

// EJSONEquals compares two decoded EJSON values for deep equality,
// used by the reactive-idempotence rule and by subscription-param
// comparison for reactive reuse.
func EJSONEquals(a, b any) bool {
	na, err1 := EJSONEncode(a)
	nb, err2 := EJSONEncode(b)
	if err1 != nil || err2 != nil {
		return false
	}
	var da, db any
	if json.Unmarshal(na, &da) != nil || json.Unmarshal(nb, &db) != nil {
		return false
	}
	return jsonDeepEqual(da, db)
}

// EJSONClone deep-copies v via an encode/decode round trip. Subscription
// params are cloned on registration so later caller-side mutation of
// the argument slice can't corrupt the stored Subscription record.
func EJSONClone(v any) (any, error) {
	b, err := EJSONEncode(v)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		var rawAny any
		if err := json.Unmarshal(b, &rawAny); err != nil {
			return nil, err
		}
		return ejsonUnwrap(rawAny), nil
	}
	return ejsonUnwrap(raw), nil
}

func jsonDeepEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !jsonDeepEqual(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !jsonDeepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// ejsonWrap walks v converting time.Time and []byte into their EJSON
// reserved-key wire form ($date, $binary).
func ejsonWrap(v any) (any, error) {
	switch tv := v.(type) {
	case time.Time:
		return map[string]any{"$date": tv.UnixMilli()}, nil
	case []byte:
		return map[string]any{"$binary": base64.StdEncoding.EncodeToString(tv)}, nil
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			wrapped, err := ejsonWrap(val)
			if err != nil {
				return nil, err
			}
			out[k] = wrapped
		}
		return out, nil
	case []any:
		out := make([]any, len(tv))
		for i, val := range tv {
			wrapped, err := ejsonWrap(val)
			if err != nil {
				return nil, err
			}
			out[i] = wrapped
		}
		return out, nil
	default:
		return v, nil
	}
}

// ejsonUnwrap is the inverse of ejsonWrap: it recognizes $date/$binary
// reserved keys on decode and produces native Go values.
func ejsonUnwrap(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		if len(tv) == 1 {
			if ms, ok := tv["$date"]; ok {
				if f, ok := ms.(float64); ok {
					return time.UnixMilli(int64(f)).UTC()
				}
			}
			if b64, ok := tv["$binary"]; ok {
				if s, ok := b64.(string); ok {
					if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
						return decoded
					}
				}
			}
		}
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			out[k] = ejsonUnwrap(val)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, val := range tv {
			out[i] = ejsonUnwrap(val)
		}
		return out
	default:
		return v
	}
}

// ParseEJSONDate accepts the shapes token-expiration normalization
// needs: time.Time, a numeric ms-since-epoch, an ISO-8601 string, or
// an EJSON {$date: n} object. It returns the zero time and false if
// none match.
func ParseEJSONDate(v any) (time.Time, bool) {
	switch tv := v.(type) {
	case time.Time:
		return tv, true
	case float64:
		return time.UnixMilli(int64(tv)).UTC(), true
	case int64:
		return time.UnixMilli(tv).UTC(), true
	case string:
		if t, err := time.Parse(time.RFC3339, tv); err == nil {
			return t, true
		}
		return time.Time{}, false
	case map[string]any:
		if ms, ok := tv["$date"]; ok {
			return ParseEJSONDate(ms)
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
