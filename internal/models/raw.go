package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RawRecord is an untyped record as delivered by an extraction source
type RawRecord map[string]interface{}

// String returns the first non-empty string value among keys. Numbers are
// formatted without exponent so numeric ids survive.
func (r RawRecord) String(keys ...string) string {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch val := v.(type) {
		case string:
			s = val
		case json.Number:
			s = val.String()
		case float64:
			s = strconv.FormatFloat(val, 'f', -1, 64)
		case int:
			s = strconv.Itoa(val)
		case int64:
			s = strconv.FormatInt(val, 10)
		case bool:
			s = strconv.FormatBool(val)
		default:
			s = fmt.Sprint(val)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Has reports whether any of keys holds a non-empty value
func (r RawRecord) Has(keys ...string) bool {
	return r.String(keys...) != ""
}

// List returns the value at key as a list of records, skipping non-object entries
func (r RawRecord) List(key string) []RawRecord {
	items, ok := r[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]RawRecord, 0, len(items))
	for _, item := range items {
		switch m := item.(type) {
		case map[string]interface{}:
			out = append(out, RawRecord(m))
		case RawRecord:
			out = append(out, m)
		}
	}
	return out
}
