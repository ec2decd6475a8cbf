package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"
)

// maxExactInt is the largest integer a float64 holds without rounding.
const maxExactInt = 1 << 53

// DecodeDocument parses a JSON object. Numbers decode to float64, except
// integers outside float64's exact range, which decode to int64. A JSON null
// yields an empty map.
func DecodeDocument(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after document")
	}
	if doc == nil {
		return map[string]any{}, nil
	}
	for k, v := range doc {
		doc[k] = normalizeNumbers(v)
	}
	return doc, nil
}

// JSONValue returns v in the form DecodeDocument produces for it, so values
// held in memory compare equal to what a persisted copy restores.
func JSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return normalizeNumbers(out), nil
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		return number(x)
	case map[string]any:
		for k, item := range x {
			x[k] = normalizeNumbers(item)
		}
		return x
	case []any:
		for i, item := range x {
			x[i] = normalizeNumbers(item)
		}
		return x
	default:
		return v
	}
}

func number(n json.Number) any {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil && (i > maxExactInt || i < -maxExactInt) {
			return i
		}
	}
	f, err := n.Float64()
	if err != nil {
		// only reachable for values beyond float64 range
		return s
	}
	return f
}

// JSONReport converts every value of r with JSONValue. Values that cannot be
// encoded are kept as they are and their keys returned.
func JSONReport(r Report) (Report, []string) {
	out := make(Report, len(r))
	var bad []string
	for k, v := range r {
		jv, err := JSONValue(v)
		if err != nil {
			out[k] = v
			bad = append(bad, k)
			continue
		}
		out[k] = jv
	}
	return out, bad
}
