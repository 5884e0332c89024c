package mqtmodels

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Message is the canonical JSON object published on the shared topic.
//
// Keys are written in case-insensitive alphabetical order and floats keep a
// trailing ".0" when integral, so the payload matches what subscribers of the
// shared topic already parse (e.g. {"dev":"CL-123","PM25":12.35,"temp":19.0}).
type Message map[string]interface{}

// MarshalJSON implements json.Marshaler
func (m Message) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		li, lj := strings.ToLower(keys[i]), strings.ToLower(keys[j])
		if li != lj {
			return li < lj
		}
		return keys[i] < keys[j]
	})

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		if err := writeValue(&buf, m[k]); err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case float64:
		s, err := FormatFloat(val)
		if err != nil {
			return err
		}
		buf.WriteString(s)
		return nil
	case float32:
		s, err := FormatFloat(float64(val))
		if err != nil {
			return err
		}
		buf.WriteString(s)
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// FormatFloat renders f the way the shared topic expects: shortest
// round-trip digits, integral values as "19.0", exponent form outside
// [1e-4, 1e16).
func FormatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("unsupported float value %v", f)
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64), nil
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s, nil
}

// Round2 rounds to two decimal places, e.g. 12.3456 becomes 12.35
func Round2(f float64) float64 {
	r := math.Round(f*100) / 100
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return f
	}
	return r
}
