// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tagregistry

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// ErrDecode is returned when a raw value does not fit the declared type.
var ErrDecode = errors.New("cannot decode value")

// Decode converts a raw JSON value from a read reply into the Go type of t:
// bool, int32, float32, float64 or string.
//
// bool is true only for JSON true, "true", "1" and the number 1. Numbers may
// arrive as JSON numbers or numeric strings; int32 truncates toward zero.
func Decode(t DataType, raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: missing value", ErrDecode)
	}

	switch t {
	case TypeBool:
		return decodeBool(raw), nil
	case TypeInt32:
		f, err := decodeNumber(raw, 64)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(f) {
			return nil, fmt.Errorf("%w: %s is not an int32", ErrDecode, raw)
		}
		f = math.Trunc(f)
		if f > math.MaxInt32 || f < math.MinInt32 {
			return nil, fmt.Errorf("%w: %s overflows int32", ErrDecode, raw)
		}
		return int32(f), nil
	case TypeFloat:
		f, err := decodeNumber(raw, 32)
		if err != nil {
			return nil, err
		}
		return float32(f), nil
	case TypeDouble:
		f, err := decodeNumber(raw, 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		if raw[0] == '"' {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrDecode, err)
			}
			return s, nil
		}
		if raw[0] == '{' || raw[0] == '[' {
			return nil, fmt.Errorf("%w: %s is not a scalar", ErrDecode, t)
		}
		return string(raw), nil
	}
}

func decodeBool(raw []byte) bool {
	switch string(raw) {
	case "true", `"true"`, `"1"`:
		return true
	}
	if f, err := strconv.ParseFloat(string(raw), 64); err == nil {
		return f == 1
	}
	return false
}

func decodeNumber(raw []byte, bits int) (float64, error) {
	text := string(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		text = strings.TrimSpace(s)
	}
	f, err := strconv.ParseFloat(text, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrDecode, text)
	}
	return f, nil
}

// Encode renders a typed value as the string the device expects in a write
// request. It accepts the Go types Decode produces plus the other integer
// and float kinds an OPC UA client may send.
func Encode(t DataType, v any) (string, error) {
	switch t {
	case TypeBool:
		switch b := v.(type) {
		case bool:
			return strconv.FormatBool(b), nil
		case string:
			return strconv.FormatBool(decodeBool([]byte(strconv.Quote(b)))), nil
		}
		if f, ok := toFloat(v); ok {
			return strconv.FormatBool(f == 1), nil
		}
	case TypeInt32:
		if f, ok := toFloat(v); ok {
			if math.IsNaN(f) {
				return "", fmt.Errorf("%w: NaN is not an int32", ErrDecode)
			}
			f = math.Trunc(f)
			if f > math.MaxInt32 || f < math.MinInt32 {
				return "", fmt.Errorf("%w: %v overflows int32", ErrDecode, v)
			}
			return strconv.FormatInt(int64(f), 10), nil
		}
		if s, ok := v.(string); ok {
			i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
			if err != nil {
				return "", fmt.Errorf("%w: %q is not an int32", ErrDecode, s)
			}
			return strconv.FormatInt(i, 10), nil
		}
	case TypeFloat, TypeDouble:
		bits := 64
		if t == TypeFloat {
			bits = 32
		}
		if f32, ok := v.(float32); ok {
			return strconv.FormatFloat(float64(f32), 'g', -1, 32), nil
		}
		if f, ok := toFloat(v); ok {
			return strconv.FormatFloat(f, 'g', -1, bits), nil
		}
		if s, ok := v.(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), bits)
			if err != nil {
				return "", fmt.Errorf("%w: %q is not a number", ErrDecode, s)
			}
			return strconv.FormatFloat(f, 'g', -1, bits), nil
		}
	default:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
	return "", fmt.Errorf("%w: %T for %s", ErrDecode, v, t)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
