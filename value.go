package unarchive

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"strconv"
)

// uidKey is the dictionary key text based plist dialects use to express a UID.
const uidKey = "CF$UID"

// FromValue adapts a tree of plain go values to a [Source].
//
// Supported are string, bool, all integer and float types, json.Number, []byte, [UID],
// map[string]any, map[any]any with string keys, []any and []string. A dictionary with the
// single key "CF$UID" holding an integer is interpreted as a [UID], which is how XML and
// JSON renditions of keyed archives spell references.
func FromValue(value any) Source {
	return valueSource{value: value}
}

type valueSource struct {
	value any
}

var _ Source = valueSource{}

func (v valueSource) Kind() Kind {
	switch value := v.value.(type) {
	case string:
		return KindString
	case bool:
		return KindBool
	case int, int8, int16, int32, int64:
		return KindInt
	case uint, uint8, uint16, uint32, uint64:
		return KindUint
	case float32, float64:
		return KindFloat
	case json.Number:
		if _, err := value.Int64(); err == nil {
			return KindInt
		}
		if _, err := strconv.ParseUint(string(value), 10, 64); err == nil {
			return KindUint
		}
		return KindFloat
	case []byte:
		return KindData
	case UID:
		return KindUID
	case map[string]any, map[any]any:
		if _, ok := v.uid(); ok {
			return KindUID
		}
		return KindDict
	case []any, []string:
		return KindArray
	default:
		return KindInvalid
	}
}

func (v valueSource) Bool() (bool, error) {
	switch v.Kind() {
	case KindBool:
		return v.value.(bool), nil

	case KindInt, KindUint, KindFloat:
		floatValue, err := v.Float()
		return floatValue != 0, err

	default:
		return false, ErrNotSupported
	}
}

func (v valueSource) Int() (int64, error) {
	switch value := v.value.(type) {
	case bool:
		if value {
			return 1, nil
		}
		return 0, nil
	case int:
		return int64(value), nil
	case int8:
		return int64(value), nil
	case int16:
		return int64(value), nil
	case int32:
		return int64(value), nil
	case int64:
		return value, nil
	case uint, uint8, uint16, uint32, uint64:
		uintValue, _ := v.Uint()
		if uintValue > math.MaxInt64 {
			return 0, fmt.Errorf("invalid int64 value %d: %w", uintValue, strconv.ErrRange)
		}
		return int64(uintValue), nil
	case float32, float64:
		floatValue, _ := v.Float()
		if floatValue < math.MinInt64 || floatValue >= math.MaxInt64 || math.IsNaN(floatValue) {
			return 0, fmt.Errorf("invalid int64 value %g: %w", floatValue, strconv.ErrRange)
		}
		// numbers narrow by truncation, like the archiving runtime does
		return int64(floatValue), nil
	case json.Number:
		if intValue, err := value.Int64(); err == nil {
			return intValue, nil
		}
		floatValue, err := value.Float64()
		if err != nil {
			return handleSyntaxErr(string(value), int64(0), err)
		}
		return valueSource{value: floatValue}.Int()
	default:
		return 0, ErrNotSupported
	}
}

func (v valueSource) Uint() (uint64, error) {
	switch value := v.value.(type) {
	case uint:
		return uint64(value), nil
	case uint8:
		return uint64(value), nil
	case uint16:
		return uint64(value), nil
	case uint32:
		return uint64(value), nil
	case uint64:
		return value, nil
	case json.Number:
		if uintValue, err := strconv.ParseUint(string(value), 10, 64); err == nil {
			return uintValue, nil
		}
	}

	intValue, err := v.Int()
	if err != nil {
		return 0, err
	}

	if intValue < 0 {
		return 0, fmt.Errorf("invalid uint64 value %d: %w", intValue, strconv.ErrRange)
	}

	return uint64(intValue), nil
}

func (v valueSource) Float() (float64, error) {
	switch value := v.value.(type) {
	case float32:
		return float64(value), nil
	case float64:
		return value, nil
	case json.Number:
		floatValue, err := value.Float64()
		return handleSyntaxErr(string(value), floatValue, err)
	case uint, uint8, uint16, uint32, uint64:
		uintValue, _ := v.Uint()
		return float64(uintValue), nil
	case bool, int, int8, int16, int32, int64:
		intValue, _ := v.Int()
		return float64(intValue), nil
	default:
		return 0, ErrNotSupported
	}
}

func (v valueSource) String() (string, error) {
	if value, ok := v.value.(string); ok {
		return value, nil
	}

	return "", ErrNotSupported
}

func (v valueSource) Data() ([]byte, error) {
	switch value := v.value.(type) {
	case []byte:
		return value, nil

	case string:
		// text dialects spell data as base64
		data, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, ErrNotSupported
		}

		return data, nil
	}

	return nil, ErrNotSupported
}

func (v valueSource) UID() (UID, error) {
	if value, ok := v.value.(UID); ok {
		return value, nil
	}

	if value, ok := v.uid(); ok {
		return value, nil
	}

	return 0, ErrNotSupported
}

// uid recognizes the {"CF$UID": n} dictionary form of a reference.
func (v valueSource) uid() (UID, bool) {
	var raw any
	switch value := v.value.(type) {
	case map[string]any:
		if len(value) != 1 {
			return 0, false
		}
		raw = value[uidKey]
	case map[any]any:
		if len(value) != 1 {
			return 0, false
		}
		raw = value[uidKey]
	default:
		return 0, false
	}

	switch raw.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
	default:
		return 0, false
	}

	uidValue, err := valueSource{value: raw}.Uint()
	if err != nil || uidValue > math.MaxUint32 {
		return 0, false
	}

	return UID(uidValue), true
}

func (v valueSource) Get(key string) (Source, error) {
	if v.Kind() != KindDict {
		return nil, ErrNotSupported
	}

	var child any
	var ok bool

	switch value := v.value.(type) {
	case map[string]any:
		child, ok = value[key]
	case map[any]any:
		child, ok = value[key]
	}

	if !ok {
		return nil, ErrNoValue
	}

	return valueSource{value: child}, nil
}

func (v valueSource) KeyValues() (iter.Seq2[string, Source], error) {
	if v.Kind() != KindDict {
		return nil, ErrNotSupported
	}

	it := func(yield func(string, Source) bool) {
		switch value := v.value.(type) {
		case map[string]any:
			for key, child := range value {
				if !yield(key, valueSource{value: child}) {
					return
				}
			}

		case map[any]any:
			for key, child := range value {
				stringKey, ok := key.(string)
				if !ok {
					// archives only ever use string keys
					continue
				}

				if !yield(stringKey, valueSource{value: child}) {
					return
				}
			}
		}
	}

	return it, nil
}

func (v valueSource) Iter() (iter.Seq[Source], error) {
	switch value := v.value.(type) {
	case []any:
		it := func(yield func(Source) bool) {
			for _, element := range value {
				if !yield(valueSource{value: element}) {
					return
				}
			}
		}
		return it, nil

	case []string:
		it := func(yield func(Source) bool) {
			for _, element := range value {
				if !yield(valueSource{value: element}) {
					return
				}
			}
		}
		return it, nil

	default:
		return nil, ErrNotSupported
	}
}

// stringsOf collects an array of strings. Non string elements are skipped.
func stringsOf(source Source) []string {
	elements, err := source.Iter()
	if err != nil {
		return nil
	}

	var result []string
	for element := range elements {
		if value, err := element.String(); err == nil {
			result = append(result, value)
		}
	}

	return slices.Clip(result)
}

func handleSyntaxErr[T any](inputValue string, value T, err error) (T, error) {
	var zeroValue T
	if errors.Is(err, strconv.ErrSyntax) {
		err := fmt.Errorf("parse number %q: %w", inputValue, err)
		return zeroValue, errors.Join(err, ErrNotSupported)
	}

	if err != nil {
		return zeroValue, err
	}

	return value, nil
}
