package unarchive

import (
	"fmt"
	"math"
	"strconv"
)

// convertNumber reads source as a T. Integers are range checked, float64 values
// narrowed to float32 must stay finite.
func convertNumber[T Number](source Source) (T, error) {
	var zero T

	switch any(zero).(type) {
	case float32:
		value, err := source.Float()
		if err != nil {
			return zero, err
		}

		if !math.IsInf(value, 0) && math.Abs(value) > math.MaxFloat32 {
			return zero, fmt.Errorf("invalid %T value %g: %w", zero, value, strconv.ErrRange)
		}

		return T(value), nil

	case float64:
		value, err := source.Float()
		return T(value), err
	}

	// T is an integer type from here on
	minusOne := zero - 1
	if minusOne < zero {
		value, err := source.Int()
		if err != nil {
			return zero, err
		}

		if int64(T(value)) != value {
			return zero, fmt.Errorf("invalid %T value %d: %w", zero, value, strconv.ErrRange)
		}

		return T(value), nil
	}

	value, err := source.Uint()
	if err != nil {
		return zero, err
	}

	if uint64(T(value)) != value {
		return zero, fmt.Errorf("invalid %T value %d: %w", zero, value, strconv.ErrRange)
	}

	return T(value), nil
}
