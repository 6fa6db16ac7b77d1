package unarchive

import (
	"errors"
	"fmt"
	"slices"

	"golang.org/x/exp/constraints"
)

// PropertyListClasses are the classes allowed by [Unarchiver.DecodePropertyList].
var PropertyListClasses = []string{"NSArray", "NSDictionary", "NSString", "NSData", "NSDate", "NSNumber"}

// DecodeObject decodes the object referenced by key in the current decoding context.
// A missing key records ErrValueNotFound, the null object decodes to nil.
func (u *Unarchiver) DecodeObject(key string) any {
	return u.decodeObjectOf(nil, key, true)
}

// DecodeObjectOf decodes the object referenced by key, requiring its class to be
// one of classes or a descendant of one. A class outside the list aborts the session.
// A nil list decodes nothing and returns nil.
func (u *Unarchiver) DecodeObjectOf(classes []string, key string) any {
	if classes == nil {
		u.validateStillDecoding()
		return nil
	}

	return u.decodeObjectOf(classes, key, true)
}

// DecodeNextObject decodes the next unkeyed object. Unkeyed values are read back in
// the order they were written.
func (u *Unarchiver) DecodeNextObject() any {
	return u.decodeObjectOf(nil, "", false)
}

// DecodeNextObjectOf is the unkeyed variant of DecodeObjectOf.
func (u *Unarchiver) DecodeNextObjectOf(classes []string) any {
	if classes == nil {
		u.validateStillDecoding()
		return nil
	}

	return u.decodeObjectOf(classes, "", false)
}

// DecodeTopLevelObject decodes an object of the top level context and returns the
// session error directly.
func (u *Unarchiver) DecodeTopLevelObject(key string) (any, error) {
	return u.decodeTopLevelObject(nil, key)
}

// DecodeTopLevelObjectOf is the restricted variant of DecodeTopLevelObject.
func (u *Unarchiver) DecodeTopLevelObjectOf(classes []string, key string) (any, error) {
	if classes == nil {
		u.validateStillDecoding()
		return nil, u.err
	}

	return u.decodeTopLevelObject(classes, key)
}

func (u *Unarchiver) decodeTopLevelObject(classes []string, key string) (any, error) {
	if len(u.contexts) != 1 {
		err := newError(ErrCorruptData, "top level objects can only be decoded at the top level").withKey(key)
		u.fail(err)
		return nil, err
	}

	object := u.decodeObjectOf(classes, key, true)
	return object, u.err
}

// DecodePropertyList decodes an object restricted to the property list classes.
func (u *Unarchiver) DecodePropertyList(key string) any {
	return u.DecodeObjectOf(PropertyListClasses, key)
}

// DecodeArrayOfObjects decodes an array of object references stored under key.
// Decoding stops at the first element that is not a reference. If an element fails to
// decode, the elements decoded before it are returned.
func (u *Unarchiver) DecodeArrayOfObjects(key string) []any {
	value, ok := u.DecodeValue(key)
	if !ok {
		return nil
	}

	elements, err := value.Iter()
	if err != nil {
		return nil
	}

	result := []any{}
	for element := range elements {
		if element.Kind() != KindUID {
			break
		}

		object, err := u.decodeReference(element)
		if err != nil {
			u.fail(fmt.Errorf("decode element %d of %q: %w", len(result), key, err))
			return result
		}

		if object != nil {
			result = append(result, object)
		}
	}

	return result
}

// DecodeValue returns the raw value stored under key in the current decoding context.
// Absent keys report false and are not an error.
func (u *Unarchiver) DecodeValue(key string) (Source, bool) {
	return u.decodeValue(key, true)
}

// DecodeNextValue returns the next unkeyed raw value.
func (u *Unarchiver) DecodeNextValue() (Source, bool) {
	return u.decodeValue("", false)
}

func (u *Unarchiver) decodeValue(key string, keyed bool) (Source, bool) {
	u.validateStillDecoding()

	if u.err != nil {
		return nil, false
	}

	value, _, ok := u.lookup(key, keyed)
	return value, ok
}

// ContainsValue reports whether the current decoding context holds key.
func (u *Unarchiver) ContainsValue(key string) bool {
	_, ok := u.DecodeValue(key)
	return ok
}

// DecodeBool decodes a bool. Numbers decode as true if they are not zero.
func (u *Unarchiver) DecodeBool(key string) bool {
	value, ok := u.DecodeValue(key)
	if !ok {
		return false
	}

	result, err := value.Bool()
	if err != nil {
		return false
	}

	return result
}

// DecodeInt decodes a number into an int.
func (u *Unarchiver) DecodeInt(key string) int {
	return DecodeNumber[int](u, key)
}

// DecodeInt32 decodes a number into an int32.
func (u *Unarchiver) DecodeInt32(key string) int32 {
	return DecodeNumber[int32](u, key)
}

// DecodeInt64 decodes a number into an int64.
func (u *Unarchiver) DecodeInt64(key string) int64 {
	return DecodeNumber[int64](u, key)
}

// DecodeFloat32 decodes a number into a float32.
func (u *Unarchiver) DecodeFloat32(key string) float32 {
	return DecodeNumber[float32](u, key)
}

// DecodeFloat64 decodes a number into a float64.
func (u *Unarchiver) DecodeFloat64(key string) float64 {
	return DecodeNumber[float64](u, key)
}

// DecodeString decodes a string stored either inline or as a referenced object.
func (u *Unarchiver) DecodeString(key string) string {
	value, ok := u.DecodeValue(key)
	if !ok {
		return ""
	}

	if value.Kind() == KindUID {
		if str, ok := u.DecodeObject(key).(string); ok {
			return str
		}

		return ""
	}

	str, _ := value.String()
	return str
}

// DecodeBytes returns a copy of the bytes stored under key.
func (u *Unarchiver) DecodeBytes(key string) []byte {
	var result []byte

	_ = u.WithDecodedBytes(key, func(data []byte) error {
		result = slices.Clone(data)
		return nil
	})

	return result
}

// WithDecodedBytes calls fn with the bytes stored under key, or with nil if there are
// none. The slice is only valid during fn and must not be modified.
func (u *Unarchiver) WithDecodedBytes(key string, fn func(data []byte) error) error {
	value, ok := u.DecodeValue(key)
	if !ok {
		return fn(nil)
	}

	data, err := value.Data()
	if err != nil {
		return fn(nil)
	}

	return fn(data)
}

// Number is the set of types [DecodeNumber] can produce.
type Number interface {
	constraints.Integer | constraints.Float
}

// DecodeNumber decodes the number stored under key into T. A value that does not fit
// into T records ErrCorruptData. Absent keys and non numbers yield zero.
func DecodeNumber[T Number](u *Unarchiver, key string) T {
	value, ok := u.DecodeValue(key)
	if !ok {
		return 0
	}

	result, err := convertNumber[T](value)
	if err != nil {
		if !errors.Is(err, ErrNotSupported) {
			u.fail(newError(ErrCorruptData, "").withKey(key).withCause(err))
		}

		return 0
	}

	return result
}

// DecodeNextNumber is the unkeyed variant of DecodeNumber.
func DecodeNextNumber[T Number](u *Unarchiver) T {
	value, ok := u.DecodeNextValue()
	if !ok {
		return 0
	}

	result, err := convertNumber[T](value)
	if err != nil {
		if !errors.Is(err, ErrNotSupported) {
			u.fail(newError(ErrCorruptData, "unkeyed value").withCause(err))
		}

		return 0
	}

	return result
}
