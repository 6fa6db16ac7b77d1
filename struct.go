package unarchive

import (
	"encoding"
	"fmt"
	"reflect"
)

// A setter decodes the value stored under key into target.
type setter func(u *Unarchiver, key string, target reflect.Value) error

var tyTextUnmarshaler = reflect.TypeFor[encoding.TextUnmarshaler]()
var tyBytes = reflect.TypeFor[[]byte]()

// Decodable is implemented by types that read their own fields.
type Decodable interface {
	DecodeArchive(u *Unarchiver) error
}

// RegisterStruct registers a class whose instances are decoded into a *T by
// setting the fields of T from the object's keys. Keys follow the field names and can
// be changed with an `archive:"key"` struct tag, `archive:"-"` skips a field and
// `archive:",required"` fails construction with ErrValueNotFound if the key is absent.
//
// Scalars are decoded inline, every other field is decoded as an object and must be
// assignable to the field. Arrays, sets and dictionaries are converted element by
// element into typed slices and maps.
//
// The New function of class is ignored.
func RegisterStruct[T any](reg *Registry, class Class) (*Class, error) {
	ty := reflect.TypeFor[T]()
	if ty.Kind() != reflect.Struct {
		return nil, fmt.Errorf("type %s is not a struct", ty)
	}

	fields := archivedFields(ty)

	setters := make([]setter, 0, len(fields))
	for _, field := range fields {
		setters = append(setters, setterOf(field.Type))
	}

	class.New = func(u *Unarchiver) (any, error) {
		target := reflect.New(ty)

		for idx, field := range fields {
			if !u.ContainsValue(field.Key) {
				if field.Required {
					return nil, newError(ErrValueNotFound, "required field "+field.Key).withKey(field.Key)
				}

				continue
			}

			fieldValue := target.Elem().FieldByIndex(field.Index)
			if err := setters[idx](u, field.Key, fieldValue); err != nil {
				return nil, fmt.Errorf("set field %q on %q: %w", field.Key, ty, err)
			}
		}

		return target.Interface(), nil
	}

	return reg.Register(class)
}

// RegisterDecodable registers a class whose instances are created with new(T) and
// populated by [Decodable.DecodeArchive]. The New function of class is ignored.
func RegisterDecodable[T any, PT interface {
	*T
	Decodable
}](reg *Registry, class Class) (*Class, error) {
	class.New = func(u *Unarchiver) (any, error) {
		instance := PT(new(T))
		if err := instance.DecodeArchive(u); err != nil {
			return nil, err
		}

		return instance, nil
	}

	return reg.Register(class)
}

func setterOf(ty reflect.Type) setter {
	if reflect.PointerTo(ty).Implements(tyTextUnmarshaler) {
		return setTextUnmarshaler
	}

	switch ty.Kind() {
	case reflect.Bool:
		return setBool

	case reflect.Int:
		return setNumber[int]
	case reflect.Int8:
		return setNumber[int8]
	case reflect.Int16:
		return setNumber[int16]
	case reflect.Int32:
		return setNumber[int32]
	case reflect.Int64:
		return setNumber[int64]

	case reflect.Uint:
		return setNumber[uint]
	case reflect.Uint8:
		return setNumber[uint8]
	case reflect.Uint16:
		return setNumber[uint16]
	case reflect.Uint32:
		return setNumber[uint32]
	case reflect.Uint64:
		return setNumber[uint64]

	case reflect.Float32:
		return setNumber[float32]
	case reflect.Float64:
		return setNumber[float64]

	case reflect.String:
		return setString

	case reflect.Slice:
		if ty.Elem().Kind() == reflect.Uint8 {
			return setBytes
		}
	}

	return setObject
}

func setBool(u *Unarchiver, key string, target reflect.Value) error {
	target.SetBool(u.DecodeBool(key))
	return u.err
}

func setNumber[T Number](u *Unarchiver, key string, target reflect.Value) error {
	value := DecodeNumber[T](u, key)
	target.Set(reflect.ValueOf(value).Convert(target.Type()))
	return u.err
}

func setString(u *Unarchiver, key string, target reflect.Value) error {
	target.SetString(u.DecodeString(key))
	return u.err
}

func setBytes(u *Unarchiver, key string, target reflect.Value) error {
	value, _ := u.DecodeValue(key)
	if value != nil && value.Kind() == KindUID {
		// NSData stored as an object
		return setObject(u, key, target)
	}

	target.Set(reflect.ValueOf(u.DecodeBytes(key)).Convert(target.Type()))
	return u.err
}

func setTextUnmarshaler(u *Unarchiver, key string, target reflect.Value) error {
	value, _ := u.DecodeValue(key)
	if value == nil || value.Kind() != KindString {
		// decoded objects like NSDate are assigned as they are
		return setObject(u, key, target)
	}

	text, _ := value.String()

	m := target.Addr().Interface().(encoding.TextUnmarshaler)
	return m.UnmarshalText([]byte(text))
}

func setObject(u *Unarchiver, key string, target reflect.Value) error {
	object := u.DecodeObject(key)
	if u.err != nil {
		return u.err
	}

	return assignObject(object, target)
}

// assignObject stores a decoded object into target, converting untyped collections
// into the target's element types.
func assignObject(object any, target reflect.Value) error {
	if object == nil {
		target.SetZero()
		return nil
	}

	source := reflect.ValueOf(object)
	ty := target.Type()

	switch {
	case source.Type().AssignableTo(ty):
		target.Set(source)
		return nil

	case source.Kind() == reflect.Pointer && !source.IsNil() && source.Elem().Type().AssignableTo(ty):
		target.Set(source.Elem())
		return nil

	case source.Kind() == reflect.Slice && ty.Kind() == reflect.Slice && ty != tyBytes:
		slice := reflect.MakeSlice(ty, source.Len(), source.Len())
		for idx := range source.Len() {
			if err := assignObject(source.Index(idx).Interface(), slice.Index(idx)); err != nil {
				return fmt.Errorf("set element idx=%d: %w", idx, err)
			}
		}

		target.Set(slice)
		return nil

	case source.Kind() == reflect.Map && ty.Kind() == reflect.Map:
		mapTarget := reflect.MakeMapWithSize(ty, source.Len())

		iter := source.MapRange()
		for iter.Next() {
			keyTarget := reflect.New(ty.Key()).Elem()
			if err := assignObject(iter.Key().Interface(), keyTarget); err != nil {
				return fmt.Errorf("set key: %w", err)
			}

			valueTarget := reflect.New(ty.Elem()).Elem()
			if err := assignObject(iter.Value().Interface(), valueTarget); err != nil {
				return fmt.Errorf("set value for key %v: %w", iter.Key(), err)
			}

			mapTarget.SetMapIndex(keyTarget, valueTarget)
		}

		target.Set(mapTarget)
		return nil

	case isNumberKind(source.Kind()) && isNumberKind(ty.Kind()):
		converted := source.Convert(ty)
		if !converted.Convert(source.Type()).Equal(source) {
			return fmt.Errorf("value %v does not fit into %s: %w", object, ty, ErrCorruptData)
		}

		target.Set(converted)
		return nil
	}

	return newError(ErrUnsupportedOperation, fmt.Sprintf("can not assign %T to %s", object, ty))
}

func isNumberKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
