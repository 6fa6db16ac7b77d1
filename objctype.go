package unarchive

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// primitiveKind is the decoded meaning of a one letter type code.
type primitiveKind int

const (
	primitiveInvalid primitiveKind = iota
	primitiveObject
	primitiveClass
	primitiveCString
	primitiveInt8
	primitiveUint8
	primitiveInt16
	primitiveUint16
	primitiveInt32
	primitiveUint32
	primitiveInt64
	primitiveUint64
	primitiveFloat32
	primitiveFloat64
	primitiveBool
	primitiveArray
	primitiveStruct
)

// a primitive describes how a type code is read and which go type it produces.
type primitive struct {
	kind   primitiveKind
	goType reflect.Type
	decode func(u *Unarchiver) (value any, ok bool, err error)
}

func numberPrimitive[T Number](kind primitiveKind) primitive {
	return primitive{
		kind:   kind,
		goType: reflect.TypeFor[T](),
		decode: func(u *Unarchiver) (any, bool, error) {
			value, ok := u.DecodeNextValue()
			if !ok {
				return nil, false, nil
			}

			result, err := convertNumber[T](value)
			if err != nil {
				return nil, false, newError(ErrCorruptData, "unkeyed number").withCause(err)
			}

			return result, true, nil
		},
	}
}

var tyAny = reflect.TypeFor[any]()
var tyClass = reflect.TypeFor[*Class]()
var tyString = reflect.TypeFor[string]()

// primitives maps type codes to their decoders.
var primitives = map[byte]primitive{
	'c': numberPrimitive[int8](primitiveInt8),
	'C': numberPrimitive[uint8](primitiveUint8),
	's': numberPrimitive[int16](primitiveInt16),
	'S': numberPrimitive[uint16](primitiveUint16),
	'i': numberPrimitive[int32](primitiveInt32),
	'I': numberPrimitive[uint32](primitiveUint32),
	'l': numberPrimitive[int32](primitiveInt32),
	'L': numberPrimitive[uint32](primitiveUint32),
	'q': numberPrimitive[int64](primitiveInt64),
	'Q': numberPrimitive[uint64](primitiveUint64),
	'f': numberPrimitive[float32](primitiveFloat32),
	'd': numberPrimitive[float64](primitiveFloat64),

	'B': {
		kind:   primitiveBool,
		goType: reflect.TypeFor[bool](),
		decode: func(u *Unarchiver) (any, bool, error) {
			value, ok := u.DecodeNextValue()
			if !ok {
				return nil, false, nil
			}

			result, err := value.Bool()
			if err != nil {
				return nil, false, newError(ErrCorruptData, "unkeyed bool").withCause(err)
			}

			return result, true, nil
		},
	},

	'@': {
		kind:   primitiveObject,
		goType: tyAny,
		decode: func(u *Unarchiver) (any, bool, error) {
			object := u.DecodeNextObject()
			return object, u.err == nil, nil
		},
	},

	'#': {
		kind:   primitiveClass,
		goType: tyClass,
		decode: func(u *Unarchiver) (any, bool, error) {
			name, ok := u.DecodeNextObject().(string)
			if !ok {
				return nil, false, nil
			}

			class := u.classNamed(name)
			if class == nil {
				return nil, false, nil
			}

			return class, true, nil
		},
	},

	'*': {
		kind:   primitiveCString,
		goType: tyString,
		decode: func(u *Unarchiver) (any, bool, error) {
			str, ok := u.DecodeNextObject().(string)
			return str, ok, nil
		},
	},

	'[': {kind: primitiveArray},
	'{': {kind: primitiveStruct},
}

// typeSignature is a parsed type code. Arrays carry their element type and length.
type typeSignature struct {
	code  byte
	prim  primitive
	count int
	elem  *typeSignature
}

func parseTypeSignature(signature string) (typeSignature, error) {
	if signature == "" {
		return typeSignature{}, newError(ErrUnsupportedOperation, "empty type signature")
	}

	code := signature[0]

	prim, ok := primitives[code]
	if !ok {
		detail := fmt.Sprintf("unsupported type code %q", code)
		return typeSignature{}, newError(ErrUnsupportedOperation, detail)
	}

	switch prim.kind {
	case primitiveStruct:
		return typeSignature{}, newError(ErrUnsupportedOperation, "structs can not be decoded")

	case primitiveArray:
		return parseArraySignature(signature)

	default:
		if len(signature) != 1 {
			detail := fmt.Sprintf("trailing characters in type signature %q", signature)
			return typeSignature{}, newError(ErrUnsupportedOperation, detail)
		}

		return typeSignature{code: code, prim: prim}, nil
	}
}

// parseArraySignature parses "[<count><code>]".
func parseArraySignature(signature string) (typeSignature, error) {
	body, ok := strings.CutPrefix(signature, "[")
	if ok {
		body, ok = strings.CutSuffix(body, "]")
	}

	if !ok {
		detail := fmt.Sprintf("malformed array signature %q", signature)
		return typeSignature{}, newError(ErrUnsupportedOperation, detail)
	}

	digits := strings.IndexFunc(body, func(r rune) bool { return r < '0' || r > '9' })
	if digits <= 0 {
		detail := fmt.Sprintf("array signature %q has no element count", signature)
		return typeSignature{}, newError(ErrUnsupportedOperation, detail)
	}

	count, err := strconv.Atoi(body[:digits])
	if err != nil || count <= 0 {
		detail := fmt.Sprintf("array signature %q has an invalid element count", signature)
		return typeSignature{}, newError(ErrUnsupportedOperation, detail).withCause(err)
	}

	elem, err := parseTypeSignature(body[digits:])
	if err != nil {
		return typeSignature{}, err
	}

	if elem.prim.kind == primitiveArray {
		return typeSignature{}, newError(ErrUnsupportedOperation, "nested arrays can not be decoded")
	}

	return typeSignature{code: '[', prim: primitives['['], count: count, elem: &elem}, nil
}

// DecodeValueOfType decodes the next unkeyed value described by a one letter type
// signature into dst, which must be a pointer to a matching go type:
//
//	c C s S i I l L q Q   int8 uint8 int16 uint16 int32 uint32 int32 uint32 int64 uint64
//	f d B                 float32 float64 bool
//	@ # *                 any, *Class, string
//	[4i]                  [4]int32 or []int32
//
// Structs and other codes record ErrUnsupportedOperation. If the archive holds no
// value, dst is left untouched.
func (u *Unarchiver) DecodeValueOfType(signature string, dst any) {
	u.validateStillDecoding()

	if u.err != nil {
		return
	}

	sig, err := parseTypeSignature(signature)
	if err != nil {
		u.fail(err)
		return
	}

	target := reflect.ValueOf(dst)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		u.fail(newError(ErrUnsupportedOperation, fmt.Sprintf("destination %T is not a non-nil pointer", dst)))
		return
	}

	value, ok, err := u.decodeTyped(sig)
	if err != nil {
		u.fail(fmt.Errorf("decode value of type %q: %w", signature, err))
		return
	}

	if !ok {
		return
	}

	if err := assignTyped(sig, value, target.Elem()); err != nil {
		u.fail(err)
	}
}

// decodeTyped reads the next unkeyed value for sig from the current context.
func (u *Unarchiver) decodeTyped(sig typeSignature) (any, bool, error) {
	if sig.prim.kind != primitiveArray {
		return sig.prim.decode(u)
	}

	array, ok := u.DecodeNextObjectOf([]string{OldStyleArrayClassName}).(*OldStyleArray)
	if !ok {
		return nil, false, nil
	}

	if array.Type != sig.elem.code {
		detail := fmt.Sprintf("array holds type %q, expected %q", array.Type, sig.elem.code)
		return nil, false, newError(ErrCorruptData, detail)
	}

	values := array.Values
	if len(values) > sig.count {
		values = values[:sig.count]
	}

	return values, true, nil
}

// assignTyped stores a decoded value into target.
func assignTyped(sig typeSignature, value any, target reflect.Value) error {
	if sig.prim.kind != primitiveArray {
		return assignPrimitive(sig.prim, value, target)
	}

	values := value.([]any)

	switch target.Kind() {
	case reflect.Array:
		if target.Len() < len(values) {
			detail := fmt.Sprintf("destination %s holds less than %d elements", target.Type(), len(values))
			return newError(ErrUnsupportedOperation, detail)
		}

	case reflect.Slice:
		if target.Len() < len(values) {
			target.Set(reflect.MakeSlice(target.Type(), len(values), len(values)))
		}

	default:
		detail := fmt.Sprintf("destination %s is not an array or slice", target.Type())
		return newError(ErrUnsupportedOperation, detail)
	}

	for idx, element := range values {
		if element == nil {
			continue
		}

		if err := assignPrimitive(sig.elem.prim, element, target.Index(idx)); err != nil {
			return fmt.Errorf("set element idx=%d: %w", idx, err)
		}
	}

	return nil
}

func assignPrimitive(prim primitive, value any, target reflect.Value) error {
	if value == nil {
		target.SetZero()
		return nil
	}

	source := reflect.ValueOf(value)

	switch {
	case prim.kind == primitiveObject && source.Type().AssignableTo(target.Type()):
		target.Set(source)
		return nil

	case target.Kind() == prim.goType.Kind() && source.Type().ConvertibleTo(target.Type()):
		target.Set(source.Convert(target.Type()))
		return nil
	}

	detail := fmt.Sprintf("can not store %s into %s", source.Type(), target.Type())
	return newError(ErrUnsupportedOperation, detail)
}

// OldStyleArrayClassName is the class of records holding fixed size C arrays.
const OldStyleArrayClassName = "_NSKeyedCoderOldStyleArray"

// OldStyleArray is a fixed size array of primitives written by the legacy
// typed value encoder.
type OldStyleArray struct {
	// Type is the one letter type code of the elements.
	Type byte

	// Size of a single element in bytes, as recorded by the encoder.
	Size int

	Values []any
}

func decodeOldStyleArray(u *Unarchiver) (any, error) {
	count := u.DecodeInt("NS.count")
	typeCode := DecodeNumber[uint8](u, "NS.type")
	size := u.DecodeInt("NS.size")

	elem, err := parseTypeSignature(string([]byte{typeCode}))
	if err != nil {
		return nil, err
	}

	if elem.prim.kind == primitiveArray {
		return nil, newError(ErrUnsupportedOperation, "nested arrays can not be decoded")
	}

	// elements are stored inline, there can not be more than there are fields
	if count < 0 || count > u.fieldCount() {
		return nil, newError(ErrCorruptData, fmt.Sprintf("invalid element count %d", count))
	}

	array := &OldStyleArray{Type: typeCode, Size: size, Values: make([]any, 0, count)}

	for range count {
		value, _, err := u.decodeTyped(elem)
		if err != nil {
			return nil, err
		}

		array.Values = append(array.Values, value)
	}

	return array, nil
}
