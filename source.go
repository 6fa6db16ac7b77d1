package unarchive

import (
	"errors"
	"fmt"
	"iter"
)

var ErrNoValue = errors.New("no value")
var ErrNotSupported = errors.New("not supported")

// UID is an index into the flat object table of an archive.
type UID uint32

// Kind describes which accessor of a [Source] is meaningful.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindUint
	KindFloat
	KindBool
	KindData
	KindDict
	KindArray
	KindUID
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindString:  "string",
	KindInt:     "int",
	KindUint:    "uint",
	KindFloat:   "float",
	KindBool:    "bool",
	KindData:    "data",
	KindDict:    "dict",
	KindArray:   "array",
	KindUID:     "uid",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}

	return kindNames[k]
}

// Source is one node of an already parsed archive tree. The tree is produced by a
// property list parser and is the input of an [Unarchiver].
//
// A [Source] provides methods to interpret the node in different forms:
//   - **Scalars**: [Source.Bool], [Source.Int], [Source.Uint], [Source.Float],
//     [Source.String] and [Source.Data].
//   - **References**: [Source.UID] returns the index of another entry in the object table.
//   - **Dictionaries**: [Source.Get] looks up a child by name, [Source.KeyValues]
//     iterates all children.
//   - **Arrays**: [Source.Iter] iterates the elements in order.
//
// If the node can not be represented in the requested form, the method must return
// [ErrNotSupported]. Embed [EmptySource] to only implement the methods that make sense
// for your node type.
type Source interface {
	// Kind reports the native representation of this node.
	Kind() Kind

	// Bool returns the current value as a bool.
	// Returns error ErrNotSupported if the value can not be represented as such.
	Bool() (bool, error)

	// Int returns the current value as an int64.
	// Returns error ErrNotSupported if the value can not be represented as such.
	Int() (int64, error)

	// Uint returns the current value as an uint64.
	// Returns error ErrNotSupported if the value can not be represented as such.
	Uint() (uint64, error)

	// Float returns the current value as a float64.
	// Returns error ErrNotSupported if the value can not be represented as such.
	Float() (float64, error)

	// String returns the current value as a string.
	// Returns error ErrNotSupported if the value can not be represented as such.
	String() (string, error)

	// Data returns the raw bytes of a data node.
	Data() ([]byte, error)

	// UID returns the reference held by this node.
	UID() (UID, error)

	// Get returns a child value of this [Source] if it exists.
	// Returns error [ErrNotSupported] if the current [Source] is not a dictionary.
	// If the dictionary does not contain the requested child, [ErrNoValue] must be returned.
	Get(key string) (Source, error)

	// KeyValues iterates over the children of a dictionary node.
	// Returns [ErrNotSupported] if the [Source] is not a dictionary.
	KeyValues() (iter.Seq2[string, Source], error)

	// Iter iterates over the elements of an array node.
	// Returns [ErrNotSupported] if the [Source] is not an array.
	Iter() (iter.Seq[Source], error)
}

// EmptySource is a Source that returns ErrNotSupported for all conversion functions.
// It is useful as an embedded base for your own custom Source implementation.
type EmptySource struct{}

var _ Source = EmptySource{}

func (EmptySource) Kind() Kind {
	return KindInvalid
}

func (EmptySource) Bool() (bool, error) {
	return false, ErrNotSupported
}

func (EmptySource) Int() (int64, error) {
	return 0, ErrNotSupported
}

func (EmptySource) Uint() (uint64, error) {
	return 0, ErrNotSupported
}

func (EmptySource) Float() (float64, error) {
	return 0, ErrNotSupported
}

func (EmptySource) String() (string, error) {
	return "", ErrNotSupported
}

func (EmptySource) Data() ([]byte, error) {
	return nil, ErrNotSupported
}

func (EmptySource) UID() (UID, error) {
	return 0, ErrNotSupported
}

func (EmptySource) Get(key string) (Source, error) {
	return nil, ErrNotSupported
}

func (EmptySource) KeyValues() (iter.Seq2[string, Source], error) {
	return nil, ErrNotSupported
}

func (EmptySource) Iter() (iter.Seq[Source], error) {
	return nil, ErrNotSupported
}

// Native converts a source tree into plain go values. Dictionaries become
// map[string]any, arrays []any, references [UID].
func Native(source Source) any {
	if source == nil {
		return nil
	}

	switch source.Kind() {
	case KindString:
		value, _ := source.String()
		return value

	case KindInt:
		value, _ := source.Int()
		return value

	case KindUint:
		value, _ := source.Uint()
		return value

	case KindFloat:
		value, _ := source.Float()
		return value

	case KindBool:
		value, _ := source.Bool()
		return value

	case KindData:
		value, _ := source.Data()
		return value

	case KindUID:
		value, _ := source.UID()
		return value

	case KindDict:
		result := map[string]any{}
		if children, err := source.KeyValues(); err == nil {
			for key, child := range children {
				result[key] = Native(child)
			}
		}

		return result

	case KindArray:
		result := []any{}
		if elements, err := source.Iter(); err == nil {
			for element := range elements {
				result = append(result, Native(element))
			}
		}

		return result

	default:
		return nil
	}
}
