package unarchive

import (
	"fmt"
)

// UnarchiveTopLevelObject decodes the root object of an archive and finishes the
// session.
func UnarchiveTopLevelObject(root Source, opts Options) (any, error) {
	u, err := New(root, opts)
	if err != nil {
		return nil, err
	}

	defer u.Finish()

	return u.DecodeTopLevelObject(RootObjectKey)
}

// UnarchivedObjectOf decodes the root object of an archive with secure coding turned
// on. The root and every nested object must be of one of the given classes or of a
// class allowed by the decoding object.
func UnarchivedObjectOf(root Source, classes []string, opts Options) (any, error) {
	opts.RequiresSecureCoding = true

	u, err := New(root, opts)
	if err != nil {
		return nil, err
	}

	defer u.Finish()

	return u.DecodeTopLevelObjectOf(classes, RootObjectKey)
}

// UnarchivedObject is the typed variant of [UnarchivedObjectOf] for a single class. A
// root object that is not a T fails with ErrConstructionFailed.
func UnarchivedObject[T any](root Source, class string, opts Options) (T, error) {
	var zero T

	object, err := UnarchivedObjectOf(root, []string{class}, opts)
	if err != nil {
		return zero, err
	}

	if object == nil {
		return zero, nil
	}

	result, ok := object.(T)
	if !ok {
		detail := fmt.Sprintf("root object is a %T, expected %T", object, zero)
		return zero, newError(ErrConstructionFailed, detail).withClass(class)
	}

	return result, nil
}
