package unarchive

import (
	"fmt"
)

// Reserved names of the archive format.
const (
	DefaultArchiverName = "NSKeyedArchiver"
	ArchiveVersion      = 100000

	// RootObjectKey is the top level key archives store their root object under.
	RootObjectKey = "root"

	keyArchiver   = "$archiver"
	keyVersion    = "$version"
	keyTop        = "$top"
	keyObjects    = "$objects"
	keyClass      = "$class"
	keyClassName  = "$classname"
	keyClassHints = "$classhints"
	keyClasses    = "$classes"

	nullObjectName = "$null"
)

// referenceTable is the flat, immutable object table of an archive.
type referenceTable []Source

func newReferenceTable(objects Source) (referenceTable, error) {
	elements, err := objects.Iter()
	if err != nil {
		return nil, fmt.Errorf("iterate %s: %w", keyObjects, err)
	}

	var table referenceTable
	for element := range elements {
		table = append(table, element)
	}

	return table, nil
}

func (t referenceTable) dereference(uid UID) (Source, error) {
	if int64(uid) >= int64(len(t)) {
		detail := fmt.Sprintf("invalid object reference, table has %d entries", len(t))
		return nil, newError(ErrCorruptData, detail).withUID(uid)
	}

	return t[uid], nil
}

// isNull reports whether entry is the null object sentinel.
func isNull(entry Source) bool {
	if entry.Kind() != KindString {
		return false
	}

	value, err := entry.String()
	return err == nil && value == nullObjectName
}

// isContainer reports whether entry is an object record, as opposed to a plain value
// that happens to be stored as a dictionary.
func isContainer(entry Source) bool {
	if entry.Kind() != KindDict {
		return false
	}

	classRef, err := entry.Get(keyClass)
	if err != nil {
		return false
	}

	return classRef.Kind() == KindUID
}
