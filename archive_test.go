package unarchive

import (
	"github.com/stretchr/testify/require"
	"testing"
)

// archiveBuilder assembles keyed archives for tests. Entry 0 is the null object.
type archiveBuilder struct {
	objects []any
	classes map[string]UID
	top     map[string]any
}

func newArchive() *archiveBuilder {
	return &archiveBuilder{
		objects: []any{nullObjectName},
		classes: map[string]UID{},
		top:     map[string]any{},
	}
}

// add appends a plain value.
func (b *archiveBuilder) add(value any) UID {
	b.objects = append(b.objects, value)
	return UID(len(b.objects) - 1)
}

// reserve allocates an entry that is filled later using set.
func (b *archiveBuilder) reserve() UID {
	return b.add(nil)
}

func (b *archiveBuilder) set(uid UID, value any) {
	b.objects[uid] = value
}

// class returns the descriptor of name, the ancestry is recorded in "$classes".
func (b *archiveBuilder) class(name string, ancestry ...string) UID {
	if uid, ok := b.classes[name]; ok {
		return uid
	}

	classes := append([]any{name}, toAny(ancestry)...)

	uid := b.add(map[string]any{
		keyClassName: name,
		keyClasses:   classes,
	})

	b.classes[name] = uid
	return uid
}

func (b *archiveBuilder) record(class string, fields map[string]any) map[string]any {
	record := map[string]any{keyClass: b.class(class)}
	for key, value := range fields {
		record[key] = value
	}

	return record
}

// object appends a container record of class.
func (b *archiveBuilder) object(class string, fields map[string]any) UID {
	return b.add(b.record(class, fields))
}

func (b *archiveBuilder) topLevel(key string, uid UID) *archiveBuilder {
	b.top[key] = uid
	return b
}

func (b *archiveBuilder) value() map[string]any {
	return map[string]any{
		keyArchiver: DefaultArchiverName,
		keyVersion:  ArchiveVersion,
		keyTop:      b.top,
		keyObjects:  b.objects,
	}
}

func (b *archiveBuilder) source() Source {
	return FromValue(b.value())
}

// root builds the archive with uid as root object.
func (b *archiveBuilder) root(uid UID) Source {
	return b.topLevel(RootObjectKey, uid).source()
}

func toAny(values []string) []any {
	result := make([]any, 0, len(values))
	for _, value := range values {
		result = append(result, value)
	}

	return result
}

type Widget struct {
	Name  string
	Count int
	Parts []any
}

// widgetRegistry registers Widget and Gadget on top of the built-in classes. The
// returned counter tracks how many objects were constructed.
func widgetRegistry(t *testing.T) (*Registry, *int) {
	t.Helper()

	reg := DefaultRegistry.Clone()
	var constructed int

	_, err := reg.Register(Class{
		Name:                 "Widget",
		Ancestry:             []string{"NSObject"},
		SupportsSecureCoding: true,
		New: func(u *Unarchiver) (any, error) {
			constructed++

			widget := &Widget{
				Name:  u.DecodeString("name"),
				Count: u.DecodeInt("count"),
			}

			if u.ContainsValue("parts") {
				widget.Parts, _ = u.DecodeObject("parts").([]any)
			}

			return widget, nil
		},
	})
	require.NoError(t, err)

	_, err = reg.Register(Class{
		Name:     "Gadget",
		Ancestry: []string{"Widget", "NSObject"},
		New: func(u *Unarchiver) (any, error) {
			constructed++
			return &Widget{Name: "gadget:" + u.DecodeString("name")}, nil
		},
	})
	require.NoError(t, err)

	return reg, &constructed
}

func newUnarchiver(t *testing.T, root Source, opts Options) *Unarchiver {
	t.Helper()

	u, err := New(root, opts)
	require.NoError(t, err)

	return u
}
