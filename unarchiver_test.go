package unarchive

import (
	"errors"
	"github.com/stretchr/testify/require"
	"strconv"
	"testing"
)

type recordingDelegate struct {
	NopDelegate

	replace       func(object any) any
	classNotFound func(name string, ancestry []string) *Class

	decoded      int
	replaced     [][2]any
	missing      []string
	willFinished int
	didFinished  int
}

func (d *recordingDelegate) ClassNotFound(u *Unarchiver, name string, ancestry []string) *Class {
	d.missing = append(d.missing, name)

	if d.classNotFound == nil {
		return nil
	}

	return d.classNotFound(name, ancestry)
}

func (d *recordingDelegate) DidDecode(u *Unarchiver, object any) any {
	d.decoded++

	if d.replace == nil {
		return object
	}

	return d.replace(object)
}

func (d *recordingDelegate) WillReplace(u *Unarchiver, object, replacement any) {
	d.replaced = append(d.replaced, [2]any{object, replacement})
}

func (d *recordingDelegate) WillFinish(u *Unarchiver) {
	d.willFinished++
}

func (d *recordingDelegate) DidFinish(u *Unarchiver) {
	d.didFinished++
}

func TestDecodeWidget(t *testing.T) {
	reg, constructed := widgetRegistry(t)

	root := FromValue(map[string]any{
		"$archiver": "NSKeyedArchiver",
		"$version":  100000,
		"$top":      map[string]any{"root": UID(1)},
		"$objects": []any{
			"$null",
			map[string]any{"$class": UID(2), "name": "x"},
			map[string]any{"$classname": "Widget"},
		},
	})

	u := newUnarchiver(t, root, Options{Registry: reg})

	object := u.DecodeObject("root")
	require.NoError(t, u.Error())
	require.Equal(t, &Widget{Name: "x"}, object)
	require.Equal(t, 1, *constructed)
}

func TestSameUIDDecodesToSameInstance(t *testing.T) {
	reg, constructed := widgetRegistry(t)

	b := newArchive()
	widget := b.object("Widget", map[string]any{"name": "shared"})
	array := b.object("NSArray", map[string]any{"NS.objects": []any{widget, widget}})
	b.topLevel("widget", widget)

	u := newUnarchiver(t, b.root(array), Options{Registry: reg})

	elements, ok := u.DecodeObject("root").([]any)
	require.True(t, ok)
	require.Len(t, elements, 2)
	require.Same(t, elements[0], elements[1])

	require.Same(t, elements[0], u.DecodeObject("widget"))
	require.Equal(t, 1, *constructed)
	require.NoError(t, u.Error())
}

func TestDisallowedClassAbortsSession(t *testing.T) {
	reg, constructed := widgetRegistry(t)

	b := newArchive()
	b.topLevel("other", b.object("Widget", map[string]any{"name": "other"}))
	root := b.root(b.object("Widget", map[string]any{"name": "root"}))

	u := newUnarchiver(t, root, Options{Registry: reg})

	object, err := u.DecodeTopLevelObjectOf([]string{"NSString"}, RootObjectKey)
	require.Nil(t, object)
	require.ErrorIs(t, err, ErrDisallowedClass)
	require.Equal(t, 0, *constructed)

	var decodeErr *Error
	require.ErrorAs(t, err, &decodeErr)
	require.Equal(t, "Widget", decodeErr.Class)

	require.Panics(t, func() { u.DecodeObject("other") })
	require.Equal(t, 0, *constructed)
}

func TestDisallowedNestedClassStopsConstruction(t *testing.T) {
	reg, constructed := widgetRegistry(t)

	b := newArchive()
	first := b.object("Widget", map[string]any{"name": "first"})
	second := b.object("Widget", map[string]any{"name": "second"})
	root := b.root(b.object("NSArray", map[string]any{"NS.objects": []any{first, second}}))

	u := newUnarchiver(t, root, Options{Registry: reg})

	object, err := u.DecodeTopLevelObjectOf([]string{"NSArray"}, RootObjectKey)
	require.Nil(t, object)
	require.ErrorIs(t, err, ErrDisallowedClass)
	require.Equal(t, 0, *constructed)
}

func TestAllowListAcceptsDescendants(t *testing.T) {
	reg, _ := widgetRegistry(t)

	b := newArchive()
	root := b.root(b.object("Gadget", map[string]any{"name": "g"}))

	object, err := newUnarchiver(t, root, Options{Registry: reg}).DecodeTopLevelObjectOf([]string{"Widget"}, RootObjectKey)
	require.NoError(t, err)
	require.Equal(t, &Widget{Name: "gadget:g"}, object)
}

func TestSecureCodingRequiresSupport(t *testing.T) {
	reg, constructed := widgetRegistry(t)

	b := newArchive()
	root := b.root(b.object("Gadget", map[string]any{"name": "g"}))

	u := newUnarchiver(t, root, Options{Registry: reg, RequiresSecureCoding: true})

	_, err := u.DecodeTopLevelObjectOf([]string{"Widget"}, RootObjectKey)
	require.ErrorIs(t, err, ErrDisallowedClass)
	require.Equal(t, 0, *constructed)
}

func TestSecureCodingRequiresAllowList(t *testing.T) {
	reg, _ := widgetRegistry(t)

	b := newArchive()
	root := b.root(b.object("Widget", map[string]any{"name": "w"}))

	u := newUnarchiver(t, root, Options{Registry: reg, RequiresSecureCoding: true})

	_, err := u.DecodeTopLevelObject(RootObjectKey)
	require.ErrorIs(t, err, ErrDisallowedClass)
}

func TestSecureCodingCanNotBeTurnedOff(t *testing.T) {
	u := newUnarchiver(t, newArchive().source(), Options{})

	u.SetRequiresSecureCoding(false)
	u.SetRequiresSecureCoding(true)
	require.True(t, u.RequiresSecureCoding())

	require.Panics(t, func() { u.SetRequiresSecureCoding(false) })
}

func TestAllowListCheckedOnCacheHit(t *testing.T) {
	reg, constructed := widgetRegistry(t)

	b := newArchive()
	widget := b.object("Widget", map[string]any{"name": "w"})
	b.topLevel("again", widget)

	u := newUnarchiver(t, b.root(widget), Options{Registry: reg})

	require.NotNil(t, u.DecodeObject(RootObjectKey))
	require.Equal(t, 1, *constructed)

	_, err := u.DecodeTopLevelObjectOf([]string{"NSArray"}, "again")
	require.ErrorIs(t, err, ErrDisallowedClass)
}

func TestDecodeMissingValue(t *testing.T) {
	u := newUnarchiver(t, newArchive().source(), Options{})

	value, ok := u.DecodeValue("missing")
	require.False(t, ok)
	require.Nil(t, value)
	require.False(t, u.ContainsValue("missing"))
	require.NoError(t, u.Error())

	require.Nil(t, u.DecodeObject("missing"))
	require.ErrorIs(t, u.Error(), ErrValueNotFound)
}

func TestDecodeNullObject(t *testing.T) {
	u := newUnarchiver(t, newArchive().topLevel("nothing", 0).source(), Options{})

	require.True(t, u.ContainsValue("nothing"))
	require.Nil(t, u.DecodeObject("nothing"))
	require.NoError(t, u.Error())
}

func TestDecodeNotAReference(t *testing.T) {
	b := newArchive()
	b.top["inline"] = 42

	u := newUnarchiver(t, b.source(), Options{})

	require.Nil(t, u.DecodeObject("inline"))
	require.ErrorIs(t, u.Error(), ErrNotAReference)
}

func TestDecodeInvalidReference(t *testing.T) {
	u := newUnarchiver(t, newArchive().topLevel("dangling", 99).source(), Options{})

	require.Nil(t, u.DecodeObject("dangling"))
	require.ErrorIs(t, u.Error(), ErrCorruptData)
}

func TestDecodeUnkeyedInOrder(t *testing.T) {
	type Triple struct {
		Number int
		Text   any
		Flag   bool
	}

	reg := NewRegistry()
	reg.MustRegister(Class{
		Name: "Triple",
		New: func(u *Unarchiver) (any, error) {
			var triple Triple
			triple.Number = DecodeNextNumber[int](u)
			triple.Text = u.DecodeNextObject()

			flag, _ := u.DecodeNextValue()
			triple.Flag, _ = flag.Bool()

			return triple, nil
		},
	})

	b := newArchive()
	text := b.add("hello")
	root := b.root(b.object("Triple", map[string]any{"$0": 7, "$1": text, "$2": true}))

	object, err := newUnarchiver(t, root, Options{Registry: reg}).DecodeTopLevelObject(RootObjectKey)
	require.NoError(t, err)
	require.Equal(t, Triple{Number: 7, Text: "hello", Flag: true}, object)
}

func TestDecodeEscapedKey(t *testing.T) {
	b := newArchive()
	b.top["$$dollar"] = "escaped"
	b.top["$0"] = "generic"

	u := newUnarchiver(t, b.source(), Options{})

	require.Equal(t, "escaped", u.DecodeString("$dollar"))
	require.Equal(t, "", u.DecodeString("0"))

	value, ok := u.DecodeNextValue()
	require.True(t, ok)
	require.Equal(t, "generic", Native(value))
}

func TestFinish(t *testing.T) {
	delegate := &recordingDelegate{}

	u := newUnarchiver(t, newArchive().topLevel("nothing", 0).source(), Options{Delegate: delegate})

	u.Finish()
	u.Finish()

	require.Equal(t, 1, delegate.willFinished)
	require.Equal(t, 1, delegate.didFinished)

	require.Panics(t, func() { u.DecodeObject("nothing") })
	require.Panics(t, func() { u.DecodeValue("nothing") })
	require.Panics(t, func() { u.DecodeInt("nothing") })
}

func TestClassRemap(t *testing.T) {
	reg, _ := widgetRegistry(t)
	widgetClass, _ := reg.Lookup("Widget")

	archive := func() Source {
		b := newArchive()
		return b.root(b.object("OldName", map[string]any{"name": "renamed"}))
	}

	t.Run("unresolved", func(t *testing.T) {
		_, err := newUnarchiver(t, archive(), Options{Registry: reg}).DecodeTopLevelObject(RootObjectKey)
		require.ErrorIs(t, err, ErrClassResolution)
	})

	t.Run("session", func(t *testing.T) {
		u := newUnarchiver(t, archive(), Options{Registry: reg})
		u.SetClass("OldName", widgetClass)
		require.Same(t, widgetClass, u.ClassFor("OldName"))

		object, err := u.DecodeTopLevelObject(RootObjectKey)
		require.NoError(t, err)
		require.Equal(t, &Widget{Name: "renamed"}, object)
	})

	t.Run("options", func(t *testing.T) {
		opts := Options{Registry: reg, ClassMap: map[string]*Class{"OldName": widgetClass}}

		object, err := newUnarchiver(t, archive(), opts).DecodeTopLevelObject(RootObjectKey)
		require.NoError(t, err)
		require.Equal(t, &Widget{Name: "renamed"}, object)
	})

	t.Run("process", func(t *testing.T) {
		SetClass("OldName", widgetClass)
		t.Cleanup(func() { SetClass("OldName", nil) })

		object, err := newUnarchiver(t, archive(), Options{Registry: reg}).DecodeTopLevelObject(RootObjectKey)
		require.NoError(t, err)
		require.Equal(t, &Widget{Name: "renamed"}, object)
	})
}

func TestClassHints(t *testing.T) {
	reg, _ := widgetRegistry(t)

	b := newArchive()
	descriptor := b.add(map[string]any{
		keyClassName:  "SwiftWidget",
		keyClassHints: []any{"Unknown", "Widget"},
	})

	root := b.root(b.add(map[string]any{keyClass: descriptor, "name": "hinted"}))

	object, err := newUnarchiver(t, root, Options{Registry: reg}).DecodeTopLevelObject(RootObjectKey)
	require.NoError(t, err)
	require.Equal(t, &Widget{Name: "hinted"}, object)
}

func TestClassNotFoundDelegate(t *testing.T) {
	reg, _ := widgetRegistry(t)

	b := newArchive()
	b.class("Mystery", "Widget", "NSObject")
	first := b.object("Mystery", map[string]any{"name": "first"})
	second := b.object("Mystery", map[string]any{"name": "second"})
	root := b.root(b.object("NSArray", map[string]any{"NS.objects": []any{first, second}}))

	delegate := &recordingDelegate{
		classNotFound: func(name string, ancestry []string) *Class {
			require.Equal(t, []string{"Mystery", "Widget", "NSObject"}, ancestry)
			class, _ := reg.Lookup(ancestry[1])
			return class
		},
	}

	object, err := newUnarchiver(t, root, Options{Registry: reg, Delegate: delegate}).DecodeTopLevelObject(RootObjectKey)
	require.NoError(t, err)
	require.Equal(t, []any{&Widget{Name: "first"}, &Widget{Name: "second"}}, object)

	// the descriptor is resolved once
	require.Equal(t, []string{"Mystery"}, delegate.missing)
}

func TestReplacementHook(t *testing.T) {
	reg, constructed := widgetRegistry(t)

	b := newArchive()
	widget := b.object("Widget", map[string]any{"name": "original"})
	b.topLevel("again", widget)

	replacement := &Widget{Name: "replacement"}

	delegate := &recordingDelegate{
		replace: func(object any) any {
			if _, ok := object.(*Widget); ok {
				return replacement
			}

			return nil
		},
	}

	u := newUnarchiver(t, b.root(widget), Options{Registry: reg, Delegate: delegate})

	require.Same(t, replacement, u.DecodeObject(RootObjectKey))
	require.Same(t, replacement, u.DecodeObject("again"))
	require.NoError(t, u.Error())

	require.Equal(t, 1, *constructed)
	require.Equal(t, 1, delegate.decoded)
	require.Len(t, delegate.replaced, 1)
	require.Equal(t, &Widget{Name: "original"}, delegate.replaced[0][0])
	require.Same(t, replacement, delegate.replaced[0][1])
}

func TestReplacementHookKeepsObject(t *testing.T) {
	reg, _ := widgetRegistry(t)

	b := newArchive()
	root := b.root(b.object("Widget", map[string]any{"name": "kept"}))

	delegate := &recordingDelegate{replace: func(object any) any { return nil }}

	object, err := newUnarchiver(t, root, Options{Registry: reg, Delegate: delegate}).DecodeTopLevelObject(RootObjectKey)
	require.NoError(t, err)
	require.Equal(t, &Widget{Name: "kept"}, object)
	require.Empty(t, delegate.replaced)
}

func TestReferenceCycle(t *testing.T) {
	reg, _ := widgetRegistry(t)

	b := newArchive()
	widget := b.reserve()
	parts := b.object("NSArray", map[string]any{"NS.objects": []any{widget}})
	b.set(widget, b.record("Widget", map[string]any{"name": "loop", "parts": parts}))

	_, err := newUnarchiver(t, b.root(widget), Options{Registry: reg}).DecodeTopLevelObject(RootObjectKey)
	require.ErrorIs(t, err, ErrCorruptData)
}

func TestMaxDepth(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Class{
		Name: "Node",
		New: func(u *Unarchiver) (any, error) {
			depth := 1
			if u.ContainsValue("next") {
				next, _ := u.DecodeObject("next").(int)
				depth += next
			}

			return depth, nil
		},
	})

	chain := func(length int) Source {
		b := newArchive()

		uid := b.object("Node", nil)
		for range length - 1 {
			uid = b.object("Node", map[string]any{"next": uid})
		}

		return b.root(uid)
	}

	object, err := newUnarchiver(t, chain(3), Options{Registry: reg, MaxDepth: 3}).DecodeTopLevelObject(RootObjectKey)
	require.NoError(t, err)
	require.Equal(t, 3, object)

	_, err = newUnarchiver(t, chain(4), Options{Registry: reg, MaxDepth: 3}).DecodeTopLevelObject(RootObjectKey)
	require.ErrorIs(t, err, ErrCorruptData)
}

func TestTopLevelDecodeOnlyAtTopLevel(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Class{
		Name: "Nested",
		New: func(u *Unarchiver) (any, error) {
			_, err := u.DecodeTopLevelObject("inner")
			return "unreachable", err
		},
	})

	b := newArchive()
	root := b.root(b.object("Nested", map[string]any{"inner": 0}))

	_, err := newUnarchiver(t, root, Options{Registry: reg}).DecodeTopLevelObject(RootObjectKey)
	require.ErrorIs(t, err, ErrCorruptData)
}

func TestConstructionFailure(t *testing.T) {
	errBroken := errors.New("broken widget")

	reg := NewRegistry()
	reg.MustRegister(Class{
		Name: "Broken",
		New: func(u *Unarchiver) (any, error) {
			return nil, errBroken
		},
	})

	reg.MustRegister(Class{
		Name: "Empty",
		New: func(u *Unarchiver) (any, error) {
			return nil, nil
		},
	})

	b := newArchive()
	b.topLevel("broken", b.object("Broken", nil))
	b.topLevel("empty", b.object("Empty", nil))

	_, err := newUnarchiver(t, b.source(), Options{Registry: reg}).DecodeTopLevelObject("broken")
	require.ErrorIs(t, err, ErrConstructionFailed)
	require.ErrorIs(t, err, errBroken)

	_, err = newUnarchiver(t, b.source(), Options{Registry: reg}).DecodeTopLevelObject("empty")
	require.ErrorIs(t, err, ErrConstructionFailed)
}

func TestRecordAndDegrade(t *testing.T) {
	b := newArchive()
	b.top["count"] = 12
	b.top["name"] = "name"

	u := newUnarchiver(t, b.source(), Options{})

	require.Equal(t, 12, u.DecodeInt("count"))

	u.DecodeObject("missing")
	first := u.Error()
	require.ErrorIs(t, first, ErrValueNotFound)

	require.Equal(t, 0, u.DecodeInt("count"))
	require.Equal(t, "", u.DecodeString("name"))
	require.False(t, u.ContainsValue("count"))

	u.DecodeObject("count")
	require.Same(t, first, u.Error())
}

func TestDecodeArrayOfObjectsKeepsDecodedPrefix(t *testing.T) {
	b := newArchive()
	b.top["list"] = []any{b.add("first"), b.add("second"), UID(99), b.add("never")}

	u := newUnarchiver(t, b.source(), Options{})

	require.Equal(t, []any{"first", "second"}, u.DecodeArrayOfObjects("list"))
	require.ErrorIs(t, u.Error(), ErrCorruptData)
}

func TestDecodeNumberOutOfRange(t *testing.T) {
	b := newArchive()
	b.top["big"] = int64(1) << 40

	u := newUnarchiver(t, b.source(), Options{})

	require.Equal(t, int64(1)<<40, u.DecodeInt64("big"))
	require.NoError(t, u.Error())

	require.Equal(t, int32(0), u.DecodeInt32("big"))
	require.ErrorIs(t, u.Error(), ErrCorruptData)
	require.ErrorIs(t, u.Error(), strconv.ErrRange)
}

func TestDecodeScalars(t *testing.T) {
	b := newArchive()
	b.top["bool"] = true
	b.top["int"] = 1234
	b.top["float"] = 1.5
	b.top["text"] = "inline"
	b.top["object"] = b.add("referenced")
	b.top["bytes"] = []byte{1, 2, 3}
	b.top["mismatch"] = "not a number"

	u := newUnarchiver(t, b.source(), Options{})

	require.True(t, u.DecodeBool("bool"))
	require.Equal(t, 1234, u.DecodeInt("int"))
	require.Equal(t, float32(1.5), u.DecodeFloat32("float"))
	require.Equal(t, 1.5, u.DecodeFloat64("float"))
	require.Equal(t, "inline", u.DecodeString("text"))
	require.Equal(t, "referenced", u.DecodeString("object"))
	require.Equal(t, []byte{1, 2, 3}, u.DecodeBytes("bytes"))
	require.Equal(t, uint16(1234), DecodeNumber[uint16](u, "int"))

	// type mismatches degrade to zero values without recording an error
	require.Equal(t, 0, u.DecodeInt("mismatch"))
	require.False(t, u.DecodeBool("text"))
	require.NoError(t, u.Error())

	var seen []byte
	err := u.WithDecodedBytes("bytes", func(data []byte) error {
		seen = data
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, seen)

	err = u.WithDecodedBytes("absent", func(data []byte) error {
		require.Nil(t, data)
		return nil
	})
	require.NoError(t, err)
}

func TestDecodePropertyList(t *testing.T) {
	reg, _ := widgetRegistry(t)

	b := newArchive()
	text := b.object("NSString", map[string]any{"NS.string": "plist"})
	array := b.object("NSArray", map[string]any{"NS.objects": []any{text}})
	b.topLevel("plist", array)
	b.topLevel("widget", b.object("Widget", nil))

	u := newUnarchiver(t, b.source(), Options{Registry: reg})
	require.Equal(t, []any{"plist"}, u.DecodePropertyList("plist"))
	require.NoError(t, u.Error())

	require.Nil(t, u.DecodePropertyList("widget"))
	require.ErrorIs(t, u.Error(), ErrDisallowedClass)
}

func TestAllowedClassesScope(t *testing.T) {
	var seen [][]string

	reg := NewRegistry()
	reg.MustRegister(Class{
		Name: "Scoped",
		New: func(u *Unarchiver) (any, error) {
			seen = append(seen, u.AllowedClasses())
			return u.Depth(), nil
		},
	})

	b := newArchive()
	root := b.root(b.object("Scoped", nil))

	u := newUnarchiver(t, root, Options{Registry: reg})
	require.Nil(t, u.AllowedClasses())
	require.Equal(t, 1, u.Depth())

	object, err := u.DecodeTopLevelObjectOf([]string{"Scoped"}, RootObjectKey)
	require.NoError(t, err)
	require.Equal(t, 2, object)
	require.Equal(t, [][]string{{"Scoped"}}, seen)

	require.Nil(t, u.AllowedClasses())
	require.Equal(t, 1, u.Depth())
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	valid := newArchive().value

	tests := []struct {
		name   string
		modify func(root map[string]any)
	}{
		{"archiver", func(root map[string]any) { root[keyArchiver] = "NSArchiver" }},
		{"missing archiver", func(root map[string]any) { delete(root, keyArchiver) }},
		{"version", func(root map[string]any) { root[keyVersion] = 99999 }},
		{"top", func(root map[string]any) { root[keyTop] = []any{} }},
		{"objects", func(root map[string]any) { delete(root, keyObjects) }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			root := valid()
			test.modify(root)

			_, err := New(FromValue(root), Options{})
			require.ErrorIs(t, err, ErrFormat)
		})
	}

	_, err := New(FromValue([]any{}), Options{})
	require.ErrorIs(t, err, ErrFormat)

	u, err := New(FromValue(valid()), Options{})
	require.NoError(t, err)
	require.NotNil(t, u)
}

func TestCustomArchiverName(t *testing.T) {
	root := newArchive().value()
	root[keyArchiver] = "MyArchiver"

	_, err := New(FromValue(root), Options{ArchiverName: "MyArchiver"})
	require.NoError(t, err)
}
