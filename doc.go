// Package unarchive decodes keyed archives: object graphs flattened into a table of
// records that reference each other by index, as written by NSKeyedArchiver.
//
// The input is an already parsed property list tree described by [Source]. Use
// [FromValue] to wrap plain go values or [Read], [FromJSON], [FromCBOR] and [FromYAML]
// to load a serialized rendition. An [Unarchiver] resolves class names through a
// [Registry], checks them against allow lists, constructs each object once and hands
// shared references out as the same instance.
//
// Decodable types are registered as a [Class] with a [Constructor]. The constructor
// runs with the object's own fields as the current decoding context:
//
//	unarchive.Register(unarchive.Class{
//		Name:     "Widget",
//		Ancestry: []string{"NSObject"},
//		New: func(u *unarchive.Unarchiver) (any, error) {
//			return &Widget{
//				Name:  u.DecodeString("name"),
//				Count: u.DecodeInt("count"),
//			}, nil
//		},
//	})
//
// [RegisterStruct] derives the constructor from struct fields instead.
//
// Decode errors are recorded on the session rather than returned by every call. After
// the first error all decode calls return zero values, [Unarchiver.Error] reports the
// cause.
package unarchive
